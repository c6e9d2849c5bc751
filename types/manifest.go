package types

import (
	"encoding/json"
	"fmt"

	ggcrtypes "github.com/google/go-containerregistry/pkg/v1/types"
	digest "github.com/opencontainers/go-digest"
)

// Manifest is the parsed OCI/Docker manifest document referenced by a
// digest. Source registries describe manifests with untyped JSON; this
// reimplementation classifies the two variants that matter to cleanup
// policy up front, by declared media type, instead of duck-typing every
// call site (design notes §9 "Duck-typed manifests").
type Manifest interface {
	// MediaType is the manifest's own declared media type.
	MediaType() string
	// IsIndex reports whether this is a multi-architecture index.
	IsIndex() bool
	// Children returns the digests listed in manifests[] (index) or
	// nil (image). Entries with a malformed digest are skipped.
	Children() []ManifestChild
	// ArtifactType is the index/manifest artifactType, if declared.
	ArtifactType() string
}

// ManifestChild is one entry of an index manifest's manifests[] list.
type ManifestChild struct {
	Digest       digest.Digest
	MediaType    string
	ArtifactType string
	Platform     *Platform
}

// Platform narrows a child manifest to one architecture/variant pair.
type Platform struct {
	Architecture string `json:"architecture"`
	Variant      string `json:"variant,omitempty"`
	OS           string `json:"os,omitempty"`
}

// Layer is one entry of an image manifest's layers[] list.
type Layer struct {
	MediaType string `json:"mediaType"`
}

// Index is a multi-architecture manifest: manifests[], each with a
// digest, optional platform, optional artifactType.
type Index struct {
	SchemaVersion int                `json:"schemaVersion"`
	MediaTypeRaw  string             `json:"mediaType,omitempty"`
	ArtifactTyp   string             `json:"artifactType,omitempty"`
	Manifests     []indexManifestRef `json:"manifests"`
	Annotations   map[string]string  `json:"annotations,omitempty"`
}

type indexManifestRef struct {
	MediaType    string    `json:"mediaType"`
	Digest       string    `json:"digest"`
	Size         int64     `json:"size"`
	ArtifactType string    `json:"artifactType,omitempty"`
	Platform     *Platform `json:"platform,omitempty"`
}

func (i *Index) MediaType() string { return i.MediaTypeRaw }
func (i *Index) IsIndex() bool     { return true }
func (i *Index) ArtifactType() string {
	return i.ArtifactTyp
}

func (i *Index) Children() []ManifestChild {
	out := make([]ManifestChild, 0, len(i.Manifests))
	for _, m := range i.Manifests {
		d, err := digest.Parse(m.Digest)
		if err != nil {
			continue
		}
		out = append(out, ManifestChild{
			Digest:       d,
			MediaType:    m.MediaType,
			ArtifactType: m.ArtifactType,
			Platform:     m.Platform,
		})
	}
	return out
}

// Image is a single-platform manifest: config + layers[].
type Image struct {
	SchemaVersion int               `json:"schemaVersion"`
	MediaTypeRaw  string            `json:"mediaType,omitempty"`
	ArtifactTyp   string            `json:"artifactType,omitempty"`
	Layers        []Layer           `json:"layers"`
	Annotations   map[string]string `json:"annotations,omitempty"`
}

func (m *Image) MediaType() string    { return m.MediaTypeRaw }
func (m *Image) IsIndex() bool        { return false }
func (m *Image) ArtifactType() string { return m.ArtifactTyp }
func (m *Image) Children() []ManifestChild {
	return nil
}

// indexMediaTypes are the declared media types classified as Index.
var indexMediaTypes = map[string]bool{
	string(ggcrtypes.DockerManifestList): true,
	string(ggcrtypes.OCIImageIndex):      true,
}

// imageMediaTypes are the declared media types classified as Image.
var imageMediaTypes = map[string]bool{
	string(ggcrtypes.DockerManifestSchema2): true,
	string(ggcrtypes.OCIManifestSchema1):    true,
}

// ParseManifest classifies and unmarshals raw manifest JSON by its
// Content-Type header value, per spec.md's Index|Image variant design.
func ParseManifest(mediaType string, raw []byte) (Manifest, error) {
	switch {
	case indexMediaTypes[mediaType]:
		idx := &Index{}
		if err := json.Unmarshal(raw, idx); err != nil {
			return nil, fmt.Errorf("parsing index manifest: %w", err)
		}
		if idx.MediaTypeRaw == "" {
			idx.MediaTypeRaw = mediaType
		}
		return idx, nil
	case imageMediaTypes[mediaType]:
		img := &Image{}
		if err := json.Unmarshal(raw, img); err != nil {
			return nil, fmt.Errorf("parsing image manifest: %w", err)
		}
		if img.MediaTypeRaw == "" {
			img.MediaTypeRaw = mediaType
		}
		return img, nil
	default:
		return nil, fmt.Errorf("unsupported manifest media type %q", mediaType)
	}
}

// EmptySubstitute clones m into a well-formed but content-empty manifest
// of the same variant, for the untag protocol (spec.md §4.6 step 2):
// an index loses its manifests[], an image loses its layers[].
func EmptySubstitute(m Manifest) Manifest {
	switch v := m.(type) {
	case *Index:
		clone := *v
		clone.Manifests = nil
		return &clone
	case *Image:
		clone := *v
		clone.Layers = nil
		return &clone
	default:
		return m
	}
}

// AcceptHeader is the Accept header sent on every manifest GET, listing
// every media type the policy core understands (spec.md §6).
var AcceptHeader = []string{
	string(ggcrtypes.OCIManifestSchema1),
	string(ggcrtypes.OCIImageIndex),
	string(ggcrtypes.DockerManifestSchema2),
	string(ggcrtypes.DockerManifestList),
}
