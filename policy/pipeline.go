package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/container-tools/ghcr-cleanup/graph"
	"github.com/container-tools/ghcr-cleanup/internal/matcher"
	"github.com/container-tools/ghcr-cleanup/packageclient"
	"github.com/container-tools/ghcr-cleanup/types"
)

// Index is the subset of index.Index the pipeline needs. Reload is
// required for Stage C's untag-reload interaction (spec.md §4.5 Stage
// C: "After processing the untag set, reload the index").
type Index interface {
	Digests() []types.Digest
	Tags() []string
	DigestByTag(tag string) (types.Digest, bool)
	VersionByDigest(d types.Digest) (types.PackageVersion, bool)
	IDByDigest(d types.Digest) (string, bool)
	Exists(d types.Digest) bool
	Reload(ctx context.Context) error
}

// ManifestSource is the subset of registryclient.RegistryClient the
// untag protocol needs.
type ManifestSource interface {
	GetManifestByDigest(ctx context.Context, digest types.Digest) (types.Manifest, error)
	PutManifest(ctx context.Context, tag string, m types.Manifest) error
}

// Result is the outcome of one Pipeline.Run: the digests selected for
// deletion and the tags that went through the untag protocol along the
// way.
type Result struct {
	DeleteSet    map[types.Digest]bool
	ExcludedSet  map[types.Digest]bool
	UntaggedTags []string
	// BytesChurned is the total size, in bytes, of every subject
	// manifest's JSON encoding replaced by the untag protocol (spec.md
	// §4.6) — informational, surfaced in the orchestrator's final
	// statistics line.
	BytesChurned int64
}

// Pipeline applies the Stage A–F policy evaluation over one package's
// top-level digests (spec.md §4.5).
type Pipeline struct {
	cfg       Config
	registry  ManifestSource
	pkgClient packageclient.PackageClient
	pkg       string
	log       *logrus.Logger
	now       func() time.Time

	bytesChurned int64
}

// Opt configures a Pipeline.
type Opt func(*Pipeline)

// WithLog injects a logrus.Logger. Defaults to a discarding logger.
func WithLog(log *logrus.Logger) Opt {
	return func(p *Pipeline) { p.log = log }
}

// WithClock overrides the pipeline's notion of "now", for deterministic
// age-filter tests.
func WithClock(now func() time.Time) Opt {
	return func(p *Pipeline) { p.now = now }
}

// New constructs a Pipeline for one package. registry is used for the
// untag protocol's manifest fetch/put; pkgClient deletes the transient
// version the untag protocol creates (spec.md §4.6 step 5).
func New(cfg Config, registry ManifestSource, pkgClient packageclient.PackageClient, pkg string, opts ...Opt) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		registry:  registry,
		pkgClient: pkgClient,
		pkg:       pkg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logrus.New()
		p.log.SetLevel(logrus.PanicLevel)
	}
	return p
}

// Run evaluates Stage A–F against idx and g's top-level digests and
// returns the resulting delete set.
func (p *Pipeline) Run(ctx context.Context, idx Index, g *graph.Graph) (*Result, error) {
	excludeMatcher, err := matcher.New(p.cfg.ExcludeTags, p.cfg.UseRegex)
	if err != nil {
		return nil, fmt.Errorf("compiling excludeTags: %w", err)
	}
	deleteMatcher, err := matcher.New(p.cfg.DeleteTags, p.cfg.UseRegex)
	if err != nil {
		return nil, fmt.Errorf("compiling deleteTags: %w", err)
	}

	filterSet := map[types.Digest]bool{}
	for _, d := range g.TopLevel(idx) {
		filterSet[d] = true
	}
	deleteSet := map[types.Digest]bool{}
	excludedSet := map[types.Digest]bool{}

	p.log.WithFields(logrus.Fields{"phase": types.PhaseExcludeTags}).Info("excluding tags")
	p.stageExclude(idx, excludeMatcher, filterSet, excludedSet)

	if p.cfg.OlderThan != "" {
		p.log.WithFields(logrus.Fields{"phase": types.PhaseAgeFilter}).Info("filtering by age")
		p.stageAge(idx, filterSet)
	}

	var untaggedTags []string
	if len(p.cfg.DeleteTags) > 0 {
		p.log.WithFields(logrus.Fields{"phase": types.PhaseDeleteTags}).Info("deleting tags")
		first, err := p.stageDeleteByTag(ctx, idx, deleteMatcher, excludeMatcher, filterSet, deleteSet)
		if err != nil {
			return nil, err
		}
		untaggedTags = append(untaggedTags, first...)

		if len(first) > 0 {
			if err := idx.Reload(ctx); err != nil {
				return nil, fmt.Errorf("reloading index after untag phase: %w", err)
			}
			p.stageExclude(idx, excludeMatcher, filterSet, excludedSet)
			second, err := p.stageDeleteByTag(ctx, idx, deleteMatcher, excludeMatcher, filterSet, deleteSet)
			if err != nil {
				return nil, err
			}
			untaggedTags = append(untaggedTags, second...)
		}
	}

	if p.cfg.DeleteGhostImages || p.cfg.DeletePartialImages {
		phase := types.PhaseGhostImages
		if p.cfg.DeletePartialImages {
			phase = types.PhasePartialImages
		}
		p.log.WithFields(logrus.Fields{"phase": phase}).Info(string(phase))
		p.stageGhostPartial(idx, g, filterSet, deleteSet)
	}
	if p.cfg.DeleteOrphanedImages {
		p.log.WithFields(logrus.Fields{"phase": types.PhaseOrphanReferrer}).Info("finding orphaned referrers to delete")
		p.stageOrphanedReferrers(idx, deleteSet)
	}

	if p.cfg.KeepNTagged != nil {
		p.log.WithFields(logrus.Fields{"phase": types.PhaseKeepNTagged, "n": *p.cfg.KeepNTagged}).Info("keeping N tagged images")
		p.stageKeepNTagged(idx, filterSet, deleteSet)
	}

	p.stageKeepOrDeleteUntagged(idx, filterSet, deleteSet)

	return &Result{
		DeleteSet:    deleteSet,
		ExcludedSet:  excludedSet,
		UntaggedTags: untaggedTags,
		BytesChurned: p.bytesChurned,
	}, nil
}

// stageExclude is Stage A: resolve exclude-tag patterns and remove their
// digests from filterSet. Exclude takes absolute priority; callers never
// re-add an excluded digest to filterSet afterward.
func (p *Pipeline) stageExclude(idx Index, excludeMatcher matcher.Matcher, filterSet, excludedSet map[types.Digest]bool) {
	for _, tag := range idx.Tags() {
		if !excludeMatcher.Match(tag) {
			continue
		}
		d, ok := idx.DigestByTag(tag)
		if !ok {
			continue
		}
		delete(filterSet, d)
		excludedSet[d] = true
	}
}

// stageAge is Stage B: remove digests whose version is too young to
// delete (updatedAt >= now-olderThan).
func (p *Pipeline) stageAge(idx Index, filterSet map[types.Digest]bool) {
	cutoff := p.now().Add(-p.cfg.OlderThanDuration())
	for d := range filterSet {
		v, ok := idx.VersionByDigest(d)
		if !ok {
			continue
		}
		if !v.UpdatedAt.Before(cutoff) {
			delete(filterSet, d)
		}
	}
}

// stageDeleteByTag is Stage C: resolve delete-tag patterns against
// filterSet's tags and partition matches into the untag set (target has
// ≥2 tags) and the standard set (target has exactly 1 tag). It returns
// the tags that were successfully untagged, for the caller's
// reload-and-reevaluate pass.
func (p *Pipeline) stageDeleteByTag(ctx context.Context, idx Index, deleteMatcher, excludeMatcher matcher.Matcher, filterSet, deleteSet map[types.Digest]bool) ([]string, error) {
	var untagged []string
	for _, tag := range idx.Tags() {
		if excludeMatcher.Match(tag) || !deleteMatcher.Match(tag) {
			continue
		}
		d, ok := idx.DigestByTag(tag)
		if !ok || !filterSet[d] {
			continue
		}
		v, ok := idx.VersionByDigest(d)
		if !ok {
			continue
		}
		if len(v.Tags) >= 2 {
			if err := p.untag(ctx, idx, tag, d); err != nil {
				p.log.WithFields(logrus.Fields{"phase": types.PhaseUntagging, "tag": tag, "err": err}).
					Warn("untag protocol failed, skipping this tag")
				continue
			}
			untagged = append(untagged, tag)
			continue
		}
		deleteSet[d] = true
	}
	return untagged, nil
}

// untag performs the untag protocol of spec.md §4.6 for one tag: clone
// the subject manifest into a content-empty substitute, PUT it under the
// same tag (the registry computes a new digest and rebinds the tag),
// reload the index, and delete the resulting transient version.
func (p *Pipeline) untag(ctx context.Context, idx Index, tag string, subject types.Digest) error {
	m, err := p.registry.GetManifestByDigest(ctx, subject)
	if err != nil {
		return fmt.Errorf("fetching manifest for untag of tag %s: %w", tag, err)
	}
	if raw, err := json.Marshal(m); err == nil {
		p.bytesChurned += int64(len(raw))
	}
	substitute := types.EmptySubstitute(m)
	if err := p.registry.PutManifest(ctx, tag, substitute); err != nil {
		return fmt.Errorf("putting substitute manifest for tag %s: %w", tag, err)
	}
	if err := idx.Reload(ctx); err != nil {
		return fmt.Errorf("reloading index after untag put for tag %s: %w", tag, err)
	}
	transient, ok := idx.DigestByTag(tag)
	if !ok {
		return fmt.Errorf("tag %s not present in index after untag put", tag)
	}
	id, ok := idx.IDByDigest(transient)
	if !ok {
		return fmt.Errorf("no version id for transient digest %s", transient)
	}
	if err := p.pkgClient.DeleteVersion(ctx, p.pkg, id); err != nil {
		return fmt.Errorf("deleting transient version for tag %s: %w", tag, err)
	}
	p.log.WithFields(logrus.Fields{"phase": types.PhaseUntagging, "tag": tag, "subject": string(subject), "transient": string(transient)}).
		Info("untagged")
	return nil
}

// stageGhostPartial is Stage D's ghost/partial half: a ghost image is a
// top-level index whose children are all absent; a partial image has
// some absent and some present. Partial mode subsumes ghost (spec.md
// §4.5 Stage D).
func (p *Pipeline) stageGhostPartial(idx Index, g *graph.Graph, filterSet, deleteSet map[types.Digest]bool) {
	for d := range filterSet {
		m, ok := g.Manifests[d]
		if !ok || !m.IsIndex() {
			continue
		}
		children := m.Children()
		if len(children) == 0 {
			continue
		}
		missing := 0
		for _, c := range children {
			if !idx.Exists(types.Digest(c.Digest.String())) {
				missing++
			}
		}
		switch {
		case missing == len(children):
			deleteSet[d] = true
		case missing > 0 && p.cfg.DeletePartialImages:
			deleteSet[d] = true
		}
	}
}

// stageOrphanedReferrers is Stage D's orphan half: any referrer tag
// whose subject digest no longer exists as a version.
func (p *Pipeline) stageOrphanedReferrers(idx Index, deleteSet map[types.Digest]bool) {
	for _, tag := range idx.Tags() {
		subject, ok := types.ReferrerSubjectDigest(tag)
		if !ok || idx.Exists(subject) {
			continue
		}
		if d, ok := idx.DigestByTag(tag); ok {
			deleteSet[d] = true
		}
	}
}

// stageKeepNTagged is Stage E: retain the N most-recently-updated tagged
// digests still in filterSet, delete the rest.
func (p *Pipeline) stageKeepNTagged(idx Index, filterSet, deleteSet map[types.Digest]bool) {
	n := *p.cfg.KeepNTagged
	tagged := versionsInFilterSet(idx, filterSet, deleteSet, true)
	sort.Slice(tagged, func(i, j int) bool { return tagged[i].UpdatedAt.After(tagged[j].UpdatedAt) })
	for i, v := range tagged {
		if i < n {
			continue
		}
		deleteSet[v.Digest] = true
	}
}

// stageKeepOrDeleteUntagged is Stage F, mutually exclusive between
// keep-N-untagged and delete-untagged.
func (p *Pipeline) stageKeepOrDeleteUntagged(idx Index, filterSet, deleteSet map[types.Digest]bool) {
	if p.cfg.KeepNUntagged != nil {
		n := *p.cfg.KeepNUntagged
		untagged := versionsInFilterSet(idx, filterSet, deleteSet, false)
		sort.Slice(untagged, func(i, j int) bool { return untagged[i].UpdatedAt.After(untagged[j].UpdatedAt) })
		for i, v := range untagged {
			if i < n {
				continue
			}
			deleteSet[v.Digest] = true
		}
		return
	}
	if p.cfg.DeleteUntagged != nil && *p.cfg.DeleteUntagged {
		for _, v := range versionsInFilterSet(idx, filterSet, deleteSet, false) {
			deleteSet[v.Digest] = true
		}
	}
}

func versionsInFilterSet(idx Index, filterSet, deleteSet map[types.Digest]bool, tagged bool) []types.PackageVersion {
	var out []types.PackageVersion
	for d := range filterSet {
		if deleteSet[d] {
			continue
		}
		v, ok := idx.VersionByDigest(d)
		if !ok || v.Tagged() != tagged {
			continue
		}
		out = append(out, v)
	}
	return out
}
