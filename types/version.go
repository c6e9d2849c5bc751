package types

import (
	"strings"
	"time"
)

// Digest is a content hash of a manifest, format "sha256:<64-hex>".
type Digest string

// PackageVersion is one entity per stored manifest (spec.md §3).
type PackageVersion struct {
	ID        string
	Digest    Digest
	Tags      []string
	UpdatedAt time.Time
}

// Tagged reports whether the version carries at least one tag.
func (v PackageVersion) Tagged() bool { return len(v.Tags) > 0 }

// referrerPrefixLen is the length of "sha256-" plus 64 hex characters, the
// authoritative prefix-match boundary from spec.md §9: "the later revision
// (prefix-match with length-trim to 71 chars) is authoritative."
const referrerPrefixLen = len("sha256-") + 64

// ReferrerSubjectDigest reports whether tag is a referrer tag of the form
// "sha256-<64hex>[suffix]" and, if so, returns the subject digest it
// attaches to. A referrer's own manifest (signature, attestation, SBOM)
// attaches to the subject identified by the hex component.
func ReferrerSubjectDigest(tag string) (Digest, bool) {
	if !strings.HasPrefix(tag, "sha256-") {
		return "", false
	}
	if len(tag) < referrerPrefixLen {
		return "", false
	}
	hex := tag[len("sha256-"):referrerPrefixLen]
	if !isHex64(hex) {
		return "", false
	}
	return Digest("sha256:" + hex), true
}

func isHex64(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
