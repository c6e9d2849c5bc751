// Package policy implements the declarative cleanup policy: the
// configuration surface spec.md §6 enumerates, its validation and
// defaulting rules (spec.md §4.5, §7), and the Stage A–F filter pipeline
// that narrows a package's top-level digests down to a delete set.
package policy

import (
	"fmt"
	"time"

	"github.com/container-tools/ghcr-cleanup/internal/durationx"
	"github.com/container-tools/ghcr-cleanup/types"
)

// Config is one cleanup run's policy (spec.md §6). KeepNTagged,
// KeepNUntagged and DeleteUntagged are pointers because their zero value
// is meaningful and distinct from "unset" (spec.md §6 "zero is
// meaningful"). Build with NewConfig, never construct a zero Config and
// feed it straight to Pipeline.Run — NewConfig applies the stage C/D/E/F
// defaulting rule and rejects mutually exclusive combinations before any
// I/O begins (spec.md §7 "Configuration errors fail fast before any
// I/O").
type Config struct {
	DeleteTags  []string
	ExcludeTags []string
	UseRegex    bool

	DeleteGhostImages    bool
	DeletePartialImages  bool
	DeleteOrphanedImages bool

	KeepNTagged    *int
	KeepNUntagged  *int
	DeleteUntagged *bool

	OlderThan string

	DryRun        bool
	ValidateAfter bool

	olderThanParsed time.Duration
}

// OlderThanDuration returns the parsed form of OlderThan. Only valid
// after NewConfig has run.
func (c Config) OlderThanDuration() time.Duration { return c.olderThanParsed }

// NewConfig validates raw and returns a normalized Config. Ghost and
// partial image deletion are mutually exclusive (partial subsumes ghost,
// spec.md §4.5 Stage D); keepNuntagged and deleteUntagged=true are
// mutually exclusive (spec.md §4.5 Stage F); regex mode accepts exactly
// one pattern per list (spec.md §4.5 Stage A/C, matching
// internal/matcher's single-pattern regex contract).
func NewConfig(raw Config) (Config, error) {
	cfg := raw

	if cfg.DeleteGhostImages && cfg.DeletePartialImages {
		return Config{}, fmt.Errorf("%w: deleteGhostImages and deletePartialImages are mutually exclusive", types.ErrConfiguration)
	}
	if cfg.KeepNUntagged != nil && cfg.DeleteUntagged != nil && *cfg.DeleteUntagged {
		return Config{}, fmt.Errorf("%w: keepNuntagged and deleteUntagged are mutually exclusive", types.ErrConfiguration)
	}
	if cfg.UseRegex && len(cfg.DeleteTags) > 1 {
		return Config{}, fmt.Errorf("%w: regex mode accepts exactly one deleteTags pattern", types.ErrConfiguration)
	}
	if cfg.UseRegex && len(cfg.ExcludeTags) > 1 {
		return Config{}, fmt.Errorf("%w: regex mode accepts exactly one excludeTags pattern", types.ErrConfiguration)
	}
	if cfg.KeepNTagged != nil && *cfg.KeepNTagged < 0 {
		return Config{}, fmt.Errorf("%w: keepNtagged must be non-negative", types.ErrConfiguration)
	}
	if cfg.KeepNUntagged != nil && *cfg.KeepNUntagged < 0 {
		return Config{}, fmt.Errorf("%w: keepNuntagged must be non-negative", types.ErrConfiguration)
	}
	if cfg.OlderThan != "" {
		d, err := durationx.Parse(cfg.OlderThan)
		if err != nil {
			return Config{}, fmt.Errorf("%w: olderThan: %v", types.ErrConfiguration, err)
		}
		cfg.olderThanParsed = d
	}
	if !anyStructuralOptionConfigured(cfg) {
		deleteUntagged := true
		cfg.DeleteUntagged = &deleteUntagged
	}
	return cfg, nil
}

// anyStructuralOptionConfigured reports whether any stage C/D/E/F option
// was explicitly set, per spec.md §4.5's defaulting rule: "if no stage
// C/D/E/F option is configured, deleteUntagged defaults to true."
func anyStructuralOptionConfigured(cfg Config) bool {
	return len(cfg.DeleteTags) > 0 ||
		cfg.DeleteGhostImages || cfg.DeletePartialImages || cfg.DeleteOrphanedImages ||
		cfg.KeepNTagged != nil || cfg.KeepNUntagged != nil || cfg.DeleteUntagged != nil
}
