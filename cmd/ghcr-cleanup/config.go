package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/container-tools/ghcr-cleanup/packageclient"
	"github.com/container-tools/ghcr-cleanup/policy"
)

// fileConfig is the YAML policy file shape (spec.md §6 "Configuration
// surface"), grounded on cmd/regsync/config.go's Config/yaml.v2 pattern.
// Pointer fields carry the same "zero is meaningful" semantics as
// policy.Config; an absent key in the file leaves the pointer nil so a
// later flag or env var can still set it.
type fileConfig struct {
	Owner          string   `yaml:"owner"`
	OwnerKind      string   `yaml:"ownerKind"`
	Packages       string   `yaml:"packages"`
	ExpandPackages bool     `yaml:"expandPackages"`
	UseRegex       bool     `yaml:"useRegex"`
	DeleteTags     []string `yaml:"deleteTags"`
	ExcludeTags    []string `yaml:"excludeTags"`

	DeleteGhostImages    bool `yaml:"deleteGhostImages"`
	DeletePartialImages  bool `yaml:"deletePartialImages"`
	DeleteOrphanedImages bool `yaml:"deleteOrphanedImages"`

	KeepNTagged    *int  `yaml:"keepNtagged"`
	KeepNUntagged  *int  `yaml:"keepNuntagged"`
	DeleteUntagged *bool `yaml:"deleteUntagged"`

	OlderThan string `yaml:"olderThan"`

	DryRun         bool `yaml:"dryRun"`
	Validate       bool `yaml:"validate"`
	FailOnWarnings bool `yaml:"failOnWarnings"`
}

// loadFileConfig reads path, or returns a zero fileConfig if path is
// empty (the YAML file is optional; env vars and flags can stand alone).
func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return fc, nil
}

// envOverlay applies GHCR_CLEANUP_* environment variables on top of fc,
// the middle priority tier between the YAML file and flags (SPEC_FULL.md
// §1.3).
func envOverlay(fc fileConfig) fileConfig {
	if v, ok := os.LookupEnv("GHCR_CLEANUP_OWNER"); ok {
		fc.Owner = v
	}
	if v, ok := os.LookupEnv("GHCR_CLEANUP_OWNER_KIND"); ok {
		fc.OwnerKind = v
	}
	if v, ok := os.LookupEnv("GHCR_CLEANUP_PACKAGES"); ok {
		fc.Packages = v
	}
	if v, ok := os.LookupEnv("GHCR_CLEANUP_EXPAND_PACKAGES"); ok {
		fc.ExpandPackages = v == "true"
	}
	if v, ok := os.LookupEnv("GHCR_CLEANUP_DRY_RUN"); ok {
		fc.DryRun = v == "true"
	}
	if v, ok := os.LookupEnv("GHCR_CLEANUP_FAIL_ON_WARNINGS"); ok {
		fc.FailOnWarnings = v == "true"
	}
	if v, ok := os.LookupEnv("GHCR_CLEANUP_DELETE_UNTAGGED"); ok {
		b := v == "true"
		fc.DeleteUntagged = &b
	}
	if v, ok := os.LookupEnv("GHCR_CLEANUP_OLDER_THAN"); ok {
		fc.OlderThan = v
	}
	if v, ok := os.LookupEnv("GHCR_CLEANUP_KEEP_N_TAGGED"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			fc.KeepNTagged = &n
		}
	}
	if v, ok := os.LookupEnv("GHCR_CLEANUP_KEEP_N_UNTAGGED"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			fc.KeepNUntagged = &n
		}
	}
	return fc
}

// applyFlags layers flags (highest priority) over fc. Only flags
// explicitly set by the caller override; this is enforced by callers
// passing pflag.Changed-gated values rather than defaults.
func applyFlags(fc fileConfig, flags flagOverlay) fileConfig {
	if flags.owner != nil {
		fc.Owner = *flags.owner
	}
	if flags.ownerKind != nil {
		fc.OwnerKind = *flags.ownerKind
	}
	if flags.packages != nil {
		fc.Packages = *flags.packages
	}
	if flags.expandPackages != nil {
		fc.ExpandPackages = *flags.expandPackages
	}
	if flags.useRegex != nil {
		fc.UseRegex = *flags.useRegex
	}
	if flags.deleteTags != nil {
		fc.DeleteTags = *flags.deleteTags
	}
	if flags.excludeTags != nil {
		fc.ExcludeTags = *flags.excludeTags
	}
	if flags.deleteGhostImages != nil {
		fc.DeleteGhostImages = *flags.deleteGhostImages
	}
	if flags.deletePartialImages != nil {
		fc.DeletePartialImages = *flags.deletePartialImages
	}
	if flags.deleteOrphanedImages != nil {
		fc.DeleteOrphanedImages = *flags.deleteOrphanedImages
	}
	if flags.keepNTagged != nil {
		fc.KeepNTagged = flags.keepNTagged
	}
	if flags.keepNUntagged != nil {
		fc.KeepNUntagged = flags.keepNUntagged
	}
	if flags.deleteUntagged != nil {
		fc.DeleteUntagged = flags.deleteUntagged
	}
	if flags.olderThan != nil {
		fc.OlderThan = *flags.olderThan
	}
	if flags.dryRun != nil {
		fc.DryRun = *flags.dryRun
	}
	if flags.validate != nil {
		fc.Validate = *flags.validate
	}
	if flags.failOnWarnings != nil {
		fc.FailOnWarnings = *flags.failOnWarnings
	}
	return fc
}

// flagOverlay holds only the flags the caller actually set (nil = not
// set), so applyFlags can tell "set to false" apart from "unset".
type flagOverlay struct {
	owner                *string
	ownerKind            *string
	packages             *string
	expandPackages       *bool
	useRegex             *bool
	deleteTags           *[]string
	excludeTags          *[]string
	deleteGhostImages    *bool
	deletePartialImages  *bool
	deleteOrphanedImages *bool
	keepNTagged          *int
	keepNUntagged        *int
	deleteUntagged       *bool
	olderThan            *string
	dryRun               *bool
	validate             *bool
	failOnWarnings       *bool
}

func parseOwnerKind(s string) (packageclient.OwnerKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "user":
		return packageclient.OwnerUser, nil
	case "org", "organization":
		return packageclient.OwnerOrg, nil
	case "authenticated-user", "self":
		return packageclient.OwnerAuthenticatedUser, nil
	default:
		return 0, fmt.Errorf("unrecognized ownerKind %q", s)
	}
}

// toPolicyConfig builds the immutable policy.Config the core requires,
// validating it with policy.NewConfig before any I/O begins
// (SPEC_FULL.md §1.3).
func (fc fileConfig) toPolicyConfig() (policy.Config, error) {
	return policy.NewConfig(policy.Config{
		DeleteTags:           fc.DeleteTags,
		ExcludeTags:          fc.ExcludeTags,
		UseRegex:             fc.UseRegex,
		DeleteGhostImages:    fc.DeleteGhostImages,
		DeletePartialImages:  fc.DeletePartialImages,
		DeleteOrphanedImages: fc.DeleteOrphanedImages,
		KeepNTagged:          fc.KeepNTagged,
		KeepNUntagged:        fc.KeepNUntagged,
		DeleteUntagged:       fc.DeleteUntagged,
		OlderThan:            fc.OlderThan,
		DryRun:               fc.DryRun,
		ValidateAfter:        fc.Validate,
	})
}
