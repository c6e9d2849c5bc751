package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFileConfigEmptyPathReturnsZeroValue(t *testing.T) {
	fc, err := loadFileConfig("")
	if err != nil {
		t.Fatalf("loadFileConfig: %v", err)
	}
	if fc.Owner != "" || fc.DeleteUntagged != nil {
		t.Fatalf("expected zero-value config, got %+v", fc)
	}
}

func TestLoadFileConfigParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	body := "owner: acme\npackages: myimage\ndeleteUntagged: true\nkeepNtagged: 0\nolderThan: \"30 days\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	fc, err := loadFileConfig(path)
	if err != nil {
		t.Fatalf("loadFileConfig: %v", err)
	}
	if fc.Owner != "acme" || fc.Packages != "myimage" {
		t.Fatalf("unexpected config: %+v", fc)
	}
	if fc.DeleteUntagged == nil || !*fc.DeleteUntagged {
		t.Fatalf("expected deleteUntagged=true, got %+v", fc.DeleteUntagged)
	}
	if fc.KeepNTagged == nil || *fc.KeepNTagged != 0 {
		t.Fatalf("expected keepNtagged=0 preserved as non-nil zero, got %+v", fc.KeepNTagged)
	}
	if fc.OlderThan != "30 days" {
		t.Fatalf("expected olderThan '30 days', got %q", fc.OlderThan)
	}
}

func TestEnvOverlayOverridesFile(t *testing.T) {
	t.Setenv("GHCR_CLEANUP_OWNER", "from-env")
	t.Setenv("GHCR_CLEANUP_DRY_RUN", "true")

	fc := envOverlay(fileConfig{Owner: "from-file", DryRun: false})
	if fc.Owner != "from-env" {
		t.Fatalf("expected env owner to win, got %q", fc.Owner)
	}
	if !fc.DryRun {
		t.Fatalf("expected env dryRun to win")
	}
}

func TestApplyFlagsOnlyOverridesSetFields(t *testing.T) {
	base := fileConfig{Owner: "from-file", Packages: "untouched"}
	owner := "from-flag"
	merged := applyFlags(base, flagOverlay{owner: &owner})

	if merged.Owner != "from-flag" {
		t.Fatalf("expected flag owner to win, got %q", merged.Owner)
	}
	if merged.Packages != "untouched" {
		t.Fatalf("expected unset flag to leave Packages alone, got %q", merged.Packages)
	}
}

func TestParseOwnerKind(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{name: "empty defaults to user", in: ""},
		{name: "user", in: "user"},
		{name: "org", in: "org"},
		{name: "organization alias", in: "organization"},
		{name: "authenticated-user", in: "authenticated-user"},
		{name: "self alias", in: "self"},
		{name: "garbage", in: "nonsense", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseOwnerKind(tt.in)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error for %q", tt.in)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.in, err)
			}
		})
	}
}

func TestApplyFlagsFailOnWarningsIndependentOfValidate(t *testing.T) {
	base := fileConfig{Validate: true}
	fail := true
	merged := applyFlags(base, flagOverlay{failOnWarnings: &fail})

	if !merged.Validate {
		t.Fatalf("expected Validate to remain true when only fail-on-warnings is set")
	}
	if !merged.FailOnWarnings {
		t.Fatalf("expected FailOnWarnings to be set by the flag")
	}
}

func TestToPolicyConfigRejectsInvalidCombination(t *testing.T) {
	trueVal := true
	zero := 0
	fc := fileConfig{
		DeleteUntagged: &trueVal,
		KeepNUntagged:  &zero,
	}
	if _, err := fc.toPolicyConfig(); err == nil {
		t.Fatalf("expected error for deleteUntagged+keepNuntagged combination")
	}
}
