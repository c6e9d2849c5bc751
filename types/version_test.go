package types

import "testing"

func TestReferrerSubjectDigest(t *testing.T) {
	hex := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	tests := []struct {
		name    string
		tag     string
		want    Digest
		wantOk  bool
	}{
		{"exact", "sha256-" + hex, Digest("sha256:" + hex), true},
		{"suffix allowed", "sha256-" + hex + ".sig", Digest("sha256:" + hex), true},
		{"not a referrer", "latest", "", false},
		{"too short", "sha256-abc", "", false},
		{"bad hex", "sha256-" + hex[:63] + "g", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ReferrerSubjectDigest(tt.tag)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if got != tt.want {
				t.Fatalf("digest = %q, want %q", got, tt.want)
			}
		})
	}
}
