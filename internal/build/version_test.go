package build_test

import (
	"testing"

	"github.com/metabench/crawlfleet/internal/build"
)

func TestFullVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		commit  string
		want    string
	}{
		{name: "default values", version: "dev", commit: "none", want: "dev+none"},
		{name: "version with commit", version: "1.0.0", commit: "abc123", want: "1.0.0+abc123"},
	}

	origVersion, origCommit := build.Version, build.Commit
	defer func() { build.Version, build.Commit = origVersion, origCommit }()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			build.Version = tt.version
			build.Commit = tt.commit
			if got := build.FullVersion(); got != tt.want {
				t.Errorf("FullVersion() = %q, want %q", got, tt.want)
			}
		})
	}
}
