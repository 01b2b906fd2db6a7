package catalog

import (
	"errors"
	"testing"

	"github.com/mhagrelius/youtube-downloader/internal/domain"
)

func TestResolveKnownPlatforms(t *testing.T) {
	c := New()

	tests := []struct {
		tool    domain.Tool
		goos    string
		arch    string
		want    bool
		archive bool
	}{
		{domain.ToolFetcher, "linux", "amd64", true, false},
		{domain.ToolFetcher, "darwin", "arm64", true, false},
		{domain.ToolFetcher, "windows", "amd64", true, false},
		{domain.ToolRuntime, "linux", "amd64", true, true},
		{domain.ToolRuntime, "darwin", "arm64", true, true},
		{domain.ToolEngine, "windows", "amd64", true, true},
		{domain.ToolEngine, "linux", "amd64", false, false},
		{domain.ToolEngine, "darwin", "arm64", false, false},
		{domain.ToolTranscoder, "linux", "amd64", false, false},
		{domain.ToolTranscoder, "darwin", "amd64", false, false},
		{domain.ToolTranscoder, "windows", "amd64", false, false},
	}

	for _, tt := range tests {
		art, ok := c.Resolve(tt.tool, tt.goos, tt.arch)
		if ok != tt.want {
			t.Errorf("Resolve(%s, %s/%s) ok = %v, want %v", tt.tool, tt.goos, tt.arch, ok, tt.want)
			continue
		}
		if !ok {
			continue
		}
		if art.URL == "" {
			t.Errorf("Resolve(%s, %s/%s) returned empty URL", tt.tool, tt.goos, tt.arch)
		}
		if art.Archive != tt.archive {
			t.Errorf("Resolve(%s, %s/%s) archive = %v, want %v", tt.tool, tt.goos, tt.arch, art.Archive, tt.archive)
		}
	}
}

func TestModelEnumeration(t *testing.T) {
	c := New()

	for _, name := range []string{"tiny", "base", "small", "medium"} {
		m, err := c.Model(name)
		if err != nil {
			t.Errorf("Model(%q) error = %v", name, err)
			continue
		}
		if m.URL == "" || m.FileName == "" {
			t.Errorf("Model(%q) incomplete: %+v", name, m)
		}
	}
}

func TestModelUnknownName(t *testing.T) {
	c := New()

	_, err := c.Model("huge")
	if !errors.Is(err, domain.ErrUnknownModel) {
		t.Fatalf("Model(huge) error = %v, want ErrUnknownModel", err)
	}
}

func TestInstallInstructionsPerOS(t *testing.T) {
	for _, goos := range []string{"darwin", "linux", "windows"} {
		msg := InstallInstructions(domain.ToolTranscoder, goos)
		if msg == "" {
			t.Errorf("InstallInstructions(ffmpeg, %s) is empty", goos)
		}
	}
}
