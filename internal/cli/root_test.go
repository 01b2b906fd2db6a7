//go:build !windows

package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mhagrelius/youtube-downloader/internal/domain"
	"github.com/mhagrelius/youtube-downloader/internal/fetch"
	"github.com/mhagrelius/youtube-downloader/internal/pipeline"
)

// runCLI executes the root command against an isolated data dir and an
// empty PATH, capturing stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("YTSCRIBE_DATA_DIR", t.TempDir())
	t.Setenv("YTSCRIBE_OUTPUT_DIR", t.TempDir())

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd(&stdout, &stderr)
	cmd.SetArgs(args)
	cmd.SetOut(&stderr)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestUnknownFlagIsInvalidArguments(t *testing.T) {
	_, err := runCLI(t, "--bogus")
	if !errors.Is(err, domain.ErrInvalidArguments) {
		t.Fatalf("err = %v, want ErrInvalidArguments", err)
	}
	if got := pipeline.ExitCodeFor(err); got != pipeline.ExitInvalidArgs {
		t.Errorf("exit code = %d, want %d", got, pipeline.ExitInvalidArgs)
	}
}

func TestMissingURLIsInvalidArguments(t *testing.T) {
	_, err := runCLI(t)
	if !errors.Is(err, domain.ErrInvalidArguments) {
		t.Fatalf("err = %v, want ErrInvalidArguments", err)
	}
}

func TestInvalidFormatFlagRejected(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	_, err := runCLI(t, "--format", "docx", "https://example.com")
	if !errors.Is(err, domain.ErrInvalidArguments) {
		t.Fatalf("err = %v, want ErrInvalidArguments", err)
	}
}

func TestInvalidAudioFormatFlagRejected(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	_, err := runCLI(t, "--audio-format", "flac", "https://example.com")
	if !errors.Is(err, domain.ErrInvalidArguments) {
		t.Fatalf("err = %v, want ErrInvalidArguments", err)
	}
}

func TestCheckReportsMissingTools(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	out, err := runCLI(t, "--check", "--no-color")
	if err != nil {
		t.Fatalf("check: %v", err)
	}

	for _, want := range []string{"yt-dlp", "deno", "whisper-cli", "ffmpeg", "missing", "--setup", "ready: no"} {
		if !strings.Contains(out, want) {
			t.Errorf("check output missing %q:\n%s", want, out)
		}
	}
}

func TestCheckJSONShape(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	out, err := runCLI(t, "--check", "--json")
	if err != nil {
		t.Fatalf("check: %v", err)
	}

	var report struct {
		Binaries []domain.BinaryRecord `json:"binaries"`
		Models   []domain.ModelRecord  `json:"models"`
		Ready    bool                  `json:"ready"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(report.Binaries) != 4 {
		t.Errorf("binaries = %d, want 4", len(report.Binaries))
	}
	if len(report.Models) != 4 {
		t.Errorf("models = %d, want 4", len(report.Models))
	}
	if report.Ready {
		t.Error("ready = true with empty PATH and bin dir")
	}
}

func TestCheckSeededToolsAreReady(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("YTSCRIBE_DATA_DIR", dataDir)
	t.Setenv("YTSCRIBE_OUTPUT_DIR", t.TempDir())
	t.Setenv("PATH", t.TempDir())

	binDir := filepath.Join(dataDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, version := range map[string]string{
		"yt-dlp": "2025.08.01",
		"deno":   "deno 2.0.0",
	} {
		script := "#!/bin/sh\necho \"" + version + "\"\n"
		if err := os.WriteFile(filepath.Join(binDir, name), []byte(script), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd(&stdout, &stderr)
	cmd.SetArgs([]string{"--check", "--no-color"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("check: %v", err)
	}

	out := stdout.String()
	if !strings.Contains(out, "ready: yes") {
		t.Errorf("check output not ready:\n%s", out)
	}
	if !strings.Contains(out, "2025.08.01") {
		t.Errorf("check output missing probed version:\n%s", out)
	}
}

func TestParseAudioStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want fetch.AudioStrategy
		ok   bool
	}{
		{"mp3", fetch.AudioMP3, true},
		{"M4A", fetch.AudioM4A, true},
		{"best", fetch.AudioBest, true},
		{"", fetch.AudioBest, true},
		{"flac", "", false},
	}
	for _, tt := range tests {
		got, err := parseAudioStrategy(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("parseAudioStrategy(%q) = (%v, %v), want (%v, ok=%v)", tt.in, got, err, tt.want, tt.ok)
		}
	}
}
