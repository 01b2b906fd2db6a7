package binman

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"

	"github.com/mhagrelius/youtube-downloader/internal/domain"
)

// UpdateInfo is the outcome of a remote version comparison.
type UpdateInfo struct {
	Tool          domain.Tool `json:"tool"`
	LocalVersion  string      `json:"localVersion"`
	LatestVersion string      `json:"latestVersion"`
	Available     bool        `json:"available"`
}

// release repositories for the tools we manage ourselves
var releaseRepos = map[domain.Tool]string{
	domain.ToolFetcher: "yt-dlp/yt-dlp",
	domain.ToolRuntime: "denoland/deno",
}

// probeVersion spawns the binary with its version flag under a short
// timeout. Failures are the caller's to swallow: a binary that exists but
// will not report a version is still usable.
func (m *Manager) probeVersion(ctx context.Context, tool domain.Tool, path string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionProbeTimeout)
	defer cancel()

	flag := "--version"
	if tool == domain.ToolTranscoder {
		flag = "-version"
	}

	cmd := exec.CommandContext(ctx, path, flag)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}

	line, _, _ := strings.Cut(strings.TrimSpace(out.String()), "\n")
	return parseVersionLine(tool, line), nil
}

// parseVersionLine trims tool-specific noise down to the bare version.
func parseVersionLine(tool domain.Tool, line string) string {
	line = strings.TrimSpace(line)
	switch tool {
	case domain.ToolRuntime:
		// "deno 2.1.4 (stable, ...)"
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			return fields[1]
		}
	case domain.ToolTranscoder:
		// "ffmpeg version 7.1 Copyright ..."
		fields := strings.Fields(line)
		if len(fields) >= 3 && fields[1] == "version" {
			return fields[2]
		}
	}
	return line
}

// CheckForUpdate compares the locally reported version with the latest
// release tag. Only tools we install ourselves can be update-checked.
func (m *Manager) CheckForUpdate(ctx context.Context, tool domain.Tool) (UpdateInfo, error) {
	repo, ok := releaseRepos[tool]
	if !ok {
		return UpdateInfo{}, fmt.Errorf("updates for %s are handled by the system package manager", tool)
	}

	rec := m.StatusOf(ctx, tool)
	if !rec.Ready() {
		return UpdateInfo{}, fmt.Errorf("%s is not installed", tool)
	}

	latest, err := m.latestReleaseTag(ctx, repo)
	if err != nil {
		return UpdateInfo{}, err
	}

	info := UpdateInfo{
		Tool:          tool,
		LocalVersion:  rec.Version,
		LatestVersion: latest,
	}
	info.Available = info.LocalVersion != "" && info.LatestVersion != "" &&
		strings.TrimPrefix(info.LocalVersion, "v") != strings.TrimPrefix(info.LatestVersion, "v")
	return info, nil
}

// Update is delete-then-reacquire, with the same atomicity guarantees as
// Acquire.
func (m *Manager) Update(ctx context.Context, tool domain.Tool, onProgress ProgressFunc) (domain.BinaryRecord, error) {
	if _, ok := releaseRepos[tool]; !ok {
		return domain.BinaryRecord{}, fmt.Errorf("updates for %s are handled by the system package manager", tool)
	}

	if err := os.Remove(m.binaryPath(tool)); err != nil && !os.IsNotExist(err) {
		return domain.BinaryRecord{}, fmt.Errorf("remove old %s: %w", tool, err)
	}
	return m.Acquire(ctx, tool, onProgress)
}

func (m *Manager) latestReleaseTag(ctx context.Context, repo string) (string, error) {
	url := "https://api.github.com/repos/" + repo + "/releases/latest"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &domain.NetworkError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "ytscribe")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", &domain.NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &domain.NetworkError{URL: url, Err: fmt.Errorf("release metadata request returned %s", resp.Status)}
	}

	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", &domain.NetworkError{URL: url, Err: fmt.Errorf("decode release metadata: %w", err)}
	}
	if strings.TrimSpace(release.TagName) == "" {
		return "", &domain.NetworkError{URL: url, Err: fmt.Errorf("release metadata did not include a tag name")}
	}
	return release.TagName, nil
}
