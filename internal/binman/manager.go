// Package binman owns the lifecycle of every external dependency: status
// checks, atomic download-and-install, models, and updates.
package binman

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mhagrelius/youtube-downloader/internal/catalog"
	"github.com/mhagrelius/youtube-downloader/internal/domain"
	"github.com/mhagrelius/youtube-downloader/internal/infra/logger"
	"github.com/mhagrelius/youtube-downloader/internal/platform"
)

const (
	versionProbeTimeout = 5 * time.Second
	downloadIdleTimeout = 30 * time.Second
	maxRedirects        = 5
)

// ProgressFunc receives byte-level download progress. total is -1 when the
// server did not declare a Content-Length.
type ProgressFunc func(tool string, downloaded, total int64)

// Manager resolves, checks, and installs external binaries and models.
// Construct one per execution context; there is no package-level instance.
type Manager struct {
	paths   platform.Paths
	catalog *catalog.Catalog
	client  *http.Client
	log     *logger.Logger

	// flight dedups concurrent acquisitions per artifact name so two calls
	// for the same tool share one download, while unrelated artifacts
	// proceed in parallel.
	flight singleflight.Group

	goos string
	arch string
}

func New(paths platform.Paths, cat *catalog.Catalog, log *logger.Logger) *Manager {
	m := &Manager{
		paths:   paths,
		catalog: cat,
		log:     log,
		goos:    runtime.GOOS,
		arch:    runtime.GOARCH,
	}
	m.client = &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	return m
}

// binaryPath is where an installed copy of the tool lives.
func (m *Manager) binaryPath(tool domain.Tool) string {
	return filepath.Join(m.paths.BinDir, m.catalog.BinaryName(tool))
}

// StatusOf recomputes the record for one tool. The filesystem is the source
// of truth, so nothing is cached: every call stats the managed bin dir and
// falls back to PATH for system-installed tools.
func (m *Manager) StatusOf(ctx context.Context, tool domain.Tool) domain.BinaryRecord {
	rec := domain.BinaryRecord{Tool: tool, Path: m.binaryPath(tool)}

	info, err := os.Stat(rec.Path)
	switch {
	case err == nil && !info.IsDir():
		rec.Exists = true
		rec.Executable = isExecutable(info.Mode())
	default:
		// Not managed by us; a system install on PATH counts too.
		if sysPath, lookErr := exec.LookPath(tool.String()); lookErr == nil {
			rec.Path = sysPath
			rec.Exists = true
			rec.Executable = true
		}
	}

	if rec.Ready() {
		// Best effort: a binary that will not report a version is still ready.
		if v, probeErr := m.probeVersion(ctx, tool, rec.Path); probeErr == nil {
			rec.Version = v
		}
	}

	return rec
}

// StatusOfAll reports every tool. Ready means the required subset (fetcher
// and runtime) exists and is executable; the engine and transcoder are
// optional for baseline readiness.
func (m *Manager) StatusOfAll(ctx context.Context) domain.Status {
	status := domain.Status{Ready: true}
	for _, tool := range domain.AllTools {
		rec := m.StatusOf(ctx, tool)
		status.Binaries = append(status.Binaries, rec)
		if tool.Required() && !rec.Ready() {
			status.Ready = false
		}
	}
	return status
}

// Acquire downloads and installs one tool. Concurrent calls for the same
// tool share a single in-flight download; both observe the same record.
func (m *Manager) Acquire(ctx context.Context, tool domain.Tool, onProgress ProgressFunc) (domain.BinaryRecord, error) {
	v, err, _ := m.flight.Do(string(tool), func() (interface{}, error) {
		return m.acquire(ctx, tool, onProgress)
	})
	if err != nil {
		return domain.BinaryRecord{}, err
	}
	return v.(domain.BinaryRecord), nil
}

func (m *Manager) acquire(ctx context.Context, tool domain.Tool, onProgress ProgressFunc) (domain.BinaryRecord, error) {
	// A caller that raced in just after an install finished gets the
	// existing binary instead of a fresh download. Update deletes the
	// binary first, so it always falls through.
	if rec := m.StatusOf(ctx, tool); rec.Ready() {
		return rec, nil
	}

	art, ok := m.catalog.Resolve(tool, m.goos, m.arch)
	if !ok {
		return domain.BinaryRecord{}, &domain.PlatformUnavailableError{
			Tool:         tool.String(),
			Instructions: catalog.InstallInstructions(tool, m.goos),
		}
	}

	for _, dir := range []string{m.paths.BinDir, m.paths.TempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return domain.BinaryRecord{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	dest := filepath.Join(m.paths.BinDir, art.BinaryName)
	m.log.Info("acquiring %s from %s", tool, art.URL)

	if art.Archive {
		if err := m.installFromArchive(ctx, tool, art, dest, onProgress); err != nil {
			return domain.BinaryRecord{}, err
		}
	} else {
		if err := m.download(ctx, art.URL, dest, func(done, total int64) {
			if onProgress != nil {
				onProgress(tool.String(), done, total)
			}
		}); err != nil {
			return domain.BinaryRecord{}, err
		}
	}

	if err := markExecutable(dest); err != nil {
		return domain.BinaryRecord{}, fmt.Errorf("set executable bit on %s: %w", dest, err)
	}

	m.log.Info("%s installed at %s", tool, dest)
	return m.StatusOf(ctx, tool), nil
}

// installFromArchive downloads the archive into the temp dir, extracts it,
// relocates the binary into the flat bin dir, and removes every staging
// artifact on all exit paths.
func (m *Manager) installFromArchive(ctx context.Context, tool domain.Tool, art catalog.Artifact, dest string, onProgress ProgressFunc) (err error) {
	archivePath := filepath.Join(m.paths.TempDir, urlFileName(art.URL))
	stagingDir := filepath.Join(m.paths.TempDir, string(tool)+"-extract")

	defer func() {
		os.Remove(archivePath)
		os.RemoveAll(stagingDir)
	}()

	if err := m.download(ctx, art.URL, archivePath, func(done, total int64) {
		if onProgress != nil {
			onProgress(tool.String(), done, total)
		}
	}); err != nil {
		return err
	}

	binPath, err := extractArchive(archivePath, stagingDir, art.BinaryName)
	if err != nil {
		return &domain.ExtractionError{Archive: archivePath, Err: err}
	}

	return moveFile(binPath, dest)
}

// AcquireAll installs every missing required tool. Each install goes
// through the per-tool flight key, so a concurrent Acquire for the same
// tool attaches to the in-flight download instead of starting another.
func (m *Manager) AcquireAll(ctx context.Context, onProgress ProgressFunc) error {
	for _, tool := range domain.RequiredTools {
		if m.StatusOf(ctx, tool).Ready() {
			continue
		}
		if _, err := m.Acquire(ctx, tool, onProgress); err != nil {
			return fmt.Errorf("acquire %s: %w", tool, err)
		}
	}
	return nil
}

// ModelPath is where a model file lives once installed.
func (m *Manager) ModelPath(model catalog.Model) string {
	return filepath.Join(m.paths.ModelDir, model.FileName)
}

// ModelStatus recomputes the record for one model name.
func (m *Manager) ModelStatus(name string) (domain.ModelRecord, error) {
	model, err := m.catalog.Model(name)
	if err != nil {
		return domain.ModelRecord{}, err
	}

	rec := domain.ModelRecord{Name: name, Path: m.ModelPath(model)}
	if info, statErr := os.Stat(rec.Path); statErr == nil && !info.IsDir() {
		rec.Exists = true
		rec.SizeBytes = info.Size()
	}
	return rec, nil
}

// AcquireModel validates the name against the fixed enumeration (unknown
// names fail before any network call) and downloads the model if missing.
func (m *Manager) AcquireModel(ctx context.Context, name string, onProgress ProgressFunc) (domain.ModelRecord, error) {
	model, err := m.catalog.Model(name)
	if err != nil {
		return domain.ModelRecord{}, err
	}

	v, err, _ := m.flight.Do("model:"+name, func() (interface{}, error) {
		rec, statusErr := m.ModelStatus(name)
		if statusErr != nil {
			return nil, statusErr
		}
		if rec.Exists {
			return rec, nil
		}

		if mkErr := os.MkdirAll(m.paths.ModelDir, 0o755); mkErr != nil {
			return nil, fmt.Errorf("create %s: %w", m.paths.ModelDir, mkErr)
		}

		m.log.Info("downloading model %s from %s", name, model.URL)
		if dlErr := m.download(ctx, model.URL, rec.Path, func(done, total int64) {
			if onProgress != nil {
				onProgress("model:"+name, done, total)
			}
		}); dlErr != nil {
			return nil, dlErr
		}

		return m.ModelStatus(name)
	})
	if err != nil {
		return domain.ModelRecord{}, err
	}
	return v.(domain.ModelRecord), nil
}

// EnsureTranscriptionReady makes sure the engine binary and the named model
// are both present, acquiring whatever is missing, and returns their paths.
func (m *Manager) EnsureTranscriptionReady(ctx context.Context, modelName string, onProgress ProgressFunc) (enginePath, modelPath string, err error) {
	engine := m.StatusOf(ctx, domain.ToolEngine)
	if !engine.Ready() {
		engine, err = m.Acquire(ctx, domain.ToolEngine, onProgress)
		if err != nil {
			return "", "", err
		}
	}

	model, err := m.ModelStatus(modelName)
	if err != nil {
		return "", "", err
	}
	if !model.Exists {
		model, err = m.AcquireModel(ctx, modelName, onProgress)
		if err != nil {
			return "", "", err
		}
	}

	return engine.Path, model.Path, nil
}

// isExecutable checks platform permission bits, not just file presence.
func isExecutable(mode os.FileMode) bool {
	if runtime.GOOS == "windows" {
		return true
	}
	return mode&0o111 != 0
}

func markExecutable(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	return os.Chmod(path, 0o755)
}

func urlFileName(rawURL string) string {
	name := filepath.Base(rawURL)
	name, _, _ = strings.Cut(name, "?")
	if name == "" || name == "." || name == "/" {
		name = "download"
	}
	return name
}
