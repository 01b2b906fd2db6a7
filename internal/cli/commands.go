package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/dustin/go-humanize"

	"github.com/mhagrelius/youtube-downloader/internal/catalog"
	"github.com/mhagrelius/youtube-downloader/internal/domain"
)

const (
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

func (a *app) colorize(s, color string) string {
	if a.opts.noColor || a.opts.jsonOut {
		return s
	}
	return color + s + colorReset
}

// acquireProgress adapts manager download callbacks onto the reporter.
func (a *app) acquireProgress(tool string, downloaded, total int64) {
	p := domain.Progress{DownloadedBytes: downloaded, TotalBytes: total}
	if total > 0 {
		p.Percent = float64(downloaded) / float64(total) * 100
	}
	a.reporter.Progress(tool, p)
}

// runSetup downloads every missing required tool.
func (a *app) runSetup(ctx context.Context) error {
	a.reporter.Info("installing external tools into %s", a.paths.BinDir)

	if err := a.manager.AcquireAll(ctx, a.acquireProgress); err != nil {
		return err
	}

	status := a.manager.StatusOfAll(ctx)
	for _, rec := range status.Binaries {
		if !rec.Tool.Required() {
			continue
		}
		a.reporter.Info("%s ready (%s)", rec.Tool, rec.Path)
	}
	a.reporter.Info("setup complete; transcription tools are fetched on first use")
	return nil
}

// checkReport is the JSON shape of the diagnostics output.
type checkReport struct {
	Binaries []domain.BinaryRecord `json:"binaries"`
	Models   []domain.ModelRecord  `json:"models"`
	Ready    bool                  `json:"ready"`
}

// runCheck reports the status of every tool and model. It is a report, not
// a gate: the exit code stays zero even when tools are missing.
func (a *app) runCheck(ctx context.Context) error {
	status := a.manager.StatusOfAll(ctx)

	report := checkReport{Binaries: status.Binaries, Ready: status.Ready}
	for _, m := range a.catalog.Models() {
		rec, err := a.manager.ModelStatus(m.Name)
		if err != nil {
			continue
		}
		report.Models = append(report.Models, rec)
	}

	if a.opts.jsonOut {
		return json.NewEncoder(a.stdout).Encode(report)
	}

	fmt.Fprintln(a.stdout, "tools:")
	for _, rec := range status.Binaries {
		if rec.Ready() {
			version := rec.Version
			if version == "" {
				version = "unknown version"
			}
			fmt.Fprintf(a.stdout, "  %-12s %s  %s (%s)\n", rec.Tool, a.colorize("ok", colorGreen), rec.Path, version)
			continue
		}
		fmt.Fprintf(a.stdout, "  %-12s %s\n", rec.Tool, a.colorize("missing", colorRed))
		if hint := installHint(a, rec.Tool); hint != "" {
			fmt.Fprintf(a.stdout, "               %s\n", hint)
		}
	}

	fmt.Fprintln(a.stdout, "models:")
	for _, rec := range report.Models {
		if rec.Exists {
			fmt.Fprintf(a.stdout, "  %-12s %s  %s (%s)\n", rec.Name, a.colorize("ok", colorGreen), rec.Path, humanize.Bytes(uint64(rec.SizeBytes)))
		} else {
			fmt.Fprintf(a.stdout, "  %-12s %s  download with --download-model %s\n", rec.Name, a.colorize("missing", colorRed), rec.Name)
		}
	}

	if report.Ready {
		fmt.Fprintf(a.stdout, "ready: %s\n", a.colorize("yes", colorGreen))
	} else {
		fmt.Fprintf(a.stdout, "ready: %s  run \"%s --setup\"\n", a.colorize("no", colorRed), appName)
	}
	return nil
}

// installHint explains how to get a tool that cannot be downloaded here.
func installHint(a *app, tool domain.Tool) string {
	if _, ok := a.catalog.ResolveHost(tool); ok {
		return fmt.Sprintf("run \"%s --setup\" to download it", appName)
	}
	return catalog.InstallInstructions(tool, runtime.GOOS)
}

// runDownloadModel fetches one named model.
func (a *app) runDownloadModel(ctx context.Context, name string) error {
	rec, err := a.manager.AcquireModel(ctx, name, a.acquireProgress)
	if err != nil {
		return err
	}
	a.reporter.Info("model %s ready (%s, %s)", rec.Name, rec.Path, humanize.Bytes(uint64(rec.SizeBytes)))
	return nil
}

// runUpdate refreshes the managed tools that have upstream releases.
func (a *app) runUpdate(ctx context.Context) error {
	var updated int
	for _, tool := range []domain.Tool{domain.ToolFetcher, domain.ToolRuntime} {
		info, err := a.manager.CheckForUpdate(ctx, tool)
		if err != nil {
			a.reporter.Info("%s: update check failed: %v", tool, err)
			continue
		}
		if !info.Available {
			a.reporter.Info("%s %s is current", tool, info.LocalVersion)
			continue
		}

		a.reporter.Info("%s %s -> %s", tool, info.LocalVersion, info.LatestVersion)
		rec, err := a.manager.Update(ctx, tool, a.acquireProgress)
		if err != nil {
			return fmt.Errorf("update %s: %w", tool, err)
		}
		a.reporter.Info("%s updated (%s)", tool, rec.Path)
		updated++
	}

	if updated == 0 {
		a.reporter.Info("nothing to update")
	}
	return nil
}
