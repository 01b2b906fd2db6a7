// Package pipeline chains the download and transcription controllers into
// the one-shot "fetch media, produce transcript" flow behind the CLI.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mhagrelius/youtube-downloader/internal/binman"
	"github.com/mhagrelius/youtube-downloader/internal/domain"
	"github.com/mhagrelius/youtube-downloader/internal/fetch"
	"github.com/mhagrelius/youtube-downloader/internal/infra/logger"
	"github.com/mhagrelius/youtube-downloader/internal/platform"
	"github.com/mhagrelius/youtube-downloader/internal/transcribe"
)

// Reporter receives side-channel progress. The primary output of a run is
// the transcript alone; everything here goes elsewhere (stderr, JSON lines).
type Reporter interface {
	Stage(name string)
	Progress(stage string, p domain.Progress)
	Info(format string, args ...any)
}

// NopReporter discards all progress.
type NopReporter struct{}

func (NopReporter) Stage(string)                     {}
func (NopReporter) Progress(string, domain.Progress) {}
func (NopReporter) Info(string, ...any)              {}

// Options configures one end-to-end run.
type Options struct {
	URL         string
	OutputPath  string // transcript destination; empty means stdout only
	Format      transcribe.Format
	AudioFormat fetch.AudioStrategy
	Model       string
	Language    string
	KeepAudio   bool
	AudioDir    string // defaults to the platform output dir
}

// Result is what a successful run produced.
type Result struct {
	URL            string `json:"url"`
	Title          string `json:"title,omitempty"`
	Format         string `json:"format"`
	Transcript     string `json:"transcript,omitempty"`
	TranscriptPath string `json:"transcriptPath,omitempty"`
	AudioPath      string `json:"audioPath,omitempty"`
}

// Pipeline wires the managers and controllers for the CLI entry point.
type Pipeline struct {
	paths    platform.Paths
	manager  *binman.Manager
	log      *logger.Logger
	reporter Reporter
}

func New(paths platform.Paths, manager *binman.Manager, log *logger.Logger, reporter Reporter) *Pipeline {
	if reporter == nil {
		reporter = NopReporter{}
	}
	return &Pipeline{paths: paths, manager: manager, log: log, reporter: reporter}
}

// Run fetches the media at opts.URL as audio and transcribes it. Every
// temporary artifact lives in one per-job directory removed on all exit
// paths.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("media URL is required: %w", domain.ErrInvalidArguments)
	}
	if opts.Format == "" {
		opts.Format = transcribe.FormatText
	}

	status := p.manager.StatusOfAll(ctx)
	if !status.Ready {
		var missing []domain.Tool
		for _, tool := range domain.RequiredTools {
			if rec, ok := status.Record(tool); !ok || !rec.Ready() {
				missing = append(missing, tool)
			}
		}
		return nil, &SetupError{Missing: missing}
	}

	p.reporter.Stage(StageSetup)
	enginePath, modelPath, err := p.manager.EnsureTranscriptionReady(ctx, opts.Model, p.acquireProgress)
	if err != nil {
		return nil, &StageError{Stage: StageSetup, Err: err}
	}

	fetcherRec, _ := status.Record(domain.ToolFetcher)
	runtimeRec, _ := status.Record(domain.ToolRuntime)
	transcoderPath := ""
	if rec, ok := status.Record(domain.ToolTranscoder); ok && rec.Ready() {
		transcoderPath = rec.Path
	}

	dl := fetch.NewDownloader(fetcherRec.Path, filepath.Dir(runtimeRec.Path), p.log)

	// best effort; a title is nice to show but never worth failing over
	title, err := dl.Title(ctx, opts.URL)
	if err != nil {
		p.log.Debug("title probe failed: %v", err)
		title = ""
	} else if title != "" {
		p.reporter.Info("title: %s", title)
	}

	if err := os.MkdirAll(p.paths.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	workDir, err := os.MkdirTemp(p.paths.TempDir, "job-*")
	if err != nil {
		return nil, fmt.Errorf("create job workspace: %w", err)
	}
	defer os.RemoveAll(workDir)

	p.reporter.Stage(StageDownload)
	audioPath, err := p.download(ctx, dl, opts, workDir)
	if err != nil {
		return nil, err
	}

	p.reporter.Stage(StageTranscribe)
	transcriptPath, err := p.transcribe(ctx, opts, enginePath, transcoderPath, modelPath, audioPath, workDir)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(transcriptPath)
	if err != nil {
		return nil, &StageError{Stage: StageTranscribe, Err: err}
	}

	result := &Result{
		URL:        opts.URL,
		Title:      title,
		Format:     string(opts.Format),
		Transcript: string(content),
	}

	if opts.KeepAudio {
		destDir := opts.AudioDir
		if destDir == "" {
			destDir = p.paths.OutputDir
		}
		kept, err := copyOut(audioPath, destDir)
		if err != nil {
			return nil, fmt.Errorf("keep audio: %w", err)
		}
		result.AudioPath = kept
		p.reporter.Info("kept audio: %s", kept)
	}

	if opts.OutputPath != "" {
		if err := writeTranscript(transcriptPath, opts.OutputPath); err != nil {
			return nil, fmt.Errorf("write transcript: %w", err)
		}
		result.TranscriptPath = opts.OutputPath
	}

	return result, nil
}

// download runs the fetcher against the job workspace and returns the
// produced audio file.
func (p *Pipeline) download(ctx context.Context, dl *fetch.Downloader, opts Options, workDir string) (string, error) {
	job := fetch.NewJob(opts.URL, workDir)
	job.AudioOnly = true
	job.AudioStrategy = opts.AudioFormat

	events, err := dl.Start(ctx, job)
	if err != nil {
		return "", &StageError{Stage: StageDownload, Err: err}
	}

	var audioPath string
	for ev := range events {
		switch ev.Kind {
		case domain.EventProgress:
			p.reporter.Progress(StageDownload, ev.Progress)
		case domain.EventCompleted:
			audioPath = ev.Path
		case domain.EventFailed:
			return "", &StageError{Stage: StageDownload, Err: ev.Err}
		case domain.EventCancelled:
			return "", &StageError{Stage: StageDownload, Err: cancelErr(ctx)}
		}
	}
	if audioPath == "" {
		return "", &StageError{Stage: StageDownload, Err: &domain.OutputNotFoundError{Expected: "downloaded audio"}}
	}
	return audioPath, nil
}

// transcribe runs the engine against the downloaded audio and returns the
// transcript path inside the workspace.
func (p *Pipeline) transcribe(ctx context.Context, opts Options, enginePath, transcoderPath, modelPath, audioPath, workDir string) (string, error) {
	tr := transcribe.NewTranscriber(enginePath, transcoderPath, p.log)

	job := transcribe.NewJob(audioPath, workDir, opts.Format)
	job.Language = opts.Language
	job.ModelPath = modelPath

	events, err := tr.Start(ctx, job)
	if err != nil {
		return "", &StageError{Stage: StageTranscribe, Err: err}
	}

	var transcriptPath string
	for ev := range events {
		switch ev.Kind {
		case domain.EventProgress:
			p.reporter.Progress(StageTranscribe, ev.Progress)
		case domain.EventCompleted:
			transcriptPath = ev.Path
		case domain.EventFailed:
			return "", &StageError{Stage: StageTranscribe, Err: ev.Err}
		case domain.EventCancelled:
			return "", &StageError{Stage: StageTranscribe, Err: cancelErr(ctx)}
		}
	}
	if transcriptPath == "" {
		return "", &StageError{Stage: StageTranscribe, Err: &domain.OutputNotFoundError{Expected: "transcript"}}
	}
	return transcriptPath, nil
}

func (p *Pipeline) acquireProgress(tool string, downloaded, total int64) {
	p.reporter.Progress(StageSetup, domain.Progress{
		Percent:         percentOf(downloaded, total),
		DownloadedBytes: downloaded,
		TotalBytes:      total,
	})
}

// cancelErr explains a cancelled job: the context reason when there is one,
// otherwise the explicit cancellation sentinel.
func cancelErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return domain.ErrCancelled
}

func percentOf(done, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}

// copyOut copies src into destDir, keeping the base name.
func copyOut(src, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(destDir, filepath.Base(src))

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}

// writeTranscript relocates the transcript to the requested path, creating
// parent directories as needed.
func writeTranscript(src, dest string) error {
	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	content, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, content, 0o644)
}
