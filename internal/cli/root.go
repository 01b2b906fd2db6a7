// Package cli implements the ytscribe command surface: one root command
// with mode flags for setup, diagnostics, model downloads, and updates.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mhagrelius/youtube-downloader/internal/binman"
	"github.com/mhagrelius/youtube-downloader/internal/catalog"
	"github.com/mhagrelius/youtube-downloader/internal/domain"
	"github.com/mhagrelius/youtube-downloader/internal/fetch"
	"github.com/mhagrelius/youtube-downloader/internal/infra/config"
	"github.com/mhagrelius/youtube-downloader/internal/infra/logger"
	"github.com/mhagrelius/youtube-downloader/internal/pipeline"
	"github.com/mhagrelius/youtube-downloader/internal/platform"
	"github.com/mhagrelius/youtube-downloader/internal/transcribe"
)

const appName = "ytscribe"

type options struct {
	output        string
	format        string
	audioFormat   string
	model         string
	language      string
	keepAudio     bool
	audioDir      string
	quiet         bool
	verbose       bool
	jsonOut       bool
	noColor       bool
	setup         bool
	check         bool
	downloadModel string
	update        bool
}

// app carries the wired dependencies for one invocation.
type app struct {
	opts     *options
	paths    platform.Paths
	cfg      *config.Config
	log      *logger.Logger
	catalog  *catalog.Catalog
	manager  *binman.Manager
	reporter pipeline.Reporter
	stdout   io.Writer
	stderr   io.Writer
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd(os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		return pipeline.ExitCodeFor(err)
	}
	return pipeline.ExitOK
}

// NewRootCmd builds the root command. Writers are injectable for tests.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   appName + " [flags] <url>",
		Short: "Download media and transcribe it locally",
		Long: appName + ` fetches the audio of a video URL with yt-dlp and
transcribes it on this machine with whisper.cpp. The transcript is the only
thing written to stdout; progress goes to stderr.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args, stdout, stderr)
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%v: %w", err, domain.ErrInvalidArguments)
	})

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "", "write the transcript to this path instead of stdout")
	f.StringVar(&opts.format, "format", "", "transcript format: txt, srt or vtt")
	f.StringVar(&opts.audioFormat, "audio-format", "", "audio extraction: mp3, m4a or best")
	f.StringVar(&opts.model, "model", "", "whisper model size: tiny, base, small or medium")
	f.StringVar(&opts.language, "language", "", "spoken language code, or auto to detect")
	f.BoolVar(&opts.keepAudio, "keep-audio", false, "keep the downloaded audio after transcribing")
	f.StringVar(&opts.audioDir, "audio-dir", "", "directory for kept audio (implies --keep-audio)")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "suppress progress output")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	f.BoolVar(&opts.jsonOut, "json", false, "machine-readable progress and result")
	f.BoolVar(&opts.noColor, "no-color", false, "disable colored status output")
	f.BoolVar(&opts.setup, "setup", false, "download the required external tools and exit")
	f.BoolVar(&opts.check, "check", false, "report tool and model status and exit")
	f.StringVar(&opts.downloadModel, "download-model", "", "download the named whisper model and exit")
	f.BoolVar(&opts.update, "update", false, "update managed tools to their latest releases and exit")

	return cmd
}

func run(ctx context.Context, opts *options, args []string, stdout, stderr io.Writer) error {
	paths := platform.Resolve(platform.ModeCLI)
	dataDir := filepath.Dir(paths.BinDir)

	cfg, err := config.Load(dataDir)
	if err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrInvalidArguments)
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	level := logger.ParseLevel(cfg.Log.Level)
	if opts.verbose {
		level = logger.LevelDebug
	}
	log, err := logger.New(paths.LogFile(), level, cfg.Log.IncludeStderr)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	a := &app{
		opts:    opts,
		paths:   paths,
		cfg:     cfg,
		log:     log,
		catalog: catalog.New(),
		stdout:  stdout,
		stderr:  stderr,
	}
	a.manager = binman.New(paths, a.catalog, log)

	if opts.jsonOut {
		a.reporter = newJSONReporter(stderr)
	} else {
		text := newTextReporter(stderr, opts.quiet)
		defer text.Done()
		a.reporter = text
	}

	switch {
	case opts.setup:
		return a.runSetup(ctx)
	case opts.check:
		return a.runCheck(ctx)
	case opts.downloadModel != "":
		return a.runDownloadModel(ctx, opts.downloadModel)
	case opts.update:
		return a.runUpdate(ctx)
	}

	if len(args) != 1 {
		return fmt.Errorf("a media URL is required: %w", domain.ErrInvalidArguments)
	}
	return a.runTranscribe(ctx, args[0])
}

func (a *app) runTranscribe(ctx context.Context, url string) error {
	format, err := transcribe.ParseFormat(fallback(a.opts.format, a.cfg.Output.Format))
	if err != nil {
		return err
	}
	strategy, err := parseAudioStrategy(fallback(a.opts.audioFormat, a.cfg.Output.AudioFormat))
	if err != nil {
		return err
	}

	p := pipeline.New(a.paths, a.manager, a.log, a.reporter)
	result, err := p.Run(ctx, pipeline.Options{
		URL:         url,
		OutputPath:  a.opts.output,
		Format:      format,
		AudioFormat: strategy,
		Model:       fallback(a.opts.model, a.cfg.Transcribe.Model),
		Language:    fallback(a.opts.language, a.cfg.Transcribe.Language),
		KeepAudio:   a.opts.keepAudio || a.opts.audioDir != "",
		AudioDir:    a.opts.audioDir,
	})
	if err != nil {
		return err
	}

	if a.opts.jsonOut {
		return json.NewEncoder(a.stdout).Encode(result)
	}
	if a.opts.output == "" {
		transcript := result.Transcript
		if transcript != "" && !strings.HasSuffix(transcript, "\n") {
			transcript += "\n"
		}
		fmt.Fprint(a.stdout, transcript)
	} else {
		a.reporter.Info("transcript written to %s", result.TranscriptPath)
	}
	return nil
}

func parseAudioStrategy(s string) (fetch.AudioStrategy, error) {
	switch fetch.AudioStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case fetch.AudioMP3:
		return fetch.AudioMP3, nil
	case fetch.AudioM4A:
		return fetch.AudioM4A, nil
	case fetch.AudioBest, "":
		return fetch.AudioBest, nil
	default:
		return "", fmt.Errorf("audio format %q: %w", s, domain.ErrInvalidArguments)
	}
}

func fallback(flag, cfg string) string {
	if flag != "" {
		return flag
	}
	return cfg
}
