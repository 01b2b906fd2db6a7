// Package transcribe spawns and controls the transcription engine,
// normalizing input audio through the transcoder when the engine cannot
// read it directly.
package transcribe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/mhagrelius/youtube-downloader/internal/domain"
	"github.com/mhagrelius/youtube-downloader/internal/infra/logger"
	"github.com/mhagrelius/youtube-downloader/internal/proc"
)

// killGracePeriod is how long a cancelled subprocess gets to exit before
// the escalation timer force-kills it.
const killGracePeriod = 5 * time.Second

const stderrTailLines = 20

// Format names a transcript output flavor.
type Format string

const (
	FormatText Format = "txt"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatText:
		return FormatText, nil
	case FormatSRT:
		return FormatSRT, nil
	case FormatVTT:
		return FormatVTT, nil
	default:
		return "", fmt.Errorf("output format %q: %w", s, domain.ErrInvalidArguments)
	}
}

// Ext is the transcript file extension, dot included.
func (f Format) Ext() string {
	return "." + string(f)
}

func (f Format) engineFlag() string {
	switch f {
	case FormatSRT:
		return "-osrt"
	case FormatVTT:
		return "-ovtt"
	default:
		return "-otxt"
	}
}

// directReadExtensions are containers the engine decodes without help from
// the transcoder.
var directReadExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
	".ogg":  true,
}

// Job describes one transcription invocation.
type Job struct {
	ID        string
	AudioPath string
	OutputDir string
	Format    Format
	Language  string // empty or "auto" means engine auto-detect
	ModelPath string
}

// NewJob assigns a fresh ID.
func NewJob(audioPath, outputDir string, format Format) Job {
	return Job{ID: ksuid.New().String(), AudioPath: audioPath, OutputDir: outputDir, Format: format}
}

// State is the controller's finite state machine. Transcription has no
// pause capability.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Transcriber owns at most one subprocess at a time, first the optional
// transcoder normalization step and then the engine itself.
type Transcriber struct {
	enginePath     string
	transcoderPath string // empty when the transcoder is not installed
	log            *logger.Logger

	mu          sync.Mutex
	state       State
	cmd         *exec.Cmd
	events      chan domain.Event
	jobID       string
	lastPercent float64
	stderrTail  []string
	escalation  *time.Timer
}

func NewTranscriber(enginePath, transcoderPath string, log *logger.Logger) *Transcriber {
	return &Transcriber{
		enginePath:     enginePath,
		transcoderPath: transcoderPath,
		log:            log,
		state:          StateIdle,
	}
}

// State reports the current job state.
func (t *Transcriber) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start validates the job and begins transcription. The returned channel
// delivers progress events in subprocess order, ends with exactly one
// terminal event, and is then closed; callers must drain it. Starting while
// a subprocess is attached is rejected with ErrBusy.
func (t *Transcriber) Start(ctx context.Context, job Job) (<-chan domain.Event, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateRunning {
		return nil, domain.ErrBusy
	}

	if info, err := os.Stat(job.AudioPath); err != nil {
		return nil, fmt.Errorf("input audio %s: %w", job.AudioPath, err)
	} else if info.IsDir() {
		return nil, fmt.Errorf("input audio %s is a directory: %w", job.AudioPath, domain.ErrInvalidArguments)
	}
	if job.ModelPath == "" {
		return nil, fmt.Errorf("model path is required: %w", domain.ErrInvalidArguments)
	}
	if job.Format == "" {
		job.Format = FormatText
	}

	events := make(chan domain.Event, 256)

	t.state = StateRunning
	t.jobID = job.ID
	t.lastPercent = 0
	t.stderrTail = nil
	t.escalation = nil
	t.events = events

	go t.run(ctx, job, events)

	return events, nil
}

// run executes the job and emits the terminal event last, after every
// temporary artifact has been cleaned up.
func (t *Transcriber) run(ctx context.Context, job Job, events chan domain.Event) {
	ev, state := t.execute(ctx, job, events)
	t.finish(events, ev, state)
}

// detached reports whether the job lost the controller: cancelled, or a
// successor job already attached its own channel.
func (t *Transcriber) detached(events chan domain.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events != events || t.state == StateCancelled
}

// execute drives the whole job: duration probe, optional normalization,
// engine invocation, and output resolution.
func (t *Transcriber) execute(ctx context.Context, job Job, events chan domain.Event) (domain.Event, State) {
	duration := probeDuration(ctx, t.transcoderPath, job.AudioPath)

	if t.detached(events) {
		return domain.Event{}, StateCancelled
	}

	audioPath := job.AudioPath
	if !directReadExtensions[strings.ToLower(filepath.Ext(audioPath))] {
		workDir, err := os.MkdirTemp("", "ytscribe-audio-*")
		if err != nil {
			return t.failed(job.ID, err)
		}
		// the intermediate is gone on every exit path, cancel included
		defer os.RemoveAll(workDir)

		normalized := filepath.Join(workDir, "normalized-16k-mono.wav")
		if err := t.normalize(ctx, audioPath, normalized, events); err != nil {
			if errors.Is(err, domain.ErrCancelled) {
				return domain.Event{}, StateCancelled
			}
			return t.failed(job.ID, err)
		}
		audioPath = normalized
	}

	if t.detached(events) {
		return domain.Event{}, StateCancelled
	}

	base := strings.TrimSuffix(filepath.Base(job.AudioPath), filepath.Ext(job.AudioPath))
	outBase := filepath.Join(job.OutputDir, base)
	args := buildEngineArgs(job.ModelPath, audioPath, outBase, job.Format, job.Language)

	cmd := exec.CommandContext(ctx, t.enginePath, args...)
	cmd.Cancel = func() error { return proc.Terminate(cmd, false) }

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return t.failed(job.ID, &domain.SpawnError{Binary: t.enginePath, Err: err})
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return t.failed(job.ID, &domain.SpawnError{Binary: t.enginePath, Err: err})
	}
	if err := cmd.Start(); err != nil {
		return t.failed(job.ID, &domain.SpawnError{Binary: t.enginePath, Err: err})
	}

	t.log.Debug("transcribe job %s: spawned %s (pid %d)", job.ID, t.enginePath, cmd.Process.Pid)

	t.mu.Lock()
	if t.events == events && t.state != StateCancelled {
		t.cmd = cmd
	} else {
		// cancel raced the spawn; make sure the process still gets the signal
		_ = proc.Terminate(cmd, false)
	}
	t.mu.Unlock()

	var scanners sync.WaitGroup
	scanners.Add(2)
	go func() {
		defer scanners.Done()
		t.consume(stdout, duration, false, events)
	}()
	go func() {
		defer scanners.Done()
		t.consume(stderr, duration, true, events)
	}()
	scanners.Wait()
	waitErr := cmd.Wait()

	if waitErr != nil {
		t.mu.Lock()
		tail := strings.Join(t.stderrTail, "\n")
		t.mu.Unlock()

		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			return t.failed(job.ID, &domain.ExitError{
				Binary: filepath.Base(t.enginePath),
				Code:   exitErr.ExitCode(),
				Stderr: tail,
			})
		}
		return t.failed(job.ID, &domain.SpawnError{Binary: t.enginePath, Err: waitErr})
	}

	path, err := resolveOutput(job.OutputDir, base, job.Format.Ext())
	if err != nil {
		return t.failed(job.ID, err)
	}
	return domain.Event{Kind: domain.EventCompleted, JobID: job.ID, Path: path}, StateCompleted
}

// normalize transcodes the source to the 16 kHz mono wav the engine needs.
func (t *Transcriber) normalize(ctx context.Context, inputPath, outPath string, events chan domain.Event) error {
	if t.transcoderPath == "" {
		return &domain.SpawnError{
			Binary: "ffmpeg",
			Err:    fmt.Errorf("transcoder required to convert %s", filepath.Ext(inputPath)),
		}
	}

	cmd := exec.CommandContext(ctx, t.transcoderPath,
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	)
	cmd.Cancel = func() error { return proc.Terminate(cmd, false) }

	t.mu.Lock()
	if t.events != events || t.state == StateCancelled {
		t.mu.Unlock()
		return domain.ErrCancelled
	}
	t.cmd = cmd
	t.mu.Unlock()

	out, err := cmd.CombinedOutput()

	t.mu.Lock()
	if t.cmd == cmd {
		t.cmd = nil
	}
	t.mu.Unlock()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &domain.ExitError{
				Binary: filepath.Base(t.transcoderPath),
				Code:   exitErr.ExitCode(),
				Stderr: tailOf(string(out)),
			}
		}
		return &domain.SpawnError{Binary: t.transcoderPath, Err: err}
	}

	if _, err := os.Stat(outPath); err != nil {
		return &domain.OutputNotFoundError{Expected: outPath}
	}
	return nil
}

// consume parses one engine stream. Both streams carry progress depending
// on the engine build; stderr additionally feeds the failure tail.
func (t *Transcriber) consume(r io.Reader, duration float64, keepTail bool, events chan domain.Event) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if keepTail {
			t.mu.Lock()
			if t.events == events {
				t.stderrTail = append(t.stderrTail, line)
				if len(t.stderrTail) > stderrTailLines {
					t.stderrTail = t.stderrTail[1:]
				}
			}
			t.mu.Unlock()
		}

		if percent, ok := parseEnginePercent(line); ok {
			t.emitProgress(events, percent)
			continue
		}
		if end, ok := parseSegmentEnd(line); ok {
			t.emitProgress(events, heuristicPercent(end, duration))
		}
	}
}

// emitProgress forwards monotonically increasing percentages; the two
// progress sources interleave and must never move the bar backwards.
func (t *Transcriber) emitProgress(events chan domain.Event, percent float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.events != events || t.state == StateCancelled || percent <= t.lastPercent {
		return
	}
	t.lastPercent = percent
	events <- domain.Event{
		Kind:     domain.EventProgress,
		JobID:    t.jobID,
		Progress: domain.Progress{Percent: percent},
	}
}

func (t *Transcriber) failed(jobID string, err error) (domain.Event, State) {
	return domain.Event{Kind: domain.EventFailed, JobID: jobID, Err: err}, StateFailed
}

// finish emits the terminal event and closes the channel. It only touches
// the controller when its job still owns it: after a cancel a successor job
// may have attached, and then the sole duty left is to close the channel
// cancel already finished.
func (t *Transcriber) finish(events chan domain.Event, ev domain.Event, next State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.events != events {
		close(events)
		return
	}

	if t.escalation != nil {
		t.escalation.Stop()
		t.escalation = nil
	}

	t.events = nil
	t.cmd = nil

	if t.state == StateCancelled {
		close(events)
		return
	}

	t.state = next
	events <- ev
	close(events)
}

// Cancel terminates the job and detaches synchronously. The normalization
// intermediate, if any, is removed by the run goroutine on its way out.
func (t *Transcriber) Cancel() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateRunning {
		return nil
	}

	cmd := t.cmd
	if cmd != nil && cmd.Process != nil {
		if err := proc.Terminate(cmd, false); err != nil {
			t.log.Warn("transcribe job %s: terminate failed: %v", t.jobID, err)
		}

		pid := cmd.Process.Pid
		t.escalation = time.AfterFunc(killGracePeriod, func() {
			if proc.Alive(pid) {
				t.log.Warn("transcribe job: pid %d ignored termination, force killing", pid)
				_ = proc.ForceKill(pid)
			}
		})
	}

	t.state = StateCancelled
	t.events <- domain.Event{Kind: domain.EventCancelled, JobID: t.jobID}
	return nil
}

// buildEngineArgs maps job options onto the engine's CLI surface.
func buildEngineArgs(modelPath, audioPath, outBase string, format Format, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		format.engineFlag(),
	}
	if lang := strings.TrimSpace(language); lang != "" && !strings.EqualFold(lang, "auto") {
		args = append(args, "-l", lang)
	}
	return append(args, "--print-progress")
}

// tailOf keeps the last few lines of a combined-output dump.
func tailOf(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) > stderrTailLines {
		lines = lines[len(lines)-stderrTailLines:]
	}
	return strings.Join(lines, "\n")
}
