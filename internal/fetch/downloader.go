// Package fetch spawns and controls the media fetcher subprocess, turning
// its stdout stream into typed progress events.
package fetch

import (
	"bufio"
	"bytes"
	"context"
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

// killGracePeriod is how long a cancelled process gets to exit on its own
// before the escalation timer force-kills it.
const killGracePeriod = 5 * time.Second

// stderrTailLines bounds how much stderr is kept for failure reports.
const stderrTailLines = 20

// AudioStrategy selects how audio is extracted from the fetched media.
type AudioStrategy string

const (
	// AudioBest keeps whatever codec the source delivers.
	AudioBest AudioStrategy = "best"
	// AudioMP3 transcodes to mp3, the fixed always-compatible format.
	AudioMP3 AudioStrategy = "mp3"
	// AudioM4A prefers a native m4a stream and falls back to best available.
	AudioM4A AudioStrategy = "m4a"
)

// Job describes one fetch invocation. It lives only as long as the
// subprocess it is attached to.
type Job struct {
	ID            string
	URL           string
	OutputDir     string
	AudioOnly     bool
	AudioStrategy AudioStrategy
	Format        string // explicit format selector for full-media fetches
}

// NewJob assigns a fresh ID.
func NewJob(url, outputDir string) Job {
	return Job{ID: ksuid.New().String(), URL: url, OutputDir: outputDir}
}

// State is the controller's finite state machine. Paused is a reversible
// sub-state of Running; the other terminal states never transition again.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
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
	case StatePaused:
		return "paused"
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

// Downloader owns at most one fetcher subprocess at a time. Create one per
// job context; cross-job isolation comes from separate instances.
type Downloader struct {
	fetcherPath string
	runtimeDir  string // prepended to PATH so yt-dlp finds the JS runtime
	log         *logger.Logger

	mu         sync.Mutex
	state      State
	cmd        *exec.Cmd
	events     chan domain.Event
	jobID      string
	destPath   string
	stderrTail []string
	escalation *time.Timer
}

func NewDownloader(fetcherPath, runtimeDir string, log *logger.Logger) *Downloader {
	return &Downloader{
		fetcherPath: fetcherPath,
		runtimeDir:  runtimeDir,
		log:         log,
		state:       StateIdle,
	}
}

// State reports the current job state.
func (d *Downloader) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Start spawns the fetcher for one job and returns its event channel. The
// channel delivers progress in subprocess order, ends with exactly one
// terminal event, and is then closed; callers must drain it. Starting while
// a subprocess is attached is rejected with ErrBusy.
func (d *Downloader) Start(ctx context.Context, job Job) (<-chan domain.Event, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateRunning || d.state == StatePaused {
		return nil, domain.ErrBusy
	}

	args := buildFetchArgs(job)
	cmd := exec.CommandContext(ctx, d.fetcherPath, args...)
	cmd.Env = prependPath(os.Environ(), d.runtimeDir)
	cmd.Cancel = func() error { return proc.Terminate(cmd, false) }

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &domain.SpawnError{Binary: d.fetcherPath, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &domain.SpawnError{Binary: d.fetcherPath, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &domain.SpawnError{Binary: d.fetcherPath, Err: err}
	}

	d.log.Debug("fetch job %s: spawned %s (pid %d)", job.ID, d.fetcherPath, cmd.Process.Pid)

	events := make(chan domain.Event, 256)

	d.cmd = cmd
	d.state = StateRunning
	d.jobID = job.ID
	d.destPath = ""
	d.stderrTail = nil
	d.escalation = nil
	d.events = events

	var scanners sync.WaitGroup
	scanners.Add(2)
	go func() {
		defer scanners.Done()
		d.consumeStdout(stdout, events, job.ID)
	}()
	go func() {
		defer scanners.Done()
		d.consumeStderr(stderr, events)
	}()
	go d.waitForExit(cmd, job.ID, events, &scanners)

	return events, nil
}

// emit delivers one event unless the job no longer owns the controller:
// cancel detaches synchronously, and a successor job may already have
// attached its own channel.
func (d *Downloader) emit(events chan domain.Event, ev domain.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.events != events || d.state == StateCancelled {
		return
	}
	events <- ev
}

// consumeStdout parses progress lines and destination markers in emission
// order.
func (d *Downloader) consumeStdout(r io.Reader, events chan domain.Event, jobID string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		if progress, ok := parseProgressLine(line); ok {
			d.emit(events, domain.Event{Kind: domain.EventProgress, JobID: jobID, Progress: progress})
			continue
		}
		if path, ok := parseDestination(line); ok {
			d.mu.Lock()
			if d.events == events {
				d.destPath = path
			}
			d.mu.Unlock()
		}
	}
}

func (d *Downloader) consumeStderr(r io.Reader, events chan domain.Event) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		d.mu.Lock()
		if d.events == events {
			d.stderrTail = append(d.stderrTail, line)
			if len(d.stderrTail) > stderrTailLines {
				d.stderrTail = d.stderrTail[1:]
			}
		}
		d.mu.Unlock()
	}
}

// waitForExit reaps the process and emits the terminal event. It only
// touches the controller when its job still owns it: after a cancel a new
// job may have attached, and then this reaper's sole duty is to close the
// channel cancel already finished.
func (d *Downloader) waitForExit(cmd *exec.Cmd, jobID string, events chan domain.Event, scanners *sync.WaitGroup) {
	scanners.Wait()
	waitErr := cmd.Wait()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.events != events {
		close(events)
		return
	}

	if d.escalation != nil {
		d.escalation.Stop()
		d.escalation = nil
	}

	d.events = nil
	d.cmd = nil

	if d.state == StateCancelled {
		// Cancel emitted its event and detached; nothing more to say.
		close(events)
		return
	}

	if waitErr == nil {
		if d.destPath == "" {
			d.state = StateFailed
			events <- domain.Event{
				Kind:  domain.EventFailed,
				JobID: jobID,
				Err:   &domain.OutputNotFoundError{Expected: "destination reported by " + filepath.Base(d.fetcherPath)},
			}
		} else {
			d.state = StateCompleted
			events <- domain.Event{Kind: domain.EventCompleted, JobID: jobID, Path: d.destPath}
		}
		close(events)
		return
	}

	d.state = StateFailed
	var failure error
	if exitErr, ok := waitErr.(*exec.ExitError); ok {
		failure = &domain.ExitError{
			Binary: filepath.Base(d.fetcherPath),
			Code:   exitErr.ExitCode(),
			Stderr: strings.Join(d.stderrTail, "\n"),
		}
	} else {
		failure = &domain.SpawnError{Binary: d.fetcherPath, Err: waitErr}
	}
	events <- domain.Event{Kind: domain.EventFailed, JobID: jobID, Err: failure}
	close(events)
}

// Pause suspends the subprocess. A no-op unless the job is running.
func (d *Downloader) Pause() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateRunning {
		return nil
	}
	if !proc.PauseSupported {
		return domain.ErrPauseUnsupported
	}

	if err := proc.Suspend(d.cmd); err != nil {
		return err
	}
	d.state = StatePaused
	d.events <- domain.Event{Kind: domain.EventPaused, JobID: d.jobID}
	return nil
}

// Resume continues a paused subprocess. A no-op unless the job is paused.
func (d *Downloader) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StatePaused {
		return nil
	}

	if err := proc.Continue(d.cmd); err != nil {
		return err
	}
	d.state = StateRunning
	d.events <- domain.Event{Kind: domain.EventResumed, JobID: d.jobID}
	return nil
}

// Cancel terminates the job gracefully and detaches synchronously: once it
// returns, further Pause/Resume/Cancel calls are no-ops even if the OS
// process has not exited yet. An escalation timer verifies liveness after
// the grace period and force-kills exactly once if needed.
func (d *Downloader) Cancel() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateRunning && d.state != StatePaused {
		return nil
	}

	cmd := d.cmd
	paused := d.state == StatePaused
	if err := proc.Terminate(cmd, paused); err != nil {
		d.log.Warn("fetch job %s: terminate failed: %v", d.jobID, err)
	}

	d.state = StateCancelled
	d.events <- domain.Event{Kind: domain.EventCancelled, JobID: d.jobID}

	pid := cmd.Process.Pid
	d.escalation = time.AfterFunc(killGracePeriod, func() {
		// Never force-kill blindly: the process usually exits on its own.
		if proc.Alive(pid) {
			d.log.Warn("fetch job: pid %d ignored termination, force killing", pid)
			_ = proc.ForceKill(pid)
		}
	})

	return nil
}

// Title fetches the media title without downloading. Best effort; callers
// treat an error as "no title".
func (d *Downloader) Title(ctx context.Context, url string) (string, error) {
	cmd := exec.CommandContext(ctx, d.fetcherPath, "--no-playlist", "--get-title", url)
	cmd.Env = prependPath(os.Environ(), d.runtimeDir)

	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", err
	}
	title, _, _ := strings.Cut(strings.TrimSpace(out.String()), "\n")
	return title, nil
}

// buildFetchArgs maps job options onto the fetcher's CLI surface.
func buildFetchArgs(job Job) []string {
	args := []string{"--newline", "--no-playlist", "--progress-template", progressTemplate}

	if job.AudioOnly {
		switch job.AudioStrategy {
		case AudioMP3:
			args = append(args, "-x", "--audio-format", "mp3")
		case AudioM4A:
			args = append(args, "-f", "bestaudio[ext=m4a]/bestaudio", "-x", "--audio-format", "m4a")
		default:
			args = append(args, "-x")
		}
	} else if job.Format != "" {
		args = append(args, "-f", job.Format)
	}

	args = append(args, "-o", filepath.Join(job.OutputDir, "%(title)s.%(ext)s"))
	args = append(args, job.URL)
	return args
}

// prependPath puts dir at the front of PATH so the fetcher resolves the
// bundled JS runtime before any system copy.
func prependPath(env []string, dir string) []string {
	if dir == "" {
		return env
	}

	out := make([]string, 0, len(env)+1)
	found := false
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			out = append(out, "PATH="+dir+string(os.PathListSeparator)+strings.TrimPrefix(kv, "PATH="))
			found = true
			continue
		}
		out = append(out, kv)
	}
	if !found {
		out = append(out, "PATH="+dir)
	}
	return out
}
