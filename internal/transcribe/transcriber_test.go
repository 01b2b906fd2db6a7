//go:build !windows

package transcribe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mhagrelius/youtube-downloader/internal/domain"
	"github.com/mhagrelius/youtube-downloader/internal/infra/logger"
)

// writeScript drops a fake executable into a temp dir.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-tool")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeEngineScript parses the -f and -of flags the way the real engine
// does, writes the transcript, and records the audio path it was given.
const fakeEngineScript = `
audio=""
base=""
prev=""
for a in "$@"; do
  case "$prev" in
    -f) audio="$a" ;;
    -of) base="$a" ;;
  esac
  prev="$a"
done
echo "progress =  25%" 1>&2
echo "[00:00:00.000 --> 00:00:05.000]  first segment"
echo "progress = 100%" 1>&2
printf '%s\n' "$audio" > "$base.txt"
`

// fakeTranscoderScript writes a stub wav to its final argument.
const fakeTranscoderScript = `
for a in "$@"; do out="$a"; done
echo "stub pcm" > "$out"
`

func writeAudio(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("not really audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeModel(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ggml-base.bin")
	if err := os.WriteFile(path, []byte("weights"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func drainEvents(t *testing.T, ch <-chan domain.Event) []domain.Event {
	t.Helper()
	var events []domain.Event
	timeout := time.After(15 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("event channel not closed; got %d events so far", len(events))
		}
	}
}

func TestStartDirectReadableAudioCompletes(t *testing.T) {
	engine := writeScript(t, fakeEngineScript)
	outDir := t.TempDir()
	audio := writeAudio(t, "clip.wav")

	tr := NewTranscriber(engine, "", logger.Discard())
	job := NewJob(audio, outDir, FormatText)
	job.ModelPath = writeModel(t)

	ch, err := tr.Start(context.Background(), job)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := drainEvents(t, ch)
	last := events[len(events)-1]
	if last.Kind != domain.EventCompleted {
		t.Fatalf("terminal kind = %v (err %v), want completed", last.Kind, last.Err)
	}
	want := filepath.Join(outDir, "clip.txt")
	if last.Path != want {
		t.Fatalf("transcript path = %q, want %q", last.Path, want)
	}
	if tr.State() != StateCompleted {
		t.Fatalf("state = %v, want completed", tr.State())
	}

	// direct-readable input goes to the engine untouched
	content, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(content)) != audio {
		t.Fatalf("engine received audio %q, want original %q", strings.TrimSpace(string(content)), audio)
	}

	var lastPercent float64
	for _, ev := range events[:len(events)-1] {
		if ev.Kind != domain.EventProgress {
			t.Fatalf("non-terminal kind = %v, want progress", ev.Kind)
		}
		if ev.Progress.Percent <= lastPercent {
			t.Fatalf("progress went from %v to %v, want strictly increasing", lastPercent, ev.Progress.Percent)
		}
		lastPercent = ev.Progress.Percent
	}
	if lastPercent != 100 {
		t.Fatalf("final progress = %v, want 100", lastPercent)
	}
}

func TestStartUnsupportedContainerIsNormalizedFirst(t *testing.T) {
	engine := writeScript(t, fakeEngineScript)
	transcoder := writeScript(t, fakeTranscoderScript)
	outDir := t.TempDir()
	audio := writeAudio(t, "clip.webm")

	t.Setenv("TMPDIR", t.TempDir())

	tr := NewTranscriber(engine, transcoder, logger.Discard())
	job := NewJob(audio, outDir, FormatText)
	job.ModelPath = writeModel(t)

	ch, err := tr.Start(context.Background(), job)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := drainEvents(t, ch)
	last := events[len(events)-1]
	if last.Kind != domain.EventCompleted {
		t.Fatalf("terminal kind = %v (err %v), want completed", last.Kind, last.Err)
	}

	// the engine must have been fed the intermediate, named after the
	// original input
	content, err := os.ReadFile(last.Path)
	if err != nil {
		t.Fatal(err)
	}
	fed := strings.TrimSpace(string(content))
	if !strings.HasSuffix(fed, "normalized-16k-mono.wav") {
		t.Fatalf("engine received %q, want the normalized intermediate", fed)
	}
	if filepath.Base(last.Path) != "clip.txt" {
		t.Fatalf("transcript named %q, want clip.txt", filepath.Base(last.Path))
	}

	// the intermediate and its workspace are gone after success
	if _, err := os.Stat(fed); !os.IsNotExist(err) {
		t.Fatalf("intermediate %s still on disk (stat err %v)", fed, err)
	}
	leftovers, err := os.ReadDir(os.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("temp dir not empty after run: %v", leftovers)
	}
}

func TestStartFailedRunStillRemovesIntermediate(t *testing.T) {
	engine := writeScript(t, `echo "whisper_init: failed to load model" 1>&2; exit 3`)
	transcoder := writeScript(t, fakeTranscoderScript)
	audio := writeAudio(t, "clip.webm")

	t.Setenv("TMPDIR", t.TempDir())

	tr := NewTranscriber(engine, transcoder, logger.Discard())
	job := NewJob(audio, t.TempDir(), FormatText)
	job.ModelPath = writeModel(t)

	ch, err := tr.Start(context.Background(), job)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := drainEvents(t, ch)
	last := events[len(events)-1]
	if last.Kind != domain.EventFailed {
		t.Fatalf("terminal kind = %v, want failed", last.Kind)
	}

	var exitErr *domain.ExitError
	if !errors.As(last.Err, &exitErr) {
		t.Fatalf("err = %v (%T), want ExitError", last.Err, last.Err)
	}
	if exitErr.Code != 3 {
		t.Errorf("exit code = %d, want 3", exitErr.Code)
	}
	if !strings.Contains(exitErr.Stderr, "failed to load model") {
		t.Errorf("stderr tail %q missing engine diagnostic", exitErr.Stderr)
	}

	leftovers, err := os.ReadDir(os.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("temp dir not empty after failed run: %v", leftovers)
	}
}

func TestStartUnsupportedContainerWithoutTranscoderFails(t *testing.T) {
	engine := writeScript(t, fakeEngineScript)
	audio := writeAudio(t, "clip.webm")

	tr := NewTranscriber(engine, "", logger.Discard())
	job := NewJob(audio, t.TempDir(), FormatText)
	job.ModelPath = writeModel(t)

	ch, err := tr.Start(context.Background(), job)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := drainEvents(t, ch)
	var spawn *domain.SpawnError
	if !errors.As(events[len(events)-1].Err, &spawn) {
		t.Fatalf("err = %v, want SpawnError naming the transcoder", events[len(events)-1].Err)
	}
}

func TestStartCleanExitWithoutTranscriptFails(t *testing.T) {
	engine := writeScript(t, `exit 0`)
	audio := writeAudio(t, "clip.wav")

	tr := NewTranscriber(engine, "", logger.Discard())
	job := NewJob(audio, t.TempDir(), FormatText)
	job.ModelPath = writeModel(t)

	ch, err := tr.Start(context.Background(), job)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	events := drainEvents(t, ch)
	var notFound *domain.OutputNotFoundError
	if !errors.As(events[len(events)-1].Err, &notFound) {
		t.Fatalf("err = %v, want OutputNotFoundError", events[len(events)-1].Err)
	}
}

func TestResolveOutputAmbiguousMatchesFail(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"clip.en.txt", "clip.auto.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	_, err := resolveOutput(dir, "clip", ".txt")
	var notFound *domain.OutputNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("err = %v, want OutputNotFoundError", err)
	}
	if len(notFound.Matches) != 2 {
		t.Fatalf("matches = %v, want both ambiguous candidates", notFound.Matches)
	}
}

func TestResolveOutputPrefixFallback(t *testing.T) {
	dir := t.TempDir()
	want := filepath.Join(dir, "clip.en.txt")
	if err := os.WriteFile(want, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := resolveOutput(dir, "clip", ".txt")
	if err != nil {
		t.Fatalf("resolveOutput: %v", err)
	}
	if got != want {
		t.Fatalf("resolved %q, want %q", got, want)
	}
}

func TestStartWhileRunningReturnsBusy(t *testing.T) {
	engine := writeScript(t, `exec sleep 10`)
	audio := writeAudio(t, "clip.wav")

	tr := NewTranscriber(engine, "", logger.Discard())
	job := NewJob(audio, t.TempDir(), FormatText)
	job.ModelPath = writeModel(t)

	ch, err := tr.Start(context.Background(), job)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := tr.Start(context.Background(), job); !errors.Is(err, domain.ErrBusy) {
		t.Fatalf("second Start err = %v, want ErrBusy", err)
	}

	if err := tr.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	drainEvents(t, ch)
}

func TestCancelDetachesSynchronously(t *testing.T) {
	engine := writeScript(t, `exec sleep 10`)
	audio := writeAudio(t, "clip.wav")

	tr := NewTranscriber(engine, "", logger.Discard())
	job := NewJob(audio, t.TempDir(), FormatText)
	job.ModelPath = writeModel(t)

	ch, err := tr.Start(context.Background(), job)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// wait until the engine is attached before cancelling
	deadline := time.Now().Add(10 * time.Second)
	for tr.State() == StateRunning {
		tr.mu.Lock()
		attached := tr.cmd != nil
		tr.mu.Unlock()
		if attached {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("engine never attached")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := tr.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if tr.State() != StateCancelled {
		t.Fatalf("state = %v, want cancelled", tr.State())
	}
	if err := tr.Cancel(); err != nil {
		t.Errorf("second Cancel: %v", err)
	}

	events := drainEvents(t, ch)
	var cancelled int
	for _, ev := range events {
		if ev.Kind == domain.EventCancelled {
			cancelled++
		}
	}
	if cancelled != 1 {
		t.Fatalf("cancelled events = %d, want exactly 1", cancelled)
	}
}

func TestStartAfterCancelLeavesNewJobUndisturbed(t *testing.T) {
	// The first engine invocation ignores the termination signal and
	// lingers, so its run goroutine is still alive while the second job runs.
	engine := writeScript(t, `
audio=""
base=""
prev=""
for a in "$@"; do
  case "$prev" in
    -f) audio="$a" ;;
    -of) base="$a" ;;
  esac
  prev="$a"
done
case "$audio" in
*linger*)
	trap '' TERM
	sleep 2
	exit 1
	;;
esac
echo "transcribed" > "$base.txt"
`)
	tr := NewTranscriber(engine, "", logger.Discard())

	job1 := NewJob(writeAudio(t, "linger.wav"), t.TempDir(), FormatText)
	job1.ModelPath = writeModel(t)
	ch1, err := tr.Start(context.Background(), job1)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// wait until the engine is attached before cancelling
	deadline := time.Now().Add(10 * time.Second)
	for tr.State() == StateRunning {
		tr.mu.Lock()
		attached := tr.cmd != nil
		tr.mu.Unlock()
		if attached {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("engine never attached")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := tr.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	outDir := t.TempDir()
	job2 := NewJob(writeAudio(t, "clip.wav"), outDir, FormatText)
	job2.ModelPath = writeModel(t)
	ch2, err := tr.Start(context.Background(), job2)
	if err != nil {
		t.Fatalf("restart after cancel: %v", err)
	}

	events2 := drainEvents(t, ch2)
	last := events2[len(events2)-1]
	if last.Kind != domain.EventCompleted {
		t.Fatalf("second job terminal = %+v, want completed", last)
	}
	if want := filepath.Join(outDir, "clip.txt"); last.Path != want {
		t.Fatalf("second job path = %q, want %q", last.Path, want)
	}
	for _, ev := range events2 {
		if ev.JobID != job2.ID {
			t.Fatalf("second job channel carries event for job %q", ev.JobID)
		}
	}
	if tr.State() != StateCompleted {
		t.Fatalf("state = %v, want completed", tr.State())
	}

	// the cancelled job's channel ends with its own cancel event only
	events1 := drainEvents(t, ch1)
	if len(events1) != 1 || events1[0].Kind != domain.EventCancelled {
		t.Fatalf("first job events = %+v, want exactly its cancel event", events1)
	}
}

func TestStartMissingAudioRejectedBeforeSpawn(t *testing.T) {
	tr := NewTranscriber("/does/not/matter", "", logger.Discard())
	job := NewJob(filepath.Join(t.TempDir(), "missing.wav"), t.TempDir(), FormatText)
	job.ModelPath = writeModel(t)

	if _, err := tr.Start(context.Background(), job); err == nil {
		t.Fatal("Start with missing audio succeeded, want error")
	}
	if tr.State() != StateIdle {
		t.Fatalf("state = %v, want idle", tr.State())
	}
}

func TestBuildEngineArgs(t *testing.T) {
	args := buildEngineArgs("/m/ggml.bin", "/a/clip.wav", "/o/clip", FormatSRT, "sv")
	want := []string{"-m", "/m/ggml.bin", "-f", "/a/clip.wav", "-of", "/o/clip", "-osrt", "-l", "sv", "--print-progress"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}

	auto := buildEngineArgs("/m/ggml.bin", "/a/clip.wav", "/o/clip", FormatText, "auto")
	for _, a := range auto {
		if a == "-l" {
			t.Fatal("auto language must not produce a -l override")
		}
	}
}
