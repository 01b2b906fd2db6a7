package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownModel is returned for model names outside the supported set.
// It is raised before any network or filesystem I/O happens.
var ErrUnknownModel = errors.New("unknown model name")

// ErrInvalidArguments is returned for CLI argument validation failures.
var ErrInvalidArguments = errors.New("invalid arguments")

// ErrBusy indicates a controller already has a subprocess attached.
var ErrBusy = errors.New("a job is already running on this controller")

// ErrCancelled reports a job stopped by request rather than by failure.
var ErrCancelled = errors.New("job cancelled")

// ErrPauseUnsupported is returned on platforms without process suspend signals.
var ErrPauseUnsupported = errors.New("pause/resume is not supported on this platform")

// PlatformUnavailableError means an artifact has no download for this OS/arch
// and must be installed through a system package manager. Terminal, not a bug.
type PlatformUnavailableError struct {
	Tool         string
	Instructions string
}

func (e *PlatformUnavailableError) Error() string {
	return fmt.Sprintf("%s is not downloadable for this platform: %s", e.Tool, e.Instructions)
}

// NetworkError covers request failures, timeouts, and non-2xx responses.
// Retryable by the caller; never auto-retried internally.
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network failure fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IncompleteDownloadError means fewer bytes arrived than the server declared.
type IncompleteDownloadError struct {
	URL  string
	Want int64
	Got  int64
}

func (e *IncompleteDownloadError) Error() string {
	return fmt.Sprintf("incomplete download of %s: got %d of %d bytes", e.URL, e.Got, e.Want)
}

// ExtractionError wraps archive unpacking failures.
type ExtractionError struct {
	Archive string
	Err     error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("failed to extract %s: %v", e.Archive, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// SpawnError means the subprocess could not be started at all (binary
// missing, permission denied). Distinct from a nonzero exit.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError carries a nonzero subprocess exit and the tail of its stderr.
type ExitError struct {
	Binary string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	tail := strings.TrimSpace(e.Stderr)
	if tail == "" {
		return fmt.Sprintf("%s exited with code %d", e.Binary, e.Code)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Binary, e.Code, tail)
}

// OutputNotFoundError means a subprocess exited 0 but the expected artifact
// is missing, or the fallback directory scan was ambiguous.
type OutputNotFoundError struct {
	Expected string
	Matches  []string
}

func (e *OutputNotFoundError) Error() string {
	if len(e.Matches) > 1 {
		return fmt.Sprintf("ambiguous output: %d files match %s", len(e.Matches), e.Expected)
	}
	return fmt.Sprintf("expected output file not found: %s", e.Expected)
}
