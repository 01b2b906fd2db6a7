package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mhagrelius/youtube-downloader/internal/domain"
)

// Exit codes of the scriptable entry point.
const (
	ExitOK             = 0
	ExitGeneral        = 1
	ExitInvalidArgs    = 2
	ExitNetwork        = 3
	ExitTranscription  = 4
	ExitBinaryNotFound = 5
)

// Stage names used to classify subprocess failures.
const (
	StageSetup      = "setup"
	StageDownload   = "download"
	StageTranscribe = "transcribe"
)

// StageError tags a failure with the pipeline stage it came from, which
// decides the exit code for errors that are not typed distinctly (a nonzero
// fetcher exit is a network problem, a nonzero engine exit is not).
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// SetupError reports missing required binaries with the command that fixes
// the situation.
type SetupError struct {
	Missing []domain.Tool
}

func (e *SetupError) Error() string {
	names := make([]string, len(e.Missing))
	for i, tool := range e.Missing {
		names[i] = tool.String()
	}
	return fmt.Sprintf("missing required tools: %s; run \"ytscribe --setup\" to install them",
		strings.Join(names, ", "))
}

// ExitCodeFor maps a pipeline failure onto the fixed exit code set.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}

	if errors.Is(err, domain.ErrInvalidArguments) || errors.Is(err, domain.ErrUnknownModel) {
		return ExitInvalidArgs
	}

	var setupErr *SetupError
	var spawnErr *domain.SpawnError
	var platErr *domain.PlatformUnavailableError
	if errors.As(err, &setupErr) || errors.As(err, &spawnErr) || errors.As(err, &platErr) {
		return ExitBinaryNotFound
	}

	var netErr *domain.NetworkError
	var incompleteErr *domain.IncompleteDownloadError
	if errors.As(err, &netErr) || errors.As(err, &incompleteErr) {
		return ExitNetwork
	}

	var stageErr *StageError
	if errors.As(err, &stageErr) {
		switch stageErr.Stage {
		case StageDownload:
			return ExitNetwork
		case StageTranscribe:
			return ExitTranscription
		}
	}

	return ExitGeneral
}
