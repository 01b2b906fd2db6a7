package domain

// EventKind classifies messages emitted while a job runs. The set is closed
// so consumers can switch exhaustively instead of matching event names.
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventPaused    EventKind = "paused"
	EventResumed   EventKind = "resumed"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
)

// Progress is one parsed progress line from a subprocess. Transient; emitted
// zero or more times per job and never persisted.
type Progress struct {
	Percent         float64 `json:"percent"`
	DownloadedBytes int64   `json:"downloadedBytes"`
	TotalBytes      int64   `json:"totalBytes"`
	Speed           string  `json:"speed,omitempty"`
	ETA             string  `json:"eta,omitempty"`
}

// Event is the tagged union delivered on a job's event channel. Exactly one
// of Progress, Path, or Err is meaningful, selected by Kind. The channel is
// closed after a terminal event (Completed, Failed, Cancelled).
type Event struct {
	Kind     EventKind `json:"kind"`
	JobID    string    `json:"jobId"`
	Progress Progress  `json:"progress,omitzero"`
	Path     string    `json:"path,omitempty"`
	Err      error     `json:"-"`
}

// Terminal reports whether the event ends the job.
func (e Event) Terminal() bool {
	switch e.Kind {
	case EventCompleted, EventFailed, EventCancelled:
		return true
	default:
		return false
	}
}
