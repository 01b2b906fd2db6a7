package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/mhagrelius/youtube-downloader/internal/domain"
)

// textReporter renders progress as single rewritten lines on the side
// channel, keeping stdout clean for the transcript.
type textReporter struct {
	w       io.Writer
	quiet   bool
	mu      sync.Mutex
	lastLen int
}

func newTextReporter(w io.Writer, quiet bool) *textReporter {
	return &textReporter{w: w, quiet: quiet}
}

func (r *textReporter) Stage(name string) {
	if r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
	fmt.Fprintf(r.w, "==> %s\n", name)
}

func (r *textReporter) Progress(stage string, p domain.Progress) {
	if r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	line := fmt.Sprintf("%s %5.1f%%", stage, p.Percent)
	if p.TotalBytes > 0 {
		line += fmt.Sprintf("  %s / %s", humanize.Bytes(uint64(p.DownloadedBytes)), humanize.Bytes(uint64(p.TotalBytes)))
	}
	if p.Speed != "" {
		line += "  " + p.Speed
	}
	if p.ETA != "" {
		line += "  eta " + p.ETA
	}

	pad := r.lastLen - len(line)
	fmt.Fprintf(r.w, "\r%s", line)
	for i := 0; i < pad; i++ {
		fmt.Fprint(r.w, " ")
	}
	r.lastLen = len(line)
}

func (r *textReporter) Info(format string, args ...any) {
	if r.quiet {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
	fmt.Fprintf(r.w, format+"\n", args...)
}

// Done finishes any in-place progress line.
func (r *textReporter) Done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endLine()
}

func (r *textReporter) endLine() {
	if r.lastLen > 0 {
		fmt.Fprintln(r.w)
		r.lastLen = 0
	}
}

// jsonReporter emits one JSON object per line for scripting consumers.
type jsonReporter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newJSONReporter(w io.Writer) *jsonReporter {
	return &jsonReporter{enc: json.NewEncoder(w)}
}

type jsonEvent struct {
	Type    string  `json:"type"`
	Stage   string  `json:"stage,omitempty"`
	Percent float64 `json:"percent,omitempty"`
	Done    int64   `json:"downloadedBytes,omitempty"`
	Total   int64   `json:"totalBytes,omitempty"`
	Message string  `json:"message,omitempty"`
}

func (r *jsonReporter) Stage(name string) {
	r.emit(jsonEvent{Type: "stage", Stage: name})
}

func (r *jsonReporter) Progress(stage string, p domain.Progress) {
	r.emit(jsonEvent{Type: "progress", Stage: stage, Percent: p.Percent, Done: p.DownloadedBytes, Total: p.TotalBytes})
}

func (r *jsonReporter) Info(format string, args ...any) {
	r.emit(jsonEvent{Type: "info", Message: fmt.Sprintf(format, args...)})
}

func (r *jsonReporter) emit(ev jsonEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.enc.Encode(ev)
}
