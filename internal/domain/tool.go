package domain

// Tool identifies one external binary the pipeline depends on.
type Tool string

const (
	// ToolFetcher retrieves media from a remote source.
	ToolFetcher Tool = "yt-dlp"

	// ToolRuntime is the JS runtime yt-dlp needs for challenge solving.
	ToolRuntime Tool = "deno"

	// ToolEngine is the whisper.cpp transcription binary.
	ToolEngine Tool = "whisper-cli"

	// ToolTranscoder probes and converts audio formats.
	ToolTranscoder Tool = "ffmpeg"
)

// RequiredTools is the minimum subset for baseline readiness. The engine and
// transcoder are optional until a transcription is actually requested.
var RequiredTools = []Tool{ToolFetcher, ToolRuntime}

// AllTools lists every external binary in dependency order.
var AllTools = []Tool{ToolFetcher, ToolRuntime, ToolEngine, ToolTranscoder}

func (t Tool) String() string { return string(t) }

// Required reports whether the tool belongs to the baseline readiness set.
func (t Tool) Required() bool {
	for _, r := range RequiredTools {
		if t == r {
			return true
		}
	}
	return false
}

// BinaryRecord is the on-demand status of one external binary. It is derived
// by stat-ing the filesystem every time; never cached across calls.
type BinaryRecord struct {
	Tool       Tool   `json:"tool"`
	Path       string `json:"path"`
	Exists     bool   `json:"exists"`
	Executable bool   `json:"executable"`
	Version    string `json:"version,omitempty"`
}

// Ready reports whether the binary can be spawned.
func (r BinaryRecord) Ready() bool { return r.Exists && r.Executable }

// ModelRecord is the on-demand status of one transcription model file.
type ModelRecord struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Exists    bool   `json:"exists"`
	SizeBytes int64  `json:"sizeBytes,omitempty"`
}

// Status aggregates per-tool records and overall readiness.
type Status struct {
	Binaries []BinaryRecord `json:"binaries"`
	Ready    bool           `json:"ready"`
}

// Record returns the record for one tool, if present.
func (s Status) Record(tool Tool) (BinaryRecord, bool) {
	for _, r := range s.Binaries {
		if r.Tool == tool {
			return r, true
		}
	}
	return BinaryRecord{}, false
}
