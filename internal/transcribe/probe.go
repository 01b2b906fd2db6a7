package transcribe

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// probeTimeout bounds the duration inspection; the value is advisory only
// and a slow probe must not stall the job.
const probeTimeout = 10 * time.Second

// fallbackBytesPerSecond approximates speech audio when no probe is
// possible (16 kHz mono s16le is 32 KB/s, but fetched audio is compressed).
const fallbackBytesPerSecond = 16_000

// probeDuration returns the media duration in seconds. It asks the
// transcoder's inspection tool first and falls back to a byte-size
// heuristic; the result feeds progress estimation only, so a rough answer
// beats an error.
func probeDuration(ctx context.Context, transcoderPath, mediaPath string) float64 {
	if probe := inspectorPath(transcoderPath); probe != "" {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		cmd := exec.CommandContext(ctx, probe,
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			mediaPath,
		)
		if out, err := cmd.Output(); err == nil {
			if seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64); err == nil && seconds > 0 {
				return seconds
			}
		}
	}

	info, err := os.Stat(mediaPath)
	if err != nil || info.Size() <= 0 {
		return 0
	}
	return float64(info.Size()) / fallbackBytesPerSecond
}

// inspectorPath locates ffprobe next to the transcoder binary, falling back
// to the system PATH. Empty means no inspector is available.
func inspectorPath(transcoderPath string) string {
	name := "ffprobe"
	if runtime.GOOS == "windows" {
		name = "ffprobe.exe"
	}

	if transcoderPath != "" {
		sibling := filepath.Join(filepath.Dir(transcoderPath), name)
		if _, err := os.Stat(sibling); err == nil {
			return sibling
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return ""
}
