package transcribe

import (
	"strconv"
	"strings"
)

// heuristicCap keeps timestamp-derived progress below the structured
// completion signal; only the engine itself may report 100%.
const heuristicCap = 99.0

// parseEnginePercent matches the engine's structured "progress = N%" token.
func parseEnginePercent(line string) (float64, bool) {
	idx := strings.Index(line, "progress =")
	if idx < 0 {
		return 0, false
	}

	token := strings.TrimSpace(line[idx+len("progress ="):])
	token = strings.TrimSuffix(token, "%")
	percent, err := strconv.ParseFloat(strings.TrimSpace(token), 64)
	if err != nil || percent < 0 || percent > 100 {
		return 0, false
	}
	return percent, true
}

// parseSegmentEnd extracts the end timestamp, in seconds, from a
// caption-style "[HH:MM:SS.mmm --> HH:MM:SS.mmm]" line.
func parseSegmentEnd(line string) (float64, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "[") {
		return 0, false
	}
	end := strings.Index(line, "]")
	if end < 0 {
		return 0, false
	}

	_, to, found := strings.Cut(line[1:end], " --> ")
	if !found {
		return 0, false
	}
	return parseTimestamp(strings.TrimSpace(to))
}

// parseTimestamp converts "HH:MM:SS.mmm" (or "MM:SS.mmm") to seconds.
func parseTimestamp(ts string) (float64, bool) {
	parts := strings.Split(ts, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}

	var total float64
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.ReplaceAll(part, ",", "."), 64)
		if err != nil || v < 0 {
			return 0, false
		}
		total = total*60 + v
	}
	return total, true
}

// heuristicPercent estimates progress from the last transcribed timestamp.
func heuristicPercent(segmentEnd, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	percent := segmentEnd / duration * 100
	if percent > heuristicCap {
		return heuristicCap
	}
	return percent
}
