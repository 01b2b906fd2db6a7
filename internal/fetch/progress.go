package fetch

import (
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mhagrelius/youtube-downloader/internal/domain"
)

// progressTemplate makes yt-dlp emit one pipe-delimited line per progress
// tick: percent|downloaded|total|speed|eta. The fields are human-readable
// size tokens, parsed back on our side.
const progressTemplate = "download:%(progress._percent_str)s|%(progress._downloaded_bytes_str)s|%(progress._total_bytes_str)s|%(progress._speed_str)s|%(progress._eta_str)s"

const (
	destinationMarker      = "Destination: "
	alreadyDownloadedMark  = " has already been downloaded"
	downloadPrefix         = "[download] "
	progressFieldSeparator = "|"
)

// parseProgressLine matches one stdout line against the five-field template.
// Non-matching lines return false and are left to the marker scan.
func parseProgressLine(line string) (domain.Progress, bool) {
	fields := strings.Split(strings.TrimSpace(line), progressFieldSeparator)
	if len(fields) != 5 {
		return domain.Progress{}, false
	}

	percentField := strings.TrimSpace(fields[0])
	if !strings.HasSuffix(percentField, "%") {
		return domain.Progress{}, false
	}
	percent, err := strconv.ParseFloat(strings.TrimSuffix(percentField, "%"), 64)
	if err != nil {
		return domain.Progress{}, false
	}

	return domain.Progress{
		Percent:         percent,
		DownloadedBytes: int64(ParseByteSize(fields[1])),
		TotalBytes:      int64(ParseByteSize(fields[2])),
		Speed:           strings.TrimSpace(fields[3]),
		ETA:             strings.TrimSpace(fields[4]),
	}, true
}

// parseDestination recovers the final artifact path from the two special
// markers, since yt-dlp does not return the path structurally.
func parseDestination(line string) (string, bool) {
	line = strings.TrimSpace(line)

	if idx := strings.Index(line, destinationMarker); idx >= 0 {
		path := strings.TrimSpace(line[idx+len(destinationMarker):])
		if path != "" {
			return path, true
		}
	}

	if strings.HasSuffix(line, alreadyDownloadedMark) {
		path := strings.TrimSuffix(line, alreadyDownloadedMark)
		path = strings.TrimSpace(strings.TrimPrefix(path, downloadPrefix))
		if path != "" {
			return path, true
		}
	}

	return "", false
}

// ParseByteSize converts human size tokens ("500KB/s", "1.5 MiB", "2GB") to
// bytes, honoring decimal vs binary unit semantics. Malformed input yields 0,
// never an error; progress estimation must not take a job down.
func ParseByteSize(token string) uint64 {
	s := strings.TrimSpace(token)
	s = strings.TrimSuffix(s, "/s")
	s = strings.TrimPrefix(s, "~") // yt-dlp prefixes estimated totals
	if s == "" || s == "N/A" {
		return 0
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0
	}
	return n
}
