package transcribe

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mhagrelius/youtube-downloader/internal/domain"
)

// resolveOutput locates the transcript the engine actually wrote. The
// engine's on-disk naming does not always match the requested base, so a
// miss on the exact path falls back to a prefix scan of the output
// directory. Zero matches and ambiguous multiple matches both fail; the
// scan never guesses between candidates.
func resolveOutput(dir, base, ext string) (string, error) {
	expected := filepath.Join(dir, base+ext)
	if info, err := os.Stat(expected); err == nil && !info.IsDir() {
		return expected, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", &domain.OutputNotFoundError{Expected: expected}
	}

	var matches []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, base) && strings.HasSuffix(name, ext) {
			matches = append(matches, filepath.Join(dir, name))
		}
	}

	if len(matches) != 1 {
		return "", &domain.OutputNotFoundError{Expected: expected, Matches: matches}
	}
	return matches[0], nil
}
