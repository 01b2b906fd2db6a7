package binman

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mhagrelius/youtube-downloader/internal/domain"
)

// download streams url into dest. It writes to a .tmp sibling and renames
// only after the byte count matches the declared Content-Length, so the
// final name never holds a partial file. Partial temp artifacts are removed
// on every failure path.
func (m *Manager) download(ctx context.Context, url, dest string, onProgress func(done, total int64)) (err error) {
	tmpPath := dest + ".tmp"
	defer func() {
		if err != nil {
			os.Remove(tmpPath)
		}
	}()

	// The idle watchdog cancels the request when no bytes arrive for a
	// while; a stalled connection is a network failure, not a hang.
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return &domain.NetworkError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", "ytscribe")

	resp, err := m.client.Do(req)
	if err != nil {
		return &domain.NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domain.NetworkError{URL: url, Err: fmt.Errorf("unexpected HTTP status: %s", resp.Status)}
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	watchdog := time.AfterFunc(downloadIdleTimeout, cancel)
	body := &idleResetReader{r: resp.Body, timer: watchdog, timeout: downloadIdleTimeout}

	written, copyErr := copyWithProgress(file, body, resp.ContentLength, onProgress)
	watchdog.Stop()
	closeErr := file.Close()

	if copyErr != nil {
		if errors.Is(copyErr, context.Canceled) && ctx.Err() == nil {
			copyErr = fmt.Errorf("connection idle for %s", downloadIdleTimeout)
		}
		return &domain.NetworkError{URL: url, Err: copyErr}
	}
	if closeErr != nil {
		return fmt.Errorf("close temp file: %w", closeErr)
	}

	// Fewer bytes than declared is a hard failure, not a soft warning.
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return &domain.IncompleteDownloadError{URL: url, Want: resp.ContentLength, Got: written}
	}

	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove old file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("move download into place: %w", err)
	}

	return nil
}

func copyWithProgress(dst io.Writer, src io.Reader, total int64, onProgress func(done, total int64)) (int64, error) {
	buf := make([]byte, 128*1024)
	var written int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return written, writeErr
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written, total)
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}

// idleResetReader pushes the watchdog forward on every successful read.
type idleResetReader struct {
	r       io.Reader
	timer   *time.Timer
	timeout time.Duration
}

func (r *idleResetReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}
