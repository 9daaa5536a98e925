package dashscope

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// DownloadResult streams the video at url to destPath, creating parent
// directories as needed. The file appears at destPath only once the
// download completes; a failed download leaves nothing behind.
func (c *Client) DownloadResult(ctx context.Context, url, destPath string) error {
	if url == "" {
		return &APIError{Op: "download", Err: ErrNoResultURL}
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &APIError{Op: "download", Message: "build request", Err: err}
	}

	start := time.Now()
	resp, err := c.downloadClient.Do(req)
	if err != nil {
		return &APIError{Op: "download", Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Op: "download", StatusCode: resp.StatusCode, Message: "unexpected status"}
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), "."+filepath.Base(destPath)+".part-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	n, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		if copyErr != nil {
			return &APIError{Op: "download", Message: "write video", Err: copyErr}
		}
		return fmt.Errorf("close temp file: %w", closeErr)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("move download into place: %w", err)
	}

	log.Info().
		Str("path", destPath).
		Int64("bytes", n).
		Dur("duration", time.Since(start)).
		Msg("Result video downloaded")
	return nil
}
