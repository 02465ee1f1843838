package helpcenter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aluiziolira/kb-backup/metrics"
)

const downloadChunkSize = 32 * 1024

// Downloader streams attachment bodies to disk.
type Downloader struct {
	client  *http.Client
	metrics *metrics.Metrics
}

// NewDownloader returns a downloader issuing requests through client. m may be nil.
func NewDownloader(client *http.Client, m *metrics.Metrics) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{client: client, metrics: m}
}

// Download saves rawURL as dir/filename and returns filename. It reports false,
// without touching the network, when rawURL or filename is empty, and false
// after logging when the fetch or the write fails. A failed stream may leave a
// truncated file behind.
func (d *Downloader) Download(ctx context.Context, rawURL, dir, filename string) (string, bool) {
	if rawURL == "" || filename == "" {
		return "", false
	}

	if err := d.fetch(ctx, rawURL, filepath.Join(dir, filename)); err != nil {
		d.metrics.IncAttachment("failed")
		d.metrics.IncError(ErrorLabel(err))
		slog.Warn("error downloading attachment",
			slog.String("filename", filename),
			slog.String("url", rawURL),
			slog.String("category", ErrorLabel(err)),
			slog.Any("error", err),
		)
		return "", false
	}

	d.metrics.IncAttachment("saved")
	return filename, true
}

func (d *Downloader) fetch(ctx context.Context, rawURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return ClassifyError(err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ClassifyError(nil, resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := io.CopyBuffer(f, resp.Body, make([]byte, downloadChunkSize)); err != nil {
		f.Close()
		return fmt.Errorf("write file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}
