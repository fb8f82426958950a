package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Downloader fetches single files over HTTP into per-task temp
// directories. Callers own cleanup of the returned paths.
type Downloader struct {
	client *http.Client
	// internalEndpoint resolves storage-relative keys when the task
	// carries a non-absolute file URL.
	internalEndpoint string
}

// NewDownloader wraps the shared outbound HTTP client.
func NewDownloader(client *http.Client, internalEndpoint string) *Downloader {
	return &Downloader{client: client, internalEndpoint: internalEndpoint}
}

// Download fetches fileURL into a fresh temp directory and returns the
// local path named after filename.
func (d *Downloader) Download(ctx context.Context, fileURL, filename string) (string, error) {
	resolved, err := d.resolve(fileURL)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return "", fmt.Errorf("source: building download request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("source: downloading %s: %w", filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("source: downloading %s: unexpected status %d", filename, resp.StatusCode)
	}

	dir, err := os.MkdirTemp("", "knowledged-"+uuid.NewString())
	if err != nil {
		return "", fmt.Errorf("source: creating temp dir: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(filename))
	f, err := os.Create(path)
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("source: creating %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("source: writing %s: %w", path, err)
	}
	return path, nil
}

// resolve turns a storage-relative key into an absolute URL against
// the internal endpoint. Absolute URLs pass through.
func (d *Downloader) resolve(fileURL string) (string, error) {
	u, err := url.Parse(fileURL)
	if err != nil {
		return "", fmt.Errorf("source: invalid file url %q: %w", fileURL, err)
	}
	if u.IsAbs() {
		return fileURL, nil
	}
	if d.internalEndpoint == "" {
		return "", fmt.Errorf("source: relative file url %q without internal endpoint", fileURL)
	}
	return strings.TrimRight(d.internalEndpoint, "/") + "/" + strings.TrimLeft(fileURL, "/"), nil
}
