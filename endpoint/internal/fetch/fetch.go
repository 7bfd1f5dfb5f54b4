// Package fetch downloads the audio recordings schedules reference into a
// local cache: lazy, content-addressed by basename, .mp3-only, written
// atomically via a temp file renamed into place.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
)

// ErrUnsupportedExtension is returned when a record's file_url does not
// end in .mp3, the only extension the cache accepts.
var ErrUnsupportedExtension = fmt.Errorf("fetch: only .mp3 recordings are accepted")

// Cache downloads and locally caches recordings under a root audio
// directory, keyed by the URL's basename. Safe for concurrent use.
type Cache struct {
	audioDir string
	client   *http.Client

	mu     sync.Mutex
	cached map[string]string // basename -> local path, already downloaded
}

// New creates a Cache rooted at dataPath/audio, creating the directory if
// needed, matching the on-disk asset layout of audio, images, and other.
func New(dataPath string) (*Cache, error) {
	dir := filepath.Join(dataPath, "audio")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fetch: create audio cache dir: %w", err)
	}
	return &Cache{
		audioDir: dir,
		client:   &http.Client{},
		cached:   make(map[string]string),
	}, nil
}

// Path returns the local path a record's fileURL would be cached at,
// downloading it first if not already present. It is idempotent: a
// record already cached is never re-downloaded.
func (c *Cache) Path(ctx context.Context, fileURL string) (string, error) {
	base := filepath.Base(fileURL)
	if strings.ToLower(filepath.Ext(base)) != ".mp3" {
		return "", ErrUnsupportedExtension
	}

	c.mu.Lock()
	if p, ok := c.cached[base]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	dest := filepath.Join(c.audioDir, base)
	if _, err := os.Stat(dest); err == nil {
		c.mu.Lock()
		c.cached[base] = dest
		c.mu.Unlock()
		return dest, nil
	}

	if err := c.download(ctx, fileURL, dest); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.cached[base] = dest
	c.mu.Unlock()
	return dest, nil
}

func (c *Cache) download(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("fetch: build request for %s: %w", url, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch: download %s: status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(c.audioDir, ".record-write-*")
	if err != nil {
		return fmt.Errorf("fetch: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	n, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("fetch: write %s: %w", dest, copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("fetch: close temp file for %s: %w", dest, closeErr)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("fetch: move into place %s: %w", dest, err)
	}

	slog.Info("fetch: record downloaded", "url", url, "dest", dest, "size", humanize.Bytes(uint64(n)))
	return nil
}
