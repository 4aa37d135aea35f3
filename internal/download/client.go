// Package download streams remote files to disk with inline checksum
// verification. Nothing is ever written directly to a final destination
// path: bytes go to a temp file in the same directory and are renamed into
// place only after the digest matches.
package download

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cidproject/cid/internal/checksum"
	"github.com/cidproject/cid/internal/safety"
)

const userAgent = "cid/1.0"

// Result describes a completed, verified download.
type Result struct {
	Path     string
	Size     int64
	Checksum checksum.Checksum
	Duration time.Duration
}

// Client performs verified HTTP downloads.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a download client. The transport has per-phase
// timeouts but no overall deadline: image bodies can take as long as they
// take, and context cancellation still interrupts them.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	hc := safety.NewHTTPClient(0)
	hc.Timeout = 0
	return &Client{
		httpClient: hc,
		logger:     logger,
	}
}

// Fetch downloads url to destPath, verifying the stream against expected as
// the bytes arrive. On any failure the temp file is removed and destPath is
// left untouched.
func (c *Client) Fetch(ctx context.Context, url, destPath string, expected checksum.Checksum) (*Result, error) {
	if expected.IsZero() {
		return nil, fmt.Errorf("refusing to download %s without an expected checksum", url)
	}

	start := time.Now()

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating destination directory %s: %w", dir, err)
	}

	// The temp file lives next to the destination so the final move is a
	// same-filesystem atomic rename.
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(destPath)+".part-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, URL: url}
	}

	digester := expected.Digester()
	size, err := io.Copy(io.MultiWriter(tmp, digester.Hash()), resp.Body)
	if err != nil {
		return nil, fmt.Errorf("streaming body to temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing temp file: %w", err)
	}

	actual := digester.Digest()
	if actual != expected.Digest() {
		return nil, &MismatchError{
			URL:      url,
			Expected: expected.String(),
			Actual:   string(actual),
		}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return nil, fmt.Errorf("moving verified file into place: %w", err)
	}
	committed = true

	c.logger.Debug("downloaded and verified",
		"url", url, "dest", filepath.Base(destPath), "size", size)

	return &Result{
		Path:     destPath,
		Size:     size,
		Checksum: expected,
		Duration: time.Since(start),
	}, nil
}

// VerifyLocal checksums an existing file in place against expected.
func VerifyLocal(path string, expected checksum.Checksum) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	actual, err := checksum.FromReader(expected.Algorithm(), f)
	if err != nil {
		return false, fmt.Errorf("hashing %s: %w", path, err)
	}
	return actual.Equal(expected), nil
}
