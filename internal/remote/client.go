// Package remote fetches and interprets the narrow web surface this tool
// consumes: autoindex-style directory listings and small checksum files.
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cidproject/cid/internal/safety"
)

const userAgent = "cid/1.0"

// maxListingBytes bounds directory listing and checksum file responses.
// Image bodies never go through this path.
const maxListingBytes int64 = 16 * 1024 * 1024

// Client fetches directory listings and checksum files.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client with a hardened HTTP transport.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: safety.NewHTTPClient(60 * time.Second),
		logger:     logger,
	}
}

// Fetch performs a GET and returns the body, limited to maxListingBytes.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	if _, err := safety.ValidateHTTPURL(url); err != nil {
		return nil, fmt.Errorf("invalid fetch URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}

	body, err := safety.ReadAllWithLimit(resp.Body, maxListingBytes)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return body, nil
}
