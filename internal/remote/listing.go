package remote

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var hrefRegex = regexp.MustCompile(`href="([^"]+)"`)

// Entry is one row of a remote directory listing: a file or a sub-directory.
type Entry struct {
	Name  string
	URL   string
	IsDir bool
}

// List fetches dirURL and extracts its entries in listing order.
func (c *Client) List(ctx context.Context, dirURL string) ([]Entry, error) {
	body, err := c.Fetch(ctx, dirURL)
	if err != nil {
		return nil, err
	}
	return parseListing(dirURL, body), nil
}

// parseListing extracts directory entries from the href attributes of an
// autoindex page. Parent links, query links, and anything pointing outside
// the listed directory are skipped.
func parseListing(dirURL string, body []byte) []Entry {
	base := strings.TrimRight(dirURL, "/")

	var entries []Entry
	for _, m := range hrefRegex.FindAllSubmatch(body, -1) {
		href := string(m[1])
		if href == "../" || href == ".." || href == "./" {
			continue
		}
		if strings.HasPrefix(href, "?") || strings.HasPrefix(href, "#") {
			continue
		}
		// Absolute links (mirrors, vanity headers) are not entries.
		if strings.Contains(href, "://") || strings.HasPrefix(href, "/") {
			continue
		}

		isDir := strings.HasSuffix(href, "/")
		trimmed := strings.TrimSuffix(href, "/")
		// Nested links don't belong to this directory level.
		if strings.Contains(trimmed, "/") {
			continue
		}

		name, err := url.PathUnescape(trimmed)
		if err != nil || name == "" {
			continue
		}

		entries = append(entries, Entry{
			Name:  name,
			URL:   fmt.Sprintf("%s/%s", base, trimmed),
			IsDir: isDir,
		})
	}
	return entries
}
