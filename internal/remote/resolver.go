package remote

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
)

// orderedNameRegex matches directory names that encode an ordering:
// 8-digit dates, optionally with a "-NNNN" build suffix, and pure numbers.
// Fedora compose directories look like "20240514.0" is not seen; the wild
// formats are "20240514" and "20240514-1234".
var orderedNameRegex = regexp.MustCompile(`^(\d+)(?:-(\d{1,4}))?$`)

// ResolutionError reports that a site's version directory could not be
// resolved. It is fatal to that site+version only.
type ResolutionError struct {
	Site    string
	Version string
	URL     string
	Reason  string
	Err     error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolving %s version %s at %s: %s: %v", e.Site, e.Version, e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("resolving %s version %s at %s: %s", e.Site, e.Version, e.URL, e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// VersionPointer is the resolved remote directory for one (site, version,
// after-segment) combination. Immutable once computed for a run.
type VersionPointer struct {
	Site         string
	Version      string
	AfterSegment string
	URL          string
}

// Resolver follows date/number-ordered sub-directory chains to their
// latest entry.
type Resolver struct {
	client *Client
	logger *slog.Logger
}

// NewResolver creates a Resolver on top of the given listing client.
func NewResolver(client *Client, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{client: client, logger: logger}
}

// orderKey is the comparable ordering of a date/number-named directory.
// For "YYYYMMDD-NNNN" names value holds the date and build the suffix;
// plain numeric names order by value alone.
type orderKey struct {
	value int64
	build int64
}

func (k orderKey) less(other orderKey) bool {
	if k.value != other.value {
		return k.value < other.value
	}
	return k.build < other.build
}

// parseOrderKey extracts the ordering key from a directory name, if any.
func parseOrderKey(name string) (orderKey, bool) {
	m := orderedNameRegex.FindStringSubmatch(name)
	if m == nil {
		return orderKey{}, false
	}
	value, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		// Longer than an int64 holds; nothing in the wild gets here.
		return orderKey{}, false
	}
	var build int64
	if m[2] != "" {
		build, _ = strconv.ParseInt(m[2], 10, 64)
	}
	return orderKey{value: value, build: build}, true
}

// Resolve walks base/version down through date/number-ordered children until
// the children are no longer ordered, then applies each after-segment as a
// literal path append. One VersionPointer is returned per after-segment, or
// a single one when the site has none.
func (r *Resolver) Resolve(ctx context.Context, site, baseURL, version string, afterSegments []string) ([]VersionPointer, error) {
	current := fmt.Sprintf("%s/%s", strings.TrimRight(baseURL, "/"), version)

	// Real chains are one or two levels deep; the cap guards against a
	// listing that links back into itself.
	const maxDepth = 10

	for depth := 0; ; depth++ {
		if depth == maxDepth {
			return nil, &ResolutionError{Site: site, Version: version, URL: current, Reason: "ordered directory chain too deep"}
		}
		entries, err := r.client.List(ctx, current)
		if err != nil {
			return nil, &ResolutionError{Site: site, Version: version, URL: current, Reason: "listing unreachable", Err: err}
		}
		if len(entries) == 0 {
			return nil, &ResolutionError{Site: site, Version: version, URL: current, Reason: "listing is empty"}
		}

		next, ok := latestOrderedChild(entries)
		if !ok {
			break
		}
		r.logger.Debug("descending into ordered directory",
			"site", site, "version", version, "dir", next.Name)
		current = next.URL
	}

	if len(afterSegments) == 0 {
		return []VersionPointer{{Site: site, Version: version, URL: current}}, nil
	}

	pointers := make([]VersionPointer, 0, len(afterSegments))
	for _, segment := range afterSegments {
		pointers = append(pointers, VersionPointer{
			Site:         site,
			Version:      version,
			AfterSegment: segment,
			URL:          fmt.Sprintf("%s/%s", current, strings.Trim(segment, "/")),
		})
	}
	return pointers, nil
}

// latestOrderedChild returns the sub-directory with the greatest ordering
// key. Listings that mix ordered and non-ordered children are resolved with
// the ordered ones only; selection depends solely on the parsed key, never
// on listing order or modification time.
func latestOrderedChild(entries []Entry) (Entry, bool) {
	var (
		best    Entry
		bestKey orderKey
		found   bool
	)
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		key, ok := parseOrderKey(e.Name)
		if !ok {
			continue
		}
		if !found || bestKey.less(key) {
			best, bestKey, found = e, key, true
		}
	}
	return best, found
}
