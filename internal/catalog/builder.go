package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/cidproject/cid/internal/checksum"
	"github.com/cidproject/cid/internal/config"
	"github.com/cidproject/cid/internal/remote"
	"github.com/cidproject/cid/internal/safety"
)

// Warning reports an image that was excluded from the candidate set for a
// non-fatal reason (typically a missing or unparsable checksum).
type Warning struct {
	Site string
	Name string
	Err  error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s: %v", w.Site, w.Name, w.Err)
}

// Build turns one resolved version pointer into CloudImage candidates.
// entries is the listing of the pointer's directory; src answers checksum
// lookups for it. Candidates come back in listing order; images without a
// resolvable checksum are returned as warnings instead.
func Build(ctx context.Context, site config.Site, ptr remote.VersionPointer, entries []remote.Entry, src *checksum.Source, runDate time.Time, logger *slog.Logger) ([]*CloudImage, []Warning, error) {
	if logger == nil {
		logger = slog.Default()
	}

	include, err := regexp.Compile(site.ImageNameFilter)
	if err != nil {
		return nil, nil, fmt.Errorf("site %q: invalid image_name_filter: %w", site.Name, err)
	}
	cleanse := make([]*regexp.Regexp, 0, len(site.ImageNameCleanse))
	for _, pattern := range site.ImageNameCleanse {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, nil, fmt.Errorf("site %q: invalid image_name_cleanse pattern %q: %w", site.Name, pattern, err)
		}
		cleanse = append(cleanse, re)
	}

	destRoot, err := config.ExpandPath(site.Destination)
	if err != nil {
		return nil, nil, fmt.Errorf("site %q: %w", site.Name, err)
	}

	var (
		images   []*CloudImage
		warnings []Warning
	)

	for _, entry := range entries {
		if entry.IsDir {
			continue
		}
		if !keepName(entry.Name, include, cleanse, logger) {
			continue
		}

		sum, err := src.Lookup(ctx, entry.Name)
		if err != nil {
			logger.Warn("excluding image without verifiable checksum",
				"site", site.Name, "image", entry.Name, "error", err)
			warnings = append(warnings, Warning{Site: site.Name, Name: entry.Name, Err: err})
			continue
		}

		rel := renderTemplate(site.Normalize, entry.Name, ptr, runDate)
		destPath, err := safety.SafeJoinUnder(destRoot, rel)
		if err != nil {
			return nil, nil, fmt.Errorf("site %q: destination for %q: %w", site.Name, entry.Name, err)
		}

		images = append(images, &CloudImage{
			Name:         entry.Name,
			URL:          entry.URL,
			Site:         site.Name,
			Version:      ptr.Version,
			AfterSegment: ptr.AfterSegment,
			Expected:     sum,
			DestPath:     destPath,
			Status:       StatusPending,
		})
	}

	return images, warnings, nil
}

// keepName applies the include filter, the cleanse patterns, and the
// checksum-artifact exclusion to a bare file name.
func keepName(name string, include *regexp.Regexp, cleanse []*regexp.Regexp, logger *slog.Logger) bool {
	if checksum.IsChecksumArtifact(name) {
		return false
	}
	if !include.MatchString(name) {
		return false
	}
	for _, re := range cleanse {
		if re.MatchString(name) {
			logger.Debug("cleansed image name", "image", name, "pattern", re.String())
			return false
		}
	}
	return true
}

// renderTemplate substitutes the normalization placeholders. An empty
// template keeps the remote name as-is.
func renderTemplate(tmpl, name string, ptr remote.VersionPointer, runDate time.Time) string {
	if tmpl == "" {
		return name
	}
	r := strings.NewReplacer(
		"{name}", name,
		"{version}", ptr.Version,
		"{date}", runDate.Format("2006-01-02"),
		"{after_version}", ptr.AfterSegment,
	)
	return r.Replace(tmpl)
}
