// Package engine orchestrates a synchronization run: resolve each site's
// version directories, qualify checksums, build and filter the candidate
// set, then download and verify with bounded concurrency.
package engine

import (
	"fmt"
	"sort"

	"github.com/cidproject/cid/internal/catalog"
)

// ItemFailure is one image that ended the run in the Failed state.
type ItemFailure struct {
	Site   string
	Name   string
	URL    string
	Reason string
}

// SiteError is a contained per-site/version failure (unreachable or empty
// listing); the rest of the run proceeds.
type SiteError struct {
	Site    string
	Version string
	Err     error
}

func (e SiteError) String() string {
	return fmt.Sprintf("%s %s: %v", e.Site, e.Version, e.Err)
}

// Summary is the run report. The caller formats it; the engine only fills
// it in.
type Summary struct {
	Requested  int
	Downloaded int
	Verified   int
	Skipped    int
	Failed     int
	Corrupt    int

	BytesTransferred int64

	Failures   []ItemFailure
	Warnings   []catalog.Warning
	SiteErrors []SiteError
}

// OK reports whether the run completed without any contained failure.
func (s *Summary) OK() bool {
	return s.Failed == 0 && len(s.SiteErrors) == 0
}

// finish derives the failure list and counts from the final item states and
// sorts everything by name for deterministic output.
func (s *Summary) finish(items []*catalog.CloudImage) {
	for _, img := range items {
		if img.Status != catalog.StatusFailed {
			continue
		}
		s.Failed++
		s.Failures = append(s.Failures, ItemFailure{
			Site:   img.Site,
			Name:   img.Name,
			URL:    img.URL,
			Reason: img.FailReason,
		})
	}

	sort.Slice(s.Failures, func(i, j int) bool {
		if s.Failures[i].Name != s.Failures[j].Name {
			return s.Failures[i].Name < s.Failures[j].Name
		}
		return s.Failures[i].Site < s.Failures[j].Site
	})

	// Warnings and site errors were collected from concurrently gathered
	// sites; order them too.
	sort.Slice(s.Warnings, func(i, j int) bool {
		if s.Warnings[i].Site != s.Warnings[j].Site {
			return s.Warnings[i].Site < s.Warnings[j].Site
		}
		return s.Warnings[i].Name < s.Warnings[j].Name
	})
	sort.Slice(s.SiteErrors, func(i, j int) bool {
		if s.SiteErrors[i].Site != s.SiteErrors[j].Site {
			return s.SiteErrors[i].Site < s.SiteErrors[j].Site
		}
		return s.SiteErrors[i].Version < s.SiteErrors[j].Version
	})
}
