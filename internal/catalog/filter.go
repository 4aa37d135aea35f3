package catalog

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/cidproject/cid/internal/checksum"
)

// HistoryReader is the read side of the history store that filtering needs.
type HistoryReader interface {
	Exists(name string, sum checksum.Checksum) (bool, error)
}

// FilterResult is the outcome of subtracting the history from the
// candidate set.
type FilterResult struct {
	// Work is the final work list, in candidate order. Entries may be
	// marked VerifyOnly.
	Work []*CloudImage
	// Skipped counts candidates already recorded as owned.
	Skipped int
}

// Filter keeps every candidate whose exact (name, checksum) pair is absent
// from the history. With verifyExisting set, a candidate whose destination
// file is already on disk (but unrecorded) is kept marked VerifyOnly so the
// pipeline checksums it in place instead of re-downloading. Store read
// failures abort: a half-readable history must not cause re-downloads to be
// misclassified.
func Filter(candidates []*CloudImage, store HistoryReader, verifyExisting bool, logger *slog.Logger) (*FilterResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	result := &FilterResult{}
	for _, img := range candidates {
		owned, err := store.Exists(img.Name, img.Expected)
		if err != nil {
			return nil, fmt.Errorf("checking history for %q: %w", img.Name, err)
		}
		if owned {
			logger.Debug("image already owned", "site", img.Site, "image", img.Name)
			result.Skipped++
			continue
		}

		if verifyExisting {
			if _, err := os.Stat(img.DestPath); err == nil {
				img.VerifyOnly = true
			}
		}
		result.Work = append(result.Work, img)
	}

	return result, nil
}
