// Package catalog builds the candidate image set for a run and filters it
// against the download history.
package catalog

import (
	"github.com/cidproject/cid/internal/checksum"
)

// Status tracks a CloudImage through the pipeline. Transitions are
// one-directional: Pending -> Downloading -> {Verified, Failed}.
type Status int

const (
	StatusPending Status = iota
	StatusDownloading
	StatusVerified
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusDownloading:
		return "downloading"
	case StatusVerified:
		return "verified"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// CloudImage is one downloadable image candidate. Catalog building creates
// it; only the pipeline mutates it; nothing outlives the run except the
// committed trace in the history store.
type CloudImage struct {
	Name         string
	URL          string
	Site         string
	Version      string
	AfterSegment string
	Expected     checksum.Checksum
	DestPath     string

	// VerifyOnly marks a file already on disk but absent from the history:
	// it is checksummed in place instead of being re-downloaded.
	VerifyOnly bool

	Status     Status
	FailReason string
}

// Fail marks the image failed with a reason. Verified images never flip back.
func (img *CloudImage) Fail(reason string) {
	if img.Status == StatusVerified {
		return
	}
	img.Status = StatusFailed
	img.FailReason = reason
}
