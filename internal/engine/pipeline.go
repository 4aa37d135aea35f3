package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cidproject/cid/internal/catalog"
	"github.com/cidproject/cid/internal/checksum"
	"github.com/cidproject/cid/internal/download"
)

// DestinationCollisionError means two work items resolved to the same final
// path. The first writer wins; the later item fails closed instead of
// silently overwriting.
type DestinationCollisionError struct {
	Dest   string
	Holder string
}

func (e *DestinationCollisionError) Error() string {
	return fmt.Sprintf("destination %s already claimed by %s", e.Dest, e.Holder)
}

// historyWriter is the commit side of the history store.
type historyWriter interface {
	Commit(name string, sum checksum.Checksum, committedAt time.Time) error
}

// pipelineTotals aggregates what the workers accomplished.
type pipelineTotals struct {
	downloaded int
	verified   int
	corrupt    int
	bytes      int64
}

// pipeline executes the work list with a fixed-size worker pool.
type pipeline struct {
	client *download.Client
	store  historyWriter
	logger *slog.Logger

	mu     sync.Mutex
	totals pipelineTotals
}

func newPipeline(client *download.Client, store historyWriter, logger *slog.Logger) *pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &pipeline{client: client, store: store, logger: logger}
}

// run processes the work list with at most maxParallel in-flight items.
// One item's failure never aborts the batch; cancelling ctx stops new items
// from being issued while in-flight ones abort and discard their temp files.
func (p *pipeline) run(ctx context.Context, items []*catalog.CloudImage, maxParallel int) pipelineTotals {
	if len(items) == 0 {
		return pipelineTotals{}
	}
	if maxParallel <= 0 {
		maxParallel = 1
	}

	// Claim destination paths up front: later claimants of an already-taken
	// path fail before any bytes move.
	claimed := make(map[string]string, len(items))
	var work []*catalog.CloudImage
	for _, img := range items {
		if holder, taken := claimed[img.DestPath]; taken {
			err := &DestinationCollisionError{Dest: img.DestPath, Holder: holder}
			p.logger.Error("destination collision", "image", img.Name, "holder", holder)
			img.Fail(err.Error())
			continue
		}
		claimed[img.DestPath] = img.Name
		work = append(work, img)
	}

	jobs := make(chan *catalog.CloudImage, len(work))
	for _, img := range work {
		jobs <- img
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < maxParallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for img := range jobs {
				select {
				case <-ctx.Done():
					img.Fail("run cancelled: " + ctx.Err().Error())
					continue
				default:
				}
				p.process(ctx, img)
			}
		}()
	}
	wg.Wait()

	return p.totals
}

// process runs one item through its state machine. No retries: a failed
// item stays absent from the history and a later run picks it up again.
func (p *pipeline) process(ctx context.Context, img *catalog.CloudImage) {
	if img.VerifyOnly {
		p.verifyExisting(img)
		return
	}

	img.Status = catalog.StatusDownloading
	result, err := p.client.Fetch(ctx, img.URL, img.DestPath, img.Expected)
	if err != nil {
		p.logger.Warn("download failed",
			"site", img.Site, "image", img.Name, "error", err)
		img.Fail(err.Error())
		return
	}

	if err := p.commit(img); err != nil {
		img.Fail(err.Error())
		return
	}

	img.Status = catalog.StatusVerified
	p.mu.Lock()
	p.totals.downloaded++
	p.totals.verified++
	p.totals.bytes += result.Size
	p.mu.Unlock()

	p.logger.Info("image verified",
		"site", img.Site, "image", img.Name, "size", result.Size)
}

// verifyExisting checksums an on-disk file in place. A match is committed
// without re-downloading; a mismatch is reported as corrupt and the file is
// left untouched.
func (p *pipeline) verifyExisting(img *catalog.CloudImage) {
	ok, err := download.VerifyLocal(img.DestPath, img.Expected)
	if err != nil {
		img.Fail(err.Error())
		return
	}
	if !ok {
		p.logger.Warn("existing file is corrupt, leaving it in place",
			"site", img.Site, "image", img.Name, "path", img.DestPath)
		img.Fail("existing file corrupt: checksum mismatch")
		p.mu.Lock()
		p.totals.corrupt++
		p.mu.Unlock()
		return
	}

	if err := p.commit(img); err != nil {
		img.Fail(err.Error())
		return
	}

	img.Status = catalog.StatusVerified
	p.mu.Lock()
	p.totals.verified++
	p.mu.Unlock()

	p.logger.Info("existing image verified in place",
		"site", img.Site, "image", img.Name)
}

func (p *pipeline) commit(img *catalog.CloudImage) error {
	if err := p.store.Commit(img.Name, img.Expected, time.Now()); err != nil {
		return fmt.Errorf("recording %q in history: %w", img.Name, err)
	}
	return nil
}
