package engine

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cidproject/cid/internal/catalog"
	"github.com/cidproject/cid/internal/checksum"
	"github.com/cidproject/cid/internal/config"
	"github.com/cidproject/cid/internal/download"
	"github.com/cidproject/cid/internal/history"
	"github.com/cidproject/cid/internal/remote"
)

// siteFanOut bounds how many sites are resolved concurrently. Downloads
// have their own, user-configured bound.
const siteFanOut = 4

// Options are the per-run controls passed down from the CLI.
type Options struct {
	// Sites restricts the run to the named sites; empty means all.
	Sites []string
	// MaxParallel bounds simultaneous in-flight downloads.
	MaxParallel int
	// VerifyExisting checksums unrecorded on-disk files in place instead
	// of re-downloading them.
	VerifyExisting bool
}

// Runner wires the resolver, qualifier, catalog, history, and pipeline into
// a single run.
type Runner struct {
	cfg    *config.Settings
	store  *history.Store
	logger *slog.Logger

	remote   *remote.Client
	resolver *remote.Resolver
	client   *download.Client
}

// NewRunner creates a Runner over an opened history store.
func NewRunner(cfg *config.Settings, store *history.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	rc := remote.NewClient(logger)
	return &Runner{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		remote:   rc,
		resolver: remote.NewResolver(rc, logger),
		client:   download.NewClient(logger),
	}
}

// Run executes one synchronization run and always returns a Summary unless
// a run-fatal error (store, malformed configuration) occurs first.
func (r *Runner) Run(ctx context.Context, opts Options) (*Summary, error) {
	runDate := time.Now()
	summary := &Summary{}

	sites := r.selectSites(opts.Sites)

	var (
		mu         sync.Mutex
		candidates []*catalog.CloudImage
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(siteFanOut)

	for _, site := range sites {
		site := site
		g.Go(func() error {
			for _, version := range site.VersionList {
				images, warnings, err := r.gatherVersion(gctx, site, version, runDate)
				if err != nil {
					var resErr *remote.ResolutionError
					if !errors.As(err, &resErr) {
						// Malformed site configuration is run-fatal.
						return err
					}
					// Contained: this site+version is lost, the run goes on.
					mu.Lock()
					summary.SiteErrors = append(summary.SiteErrors, SiteError{
						Site: site.Name, Version: version, Err: err,
					})
					mu.Unlock()
					continue
				}
				mu.Lock()
				summary.Warnings = append(summary.Warnings, warnings...)
				candidates = append(candidates, images...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// Only run-fatal errors (malformed site config) propagate here.
		return nil, err
	}

	// Sites were gathered concurrently; restore a stable order.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Site != b.Site {
			return a.Site < b.Site
		}
		if a.Version != b.Version {
			return a.Version < b.Version
		}
		return a.AfterSegment < b.AfterSegment
	})

	filtered, err := catalog.Filter(candidates, r.store, opts.VerifyExisting, r.logger)
	if err != nil {
		// History reads failing is a store problem: fail the whole run.
		return nil, err
	}

	summary.Requested = len(candidates)
	summary.Skipped = filtered.Skipped

	totals := newPipeline(r.client, r.store, r.logger).run(ctx, filtered.Work, opts.MaxParallel)
	summary.Downloaded = totals.downloaded
	summary.Verified = totals.verified
	summary.Corrupt = totals.corrupt
	summary.BytesTransferred = totals.bytes
	summary.finish(filtered.Work)

	r.logger.Info("run complete",
		"requested", summary.Requested,
		"downloaded", summary.Downloaded,
		"verified", summary.Verified,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)

	return summary, nil
}

// gatherVersion resolves one (site, version) pair and builds its candidates.
func (r *Runner) gatherVersion(ctx context.Context, site config.Site, version string, runDate time.Time) ([]*catalog.CloudImage, []catalog.Warning, error) {
	pointers, err := r.resolver.Resolve(ctx, site.Name, site.BaseURL, version, site.AfterVersionURL)
	if err != nil {
		return nil, nil, err
	}

	var (
		images   []*catalog.CloudImage
		warnings []catalog.Warning
	)
	for _, ptr := range pointers {
		entries, err := r.remote.List(ctx, ptr.URL)
		if err != nil {
			return nil, nil, &remote.ResolutionError{
				Site: site.Name, Version: version, URL: ptr.URL,
				Reason: "listing unreachable", Err: err,
			}
		}

		files := make([]checksum.File, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir {
				files = append(files, checksum.File{Name: e.Name, URL: e.URL})
			}
		}
		src := checksum.Qualify(files, r.remote, r.logger)

		built, warns, err := catalog.Build(ctx, site, ptr, entries, src, runDate, r.logger)
		if err != nil {
			return nil, nil, err
		}
		images = append(images, built...)
		warnings = append(warnings, warns...)
	}

	return images, warnings, nil
}

func (r *Runner) selectSites(names []string) []config.Site {
	if len(names) == 0 {
		return r.cfg.Sites
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var sites []config.Site
	for _, site := range r.cfg.Sites {
		if want[site.Name] {
			sites = append(sites, site)
		}
	}
	return sites
}
