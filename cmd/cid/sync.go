package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/cidproject/cid/internal/engine"
)

var (
	syncSites          string
	syncMaxConcurrent  int
	syncVerifyExisting bool
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download and verify the latest images from configured sites",
		Long: `Synchronize the local directory tree with the configured sites.

The sync command will:
  1. Resolve each site's version directories to their latest entry
  2. Qualify how each directory publishes checksums
  3. Build the candidate image list and subtract already-owned images
  4. Download, verify, and commit the remainder concurrently

Per-site failures never abort the run; they are reported in the summary.`,
		Example: `  cid sync
  cid sync --site fedora,ubuntu
  cid sync --max-concurrent 8 --verify-existing`,
		RunE: syncRun,
	}

	cmd.Flags().StringVar(&syncSites, "site", "", "comma-separated list of sites to sync (default all)")
	cmd.Flags().IntVar(&syncMaxConcurrent, "max-concurrent", 4, "maximum simultaneous downloads")
	cmd.Flags().BoolVar(&syncVerifyExisting, "verify-existing", false, "checksum unrecorded on-disk files in place instead of re-downloading")

	return cmd
}

func syncRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if len(globalCfg.Sites) == 0 {
		logger.Warn("no sites configured, nothing to do")
		return nil
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close history store", "error", err)
		}
	}()

	opts := engine.Options{
		MaxParallel:    syncMaxConcurrent,
		VerifyExisting: syncVerifyExisting,
	}
	if syncSites != "" {
		for _, name := range strings.Split(syncSites, ",") {
			opts.Sites = append(opts.Sites, strings.TrimSpace(name))
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := engine.NewRunner(globalCfg, store, logger).Run(ctx, opts)
	if err != nil {
		return err
	}

	printSummary(summary)

	if !summary.OK() {
		return fmt.Errorf("sync completed with %d failures", summary.Failed+len(summary.SiteErrors))
	}
	return nil
}

func printSummary(s *engine.Summary) {
	fmt.Println("\n=== SYNC SUMMARY ===")
	fmt.Printf("Requested:  %d\n", s.Requested)
	fmt.Printf("Downloaded: %d (%s)\n", s.Downloaded, humanize.Bytes(uint64(s.BytesTransferred)))
	fmt.Printf("Verified:   %d\n", s.Verified)
	fmt.Printf("Skipped:    %d\n", s.Skipped)
	fmt.Printf("Failed:     %d\n", s.Failed)
	if s.Corrupt > 0 {
		fmt.Printf("Corrupt:    %d\n", s.Corrupt)
	}

	if len(s.Warnings) > 0 {
		fmt.Println("\nExcluded (no checksum source):")
		for _, w := range s.Warnings {
			fmt.Printf("  - %s\n", w)
		}
	}
	if len(s.SiteErrors) > 0 {
		fmt.Println("\nSite errors:")
		for _, e := range s.SiteErrors {
			fmt.Printf("  - %s\n", e)
		}
	}
	if len(s.Failures) > 0 {
		fmt.Println("\nFailed images:")
		for _, f := range s.Failures {
			fmt.Printf("  - %s/%s: %s\n", f.Site, f.Name, f.Reason)
		}
	}
}
