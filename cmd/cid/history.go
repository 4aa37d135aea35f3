package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var historyNameFilter string

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List verified downloads recorded in the history database",
		Example: `  cid history
  cid history --name ubuntu`,
		RunE: historyRun,
	}

	cmd.Flags().StringVar(&historyNameFilter, "name", "", "only show records whose name contains this substring")

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close history store", "error", err)
		}
	}()

	records, err := store.Records()
	if err != nil {
		return err
	}

	shown := 0
	for _, rec := range records {
		if historyNameFilter != "" && !strings.Contains(rec.Name, historyNameFilter) {
			continue
		}
		digest := rec.Digest
		if len(digest) > 16 {
			digest = digest[:16] + "…"
		}
		fmt.Printf("%s  %s  %s:%s\n",
			rec.CommittedAt.Format("2006-01-02 15:04"), rec.Name, rec.Algorithm, digest)
		shown++
	}

	if shown == 0 {
		fmt.Println("no history records")
	}
	return nil
}
