package main

import (
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/cidproject/cid/internal/catalog"
	"github.com/cidproject/cid/internal/engine"
)

func TestNewSyncCmdFlagWiring(t *testing.T) {
	origSites, origMax, origVerify := syncSites, syncMaxConcurrent, syncVerifyExisting
	t.Cleanup(func() {
		syncSites, syncMaxConcurrent, syncVerifyExisting = origSites, origMax, origVerify
	})

	cmd := newSyncCmd()

	if flag := cmd.Flags().Lookup("max-concurrent"); flag == nil || flag.DefValue != "4" {
		t.Fatalf("unexpected max-concurrent flag: %+v", flag)
	}
	if flag := cmd.Flags().Lookup("verify-existing"); flag == nil || flag.DefValue != "false" {
		t.Fatalf("unexpected verify-existing flag: %+v", flag)
	}

	if err := cmd.Flags().Parse([]string{"--site", "fedora, ubuntu", "--max-concurrent", "8", "--verify-existing"}); err != nil {
		t.Fatalf("parsing flags: %v", err)
	}
	if syncSites != "fedora, ubuntu" || syncMaxConcurrent != 8 || !syncVerifyExisting {
		t.Errorf("flags not bound: site=%q max=%d verify=%v", syncSites, syncMaxConcurrent, syncVerifyExisting)
	}
}

func TestPrintSummary(t *testing.T) {
	summary := &engine.Summary{
		Requested:        3,
		Downloaded:       1,
		Verified:         1,
		Skipped:          1,
		Failed:           1,
		BytesTransferred: 2048,
		Failures: []engine.ItemFailure{
			{Site: "fedora", Name: "broken.qcow2", Reason: "checksum mismatch"},
		},
		Warnings: []catalog.Warning{
			{Site: "ubuntu", Name: "orphan.img", Err: errors.New("no checksum source for image")},
		},
		SiteErrors: []engine.SiteError{
			{Site: "ghost", Version: "9", Err: errors.New("listing unreachable")},
		},
	}

	out := captureStdout(t, func() { printSummary(summary) })

	for _, want := range []string{
		"Requested:  3",
		"Downloaded: 1 (2.0 kB)",
		"Skipped:    1",
		"fedora/broken.qcow2: checksum mismatch",
		"ubuntu: orphan.img: no checksum source for image",
		"ghost 9: listing unreachable",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary output missing %q, got:\n%s", want, out)
		}
	}
}

func TestPrintSummaryOmitsEmptySections(t *testing.T) {
	out := captureStdout(t, func() { printSummary(&engine.Summary{Requested: 1, Skipped: 1}) })

	for _, unwanted := range []string{"Corrupt", "Excluded", "Site errors", "Failed images"} {
		if strings.Contains(out, unwanted) {
			t.Errorf("clean summary should not print %q, got:\n%s", unwanted, out)
		}
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	_ = w.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("reading captured stdout: %v", err)
	}
	_ = r.Close()
	return string(data)
}
