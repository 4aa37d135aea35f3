package history

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cidproject/cid/internal/checksum"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "state", "cid.db"), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func mustChecksum(t *testing.T, hex string) checksum.Checksum {
	t.Helper()
	sum, err := checksum.ParseHex(hex)
	if err != nil {
		t.Fatalf("parsing checksum: %v", err)
	}
	return sum
}

func TestOpenCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "cid.db")
	store, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file not created: %v", err)
	}
}

func TestOpenUnusablePath(t *testing.T) {
	// A directory where the database file should be.
	path := t.TempDir()
	_, err := Open(path, nil)
	if err == nil {
		t.Fatal("expected Open to fail")
	}
	var unavailable *StoreUnavailableError
	if !errors.As(err, &unavailable) {
		t.Errorf("expected StoreUnavailableError, got %T: %v", err, err)
	}
}

func TestCommitAndExists(t *testing.T) {
	store := testStore(t)
	sum := mustChecksum(t, strings.Repeat("ab", 32))

	owned, err := store.Exists("fedora-40.qcow2", sum)
	if err != nil {
		t.Fatalf("Exists returned error: %v", err)
	}
	if owned {
		t.Error("fresh store should not own anything")
	}

	if err := store.Commit("fedora-40.qcow2", sum, time.Now()); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}

	owned, err = store.Exists("fedora-40.qcow2", sum)
	if err != nil {
		t.Fatalf("Exists returned error: %v", err)
	}
	if !owned {
		t.Error("committed pair not reported as owned")
	}

	// Same name with a different checksum is a different pair.
	other := mustChecksum(t, strings.Repeat("cd", 32))
	owned, err = store.Exists("fedora-40.qcow2", other)
	if err != nil {
		t.Fatalf("Exists returned error: %v", err)
	}
	if owned {
		t.Error("uncommitted checksum reported as owned")
	}
}

func TestCommitIsIdempotent(t *testing.T) {
	store := testStore(t)
	sum := mustChecksum(t, strings.Repeat("ab", 32))

	for i := 0; i < 3; i++ {
		if err := store.Commit("fedora-40.qcow2", sum, time.Now()); err != nil {
			t.Fatalf("Commit %d returned error: %v", i, err)
		}
	}

	records, err := store.Records()
	if err != nil {
		t.Fatalf("Records returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record after repeated commits, got %d", len(records))
	}
	if records[0].Name != "fedora-40.qcow2" || records[0].Digest != strings.Repeat("ab", 32) {
		t.Errorf("unexpected record: %+v", records[0])
	}
}

func TestCommitNewChecksumKeepsOldRecord(t *testing.T) {
	store := testStore(t)
	old := mustChecksum(t, strings.Repeat("ab", 32))
	updated := mustChecksum(t, strings.Repeat("cd", 32))

	if err := store.Commit("ubuntu-22.04.img", old, time.Now()); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}
	if err := store.Commit("ubuntu-22.04.img", updated, time.Now()); err != nil {
		t.Fatalf("Commit returned error: %v", err)
	}

	records, err := store.Records()
	if err != nil {
		t.Fatalf("Records returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, rec := range records {
		if owned, err := store.Exists(rec.Name, mustChecksum(t, rec.Digest)); err != nil || !owned {
			t.Errorf("record %+v not owned (owned=%v err=%v)", rec, owned, err)
		}
	}
}

func TestCommitRefusesZeroChecksum(t *testing.T) {
	store := testStore(t)
	if err := store.Commit("mystery.qcow2", checksum.Checksum{}, time.Now()); err == nil {
		t.Error("expected Commit without a checksum to fail")
	}
}
