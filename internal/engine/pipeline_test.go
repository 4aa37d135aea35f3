package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cidproject/cid/internal/catalog"
	"github.com/cidproject/cid/internal/checksum"
	"github.com/cidproject/cid/internal/download"
)

type fakeStore struct {
	mu        sync.Mutex
	committed []string
	err       error
}

func (f *fakeStore) Commit(name string, sum checksum.Checksum, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, name+":"+sum.Hex())
	return nil
}

func (f *fakeStore) has(name string, sum checksum.Checksum) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range f.committed {
		if entry == name+":"+sum.Hex() {
			return true
		}
	}
	return false
}

func sumOf(t *testing.T, data []byte) checksum.Checksum {
	t.Helper()
	raw := sha256.Sum256(data)
	sum, err := checksum.ParseHex(hex.EncodeToString(raw[:]))
	if err != nil {
		t.Fatalf("building checksum: %v", err)
	}
	return sum
}

func workItem(name, url, dest string, expected checksum.Checksum) *catalog.CloudImage {
	return &catalog.CloudImage{
		Name:     name,
		URL:      url,
		Site:     "fedora",
		Expected: expected,
		DestPath: filepath.Join(dest, name),
		Status:   catalog.StatusPending,
	}
}

func imageServer(t *testing.T, images map[string][]byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := images[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestPipelineDownloadsAndCommits(t *testing.T) {
	bodyA := []byte("image a content")
	bodyB := []byte("image b content")
	server := imageServer(t, map[string][]byte{"a.qcow2": bodyA, "b.qcow2": bodyB})

	dest := t.TempDir()
	store := &fakeStore{}
	itemA := workItem("a.qcow2", server.URL+"/a.qcow2", dest, sumOf(t, bodyA))
	itemB := workItem("b.qcow2", server.URL+"/b.qcow2", dest, sumOf(t, bodyB))

	p := newPipeline(download.NewClient(nil), store, nil)
	totals := p.run(context.Background(), []*catalog.CloudImage{itemA, itemB}, 2)

	if totals.downloaded != 2 || totals.verified != 2 {
		t.Errorf("totals = %+v, want 2 downloaded and verified", totals)
	}
	if totals.bytes != int64(len(bodyA)+len(bodyB)) {
		t.Errorf("bytes = %d, want %d", totals.bytes, len(bodyA)+len(bodyB))
	}
	for _, img := range []*catalog.CloudImage{itemA, itemB} {
		if img.Status != catalog.StatusVerified {
			t.Errorf("%s status = %s, want verified", img.Name, img.Status)
		}
		if !store.has(img.Name, img.Expected) {
			t.Errorf("%s not committed to history", img.Name)
		}
		if _, err := os.Stat(img.DestPath); err != nil {
			t.Errorf("%s not on disk: %v", img.Name, err)
		}
	}
}

func TestPipelineFailureIsContained(t *testing.T) {
	bodyGood := []byte("good image")
	server := imageServer(t, map[string][]byte{
		"good.qcow2": bodyGood,
		"bad.qcow2":  []byte("tampered content"),
	})

	dest := t.TempDir()
	store := &fakeStore{}
	good := workItem("good.qcow2", server.URL+"/good.qcow2", dest, sumOf(t, bodyGood))
	bad := workItem("bad.qcow2", server.URL+"/bad.qcow2", dest, sumOf(t, []byte("expected content")))

	p := newPipeline(download.NewClient(nil), store, nil)
	totals := p.run(context.Background(), []*catalog.CloudImage{bad, good}, 1)

	if totals.downloaded != 1 {
		t.Errorf("downloaded = %d, want 1", totals.downloaded)
	}
	if bad.Status != catalog.StatusFailed {
		t.Errorf("bad item status = %s, want failed", bad.Status)
	}
	if good.Status != catalog.StatusVerified {
		t.Errorf("good item status = %s, want verified", good.Status)
	}
	if store.has(bad.Name, bad.Expected) {
		t.Error("failed item must not be committed")
	}
	if _, err := os.Stat(bad.DestPath); !os.IsNotExist(err) {
		t.Error("failed item must leave no destination file")
	}
}

func TestPipelineDestinationCollision(t *testing.T) {
	body := []byte("only one of these lands")
	server := imageServer(t, map[string][]byte{"image.qcow2": body})

	dest := t.TempDir()
	store := &fakeStore{}
	first := workItem("image.qcow2", server.URL+"/image.qcow2", dest, sumOf(t, body))
	second := workItem("image.qcow2", server.URL+"/image.qcow2", dest, sumOf(t, body))
	second.Site = "fedora-mirror"

	p := newPipeline(download.NewClient(nil), store, nil)
	p.run(context.Background(), []*catalog.CloudImage{first, second}, 2)

	if first.Status != catalog.StatusVerified {
		t.Errorf("first claimant status = %s, want verified", first.Status)
	}
	if second.Status != catalog.StatusFailed {
		t.Errorf("second claimant status = %s, want failed", second.Status)
	}
	if !strings.Contains(second.FailReason, "already claimed") {
		t.Errorf("unexpected failure reason: %s", second.FailReason)
	}
}

func TestPipelineVerifyOnly(t *testing.T) {
	dest := t.TempDir()
	intact := []byte("verified in place")
	corrupt := []byte("rotted on disk")

	good := workItem("good.qcow2", "http://unused.test/good", dest, sumOf(t, intact))
	good.VerifyOnly = true
	bad := workItem("bad.qcow2", "http://unused.test/bad", dest, sumOf(t, []byte("what it should be")))
	bad.VerifyOnly = true

	if err := os.WriteFile(good.DestPath, intact, 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if err := os.WriteFile(bad.DestPath, corrupt, 0o644); err != nil {
		t.Fatalf("writing file: %v", err)
	}

	store := &fakeStore{}
	p := newPipeline(download.NewClient(nil), store, nil)
	totals := p.run(context.Background(), []*catalog.CloudImage{good, bad}, 2)

	if totals.downloaded != 0 {
		t.Errorf("downloaded = %d, want 0", totals.downloaded)
	}
	if totals.verified != 1 || totals.corrupt != 1 {
		t.Errorf("totals = %+v, want 1 verified and 1 corrupt", totals)
	}
	if good.Status != catalog.StatusVerified || !store.has(good.Name, good.Expected) {
		t.Error("intact file should be verified and committed")
	}
	if bad.Status != catalog.StatusFailed || store.has(bad.Name, bad.Expected) {
		t.Error("corrupt file must fail and stay out of history")
	}

	// The corrupt file is diagnosed, not repaired.
	got, err := os.ReadFile(bad.DestPath)
	if err != nil {
		t.Fatalf("reading corrupt file: %v", err)
	}
	if string(got) != string(corrupt) {
		t.Error("corrupt file was modified")
	}
}

func TestPipelineCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	item := workItem("a.qcow2", "http://unused.test/a", t.TempDir(), sumOf(t, []byte("x")))
	p := newPipeline(download.NewClient(nil), &fakeStore{}, nil)
	p.run(ctx, []*catalog.CloudImage{item}, 1)

	if item.Status != catalog.StatusFailed {
		t.Errorf("status = %s, want failed", item.Status)
	}
	if !strings.Contains(item.FailReason, "cancelled") {
		t.Errorf("unexpected failure reason: %s", item.FailReason)
	}
}
