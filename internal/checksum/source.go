package checksum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Mode tells how a remote directory publishes its checksums.
type Mode int

const (
	// ModeNone means no recognized checksum convention was found.
	ModeNone Mode = iota
	// ModeOneFile means a single aggregate manifest covers every image.
	ModeOneFile
	// ModeEveryFile means each image has its own sidecar checksum file.
	ModeEveryFile
)

func (m Mode) String() string {
	switch m {
	case ModeOneFile:
		return "one-file"
	case ModeEveryFile:
		return "every-file"
	default:
		return "none"
	}
}

// ErrNoChecksumSource is returned when a directory publishes no usable
// checksum for an image. The image is excluded from the work list; the
// error is never fatal to the run.
var ErrNoChecksumSource = errors.New("no checksum source for image")

// ParseError reports a manifest or sidecar whose content yielded no usable
// digest for the requested image.
type ParseError struct {
	File string
	Name string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no parsable checksum for %q in %s", e.Name, e.File)
}

// File is one entry of a remote directory listing, as seen by the qualifier.
type File struct {
	Name string
	URL  string
}

// Fetcher retrieves the raw content of a small remote file (manifest or
// sidecar). Implemented by remote.Client.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// sidecarSuffixes are the per-image checksum file suffixes seen in the wild.
// The upper-case variants are what Fedora cloud directories serve.
var sidecarSuffixes = []string{".sha256", ".sha512", ".SHA256SUM", ".SHA512SUM"}

// isAggregateManifest reports whether name is a recognized aggregate
// checksum manifest. "-CHECKSUM" is Fedora, "CHECKSUM" is CentOS,
// "SHA256SUMS"/"SHA512SUMS" is Ubuntu.
func isAggregateManifest(name string) bool {
	if name == "CHECKSUM" || name == "SHA256SUMS" || name == "SHA512SUMS" {
		return true
	}
	if strings.HasSuffix(name, "-CHECKSUM") {
		return true
	}
	return strings.HasSuffix(name, ".sha256sum") || strings.HasSuffix(name, ".sha512sum")
}

// IsChecksumArtifact reports whether name is a checksum file of either
// convention rather than a downloadable image.
func IsChecksumArtifact(name string) bool {
	if isAggregateManifest(name) {
		return true
	}
	for _, suffix := range sidecarSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Source answers "what is the expected checksum of image X?" for one
// resolved remote directory. Aggregate manifests are fetched and parsed at
// most once; sidecars are fetched lazily per image.
type Source struct {
	mode     Mode
	fetcher  Fetcher
	logger   *slog.Logger
	manifest File            // set for ModeOneFile
	sidecars map[string]File // image name -> sidecar entry, set for ModeEveryFile

	once   sync.Once
	parsed *Manifest
	err    error
}

// Qualify inspects a directory listing and decides how its checksums are
// published. Exactly one aggregate manifest wins (it minimizes fetches, and
// two manifests would be ambiguous); otherwise any per-image sidecars are
// used. A Source is always returned; with ModeNone every Lookup fails with
// ErrNoChecksumSource.
func Qualify(files []File, fetcher Fetcher, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}

	var manifests []File
	sidecars := make(map[string]File)

	for _, f := range files {
		if isAggregateManifest(f.Name) {
			manifests = append(manifests, f)
			continue
		}
		for _, suffix := range sidecarSuffixes {
			if strings.HasSuffix(f.Name, suffix) {
				sidecars[strings.TrimSuffix(f.Name, suffix)] = f
				break
			}
		}
	}

	switch {
	case len(manifests) == 1:
		logger.Debug("qualified checksum source", "mode", ModeOneFile, "manifest", manifests[0].Name)
		return &Source{mode: ModeOneFile, fetcher: fetcher, logger: logger, manifest: manifests[0]}
	case len(sidecars) > 0:
		if len(manifests) > 1 {
			logger.Warn("multiple aggregate manifests in listing, falling back to sidecars", "count", len(manifests))
		}
		logger.Debug("qualified checksum source", "mode", ModeEveryFile, "sidecars", len(sidecars))
		return &Source{mode: ModeEveryFile, fetcher: fetcher, logger: logger, sidecars: sidecars}
	default:
		logger.Debug("qualified checksum source", "mode", ModeNone)
		return &Source{mode: ModeNone, logger: logger}
	}
}

// Mode returns how this source publishes checksums.
func (s *Source) Mode() Mode {
	return s.mode
}

// Lookup returns the expected checksum for the named image.
func (s *Source) Lookup(ctx context.Context, name string) (Checksum, error) {
	switch s.mode {
	case ModeOneFile:
		return s.lookupManifest(ctx, name)
	case ModeEveryFile:
		return s.lookupSidecar(ctx, name)
	default:
		return Checksum{}, fmt.Errorf("%w: %s", ErrNoChecksumSource, name)
	}
}

func (s *Source) lookupManifest(ctx context.Context, name string) (Checksum, error) {
	s.once.Do(func() {
		data, err := s.fetcher.Fetch(ctx, s.manifest.URL)
		if err != nil {
			s.err = fmt.Errorf("fetching manifest %s: %w", s.manifest.Name, err)
			return
		}
		s.parsed = ParseManifest(data)
		if s.parsed.SkippedLines > 0 {
			s.logger.Warn("skipped malformed manifest lines",
				"manifest", s.manifest.Name, "skipped", s.parsed.SkippedLines, "parsed", s.parsed.Len())
		}
	})
	if s.err != nil {
		return Checksum{}, s.err
	}

	sum, ok := s.parsed.Lookup(name)
	if !ok {
		return Checksum{}, &ParseError{File: s.manifest.Name, Name: name}
	}
	return sum, nil
}

func (s *Source) lookupSidecar(ctx context.Context, name string) (Checksum, error) {
	sidecar, ok := s.sidecars[name]
	if !ok {
		return Checksum{}, fmt.Errorf("%w: %s", ErrNoChecksumSource, name)
	}

	data, err := s.fetcher.Fetch(ctx, sidecar.URL)
	if err != nil {
		return Checksum{}, fmt.Errorf("fetching sidecar %s: %w", sidecar.Name, err)
	}

	m := ParseManifest(data)
	if sum, ok := m.Lookup(name); ok {
		return sum, nil
	}
	// Some sidecars carry a bare digest with no file name column.
	if fields := strings.Fields(strings.TrimSpace(string(data))); len(fields) == 1 {
		if sum, err := ParseHex(fields[0]); err == nil {
			return sum, nil
		}
	}
	return Checksum{}, &ParseError{File: sidecar.Name, Name: name}
}
