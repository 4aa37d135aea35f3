package checksum

import (
	"fmt"
	"io"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Checksum is an algorithm-qualified digest of an image's bytes.
// The zero value means "no checksum known".
type Checksum struct {
	dgst digest.Digest
}

// New builds a Checksum from an algorithm and a lowercase hex digest.
func New(alg digest.Algorithm, hexDigest string) (Checksum, error) {
	d := digest.NewDigestFromEncoded(alg, strings.ToLower(hexDigest))
	if err := d.Validate(); err != nil {
		return Checksum{}, fmt.Errorf("invalid %s digest %q: %w", alg, hexDigest, err)
	}
	return Checksum{dgst: d}, nil
}

// ParseHex infers the algorithm from the hex digest length:
// 64 characters is SHA-256, 128 is SHA-512.
func ParseHex(hexDigest string) (Checksum, error) {
	switch len(hexDigest) {
	case 64:
		return New(digest.SHA256, hexDigest)
	case 128:
		return New(digest.SHA512, hexDigest)
	default:
		return Checksum{}, fmt.Errorf("digest %q has length %d, want 64 (sha256) or 128 (sha512)", hexDigest, len(hexDigest))
	}
}

// FromReader computes the checksum of everything in r using alg.
func FromReader(alg digest.Algorithm, r io.Reader) (Checksum, error) {
	d, err := alg.FromReader(r)
	if err != nil {
		return Checksum{}, err
	}
	return Checksum{dgst: d}, nil
}

// Algorithm returns the digest algorithm, or "" for the zero Checksum.
func (c Checksum) Algorithm() digest.Algorithm {
	if c.IsZero() {
		return ""
	}
	return c.dgst.Algorithm()
}

// Hex returns the lowercase hex digest without the algorithm prefix.
func (c Checksum) Hex() string {
	if c.IsZero() {
		return ""
	}
	return c.dgst.Encoded()
}

// Digest returns the underlying algorithm-prefixed digest.
func (c Checksum) Digest() digest.Digest {
	return c.dgst
}

// Digester returns a streaming digester for this checksum's algorithm.
func (c Checksum) Digester() digest.Digester {
	return c.dgst.Algorithm().Digester()
}

// Equal reports whether both checksums use the same algorithm and digest.
func (c Checksum) Equal(other Checksum) bool {
	return c.dgst == other.dgst
}

// IsZero reports whether no checksum is set.
func (c Checksum) IsZero() bool {
	return c.dgst == ""
}

func (c Checksum) String() string {
	return string(c.dgst)
}
