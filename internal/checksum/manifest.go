package checksum

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"
)

// bsdLineRegex matches BSD-style manifest lines as published by Fedora and
// CentOS CHECKSUM files: "SHA256 (disk.qcow2) = <hex>".
var bsdLineRegex = regexp.MustCompile(`^(?:SHA|sha)(?:256|512)\s*\(([^)]+)\)\s*=\s*([0-9a-fA-F]+)$`)

// Manifest maps image names to their published checksums.
type Manifest struct {
	sums map[string]Checksum

	// SkippedLines counts malformed lines that were ignored during parsing.
	SkippedLines int
}

// ParseManifest parses an aggregate checksum file. Both the coreutils format
// ("<hex>  <name>") and the BSD format ("SHA256 (<name>) = <hex>") appear in
// the wild, sometimes mixed in the same file, so each line is tried against
// both. Malformed lines are skipped and counted, never fatal.
func ParseManifest(data []byte) *Manifest {
	m := &Manifest{sums: make(map[string]Checksum)}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// PGP-signed manifests carry armor framing around the payload.
		if strings.HasPrefix(line, "-----") {
			continue
		}

		name, sum, ok := parseManifestLine(line)
		if !ok {
			m.SkippedLines++
			continue
		}
		m.sums[name] = sum
	}

	return m
}

// parseManifestLine extracts (name, checksum) from a single manifest line.
func parseManifestLine(line string) (string, Checksum, bool) {
	if bm := bsdLineRegex.FindStringSubmatch(line); bm != nil {
		sum, err := ParseHex(bm[2])
		if err != nil {
			return "", Checksum{}, false
		}
		return cleanManifestName(bm[1]), sum, true
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", Checksum{}, false
	}
	sum, err := ParseHex(fields[0])
	if err != nil {
		return "", Checksum{}, false
	}
	return cleanManifestName(fields[1]), sum, true
}

// cleanManifestName strips the coreutils binary-mode marker and any leading
// "./" so lookups work on bare file names.
func cleanManifestName(name string) string {
	name = strings.TrimPrefix(name, "*")
	name = strings.TrimPrefix(name, "./")
	return name
}

// Lookup returns the checksum recorded for name.
func (m *Manifest) Lookup(name string) (Checksum, bool) {
	sum, ok := m.sums[name]
	return sum, ok
}

// Len returns the number of (name, checksum) entries parsed.
func (m *Manifest) Len() int {
	return len(m.sums)
}
