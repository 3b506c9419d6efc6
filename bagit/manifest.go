package bagit

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// Record is one line of a manifest. For payload manifests Path is relative
// to the payload directory; for tag manifests it is relative to the bag root.
// Checksum is lower case hex.
type Record struct {
	Algorithm string
	Checksum  string
	Path      string
}

// ManifestStore reads and writes the manifest files of the bag at Root.
// It keeps no state between calls.
type ManifestStore struct {
	Fs   afero.Fs
	Root string

	// Preference orders the result of Algorithms().
	Preference []string
}

// Read parses the manifest of the given kind and algorithm. Records are
// returned in file order. A manifest which does not exist reads as empty.
// A malformed line, or a path listed twice, gives a *ManifestParseError.
func (m ManifestStore) Read(kind ManifestKind, alg string) ([]Record, error) {
	alg = strings.ToLower(alg)
	name := ManifestName(kind, alg)
	var result []Record
	seen := make(map[string]int)
	err := readLines(m.Fs, ManifestFile(m.Root, kind, alg), func(n int, line string) error {
		if strings.TrimSpace(line) == "" {
			return nil
		}
		perr := func(reason string) error {
			return &ManifestParseError{File: name, Line: n, Text: line, Reason: reason}
		}
		sum, p := splitField(line)
		if p == "" {
			return perr("missing path")
		}
		if _, err := hex.DecodeString(sum); err != nil || sum == "" {
			return perr("checksum is not hex")
		}
		p = decodePath(p)
		if kind == PayloadManifest {
			p = strings.TrimPrefix(p, DataDir+"/")
		}
		clean, err := cleanRelative(p)
		if err != nil {
			return perr("invalid path")
		}
		if first, ok := seen[clean]; ok {
			return perr(fmt.Sprintf("duplicate of line %d", first))
		}
		seen[clean] = n
		result = append(result, Record{
			Algorithm: alg,
			Checksum:  strings.ToLower(sum),
			Path:      clean,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Write replaces the manifest of the given kind and algorithm with records,
// in the order given. The file is replaced atomically. Records naming the
// same path twice fail with ErrConflict and leave the old manifest alone.
// Checksums must be lower case hex, as Read returns them.
func (m ManifestStore) Write(kind ManifestKind, alg string, records []Record) error {
	alg = strings.ToLower(alg)
	if alg == "" || strings.ContainsAny(alg, "/\\ \t") {
		return errors.Errorf("bad algorithm name %q", alg)
	}
	var lines []string
	seen := make(map[string]bool)
	for _, r := range records {
		p, err := cleanRelative(r.Path)
		if err != nil {
			return err
		}
		if seen[p] {
			return errors.Wrapf(ErrConflict, "%s lists %s twice", ManifestName(kind, alg), p)
		}
		seen[p] = true
		if !isLowerHex(r.Checksum) {
			return errors.Errorf("checksum for %s is not lower case hex: %q", p, r.Checksum)
		}
		if kind == PayloadManifest {
			p = PayloadPath(p)
		}
		// The 2 spaces is to be identical to the GNU md5sum output.
		lines = append(lines, r.Checksum+"  "+encodePath(p)+"\n")
	}
	return writeAtomic(m.Fs, ManifestFile(m.Root, kind, alg), func(w io.Writer) error {
		for _, line := range lines {
			if _, err := io.WriteString(w, line); err != nil {
				return ioError("write", ManifestName(kind, alg), err)
			}
		}
		return nil
	})
}

// Remove deletes the manifest of the given kind and algorithm. It is not an
// error if it does not exist.
func (m ManifestStore) Remove(kind ManifestKind, alg string) error {
	name := ManifestFile(m.Root, kind, alg)
	err := m.Fs.Remove(name)
	if err != nil && !os.IsNotExist(err) {
		return ioError("remove", name, err)
	}
	return nil
}

// Algorithms lists the algorithms having a manifest of the given kind. The
// ones in the preference list come first, in preference order, followed by
// any others sorted by name.
func (m ManifestStore) Algorithms(kind ManifestKind) ([]string, error) {
	entries, err := afero.ReadDir(m.Fs, m.Root)
	if err != nil {
		return nil, ioError("readdir", m.Root, err)
	}
	var found []string
	for _, e := range entries {
		if !e.Mode().IsRegular() {
			continue
		}
		k, alg, ok := ParseManifestName(e.Name())
		if ok && k == kind {
			found = append(found, alg)
		}
	}
	return orderAlgorithms(found, m.Preference), nil
}

func orderAlgorithms(found, preference []string) []string {
	rank := make(map[string]int)
	for i, alg := range preference {
		rank[alg] = i + 1
	}
	sort.Slice(found, func(i, j int) bool {
		ri, rj := rank[found[i]], rank[found[j]]
		switch {
		case ri > 0 && rj > 0:
			return ri < rj
		case ri > 0 || rj > 0:
			return ri > 0
		}
		return found[i] < found[j]
	})
	return found
}

func isLowerHex(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}
	for _, c := range s {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}
