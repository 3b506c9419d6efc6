package bagit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// UnknownSize marks a fetch entry whose length is not declared. It is
// written as "-".
const UnknownSize = -1

// FetchEntry declares a payload file which is retrieved from URL instead of
// being stored in the bag. Path is relative to the bag root, and so begins
// with "data/".
type FetchEntry struct {
	URL  string
	Size int64
	Path string
}

// FetchList reads and writes fetch.txt for the bag at Root. It keeps no
// state between calls.
type FetchList struct {
	Fs   afero.Fs
	Root string
}

// Read parses fetch.txt. A missing file reads as an empty list.
func (f FetchList) Read() ([]FetchEntry, error) {
	var result []FetchEntry
	seen := make(map[string]int)
	err := readLines(f.Fs, FetchFile(f.Root), func(n int, line string) error {
		if strings.TrimSpace(line) == "" {
			return nil
		}
		perr := func(reason string) error {
			return &ManifestParseError{File: FetchTxt, Line: n, Text: line, Reason: reason}
		}
		url, rest := splitField(line)
		size, p := splitField(rest)
		if p == "" {
			return perr("expected url, size and path")
		}
		e := FetchEntry{URL: url, Size: UnknownSize}
		if size != "-" {
			v, err := strconv.ParseInt(size, 10, 64)
			if err != nil || v < 0 {
				return perr("bad size")
			}
			e.Size = v
		}
		clean, err := cleanPayloadPath(decodePath(p))
		if err != nil {
			return perr("path is not in the payload directory")
		}
		if first, ok := seen[clean]; ok {
			return perr(fmt.Sprintf("duplicate of line %d", first))
		}
		seen[clean] = n
		e.Path = clean
		result = append(result, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Write replaces fetch.txt with entries. It fails with ErrConflict if two
// entries share a path or if an entry's path is a file already present in
// the payload directory. An empty list removes fetch.txt.
func (f FetchList) Write(entries []FetchEntry) error {
	var lines []string
	seen := make(map[string]bool)
	for _, e := range entries {
		p, err := cleanPayloadPath(e.Path)
		if err != nil {
			return err
		}
		if e.URL == "" || strings.ContainsAny(e.URL, " \t\r\n") {
			return errors.Errorf("bad url for %s: %q", p, e.URL)
		}
		if seen[p] {
			return errors.Wrapf(ErrConflict, "%s declared twice in %s", p, FetchTxt)
		}
		seen[p] = true
		fi, err := lstat(f.Fs, filepath.Join(f.Root, filepath.FromSlash(p)))
		if err == nil && !fi.IsDir() {
			return errors.Wrapf(ErrConflict, "%s is present in the payload", p)
		}
		size := "-"
		if e.Size >= 0 {
			size = strconv.FormatInt(e.Size, 10)
		}
		lines = append(lines, e.URL+" "+size+" "+encodePath(p)+"\n")
	}
	name := FetchFile(f.Root)
	if len(lines) == 0 {
		err := f.Fs.Remove(name)
		if err != nil && !os.IsNotExist(err) {
			return ioError("remove", name, err)
		}
		return nil
	}
	return writeAtomic(f.Fs, name, func(w io.Writer) error {
		for _, line := range lines {
			if _, err := io.WriteString(w, line); err != nil {
				return ioError("write", name, err)
			}
		}
		return nil
	})
}

// Declares reports whether fetch.txt lists the given bag relative path.
func (f FetchList) Declares(p string) (bool, error) {
	entries, err := f.Read()
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Path == p {
			return true, nil
		}
	}
	return false, nil
}

// cleanPayloadPath cleans a bag relative path and requires it to be inside
// the payload directory.
func cleanPayloadPath(p string) (string, error) {
	clean, err := cleanRelative(p)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(clean, DataDir+"/") {
		return "", errors.Wrapf(ErrInvalidPath, "%q is outside %s/", p, DataDir)
	}
	return clean, nil
}
