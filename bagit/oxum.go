package bagit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Oxum is the "octet-stream sum" of a payload: the total number of bytes
// and the number of files.
type Oxum struct {
	Bytes int64
	Count int
}

// String gives the Payload-Oxum form, "bytes.count".
func (o Oxum) String() string {
	return fmt.Sprintf("%d.%d", o.Bytes, o.Count)
}

// ParseOxum reads a value in "bytes.count" form.
func ParseOxum(s string) (Oxum, error) {
	s = strings.TrimSpace(s)
	i := strings.Index(s, ".")
	if i <= 0 || i == len(s)-1 {
		return Oxum{}, errors.Errorf("malformed oxum %q", s)
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil || n < 0 {
		return Oxum{}, errors.Errorf("malformed oxum %q", s)
	}
	c, err := strconv.Atoi(s[i+1:])
	if err != nil || c < 0 {
		return Oxum{}, errors.Errorf("malformed oxum %q", s)
	}
	return Oxum{Bytes: n, Count: c}, nil
}

// PayloadEntry is a payload file and its size. Path is relative to the
// payload directory and slash separated.
type PayloadEntry struct {
	Path string
	Size int64
}

// ComputeOxum sums the sizes and counts the entries. The order of entries
// does not matter.
func ComputeOxum(entries []PayloadEntry) Oxum {
	var o Oxum
	for _, e := range entries {
		o.Bytes += e.Size
	}
	o.Count = len(entries)
	return o
}
