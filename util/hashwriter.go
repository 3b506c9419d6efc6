package util

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnsupportedAlgorithm is returned when asked for a checksum algorithm
// this package does not know.
var ErrUnsupportedAlgorithm = errors.New("unsupported checksum algorithm")

var algorithms = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// Algorithms lists the checksum algorithm names understood by NewHashWriter,
// sorted by name.
func Algorithms() []string {
	var result []string
	for name := range algorithms {
		result = append(result, name)
	}
	sort.Strings(result)
	return result
}

// Supported reports whether the named algorithm can be computed.
func Supported(name string) bool {
	_, ok := algorithms[strings.ToLower(name)]
	return ok
}

// A HashWriter wraps an io.Writer and also calculates a hash of the bytes
// written for each of a set of algorithms.
type HashWriter struct {
	io.Writer // our io.MultiWriter
	hashes    map[string]hash.Hash
	n         int64
}

// NewHashWriter returns a HashWriter wrapping w and computing the named
// algorithms. Pass a nil w to only compute the checksums.
func NewHashWriter(w io.Writer, algs ...string) (*HashWriter, error) {
	hw := &HashWriter{hashes: make(map[string]hash.Hash)}
	var targets []io.Writer
	if w != nil {
		targets = append(targets, w)
	}
	for _, name := range algs {
		name = strings.ToLower(name)
		if _, ok := hw.hashes[name]; ok {
			continue
		}
		f, ok := algorithms[name]
		if !ok {
			return nil, errors.Wrap(ErrUnsupportedAlgorithm, name)
		}
		h := f()
		hw.hashes[name] = h
		targets = append(targets, h)
	}
	hw.Writer = io.MultiWriter(targets...)
	return hw, nil
}

func (hw *HashWriter) Write(p []byte) (int, error) {
	n, err := hw.Writer.Write(p)
	hw.n += int64(n)
	return n, err
}

// Size returns the number of bytes written so far.
func (hw *HashWriter) Size() int64 { return hw.n }

// Sum returns the hex encoded checksum for the named algorithm of everything
// written so far. It returns the empty string if the algorithm is not being
// computed by this writer.
func (hw *HashWriter) Sum(alg string) string {
	h, ok := hw.hashes[strings.ToLower(alg)]
	if !ok {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Digest reads r to the end and returns its hex encoded checksum under alg.
// The reader is not closed.
func Digest(r io.Reader, alg string) (string, error) {
	hw, err := NewHashWriter(nil, alg)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(hw, r); err != nil {
		return "", err
	}
	return hw.Sum(alg), nil
}
