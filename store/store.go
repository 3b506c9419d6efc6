// Package store provides stream based key-value stores which can be used as
// the source of payload files added to a bag. Instead of values being an
// opaque array of bytes, they are a stream. This approach allows large
// files to be copied without holding them in memory.
//
// Keys are slash separated paths, e.g. "scans/0001.tif".
package store

import (
	"io"

	"github.com/pkg/errors"
)

// ReadAtCloser combines the io.ReaderAt and io.Closer interfaces.
type ReadAtCloser interface {
	io.ReaderAt
	io.Closer
}

// ROStore is the read-only pieces of a Store. It allows one to list contents,
// and to retrieve data. This is all a bag needs from a payload source.
type ROStore interface {
	List() <-chan string
	ListPrefix(prefix string) ([]string, error)
	Open(key string) (ReadAtCloser, int64, error)
}

// Store defines the basic stream based key-value store.
type Store interface {
	ROStore
	Create(key string) (io.WriteCloser, error)
	Delete(key string) error
}

var (
	// ErrKeyExists indicates an attempt to create a key which already exists
	ErrKeyExists = errors.New("key already exists")

	// ErrNotExist means there is no value stored under a key
	ErrNotExist = errors.New("key does not exist")

	// ErrBadKey means the key is empty, absolute, or climbs out of the store
	ErrBadKey = errors.New("bad key")
)

// NewReader converts a ReaderAt into a io.Reader. It is here as a utility to
// help work with the ReadAtCloser returned by Open.
func NewReader(r io.ReaderAt) io.Reader {
	return &reader{r: r}
}

type reader struct {
	r   io.ReaderAt
	off int64
}

func (r *reader) Read(p []byte) (n int, err error) {
	n, err = r.r.ReadAt(p, r.off)
	r.off += int64(n)
	if err == io.EOF && n > 0 {
		// reading less than a full buffer is not an error for
		// an io.Reader
		err = nil
	}
	return
}
