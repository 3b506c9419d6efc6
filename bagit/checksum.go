package bagit

import (
	"io"

	"github.com/ndlib/bagkeeper/util"
)

// ChecksumProvider computes the hex encoded digest of a stream under a named
// algorithm. Unknown algorithms fail with ErrUnsupportedAlgorithm.
type ChecksumProvider interface {
	Digest(r io.Reader, algorithm string) (string, error)
}

// MultiChecksumProvider is implemented by providers which can compute
// several digests in one pass over a stream.
type MultiChecksumProvider interface {
	ChecksumProvider
	DigestAll(r io.Reader, algorithms []string) (map[string]string, error)
}

// ChecksumFunc adapts a function into a ChecksumProvider.
type ChecksumFunc func(r io.Reader, algorithm string) (string, error)

// Digest calls f.
func (f ChecksumFunc) Digest(r io.Reader, algorithm string) (string, error) {
	return f(r, algorithm)
}

// DefaultChecksums supports md5, sha1, sha256 and sha512.
var DefaultChecksums MultiChecksumProvider = hashWriterChecksums{}

type hashWriterChecksums struct{}

func (hashWriterChecksums) Digest(r io.Reader, algorithm string) (string, error) {
	return util.Digest(r, algorithm)
}

func (hashWriterChecksums) DigestAll(r io.Reader, algorithms []string) (map[string]string, error) {
	hw, err := util.NewHashWriter(nil, algorithms...)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(hw, r); err != nil {
		return nil, err
	}
	result := make(map[string]string)
	for _, alg := range algorithms {
		result[alg] = hw.Sum(alg)
	}
	return result, nil
}
