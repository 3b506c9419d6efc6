// Package bagit maintains BagIt bags stored as plain directories. A bag is a
// directory holding a "data/" payload directory together with the tag files
// describing it: bagit.txt, bag-info.txt, one manifest per checksum algorithm,
// one tag manifest per algorithm and an optional fetch.txt.
//
// The package keeps the bookkeeping files consistent with the payload as
// files are added and removed. Checksums are not calculated when payload files
// are added. They are calculated when manifests are (explicitly) generated
// with Manifest(), and when a bag is (explicitly) verified with Verify().
//
// A Bag is a view over a directory. It does no locking. Only one writer should
// use a bag directory at a time; arranging that is up to the caller.
//
// All file access goes through an afero.Fs so bags may live on the OS file
// system or in memory.
//
// The BagIt spec can be found at https://www.rfc-editor.org/rfc/rfc8493.
package bagit

import "github.com/spf13/afero"

const (
	// Version is the version of the BagIt specification written into new
	// bagit.txt files.
	Version = "1.0"

	// Encoding is the tag file character encoding declared in bagit.txt.
	Encoding = "UTF-8"

	// SoftwareAgent is recorded in the Bag-Software-Agent tag.
	SoftwareAgent = "bagkeeper (https://github.com/ndlib/bagkeeper)"
)

// DefaultAlgorithms is the preference order used to pick among manifests
// when more than one checksum algorithm is present. The first one is what
// Manifest() generates for a bag which has no manifests yet.
var DefaultAlgorithms = []string{"sha512", "sha256", "sha1", "md5"}

// Options configure a Bag. The zero value is not useful; start from
// DefaultOptions().
type Options struct {
	// Algorithms is the preference order of checksum algorithms. The first
	// tag manifest found in this order defines the bag's tag files.
	Algorithms []string

	// Checksums computes digests for Verify and Manifest.
	Checksums ChecksumProvider

	// TagWriter persists bag-info.txt after the payload changes.
	TagWriter TagWriter

	// Parallel is the number of files hashed at once. Values below one
	// mean one.
	Parallel int

	// SourceFs is where FromFile items are read from. If nil the bag's
	// own file system is used.
	SourceFs afero.Fs
}

// Option changes one field of Options.
type Option func(*Options)

// DefaultOptions returns the options used by Open when none are given.
func DefaultOptions() Options {
	return Options{
		Algorithms: DefaultAlgorithms,
		Checksums:  DefaultChecksums,
		TagWriter:  InfoFileWriter{},
		Parallel:   4,
	}
}

// WithAlgorithms sets the algorithm preference order.
func WithAlgorithms(algs ...string) Option {
	return func(o *Options) {
		if len(algs) > 0 {
			o.Algorithms = normalizeAlgorithms(algs)
		}
	}
}

// WithChecksums replaces the checksum provider.
func WithChecksums(c ChecksumProvider) Option {
	return func(o *Options) { o.Checksums = c }
}

// WithTagWriter replaces the bag-info writer.
func WithTagWriter(w TagWriter) Option {
	return func(o *Options) { o.TagWriter = w }
}

// WithSourceFs sets the file system FromFile items are copied from.
func WithSourceFs(fs afero.Fs) Option {
	return func(o *Options) { o.SourceFs = fs }
}

// WithParallel sets how many files are hashed concurrently.
func WithParallel(n int) Option {
	return func(o *Options) { o.Parallel = n }
}
