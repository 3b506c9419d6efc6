package bagit

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/ndlib/bagkeeper/util"
)

var (
	// ErrConflict means a destination already exists, either as a payload
	// file or as a fetch declaration.
	ErrConflict = errors.New("bag file exists")

	// ErrNotFound means the target of an operation is absent.
	ErrNotFound = errors.New("bag file does not exist")

	// ErrInvalidPath means a relative path would escape its directory.
	ErrInvalidPath = errors.New("invalid bag path")

	// ErrUnsupportedAlgorithm means the checksum provider cannot compute
	// the requested digest.
	ErrUnsupportedAlgorithm = util.ErrUnsupportedAlgorithm
)

// IOError records a failure to create or access a file or directory in a bag.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

// Unwrap gives the underlying file system error.
func (e *IOError) Unwrap() error { return e.Err }

// Cause lets errors.Cause see through an IOError.
func (e *IOError) Cause() error { return e.Err }

func ioError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// ManifestParseError describes a malformed line in a manifest or fetch file.
// Line numbers start at 1.
type ManifestParseError struct {
	File   string
	Line   int
	Text   string
	Reason string
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %q", e.File, e.Line, e.Reason, e.Text)
}

// ValidationError is returned by Report.Err() for a bag which did not
// verify. It carries the full report.
type ValidationError struct {
	Report *Report
}

func (e *ValidationError) Error() string {
	r := e.Report
	var parts []string
	if n := len(r.Extra); n > 0 {
		parts = append(parts, fmt.Sprintf("%d extra", n))
	}
	if n := len(r.Missing()); n > 0 {
		parts = append(parts, fmt.Sprintf("%d missing", n))
	}
	if n := len(r.Mismatched()); n > 0 {
		parts = append(parts, fmt.Sprintf("%d mismatched", n))
	}
	if len(r.Payload) == 0 {
		parts = append(parts, "no payload manifest")
	}
	return "bag is not valid: " + strings.Join(parts, ", ")
}
