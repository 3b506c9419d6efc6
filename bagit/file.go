package bagit

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

var errNotDirectory = errors.New("not a directory")

// lstat does not follow a final symbolic link when the file system can
// tell the difference.
func lstat(fs afero.Fs, name string) (os.FileInfo, error) {
	if l, ok := fs.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(name)
		return fi, err
	}
	return fs.Stat(name)
}

// mkdir makes sure dir exists and is a directory.
func mkdir(fs afero.Fs, dir string) error {
	fi, err := fs.Stat(dir)
	switch {
	case err == nil && !fi.IsDir():
		return ioError("mkdir", dir, errNotDirectory)
	case err == nil:
		return nil
	case !os.IsNotExist(err):
		return ioError("mkdir", dir, err)
	}
	return ioError("mkdir", dir, fs.MkdirAll(dir, 0775))
}

// writeAtomic writes a file by filling a temporary file in the same
// directory and then renaming it over name. Readers see either the old
// contents or the new, never a partial file. Errors returned by fill are
// passed back unchanged.
func writeAtomic(fs afero.Fs, name string, fill func(w io.Writer) error) error {
	tmp, err := afero.TempFile(fs, filepath.Dir(name), "."+filepath.Base(name)+".*")
	if err != nil {
		return ioError("create", name, err)
	}
	tmpname := tmp.Name()
	bw := bufio.NewWriter(tmp)
	if err = fill(bw); err != nil {
		tmp.Close()
		fs.Remove(tmpname)
		return err
	}
	err = bw.Flush()
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = fs.Rename(tmpname, name)
	}
	if err != nil {
		fs.Remove(tmpname)
		return ioError("write", name, err)
	}
	return nil
}

// readLines calls fn for each line of the named file, with line numbers
// starting at 1. Trailing carriage returns are removed. A file which does
// not exist has no lines and is not an error.
func readLines(fs afero.Fs, name string, fn func(n int, line string) error) error {
	f, err := fs.Open(name)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return ioError("open", name, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var n int
	for scanner.Scan() {
		n++
		if err := fn(n, strings.TrimSuffix(scanner.Text(), "\r")); err != nil {
			return err
		}
	}
	return ioError("read", name, scanner.Err())
}

// splitField returns the first whitespace delimited field of line and the
// remainder with its leading whitespace removed.
func splitField(line string) (string, string) {
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimLeft(line[i:], " \t")
}

// Paths inside manifests and fetch.txt percent-encode the characters that
// would otherwise break the line format.
var (
	pathEncoder = strings.NewReplacer("%", "%25", "\n", "%0A", "\r", "%0D")
	pathDecoder = strings.NewReplacer("%25", "%", "%0A", "\n", "%0a", "\n", "%0D", "\r", "%0d", "\r")
)

func encodePath(p string) string { return pathEncoder.Replace(p) }
func decodePath(p string) string { return pathDecoder.Replace(p) }
