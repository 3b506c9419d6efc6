package store

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Directory is a store over a directory tree. A key is the slash separated
// path of a file below the root, so any existing directory can be used as a
// payload source.
type Directory struct {
	fs   afero.Fs
	root string
}

const (
	// the subdir to store files while they are being written to.
	scratchdir = ".scratch"
)

var (
	// make sure it implements the Store interface
	_ Store = &Directory{}
)

// NewDirectory creates a Directory store based at root on fs.
func NewDirectory(fs afero.Fs, root string) *Directory {
	return &Directory{fs: fs, root: filepath.Clean(root)}
}

// keyPath checks a key and gives the file name for it.
func (s *Directory) keyPath(key string) (string, error) {
	clean := path.Clean("/" + key)[1:]
	if key == "" || clean == "" || clean != key || strings.HasPrefix(key, scratchdir+"/") {
		return "", errors.Wrap(ErrBadKey, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// List returns a channel listing all the keys in this store.
func (s *Directory) List() <-chan string {
	c := make(chan string)
	go func() {
		defer close(c)
		keys, err := s.ListPrefix("")
		if err != nil {
			// we have no other way of passing this error back
			log.WithFields(log.Fields{"root": s.root, "err": err}).Error("listing directory store")
			raven.CaptureError(err, map[string]string{"Root": s.root})
			return
		}
		for _, k := range keys {
			c <- k
		}
	}()
	return c
}

// ListPrefix returns the sorted keys beginning with prefix. Hidden files and
// directories are skipped, as are symbolic links.
func (s *Directory) ListPrefix(prefix string) ([]string, error) {
	var result []string
	err := afero.Walk(s.fs, s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if p != s.root && strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			result = append(result, key)
		}
		return nil
	})
	sort.Strings(result)
	return result, err
}

// Open returns a reader for the given key along with its size.
func (s *Directory) Open(key string) (ReadAtCloser, int64, error) {
	fname, err := s.keyPath(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := s.fs.Open(fname)
	if os.IsNotExist(err) {
		return nil, 0, errors.Wrap(ErrNotExist, key)
	} else if err != nil {
		return nil, 0, err
	}
	fi, err := f.Stat()
	if err == nil && fi.IsDir() {
		err = errors.Wrap(ErrNotExist, key)
	}
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, fi.Size(), nil
}

// Create returns a writer to save a new value under key. The data is
// written to a scratch file which is moved into place on Close.
func (s *Directory) Create(key string) (io.WriteCloser, error) {
	target, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}
	if _, err = s.fs.Stat(target); !os.IsNotExist(err) {
		return nil, errors.Wrap(ErrKeyExists, key)
	}
	dir := filepath.Join(s.root, scratchdir)
	if err := s.fs.MkdirAll(dir, 0775); err != nil {
		return nil, err
	}
	w, err := afero.TempFile(s.fs, dir, "item-*")
	if err != nil {
		return nil, err
	}
	return &moveCloser{File: w, fs: s.fs, key: key, target: target}, nil
}

// track the file so when it is closed, we can move it into the correct place
type moveCloser struct {
	afero.File
	fs     afero.Fs
	key    string
	target string
}

func (w *moveCloser) Close() error {
	source := w.File.Name()
	err := w.File.Close()
	if err == nil {
		if _, serr := w.fs.Stat(w.target); !os.IsNotExist(serr) {
			err = errors.Wrap(ErrKeyExists, w.key)
		}
	}
	if err == nil {
		err = w.fs.MkdirAll(filepath.Dir(w.target), 0775)
	}
	if err == nil {
		err = w.fs.Rename(source, w.target)
	}
	if err != nil {
		w.fs.Remove(source)
	}
	return err
}

// Delete the given key from the store. It is not an error if the key doesn't
// exist.
func (s *Directory) Delete(key string) error {
	fname, err := s.keyPath(key)
	if err != nil {
		return err
	}
	err = s.fs.Remove(fname)
	// don't report a missing file as an error
	if err != nil && os.IsNotExist(err) {
		err = nil
	}
	return err
}
