package bagit

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/ndlib/bagkeeper/store"
)

// Bag is a bag directory on some file system.
type Bag struct {
	fs   afero.Fs
	root string
	opts Options

	// the payload oxum, or nil if it needs to be recomputed
	oxum *Oxum
}

// Open returns the bag rooted at root, creating the bag directory, its
// payload directory, bagit.txt and bag-info.txt as needed. The tags in info
// are only written if bag-info.txt does not exist yet. Existing tag files
// are never overwritten.
func Open(fs afero.Fs, root string, info Tags, opts ...Option) (*Bag, error) {
	b := newBag(fs, root, opts)
	if err := mkdir(fs, b.root); err != nil {
		return nil, err
	}
	if err := mkdir(fs, PayloadDir(b.root)); err != nil {
		return nil, err
	}
	ok, err := b.exists(BagitFile(b.root))
	if err != nil {
		return nil, err
	}
	if !ok {
		decl := Tags{
			{Label: "BagIt-Version", Value: Version},
			{Label: "Tag-File-Character-Encoding", Value: Encoding},
		}
		err = writeAtomic(fs, BagitFile(b.root), func(w io.Writer) error {
			return ioError("write", BagitTxt, WriteTags(w, decl))
		})
		if err != nil {
			return nil, err
		}
	}
	ok, err = b.exists(InfoFile(b.root))
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := b.WriteInfo(info); err != nil {
			return nil, err
		}
	}
	log.WithFields(log.Fields{"bag": b.root}).Debug("opened bag")
	return b, nil
}

// Load returns the existing bag rooted at root. Nothing is created or
// written. It fails with ErrNotFound if root has no bagit.txt or no payload
// directory.
func Load(fs afero.Fs, root string, opts ...Option) (*Bag, error) {
	b := newBag(fs, root, opts)
	fi, err := lstat(fs, BagitFile(b.root))
	if os.IsNotExist(err) || (err == nil && !fi.Mode().IsRegular()) {
		return nil, errors.Wrapf(ErrNotFound, "%s is not a bag: no %s", b.root, BagitTxt)
	} else if err != nil {
		return nil, ioError("stat", BagitFile(b.root), err)
	}
	fi, err = lstat(fs, PayloadDir(b.root))
	if os.IsNotExist(err) || (err == nil && !fi.IsDir()) {
		return nil, errors.Wrapf(ErrNotFound, "%s is not a bag: no %s directory", b.root, DataDir)
	} else if err != nil {
		return nil, ioError("stat", PayloadDir(b.root), err)
	}
	log.WithFields(log.Fields{"bag": b.root}).Debug("loaded bag")
	return b, nil
}

func newBag(fs afero.Fs, root string, opts []Option) *Bag {
	b := &Bag{
		fs:   fs,
		root: filepath.Clean(root),
		opts: DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&b.opts)
	}
	return b
}

// Root returns the bag directory.
func (b *Bag) Root() string { return b.root }

// Fs returns the file system the bag lives on.
func (b *Bag) Fs() afero.Fs { return b.fs }

// Manifests returns the manifest store for this bag.
func (b *Bag) Manifests() ManifestStore {
	return ManifestStore{Fs: b.fs, Root: b.root, Preference: b.opts.Algorithms}
}

// FetchList returns the fetch list for this bag.
func (b *Bag) FetchList() FetchList {
	return FetchList{Fs: b.fs, Root: b.root}
}

func (b *Bag) exists(name string) (bool, error) {
	_, err := lstat(b.fs, name)
	if err == nil {
		return true, nil
	} else if os.IsNotExist(err) {
		return false, nil
	}
	return false, ioError("stat", name, err)
}

// payload scans the payload directory for regular files. Symbolic links
// and directories are skipped. Paths are relative to the payload directory.
func (b *Bag) payload() ([]PayloadEntry, error) {
	dir := PayloadDir(b.root)
	var result []PayloadEntry
	err := afero.Walk(b.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		result = append(result, PayloadEntry{Path: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, ioError("walk", dir, err)
	}
	return result, nil
}

// Files returns the path of every payload file, joined to the bag root.
// This is a scan of the payload directory: it lists what is present, not
// what any manifest declares. The order is whatever the traversal gives and
// should only be relied on for display.
func (b *Bag) Files() ([]string, error) {
	entries, err := b.payload()
	if err != nil {
		return nil, err
	}
	dir := PayloadDir(b.root)
	var result []string
	for _, e := range entries {
		result = append(result, filepath.Join(dir, filepath.FromSlash(e.Path)))
	}
	return result, nil
}

// Paths is like Files but gives paths relative to the payload directory,
// slash separated.
func (b *Bag) Paths() ([]string, error) {
	entries, err := b.payload()
	if err != nil {
		return nil, err
	}
	var result []string
	for _, e := range entries {
		result = append(result, e.Path)
	}
	return result, nil
}

// Glob returns the payload paths matching a doublestar pattern such as
// "images/**/*.tif". The result is sorted.
func (b *Bag) Glob(pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, errors.Errorf("bad pattern %q", pattern)
	}
	paths, err := b.Paths()
	if err != nil {
		return nil, err
	}
	var result []string
	for _, p := range paths {
		if ok, _ := doublestar.Match(pattern, p); ok {
			result = append(result, p)
		}
	}
	sort.Strings(result)
	return result, nil
}

// TagFiles returns the tag files declared by the first tag manifest found,
// in algorithm preference order. Paths are relative to the bag root. The
// list reflects what the tag manifest declares, not what is present. It is
// empty if there is no tag manifest.
func (b *Bag) TagFiles() ([]string, error) {
	ms := b.Manifests()
	algs, err := ms.Algorithms(TagManifest)
	if err != nil || len(algs) == 0 {
		return nil, err
	}
	records, err := ms.Read(TagManifest, algs[0])
	if err != nil {
		return nil, err
	}
	var result []string
	for _, r := range records {
		result = append(result, r.Path)
	}
	return result, nil
}

// Empty is true if the bag has no payload files.
func (b *Bag) Empty() (bool, error) {
	entries, err := b.payload()
	return len(entries) == 0, err
}

// Get opens the payload file at the given path, relative to the payload
// directory. It returns nil and no error if there is no such file.
func (b *Bag) Get(rel string) (afero.File, error) {
	rel, err := cleanRelative(rel)
	if err != nil {
		return nil, err
	}
	name := b.payloadFile(rel)
	fi, err := b.fs.Stat(name)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, ioError("stat", name, err)
	}
	if fi.IsDir() {
		return nil, nil
	}
	f, err := b.fs.Open(name)
	return f, ioError("open", name, err)
}

func (b *Bag) payloadFile(rel string) string {
	return filepath.Join(PayloadDir(b.root), filepath.FromSlash(rel))
}

// PayloadOxum returns the oxum of the payload directory. The value is
// computed by a scan of the payload and is cached until the next change to
// the payload made through this Bag.
func (b *Bag) PayloadOxum() (Oxum, error) {
	if b.oxum != nil {
		return *b.oxum, nil
	}
	entries, err := b.payload()
	if err != nil {
		return Oxum{}, err
	}
	o := ComputeOxum(entries)
	b.oxum = &o
	return o, nil
}

// Item is one file to add to the payload.
type Item struct {
	// Path is relative to the payload directory.
	Path string

	// Source, if not empty, names a file on the source file system to copy.
	Source string

	fill func(w io.Writer) error
}

// FromFile copies the file src.
func FromFile(rel, src string) Item {
	return Item{Path: rel, Source: src}
}

// FromReader copies everything in r.
func FromReader(rel string, r io.Reader) Item {
	return Item{Path: rel, fill: func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	}}
}

// FromFunc lets fn write the file's content.
func FromFunc(rel string, fn func(w io.Writer) error) Item {
	return Item{Path: rel, fill: fn}
}

// FromStore copies the value stored under key.
func FromStore(rel string, s store.ROStore, key string) Item {
	return Item{Path: rel, fill: func(w io.Writer) error {
		rac, _, err := s.Open(key)
		if err != nil {
			return err
		}
		defer rac.Close()
		_, err = io.Copy(w, store.NewReader(rac))
		return err
	}}
}
