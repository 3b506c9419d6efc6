package bagit

import (
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/ndlib/bagkeeper/store"
	"github.com/ndlib/bagkeeper/util"
)

// AddFile copies the file src into the payload at rel.
func (b *Bag) AddFile(rel, src string) error {
	return b.AddFiles([]Item{FromFile(rel, src)})
}

// AddReader saves everything read from r into the payload at rel.
func (b *Bag) AddReader(rel string, r io.Reader) error {
	return b.AddFiles([]Item{FromReader(rel, r)})
}

// AddFunc creates the payload file rel and lets fn write its content.
func (b *Bag) AddFunc(rel string, fn func(w io.Writer) error) error {
	return b.AddFiles([]Item{FromFunc(rel, fn)})
}

// AddFromStore copies the value stored under key in st into the payload
// at rel.
func (b *Bag) AddFromStore(rel string, st store.ROStore, key string) error {
	return b.AddFiles([]Item{FromStore(rel, st, key)})
}

// AddFiles adds each item to the payload, in order. An item fails with
// ErrConflict if its path already exists in the payload or is declared in
// fetch.txt. Items are committed one at a time: if one fails, the ones
// before it stay in the bag and the ones after it are not attempted. The
// bag-info tags are refreshed once, after the last committed item.
func (b *Bag) AddFiles(items []Item) error {
	var committed int
	var err error
	for _, item := range items {
		if err = b.add(item); err != nil {
			break
		}
		committed++
	}
	if committed > 0 {
		if rerr := b.RefreshInfo(); err == nil {
			err = rerr
		} else if rerr != nil {
			log.WithFields(log.Fields{"bag": b.root, "err": rerr}).Warn("refreshing bag-info after failed add")
		}
	}
	return err
}

func (b *Bag) add(item Item) error {
	rel, err := cleanRelative(item.Path)
	if err != nil {
		return err
	}
	dest := b.payloadFile(rel)
	ok, err := b.exists(dest)
	if err != nil {
		return err
	} else if ok {
		return errors.Wrapf(ErrConflict, "%s", rel)
	}
	ok, err = b.FetchList().Declares(PayloadPath(rel))
	if err != nil {
		return err
	} else if ok {
		return errors.Wrapf(ErrConflict, "%s is declared in %s", rel, FetchTxt)
	}

	fill := item.fill
	if item.Source != "" {
		fill = b.copyFrom(item.Source)
	}
	if fill == nil {
		return errors.Errorf("nothing to add for %s", rel)
	}

	if err := mkdir(b.fs, filepath.Dir(dest)); err != nil {
		return err
	}
	// pass the O_EXCL flag explicitly to prevent overwriting
	// already existing files
	f, err := b.fs.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0664)
	if os.IsExist(err) {
		return errors.Wrapf(ErrConflict, "%s", rel)
	} else if err != nil {
		return ioError("create", dest, err)
	}
	hw, _ := util.NewHashWriter(f)
	err = fill(hw)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = ioError("close", dest, cerr)
	}
	if err != nil {
		// do not leave a partial file behind
		b.fs.Remove(dest)
		if _, ok := err.(*IOError); !ok {
			err = errors.WithMessagef(err, "adding %s", rel)
		}
		return err
	}
	if b.oxum != nil {
		b.oxum.Bytes += hw.Size()
		b.oxum.Count++
	}
	log.WithFields(log.Fields{"bag": b.root, "path": rel, "size": hw.Size()}).Debug("added payload file")
	return nil
}

func (b *Bag) copyFrom(src string) func(w io.Writer) error {
	fs := b.opts.SourceFs
	if fs == nil {
		fs = b.fs
	}
	return func(w io.Writer) error {
		in, err := fs.Open(src)
		if err != nil {
			return ioError("open", src, err)
		}
		defer in.Close()
		fi, err := in.Stat()
		if err != nil {
			return ioError("stat", src, err)
		}
		if fi.IsDir() {
			return ioError("open", src, errors.New("is a directory"))
		}
		_, err = io.Copy(w, in)
		return ioError("copy", src, err)
	}
}

// RemoveFile deletes the payload file rel. It fails with ErrNotFound if
// there is no such file. Directories left empty are not removed; see GC.
func (b *Bag) RemoveFile(rel string) error {
	rel, err := cleanRelative(rel)
	if err != nil {
		return err
	}
	name := b.payloadFile(rel)
	fi, err := lstat(b.fs, name)
	if os.IsNotExist(err) {
		return errors.Wrapf(ErrNotFound, "%s", rel)
	} else if err != nil {
		return ioError("stat", name, err)
	}
	if fi.IsDir() {
		return errors.Wrapf(ErrNotFound, "%s is a directory", rel)
	}
	if err := b.fs.Remove(name); err != nil {
		return ioError("remove", name, err)
	}
	log.WithFields(log.Fields{"bag": b.root, "path": rel}).Debug("removed payload file")
	b.oxum = nil
	return b.RefreshInfo()
}

// GC removes every directory under the payload directory which holds no
// files, directly or below it. The payload directory itself is kept.
func (b *Bag) GC() error {
	dir := PayloadDir(b.root)
	entries, err := afero.ReadDir(b.fs, dir)
	if err != nil {
		return ioError("readdir", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := b.prune(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

// prune removes dir if nothing but empty directories are inside it. It
// returns whether dir was removed.
func (b *Bag) prune(dir string) (bool, error) {
	entries, err := afero.ReadDir(b.fs, dir)
	if err != nil {
		return false, ioError("readdir", dir, err)
	}
	empty := true
	for _, e := range entries {
		if !e.IsDir() {
			empty = false
			continue
		}
		removed, err := b.prune(filepath.Join(dir, e.Name()))
		if err != nil {
			return false, err
		}
		empty = empty && removed
	}
	if !empty {
		return false, nil
	}
	if err := b.fs.Remove(dir); err != nil {
		return false, ioError("remove", dir, err)
	}
	log.WithFields(log.Fields{"bag": b.root, "dir": dir}).Debug("removed empty directory")
	return true, nil
}

// Info returns the tags in bag-info.txt.
func (b *Bag) Info() (Tags, error) {
	return readTagFile(b.fs, InfoFile(b.root))
}

// Declaration returns the tags in bagit.txt.
func (b *Bag) Declaration() (Tags, error) {
	return readTagFile(b.fs, BagitFile(b.root))
}

// WriteInfo merges tags into bag-info.txt, then updates the tags derived
// from the payload: Payload-Oxum and Bag-Size always, Bagging-Date and
// Bag-Software-Agent only if they are not set.
func (b *Bag) WriteInfo(tags Tags) error {
	info, err := b.Info()
	if err != nil {
		return err
	}
	info.Merge(tags)
	return b.writeInfo(info)
}

// SetInfo replaces the tags in bag-info.txt with tags. The derived tags are
// updated as for WriteInfo.
func (b *Bag) SetInfo(tags Tags) error {
	return b.writeInfo(append(Tags(nil), tags...))
}

func (b *Bag) writeInfo(info Tags) error {
	oxum, err := b.PayloadOxum()
	if err != nil {
		return err
	}
	info.Set("Payload-Oxum", oxum.String())
	info.Set("Bag-Size", humanize.Bytes(uint64(oxum.Bytes)))
	if _, ok := info.Get("Bagging-Date"); !ok {
		info.Set("Bagging-Date", time.Now().Format("2006-01-02"))
	}
	if _, ok := info.Get("Bag-Software-Agent"); !ok {
		info.Set("Bag-Software-Agent", SoftwareAgent)
	}
	return b.opts.TagWriter.WriteTags(b.fs, b.root, info)
}

// RefreshInfo rewrites bag-info.txt so the payload derived tags match the
// payload. The bag calls it after adding or removing payload files.
func (b *Bag) RefreshInfo() error {
	return b.WriteInfo(nil)
}

var reservedTagFiles = map[string]bool{
	BagitTxt:   true,
	BagInfoTxt: true,
	FetchTxt:   true,
}

func (b *Bag) tagFilePath(name string) (string, string, error) {
	rel, err := cleanRelative(name)
	if err != nil {
		return "", "", err
	}
	if rel == DataDir || strings.HasPrefix(rel, DataDir+"/") {
		return "", "", errors.Wrapf(ErrInvalidPath, "%s is in the payload directory", rel)
	}
	if _, _, ok := ParseManifestName(rel); ok || reservedTagFiles[rel] {
		return "", "", errors.Wrapf(ErrInvalidPath, "%s is managed by the bag", rel)
	}
	return rel, filepath.Join(b.root, filepath.FromSlash(rel)), nil
}

// AddTagFile saves r as a custom tag file at name, relative to the bag root.
// It fails with ErrConflict if the file exists. Tag manifests are not
// updated; call TagManifest for that.
func (b *Bag) AddTagFile(name string, r io.Reader) error {
	rel, full, err := b.tagFilePath(name)
	if err != nil {
		return err
	}
	ok, err := b.exists(full)
	if err != nil {
		return err
	} else if ok {
		return errors.Wrapf(ErrConflict, "%s", rel)
	}
	if err := mkdir(b.fs, filepath.Dir(full)); err != nil {
		return err
	}
	return writeAtomic(b.fs, full, func(w io.Writer) error {
		_, err := io.Copy(w, r)
		return err
	})
}

// RemoveTagFile deletes a custom tag file. It fails with ErrNotFound if
// there is no such file.
func (b *Bag) RemoveTagFile(name string) error {
	rel, full, err := b.tagFilePath(name)
	if err != nil {
		return err
	}
	fi, err := lstat(b.fs, full)
	if os.IsNotExist(err) || (err == nil && fi.IsDir()) {
		return errors.Wrapf(ErrNotFound, "%s", rel)
	} else if err != nil {
		return ioError("stat", full, err)
	}
	return ioError("remove", full, b.fs.Remove(full))
}

// AddRemoteFile declares a payload file rel which is to be retrieved from
// url. Size may be UnknownSize. The given checksums, keyed by algorithm,
// are recorded in the payload manifests. It fails with ErrConflict if rel
// is already in the payload or already declared. On failure fetch.txt and
// the manifests are left as they were.
func (b *Bag) AddRemoteFile(url, rel string, size int64, checksums map[string]string) error {
	rel, err := cleanRelative(rel)
	if err != nil {
		return err
	}
	ms := b.Manifests()
	updates := make(map[string][]Record)
	previous := make(map[string][]Record)
	for alg, sum := range checksums {
		alg = strings.ToLower(alg)
		if err := b.supports(alg); err != nil {
			return err
		}
		sum = strings.ToLower(sum)
		if _, err := hex.DecodeString(sum); err != nil || sum == "" {
			return errors.Errorf("checksum for %s is not hex: %q", rel, sum)
		}
		records, err := ms.Read(PayloadManifest, alg)
		if err != nil {
			return err
		}
		previous[alg] = records
		updates[alg] = append(withoutPath(records, rel), Record{Algorithm: alg, Checksum: sum, Path: rel})
	}
	fl := b.FetchList()
	old, err := fl.Read()
	if err != nil {
		return err
	}
	entries := append(append([]FetchEntry(nil), old...), FetchEntry{URL: url, Size: size, Path: PayloadPath(rel)})
	if err := fl.Write(entries); err != nil {
		return err
	}
	var written []string
	for alg, records := range updates {
		if err := ms.Write(PayloadManifest, alg, records); err != nil {
			b.restoreRemote(old, previous, written)
			return err
		}
		written = append(written, alg)
	}
	log.WithFields(log.Fields{"bag": b.root, "path": rel, "url": url}).Debug("declared remote file")
	return nil
}

// restoreRemote puts back fetch.txt and the named payload manifests after a
// failed AddRemoteFile.
func (b *Bag) restoreRemote(fetch []FetchEntry, manifests map[string][]Record, algs []string) {
	if err := b.FetchList().Write(fetch); err != nil {
		log.WithFields(log.Fields{"bag": b.root, "err": err}).Error("restoring fetch.txt")
	}
	ms := b.Manifests()
	for _, alg := range algs {
		var err error
		if len(manifests[alg]) == 0 {
			err = ms.Remove(PayloadManifest, alg)
		} else {
			err = ms.Write(PayloadManifest, alg, manifests[alg])
		}
		if err != nil {
			log.WithFields(log.Fields{"bag": b.root, "alg": alg, "err": err}).Error("restoring manifest")
		}
	}
}

// RemoveRemoteFile drops the fetch declaration for rel, along with its
// payload manifest entries. It fails with ErrNotFound if rel is not
// declared.
func (b *Bag) RemoveRemoteFile(rel string) error {
	rel, err := cleanRelative(rel)
	if err != nil {
		return err
	}
	fl := b.FetchList()
	entries, err := fl.Read()
	if err != nil {
		return err
	}
	var kept []FetchEntry
	for _, e := range entries {
		if e.Path != PayloadPath(rel) {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return errors.Wrapf(ErrNotFound, "%s is not declared in %s", rel, FetchTxt)
	}
	if err := fl.Write(kept); err != nil {
		return err
	}
	ok, err := b.exists(b.payloadFile(rel))
	if err != nil || ok {
		return err
	}
	ms := b.Manifests()
	algs, err := ms.Algorithms(PayloadManifest)
	if err != nil {
		return err
	}
	for _, alg := range algs {
		records, err := ms.Read(PayloadManifest, alg)
		if err != nil {
			return err
		}
		if kept := withoutPath(records, rel); len(kept) != len(records) {
			if err := ms.Write(PayloadManifest, alg, kept); err != nil {
				return err
			}
		}
	}
	return nil
}

func withoutPath(records []Record, p string) []Record {
	var result []Record
	for _, r := range records {
		if r.Path != p {
			result = append(result, r)
		}
	}
	return result
}
