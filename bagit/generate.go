package bagit

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/ndlib/bagkeeper/util"
)

// Manifest regenerates the payload manifest for each algorithm given, and
// then the tag manifests for the same algorithms. If no algorithms are
// given, the ones already having a payload manifest are used, or the first
// preferred algorithm for a bag without manifests. Payload manifests list
// every file in the payload directory. Entries for files declared in
// fetch.txt but not yet present are carried over from the old manifest;
// if an old manifest cannot be read nothing is written. Manifests for other
// algorithms are left alone.
func (b *Bag) Manifest(algs ...string) error {
	ms := b.Manifests()
	algs, err := b.pickAlgorithms(PayloadManifest, algs)
	if err != nil {
		return err
	}
	entries, err := b.payload()
	if err != nil {
		return err
	}
	var jobs []hashJob
	for _, e := range entries {
		jobs = append(jobs, hashJob{name: b.payloadFile(e.Path), key: e.Path, algs: algs})
	}
	sums, err := b.hashFiles(jobs)
	if err != nil {
		return err
	}

	remote := make(map[string]bool)
	fetch, err := b.FetchList().Read()
	if err != nil {
		return err
	}
	for _, e := range fetch {
		rel := strings.TrimPrefix(e.Path, DataDir+"/")
		if _, ok := sums[rel]; !ok {
			remote[rel] = true
		}
	}

	manifests := make(map[string][]Record)
	for _, alg := range algs {
		var records []Record
		for _, e := range entries {
			records = append(records, Record{Algorithm: alg, Checksum: sums[e.Path][alg], Path: e.Path})
		}
		if len(remote) > 0 {
			old, err := ms.Read(PayloadManifest, alg)
			if err != nil {
				return errors.WithMessagef(err, "keeping entries for files in %s", FetchTxt)
			}
			for _, r := range old {
				if remote[r.Path] {
					records = append(records, r)
				}
			}
		}
		sortRecords(records)
		manifests[alg] = records
	}
	for _, alg := range algs {
		if err := ms.Write(PayloadManifest, alg, manifests[alg]); err != nil {
			return err
		}
	}
	log.WithFields(log.Fields{"bag": b.root, "algs": algs, "files": len(entries)}).Info("wrote payload manifests")
	return b.TagManifest(algs...)
}

// TagManifest regenerates the tag manifest for each algorithm given. It
// lists every file outside the payload directory except tag manifests and
// hidden files. Algorithms are picked as for Manifest.
func (b *Bag) TagManifest(algs ...string) error {
	algs, err := b.pickAlgorithms(TagManifest, algs)
	if err != nil {
		return err
	}
	names, err := b.tagFiles()
	if err != nil {
		return err
	}
	var jobs []hashJob
	for _, rel := range names {
		jobs = append(jobs, hashJob{name: filepath.Join(b.root, filepath.FromSlash(rel)), key: rel, algs: algs})
	}
	sums, err := b.hashFiles(jobs)
	if err != nil {
		return err
	}
	ms := b.Manifests()
	for _, alg := range algs {
		var records []Record
		for _, rel := range names {
			records = append(records, Record{Algorithm: alg, Checksum: sums[rel][alg], Path: rel})
		}
		if err := ms.Write(TagManifest, alg, records); err != nil {
			return err
		}
	}
	log.WithFields(log.Fields{"bag": b.root, "algs": algs, "files": len(names)}).Info("wrote tag manifests")
	return nil
}

// tagFiles scans the bag for files a tag manifest should list, sorted.
func (b *Bag) tagFiles() ([]string, error) {
	var result []string
	err := afero.Walk(b.fs, b.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(b.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		hidden := strings.HasPrefix(info.Name(), ".")
		if info.IsDir() {
			if rel == DataDir || hidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden || !info.Mode().IsRegular() || isTagManifestName(rel) {
			return nil
		}
		result = append(result, rel)
		return nil
	})
	if err != nil {
		return nil, ioError("walk", b.root, err)
	}
	sort.Strings(result)
	return result, nil
}

func (b *Bag) pickAlgorithms(kind ManifestKind, algs []string) ([]string, error) {
	algs = normalizeAlgorithms(algs)
	if len(algs) == 0 {
		existing, err := b.Manifests().Algorithms(kind)
		if err != nil {
			return nil, err
		}
		algs = existing
	}
	if len(algs) == 0 {
		algs = []string{"sha512"}
		if len(b.opts.Algorithms) > 0 {
			algs = b.opts.Algorithms[:1]
		}
	}
	for _, alg := range algs {
		if err := b.supports(alg); err != nil {
			return nil, err
		}
	}
	return algs, nil
}

// supports checks that the checksum provider can compute alg.
func (b *Bag) supports(alg string) error {
	if _, ok := b.opts.Checksums.(hashWriterChecksums); ok {
		if !util.Supported(alg) {
			return errors.Wrapf(ErrUnsupportedAlgorithm, "checksum %s (have %s)", alg, strings.Join(util.Algorithms(), ", "))
		}
		return nil
	}
	_, err := b.opts.Checksums.Digest(strings.NewReader(""), alg)
	if err != nil {
		return errors.WithMessagef(err, "checksum %s", alg)
	}
	return nil
}

type hashJob struct {
	name string   // file to read
	key  string   // result key
	algs []string // algorithms to compute
}

// hashFiles computes the checksums for each job, several files at a time.
// The result maps job key to algorithm to hex checksum.
func (b *Bag) hashFiles(jobs []hashJob) (map[string]map[string]string, error) {
	var m sync.Mutex
	result := make(map[string]map[string]string)
	g := new(errgroup.Group)
	n := b.opts.Parallel
	if n < 1 {
		n = 1
	}
	g.SetLimit(n)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			sums, err := b.digestFile(job.name, job.algs)
			if err != nil {
				return err
			}
			m.Lock()
			result[job.key] = sums
			m.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (b *Bag) digestFile(name string, algs []string) (map[string]string, error) {
	if multi, ok := b.opts.Checksums.(MultiChecksumProvider); ok {
		f, err := b.fs.Open(name)
		if err != nil {
			return nil, ioError("open", name, err)
		}
		defer f.Close()
		sums, err := multi.DigestAll(f, algs)
		if err != nil {
			return nil, b.digestError(name, err)
		}
		for alg, sum := range sums {
			sums[alg] = strings.ToLower(sum)
		}
		return sums, nil
	}
	sums := make(map[string]string)
	for _, alg := range algs {
		f, err := b.fs.Open(name)
		if err != nil {
			return nil, ioError("open", name, err)
		}
		sum, err := b.opts.Checksums.Digest(f, alg)
		f.Close()
		if err != nil {
			return nil, b.digestError(name, err)
		}
		sums[alg] = strings.ToLower(sum)
	}
	return sums, nil
}

func (b *Bag) digestError(name string, err error) error {
	if errors.Is(err, ErrUnsupportedAlgorithm) {
		return err
	}
	return ioError("read", name, err)
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
}
