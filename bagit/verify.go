package bagit

import (
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Report is the outcome of verifying a bag. Integrity problems are listed
// here rather than returned as errors.
type Report struct {
	// Payload has one result per payload manifest, keyed by algorithm.
	Payload map[string]*Result

	// Tag has one result per tag manifest, keyed by algorithm.
	Tag map[string]*Result

	// Extra lists payload files which no payload manifest mentions.
	Extra []string

	// Unfetched lists manifest entries for files declared in fetch.txt
	// which are not present yet. They are not counted as missing.
	Unfetched []string

	// Unreadable maps a manifest (or fetch.txt) file name to the error
	// which kept it from being checked.
	Unreadable map[string]error

	// DeclaredOxum is the Payload-Oxum in bag-info.txt, if any.
	DeclaredOxum string

	// ActualOxum is computed from the payload directory.
	ActualOxum Oxum
}

// Result is the outcome of checking one manifest.
type Result struct {
	Algorithm  string
	Checked    int
	Missing    []string
	Mismatched []Mismatch
}

// OK is true if nothing is missing or mismatched.
func (r *Result) OK() bool {
	return len(r.Missing) == 0 && len(r.Mismatched) == 0
}

// Mismatch is a file whose checksum differs from its manifest entry.
type Mismatch struct {
	Path     string
	Expected string
	Actual   string
}

// Valid is true if there are no extra payload files and at least one
// payload manifest has no missing and no mismatched entries.
func (r *Report) Valid() bool {
	if len(r.Extra) > 0 {
		return false
	}
	for _, res := range r.Payload {
		if res.OK() {
			return true
		}
	}
	return false
}

// TagsConsistent is true if no tag manifest has a mismatched entry. Tag
// files which are listed but absent are tolerated.
func (r *Report) TagsConsistent() bool {
	for _, res := range r.Tag {
		if len(res.Mismatched) > 0 {
			return false
		}
	}
	return true
}

// OxumMatches is true if bag-info.txt has no Payload-Oxum, or if it agrees
// with the payload directory. A malformed Payload-Oxum never matches.
func (r *Report) OxumMatches() bool {
	if r.DeclaredOxum == "" {
		return true
	}
	declared, err := ParseOxum(r.DeclaredOxum)
	return err == nil && declared == r.ActualOxum
}

// Missing lists the payload paths any payload manifest finds missing.
func (r *Report) Missing() []string {
	set := make(map[string]bool)
	for _, res := range r.Payload {
		for _, p := range res.Missing {
			set[p] = true
		}
	}
	return sortedKeys(set)
}

// Mismatched lists the payload paths any payload manifest finds changed.
func (r *Report) Mismatched() []string {
	set := make(map[string]bool)
	for _, res := range r.Payload {
		for _, m := range res.Mismatched {
			set[m.Path] = true
		}
	}
	return sortedKeys(set)
}

// Err returns a *ValidationError if the bag is not valid, nil otherwise.
func (r *Report) Err() error {
	if r.Valid() {
		return nil
	}
	return &ValidationError{Report: r}
}

// Verify checks the bag against its manifests. Every entry of every payload
// and tag manifest is checked. An error is returned only when the check
// itself could not be done, such as the payload directory being unreadable.
func Verify(b *Bag) (*Report, error) {
	return b.Verify()
}

// Verify checks the bag against its manifests. See Verify.
func (b *Bag) Verify() (*Report, error) {
	report := &Report{
		Payload:    make(map[string]*Result),
		Tag:        make(map[string]*Result),
		Unreadable: make(map[string]error),
	}
	entries, err := b.payload()
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool)
	for _, e := range entries {
		present[e.Path] = true
	}
	report.ActualOxum = ComputeOxum(entries)
	if info, err := b.Info(); err != nil {
		report.Unreadable[BagInfoTxt] = err
	} else {
		report.DeclaredOxum, _ = info.Get("Payload-Oxum")
	}

	remote := make(map[string]bool)
	fetch, err := b.FetchList().Read()
	if err != nil {
		report.Unreadable[FetchTxt] = err
	}
	for _, e := range fetch {
		remote[strings.TrimPrefix(e.Path, DataDir+"/")] = true
	}

	ms := b.Manifests()
	listed := make(map[string]bool)
	unfetched := make(map[string]bool)
	var checks []check

	algs, err := ms.Algorithms(PayloadManifest)
	if err != nil {
		return nil, err
	}
	for _, alg := range algs {
		records, ok := b.readForVerify(report, PayloadManifest, alg)
		for _, r := range records {
			listed[r.Path] = true
		}
		if !ok {
			continue
		}
		res := &Result{Algorithm: alg}
		report.Payload[alg] = res
		for _, r := range records {
			switch {
			case present[r.Path]:
				checks = append(checks, check{result: res, record: r, name: b.payloadFile(r.Path)})
			case remote[r.Path]:
				unfetched[r.Path] = true
			default:
				res.Missing = append(res.Missing, r.Path)
			}
		}
	}
	for _, e := range entries {
		if !listed[e.Path] {
			report.Extra = append(report.Extra, e.Path)
		}
	}
	report.Unfetched = sortedKeys(unfetched)

	algs, err = ms.Algorithms(TagManifest)
	if err != nil {
		return nil, err
	}
	for _, alg := range algs {
		records, ok := b.readForVerify(report, TagManifest, alg)
		if !ok {
			continue
		}
		res := &Result{Algorithm: alg}
		report.Tag[alg] = res
		for _, r := range records {
			name := filepath.Join(b.root, filepath.FromSlash(r.Path))
			fi, err := lstat(b.fs, name)
			if err != nil || !fi.Mode().IsRegular() {
				res.Missing = append(res.Missing, r.Path)
				continue
			}
			checks = append(checks, check{result: res, record: r, name: name})
		}
	}

	if err := b.runChecks(checks); err != nil {
		return nil, err
	}
	for _, res := range report.Payload {
		res.sort()
	}
	for _, res := range report.Tag {
		res.sort()
	}
	sort.Strings(report.Extra)
	log.WithFields(log.Fields{
		"bag":        b.root,
		"valid":      report.Valid(),
		"extra":      len(report.Extra),
		"missing":    len(report.Missing()),
		"mismatched": len(report.Mismatched()),
	}).Debug("verified bag")
	return report, nil
}

// readForVerify reads a manifest, noting in the report why it cannot be
// checked. The records are returned even for an unsupported algorithm so
// the paths still count as listed.
func (b *Bag) readForVerify(report *Report, kind ManifestKind, alg string) ([]Record, bool) {
	name := ManifestName(kind, alg)
	records, err := b.Manifests().Read(kind, alg)
	if err != nil {
		log.WithFields(log.Fields{"bag": b.root, "manifest": name, "err": err}).Warn("skipping unreadable manifest")
		report.Unreadable[name] = err
		return nil, false
	}
	if err := b.supports(alg); err != nil {
		log.WithFields(log.Fields{"bag": b.root, "manifest": name, "err": err}).Warn("skipping manifest")
		report.Unreadable[name] = err
		return records, false
	}
	return records, true
}

type check struct {
	result *Result
	record Record
	name   string
}

// runChecks hashes each file once, for all the algorithms it is checked
// under, and records mismatches in the results.
func (b *Bag) runChecks(checks []check) error {
	byName := make(map[string][]check)
	var jobs []hashJob
	for _, c := range checks {
		if _, ok := byName[c.name]; !ok {
			jobs = append(jobs, hashJob{name: c.name, key: c.name})
		}
		byName[c.name] = append(byName[c.name], c)
	}
	for i := range jobs {
		seen := make(map[string]bool)
		for _, c := range byName[jobs[i].key] {
			if !seen[c.record.Algorithm] {
				seen[c.record.Algorithm] = true
				jobs[i].algs = append(jobs[i].algs, c.record.Algorithm)
			}
		}
	}
	sums, err := b.hashFiles(jobs)
	if err != nil {
		return err
	}
	for _, c := range checks {
		c.result.Checked++
		actual := sums[c.name][c.record.Algorithm]
		if !strings.EqualFold(actual, c.record.Checksum) {
			c.result.Mismatched = append(c.result.Mismatched, Mismatch{
				Path:     c.record.Path,
				Expected: c.record.Checksum,
				Actual:   actual,
			})
		}
	}
	return nil
}

func (r *Result) sort() {
	sort.Strings(r.Missing)
	sort.Slice(r.Mismatched, func(i, j int) bool { return r.Mismatched[i].Path < r.Mismatched[j].Path })
}

func sortedKeys(set map[string]bool) []string {
	var result []string
	for k := range set {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}
