package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"

	"github.com/ndlib/bagkeeper/bagit"
)

type cmdManifest struct {
	Algorithms []string `long:"algorithm" short:"a" description:"Checksum algorithm to generate. May be repeated. Defaults to the configured algorithms, then to the ones the bag already has"`
	Args       BagArg   `positional-args:"yes"`
}

func (cmd *cmdManifest) Execute([]string) error {
	startup()
	algs := cmd.Algorithms
	if len(algs) == 0 {
		algs = settings.Algorithms
	}
	unlock, err := lockBag(cmd.Args.Bag)
	if err != nil {
		return err
	}
	defer unlock()
	bag, err := openBag(cmd.Args.Bag)
	if err != nil {
		return err
	}
	return bag.Manifest(algs...)
}

type cmdVerify struct {
	Quiet bool   `long:"quiet" short:"q" description:"Only report through the exit status"`
	Args  BagArg `positional-args:"yes"`
}

func (cmd *cmdVerify) Execute([]string) error {
	startup()
	bag, err := openBag(cmd.Args.Bag)
	if err != nil {
		return err
	}
	report, err := bag.Verify()
	if err != nil {
		return err
	}
	if !cmd.Quiet {
		printReport(os.Stdout, report)
	}
	if !report.TagsConsistent() {
		log.WithField("bag", cmd.Args.Bag).Warn("tag manifest does not match the tag files")
	}
	if !report.OxumMatches() {
		log.WithFields(log.Fields{
			"bag":      cmd.Args.Bag,
			"declared": report.DeclaredOxum,
			"actual":   report.ActualOxum.String(),
		}).Warn("Payload-Oxum does not match the payload")
	}
	return report.Err()
}

func printReport(out io.Writer, r *bagit.Report) {
	w := tabwriter.NewWriter(out, 5, 1, 3, ' ', 0)
	for _, kind := range []struct {
		name    string
		results map[string]*bagit.Result
	}{
		{"manifest", r.Payload},
		{"tagmanifest", r.Tag},
	} {
		var algs []string
		for alg := range kind.results {
			algs = append(algs, alg)
		}
		sort.Strings(algs)
		for _, alg := range algs {
			res := kind.results[alg]
			fmt.Fprintf(w, "%s-%s\t%d checked\t%d missing\t%d mismatched\n",
				kind.name, alg, res.Checked, len(res.Missing), len(res.Mismatched))
		}
	}
	w.Flush()
	for _, res := range r.Payload {
		for _, m := range res.Mismatched {
			fmt.Fprintf(out, "MISMATCH %s %s: expected %s, got %s\n", res.Algorithm, m.Path, m.Expected, m.Actual)
		}
	}
	for _, p := range r.Missing() {
		fmt.Fprintf(out, "MISSING %s\n", p)
	}
	for _, p := range r.Extra {
		fmt.Fprintf(out, "EXTRA %s\n", p)
	}
	for _, p := range r.Unfetched {
		fmt.Fprintf(out, "UNFETCHED %s\n", p)
	}
	var names []string
	for name := range r.Unreadable {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "SKIPPED %s: %v\n", name, r.Unreadable[name])
	}
	if r.Valid() {
		fmt.Fprintln(out, "valid")
	} else {
		fmt.Fprintln(out, "NOT valid")
	}
}

func init() {
	mustAddCmd(parser.Command, "manifest", "Generate manifests", `
Checksum every payload file and rewrite the payload manifests, then the tag
manifests, for the given algorithms. Manifests for other algorithms are left
alone.
`, &cmdManifest{})
	mustAddCmd(parser.Command, "verify", "Verify a bag", `
Check every payload and tag file against the manifests. The exit status is
non-zero if a payload file is missing, changed, or not listed in any
manifest.
`, &cmdVerify{})
}
