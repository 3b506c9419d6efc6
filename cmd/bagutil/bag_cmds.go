package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/ndlib/bagkeeper/bagit"
	"github.com/ndlib/bagkeeper/store"
)

// BagArg is the positional argument naming the bag directory.
type BagArg struct {
	Bag string `positional-arg-name:"bag" required:"true" description:"Bag directory"`
}

type cmdCreate struct {
	Tags []string `long:"tag" short:"t" description:"Tag for bag-info.txt, as \"Label: value\". May be repeated"`
	Args BagArg   `positional-args:"yes"`
}

func (cmd *cmdCreate) Execute([]string) error {
	startup()
	tags, err := parseTags(cmd.Tags)
	if err != nil {
		return err
	}
	unlock, err := lockBag(cmd.Args.Bag)
	if err != nil {
		return err
	}
	defer unlock()
	_, err = createBag(cmd.Args.Bag, tags)
	return err
}

type cmdAdd struct {
	From string `long:"from" short:"f" description:"Copy from this directory or s3://bucket/prefix. The paths are then keys or key prefixes in it"`
	As   string `long:"as" description:"Payload directory to add the files under"`
	Args struct {
		Bag   string   `positional-arg-name:"bag" required:"true" description:"Bag directory"`
		Paths []string `positional-arg-name:"path" required:"1" description:"Files or directories to add"`
	} `positional-args:"yes"`
}

func (cmd *cmdAdd) Execute([]string) error {
	startup()
	var items []bagit.Item
	var err error
	if cmd.From != "" {
		items, err = cmd.storeItems()
	} else {
		items, err = cmd.fileItems()
	}
	if err != nil {
		return err
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
	log.WithFields(log.Fields{"bag": cmd.Args.Bag, "files": len(items)}).Info("adding files")
	return bag.AddFiles(items)
}

// fileItems walks the local paths. A directory is added with its own name,
// so adding "scans" gives "scans/0001.tif" and so on. Hidden files are
// skipped.
func (cmd *cmdAdd) fileItems() ([]bagit.Item, error) {
	fs := afero.NewOsFs()
	var items []bagit.Item
	for _, name := range cmd.Args.Paths {
		name = filepath.Clean(name)
		base := filepath.Dir(name)
		err := afero.Walk(fs, name, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if p != name && strings.HasPrefix(info.Name(), ".") {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			rel, err := filepath.Rel(base, p)
			if err != nil {
				return err
			}
			items = append(items, bagit.FromFile(cmd.dest(filepath.ToSlash(rel)), p))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return items, nil
}

// storeItems expands the paths as key prefixes of the source store.
func (cmd *cmdAdd) storeItems() ([]bagit.Item, error) {
	src, err := openSource(settings, cmd.From)
	if err != nil {
		return nil, err
	}
	var items []bagit.Item
	for _, prefix := range cmd.Args.Paths {
		keys, err := src.ListPrefix(prefix)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return nil, errors.Wrapf(store.ErrNotExist, "%s in %s", prefix, cmd.From)
		}
		for _, key := range keys {
			items = append(items, bagit.FromStore(cmd.dest(key), src, key))
		}
	}
	return items, nil
}

func (cmd *cmdAdd) dest(rel string) string {
	if cmd.As == "" {
		return rel
	}
	return strings.TrimSuffix(cmd.As, "/") + "/" + rel
}

type cmdRemove struct {
	Args struct {
		Bag   string   `positional-arg-name:"bag" required:"true" description:"Bag directory"`
		Paths []string `positional-arg-name:"path" required:"1" description:"Payload files to remove"`
	} `positional-args:"yes"`
}

func (cmd *cmdRemove) Execute([]string) error {
	startup()
	unlock, err := lockBag(cmd.Args.Bag)
	if err != nil {
		return err
	}
	defer unlock()
	bag, err := openBag(cmd.Args.Bag)
	if err != nil {
		return err
	}
	for _, p := range cmd.Args.Paths {
		if err := bag.RemoveFile(p); err != nil {
			return err
		}
	}
	return nil
}

type cmdList struct {
	Glob string `long:"glob" short:"g" description:"Only list payload files matching this pattern, e.g. \"images/**/*.tif\""`
	Tags bool   `long:"tags" description:"List the tag files declared by the tag manifest instead"`
	Long bool   `long:"long" short:"l" description:"Show file sizes"`
	Args BagArg `positional-args:"yes"`
}

func (cmd *cmdList) Execute([]string) error {
	startup()
	bag, err := openBag(cmd.Args.Bag)
	if err != nil {
		return err
	}
	var paths []string
	switch {
	case cmd.Tags:
		paths, err = bag.TagFiles()
	case cmd.Glob != "":
		paths, err = bag.Glob(cmd.Glob)
	default:
		paths, err = bag.Paths()
		sort.Strings(paths)
	}
	if err != nil {
		return err
	}
	if !cmd.Long || cmd.Tags {
		for _, p := range paths {
			fmt.Println(p)
		}
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', tabwriter.AlignRight)
	for _, p := range paths {
		fi, err := bag.Fs().Stat(filepath.Join(bagit.PayloadDir(bag.Root()), filepath.FromSlash(p)))
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t  %s\n", humanize.Bytes(uint64(fi.Size())), p)
	}
	return w.Flush()
}

type cmdTags struct {
	Set    []string `long:"set" short:"s" description:"Set a tag, as \"Label: value\". May be repeated"`
	Delete []string `long:"delete" short:"d" description:"Remove every tag with this label. May be repeated"`
	Args   BagArg   `positional-args:"yes"`
}

func (cmd *cmdTags) Execute([]string) error {
	startup()
	set, err := parseTags(cmd.Set)
	if err != nil {
		return err
	}
	if len(set) > 0 || len(cmd.Delete) > 0 {
		unlock, err := lockBag(cmd.Args.Bag)
		if err != nil {
			return err
		}
		defer unlock()
	}
	bag, err := openBag(cmd.Args.Bag)
	if err != nil {
		return err
	}
	info, err := bag.Info()
	if err != nil {
		return err
	}
	if len(set) > 0 || len(cmd.Delete) > 0 {
		for _, label := range cmd.Delete {
			info.Delete(label)
		}
		info.Merge(set)
		if err := bag.SetInfo(info); err != nil {
			return err
		}
		if info, err = bag.Info(); err != nil {
			return err
		}
	}
	return bagit.WriteTags(os.Stdout, info)
}

type cmdOxum struct {
	Args BagArg `positional-args:"yes"`
}

func (cmd *cmdOxum) Execute([]string) error {
	startup()
	bag, err := openBag(cmd.Args.Bag)
	if err != nil {
		return err
	}
	oxum, err := bag.PayloadOxum()
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%d files, %s\n", oxum, oxum.Count, humanize.Bytes(uint64(oxum.Bytes)))
	return nil
}

type cmdGC struct {
	Args BagArg `positional-args:"yes"`
}

func (cmd *cmdGC) Execute([]string) error {
	startup()
	unlock, err := lockBag(cmd.Args.Bag)
	if err != nil {
		return err
	}
	defer unlock()
	bag, err := openBag(cmd.Args.Bag)
	if err != nil {
		return err
	}
	return bag.GC()
}

func init() {
	mustAddCmd(parser.Command, "create", "Create a bag", `
Create an empty bag, or make sure an existing one has a payload directory,
bagit.txt and bag-info.txt. Existing tag files are not changed.
`, &cmdCreate{})
	mustAddCmd(parser.Command, "add", "Add payload files", `
Copy files into the payload of a bag. It is an error to add a file which is
already in the payload or declared in fetch.txt. Manifests are not updated;
run "manifest" afterwards.
`, &cmdAdd{})
	mustAddCmd(parser.Command, "rm", "Remove payload files", `
Remove files from the payload of a bag. Manifests are not updated; run
"manifest" afterwards.
`, &cmdRemove{})
	mustAddCmd(parser.Command, "ls", "List payload files", `
List the files present in the payload directory, or with --tags the tag
files declared by the bag's tag manifest.
`, &cmdList{})
	mustAddCmd(parser.Command, "tags", "Show or change bag-info.txt", "", &cmdTags{})
	mustAddCmd(parser.Command, "oxum", "Show the payload oxum", "", &cmdOxum{})
	mustAddCmd(parser.Command, "gc", "Remove empty payload directories", "", &cmdGC{})
}
