package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/ndlib/bagkeeper/bagit"
)

type cmdFetchAdd struct {
	Size      int64    `long:"size" short:"s" default:"-1" description:"Size of the file in bytes, if known"`
	Checksums []string `long:"checksum" short:"k" description:"Checksum for the payload manifests, as alg:hex. May be repeated"`
	Args      struct {
		Bag  string `positional-arg-name:"bag" required:"true" description:"Bag directory"`
		URL  string `positional-arg-name:"url" required:"true" description:"Where the file is retrieved from"`
		Path string `positional-arg-name:"path" required:"true" description:"Payload path of the file"`
	} `positional-args:"yes"`
}

func (cmd *cmdFetchAdd) Execute([]string) error {
	startup()
	sums := make(map[string]string)
	for _, c := range cmd.Checksums {
		i := strings.Index(c, ":")
		if i <= 0 {
			return errors.Errorf("checksum %q is not of the form alg:hex", c)
		}
		sums[c[:i]] = c[i+1:]
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
	return bag.AddRemoteFile(cmd.Args.URL, cmd.Args.Path, cmd.Size, sums)
}

type cmdFetchRemove struct {
	Args struct {
		Bag  string `positional-arg-name:"bag" required:"true" description:"Bag directory"`
		Path string `positional-arg-name:"path" required:"true" description:"Payload path of the file"`
	} `positional-args:"yes"`
}

func (cmd *cmdFetchRemove) Execute([]string) error {
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
	return bag.RemoveRemoteFile(cmd.Args.Path)
}

type cmdFetchList struct {
	Args BagArg `positional-args:"yes"`
}

func (cmd *cmdFetchList) Execute([]string) error {
	startup()
	bag, err := openBag(cmd.Args.Bag)
	if err != nil {
		return err
	}
	entries, err := bag.FetchList().Read()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	for _, e := range entries {
		size := "-"
		if e.Size != bagit.UnknownSize {
			size = humanize.Bytes(uint64(e.Size))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Path, size, e.URL)
	}
	return w.Flush()
}

func init() {
	mustAddCmd(cmdFetch, "add", "Declare a remote payload file", "", &cmdFetchAdd{})
	mustAddCmd(cmdFetch, "rm", "Remove a remote payload file", "", &cmdFetchRemove{})
	mustAddCmd(cmdFetch, "ls", "List remote payload files", "", &cmdFetchList{})
}
