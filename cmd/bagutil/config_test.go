package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndlib/bagkeeper/bagit"
)

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Parallel)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Empty(t, cfg.Algorithms)

	name := filepath.Join(t.TempDir(), "bagutil.toml")
	require.NoError(t, ioutil.WriteFile(name, []byte(`
algorithms = ["sha256", "md5"]
preference = ["md5"]
parallel = 8

[log]
level = "debug"

[s3]
endpoint = "http://localhost:9000"
`), 0664))
	cfg, err = loadConfig(name)
	require.NoError(t, err)
	assert.Equal(t, []string{"sha256", "md5"}, cfg.Algorithms)
	assert.Equal(t, []string{"md5"}, cfg.Preference)
	assert.Equal(t, 8, cfg.Parallel)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "http://localhost:9000", cfg.S3.Endpoint)
	assert.Equal(t, "us-east-1", cfg.S3.Region)

	cfg.merge(2, LogConfig{Format: "json"})
	assert.Equal(t, 2, cfg.Parallel)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	require.NoError(t, ioutil.WriteFile(name, []byte("parallel = \"many\"\n"), 0664))
	_, err = loadConfig(name)
	assert.Error(t, err)
}

func TestSplitS3(t *testing.T) {
	var table = []struct {
		input, bucket, prefix string
	}{
		{"s3://bucket", "bucket", ""},
		{"s3://bucket/", "bucket", ""},
		{"s3://bucket/scans", "bucket", "scans/"},
		{"s3://bucket/scans/2020/", "bucket", "scans/2020/"},
	}
	for _, tab := range table {
		bucket, prefix := splitS3(tab.input)
		assert.Equal(t, tab.bucket, bucket, tab.input)
		assert.Equal(t, tab.prefix, prefix, tab.input)
	}
}

func TestParseTags(t *testing.T) {
	tags, err := parseTags([]string{"Contact-Name: Nobody", "External-Identifier:abc:123"})
	require.NoError(t, err)
	assert.Equal(t, bagit.Tags{
		{Label: "Contact-Name", Value: "Nobody"},
		{Label: "External-Identifier", Value: "abc:123"},
	}, tags)

	_, err = parseTags([]string{"no colon"})
	assert.Error(t, err)
	_, err = parseTags([]string{": no label"})
	assert.Error(t, err)
}

func TestLockBag(t *testing.T) {
	root := filepath.Join(t.TempDir(), "bag")
	unlock, err := lockBag(root)
	require.NoError(t, err)

	_, err = lockBag(root)
	assert.Error(t, err)

	unlock()
	_, err = os.Stat(root + ".lock")
	assert.True(t, os.IsNotExist(err))

	unlock, err = lockBag(root)
	require.NoError(t, err)
	unlock()
}

func TestFileItems(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"scans/0001.tif", "scans/sub/0002.tif", "scans/.DS_Store", "single.txt"} {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0775))
		require.NoError(t, ioutil.WriteFile(p, []byte(name), 0664))
	}
	cmd := &cmdAdd{As: "incoming/"}
	cmd.Args.Paths = []string{filepath.Join(dir, "scans"), filepath.Join(dir, "single.txt")}
	items, err := cmd.fileItems()
	require.NoError(t, err)
	var paths []string
	for _, item := range items {
		paths = append(paths, item.Path)
	}
	sort.Strings(paths)
	assert.Equal(t, []string{"incoming/scans/0001.tif", "incoming/scans/sub/0002.tif", "incoming/single.txt"}, paths)
}

func TestOpenSource(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0664))

	src, err := openSource(cfg, dir)
	require.NoError(t, err)
	keys, err := src.ListPrefix("")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, keys)

	_, err = openSource(cfg, filepath.Join(dir, "a.txt"))
	assert.Error(t, err)
	_, err = openSource(cfg, "s3:///prefix")
	assert.Error(t, err)
}

func TestReadOnlyCommandsCreateNothing(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nobag")

	err := (&cmdVerify{Quiet: true, Args: BagArg{Bag: root}}).Execute(nil)
	assert.True(t, errors.Is(err, bagit.ErrNotFound), "got %v", err)
	err = (&cmdOxum{Args: BagArg{Bag: root}}).Execute(nil)
	assert.True(t, errors.Is(err, bagit.ErrNotFound), "got %v", err)
	err = (&cmdList{Args: BagArg{Bag: root}}).Execute(nil)
	assert.True(t, errors.Is(err, bagit.ErrNotFound), "got %v", err)
	_, err = os.Stat(root)
	assert.True(t, os.IsNotExist(err))

	// a bag without bag-info.txt is verified as it is
	root = filepath.Join(t.TempDir(), "bag")
	_, err = bagit.Open(afero.NewOsFs(), root, nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, bagit.BagInfoTxt)))
	err = (&cmdVerify{Quiet: true, Args: BagArg{Bag: root}}).Execute(nil)
	var verr *bagit.ValidationError
	assert.True(t, errors.As(err, &verr), "got %v", err)
	_, err = os.Stat(filepath.Join(root, bagit.BagInfoTxt))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(root + ".lock")
	assert.True(t, os.IsNotExist(err))
}
