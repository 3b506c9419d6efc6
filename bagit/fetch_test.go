package bagit

import (
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFetchList(t *testing.T) FetchList {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/bag/data", 0775))
	return FetchList{Fs: fs, Root: "/bag"}
}

func TestFetchRoundTrip(t *testing.T) {
	fl := newFetchList(t)
	entries := []FetchEntry{
		{URL: "http://example.com/x.bin", Size: 1024, Path: "data/x.bin"},
		{URL: "https://example.com/a%20b", Size: UnknownSize, Path: "data/dir/a b"},
	}
	require.NoError(t, fl.Write(entries))
	content, err := afero.ReadFile(fl.Fs, "/bag/fetch.txt")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/x.bin 1024 data/x.bin\nhttps://example.com/a%20b - data/dir/a b\n", string(content))

	result, err := fl.Read()
	require.NoError(t, err)
	assert.Equal(t, entries, result)

	ok, err := fl.Declares("data/x.bin")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = fl.Declares("data/y.bin")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, fl.Write(nil))
	_, err = fl.Fs.Stat("/bag/fetch.txt")
	assert.True(t, os.IsNotExist(err))
	result, err = fl.Read()
	assert.NoError(t, err)
	assert.Empty(t, result)
}

func TestFetchParseErrors(t *testing.T) {
	var table = []struct {
		content string
		line    int
	}{
		{"http://example.com/x 10\n", 1},
		{"http://example.com/x ten data/x\n", 1},
		{"http://example.com/x -5 data/x\n", 1},
		{"http://example.com/x 10 data/x\n\nhttp://example.com/y 10 x\n", 3},
		{"http://example.com/x 10 data/x\nhttp://example.com/y - data/x\n", 2},
	}
	for _, tab := range table {
		fl := newFetchList(t)
		require.NoError(t, afero.WriteFile(fl.Fs, "/bag/fetch.txt", []byte(tab.content), 0664))
		_, err := fl.Read()
		var perr *ManifestParseError
		require.True(t, errors.As(err, &perr), "content %q gave %v", tab.content, err)
		assert.Equal(t, FetchTxt, perr.File)
		assert.Equal(t, tab.line, perr.Line)
	}
}

func TestFetchWriteConflicts(t *testing.T) {
	fl := newFetchList(t)
	require.NoError(t, afero.WriteFile(fl.Fs, "/bag/data/here.txt", []byte("x"), 0664))

	err := fl.Write([]FetchEntry{{URL: "http://example.com/h", Size: 1, Path: "data/here.txt"}})
	assert.True(t, errors.Is(err, ErrConflict))

	err = fl.Write([]FetchEntry{
		{URL: "http://example.com/a", Size: 1, Path: "data/a"},
		{URL: "http://example.com/b", Size: 1, Path: "data/./a"},
	})
	assert.True(t, errors.Is(err, ErrConflict))

	err = fl.Write([]FetchEntry{{URL: "http://example.com/a", Size: 1, Path: "bag-info.txt"}})
	assert.True(t, errors.Is(err, ErrInvalidPath))

	err = fl.Write([]FetchEntry{{URL: "", Size: 1, Path: "data/a"}})
	assert.Error(t, err)

	_, err = fl.Fs.Stat("/bag/fetch.txt")
	assert.True(t, os.IsNotExist(err))
}
