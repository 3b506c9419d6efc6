package store

import (
	"io"
	"io/ioutil"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory(t *testing.T) {
	ms := NewMemory()
	ms.Put("scans/0002.tif", []byte("two"))
	ms.Put("scans/0001.tif", []byte("one"))
	ms.Put("notes.txt", []byte("some notes"))

	keys, err := ms.ListPrefix("scans/")
	require.NoError(t, err)
	assert.Equal(t, []string{"scans/0001.tif", "scans/0002.tif"}, keys)

	var all []string
	for k := range ms.List() {
		all = append(all, k)
	}
	assert.Equal(t, []string{"notes.txt", "scans/0001.tif", "scans/0002.tif"}, all)

	rac, size, err := ms.Open("notes.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
	content, err := ioutil.ReadAll(NewReader(rac))
	require.NoError(t, err)
	assert.Equal(t, "some notes", string(content))

	_, _, err = ms.Open("missing")
	assert.True(t, errors.Is(err, ErrNotExist))
}

func TestMemoryCreate(t *testing.T) {
	ms := NewMemory()
	w, err := ms.Create("k")
	require.NoError(t, err)
	_, err = io.WriteString(w, "value")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = ms.Create("k")
	assert.True(t, errors.Is(err, ErrKeyExists))

	require.NoError(t, ms.Delete("k"))
	require.NoError(t, ms.Delete("k"))
	_, _, err = ms.Open("k")
	assert.True(t, errors.Is(err, ErrNotExist))
}

func TestReaderShortReads(t *testing.T) {
	r := NewReader(memReader("abcdef"))
	buf := make([]byte, 4)
	n, err := r.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, "abcd", string(buf[:n]))
	n, err = r.Read(buf)
	assert.NoError(t, err)
	assert.Equal(t, "ef", string(buf[:n]))
	n, err = r.Read(buf)
	assert.Equal(t, 0, n)
	assert.Equal(t, io.EOF, err)
}
