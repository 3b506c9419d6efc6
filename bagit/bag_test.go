package bagit

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndlib/bagkeeper/store"
)

func testBag(t *testing.T, opts ...Option) *Bag {
	t.Helper()
	b, err := Open(afero.NewMemMapFs(), "/bag", Tags{{"Contact-Name", "Nobody"}}, opts...)
	require.NoError(t, err)
	return b
}

func addString(t *testing.T, b *Bag, rel, content string) {
	t.Helper()
	require.NoError(t, b.AddReader(rel, strings.NewReader(content)))
}

func readString(t *testing.T, b *Bag, rel string) string {
	t.Helper()
	f, err := b.Get(rel)
	require.NoError(t, err)
	require.NotNil(t, f, "no payload file %s", rel)
	defer f.Close()
	content, err := ioutil.ReadAll(f)
	require.NoError(t, err)
	return string(content)
}

func infoTag(t *testing.T, b *Bag, label string) string {
	t.Helper()
	info, err := b.Info()
	require.NoError(t, err)
	v, _ := info.Get(label)
	return v
}

func TestOpen(t *testing.T) {
	fs := afero.NewMemMapFs()
	b, err := Open(fs, "/bag", Tags{{"Contact-Name", "Nobody"}})
	require.NoError(t, err)

	fi, err := fs.Stat("/bag/data")
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	decl, err := afero.ReadFile(fs, "/bag/bagit.txt")
	require.NoError(t, err)
	assert.Equal(t, "BagIt-Version: 1.0\nTag-File-Character-Encoding: UTF-8\n", string(decl))

	assert.Equal(t, "Nobody", infoTag(t, b, "Contact-Name"))
	assert.Equal(t, "0.0", infoTag(t, b, "Payload-Oxum"))
	assert.Equal(t, SoftwareAgent, infoTag(t, b, "Bag-Software-Agent"))

	empty, err := b.Empty()
	require.NoError(t, err)
	assert.True(t, empty)

	// opening again keeps the existing tags
	b, err = Open(fs, "/bag", Tags{{"Contact-Name", "Somebody"}})
	require.NoError(t, err)
	assert.Equal(t, "Nobody", infoTag(t, b, "Contact-Name"))
}

func TestOpenKeepsDeclaration(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/bag", 0775))
	require.NoError(t, afero.WriteFile(fs, "/bag/bagit.txt", []byte("BagIt-Version: 0.97\nTag-File-Character-Encoding: UTF-8\n"), 0664))
	b, err := Open(fs, "/bag", nil)
	require.NoError(t, err)
	decl, err := b.Declaration()
	require.NoError(t, err)
	v, _ := decl.Get("bagit-version")
	assert.Equal(t, "0.97", v)
}

func TestOpenCollision(t *testing.T) {
	var table = []struct {
		name string
		file string
	}{
		{"root is a file", "/bag"},
		{"payload dir is a file", "/bag/data"},
	}
	for _, tab := range table {
		t.Run(tab.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, fs.MkdirAll(filepath.Dir(tab.file), 0775))
			require.NoError(t, afero.WriteFile(fs, tab.file, []byte("x"), 0664))
			_, err := Open(fs, "/bag", nil)
			var ioe *IOError
			require.True(t, errors.As(err, &ioe), "got %v", err)
			assert.Equal(t, "mkdir", ioe.Op)
		})
	}
}

func TestOxumScenario(t *testing.T) {
	b := testBag(t)
	addString(t, b, "a/b.txt", "0123456789")
	addString(t, b, "c.txt", "01234")
	oxum, err := b.PayloadOxum()
	require.NoError(t, err)
	assert.Equal(t, "15.2", oxum.String())
	assert.Equal(t, "15.2", infoTag(t, b, "Payload-Oxum"))
	assert.Equal(t, "15 B", infoTag(t, b, "Bag-Size"))
}

func TestAddRemove(t *testing.T) {
	b := testBag(t)
	addString(t, b, "a/b/hello.txt", "hello")
	before, err := b.Paths()
	require.NoError(t, err)
	oxumBefore, err := b.PayloadOxum()
	require.NoError(t, err)

	addString(t, b, "top.txt", "12345")
	paths, err := b.Paths()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a/b/hello.txt", "top.txt"}, paths)
	files, err := b.Files()
	require.NoError(t, err)
	assert.Contains(t, files, filepath.Join("/bag", "data", "a", "b", "hello.txt"))
	assert.Equal(t, "10.2", infoTag(t, b, "Payload-Oxum"))
	assert.Equal(t, "12345", readString(t, b, "top.txt"))

	require.NoError(t, b.RemoveFile("top.txt"))
	after, err := b.Paths()
	require.NoError(t, err)
	assert.Equal(t, before, after)
	oxumAfter, err := b.PayloadOxum()
	require.NoError(t, err)
	assert.Equal(t, oxumBefore, oxumAfter)
	assert.Equal(t, "5.1", infoTag(t, b, "Payload-Oxum"))

	err = b.RemoveFile("top.txt")
	assert.True(t, errors.Is(err, ErrNotFound))
	err = b.RemoveFile("a/b")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestAddConflict(t *testing.T) {
	b := testBag(t)
	addString(t, b, "x.txt", "original")
	require.NoError(t, b.Manifest("md5"))
	manifest, err := afero.ReadFile(b.Fs(), "/bag/manifest-md5.txt")
	require.NoError(t, err)

	err = b.AddReader("x.txt", strings.NewReader("replacement"))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, "original", readString(t, b, "x.txt"))
	manifest2, err := afero.ReadFile(b.Fs(), "/bag/manifest-md5.txt")
	require.NoError(t, err)
	assert.Equal(t, manifest, manifest2)
}

func TestAddFetchConflict(t *testing.T) {
	b := testBag(t)
	require.NoError(t, b.AddRemoteFile("http://example.com/x.bin", "x.bin", 3, nil))
	err := b.AddReader("x.bin", strings.NewReader("abc"))
	assert.True(t, errors.Is(err, ErrConflict))
	f, err := b.Get("x.bin")
	assert.NoError(t, err)
	assert.Nil(t, f)

	// and the other way around
	addString(t, b, "y.bin", "abc")
	err = b.AddRemoteFile("http://example.com/y.bin", "y.bin", 3, nil)
	assert.True(t, errors.Is(err, ErrConflict))
	entries, err := b.FetchList().Read()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAddInvalidPath(t *testing.T) {
	b := testBag(t)
	for _, p := range []string{"", "../x", "a/../../x", "/abs", "."} {
		err := b.AddReader(p, strings.NewReader("x"))
		assert.True(t, errors.Is(err, ErrInvalidPath), "path %q gave %v", p, err)
	}
}

func TestAddFilesPartial(t *testing.T) {
	b := testBag(t)
	addString(t, b, "a", "aaa")
	err := b.AddFiles([]Item{
		FromReader("b", strings.NewReader("bb")),
		FromReader("a", strings.NewReader("again")),
		FromReader("c", strings.NewReader("c")),
	})
	assert.True(t, errors.Is(err, ErrConflict))

	paths, err := b.Paths()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, paths)
	assert.Equal(t, "aaa", readString(t, b, "a"))
	assert.Equal(t, "5.2", infoTag(t, b, "Payload-Oxum"))
}

func TestAddFailureLeavesNoFile(t *testing.T) {
	b := testBag(t)
	err := b.AddFunc("partial.txt", func(w io.Writer) error {
		io.WriteString(w, "some bytes")
		return errors.New("source went away")
	})
	assert.Error(t, err)
	f, err := b.Get("partial.txt")
	assert.NoError(t, err)
	assert.Nil(t, f)
	assert.Equal(t, "0.0", infoTag(t, b, "Payload-Oxum"))
}

func TestAddFile(t *testing.T) {
	src := afero.NewMemMapFs()
	require.NoError(t, src.MkdirAll("/src", 0775))
	require.NoError(t, afero.WriteFile(src, "/src/file.txt", []byte("from elsewhere"), 0664))
	b := testBag(t, WithSourceFs(src))
	require.NoError(t, b.AddFile("copied/file.txt", "/src/file.txt"))
	assert.Equal(t, "from elsewhere", readString(t, b, "copied/file.txt"))

	err := b.AddFile("nothing.txt", "/src/nothing.txt")
	var ioe *IOError
	assert.True(t, errors.As(err, &ioe))
	f, err := b.Get("nothing.txt")
	assert.NoError(t, err)
	assert.Nil(t, f)
}

func TestAddFromStore(t *testing.T) {
	ms := store.NewMemory()
	ms.Put("scans/0001.tif", []byte("not really a tiff"))
	b := testBag(t)
	require.NoError(t, b.AddFromStore("0001.tif", ms, "scans/0001.tif"))
	assert.Equal(t, "not really a tiff", readString(t, b, "0001.tif"))

	err := b.AddFromStore("0002.tif", ms, "scans/0002.tif")
	assert.True(t, errors.Is(err, store.ErrNotExist))
	f, err := b.Get("0002.tif")
	assert.NoError(t, err)
	assert.Nil(t, f)
}

func TestGet(t *testing.T) {
	b := testBag(t)
	addString(t, b, "dir/file", "content")
	f, err := b.Get("absent")
	assert.NoError(t, err)
	assert.Nil(t, f)
	f, err = b.Get("dir")
	assert.NoError(t, err)
	assert.Nil(t, f)
	assert.Equal(t, "content", readString(t, b, "dir/file"))
}

func TestGC(t *testing.T) {
	b := testBag(t)
	fs := b.Fs()
	require.NoError(t, fs.MkdirAll("/bag/data/e1/e2/e3", 0775))
	require.NoError(t, fs.MkdirAll("/bag/data/e4", 0775))
	addString(t, b, "keep/file", "x")
	require.NoError(t, fs.MkdirAll("/bag/data/keep/empty", 0775))

	require.NoError(t, b.GC())
	listing := func() []string {
		var dirs []string
		afero.Walk(fs, "/bag/data", func(p string, info os.FileInfo, err error) error {
			if err == nil && info.IsDir() {
				dirs = append(dirs, p)
			}
			return err
		})
		return dirs
	}
	first := listing()
	assert.Equal(t, []string{"/bag/data", "/bag/data/keep"}, first)

	require.NoError(t, b.GC())
	assert.Equal(t, first, listing())
}

func TestGlob(t *testing.T) {
	b := testBag(t)
	addString(t, b, "img/1.tif", "1")
	addString(t, b, "img/sub/2.tif", "2")
	addString(t, b, "img/sub/2.jpg", "2")
	addString(t, b, "notes.txt", "n")
	result, err := b.Glob("img/**/*.tif")
	require.NoError(t, err)
	assert.Equal(t, []string{"img/1.tif", "img/sub/2.tif"}, result)

	_, err = b.Glob("img/[")
	assert.Error(t, err)
}

func TestTagFiles(t *testing.T) {
	b := testBag(t)
	tags, err := b.TagFiles()
	require.NoError(t, err)
	assert.Empty(t, tags)

	addString(t, b, "hello", "hello")
	require.NoError(t, b.AddTagFile("custom/notes.txt", strings.NewReader("notes")))
	require.NoError(t, b.Manifest("md5"))
	tags, err = b.TagFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"bag-info.txt", "bagit.txt", "custom/notes.txt", "manifest-md5.txt"}, tags)
}

func TestCustomTagFiles(t *testing.T) {
	b := testBag(t)
	require.NoError(t, b.AddTagFile("notes.txt", strings.NewReader("notes")))
	err := b.AddTagFile("notes.txt", strings.NewReader("again"))
	assert.True(t, errors.Is(err, ErrConflict))
	for _, name := range []string{"bag-info.txt", "bagit.txt", "fetch.txt", "manifest-md5.txt", "data/x", "../x"} {
		err = b.AddTagFile(name, strings.NewReader("x"))
		assert.True(t, errors.Is(err, ErrInvalidPath), "name %s gave %v", name, err)
	}
	require.NoError(t, b.RemoveTagFile("notes.txt"))
	err = b.RemoveTagFile("notes.txt")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRemoteFiles(t *testing.T) {
	b := testBag(t)
	md5 := "5d41402abc4b2a76b9719d911017c592"
	require.NoError(t, b.AddRemoteFile("http://example.com/x.bin", "remote/x.bin", UnknownSize, map[string]string{"MD5": md5}))
	records, err := b.Manifests().Read(PayloadManifest, "md5")
	require.NoError(t, err)
	assert.Equal(t, []Record{{Algorithm: "md5", Checksum: md5, Path: "remote/x.bin"}}, records)

	err = b.AddRemoteFile("http://example.com/other", "remote/x.bin", 1, nil)
	assert.True(t, errors.Is(err, ErrConflict))

	require.NoError(t, b.RemoveRemoteFile("remote/x.bin"))
	records, err = b.Manifests().Read(PayloadManifest, "md5")
	require.NoError(t, err)
	assert.Empty(t, records)
	_, err = b.Fs().Stat("/bag/fetch.txt")
	assert.True(t, os.IsNotExist(err))

	err = b.RemoveRemoteFile("remote/x.bin")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRemoteFileBadChecksum(t *testing.T) {
	b := testBag(t)
	require.NoError(t, b.AddRemoteFile("http://example.com/a", "a.bin", 1, map[string]string{"md5": helloMD5}))
	fetch, err := afero.ReadFile(b.Fs(), "/bag/fetch.txt")
	require.NoError(t, err)
	manifest, err := afero.ReadFile(b.Fs(), "/bag/manifest-md5.txt")
	require.NoError(t, err)

	var table = []map[string]string{
		{"md5": "nothex"},
		{"md5": ""},
		{"md5": helloMD5, "sha1": "abc"},
		{"whirlpool": helloMD5},
		{"md5": helloMD5, "bad/alg": helloMD5},
	}
	for _, sums := range table {
		err := b.AddRemoteFile("http://example.com/x", "x.bin", 3, sums)
		assert.Error(t, err, sums)
		after, err := afero.ReadFile(b.Fs(), "/bag/fetch.txt")
		require.NoError(t, err)
		assert.Equal(t, string(fetch), string(after), sums)
		after, err = afero.ReadFile(b.Fs(), "/bag/manifest-md5.txt")
		require.NoError(t, err)
		assert.Equal(t, string(manifest), string(after), sums)
		_, err = b.Fs().Stat("/bag/manifest-sha1.txt")
		assert.True(t, os.IsNotExist(err), sums)
	}

	// a retry with good checksums works
	require.NoError(t, b.AddRemoteFile("http://example.com/x", "x.bin", 3, map[string]string{"md5": strings.ToUpper(helloMD5)}))
	records, err := b.Manifests().Read(PayloadManifest, "md5")
	require.NoError(t, err)
	assert.Equal(t, []Record{
		{Algorithm: "md5", Checksum: helloMD5, Path: "a.bin"},
		{Algorithm: "md5", Checksum: helloMD5, Path: "x.bin"},
	}, records)
}

func TestLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := Load(fs, "/nobag")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)
	exists, err := afero.Exists(fs, "/nobag")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, fs.MkdirAll("/half/data", 0775))
	_, err = Load(fs, "/half")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	_, err = Open(fs, "/bag", nil)
	require.NoError(t, err)
	require.NoError(t, fs.Remove("/bag/bag-info.txt"))
	b, err := Load(fs, "/bag")
	require.NoError(t, err)
	_, err = b.Verify()
	require.NoError(t, err)
	exists, err = afero.Exists(fs, "/bag/bag-info.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSymlinksSkipped(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(dir, "outside.txt")
	require.NoError(t, ioutil.WriteFile(outside, []byte("outside"), 0664))

	b, err := Open(afero.NewOsFs(), filepath.Join(dir, "bag"), nil)
	require.NoError(t, err)
	addString(t, b, "real.txt", "real")
	if err := os.Symlink(outside, filepath.Join(dir, "bag", "data", "link.txt")); err != nil {
		t.Skip("symlinks not supported:", err)
	}
	paths, err := b.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"real.txt"}, paths)

	require.NoError(t, b.Manifest("sha256"))
	report, err := b.Verify()
	require.NoError(t, err)
	assert.True(t, report.Valid())
	assert.Empty(t, report.Extra)
}
