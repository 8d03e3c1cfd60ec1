package container

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type zipFile struct {
	name  string
	data  []byte
	store bool
}

// writeZip builds a source archive with an independent zip implementation.
func writeZip(t *testing.T, path string, files []zipFile) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, file := range files {
		fh := &zip.FileHeader{Name: file.name, Method: zip.Deflate}
		if file.store {
			fh.Method = zip.Store
		}
		w, err := zw.CreateHeader(fh)
		require.NoError(t, err)
		_, err = w.Write(file.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func openSource(t *testing.T, files []zipFile) *Reader {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.apk")
	writeZip(t, path, files)
	r, err := OpenReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func newWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.apk")
	w, err := OpenWriter(path, ModeCreate)
	require.NoError(t, err)
	return w, path
}

func reopen(t *testing.T, path string) *Reader {
	t.Helper()
	r, err := OpenReader(path)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// readIndependently checks the archive with klauspost's zip reader and returns its contents.
func readIndependently(t *testing.T, path string) map[string][]byte {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err, f.Name)
		data, err := io.ReadAll(rc)
		require.NoError(t, err, f.Name)
		rc.Close()
		out[f.Name] = data
	}
	return out
}

func TestAddOwnedRoundTrip(t *testing.T) {
	w, path := newWriter(t)
	text := bytes.Repeat([]byte("compressible "), 200)
	require.NoError(t, w.AddOwned("assets/a.txt", text, true))
	require.NoError(t, w.AddOwned("lib/x86/libfoo.so", []byte{0x7f, 'E', 'L', 'F'}, false))
	require.NoError(t, w.Finalize())

	r := reopen(t, path)
	got, err := r.ReadFile("assets/a.txt")
	require.NoError(t, err)
	assert.Equal(t, text, got)

	e, ok := r.Entry("assets/a.txt")
	require.True(t, ok)
	assert.Equal(t, uint16(methodDeflate), e.Method)
	assert.Less(t, e.CompressedSize, e.Size)

	e, ok = r.Entry("lib/x86/libfoo.so")
	require.True(t, ok)
	assert.Equal(t, uint16(methodStore), e.Method)

	files := readIndependently(t, path)
	assert.Equal(t, text, files["assets/a.txt"])
	assert.Len(t, files, 2)
}

func TestAddOwnedDuplicate(t *testing.T) {
	w, _ := newWriter(t)
	defer w.Abort()

	require.NoError(t, w.AddOwned("a", []byte("1"), false))
	err := w.AddOwned("a", []byte("2"), false)
	require.ErrorIs(t, err, ErrDuplicateEntry)

	var ee *EntryError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "a", ee.Name)
}

func TestAddLinkedMissingSource(t *testing.T) {
	src := openSource(t, []zipFile{{name: "present", data: []byte("x")}})
	w, _ := newWriter(t)
	defer w.Abort()

	err := w.AddLinked("absent", src, "absent")
	require.ErrorIs(t, err, ErrSourceEntryNotFound)
	assert.False(t, w.Has("absent"))
}

func TestFinalizeTwice(t *testing.T) {
	w, _ := newWriter(t)
	require.NoError(t, w.AddOwned("a", []byte("1"), true))
	require.NoError(t, w.Finalize())

	require.ErrorIs(t, w.Finalize(), ErrAlreadyFinalized)
	require.ErrorIs(t, w.AddOwned("b", nil, false), ErrAlreadyFinalized)
	require.ErrorIs(t, w.SetAlignment(SuffixAlignment(".so", 4096)), ErrAlreadyFinalized)
}

func TestLinkSameEntryTwice(t *testing.T) {
	payload := bytes.Repeat([]byte("payload-bytes "), 500)
	src := openSource(t, []zipFile{{name: "res/raw/blob", data: payload}})

	w, path := newWriter(t)
	require.NoError(t, w.AddLinked("copy/one", src, "res/raw/blob"))
	require.NoError(t, w.AddLinked("copy/two", src, "res/raw/blob"))
	require.NoError(t, w.Finalize())

	r := reopen(t, path)
	one, err := r.ReadFile("copy/one")
	require.NoError(t, err)
	two, err := r.ReadFile("copy/two")
	require.NoError(t, err)
	want, err := src.ReadFile("res/raw/blob")
	require.NoError(t, err)

	assert.Equal(t, one, two)
	assert.Equal(t, want, one)

	// the stored (compressed) bytes are taken over as-is
	se, _ := src.Entry("res/raw/blob")
	for _, name := range []string{"copy/one", "copy/two"} {
		de, ok := r.Entry(name)
		require.True(t, ok)
		assert.Equal(t, se.CRC32, de.CRC32)
		assert.Equal(t, se.Method, de.Method)
		assert.Equal(t, se.CompressedSize, de.CompressedSize)

		srcRaw, err := io.ReadAll(src.raw(se))
		require.NoError(t, err)
		dstRaw, err := io.ReadAll(r.raw(de))
		require.NoError(t, err)
		assert.Equal(t, srcRaw, dstRaw)
	}
}

func TestNestedLinksAreAliases(t *testing.T) {
	big := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF, 0x01}, 64*1024)
	src := openSource(t, []zipFile{
		{name: "AndroidManifest.xml", data: []byte("manifest")},
		{name: "classes.dex", data: big},
		{name: "resources.arsc", data: big[:4096], store: true},
	})

	w, path := newWriter(t)
	require.NoError(t, w.SetAlignment(ExactAlignment("assets/origin.apk", 4096)))
	sum, err := w.Nest("assets/origin.apk", src)
	require.NoError(t, err)
	assert.Equal(t, src.Size(), sum.Size)
	assert.Len(t, sum.SHA256, 64)

	require.NoError(t, w.AddLinked("classes.dex", src, "classes.dex"))
	require.NoError(t, w.AddLinked("resources.arsc", src, "resources.arsc"))
	require.NoError(t, w.Finalize())

	info, err := os.Stat(path)
	require.NoError(t, err)
	// one copy of the source plus headers and padding, not two
	assert.Less(t, info.Size(), src.Size()+8192)

	r := reopen(t, path)
	nested, ok := r.Entry("assets/origin.apk")
	require.True(t, ok)
	assert.Zero(t, nested.DataOffset%4096)

	for _, name := range []string{"classes.dex", "resources.arsc"} {
		e, ok := r.Entry(name)
		require.True(t, ok)
		assert.GreaterOrEqual(t, e.HeaderOffset, nested.DataOffset, name)
		assert.Less(t, e.HeaderOffset, nested.DataOffset+nested.Size, name)

		want, err := src.ReadFile(name)
		require.NoError(t, err)
		got, err := r.ReadFile(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	files := readIndependently(t, path)
	assert.Len(t, files, 3)
	original, err := os.ReadFile(src.Path())
	require.NoError(t, err)
	assert.Equal(t, original, files["assets/origin.apk"])
}

func TestAlignmentInvariant(t *testing.T) {
	src := openSource(t, []zipFile{
		{name: "pad", data: []byte("xyz")},
		{name: "lib/arm64-v8a/libsrc.so", data: bytes.Repeat([]byte{1}, 5000), store: true},
	})

	rule := ComposeAlignment(
		SuffixAlignment(".so", 4096),
		ExactAlignment("assets/origin.apk", 4096),
	)
	w, path := newWriter(t)
	require.NoError(t, w.SetAlignment(rule))

	require.NoError(t, w.AddOwned("odd-name.txt", []byte("a"), false))
	require.NoError(t, w.AddOwned("assets/so/x86/liba.so", bytes.Repeat([]byte{2}, 123), false))
	require.NoError(t, w.AddOwned("b", []byte("bb"), true))
	_, err := w.Nest("assets/origin.apk", src)
	require.NoError(t, err)
	require.NoError(t, w.AddOwned("assets/so/arm64-v8a/liba.so", bytes.Repeat([]byte{3}, 77), false))
	// the source did not align its .so; the link must still come out aligned
	require.NoError(t, w.AddLinked("lib/arm64-v8a/libsrc.so", src, "lib/arm64-v8a/libsrc.so"))
	require.NoError(t, w.Finalize())

	r := reopen(t, path)
	matched := 0
	for e := range r.Entries() {
		if b := rule(e.Name); b > 1 {
			matched++
			assert.Zero(t, e.DataOffset%uint64(b), "%s at %d", e.Name, e.DataOffset)
		}
	}
	assert.Equal(t, 4, matched)

	got, err := r.ReadFile("lib/arm64-v8a/libsrc.so")
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{1}, 5000), got)
	assert.Len(t, readIndependently(t, path), 6)
}

func TestAlignmentExtraSizes(t *testing.T) {
	for start := uint64(0); start < 64; start++ {
		extra := alignmentExtra(start, 16)
		assert.Zero(t, (start+uint64(len(extra)))%16, "start %d", start)
		if len(extra) > 0 {
			assert.GreaterOrEqual(t, len(extra), alignExtraMin)
		}
	}
}

func TestEntriesIsRestartable(t *testing.T) {
	w, _ := newWriter(t)
	defer w.Abort()
	for _, n := range []string{"a", "b", "c"} {
		require.NoError(t, w.AddOwned(n, []byte(n), false))
	}

	var names []string
	for e := range w.Entries() {
		names = append(names, e.Name)
		assert.Equal(t, KindOwned, e.Kind)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	var again []string
	for e := range w.Entries() {
		again = append(again, e.Name)
		if len(again) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, again)
}

func TestReadWriteKeepsEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rw.apk")
	writeZip(t, path, []zipFile{
		{name: "keep.txt", data: []byte("kept content")},
		{name: "raw.bin", data: []byte{9, 8, 7}, store: true},
	})

	w, err := OpenWriter(path, ModeReadWrite)
	require.NoError(t, err)
	require.True(t, w.Has("keep.txt"))
	require.ErrorIs(t, w.AddOwned("keep.txt", nil, false), ErrDuplicateEntry)
	require.NoError(t, w.AddOwned("new.txt", []byte("added"), true))
	require.NoError(t, w.Finalize())

	files := readIndependently(t, path)
	assert.Equal(t, []byte("kept content"), files["keep.txt"])
	assert.Equal(t, []byte{9, 8, 7}, files["raw.bin"])
	assert.Equal(t, []byte("added"), files["new.txt"])
}

func TestOpenCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.apk")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("not a zip "), 10), 0644))

	_, err := OpenReader(path)
	require.ErrorIs(t, err, ErrContainerOpen)

	_, err = OpenWriter(path, ModeReadWrite)
	require.ErrorIs(t, err, ErrContainerOpen)

	_, err = OpenReader(filepath.Join(dir, "missing.apk"))
	require.ErrorIs(t, err, ErrContainerOpen)

	_, err = OpenWriter(filepath.Join(dir, "no", "such", "dir.apk"), ModeCreate)
	require.ErrorIs(t, err, ErrContainerOpen)
}

func TestAbortRemovesFile(t *testing.T) {
	w, path := newWriter(t)
	require.NoError(t, w.AddOwned("a", []byte("1"), false))
	require.NoError(t, w.Abort())

	_, err := os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
