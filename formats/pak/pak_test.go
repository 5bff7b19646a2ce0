package pak_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/crate"
	"github.com/meigma/crate/formats/pak"
)

type rawFile struct {
	name string
	data string
}

// buildPak assembles an on-disk PAK image: header, payloads in order, then
// the record directory.
func buildPak(magic string, recordSize, nameLen int, files []rawFile) []byte {
	dataSize := 0
	for _, f := range files {
		dataSize += len(f.data)
	}
	dirOffset := 12 + dataSize
	buf := make([]byte, dirOffset+len(files)*recordSize)
	copy(buf[:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(dirOffset))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(files)*recordSize))

	offset := 12
	for i, f := range files {
		rec := buf[dirOffset+i*recordSize:]
		copy(rec[:nameLen], f.name)
		binary.LittleEndian.PutUint32(rec[nameLen:nameLen+4], uint32(offset))
		binary.LittleEndian.PutUint32(rec[nameLen+4:nameLen+8], uint32(len(f.data)))
		copy(buf[offset:], f.data)
		offset += len(f.data)
	}
	return buf
}

func buildSiN(files []rawFile) []byte   { return buildPak("SPAK", 128, 120, files) }
func buildQuake(files []rawFile) []byte { return buildPak("PACK", 64, 56, files) }

func sinRegistry() *crate.Registry   { return crate.NewRegistry(pak.SiN()) }
func quakeRegistry() *crate.Registry { return crate.NewRegistry(pak.Quake()) }

func TestOpenReconstructsDirectoryTree(t *testing.T) {
	t.Parallel()

	src := buildSiN([]rawFile{
		{"A/B.TXT", "hello"},
		{"A/C.TXT", "world"},
		{"TOP.TXT", "root"},
	})
	a, err := crate.Open(src, crate.WithRegistry(sinRegistry()))
	require.NoError(t, err)

	assert.Equal(t, "sin", a.FormatInfo().ID)
	assert.False(t, a.IsModified())

	dirA := a.Root().Subdir("A")
	require.NotNil(t, dirA)
	require.Equal(t, 2, dirA.NumEntries())
	b := dirA.Entry("B.TXT")
	require.NotNil(t, b)
	assert.Equal(t, crate.StateUnmodified, b.State())
	assert.Equal(t, []byte("hello"), b.Data())

	top := a.Root().Entry("TOP.TXT")
	require.NotNil(t, top)
	assert.Equal(t, []byte("root"), top.Data())
}

func TestRoundTripPreservesPathsAndData(t *testing.T) {
	t.Parallel()

	src := buildSiN([]rawFile{
		{"MAPS/E1/START.BSP", "bsp-bytes"},
		{"SOUND/PAIN.WAV", "wav-bytes"},
	})
	a, err := crate.Open(src, crate.WithRegistry(sinRegistry()))
	require.NoError(t, err)

	out, err := a.Write()
	require.NoError(t, err)
	assert.False(t, a.IsModified())

	b, err := crate.Open(out, crate.WithRegistry(sinRegistry()))
	require.NoError(t, err)

	e := b.EntryAtPath("MAPS/E1/START.BSP")
	require.NotNil(t, e)
	assert.Equal(t, []byte("bsp-bytes"), e.Data())
	e = b.EntryAtPath("SOUND/PAIN.WAV")
	require.NotNil(t, e)
	assert.Equal(t, []byte("wav-bytes"), e.Data())
}

func TestDeferredPayloadsLoadOnDemand(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.sin")
	require.NoError(t, os.WriteFile(path, buildSiN([]rawFile{{"A/B.TXT", "lazy"}}), 0o644))

	a, err := crate.OpenFile(path, crate.WithRegistry(sinRegistry()), crate.WithDeferredPayloads())
	require.NoError(t, err)

	e := a.EntryAtPath("A/B.TXT")
	require.NotNil(t, e)
	assert.False(t, e.Loaded())
	assert.Equal(t, int64(4), e.Size())
	assert.Nil(t, e.Data())

	data, err := a.EntryData(e)
	require.NoError(t, err)
	assert.Equal(t, []byte("lazy"), data)

	// Loading must not dirty the archive.
	assert.False(t, a.IsModified())

	again, err := a.EntryData(e)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestFailedSaveKeepsDeferredPayloadsReadable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.sin")
	require.NoError(t, os.WriteFile(path, buildSiN([]rawFile{{"A/B.TXT", "lazy"}}), 0o644))

	a, err := crate.OpenFile(path, crate.WithRegistry(sinRegistry()), crate.WithDeferredPayloads())
	require.NoError(t, err)

	// Shift the serialized layout so a committed offset would be wrong.
	pad := crate.NewEntry("PAD.TXT")
	require.NoError(t, pad.ImportData([]byte("0123456789"), 0, 10))
	require.NoError(t, a.Root().AddEntry(pad, -1))

	err = a.SaveFile(t.TempDir())
	require.Error(t, err)
	assert.True(t, a.IsModified())

	e := a.EntryAtPath("A/B.TXT")
	require.NotNil(t, e)
	data, err := a.EntryData(e)
	require.NoError(t, err)
	assert.Equal(t, []byte("lazy"), data, "offsets must still address the old backing file")
}

func TestMemoryWriteKeepsDeferredPayloadsReadable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.sin")
	require.NoError(t, os.WriteFile(path, buildSiN([]rawFile{{"A/B.TXT", "lazy"}}), 0o644))

	a, err := crate.OpenFile(path, crate.WithRegistry(sinRegistry()), crate.WithDeferredPayloads())
	require.NoError(t, err)

	pad := crate.NewEntry("PAD.TXT")
	require.NoError(t, pad.ImportData([]byte("0123456789"), 0, 10))
	require.NoError(t, a.Root().AddEntry(pad, -1))

	// A memory write never touches the backing file; recorded offsets must
	// keep pointing at it rather than at the returned buffer.
	_, err = a.Write()
	require.NoError(t, err)

	e := a.EntryAtPath("A/B.TXT")
	data, err := a.EntryData(e)
	require.NoError(t, err)
	assert.Equal(t, []byte("lazy"), data)
}

func TestLazyLoadReclassifiesEntryType(t *testing.T) {
	t.Parallel()

	png := "\x89PNG\r\n\x1a\nIHDRxxxx"
	path := filepath.Join(t.TempDir(), "test.sin")
	require.NoError(t, os.WriteFile(path, buildSiN([]rawFile{{"LOGO", png}}), 0o644))

	a, err := crate.OpenFile(path, crate.WithRegistry(sinRegistry()), crate.WithDeferredPayloads())
	require.NoError(t, err)

	e := a.Root().Entry("LOGO")
	require.NotNil(t, e)
	assert.Equal(t, crate.TypeUnknown, e.Type(), "no payload to classify at open time")

	_, err = a.EntryData(e)
	require.NoError(t, err)
	assert.Equal(t, crate.TypeImage, e.Type())
}

func TestWriteFallsBackToFilenameForOverlongPaths(t *testing.T) {
	t.Parallel()

	a, err := crate.Open(buildSiN(nil), crate.WithRegistry(sinRegistry()))
	require.NoError(t, err)

	deep := strings.Repeat("LONGDIR/", 16) // 128 chars of directory path
	dir, err := a.CreateDir(deep[:len(deep)-1])
	require.NoError(t, err)
	e := crate.NewEntry("FILE.TXT")
	require.NoError(t, e.ImportData([]byte("x"), 0, 1))
	require.NoError(t, dir.AddEntry(e, -1))

	out, err := a.Write()
	require.NoError(t, err)

	b, err := crate.Open(out, crate.WithRegistry(sinRegistry()))
	require.NoError(t, err)
	moved := b.Root().Entry("FILE.TXT")
	require.NotNil(t, moved, "overlong path must collapse to a bare filename in the root")
	assert.Equal(t, []byte("x"), moved.Data())
}

func TestQuakeDialectRoundTrip(t *testing.T) {
	t.Parallel()

	src := buildQuake([]rawFile{{"gfx/palette.lmp", "palette"}})
	a, err := crate.Open(src, crate.WithRegistry(quakeRegistry()))
	require.NoError(t, err)
	assert.Equal(t, "pak", a.FormatInfo().ID)

	out, err := a.Write()
	require.NoError(t, err)

	b, err := crate.Open(out, crate.WithRegistry(quakeRegistry()))
	require.NoError(t, err)
	e := b.EntryAtPath("gfx/palette.lmp")
	require.NotNil(t, e)
	assert.Equal(t, []byte("palette"), e.Data())
}

func TestOpenRejectsDirectoryOutsideFile(t *testing.T) {
	t.Parallel()

	src := buildSiN([]rawFile{{"A.TXT", "x"}})
	binary.LittleEndian.PutUint32(src[4:8], uint32(len(src)+100))

	_, err := crate.Open(src, crate.WithRegistry(sinRegistry()))
	require.ErrorIs(t, err, crate.ErrOpenFailed)
}

func TestOpenRejectsEntryPastEndOfFile(t *testing.T) {
	t.Parallel()

	src := buildSiN([]rawFile{{"A.TXT", "x"}})
	// Corrupt the record's size field (nameLen+4 into the single record).
	dirOffset := int(binary.LittleEndian.Uint32(src[4:8]))
	binary.LittleEndian.PutUint32(src[dirOffset+124:dirOffset+128], 1<<20)

	_, err := crate.Open(src, crate.WithRegistry(sinRegistry()))
	require.ErrorIs(t, err, crate.ErrOpenFailed)
}

func TestMatchesRequiresSaneDirectoryOffset(t *testing.T) {
	t.Parallel()

	h := pak.SiN()
	good := buildSiN(nil)
	assert.True(t, h.Matches(good))

	bad := buildSiN(nil)
	binary.LittleEndian.PutUint32(bad[4:8], 3)
	assert.False(t, h.Matches(bad))
	assert.False(t, h.Matches([]byte("SPAK")))
}
