package bundle_test

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/crate"
	"github.com/meigma/crate/formats/bundle"
)

type rawRecord struct {
	path  string
	data  string
	isDir bool
}

// buildBundle assembles a bundle image by hand, compressing file payloads
// into lz4 frames the way the writer does.
func buildBundle(t *testing.T, records []rawRecord) []byte {
	t.Helper()
	var out bytes.Buffer
	out.WriteString("CR8B")
	out.WriteByte(1)
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(records)))
	out.Write(countBuf[:])

	for _, rec := range records {
		if rec.isDir {
			out.WriteByte(0)
		} else {
			out.WriteByte(1)
		}
		var lenBuf [2]byte
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(rec.path)))
		out.Write(lenBuf[:])
		out.WriteString(rec.path)
		if rec.isDir {
			continue
		}

		var packed []byte
		if len(rec.data) > 0 {
			var frame bytes.Buffer
			zw := lz4.NewWriter(&frame)
			_, err := zw.Write([]byte(rec.data))
			require.NoError(t, err)
			require.NoError(t, zw.Close())
			packed = frame.Bytes()
		}
		var sizes [8]byte
		binary.LittleEndian.PutUint32(sizes[0:4], uint32(len(rec.data)))
		binary.LittleEndian.PutUint32(sizes[4:8], uint32(len(packed)))
		out.Write(sizes[:])
		out.Write(packed)
	}
	return out.Bytes()
}

func bundleRegistry() *crate.Registry { return crate.NewRegistry(bundle.New()) }

func TestOpenBuildsTree(t *testing.T) {
	t.Parallel()

	src := buildBundle(t, []rawRecord{
		{path: "A", isDir: true},
		{path: "A/B.TXT", data: "hello"},
		{path: "A/EMPTY.TXT"},
		{path: "TOP.TXT", data: "root"},
	})
	a, err := crate.Open(src, crate.WithRegistry(bundleRegistry()))
	require.NoError(t, err)

	assert.Equal(t, "bundle", a.FormatInfo().ID)
	dirA := a.Root().Subdir("A")
	require.NotNil(t, dirA)
	assert.Equal(t, []byte("hello"), dirA.Entry("B.TXT").Data())
	require.NotNil(t, dirA.Entry("EMPTY.TXT"))
	assert.Equal(t, int64(0), dirA.Entry("EMPTY.TXT").Size())
	assert.Equal(t, []byte("root"), a.Root().Entry("TOP.TXT").Data())
}

func TestRoundTripPreservesTreeAndData(t *testing.T) {
	t.Parallel()

	src := buildBundle(t, []rawRecord{
		{path: "A", isDir: true},
		{path: "A/B.TXT", data: "hello"},
	})
	a, err := crate.Open(src, crate.WithRegistry(bundleRegistry()))
	require.NoError(t, err)

	e := crate.NewEntry("NEW.TXT")
	require.NoError(t, e.ImportData([]byte("fresh"), 0, 5))
	require.NoError(t, a.Root().Subdir("A").AddEntry(e, -1))

	out, err := a.Write()
	require.NoError(t, err)

	b, err := crate.Open(out, crate.WithRegistry(bundleRegistry()))
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), b.EntryAtPath("A/B.TXT").Data())
	assert.Equal(t, []byte("fresh"), b.EntryAtPath("A/NEW.TXT").Data())
	require.NotNil(t, b.Root().Subdir("A"), "explicit directory record must survive the round trip")
}

func TestDeferredPayloadsLoadOnDemand(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.cr8")
	src := buildBundle(t, []rawRecord{{path: "A/B.TXT", data: "compressed payload"}})
	require.NoError(t, os.WriteFile(path, src, 0o644))

	a, err := crate.OpenFile(path, crate.WithRegistry(bundleRegistry()), crate.WithDeferredPayloads())
	require.NoError(t, err)

	e := a.EntryAtPath("A/B.TXT")
	require.NotNil(t, e)
	assert.False(t, e.Loaded())
	assert.Equal(t, int64(len("compressed payload")), e.Size())

	data, err := a.EntryData(e)
	require.NoError(t, err)
	assert.Equal(t, []byte("compressed payload"), data)
}

func TestOpenRejectsTruncatedRecord(t *testing.T) {
	t.Parallel()

	src := buildBundle(t, []rawRecord{{path: "A.TXT", data: "x"}})
	src = src[:len(src)-3]

	_, err := crate.Open(src, crate.WithRegistry(bundleRegistry()))
	require.ErrorIs(t, err, crate.ErrOpenFailed)
}

func TestOpenSkipsUndecodableRecord(t *testing.T) {
	t.Parallel()

	src := buildBundle(t, []rawRecord{
		{path: "GOOD.TXT", data: "ok"},
		{path: "BAD.TXT", data: "will corrupt"},
	})
	// Corrupt the last record's lz4 frame magic; the record layout stays
	// intact so the reader can still walk past it.
	frameMagic := []byte{0x04, 0x22, 0x4D, 0x18}
	i := bytes.LastIndex(src, frameMagic)
	require.GreaterOrEqual(t, i, 0)
	src[i] ^= 0xFF

	a, err := crate.Open(src, crate.WithRegistry(bundleRegistry()))
	require.NoError(t, err, "an undecodable payload is skipped, not fatal")
	require.Equal(t, 1, a.Root().NumEntries())
	assert.Equal(t, "GOOD.TXT", a.Root().EntryAt(0).Name())
}

func TestWriteRejectsPathPastRecordLimit(t *testing.T) {
	t.Parallel()

	a, err := crate.Open(buildBundle(t, nil), crate.WithRegistry(bundleRegistry()))
	require.NoError(t, err)

	e := crate.NewEntry(strings.Repeat("N", 70000))
	require.NoError(t, e.ImportData([]byte("x"), 0, 1))
	require.NoError(t, a.Root().AddEntry(e, -1))

	_, err = a.Write()
	require.ErrorIs(t, err, crate.ErrInvalidName)
}

func TestMatchesChecksMagicAndVersion(t *testing.T) {
	t.Parallel()

	h := bundle.New()
	assert.True(t, h.Matches([]byte{'C', 'R', '8', 'B', 1}))
	assert.False(t, h.Matches([]byte{'C', 'R', '8', 'B', 2}))
	assert.False(t, h.Matches([]byte("CR8")))
}
