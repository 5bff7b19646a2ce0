package crate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportDataCopiesBuffer(t *testing.T) {
	t.Parallel()

	buf := []byte("xxhelloxx")
	e := NewEntry("GREETING")
	require.NoError(t, e.ImportData(buf, 2, 5))

	buf[2] = '?'
	assert.Equal(t, []byte("hello"), e.Data())
	assert.Equal(t, int64(5), e.Size())
	assert.True(t, e.Loaded())
}

func TestImportDataRejectsShortBuffer(t *testing.T) {
	t.Parallel()

	e := NewEntry("E")
	require.ErrorIs(t, e.ImportData([]byte("abc"), 2, 5), ErrShortBuffer)
	require.ErrorIs(t, e.ImportData([]byte("abc"), -1, 2), ErrShortBuffer)
	assert.False(t, e.Loaded())
}

func TestImportDataRejectsLockedEntry(t *testing.T) {
	t.Parallel()

	e := NewEntry("E")
	e.SetLocked(true)
	require.ErrorIs(t, e.ImportData([]byte("abc"), 0, 3), ErrEntryLocked)
}

func TestImportDataMarksAttachedEntryModified(t *testing.T) {
	t.Parallel()

	a := newArchiveForTest(&memFormat{})
	e := NewEntry("E")
	require.NoError(t, a.Root().AddEntry(e, -1))
	e.SetState(StateUnmodified)

	var modified []*Entry
	a.Signals().EntryModified.Connect(func(ev EntryEvent) { modified = append(modified, ev.Entry) })

	require.NoError(t, e.ImportData([]byte("new"), 0, 3))
	assert.Equal(t, StateModified, e.State())
	require.Len(t, modified, 1)
	assert.Same(t, e, modified[0])
}

func TestImportDataKeepsStateNew(t *testing.T) {
	t.Parallel()

	e := NewEntry("E")
	require.NoError(t, e.ImportData([]byte("data"), 0, 4))
	assert.Equal(t, StateNew, e.State())
}

func TestMarkUnloadedAndClearDataKeepSize(t *testing.T) {
	t.Parallel()

	e := NewEntry("E")
	e.MarkUnloaded(1234)
	assert.False(t, e.Loaded())
	assert.Equal(t, int64(1234), e.Size())
	assert.Nil(t, e.Data())

	require.NoError(t, e.ImportData([]byte("abcd"), 0, 4))
	e.ClearData()
	assert.False(t, e.Loaded())
	assert.Equal(t, int64(4), e.Size())
	assert.Nil(t, e.Data())
}

func TestRenameValidatesAgainstFormat(t *testing.T) {
	t.Parallel()

	a := newArchiveForTest(&memFormat{maxName: 8})
	e := NewEntry("SHORT")
	require.NoError(t, a.Root().AddEntry(e, -1))

	require.ErrorIs(t, e.Rename(""), ErrInvalidName)
	require.ErrorIs(t, e.Rename("A/B"), ErrInvalidName)
	require.ErrorIs(t, e.Rename(`A\B`), ErrInvalidName)
	require.ErrorIs(t, e.Rename("WAYTOOLONGNAME"), ErrInvalidName)
	assert.Equal(t, "SHORT", e.Name())

	require.NoError(t, e.Rename("RENAMED"))
	assert.Equal(t, "RENAMED", e.Name())
}

func TestRenameRejectsSiblingCollision(t *testing.T) {
	t.Parallel()

	a := newArchiveForTest(&memFormat{})
	e := NewEntry("A")
	require.NoError(t, a.Root().AddEntry(e, -1))
	require.NoError(t, a.Root().AddEntry(NewEntry("B"), -1))

	require.ErrorIs(t, e.Rename("B"), ErrDuplicateName)
	assert.Equal(t, "A", e.Name())

	// Renaming to the current name is not a collision with itself.
	require.NoError(t, e.Rename("A"))
}

func TestRenameMarksUnmodifiedEntryModified(t *testing.T) {
	t.Parallel()

	a := newArchiveForTest(&memFormat{})
	e := NewEntry("A")
	require.NoError(t, a.Root().AddEntry(e, -1))
	e.SetState(StateUnmodified)

	require.NoError(t, e.Rename("B"))
	assert.Equal(t, StateModified, e.State())
}

func TestRenameRejectsLockedEntry(t *testing.T) {
	t.Parallel()

	e := NewEntry("A")
	e.SetLocked(true)
	require.ErrorIs(t, e.Rename("B"), ErrEntryLocked)
}

func TestDetachedEntryPathIsName(t *testing.T) {
	t.Parallel()

	e := NewEntry("LOOSE")
	assert.Equal(t, "LOOSE", e.Path())
	assert.Nil(t, e.Parent())
}

func TestPropsTypedAccess(t *testing.T) {
	t.Parallel()

	var p Props
	assert.False(t, p.Has("offset"))

	_, err := p.Int("offset")
	require.ErrorIs(t, err, ErrMissingProp)

	p.SetInt("offset", 42)
	assert.True(t, p.Has("offset"))
	n, err := p.Int("offset")
	require.NoError(t, err)
	assert.Equal(t, 42, n)

	// Wrong-type reads are errors, not silent defaults.
	_, err = p.String("offset")
	require.ErrorIs(t, err, ErrMissingProp)

	p.SetInt64("size", 1<<40)
	big, err := p.Int64("size")
	require.NoError(t, err)
	assert.Equal(t, int64(1)<<40, big)

	p.SetString("kind", "lump")
	s, err := p.String("kind")
	require.NoError(t, err)
	assert.Equal(t, "lump", s)

	p.Delete("offset")
	assert.False(t, p.Has("offset"))
}

func TestStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unmodified", StateUnmodified.String())
	assert.Equal(t, "modified", StateModified.String())
	assert.Equal(t, "new", StateNew.String())
	assert.Equal(t, "unknown", State(99).String())
}
