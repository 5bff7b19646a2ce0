// Package wad implements the Doom WAD container format: a flat archive
// with no directories, 8-character lump names, and duplicate names allowed
// (maps rely on repeated marker lumps).
package wad

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/meigma/crate"
)

// Property bag keys recorded per lump for direct-seek reads, and on the
// root's synthetic entry to preserve the IWAD/PWAD distinction across a
// round trip.
const (
	OffsetKey  = "WadOffset"
	WadTypeKey = "WadType"
)

const (
	headerSize = 12
	recordSize = 16
	maxName    = 8
)

// Handler reads and writes WAD archives.
type Handler struct{}

// New returns a WAD format handler.
func New() *Handler { return &Handler{} }

// Format returns the WAD capability descriptor: flat, duplicate names
// allowed, 8-character name limit.
func (h *Handler) Format() crate.FormatInfo {
	return crate.FormatInfo{
		ID:                   "wad",
		Name:                 "Doom WAD",
		Extensions:           []string{"wad"},
		MaxNameLength:        maxName,
		SupportsDirs:         false,
		AllowsDuplicateNames: true,
		CanWrite:             true,
	}
}

// Matches checks for the IWAD or PWAD signature.
func (h *Handler) Matches(head []byte) bool {
	return len(head) >= headerSize &&
		(bytes.Equal(head[:4], []byte("IWAD")) || bytes.Equal(head[:4], []byte("PWAD")))
}

// Open populates the root directory from the lump directory. Lumps whose
// data lies outside the file are logged and skipped.
func (h *Handler) Open(a *crate.Archive, data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("truncated header: %d bytes", len(data))
	}
	wadType := string(data[:4])
	if wadType != "IWAD" && wadType != "PWAD" {
		return fmt.Errorf("bad magic %q", data[:4])
	}
	numLumps := int(int32(binary.LittleEndian.Uint32(data[4:8])))
	dirOffset := int(int32(binary.LittleEndian.Uint32(data[8:12])))
	if numLumps < 0 || dirOffset < 0 || dirOffset+numLumps*recordSize > len(data) {
		return fmt.Errorf("lump directory at %d (%d lumps) outside %d-byte archive", dirOffset, numLumps, len(data))
	}

	a.Root().DirEntry().Props().SetString(WadTypeKey, wadType)

	for i := 0; i < numLumps; i++ {
		a.ReportProgress(crate.ProgressEvent{Stage: crate.StageReading, Done: i, Total: numLumps})

		rec := data[dirOffset+i*recordSize:]
		offset := int(int32(binary.LittleEndian.Uint32(rec[0:4])))
		size := int(int32(binary.LittleEndian.Uint32(rec[4:8])))
		name := lumpName(rec[8:16])

		e := crate.NewEntry(name)
		e.Props().SetInt(OffsetKey, offset)
		if offset < 0 || size < 0 || offset+size > len(data) {
			a.Log().Warn("skipping lump with data past end of file", "name", name, "offset", offset, "size", size)
			continue
		}
		if a.DeferPayloads() {
			e.MarkUnloaded(int64(size))
		} else if err := e.ImportData(data, offset, size); err != nil {
			a.Log().Warn("skipping unreadable lump", "name", name, "error", err)
			continue
		}
		if err := a.Root().AddEntry(e, -1); err != nil {
			a.Log().Warn("skipping lump", "name", name, "error", err)
		}
	}
	return nil
}

// Write serializes the root's entries as lumps, data region first and the
// lump directory after, in entry order. Names are uppercased and truncated
// to 8 characters on disk.
func (h *Handler) Write(a *crate.Archive) ([]byte, error) {
	entries := a.Root().Flatten()

	payloads := make([][]byte, len(entries))
	dataSize := 0
	for i, e := range entries {
		data, err := a.EntryData(e)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Path(), err)
		}
		payloads[i] = data
		dataSize += len(data)
	}

	wadType := "PWAD"
	if t, err := a.Root().DirEntry().Props().String(WadTypeKey); err == nil {
		wadType = t
	}

	dirOffset := headerSize + dataSize
	buf := make([]byte, dirOffset+len(entries)*recordSize)
	copy(buf[:4], wadType)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(entries)))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(dirOffset))

	offset := headerSize
	for i, e := range entries {
		a.ReportProgress(crate.ProgressEvent{Stage: crate.StageWriting, Path: e.Path(), Done: i, Total: len(entries)})

		name := strings.ToUpper(e.Name())
		if len(name) > maxName {
			a.Log().Warn("lump name too long, truncating", "name", name)
			name = name[:maxName]
		}

		rec := buf[dirOffset+i*recordSize:]
		binary.LittleEndian.PutUint32(rec[0:4], uint32(offset))
		binary.LittleEndian.PutUint32(rec[4:8], uint32(len(payloads[i])))
		copy(rec[8:16], name)

		copy(buf[offset:], payloads[i])
		e.Props().SetInt(OffsetKey, offset)
		offset += len(payloads[i])
	}
	return buf, nil
}

// LoadEntryData reads one lump's payload from the backing file by seeking
// directly to its recorded offset.
func (h *Handler) LoadEntryData(a *crate.Archive, e *crate.Entry) ([]byte, error) {
	offset, err := e.Props().Int(OffsetKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", crate.ErrMissingIndex, e.Name())
	}
	f, err := os.Open(a.Path())
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data := make([]byte, e.Size())
	if _, err := io.ReadFull(io.NewSectionReader(f, int64(offset), e.Size()), data); err != nil {
		return nil, fmt.Errorf("reading %s: %w", e.Path(), err)
	}
	return data, nil
}

// lumpName returns the 8-byte lump name field up to the first NUL.
func lumpName(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
