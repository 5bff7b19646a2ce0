// Package pak implements the Quake PACK and Ritual SiN SPAK container
// formats: flat archives whose records carry full slash-separated paths,
// reconstructed into a directory tree on read and flattened back on write.
package pak

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/meigma/crate"
	"github.com/meigma/crate/internal/pathutil"
)

// OffsetKey is the property bag key holding an entry's payload offset in
// the source container, recorded on open and write for direct-seek reads.
const OffsetKey = "PakOffset"

const headerSize = 12

// Handler reads and writes one PAK dialect.
type Handler struct {
	info       crate.FormatInfo
	magic      [4]byte
	recordSize int
	nameLen    int
}

// Quake returns a handler for the original Quake "PACK" dialect
// (64-byte records, 56-character paths).
func Quake() *Handler {
	return &Handler{
		magic:      [4]byte{'P', 'A', 'C', 'K'},
		recordSize: 64,
		nameLen:    56,
		info: crate.FormatInfo{
			ID:            "pak",
			Name:          "Quake PAK",
			Extensions:    []string{"pak"},
			MaxNameLength: 56,
			SupportsDirs:  true,
			CanWrite:      true,
		},
	}
}

// SiN returns a handler for the Ritual Entertainment "SPAK" dialect
// (128-byte records, 120-character paths).
func SiN() *Handler {
	return &Handler{
		magic:      [4]byte{'S', 'P', 'A', 'K'},
		recordSize: 128,
		nameLen:    120,
		info: crate.FormatInfo{
			ID:            "sin",
			Name:          "SiN SPAK",
			Extensions:    []string{"sin"},
			MaxNameLength: 120,
			SupportsDirs:  true,
			CanWrite:      true,
		},
	}
}

// Format returns the dialect's capability descriptor.
func (h *Handler) Format() crate.FormatInfo { return h.info }

// Matches checks the magic signature and that the directory offset leaves
// room for the header.
func (h *Handler) Matches(head []byte) bool {
	if len(head) < headerSize || !bytes.Equal(head[:4], h.magic[:]) {
		return false
	}
	dirOffset := int32(binary.LittleEndian.Uint32(head[4:8]))
	return dirOffset >= headerSize
}

// Open populates the tree from the flat record directory. Record paths are
// split on slashes to reconstruct directories; records whose names collide
// are logged and skipped.
func (h *Handler) Open(a *crate.Archive, data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("truncated header: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], h.magic[:]) {
		return fmt.Errorf("bad magic %q", data[:4])
	}
	dirOffset := int(int32(binary.LittleEndian.Uint32(data[4:8])))
	dirSize := int(int32(binary.LittleEndian.Uint32(data[8:12])))
	if dirOffset < headerSize || dirSize < 0 || dirOffset+dirSize > len(data) {
		return fmt.Errorf("directory at %d+%d outside %d-byte archive", dirOffset, dirSize, len(data))
	}

	numEntries := dirSize / h.recordSize
	for i := 0; i < numEntries; i++ {
		a.ReportProgress(crate.ProgressEvent{Stage: crate.StageReading, Done: i, Total: numEntries})

		rec := data[dirOffset+i*h.recordSize:]
		name := cstring(rec[:h.nameLen])
		offset := int(int32(binary.LittleEndian.Uint32(rec[h.nameLen : h.nameLen+4])))
		size := int(int32(binary.LittleEndian.Uint32(rec[h.nameLen+4 : h.nameLen+8])))
		if offset < 0 || size < 0 || offset+size > len(data) {
			return fmt.Errorf("entry %q at %d+%d goes past end of file", name, offset, size)
		}

		dirPath, base := pathutil.Split(name)
		dir, err := a.CreateDir(dirPath)
		if err != nil {
			a.Log().Warn("skipping record with bad path", "name", name, "error", err)
			continue
		}

		e := crate.NewEntry(base)
		e.Props().SetInt(OffsetKey, offset)
		if a.DeferPayloads() {
			e.MarkUnloaded(int64(size))
		} else if err := e.ImportData(data, offset, size); err != nil {
			a.Log().Warn("skipping unreadable record", "name", name, "error", err)
			continue
		}
		if err := dir.AddEntry(e, -1); err != nil {
			a.Log().Warn("skipping record", "name", name, "error", err)
		}
	}
	return nil
}

// Write serializes the tree as a flat record directory. Entry paths become
// record names; a path longer than the dialect's limit falls back to the
// bare filename (truncated if still too long), a declared lossy transform.
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

	dirOffset := headerSize + dataSize
	buf := make([]byte, dirOffset+len(entries)*h.recordSize)
	copy(buf[:4], h.magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(dirOffset))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(entries)*h.recordSize))

	offset := headerSize
	for i, e := range entries {
		a.ReportProgress(crate.ProgressEvent{Stage: crate.StageWriting, Path: e.Path(), Done: i, Total: len(entries)})

		name := e.Path()[1:] // drop leading slash
		if len(name) > h.nameLen {
			a.Log().Warn("entry path too long, putting it in the root directory", "path", name, "limit", h.nameLen)
			name = e.Name()
			if len(name) > h.nameLen {
				name = name[:h.nameLen]
			}
		}

		rec := buf[dirOffset+i*h.recordSize:]
		copy(rec[:h.nameLen], name)
		binary.LittleEndian.PutUint32(rec[h.nameLen:h.nameLen+4], uint32(offset))
		binary.LittleEndian.PutUint32(rec[h.nameLen+4:h.nameLen+8], uint32(len(payloads[i])))

		copy(buf[offset:], payloads[i])
		e.Props().SetInt(OffsetKey, offset)
		offset += len(payloads[i])
	}
	return buf, nil
}

// LoadEntryData reads one entry's payload from the backing file by seeking
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

// cstring returns the bytes up to the first NUL.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
