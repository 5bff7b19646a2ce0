// Package bundle implements the editor's native save format: a sequential
// record stream with native directory records and lz4-compressed payloads.
// It is the only supported format where size on disk differs from entry
// size, which makes it the round-trip test bed for lazy loading of
// compressed records.
package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"

	"github.com/meigma/crate"
	"github.com/meigma/crate/internal/pathutil"
)

// Property bag keys recorded per entry for direct-seek lazy loads.
const (
	OffsetKey     = "BundleOffset"
	PackedSizeKey = "BundlePackedSize"
)

var magic = []byte{'C', 'R', '8', 'B'}

const (
	version    = 1
	headerSize = 9 // magic + version + record count

	recordDir  = 0
	recordFile = 1

	// maxPathLen is the largest path a record can carry; the length field
	// is a uint16.
	maxPathLen = 0xFFFF
)

// Handler reads and writes bundle archives.
type Handler struct{}

// New returns a bundle format handler.
func New() *Handler { return &Handler{} }

// Format returns the bundle capability descriptor.
func (h *Handler) Format() crate.FormatInfo {
	return crate.FormatInfo{
		ID:           "bundle",
		Name:         "Crate Bundle",
		Extensions:   []string{"cr8"},
		SupportsDirs: true,
		NativeDirs:   true,
		CanWrite:     true,
	}
}

// Matches checks the bundle magic and version.
func (h *Handler) Matches(head []byte) bool {
	return len(head) >= 5 && bytes.Equal(head[:4], magic) && head[4] == version
}

// Open populates the tree from the sequential record stream. Records whose
// payloads fail to decompress are logged and skipped; a malformed record
// layout aborts, since record boundaries cannot be recovered past it.
func (h *Handler) Open(a *crate.Archive, data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("truncated header: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], magic) {
		return fmt.Errorf("bad magic %q", data[:4])
	}
	if data[4] != version {
		return fmt.Errorf("unsupported version %d", data[4])
	}
	count := int(binary.LittleEndian.Uint32(data[5:9]))

	pos := headerSize
	for i := 0; i < count; i++ {
		a.ReportProgress(crate.ProgressEvent{Stage: crate.StageReading, Done: i, Total: count})

		if pos+3 > len(data) {
			return fmt.Errorf("record %d truncated at %d", i, pos)
		}
		recType := data[pos]
		pathLen := int(binary.LittleEndian.Uint16(data[pos+1 : pos+3]))
		pos += 3
		if pos+pathLen > len(data) {
			return fmt.Errorf("record %d path truncated at %d", i, pos)
		}
		path := string(data[pos : pos+pathLen])
		pos += pathLen

		if recType == recordDir {
			if _, err := a.CreateDir(path); err != nil {
				a.Log().Warn("skipping directory record", "path", path, "error", err)
			}
			continue
		}
		if recType != recordFile {
			return fmt.Errorf("record %d has unknown type %d", i, recType)
		}

		if pos+8 > len(data) {
			return fmt.Errorf("record %d sizes truncated at %d", i, pos)
		}
		origSize := int(binary.LittleEndian.Uint32(data[pos : pos+4]))
		packedSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		pos += 8
		if pos+packedSize > len(data) {
			return fmt.Errorf("record %d payload truncated at %d", i, pos)
		}
		payloadOffset := pos
		packed := data[pos : pos+packedSize]
		pos += packedSize

		dirPath, base := pathutil.Split(path)
		dir, err := a.CreateDir(dirPath)
		if err != nil {
			a.Log().Warn("skipping record with bad path", "path", path, "error", err)
			continue
		}

		e := crate.NewEntry(base)
		e.Props().SetInt(OffsetKey, payloadOffset)
		e.Props().SetInt(PackedSizeKey, packedSize)
		if a.DeferPayloads() {
			e.MarkUnloaded(int64(origSize))
		} else {
			content, err := unpack(packed, origSize)
			if err != nil {
				a.Log().Warn("skipping undecodable record", "path", path, "error", err)
				continue
			}
			if err := e.ImportData(content, 0, len(content)); err != nil {
				a.Log().Warn("skipping record", "path", path, "error", err)
				continue
			}
		}
		if err := dir.AddEntry(e, -1); err != nil {
			a.Log().Warn("skipping record", "path", path, "error", err)
		}
	}
	return nil
}

// Write serializes the tree in pre-order, compressing each payload into an
// lz4 frame, and records payload offsets for later single-entry reads.
func (h *Handler) Write(a *crate.Archive) ([]byte, error) {
	items := a.Root().Items()

	var out bytes.Buffer
	out.Write(magic)
	out.WriteByte(version)
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(items)))
	out.Write(countBuf[:])

	for n, item := range items {
		a.ReportProgress(crate.ProgressEvent{Stage: crate.StageWriting, Path: item.Path(), Done: n, Total: len(items)})

		if dir, ok := item.Dir(); ok {
			path := dir.Path()[1 : len(dir.Path())-1] // "/A/B/" -> "A/B"
			if len(path) > maxPathLen {
				return nil, fmt.Errorf("%w: %d-byte path exceeds the %d-byte record limit", crate.ErrInvalidName, len(path), maxPathLen)
			}
			writeRecordHead(&out, recordDir, path)
			continue
		}

		e, _ := item.Entry()
		if len(e.Path())-1 > maxPathLen {
			return nil, fmt.Errorf("%w: %d-byte path exceeds the %d-byte record limit", crate.ErrInvalidName, len(e.Path())-1, maxPathLen)
		}
		content, err := a.EntryData(e)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Path(), err)
		}
		packed, err := pack(content)
		if err != nil {
			return nil, fmt.Errorf("compressing %s: %w", e.Path(), err)
		}

		writeRecordHead(&out, recordFile, e.Path()[1:])
		var sizes [8]byte
		binary.LittleEndian.PutUint32(sizes[0:4], uint32(len(content)))
		binary.LittleEndian.PutUint32(sizes[4:8], uint32(len(packed)))
		out.Write(sizes[:])
		e.Props().SetInt(OffsetKey, out.Len())
		e.Props().SetInt(PackedSizeKey, len(packed))
		out.Write(packed)
	}
	return out.Bytes(), nil
}

// LoadEntryData reads one entry's compressed payload from the backing file
// by its recorded offset and decompresses it.
func (h *Handler) LoadEntryData(a *crate.Archive, e *crate.Entry) ([]byte, error) {
	offset, err := e.Props().Int(OffsetKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", crate.ErrMissingIndex, e.Name())
	}
	packedSize, err := e.Props().Int(PackedSizeKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", crate.ErrMissingIndex, e.Name())
	}
	f, err := os.Open(a.Path())
	if err != nil {
		return nil, err
	}
	defer f.Close()

	packed := make([]byte, packedSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, int64(offset), int64(packedSize)), packed); err != nil {
		return nil, fmt.Errorf("reading %s: %w", e.Path(), err)
	}
	return unpack(packed, int(e.Size()))
}

func writeRecordHead(out *bytes.Buffer, recType byte, path string) {
	out.WriteByte(recType)
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(path)))
	out.Write(lenBuf[:])
	out.WriteString(path)
}

// pack compresses content into an lz4 frame. Empty content packs to
// nothing at all, matching a zero packed size on disk.
func pack(content []byte) ([]byte, error) {
	if len(content) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(content); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unpack decompresses an lz4 frame of known original size.
func unpack(packed []byte, origSize int) ([]byte, error) {
	if origSize == 0 {
		return nil, nil
	}
	zr := lz4.NewReader(bytes.NewReader(packed))
	content := make([]byte, origSize)
	if _, err := io.ReadFull(zr, content); err != nil {
		return nil, err
	}
	return content, nil
}
