// Package sevenzip implements the 7z container format. Reading goes
// through the sevenzip library; writing emits a store-mode container (one
// copy-coded folder per file) that any 7z reader can decode.
package sevenzip

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	sz "github.com/javi11/sevenzip"

	"github.com/meigma/crate"
	"github.com/meigma/crate/internal/pathutil"
)

// IndexKey is the property bag key holding an entry's record index in the
// source container, recorded on open and write. 7z has no per-record
// random access, so single-entry reads locate the record by index and let
// the reader skip forward to it.
const IndexKey = "SevenZipIndex"

// signature is the 7z container magic.
var signature = []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}

// Handler reads and writes 7z archives.
type Handler struct{}

// New returns a 7z format handler.
func New() *Handler { return &Handler{} }

// Format returns the 7z capability descriptor.
func (h *Handler) Format() crate.FormatInfo {
	return crate.FormatInfo{
		ID:           "7z",
		Name:         "7z",
		Extensions:   []string{"7z"},
		SupportsDirs: true,
		NativeDirs:   true,
		CanWrite:     true,
	}
}

// Matches checks the 7z signature.
func (h *Handler) Matches(head []byte) bool {
	return len(head) >= len(signature) && bytes.Equal(head[:len(signature)], signature)
}

// Open populates the tree from the container. Records that fail to
// decompress are logged and skipped; a structural parse failure aborts.
func (h *Handler) Open(a *crate.Archive, data []byte) error {
	r, err := sz.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}

	for i, f := range r.File {
		a.ReportProgress(crate.ProgressEvent{Stage: crate.StageReading, Path: f.Name, Done: i, Total: len(r.File)})

		name := pathutil.Clean(f.Name)
		if f.FileInfo().IsDir() {
			if _, err := a.CreateDir(name); err != nil {
				a.Log().Warn("skipping directory record", "name", f.Name, "error", err)
			}
			continue
		}

		dirPath, base := pathutil.Split(name)
		dir, err := a.CreateDir(dirPath)
		if err != nil {
			a.Log().Warn("skipping record with bad path", "name", f.Name, "error", err)
			continue
		}

		e := crate.NewEntry(base)
		e.Props().SetInt(IndexKey, i)
		content, err := readRecord(f)
		if err != nil {
			a.Log().Warn("skipping unreadable record", "name", f.Name, "error", err)
			continue
		}
		if err := e.ImportData(content, 0, len(content)); err != nil {
			a.Log().Warn("skipping unreadable record", "name", f.Name, "error", err)
			continue
		}
		if err := dir.AddEntry(e, -1); err != nil {
			a.Log().Warn("skipping record", "name", f.Name, "error", err)
		}
	}
	return nil
}

// Write serializes the tree as a store-mode 7z container in pre-order,
// directory records included, and records each item's position for later
// single-entry reads.
func (h *Handler) Write(a *crate.Archive) ([]byte, error) {
	items := a.Root().Items()
	records := make([]record, 0, len(items))
	for n, item := range items {
		a.ReportProgress(crate.ProgressEvent{Stage: crate.StageWriting, Path: item.Path(), Done: n, Total: len(items)})

		if dir, ok := item.Dir(); ok {
			records = append(records, record{
				name:  strings.TrimSuffix(dir.Path()[1:], "/"),
				isDir: true,
			})
			continue
		}
		e, _ := item.Entry()
		content, err := a.EntryData(e)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Path(), err)
		}
		records = append(records, record{
			name:  e.Path()[1:],
			data:  content,
			entry: e,
		})
	}

	out, err := writeContainer(records)
	if err != nil {
		return nil, err
	}
	for i, rec := range records {
		if rec.entry != nil {
			rec.entry.Props().SetInt(IndexKey, i)
		}
	}
	return out, nil
}

// LoadEntryData re-opens the backing file and reads one entry's payload.
// The recorded index selects the record; the reader skips forward through
// the containing folder to reach it.
func (h *Handler) LoadEntryData(a *crate.Archive, e *crate.Entry) ([]byte, error) {
	index, err := e.Props().Int(IndexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", crate.ErrMissingIndex, e.Name())
	}
	f, err := os.Open(a.Path())
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	r, err := sz.NewReader(f, fi.Size())
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(r.File) {
		return nil, fmt.Errorf("%w: record %d not in %d-record archive", crate.ErrMissingIndex, index, len(r.File))
	}
	return readRecord(r.File[index])
}

func readRecord(f *sz.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
