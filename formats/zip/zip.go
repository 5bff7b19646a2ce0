// Package zip implements the ZIP container format family (zip, pk3) with
// native directory records and no duplicate names. Deflate goes through
// the klauspost compressor on both the read and write paths.
package zip

import (
	stdzip "archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/flate"

	"github.com/meigma/crate"
	"github.com/meigma/crate/internal/pathutil"
)

// IndexKey is the property bag key holding an entry's record index in the
// source container (directory records included), recorded on open and
// write for single-entry re-reads.
const IndexKey = "ZipIndex"

// Handler reads and writes ZIP archives.
type Handler struct{}

// New returns a ZIP format handler.
func New() *Handler { return &Handler{} }

// Format returns the ZIP capability descriptor.
func (h *Handler) Format() crate.FormatInfo {
	return crate.FormatInfo{
		ID:           "zip",
		Name:         "Zip",
		Extensions:   []string{"zip", "pk3", "pke"},
		SupportsDirs: true,
		NativeDirs:   true,
		CanWrite:     true,
	}
}

// Matches checks the PK local-file or end-of-central-directory signature.
func (h *Handler) Matches(head []byte) bool {
	if len(head) < 4 || head[0] != 'P' || head[1] != 'K' {
		return false
	}
	return (head[2] == 3 && head[3] == 4) || (head[2] == 5 && head[3] == 6)
}

// Open populates the tree from the central directory. Individually
// unreadable records are logged and skipped.
func (h *Handler) Open(a *crate.Archive, data []byte) error {
	zr, err := stdzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	zr.RegisterDecompressor(stdzip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})

	for i, f := range zr.File {
		a.ReportProgress(crate.ProgressEvent{Stage: crate.StageReading, Path: f.Name, Done: i, Total: len(zr.File)})

		if strings.HasSuffix(f.Name, "/") || f.FileInfo().IsDir() {
			if _, err := a.CreateDir(f.Name); err != nil {
				a.Log().Warn("skipping directory record", "name", f.Name, "error", err)
			}
			continue
		}

		dirPath, base := pathutil.Split(f.Name)
		dir, err := a.CreateDir(dirPath)
		if err != nil {
			a.Log().Warn("skipping record with bad path", "name", f.Name, "error", err)
			continue
		}

		e := crate.NewEntry(base)
		e.Props().SetInt(IndexKey, i)
		if a.DeferPayloads() {
			e.MarkUnloaded(int64(f.UncompressedSize64))
		} else {
			content, err := readRecord(f)
			if err != nil {
				a.Log().Warn("skipping unreadable record", "name", f.Name, "error", err)
				continue
			}
			if err := e.ImportData(content, 0, len(content)); err != nil {
				a.Log().Warn("skipping unreadable record", "name", f.Name, "error", err)
				continue
			}
		}
		if err := dir.AddEntry(e, -1); err != nil {
			a.Log().Warn("skipping record", "name", f.Name, "error", err)
		}
	}
	return nil
}

// Write serializes the tree in pre-order, directory records included, and
// records each entry's position for later single-entry reads.
func (h *Handler) Write(a *crate.Archive) ([]byte, error) {
	var buf bytes.Buffer
	zw := stdzip.NewWriter(&buf)
	zw.RegisterCompressor(stdzip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})

	items := a.Root().Items()
	index := 0
	for n, item := range items {
		a.ReportProgress(crate.ProgressEvent{Stage: crate.StageWriting, Path: item.Path(), Done: n, Total: len(items)})

		if dir, ok := item.Dir(); ok {
			name := dir.Path()[1:] // "/A/B/" -> "A/B/"
			if _, err := zw.CreateHeader(&stdzip.FileHeader{Name: name}); err != nil {
				return nil, fmt.Errorf("writing directory %s: %w", dir.Path(), err)
			}
			index++
			continue
		}

		e, _ := item.Entry()
		content, err := a.EntryData(e)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", e.Path(), err)
		}
		w, err := zw.CreateHeader(&stdzip.FileHeader{
			Name:   e.Path()[1:],
			Method: stdzip.Deflate,
		})
		if err != nil {
			return nil, fmt.Errorf("writing %s: %w", e.Path(), err)
		}
		if _, err := w.Write(content); err != nil {
			return nil, fmt.Errorf("writing %s: %w", e.Path(), err)
		}
		e.Props().SetInt(IndexKey, index)
		index++
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LoadEntryData re-opens the backing file and reads one entry's payload by
// its recorded record index. ZIP's central directory allows addressing the
// record directly, no sequential skip needed.
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
	zr, err := stdzip.NewReader(f, fi.Size())
	if err != nil {
		return nil, err
	}
	zr.RegisterDecompressor(stdzip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})
	if index < 0 || index >= len(zr.File) {
		return nil, fmt.Errorf("%w: record %d not in %d-record archive", crate.ErrMissingIndex, index, len(zr.File))
	}
	return readRecord(zr.File[index])
}

func readRecord(f *stdzip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
