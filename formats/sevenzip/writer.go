package sevenzip

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"unicode/utf16"

	"github.com/meigma/crate"
)

// record is one item in write order: a directory, an empty file, or a file
// with a packed stream.
type record struct {
	name  string
	data  []byte
	isDir bool
	entry *crate.Entry
}

func (r record) hasStream() bool { return !r.isDir && len(r.data) > 0 }

// 7z header property ids.
const (
	idEnd              = 0x00
	idHeader           = 0x01
	idMainStreamsInfo  = 0x04
	idFilesInfo        = 0x05
	idPackInfo         = 0x06
	idUnpackInfo       = 0x07
	idSize             = 0x09
	idCRC              = 0x0A
	idFolder           = 0x0B
	idCodersUnpackSize = 0x0C
	idEmptyStream      = 0x0E
	idEmptyFile        = 0x0F
	idName             = 0x11
	idWinAttributes    = 0x15
)

// Windows attribute bits carried in the header so readers classify items
// without relying on the empty-stream bits alone.
const (
	attrDirectory = 0x10
	attrArchive   = 0x20
)

// writeContainer assembles a complete 7z container in store mode: each
// non-empty file becomes its own single-coder (Copy) folder, so payload
// bytes land verbatim after the signature header and records stay
// individually skippable.
func writeContainer(records []record) ([]byte, error) {
	header := buildHeader(records)

	payloadSize := 0
	for _, rec := range records {
		if rec.hasStream() {
			payloadSize += len(rec.data)
		}
	}

	var out bytes.Buffer
	out.Grow(32 + payloadSize + len(header))
	out.Write(signature)
	out.Write([]byte{0, 4}) // format version 0.4

	var start [20]byte
	binary.LittleEndian.PutUint64(start[0:8], uint64(payloadSize)) // next header offset
	binary.LittleEndian.PutUint64(start[8:16], uint64(len(header)))
	binary.LittleEndian.PutUint32(start[16:20], crc32.ChecksumIEEE(header))
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], crc32.ChecksumIEEE(start[:]))
	out.Write(crcBuf[:])
	out.Write(start[:])

	for _, rec := range records {
		if rec.hasStream() {
			out.Write(rec.data)
		}
	}
	out.Write(header)
	return out.Bytes(), nil
}

func buildHeader(records []record) []byte {
	var b bytes.Buffer
	b.WriteByte(idHeader)
	if len(records) == 0 {
		b.WriteByte(idEnd)
		return b.Bytes()
	}

	var streams []record
	for _, rec := range records {
		if rec.hasStream() {
			streams = append(streams, rec)
		}
	}

	if len(streams) > 0 {
		b.WriteByte(idMainStreamsInfo)

		b.WriteByte(idPackInfo)
		putNumber(&b, 0) // pack position
		putNumber(&b, uint64(len(streams)))
		b.WriteByte(idSize)
		for _, s := range streams {
			putNumber(&b, uint64(len(s.data)))
		}
		b.WriteByte(idEnd)

		b.WriteByte(idUnpackInfo)
		b.WriteByte(idFolder)
		putNumber(&b, uint64(len(streams)))
		b.WriteByte(0) // folder definitions inline, not external
		for range streams {
			putNumber(&b, 1) // one coder
			b.WriteByte(1)   // codec id is one byte, no attributes
			b.WriteByte(0)   // Copy codec
		}
		b.WriteByte(idCodersUnpackSize)
		for _, s := range streams {
			putNumber(&b, uint64(len(s.data)))
		}
		b.WriteByte(idCRC)
		b.WriteByte(1) // all CRCs defined
		for _, s := range streams {
			putUint32(&b, crc32.ChecksumIEEE(s.data))
		}
		b.WriteByte(idEnd)

		b.WriteByte(idEnd)
	}

	b.WriteByte(idFilesInfo)
	putNumber(&b, uint64(len(records)))

	var emptyIdx []int
	for i, rec := range records {
		if !rec.hasStream() {
			emptyIdx = append(emptyIdx, i)
		}
	}
	if len(emptyIdx) > 0 {
		writeProp(&b, idEmptyStream, bitVector(len(records), func(i int) bool {
			return !records[i].hasStream()
		}))
		anyEmptyFile := false
		for _, i := range emptyIdx {
			if !records[i].isDir {
				anyEmptyFile = true
				break
			}
		}
		if anyEmptyFile {
			writeProp(&b, idEmptyFile, bitVector(len(emptyIdx), func(n int) bool {
				return !records[emptyIdx[n]].isDir
			}))
		}
	}

	var names bytes.Buffer
	names.WriteByte(0) // names inline, not external
	for _, rec := range records {
		for _, u := range utf16.Encode([]rune(rec.name)) {
			putUint16(&names, u)
		}
		putUint16(&names, 0)
	}
	writeProp(&b, idName, names.Bytes())

	var attrs bytes.Buffer
	attrs.WriteByte(1) // all defined
	attrs.WriteByte(0) // inline
	for _, rec := range records {
		if rec.isDir {
			putUint32(&attrs, attrDirectory)
		} else {
			putUint32(&attrs, attrArchive)
		}
	}
	writeProp(&b, idWinAttributes, attrs.Bytes())

	b.WriteByte(idEnd) // end of FilesInfo
	b.WriteByte(idEnd) // end of Header
	return b.Bytes()
}

// writeProp emits a FilesInfo property: id, payload size, payload.
func writeProp(b *bytes.Buffer, id byte, payload []byte) {
	b.WriteByte(id)
	putNumber(b, uint64(len(payload)))
	b.Write(payload)
}

// putNumber encodes v in the 7z variable-length number format: the first
// byte's high bits flag how many full value bytes follow.
func putNumber(b *bytes.Buffer, v uint64) {
	var first byte
	mask := byte(0x80)
	var i int
	for i = 0; i < 8; i++ {
		if v < uint64(1)<<uint(7*(i+1)) {
			first |= byte(v >> uint(8*i))
			break
		}
		first |= mask
		mask >>= 1
	}
	b.WriteByte(first)
	for ; i > 0; i-- {
		b.WriteByte(byte(v))
		v >>= 8
	}
}

// bitVector packs n predicate results MSB-first, the layout 7z uses for
// all of its boolean vectors.
func bitVector(n int, pred func(int) bool) []byte {
	out := make([]byte, (n+7)/8)
	for i := 0; i < n; i++ {
		if pred(i) {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}
	return out
}

func putUint16(b *bytes.Buffer, v uint16) {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], v)
	b.Write(buf[:])
}

func putUint32(b *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.Write(buf[:])
}
