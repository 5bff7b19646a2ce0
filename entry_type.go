package crate

import (
	"bytes"
	"path"
	"strings"
	"unicode/utf8"
)

// EntryType is a coarse content classification derived from an entry's name
// and payload. It drives icons and editor handling; it is never
// format-authoritative.
type EntryType uint8

const (
	// TypeUnknown is the fallback classification.
	TypeUnknown EntryType = iota

	// TypeFolder marks the synthetic entry associated with a directory.
	TypeFolder

	// TypeText is plain or structured text.
	TypeText

	// TypeImage is a recognized image format.
	TypeImage

	// TypeAudio is a recognized audio or music format.
	TypeAudio

	// TypeArchive is a nested archive container.
	TypeArchive
)

// String returns the string representation of the type.
func (t EntryType) String() string {
	switch t {
	case TypeFolder:
		return "folder"
	case TypeText:
		return "text"
	case TypeImage:
		return "image"
	case TypeAudio:
		return "audio"
	case TypeArchive:
		return "archive"
	default:
		return "unknown"
	}
}

var textExtensions = map[string]bool{
	".txt": true, ".cfg": true, ".ini": true, ".md": true,
	".json": true, ".xml": true, ".csv": true, ".lua": true,
}

// DetectType classifies an entry by magic bytes first, then extension,
// then a printable-content heuristic.
func DetectType(name string, data []byte) EntryType {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], []byte("\x89PNG\r\n\x1a\n")):
		return TypeImage
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xFF, 0xD8, 0xFF}):
		return TypeImage
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return TypeImage
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return TypeAudio
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("OggS")):
		return TypeAudio
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("MThd")):
		return TypeAudio
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("PK\x03\x04")):
		return TypeArchive
	case len(data) >= 6 && bytes.Equal(data[:6], []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}):
		return TypeArchive
	case len(data) >= 4 && (bytes.Equal(data[:4], []byte("IWAD")) || bytes.Equal(data[:4], []byte("PWAD"))):
		return TypeArchive
	}

	if textExtensions[strings.ToLower(path.Ext(name))] {
		return TypeText
	}
	if len(data) > 0 && looksLikeText(data) {
		return TypeText
	}
	return TypeUnknown
}

// looksLikeText samples up to 512 bytes and accepts valid UTF-8 with no
// NUL bytes.
func looksLikeText(data []byte) bool {
	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
		// Avoid judging a split rune at the cut point.
		for len(sample) > 0 && !utf8.Valid(sample) {
			sample = sample[:len(sample)-1]
		}
	}
	if len(sample) == 0 {
		return false
	}
	if bytes.IndexByte(sample, 0) >= 0 {
		return false
	}
	return utf8.Valid(sample)
}
