package crate

import "errors"

// Sentinel errors for archive operations.
var (
	// ErrOpenFailed is returned when a source cannot be parsed as an archive.
	ErrOpenFailed = errors.New("crate: open failed")

	// ErrUnknownFormat is returned when no registered format matches a source.
	ErrUnknownFormat = errors.New("crate: unknown archive format")

	// ErrDuplicateName is returned when an operation would produce sibling
	// entries with the same name in a format that forbids duplicates.
	ErrDuplicateName = errors.New("crate: duplicate entry name")

	// ErrInvalidName is returned when a name violates the owning format's
	// length or charset constraints.
	ErrInvalidName = errors.New("crate: invalid name")

	// ErrMissingIndex is returned when a lazy load is requested for an
	// entry with no recorded native position.
	ErrMissingIndex = errors.New("crate: no native index recorded")

	// ErrMissingProp is returned when a property bag is read for a key
	// that is absent or holds a different type.
	ErrMissingProp = errors.New("crate: property not set")

	// ErrEntryLocked is returned when a mutation targets a locked entry.
	ErrEntryLocked = errors.New("crate: entry is locked")

	// ErrNoSource is returned when an operation needs a backing file but
	// the archive was opened from memory and never saved.
	ErrNoSource = errors.New("crate: archive has no backing file")

	// ErrShortBuffer is returned when an import range exceeds the source buffer.
	ErrShortBuffer = errors.New("crate: buffer too short")

	// ErrReadOnly is returned when writing an archive whose format has no writer.
	ErrReadOnly = errors.New("crate: format does not support writing")
)
