package crate

import (
	"fmt"
	"strings"
)

// State is the modification state of an entry.
type State uint8

const (
	// StateUnmodified marks an entry unchanged since open or last save.
	StateUnmodified State = iota

	// StateModified marks an entry whose name or data changed since last save.
	StateModified

	// StateNew marks an entry that has never been written to the native container.
	StateNew
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnmodified:
		return "unmodified"
	case StateModified:
		return "modified"
	case StateNew:
		return "new"
	default:
		return "unknown"
	}
}

// Entry is a single named unit of data within an archive.
//
// Entry identity is the pointer: names may collide in formats that allow
// duplicates, but an *Entry remains a stable, addressable handle across
// renames, moves, and reorders.
type Entry struct {
	name   string
	data   []byte
	size   int64
	loaded bool
	state  State
	locked bool
	etype  EntryType
	parent *Dir
	props  Props
}

// NewEntry creates a detached entry with no data, in StateNew.
func NewEntry(name string) *Entry {
	return &Entry{name: name, state: StateNew}
}

// Name returns the entry's name within its directory.
func (e *Entry) Name() string { return e.name }

// Size returns the entry's payload size in bytes. The size is tracked even
// when the payload itself is not resident in memory.
func (e *Entry) Size() int64 { return e.size }

// Data returns the in-memory payload, or nil if the payload is unloaded.
// The returned slice is owned by the entry and must not be modified.
// Use Archive.EntryData to read payloads regardless of residency.
func (e *Entry) Data() []byte { return e.data }

// Loaded reports whether the payload is resident in memory.
func (e *Entry) Loaded() bool { return e.loaded }

// State returns the entry's modification state.
func (e *Entry) State() State { return e.state }

// SetState sets the modification state. This is a pure state transition;
// it fires no notifications. Loaders use it to force StateUnmodified after
// population, and Archive resets states after a successful write.
func (e *Entry) SetState(s State) { e.state = s }

// Locked reports whether the entry is protected from mutation.
func (e *Entry) Locked() bool { return e.locked }

// SetLocked sets the lock flag. Locked entries reject ImportData, Rename,
// and removal.
func (e *Entry) SetLocked(locked bool) { e.locked = locked }

// Type returns the entry's content classification.
func (e *Entry) Type() EntryType { return e.etype }

// Parent returns the directory containing the entry, or nil if detached.
func (e *Entry) Parent() *Dir { return e.parent }

// Props returns the entry's extensible property bag. Format handlers use it
// to stash native bookkeeping (record index, on-disk offset) that must
// survive until the next save.
func (e *Entry) Props() *Props { return &e.props }

// Path returns the entry's full path within the archive tree, with a
// leading slash, e.g. "/MAPS/E1M1.TXT". A detached entry returns its name.
func (e *Entry) Path() string {
	if e.parent == nil {
		return e.name
	}
	return e.parent.Path() + e.name
}

// ImportData copies length bytes starting at offset from buf into the
// entry, replacing any existing payload. The entry takes ownership of the
// copy. State moves to StateModified unless the entry is StateNew; loaders
// reset states afterwards via SetState.
func (e *Entry) ImportData(buf []byte, offset, length int) error {
	if e.locked {
		return fmt.Errorf("%w: %s", ErrEntryLocked, e.name)
	}
	if offset < 0 || length < 0 || offset+length > len(buf) {
		return fmt.Errorf("%w: import %d+%d from %d bytes", ErrShortBuffer, offset, length, len(buf))
	}
	data := make([]byte, length)
	copy(data, buf[offset:offset+length])
	e.data = data
	e.size = int64(length)
	e.loaded = true
	e.etype = DetectType(e.name, e.data)
	if e.state == StateUnmodified {
		e.state = StateModified
	}
	if a := e.archive(); a != nil {
		a.noteEntryModified(e)
	}
	return nil
}

// MarkUnloaded records size bytes of payload that are not resident in
// memory. Loaders use it when payload reads are deferred; the data can be
// fetched later through Archive.EntryData.
func (e *Entry) MarkUnloaded(size int64) {
	e.data = nil
	e.size = size
	e.loaded = false
}

// ClearData drops the in-memory payload while keeping the recorded size,
// so it can be reloaded from the native container on demand.
func (e *Entry) ClearData() {
	e.data = nil
	e.loaded = false
}

// Rename changes the entry's name.
//
// The new name is validated against the owning archive's format
// capabilities: names may not be empty or contain path separators, may not
// exceed the format's maximum name length, and may not collide with a
// sibling when the format forbids duplicates. The entry is left unchanged
// on rejection.
func (e *Entry) Rename(newName string) error {
	if e.locked {
		return fmt.Errorf("%w: %s", ErrEntryLocked, e.name)
	}
	if err := validateName(newName, e.archive()); err != nil {
		return err
	}
	if a := e.archive(); a != nil && e.parent != nil {
		if !a.FormatInfo().AllowsDuplicateNames {
			if other := e.parent.Entry(newName); other != nil && other != e {
				return fmt.Errorf("%w: %q in %s", ErrDuplicateName, newName, e.parent.Path())
			}
		}
	}
	e.name = newName
	if e.state == StateUnmodified {
		e.state = StateModified
	}
	if a := e.archive(); a != nil {
		a.noteEntryModified(e)
	}
	return nil
}

// archive resolves the owning archive through the parent chain.
func (e *Entry) archive() *Archive {
	if e.parent == nil {
		return nil
	}
	return e.parent.archive
}

func validateName(name string, a *Archive) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	if a != nil {
		if maxLen := a.FormatInfo().MaxNameLength; maxLen > 0 && len(name) > maxLen {
			return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidName, name, maxLen)
		}
	}
	return nil
}

// Props is a typed heterogeneous property bag keyed by string.
// Reading a missing key (or a key holding another type) is an error, not a
// silent default; callers that need optional reads check Has first.
type Props struct {
	m map[string]any
}

// Has reports whether key is present.
func (p *Props) Has(key string) bool {
	_, ok := p.m[key]
	return ok
}

// Delete removes key from the bag.
func (p *Props) Delete(key string) {
	delete(p.m, key)
}

// SetInt stores an int value under key.
func (p *Props) SetInt(key string, v int) { p.set(key, v) }

// Int returns the int stored under key.
func (p *Props) Int(key string) (int, error) {
	v, ok := p.m[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingProp, key)
	}
	n, ok := v.(int)
	if !ok {
		return 0, fmt.Errorf("%w: %q holds %T, not int", ErrMissingProp, key, v)
	}
	return n, nil
}

// SetInt64 stores an int64 value under key.
func (p *Props) SetInt64(key string, v int64) { p.set(key, v) }

// Int64 returns the int64 stored under key.
func (p *Props) Int64(key string) (int64, error) {
	v, ok := p.m[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingProp, key)
	}
	n, ok := v.(int64)
	if !ok {
		return 0, fmt.Errorf("%w: %q holds %T, not int64", ErrMissingProp, key, v)
	}
	return n, nil
}

// SetString stores a string value under key.
func (p *Props) SetString(key, v string) { p.set(key, v) }

// String returns the string stored under key.
func (p *Props) String(key string) (string, error) {
	v, ok := p.m[key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrMissingProp, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %q holds %T, not string", ErrMissingProp, key, v)
	}
	return s, nil
}

// snapshot copies the bag's current contents.
func (p *Props) snapshot() map[string]any {
	if p.m == nil {
		return nil
	}
	out := make(map[string]any, len(p.m))
	for k, v := range p.m {
		out[k] = v
	}
	return out
}

// restore replaces the bag's contents with an earlier snapshot.
func (p *Props) restore(m map[string]any) {
	p.m = m
}

func (p *Props) set(key string, v any) {
	if p.m == nil {
		p.m = make(map[string]any)
	}
	p.m[key] = v
}
