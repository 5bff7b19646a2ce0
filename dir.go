package crate

import "fmt"

// Dir is a named grouping node in the archive tree. It holds an ordered
// sequence of entries (insertion order is significant; many formats
// serialize in directory order) and an ordered set of subdirectories.
type Dir struct {
	name     string
	archive  *Archive
	parent   *Dir
	entries  []*Entry
	subdirs  []*Dir
	dirEntry *Entry
}

func newDir(name string, a *Archive, parent *Dir) *Dir {
	d := &Dir{name: name, archive: a, parent: parent}
	d.dirEntry = &Entry{name: name, etype: TypeFolder, state: StateNew, parent: parent}
	return d
}

// Name returns the directory's name. The root directory has an empty name.
func (d *Dir) Name() string { return d.name }

// Parent returns the containing directory, or nil for the root.
func (d *Dir) Parent() *Dir { return d.parent }

// Archive returns the archive owning this directory.
func (d *Dir) Archive() *Archive { return d.archive }

// IsRoot reports whether this is the archive's root directory.
func (d *Dir) IsRoot() bool { return d.parent == nil }

// DirEntry returns the synthetic entry associated with the directory, used
// so directories can be addressed uniformly with entries in tree walks.
func (d *Dir) DirEntry() *Entry { return d.dirEntry }

// Path returns the directory's path with leading and trailing slashes,
// e.g. "/MAPS/". The root returns "/".
func (d *Dir) Path() string {
	if d.parent == nil {
		return "/"
	}
	return d.parent.Path() + d.name + "/"
}

// NumEntries returns the number of entries directly in the directory.
func (d *Dir) NumEntries() int { return len(d.entries) }

// Entries returns the directory's entries in order. The returned slice is
// a copy; the entries are not.
func (d *Dir) Entries() []*Entry {
	out := make([]*Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// EntryAt returns the entry at index, or nil if out of range.
func (d *Dir) EntryAt(index int) *Entry {
	if index < 0 || index >= len(d.entries) {
		return nil
	}
	return d.entries[index]
}

// Entry returns the first entry with the given name, or nil.
func (d *Dir) Entry(name string) *Entry {
	for _, e := range d.entries {
		if e.name == name {
			return e
		}
	}
	return nil
}

// EntryIndex returns the position of e in the directory, or -1.
func (d *Dir) EntryIndex(e *Entry) int {
	for i, cur := range d.entries {
		if cur == e {
			return i
		}
	}
	return -1
}

// Subdirs returns the child directories in order. The returned slice is a copy.
func (d *Dir) Subdirs() []*Dir {
	out := make([]*Dir, len(d.subdirs))
	copy(out, d.subdirs)
	return out
}

// Subdir returns the child directory with the given name, or nil.
func (d *Dir) Subdir(name string) *Dir {
	for _, sub := range d.subdirs {
		if sub.name == name {
			return sub
		}
	}
	return nil
}

// AddEntry inserts an entry at the given index, or appends when index is
// negative or past the end. The entry must be detached. Fails with
// ErrDuplicateName when the format forbids duplicates and the name
// collides with a sibling; the tree is unchanged on rejection.
// Inserted entries are left in StateNew.
func (d *Dir) AddEntry(e *Entry, index int) error {
	if e == nil {
		return fmt.Errorf("crate: nil entry")
	}
	if e.parent != nil {
		return fmt.Errorf("crate: entry %q is already in %s", e.name, e.parent.Path())
	}
	if d.archive != nil && !d.archive.FormatInfo().AllowsDuplicateNames {
		if d.Entry(e.name) != nil {
			return fmt.Errorf("%w: %q in %s", ErrDuplicateName, e.name, d.Path())
		}
	}
	if index < 0 || index > len(d.entries) {
		index = len(d.entries)
	}
	d.entries = append(d.entries, nil)
	copy(d.entries[index+1:], d.entries[index:])
	d.entries[index] = e
	e.parent = d
	e.state = StateNew
	if d.archive != nil {
		d.archive.noteMutation()
		d.archive.signals.EntryAdded.emit(EntryEvent{Archive: d.archive, Entry: e})
	}
	return nil
}

// RemoveEntry detaches the entry from the directory. The removal
// notification names this directory and the entry's former index.
func (d *Dir) RemoveEntry(e *Entry) error {
	if e == nil || e.parent != d {
		return fmt.Errorf("crate: entry is not in %s", d.Path())
	}
	if e.locked {
		return fmt.Errorf("%w: %s", ErrEntryLocked, e.name)
	}
	index := d.EntryIndex(e)
	d.entries = append(d.entries[:index], d.entries[index+1:]...)
	e.parent = nil
	if d.archive != nil {
		d.archive.noteMutation()
		d.archive.signals.EntryRemoved.emit(EntryRemovedEvent{
			Archive: d.archive,
			Entry:   e,
			Dir:     d,
			Index:   index,
		})
	}
	return nil
}

// SwapEntries exchanges the entries at indices i and j.
func (d *Dir) SwapEntries(i, j int) error {
	if i < 0 || i >= len(d.entries) || j < 0 || j >= len(d.entries) {
		return fmt.Errorf("crate: swap indices %d,%d out of range in %s", i, j, d.Path())
	}
	if i == j {
		return nil
	}
	d.entries[i], d.entries[j] = d.entries[j], d.entries[i]
	if d.archive != nil {
		d.archive.noteMutation()
		d.archive.signals.Reordered.emit(ReorderEvent{Archive: d.archive, Dir: d, IndexA: i, IndexB: j})
	}
	return nil
}

// FindDuplicateEntryName returns the first entry whose name collides with
// an earlier sibling, or nil. Writers for formats that forbid duplicates
// use this as a pre-write validation gate.
func (d *Dir) FindDuplicateEntryName() *Entry {
	seen := make(map[string]bool, len(d.entries))
	for _, e := range d.entries {
		if seen[e.name] {
			return e
		}
		seen[e.name] = true
	}
	return nil
}

// AllDirectories returns every descendant directory in pre-order, not
// including the receiver.
func (d *Dir) AllDirectories() []*Dir {
	var out []*Dir
	for _, sub := range d.subdirs {
		out = append(out, sub)
		out = append(out, sub.AllDirectories()...)
	}
	return out
}

// Flatten returns a stable pre-order list of every entry in the subtree:
// the directory's own entries in order, then each subdirectory's entries
// recursively. Format writers depend on this order to assign linear
// record indices.
func (d *Dir) Flatten() []*Entry {
	out := make([]*Entry, 0, len(d.entries))
	out = append(out, d.entries...)
	for _, sub := range d.subdirs {
		out = append(out, sub.Flatten()...)
	}
	return out
}

// Items returns a pre-order walk of the subtree addressing directories and
// entries uniformly: the directory's entries first, then, for each
// subdirectory, the subdirectory itself followed by its items. Writers for
// formats with native directory records serialize in exactly this order.
func (d *Dir) Items() []Item {
	out := make([]Item, 0, len(d.entries)+len(d.subdirs))
	for _, e := range d.entries {
		out = append(out, Item{entry: e})
	}
	for _, sub := range d.subdirs {
		out = append(out, Item{dir: sub})
		out = append(out, sub.Items()...)
	}
	return out
}

// Item is a discriminated handle to either an entry or a directory in a
// tree walk. Exactly one of Entry/Dir returns ok.
type Item struct {
	entry *Entry
	dir   *Dir
}

// IsDir reports whether the item is a directory.
func (i Item) IsDir() bool { return i.dir != nil }

// Entry returns the item's entry, if it is one.
func (i Item) Entry() (*Entry, bool) { return i.entry, i.entry != nil }

// Dir returns the item's directory, if it is one.
func (i Item) Dir() (*Dir, bool) { return i.dir, i.dir != nil }

// Path returns the path of whichever node the item holds.
func (i Item) Path() string {
	if i.dir != nil {
		return i.dir.Path()
	}
	return i.entry.Path()
}
