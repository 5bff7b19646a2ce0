package crate

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/crate/internal/pathutil"
)

// Archive is the in-memory representation of one opened container file.
// It owns the root directory, knows its format handler, tracks the
// tree-wide modified flag, and emits change notifications.
//
// One goroutine may mutate an Archive at a time; the tree has no internal
// locking. Payload reads are safe from multiple goroutines once population
// has completed and no mutation is concurrent.
type Archive struct {
	handler       FormatHandler
	path          string
	root          *Dir
	modified      bool
	revision      atomic.Uint64
	signals       *Signals
	logger        *slog.Logger
	progress      ProgressFunc
	deferPayloads bool
	loadGroup     singleflight.Group
}

// Open parses an archive from an in-memory buffer. The format is detected
// by probing registered handlers' magic signatures unless WithFormat picks
// one explicitly.
//
// A failed open returns no archive: there is never a partially-constructed
// tree reachable by the caller.
func Open(data []byte, opts ...Option) (*Archive, error) {
	return open(data, "", opts)
}

// OpenFile reads path and parses it as an archive. The archive remembers
// the path as its backing file, enabling lazy single-entry reads.
func OpenFile(path string, opts ...Option) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crate: read %s: %w", path, err)
	}
	return open(data, path, opts)
}

func open(data []byte, path string, opts []Option) (*Archive, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.registry == nil {
		return nil, fmt.Errorf("crate: no format registry configured")
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty source", ErrOpenFailed)
	}

	var (
		handler FormatHandler
		err     error
	)
	if cfg.formatID != "" {
		handler, err = cfg.registry.Handler(cfg.formatID)
	} else {
		handler, err = cfg.registry.Detect(data)
	}
	if err != nil {
		return nil, err
	}

	a := &Archive{
		handler:       handler,
		path:          path,
		signals:       newSignals(),
		logger:        cfg.logger,
		progress:      cfg.progress,
		deferPayloads: cfg.deferPayloads,
	}
	a.root = newDir("", a, nil)

	// Suppress per-entry add notifications while the handler populates the
	// tree; one Loaded signal fires at the end instead.
	blocker := a.BlockSignals()
	err = handler.Open(a, data)
	blocker.Unblock()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, handler.Format().ID, err)
	}

	a.detectEntryTypes()
	a.setAllUnmodified()
	a.setModified(false)
	a.signals.Loaded.emit(a)
	return a, nil
}

// Root returns the archive's root directory.
func (a *Archive) Root() *Dir { return a.root }

// Path returns the backing file path, or "" for memory-backed archives.
func (a *Archive) Path() string { return a.path }

// FormatInfo returns the governing format's capability descriptor.
func (a *Archive) FormatInfo() FormatInfo { return a.handler.Format() }

// IsModified reports whether the tree has changed since open or last save.
func (a *Archive) IsModified() bool { return a.modified }

// Revision returns a monotonic counter bumped on every tree mutation.
// Dependent caches (renderers, indexers) compare revisions to detect
// staleness without deep comparison.
func (a *Archive) Revision() uint64 { return a.revision.Load() }

// Signals returns the archive's notification channels.
func (a *Archive) Signals() *Signals { return a.signals }

// BlockSignals suspends signal emission until the returned blocker is
// released. Blockers nest: emission resumes only when every outstanding
// blocker has been unblocked.
func (a *Archive) BlockSignals() *SignalBlocker {
	a.signals.block.inc()
	return &SignalBlocker{signals: a.signals}
}

// Log returns the archive's logger, falling back to a discard logger.
func (a *Archive) Log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// ReportProgress forwards a progress event to the configured callback.
func (a *Archive) ReportProgress(ev ProgressEvent) {
	if a.progress != nil {
		a.progress(ev)
	}
}

// DeferPayloads reports whether the open requested deferred payload reads.
func (a *Archive) DeferPayloads() bool { return a.deferPayloads }

// Write serializes the tree to the native byte layout.
//
// For formats that forbid duplicate names the whole tree is scanned first
// and a collision aborts the write, naming the offending entry and its
// directory. On success every entry's state resets to StateUnmodified and
// the archive-wide modified flag clears. Recorded native positions are
// left as they were: the backing file has not changed, so re-pointing
// deferred entries at the returned buffer would leave them unreadable.
// SaveFile persists the bytes and commits the new positions.
func (a *Archive) Write() ([]byte, error) {
	data, restoreProps, err := a.serialize()
	if err != nil {
		return nil, err
	}
	restoreProps()
	a.setAllUnmodified()
	a.setModified(false)
	return data, nil
}

// SaveFile writes the archive to path and records it as the backing file.
// States, the modified flag, and recorded native positions change only
// after the file write succeeds; a failed save leaves the in-memory tree
// exactly as it was.
func (a *Archive) SaveFile(path string) error {
	data, restoreProps, err := a.serialize()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		restoreProps()
		return fmt.Errorf("crate: write %s: %w", path, err)
	}
	a.path = path
	a.setAllUnmodified()
	a.setModified(false)
	return nil
}

// serialize runs the duplicate-name gate and the handler's writer. Entry
// property bags are snapshotted first: handlers record new native
// positions while serializing, and the returned restore function puts the
// old ones back when those bytes end up not being persisted. A handler
// failure restores before returning.
func (a *Archive) serialize() ([]byte, func(), error) {
	info := a.handler.Format()
	if !info.CanWrite {
		return nil, nil, fmt.Errorf("%w: %s", ErrReadOnly, info.ID)
	}
	if !info.AllowsDuplicateNames {
		dirs := append([]*Dir{a.root}, a.root.AllDirectories()...)
		for _, d := range dirs {
			if dup := d.FindDuplicateEntryName(); dup != nil {
				return nil, nil, fmt.Errorf("%w: multiple entries named %q in %s", ErrDuplicateName, dup.Name(), d.Path())
			}
		}
	}
	restoreProps := a.snapshotProps()
	data, err := a.handler.Write(a)
	if err != nil {
		restoreProps()
		return nil, nil, err
	}
	return data, restoreProps, nil
}

// snapshotProps captures every entry's property bag (directory entries
// included) and returns a function restoring all of them.
func (a *Archive) snapshotProps() func() {
	type saved struct {
		props *Props
		m     map[string]any
	}
	var all []saved
	var walk func(d *Dir)
	walk = func(d *Dir) {
		all = append(all, saved{&d.dirEntry.props, d.dirEntry.props.snapshot()})
		for _, e := range d.entries {
			all = append(all, saved{&e.props, e.props.snapshot()})
		}
		for _, sub := range d.subdirs {
			walk(sub)
		}
	}
	walk(a.root)
	return func() {
		for _, s := range all {
			s.props.restore(s.m)
		}
	}
}

// Save writes the archive back to its backing file.
func (a *Archive) Save() error {
	if a.path == "" {
		return ErrNoSource
	}
	return a.SaveFile(a.path)
}

// EntryData returns the entry's payload, reading it from the backing file
// when it is not resident in memory. Concurrent loads of the same entry
// are deduplicated.
//
// Fails with ErrMissingIndex (wrapped) when the entry has no recorded
// native position, and ErrNoSource when the archive has no backing file.
func (a *Archive) EntryData(e *Entry) ([]byte, error) {
	if e.loaded {
		return e.data, nil
	}
	if e.size == 0 {
		return nil, nil
	}
	if a.path == "" {
		return nil, fmt.Errorf("%w: cannot load %q", ErrNoSource, e.Name())
	}
	v, err, _ := a.loadGroup.Do(fmt.Sprintf("%p", e), func() (any, error) {
		data, err := a.handler.LoadEntryData(a, e)
		if err != nil {
			return nil, err
		}
		// Deferred entries were classified without a payload at open time;
		// redo it now that the real bytes are in hand.
		e.etype = DetectType(e.name, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	data := v.([]byte)
	a.Log().Debug("lazy-loaded entry payload", "path", e.Path(), "bytes", len(data))
	return data, nil
}

// CreateDir finds or creates the directory at the given slash-separated
// path, creating intermediate directories as needed. The empty path (or
// "/") returns the root.
func (a *Archive) CreateDir(path string) (*Dir, error) {
	if !a.FormatInfo().SupportsDirs {
		if pathutil.Clean(path) != "" {
			return nil, fmt.Errorf("%w: format %s has no directories", ErrInvalidName, a.FormatInfo().ID)
		}
		return a.root, nil
	}
	d := a.root
	for _, seg := range pathutil.Segments(path) {
		if sub := d.Subdir(seg); sub != nil {
			d = sub
			continue
		}
		sub := newDir(seg, a, d)
		d.subdirs = append(d.subdirs, sub)
		a.noteMutation()
		a.signals.DirAdded.emit(DirEvent{Archive: a, Dir: sub})
		d = sub
	}
	return d, nil
}

// DirAtPath returns the directory at the given path, or nil.
func (a *Archive) DirAtPath(path string) *Dir {
	d := a.root
	for _, seg := range pathutil.Segments(path) {
		if d = d.Subdir(seg); d == nil {
			return nil
		}
	}
	return d
}

// EntryAtPath returns the first entry at the given path, or nil.
func (a *Archive) EntryAtPath(path string) *Entry {
	dir, name := pathutil.Split(path)
	d := a.DirAtPath(dir)
	if d == nil {
		return nil
	}
	return d.Entry(name)
}

// RemoveDir detaches the directory and its whole subtree from the tree.
// The root cannot be removed.
func (a *Archive) RemoveDir(d *Dir) error {
	if d == nil || d.archive != a {
		return fmt.Errorf("crate: directory does not belong to this archive")
	}
	if d.parent == nil {
		return fmt.Errorf("crate: cannot remove the root directory")
	}
	parent := d.parent
	for i, sub := range parent.subdirs {
		if sub == d {
			parent.subdirs = append(parent.subdirs[:i], parent.subdirs[i+1:]...)
			break
		}
	}
	d.parent = nil
	d.dirEntry.parent = nil
	a.noteMutation()
	a.signals.DirRemoved.emit(DirEvent{Archive: a, Dir: d})
	return nil
}

// RenameDir changes a directory's name. Sibling directory names must stay
// unique; the tree is unchanged on rejection.
func (a *Archive) RenameDir(d *Dir, newName string) error {
	if d == nil || d.archive != a {
		return fmt.Errorf("crate: directory does not belong to this archive")
	}
	if d.parent == nil {
		return fmt.Errorf("%w: cannot rename the root directory", ErrInvalidName)
	}
	if err := validateName(newName, a); err != nil {
		return err
	}
	if other := d.parent.Subdir(newName); other != nil && other != d {
		return fmt.Errorf("%w: directory %q in %s", ErrDuplicateName, newName, d.parent.Path())
	}
	d.name = newName
	d.dirEntry.name = newName
	a.noteMutation()
	a.signals.EntryModified.emit(EntryEvent{Archive: a, Entry: d.dirEntry})
	return nil
}

// MoveEntry detaches the entry from its current directory and inserts it
// into another at the given index (negative appends). Consumers observe a
// removal followed by an addition. The entry keeps its identity and ends
// up at least StateModified.
func (a *Archive) MoveEntry(e *Entry, to *Dir, index int) error {
	if e == nil || e.parent == nil || e.parent.archive != a {
		return fmt.Errorf("crate: entry does not belong to this archive")
	}
	if to == nil || to.archive != a {
		return fmt.Errorf("crate: target directory does not belong to this archive")
	}
	if e.locked {
		return fmt.Errorf("%w: %s", ErrEntryLocked, e.Name())
	}
	if to != e.parent && !a.FormatInfo().AllowsDuplicateNames && to.Entry(e.name) != nil {
		return fmt.Errorf("%w: %q in %s", ErrDuplicateName, e.name, to.Path())
	}
	state := e.state
	if err := e.parent.RemoveEntry(e); err != nil {
		return err
	}
	if err := to.AddEntry(e, index); err != nil {
		return err
	}
	if state == StateUnmodified {
		state = StateModified
	}
	e.state = state
	return nil
}

// noteMutation bumps the revision counter and raises the modified flag.
func (a *Archive) noteMutation() {
	a.revision.Add(1)
	if !a.modified {
		a.modified = true
		a.signals.Modified.emit(ModifiedEvent{Archive: a, Modified: true})
	}
}

func (a *Archive) noteEntryModified(e *Entry) {
	a.noteMutation()
	a.signals.EntryModified.emit(EntryEvent{Archive: a, Entry: e})
}

func (a *Archive) setModified(modified bool) {
	if a.modified == modified {
		return
	}
	a.modified = modified
	a.signals.Modified.emit(ModifiedEvent{Archive: a, Modified: modified})
}

// setAllUnmodified forces every entry and directory in the tree to
// StateUnmodified, as after a fresh open or successful write.
func (a *Archive) setAllUnmodified() {
	var walk func(d *Dir)
	walk = func(d *Dir) {
		d.dirEntry.SetState(StateUnmodified)
		for _, e := range d.entries {
			e.SetState(StateUnmodified)
		}
		for _, sub := range d.subdirs {
			walk(sub)
		}
	}
	walk(a.root)
}

// detectEntryTypes classifies every entry after population.
func (a *Archive) detectEntryTypes() {
	for _, e := range a.root.Flatten() {
		e.etype = DetectType(e.name, e.data)
	}
}
