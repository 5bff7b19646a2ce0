package crate

import "sync"

// Connection is a scoped subscription token returned by Signal.Connect.
// Disconnecting releases the subscription; a zero Connection is a no-op.
type Connection struct {
	disconnect func()
}

// Disconnect removes the subscription. Safe to call more than once.
func (c *Connection) Disconnect() {
	if c.disconnect != nil {
		c.disconnect()
		c.disconnect = nil
	}
}

// Signal is a single notification channel with multiple independent
// subscribers. Handlers run synchronously, in connection order, after the
// mutation that triggered them has been applied, so they only ever observe
// consistent post-mutation state.
type Signal[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber[T]
	block  *blockCount
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Connect registers fn and returns a token whose Disconnect unsubscribes.
func (s *Signal[T]) Connect(fn func(T)) Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, subscriber[T]{id: id, fn: fn})
	return Connection{disconnect: func() { s.remove(id) }}
}

func (s *Signal[T]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

func (s *Signal[T]) emit(v T) {
	if s.block != nil && s.block.blocked() {
		return
	}
	s.mu.Lock()
	subs := make([]subscriber[T], len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.fn(v)
	}
}

// blockCount suspends signal emission while greater than zero.
// Reference-counted so nested blocking scopes compose.
type blockCount struct {
	mu sync.Mutex
	n  int
}

func (b *blockCount) inc() {
	b.mu.Lock()
	b.n++
	b.mu.Unlock()
}

func (b *blockCount) dec() {
	b.mu.Lock()
	if b.n > 0 {
		b.n--
	}
	b.mu.Unlock()
}

func (b *blockCount) blocked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n > 0
}

// EntryEvent describes a change to a single entry.
type EntryEvent struct {
	Archive *Archive
	Entry   *Entry
}

// EntryRemovedEvent describes an entry removal, including the directory it
// was removed from and its former position. Consumers rely on the directory
// for accurate tree diffing.
type EntryRemovedEvent struct {
	Archive *Archive
	Entry   *Entry
	Dir     *Dir
	Index   int
}

// DirEvent describes a directory addition or removal.
type DirEvent struct {
	Archive *Archive
	Dir     *Dir
}

// ReorderEvent describes two entries swapping positions within a directory.
type ReorderEvent struct {
	Archive *Archive
	Dir     *Dir
	IndexA  int
	IndexB  int
}

// ModifiedEvent announces a transition of the archive-wide modified flag.
type ModifiedEvent struct {
	Archive  *Archive
	Modified bool
}

// Signals bundles the notification channels of one Archive.
// All channels share one reference-counted blocker (see Archive.BlockSignals).
type Signals struct {
	block blockCount

	EntryAdded    Signal[EntryEvent]
	EntryRemoved  Signal[EntryRemovedEvent]
	EntryModified Signal[EntryEvent]
	DirAdded      Signal[DirEvent]
	DirRemoved    Signal[DirEvent]
	Reordered     Signal[ReorderEvent]
	Modified      Signal[ModifiedEvent]

	// Loaded fires once after a bulk open has fully populated the tree.
	// Individual add signals are suppressed during population.
	Loaded Signal[*Archive]
}

func newSignals() *Signals {
	s := &Signals{}
	s.EntryAdded.block = &s.block
	s.EntryRemoved.block = &s.block
	s.EntryModified.block = &s.block
	s.DirAdded.block = &s.block
	s.DirRemoved.block = &s.block
	s.Reordered.block = &s.block
	s.Modified.block = &s.block
	// Loaded deliberately has no blocker: it is the coalesced notification
	// fired at the end of a blocked region.
	return s
}

// SignalBlocker suspends signal emission for a region of code.
// Blockers nest; emission resumes when every blocker has been released.
type SignalBlocker struct {
	signals  *Signals
	released bool
}

// Unblock releases the blocker. Safe to call more than once.
func (b *SignalBlocker) Unblock() {
	if b.released || b.signals == nil {
		return
	}
	b.released = true
	b.signals.block.dec()
}
