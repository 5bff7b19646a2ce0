package crate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignalDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()

	var s Signal[int]
	var got []int
	s.Connect(func(v int) { got = append(got, v) })
	s.Connect(func(v int) { got = append(got, v*10) })

	s.emit(3)
	assert.Equal(t, []int{3, 30}, got)
}

func TestSignalDisconnectStopsDelivery(t *testing.T) {
	t.Parallel()

	var s Signal[int]
	count := 0
	conn := s.Connect(func(int) { count++ })

	s.emit(1)
	conn.Disconnect()
	s.emit(2)
	conn.Disconnect() // repeated disconnect is a no-op

	assert.Equal(t, 1, count)
}

func TestSignalDisconnectKeepsOtherSubscribers(t *testing.T) {
	t.Parallel()

	var s Signal[int]
	first := 0
	second := 0
	conn := s.Connect(func(int) { first++ })
	s.Connect(func(int) { second++ })

	conn.Disconnect()
	s.emit(1)

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
}

func TestSignalBlockingIsRefCounted(t *testing.T) {
	t.Parallel()

	signals := newSignals()
	count := 0
	signals.EntryAdded.Connect(func(EntryEvent) { count++ })

	signals.block.inc()
	signals.block.inc()
	signals.EntryAdded.emit(EntryEvent{})
	assert.Equal(t, 0, count)

	signals.block.dec()
	// One blocker still outstanding; emission stays suppressed.
	signals.EntryAdded.emit(EntryEvent{})
	assert.Equal(t, 0, count)

	signals.block.dec()
	signals.EntryAdded.emit(EntryEvent{})
	assert.Equal(t, 1, count)
}

func TestSignalBlockerUnblockIsIdempotent(t *testing.T) {
	t.Parallel()

	a := newArchiveForTest(&memFormat{})
	count := 0
	a.Signals().EntryAdded.Connect(func(EntryEvent) { count++ })

	outer := a.BlockSignals()
	inner := a.BlockSignals()
	inner.Unblock()
	inner.Unblock() // must not release the outer blocker

	a.signals.EntryAdded.emit(EntryEvent{})
	assert.Equal(t, 0, count)

	outer.Unblock()
	a.signals.EntryAdded.emit(EntryEvent{})
	assert.Equal(t, 1, count)
}
