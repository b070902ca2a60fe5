package watch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRegistry_SingleWriteSurvives(t *testing.T) {
	r := newEventRegistry()
	r.register(Event{Kind: EventWrite, Path: "/a"})

	events := r.drain()
	require.Len(t, events, 1)
	assert.Equal(t, Event{Kind: EventWrite, Path: "/a"}, events[0])
}

func TestEventRegistry_RepeatedWritesCoalesceToOne(t *testing.T) {
	r := newEventRegistry()
	r.register(Event{Kind: EventWrite, Path: "/a"})
	r.register(Event{Kind: EventWrite, Path: "/a"})
	r.register(Event{Kind: EventWrite, Path: "/a"})

	events := r.drain()
	assert.Len(t, events, 1)
}

func TestEventRegistry_WriteThenRemoveDropsEntirely(t *testing.T) {
	r := newEventRegistry()
	r.register(Event{Kind: EventWrite, Path: "/a"})
	r.register(Event{Kind: EventRemove, Path: "/a"})

	assert.True(t, r.isEmpty())
	assert.Empty(t, r.drain())
}

func TestEventRegistry_RemoveThenWriteBecomesWrite(t *testing.T) {
	r := newEventRegistry()
	r.register(Event{Kind: EventRemove, Path: "/a"})
	r.register(Event{Kind: EventWrite, Path: "/a"})

	events := r.drain()
	require.Len(t, events, 1)
	assert.Equal(t, Event{Kind: EventWrite, Path: "/a"}, events[0])
}

func TestEventRegistry_MoveThenRemoveBecomesRemoveOfOrigin(t *testing.T) {
	r := newEventRegistry()
	r.register(Event{Kind: EventMove, From: "/a", To: "/b"})
	r.register(Event{Kind: EventRemove, Path: "/b"})

	events := r.drain()
	require.Len(t, events, 1)
	assert.Equal(t, Event{Kind: EventRemove, Path: "/a"}, events[0])
}

func TestEventRegistry_WriteThenMoveBecomesWriteOfDestination(t *testing.T) {
	r := newEventRegistry()
	r.register(Event{Kind: EventWrite, Path: "/a"})
	r.register(Event{Kind: EventMove, From: "/a", To: "/b"})

	events := r.drain()
	require.Len(t, events, 1)
	assert.Equal(t, Event{Kind: EventWrite, Path: "/b"}, events[0])
}

func TestEventRegistry_ChainedMovesCollapseToOriginToFinal(t *testing.T) {
	r := newEventRegistry()
	r.register(Event{Kind: EventMove, From: "/a", To: "/b"})
	r.register(Event{Kind: EventMove, From: "/b", To: "/c"})

	events := r.drain()
	require.Len(t, events, 1)
	assert.Equal(t, Event{Kind: EventMove, From: "/a", To: "/c"}, events[0])
}

func TestEventRegistry_DrainPreservesRegistrationOrder(t *testing.T) {
	r := newEventRegistry()
	r.register(Event{Kind: EventWrite, Path: "/z"})
	r.register(Event{Kind: EventWrite, Path: "/a"})
	r.register(Event{Kind: EventWrite, Path: "/m"})

	events := r.drain()
	require.Len(t, events, 3)
	assert.Equal(t, "/z", events[0].Path)
	assert.Equal(t, "/a", events[1].Path)
	assert.Equal(t, "/m", events[2].Path)
}

func TestEventRegistry_DrainResetsState(t *testing.T) {
	r := newEventRegistry()
	r.register(Event{Kind: EventWrite, Path: "/a"})
	r.drain()

	assert.True(t, r.isEmpty())
	assert.Empty(t, r.drain())
}
