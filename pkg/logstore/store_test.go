package logstore

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelWarning, ParseLevel("warn"))
	assert.Equal(t, LevelWarning, ParseLevel("warning"))

	// Unknown names match everything
	assert.Equal(t, LevelDebug, ParseLevel("bogus"))
}

func TestLevelOrdering(t *testing.T) {
	// RFC 5424: lower value is more severe
	assert.Less(t, int(LevelError), int(LevelWarning))
	assert.Less(t, int(LevelWarning), int(LevelInfo))
	assert.Less(t, int(LevelInfo), int(LevelDebug))
}

func TestStore_AppendAssignsIDs(t *testing.T) {
	s := New(0)

	id1 := s.Append(Entry{Message: "first"})
	id2 := s.Append(Entry{Message: "second"})

	assert.Equal(t, uint64(1), id1)
	assert.Equal(t, uint64(2), id2)
	assert.Equal(t, 2, s.Len())
	assert.Positive(t, s.SizeBytes())
}

func TestStore_EvictionKeepsByteBound(t *testing.T) {
	// Small enough that a handful of entries forces eviction
	s := New(400)

	for i := 0; i < 20; i++ {
		s.Append(Entry{Message: fmt.Sprintf("entry %02d %s", i, strings.Repeat("x", 50))})
	}

	assert.LessOrEqual(t, s.SizeBytes(), 400)
	assert.Less(t, s.Len(), 20)

	// The newest entry always survives
	entries := s.Query(Filter{Order: "desc", Limit: 1})
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Message, "entry 19")
}

func TestStore_EvictionOfSingleOversizeEntry(t *testing.T) {
	s := New(100)

	s.Append(Entry{
		Message:    strings.Repeat("z", 1000),
		EntityType: "collection", EntityID: "col-1", RequestID: "req-1",
	})

	// The byte bound holds even when one entry exceeds the whole budget:
	// the entry evicts itself and leaves no index residue.
	assert.LessOrEqual(t, s.SizeBytes(), 100)
	assert.Zero(t, s.Len())
	assert.Empty(t, s.indexedIDs())
	assert.Empty(t, s.Query(Filter{RequestID: "req-1"}))
}

func TestStore_EvictionKeepsIndicesConsistent(t *testing.T) {
	s := New(500)

	for i := 0; i < 30; i++ {
		s.Append(Entry{
			Message:       strings.Repeat("y", 40),
			EntityType:    "collection",
			EntityID:      fmt.Sprintf("col-%d", i%3),
			RequestID:     fmt.Sprintf("req-%d", i),
			PipelineStage: "retrieval",
		})
	}

	// Every indexed id must refer to a live ring entry, and vice versa
	live := s.liveIDs()
	for id := range s.indexedIDs() {
		assert.True(t, live[id], "indexed id %d not in ring", id)
	}
	for id := range live {
		assert.True(t, s.indexedIDs()[id], "live id %d missing from indices", id)
	}
}

func TestStore_QueryFilters(t *testing.T) {
	s := New(0)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.Append(Entry{Level: LevelInfo, Timestamp: base, EntityType: "collection", EntityID: "col-1",
		RequestID: "req-1", PipelineStage: "retrieval", Message: "retrieved 10 chunks"})
	s.Append(Entry{Level: LevelError, Timestamp: base.Add(time.Minute), EntityType: "collection", EntityID: "col-1",
		RequestID: "req-1", PipelineStage: "generation", Message: "provider timeout"})
	s.Append(Entry{Level: LevelInfo, Timestamp: base.Add(2 * time.Minute), EntityType: "collection", EntityID: "col-2",
		RequestID: "req-2", PipelineStage: "retrieval", Message: "retrieved 4 chunks"})

	t.Run("by entity", func(t *testing.T) {
		got := s.Query(Filter{EntityType: "collection", EntityID: "col-1"})
		assert.Len(t, got, 2)
	})

	t.Run("by request", func(t *testing.T) {
		got := s.Query(Filter{RequestID: "req-2"})
		require.Len(t, got, 1)
		assert.Equal(t, "retrieved 4 chunks", got[0].Message)
	})

	t.Run("by stage", func(t *testing.T) {
		got := s.Query(Filter{PipelineStage: "retrieval"})
		assert.Len(t, got, 2)
	})

	t.Run("by max level", func(t *testing.T) {
		level := LevelError
		got := s.Query(Filter{MaxLevel: &level})
		require.Len(t, got, 1)
		assert.Equal(t, "provider timeout", got[0].Message)
	})

	t.Run("by text case-insensitive", func(t *testing.T) {
		got := s.Query(Filter{Text: "PROVIDER"})
		require.Len(t, got, 1)
		assert.Equal(t, LevelError, got[0].Level)
	})

	t.Run("by time range", func(t *testing.T) {
		since := base.Add(30 * time.Second)
		until := base.Add(90 * time.Second)
		got := s.Query(Filter{Since: &since, Until: &until})
		require.Len(t, got, 1)
		assert.Equal(t, "provider timeout", got[0].Message)
	})

	t.Run("combined index and scan filters", func(t *testing.T) {
		got := s.Query(Filter{RequestID: "req-1", Text: "chunks"})
		require.Len(t, got, 1)
		assert.Equal(t, "retrieved 10 chunks", got[0].Message)
	})
}

func TestStore_QueryOrderAndPagination(t *testing.T) {
	s := New(0)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s.Append(Entry{Timestamp: base.Add(time.Duration(i) * time.Second), Message: fmt.Sprintf("m%d", i)})
	}

	t.Run("default desc", func(t *testing.T) {
		got := s.Query(Filter{})
		require.Len(t, got, 5)
		assert.Equal(t, "m4", got[0].Message)
	})

	t.Run("asc", func(t *testing.T) {
		got := s.Query(Filter{Order: "asc"})
		require.Len(t, got, 5)
		assert.Equal(t, "m0", got[0].Message)
	})

	t.Run("limit and offset", func(t *testing.T) {
		got := s.Query(Filter{Order: "asc", Offset: 2, Limit: 2})
		require.Len(t, got, 2)
		assert.Equal(t, "m2", got[0].Message)
		assert.Equal(t, "m3", got[1].Message)
	})

	t.Run("offset past the end", func(t *testing.T) {
		got := s.Query(Filter{Offset: 10})
		assert.Empty(t, got)
	})
}

func TestStore_Subscribe(t *testing.T) {
	s := New(0)

	ch, cancel := s.Subscribe()
	defer cancel()

	s.Append(Entry{Message: "hello"})

	select {
	case e := <-ch:
		assert.Equal(t, "hello", e.Message)
		assert.Equal(t, uint64(1), e.ID)
	case <-time.After(time.Second):
		t.Fatal("no entry delivered to subscriber")
	}
}

func TestStore_SubscriberQueueOverflowDropsEntries(t *testing.T) {
	s := New(0)

	ch, cancel := s.Subscribe()
	defer cancel()

	// Fill well past the queue capacity without reading; Append must not block
	for i := 0; i < subscriberQueueCapacity+50; i++ {
		s.Append(Entry{Message: "flood"})
	}

	assert.Len(t, ch, subscriberQueueCapacity)
}

func TestStore_UnsubscribeClosesChannel(t *testing.T) {
	s := New(0)

	ch, cancel := s.Subscribe()
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Appending after unsubscribe must not panic
	s.Append(Entry{Message: "after"})
}
