package logstore

import (
	"container/list"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultMaxSizeBytes is the default ring capacity (5 MiB).
const DefaultMaxSizeBytes = 5 * 1024 * 1024

// subscriberQueueCapacity bounds each subscriber's delivery queue. Publish
// never blocks; a full queue drops the entry for that subscriber.
const subscriberQueueCapacity = 100

// Filter selects entries for Query.
type Filter struct {
	EntityType    string
	EntityID      string
	RequestID     string
	PipelineStage string
	// MaxLevel is the least-severe level included (RFC 5424 ordering:
	// entries with Level <= MaxLevel match).
	MaxLevel *Level
	Since    *time.Time
	Until    *time.Time
	// Text is a case-insensitive substring match on the message.
	Text string

	Limit  int
	Offset int
	// Order is "asc" or "desc" by timestamp. Defaults to "desc".
	Order string
}

// Store is the bounded in-memory log ring with parallel index multimaps and
// subscriber fan-out. All mutation happens under one mutex so eviction keeps
// ring and indices consistent; fan-out sends happen outside the critical
// section.
type Store struct {
	mu sync.Mutex

	ring         *list.List               // of *Entry, oldest at front
	byID         map[uint64]*list.Element // entry-id → ring element
	sizeBytes    int
	maxSizeBytes int
	nextID       uint64

	// Index multimaps: key → entry-ids (insertion order).
	byEntity  map[string][]uint64 // entity_type + "\x00" + entity_id
	byRequest map[string][]uint64
	byStage   map[string][]uint64

	subscribers map[int]chan Entry
	nextSubID   int
}

// New creates a Store with the given capacity in bytes. Non-positive
// capacity uses DefaultMaxSizeBytes.
func New(maxSizeBytes int) *Store {
	if maxSizeBytes <= 0 {
		maxSizeBytes = DefaultMaxSizeBytes
	}
	return &Store{
		ring:         list.New(),
		byID:         make(map[uint64]*list.Element),
		maxSizeBytes: maxSizeBytes,
		byEntity:     make(map[string][]uint64),
		byRequest:    make(map[string][]uint64),
		byStage:      make(map[string][]uint64),
		subscribers:  make(map[int]chan Entry),
	}
}

// Append stores an entry, evicting the oldest entries if the ring would
// exceed its byte budget, then fans the entry out to subscribers. The
// assigned entry ID is returned.
func (s *Store) Append(entry Entry) uint64 {
	s.mu.Lock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	s.nextID++
	entry.ID = s.nextID

	e := &entry
	s.ring.PushBack(e)
	s.byID[entry.ID] = s.ring.Back()
	s.sizeBytes += e.sizeBytes()
	s.indexAdd(e)

	// Evict oldest until under the limit. An entry larger than the whole
	// budget evicts itself, leaving the ring empty. Index cleanup happens in
	// the same critical section so every indexed id always refers to a live
	// entry.
	for s.sizeBytes > s.maxSizeBytes && s.ring.Len() > 0 {
		oldest := s.ring.Front()
		old := oldest.Value.(*Entry)
		s.ring.Remove(oldest)
		delete(s.byID, old.ID)
		s.sizeBytes -= old.sizeBytes()
		s.indexRemove(old)
	}

	// Snapshot subscriber channels, then release the lock before sending.
	subs := make([]chan Entry, 0, len(s.subscribers))
	for _, ch := range s.subscribers {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- entry:
		default:
			// Queue full — drop for this subscriber.
		}
	}
	return entry.ID
}

// Subscribe registers a new subscriber and returns its delivery channel plus
// an unsubscribe function. The channel is closed on unsubscribe.
func (s *Store) Subscribe() (<-chan Entry, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	ch := make(chan Entry, subscriberQueueCapacity)
	s.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, id)
			s.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Query returns entries matching the filter, paginated and ordered by
// timestamp.
func (s *Store) Query(f Filter) []Entry {
	s.mu.Lock()
	matched := s.collect(f)
	s.mu.Unlock()

	order := f.Order
	if order == "" {
		order = "desc"
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if order == "asc" {
			return matched[i].Timestamp.Before(matched[j].Timestamp)
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched
}

// collect gathers candidate entries under the lock, preferring index lookups
// when the filter names an indexed dimension.
func (s *Store) collect(f Filter) []Entry {
	var candidates []uint64
	switch {
	case f.EntityType != "" && f.EntityID != "":
		candidates = s.byEntity[entityKey(f.EntityType, f.EntityID)]
	case f.RequestID != "":
		candidates = s.byRequest[f.RequestID]
	case f.PipelineStage != "":
		candidates = s.byStage[f.PipelineStage]
	}

	var matched []Entry
	check := func(e *Entry) {
		if s.matches(e, f) {
			matched = append(matched, *e)
		}
	}
	if candidates != nil {
		for _, id := range candidates {
			if el, ok := s.byID[id]; ok {
				check(el.Value.(*Entry))
			}
		}
		return matched
	}
	for el := s.ring.Front(); el != nil; el = el.Next() {
		check(el.Value.(*Entry))
	}
	return matched
}

func (s *Store) matches(e *Entry, f Filter) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.RequestID != "" && e.RequestID != f.RequestID {
		return false
	}
	if f.PipelineStage != "" && e.PipelineStage != f.PipelineStage {
		return false
	}
	if f.MaxLevel != nil && e.Level > *f.MaxLevel {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	if f.Text != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(f.Text)) {
		return false
	}
	return true
}

// SizeBytes returns the current ring footprint.
func (s *Store) SizeBytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizeBytes
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ring.Len()
}

// indexedIDs returns all entry-ids present in any index. Used by tests to
// verify index/ring consistency after eviction.
func (s *Store) indexedIDs() map[uint64]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[uint64]bool)
	for _, lists := range []map[string][]uint64{s.byEntity, s.byRequest, s.byStage} {
		for _, l := range lists {
			for _, id := range l {
				ids[id] = true
			}
		}
	}
	return ids
}

// liveIDs returns the ids of all entries currently in the ring.
func (s *Store) liveIDs() map[uint64]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make(map[uint64]bool, len(s.byID))
	for id := range s.byID {
		ids[id] = true
	}
	return ids
}

func (s *Store) indexAdd(e *Entry) {
	if e.EntityType != "" && e.EntityID != "" {
		k := entityKey(e.EntityType, e.EntityID)
		s.byEntity[k] = append(s.byEntity[k], e.ID)
	}
	if e.RequestID != "" {
		s.byRequest[e.RequestID] = append(s.byRequest[e.RequestID], e.ID)
	}
	if e.PipelineStage != "" {
		s.byStage[e.PipelineStage] = append(s.byStage[e.PipelineStage], e.ID)
	}
}

func (s *Store) indexRemove(e *Entry) {
	if e.EntityType != "" && e.EntityID != "" {
		k := entityKey(e.EntityType, e.EntityID)
		s.byEntity[k] = removeID(s.byEntity[k], e.ID)
		if len(s.byEntity[k]) == 0 {
			delete(s.byEntity, k)
		}
	}
	if e.RequestID != "" {
		s.byRequest[e.RequestID] = removeID(s.byRequest[e.RequestID], e.ID)
		if len(s.byRequest[e.RequestID]) == 0 {
			delete(s.byRequest, e.RequestID)
		}
	}
	if e.PipelineStage != "" {
		s.byStage[e.PipelineStage] = removeID(s.byStage[e.PipelineStage], e.ID)
		if len(s.byStage[e.PipelineStage]) == 0 {
			delete(s.byStage, e.PipelineStage)
		}
	}
}

func entityKey(entityType, entityID string) string {
	return entityType + "\x00" + entityID
}

// removeID removes the first occurrence of id. Eviction removes oldest
// entries first and ids are appended in insertion order, so the first
// occurrence is always the evicted one.
func removeID(ids []uint64, id uint64) []uint64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
