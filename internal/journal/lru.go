package journal

import (
	"fmt"
	"sync"
)

// LRU is a fixed-capacity in-memory Store. Saving beyond capacity evicts
// the least recently used record.
type LRU struct {
	mu  sync.Mutex
	cap int

	// Doubly-linked list for LRU ordering (most recent at head).
	head, tail *lruEntry
	items      map[string]*lruEntry
}

type lruEntry struct {
	key    string
	record *Record
	prev   *lruEntry
	next   *lruEntry
}

// NewLRU creates an LRU with the given capacity. Capacity must be >= 1.
func NewLRU(cap int) *LRU {
	if cap < 1 {
		cap = 1
	}
	return &LRU{
		cap:   cap,
		items: make(map[string]*lruEntry, cap),
	}
}

// Save inserts or replaces the record and marks it most recently used.
func (s *LRU) Save(rec *Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("journal: record without run ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.items[rec.ID]; ok {
		e.record = rec
		s.moveToFront(e)
		return nil
	}
	e := &lruEntry{key: rec.ID, record: rec}
	s.items[rec.ID] = e
	s.pushFront(e)
	if len(s.items) > s.cap {
		s.evict()
	}
	return nil
}

// Load returns the record for runID and marks it most recently used.
func (s *LRU) Load(runID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	s.moveToFront(e)
	return e.record, nil
}

// Len returns the number of records held.
func (s *LRU) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *LRU) pushFront(e *lruEntry) {
	e.prev = nil
	e.next = s.head
	if s.head != nil {
		s.head.prev = e
	}
	s.head = e
	if s.tail == nil {
		s.tail = e
	}
}

func (s *LRU) moveToFront(e *lruEntry) {
	if s.head == e {
		return
	}
	s.remove(e)
	s.pushFront(e)
}

func (s *LRU) remove(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		s.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		s.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (s *LRU) evict() {
	if s.tail == nil {
		return
	}
	e := s.tail
	s.remove(e)
	delete(s.items, e.key)
}
