package cache

import (
	"context"
	"sync"
)

type memoryEntry struct {
	record Record
	seq    uint64
}

// MemoryStore keeps records in process memory. It is safe for concurrent use.
type MemoryStore struct {
	MaxEntries int
	entries    map[string]memoryEntry
	seq        uint64
	lock       sync.RWMutex
}

// NewMemoryStore returns a MemoryStore that holds records for up to maxEntries users, evicting the
// least recently saved record when full.
//
// Set maxEntries to zero for an unbounded store.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		MaxEntries: maxEntries,
		entries:    make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Load(_ context.Context, key string) (Record, bool, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	entry, ok := s.entries[key]
	return entry.record, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, r Record) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.seq++
	s.entries[key] = memoryEntry{record: r, seq: s.seq}
	if s.MaxEntries > 0 && len(s.entries) > s.MaxEntries {
		oldestKey := key
		oldestSeq := s.seq
		for k, entry := range s.entries {
			if entry.seq < oldestSeq {
				oldestKey = k
				oldestSeq = entry.seq
			}
		}
		delete(s.entries, oldestKey)
	}
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.entries, key)
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.entries)
}
