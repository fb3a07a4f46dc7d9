package records

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record), now: time.Now}
}

// Get returns a copy of the record with id
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return clone(r), nil
}

// Upsert applies patch to the record with id, creating it if needed
func (s *MemoryStore) Upsert(ctx context.Context, id string, patch Patch) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	r, ok := s.records[id]
	if !ok {
		r = &Record{ID: id, CreatedAt: now}
		s.records[id] = r
	}
	patch.Apply(r)
	r.UpdatedAt = now
	return clone(r), nil
}

// Len returns the number of stored records
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// clone deep-copies r so callers cannot mutate stored state.
func clone(r *Record) *Record {
	out := *r
	if r.Transcription != nil {
		buf, _ := json.Marshal(r.Transcription)
		out.Transcription = nil
		json.Unmarshal(buf, &out.Transcription)
	}
	return &out
}
