package persistence

import (
	"context"
	"sort"
	"sync"

	"github.com/mpetrov/colloquy/pkg/api"
)

// InMemoryStore is a HistoryStore backed by a map. It is not durable across
// process restart; use it for tests and local development.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]api.EventRecord
}

var _ HistoryStore = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]api.EventRecord)}
}

func (s *InMemoryStore) Append(ctx context.Context, instanceKey string, rec api.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := s.records[instanceKey]
	if rec.Seq != uint64(len(recs))+1 {
		return ErrSequenceConflict
	}
	s.records[instanceKey] = append(recs, rec)
	return nil
}

func (s *InMemoryStore) Read(ctx context.Context, instanceKey string, fromSeq uint64) ([]api.EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []api.EventRecord
	for _, rec := range s.records[instanceKey] {
		if rec.Seq >= fromSeq {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Keys(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}
