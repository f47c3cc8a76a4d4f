package dedup

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps the set in memory. Safe for concurrent use.
type MemoryStore struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

func NewMemoryStore(names ...string) *MemoryStore {
	s := &MemoryStore{names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		s.names[n] = struct{}{}
	}
	return s
}

func (s *MemoryStore) IsProcessed(ctx context.Context, filename string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.names[filename]
	return ok, nil
}

func (s *MemoryStore) MarkProcessed(ctx context.Context, filename string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.names[filename]; ok {
		return false, nil
	}
	s.names[filename] = struct{}{}
	return true, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Forget(ctx context.Context, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.names, filename)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var (
	_ Store     = (*MemoryStore)(nil)
	_ Lister    = (*MemoryStore)(nil)
	_ Forgetter = (*MemoryStore)(nil)
)
