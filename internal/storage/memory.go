package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps checkpoints in process memory. Used by tests and by
// deployments that only need checkpoints for the life of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]map[int64][]byte
	latest map[string]int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:   make(map[string]map[int64][]byte),
		latest: make(map[string]int64),
	}
}

func (s *MemoryStore) Put(_ context.Context, identity string, ts int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.docs[identity]
	if !ok {
		m = make(map[int64][]byte)
		s.docs[identity] = m
	}
	m[ts] = append([]byte(nil), data...)
	s.latest[identity] = ts
	return nil
}

func (s *MemoryStore) Get(_ context.Context, identity string, ts int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.docs[identity][ts]
	if !ok {
		return nil, notFound(identity, ts)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Latest(ctx context.Context, identity string) (int64, []byte, error) {
	s.mu.RLock()
	ts, ok := s.latest[identity]
	s.mu.RUnlock()
	if !ok {
		return 0, nil, notFound(identity, 0)
	}
	data, err := s.Get(ctx, identity, ts)
	return ts, data, err
}

func (s *MemoryStore) List(_ context.Context, identity string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedKeys(s.docs[identity]), nil
}

func (s *MemoryStore) Delete(_ context.Context, identity string, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs[identity], ts)
	if s.latest[identity] == ts {
		delete(s.latest, identity)
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
