// Package memory is an in-process store.Store for development and tests.
// Data does not survive a restart.
package memory

import (
	"context"
	"sync"

	"github.com/geddydukes/portfolio/internal/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu     sync.Mutex
	hashes map[string]map[string]int64
	sets   map[string]map[string]struct{}
	lists  map[string][][]byte
}

func New() *Store {
	return &Store{
		hashes: make(map[string]map[string]int64),
		sets:   make(map[string]map[string]struct{}),
		lists:  make(map[string][][]byte),
	}
}

func (s *Store) HashIncr(_ context.Context, key, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]int64)
		s.hashes[key] = h
	}
	h[field] += delta
	return h[field], nil
}

func (s *Store) HashGetAll(_ context.Context, key string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.hashes[key]))
	for field, v := range s.hashes[key] {
		out[field] = v
	}
	return out, nil
}

func (s *Store) SetAdd(_ context.Context, key, member string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	if _, exists := set[member]; exists {
		return false, nil
	}
	set[member] = struct{}{}
	return true, nil
}

func (s *Store) SetCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sets[key])), nil
}

func (s *Store) PushBounded(_ context.Context, key string, item []byte, maxLen int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(item))
	copy(buf, item)
	list := append([][]byte{buf}, s.lists[key]...)
	if maxLen > 0 && int64(len(list)) > maxLen {
		list = list[:maxLen]
	}
	s.lists[key] = list
	return nil
}

func (s *Store) ListRange(_ context.Context, key string, n int64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	if n >= 0 && int64(len(list)) > n {
		list = list[:n]
	}
	out := make([][]byte, len(list))
	copy(out, list)
	return out, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
