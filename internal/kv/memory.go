package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// DefaultMemoryMaxValue mirrors the per-entry quota of a browser local store.
const DefaultMemoryMaxValue = 5 << 20

// MemoryStore is a simple in-process store for local/dev use and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	values   map[string]string
	maxValue int
}

func NewMemoryStore(maxValue int) *MemoryStore {
	if maxValue <= 0 {
		maxValue = DefaultMemoryMaxValue
	}
	return &MemoryStore{
		values:   make(map[string]string),
		maxValue: maxValue,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	if len(value) > s.maxValue {
		return ErrValueTooLarge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.values))
	for k := range s.values {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) MaxValueSize() int { return s.maxValue }

func (s *MemoryStore) Close() error { return nil }
