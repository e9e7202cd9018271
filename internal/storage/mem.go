package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemSlot is an in-process slot store for ephemeral runs and tests.
type MemSlot struct {
	capacity int64
	mu       sync.Mutex
	values   map[string]string
}

func NewMemSlot(capacity int64) *MemSlot {
	return &MemSlot{capacity: capacity, values: make(map[string]string)}
}

func (s *MemSlot) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	return value, ok, nil
}

func (s *MemSlot) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacity > 0 {
		var used int64
		for k, v := range s.values {
			if k == key {
				continue
			}
			used += int64(len(k)) + int64(len(v))
		}
		if used+int64(len(key))+int64(len(value)) > s.capacity {
			return fmt.Errorf("set %q: %w", key, ErrCapacityExceeded)
		}
	}
	s.values[key] = value
	return nil
}

func (s *MemSlot) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *MemSlot) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemSlot) Close() error {
	return nil
}
