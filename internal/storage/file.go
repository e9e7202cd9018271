package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const slotExt = ".slot"

// FileSlot stores each slot value as one file under a directory. Writes go
// through a temp file plus rename so readers never observe partial values.
type FileSlot struct {
	dir      string
	capacity int64
	mu       sync.Mutex
}

// NewFileSlot creates the slot directory if needed.
func NewFileSlot(dir string, capacity int64) (*FileSlot, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create slot dir: %w", err)
	}
	return &FileSlot{dir: dir, capacity: capacity}, nil
}

func (s *FileSlot) path(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+slotExt)
}

// usageLocked sums key and value bytes of all entries except the named one.
func (s *FileSlot) usageLocked(exclude string) (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	var used int64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, slotExt) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, slotExt))
		if err != nil || key == exclude {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		used += info.Size() + int64(len(key))
	}
	return used, nil
}

func (s *FileSlot) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read slot: %w", err)
	}
	return string(data), true, nil
}

func (s *FileSlot) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacity > 0 {
		used, err := s.usageLocked(key)
		if err != nil {
			return err
		}
		if used+int64(len(key))+int64(len(value)) > s.capacity {
			return fmt.Errorf("set %q: %w", key, ErrCapacityExceeded)
		}
	}
	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o644); err != nil {
		return fmt.Errorf("write slot: %w", err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace slot: %w", err)
	}
	return nil
}

func (s *FileSlot) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete slot: %w", err)
	}
	return nil
}

func (s *FileSlot) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, slotExt) {
			continue
		}
		key, err := url.PathUnescape(strings.TrimSuffix(name, slotExt))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileSlot) Close() error {
	return nil
}
