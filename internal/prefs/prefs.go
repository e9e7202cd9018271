// Package prefs persists user preferences and quick-input presets.
package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/narratorlabs/narrator-core/internal/storage"
)

const (
	prefsKey   = "preferences"
	presetsKey = "presets"

	// MaxPresets bounds the preset list; adding past the cap drops the
	// oldest entries.
	MaxPresets = 20
)

// Preferences is the client-facing settings object. The JSON layout is
// stable across releases.
type Preferences struct {
	Voice               string  `json:"voice"`
	GenderFilter        string  `json:"genderFilter"`
	Format              string  `json:"format"`
	Model               string  `json:"model"`
	Prompt              string  `json:"prompt"`
	MaxChunkChars       int     `json:"maxChunkChars"`
	Merge               bool    `json:"merge"`
	ValidationEnabled   bool    `json:"validationEnabled"`
	ValidationThreshold float64 `json:"validationThreshold"`
	Theme               string  `json:"theme"`
}

// Defaults returns the preferences used before anything was saved.
func Defaults() Preferences {
	return Preferences{
		Voice:               "alloy",
		GenderFilter:        "all",
		Format:              "wav",
		Model:               "gpt-4o-mini-tts",
		Prompt:              "",
		MaxChunkChars:       1000,
		Merge:               true,
		ValidationEnabled:   false,
		ValidationThreshold: 2.0,
		Theme:               "dark",
	}
}

// Store holds the current preferences and presets in memory and mirrors every
// change into the slot. Storage trouble never blocks a change: capacity
// failures downgrade to warnings and the in-memory state stays authoritative.
type Store struct {
	slot storage.Slot
	log  *slog.Logger

	mu      sync.Mutex
	current Preferences
	presets []string
}

func NewStore(slot storage.Slot, log *slog.Logger) *Store {
	return &Store{
		slot:    slot,
		log:     log.With(slog.String("component", "prefs")),
		current: Defaults(),
	}
}

// Load reads both slots. Missing or corrupt values fall back to defaults
// without failing startup.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok, err := s.slot.Get(ctx, prefsKey)
	if err != nil {
		return fmt.Errorf("read preferences slot: %w", err)
	}
	if ok {
		loaded := Defaults()
		if err := json.Unmarshal([]byte(raw), &loaded); err != nil {
			s.log.Warn("preferences slot holds invalid json, using defaults", slogError(err))
		} else {
			s.current = loaded
		}
	}

	raw, ok, err = s.slot.Get(ctx, presetsKey)
	if err != nil {
		return fmt.Errorf("read presets slot: %w", err)
	}
	if ok {
		var presets []string
		if err := json.Unmarshal([]byte(raw), &presets); err != nil {
			s.log.Warn("presets slot holds invalid json, starting empty", slogError(err))
		} else {
			if len(presets) > MaxPresets {
				presets = presets[:MaxPresets]
			}
			s.presets = presets
		}
	}
	return nil
}

// Preferences returns the current settings.
func (s *Store) Preferences() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SavePreferences replaces the settings and persists them.
func (s *Store) SavePreferences(ctx context.Context, p Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = p
	return s.persistLocked(ctx, prefsKey, p)
}

// Presets returns a copy of the preset list, most recent first.
func (s *Store) Presets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.presets...)
}

// AddPreset prepends text to the preset list. An exact duplicate moves to the
// front instead of appearing twice, and the list is truncated to MaxPresets.
func (s *Store) AddPreset(ctx context.Context, text string) ([]string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return s.Presets(), errors.New("preset text is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]string, 0, len(s.presets)+1)
	next = append(next, trimmed)
	for _, p := range s.presets {
		if p == trimmed {
			continue
		}
		next = append(next, p)
	}
	if len(next) > MaxPresets {
		next = next[:MaxPresets]
	}
	s.presets = next
	if err := s.persistLocked(ctx, presetsKey, next); err != nil {
		return append([]string(nil), next...), err
	}
	return append([]string(nil), next...), nil
}

// RemovePreset deletes the preset at index. Out-of-range indexes are a no-op.
func (s *Store) RemovePreset(ctx context.Context, index int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= len(s.presets) {
		return append([]string(nil), s.presets...), nil
	}
	next := make([]string, 0, len(s.presets)-1)
	next = append(next, s.presets[:index]...)
	next = append(next, s.presets[index+1:]...)
	s.presets = next
	if err := s.persistLocked(ctx, presetsKey, next); err != nil {
		return append([]string(nil), next...), err
	}
	return append([]string(nil), next...), nil
}

// persistLocked writes one slot value. A full slot is reported as a warning
// so settings keep working from memory.
func (s *Store) persistLocked(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	err = s.slot.Set(ctx, key, string(data))
	if errors.Is(err, storage.ErrCapacityExceeded) {
		s.log.Warn("slot full, keeping value in memory only", slog.String("key", key), slogError(err))
		return nil
	}
	if err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
