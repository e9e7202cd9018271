// Package history persists finished synthesis results to a bounded slot and
// mirrors them as playable files on disk.
package history

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/narratorlabs/narrator-core/internal/storage"
	"github.com/narratorlabs/narrator-core/internal/wav"
)

// slotKey is the fixed durable key holding the serialized collection.
const slotKey = "history"

// Record is one persisted synthesis result. The serialized layout is stable:
// records written by earlier builds must keep loading.
type Record struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	CreatedAt   time.Time `json:"createdAt"`
	Prompt      string    `json:"prompt,omitempty"`
	Text        string    `json:"text,omitempty"`
	Format      string    `json:"format"`
	VoiceID     string    `json:"voiceId,omitempty"`
	VoiceLabel  string    `json:"voiceLabel,omitempty"`
	AudioBase64 string    `json:"audioBase64"`
}

func (r Record) format() string {
	if r.Format == "" {
		return "wav"
	}
	return r.Format
}

// Store keeps the history collection in memory, mirrored whole into one slot
// value on every change. A playable file exists under the media dir for
// exactly the records currently in the collection.
type Store struct {
	slot     storage.Slot
	mediaDir string
	log      *slog.Logger

	mu      sync.Mutex
	records []Record          // oldest first, matching the persisted order
	handles map[string]string // record id -> playable file path
}

// NewStore creates the media directory if needed. Call Load before use.
func NewStore(slot storage.Slot, mediaDir string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Store{
		slot:     slot,
		mediaDir: mediaDir,
		log:      log.With(slog.String("component", "history")),
		handles:  make(map[string]string),
	}, nil
}

// Load replaces the in-memory collection with the persisted one. Records that
// no longer decode are dropped silently so one corrupt entry cannot take the
// rest of the collection down. A corrupt collection value starts empty.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.releaseAllLocked()

	raw, ok, err := s.slot.Get(ctx, slotKey)
	if err != nil {
		return fmt.Errorf("read history slot: %w", err)
	}
	if !ok || strings.TrimSpace(raw) == "" {
		s.records = nil
		s.sweepLocked()
		return nil
	}

	var stored []Record
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		s.log.Warn("history slot holds invalid json, starting empty", slogError(err))
		s.records = nil
		s.sweepLocked()
		return nil
	}

	kept := make([]Record, 0, len(stored))
	for _, rec := range stored {
		audio, err := decode(rec)
		if err != nil {
			s.log.Debug("dropping invalid history record", slog.String("id", rec.ID), slogError(err))
			continue
		}
		if err := s.writeHandleLocked(rec, audio); err != nil {
			s.log.Warn("cannot materialize history audio", slog.String("id", rec.ID), slogError(err))
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	s.sweepLocked()
	s.log.Info("history loaded", slog.Int("records", len(kept)), slog.Int("dropped", len(stored)-len(kept)))
	return nil
}

// Append validates the record, adds it to the collection and persists the
// whole collection. When the slot is too small the oldest records are evicted
// one at a time; if even an empty collection cannot be written the record is
// kept in memory only and the failure is downgraded to a warning.
func (s *Store) Append(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	audio, err := decode(rec)
	if err != nil {
		return fmt.Errorf("invalid history record: %w", err)
	}
	if err := s.writeHandleLocked(rec, audio); err != nil {
		return fmt.Errorf("write playable handle: %w", err)
	}

	next := make([]Record, 0, len(s.records)+1)
	next = append(next, s.records...)
	next = append(next, rec)

	kept, perr := s.persistLocked(ctx, next)
	switch {
	case perr == nil:
		s.records = kept
	case errors.Is(perr, storage.ErrCapacityExceeded):
		s.log.Warn("history slot cannot hold even an empty collection, keeping newest record in memory only", slogError(perr))
		if werr := s.rewriteHandleLocked(rec, audio); werr != nil {
			return fmt.Errorf("write playable handle: %w", werr)
		}
		s.records = []Record{rec}
	default:
		s.releaseHandleLocked(rec.ID)
		return fmt.Errorf("persist history: %w", perr)
	}
	return nil
}

// Remove deletes one record by id and persists the remainder. Unknown ids are
// a no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, rec := range s.records {
		if rec.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	next := make([]Record, 0, len(s.records)-1)
	next = append(next, s.records[:idx]...)
	next = append(next, s.records[idx+1:]...)

	kept, perr := s.persistLocked(ctx, next)
	if perr != nil && !errors.Is(perr, storage.ErrCapacityExceeded) {
		return fmt.Errorf("persist history: %w", perr)
	}
	if perr != nil {
		s.log.Warn("history persist degraded during remove", slogError(perr))
	}
	s.releaseHandleLocked(id)
	s.records = kept
	return nil
}

// Clear empties the durable slot and the in-memory collection.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.slot.Delete(ctx, slotKey); err != nil {
		return fmt.Errorf("clear history slot: %w", err)
	}
	s.releaseAllLocked()
	s.records = nil
	return nil
}

// Records returns a newest-first copy of the collection.
func (s *Store) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		out = append(out, s.records[i])
	}
	return out
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ID == id {
			return rec, true
		}
	}
	return Record{}, false
}

// HandlePath returns the playable file path for a record currently in the
// collection.
func (s *Store) HandlePath(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path, ok := s.handles[id]
	return path, ok
}

// Count returns the number of records currently held.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// persistLocked serializes records into the slot, evicting from the front
// until the value fits. It returns the records that remain; on error the
// caller decides what to keep. Evicted records lose their playable handles
// only once the eviction sticks (the write lands, or capacity is exhausted);
// an unrelated write error leaves every handle in place so the caller can
// keep its current collection intact.
func (s *Store) persistLocked(ctx context.Context, records []Record) ([]Record, error) {
	var evicted []Record
	for {
		data, err := json.Marshal(records)
		if err != nil {
			return records, fmt.Errorf("encode history: %w", err)
		}
		err = s.slot.Set(ctx, slotKey, string(data))
		if err == nil {
			s.dropEvictedLocked(evicted)
			return records, nil
		}
		if !errors.Is(err, storage.ErrCapacityExceeded) {
			return records, err
		}
		if len(records) == 0 {
			s.dropEvictedLocked(evicted)
			return records, err
		}
		evicted = append(evicted, records[0])
		records = records[1:]
	}
}

func (s *Store) dropEvictedLocked(evicted []Record) {
	for _, rec := range evicted {
		s.releaseHandleLocked(rec.ID)
		s.log.Info("evicted oldest history record to fit capacity", slog.String("id", rec.ID))
	}
}

func (s *Store) writeHandleLocked(rec Record, audio []byte) error {
	path := filepath.Join(s.mediaDir, rec.ID+"."+rec.format())
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return err
	}
	s.handles[rec.ID] = path
	return nil
}

// rewriteHandleLocked restores a handle that an eviction pass released.
func (s *Store) rewriteHandleLocked(rec Record, audio []byte) error {
	if _, ok := s.handles[rec.ID]; ok {
		return nil
	}
	return s.writeHandleLocked(rec, audio)
}

func (s *Store) releaseHandleLocked(id string) {
	path, ok := s.handles[id]
	if !ok {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.log.Warn("cannot remove playable handle", slog.String("id", id), slogError(err))
	}
	delete(s.handles, id)
}

func (s *Store) releaseAllLocked() {
	for id := range s.handles {
		s.releaseHandleLocked(id)
	}
}

// sweepLocked removes audio files left behind by earlier runs that no longer
// belong to any record.
func (s *Store) sweepLocked() {
	entries, err := os.ReadDir(s.mediaDir)
	if err != nil {
		return
	}
	known := make(map[string]bool, len(s.handles))
	for _, path := range s.handles {
		known[filepath.Base(path)] = true
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || known[name] {
			continue
		}
		ext := filepath.Ext(name)
		if ext != ".wav" && ext != ".mp3" {
			continue
		}
		os.Remove(filepath.Join(s.mediaDir, name))
	}
}

// decode checks a record well enough to trust it: a usable id and an audio
// payload that matches its declared format.
func decode(rec Record) ([]byte, error) {
	if strings.TrimSpace(rec.ID) == "" {
		return nil, errors.New("record has no id")
	}
	audio, err := base64.StdEncoding.DecodeString(rec.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, errors.New("record has no audio")
	}
	if rec.format() == "wav" {
		if _, _, err := wav.ExtractPCM(audio); err != nil {
			return nil, err
		}
	}
	return audio, nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
