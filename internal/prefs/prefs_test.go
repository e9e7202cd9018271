package prefs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/narratorlabs/narrator-core/internal/storage"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestLoadDefaults(t *testing.T) {
	st := NewStore(storage.NewMemSlot(0), newLogger())
	if err := st.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	p := st.Preferences()
	if p.Voice != "alloy" || p.Format != "wav" || !p.Merge || p.MaxChunkChars != 1000 {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	if got := st.Presets(); len(got) != 0 {
		t.Fatalf("expected no presets, got %v", got)
	}
}

func TestSaveAndReload(t *testing.T) {
	ctx := context.Background()
	slot := storage.NewMemSlot(0)

	st := NewStore(slot, newLogger())
	p := Defaults()
	p.Voice = "onyx"
	p.Merge = false
	p.Theme = "light"
	if err := st.SavePreferences(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	st2 := NewStore(slot, newLogger())
	if err := st2.Load(ctx); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := st2.Preferences()
	if got.Voice != "onyx" || got.Merge || got.Theme != "light" {
		t.Fatalf("reloaded preferences = %+v", got)
	}
	// Untouched fields keep their defaults.
	if got.Model != "gpt-4o-mini-tts" {
		t.Fatalf("model = %q", got.Model)
	}
}

func TestLoadCorruptPreferences(t *testing.T) {
	ctx := context.Background()
	slot := storage.NewMemSlot(0)
	if err := slot.Set(ctx, "preferences", "{broken"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	st := NewStore(slot, newLogger())
	if err := st.Load(ctx); err != nil {
		t.Fatalf("load should tolerate corrupt prefs: %v", err)
	}
	if got := st.Preferences(); got != Defaults() {
		t.Fatalf("expected defaults, got %+v", got)
	}
}

func TestPresetOrderingAndDedupe(t *testing.T) {
	ctx := context.Background()
	st := NewStore(storage.NewMemSlot(0), newLogger())

	for _, text := range []string{"first", "second", "third"} {
		if _, err := st.AddPreset(ctx, text); err != nil {
			t.Fatalf("add %q: %v", text, err)
		}
	}
	got, err := st.AddPreset(ctx, "first")
	if err != nil {
		t.Fatalf("re-add: %v", err)
	}
	want := []string{"first", "third", "second"}
	if len(got) != len(want) {
		t.Fatalf("presets = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("preset %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestPresetCap(t *testing.T) {
	ctx := context.Background()
	st := NewStore(storage.NewMemSlot(0), newLogger())

	for i := 0; i < MaxPresets+5; i++ {
		if _, err := st.AddPreset(ctx, fmt.Sprintf("preset %d", i)); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	got := st.Presets()
	if len(got) != MaxPresets {
		t.Fatalf("expected %d presets, got %d", MaxPresets, len(got))
	}
	if got[0] != fmt.Sprintf("preset %d", MaxPresets+4) {
		t.Fatalf("newest preset = %q", got[0])
	}
}

func TestPresetRemove(t *testing.T) {
	ctx := context.Background()
	st := NewStore(storage.NewMemSlot(0), newLogger())

	st.AddPreset(ctx, "one")
	st.AddPreset(ctx, "two")

	got, err := st.RemovePreset(ctx, 0)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(got) != 1 || got[0] != "one" {
		t.Fatalf("presets = %v", got)
	}
	if got, _ := st.RemovePreset(ctx, 99); len(got) != 1 {
		t.Fatalf("out-of-range remove should be a no-op, got %v", got)
	}
}

func TestEmptyPresetRejected(t *testing.T) {
	st := NewStore(storage.NewMemSlot(0), newLogger())
	if _, err := st.AddPreset(context.Background(), "   "); err == nil {
		t.Fatal("expected an error for whitespace-only preset")
	}
}

func TestSaveSurvivesFullSlot(t *testing.T) {
	ctx := context.Background()
	st := NewStore(storage.NewMemSlot(3), newLogger())

	p := Defaults()
	p.Voice = "nova"
	if err := st.SavePreferences(ctx, p); err != nil {
		t.Fatalf("save against a full slot should degrade, got %v", err)
	}
	if got := st.Preferences(); got.Voice != "nova" {
		t.Fatalf("in-memory preferences lost: %+v", got)
	}
}
