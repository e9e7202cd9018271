package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/narratorlabs/narrator-core/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openSlots(t *testing.T, capacity int64) map[string]Slot {
	t.Helper()
	tmp := t.TempDir()
	ctx := context.Background()

	slots := make(map[string]Slot)
	for driver, path := range map[string]string{
		"sqlite": filepath.Join(tmp, "slots.db"),
		"file":   filepath.Join(tmp, "slots"),
		"memory": "",
	} {
		slot, err := Open(ctx, config.StorageConfig{Driver: driver, Path: path, CapacityBytes: capacity}, newLogger())
		if err != nil {
			t.Fatalf("open %s slot: %v", driver, err)
		}
		t.Cleanup(func() { slot.Close() })
		slots[driver] = slot
	}
	return slots
}

func TestSlotRoundTrip(t *testing.T) {
	ctx := context.Background()
	for driver, slot := range openSlots(t, 0) {
		t.Run(driver, func(t *testing.T) {
			if _, ok, err := slot.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("get missing = ok=%v err=%v", ok, err)
			}
			if err := slot.Set(ctx, "history", `[{"id":"a"}]`); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := slot.Set(ctx, "history", `[{"id":"b"}]`); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			value, ok, err := slot.Get(ctx, "history")
			if err != nil || !ok {
				t.Fatalf("get = ok=%v err=%v", ok, err)
			}
			if value != `[{"id":"b"}]` {
				t.Fatalf("value = %q", value)
			}

			if err := slot.Set(ctx, "preferences", `{}`); err != nil {
				t.Fatalf("set second key: %v", err)
			}
			keys, err := slot.Keys(ctx)
			if err != nil {
				t.Fatalf("keys: %v", err)
			}
			if len(keys) != 2 || keys[0] != "history" || keys[1] != "preferences" {
				t.Fatalf("keys = %v", keys)
			}

			if err := slot.Delete(ctx, "history"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, ok, _ := slot.Get(ctx, "history"); ok {
				t.Fatal("deleted key still present")
			}
			if err := slot.Delete(ctx, "history"); err != nil {
				t.Fatalf("deleting a missing key should be a no-op, got %v", err)
			}
		})
	}
}

func TestSlotCapacity(t *testing.T) {
	ctx := context.Background()
	for driver, slot := range openSlots(t, 32) {
		t.Run(driver, func(t *testing.T) {
			if err := slot.Set(ctx, "prefs", strings.Repeat("v", 27)); err != nil {
				t.Fatalf("fill to capacity: %v", err)
			}
			err := slot.Set(ctx, "other", "x")
			if !errors.Is(err, ErrCapacityExceeded) {
				t.Fatalf("expected ErrCapacityExceeded, got %v", err)
			}
			// Overwriting the existing key is judged against its replacement
			// size, not added on top of the old one.
			if err := slot.Set(ctx, "prefs", "tiny"); err != nil {
				t.Fatalf("shrink in place: %v", err)
			}
			if err := slot.Set(ctx, "other", "x"); err != nil {
				t.Fatalf("set after shrink: %v", err)
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StorageConfig{Driver: "bogus"}, newLogger())
	if err == nil {
		t.Fatal("expected an error for an unknown driver")
	}
}
