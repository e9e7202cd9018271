// Package storage provides the durable key-value slots that back history,
// preferences and presets.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/narratorlabs/narrator-core/internal/config"
)

// ErrCapacityExceeded reports a write that would push a slot past its byte
// budget. Callers distinguish it from other failures with errors.Is.
var ErrCapacityExceeded = errors.New("storage capacity exceeded")

// Slot is a capacity-bounded string store addressed by fixed keys. The byte
// budget covers key and value bytes across all entries; implementations with
// a non-positive capacity do not enforce one.
type Slot interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Open initializes the slot store selected by config.
func Open(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (Slot, error) {
	switch cfg.Driver {
	case "sqlite":
		return OpenSQLite(ctx, cfg, log)
	case "file":
		return NewFileSlot(cfg.Path, cfg.CapacityBytes)
	case "memory":
		return NewMemSlot(cfg.CapacityBytes), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
