package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/narratorlabs/narrator-core/internal/config"
	_ "modernc.org/sqlite"
)

// SQLiteSlot stores slot values in a single SQLite table.
type SQLiteSlot struct {
	db       *sql.DB
	capacity int64
	log      *slog.Logger
	clock    func() time.Time
}

// OpenSQLite opens (creating if needed) the slot database at cfg.Path.
func OpenSQLite(ctx context.Context, cfg config.StorageConfig, log *slog.Logger) (*SQLiteSlot, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteSlot{db: db, capacity: cfg.CapacityBytes, log: log, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSlot) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS slots (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *SQLiteSlot) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM slots WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLiteSlot) Set(ctx context.Context, key, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.capacity > 0 {
		// LENGTH on TEXT counts characters, casting to BLOB counts bytes.
		var used int64
		err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(LENGTH(CAST(key AS BLOB)) + LENGTH(CAST(value AS BLOB))), 0)
			 FROM slots WHERE key != ?`, key).Scan(&used)
		if err != nil {
			return err
		}
		if used+int64(len(key))+int64(len(value)) > s.capacity {
			err = fmt.Errorf("set %q: %w", key, ErrCapacityExceeded)
			return err
		}
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO slots(key, value, updated_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, s.clock().UTC()); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

func (s *SQLiteSlot) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM slots WHERE key = ?`, key)
	return err
}

func (s *SQLiteSlot) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM slots ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Close releases the underlying database handle.
func (s *SQLiteSlot) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
