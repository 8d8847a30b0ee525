package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps containment state in a local database file, for devices
// that evaluate their own track without a Redis connection.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer; the sqlite driver serialises anyway.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS containment (
			device_id TEXT NOT NULL,
			zone TEXT NOT NULL,
			inside_since_ms BIGINT NOT NULL,
			PRIMARY KEY (device_id, zone)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create containment table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, deviceID, zone string) (*time.Time, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		"SELECT inside_since_ms FROM containment WHERE device_id = ? AND zone = ?",
		deviceID, zone,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite containment get failed: %w", err)
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}

func (s *SQLiteStore) Set(ctx context.Context, deviceID, zone string, insideSince *time.Time) error {
	var err error
	if insideSince == nil {
		_, err = s.db.ExecContext(ctx,
			"DELETE FROM containment WHERE device_id = ? AND zone = ?",
			deviceID, zone,
		)
	} else {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO containment (device_id, zone, inside_since_ms) VALUES (?, ?, ?)
			ON CONFLICT (device_id, zone) DO UPDATE SET inside_since_ms = excluded.inside_since_ms`,
			deviceID, zone, insideSince.UnixMilli(),
		)
	}
	if err != nil {
		return fmt.Errorf("sqlite containment set failed: %w", err)
	}
	return nil
}
