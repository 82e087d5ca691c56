package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Direction is the direction of a sync pass.
type Direction string

const (
	// Pull copies external records into the internal store.
	Pull Direction = "pull"

	// Push copies local edits to the external system.
	Push Direction = "push"
)

// Watermark is the stored end of the last successful pass for an entity and direction.
type Watermark struct {
	Direction  Direction
	Entity     string
	LastSyncAt time.Time
}

// SQLWatermarkStore keeps watermarks in the target store's sync_watermarks table.
type SQLWatermarkStore struct {
	store *Store
}

// NewSQLWatermarkStore creates a watermark store backed by the target store.
func NewSQLWatermarkStore(store *Store) (*SQLWatermarkStore, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	return &SQLWatermarkStore{store: store}, nil
}

// Watermark returns the stored watermark. The boolean is false when none exists.
func (w *SQLWatermarkStore) Watermark(ctx context.Context, entity string, dir Direction) (time.Time, bool, error) {
	d := w.store.dialect
	query := fmt.Sprintf("SELECT last_sync_at FROM %s WHERE entity_type = %s AND direction = %s",
		quote(tableWatermarks), d.placeholder(1), d.placeholder(2))

	var t time.Time
	err := w.store.db.QueryRowContext(ctx, query, entity, string(dir)).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading %s %s watermark: %w", entity, dir, err)
	}

	return t.UTC(), true, nil
}

// SetWatermark stores the watermark, replacing any previous value.
func (w *SQLWatermarkStore) SetWatermark(ctx context.Context, entity string, dir Direction, t time.Time) error {
	d := w.store.dialect
	stmt := fmt.Sprintf(
		"INSERT INTO %s (entity_type, direction, last_sync_at) VALUES (%s) "+
			"ON CONFLICT (entity_type, direction) DO UPDATE SET last_sync_at = excluded.last_sync_at",
		quote(tableWatermarks), d.placeholders(1, 3))

	if _, err := w.store.db.ExecContext(ctx, stmt, entity, string(dir), t.UTC()); err != nil {
		return fmt.Errorf("writing %s %s watermark: %w", entity, dir, err)
	}

	return nil
}

// Watermarks lists every stored watermark.
func (w *SQLWatermarkStore) Watermarks(ctx context.Context) ([]Watermark, error) {
	query := fmt.Sprintf("SELECT entity_type, direction, last_sync_at FROM %s ORDER BY entity_type, direction",
		quote(tableWatermarks))

	rows, err := w.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying watermarks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Watermark
	for rows.Next() {
		var (
			wm  Watermark
			dir string
		)
		if err := rows.Scan(&wm.Entity, &dir, &wm.LastSyncAt); err != nil {
			return nil, fmt.Errorf("scanning watermark: %w", err)
		}
		wm.Direction = Direction(dir)
		wm.LastSyncAt = wm.LastSyncAt.UTC()
		out = append(out, wm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading watermarks: %w", err)
	}

	return out, nil
}

// NoopWatermarkStore never persists watermarks. Used for dry runs.
type NoopWatermarkStore struct {
	since time.Time
}

// NewNoopWatermarkStore creates a NoopWatermarkStore that reports since for every pair.
// A zero since reports no watermark.
func NewNoopWatermarkStore(since time.Time) *NoopWatermarkStore {
	return &NoopWatermarkStore{since: since}
}

// Watermark returns the configured time.
func (s *NoopWatermarkStore) Watermark(_ context.Context, _ string, _ Direction) (time.Time, bool, error) {
	return s.since, !s.since.IsZero(), nil
}

// SetWatermark does nothing.
func (s *NoopWatermarkStore) SetWatermark(_ context.Context, _ string, _ Direction, _ time.Time) error {
	return nil
}
