package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// LocalRecord is a stored row read back for pushing to the external system.
type LocalRecord struct {
	// ExternalID is the row's external identifier.
	ExternalID string

	// Fields holds the requested column values.
	Fields map[string]any

	// ID is the internal identifier.
	ID string

	// SyncedAt is the last time the sync engine wrote the row, if ever.
	SyncedAt *time.Time

	// UpdatedAt is the last modification time.
	UpdatedAt time.Time
}

// LocallyModified reports whether the row was changed after the sync engine last wrote it.
func (r LocalRecord) LocallyModified() bool {
	return r.SyncedAt == nil || r.UpdatedAt.After(*r.SyncedAt)
}

// LocalChanges returns rows with an external id that were modified locally after since.
// Rows last written by the sync engine itself are excluded.
func (s *Store) LocalChanges(ctx context.Context, table string, columns []string, since time.Time) ([]LocalRecord, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	selected := []string{quote(ColumnID), quote(ColumnExternalID), quote(ColumnUpdatedAt), quote(ColumnSyncedAt)}
	for _, c := range columns {
		if !validColumn(c) {
			return nil, fmt.Errorf("invalid column %q", c)
		}
		selected = append(selected, quote(c))
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL ORDER BY %s",
		strings.Join(selected, ", "), quote(table), quote(ColumnExternalID), quote(ColumnUpdatedAt))

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying %s local changes: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var records []LocalRecord
	for rows.Next() {
		var (
			rec      LocalRecord
			syncedAt sql.NullTime
		)

		values := make([]any, len(columns))
		dest := []any{&rec.ID, &rec.ExternalID, &rec.UpdatedAt, &syncedAt}
		for i := range values {
			dest = append(dest, &values[i])
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", table, err)
		}

		if syncedAt.Valid {
			t := syncedAt.Time
			rec.SyncedAt = &t
		}

		// Time comparison happens here rather than in SQL because SQLite stores timestamps as text.
		if !rec.UpdatedAt.After(since) || !rec.LocallyModified() {
			continue
		}

		rec.Fields = make(map[string]any, len(columns))
		for i, c := range columns {
			rec.Fields[c] = value(values[i])
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s local changes: %w", table, err)
	}

	return records, nil
}

// MarkSynced records that the rows with the given external ids were written to the external system at t.
func (s *Store) MarkSynced(ctx context.Context, table string, externalIDs []string, t time.Time) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if len(externalIDs) == 0 {
		return nil
	}

	args := make([]any, 0, len(externalIDs)+1)
	args = append(args, t.UTC())
	for _, id := range externalIDs {
		args = append(args, id)
	}

	stmt := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IN (%s)",
		quote(table),
		quote(ColumnSyncedAt),
		s.dialect.placeholder(1),
		quote(ColumnExternalID),
		s.dialect.placeholders(2, len(externalIDs)),
	)

	if _, err := s.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("marking %s rows synced: %w", table, err)
	}

	return nil
}
