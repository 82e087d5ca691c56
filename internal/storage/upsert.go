package storage

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultBatchSize is the number of rows written per transaction.
const DefaultBatchSize = 200

// UpsertOptions configures a single Upsert call.
type UpsertOptions struct {
	// BatchSize is the number of rows per transaction. Default is 200.
	BatchSize int

	// SyncedAt is recorded as the write time on every row. Default is the current time.
	SyncedAt time.Time
}

// UpsertResult summarises an Upsert call.
type UpsertResult struct {
	// Errors holds the rows that failed, in input order.
	Errors []RecordError

	// Inserted is the number of new rows.
	Inserted int

	// Unchanged is the number of existing rows whose values already matched.
	Unchanged int

	// Updated is the number of existing rows that changed.
	Updated int
}

// Succeeded returns the number of rows that were written or already up to date.
func (r *UpsertResult) Succeeded() int {
	return r.Inserted + r.Updated + r.Unchanged
}

// Upsert inserts or updates rows in table, matching on external id.
//
// Rows are written in batches, one transaction per batch, with a savepoint around each row so a
// failing row is rolled back and reported without affecting the rest of its batch. Existing rows
// whose fingerprint is unchanged are not rewritten. Cancellation is observed between batches.
// A returned error means a batch could not be started or committed; the result still reports
// every batch committed before it.
func (s *Store) Upsert(ctx context.Context, table string, rows []Row, opts UpsertOptions) (*UpsertResult, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	syncedAt := opts.SyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}
	syncedAt = syncedAt.UTC()

	result := &UpsertResult{}

	for start := 0; start < len(rows); start += batchSize {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("upserting %s: %w", table, err)
		}

		// A started batch runs to completion even if ctx is cancelled meanwhile.
		end := min(start+batchSize, len(rows))
		if err := s.upsertBatch(context.WithoutCancel(ctx), table, rows[start:end], start, syncedAt, result); err != nil {
			return result, fmt.Errorf("upserting %s batch at %d: %w", table, start, err)
		}

		s.logger.Debug("Upserted batch",
			"table", table,
			"offset", start,
			"size", end-start,
			"inserted", result.Inserted,
			"updated", result.Updated,
			"unchanged", result.Unchanged,
		)
	}

	return result, nil
}

// upsertBatch writes one batch in a single transaction.
// offset is the position of the first row in the caller's input.
func (s *Store) upsertBatch(
	ctx context.Context,
	table string,
	batch []Row,
	offset int,
	syncedAt time.Time,
	result *UpsertResult,
) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	existing, err := s.existingExternalIDs(ctx, tx, table, batch)
	if err != nil {
		return err
	}

	var batchResult UpsertResult

	for i, row := range batch {
		index := offset + i

		if row.ExternalID == "" {
			batchResult.Errors = append(batchResult.Errors, RecordError{Err: ErrEmptyExternalID, Index: index, Stage: StageUpsert})
			continue
		}

		savepoint := quote(fmt.Sprintf("row_%d", i))
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return fmt.Errorf("creating savepoint: %w", err)
		}

		changed, rowErr := s.upsertRow(ctx, tx, table, row, syncedAt)
		if rowErr != nil {
			if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); err != nil {
				return fmt.Errorf("rolling back savepoint: %w", err)
			}
			batchResult.Errors = append(batchResult.Errors, RecordError{
				Err:        rowErr,
				ExternalID: row.ExternalID,
				Index:      index,
				Stage:      StageUpsert,
			})
		} else {
			switch _, seen := existing[row.ExternalID]; {
			case !seen:
				batchResult.Inserted++
				existing[row.ExternalID] = struct{}{}
			case changed:
				batchResult.Updated++
			default:
				batchResult.Unchanged++
			}
		}

		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
			return fmt.Errorf("releasing savepoint: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	result.Inserted += batchResult.Inserted
	result.Updated += batchResult.Updated
	result.Unchanged += batchResult.Unchanged
	result.Errors = append(result.Errors, batchResult.Errors...)

	return nil
}

// upsertRow writes a single row and reports whether the store was modified.
func (s *Store) upsertRow(ctx context.Context, tx *sql.Tx, table string, row Row, syncedAt time.Time) (bool, error) {
	columns := slices.Sorted(maps.Keys(row.Fields))
	for _, c := range columns {
		if !validColumn(c) || isManagedColumn(c) {
			return false, fmt.Errorf("invalid column %q", c)
		}
	}

	createdAt, updatedAt := row.CreatedAt, row.UpdatedAt
	if createdAt.IsZero() {
		createdAt = syncedAt
	}
	if updatedAt.IsZero() {
		updatedAt = syncedAt
	}

	all := append([]string{
		ColumnID,
		ColumnExternalID,
		ColumnCreatedAt,
		ColumnUpdatedAt,
		ColumnSyncedAt,
		ColumnSyncFingerprint,
	}, columns...)

	args := make([]any, 0, len(all))
	args = append(args, uuid.NewString(), row.ExternalID, createdAt.UTC(), updatedAt.UTC(), syncedAt, row.Fingerprint())
	for _, c := range columns {
		args = append(args, value(row.Fields[c]))
	}

	// created_at and id keep their original values on update.
	updates := make([]string, 0, len(all))
	for _, c := range all[3:] {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", quote(c), quote(c)))
	}

	quoted := make([]string, len(all))
	for i, c := range all {
		quoted[i] = quote(c)
	}

	stmt := fmt.Sprintf(
		"INSERT INTO %[1]s (%[2]s) VALUES (%[3]s) ON CONFLICT (%[4]s) DO UPDATE SET %[5]s WHERE %[1]s.%[6]s %[7]s excluded.%[6]s",
		quote(table),
		strings.Join(quoted, ", "),
		s.dialect.placeholders(1, len(all)),
		quote(ColumnExternalID),
		strings.Join(updates, ", "),
		quote(ColumnSyncFingerprint),
		s.dialect.distinct,
	)

	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("writing row: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}

	return n > 0, nil
}

// existingExternalIDs returns which of the batch's external ids are already stored.
func (s *Store) existingExternalIDs(ctx context.Context, tx *sql.Tx, table string, batch []Row) (map[string]struct{}, error) {
	ids := make([]any, 0, len(batch))
	for _, r := range batch {
		if r.ExternalID != "" {
			ids = append(ids, r.ExternalID)
		}
	}

	existing := make(map[string]struct{}, len(ids))
	if len(ids) == 0 {
		return existing, nil
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
		quote(ColumnExternalID), quote(table), quote(ColumnExternalID), s.dialect.placeholders(1, len(ids)))

	rows, err := tx.QueryContext(ctx, query, ids...)
	if err != nil {
		return nil, fmt.Errorf("querying existing rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning existing row: %w", err)
		}
		existing[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading existing rows: %w", err)
	}

	return existing, nil
}

// isManagedColumn reports whether the column is written by the upsert engine itself.
func isManagedColumn(c string) bool {
	switch c {
	case ColumnCreatedAt, ColumnExternalID, ColumnID, ColumnSyncFingerprint, ColumnSyncedAt, ColumnUpdatedAt:
		return true
	default:
		return false
	}
}
