package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Common column names present on every synced table.
const (
	ColumnCreatedAt       = "created_at"
	ColumnExternalID      = "external_id"
	ColumnID              = "id"
	ColumnSyncFingerprint = "sync_fingerprint"
	ColumnSyncedAt        = "synced_at"
	ColumnUpdatedAt       = "updated_at"
)

// ErrEmptyExternalID is returned for rows that cannot be reconciled because they have no external id.
var ErrEmptyExternalID = errors.New("external id is required")

// Row is an internal record ready to be upserted.
type Row struct {
	// CreatedAt is the record creation time.
	CreatedAt time.Time

	// ExternalID is the reconciliation key.
	ExternalID string

	// Fields maps column names to values. Nil values are stored as NULL.
	Fields map[string]any

	// UpdatedAt is the record modification time.
	UpdatedAt time.Time
}

// Fingerprint returns a stable digest of the row's values, used to skip no-op updates.
func (r Row) Fingerprint() string {
	h := sha256.New()

	for _, k := range slices.Sorted(maps.Keys(r.Fields)) {
		_, _ = fmt.Fprintf(h, "%s=%s\n", k, canonical(r.Fields[k]))
	}
	_, _ = fmt.Fprintf(h, "%s=%s\n", ColumnUpdatedAt, canonical(r.UpdatedAt))

	return hex.EncodeToString(h.Sum(nil))
}

// Stage names the step of a sync that a RecordError came from.
type Stage string

const (
	// StageLink errors index the reconstructed link rows.
	StageLink Stage = "link"

	// StagePush errors index the local changes read for pushing.
	StagePush Stage = "push"

	// StageTransform errors index the fetched records, across all queries of a pass.
	StageTransform Stage = "transform"

	// StageUpsert errors index the transformed rows, after duplicates are merged.
	StageUpsert Stage = "upsert"
)

// RecordError is a failure scoped to a single record.
type RecordError struct {
	// Err is the underlying error.
	Err error

	// ExternalID identifies the failed record, when known.
	ExternalID string

	// Index is the record's position in the input of Stage.
	Index int

	// Stage is the step that failed.
	Stage Stage
}

// Error implements the error interface.
func (e RecordError) Error() string {
	prefix := "record"
	if e.Stage != "" {
		prefix = string(e.Stage) + " record"
	}
	if e.ExternalID == "" {
		return fmt.Sprintf("%s %d: %v", prefix, e.Index, e.Err)
	}
	return fmt.Sprintf("%s %d (%s): %v", prefix, e.Index, e.ExternalID, e.Err)
}

// Unwrap returns the underlying error.
func (e RecordError) Unwrap() error {
	return e.Err
}

// canonical renders a value for fingerprinting.
func canonical(v any) string {
	switch val := value(v).(type) {
	case nil:
		return "<null>"
	case string:
		return strconv.Quote(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// value dereferences pointers and widens integers so drivers and fingerprints see plain values.
func value(v any) any {
	switch val := v.(type) {
	case *string:
		if val == nil {
			return nil
		}
		return *val
	case *float64:
		if val == nil {
			return nil
		}
		return *val
	case *int64:
		if val == nil {
			return nil
		}
		return *val
	case *bool:
		if val == nil {
			return nil
		}
		return *val
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC()
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	case time.Time:
		return val.UTC()
	case []byte:
		return string(val)
	default:
		return v
	}
}

// validColumn reports whether name is a plain lower-case column identifier.
func validColumn(name string) bool {
	if name == "" {
		return false
	}
	return strings.IndexFunc(name, func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_'
	}) < 0
}
