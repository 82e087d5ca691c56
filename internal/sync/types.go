// Package sync orchestrates pulling CRM records into the internal store and pushing local edits back.
package sync

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/peteski22/crmsync/internal/identity"
	"github.com/peteski22/crmsync/internal/salesforce"
	"github.com/peteski22/crmsync/internal/storage"
)

var (
	// ErrInvalidMode is returned for unknown mode names.
	ErrInvalidMode = errors.New("invalid sync mode")

	// ErrUnknownEntity is returned for entity names with no registered entity.
	ErrUnknownEntity = errors.New("unknown entity")
)

// Mode selects which passes a sync runs.
type Mode string

const (
	// ModeBidirectional runs a pull pass then a push pass.
	ModeBidirectional Mode = "bidirectional"

	// ModePull copies external records into the store.
	ModePull Mode = "pull"

	// ModePush writes local edits back to the external system.
	ModePush Mode = "push"
)

// ParseMode parses a mode name. An empty name is pull.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModePull, nil
	case ModeBidirectional, ModePull, ModePush:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w %q (want pull, push or bidirectional)", ErrInvalidMode, s)
	}
}

// State is a step of a sync pass.
type State string

const (
	StateAdvancingWatermark State = "ADVANCING_WATERMARK"
	StateBuildingMaps       State = "BUILDING_MAPS"
	StateDone               State = "DONE"
	StateFailed             State = "FAILED"
	StateIdle               State = "IDLE"
	StateLinking            State = "LINKING"
	StateQuerying           State = "QUERYING"
	StateTransforming       State = "TRANSFORMING"
	StateUpserting          State = "UPSERTING"
)

// Options configures a single sync invocation.
type Options struct {
	// BatchSize is the number of rows per upsert transaction. Default is 200.
	BatchSize int

	// ChainPasses stops a bidirectional sync after a failed pull pass.
	ChainPasses bool

	// DryRun runs every step through transformation without writing anything.
	DryRun bool

	// Force ignores the stored watermark and runs a full sync.
	Force bool

	// Limit caps the number of records fetched per pass. Zero means no limit. A pass cut short
	// by the limit advances its watermark only past the records it handled.
	Limit int

	// Mode selects the passes to run. Default is pull.
	Mode Mode

	// Since overrides the stored watermark.
	Since *time.Time
}

// PassResult is the outcome of one direction of a sync.
type PassResult struct {
	// Direction is the pass direction.
	Direction storage.Direction

	// Err is the fatal error that failed the pass, if any.
	Err error

	// Errors are the per-record failures.
	Errors []storage.RecordError

	// Fetched is the number of records read from the source.
	Fetched int

	// Inserted is the number of new rows.
	Inserted int

	// LinkDuplicates is the number of link references dropped as duplicates.
	LinkDuplicates int

	// Links is the number of link rows written.
	Links int

	// LinksUnresolved is the number of links whose target is not synced yet.
	LinksUnresolved int

	// Pushed is the number of records written to the external system.
	Pushed int

	// Since is the lower bound used for the query. Nil means a full sync.
	Since *time.Time

	// StartedAt is the pass start time.
	StartedAt time.Time

	// State is the last state reached.
	State State

	// Unchanged is the number of rows that were already up to date.
	Unchanged int

	// Updated is the number of changed rows.
	Updated int

	// Watermark is the value the watermark was advanced to. Zero when it was not advanced.
	Watermark time.Time
}

// Succeeded returns the number of records the pass handled without error.
func (p *PassResult) Succeeded() int {
	return p.Inserted + p.Updated + p.Unchanged + p.Pushed
}

// Result is the summary of a sync invocation.
type Result struct {
	// DryRun indicates nothing was written.
	DryRun bool

	// Entity is the synced entity type.
	Entity identity.EntityType

	// ErrorCount is the total number of per-record errors.
	ErrorCount int

	// Errors is a truncated sample of the per-record errors.
	Errors []storage.RecordError

	// Mode is the mode that ran.
	Mode Mode

	// Passes are the pass results, in the order they ran.
	Passes []*PassResult

	// Sample holds some transformed rows from a dry run.
	Sample []storage.Row

	// SyncedCount is the number of records handled without error.
	SyncedCount int
}

// SalesforceClient defines the external API operations required by the sync service.
type SalesforceClient interface {
	// Query runs a query and yields its records.
	Query(ctx context.Context, req salesforce.QueryRequest) iter.Seq2[salesforce.Record, error]

	// QueryIn runs a query once per chunk of values matched against field.
	QueryIn(
		ctx context.Context,
		req salesforce.QueryRequest,
		field string,
		values []string,
	) iter.Seq2[salesforce.Record, error]

	// Update patches fields on an existing record.
	Update(ctx context.Context, object string, id string, fields map[string]any) error
}

// Store defines the target store operations required by the sync service.
type Store interface {
	// LoadIdentities returns the identifier pairs of a table.
	LoadIdentities(ctx context.Context, table string) ([]identity.Pair, error)

	// LocalChanges returns rows edited locally after since.
	LocalChanges(ctx context.Context, table string, columns []string, since time.Time) ([]storage.LocalRecord, error)

	// MarkSynced records that rows were written to the external system at t.
	MarkSynced(ctx context.Context, table string, externalIDs []string, t time.Time) error

	// Upsert inserts or updates rows by external id.
	Upsert(ctx context.Context, table string, rows []storage.Row, opts storage.UpsertOptions) (*storage.UpsertResult, error)
}

// WatermarkStore persists the last successful sync time per entity and direction.
type WatermarkStore interface {
	// Watermark returns the stored time, and false if there is none.
	Watermark(ctx context.Context, entity string, dir storage.Direction) (time.Time, bool, error)

	// SetWatermark stores the time.
	SetWatermark(ctx context.Context, entity string, dir storage.Direction, t time.Time) error
}
