package sync

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/peteski22/crmsync/internal/identity"
	"github.com/peteski22/crmsync/internal/salesforce"
	"github.com/peteski22/crmsync/internal/storage"
)

// writers bundles the collaborators a pass writes through.
type writers struct {
	client     SalesforceClient
	store      Store
	watermarks WatermarkStore
}

// dryRunClient wraps a SalesforceClient and logs updates instead of executing them.
type dryRunClient struct {
	client SalesforceClient
	logger *slog.Logger
}

// Query delegates to the real client.
func (d *dryRunClient) Query(ctx context.Context, req salesforce.QueryRequest) iter.Seq2[salesforce.Record, error] {
	return d.client.Query(ctx, req)
}

// QueryIn delegates to the real client.
func (d *dryRunClient) QueryIn(
	ctx context.Context,
	req salesforce.QueryRequest,
	field string,
	values []string,
) iter.Seq2[salesforce.Record, error] {
	return d.client.QueryIn(ctx, req, field, values)
}

// Update logs what would be updated and returns nil.
func (d *dryRunClient) Update(_ context.Context, object string, id string, fields map[string]any) error {
	d.logger.Info("[DRY-RUN] would update record",
		"object", object,
		"external_id", id,
		"fields", len(fields))

	return nil
}

// dryRunStore wraps a Store and logs writes instead of executing them.
type dryRunStore struct {
	logger *slog.Logger
	store  Store
}

// LoadIdentities delegates to the real store.
func (d *dryRunStore) LoadIdentities(ctx context.Context, table string) ([]identity.Pair, error) {
	return d.store.LoadIdentities(ctx, table)
}

// LocalChanges delegates to the real store.
func (d *dryRunStore) LocalChanges(
	ctx context.Context,
	table string,
	columns []string,
	since time.Time,
) ([]storage.LocalRecord, error) {
	return d.store.LocalChanges(ctx, table, columns, since)
}

// MarkSynced logs what would be marked and returns nil.
func (d *dryRunStore) MarkSynced(_ context.Context, table string, externalIDs []string, t time.Time) error {
	d.logger.Info("[DRY-RUN] would mark rows synced",
		"table", table,
		"count", len(externalIDs),
		"synced_at", t)

	return nil
}

// Upsert logs what would be written and reports no changes.
func (d *dryRunStore) Upsert(
	_ context.Context,
	table string,
	rows []storage.Row,
	opts storage.UpsertOptions,
) (*storage.UpsertResult, error) {
	d.logger.Info("[DRY-RUN] would upsert rows",
		"table", table,
		"count", len(rows),
		"batch_size", opts.BatchSize)

	return &storage.UpsertResult{}, nil
}

// dryRunWatermarks wraps a WatermarkStore and never advances it.
type dryRunWatermarks struct {
	logger     *slog.Logger
	watermarks WatermarkStore
}

// Watermark delegates to the real store.
func (d *dryRunWatermarks) Watermark(ctx context.Context, entity string, dir storage.Direction) (time.Time, bool, error) {
	return d.watermarks.Watermark(ctx, entity, dir)
}

// SetWatermark logs what would be stored and returns nil.
func (d *dryRunWatermarks) SetWatermark(_ context.Context, entity string, dir storage.Direction, t time.Time) error {
	d.logger.Info("[DRY-RUN] would advance watermark",
		"entity", entity,
		"direction", dir,
		"last_sync_at", t)

	return nil
}
