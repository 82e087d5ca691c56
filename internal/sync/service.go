package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"time"

	"github.com/peteski22/crmsync/internal/identity"
	"github.com/peteski22/crmsync/internal/links"
	"github.com/peteski22/crmsync/internal/salesforce"
	"github.com/peteski22/crmsync/internal/storage"
	"github.com/peteski22/crmsync/internal/transform"
)

const (
	// DefaultErrorSampleSize is the number of per-record errors kept in a Result.
	DefaultErrorSampleSize = 20

	// DefaultSampleSize is the number of rows kept in a dry-run Result.
	DefaultSampleSize = 10
)

// pullOrder sorts pull queries oldest change first, so a pass cut short by a limit can
// resume from the last record it read.
const pullOrder = "LastModifiedDate ASC, Id ASC"

// ErrPushUnsupported is returned when pushing an entity that has no push mapping.
var ErrPushUnsupported = errors.New("entity does not support push")

// Config holds the required configuration for creating a Service.
type Config struct {
	// Client is the external API client.
	Client SalesforceClient

	// Entities are the syncable entities in dependency order. Default is DefaultEntities().
	Entities []Entity

	// ErrorSampleSize caps the per-record errors kept in a Result. Default is 20.
	ErrorSampleSize int

	// Logger is the structured logger for the service.
	Logger *slog.Logger

	// Now returns the current time. Default is time.Now.
	Now func() time.Time

	// SampleSize caps the rows kept in a dry-run Result. Default is 10.
	SampleSize int

	// Store is the internal store.
	Store Store

	// Watermarks persists sync progress.
	Watermarks WatermarkStore
}

// validate checks that all required Config fields are set.
func (c *Config) validate() error {
	var errs []error
	if c.Client == nil {
		errs = append(errs, errors.New("salesforce client is required"))
	}
	if c.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if c.Watermarks == nil {
		errs = append(errs, errors.New("watermark store is required"))
	}
	if c.ErrorSampleSize < 0 {
		errs = append(errs, fmt.Errorf("error sample size must not be negative, got %d", c.ErrorSampleSize))
	}
	if c.SampleSize < 0 {
		errs = append(errs, fmt.Errorf("sample size must not be negative, got %d", c.SampleSize))
	}
	return errors.Join(errs...)
}

// Service orchestrates syncing entities between the external system and the internal store.
type Service struct {
	builder         *identity.Builder
	client          SalesforceClient
	errorSampleSize int
	logger          *slog.Logger
	now             func() time.Time
	registry        *registry
	sampleSize      int
	store           Store
	watermarks      WatermarkStore
}

// New creates a new sync orchestration service.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	entities := cfg.Entities
	if entities == nil {
		entities = DefaultEntities()
	}
	reg, err := newRegistry(entities)
	if err != nil {
		return nil, fmt.Errorf("invalid entities: %w", err)
	}

	builder, err := identity.NewBuilder(identity.BuilderConfig{
		Loader: cfg.Store,
		Logger: logger,
		Tables: Tables,
	})
	if err != nil {
		return nil, fmt.Errorf("creating identity builder: %w", err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	errorSampleSize := cfg.ErrorSampleSize
	if errorSampleSize == 0 {
		errorSampleSize = DefaultErrorSampleSize
	}
	sampleSize := cfg.SampleSize
	if sampleSize == 0 {
		sampleSize = DefaultSampleSize
	}

	return &Service{
		builder:         builder,
		client:          cfg.Client,
		errorSampleSize: errorSampleSize,
		logger:          logger,
		now:             now,
		registry:        reg,
		sampleSize:      sampleSize,
		store:           cfg.Store,
		watermarks:      cfg.Watermarks,
	}, nil
}

// Entities returns the registered entity names in dependency order.
func (s *Service) Entities() []identity.EntityType {
	return slices.Clone(s.registry.order)
}

// Sync runs the passes selected by opts.Mode for one entity.
//
// A pass that hits a fatal error ends in the FAILED state without advancing its watermark,
// and the error is returned alongside the Result. In bidirectional mode a failed pull pass
// does not prevent the push pass unless opts.ChainPasses is set.
func (s *Service) Sync(ctx context.Context, name identity.EntityType, opts Options) (*Result, error) {
	entity, err := s.registry.lookup(name)
	if err != nil {
		return nil, err
	}

	mode, err := ParseMode(string(opts.Mode))
	if err != nil {
		return nil, err
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("limit must not be negative, got %d", opts.Limit)
	}
	if mode == ModePush && entity.Push == nil {
		return nil, fmt.Errorf("%w: %s", ErrPushUnsupported, name)
	}

	w := s.writers(opts.DryRun)
	result := &Result{DryRun: opts.DryRun, Entity: name, Mode: mode}

	var errs []error

	if mode == ModePull || mode == ModeBidirectional {
		pass := s.runPull(ctx, w, entity, opts, result)
		result.Passes = append(result.Passes, pass)
		if pass.Err != nil {
			errs = append(errs, pass.Err)
		}
	}

	if mode == ModePush || mode == ModeBidirectional {
		switch {
		case entity.Push == nil:
			s.logger.Debug("entity is pull only, skipping push pass", "entity", name)
		case opts.ChainPasses && len(errs) > 0:
			s.logger.Warn("skipping push pass after failed pull pass", "entity", name)
		default:
			pass := s.runPush(ctx, w, entity, opts, result)
			result.Passes = append(result.Passes, pass)
			if pass.Err != nil {
				errs = append(errs, pass.Err)
			}
		}
	}

	s.summarize(result)

	return result, errors.Join(errs...)
}

// SyncAll syncs the given entities, or every registered entity when none are given, in
// dependency order. A failed entity does not stop later ones unless ctx is done.
func (s *Service) SyncAll(ctx context.Context, opts Options, names ...identity.EntityType) ([]*Result, error) {
	selected := s.registry.order
	if len(names) > 0 {
		for _, n := range names {
			if _, err := s.registry.lookup(n); err != nil {
				return nil, err
			}
		}
		selected = slices.DeleteFunc(slices.Clone(s.registry.order), func(n identity.EntityType) bool {
			return !slices.Contains(names, n)
		})
	}

	var (
		errs    []error
		results []*Result
	)

	for _, name := range selected {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		mode := opts.Mode
		entity, _ := s.registry.lookup(name)
		if mode == ModePush && entity.Push == nil {
			s.logger.Debug("entity is pull only, skipping", "entity", name)
			continue
		}

		res, err := s.Sync(ctx, name, opts)
		if res != nil {
			results = append(results, res)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	return results, errors.Join(errs...)
}

// runPull copies external records of one entity into the store.
func (s *Service) runPull(ctx context.Context, w writers, e Entity, opts Options, result *Result) *PassResult {
	p := s.newPass(e, storage.Pull)

	p.enter(StateBuildingMaps)
	maps, err := s.builder.Build(ctx, e.Dependencies...)
	if err != nil {
		return p.fail(fmt.Errorf("building identity maps: %w", err))
	}

	p.enter(StateQuerying)
	since, err := s.resolveSince(ctx, w.watermarks, e, storage.Pull, opts)
	if err != nil {
		return p.fail(err)
	}
	p.result.Since = since
	p.logger.Info("starting sync pass", "since", since, "dry_run", opts.DryRun, "limit", opts.Limit)

	var (
		batches   []transform.FamilyBatch
		remaining = opts.Limit
	)
	for _, fam := range e.Families {
		if opts.Limit > 0 && remaining <= 0 {
			p.hold(fmt.Sprintf("limit reached before querying %s", fam.Object))
			break
		}

		// One record past the limit shows whether the cut falls between two modification times.
		queryLimit := 0
		if opts.Limit > 0 {
			queryLimit = remaining + 1
		}
		records, err := salesforce.Collect(w.client.Query(ctx, salesforce.QueryRequest{
			Fields:  fam.Fields,
			Limit:   queryLimit,
			Object:  fam.Object,
			OrderBy: pullOrder,
			Since:   since,
			Where:   fam.Where,
		}))
		if err != nil {
			return p.fail(fmt.Errorf("querying %s: %w", fam.Object, err))
		}

		if opts.Limit > 0 && len(records) > remaining {
			p.limitPull(fam.Object, records[remaining-1], records[remaining])
			records = records[:remaining]
		}

		p.logger.Debug("fetched records", "object", fam.Object, "fetched", len(records))
		p.result.Fetched += len(records)
		if opts.Limit > 0 {
			remaining -= len(records)
		}
		batches = append(batches, transform.FamilyBatch{Records: records, Transform: fam.Transform})
	}

	p.enter(StateTransforming)
	unified := transform.Unify(maps, p.result.StartedAt, batches...)
	p.result.Errors = append(p.result.Errors, unified.Errors...)
	rows := unified.Rows()
	if opts.DryRun {
		result.Sample = append(result.Sample, rows[:min(len(rows), s.sampleSize-len(result.Sample))]...)
	}

	p.enter(StateUpserting)
	upserted, err := w.store.Upsert(ctx, e.Table, rows, storage.UpsertOptions{
		BatchSize: opts.BatchSize,
		SyncedAt:  p.result.StartedAt,
	})
	if upserted != nil {
		p.result.Inserted += upserted.Inserted
		p.result.Updated += upserted.Updated
		p.result.Unchanged += upserted.Unchanged
		p.result.Errors = append(p.result.Errors, upserted.Errors...)
	}
	if err != nil {
		return p.fail(err)
	}

	p.enter(StateLinking)
	if err := s.link(ctx, w, p, e, unified, maps, opts); err != nil {
		return p.fail(err)
	}

	return s.finish(ctx, w, p, opts)
}

// limitPull caps the watermark of a pull pass whose query stopped at last, with next the
// first record left unread. Remote modification times have second precision.
func (p *pass) limitPull(object string, last salesforce.Record, next salesforce.Record) {
	lastAt, ok := last.LastModifiedDate()
	if !ok {
		p.hold(fmt.Sprintf("last %s read has no %s", object, salesforce.FieldLastModifiedDate))
		return
	}
	if nextAt, ok := next.LastModifiedDate(); ok && nextAt.After(lastAt) {
		p.capWatermark(lastAt)
		return
	}
	// Records sharing the last modification time are read again by the next pass.
	p.capWatermark(lastAt.Add(-time.Second))
}

// link reconstructs and stores the document links carried by a pull pass.
func (s *Service) link(
	ctx context.Context,
	w writers,
	p *pass,
	e Entity,
	unified transform.Unified,
	maps identity.Maps,
	opts Options,
) error {
	refs := unified.LinkRefs()

	if e.ContentLinks {
		var docIDs []string
		for _, out := range unified.Outputs {
			if out.SourceType == transform.SourceContentDocument {
				docIDs = append(docIDs, out.ExternalID)
			}
		}

		if len(docIDs) > 0 {
			records, err := salesforce.Collect(w.client.QueryIn(ctx, salesforce.QueryRequest{
				Fields:  transform.ContentDocumentLinkFields,
				Object:  transform.ObjectContentDocumentLink,
				OrderBy: "Id ASC",
			}, "ContentDocumentId", docIDs))
			if err != nil {
				return fmt.Errorf("querying %s: %w", transform.ObjectContentDocumentLink, err)
			}
			for _, rec := range records {
				refs = append(refs, transform.ContentDocumentLinkRef(rec))
			}
		}
	}

	if len(refs) == 0 {
		return nil
	}

	// Documents written by this pass need internal ids before their links can point at them.
	docs, err := s.builder.Build(ctx, identity.Document)
	if err != nil {
		return fmt.Errorf("rebuilding document identities: %w", err)
	}
	maps = maps.With(identity.Document, docs[identity.Document])

	res := links.Reconstruct(refs, maps)
	p.result.LinkDuplicates = res.Duplicates
	p.result.LinksUnresolved = res.Unresolved
	if res.Duplicates > 0 {
		p.logger.Warn("dropped duplicate document links", "duplicates", res.Duplicates)
	}
	if res.Skipped > 0 {
		p.logger.Debug("skipped incomplete link references", "skipped", res.Skipped)
	}

	audit := make(map[string]storage.Row, len(unified.Outputs))
	for _, out := range unified.Outputs {
		audit[out.ExternalID] = out.Row
	}

	rows := make([]storage.Row, len(res.Links))
	for i, l := range res.Links {
		doc, ok := audit[l.DocumentExternalID]
		if !ok {
			doc = storage.Row{CreatedAt: p.result.StartedAt, UpdatedAt: p.result.StartedAt}
		}
		rows[i] = storage.Row{
			CreatedAt:  doc.CreatedAt,
			ExternalID: l.ExternalID,
			Fields:     l.Fields(),
			UpdatedAt:  doc.UpdatedAt,
		}
	}

	upserted, err := w.store.Upsert(ctx, storage.TableDocumentLinks, rows, storage.UpsertOptions{
		BatchSize: opts.BatchSize,
		SyncedAt:  p.result.StartedAt,
	})
	if upserted != nil {
		p.result.Links += upserted.Succeeded()
		for _, recErr := range upserted.Errors {
			recErr.Stage = storage.StageLink
			p.result.Errors = append(p.result.Errors, recErr)
		}
	}
	if err != nil {
		return err
	}

	return nil
}

// runPush writes locally edited rows of one entity back to the external system.
func (s *Service) runPush(ctx context.Context, w writers, e Entity, opts Options, result *Result) *PassResult {
	p := s.newPass(e, storage.Push)

	// Pushed fields carry no foreign keys, so no maps are needed.
	p.enter(StateBuildingMaps)

	p.enter(StateQuerying)
	since, err := s.resolveSince(ctx, w.watermarks, e, storage.Push, opts)
	if err != nil {
		return p.fail(err)
	}
	p.result.Since = since
	p.logger.Info("starting sync pass", "since", since, "dry_run", opts.DryRun, "limit", opts.Limit)

	var after time.Time
	if since != nil {
		after = *since
	}
	local, err := w.store.LocalChanges(ctx, e.Table, e.Push.Columns, after)
	if err != nil {
		return p.fail(err)
	}
	if opts.Limit > 0 && len(local) > opts.Limit {
		for _, rec := range local[opts.Limit:] {
			p.capWatermark(rec.UpdatedAt.Add(-time.Second))
		}
		local = local[:opts.Limit]
	}
	p.result.Fetched = len(local)

	p.enter(StateTransforming)
	updates := make([]map[string]any, len(local))
	for i, rec := range local {
		updates[i] = e.Push.Map(rec)
	}
	if opts.DryRun {
		for i := 0; i < len(local) && len(result.Sample) < s.sampleSize; i++ {
			result.Sample = append(result.Sample, storage.Row{
				ExternalID: local[i].ExternalID,
				Fields:     updates[i],
				UpdatedAt:  local[i].UpdatedAt,
			})
		}
	}

	p.enter(StateUpserting)
	pushed := make([]string, 0, len(local))
	for i, rec := range local {
		err := w.client.Update(ctx, e.Push.Object, rec.ExternalID, updates[i])
		switch {
		case err == nil:
			pushed = append(pushed, rec.ExternalID)
		case fatalPushError(ctx, err):
			p.result.Pushed = len(pushed)
			if markErr := w.store.MarkSynced(context.WithoutCancel(ctx), e.Table, pushed, p.result.StartedAt); markErr != nil {
				err = errors.Join(err, markErr)
			}
			return p.fail(err)
		default:
			// The edit stays pending and is retried by the next pass.
			p.capWatermark(rec.UpdatedAt.Add(-time.Second))
			p.result.Errors = append(p.result.Errors, storage.RecordError{
				Err:        err,
				ExternalID: rec.ExternalID,
				Index:      i,
				Stage:      storage.StagePush,
			})
		}
	}
	p.result.Pushed = len(pushed)

	// Stamped with the start time so edits made while pushing still count as local changes.
	if err := w.store.MarkSynced(ctx, e.Table, pushed, p.result.StartedAt); err != nil {
		return p.fail(err)
	}

	return s.finish(ctx, w, p, opts)
}

// fatalPushError reports whether a failed update means the external system cannot be written
// to at all, rather than that it rejected one record.
func fatalPushError(ctx context.Context, err error) bool {
	var netErr net.Error
	return ctx.Err() != nil ||
		errors.Is(err, salesforce.ErrUnauthorized) ||
		errors.Is(err, salesforce.ErrUnavailable) ||
		errors.As(err, &netErr)
}

// finish advances the watermark and completes the pass. The watermark moves to the pass start
// time unless part of the pass was left for a later run, and never to or below the bound the
// pass read from.
func (s *Service) finish(ctx context.Context, w writers, p *pass, opts Options) *PassResult {
	p.enter(StateAdvancingWatermark)
	since := p.result.Since
	switch {
	case p.holdReason != "":
		p.logger.Warn("watermark not advanced", "reason", p.holdReason)
	case since != nil && !p.advanceTo.After(*since):
		p.logger.Warn("watermark not advanced, pass made no progress", "limit", opts.Limit)
	default:
		if p.advanceTo.Before(p.result.StartedAt) {
			p.logger.Info("pass incomplete, watermark advanced partially", "watermark", p.advanceTo)
		}
		if err := w.watermarks.SetWatermark(ctx, string(p.entity), p.result.Direction, p.advanceTo); err != nil {
			return p.fail(fmt.Errorf("advancing watermark: %w", err))
		}
		if !opts.DryRun {
			p.result.Watermark = p.advanceTo
		}
	}

	p.enter(StateDone)
	p.logger.Info("sync pass completed",
		"fetched", p.result.Fetched,
		"inserted", p.result.Inserted,
		"updated", p.result.Updated,
		"unchanged", p.result.Unchanged,
		"pushed", p.result.Pushed,
		"links", p.result.Links,
		"errors", len(p.result.Errors),
		"dry_run", opts.DryRun)

	return p.result
}

// resolveSince returns the lower bound for a pass. Nil means a full sync.
func (s *Service) resolveSince(
	ctx context.Context,
	watermarks WatermarkStore,
	e Entity,
	dir storage.Direction,
	opts Options,
) (*time.Time, error) {
	if opts.Force {
		return nil, nil
	}
	if opts.Since != nil {
		t := opts.Since.UTC()
		return &t, nil
	}

	t, ok, err := watermarks.Watermark(ctx, string(e.Name), dir)
	if err != nil {
		return nil, fmt.Errorf("reading watermark: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// summarize fills the Result totals from its passes.
func (s *Service) summarize(result *Result) {
	for _, pass := range result.Passes {
		result.SyncedCount += pass.Succeeded()
		result.ErrorCount += len(pass.Errors)
		for _, e := range pass.Errors {
			if len(result.Errors) >= s.errorSampleSize {
				break
			}
			result.Errors = append(result.Errors, e)
		}
	}
}

// writers returns the collaborators to write through, wrapped for dry runs.
func (s *Service) writers(dryRun bool) writers {
	if !dryRun {
		return writers{client: s.client, store: s.store, watermarks: s.watermarks}
	}
	return writers{
		client:     &dryRunClient{client: s.client, logger: s.logger},
		store:      &dryRunStore{logger: s.logger, store: s.store},
		watermarks: &dryRunWatermarks{logger: s.logger, watermarks: s.watermarks},
	}
}
