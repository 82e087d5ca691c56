package main

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/peteski22/crmsync/internal/config"
	"github.com/peteski22/crmsync/internal/identity"
	"github.com/peteski22/crmsync/internal/sync"
)

// runner runs a batch of entity syncs.
type runner interface {
	SyncAll(ctx context.Context, opts sync.Options, names ...identity.EntityType) ([]*sync.Result, error)
}

// handler runs one scheduled sync of the configured entities.
func handler(ctx context.Context) ([]entitySummary, error) {
	slog.InfoContext(ctx, "starting sync")

	settings, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	svc, store, err := newAWSService(ctx, awsCfg, settings, slog.Default())
	if err != nil {
		return nil, err
	}
	defer func() { _ = store.Close() }()

	summaries, err := runScheduled(ctx, svc, settings.Sync)
	if err != nil {
		slog.ErrorContext(ctx, "sync finished with errors", "error", err)
		return summaries, err
	}

	slog.InfoContext(ctx, "sync complete", "entities", len(summaries))
	return summaries, nil
}

// runScheduled syncs the configured entities. Scheduled runs are bidirectional unless a mode is set.
func runScheduled(ctx context.Context, r runner, cfg config.Sync) ([]entitySummary, error) {
	mode := sync.ModeBidirectional
	if cfg.Mode != "" {
		var err error
		if mode, err = sync.ParseMode(cfg.Mode); err != nil {
			return nil, err
		}
	}

	results, err := r.SyncAll(ctx, sync.Options{
		BatchSize: cfg.BatchSize,
		Mode:      mode,
	}, entityTypes(cfg.Entities)...)

	return summarize(results...), err
}
