package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// Loader reads the stored identifier pairs of a table.
type Loader interface {
	LoadIdentities(ctx context.Context, table string) ([]Pair, error)
}

// BuilderConfig holds the configuration for creating a Builder.
type BuilderConfig struct {
	// Concurrency bounds the number of tables loaded at once. Default is 4.
	Concurrency int

	// Loader reads identifier pairs from the store.
	Loader Loader

	// Logger is the structured logger.
	Logger *slog.Logger

	// Tables maps each entity type to its table.
	Tables map[EntityType]string
}

// validate checks that all required BuilderConfig fields are set.
func (c *BuilderConfig) validate() error {
	var errs []error
	if c.Loader == nil {
		errs = append(errs, errors.New("loader is required"))
	}
	if len(c.Tables) == 0 {
		errs = append(errs, errors.New("at least one table is required"))
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency))
	}
	return errors.Join(errs...)
}

// Builder loads identity maps from the internal store.
type Builder struct {
	concurrency int
	loader      Loader
	logger      *slog.Logger
	tables      map[EntityType]string
}

// NewBuilder creates a new identity map Builder.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = defaultConcurrency
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Builder{
		concurrency: concurrency,
		loader:      cfg.Loader,
		logger:      logger,
		tables:      cfg.Tables,
	}, nil
}

// Build loads a fresh map for each requested entity type.
// Any load failure fails the whole build.
func (b *Builder) Build(ctx context.Context, types ...EntityType) (Maps, error) {
	for _, t := range types {
		if _, ok := b.tables[t]; !ok {
			return nil, fmt.Errorf("no table configured for entity type %q", t)
		}
	}

	var mu sync.Mutex
	result := make(Maps, len(types))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for _, t := range types {
		table := b.tables[t]
		g.Go(func() error {
			pairs, err := b.loader.LoadIdentities(ctx, table)
			if err != nil {
				return fmt.Errorf("loading %s identities: %w", t, err)
			}

			m := NewMap(pairs)

			mu.Lock()
			result[t] = m
			mu.Unlock()

			b.logger.Debug("Loaded identity map", "entity", string(t), "count", m.Len())
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return result, nil
}
