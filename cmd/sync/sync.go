package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/peteski22/crmsync/internal/config"
	"github.com/peteski22/crmsync/internal/identity"
	"github.com/peteski22/crmsync/internal/sync"
)

// allEntities is the argument that selects every entity.
const allEntities = "all"

// syncOptions holds flags for the sync command.
type syncOptions struct {
	*rootOptions

	batchSize int
	dryRun    bool
	entities  []string
	force     bool
	limit     int
	mode      string
	since     string
}

// newSyncCommand creates the sync command.
func newSyncCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &syncOptions{rootOptions: rootOpts}

	validArgs := []string{allEntities}
	for _, t := range identity.EntityTypes() {
		validArgs = append(validArgs, string(t))
	}

	cmd := &cobra.Command{
		Use:   "sync <entity>|all",
		Short: "Sync one entity or all of them",
		Long: `Sync one entity, or every entity in dependency order.

Incremental by default: only records modified since the last successful pass are
fetched. Use --since to override the stored watermark or --force for a full sync.

Example:
  crmsync sync account
  crmsync sync all --dry-run
  crmsync sync all --entities user,account --since 2024-01-01
  crmsync sync opportunity --mode bidirectional`,
		Args:         cobra.ExactArgs(1),
		ValidArgs:    validArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), opts, args[0])
		},
	}

	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "rows per upsert transaction (default from config, else 200)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "fetch and transform without writing anything")
	cmd.Flags().StringSliceVar(&opts.entities, "entities", nil, "entities synced by 'all' (default from config, else every entity)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "ignore the stored watermark and run a full sync")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum records fetched per pass")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "pull, push or bidirectional (default from config, else pull)")
	cmd.Flags().StringVar(&opts.since, "since", "", "only sync records modified after this time (RFC 3339 or YYYY-MM-DD)")

	return cmd
}

// toOptions merges the flags over the config file settings.
func (o *syncOptions) toOptions(cfg config.Sync) (sync.Options, error) {
	modeName := o.mode
	if modeName == "" {
		modeName = cfg.Mode
	}
	mode, err := sync.ParseMode(modeName)
	if err != nil {
		return sync.Options{}, err
	}

	batchSize := o.batchSize
	if batchSize == 0 {
		batchSize = cfg.BatchSize
	}
	if batchSize < 0 {
		return sync.Options{}, fmt.Errorf("batch size must not be negative, got %d", batchSize)
	}

	since, err := parseSince(o.since)
	if err != nil {
		return sync.Options{}, err
	}

	return sync.Options{
		BatchSize: batchSize,
		DryRun:    o.dryRun,
		Force:     o.force,
		Limit:     o.limit,
		Mode:      mode,
		Since:     since,
	}, nil
}

// parseSince parses an RFC 3339 timestamp or a date. Empty input means no override.
func parseSince(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid --since %q: want RFC 3339 (2024-01-02T15:04:05Z) or a date (2024-01-02)", s)
}

// entityTypes converts entity names.
func entityTypes(names []string) []identity.EntityType {
	types := make([]identity.EntityType, 0, len(names))
	for _, n := range names {
		types = append(types, identity.EntityType(n))
	}
	return types
}

// runSync syncs the target entity, or all configured entities, and prints a summary.
func runSync(ctx context.Context, out io.Writer, logOut io.Writer, opts *syncOptions, target string) error {
	cfg, err := config.LoadLocal()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	syncOpts, err := opts.toOptions(cfg.Sync)
	if err != nil {
		return err
	}

	if target != allEntities && len(opts.entities) > 0 {
		return errors.New("--entities can only be used with 'all'")
	}

	svc, store, err := newLocalService(ctx, cfg, opts.newLogger(logOut))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var results []*sync.Result
	if target == allEntities {
		names := opts.entities
		if len(names) == 0 {
			names = cfg.Sync.Entities
		}
		results, err = svc.SyncAll(ctx, syncOpts, entityTypes(names)...)
	} else {
		var res *sync.Result
		res, err = svc.Sync(ctx, identity.EntityType(target), syncOpts)
		if res != nil {
			results = append(results, res)
		}
	}

	printSummary(out, summarize(results...))

	return err
}
