package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/peteski22/crmsync/internal/config"
	"github.com/peteski22/crmsync/internal/identity"
	"github.com/peteski22/crmsync/internal/storage"
	"github.com/peteski22/crmsync/internal/sync"
)

// newStatusCommand creates the status command.
func newStatusCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "status",
		Short:        "Show stored watermarks and row counts",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), rootOpts.newLogger(cmd.ErrOrStderr()))
		},
	}
}

// runStatus prints one line per entity with its row count and last pull and push times.
func runStatus(ctx context.Context, out io.Writer, logger *slog.Logger) error {
	cfg, err := config.LoadLocal()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	watermarks, err := storage.NewSQLWatermarkStore(store)
	if err != nil {
		return fmt.Errorf("creating watermark store: %w", err)
	}

	stored, err := watermarks.Watermarks(ctx)
	if err != nil {
		return fmt.Errorf("listing watermarks: %w", err)
	}
	logger.Debug("loaded watermarks", "count", len(stored))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ENTITY\tROWS\tLAST PULL\tLAST PUSH")

	for _, entity := range identity.EntityTypes() {
		rows, err := store.Count(ctx, sync.Tables[entity])
		if err != nil {
			return fmt.Errorf("counting %s: %w", entity, err)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", entity, rows,
			lastSync(stored, entity, storage.Pull), lastSync(stored, entity, storage.Push))
	}

	links, err := store.Count(ctx, storage.TableDocumentLinks)
	if err != nil {
		return fmt.Errorf("counting document links: %w", err)
	}
	_, _ = fmt.Fprintf(tw, "%s\t%d\t-\t-\n", storage.TableDocumentLinks, links)

	return tw.Flush()
}

// lastSync formats the watermark of an entity and direction, or "never".
func lastSync(stored []storage.Watermark, entity identity.EntityType, dir storage.Direction) string {
	i := slices.IndexFunc(stored, func(w storage.Watermark) bool {
		return w.Entity == string(entity) && w.Direction == dir
	})
	if i < 0 {
		return "never"
	}
	return stored[i].LastSyncAt.UTC().Format(time.RFC3339)
}
