package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	verbose bool
}

// newRootCommand creates the root command of the crmsync CLI.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "crmsync",
		Short: "Sync Salesforce records with the internal database",
		Long: `crmsync copies Salesforce users, accounts, contacts, opportunities, contracts
and documents into a relational store, resolving references between them, and
writes local edits of accounts, contacts and opportunities back to Salesforce.`,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newAuthCommand())
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))

	return cmd
}

// newLogger returns a text logger for interactive use.
func (o *rootOptions) newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
