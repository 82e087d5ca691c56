package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/peteski22/crmsync/internal/config"
)

const configTemplate = `# crmsync configuration

salesforce:
  # From Setup -> App Manager -> your connected app -> Manage Consumer Details.
  client_id: ""
  client_secret: ""
  # Your org's My Domain URL, e.g. https://example.my.salesforce.com.
  instance_url: ""
  # Use https://test.salesforce.com/services/oauth2/token for sandboxes.
  token_url: "https://login.salesforce.com/services/oauth2/token"
  api_version: "v59.0"

database:
  # sqlite3 or pgx. Defaults to a SQLite file next to this config.
  driver: "sqlite3"
  url: ""

sync:
  # pull, push or bidirectional.
  mode: "pull"
  # Rows per upsert transaction.
  batch_size: 200
  # Entities synced by 'crmsync sync all'. Empty means all.
  entities: []
`

// newInitCommand creates the init command.
func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "init",
		Short:        "Create a sample configuration file",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.OutOrStdout())
		},
	}
}

// runInit creates a sample configuration file.
func runInit(out io.Writer) error {
	configDir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	configPath, err := config.ConfigFilePath()
	if err != nil {
		return fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	tokenPath, err := config.TokenFilePath()
	if err != nil {
		return fmt.Errorf("getting token path: %w", err)
	}

	_, _ = fmt.Fprintln(out, "Created config file:", configPath)
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "Next steps:")
	_, _ = fmt.Fprintln(out, "  1. Edit the config file with your connected app credentials")
	_, _ = fmt.Fprintln(out, "  2. Run 'crmsync auth' to authorize with Salesforce")
	_, _ = fmt.Fprintln(out, "  3. Run 'crmsync sync all --dry-run' to test")
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintf(out, "Token will be stored at: %s\n", tokenPath)

	return nil
}
