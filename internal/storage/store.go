// Package storage provides the target store, the batch upsert engine, sync watermarks and token persistence.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/peteski22/crmsync/internal/identity"
)

// Synced tables.
const (
	TableAccounts      = "accounts"
	TableContacts      = "contacts"
	TableContracts     = "contracts"
	TableDocumentLinks = "document_links"
	TableDocuments     = "documents"
	TableOpportunities = "opportunities"
	TableUsers         = "users"

	tableWatermarks = "sync_watermarks"
)

var (
	//go:embed schema_postgres.sql
	schemaPostgres string

	//go:embed schema_sqlite.sql
	schemaSQLite string
)

// tables lists the tables the store accepts by name.
var tables = map[string]struct{}{
	TableAccounts:      {},
	TableContacts:      {},
	TableContracts:     {},
	TableDocumentLinks: {},
	TableDocuments:     {},
	TableOpportunities: {},
	TableUsers:         {},
}

// Store is the internal relational store.
type Store struct {
	db      *sql.DB
	dialect dialect
	logger  *slog.Logger
}

// Option configures optional Store settings.
type Option func(*options) error

type options struct {
	logger       *slog.Logger
	maxOpenConns int
}

// WithLogger sets the logger used by the store.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		o.logger = logger
		return nil
	}
}

// WithMaxOpenConns limits the connection pool. Ignored for SQLite, which always uses one connection.
func WithMaxOpenConns(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("max open connections must be positive, got %d", n)
		}
		o.maxOpenConns = n
		return nil
	}
}

// Open connects to the store and applies the schema.
// The driver is either DriverPostgres or DriverSQLite. Applying the schema is idempotent.
func Open(ctx context.Context, driver string, dsn string, opts ...Option) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, errors.New("database URL is required")
	}

	o := &options{logger: slog.Default(), maxOpenConns: 4}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite allows a single writer; pragmas are per connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	} else {
		db.SetMaxOpenConns(o.maxOpenConns)
	}

	if _, err := db.ExecContext(ctx, d.schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, dialect: d, logger: o.logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Count returns the number of rows in a table.
func (s *Store) Count(ctx context.Context, table string) (int, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}

	return n, nil
}

// LoadIdentities returns the id pairs of every row in table that has an external id.
func (s *Store) LoadIdentities(ctx context.Context, table string) ([]identity.Pair, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s IS NOT NULL",
		ColumnID, ColumnExternalID, quote(table), ColumnExternalID)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying %s identities: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var pairs []identity.Pair
	for rows.Next() {
		var p identity.Pair
		if err := rows.Scan(&p.InternalID, &p.ExternalID); err != nil {
			return nil, fmt.Errorf("scanning %s identity: %w", table, err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s identities: %w", table, err)
	}

	return pairs, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("executing %q: %w", pragma, err)
		}
	}

	return nil
}

// checkTable rejects table names outside the synced schema.
func checkTable(table string) error {
	if _, ok := tables[table]; !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	return nil
}
