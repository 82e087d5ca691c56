package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite3"
)

// dialect captures the SQL differences between the supported databases.
type dialect struct {
	// distinct is the null-safe inequality operator.
	distinct string

	// driver is the database/sql driver name.
	driver string

	// numbered reports whether placeholders are positional ($1) rather than ?.
	numbered bool

	// schema is the DDL applied on open.
	schema string
}

// placeholder returns the n-th (1-indexed) bind parameter.
func (d dialect) placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// placeholders returns count bind parameters starting at start, comma separated.
func (d dialect) placeholders(start int, count int) string {
	ps := make([]string, count)
	for i := range count {
		ps[i] = d.placeholder(start + i)
	}
	return strings.Join(ps, ", ")
}

// quote quotes an identifier. Both dialects accept ANSI double-quoted identifiers.
func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverPostgres:
		return dialect{distinct: "IS DISTINCT FROM", driver: driver, numbered: true, schema: schemaPostgres}, nil
	case DriverSQLite:
		return dialect{distinct: "IS NOT", driver: driver, schema: schemaSQLite}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver %q (want %s or %s)", driver, DriverPostgres, DriverSQLite)
	}
}
