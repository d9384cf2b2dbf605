// Package pgfetch executes one tile query against a PostGIS database.
// The connection is opened, used for exactly one statement and closed
// again, keeping the time a connection is held to a minimum.
package pgfetch

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/geoply/mvtserver/internal/config"
)

type Fetcher struct {
	logger           *slog.Logger
	statementTimeout time.Duration

	// open is swappable for tests.
	open func(driverName, dsn string) (*sql.DB, error)
}

type Option func(*Fetcher)

// WithStatementTimeout sets a server-side statement_timeout on every
// connection. Zero disables it.
func WithStatementTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.statementTimeout = d }
}

func New(logger *slog.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	f := &Fetcher{
		logger: logger,
		open:   sql.Open,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// FetchTile runs the query and returns the bytes of its single "mvt"
// column. A row without that column is an error distinct from a
// connection or query failure.
func (f *Fetcher) FetchTile(ctx context.Context, query string, params config.ConnParams) ([]byte, error) {
	dsn := buildDSN(params, f.statementTimeout)
	f.logger.Debug("connecting to postgres", "host", params.Host, "database", params.Database)

	db, err := f.open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	mvtIdx := -1
	for i, c := range cols {
		if c == "mvt" {
			mvtIdx = i
		}
	}
	if mvtIdx < 0 {
		return nil, fmt.Errorf("column 'mvt' does not exist in result")
	}

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("rows: %w", err)
		}
		return nil, fmt.Errorf("query returned no rows")
	}

	dest := make([]any, len(cols))
	var mvt []byte
	for i := range dest {
		var discard any
		dest[i] = &discard
	}
	dest[mvtIdx] = &mvt
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return mvt, nil
}

// buildDSN constructs a key=value connection string for the pgx stdlib
// driver. Unset fields are omitted so the driver falls back to its own
// defaults (and the usual PG* environment variables).
func buildDSN(p config.ConnParams, statementTimeout time.Duration) string {
	dsn := ""
	add := func(k, v string) {
		if v == "" {
			return
		}
		if dsn != "" {
			dsn += " "
		}
		dsn += k + "=" + v
	}
	add("host", p.Host)
	if p.Port != 0 {
		add("port", fmt.Sprintf("%d", p.Port))
	}
	add("user", p.User)
	add("password", p.Password)
	add("dbname", p.Database)
	if statementTimeout > 0 {
		// value carries a space, so it needs libpq-style quoting
		add("options", fmt.Sprintf("'-c statement_timeout=%d'", statementTimeout.Milliseconds()))
	}
	return dsn
}
