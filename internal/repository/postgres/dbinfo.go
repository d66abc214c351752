package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

var errNoPool = errors.New("postgres: no connection pool")

// DBInfo exposes connection metadata for health reporting.
type DBInfo struct {
	pool *pgxpool.Pool
}

// NewDBInfo wraps a pool for health checks. A nil pool is allowed and
// reports as disconnected.
func NewDBInfo(pool *pgxpool.Pool) *DBInfo {
	return &DBInfo{pool: pool}
}

// Ping verifies connectivity.
func (d *DBInfo) Ping(ctx context.Context) error {
	if d == nil || d.pool == nil {
		return errNoPool
	}
	return d.pool.Ping(ctx)
}

// ListTables enumerates user relations in the public schema.
func (d *DBInfo) ListTables(ctx context.Context) ([]string, error) {
	if d == nil || d.pool == nil {
		return nil, errNoPool
	}
	const query = `SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = 'public' ORDER BY tablename`
	rows, err := d.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// Host returns the configured database host.
func (d *DBInfo) Host() string {
	if d == nil || d.pool == nil {
		return ""
	}
	return d.pool.Config().ConnConfig.Host
}

// Name returns the configured database name.
func (d *DBInfo) Name() string {
	if d == nil || d.pool == nil {
		return ""
	}
	return d.pool.Config().ConnConfig.Database
}
