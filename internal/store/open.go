package store

import "strings"

// IsPostgresDSN reports whether dsn addresses a Postgres server rather
// than a SQLite file path.
func IsPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open selects the backend from the DSN: Postgres URLs use lib/pq,
// anything else is treated as a SQLite database path.
func Open(dsn string) (Repository, error) {
	if IsPostgresDSN(dsn) {
		return NewPostgres(dsn)
	}
	return NewSQLite(dsn)
}
