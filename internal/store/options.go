package store

import "strings"

// Opts holds configuration for store backends.
type Opts struct {
	DSN         string // SQL data source name (Postgres URL/keywords or SQLite file path)
	SupabaseURL string // Supabase project URL
	SupabaseKey string // Supabase service key
}

// Option configures a store.
type Option func(*Opts)

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSupabase sets the Supabase project URL and service key.
func WithSupabase(url, key string) Option {
	return func(o *Opts) {
		o.SupabaseURL = url
		o.SupabaseKey = key
	}
}

// DetectDSNType returns the database/sql driver name for dsn: "postgres" for
// Postgres URLs or keyword strings, otherwise "sqlite3".
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}
