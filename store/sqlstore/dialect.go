package sqlstore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect hides the SQL differences between the supported databases. Queries
// are written with PostgreSQL placeholders ($1, $2, ...) and rebound at
// runtime.
type Dialect interface {
	// DriverName is the database/sql driver name.
	DriverName() string
	// Rebind converts $N placeholders to the dialect's placeholder style.
	Rebind(query string) string
	// Schema returns the statements creating the relay tables.
	Schema() []string
	// ForUpdate is appended to row reads inside a read-modify-write transaction.
	ForUpdate() string
	// IsUniqueViolation reports whether err is a primary or unique key conflict.
	IsUniqueViolation(err error) bool
}

var pgPlaceholderRe = regexp.MustCompile(`\$(\d+)`)

// Postgres is the PostgreSQL dialect (pgx stdlib driver).
type Postgres struct{}

var _ Dialect = Postgres{}

// DriverName implements Dialect.
func (Postgres) DriverName() string { return "pgx" }

// Rebind implements Dialect.
func (Postgres) Rebind(query string) string { return query }

// ForUpdate implements Dialect.
func (Postgres) ForUpdate() string { return " FOR UPDATE" }

// IsUniqueViolation implements Dialect.
func (Postgres) IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Schema implements Dialect.
func (Postgres) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS relay_tasks (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    request_id TEXT NOT NULL,
    status TEXT NOT NULL,
    metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_relay_tasks_conversation ON relay_tasks (conversation_id)`,
		`CREATE TABLE IF NOT EXISTS relay_messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    task_id TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL,
    agent_id TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    parts JSONB,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_relay_messages_conversation ON relay_messages (conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS relay_conversations (
    id TEXT PRIMARY KEY,
    active_agent_id TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
)`,
	}
}

// SQLite is the SQLite dialect (modernc pure Go driver).
type SQLite struct{}

var _ Dialect = SQLite{}

// DriverName implements Dialect.
func (SQLite) DriverName() string { return "sqlite" }

// Rebind implements Dialect. $N becomes ?N so that arguments keep their
// position even when a query uses them out of order.
func (SQLite) Rebind(query string) string {
	query = pgPlaceholderRe.ReplaceAllString(query, "?$1")
	return strings.ReplaceAll(query, "::jsonb", "")
}

// ForUpdate implements Dialect. SQLite serialises writers instead.
func (SQLite) ForUpdate() string { return "" }

// IsUniqueViolation implements Dialect.
func (SQLite) IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Schema implements Dialect.
func (SQLite) Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS relay_tasks (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    request_id TEXT NOT NULL,
    status TEXT NOT NULL,
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_relay_tasks_conversation ON relay_tasks (conversation_id)`,
		`CREATE TABLE IF NOT EXISTS relay_messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    task_id TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL,
    agent_id TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL DEFAULT '',
    parts TEXT,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_relay_messages_conversation ON relay_messages (conversation_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS relay_conversations (
    id TEXT PRIMARY KEY,
    active_agent_id TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`,
	}
}

// DialectFor returns the dialect for a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}
