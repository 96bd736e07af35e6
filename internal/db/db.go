// Package db opens the local SQLite stores kept under the workspace metadata
// directory.
package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/figaro/internal/utils"
)

// memoryPath selects an in-process database that is gone once closed.
const memoryPath = ":memory:"

// SQLite pragmas applied to every store unless WithPragmas replaces them
const defaultPragma = `
PRAGMA journal_mode=WAL;
PRAGMA busy_timeout=5000;
PRAGMA synchronous=NORMAL;
PRAGMA temp_store=MEMORY;
PRAGMA cache_size=4000;
`

// options holds the settings NewSqliteDB is built from
type options struct {
	path            string
	pragmas         string
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
}

// SqliteOption defines a function that configures the database
type SqliteOption func(*options)

// WithPath sets the path of the SQLite file, usually under .figaro/
// Use ":memory:" for an in-memory database
func WithPath(path string) SqliteOption {
	return func(o *options) {
		o.path = path
	}
}

// WithPragmas sets custom pragmas for the SQLite connection
// This replaces the default pragmas
func WithPragmas(pragmas string) SqliteOption {
	return func(o *options) {
		o.pragmas = pragmas
	}
}

// WithMaxOpenConns sets the maximum number of open connections.
// It is ignored for in-memory databases, which always use one.
func WithMaxOpenConns(n int) SqliteOption {
	return func(o *options) {
		o.maxOpenConns = n
	}
}

// WithMaxIdleConns sets the maximum number of idle connections
func WithMaxIdleConns(n int) SqliteOption {
	return func(o *options) {
		o.maxIdleConns = n
	}
}

// WithConnMaxLifetime sets the maximum lifetime of a connection
func WithConnMaxLifetime(d time.Duration) SqliteOption {
	return func(o *options) {
		o.connMaxLifetime = d
	}
}

// NewSqliteDB opens a sqlx.DB with the provided options. The driver is the one
// compiled in for the platform; the pragmas run once the pool is configured.
func NewSqliteDB(opts ...SqliteOption) (*sqlx.DB, error) {
	o := &options{
		path:         memoryPath,
		pragmas:      defaultPragma,
		maxIdleConns: 2, // unlimited open connections unless set
	}
	for _, opt := range opts {
		opt(o)
	}

	dsn := memoryPath
	if o.path == memoryPath {
		// every connection would otherwise see its own empty database
		o.maxOpenConns = 1
	} else {
		if err := utils.EnsureParent(o.path); err != nil {
			return nil, fmt.Errorf("ensure parent directory: %w", err)
		}
		// writers take the lock at BEGIN
		dsn = fmt.Sprintf("file:%s?_txlock=immediate&mode=rwc", o.path)
	}

	slog.Debug("db open", "driver", driverID, "path", o.path)
	conn, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// pool parameters
	if o.maxOpenConns > 0 {
		conn.SetMaxOpenConns(o.maxOpenConns)
	}
	if o.maxIdleConns > 0 {
		conn.SetMaxIdleConns(o.maxIdleConns)
	}
	if o.connMaxLifetime > 0 {
		conn.SetConnMaxLifetime(o.connMaxLifetime)
	}

	if _, err := conn.Exec(o.pragmas); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return conn, nil
}

// Migrate runs each schema statement inside one transaction. It runs on every
// open, so statements must be idempotent ("CREATE TABLE IF NOT EXISTS").
func Migrate(conn *sqlx.DB, statements ...string) error {
	tx, err := conn.Beginx()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return tx.Commit()
}
