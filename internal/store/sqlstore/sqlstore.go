// Package sqlstore implements the store interfaces on top of database/sql.
// PostgreSQL is the production backend; SQLite serves local development and tests.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"meshplane/internal/store"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL backend.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Store provides SQL-backed implementations of all repositories.
type Store struct {
	db      *sql.DB
	dialect Dialect
	dsn     string
}

var _ store.Store = (*Store)(nil)

// New connects to the database named by databaseURL.
// postgres:// and postgresql:// URLs use lib/pq, sqlite://<path> uses the pure-Go SQLite driver.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	dialect, dsn, err := parseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch dialect {
	case DialectSQLite:
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
		dsn = dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	default:
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", dialect, err)
	}

	return &Store{db: db, dialect: dialect, dsn: dsn}, nil
}

func parseURL(databaseURL string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return DialectPostgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite://"):
		path := strings.TrimPrefix(databaseURL, "sqlite://")
		if path == "" {
			return "", "", fmt.Errorf("sqlite url needs a file path")
		}
		return DialectSQLite, path, nil
	default:
		return "", "", fmt.Errorf("unsupported database url %q", databaseURL)
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying pool for migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect reports the backend in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// BeginTx starts a transaction on the pool.
func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *Store) getExecutor(tx store.DBTransaction) store.DBTransaction {
	if tx != nil {
		return tx
	}
	return s.db
}

var placeholderRe = regexp.MustCompile(`\$\d+`)

// q adapts a query written with $N placeholders to the store's dialect.
// Placeholders must appear in ascending order and at most once each.
func (s *Store) q(query string) string {
	if s.dialect == DialectSQLite {
		return placeholderRe.ReplaceAllString(query, "?")
	}
	return query
}

func (s *Store) exec(ctx context.Context, tx store.DBTransaction, query string, args ...interface{}) (sql.Result, error) {
	return s.getExecutor(tx).ExecContext(ctx, s.q(query), args...)
}

func (s *Store) query(ctx context.Context, tx store.DBTransaction, query string, args ...interface{}) (*sql.Rows, error) {
	return s.getExecutor(tx).QueryContext(ctx, s.q(query), args...)
}

func (s *Store) queryRow(ctx context.Context, tx store.DBTransaction, query string, args ...interface{}) *sql.Row {
	return s.getExecutor(tx).QueryRowContext(ctx, s.q(query), args...)
}

// affected reports whether the statement touched at least one row.
func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
