// Package storetest opens throwaway SQLite stores for package tests.
package storetest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"meshplane/internal/store/sqlstore"
)

// New returns a migrated store backed by a file in t.TempDir().
func New(t testing.TB) *sqlstore.Store {
	t.Helper()

	s, err := sqlstore.New(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "mesh.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate store: %v", err)
	}
	return s
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
