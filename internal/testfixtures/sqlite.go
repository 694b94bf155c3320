package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/hall-booking/internal/persistence/memory"
	"github.com/example/hall-booking/internal/persistence/sqlstore"
)

// NewMemoryGateway returns an in-memory gateway stamped by clock.
func NewMemoryGateway(clock *Clock) *memory.Storage {
	return memory.New(clock.NowFunc())
}

// NewSQLiteGateway opens a migrated SQLite store in a temporary directory.
// The store is closed when the test finishes.
func NewSQLiteGateway(tb testing.TB, clock *Clock) *sqlstore.Store {
	tb.Helper()

	ctx := context.Background()
	cfg := sqlstore.DefaultConfig(sqlstore.DialectSQLite, filepath.Join(tb.TempDir(), "hallbooking.db"))
	cfg.Timeout = 10 * time.Second

	store, err := sqlstore.Open(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	tb.Cleanup(func() {
		_ = store.Close()
	})

	store.SetNow(clock.NowFunc())
	if err := store.Migrate(ctx); err != nil {
		tb.Fatalf("failed to migrate storage: %v", err)
	}
	return store
}
