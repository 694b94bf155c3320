// Package sqlstore implements the storage gateway on SQLite or Postgres via
// sqlx. Every call is bounded by the configured timeout, and driver faults
// are logged here and surfaced only as persistence sentinels.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/example/hall-booking/internal/persistence"
	"github.com/example/hall-booking/internal/persistence/sqlstore/migration"
)

//go:embed migrations
var migrationFiles embed.FS

// Store is the SQL implementation of persistence.Gateway.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
	timeout time.Duration
	logger  *slog.Logger
	mapper  *ErrorMapper
	retry   *RetryHelper
	now     func() time.Time

	// writeMu serializes SQLite writers inside the process. Postgres uses
	// advisory locks instead.
	writeMu sync.Mutex
}

var _ persistence.Gateway = (*Store)(nil)

// Open connects to the database described by cfg. The schema is not touched;
// call Migrate before serving traffic.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.ensureDatabaseDir(); err != nil {
		return nil, err
	}

	db, err := sqlx.Open(string(cfg.Driver), cfg.dataSourceName())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	maxOpen := cfg.MaxOpenConns
	if cfg.inMemory() {
		// Each connection to :memory: is a separate database.
		maxOpen = 1
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 && !cfg.inMemory() {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", cfg.Driver, err)
	}

	logger = logger.With("component", "sqlstore", "driver", string(cfg.Driver))
	logger.InfoContext(ctx, "database connection established")

	return &Store{
		db:      db,
		dialect: cfg.Driver,
		timeout: cfg.Timeout,
		logger:  logger,
		mapper:  NewErrorMapper(logger),
		retry:   NewRetryHelper(cfg.Retry),
		now:     time.Now,
	}, nil
}

// SetNow overrides the clock used for created and updated timestamps.
func (s *Store) SetNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database answers within the call timeout.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.fail(ctx, "ping", s.db.PingContext(ctx))
}

// Migrate applies every pending schema migration for the store's dialect.
func (s *Store) Migrate(ctx context.Context) error {
	manager := s.migrationManager()
	if err := manager.RunMigrations(ctx); err != nil {
		return fmt.Errorf("failed to migrate %s database: %w", s.dialect, err)
	}
	return nil
}

// MigrationStatus reports applied and pending schema migrations.
func (s *Store) MigrationStatus(ctx context.Context) (*migration.MigrationStatus, error) {
	return s.migrationManager().GetMigrationStatus(ctx)
}

func (s *Store) migrationManager() migration.MigrationManager {
	return migration.NewMigrationManager(
		migration.NewFileScanner(),
		migration.NewExecutor(s.db),
		migrationFiles,
		"migrations/"+string(s.dialect),
		s.logger,
	)
}

// bound applies the per-call timeout.
func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// fail classifies err for the caller; see ErrorMapper.
func (s *Store) fail(ctx context.Context, op string, err error) error {
	return s.mapper.MapError(ctx, op, err)
}

func (s *Store) timestamp() string {
	return formatTimestamp(s.now())
}

// inTx runs fn in a transaction that holds the write lock for key. The lock
// is released when the transaction ends.
func (s *Store) inTx(ctx context.Context, key int64, fn func(tx *sqlx.Tx) error) (err error) {
	if s.dialect == DialectSQLite {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}

	var tx *sqlx.Tx
	err = s.retry.WithRetry(ctx, func() error {
		var beginErr error
		tx, beginErr = s.db.BeginTxx(ctx, nil)
		return beginErr
	})
	if err != nil {
		return err
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.WarnContext(ctx, "transaction rollback failed", "error", rbErr)
		}
	}()

	if s.dialect == DialectPostgres {
		if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, advisoryKey(key)); err != nil {
			return err
		}
	}

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// advisoryKey namespaces room ids so the lock cannot collide with advisory
// locks taken by other applications on the same database.
func advisoryKey(roomID int64) int64 {
	h := fnv.New32a()
	h.Write([]byte("hall-booking/room"))
	return int64(h.Sum32())<<32 | (roomID & 0xffffffff)
}
