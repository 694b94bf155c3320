package sqlstore

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Dialect names the SQL database the store talks to. The value doubles as
// the database/sql driver name.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// Config holds the connection settings of the SQL gateway.
type Config struct {
	// Driver selects the dialect.
	Driver Dialect

	// DSN is a file path for SQLite or a connection URL for Postgres.
	DSN string

	// Timeout bounds every gateway call.
	Timeout time.Duration

	// BusyTimeout sets how long SQLite waits for a competing writer.
	BusyTimeout time.Duration

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// Synchronous sets the SQLite synchronous mode (FULL, NORMAL, OFF)
	Synchronous string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Retry controls how often a transaction start is retried while the
	// database reports it is locked.
	Retry RetryConfig
}

// DefaultConfig returns a configuration with sensible defaults for driver.
func DefaultConfig(driver Dialect, dsn string) Config {
	cfg := Config{
		Driver:          driver,
		DSN:             dsn,
		Timeout:         5 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		Retry:           DefaultRetryConfig(),
	}
	if driver == DialectSQLite {
		cfg.BusyTimeout = 5 * time.Second
		cfg.JournalMode = "WAL"
		cfg.Synchronous = "NORMAL"
	}
	return cfg
}

// Validate checks the configuration for values the store cannot work with.
func (c Config) Validate() error {
	switch c.Driver {
	case DialectSQLite, DialectPostgres:
	default:
		return fmt.Errorf("unsupported driver %q", c.Driver)
	}

	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("DSN cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive")
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("BusyTimeout cannot be negative")
	}

	validJournalModes := map[string]bool{
		"DELETE":   true,
		"TRUNCATE": true,
		"PERSIST":  true,
		"MEMORY":   true,
		"WAL":      true,
		"OFF":      true,
	}
	if c.JournalMode != "" && !validJournalModes[strings.ToUpper(c.JournalMode)] {
		return fmt.Errorf("invalid journal mode: %s", c.JournalMode)
	}

	validSyncModes := map[string]bool{
		"OFF":    true,
		"NORMAL": true,
		"FULL":   true,
		"EXTRA":  true,
	}
	if c.Synchronous != "" && !validSyncModes[strings.ToUpper(c.Synchronous)] {
		return fmt.Errorf("invalid synchronous mode: %s", c.Synchronous)
	}

	if c.MaxOpenConns < 0 {
		return fmt.Errorf("MaxOpenConns cannot be negative")
	}
	if c.MaxIdleConns < 0 {
		return fmt.Errorf("MaxIdleConns cannot be negative")
	}
	if c.ConnMaxLifetime < 0 {
		return fmt.Errorf("ConnMaxLifetime cannot be negative")
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("Retry.MaxRetries cannot be negative")
	}
	return nil
}

func (c Config) inMemory() bool {
	return c.Driver == DialectSQLite && c.DSN == ":memory:"
}

// dataSourceName returns the DSN handed to the driver. SQLite pragmas travel
// in the DSN so every pooled connection gets them, and transactions begin
// IMMEDIATE so the write lock is taken before the first read.
func (c Config) dataSourceName() string {
	if c.Driver != DialectSQLite {
		return c.DSN
	}

	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	if c.BusyTimeout > 0 {
		params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	}
	if c.JournalMode != "" && !c.inMemory() {
		params.Add("_pragma", fmt.Sprintf("journal_mode(%s)", strings.ToUpper(c.JournalMode)))
	}
	if c.Synchronous != "" {
		params.Add("_pragma", fmt.Sprintf("synchronous(%s)", strings.ToUpper(c.Synchronous)))
	}
	params.Set("_txlock", "immediate")

	path := c.DSN
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + "?" + params.Encode()
}

// ensureDatabaseDir creates the directory holding the SQLite file.
func (c Config) ensureDatabaseDir() error {
	if c.Driver != DialectSQLite || c.inMemory() {
		return nil
	}

	dir := filepath.Dir(strings.TrimPrefix(c.DSN, "file:"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}
	return nil
}
