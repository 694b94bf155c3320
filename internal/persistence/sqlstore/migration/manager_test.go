package migration

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"testing"
	"time"
)

type mockFileScanner struct {
	migrations []Migration
	scanError  error
}

func (m *mockFileScanner) ScanMigrations(fs.FS, string) ([]Migration, error) {
	if m.scanError != nil {
		return nil, m.scanError
	}
	return m.migrations, nil
}

func (m *mockFileScanner) ValidateFileName(string) error {
	return nil
}

func (m *mockFileScanner) ParseMigrationFile(fs.FS, string) (*Migration, error) {
	return nil, nil
}

type mockExecutor struct {
	applied        []AppliedMigration
	executionError error
	recordError    error
	initError      error
	executed       []string
}

func (m *mockExecutor) ExecuteMigration(ctx context.Context, migration Migration) error {
	if m.executionError != nil {
		return m.executionError
	}
	m.executed = append(m.executed, migration.Version)
	return nil
}

func (m *mockExecutor) InitializeVersionTable(context.Context) error {
	return m.initError
}

func (m *mockExecutor) RecordMigration(ctx context.Context, migration Migration, executionTime time.Duration) error {
	if m.recordError != nil {
		return m.recordError
	}
	m.applied = append(m.applied, AppliedMigration{Version: migration.Version, Checksum: migration.Checksum})
	return nil
}

func (m *mockExecutor) GetAppliedVersions(context.Context) ([]AppliedMigration, error) {
	return append([]AppliedMigration(nil), m.applied...), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func threeMigrations() []Migration {
	return []Migration{
		{Version: "001", Description: "one", Checksum: "c1"},
		{Version: "002", Description: "two", Checksum: "c2"},
		{Version: "003", Description: "three", Checksum: "c3"},
	}
}

func TestMigrationManager_RunMigrations(t *testing.T) {
	ctx := context.Background()

	t.Run("applies pending migrations in order", func(t *testing.T) {
		executor := &mockExecutor{applied: []AppliedMigration{{Version: "001", Checksum: "c1"}}}
		manager := NewMigrationManager(&mockFileScanner{migrations: threeMigrations()}, executor, nil, "m", discardLogger())

		if err := manager.RunMigrations(ctx); err != nil {
			t.Fatalf("RunMigrations returned error: %v", err)
		}
		if len(executor.executed) != 2 || executor.executed[0] != "002" || executor.executed[1] != "003" {
			t.Fatalf("unexpected execution order %v", executor.executed)
		}
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		executor := &mockExecutor{}
		manager := NewMigrationManager(&mockFileScanner{migrations: threeMigrations()}, executor, nil, "m", discardLogger())

		if err := manager.RunMigrations(ctx); err != nil {
			t.Fatalf("first run: %v", err)
		}
		executor.executed = nil
		if err := manager.RunMigrations(ctx); err != nil {
			t.Fatalf("second run: %v", err)
		}
		if len(executor.executed) != 0 {
			t.Fatalf("expected no migrations on second run, got %v", executor.executed)
		}
	})

	t.Run("execution failure is wrapped", func(t *testing.T) {
		executor := &mockExecutor{executionError: errors.New("syntax error")}
		manager := NewMigrationManager(&mockFileScanner{migrations: threeMigrations()}, executor, nil, "m", discardLogger())

		err := manager.RunMigrations(ctx)
		if !errors.Is(err, ErrMigrationFailed) {
			t.Fatalf("expected ErrMigrationFailed, got %v", err)
		}
		var migErr *Error
		if !errors.As(err, &migErr) || migErr.Version != "001" {
			t.Fatalf("expected migration error for 001, got %v", err)
		}
	})

	t.Run("init failure stops the run", func(t *testing.T) {
		initErr := errors.New("read-only database")
		executor := &mockExecutor{initError: initErr}
		manager := NewMigrationManager(&mockFileScanner{migrations: threeMigrations()}, executor, nil, "m", discardLogger())

		if err := manager.RunMigrations(ctx); !errors.Is(err, initErr) {
			t.Fatalf("expected init error, got %v", err)
		}
	})

	t.Run("scan failure propagates", func(t *testing.T) {
		manager := NewMigrationManager(&mockFileScanner{scanError: ErrInvalidMigrationFile}, &mockExecutor{}, nil, "m", discardLogger())

		if err := manager.RunMigrations(ctx); !errors.Is(err, ErrInvalidMigrationFile) {
			t.Fatalf("expected scan error, got %v", err)
		}
	})
}

func TestMigrationManager_GetPendingMigrations(t *testing.T) {
	ctx := context.Background()

	t.Run("gap in sequence is rejected", func(t *testing.T) {
		scanner := &mockFileScanner{migrations: []Migration{{Version: "001"}, {Version: "003"}}}
		manager := NewMigrationManager(scanner, &mockExecutor{}, nil, "m", discardLogger())

		if _, err := manager.GetPendingMigrations(ctx); !errors.Is(err, ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}
	})

	t.Run("applied version without a file is rejected", func(t *testing.T) {
		executor := &mockExecutor{applied: []AppliedMigration{{Version: "004"}}}
		manager := NewMigrationManager(&mockFileScanner{migrations: threeMigrations()}, executor, nil, "m", discardLogger())

		if _, err := manager.GetPendingMigrations(ctx); !errors.Is(err, ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}
	})

	t.Run("edited migration is reported", func(t *testing.T) {
		executor := &mockExecutor{applied: []AppliedMigration{{Version: "001", Checksum: "old"}}}
		manager := NewMigrationManager(&mockFileScanner{migrations: threeMigrations()}, executor, nil, "m", discardLogger())

		if _, err := manager.GetPendingMigrations(ctx); !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("expected ErrChecksumMismatch, got %v", err)
		}
	})
}

func TestMigrationManager_GetMigrationStatus(t *testing.T) {
	executor := &mockExecutor{applied: []AppliedMigration{{Version: "001", Checksum: "c1"}, {Version: "002", Checksum: "c2"}}}
	manager := NewMigrationManager(&mockFileScanner{migrations: threeMigrations()}, executor, nil, "m", discardLogger())

	status, err := manager.GetMigrationStatus(context.Background())
	if err != nil {
		t.Fatalf("GetMigrationStatus returned error: %v", err)
	}
	if status.CurrentVersion != "002" {
		t.Fatalf("expected current version 002, got %q", status.CurrentVersion)
	}
	if status.PendingCount != 1 || status.PendingMigrations[0].Version != "003" {
		t.Fatalf("unexpected pending migrations %+v", status.PendingMigrations)
	}
}
