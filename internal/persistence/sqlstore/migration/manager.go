package migration

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"time"
)

// migrationManagerImpl implements the MigrationManager interface
type migrationManagerImpl struct {
	scanner  FileScanner
	executor Executor
	files    fs.FS
	dir      string
	logger   *slog.Logger
}

// NewMigrationManager creates a manager applying the migrations found in dir of files
func NewMigrationManager(scanner FileScanner, executor Executor, files fs.FS, dir string, logger *slog.Logger) MigrationManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &migrationManagerImpl{
		scanner:  scanner,
		executor: executor,
		files:    files,
		dir:      dir,
		logger:   logger.With("component", "migration", "migration_dir", dir),
	}
}

// RunMigrations executes all pending migrations in sequential order
func (m *migrationManagerImpl) RunMigrations(ctx context.Context) error {
	startTime := time.Now()

	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		m.logger.ErrorContext(ctx, "failed to initialize schema_migrations table", "error", err)
		return fmt.Errorf("failed to initialize version table: %w", err)
	}

	pending, err := m.GetPendingMigrations(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to resolve pending migrations", "error", err)
		return fmt.Errorf("failed to get pending migrations: %w", err)
	}
	if len(pending) == 0 {
		m.logger.InfoContext(ctx, "database schema up to date")
		return nil
	}

	m.logger.InfoContext(ctx, "applying migrations", "pending_count", len(pending))

	for i, migration := range pending {
		logger := m.logger.With(
			"version", migration.Version,
			"description", migration.Description,
			"file", migration.FilePath,
			"checksum", migration.Checksum,
		)
		migrationStart := time.Now()

		if err := m.executor.ExecuteMigration(ctx, migration); err != nil {
			logger.ErrorContext(ctx, "migration failed", "error", err, "position", i+1)
			return fileError(migration.Version, migration.FilePath,
				"execute migration", fmt.Errorf("%w: %v", ErrMigrationFailed, err))
		}

		executionTime := time.Since(migrationStart)
		if err := m.executor.RecordMigration(ctx, migration, executionTime); err != nil {
			logger.ErrorContext(ctx, "failed to record migration", "error", err)
			return fileError(migration.Version, migration.FilePath,
				"record migration", fmt.Errorf("failed to record migration: %w", err))
		}

		logger.InfoContext(ctx, "migration applied", "duration", executionTime)
	}

	m.logger.InfoContext(ctx, "all migrations applied",
		"applied_count", len(pending),
		"duration", time.Since(startTime),
		"current_version", pending[len(pending)-1].Version,
	)
	return nil
}

// GetPendingMigrations returns list of migrations that need to be applied
func (m *migrationManagerImpl) GetPendingMigrations(ctx context.Context) ([]Migration, error) {
	available, err := m.scanner.ScanMigrations(m.files, m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan migrations: %w", err)
	}

	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied versions: %w", err)
	}

	if err := m.validateMigrationSequence(available, applied); err != nil {
		return nil, fmt.Errorf("migration sequence validation failed: %w", err)
	}

	appliedMap := make(map[string]AppliedMigration, len(applied))
	for _, migration := range applied {
		appliedMap[migration.Version] = migration
	}

	var pending []Migration
	for _, migration := range available {
		record, ok := appliedMap[migration.Version]
		if !ok {
			pending = append(pending, migration)
			continue
		}
		if record.Checksum != "" && record.Checksum != migration.Checksum {
			return nil, fileError(migration.Version, migration.FilePath, "verify checksum",
				fmt.Errorf("%w: applied %s, file %s", ErrChecksumMismatch, record.Checksum, migration.Checksum))
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		versionI, _ := strconv.Atoi(pending[i].Version)
		versionJ, _ := strconv.Atoi(pending[j].Version)
		return versionI < versionJ
	})

	return pending, nil
}

// GetMigrationStatus returns status information about migrations
func (m *migrationManagerImpl) GetMigrationStatus(ctx context.Context) (*MigrationStatus, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize version table: %w", err)
	}

	applied, err := m.executor.GetAppliedVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	pending, err := m.GetPendingMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending migrations: %w", err)
	}

	currentVersion := ""
	maxVersion := -1
	for _, migration := range applied {
		if version, err := strconv.Atoi(migration.Version); err == nil && version > maxVersion {
			maxVersion = version
			currentVersion = migration.Version
		}
	}

	return &MigrationStatus{
		CurrentVersion:    currentVersion,
		PendingCount:      len(pending),
		AppliedMigrations: applied,
		PendingMigrations: pending,
	}, nil
}

// validateMigrationSequence ensures there are no gaps in migration version numbers
// and that every applied version still has a file
func (m *migrationManagerImpl) validateMigrationSequence(available []Migration, applied []AppliedMigration) error {
	if len(available) == 0 && len(applied) == 0 {
		return nil
	}

	availableMap := make(map[int]bool, len(available))
	minVersion, maxVersion := 0, 0
	for i, migration := range available {
		version, err := strconv.Atoi(migration.Version)
		if err != nil {
			return fileError(migration.Version, migration.FilePath,
				"validate sequence", fmt.Errorf("%w: version '%s' is not numeric", ErrInvalidVersion, migration.Version))
		}
		availableMap[version] = true
		if i == 0 || version < minVersion {
			minVersion = version
		}
		if i == 0 || version > maxVersion {
			maxVersion = version
		}
	}

	for version := minVersion; len(available) > 0 && version <= maxVersion; version++ {
		if !availableMap[version] {
			return fmt.Errorf("%w: missing migration version %03d in sequence", ErrVersionConflict, version)
		}
	}

	for _, migration := range applied {
		version, err := strconv.Atoi(migration.Version)
		if err != nil {
			return dbError(migration.Version, "", "validate sequence",
				fmt.Errorf("%w: applied version '%s' is not numeric", ErrVersionTableCorrupt, migration.Version))
		}
		if !availableMap[version] {
			return fmt.Errorf("%w: applied migration %03d not found in available migrations",
				ErrVersionConflict, version)
		}
	}

	return nil
}
