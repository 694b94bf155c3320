package migration

import (
	"errors"
	"fmt"
)

var (
	ErrMigrationFailed      = errors.New("migration execution failed")
	ErrInvalidMigrationFile = errors.New("invalid migration file format")
	ErrMigrationNotFound    = errors.New("migration file not found")
	// ErrVersionConflict reports an applied version with no file, or applied versions out of order.
	ErrVersionConflict  = errors.New("migration version conflict")
	ErrInvalidVersion   = errors.New("invalid migration version")
	ErrDuplicateVersion = errors.New("duplicate migration version")
	// ErrChecksumMismatch reports an applied migration whose file was edited afterwards.
	ErrChecksumMismatch    = errors.New("migration checksum mismatch")
	ErrVersionTableCorrupt = errors.New("schema_migrations table is corrupted")
)

// Stage names the part of the migration run that failed.
type Stage string

const (
	StageScan     Stage = "scan"
	StageFile     Stage = "file"
	StageDatabase Stage = "database"
)

// Error carries the context of a failed migration step. Version, Path and
// Statement are set when known.
type Error struct {
	Stage     Stage
	Op        string
	Version   string
	Path      string
	Statement string
	Err       error
}

func (e *Error) Error() string {
	switch {
	case e.Version != "" && e.Path != "":
		return fmt.Sprintf("migration %s (%s): %s: %v", e.Version, e.Path, e.Op, e.Err)
	case e.Version != "":
		return fmt.Sprintf("migration %s: %s %s: %v", e.Version, e.Stage, e.Op, e.Err)
	case e.Path != "":
		return fmt.Sprintf("migration %s %s of %s: %v", e.Stage, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("migration %s %s: %v", e.Stage, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func scanError(path, op string, err error) *Error {
	return &Error{Stage: StageScan, Op: op, Path: path, Err: err}
}

func fileError(version, path, op string, err error) *Error {
	return &Error{Stage: StageFile, Op: op, Version: version, Path: path, Err: err}
}

func dbError(version, statement, op string, err error) *Error {
	return &Error{Stage: StageDatabase, Op: op, Version: version, Statement: statement, Err: err}
}
