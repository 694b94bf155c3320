package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/hall-booking/internal/calendar"
	"github.com/example/hall-booking/internal/persistence"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks the role or ownership an operation requires.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrConflict is the parent of every error caused by the current state of other records.
	ErrConflict = errors.New("application: conflict")
	// ErrAlreadyExists is returned when a unique attribute such as an email is taken.
	ErrAlreadyExists = fmt.Errorf("%w: already exists", ErrConflict)
	// ErrOverlap is returned when a booking would overlap an approved booking of the same room.
	ErrOverlap = fmt.Errorf("%w: booking overlaps an approved booking", ErrConflict)
	// ErrInvalidTransition is returned when a booking is not in a state that permits the requested change.
	ErrInvalidTransition = fmt.Errorf("%w: invalid status transition", ErrConflict)
	// ErrRoomInUse is returned when deleting a room that still has upcoming bookings.
	ErrRoomInUse = fmt.Errorf("%w: room has upcoming bookings", ErrConflict)
	// ErrStorageUnavailable is returned when the storage gateway cannot serve the call.
	ErrStorageUnavailable = errors.New("application: storage unavailable")
	// ErrInvalidCredentials covers both unknown emails and wrong secrets.
	ErrInvalidCredentials = errors.New("application: invalid credentials")
	// ErrTokenExpired is returned for a well-formed token whose lifetime has ended.
	ErrTokenExpired = errors.New("application: token expired")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, ", ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error. The first message per field wins.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	if _, exists := v.FieldErrors[field]; exists {
		return
	}
	v.FieldErrors[field] = message
}

func fieldError(field, message string) *ValidationError {
	vErr := &ValidationError{}
	vErr.add(field, message)
	return vErr
}

// OverlapError lists the approved bookings a candidate collides with.
type OverlapError struct {
	Conflicts []calendar.Overlap
}

func (e *OverlapError) Error() string {
	ids := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		ids[i] = fmt.Sprint(c.WithID)
	}
	return fmt.Sprintf("%v with booking(s) %s", ErrOverlap, strings.Join(ids, ", "))
}

func (e *OverlapError) Unwrap() error {
	return ErrOverlap
}

// mapGatewayError translates persistence sentinels into the application taxonomy.
// Unclassified errors are treated as storage faults.
func mapGatewayError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound), errors.Is(err, persistence.ErrForeignKeyViolation):
		return ErrNotFound
	case errors.Is(err, persistence.ErrDuplicate):
		return ErrAlreadyExists
	case errors.Is(err, persistence.ErrConstraintViolation):
		return &ValidationError{FieldErrors: map[string]string{"record": "constraint violated"}}
	case errors.Is(err, persistence.ErrUnavailable):
		return ErrStorageUnavailable
	}

	// Errors already classified by this package pass through.
	for _, known := range []error{ErrUnauthorized, ErrNotFound, ErrConflict, ErrStorageUnavailable, ErrInvalidCredentials} {
		if errors.Is(err, known) {
			return err
		}
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
