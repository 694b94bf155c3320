package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/hall-booking/internal/calendar"
	"github.com/example/hall-booking/internal/events"
	"github.com/example/hall-booking/internal/logging"
	"github.com/example/hall-booking/internal/persistence"
)

const maxPurposeLength = 500

// BookingStore captures the persistence operations needed by the booking service.
type BookingStore interface {
	GetBooking(ctx context.Context, id int64) (persistence.Booking, error)
	ListBookingsByUser(ctx context.Context, userID int64) ([]persistence.Booking, error)
	ListPendingBookings(ctx context.Context) ([]persistence.Booking, error)
	ListAllBookings(ctx context.Context) ([]persistence.Booking, error)
	ListBookingEvents(ctx context.Context, bookingID int64) ([]persistence.BookingEvent, error)
	WithRoomLock(ctx context.Context, roomID int64, fn func(tx persistence.RoomTx) error) error
}

// BookingService enforces the booking lifecycle: creation in pending, approval
// or rejection by administrators, and cancellation by the owner. Every
// check-then-write runs inside the store's per-room lock.
type BookingService struct {
	bookings  BookingStore
	publisher events.Publisher
	now       func() time.Time
	location  *time.Location
	logger    *slog.Logger
}

// BookingServiceOptions carries the optional collaborators of the booking service.
type BookingServiceOptions struct {
	Publisher events.Publisher
	Now       func() time.Time
	// Location is the zone booking dates and times are expressed in. Defaults to time.Local.
	Location *time.Location
	Logger   *slog.Logger
}

// NewBookingService constructs a booking service with the provided dependencies.
func NewBookingService(bookings BookingStore, opts BookingServiceOptions) *BookingService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &BookingService{
		bookings:  bookings,
		publisher: opts.Publisher,
		now:       opts.Now,
		location:  opts.Location,
		logger:    logging.OrDefault(opts.Logger),
	}
}

func (s *BookingService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return logging.Scope(ctx, s.logger, "service", "BookingService", operation, attrs...)
}

// Submit validates a booking request and stores it as pending. A request that
// overlaps an approved booking of the same room is refused with an
// *OverlapError; overlapping pending requests may coexist.
func (s *BookingService) Submit(ctx context.Context, params SubmitBookingParams) (booking persistence.Booking, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}
	if s.bookings == nil {
		err = fmt.Errorf("booking store not configured")
		return
	}

	logger := s.loggerWith(ctx, "Submit",
		"principal_id", params.Principal.UserID,
		"room_id", params.Input.RoomID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to submit booking", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("booking_id", booking.ID).InfoContext(ctx, "booking submitted")
	}()

	if params.Principal.UserID <= 0 {
		err = ErrUnauthorized
		return
	}

	now := s.now().In(s.location)
	var candidate persistence.Booking
	candidate, err = parseBookingInput(params.Input, now)
	if err != nil {
		return
	}
	candidate.UserID = params.Principal.UserID

	err = s.bookings.WithRoomLock(ctx, candidate.RoomID, func(tx persistence.RoomTx) error {
		room, err := tx.GetRoom(ctx, candidate.RoomID)
		if err != nil {
			return err
		}
		exists, err := tx.UserExists(ctx, candidate.UserID)
		if err != nil {
			return err
		}
		if !exists {
			return persistence.ErrNotFound
		}

		if err := checkOverlap(ctx, tx, candidate); err != nil {
			return err
		}

		inserted, err := tx.InsertBooking(ctx, candidate)
		if err != nil {
			return err
		}
		inserted.RoomName = room.Name

		if err := tx.AppendEvent(ctx, historyEvent(inserted, persistence.EventCreated, candidate.UserID, now)); err != nil {
			return err
		}
		booking = inserted
		return nil
	})
	if err != nil {
		booking = persistence.Booking{}
		err = mapGatewayError(err)
		return
	}

	s.publish(ctx, logger, events.Change{
		Kind:      events.KindBookingCreated,
		RoomID:    booking.RoomID,
		BookingID: booking.ID,
		ActorID:   params.Principal.UserID,
	})
	return
}

// Decide approves or rejects a pending booking for administrators. Deciding a
// booking that is no longer pending fails with ErrInvalidTransition, so a
// repeated decision never applies twice. Approval is refused with an
// *OverlapError when the booking overlaps another approved booking.
func (s *BookingService) Decide(ctx context.Context, params DecideBookingParams) (booking persistence.Booking, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}
	if s.bookings == nil {
		err = fmt.Errorf("booking store not configured")
		return
	}

	logger := s.loggerWith(ctx, "Decide",
		"principal_id", params.Principal.UserID,
		"booking_id", params.BookingID,
		"decision", params.Decision,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to decide booking", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("status", booking.Status).InfoContext(ctx, "booking decided")
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}
	if !params.Decision.Valid() {
		err = fieldError("decision", "decision must be approve or reject")
		return
	}

	var current persistence.Booking
	current, err = s.bookings.GetBooking(ctx, params.BookingID)
	if err != nil {
		err = mapGatewayError(err)
		return
	}

	now := s.now().In(s.location)
	target := params.Decision.target()
	err = s.bookings.WithRoomLock(ctx, current.RoomID, func(tx persistence.RoomTx) error {
		locked, err := tx.GetBooking(ctx, params.BookingID)
		if err != nil {
			return err
		}
		if locked.Status != persistence.StatusPending {
			return fmt.Errorf("%w: booking is %s", ErrInvalidTransition, locked.Status)
		}

		if target == persistence.StatusApproved {
			if err := checkOverlap(ctx, tx, locked); err != nil {
				return err
			}
		}

		updated, err := tx.UpdateBookingStatus(ctx, locked.ID, persistence.StatusPending, target)
		if err != nil {
			return err
		}
		if !updated {
			return ErrInvalidTransition
		}

		if err := tx.AppendEvent(ctx, historyEvent(locked, params.Decision.event(), params.Principal.UserID, now)); err != nil {
			return err
		}

		locked.Status = target
		booking = locked
		return nil
	})
	if err != nil {
		booking = persistence.Booking{}
		err = mapGatewayError(err)
		return
	}

	kind := events.KindBookingRejected
	if target == persistence.StatusApproved {
		kind = events.KindBookingApproved
	}
	s.publish(ctx, logger, events.Change{
		Kind:      kind,
		RoomID:    booking.RoomID,
		BookingID: booking.ID,
		ActorID:   params.Principal.UserID,
	})
	return
}

// Cancel deletes a pending or approved booking on behalf of its owner. Other
// users receive ErrUnauthorized; rejected bookings cannot be cancelled.
func (s *BookingService) Cancel(ctx context.Context, params CancelBookingParams) (err error) {
	if s == nil {
		return fmt.Errorf("BookingService is nil")
	}
	if s.bookings == nil {
		return fmt.Errorf("booking store not configured")
	}

	logger := s.loggerWith(ctx, "Cancel",
		"principal_id", params.Principal.UserID,
		"booking_id", params.BookingID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to cancel booking", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "booking cancelled")
	}()

	var current persistence.Booking
	current, err = s.bookings.GetBooking(ctx, params.BookingID)
	if err != nil {
		return mapGatewayError(err)
	}

	now := s.now().In(s.location)
	err = s.bookings.WithRoomLock(ctx, current.RoomID, func(tx persistence.RoomTx) error {
		locked, err := tx.GetBooking(ctx, params.BookingID)
		if err != nil {
			return err
		}
		if locked.UserID != params.Principal.UserID {
			return ErrUnauthorized
		}
		if !locked.Status.Active() {
			return fmt.Errorf("%w: booking is %s", ErrInvalidTransition, locked.Status)
		}

		deleted, err := tx.DeleteBooking(ctx, locked.ID, params.Principal.UserID)
		if err != nil {
			return err
		}
		if !deleted {
			return persistence.ErrNotFound
		}
		return tx.AppendEvent(ctx, historyEvent(locked, persistence.EventCancelled, params.Principal.UserID, now))
	})
	if err != nil {
		return mapGatewayError(err)
	}

	s.publish(ctx, logger, events.Change{
		Kind:      events.KindBookingCancelled,
		RoomID:    current.RoomID,
		BookingID: current.ID,
		ActorID:   params.Principal.UserID,
	})
	return nil
}

// ListMine returns the caller's bookings, newest date first.
func (s *BookingService) ListMine(ctx context.Context, principal Principal) (bookings []persistence.Booking, err error) {
	return s.list(ctx, "ListMine", principal, false, func() ([]persistence.Booking, error) {
		return s.bookings.ListBookingsByUser(ctx, principal.UserID)
	})
}

// ListPending returns every pending booking, oldest date first. Administrators only.
func (s *BookingService) ListPending(ctx context.Context, principal Principal) (bookings []persistence.Booking, err error) {
	return s.list(ctx, "ListPending", principal, true, func() ([]persistence.Booking, error) {
		return s.bookings.ListPendingBookings(ctx)
	})
}

// ListAll returns every booking in any status, newest date first. Administrators only.
func (s *BookingService) ListAll(ctx context.Context, principal Principal) (bookings []persistence.Booking, err error) {
	return s.list(ctx, "ListAll", principal, true, func() ([]persistence.Booking, error) {
		return s.bookings.ListAllBookings(ctx)
	})
}

func (s *BookingService) list(ctx context.Context, operation string, principal Principal, adminOnly bool, query func() ([]persistence.Booking, error)) (bookings []persistence.Booking, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}
	if s.bookings == nil {
		err = fmt.Errorf("booking store not configured")
		return
	}

	logger := s.loggerWith(ctx, operation, "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list bookings", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(bookings)).DebugContext(ctx, "bookings listed")
	}()

	if adminOnly && !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	bookings, err = query()
	if err != nil {
		bookings = nil
		err = mapGatewayError(err)
	}
	return
}

// History returns the recorded transitions of one booking, oldest first.
// Administrators only.
func (s *BookingService) History(ctx context.Context, principal Principal, bookingID int64) (history []persistence.BookingEvent, err error) {
	if s == nil {
		err = fmt.Errorf("BookingService is nil")
		return
	}
	if s.bookings == nil {
		err = fmt.Errorf("booking store not configured")
		return
	}

	logger := s.loggerWith(ctx, "History",
		"principal_id", principal.UserID,
		"booking_id", bookingID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to load booking history", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(history)).DebugContext(ctx, "booking history loaded")
	}()

	if !principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	history, err = s.bookings.ListBookingEvents(ctx, bookingID)
	if err != nil {
		history = nil
		err = mapGatewayError(err)
		return
	}
	if len(history) == 0 {
		err = ErrNotFound
	}
	return
}

func (s *BookingService) publish(ctx context.Context, logger *slog.Logger, change events.Change) {
	publishChange(ctx, s.publisher, logger, change, s.now)
}

// checkOverlap refuses candidate when it intersects an approved booking of the same room.
func checkOverlap(ctx context.Context, tx persistence.RoomTx, candidate persistence.Booking) error {
	approved, err := tx.ListRoomBookingsOn(ctx, candidate.RoomID, candidate.Date, persistence.StatusApproved)
	if err != nil {
		return err
	}
	existing := make([]calendar.Reservation, len(approved))
	for i, booking := range approved {
		existing[i] = booking.Reservation()
	}
	if conflicts := calendar.DetectOverlaps(existing, candidate.Reservation()); len(conflicts) > 0 {
		return &OverlapError{Conflicts: conflicts}
	}
	return nil
}

// parseBookingInput validates a booking request as of now. Status in the
// input is ignored.
func parseBookingInput(input BookingInput, now time.Time) (persistence.Booking, error) {
	vErr := &ValidationError{}

	if input.RoomID <= 0 {
		vErr.add("room_id", "room is required")
	}

	date, dateErr := calendar.ParseDate(input.Date)
	if dateErr != nil {
		vErr.add("date", "date must be formatted as YYYY-MM-DD")
	}
	start, startErr := calendar.ParseTimeOfDay(input.Start)
	if startErr != nil {
		vErr.add("start", "start time must be formatted as HH:MM")
	}
	end, endErr := calendar.ParseTimeOfDay(input.End)
	if endErr != nil {
		vErr.add("end", "end time must be formatted as HH:MM")
	}
	if startErr == nil && endErr == nil && start >= end {
		vErr.add("end", "end time must be after start time")
	}

	if dateErr == nil {
		today := calendar.DateOf(now)
		switch {
		case date.Before(today):
			vErr.add("date", "date must not be in the past")
		case date == today && startErr == nil && start <= calendar.TimeOfDayOf(now):
			vErr.add("start", "start time has already passed")
		}
	}

	purpose := strings.TrimSpace(input.Purpose)
	if utf8.RuneCountInString(purpose) > maxPurposeLength {
		vErr.add("purpose", "purpose must be at most 500 characters")
	}

	if vErr.HasErrors() {
		return persistence.Booking{}, vErr
	}

	return persistence.Booking{
		RoomID:    input.RoomID,
		Date:      date,
		StartTime: start,
		EndTime:   end,
		Purpose:   purpose,
		Status:    persistence.StatusPending,
	}, nil
}
