package application

import (
	"context"
	"errors"
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

// RoomStore captures the persistence operations needed by the room service.
type RoomStore interface {
	CreateRoom(ctx context.Context, room persistence.Room) (persistence.Room, error)
	GetRoom(ctx context.Context, id int64) (persistence.Room, error)
	UpdateRoom(ctx context.Context, room persistence.Room) (bool, error)
	ListRooms(ctx context.Context) ([]persistence.Room, error)
	WithRoomLock(ctx context.Context, roomID int64, fn func(tx persistence.RoomTx) error) error
}

// RoomService orchestrates validation, authorization, and persistence for rooms.
type RoomService struct {
	rooms     RoomStore
	publisher events.Publisher
	now       func() time.Time
	location  *time.Location
	logger    *slog.Logger
}

// RoomServiceOptions carries the optional collaborators of the room service.
type RoomServiceOptions struct {
	Publisher events.Publisher
	Now       func() time.Time
	// Location decides which bookings still count as upcoming. It must match
	// the booking service's zone. Defaults to time.Local.
	Location *time.Location
	Logger   *slog.Logger
}

// NewRoomServiceWithOptions constructs a room service from opts.
func NewRoomServiceWithOptions(rooms RoomStore, opts RoomServiceOptions) *RoomService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &RoomService{
		rooms:     rooms,
		publisher: opts.Publisher,
		now:       opts.Now,
		location:  opts.Location,
		logger:    logging.OrDefault(opts.Logger),
	}
}

func (s *RoomService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return logging.Scope(ctx, s.logger, "service", "RoomService", operation, attrs...)
}

// AddRoom validates input and persists a new room for administrators.
func (s *RoomService) AddRoom(ctx context.Context, params CreateRoomParams) (room persistence.Room, err error) {
	if s == nil {
		err = fmt.Errorf("RoomService is nil")
		return
	}
	if s.rooms == nil {
		err = fmt.Errorf("room store not configured")
		return
	}

	logger := s.loggerWith(ctx, "AddRoom",
		"principal_id", params.Principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to add room", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("room_id", room.ID).InfoContext(ctx, "room added")
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	vErr := validateRoomInput(params.Input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	room, err = s.rooms.CreateRoom(ctx, persistence.Room{
		Name:     strings.TrimSpace(params.Input.Name),
		Capacity: params.Input.Capacity,
	})
	if err != nil {
		err = mapGatewayError(err)
		return
	}

	s.publish(ctx, logger, events.Change{Kind: events.KindRoomCreated, RoomID: room.ID, ActorID: params.Principal.UserID})
	return
}

// EditRoom validates input and updates an existing room for administrators.
func (s *RoomService) EditRoom(ctx context.Context, params UpdateRoomParams) (room persistence.Room, err error) {
	if s == nil {
		err = fmt.Errorf("RoomService is nil")
		return
	}
	if s.rooms == nil {
		err = fmt.Errorf("room store not configured")
		return
	}

	logger := s.loggerWith(ctx, "EditRoom",
		"principal_id", params.Principal.UserID,
		"room_id", params.RoomID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to edit room", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "room edited")
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	vErr := validateRoomInput(params.Input)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var updated bool
	updated, err = s.rooms.UpdateRoom(ctx, persistence.Room{
		ID:       params.RoomID,
		Name:     strings.TrimSpace(params.Input.Name),
		Capacity: params.Input.Capacity,
	})
	if err != nil {
		err = mapGatewayError(err)
		return
	}
	if !updated {
		err = ErrNotFound
		return
	}

	room, err = s.rooms.GetRoom(ctx, params.RoomID)
	if err != nil {
		err = mapGatewayError(err)
		return
	}

	s.publish(ctx, logger, events.Change{Kind: events.KindRoomUpdated, RoomID: room.ID, ActorID: params.Principal.UserID})
	return
}

// DeleteRoom removes a room for administrators. Rooms with pending or
// approved bookings dated today or later are refused with ErrRoomInUse;
// otherwise the room's past bookings are removed with it and recorded in
// the booking history.
func (s *RoomService) DeleteRoom(ctx context.Context, params DeleteRoomParams) (removed int, err error) {
	if s == nil {
		err = fmt.Errorf("RoomService is nil")
		return
	}
	if s.rooms == nil {
		err = fmt.Errorf("room store not configured")
		return
	}

	logger := s.loggerWith(ctx, "DeleteRoom",
		"principal_id", params.Principal.UserID,
		"room_id", params.RoomID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete room", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("removed_bookings", removed).InfoContext(ctx, "room deleted")
	}()

	if !params.Principal.IsAdmin {
		err = ErrUnauthorized
		return
	}

	now := s.now().In(s.location)
	today := calendar.DateOf(now)
	err = s.rooms.WithRoomLock(ctx, params.RoomID, func(tx persistence.RoomTx) error {
		room, err := tx.GetRoom(ctx, params.RoomID)
		if err != nil {
			return err
		}

		active, err := tx.CountActiveBookingsFrom(ctx, params.RoomID, today)
		if err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("%w: %d upcoming", ErrRoomInUse, active)
		}

		bookings, deleted, err := tx.DeleteRoom(ctx, params.RoomID)
		if err != nil {
			return err
		}
		if !deleted {
			return persistence.ErrNotFound
		}

		for _, booking := range bookings {
			event := historyEvent(booking, persistence.EventRoomDeleted, params.Principal.UserID, now)
			event.RoomName = room.Name
			if err := tx.AppendEvent(ctx, event); err != nil {
				return err
			}
		}
		removed = len(bookings)
		return nil
	})
	if err != nil {
		removed = 0
		if errors.Is(err, ErrRoomInUse) {
			return
		}
		err = mapGatewayError(err)
		return
	}

	s.publish(ctx, logger, events.Change{Kind: events.KindRoomDeleted, RoomID: params.RoomID, ActorID: params.Principal.UserID})
	return
}

// ListRooms returns the catalog of rooms ordered by name.
func (s *RoomService) ListRooms(ctx context.Context, principal Principal) (rooms []persistence.Room, err error) {
	if s == nil {
		err = fmt.Errorf("RoomService is nil")
		return
	}
	if s.rooms == nil {
		return nil, nil
	}

	logger := s.loggerWith(ctx, "ListRooms",
		"principal_id", principal.UserID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to list rooms", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("result_count", len(rooms)).DebugContext(ctx, "rooms listed")
	}()

	rooms, err = s.rooms.ListRooms(ctx)
	if err != nil {
		rooms = nil
		err = mapGatewayError(err)
		return
	}
	return
}

func (s *RoomService) publish(ctx context.Context, logger *slog.Logger, change events.Change) {
	publishChange(ctx, s.publisher, logger, change, s.now)
}

func validateRoomInput(input RoomInput) *ValidationError {
	vErr := &ValidationError{}

	name := strings.TrimSpace(input.Name)
	switch {
	case name == "":
		vErr.add("name", "name is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		vErr.add("name", "name must be at most 100 characters")
	}
	if input.Capacity <= 0 {
		vErr.add("capacity", "capacity must be positive")
	}

	return vErr
}

// publishChange notifies observers of a committed change. Failures are logged
// and never undo the change.
func publishChange(ctx context.Context, publisher events.Publisher, logger *slog.Logger, change events.Change, now func() time.Time) {
	if publisher == nil {
		return
	}
	if change.OccurredAt.IsZero() {
		change.OccurredAt = now().UTC()
	}
	if err := publisher.Publish(ctx, change); err != nil {
		logger.WarnContext(ctx, "failed to publish change", "kind", change.Kind, "error", err)
	}
}

func historyEvent(booking persistence.Booking, kind persistence.EventKind, actorID int64, at time.Time) persistence.BookingEvent {
	return persistence.BookingEvent{
		BookingID:  booking.ID,
		RoomID:     booking.RoomID,
		RoomName:   booking.RoomName,
		UserID:     booking.UserID,
		ActorID:    actorID,
		Kind:       kind,
		Date:       booking.Date,
		StartTime:  booking.StartTime,
		EndTime:    booking.EndTime,
		OccurredAt: at,
	}
}
