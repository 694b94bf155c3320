package persistence

import (
	"context"

	"github.com/example/hall-booking/internal/calendar"
)

// UserRepository exposes account storage.
type UserRepository interface {
	// CreateUser assigns an ID and stores the user. ErrDuplicate when the email is taken.
	CreateUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	// GetUserByEmail matches case-insensitively.
	GetUserByEmail(ctx context.Context, email string) (User, error)
	// SetUserRole is the out-of-band promotion path. Reports false when no user matched.
	SetUserRole(ctx context.Context, id int64, role Role) (bool, error)
}

// RoomRepository exposes the room catalog.
type RoomRepository interface {
	CreateRoom(ctx context.Context, room Room) (Room, error)
	GetRoom(ctx context.Context, id int64) (Room, error)
	// UpdateRoom reports false when no room matched.
	UpdateRoom(ctx context.Context, room Room) (bool, error)
	// ListRooms orders by name ascending, ID breaking ties.
	ListRooms(ctx context.Context) ([]Room, error)
}

// BookingRepository exposes booking reads and the per-room write unit.
type BookingRepository interface {
	GetBooking(ctx context.Context, id int64) (Booking, error)
	// ListBookingsByUser orders by date then start time, newest first, joined with room names.
	ListBookingsByUser(ctx context.Context, userID int64) ([]Booking, error)
	// ListPendingBookings orders by date then start time, oldest first.
	ListPendingBookings(ctx context.Context) ([]Booking, error)
	// ListAllBookings orders by date then start time, newest first.
	ListAllBookings(ctx context.Context) ([]Booking, error)
	// ListBookingEvents returns the history of one booking, oldest first.
	ListBookingEvents(ctx context.Context, bookingID int64) ([]BookingEvent, error)
	// WithRoomLock runs fn inside one transaction that is serialized against
	// every other WithRoomLock call for the same room. An error from fn rolls
	// the transaction back.
	WithRoomLock(ctx context.Context, roomID int64, fn func(tx RoomTx) error) error
}

// RoomTx is the set of operations available inside WithRoomLock.
type RoomTx interface {
	GetRoom(ctx context.Context, id int64) (Room, error)
	UserExists(ctx context.Context, id int64) (bool, error)
	GetBooking(ctx context.Context, id int64) (Booking, error)
	// ListRoomBookingsOn returns the room's bookings on date whose status is one of statuses.
	ListRoomBookingsOn(ctx context.Context, roomID int64, date calendar.Date, statuses ...Status) ([]Booking, error)
	// InsertBooking assigns an ID and stores the booking with status forced to pending.
	InsertBooking(ctx context.Context, booking Booking) (Booking, error)
	// UpdateBookingStatus moves a booking from one status to another. Reports
	// false when the booking does not exist or is no longer in from.
	UpdateBookingStatus(ctx context.Context, id int64, from, to Status) (bool, error)
	// DeleteBooking removes a pending or approved booking owned by ownerID.
	// Reports false when no such booking matched.
	DeleteBooking(ctx context.Context, id, ownerID int64) (bool, error)
	// CountActiveBookingsFrom counts pending or approved bookings on or after date.
	CountActiveBookingsFrom(ctx context.Context, roomID int64, date calendar.Date) (int, error)
	// DeleteRoom removes the room and every booking that still references it,
	// returning the removed bookings. Reports false when no room matched.
	DeleteRoom(ctx context.Context, roomID int64) ([]Booking, bool, error)
	AppendEvent(ctx context.Context, event BookingEvent) error
}

// Gateway is the complete storage boundary.
type Gateway interface {
	UserRepository
	RoomRepository
	BookingRepository
	Close() error
}
