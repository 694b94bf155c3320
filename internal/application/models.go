package application

import (
	"time"

	"github.com/example/hall-booking/internal/persistence"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID  int64
	IsAdmin bool
}

// RegisterParams captures the data required to register a user.
type RegisterParams struct {
	Name     string
	Email    string
	Password string
}

// AuthenticateParams captures the data required to authenticate a user.
type AuthenticateParams struct {
	Email    string
	Password string
}

// AuthenticateResult captures the outcome of a successful authentication attempt.
type AuthenticateResult struct {
	User  persistence.User
	Token IssuedToken
}

// RoomInput captures caller provided room fields.
type RoomInput struct {
	Name     string
	Capacity int
}

// CreateRoomParams wraps the data required to create a room.
type CreateRoomParams struct {
	Principal Principal
	Input     RoomInput
}

// UpdateRoomParams wraps the data required to update a room.
type UpdateRoomParams struct {
	Principal Principal
	RoomID    int64
	Input     RoomInput
}

// DeleteRoomParams wraps the data required to delete a room.
type DeleteRoomParams struct {
	Principal Principal
	RoomID    int64
}

// BookingInput captures a booking request as typed by the user. Date is
// YYYY-MM-DD; Start and End are HH:MM or HH:MM:SS.
type BookingInput struct {
	RoomID  int64
	Date    string
	Start   string
	End     string
	Purpose string
	// Status is ignored; new bookings always start pending.
	Status persistence.Status
}

// SubmitBookingParams wraps the data required to submit a booking.
type SubmitBookingParams struct {
	Principal Principal
	Input     BookingInput
}

// Decision is an administrator's verdict on a pending booking.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

func (d Decision) target() persistence.Status {
	if d == DecisionApprove {
		return persistence.StatusApproved
	}
	return persistence.StatusRejected
}

func (d Decision) event() persistence.EventKind {
	if d == DecisionApprove {
		return persistence.EventApproved
	}
	return persistence.EventRejected
}

// DecideBookingParams wraps the data required to approve or reject a booking.
type DecideBookingParams struct {
	Principal Principal
	BookingID int64
	Decision  Decision
}

// CancelBookingParams wraps the data required to cancel a booking.
type CancelBookingParams struct {
	Principal Principal
	BookingID int64
}

// Dashboard is a read-only snapshot of what one session displays.
type Dashboard struct {
	Rooms    []persistence.Room
	Mine     []persistence.Booking
	Pending  []persistence.Booking
	LoadedAt time.Time
}
