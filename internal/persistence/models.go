package persistence

import (
	"time"

	"github.com/example/hall-booking/internal/calendar"
)

// Role distinguishes ordinary users from administrators.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Status is the approval state of a booking.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Active reports whether a booking in this status still claims its room.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusApproved
}

// User is a registered account. Email is unique and used as the login key.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Room is a bookable meeting room.
type Room struct {
	ID        int64
	Name      string
	Capacity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Booking is a request to occupy a room for an interval on one date.
// RoomName and UserName are populated only by joined listings.
type Booking struct {
	ID        int64
	UserID    int64
	RoomID    int64
	Date      calendar.Date
	StartTime calendar.TimeOfDay
	EndTime   calendar.TimeOfDay
	Purpose   string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time

	RoomName string
	UserName string
}

// Slot returns the booking's interval.
func (b Booking) Slot() calendar.Slot {
	return calendar.Slot{Date: b.Date, Start: b.StartTime, End: b.EndTime}
}

// Reservation returns the booking as an overlap candidate.
func (b Booking) Reservation() calendar.Reservation {
	return calendar.Reservation{ID: b.ID, RoomID: b.RoomID, Slot: b.Slot()}
}

// EventKind labels an entry in the booking history.
type EventKind string

const (
	EventCreated     EventKind = "created"
	EventApproved    EventKind = "approved"
	EventRejected    EventKind = "rejected"
	EventCancelled   EventKind = "cancelled"
	EventRoomDeleted EventKind = "room_deleted"
)

// BookingEvent is an append-only history record. It carries copies of the
// booking attributes so it survives deletion of the booking and its room.
type BookingEvent struct {
	ID         int64
	BookingID  int64
	RoomID     int64
	RoomName   string
	UserID     int64
	ActorID    int64
	Kind       EventKind
	Date       calendar.Date
	StartTime  calendar.TimeOfDay
	EndTime    calendar.TimeOfDay
	OccurredAt time.Time
}
