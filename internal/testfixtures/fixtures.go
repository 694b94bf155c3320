package testfixtures

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/hall-booking/internal/application"
	"github.com/example/hall-booking/internal/calendar"
	"github.com/example/hall-booking/internal/persistence"
)

var (
	userCounter uint64
	roomCounter uint64
)

// referenceTime is a Friday morning; fixture bookings default to the Sunday after.
var referenceTime = time.Date(2025, time.May, 30, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ----------------------------- User fixtures -----------------------------

// UserFixture represents a deterministic account that can be registered or
// seeded directly into a gateway.
type UserFixture struct {
	Name     string
	Email    string
	Password string
	Role     persistence.Role
}

// UserOption configures the generated user fixture.
type UserOption func(*UserFixture)

// NewUserFixture returns a deterministic user fixture with optional overrides.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	fixture := UserFixture{
		Name:     fmt.Sprintf("User %03d", idx),
		Email:    fmt.Sprintf("user-%03d@example.com", idx),
		Password: fmt.Sprintf("secret-%03d", idx),
		Role:     persistence.RoleUser,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithUserName overrides the generated display name.
func WithUserName(name string) UserOption {
	return func(f *UserFixture) {
		f.Name = name
	}
}

// WithUserEmail overrides the generated email address.
func WithUserEmail(email string) UserOption {
	return func(f *UserFixture) {
		f.Email = email
	}
}

// WithUserPassword overrides the generated secret.
func WithUserPassword(password string) UserOption {
	return func(f *UserFixture) {
		f.Password = password
	}
}

// WithUserAdmin gives the fixture the admin role.
func WithUserAdmin() UserOption {
	return func(f *UserFixture) {
		f.Role = persistence.RoleAdmin
	}
}

// Register returns the fixture as registration parameters.
func (f UserFixture) Register() application.RegisterParams {
	return application.RegisterParams{Name: f.Name, Email: f.Email, Password: f.Password}
}

// Credentials returns the fixture as login parameters.
func (f UserFixture) Credentials() application.AuthenticateParams {
	return application.AuthenticateParams{Email: f.Email, Password: f.Password}
}

// ----------------------------- Room fixtures -----------------------------

// RoomFixture represents a deterministic meeting room.
type RoomFixture struct {
	Name     string
	Capacity int
}

// RoomOption configures the generated room fixture.
type RoomOption func(*RoomFixture)

// NewRoomFixture returns a deterministic room fixture with optional overrides.
func NewRoomFixture(opts ...RoomOption) RoomFixture {
	idx := atomic.AddUint64(&roomCounter, 1)
	fixture := RoomFixture{
		Name:     fmt.Sprintf("Room %03d", idx),
		Capacity: int(4 + idx%4),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithRoomName overrides the generated room name.
func WithRoomName(name string) RoomOption {
	return func(f *RoomFixture) {
		f.Name = name
	}
}

// WithRoomCapacity overrides the generated capacity.
func WithRoomCapacity(capacity int) RoomOption {
	return func(f *RoomFixture) {
		f.Capacity = capacity
	}
}

// Input returns the fixture as application room input.
func (f RoomFixture) Input() application.RoomInput {
	return application.RoomInput{Name: f.Name, Capacity: f.Capacity}
}

// --------------------------- Booking fixtures ----------------------------

// BookingFixture represents a booking request in the wire format users type.
type BookingFixture struct {
	RoomID  int64
	Date    string
	Start   string
	End     string
	Purpose string
}

// BookingOption configures the generated booking fixture.
type BookingOption func(*BookingFixture)

// NewBookingFixture returns a 09:00-10:00 request two days after ReferenceTime.
func NewBookingFixture(roomID int64, opts ...BookingOption) BookingFixture {
	fixture := BookingFixture{
		RoomID:  roomID,
		Date:    referenceTime.AddDate(0, 0, 2).Format("2006-01-02"),
		Start:   "09:00",
		End:     "10:00",
		Purpose: "Planning",
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithBookingDate overrides the booking date (YYYY-MM-DD).
func WithBookingDate(date string) BookingOption {
	return func(f *BookingFixture) {
		f.Date = date
	}
}

// WithBookingTimes overrides the start and end times (HH:MM).
func WithBookingTimes(start, end string) BookingOption {
	return func(f *BookingFixture) {
		f.Start = start
		f.End = end
	}
}

// WithBookingPurpose overrides the purpose text.
func WithBookingPurpose(purpose string) BookingOption {
	return func(f *BookingFixture) {
		f.Purpose = purpose
	}
}

// Input returns the fixture as application booking input.
func (f BookingFixture) Input() application.BookingInput {
	return application.BookingInput{RoomID: f.RoomID, Date: f.Date, Start: f.Start, End: f.End, Purpose: f.Purpose}
}

// Persistence parses the fixture into a storage record owned by userID.
func (f BookingFixture) Persistence(tb testing.TB, userID int64) persistence.Booking {
	tb.Helper()
	date, err := calendar.ParseDate(f.Date)
	if err != nil {
		tb.Fatalf("fixture date: %v", err)
	}
	start, err := calendar.ParseTimeOfDay(f.Start)
	if err != nil {
		tb.Fatalf("fixture start: %v", err)
	}
	end, err := calendar.ParseTimeOfDay(f.End)
	if err != nil {
		tb.Fatalf("fixture end: %v", err)
	}
	return persistence.Booking{
		UserID:    userID,
		RoomID:    f.RoomID,
		Date:      date,
		StartTime: start,
		EndTime:   end,
		Purpose:   strings.TrimSpace(f.Purpose),
	}
}

// ------------------------------- Seeding ---------------------------------

// SeedUser stores the fixture directly, bypassing registration. The stored
// hash is produced with hash so the fixture's password authenticates.
func SeedUser(tb testing.TB, gw persistence.Gateway, fixture UserFixture, hash application.PasswordHasher) persistence.User {
	tb.Helper()
	if hash == nil {
		hash = application.HashPassword
	}
	digest, err := hash(fixture.Password)
	if err != nil {
		tb.Fatalf("hash fixture password: %v", err)
	}
	user, err := gw.CreateUser(context.Background(), persistence.User{
		Name:         fixture.Name,
		Email:        strings.ToLower(fixture.Email),
		PasswordHash: digest,
		Role:         fixture.Role,
	})
	if err != nil {
		tb.Fatalf("seed user %s: %v", fixture.Email, err)
	}
	return user
}

// SeedRoom stores the fixture directly.
func SeedRoom(tb testing.TB, gw persistence.Gateway, fixture RoomFixture) persistence.Room {
	tb.Helper()
	room, err := gw.CreateRoom(context.Background(), persistence.Room{Name: fixture.Name, Capacity: fixture.Capacity})
	if err != nil {
		tb.Fatalf("seed room %s: %v", fixture.Name, err)
	}
	return room
}

// SeedBooking stores the fixture for userID and moves it to status. Dates in
// the past are accepted, which lets tests build history the services refuse.
func SeedBooking(tb testing.TB, gw persistence.Gateway, userID int64, fixture BookingFixture, status persistence.Status) persistence.Booking {
	tb.Helper()
	record := fixture.Persistence(tb, userID)

	var booking persistence.Booking
	err := gw.WithRoomLock(context.Background(), record.RoomID, func(tx persistence.RoomTx) error {
		inserted, err := tx.InsertBooking(context.Background(), record)
		if err != nil {
			return err
		}
		if status != "" && status != persistence.StatusPending {
			if _, err := tx.UpdateBookingStatus(context.Background(), inserted.ID, persistence.StatusPending, status); err != nil {
				return err
			}
			inserted.Status = status
		}
		booking = inserted
		return nil
	})
	if err != nil {
		tb.Fatalf("seed booking: %v", err)
	}
	return booking
}
