package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/hall-booking/internal/events"
	"github.com/example/hall-booking/internal/persistence"
	"github.com/example/hall-booking/internal/persistence/memory"
)

// testNow is a Friday morning; bookings on 2025-06-01 are two days ahead.
var testNow = time.Date(2025, time.May, 30, 8, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testNow}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// plainHash keeps tests fast; argon2id is covered in password_test.go.
func plainHash(password string) (string, error) {
	return "plain:" + password, nil
}

func plainVerify(hash, password string) error {
	if hash != "plain:"+password {
		return ErrInvalidCredentials
	}
	return nil
}

type publisherStub struct {
	mu      sync.Mutex
	changes []events.Change
	err     error
}

func (p *publisherStub) Publish(ctx context.Context, change events.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.changes = append(p.changes, change)
	return nil
}

func (p *publisherStub) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	kinds := make([]events.Kind, len(p.changes))
	for i, change := range p.changes {
		kinds[i] = change.Kind
	}
	return kinds
}

type testEnv struct {
	clock     *testClock
	store     *memory.Storage
	publisher *publisherStub
	tokens    *TokenIssuer
	auth      *AuthService
	rooms     *RoomService
	bookings  *BookingService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	clock := newTestClock()
	store := memory.New(clock.Now)
	publisher := &publisherStub{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := NewTokenIssuer([]byte("test-secret"), time.Hour, clock.Now)

	return &testEnv{
		clock:     clock,
		store:     store,
		publisher: publisher,
		tokens:    tokens,
		auth: NewAuthServiceWithOptions(store, tokens, AuthServiceOptions{
			Hash:   plainHash,
			Verify: plainVerify,
			Logger: logger,
		}),
		rooms: NewRoomServiceWithOptions(store, RoomServiceOptions{
			Publisher: publisher,
			Now:       clock.Now,
			Location:  time.UTC,
			Logger:    logger,
		}),
		bookings: NewBookingService(store, BookingServiceOptions{
			Publisher: publisher,
			Now:       clock.Now,
			Location:  time.UTC,
			Logger:    logger,
		}),
	}
}

func (e *testEnv) user(t *testing.T, name string) Principal {
	t.Helper()
	user, err := e.auth.Register(context.Background(), RegisterParams{
		Name:     name,
		Email:    strings.ToLower(name) + "@example.com",
		Password: "secret-" + name,
	})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", name, err)
	}
	return Principal{UserID: user.ID}
}

func (e *testEnv) admin(t *testing.T, name string) Principal {
	t.Helper()
	principal := e.user(t, name)
	ok, err := e.store.SetUserRole(context.Background(), principal.UserID, persistence.RoleAdmin)
	if err != nil || !ok {
		t.Fatalf("SetUserRole failed: ok=%t err=%v", ok, err)
	}
	principal.IsAdmin = true
	return principal
}

func (e *testEnv) room(t *testing.T, admin Principal, name string, capacity int) persistence.Room {
	t.Helper()
	room, err := e.rooms.AddRoom(context.Background(), CreateRoomParams{
		Principal: admin,
		Input:     RoomInput{Name: name, Capacity: capacity},
	})
	if err != nil {
		t.Fatalf("AddRoom(%s) failed: %v", name, err)
	}
	return room
}

func (e *testEnv) submit(t *testing.T, principal Principal, roomID int64, date, start, end string) persistence.Booking {
	t.Helper()
	booking, err := e.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: principal,
		Input:     BookingInput{RoomID: roomID, Date: date, Start: start, End: end, Purpose: "sync"},
	})
	if err != nil {
		t.Fatalf("Submit(%s %s-%s) failed: %v", date, start, end, err)
	}
	return booking
}

func (e *testEnv) decide(t *testing.T, admin Principal, bookingID int64, decision Decision) persistence.Booking {
	t.Helper()
	booking, err := e.bookings.Decide(context.Background(), DecideBookingParams{
		Principal: admin,
		BookingID: bookingID,
		Decision:  decision,
	})
	if err != nil {
		t.Fatalf("Decide(%d, %s) failed: %v", bookingID, decision, err)
	}
	return booking
}

func assertValidationField(t *testing.T, err error, field string) {
	t.Helper()
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok := vErr.FieldErrors[field]; !ok {
		t.Fatalf("expected field %q in %v", field, vErr.FieldErrors)
	}
}
