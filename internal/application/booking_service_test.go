package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/example/hall-booking/internal/events"
	"github.com/example/hall-booking/internal/persistence"
)

func TestBookingService_SubmitForcesPending(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	admin := env.admin(t, "Admin")
	alice := env.user(t, "Alice")
	room := env.room(t, admin, "Hall A", 50)

	for _, status := range []persistence.Status{"", persistence.StatusApproved, persistence.StatusRejected, "bogus"} {
		booking, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
			Principal: alice,
			Input: BookingInput{
				RoomID: room.ID, Date: "2025-06-01", Start: "09:00", End: "10:00",
				Purpose: "  planning  ", Status: status,
			},
		})
		if err != nil {
			t.Fatalf("Submit with status %q failed: %v", status, err)
		}
		if booking.Status != persistence.StatusPending {
			t.Fatalf("expected pending for requested %q, got %q", status, booking.Status)
		}
		if booking.Purpose != "planning" || booking.RoomName != "Hall A" || booking.UserID != alice.UserID {
			t.Fatalf("unexpected booking %+v", booking)
		}
	}
}

func TestBookingService_SubmitValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input BookingInput
		field string
	}{
		{name: "missing room", input: BookingInput{Date: "2025-06-01", Start: "09:00", End: "10:00"}, field: "room_id"},
		{name: "malformed date", input: BookingInput{RoomID: 1, Date: "06/01/2025", Start: "09:00", End: "10:00"}, field: "date"},
		{name: "impossible date", input: BookingInput{RoomID: 1, Date: "2025-02-30", Start: "09:00", End: "10:00"}, field: "date"},
		{name: "malformed start", input: BookingInput{RoomID: 1, Date: "2025-06-01", Start: "9am", End: "10:00"}, field: "start"},
		{name: "malformed end", input: BookingInput{RoomID: 1, Date: "2025-06-01", Start: "09:00", End: "25:00"}, field: "end"},
		{name: "end before start", input: BookingInput{RoomID: 1, Date: "2025-06-01", Start: "10:00", End: "09:00"}, field: "end"},
		{name: "zero length", input: BookingInput{RoomID: 1, Date: "2025-06-01", Start: "10:00", End: "10:00"}, field: "end"},
		{name: "past date", input: BookingInput{RoomID: 1, Date: "2025-05-29", Start: "09:00", End: "10:00"}, field: "date"},
		{name: "elapsed start today", input: BookingInput{RoomID: 1, Date: "2025-05-30", Start: "07:30", End: "09:00"}, field: "start"},
		{name: "start now", input: BookingInput{RoomID: 1, Date: "2025-05-30", Start: "08:00", End: "09:00"}, field: "start"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			alice := env.user(t, "Alice")
			_, err := env.bookings.Submit(context.Background(), SubmitBookingParams{Principal: alice, Input: tt.input})
			assertValidationField(t, err, tt.field)
		})
	}
}

func TestBookingService_SubmitLaterToday(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	admin := env.admin(t, "Admin")
	alice := env.user(t, "Alice")
	room := env.room(t, admin, "Hall A", 50)

	booking := env.submit(t, alice, room.ID, "2025-05-30", "08:01", "09:00")
	if booking.Status != persistence.StatusPending {
		t.Fatalf("expected pending, got %q", booking.Status)
	}
}

func TestBookingService_SubmitReferences(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	admin := env.admin(t, "Admin")
	alice := env.user(t, "Alice")
	room := env.room(t, admin, "Hall A", 50)

	_, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: alice,
		Input:     BookingInput{RoomID: room.ID + 10, Date: "2025-06-01", Start: "09:00", End: "10:00"},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing room, got %v", err)
	}

	_, err = env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: Principal{UserID: 4242},
		Input:     BookingInput{RoomID: room.ID, Date: "2025-06-01", Start: "09:00", End: "10:00"},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing user, got %v", err)
	}

	_, err = env.bookings.Submit(context.Background(), SubmitBookingParams{
		Input: BookingInput{RoomID: room.ID, Date: "2025-06-01", Start: "09:00", End: "10:00"},
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without a principal, got %v", err)
	}
}

// Register, book, approve, cancel: the booking disappears from the owner's list.
func TestBookingService_Lifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	admin := env.admin(t, "Admin")
	alice := env.user(t, "Alice")
	room := env.room(t, admin, "Hall A", 50)

	booking := env.submit(t, alice, room.ID, "2025-06-01", "09:00", "10:00")
	if booking.Status != persistence.StatusPending {
		t.Fatalf("expected pending, got %q", booking.Status)
	}

	approved := env.decide(t, admin, booking.ID, DecisionApprove)
	if approved.Status != persistence.StatusApproved {
		t.Fatalf("expected approved, got %q", approved.Status)
	}

	if err := env.bookings.Cancel(context.Background(), CancelBookingParams{Principal: alice, BookingID: booking.ID}); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	mine, err := env.bookings.ListMine(context.Background(), alice)
	if err != nil {
		t.Fatalf("ListMine failed: %v", err)
	}
	if len(mine) != 0 {
		t.Fatalf("expected no bookings after cancel, got %+v", mine)
	}

	history, err := env.bookings.History(context.Background(), admin, booking.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	wantKinds := []persistence.EventKind{persistence.EventCreated, persistence.EventApproved, persistence.EventCancelled}
	if len(history) != len(wantKinds) {
		t.Fatalf("expected %d events, got %+v", len(wantKinds), history)
	}
	for i, kind := range wantKinds {
		if history[i].Kind != kind {
			t.Fatalf("event %d: expected %q, got %q", i, kind, history[i].Kind)
		}
		if history[i].RoomName != "Hall A" {
			t.Fatalf("event %d: expected room name to be recorded, got %q", i, history[i].RoomName)
		}
	}
	if history[1].ActorID != admin.UserID || history[2].ActorID != alice.UserID {
		t.Fatalf("unexpected actors %+v", history)
	}

	wantChanges := []events.Kind{events.KindRoomCreated, events.KindBookingCreated, events.KindBookingApproved, events.KindBookingCancelled}
	gotChanges := env.publisher.kinds()
	if len(gotChanges) != len(wantChanges) {
		t.Fatalf("expected changes %v, got %v", wantChanges, gotChanges)
	}
	for i := range wantChanges {
		if gotChanges[i] != wantChanges[i] {
			t.Fatalf("expected changes %v, got %v", wantChanges, gotChanges)
		}
	}
}

// Two overlapping pending requests may coexist, but once one is approved the
// other can no longer be approved.
func TestBookingService_OverlapOnApproval(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	admin := env.admin(t, "Admin")
	alice := env.user(t, "Alice")
	bob := env.user(t, "Bob")
	room := env.room(t, admin, "Hall A", 50)
	other := env.room(t, admin, "Hall B", 20)

	first := env.submit(t, alice, room.ID, "2025-06-01", "09:00", "10:00")
	second := env.submit(t, bob, room.ID, "2025-06-01", "09:30", "10:30")
	elsewhere := env.submit(t, bob, other.ID, "2025-06-01", "09:30", "10:30")

	env.decide(t, admin, first.ID, DecisionApprove)

	_, err := env.bookings.Decide(context.Background(), DecideBookingParams{Principal: admin, BookingID: second.ID, Decision: DecisionApprove})
	if !errors.Is(err, ErrOverlap) || !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrOverlap, got %v", err)
	}
	var overlap *OverlapError
	if !errors.As(err, &overlap) || len(overlap.Conflicts) != 1 || overlap.Conflicts[0].WithID != first.ID {
		t.Fatalf("expected conflict with booking %d, got %v", first.ID, err)
	}

	stored, err := env.store.GetBooking(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}
	if stored.Status != persistence.StatusPending {
		t.Fatalf("expected refused booking to stay pending, got %q", stored.Status)
	}

	env.decide(t, admin, elsewhere.ID, DecisionApprove)
	if rejected := env.decide(t, admin, second.ID, DecisionReject); rejected.Status != persistence.StatusRejected {
		t.Fatalf("expected overlapping booking to be rejectable, got %q", rejected.Status)
	}
}

func TestBookingService_OverlapOnSubmit(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	admin := env.admin(t, "Admin")
	alice := env.user(t, "Alice")
	room := env.room(t, admin, "Hall A", 50)

	first := env.submit(t, alice, room.ID, "2025-06-01", "09:00", "10:00")
	env.decide(t, admin, first.ID, DecisionApprove)

	_, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
		Principal: alice,
		Input:     BookingInput{RoomID: room.ID, Date: "2025-06-01", Start: "09:59", End: "11:00"},
	})
	if !errors.Is(err, ErrOverlap) {
		t.Fatalf("expected ErrOverlap, got %v", err)
	}

	adjacent := env.submit(t, alice, room.ID, "2025-06-01", "10:00", "11:00")
	env.decide(t, admin, adjacent.ID, DecisionApprove)
}

func TestBookingService_DecideOnlyOnce(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	admin := env.admin(t, "Admin")
	alice := env.user(t, "Alice")
	room := env.room(t, admin, "Hall A", 50)
	booking := env.submit(t, alice, room.ID, "2025-06-01", "09:00", "10:00")

	env.decide(t, admin, booking.ID, DecisionReject)

	for _, decision := range []Decision{DecisionReject, DecisionApprove} {
		_, err := env.bookings.Decide(context.Background(), DecideBookingParams{Principal: admin, BookingID: booking.ID, Decision: decision})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition for repeated %s, got %v", decision, err)
		}
	}

	stored, err := env.store.GetBooking(context.Background(), booking.ID)
	if err != nil {
		t.Fatalf("GetBooking failed: %v", err)
	}
	if stored.Status != persistence.StatusRejected {
		t.Fatalf("expected booking to stay rejected, got %q", stored.Status)
	}

	history, err := env.bookings.History(context.Background(), admin, booking.ID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected created and rejected events only, got %+v", history)
	}
}

func TestBookingService_DecideGuards(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	admin := env.admin(t, "Admin")
	alice := env.user(t, "Alice")
	room := env.room(t, admin, "Hall A", 50)
	booking := env.submit(t, alice, room.ID, "2025-06-01", "09:00", "10:00")

	tests := []struct {
		name   string
		params DecideBookingParams
		want   error
		field  string
	}{
		{name: "non admin", params: DecideBookingParams{Principal: alice, BookingID: booking.ID, Decision: DecisionApprove}, want: ErrUnauthorized},
		{name: "unknown decision", params: DecideBookingParams{Principal: admin, BookingID: booking.ID, Decision: "maybe"}, field: "decision"},
		{name: "missing booking", params: DecideBookingParams{Principal: admin, BookingID: booking.ID + 50, Decision: DecisionApprove}, want: ErrNotFound},
	}
	for _, tt := range tests {
		_, err := env.bookings.Decide(context.Background(), tt.params)
		if tt.field != "" {
			assertValidationField(t, err, tt.field)
			continue
		}
		if !errors.Is(err, tt.want) {
			t.Fatalf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestBookingService_CancelGuards(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	admin := env.admin(t, "Admin")
	alice := env.user(t, "Alice")
	bob := env.user(t, "Bob")
	room := env.room(t, admin, "Hall A", 50)
	booking := env.submit(t, alice, room.ID, "2025-06-01", "09:00", "10:00")

	for _, intruder := range []Principal{bob, admin} {
		err := env.bookings.Cancel(context.Background(), CancelBookingParams{Principal: intruder, BookingID: booking.ID})
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized for user %d, got %v", intruder.UserID, err)
		}
	}
	stored, err := env.store.GetBooking(context.Background(), booking.ID)
	if err != nil {
		t.Fatalf("expected booking to remain after refused cancel: %v", err)
	}
	if stored.Status != persistence.StatusPending {
		t.Fatalf("expected booking unchanged, got %q", stored.Status)
	}

	env.decide(t, admin, booking.ID, DecisionReject)
	err = env.bookings.Cancel(context.Background(), CancelBookingParams{Principal: alice, BookingID: booking.ID})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for rejected booking, got %v", err)
	}

	err = env.bookings.Cancel(context.Background(), CancelBookingParams{Principal: alice, BookingID: booking.ID + 99})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBookingService_Listings(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	admin := env.admin(t, "Admin")
	alice := env.user(t, "Alice")
	bob := env.user(t, "Bob")
	room := env.room(t, admin, "Hall A", 50)

	early := env.submit(t, alice, room.ID, "2025-06-01", "09:00", "10:00")
	late := env.submit(t, alice, room.ID, "2025-06-03", "09:00", "10:00")
	middle := env.submit(t, bob, room.ID, "2025-06-02", "09:00", "10:00")
	env.decide(t, admin, middle.ID, DecisionApprove)

	mine, err := env.bookings.ListMine(context.Background(), alice)
	if err != nil {
		t.Fatalf("ListMine failed: %v", err)
	}
	assertBookingIDs(t, "ListMine", mine, late.ID, early.ID)
	if mine[0].RoomName != "Hall A" {
		t.Fatalf("expected room name to be joined, got %q", mine[0].RoomName)
	}

	pending, err := env.bookings.ListPending(context.Background(), admin)
	if err != nil {
		t.Fatalf("ListPending failed: %v", err)
	}
	assertBookingIDs(t, "ListPending", pending, early.ID, late.ID)

	all, err := env.bookings.ListAll(context.Background(), admin)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	assertBookingIDs(t, "ListAll", all, late.ID, middle.ID, early.ID)
	for i := 1; i < len(all); i++ {
		if all[i-1].Date.Before(all[i].Date) {
			t.Fatalf("ListAll not ordered by date descending: %+v", all)
		}
	}

	if _, err := env.bookings.ListPending(context.Background(), alice); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for ListPending, got %v", err)
	}
	if _, err := env.bookings.ListAll(context.Background(), alice); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for ListAll, got %v", err)
	}
	if _, err := env.bookings.History(context.Background(), alice, early.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for History, got %v", err)
	}
	if _, err := env.bookings.History(context.Background(), admin, 12345); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown history, got %v", err)
	}
}

func TestBookingService_PublishFailureDoesNotFailCommand(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	admin := env.admin(t, "Admin")
	alice := env.user(t, "Alice")
	room := env.room(t, admin, "Hall A", 50)

	env.publisher.err = errors.New("bus down")
	booking := env.submit(t, alice, room.ID, "2025-06-01", "09:00", "10:00")
	if booking.ID == 0 {
		t.Fatalf("expected booking to be stored")
	}
}

// Concurrent submissions for the same slot all land as pending; concurrent
// approvals of them let exactly one through.
func TestBookingService_ConcurrentApprovals(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	admin := env.admin(t, "Admin")
	room := env.room(t, admin, "Hall A", 50)

	const writers = 8
	users := make([]Principal, writers)
	for i := range users {
		users[i] = env.user(t, "User"+string(rune('A'+i)))
	}

	ids := make([]int64, writers)
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			booking, err := env.bookings.Submit(context.Background(), SubmitBookingParams{
				Principal: users[i],
				Input:     BookingInput{RoomID: room.ID, Date: "2025-06-01", Start: "09:00", End: "10:00"},
			})
			ids[i], errs[i] = booking.ID, err
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.bookings.Decide(context.Background(), DecideBookingParams{
				Principal: admin,
				BookingID: ids[i],
				Decision:  DecisionApprove,
			})
		}(i)
	}
	wg.Wait()

	approvedCount := 0
	for i, err := range errs {
		switch {
		case err == nil:
			approvedCount++
		case !errors.Is(err, ErrOverlap):
			t.Fatalf("approval %d failed unexpectedly: %v", i, err)
		}
	}
	if approvedCount != 1 {
		t.Fatalf("expected exactly one approval, got %d", approvedCount)
	}

	all, err := env.bookings.ListAll(context.Background(), admin)
	if err != nil {
		t.Fatalf("ListAll failed: %v", err)
	}
	stored := 0
	for _, booking := range all {
		if booking.Status == persistence.StatusApproved {
			stored++
		}
	}
	if stored != 1 {
		t.Fatalf("expected one approved booking in storage, got %d", stored)
	}
}

func TestBookingService_UsesConfiguredLocation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	admin := env.admin(t, "Admin")
	alice := env.user(t, "Alice")
	room := env.room(t, admin, "Hall A", 50)

	// 08:00 UTC is already 17:00 in Tokyo.
	tokyo := time.FixedZone("JST", 9*60*60)
	svc := NewBookingService(env.store, BookingServiceOptions{Now: env.clock.Now, Location: tokyo})
	_, err := svc.Submit(context.Background(), SubmitBookingParams{
		Principal: alice,
		Input:     BookingInput{RoomID: room.ID, Date: "2025-05-30", Start: "16:00", End: "18:00"},
	})
	assertValidationField(t, err, "start")
}

func assertBookingIDs(t *testing.T, label string, bookings []persistence.Booking, want ...int64) {
	t.Helper()
	if len(bookings) != len(want) {
		t.Fatalf("%s: expected %d bookings, got %d", label, len(want), len(bookings))
	}
	for i, id := range want {
		if bookings[i].ID != id {
			t.Fatalf("%s: position %d expected booking %d, got %d", label, i, id, bookings[i].ID)
		}
	}
}
