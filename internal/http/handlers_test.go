package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/example/hall-booking/internal/application"
	"github.com/example/hall-booking/internal/refresh"
	"github.com/example/hall-booking/internal/testfixtures"
)

type apiHarness struct {
	t          *testing.T
	handler    http.Handler
	services   *testfixtures.Services
	clock      *testfixtures.Clock
	supervisor *refresh.Supervisor[application.Dashboard]
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()

	factory := testfixtures.NewServiceFactory()
	gw := testfixtures.NewMemoryGateway(factory.Clock)
	services := factory.NewServices(gw)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	supervisor := refresh.NewSupervisor[application.Dashboard](refresh.Config{
		Clock:  factory.Clock,
		Logger: logger,
		NewID:  factory.IDGenerator.Next,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = supervisor.Shutdown(ctx)
	})

	handler := NewRouter(RouterConfig{
		Auth:       NewAuthHandler(services.Auth, logger),
		Rooms:      NewRoomHandler(services.Rooms, logger),
		Bookings:   NewBookingHandler(services.Bookings, logger),
		Dashboard:  NewDashboardHandler(services.Dashboard, services.Auth, supervisor, logger),
		Session:    RequireSession(services.Auth, logger),
		Middleware: []func(http.Handler) http.Handler{RequestLogger(logger)},
	})

	return &apiHarness{t: t, handler: handler, services: services, clock: factory.Clock, supervisor: supervisor}
}

func (h *apiHarness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

// login seeds an account and returns its bearer token.
func (h *apiHarness) login(opts ...testfixtures.UserOption) string {
	h.t.Helper()
	fixture := testfixtures.NewUserFixture(opts...)
	testfixtures.SeedUser(h.t, h.services.Gateway, fixture, testfixtures.FastHash)

	rec := h.do(http.MethodPost, "/sessions", "", map[string]string{"email": fixture.Email, "password": fixture.Password})
	if rec.Code != http.StatusCreated {
		h.t.Fatalf("login failed: %d %s", rec.Code, rec.Body.String())
	}
	return decode[loginResponse](h.t, rec).Token
}

func (h *apiHarness) createRoom(adminToken, name string, capacity int) roomDTO {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/rooms", adminToken, map[string]any{"name": name, "capacity": capacity})
	if rec.Code != http.StatusCreated {
		h.t.Fatalf("create room failed: %d %s", rec.Code, rec.Body.String())
	}
	return decode[roomResponse](h.t, rec).Room
}

func (h *apiHarness) submit(token string, roomID int64, start, end string) bookingDTO {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/bookings", token, map[string]any{
		"room_id": roomID, "date": "2025-06-01", "start_time": start, "end_time": end, "purpose": "Planning",
	})
	if rec.Code != http.StatusCreated {
		h.t.Fatalf("submit failed: %d %s", rec.Code, rec.Body.String())
	}
	return decode[bookingResponse](h.t, rec).Booking
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %T from %q: %v", out, rec.Body.String(), err)
	}
	return out
}

func TestAuthHandlers(t *testing.T) {
	t.Parallel()

	t.Run("registration then login issues token via header and cookie", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)

		rec := h.do(http.MethodPost, "/users", "", map[string]string{"name": "Alice", "email": "Alice@Example.com", "password": "wonderland"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
		}
		user := decode[userResponse](t, rec).User
		if user.Email != "alice@example.com" || user.IsAdmin {
			t.Fatalf("unexpected user %+v", user)
		}

		// Passwords registered through the API use the factory hasher.
		rec = h.do(http.MethodPost, "/sessions", "", map[string]string{"email": "alice@example.com", "password": "wonderland"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
		}
		login := decode[loginResponse](t, rec)
		if login.Token == "" || rec.Header().Get("X-Session-Token") != login.Token {
			t.Fatalf("expected token in body and header, got %+v", login)
		}
		var cookieFound bool
		for _, cookie := range rec.Result().Cookies() {
			if cookie.Name == "session_token" && cookie.Value == login.Token {
				cookieFound = true
			}
		}
		if !cookieFound {
			t.Fatalf("expected session cookie")
		}
	})

	t.Run("duplicate email answers conflict", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		body := map[string]string{"name": "Alice", "email": "alice@example.com", "password": "wonderland"}
		h.do(http.MethodPost, "/users", "", body)

		rec := h.do(http.MethodPost, "/users", "", body)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		if resp := decode[errorResponse](t, rec); resp.ErrorCode != "EMAIL_TAKEN" {
			t.Fatalf("unexpected body %+v", resp)
		}
	})

	t.Run("unknown email and wrong password share one response", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		h.do(http.MethodPost, "/users", "", map[string]string{"name": "Alice", "email": "alice@example.com", "password": "wonderland"})

		wrong := h.do(http.MethodPost, "/sessions", "", map[string]string{"email": "alice@example.com", "password": "looking-glass"})
		unknown := h.do(http.MethodPost, "/sessions", "", map[string]string{"email": "bob@example.com", "password": "wonderland"})

		if wrong.Code != http.StatusUnauthorized || unknown.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for both, got %d and %d", wrong.Code, unknown.Code)
		}
		if wrong.Body.String() != unknown.Body.String() {
			t.Fatalf("expected identical bodies, got %q and %q", wrong.Body.String(), unknown.Body.String())
		}
	})

	t.Run("logout revokes the session", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		token := h.login()

		if rec := h.do(http.MethodGet, "/rooms", token, nil); rec.Code != http.StatusOK {
			t.Fatalf("expected token to work before logout, got %d", rec.Code)
		}
		if rec := h.do(http.MethodDelete, "/sessions/current", token, nil); rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d %s", rec.Code, rec.Body.String())
		}
		rec := h.do(http.MethodGet, "/rooms", token, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected revoked token to be refused, got %d", rec.Code)
		}
	})

	t.Run("malformed body answers bad request", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		h.handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

func TestRoomHandlers(t *testing.T) {
	t.Parallel()

	t.Run("allow non-admins to list rooms", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		admin := h.login(testfixtures.WithUserAdmin())
		user := h.login()
		h.createRoom(admin, "Hall B", 10)
		h.createRoom(admin, "Hall A", 50)

		rec := h.do(http.MethodGet, "/rooms", user, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		rooms := decode[listRoomsResponse](t, rec).Rooms
		if len(rooms) != 2 || rooms[0].Name != "Hall A" {
			t.Fatalf("expected rooms sorted by name, got %+v", rooms)
		}
	})

	t.Run("require admin role for mutations", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		admin := h.login(testfixtures.WithUserAdmin())
		user := h.login()
		room := h.createRoom(admin, "Hall A", 50)

		cases := []struct {
			method string
			path   string
			body   any
		}{
			{http.MethodPost, "/rooms", map[string]any{"name": "Hall C", "capacity": 5}},
			{http.MethodPut, "/rooms/" + itoa(room.ID), map[string]any{"name": "Hall Z", "capacity": 5}},
			{http.MethodDelete, "/rooms/" + itoa(room.ID), nil},
		}
		for _, tc := range cases {
			rec := h.do(tc.method, tc.path, user, tc.body)
			if rec.Code != http.StatusForbidden {
				t.Fatalf("%s %s: expected 403, got %d", tc.method, tc.path, rec.Code)
			}
			if resp := decode[errorResponse](t, rec); resp.ErrorCode != "AUTH_FORBIDDEN" {
				t.Fatalf("unexpected body %+v", resp)
			}
		}
	})

	t.Run("update and validation", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		admin := h.login(testfixtures.WithUserAdmin())
		room := h.createRoom(admin, "Hall A", 50)

		rec := h.do(http.MethodPut, "/rooms/"+itoa(room.ID), admin, map[string]any{"name": "Hall A+", "capacity": 60})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
		}
		if updated := decode[roomResponse](t, rec).Room; updated.Name != "Hall A+" || updated.Capacity != 60 {
			t.Fatalf("unexpected room %+v", updated)
		}

		rec = h.do(http.MethodPost, "/rooms", admin, map[string]any{"name": " ", "capacity": 0})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
		resp := decode[errorResponse](t, rec)
		if resp.Errors["name"] == "" || resp.Errors["capacity"] == "" {
			t.Fatalf("expected field errors, got %+v", resp)
		}

		if rec := h.do(http.MethodPut, "/rooms/999", admin, map[string]any{"name": "Ghost", "capacity": 1}); rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		if rec := h.do(http.MethodPut, "/rooms/abc", admin, map[string]any{"name": "Ghost", "capacity": 1}); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
		}
	})

	t.Run("delete is refused while bookings are upcoming", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		admin := h.login(testfixtures.WithUserAdmin())
		user := h.login()
		room := h.createRoom(admin, "Hall A", 50)
		h.submit(user, room.ID, "09:00", "10:00")

		rec := h.do(http.MethodDelete, "/rooms/"+itoa(room.ID), admin, nil)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
		if resp := decode[errorResponse](t, rec); resp.ErrorCode != "ROOM_IN_USE" {
			t.Fatalf("unexpected body %+v", resp)
		}

		empty := h.createRoom(admin, "Hall B", 5)
		rec = h.do(http.MethodDelete, "/rooms/"+itoa(empty.ID), admin, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
		}
		if resp := decode[deleteRoomResponse](t, rec); resp.RemovedBookings != 0 {
			t.Fatalf("unexpected response %+v", resp)
		}
	})
}

func TestBookingHandlers(t *testing.T) {
	t.Parallel()

	t.Run("submit approve cancel lifecycle", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		admin := h.login(testfixtures.WithUserAdmin())
		user := h.login()
		room := h.createRoom(admin, "Hall A", 50)

		rec := h.do(http.MethodPost, "/bookings", user, map[string]any{
			"room_id": room.ID, "date": "2025-06-01", "start_time": "09:00", "end_time": "10:00",
			"purpose": "Planning", "status": "approved",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d %s", rec.Code, rec.Body.String())
		}
		booking := decode[bookingResponse](t, rec).Booking
		if booking.Status != "pending" || booking.StartTime != "09:00:00" || booking.RoomName != "Hall A" {
			t.Fatalf("unexpected booking %+v", booking)
		}

		rec = h.do(http.MethodPost, "/bookings/"+itoa(booking.ID)+"/decision", admin, map[string]string{"decision": "approve"})
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d %s", rec.Code, rec.Body.String())
		}
		if decided := decode[bookingResponse](t, rec).Booking; decided.Status != "approved" {
			t.Fatalf("expected approved, got %+v", decided)
		}

		rec = h.do(http.MethodGet, "/bookings", user, nil)
		mine := decode[listBookingsResponse](t, rec).Bookings
		if len(mine) != 1 || mine[0].Status != "approved" {
			t.Fatalf("unexpected listing %+v", mine)
		}

		if rec := h.do(http.MethodDelete, "/bookings/"+itoa(booking.ID), user, nil); rec.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d %s", rec.Code, rec.Body.String())
		}
		rec = h.do(http.MethodGet, "/bookings?scope=mine", user, nil)
		if mine := decode[listBookingsResponse](t, rec).Bookings; len(mine) != 0 {
			t.Fatalf("expected cancelled booking to disappear, got %+v", mine)
		}

		rec = h.do(http.MethodGet, "/bookings/"+itoa(booking.ID)+"/history", admin, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		history := decode[historyResponse](t, rec).Events
		kinds := make([]string, 0, len(history))
		for _, event := range history {
			kinds = append(kinds, event.Kind)
		}
		if len(kinds) != 3 || kinds[0] != "created" || kinds[1] != "approved" || kinds[2] != "cancelled" {
			t.Fatalf("unexpected history %v", kinds)
		}
	})

	t.Run("second overlapping approval is refused", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		admin := h.login(testfixtures.WithUserAdmin())
		user := h.login()
		room := h.createRoom(admin, "Hall A", 50)

		first := h.submit(user, room.ID, "09:00", "10:00")
		second := h.submit(user, room.ID, "09:30", "10:30")

		if rec := h.do(http.MethodPost, "/bookings/"+itoa(first.ID)+"/decision", admin, map[string]string{"decision": "approve"}); rec.Code != http.StatusOK {
			t.Fatalf("expected first approval, got %d", rec.Code)
		}
		rec := h.do(http.MethodPost, "/bookings/"+itoa(second.ID)+"/decision", admin, map[string]string{"decision": "approve"})
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d %s", rec.Code, rec.Body.String())
		}
		if resp := decode[errorResponse](t, rec); resp.ErrorCode != "BOOKING_OVERLAP" {
			t.Fatalf("unexpected body %+v", resp)
		}

		rec = h.do(http.MethodPost, "/bookings/"+itoa(first.ID)+"/decision", admin, map[string]string{"decision": "reject"})
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected deciding twice to conflict, got %d", rec.Code)
		}
		if resp := decode[errorResponse](t, rec); resp.ErrorCode != "BOOKING_STATE" {
			t.Fatalf("unexpected body %+v", resp)
		}
	})

	t.Run("validation errors are reported per field", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		user := h.login()

		rec := h.do(http.MethodPost, "/bookings", user, map[string]any{
			"room_id": 1, "date": "2025-05-01", "start_time": "11:00", "end_time": "10:00",
		})
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
		resp := decode[errorResponse](t, rec)
		if resp.Errors["date"] != "date must not be in the past" || resp.Errors["end"] != "end time must be after start time" {
			t.Fatalf("unexpected field errors %+v", resp.Errors)
		}
	})

	t.Run("admin listings and access rules", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		admin := h.login(testfixtures.WithUserAdmin())
		user := h.login()
		other := h.login()
		room := h.createRoom(admin, "Hall A", 50)
		booking := h.submit(user, room.ID, "09:00", "10:00")

		for _, scope := range []string{"pending", "all"} {
			if rec := h.do(http.MethodGet, "/bookings?scope="+scope, user, nil); rec.Code != http.StatusForbidden {
				t.Fatalf("scope %s: expected 403, got %d", scope, rec.Code)
			}
			rec := h.do(http.MethodGet, "/bookings?scope="+scope, admin, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("scope %s: expected 200, got %d", scope, rec.Code)
			}
			if listed := decode[listBookingsResponse](t, rec).Bookings; len(listed) != 1 || listed[0].ID != booking.ID {
				t.Fatalf("scope %s: unexpected listing %+v", scope, listed)
			}
		}

		if rec := h.do(http.MethodGet, "/bookings?scope=everything", admin, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for unknown scope, got %d", rec.Code)
		}
		if rec := h.do(http.MethodDelete, "/bookings/"+itoa(booking.ID), other, nil); rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403 when cancelling another user's booking, got %d", rec.Code)
		}
		if rec := h.do(http.MethodGet, "/bookings/"+itoa(booking.ID)+"/history", user, nil); rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403 for history as non-admin, got %d", rec.Code)
		}
		if rec := h.do(http.MethodGet, "/bookings/"+itoa(booking.ID)+"/unknown", admin, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for unknown action, got %d", rec.Code)
		}
		if rec := h.do(http.MethodDelete, "/bookings/999", user, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for missing booking, got %d", rec.Code)
		}
	})

	t.Run("requests without a session are refused", func(t *testing.T) {
		t.Parallel()
		h := newAPIHarness(t)
		for _, path := range []string{"/rooms", "/bookings", "/dashboard"} {
			if rec := h.do(http.MethodGet, path, "", nil); rec.Code != http.StatusUnauthorized {
				t.Fatalf("%s: expected 401, got %d", path, rec.Code)
			}
		}
	})
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
