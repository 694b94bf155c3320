package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/hall-booking/internal/application"
)

type fakeSessionValidator struct {
	principal application.Principal
	err       error
	tokens    []string
}

func (f *fakeSessionValidator) ValidateSession(ctx context.Context, token string) (application.Principal, error) {
	f.tokens = append(f.tokens, token)
	return f.principal, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSessionMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("rejects requests without valid session tokens", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name           string
			cookieToken    *http.Cookie
			headerToken    string
			lookupError    error
			expectedStatus int
			expectedCode   string
		}{
			{
				name:           "missing credentials",
				expectedStatus: http.StatusUnauthorized,
			},
			{
				name:           "non bearer header",
				headerToken:    "Basic abc",
				expectedStatus: http.StatusUnauthorized,
			},
			{
				name:           "revoked session",
				cookieToken:    &http.Cookie{Name: "session_token", Value: "revoked-token"},
				lookupError:    application.ErrUnauthorized,
				expectedStatus: http.StatusUnauthorized,
				expectedCode:   "AUTH_SESSION_INVALID",
			},
			{
				name:           "expired token",
				headerToken:    "Bearer expired",
				lookupError:    application.ErrTokenExpired,
				expectedStatus: http.StatusUnauthorized,
				expectedCode:   "AUTH_SESSION_EXPIRED",
			},
			{
				name:           "storage outage",
				headerToken:    "Bearer valid",
				lookupError:    errors.Join(application.ErrStorageUnavailable, errors.New("dial tcp: refused")),
				expectedStatus: http.StatusServiceUnavailable,
				expectedCode:   "STORAGE_UNAVAILABLE",
			},
			{
				name:           "unexpected failure",
				headerToken:    "Bearer valid",
				lookupError:    errors.New("boom"),
				expectedStatus: http.StatusInternalServerError,
			},
		}

		for _, tc := range tests {
			tc := tc
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()

				req := httptest.NewRequest(http.MethodGet, "/protected", nil)
				if tc.cookieToken != nil {
					req.AddCookie(tc.cookieToken)
				}
				if tc.headerToken != "" {
					req.Header.Set("Authorization", tc.headerToken)
				}
				recorder := httptest.NewRecorder()

				validator := &fakeSessionValidator{err: tc.lookupError}
				handler := RequireSession(validator, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					t.Fatal("next handler should not be called when authentication fails")
				}))
				handler.ServeHTTP(recorder, req)

				if recorder.Code != tc.expectedStatus {
					t.Fatalf("expected %d, got %d", tc.expectedStatus, recorder.Code)
				}
				resp := decode[errorResponse](t, recorder)
				if resp.ErrorCode != tc.expectedCode || resp.Message == "" {
					t.Fatalf("unexpected body %+v", resp)
				}
				if tc.lookupError != nil && resp.Message == tc.lookupError.Error() {
					t.Fatalf("raw error text leaked into the response")
				}
			})
		}
	})

	t.Run("attaches authenticated principal to request context", func(t *testing.T) {
		t.Parallel()

		principal := application.Principal{UserID: 42, IsAdmin: true}
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		req.Header.Set("Authorization", "Bearer valid-token")
		recorder := httptest.NewRecorder()

		validator := &fakeSessionValidator{principal: principal}
		var captured application.Principal
		handler := RequireSession(validator, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				t.Fatal("expected principal in request context")
			}
			captured = p
			w.WriteHeader(http.StatusOK)
		}))
		handler.ServeHTTP(recorder, req)

		if recorder.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", recorder.Code)
		}
		if captured != principal {
			t.Fatalf("expected %+v, got %+v", principal, captured)
		}
		if len(validator.tokens) != 1 || validator.tokens[0] != "valid-token" {
			t.Fatalf("unexpected validated tokens %v", validator.tokens)
		}
	})
}

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	var sawLogger bool
	handler := RequestLogger(discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = LoggerFromContext(r.Context()) != nil
		w.WriteHeader(http.StatusNoContent)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/rooms", nil))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/rooms", nil))

	if !sawLogger {
		t.Fatalf("expected request logger in context")
	}
	id := first.Header().Get("X-Request-ID")
	if id == "" || id == second.Header().Get("X-Request-ID") {
		t.Fatalf("expected distinct request ids, got %q and %q", id, second.Header().Get("X-Request-ID"))
	}
}

func TestRequestLoggerRecordsStatusAndKeepsIncomingID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	const incoming = "6f1c1f3e-8d2a-4b7e-9a51-0c2d3e4f5a6b"
	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	req.Header.Set("X-Request-ID", incoming)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != incoming {
		t.Fatalf("expected incoming request id to be kept, got %q", got)
	}
	out := buf.String()
	if !strings.Contains(out, `"status":418`) || !strings.Contains(out, incoming) {
		t.Fatalf("expected completion record with status and id, got %s", out)
	}

	req = httptest.NewRequest(http.MethodGet, "/rooms", nil)
	req.Header.Set("X-Request-ID", "not-a-uuid")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got == "not-a-uuid" || got == "" {
		t.Fatalf("expected a fresh request id, got %q", got)
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &application.ValidationError{FieldErrors: map[string]string{"date": "date is required"}}, http.StatusUnprocessableEntity, "VALIDATION_FAILED"},
		{"credentials", application.ErrInvalidCredentials, http.StatusUnauthorized, "AUTH_INVALID_CREDENTIALS"},
		{"forbidden", application.ErrUnauthorized, http.StatusForbidden, "AUTH_FORBIDDEN"},
		{"not found", application.ErrNotFound, http.StatusNotFound, ""},
		{"duplicate", application.ErrAlreadyExists, http.StatusConflict, "EMAIL_TAKEN"},
		{"overlap", &application.OverlapError{}, http.StatusConflict, "BOOKING_OVERLAP"},
		{"transition", application.ErrInvalidTransition, http.StatusConflict, "BOOKING_STATE"},
		{"room in use", application.ErrRoomInUse, http.StatusConflict, "ROOM_IN_USE"},
		{"storage", errors.Join(application.ErrStorageUnavailable, errors.New("database is locked")), http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, ""},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, resp := classifyError(tc.err)
			if status != tc.status || resp.ErrorCode != tc.code {
				t.Fatalf("expected %d/%q, got %d/%q", tc.status, tc.code, status, resp.ErrorCode)
			}
			if resp.Message == "" || resp.Message == tc.err.Error() {
				t.Fatalf("expected a fixed message, got %q", resp.Message)
			}
		})
	}
}
