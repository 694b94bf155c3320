package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/example/hall-booking/internal/application"
)

var (
	errBadRequestBody      = errors.New("the request body is malformed")
	errInvalidRoomID       = errors.New("the room id is invalid")
	errInvalidBookingID    = errors.New("the booking id is invalid")
	errMissingSessionToken = errors.New("an authentication token is required")
)

type responder struct {
	logger *slog.Logger
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := statusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	status, resp := classifyError(err)
	r.writeJSON(ctx, w, status, resp)
}

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// decode reads a JSON body into dst. On failure it answers 400 and reports false.
func (r responder) decode(w http.ResponseWriter, req *http.Request, logger *slog.Logger, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes)).Decode(dst); err != nil {
		logger.WarnContext(req.Context(), "malformed request body", "error", err, "error_kind", "bad_request")
		r.writeError(req.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return false
	}
	return true
}

// fail logs err with its kind and answers with the classified response.
// Client errors log at warn, server faults at error.
func (r responder) fail(ctx context.Context, w http.ResponseWriter, logger *slog.Logger, msg string, err error) {
	status, resp := classifyError(err)
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	logger.Log(ctx, level, msg, "error", err, "error_kind", application.ErrorKind(err), "status", status)
	r.writeJSON(ctx, w, status, resp)
}

// unavailable answers 500 for a handler built without its service.
func unavailable(w http.ResponseWriter) {
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

// classifyError maps a service error to a status and a fixed, user facing
// body. Storage fault text never reaches the body.
func classifyError(err error) (int, errorResponse) {
	if err == nil {
		return http.StatusInternalServerError, errorResponse{Message: statusMessage(http.StatusInternalServerError)}
	}

	var vErr *application.ValidationError
	switch {
	case errors.As(err, &vErr):
		return http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: "VALIDATION_FAILED",
			Message:   statusMessage(http.StatusUnprocessableEntity),
			Errors:    validationDetails(vErr),
		}
	case errors.Is(err, application.ErrInvalidCredentials):
		return http.StatusUnauthorized, errorResponse{
			ErrorCode: "AUTH_INVALID_CREDENTIALS",
			Message:   "email or password is incorrect",
		}
	case errors.Is(err, application.ErrTokenExpired):
		return http.StatusUnauthorized, errorResponse{
			ErrorCode: "AUTH_SESSION_EXPIRED",
			Message:   "the session has expired, please log in again",
		}
	case errors.Is(err, application.ErrUnauthorized):
		return http.StatusForbidden, errorResponse{
			ErrorCode: "AUTH_FORBIDDEN",
			Message:   statusMessage(http.StatusForbidden),
		}
	case errors.Is(err, application.ErrNotFound):
		return http.StatusNotFound, errorResponse{Message: statusMessage(http.StatusNotFound)}
	case errors.Is(err, application.ErrAlreadyExists):
		return http.StatusConflict, errorResponse{
			ErrorCode: "EMAIL_TAKEN",
			Message:   "an account with this email already exists",
		}
	case errors.Is(err, application.ErrOverlap):
		return http.StatusConflict, errorResponse{
			ErrorCode: "BOOKING_OVERLAP",
			Message:   "the requested time overlaps an approved booking for this room",
		}
	case errors.Is(err, application.ErrInvalidTransition):
		return http.StatusConflict, errorResponse{
			ErrorCode: "BOOKING_STATE",
			Message:   "the booking can no longer be changed",
		}
	case errors.Is(err, application.ErrRoomInUse):
		return http.StatusConflict, errorResponse{
			ErrorCode: "ROOM_IN_USE",
			Message:   "the room still has upcoming bookings",
		}
	case errors.Is(err, application.ErrConflict):
		return http.StatusConflict, errorResponse{Message: statusMessage(http.StatusConflict)}
	case errors.Is(err, application.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, errorResponse{
			ErrorCode: "STORAGE_UNAVAILABLE",
			Message:   statusMessage(http.StatusServiceUnavailable),
		}
	default:
		return http.StatusInternalServerError, errorResponse{Message: statusMessage(http.StatusInternalServerError)}
	}
}

func statusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "the request is invalid"
	case http.StatusUnauthorized:
		return "authentication is required"
	case http.StatusForbidden:
		return "you are not allowed to perform this operation"
	case http.StatusNotFound:
		return "the requested resource was not found"
	case http.StatusConflict:
		return "the request conflicts with the current state of the resource"
	case http.StatusUnprocessableEntity:
		return "the request contains invalid fields"
	case http.StatusServiceUnavailable:
		return "the service is temporarily unavailable, please try again"
	default:
		return "an internal error occurred"
	}
}

func validationDetails(vErr *application.ValidationError) map[string]string {
	if vErr == nil || len(vErr.FieldErrors) == 0 {
		return nil
	}
	details := make(map[string]string, len(vErr.FieldErrors))
	for field, msg := range vErr.FieldErrors {
		details[field] = msg
	}
	return details
}

type errorResponse struct {
	ErrorCode string            `json:"error_code,omitempty"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
}
