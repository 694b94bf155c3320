package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/example/hall-booking/internal/application"
	"github.com/example/hall-booking/internal/logging"
	"github.com/example/hall-booking/internal/persistence"
)

type bookingService interface {
	Submit(ctx context.Context, params application.SubmitBookingParams) (persistence.Booking, error)
	Decide(ctx context.Context, params application.DecideBookingParams) (persistence.Booking, error)
	Cancel(ctx context.Context, params application.CancelBookingParams) error
	ListMine(ctx context.Context, principal application.Principal) ([]persistence.Booking, error)
	ListPending(ctx context.Context, principal application.Principal) ([]persistence.Booking, error)
	ListAll(ctx context.Context, principal application.Principal) ([]persistence.Booking, error)
	History(ctx context.Context, principal application.Principal, bookingID int64) ([]persistence.BookingEvent, error)
}

type BookingHandler struct {
	service   bookingService
	responder responder
	logger    *slog.Logger
}

func NewBookingHandler(service bookingService, logger *slog.Logger) *BookingHandler {
	base := logging.OrDefault(logger)
	return &BookingHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *BookingHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return logging.Scope(ctx, h.logger, "handler", "BookingHandler", operation, attrs...)
}

// Create submits a booking request for the caller. The new booking is always pending.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		unavailable(w)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req bookingRequest
	if !h.responder.decode(w, r, h.log(r.Context(), "Create", "principal_id", principal.UserID), &req) {
		return
	}

	logger := h.log(r.Context(), "Create", "principal_id", principal.UserID, "room_id", req.RoomID)

	booking, err := h.service.Submit(r.Context(), application.SubmitBookingParams{
		Principal: principal,
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.fail(r.Context(), w, logger, "booking submission failed", err)
		return
	}

	logger.InfoContext(r.Context(), "booking submitted", "booking_id", booking.ID)
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, bookingResponse{Booking: toBookingDTO(booking)})
}

// Decide approves or rejects a pending booking.
func (h *BookingHandler) Decide(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		unavailable(w)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req decisionRequest
	if !h.responder.decode(w, r, h.log(r.Context(), "Decide", "principal_id", principal.UserID), &req) {
		return
	}

	decision := application.Decision(strings.ToLower(strings.TrimSpace(req.Decision)))
	logger := h.log(r.Context(), "Decide", "principal_id", principal.UserID, "booking_id", bookingID, "decision", decision)

	booking, err := h.service.Decide(r.Context(), application.DecideBookingParams{
		Principal: principal,
		BookingID: bookingID,
		Decision:  decision,
	})
	if err != nil {
		h.responder.fail(r.Context(), w, logger, "booking decision failed", err)
		return
	}

	logger.InfoContext(r.Context(), "booking decided", "status", booking.Status)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, bookingResponse{Booking: toBookingDTO(booking)})
}

// Cancel withdraws one of the caller's bookings.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		unavailable(w)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "Cancel", "principal_id", principal.UserID, "booking_id", bookingID)

	if err := h.service.Cancel(r.Context(), application.CancelBookingParams{Principal: principal, BookingID: bookingID}); err != nil {
		h.responder.fail(r.Context(), w, logger, "booking cancel failed", err)
		return
	}

	logger.InfoContext(r.Context(), "booking cancelled")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// List returns the caller's bookings, or with scope=pending|all the
// administrator views.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		unavailable(w)
		return
	}

	principal, ok := PrincipalFromContext(r.Context())
	if !ok || principal.UserID <= 0 {
		h.responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingSessionToken)
		return
	}

	scope := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("scope")))
	logger := h.log(r.Context(), "List", "principal_id", principal.UserID, "scope", scope)

	var (
		bookings []persistence.Booking
		err      error
	)
	switch scope {
	case "", "mine":
		bookings, err = h.service.ListMine(r.Context(), principal)
	case "pending":
		bookings, err = h.service.ListPending(r.Context(), principal)
	case "all":
		bookings, err = h.service.ListAll(r.Context(), principal)
	default:
		h.responder.writeJSON(r.Context(), w, http.StatusBadRequest, errorResponse{
			Message: statusMessage(http.StatusBadRequest),
			Errors:  map[string]string{"scope": "scope must be mine, pending or all"},
		})
		return
	}
	if err != nil {
		h.responder.fail(r.Context(), w, logger, "booking list failed", err)
		return
	}

	logger.DebugContext(r.Context(), "bookings listed", "result_count", len(bookings))
	h.responder.writeJSON(r.Context(), w, http.StatusOK, listBookingsResponse{Bookings: toBookingDTOs(bookings)})
}

// History returns the recorded transitions of one booking.
func (h *BookingHandler) History(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		unavailable(w)
		return
	}

	bookingID, ok := BookingIDFromContext(r.Context())
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidBookingID)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := h.log(r.Context(), "History", "principal_id", principal.UserID, "booking_id", bookingID)

	history, err := h.service.History(r.Context(), principal, bookingID)
	if err != nil {
		h.responder.fail(r.Context(), w, logger, "booking history failed", err)
		return
	}

	logger.DebugContext(r.Context(), "booking history listed", "result_count", len(history))
	h.responder.writeJSON(r.Context(), w, http.StatusOK, historyResponse{Events: toEventDTOs(history)})
}

type bookingRequest struct {
	RoomID  int64  `json:"room_id"`
	Date    string `json:"date"`
	Start   string `json:"start_time"`
	End     string `json:"end_time"`
	Purpose string `json:"purpose"`
	Status  string `json:"status"`
}

func (r bookingRequest) toInput() application.BookingInput {
	return application.BookingInput{
		RoomID:  r.RoomID,
		Date:    r.Date,
		Start:   r.Start,
		End:     r.End,
		Purpose: r.Purpose,
		Status:  persistence.Status(r.Status),
	}
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

type bookingResponse struct {
	Booking bookingDTO `json:"booking"`
}

type listBookingsResponse struct {
	Bookings []bookingDTO `json:"bookings"`
}

type historyResponse struct {
	Events []eventDTO `json:"events"`
}

type bookingDTO struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	RoomID    int64  `json:"room_id"`
	RoomName  string `json:"room_name,omitempty"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Purpose   string `json:"purpose"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toBookingDTO(booking persistence.Booking) bookingDTO {
	return bookingDTO{
		ID:        booking.ID,
		UserID:    booking.UserID,
		UserName:  booking.UserName,
		RoomID:    booking.RoomID,
		RoomName:  booking.RoomName,
		Date:      booking.Date.String(),
		StartTime: booking.StartTime.String(),
		EndTime:   booking.EndTime.String(),
		Purpose:   booking.Purpose,
		Status:    string(booking.Status),
		CreatedAt: booking.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: booking.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toBookingDTOs(bookings []persistence.Booking) []bookingDTO {
	out := make([]bookingDTO, 0, len(bookings))
	for _, booking := range bookings {
		out = append(out, toBookingDTO(booking))
	}
	return out
}

type eventDTO struct {
	Kind       string `json:"kind"`
	BookingID  int64  `json:"booking_id"`
	RoomID     int64  `json:"room_id"`
	RoomName   string `json:"room_name"`
	UserID     int64  `json:"user_id"`
	ActorID    int64  `json:"actor_id"`
	Date       string `json:"date"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	OccurredAt string `json:"occurred_at"`
}

func toEventDTOs(events []persistence.BookingEvent) []eventDTO {
	out := make([]eventDTO, 0, len(events))
	for _, event := range events {
		out = append(out, eventDTO{
			Kind:       string(event.Kind),
			BookingID:  event.BookingID,
			RoomID:     event.RoomID,
			RoomName:   event.RoomName,
			UserID:     event.UserID,
			ActorID:    event.ActorID,
			Date:       event.Date.String(),
			StartTime:  event.StartTime.String(),
			EndTime:    event.EndTime.String(),
			OccurredAt: event.OccurredAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return out
}
