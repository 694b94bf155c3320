package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/hall-booking/internal/application"
	"github.com/example/hall-booking/internal/logging"
	"github.com/example/hall-booking/internal/persistence"
)

type roomService interface {
	AddRoom(ctx context.Context, params application.CreateRoomParams) (persistence.Room, error)
	EditRoom(ctx context.Context, params application.UpdateRoomParams) (persistence.Room, error)
	DeleteRoom(ctx context.Context, params application.DeleteRoomParams) (int, error)
	ListRooms(ctx context.Context, principal application.Principal) ([]persistence.Room, error)
}

// RoomHandler serves the room catalog.
type RoomHandler struct {
	service   roomService
	responder responder
	logger    *slog.Logger
}

func NewRoomHandler(service roomService, logger *slog.Logger) *RoomHandler {
	base := logging.OrDefault(logger)
	return &RoomHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *RoomHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return logging.Scope(ctx, h.logger, "handler", "RoomHandler", operation, attrs...)
}

// Create adds a room. Administrators only.
func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		unavailable(w)
		return
	}
	ctx := r.Context()
	principal, _ := PrincipalFromContext(ctx)
	logger := h.log(ctx, "Create", "principal_id", principal.UserID)

	var req roomRequest
	if !h.responder.decode(w, r, logger, &req) {
		return
	}

	room, err := h.service.AddRoom(ctx, application.CreateRoomParams{Principal: principal, Input: req.toInput()})
	if err != nil {
		h.responder.fail(ctx, w, logger, "room creation failed", err)
		return
	}

	logger.InfoContext(ctx, "room created", "room_id", room.ID)
	h.responder.writeJSON(ctx, w, http.StatusCreated, roomResponse{Room: toRoomDTO(room)})
}

// Update renames or resizes a room. Administrators only.
func (h *RoomHandler) Update(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		unavailable(w)
		return
	}
	ctx := r.Context()
	roomID, principal, logger, ok := h.target(w, r, "Update")
	if !ok {
		return
	}

	var req roomRequest
	if !h.responder.decode(w, r, logger, &req) {
		return
	}

	room, err := h.service.EditRoom(ctx, application.UpdateRoomParams{
		Principal: principal,
		RoomID:    roomID,
		Input:     req.toInput(),
	})
	if err != nil {
		h.responder.fail(ctx, w, logger, "room update failed", err)
		return
	}

	logger.InfoContext(ctx, "room updated")
	h.responder.writeJSON(ctx, w, http.StatusOK, roomResponse{Room: toRoomDTO(room)})
}

// Delete removes a room with no upcoming bookings, reporting how many past
// bookings went with it.
func (h *RoomHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		unavailable(w)
		return
	}
	ctx := r.Context()
	roomID, principal, logger, ok := h.target(w, r, "Delete")
	if !ok {
		return
	}

	removed, err := h.service.DeleteRoom(ctx, application.DeleteRoomParams{Principal: principal, RoomID: roomID})
	if err != nil {
		h.responder.fail(ctx, w, logger, "room delete failed", err)
		return
	}

	logger.InfoContext(ctx, "room deleted", "removed_bookings", removed)
	h.responder.writeJSON(ctx, w, http.StatusOK, deleteRoomResponse{RemovedBookings: removed})
}

func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		unavailable(w)
		return
	}
	ctx := r.Context()
	principal, ok := PrincipalFromContext(ctx)
	if !ok || principal.UserID <= 0 {
		h.responder.writeError(ctx, w, http.StatusUnauthorized, errMissingSessionToken)
		return
	}
	logger := h.log(ctx, "List", "principal_id", principal.UserID)

	rooms, err := h.service.ListRooms(ctx, principal)
	if err != nil {
		h.responder.fail(ctx, w, logger, "room list failed", err)
		return
	}

	logger.DebugContext(ctx, "rooms listed", "result_count", len(rooms))
	h.responder.writeJSON(ctx, w, http.StatusOK, listRoomsResponse{Rooms: toRoomDTOs(rooms)})
}

// target resolves the room addressed by the path and the acting principal.
func (h *RoomHandler) target(w http.ResponseWriter, r *http.Request, operation string) (int64, application.Principal, *slog.Logger, bool) {
	ctx := r.Context()
	principal, _ := PrincipalFromContext(ctx)
	roomID, ok := RoomIDFromContext(ctx)
	if !ok {
		h.responder.writeError(ctx, w, http.StatusBadRequest, errInvalidRoomID)
		return 0, principal, nil, false
	}
	return roomID, principal, h.log(ctx, operation, "principal_id", principal.UserID, "room_id", roomID), true
}

type roomRequest struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

func (r roomRequest) toInput() application.RoomInput {
	return application.RoomInput{Name: r.Name, Capacity: r.Capacity}
}

type roomResponse struct {
	Room roomDTO `json:"room"`
}

type listRoomsResponse struct {
	Rooms []roomDTO `json:"rooms"`
}

type deleteRoomResponse struct {
	RemovedBookings int `json:"removed_bookings"`
}

type roomDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toRoomDTO(room persistence.Room) roomDTO {
	return roomDTO{
		ID:        room.ID,
		Name:      room.Name,
		Capacity:  room.Capacity,
		CreatedAt: room.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt: room.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func toRoomDTOs(rooms []persistence.Room) []roomDTO {
	out := make([]roomDTO, 0, len(rooms))
	for _, room := range rooms {
		out = append(out, toRoomDTO(room))
	}
	return out
}
