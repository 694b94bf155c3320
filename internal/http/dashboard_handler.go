package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/hall-booking/internal/application"
	"github.com/example/hall-booking/internal/logging"
	"github.com/example/hall-booking/internal/refresh"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// errSessionEnded marks a refresh whose bearer token no longer validates.
var errSessionEnded = errors.New("dashboard session ended")

type dashboardLoader interface {
	Load(ctx context.Context, principal application.Principal) (application.Dashboard, error)
}

// DashboardHandler streams dashboard snapshots over a websocket. Each
// connection owns one refresh session, and every refresh re-validates the
// bearer token so logout and role changes reach open sockets.
type DashboardHandler struct {
	loader     dashboardLoader
	sessions   SessionValidator
	supervisor *refresh.Supervisor[application.Dashboard]
	upgrader   websocket.Upgrader
	logger     *slog.Logger
}

func NewDashboardHandler(loader dashboardLoader, sessions SessionValidator, supervisor *refresh.Supervisor[application.Dashboard], logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		loader:     loader,
		sessions:   sessions,
		supervisor: supervisor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: logging.OrDefault(logger),
	}
}

func (h *DashboardHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return logging.Scope(ctx, h.logger, "handler", "DashboardHandler", operation, attrs...)
}

// Stream upgrades the request and pushes a snapshot every refresh interval and
// after every committed change. A client message {"type":"refresh"} requests
// an immediate snapshot.
func (h *DashboardHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.loader == nil || h.sessions == nil || h.supervisor == nil {
		unavailable(w)
		return
	}

	principal, ok := PrincipalFromContext(r.Context())
	token := extractTokenFromRequest(r)
	if !ok || principal.UserID <= 0 || token == "" {
		newResponder(h.logger).writeError(r.Context(), w, http.StatusUnauthorized, errMissingSessionToken)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.log(r.Context(), "Stream", "principal_id", principal.UserID).WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	session, err := h.supervisor.Open(r.Context(), func(ctx context.Context) (application.Dashboard, error) {
		return h.load(ctx, token)
	})
	if err != nil {
		h.log(r.Context(), "Stream", "principal_id", principal.UserID).ErrorContext(r.Context(), "failed to open refresh session", "error", err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	logger := h.log(r.Context(), "Stream", "principal_id", principal.UserID, "session_id", session.ID())
	logger.InfoContext(r.Context(), "dashboard stream opened")

	go readPump(conn, session, logger)
	writePump(conn, session, logger)

	logger.InfoContext(r.Context(), "dashboard stream closed")
}

// load resolves the token again before reading, so the snapshot reflects the
// caller's current role.
func (h *DashboardHandler) load(ctx context.Context, token string) (application.Dashboard, error) {
	principal, err := h.sessions.ValidateSession(ctx, token)
	if err != nil {
		if errors.Is(err, application.ErrUnauthorized) || errors.Is(err, application.ErrTokenExpired) {
			return application.Dashboard{}, fmt.Errorf("%w: %w", errSessionEnded, err)
		}
		return application.Dashboard{}, err
	}
	return h.loader.Load(ctx, principal)
}

func readPump(conn *websocket.Conn, session *refresh.Session[application.Dashboard], logger *slog.Logger) {
	defer session.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		if msg.Type == "refresh" {
			session.Refresh()
		}
	}
}

func writePump(conn *websocket.Conn, session *refresh.Session[application.Dashboard], logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		session.Close()
		_ = conn.Close()
	}()

	for {
		select {
		case snapshot, ok := <-session.Updates():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteJSON(toDashboardMessage(snapshot)); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return
			}
			if errors.Is(snapshot.Err, errSessionEnded) {
				logger.Info("dashboard session no longer valid", "error_kind", application.ErrorKind(snapshot.Err))
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session ended"))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type clientMessage struct {
	Type string `json:"type"`
}

type dashboardMessage struct {
	Type     string         `json:"type"`
	Seq      uint64         `json:"seq"`
	LoadedAt string         `json:"loaded_at,omitempty"`
	Rooms    []roomDTO      `json:"rooms,omitempty"`
	Mine     []bookingDTO   `json:"my_bookings,omitempty"`
	Pending  []bookingDTO   `json:"pending_bookings,omitempty"`
	Error    *errorResponse `json:"error,omitempty"`
}

func toDashboardMessage(snapshot refresh.Snapshot[application.Dashboard]) dashboardMessage {
	if snapshot.Err != nil {
		_, resp := classifyError(snapshot.Err)
		if errors.Is(snapshot.Err, errSessionEnded) && !errors.Is(snapshot.Err, application.ErrTokenExpired) {
			resp = errorResponse{
				ErrorCode: "AUTH_SESSION_INVALID",
				Message:   "the session is invalid, please log in again",
			}
		}
		return dashboardMessage{Type: "error", Seq: snapshot.Seq, Error: &resp}
	}
	dashboard := snapshot.Value
	return dashboardMessage{
		Type:     "snapshot",
		Seq:      snapshot.Seq,
		LoadedAt: dashboard.LoadedAt.UTC().Format(time.RFC3339Nano),
		Rooms:    toRoomDTOs(dashboard.Rooms),
		Mine:     toBookingDTOs(dashboard.Mine),
		Pending:  toBookingDTOs(dashboard.Pending),
	}
}
