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

type authService interface {
	Register(ctx context.Context, params application.RegisterParams) (persistence.User, error)
	Authenticate(ctx context.Context, params application.AuthenticateParams) (application.AuthenticateResult, error)
	Logout(ctx context.Context, token string) error
}

// AuthHandler serves registration, login and logout.
type AuthHandler struct {
	service   authService
	responder responder
	logger    *slog.Logger
}

func NewAuthHandler(service authService, logger *slog.Logger) *AuthHandler {
	base := logging.OrDefault(logger)
	return &AuthHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *AuthHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return logging.Scope(ctx, h.logger, "handler", "AuthHandler", operation, attrs...)
}

// Register creates an account with the user role.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		unavailable(w)
		return
	}
	ctx := r.Context()
	logger := h.log(ctx, "Register")

	var req registerRequest
	if !h.responder.decode(w, r, logger, &req) {
		return
	}

	user, err := h.service.Register(ctx, application.RegisterParams{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.responder.fail(ctx, w, logger, "registration failed", err)
		return
	}

	logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	h.responder.writeJSON(ctx, w, http.StatusCreated, userResponse{User: toUserDTO(user)})
}

// CreateSession exchanges credentials for a bearer token. The token is
// returned in the body, the X-Session-Token header and a cookie.
func (h *AuthHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		unavailable(w)
		return
	}
	ctx := r.Context()
	logger := h.log(ctx, "CreateSession")

	var req loginRequest
	if !h.responder.decode(w, r, logger, &req) {
		return
	}

	result, err := h.service.Authenticate(ctx, application.AuthenticateParams{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.responder.fail(ctx, w, logger, "authentication rejected", err)
		return
	}

	token := result.Token
	setSessionCookie(w, token.Token, token.ExpiresAt)
	w.Header().Set("X-Session-Token", token.Token)

	logger.InfoContext(ctx, "user authenticated", "user_id", result.User.ID)
	h.responder.writeJSON(ctx, w, http.StatusCreated, loginResponse{
		Token:     token.Token,
		ExpiresAt: token.ExpiresAt.UTC().Format(time.RFC3339Nano),
		User:      toUserDTO(result.User),
	})
}

// DeleteCurrentSession revokes the token that authenticated the request.
func (h *AuthHandler) DeleteCurrentSession(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		unavailable(w)
		return
	}
	ctx := r.Context()

	token := extractTokenFromRequest(r)
	if token == "" {
		h.responder.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{
			ErrorCode: "AUTH_SESSION_EXPIRED",
			Message:   errMissingSessionToken.Error(),
		})
		return
	}

	principal, _ := PrincipalFromContext(ctx)
	logger := h.log(ctx, "DeleteCurrentSession", "principal_id", principal.UserID)

	if err := h.service.Logout(ctx, token); err != nil {
		h.responder.fail(ctx, w, logger, "session revocation failed", err)
		return
	}

	clearSessionCookie(w)
	logger.InfoContext(ctx, "session revoked")
	h.responder.writeJSON(ctx, w, http.StatusNoContent, nil)
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string  `json:"token"`
	ExpiresAt string  `json:"expires_at"`
	User      userDTO `json:"user"`
}

type userResponse struct {
	User userDTO `json:"user"`
}

type userDTO struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"is_admin"`
}

func toUserDTO(user persistence.User) userDTO {
	return userDTO{ID: user.ID, Name: user.Name, Email: user.Email, IsAdmin: user.IsAdmin()}
}

func setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	cookie := &http.Cookie{
		Name:     "session_token",
		Value:    token,
		HttpOnly: true,
		Secure:   true,
		Path:     "/",
	}
	if !expires.IsZero() {
		cookie.Expires = expires.UTC()
	}
	http.SetCookie(w, cookie)
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     "session_token",
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
	})
}

func extractTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		const prefix = "Bearer "
		if strings.HasPrefix(header, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(header, prefix))
		}
	}
	if cookie, err := r.Cookie("session_token"); err == nil {
		return cookie.Value
	}
	return ""
}
