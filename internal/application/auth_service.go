package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/example/hall-booking/internal/logging"
	"github.com/example/hall-booking/internal/persistence"
)

const (
	maxNameLength     = 100
	maxPasswordLength = 256
)

// UserStore exposes the account operations required by the auth service.
type UserStore interface {
	CreateUser(ctx context.Context, user persistence.User) (persistence.User, error)
	GetUser(ctx context.Context, id int64) (persistence.User, error)
	GetUserByEmail(ctx context.Context, email string) (persistence.User, error)
}

// Tokens issues and verifies bearer tokens.
type Tokens interface {
	Issue(user persistence.User) (IssuedToken, error)
	Verify(token string) (TokenClaims, error)
}

// TokenRevocations remembers tokens that were logged out before expiry.
type TokenRevocations interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// AuthService coordinates registration, login, and bearer token validation.
type AuthService struct {
	users          UserStore
	tokens         Tokens
	revocations    TokenRevocations
	hashPassword   PasswordHasher
	verifyPassword PasswordVerifier
	logger         *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// AuthServiceOptions carries the optional collaborators of the auth service.
type AuthServiceOptions struct {
	Revocations TokenRevocations
	Hash        PasswordHasher
	Verify      PasswordVerifier
	Logger      *slog.Logger
}

// NewAuthService constructs an AuthService with default hashing and no revocation list.
func NewAuthService(users UserStore, tokens Tokens) *AuthService {
	return NewAuthServiceWithOptions(users, tokens, AuthServiceOptions{})
}

// NewAuthServiceWithOptions constructs an AuthService with explicit collaborators.
func NewAuthServiceWithOptions(users UserStore, tokens Tokens, opts AuthServiceOptions) *AuthService {
	if opts.Hash == nil {
		opts.Hash = HashPassword
	}
	if opts.Verify == nil {
		opts.Verify = VerifyPassword
	}
	return &AuthService{
		users:          users,
		tokens:         tokens,
		revocations:    opts.Revocations,
		hashPassword:   opts.Hash,
		verifyPassword: opts.Verify,
		logger:         logging.OrDefault(opts.Logger),
	}
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return logging.Scope(ctx, s.logger, "service", "AuthService", operation, attrs...)
}

// Register validates input and stores a new account with the user role.
func (s *AuthService) Register(ctx context.Context, params RegisterParams) (user persistence.User, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}
	if s.users == nil {
		err = fmt.Errorf("user store not configured")
		return
	}

	name := strings.TrimSpace(params.Name)
	email := normalizeEmail(params.Email)

	logger := s.loggerWith(ctx, "Register", "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "registration failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", user.ID).InfoContext(ctx, "user registered")
	}()

	vErr := &ValidationError{}
	switch {
	case name == "":
		vErr.add("name", "name is required")
	case utf8.RuneCountInString(name) > maxNameLength:
		vErr.add("name", "name must be at most 100 characters")
	}
	if email == "" {
		vErr.add("email", "email is required")
	} else if !validEmail(email) {
		vErr.add("email", "email is not a valid address")
	}
	switch {
	case params.Password == "":
		vErr.add("password", "password is required")
	case len(params.Password) > maxPasswordLength:
		vErr.add("password", "password must be at most 256 bytes")
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	var hash string
	hash, err = s.hashPassword(params.Password)
	if err != nil {
		err = fmt.Errorf("hash password: %w", err)
		return
	}

	user, err = s.users.CreateUser(ctx, persistence.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         persistence.RoleUser,
	})
	if err != nil {
		err = mapGatewayError(err)
		return
	}
	return
}

// Authenticate verifies credentials and issues a bearer token. Unknown emails
// and wrong secrets both yield ErrInvalidCredentials.
func (s *AuthService) Authenticate(ctx context.Context, params AuthenticateParams) (result AuthenticateResult, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}
	if s.users == nil || s.tokens == nil {
		err = fmt.Errorf("auth service not configured")
		return
	}

	email := normalizeEmail(params.Email)

	logger := s.loggerWith(ctx, "Authenticate", "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "authentication failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"user_id", result.User.ID,
			"token_id", result.Token.ID,
		).InfoContext(ctx, "authentication succeeded")
	}()

	if email == "" || params.Password == "" {
		err = ErrInvalidCredentials
		return
	}

	var user persistence.User
	user, err = s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			// Spend the same work as a real comparison.
			_ = s.verifyPassword(s.placeholderHash(), params.Password)
			err = ErrInvalidCredentials
			return
		}
		err = mapGatewayError(err)
		return
	}

	if verifyErr := s.verifyPassword(user.PasswordHash, params.Password); verifyErr != nil {
		err = ErrInvalidCredentials
		return
	}

	var token IssuedToken
	token, err = s.tokens.Issue(user)
	if err != nil {
		return
	}

	result = AuthenticateResult{User: user, Token: token}
	return
}

// ValidateSession verifies a bearer token and returns the principal with the
// user's current role.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (principal Principal, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}
	if s.users == nil || s.tokens == nil {
		err = fmt.Errorf("auth service not configured")
		return
	}

	trimmed := strings.TrimSpace(token)
	logger := s.loggerWith(ctx, "ValidateSession", "token_provided", trimmed != "")
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "session validation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("principal_id", principal.UserID).DebugContext(ctx, "session validated")
	}()

	if trimmed == "" {
		err = ErrUnauthorized
		return
	}

	var claims TokenClaims
	claims, err = s.tokens.Verify(trimmed)
	if err != nil {
		return
	}

	if s.revocations != nil {
		revoked, revErr := s.revocations.IsRevoked(ctx, claims.TokenID)
		if revErr != nil {
			err = fmt.Errorf("%w: %v", ErrStorageUnavailable, revErr)
			return
		}
		if revoked {
			err = ErrUnauthorized
			return
		}
	}

	var user persistence.User
	user, err = s.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrUnauthorized
			return
		}
		err = mapGatewayError(err)
		return
	}

	principal = Principal{UserID: user.ID, IsAdmin: user.IsAdmin()}
	return
}

// Logout revokes token until it would have expired. Without a revocation
// list, logout is left to the client discarding the token.
func (s *AuthService) Logout(ctx context.Context, token string) (err error) {
	if s == nil {
		return fmt.Errorf("AuthService is nil")
	}
	if s.tokens == nil {
		return fmt.Errorf("token issuer not configured")
	}

	logger := s.loggerWith(ctx, "Logout")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "logout failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "token revoked")
	}()

	var claims TokenClaims
	claims, err = s.tokens.Verify(strings.TrimSpace(token))
	if err != nil {
		return
	}
	if s.revocations == nil {
		return nil
	}
	if revErr := s.revocations.Revoke(ctx, claims.TokenID, claims.ExpiresAt); revErr != nil {
		err = fmt.Errorf("%w: %v", ErrStorageUnavailable, revErr)
	}
	return
}

func (s *AuthService) placeholderHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hashPassword("placeholder-secret")
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1
}
