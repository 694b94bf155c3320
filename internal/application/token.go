package application

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/example/hall-booking/internal/persistence"
)

const tokenIssuer = "hall-booking"

// IssuedToken is a signed bearer token handed to a client after login.
type IssuedToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// TokenClaims identifies the user a token was issued to. The role is not
// embedded; it is re-read from storage on every validation so promotions
// take effect without a new login.
type TokenClaims struct {
	UserID    int64
	TokenID   string
	ExpiresAt time.Time
}

// TokenIssuer signs and verifies HS256 JWTs.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	newID  func() string
}

// NewTokenIssuer constructs an issuer. A zero ttl defaults to 24 hours.
func NewTokenIssuer(secret []byte, ttl time.Duration, now func() time.Time) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &TokenIssuer{secret: secret, ttl: ttl, now: now, newID: uuid.NewString}
}

// Issue signs a token for user.
func (i *TokenIssuer) Issue(user persistence.User) (IssuedToken, error) {
	if len(i.secret) == 0 {
		return IssuedToken{}, fmt.Errorf("token secret not configured")
	}

	now := i.now()
	expiresAt := now.Add(i.ttl)
	id := i.newID()
	claims := jwt.RegisteredClaims{
		ID:        id,
		Issuer:    tokenIssuer,
		Subject:   strconv.FormatInt(user.ID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return IssuedToken{}, fmt.Errorf("sign token: %w", err)
	}
	return IssuedToken{Token: signed, ID: id, ExpiresAt: expiresAt.Truncate(time.Second)}, nil
}

// Verify checks the signature and lifetime of token. Expired tokens yield
// ErrTokenExpired; every other defect yields ErrUnauthorized.
func (i *TokenIssuer) Verify(token string) (TokenClaims, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return TokenClaims{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	// Lifetime is checked against the injected clock rather than jwt.TimeFunc.
	now := i.now()
	if !claims.VerifyExpiresAt(now, true) {
		return TokenClaims{}, ErrTokenExpired
	}
	if !claims.VerifyNotBefore(now, false) || !claims.VerifyIssuer(tokenIssuer, true) {
		return TokenClaims{}, ErrUnauthorized
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return TokenClaims{}, errors.Join(ErrUnauthorized, fmt.Errorf("invalid subject %q", claims.Subject))
	}
	return TokenClaims{UserID: userID, TokenID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}
