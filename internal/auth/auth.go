package auth

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-messenger/internal/errs"
	"github.com/npezzotti/go-messenger/internal/types"
)

const (
	userIdClaim = "user-id"
	roleClaim   = "role"
	expClaim    = "exp"
	audClaim    = "aud"
	subClaim    = "sub"

	TokenCookieKey = "token"
	tokenQueryKey  = "token"

	DefaultExpiration = 24 * time.Hour
)

type contextKey string

const userKey contextKey = "user"

func WithUser(ctx context.Context, user types.AuthUser) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func User(ctx context.Context) (types.AuthUser, bool) {
	user, ok := ctx.Value(userKey).(types.AuthUser)
	return user, ok
}

// Tokens signs and verifies HS256 tokens with a shared key. User tokens
// carry the user id and role; service tokens carry an audience.
type Tokens struct {
	signingKey []byte
}

func NewTokens(signingKey []byte) *Tokens {
	return &Tokens{signingKey: signingKey}
}

func (t *Tokens) CreateUserToken(user types.AuthUser, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: user.Id,
		roleClaim:   user.Role.String(),
		expClaim:    time.Now().Add(exp).Unix(),
	})

	return token.SignedString(t.signingKey)
}

func (t *Tokens) CreateServiceToken(service, audience string, exp time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		subClaim: service,
		audClaim: audience,
		expClaim: time.Now().Add(exp).Unix(),
	})

	return token.SignedString(t.signingKey)
}

// ParseUserToken returns the user a valid token was issued for.
func (t *Tokens) ParseUserToken(tokenString string) (types.AuthUser, error) {
	claims, err := t.verify(tokenString)
	if err != nil {
		return types.AuthUser{}, err
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok || userId <= 0 {
		return types.AuthUser{}, fmt.Errorf("invalid user id claim: %w", errs.ErrInvalidAuthCredentials)
	}

	roleName, _ := claims[roleClaim].(string)
	role, err := types.ParseRole(roleName)
	if err != nil {
		return types.AuthUser{}, fmt.Errorf("invalid role claim: %w", errs.ErrInvalidAuthCredentials)
	}

	return types.AuthUser{Id: int64(userId), Role: role}, nil
}

// ParseServiceToken accepts a token whose audience is in allowed.
func (t *Tokens) ParseServiceToken(tokenString string, allowed []string) (string, error) {
	claims, err := t.verify(tokenString)
	if err != nil {
		return "", err
	}

	aud, _ := claims[audClaim].(string)
	if aud == "" {
		return "", fmt.Errorf("missing audience: %w", errs.ErrInvalidAuthCredentials)
	}
	if !slices.Contains(allowed, aud) {
		return "", fmt.Errorf("audience %q is not allowed: %w", aud, errs.ErrInvalidAuthCredentials)
	}

	return aud, nil
}

func (t *Tokens) verify(tokenString string) (jwt.MapClaims, error) {
	if tokenString == "" {
		return nil, errs.ErrAuthRequired
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %v: %w", err, errs.ErrInvalidAuthCredentials)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", errs.ErrInvalidAuthCredentials)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims: %w", errs.ErrInvalidAuthCredentials)
	}
	return claims, nil
}

// TokenFromRequest looks for a bearer token, then the token cookie, then
// the token query parameter. Browsers cannot set headers on websocket
// upgrades.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(TokenCookieKey); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.URL.Query().Get(tokenQueryKey)
}
