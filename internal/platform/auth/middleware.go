package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	UserRolesKey contextKey = "user_roles"
	UserEmailKey contextKey = "user_email"
	ClaimsKey    contextKey = "claims"
)

// SessionCookie carries the session token for browser clients that cannot set
// an Authorization header on page navigations.
const SessionCookie = "mediclear_session"

const (
	sessionAudience      = "mediclear-session"
	confirmationAudience = "mediclear-email-confirmation"
	issuer               = "mediclear"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// TokenIssuer signs and verifies HS256 tokens.
type TokenIssuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func NewTokenIssuer(signingKey []byte, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: signingKey, ttl: ttl, now: time.Now}
}

// TTL returns the lifetime of session tokens.
func (t *TokenIssuer) TTL() time.Duration { return t.ttl }

// IssueSession returns a signed session token for the user.
func (t *TokenIssuer) IssueSession(userID, email, role string) (string, *Claims, error) {
	return t.issue(userID, email, role, sessionAudience, t.ttl)
}

// IssueConfirmation returns a short-lived token that proves ownership of an
// email address.
func (t *TokenIssuer) IssueConfirmation(accountID, email string) (string, error) {
	tok, _, err := t.issue(accountID, email, "", confirmationAudience, 48*time.Hour)
	return tok, err
}

func (t *TokenIssuer) issue(subject, email, role, audience string, ttl time.Duration) (string, *Claims, error) {
	now := t.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email: email,
		Role:  role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// ParseSession validates a session token.
func (t *TokenIssuer) ParseSession(tokenStr string) (*Claims, error) {
	return t.parse(tokenStr, sessionAudience)
}

// ParseConfirmation validates an email confirmation token.
func (t *TokenIssuer) ParseConfirmation(tokenStr string) (*Claims, error) {
	return t.parse(tokenStr, confirmationAudience)
}

func (t *TokenIssuer) parse(tokenStr, audience string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return t.key, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenFromRequest reads the bearer token, falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "bearer") {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	if ck, err := r.Cookie(SessionCookie); err == nil {
		return ck.Value
	}
	return ""
}

// SessionMiddleware attaches the caller's identity to the request context
// when a valid, unrevoked session token is present. Requests without one
// continue anonymously; route gating decides what they may reach.
func SessionMiddleware(tokens *TokenIssuer, revoked *TokenRevocationStore, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr := TokenFromRequest(c.Request())
			if tokenStr == "" {
				return next(c)
			}

			claims, err := tokens.ParseSession(tokenStr)
			if err != nil {
				logger.Debug().Str("path", c.Path()).Msg("discarding invalid session token")
				return next(c)
			}
			if revoked != nil && revoked.IsRevoked(claims.ID) {
				logger.Debug().Str("jti", claims.ID).Msg("discarding revoked session token")
				return next(c)
			}

			c.SetRequest(c.Request().WithContext(WithClaims(c.Request().Context(), claims)))
			return next(c)
		}
	}
}

// RequireAuthenticated rejects anonymous requests with 401.
func RequireAuthenticated() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if UserIDFromContext(c.Request().Context()) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			return next(c)
		}
	}
}

// WithClaims stores the claims and the values derived from them in ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
	ctx = context.WithValue(ctx, UserEmailKey, claims.Email)
	ctx = context.WithValue(ctx, UserRolesKey, []string{claims.Role})
	return ctx
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func EmailFromContext(ctx context.Context) string {
	email, _ := ctx.Value(UserEmailKey).(string)
	return email
}

func RolesFromContext(ctx context.Context) []string {
	roles, _ := ctx.Value(UserRolesKey).([]string)
	return roles
}

// RoleFromContext returns the caller's primary role, or "" when anonymous.
func RoleFromContext(ctx context.Context) string {
	if roles := RolesFromContext(ctx); len(roles) > 0 {
		return roles[0]
	}
	return ""
}

func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsKey).(*Claims)
	return claims
}
