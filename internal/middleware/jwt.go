package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	ContextIdentity  = "identity"
	ContextAccountID = "account_id"
)

var (
	errMissingBearer = errors.New("missing bearer token")
	errInvalidToken  = errors.New("invalid token")
	errInvalidClaims = errors.New("invalid claims")
)

// JWTAuth returns an Echo middleware that validates a Bearer access token and
// injects the token's subject (the caller's ledger address) and account id
// into the request context.  The provided secret must match the one used
// when issuing tokens.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := authenticate(c, secret); err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})
			}
			return next(c)
		}
	}
}

// OptionalJWTAuth behaves like JWTAuth when a valid bearer token is present
// and lets the request through anonymously otherwise.
func OptionalJWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			_ = authenticate(c, secret)
			return next(c)
		}
	}
}

func authenticate(c echo.Context, secret string) error {
	auth := c.Request().Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return errMissingBearer
	}
	raw := strings.TrimPrefix(auth, "Bearer ")

	// Only HMAC-signed tokens are accepted.
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, echo.ErrUnauthorized
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return errInvalidToken
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return errInvalidClaims
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return errInvalidClaims
	}

	c.Set(ContextIdentity, sub)
	c.Set(ContextAccountID, claims["aid"])
	return nil
}
