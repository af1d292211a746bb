package middleware

// identity.go holds the helpers shared across middleware and handlers for
// reading the authenticated caller back out of the echo context.

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/occasion-ledger/internal/ledger"
)

// Identity returns the caller's ledger identity stored by JWTAuth, or
// ledger.Unassigned for anonymous requests.
func Identity(c echo.Context) ledger.Identity {
	if s, ok := c.Get(ContextIdentity).(string); ok {
		return ledger.Identity(s)
	}
	return ledger.Unassigned
}

// AccountID returns the numeric account id stored by JWTAuth.
func AccountID(c echo.Context) (uint64, bool) {
	switch t := c.Get(ContextAccountID).(type) {
	case float64: // JSON numbers decode as float64 in MapClaims
		return uint64(t), t > 0
	case uint64:
		return t, t > 0
	case int:
		return uint64(t), t > 0
	}
	return 0, false
}

// userKey is the identity used in rate limit keys.
func userKey(c echo.Context) string {
	if id := Identity(c); id != ledger.Unassigned {
		return string(id)
	}
	return "anon"
}
