package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/occasion-ledger/internal/config"
	"github.com/iliyamo/occasion-ledger/internal/handler"
	"github.com/iliyamo/occasion-ledger/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers account and session routes.  Register, login and
// refresh live under /v1/auth without a session; /v1/me requires one.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	// Logout works with a refresh token alone; a bearer token, when present,
	// lets it revoke every session of the account.
	g.POST("/logout", a.Logout, middleware.OptionalJWTAuth(jwtSecret))

	e.GET("/v1/me", a.Me, middleware.JWTAuth(jwtSecret))
}

// Deps carries the Redis-backed middleware settings for the ledger routes.
// A nil Redis client disables caching and rate limiting.
type Deps struct {
	JWTSecret string
	Cache     config.CacheConfig
	RateLimit config.RateLimitConfig
	Redis     *redis.Client
	Logger    *logrus.Logger
}

// RegisterLedger registers the ledger API.  Reads are public and cached;
// writes require a session, and every successful write moves the cache to a
// new generation, so no read rendered before the write is served after it.
func RegisterLedger(e *echo.Echo, h *handler.LedgerHandler, d Deps) {
	pub := e.Group("/v1", middleware.NewRedisCache(d.Cache, d.Redis))
	pub.GET("/ledger", h.Info)
	pub.GET("/occasions", h.ListOccasions)
	pub.GET("/occasions/:id", h.GetOccasion)
	pub.GET("/occasions/:id/seats", h.ListSeats)
	pub.GET("/occasions/:id/seats/:seat", h.GetSeat)
	pub.GET("/occasions/:id/buyers/:address", h.HasBought)
	pub.GET("/tickets/:token", h.GetTicket)

	auth := e.Group("/v1", middleware.JWTAuth(d.JWTSecret))
	auth.GET("/balance", h.Balance)

	writes := e.Group("/v1",
		middleware.JWTAuth(d.JWTSecret),
		middleware.PurgeOnSuccess(d.Cache, d.Redis, d.Logger),
	)
	writes.POST("/occasions", h.CreateOccasion)
	writes.POST("/occasions/:id/tickets", h.MintTicket, middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Logger))
	writes.POST("/withdraw", h.Withdraw)
}
