package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// RequestLogger writes one logrus entry per request.  Responses with a
// status at or above errorStatus are logged at error level.
func RequestLogger(logger *logrus.Logger, errorStatus int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			status := c.Response().Status
			entry := logger.WithContext(c.Request().Context()).WithFields(logrus.Fields{
				"method":     c.Request().Method,
				"route":      c.Path(),
				"uri":        c.Request().RequestURI,
				"status":     status,
				"latency_ms": time.Since(start).Milliseconds(),
				"ip":         c.RealIP(),
				"caller":     userKey(c),
			})
			if err != nil {
				entry = entry.WithError(err)
			}
			if status >= errorStatus {
				entry.Error("request")
			} else {
				entry.Info("request")
			}
			return nil
		}
	}
}
