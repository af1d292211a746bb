package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/occasion-ledger/internal/ledger"
)

// ledgerStatus maps ledger sentinels to HTTP statuses.  Anything not listed
// is an internal error.
func ledgerStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrSeatTaken):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, ledger.ErrInvalidSeat):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// ledgerError writes the JSON error for err.  Internal errors are logged and
// hidden behind a generic message.
func ledgerError(c echo.Context, logger *logrus.Logger, err error) error {
	status := ledgerStatus(err)
	if status == http.StatusInternalServerError {
		logger.WithContext(c.Request().Context()).WithError(err).Error("ledger operation failed")
		return c.JSON(status, echo.Map{"error": "internal error"})
	}
	return c.JSON(status, echo.Map{"error": err.Error()})
}
