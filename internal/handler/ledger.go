package handler

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/occasion-ledger/internal/ledger"
	"github.com/iliyamo/occasion-ledger/internal/middleware"
	"github.com/iliyamo/occasion-ledger/internal/utils"
)

// TicketLedger is the part of *ledger.Ledger the HTTP layer uses.
type TicketLedger interface {
	Owner() ledger.Identity
	Name() string
	Symbol() string
	CreateOccasion(ctx context.Context, caller ledger.Identity, in ledger.OccasionInput) (uint64, error)
	MintTicket(ctx context.Context, caller ledger.Identity, id, seat uint64, paid *big.Int) (ledger.Ticket, error)
	Withdraw(ctx context.Context, caller ledger.Identity) (*big.Int, error)
	Occasion(id uint64) (ledger.Occasion, error)
	Occasions() []ledger.Occasion
	SeatTaken(id, seat uint64) ledger.Identity
	SeatsTaken(id uint64) ([]uint64, error)
	HasBought(id uint64, buyer ledger.Identity) bool
	TotalOccasions() uint64
	TotalSupply() uint64
	Ticket(tokenID uint64) (ledger.Ticket, error)
	Balance() *big.Int
}

// MintNotifier announces minted tickets to downstream consumers.
type MintNotifier interface {
	PublishTicketMinted(ctx context.Context, occasion string, t ledger.Ticket) error
}

// LedgerHandler exposes the ticket ledger over HTTP.
type LedgerHandler struct {
	Ledger   TicketLedger
	Notifier MintNotifier // optional
	Logger   *logrus.Logger
}

func NewLedgerHandler(l TicketLedger, n MintNotifier, logger *logrus.Logger) *LedgerHandler {
	return &LedgerHandler{Ledger: l, Notifier: n, Logger: logger}
}

// ----- DTOs -----

type createOccasionReq struct {
	Name       string   `json:"name" validate:"required"`
	Cost       *big.Int `json:"cost" validate:"required"`
	MaxTickets uint64   `json:"max_tickets" validate:"required"`
	Date       string   `json:"date"`
	Time       string   `json:"time"`
	Location   string   `json:"location"`
	Timestamp  int64    `json:"timestamp"`
}

type mintReq struct {
	Seat    uint64   `json:"seat"`
	Payment *big.Int `json:"payment"`
}

type ledgerInfo struct {
	Name           string          `json:"name"`
	Symbol         string          `json:"symbol"`
	Owner          ledger.Identity `json:"owner"`
	TotalOccasions uint64          `json:"total_occasions"`
	TotalSupply    uint64          `json:"total_supply"`
}

type seatResp struct {
	OccasionID uint64          `json:"occasion_id"`
	Seat       uint64          `json:"seat"`
	Taken      bool            `json:"taken"`
	Buyer      ledger.Identity `json:"buyer,omitempty"`
}

// ----- reads -----

// Info returns collection metadata and counters.
func (h *LedgerHandler) Info(c echo.Context) error {
	return c.JSON(http.StatusOK, ledgerInfo{
		Name:           h.Ledger.Name(),
		Symbol:         h.Ledger.Symbol(),
		Owner:          h.Ledger.Owner(),
		TotalOccasions: h.Ledger.TotalOccasions(),
		TotalSupply:    h.Ledger.TotalSupply(),
	})
}

func (h *LedgerHandler) ListOccasions(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"items": h.Ledger.Occasions()})
}

func (h *LedgerHandler) GetOccasion(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	o, err := h.Ledger.Occasion(id)
	if err != nil {
		return ledgerError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, o)
}

// ListSeats returns the taken seat numbers of an occasion.
func (h *LedgerHandler) ListSeats(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	seats, err := h.Ledger.SeatsTaken(id)
	if err != nil {
		return ledgerError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"occasion_id": id, "taken": seats})
}

// GetSeat reports who holds a seat.  Unknown occasions and seats outside the
// range answer "not taken" rather than 404.
func (h *LedgerHandler) GetSeat(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	seat, err := parseID(c, "seat")
	if err != nil {
		return err
	}
	buyer := h.Ledger.SeatTaken(id, seat)
	return c.JSON(http.StatusOK, seatResp{
		OccasionID: id,
		Seat:       seat,
		Taken:      buyer != ledger.Unassigned,
		Buyer:      buyer,
	})
}

func (h *LedgerHandler) HasBought(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	addr, ok := utils.NormalizeAddress(c.Param("address"))
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid address"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"occasion_id": id,
		"address":     addr,
		"has_bought":  h.Ledger.HasBought(id, ledger.Identity(addr)),
	})
}

func (h *LedgerHandler) GetTicket(c echo.Context) error {
	token, err := parseID(c, "token")
	if err != nil {
		return err
	}
	t, err := h.Ledger.Ticket(token)
	if err != nil {
		return ledgerError(c, h.Logger, err)
	}
	return c.JSON(http.StatusOK, t)
}

// ----- mutations -----

// CreateOccasion registers an occasion.  Only the ledger owner succeeds.
func (h *LedgerHandler) CreateOccasion(c echo.Context) error {
	var req createOccasionReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	if req.Cost.Sign() < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "cost must not be negative"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	id, err := h.Ledger.CreateOccasion(ctx, middleware.Identity(c), ledger.OccasionInput{
		Name:       req.Name,
		Cost:       req.Cost,
		MaxTickets: req.MaxTickets,
		Date:       req.Date,
		Time:       req.Time,
		Location:   req.Location,
		Timestamp:  req.Timestamp,
	})
	if err != nil {
		return ledgerError(c, h.Logger, err)
	}
	o, err := h.Ledger.Occasion(id)
	if err != nil {
		return ledgerError(c, h.Logger, err)
	}
	return c.JSON(http.StatusCreated, o)
}

// MintTicket buys one seat for the caller.
func (h *LedgerHandler) MintTicket(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req mintReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if req.Payment != nil && req.Payment.Sign() < 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "payment must not be negative"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	t, err := h.Ledger.MintTicket(ctx, middleware.Identity(c), id, req.Seat, req.Payment)
	if err != nil {
		return ledgerError(c, h.Logger, err)
	}

	if h.Notifier != nil {
		name := ""
		if o, err := h.Ledger.Occasion(id); err == nil {
			name = o.Name
		}
		// The ticket is already minted; a lost notification is not an error
		// for the buyer.
		if err := h.Notifier.PublishTicketMinted(context.WithoutCancel(ctx), name, t); err != nil {
			h.Logger.WithContext(ctx).WithError(err).WithField("token_id", t.TokenID).Warn("ticket notification failed")
		}
	}
	return c.JSON(http.StatusCreated, t)
}

// Withdraw sends the collected balance to the owner.
func (h *LedgerHandler) Withdraw(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	amt, err := h.Ledger.Withdraw(ctx, middleware.Identity(c))
	if errors.Is(err, ledger.ErrPayoutPending) {
		// The balance has left custody; delivery is retried on the next start.
		h.Logger.WithContext(ctx).WithError(err).WithField("amount", amt.String()).Warn("withdrawal pending")
		return c.JSON(http.StatusAccepted, echo.Map{"to": h.Ledger.Owner(), "amount": amt, "payout": "pending"})
	}
	if err != nil {
		return ledgerError(c, h.Logger, err)
	}
	h.Logger.WithContext(ctx).WithField("amount", amt.String()).Info("balance withdrawn")
	return c.JSON(http.StatusOK, echo.Map{"to": h.Ledger.Owner(), "amount": amt})
}

// Balance reports the withdrawable balance to the owner.
func (h *LedgerHandler) Balance(c echo.Context) error {
	if middleware.Identity(c) != h.Ledger.Owner() {
		return ledgerError(c, h.Logger, ledger.ErrUnauthorized)
	}
	return c.JSON(http.StatusOK, echo.Map{"balance": h.Ledger.Balance()})
}

// parseID reads an unsigned integer path parameter.  The returned error is
// an *echo.HTTPError and is meant to be returned from the handler as is.
func parseID(c echo.Context, name string) (uint64, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, echo.Map{"error": "invalid " + name})
	}
	return v, nil
}
