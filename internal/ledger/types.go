package ledger

import (
	"math/big"
	"time"
)

// Identity is the caller identity supplied by the hosting environment,
// typically an account address such as "0x9f…". The empty Identity marks
// an unassigned seat.
type Identity string

// Unassigned is returned by SeatTaken for seats without a buyer.
const Unassigned Identity = ""

// OccasionInput carries the owner-supplied fields of a new occasion. None of
// the fields are validated; Timestamp is recorded but never compared with a
// clock.
type OccasionInput struct {
	Name       string
	Cost       *big.Int
	MaxTickets uint64
	Date       string
	Time       string
	Location   string
	Timestamp  int64
}

// Occasion is an event with a fixed seat inventory and a per-seat price.
//
// Fields:
//  ID         – sequential identifier starting at 1.
//  Cost       – price per seat in base units.
//  Tickets    – seats still unsold (MaxTickets - Sold).
//  MaxTickets – capacity; valid seats are 1..MaxTickets.
//  Sold       – number of seats minted so far.
//  Timestamp  – advisory unix time of the occasion.
type Occasion struct {
	ID         uint64   `json:"id"`
	Name       string   `json:"name"`
	Cost       *big.Int `json:"cost"`
	Tickets    uint64   `json:"tickets"`
	MaxTickets uint64   `json:"max_tickets"`
	Sold       uint64   `json:"sold"`
	Date       string   `json:"date"`
	Time       string   `json:"time"`
	Location   string   `json:"location"`
	Timestamp  int64    `json:"timestamp"`
}

// Ticket is the token minted for one seat of one occasion.
type Ticket struct {
	TokenID    uint64    `json:"token_id"`
	OccasionID uint64    `json:"occasion_id"`
	Seat       uint64    `json:"seat"`
	Buyer      Identity  `json:"buyer"`
	Paid       *big.Int  `json:"paid"`
	MintedAt   time.Time `json:"minted_at"`
}

// Withdrawal records one release of the collected balance to the owner.
// ID is stable across retries so the payout can be delivered at least once
// and deduplicated downstream.
type Withdrawal struct {
	ID     string    `json:"id"`
	To     Identity  `json:"to"`
	Amount *big.Int  `json:"amount"`
	At     time.Time `json:"at"`
}

func (w Withdrawal) clone() Withdrawal {
	w.Amount = amount(w.Amount)
	return w
}

// Snapshot is the persisted history a ledger is rebuilt from. Occasions
// must be ordered by ID and tickets by TokenID.
type Snapshot struct {
	Occasions   []Occasion
	Tickets     []Ticket
	Withdrawals []Withdrawal
}

func (o Occasion) clone() Occasion {
	o.Cost = new(big.Int).Set(o.Cost)
	return o
}

func (t Ticket) clone() Ticket {
	t.Paid = new(big.Int).Set(t.Paid)
	return t
}

// amount treats a nil amount as zero.
func amount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
