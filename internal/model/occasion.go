package model

import "time"

// Occasion mirrors a row of the `occasions` table.  Cost is kept as the
// decimal string MySQL returns for DECIMAL(65,0) columns.
type Occasion struct {
	ID             uint64    // occasions.id
	Name           string    // occasions.name
	Cost           string    // occasions.cost
	MaxTickets     uint64    // occasions.max_tickets
	Date           string    // occasions.event_date
	Time           string    // occasions.event_time
	Location       string    // occasions.location
	EventTimestamp int64     // occasions.event_timestamp
	CreatedAt      time.Time // occasions.created_at
}

// Ticket mirrors a row of the `tickets` table.  The unique
// (occasion_id, seat) key backs the one-buyer-per-seat rule in storage.
type Ticket struct {
	TokenID    uint64    // tickets.token_id
	OccasionID uint64    // tickets.occasion_id
	Seat       uint64    // tickets.seat
	Buyer      string    // tickets.buyer
	Paid       string    // tickets.paid
	MintedAt   time.Time // tickets.minted_at
}

// Withdrawal statuses.  A pending row has left custody: its payout is
// either in flight or must be re-sent.  Failed rows never happened.
const (
	WithdrawalPending = "pending"
	WithdrawalDone    = "done"
	WithdrawalFailed  = "failed"
)

// Withdrawal mirrors a row of the `withdrawals` table.
type Withdrawal struct {
	ID          uint64    // withdrawals.id
	PayoutID    string    // withdrawals.payout_id, also the payout message id
	Recipient   string    // withdrawals.recipient
	Amount      string    // withdrawals.amount
	Status      string    // withdrawals.status
	WithdrawnAt time.Time // withdrawals.withdrawn_at
}

// LedgerMeta mirrors the single row of `ledger_meta`.  It pins the owner
// and collection metadata chosen on the first start.
type LedgerMeta struct {
	Owner  string // ledger_meta.owner
	Name   string // ledger_meta.name
	Symbol string // ledger_meta.symbol
}
