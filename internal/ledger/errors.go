package ledger

import "errors"

// Sentinel errors returned by Ledger operations. Every failing call leaves
// the ledger exactly as it was before the call. Handlers translate these
// into HTTP statuses with errors.Is.
var (
	// ErrUnauthorized is returned when a caller other than the owner
	// attempts an owner-only operation.
	ErrUnauthorized = errors.New("only owner can perform this action")
	// ErrSeatTaken is returned when the requested seat already has a buyer.
	ErrSeatTaken = errors.New("seat already taken")
	// ErrInsufficientPayment is returned when the attached payment is below
	// the occasion cost.
	ErrInsufficientPayment = errors.New("insufficient payment")
	// ErrInvalidSeat is returned for seat numbers outside 1..MaxTickets.
	ErrInvalidSeat = errors.New("invalid seat")
	// ErrNotFound is returned when an occasion or ticket does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPayoutPending is returned by Withdraw, together with the amount,
	// when the withdrawal is recorded but delivery of the payout is not
	// confirmed.  The balance is already zero; the payout is re-sent under
	// the same withdrawal ID.
	ErrPayoutPending = errors.New("payout pending")
	// ErrInvalidSnapshot is returned by Restore for journals that could not
	// have been produced by this ledger.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)
