package ledger

import "context"

// Journal durably records ledger mutations. The ledger calls it while
// holding its write lock and applies the change in memory only when the
// journal returns nil, so a failed write leaves both sides unchanged.
type Journal interface {
	RecordOccasion(ctx context.Context, o Occasion) error
	RecordTicket(ctx context.Context, t Ticket) error
	// RecordWithdrawal must record w before running transfer and discard
	// the record when transfer fails.  When the record can be neither
	// confirmed nor discarded it returns an error wrapping
	// ErrPayoutPending and the ledger treats the funds as withdrawn.
	RecordWithdrawal(ctx context.Context, w Withdrawal, transfer func(context.Context) error) error
}

// Payee moves funds out of the ledger.  Pay may be called more than once
// for the same w.ID and must not pay twice for it.
type Payee interface {
	Pay(ctx context.Context, w Withdrawal) error
}

type nopJournal struct{}

func (nopJournal) RecordOccasion(context.Context, Occasion) error { return nil }
func (nopJournal) RecordTicket(context.Context, Ticket) error     { return nil }
func (nopJournal) RecordWithdrawal(ctx context.Context, _ Withdrawal, transfer func(context.Context) error) error {
	return transfer(ctx)
}

type nopPayee struct{}

func (nopPayee) Pay(context.Context, Withdrawal) error { return nil }
