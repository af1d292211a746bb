package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/occasion-ledger/internal/ledger"
	"github.com/iliyamo/occasion-ledger/internal/model"
)

// LedgerRepo is the MySQL journal behind the in-memory ledger.  Every
// ledger mutation is written here before it becomes visible, and
// LoadSnapshot replays the tables at start-up.
type LedgerRepo struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewLedgerRepo returns a LedgerRepo bound to the given database.
func NewLedgerRepo(db *sql.DB, logger *logrus.Logger) *LedgerRepo {
	return &LedgerRepo{db: db, logger: logger}
}

// RecordOccasion implements ledger.Journal.  An insert whose outcome is
// unknown is resolved by reading the row back.
func (r *LedgerRepo) RecordOccasion(ctx context.Context, o ledger.Occasion) error {
	const q = `INSERT INTO occasions (id, name, cost, max_tickets, event_date, event_time, location, event_timestamp)
               VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, o.ID, o.Name, formatAmount(o.Cost), o.MaxTickets, o.Date, o.Time, o.Location, o.Timestamp)
	if err == nil || r.occasionStored(ctx, o) {
		return nil
	}
	if isDuplicate(err) {
		return fmt.Errorf("occasion %d: %w", o.ID, ErrConflict)
	}
	r.logger.WithContext(ctx).WithError(err).WithField("occasion_id", o.ID).Error("insert occasion")
	return err
}

func (r *LedgerRepo) occasionStored(ctx context.Context, o ledger.Occasion) bool {
	var name, cost string
	var maxTickets uint64
	err := r.db.QueryRowContext(ctx, `SELECT name, cost, max_tickets FROM occasions WHERE id = ?`, o.ID).
		Scan(&name, &cost, &maxTickets)
	if err != nil {
		return false
	}
	stored, err := parseAmount(cost)
	return err == nil && name == o.Name && maxTickets == o.MaxTickets && stored.Cmp(amountOrZero(o.Cost)) == 0
}

// RecordTicket implements ledger.Journal.  The unique (occasion_id, seat)
// key rejects a second buyer for a seat even across processes.  A failed
// insert whose row is nevertheless present with the same contents counts
// as written.
func (r *LedgerRepo) RecordTicket(ctx context.Context, t ledger.Ticket) error {
	const q = `INSERT INTO tickets (token_id, occasion_id, seat, buyer, paid, minted_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q, t.TokenID, t.OccasionID, t.Seat, string(t.Buyer), formatAmount(t.Paid), t.MintedAt)
	if err == nil || r.ticketStored(ctx, t) {
		return nil
	}
	if isDuplicate(err) {
		return fmt.Errorf("occasion %d seat %d: %w", t.OccasionID, t.Seat, ErrConflict)
	}
	r.logger.WithContext(ctx).WithError(err).WithField("token_id", t.TokenID).Error("insert ticket")
	return err
}

func (r *LedgerRepo) ticketStored(ctx context.Context, t ledger.Ticket) bool {
	var row model.Ticket
	err := r.db.QueryRowContext(ctx, `SELECT occasion_id, seat, buyer, paid FROM tickets WHERE token_id = ?`, t.TokenID).
		Scan(&row.OccasionID, &row.Seat, &row.Buyer, &row.Paid)
	if err != nil {
		return false
	}
	paid, err := parseAmount(row.Paid)
	return err == nil && row.OccasionID == t.OccasionID && row.Seat == t.Seat &&
		row.Buyer == string(t.Buyer) && paid.Cmp(amountOrZero(t.Paid)) == 0
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// RecordWithdrawal implements ledger.Journal as an outbox.  A pending row
// keyed by w.ID is committed first, then transfer runs, then the row is
// marked done.  A definite transfer failure marks the row failed.  Any
// step after the pending row whose outcome cannot be settled leaves the
// row pending and returns ledger.ErrPayoutPending; ResumePending re-sends
// such rows under the same id.
func (r *LedgerRepo) RecordWithdrawal(ctx context.Context, w ledger.Withdrawal, transfer func(context.Context) error) error {
	log := r.logger.WithContext(ctx).WithFields(logrus.Fields{"payout_id": w.ID, "amount": formatAmount(w.Amount)})

	const q = `INSERT INTO withdrawals (payout_id, recipient, amount, status, withdrawn_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := r.db.ExecContext(ctx, q, w.ID, string(w.To), formatAmount(w.Amount), model.WithdrawalPending, w.At); err != nil {
		log.WithError(err).Error("insert withdrawal")
		if derr := r.setWithdrawalStatus(ctx, w.ID, model.WithdrawalFailed); derr != nil {
			log.WithError(derr).Error("discard withdrawal")
			return fmt.Errorf("insert withdrawal: %v: %w", err, ledger.ErrPayoutPending)
		}
		return err
	}

	if err := transfer(ctx); err != nil {
		if errors.Is(err, ledger.ErrPayoutPending) {
			log.WithError(err).Warn("payout unconfirmed, left pending")
			return fmt.Errorf("transfer: %w", err)
		}
		if derr := r.setWithdrawalStatus(ctx, w.ID, model.WithdrawalFailed); derr != nil {
			log.WithError(derr).Error("discard withdrawal")
			return fmt.Errorf("transfer: %v: %w", err, ledger.ErrPayoutPending)
		}
		return fmt.Errorf("transfer: %w", err)
	}

	if err := r.setWithdrawalStatus(ctx, w.ID, model.WithdrawalDone); err != nil {
		log.WithError(err).Error("payout sent but not marked done")
		return fmt.Errorf("mark done: %v: %w", err, ledger.ErrPayoutPending)
	}
	return nil
}

func (r *LedgerRepo) setWithdrawalStatus(ctx context.Context, payoutID, status string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE withdrawals SET status = ? WHERE payout_id = ?`, status, payoutID)
	return err
}

// ResumePending re-sends every pending withdrawal through payee and marks
// the ones it delivers as done.  It returns how many were completed; rows
// that fail again stay pending for the next start.
func (r *LedgerRepo) ResumePending(ctx context.Context, payee ledger.Payee) (int, error) {
	rows, err := r.listWithdrawals(ctx, model.WithdrawalPending)
	if err != nil {
		return 0, err
	}
	done := 0
	var firstErr error
	for _, row := range rows {
		w, err := withdrawalFromRow(row)
		if err != nil {
			return done, err
		}
		log := r.logger.WithContext(ctx).WithField("payout_id", w.ID)
		if err := payee.Pay(ctx, w); err != nil {
			log.WithError(err).Warn("resend payout")
			if firstErr == nil {
				firstErr = fmt.Errorf("payout %s: %w", w.ID, err)
			}
			continue
		}
		if err := r.setWithdrawalStatus(ctx, w.ID, model.WithdrawalDone); err != nil {
			log.WithError(err).Error("resent payout not marked done")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		done++
	}
	return done, firstErr
}

// ErrOwnerRequired is returned on a first start without a configured owner.
var ErrOwnerRequired = errors.New("ledger owner is not configured")

// ErrOwnerMismatch is returned when the configured owner differs from the
// one pinned by the first start.
var ErrOwnerMismatch = errors.New("configured ledger owner differs from stored owner")

const ledgerMetaID = 1

// ResolveOwner returns the pinned ledger metadata.  The first call on an
// empty database stores owner, name and symbol; later calls accept an
// empty owner or the stored one and refuse any other.
func (r *LedgerRepo) ResolveOwner(ctx context.Context, owner, name, symbol string) (model.LedgerMeta, error) {
	meta, err := r.loadMeta(ctx)
	if errors.Is(err, ErrNotFound) {
		if owner == "" {
			return meta, ErrOwnerRequired
		}
		_, err = r.db.ExecContext(ctx, `INSERT INTO ledger_meta (id, owner, name, symbol) VALUES (?, ?, ?, ?)`,
			ledgerMetaID, owner, name, symbol)
		if err == nil {
			return model.LedgerMeta{Owner: owner, Name: name, Symbol: symbol}, nil
		}
		if !isDuplicate(err) {
			r.logger.WithContext(ctx).WithError(err).Error("insert ledger meta")
			return meta, err
		}
		meta, err = r.loadMeta(ctx)
	}
	if err != nil {
		return meta, err
	}
	if owner != "" && !strings.EqualFold(owner, meta.Owner) {
		return meta, fmt.Errorf("%w: configured %s, stored %s", ErrOwnerMismatch, owner, meta.Owner)
	}
	return meta, nil
}

func (r *LedgerRepo) loadMeta(ctx context.Context) (model.LedgerMeta, error) {
	var m model.LedgerMeta
	err := r.db.QueryRowContext(ctx, `SELECT owner, name, symbol FROM ledger_meta WHERE id = ?`, ledgerMetaID).
		Scan(&m.Owner, &m.Name, &m.Symbol)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrNotFound
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("load ledger meta")
	}
	return m, err
}

// LoadSnapshot reads the full history in replay order.
func (r *LedgerRepo) LoadSnapshot(ctx context.Context) (ledger.Snapshot, error) {
	var snap ledger.Snapshot

	occasions, err := r.listOccasions(ctx)
	if err != nil {
		return snap, err
	}
	for _, row := range occasions {
		cost, err := parseAmount(row.Cost)
		if err != nil {
			return snap, fmt.Errorf("occasion %d: %w", row.ID, err)
		}
		snap.Occasions = append(snap.Occasions, ledger.Occasion{
			ID:         row.ID,
			Name:       row.Name,
			Cost:       cost,
			MaxTickets: row.MaxTickets,
			Date:       row.Date,
			Time:       row.Time,
			Location:   row.Location,
			Timestamp:  row.EventTimestamp,
		})
	}

	tickets, err := r.listTickets(ctx)
	if err != nil {
		return snap, err
	}
	for _, row := range tickets {
		paid, err := parseAmount(row.Paid)
		if err != nil {
			return snap, fmt.Errorf("token %d: %w", row.TokenID, err)
		}
		snap.Tickets = append(snap.Tickets, ledger.Ticket{
			TokenID:    row.TokenID,
			OccasionID: row.OccasionID,
			Seat:       row.Seat,
			Buyer:      ledger.Identity(row.Buyer),
			Paid:       paid,
			MintedAt:   row.MintedAt,
		})
	}

	// Pending rows have left custody even if their payout is unconfirmed.
	withdrawals, err := r.listWithdrawals(ctx, model.WithdrawalPending, model.WithdrawalDone)
	if err != nil {
		return snap, err
	}
	for _, row := range withdrawals {
		w, err := withdrawalFromRow(row)
		if err != nil {
			return snap, err
		}
		snap.Withdrawals = append(snap.Withdrawals, w)
	}
	return snap, nil
}

func withdrawalFromRow(row model.Withdrawal) (ledger.Withdrawal, error) {
	amt, err := parseAmount(row.Amount)
	if err != nil {
		return ledger.Withdrawal{}, fmt.Errorf("withdrawal %d: %w", row.ID, err)
	}
	return ledger.Withdrawal{
		ID:     row.PayoutID,
		To:     ledger.Identity(row.Recipient),
		Amount: amt,
		At:     row.WithdrawnAt,
	}, nil
}

func (r *LedgerRepo) listOccasions(ctx context.Context) ([]model.Occasion, error) {
	const q = `SELECT id, name, cost, max_tickets, event_date, event_time, location, event_timestamp, created_at
               FROM occasions ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("list occasions")
		return nil, err
	}
	defer rows.Close()
	var out []model.Occasion
	for rows.Next() {
		var o model.Occasion
		if err := rows.Scan(&o.ID, &o.Name, &o.Cost, &o.MaxTickets, &o.Date, &o.Time, &o.Location, &o.EventTimestamp, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *LedgerRepo) listTickets(ctx context.Context) ([]model.Ticket, error) {
	const q = `SELECT token_id, occasion_id, seat, buyer, paid, minted_at FROM tickets ORDER BY token_id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("list tickets")
		return nil, err
	}
	defer rows.Close()
	var out []model.Ticket
	for rows.Next() {
		var t model.Ticket
		if err := rows.Scan(&t.TokenID, &t.OccasionID, &t.Seat, &t.Buyer, &t.Paid, &t.MintedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *LedgerRepo) listWithdrawals(ctx context.Context, statuses ...string) ([]model.Withdrawal, error) {
	q := `SELECT id, payout_id, recipient, amount, status, withdrawn_at FROM withdrawals WHERE status IN (?` +
		strings.Repeat(", ?", len(statuses)-1) + `) ORDER BY id`
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("list withdrawals")
		return nil, err
	}
	defer rows.Close()
	var out []model.Withdrawal
	for rows.Next() {
		var w model.Withdrawal
		if err := rows.Scan(&w.ID, &w.PayoutID, &w.Recipient, &w.Amount, &w.Status, &w.WithdrawnAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
