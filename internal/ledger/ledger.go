// Package ledger implements the single-owner ticket ledger: occasions, write-once
// seat assignments, purchase records and the custody of collected funds.
//
// A Ledger serialises every mutation behind one lock, so the availability
// check, the payment check and the state update of a mint happen as one
// indivisible step. Reads share the lock and copy values out.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultName   = "OccasiOnChain"
	DefaultSymbol = "OCC"
)

// Ledger holds every occasion and seat assignment plus the collected balance.
type Ledger struct {
	owner  Identity
	name   string
	symbol string

	journal Journal
	payee   Payee
	now     func() time.Time
	newID   func() string

	mu        sync.RWMutex
	occasions []Occasion            // index i holds occasion ID i+1
	seats     []map[uint64]Identity // per occasion, seat -> buyer
	buyers    []map[Identity]bool   // per occasion, buyer -> has bought
	tickets   []Ticket              // index i holds token ID i+1
	balance   *big.Int
}

// Option configures a Ledger at construction.
type Option func(*Ledger)

// WithName sets the collection name.
func WithName(name string) Option {
	return func(l *Ledger) {
		if name != "" {
			l.name = name
		}
	}
}

// WithSymbol sets the collection symbol.
func WithSymbol(symbol string) Option {
	return func(l *Ledger) {
		if symbol != "" {
			l.symbol = symbol
		}
	}
}

// WithJournal makes every mutation durable through j.
func WithJournal(j Journal) Option {
	return func(l *Ledger) {
		if j != nil {
			l.journal = j
		}
	}
}

// WithPayee sets the transfer primitive used by Withdraw.
func WithPayee(p Payee) Option {
	return func(l *Ledger) {
		if p != nil {
			l.payee = p
		}
	}
}

// WithClock overrides the clock used to stamp tickets and withdrawals.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New returns an empty ledger owned by owner.
func New(owner Identity, opts ...Option) *Ledger {
	l := &Ledger{
		owner:   owner,
		name:    DefaultName,
		symbol:  DefaultSymbol,
		journal: nopJournal{},
		payee:   nopPayee{},
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
		balance: new(big.Int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Owner() Identity { return l.owner }
func (l *Ledger) Name() string    { return l.name }
func (l *Ledger) Symbol() string  { return l.symbol }

// CreateOccasion registers a new occasion and returns its ID. Only the owner
// may call it.
func (l *Ledger) CreateOccasion(ctx context.Context, caller Identity, in OccasionInput) (uint64, error) {
	if caller != l.owner {
		return 0, ErrUnauthorized
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	o := Occasion{
		ID:         uint64(len(l.occasions)) + 1,
		Name:       in.Name,
		Cost:       amount(in.Cost),
		Tickets:    in.MaxTickets,
		MaxTickets: in.MaxTickets,
		Date:       in.Date,
		Time:       in.Time,
		Location:   in.Location,
		Timestamp:  in.Timestamp,
	}
	if err := l.journal.RecordOccasion(context.WithoutCancel(ctx), o.clone()); err != nil {
		return 0, fmt.Errorf("record occasion: %w", err)
	}
	l.appendOccasion(o)
	return o.ID, nil
}

func (l *Ledger) appendOccasion(o Occasion) {
	l.occasions = append(l.occasions, o)
	l.seats = append(l.seats, make(map[uint64]Identity))
	l.buyers = append(l.buyers, make(map[Identity]bool))
}

// MintTicket assigns seat of occasion id to caller in exchange for paid.
// Overpayment is kept in full. Checks run in this order: occasion exists,
// seat in range, seat free, payment sufficient.
func (l *Ledger) MintTicket(ctx context.Context, caller Identity, id, seat uint64, paid *big.Int) (Ticket, error) {
	paid = amount(paid)

	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.index(id)
	if !ok {
		return Ticket{}, ErrNotFound
	}
	o := &l.occasions[idx]
	if seat == 0 || seat > o.MaxTickets {
		return Ticket{}, ErrInvalidSeat
	}
	if l.seats[idx][seat] != Unassigned {
		return Ticket{}, ErrSeatTaken
	}
	if paid.Cmp(o.Cost) < 0 {
		return Ticket{}, ErrInsufficientPayment
	}

	t := Ticket{
		TokenID:    uint64(len(l.tickets)) + 1,
		OccasionID: id,
		Seat:       seat,
		Buyer:      caller,
		Paid:       paid,
		MintedAt:   l.now(),
	}
	// A write that lands after the caller gave up would leave storage ahead
	// of memory, so journal writes outlive the request.
	if err := l.journal.RecordTicket(context.WithoutCancel(ctx), t.clone()); err != nil {
		return Ticket{}, fmt.Errorf("record ticket: %w", err)
	}
	l.applyTicket(idx, t)
	return t.clone(), nil
}

func (l *Ledger) applyTicket(idx int, t Ticket) {
	o := &l.occasions[idx]
	l.seats[idx][t.Seat] = t.Buyer
	l.buyers[idx][t.Buyer] = true
	o.Sold++
	o.Tickets = o.MaxTickets - o.Sold
	l.balance.Add(l.balance, t.Paid)
	l.tickets = append(l.tickets, t)
}

// Withdraw transfers the whole balance to the owner and resets it to zero.
// The balance is untouched when the transfer or its record fails.  An error
// wrapping ErrPayoutPending comes with the withdrawn amount: the balance is
// zero and the payout is still owed under the withdrawal's ID.
func (l *Ledger) Withdraw(ctx context.Context, caller Identity) (*big.Int, error) {
	if caller != l.owner {
		return nil, ErrUnauthorized
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w := Withdrawal{ID: l.newID(), To: l.owner, Amount: new(big.Int).Set(l.balance), At: l.now()}
	transfer := func(ctx context.Context) error {
		return l.payee.Pay(ctx, w.clone())
	}
	err := l.journal.RecordWithdrawal(context.WithoutCancel(ctx), w.clone(), transfer)
	if err != nil && !errors.Is(err, ErrPayoutPending) {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	l.balance.SetInt64(0)
	if err != nil {
		return w.Amount, fmt.Errorf("withdraw %s: %w", w.ID, err)
	}
	return w.Amount, nil
}

// Occasion returns a copy of occasion id.
func (l *Ledger) Occasion(id uint64) (Occasion, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.index(id)
	if !ok {
		return Occasion{}, ErrNotFound
	}
	return l.occasions[idx].clone(), nil
}

// Occasions returns copies of all occasions in ID order.
func (l *Ledger) Occasions() []Occasion {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Occasion, len(l.occasions))
	for i, o := range l.occasions {
		out[i] = o.clone()
	}
	return out
}

// SeatTaken returns the buyer of seat, or Unassigned.
func (l *Ledger) SeatTaken(id, seat uint64) Identity {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.index(id)
	if !ok {
		return Unassigned
	}
	return l.seats[idx][seat]
}

// SeatsTaken lists the assigned seat numbers of occasion id in ascending order.
func (l *Ledger) SeatsTaken(id uint64) ([]uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.index(id)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]uint64, 0, len(l.seats[idx]))
	for s := range l.seats[idx] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// HasBought reports whether buyer minted at least one seat of occasion id.
func (l *Ledger) HasBought(id uint64, buyer Identity) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.index(id)
	if !ok {
		return false
	}
	return l.buyers[idx][buyer]
}

func (l *Ledger) TotalOccasions() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.occasions))
}

func (l *Ledger) TotalSupply() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.tickets))
}

// Ticket returns the ticket minted as tokenID.
func (l *Ledger) Ticket(tokenID uint64) (Ticket, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if tokenID == 0 || tokenID > uint64(len(l.tickets)) {
		return Ticket{}, ErrNotFound
	}
	return l.tickets[tokenID-1].clone(), nil
}

// OwnerOf returns the holder of tokenID.
func (l *Ledger) OwnerOf(tokenID uint64) (Identity, error) {
	t, err := l.Ticket(tokenID)
	if err != nil {
		return Unassigned, err
	}
	return t.Buyer, nil
}

// Balance returns the funds collected and not yet withdrawn.
func (l *Ledger) Balance() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.balance)
}

// Restore replaces the ledger state with the history in s. It is meant to
// run once at start-up, before the ledger serves calls, and does not touch
// the journal or the payee.
func (l *Ledger) Restore(s Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	fresh := New(l.owner)
	for i, o := range s.Occasions {
		if o.ID != uint64(i)+1 {
			return fmt.Errorf("%w: occasion %d at position %d", ErrInvalidSnapshot, o.ID, i+1)
		}
		o.Cost = amount(o.Cost)
		o.Sold = 0
		o.Tickets = o.MaxTickets
		fresh.appendOccasion(o)
	}
	for i, t := range s.Tickets {
		if t.TokenID != uint64(i)+1 {
			return fmt.Errorf("%w: token %d at position %d", ErrInvalidSnapshot, t.TokenID, i+1)
		}
		idx, ok := fresh.index(t.OccasionID)
		if !ok {
			return fmt.Errorf("%w: token %d references occasion %d", ErrInvalidSnapshot, t.TokenID, t.OccasionID)
		}
		if t.Seat == 0 || t.Seat > fresh.occasions[idx].MaxTickets || fresh.seats[idx][t.Seat] != Unassigned {
			return fmt.Errorf("%w: token %d seat %d", ErrInvalidSnapshot, t.TokenID, t.Seat)
		}
		t.Paid = amount(t.Paid)
		fresh.applyTicket(idx, t)
	}
	for _, w := range s.Withdrawals {
		fresh.balance.Sub(fresh.balance, amount(w.Amount))
	}
	if fresh.balance.Sign() < 0 {
		return fmt.Errorf("%w: withdrawals exceed collected funds", ErrInvalidSnapshot)
	}

	l.occasions = fresh.occasions
	l.seats = fresh.seats
	l.buyers = fresh.buyers
	l.tickets = fresh.tickets
	l.balance = fresh.balance
	return nil
}

// index maps an occasion ID to its slot. Callers hold l.mu.
func (l *Ledger) index(id uint64) (int, bool) {
	if id == 0 || id > uint64(len(l.occasions)) {
		return 0, false
	}
	return int(id - 1), true
}
