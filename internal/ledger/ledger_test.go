package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"
)

const (
	owner  Identity = "0xowner"
	buyer1 Identity = "0xbuyer1"
	buyer2 Identity = "0xbuyer2"
)

// tenth is 0.1 of the native unit (10^17 base units).
var tenth = big.NewInt(100000000000000000)

func webSummit() OccasionInput {
	return OccasionInput{
		Name:       "Web Summit",
		Cost:       tenth,
		MaxTickets: 100,
		Date:       "2024-09-20",
		Time:       "18:00",
		Location:   "Arena XYZ",
		Timestamp:  1726855200,
	}
}

func newLedgerWithOccasion(t *testing.T, opts ...Option) *Ledger {
	t.Helper()
	l := New(owner, opts...)
	id, err := l.CreateOccasion(context.Background(), owner, webSummit())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if id != 1 {
		t.Fatalf("expected occasion id 1, got %d", id)
	}
	return l
}

func TestLedger_Scenario(t *testing.T) {
	ctx := context.Background()
	l := newLedgerWithOccasion(t)

	if _, err := l.MintTicket(ctx, buyer1, 1, 1, tenth); err != nil {
		t.Fatalf("expected mint to succeed, got %v", err)
	}
	if got := l.SeatTaken(1, 1); got != buyer1 {
		t.Fatalf("expected seat 1 held by %s, got %q", buyer1, got)
	}
	if !l.HasBought(1, buyer1) {
		t.Fatalf("expected buyer1 to have bought")
	}
	if _, err := l.MintTicket(ctx, buyer2, 1, 1, tenth); !errors.Is(err, ErrSeatTaken) {
		t.Fatalf("expected ErrSeatTaken, got %v", err)
	}
	if _, err := l.MintTicket(ctx, buyer1, 1, 2, big.NewInt(10000000000000000)); !errors.Is(err, ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}
	if l.Balance().Cmp(tenth) != 0 {
		t.Fatalf("expected balance %s, got %s", tenth, l.Balance())
	}
	got, err := l.Withdraw(ctx, owner)
	if err != nil {
		t.Fatalf("expected withdraw to succeed, got %v", err)
	}
	if got.Cmp(tenth) != 0 {
		t.Fatalf("expected withdrawn %s, got %s", tenth, got)
	}
	if l.Balance().Sign() != 0 {
		t.Fatalf("expected zero balance, got %s", l.Balance())
	}
}

func TestLedger_CreateOccasion(t *testing.T) {
	ctx := context.Background()

	t.Run("sequential ids", func(t *testing.T) {
		l := New(owner)
		for want := uint64(1); want <= 3; want++ {
			id, err := l.CreateOccasion(ctx, owner, webSummit())
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if id != want {
				t.Fatalf("expected id %d, got %d", want, id)
			}
		}
		if l.TotalOccasions() != 3 {
			t.Fatalf("expected 3 occasions, got %d", l.TotalOccasions())
		}
	})

	t.Run("stores fields", func(t *testing.T) {
		l := newLedgerWithOccasion(t)
		o, err := l.Occasion(1)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if o.Name != "Web Summit" || o.MaxTickets != 100 || o.Tickets != 100 || o.Sold != 0 {
			t.Fatalf("unexpected occasion %+v", o)
		}
		if o.Cost.Cmp(tenth) != 0 {
			t.Fatalf("expected cost %s, got %s", tenth, o.Cost)
		}
		if o.Location != "Arena XYZ" || o.Date != "2024-09-20" || o.Time != "18:00" {
			t.Fatalf("unexpected display fields %+v", o)
		}
	})

	t.Run("rejects non-owner", func(t *testing.T) {
		l := New(owner)
		if _, err := l.CreateOccasion(ctx, buyer1, webSummit()); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		if l.TotalOccasions() != 0 {
			t.Fatalf("expected no occasions, got %d", l.TotalOccasions())
		}
	})

	t.Run("accepts zero cost and capacity", func(t *testing.T) {
		l := New(owner)
		id, err := l.CreateOccasion(ctx, owner, OccasionInput{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		o, _ := l.Occasion(id)
		if o.Cost.Sign() != 0 || o.MaxTickets != 0 {
			t.Fatalf("unexpected occasion %+v", o)
		}
		if _, err := l.MintTicket(ctx, buyer1, id, 1, nil); !errors.Is(err, ErrInvalidSeat) {
			t.Fatalf("expected ErrInvalidSeat, got %v", err)
		}
	})

	t.Run("input cost is copied", func(t *testing.T) {
		l := New(owner)
		cost := big.NewInt(5)
		in := webSummit()
		in.Cost = cost
		id, _ := l.CreateOccasion(ctx, owner, in)
		cost.SetInt64(1)
		o, _ := l.Occasion(id)
		if o.Cost.Int64() != 5 {
			t.Fatalf("expected cost 5, got %s", o.Cost)
		}
	})
}

func TestLedger_MintTicket(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown occasion", func(t *testing.T) {
		l := newLedgerWithOccasion(t)
		if _, err := l.MintTicket(ctx, buyer1, 2, 1, tenth); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := l.MintTicket(ctx, buyer1, 0, 1, tenth); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("seat out of range", func(t *testing.T) {
		l := newLedgerWithOccasion(t)
		for _, seat := range []uint64{0, 101, 1 << 40} {
			if _, err := l.MintTicket(ctx, buyer1, 1, seat, tenth); !errors.Is(err, ErrInvalidSeat) {
				t.Fatalf("seat %d: expected ErrInvalidSeat, got %v", seat, err)
			}
		}
		if _, err := l.MintTicket(ctx, buyer1, 1, 100, tenth); err != nil {
			t.Fatalf("expected last seat to be valid, got %v", err)
		}
	})

	t.Run("underpayment leaves state unchanged", func(t *testing.T) {
		l := newLedgerWithOccasion(t)
		if _, err := l.MintTicket(ctx, buyer1, 1, 5, big.NewInt(1)); !errors.Is(err, ErrInsufficientPayment) {
			t.Fatalf("expected ErrInsufficientPayment, got %v", err)
		}
		if _, err := l.MintTicket(ctx, buyer1, 1, 5, nil); !errors.Is(err, ErrInsufficientPayment) {
			t.Fatalf("expected ErrInsufficientPayment for nil payment, got %v", err)
		}
		if l.SeatTaken(1, 5) != Unassigned || l.HasBought(1, buyer1) {
			t.Fatalf("expected no seat assignment after failed mint")
		}
		if l.Balance().Sign() != 0 || l.TotalSupply() != 0 {
			t.Fatalf("expected untouched balance and supply")
		}
	})

	t.Run("overpayment is retained", func(t *testing.T) {
		l := newLedgerWithOccasion(t)
		paid := new(big.Int).Mul(tenth, big.NewInt(3))
		if _, err := l.MintTicket(ctx, buyer1, 1, 1, paid); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if l.Balance().Cmp(paid) != 0 {
			t.Fatalf("expected balance %s, got %s", paid, l.Balance())
		}
	})

	t.Run("seat taken does not change balance", func(t *testing.T) {
		l := newLedgerWithOccasion(t)
		_, _ = l.MintTicket(ctx, buyer1, 1, 1, tenth)
		if _, err := l.MintTicket(ctx, buyer2, 1, 1, tenth); !errors.Is(err, ErrSeatTaken) {
			t.Fatalf("expected ErrSeatTaken, got %v", err)
		}
		if l.Balance().Cmp(tenth) != 0 {
			t.Fatalf("expected balance %s, got %s", tenth, l.Balance())
		}
		if l.HasBought(1, buyer2) {
			t.Fatalf("expected buyer2 not recorded")
		}
	})

	t.Run("one buyer many seats", func(t *testing.T) {
		l := newLedgerWithOccasion(t)
		for seat := uint64(1); seat <= 3; seat++ {
			if _, err := l.MintTicket(ctx, buyer1, 1, seat, tenth); err != nil {
				t.Fatalf("seat %d: expected no error, got %v", seat, err)
			}
		}
		seats, err := l.SeatsTaken(1)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(seats) != 3 || seats[0] != 1 || seats[2] != 3 {
			t.Fatalf("unexpected seats %v", seats)
		}
		o, _ := l.Occasion(1)
		if o.Sold != 3 || o.Tickets != 97 {
			t.Fatalf("expected sold 3 remaining 97, got %+v", o)
		}
	})

	t.Run("mints sequential tokens", func(t *testing.T) {
		now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		l := newLedgerWithOccasion(t, WithClock(func() time.Time { return now }))
		t1, _ := l.MintTicket(ctx, buyer1, 1, 7, tenth)
		t2, _ := l.MintTicket(ctx, buyer2, 1, 8, tenth)
		if t1.TokenID != 1 || t2.TokenID != 2 {
			t.Fatalf("expected tokens 1 and 2, got %d and %d", t1.TokenID, t2.TokenID)
		}
		if !t1.MintedAt.Equal(now) {
			t.Fatalf("expected minted_at %v, got %v", now, t1.MintedAt)
		}
		holder, err := l.OwnerOf(2)
		if err != nil || holder != buyer2 {
			t.Fatalf("expected token 2 held by buyer2, got %q (%v)", holder, err)
		}
		if _, err := l.OwnerOf(3); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if l.TotalSupply() != 2 {
			t.Fatalf("expected supply 2, got %d", l.TotalSupply())
		}
	})
}

func TestLedger_ConcurrentMintSameSeat(t *testing.T) {
	ctx := context.Background()
	l := newLedgerWithOccasion(t)

	const callers = 64
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		taken     int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			buyer := Identity("0xbuyer" + string(rune('A'+i%26)) + string(rune('a'+i/26)))
			_, err := l.MintTicket(ctx, buyer, 1, 42, tenth)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSeatTaken):
				taken++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || taken != callers-1 {
		t.Fatalf("expected 1 success and %d seat-taken, got %d and %d", callers-1, successes, taken)
	}
	if l.Balance().Cmp(tenth) != 0 {
		t.Fatalf("expected balance %s, got %s", tenth, l.Balance())
	}
}

func TestLedger_ConcurrentWithdraw(t *testing.T) {
	ctx := context.Background()
	l := newLedgerWithOccasion(t)
	for seat := uint64(1); seat <= 10; seat++ {
		_, _ = l.MintTicket(ctx, buyer1, 1, seat, tenth)
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total = new(big.Int)
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := l.Withdraw(ctx, owner)
			if err != nil {
				t.Errorf("unexpected error %v", err)
				return
			}
			mu.Lock()
			total.Add(total, got)
			mu.Unlock()
		}()
	}
	wg.Wait()

	want := new(big.Int).Mul(tenth, big.NewInt(10))
	if total.Cmp(want) != 0 {
		t.Fatalf("expected %s withdrawn in total, got %s", want, total)
	}
}

type fakePayee struct {
	err  error
	paid []*big.Int
	to   []Identity
	ids  []string
}

func (p *fakePayee) Pay(_ context.Context, w Withdrawal) error {
	if p.err != nil {
		return p.err
	}
	p.to = append(p.to, w.To)
	p.paid = append(p.paid, w.Amount)
	p.ids = append(p.ids, w.ID)
	return nil
}

func TestLedger_Withdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("pays owner", func(t *testing.T) {
		payee := &fakePayee{}
		l := newLedgerWithOccasion(t, WithPayee(payee))
		_, _ = l.MintTicket(ctx, buyer1, 1, 1, tenth)
		if _, err := l.Withdraw(ctx, owner); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(payee.paid) != 1 || payee.paid[0].Cmp(tenth) != 0 || payee.to[0] != owner {
			t.Fatalf("unexpected payouts %v to %v", payee.paid, payee.to)
		}
	})

	t.Run("rejects non-owner", func(t *testing.T) {
		payee := &fakePayee{}
		l := newLedgerWithOccasion(t, WithPayee(payee))
		_, _ = l.MintTicket(ctx, buyer1, 1, 1, tenth)
		if _, err := l.Withdraw(ctx, buyer1); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		if l.Balance().Cmp(tenth) != 0 || len(payee.paid) != 0 {
			t.Fatalf("expected balance untouched and no payout")
		}
	})

	t.Run("failed transfer keeps balance", func(t *testing.T) {
		boom := errors.New("recipient rejected funds")
		l := newLedgerWithOccasion(t, WithPayee(&fakePayee{err: boom}))
		_, _ = l.MintTicket(ctx, buyer1, 1, 1, tenth)
		if _, err := l.Withdraw(ctx, owner); !errors.Is(err, boom) {
			t.Fatalf("expected transfer error, got %v", err)
		}
		if l.Balance().Cmp(tenth) != 0 {
			t.Fatalf("expected balance %s, got %s", tenth, l.Balance())
		}
	})

	t.Run("empty balance", func(t *testing.T) {
		l := New(owner)
		got, err := l.Withdraw(ctx, owner)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got.Sign() != 0 {
			t.Fatalf("expected zero withdrawn, got %s", got)
		}
	})
}

type fakeJournal struct {
	failOccasion    bool
	failTicket      bool
	failWithdraw    bool
	pendingWithdraw bool
	ctxErrs         []error
	occasions       []Occasion
	tickets         []Ticket
	withdrawals     []Withdrawal
}

var errJournal = errors.New("journal unavailable")

func (j *fakeJournal) RecordOccasion(_ context.Context, o Occasion) error {
	if j.failOccasion {
		return errJournal
	}
	j.occasions = append(j.occasions, o)
	return nil
}

func (j *fakeJournal) RecordTicket(ctx context.Context, t Ticket) error {
	j.ctxErrs = append(j.ctxErrs, ctx.Err())
	if j.failTicket {
		return errJournal
	}
	j.tickets = append(j.tickets, t)
	return nil
}

func (j *fakeJournal) RecordWithdrawal(ctx context.Context, w Withdrawal, transfer func(context.Context) error) error {
	if j.failWithdraw {
		return errJournal
	}
	j.ctxErrs = append(j.ctxErrs, ctx.Err())
	if err := transfer(ctx); err != nil {
		return err
	}
	j.withdrawals = append(j.withdrawals, w)
	if j.pendingWithdraw {
		return fmt.Errorf("mark done: %w", ErrPayoutPending)
	}
	return nil
}

func TestLedger_Journal(t *testing.T) {
	ctx := context.Background()

	t.Run("records mutations", func(t *testing.T) {
		j := &fakeJournal{}
		l := newLedgerWithOccasion(t, WithJournal(j))
		_, _ = l.MintTicket(ctx, buyer1, 1, 1, tenth)
		_, _ = l.Withdraw(ctx, owner)
		if len(j.occasions) != 1 || len(j.tickets) != 1 || len(j.withdrawals) != 1 {
			t.Fatalf("unexpected journal %+v", j)
		}
		if j.withdrawals[0].Amount.Cmp(tenth) != 0 {
			t.Fatalf("expected withdrawal of %s, got %s", tenth, j.withdrawals[0].Amount)
		}
	})

	t.Run("failed occasion record", func(t *testing.T) {
		l := New(owner, WithJournal(&fakeJournal{failOccasion: true}))
		if _, err := l.CreateOccasion(ctx, owner, webSummit()); !errors.Is(err, errJournal) {
			t.Fatalf("expected journal error, got %v", err)
		}
		if l.TotalOccasions() != 0 {
			t.Fatalf("expected no occasion")
		}
	})

	t.Run("failed ticket record", func(t *testing.T) {
		j := &fakeJournal{}
		l := newLedgerWithOccasion(t, WithJournal(j))
		j.failTicket = true
		if _, err := l.MintTicket(ctx, buyer1, 1, 1, tenth); !errors.Is(err, errJournal) {
			t.Fatalf("expected journal error, got %v", err)
		}
		if l.SeatTaken(1, 1) != Unassigned || l.Balance().Sign() != 0 || l.TotalSupply() != 0 {
			t.Fatalf("expected no state change")
		}
	})

	t.Run("journal writes outlive the caller", func(t *testing.T) {
		j := &fakeJournal{}
		l := newLedgerWithOccasion(t, WithJournal(j))
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := l.MintTicket(cctx, buyer1, 1, 1, tenth); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if _, err := l.Withdraw(cctx, owner); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		for _, err := range j.ctxErrs {
			if err != nil {
				t.Fatalf("expected journal context to ignore cancellation, got %v", err)
			}
		}
	})

	t.Run("pending payout zeroes balance", func(t *testing.T) {
		j := &fakeJournal{pendingWithdraw: true}
		payee := &fakePayee{}
		l := newLedgerWithOccasion(t, WithJournal(j), WithPayee(payee))
		_, _ = l.MintTicket(ctx, buyer1, 1, 1, tenth)

		got, err := l.Withdraw(ctx, owner)
		if !errors.Is(err, ErrPayoutPending) {
			t.Fatalf("expected ErrPayoutPending, got %v", err)
		}
		if got == nil || got.Cmp(tenth) != 0 {
			t.Fatalf("expected %s reported as withdrawn, got %v", tenth, got)
		}
		if l.Balance().Sign() != 0 {
			t.Fatalf("expected zero balance, got %s", l.Balance())
		}

		j.pendingWithdraw = false
		again, err := l.Withdraw(ctx, owner)
		if err != nil || again.Sign() != 0 {
			t.Fatalf("expected a zero second withdrawal, got %v, %v", again, err)
		}
		if len(payee.paid) != 2 || payee.paid[1].Sign() != 0 {
			t.Fatalf("expected the funds to be paid once, got %v", payee.paid)
		}
	})

	t.Run("payout carries the recorded id", func(t *testing.T) {
		j := &fakeJournal{}
		payee := &fakePayee{}
		l := newLedgerWithOccasion(t, WithJournal(j), WithPayee(payee))
		_, _ = l.Withdraw(ctx, owner)
		_, _ = l.Withdraw(ctx, owner)
		if len(payee.ids) != 2 || payee.ids[0] == "" || payee.ids[0] == payee.ids[1] {
			t.Fatalf("expected two distinct payout ids, got %v", payee.ids)
		}
		if j.withdrawals[0].ID != payee.ids[0] {
			t.Fatalf("expected journal id %q to match payout id %q", j.withdrawals[0].ID, payee.ids[0])
		}
	})

	t.Run("failed withdrawal record", func(t *testing.T) {
		j := &fakeJournal{}
		payee := &fakePayee{}
		l := newLedgerWithOccasion(t, WithJournal(j), WithPayee(payee))
		_, _ = l.MintTicket(ctx, buyer1, 1, 1, tenth)
		j.failWithdraw = true
		if _, err := l.Withdraw(ctx, owner); !errors.Is(err, errJournal) {
			t.Fatalf("expected journal error, got %v", err)
		}
		if l.Balance().Cmp(tenth) != 0 || len(payee.paid) != 0 {
			t.Fatalf("expected balance untouched and no payout")
		}
	})
}

func TestLedger_Restore(t *testing.T) {
	ctx := context.Background()
	j := &fakeJournal{}
	src := newLedgerWithOccasion(t, WithJournal(j))
	_, _ = src.CreateOccasion(ctx, owner, OccasionInput{Name: "Meetup", Cost: big.NewInt(10), MaxTickets: 5})
	_, _ = src.MintTicket(ctx, buyer1, 1, 1, tenth)
	_, _ = src.MintTicket(ctx, buyer2, 2, 3, big.NewInt(11))
	_, _ = src.Withdraw(ctx, owner)
	_, _ = src.MintTicket(ctx, buyer2, 1, 2, tenth)

	snap := Snapshot{Occasions: j.occasions, Tickets: j.tickets, Withdrawals: j.withdrawals}

	t.Run("reproduces state", func(t *testing.T) {
		dst := New(owner)
		if err := dst.Restore(snap); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if dst.TotalOccasions() != 2 || dst.TotalSupply() != 3 {
			t.Fatalf("expected 2 occasions and 3 tokens, got %d and %d", dst.TotalOccasions(), dst.TotalSupply())
		}
		if dst.Balance().Cmp(src.Balance()) != 0 {
			t.Fatalf("expected balance %s, got %s", src.Balance(), dst.Balance())
		}
		if dst.SeatTaken(1, 2) != buyer2 || dst.SeatTaken(2, 3) != buyer2 || !dst.HasBought(1, buyer1) {
			t.Fatalf("seat assignments not restored")
		}
		o, _ := dst.Occasion(1)
		if o.Sold != 2 || o.Tickets != 98 {
			t.Fatalf("expected sold 2 remaining 98, got %+v", o)
		}
		if _, err := dst.MintTicket(ctx, buyer1, 1, 2, tenth); !errors.Is(err, ErrSeatTaken) {
			t.Fatalf("expected ErrSeatTaken after restore, got %v", err)
		}
		next, _ := dst.CreateOccasion(ctx, owner, webSummit())
		if next != 3 {
			t.Fatalf("expected next id 3, got %d", next)
		}
	})

	t.Run("rejects duplicate seat", func(t *testing.T) {
		bad := snap
		dup := bad.Tickets[0]
		dup.TokenID = uint64(len(bad.Tickets)) + 1
		bad.Tickets = append(append([]Ticket{}, bad.Tickets...), dup)
		if err := New(owner).Restore(bad); !errors.Is(err, ErrInvalidSnapshot) {
			t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
		}
	})

	t.Run("rejects gaps", func(t *testing.T) {
		bad := Snapshot{Occasions: []Occasion{{ID: 2, MaxTickets: 1}}}
		if err := New(owner).Restore(bad); !errors.Is(err, ErrInvalidSnapshot) {
			t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
		}
	})

	t.Run("rejects overdrawn history", func(t *testing.T) {
		bad := Snapshot{Withdrawals: []Withdrawal{{To: owner, Amount: big.NewInt(1)}}}
		if err := New(owner).Restore(bad); !errors.Is(err, ErrInvalidSnapshot) {
			t.Fatalf("expected ErrInvalidSnapshot, got %v", err)
		}
	})
}
