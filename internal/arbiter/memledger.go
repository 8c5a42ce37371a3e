package arbiter

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/nearai/pay-per-prompt/internal/codec"
)

// Transfer records a completed Ledger.Transfer call, for tests and for
// the single-process demo runtime where there is no real chain to
// settle against.
type Transfer struct {
	To     codec.AccountID
	Amount Balance
	At     time.Time
}

// InMemoryLedger is a Ledger backed by an injectable clock
// (benbjohnson/clock), so tests can advance time deterministically to
// exercise the 7-day force-close timeout without sleeping. It records
// every transfer for assertions.
type InMemoryLedger struct {
	mu        sync.Mutex
	clock     clock.Clock
	transfers []Transfer
}

// NewInMemoryLedger builds a ledger using the real wall clock.
func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{clock: clock.New()}
}

// NewInMemoryLedgerWithClock builds a ledger using the supplied clock,
// typically a *clock.Mock for tests.
func NewInMemoryLedgerWithClock(c clock.Clock) *InMemoryLedger {
	return &InMemoryLedger{clock: c}
}

// Transfer implements Ledger.
func (l *InMemoryLedger) Transfer(_ context.Context, to codec.AccountID, amount Balance) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transfers = append(l.transfers, Transfer{To: to, Amount: amount, At: l.clock.Now()})
	return nil
}

// Now implements Ledger.
func (l *InMemoryLedger) Now() time.Time {
	return l.clock.Now()
}

// Transfers returns a copy of every transfer recorded so far, in
// order.
func (l *InMemoryLedger) Transfers() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transfer, len(l.transfers))
	copy(out, l.transfers)
	return out
}

// BalanceOf sums every transfer made to account, a convenience for
// tests asserting on cumulative settlement.
func (l *InMemoryLedger) BalanceOf(account codec.AccountID) Balance {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := Zero()
	for _, t := range l.transfers {
		if t.To == account {
			total = total.Add(t.Amount)
		}
	}
	return total
}
