package arbiter

import (
	"context"
	"sync"
	"time"

	"github.com/nearai/pay-per-prompt/internal/codec"
)

// HardCloseTimeout is the force-close safety window: seven days must
// elapse after force_close_start before force_close_finish succeeds
// (spec.md §4.2).
const HardCloseTimeout = 7 * 24 * time.Hour

// Arbiter is the authoritative state machine over a keyed set of
// channels. It executes every operation under a single mutex,
// matching the "single-threaded deterministic runtime, no reentrancy"
// model in spec.md §5 — an on-chain contract call is atomic with
// respect to every other call.
type Arbiter struct {
	mu     sync.Mutex
	store  Store
	ledger Ledger
}

// New builds an Arbiter over the given Store and Ledger.
func New(store Store, ledger Ledger) *Arbiter {
	return &Arbiter{store: store, ledger: ledger}
}

// OpenChannel allocates a fresh channel_id and creates a new Channel
// entry with added_balance = deposit. Mirrors the `open_channel`
// payable method in spec.md §4.2/§6.
func (a *Arbiter) OpenChannel(ctx context.Context, receiver, sender Account, deposit Balance) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id, err := a.store.NewChannelID()
	if err != nil {
		return "", err
	}

	ch := Channel{
		Receiver:         receiver,
		Sender:           sender,
		AddedBalance:     deposit,
		WithdrawnBalance: Zero(),
	}
	if err := a.store.Put(id, ch); err != nil {
		return "", err
	}
	return id, nil
}

// OpenChannelWithID is OpenChannel for callers that must pin the
// channel_id themselves (the sender generates its own UUID per
// spec.md §4.3). It fails with ErrAlreadyExists if the id is already
// present, including as a closed sentinel, so a channel_id can never
// be reused (spec.md invariant 2).
func (a *Arbiter) OpenChannelWithID(ctx context.Context, channelID string, receiver, sender Account, deposit Balance) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, found, err := a.store.Get(channelID); err != nil {
		return err
	} else if found {
		return ErrAlreadyExists
	}

	ch := Channel{
		Receiver:         receiver,
		Sender:           sender,
		AddedBalance:     deposit,
		WithdrawnBalance: Zero(),
	}
	return a.store.Put(channelID, ch)
}

// Topup adds attachedDeposit to a channel's added_balance. Fails if
// the channel does not exist, is closed, or has started a force
// close.
func (a *Arbiter) Topup(ctx context.Context, channelID string, attachedDeposit Balance) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch, found, err := a.store.Get(channelID)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if ch.Closed {
		return ErrClosed
	}
	if ch.ForceCloseStarted != nil {
		return ErrClosing
	}

	ch.AddedBalance = ch.AddedBalance.Add(attachedDeposit)
	return a.store.Put(channelID, ch)
}

// Withdraw redeems the delta between state.SpentBalance and the
// channel's withdrawn_balance to the receiver. callerAccountID must be
// the channel's registered receiver. Mirrors spec.md §4.2 `withdraw`.
func (a *Arbiter) Withdraw(ctx context.Context, callerAccountID codec.AccountID, state codec.SignedState) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch, delta, err := a.prepareWithdraw(callerAccountID, state)
	if err != nil {
		return err
	}

	ch.WithdrawnBalance = BalanceFromBigInt(state.State.SpentBalance)
	if err := a.store.Put(state.State.ChannelID, ch); err != nil {
		return err
	}
	return a.ledger.Transfer(ctx, ch.Receiver.AccountID, delta)
}

// prepareWithdraw validates a withdraw request and returns the
// updated (but not yet persisted) channel plus the delta to transfer.
// Shared by Withdraw and WithdrawAndClose so both apply identical
// requires.
func (a *Arbiter) prepareWithdraw(callerAccountID codec.AccountID, state codec.SignedState) (Channel, Balance, error) {
	ch, found, err := a.store.Get(state.State.ChannelID)
	if err != nil {
		return Channel{}, Balance{}, err
	}
	if !found || ch.Closed {
		return Channel{}, Balance{}, ErrNotFound
	}
	if ch.Receiver.AccountID != callerAccountID {
		return Channel{}, Balance{}, ErrUnauthorized
	}

	senderPub, err := codec.DecodePublicKey(ch.Sender.PublicKey)
	if err != nil {
		return Channel{}, Balance{}, ErrBadSignature
	}
	if !codec.Verify(senderPub, state.State, state.Signature) {
		return Channel{}, Balance{}, ErrBadSignature
	}

	spent := BalanceFromBigInt(state.State.SpentBalance)
	if !spent.GreaterThan(ch.WithdrawnBalance) {
		return Channel{}, Balance{}, ErrNothingToWithdraw
	}

	delta := spent.SaturatingSub(ch.WithdrawnBalance)
	return ch, delta, nil
}

// Close performs a cooperative close: anyone holding a receiver-signed
// zero-balance SignedState may call it. Refunds the remaining balance
// to the sender and writes the closed sentinel. Mirrors spec.md §4.2
// `close`.
func (a *Arbiter) Close(ctx context.Context, state codec.SignedState) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch, remaining, err := a.prepareClose(state)
	if err != nil {
		return err
	}

	if err := a.store.Put(state.State.ChannelID, closedSentinel()); err != nil {
		return err
	}
	return a.ledger.Transfer(ctx, ch.Sender.AccountID, remaining)
}

func (a *Arbiter) prepareClose(state codec.SignedState) (Channel, Balance, error) {
	ch, found, err := a.store.Get(state.State.ChannelID)
	if err != nil {
		return Channel{}, Balance{}, err
	}
	if !found || ch.Closed {
		return Channel{}, Balance{}, ErrNotFound
	}

	receiverPub, err := codec.DecodePublicKey(ch.Receiver.PublicKey)
	if err != nil {
		return Channel{}, Balance{}, ErrBadSignature
	}
	if !codec.Verify(receiverPub, state.State, state.Signature) {
		return Channel{}, Balance{}, ErrBadSignature
	}
	if !state.State.IsZeroPayment() {
		return Channel{}, Balance{}, ErrInvalidClosePayload
	}

	remaining := ch.AddedBalance.SaturatingSub(ch.WithdrawnBalance)
	return ch, remaining, nil
}

// WithdrawAndClose atomically applies a Withdraw followed by a Close
// in a single transition, so the receiver never pays gas twice when
// tearing down a channel (spec.md §4.2 `withdraw_and_close`, used by
// the reconciler's HardClose path).
func (a *Arbiter) WithdrawAndClose(ctx context.Context, callerAccountID codec.AccountID, withdrawState, closeState codec.SignedState) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if withdrawState.State.ChannelID != closeState.State.ChannelID {
		return ErrNotFound
	}

	ch, delta, err := a.prepareWithdraw(callerAccountID, withdrawState)
	if err != nil {
		return err
	}
	ch.WithdrawnBalance = BalanceFromBigInt(withdrawState.State.SpentBalance)

	// Re-validate close against the post-withdraw channel view.
	receiverPub, err := codec.DecodePublicKey(ch.Receiver.PublicKey)
	if err != nil {
		return ErrBadSignature
	}
	if !codec.Verify(receiverPub, closeState.State, closeState.Signature) {
		return ErrBadSignature
	}
	if !closeState.State.IsZeroPayment() {
		return ErrInvalidClosePayload
	}

	remaining := ch.AddedBalance.SaturatingSub(ch.WithdrawnBalance)

	if err := a.store.Put(withdrawState.State.ChannelID, closedSentinel()); err != nil {
		return err
	}
	if err := a.ledger.Transfer(ctx, ch.Receiver.AccountID, delta); err != nil {
		return err
	}
	return a.ledger.Transfer(ctx, ch.Sender.AccountID, remaining)
}

// ForceCloseStart begins the sender-initiated force-close timer.
// Mirrors spec.md §4.2 `force_close_start`.
func (a *Arbiter) ForceCloseStart(ctx context.Context, callerAccountID codec.AccountID, channelID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch, found, err := a.store.Get(channelID)
	if err != nil {
		return err
	}
	if !found || ch.Closed {
		return ErrNotFound
	}
	if ch.Sender.AccountID != callerAccountID {
		return ErrUnauthorized
	}
	if ch.ForceCloseStarted != nil {
		return ErrForceCloseActive
	}

	now := a.ledger.Now()
	ch.ForceCloseStarted = &now
	return a.store.Put(channelID, ch)
}

// ForceCloseFinish may be called by anyone once HardCloseTimeout has
// elapsed since force_close_start; it refunds the sender's remaining
// balance and writes the closed sentinel. Mirrors spec.md §4.2
// `force_close_finish`. Before the timeout it aborts with no state
// change (spec.md §8 invariant 5).
func (a *Arbiter) ForceCloseFinish(ctx context.Context, channelID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ch, found, err := a.store.Get(channelID)
	if err != nil {
		return err
	}
	if !found || ch.Closed {
		return ErrNotFound
	}
	if ch.ForceCloseStarted == nil {
		return ErrNotClosing
	}

	elapsed := a.ledger.Now().Sub(*ch.ForceCloseStarted)
	if elapsed < HardCloseTimeout {
		return ErrTimeoutNotElapsed
	}

	remaining := ch.AddedBalance.SaturatingSub(ch.WithdrawnBalance)
	if err := a.store.Put(channelID, closedSentinel()); err != nil {
		return err
	}
	return a.ledger.Transfer(ctx, ch.Sender.AccountID, remaining)
}

// Channel returns a read-only view of channelID, or found=false if it
// has never been opened.
func (a *Arbiter) Channel(ctx context.Context, channelID string) (Channel, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.store.Get(channelID)
}

// closedSentinel is the terminal Channel value written in place of a
// hard-closed entry. It stays indexed under its channel_id (the Store
// still has a Put at that key) to block reuse, per spec.md invariant 3.
func closedSentinel() Channel {
	return Channel{Closed: true, AddedBalance: Zero(), WithdrawnBalance: Zero()}
}
