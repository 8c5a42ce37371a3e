package arbiter_test

import (
	"context"
	"crypto/ed25519"
	"math/big"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/codec"
)

type party struct {
	account arbiter.Account
	priv    ed25519.PrivateKey
}

func newParty(t *testing.T, id string) party {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pubStr, err := codec.EncodePublicKey(pub)
	require.NoError(t, err)
	return party{
		account: arbiter.Account{AccountID: codec.AccountID(id), PublicKey: pubStr},
		priv:    priv,
	}
}

func (p party) sign(t *testing.T, channelID string, spent int64) codec.SignedState {
	t.Helper()
	state := codec.State{ChannelID: channelID, SpentBalance: big.NewInt(spent)}
	sig, err := codec.Sign(p.priv, state)
	require.NoError(t, err)
	return codec.SignedState{State: state, Signature: sig}
}

func newHarness(t *testing.T) (*arbiter.Arbiter, *arbiter.InMemoryLedger, *clock.Mock) {
	t.Helper()
	mockClock := clock.NewMock()
	ledger := arbiter.NewInMemoryLedgerWithClock(mockClock)
	a := arbiter.New(arbiter.NewMemStore(), ledger)
	return a, ledger, mockClock
}

func TestHappyPathOpenSendWithdrawClose(t *testing.T) {
	ctx := context.Background()
	a, ledger, _ := newHarness(t)
	receiver := newParty(t, "receiver.near")
	sender := newParty(t, "sender.near")

	id, err := a.OpenChannel(ctx, receiver.account, sender.account, arbiter.NewBalance(1_000_000_000))
	require.NoError(t, err)

	withdrawState := sender.sign(t, id, 400_000_000)
	require.NoError(t, a.Withdraw(ctx, receiver.account.AccountID, withdrawState))
	require.Equal(t, arbiter.NewBalance(400_000_000).String(), ledger.BalanceOf(receiver.account.AccountID).String())

	closeState := receiver.sign(t, id, 0)
	require.NoError(t, a.Close(ctx, closeState))
	require.Equal(t, arbiter.NewBalance(600_000_000).String(), ledger.BalanceOf(sender.account.AccountID).String())

	ch, found, err := a.Channel(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, ch.Closed)
}

func TestTwoSequentialWithdrawsOnlyPayDelta(t *testing.T) {
	ctx := context.Background()
	a, ledger, _ := newHarness(t)
	receiver := newParty(t, "receiver.near")
	sender := newParty(t, "sender.near")

	id, err := a.OpenChannel(ctx, receiver.account, sender.account, arbiter.NewBalance(1_000_000_000))
	require.NoError(t, err)

	require.NoError(t, a.Withdraw(ctx, receiver.account.AccountID, sender.sign(t, id, 100_000_000)))
	require.NoError(t, a.Withdraw(ctx, receiver.account.AccountID, sender.sign(t, id, 250_000_000)))

	require.Equal(t, arbiter.NewBalance(250_000_000).String(), ledger.BalanceOf(receiver.account.AccountID).String())
}

func TestNonMonotonicWithdrawRejected(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newHarness(t)
	receiver := newParty(t, "receiver.near")
	sender := newParty(t, "sender.near")

	id, err := a.OpenChannel(ctx, receiver.account, sender.account, arbiter.NewBalance(1_000_000_000))
	require.NoError(t, err)

	require.NoError(t, a.Withdraw(ctx, receiver.account.AccountID, sender.sign(t, id, 300_000_000)))
	err = a.Withdraw(ctx, receiver.account.AccountID, sender.sign(t, id, 200_000_000))
	require.ErrorIs(t, err, arbiter.ErrNothingToWithdraw)
}

func TestTopupAfterOverspendAllowsFurtherWithdraw(t *testing.T) {
	ctx := context.Background()
	a, ledger, _ := newHarness(t)
	receiver := newParty(t, "receiver.near")
	sender := newParty(t, "sender.near")

	id, err := a.OpenChannel(ctx, receiver.account, sender.account, arbiter.NewBalance(500_000_000))
	require.NoError(t, err)

	err = a.Withdraw(ctx, receiver.account.AccountID, sender.sign(t, id, 800_000_000))
	require.NoError(t, err, "arbiter trusts the signed tuple even if it exceeds added_balance")

	require.NoError(t, a.Topup(ctx, id, arbiter.NewBalance(500_000_000)))
	require.NoError(t, a.Withdraw(ctx, receiver.account.AccountID, sender.sign(t, id, 900_000_000)))

	require.Equal(t, arbiter.NewBalance(900_000_000).String(), ledger.BalanceOf(receiver.account.AccountID).String())
}

func TestCooperativeCloseRequiresZeroBalance(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newHarness(t)
	receiver := newParty(t, "receiver.near")
	sender := newParty(t, "sender.near")

	id, err := a.OpenChannel(ctx, receiver.account, sender.account, arbiter.NewBalance(1_000_000_000))
	require.NoError(t, err)

	badClose := receiver.sign(t, id, 5)
	err = a.Close(ctx, badClose)
	require.ErrorIs(t, err, arbiter.ErrInvalidClosePayload)

	goodClose := receiver.sign(t, id, 0)
	require.NoError(t, a.Close(ctx, goodClose))
}

func TestForceCloseRaceAgainstCooperativeClose(t *testing.T) {
	ctx := context.Background()
	a, ledger, mockClock := newHarness(t)
	receiver := newParty(t, "receiver.near")
	sender := newParty(t, "sender.near")

	id, err := a.OpenChannel(ctx, receiver.account, sender.account, arbiter.NewBalance(1_000_000_000))
	require.NoError(t, err)
	require.NoError(t, a.Withdraw(ctx, receiver.account.AccountID, sender.sign(t, id, 200_000_000)))

	require.NoError(t, a.ForceCloseStart(ctx, sender.account.AccountID, id))

	err = a.ForceCloseFinish(ctx, id)
	require.ErrorIs(t, err, arbiter.ErrTimeoutNotElapsed)

	require.NoError(t, a.Close(ctx, receiver.sign(t, id, 0)))
	require.Equal(t, arbiter.NewBalance(800_000_000).String(), ledger.BalanceOf(sender.account.AccountID).String())

	mockClock.Add(8 * 24 * time.Hour)
	err = a.ForceCloseFinish(ctx, id)
	require.ErrorIs(t, err, arbiter.ErrNotFound, "channel already closed cooperatively, force close has nothing left to finish")
}

func TestForceCloseFinishAfterTimeoutRefundsSender(t *testing.T) {
	ctx := context.Background()
	a, ledger, mockClock := newHarness(t)
	receiver := newParty(t, "receiver.near")
	sender := newParty(t, "sender.near")

	id, err := a.OpenChannel(ctx, receiver.account, sender.account, arbiter.NewBalance(1_000_000_000))
	require.NoError(t, err)
	require.NoError(t, a.Withdraw(ctx, receiver.account.AccountID, sender.sign(t, id, 300_000_000)))
	require.NoError(t, a.ForceCloseStart(ctx, sender.account.AccountID, id))

	mockClock.Add(arbiter.HardCloseTimeout - time.Second)
	require.ErrorIs(t, a.ForceCloseFinish(ctx, id), arbiter.ErrTimeoutNotElapsed)

	mockClock.Add(2 * time.Second)
	require.NoError(t, a.ForceCloseFinish(ctx, id))
	require.Equal(t, arbiter.NewBalance(700_000_000).String(), ledger.BalanceOf(sender.account.AccountID).String())

	ch, found, err := a.Channel(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, ch.Closed)
}

func TestChannelIDNeverReused(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newHarness(t)
	receiver := newParty(t, "receiver.near")
	sender := newParty(t, "sender.near")

	id, err := a.OpenChannel(ctx, receiver.account, sender.account, arbiter.NewBalance(1))
	require.NoError(t, err)
	require.NoError(t, a.Close(ctx, receiver.sign(t, id, 0)))

	err = a.OpenChannelWithID(ctx, id, receiver.account, sender.account, arbiter.NewBalance(1))
	require.ErrorIs(t, err, arbiter.ErrAlreadyExists)
}

func TestWithdrawRejectsForgedSignature(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newHarness(t)
	receiver := newParty(t, "receiver.near")
	sender := newParty(t, "sender.near")
	attacker := newParty(t, "attacker.near")

	id, err := a.OpenChannel(ctx, receiver.account, sender.account, arbiter.NewBalance(1_000_000_000))
	require.NoError(t, err)

	forged := attacker.sign(t, id, 999_000_000)
	err = a.Withdraw(ctx, receiver.account.AccountID, forged)
	require.ErrorIs(t, err, arbiter.ErrBadSignature)
}

func TestWithdrawRequiresReceiverCaller(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newHarness(t)
	receiver := newParty(t, "receiver.near")
	sender := newParty(t, "sender.near")
	other := newParty(t, "other.near")

	id, err := a.OpenChannel(ctx, receiver.account, sender.account, arbiter.NewBalance(1_000_000_000))
	require.NoError(t, err)

	err = a.Withdraw(ctx, other.account.AccountID, sender.sign(t, id, 1))
	require.ErrorIs(t, err, arbiter.ErrUnauthorized)
}

func TestWithdrawAndCloseIsAtomic(t *testing.T) {
	ctx := context.Background()
	a, ledger, _ := newHarness(t)
	receiver := newParty(t, "receiver.near")
	sender := newParty(t, "sender.near")

	id, err := a.OpenChannel(ctx, receiver.account, sender.account, arbiter.NewBalance(1_000_000_000))
	require.NoError(t, err)

	withdrawState := sender.sign(t, id, 300_000_000)
	closeState := receiver.sign(t, id, 0)
	require.NoError(t, a.WithdrawAndClose(ctx, receiver.account.AccountID, withdrawState, closeState))

	require.Equal(t, arbiter.NewBalance(300_000_000).String(), ledger.BalanceOf(receiver.account.AccountID).String())
	require.Equal(t, arbiter.NewBalance(700_000_000).String(), ledger.BalanceOf(sender.account.AccountID).String())

	ch, found, err := a.Channel(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, ch.Closed)
}

func TestTopupRejectedOnClosingChannel(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newHarness(t)
	receiver := newParty(t, "receiver.near")
	sender := newParty(t, "sender.near")

	id, err := a.OpenChannel(ctx, receiver.account, sender.account, arbiter.NewBalance(1_000_000_000))
	require.NoError(t, err)
	require.NoError(t, a.ForceCloseStart(ctx, sender.account.AccountID, id))

	err = a.Topup(ctx, id, arbiter.NewBalance(1))
	require.ErrorIs(t, err, arbiter.ErrClosing)
}
