package validator_test

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/codec"
	"github.com/nearai/pay-per-prompt/internal/receiver/store"
	"github.com/nearai/pay-per-prompt/internal/receiver/validator"
)

type fakeArbiterReader struct {
	channels map[string]arbiter.Channel
}

func (f *fakeArbiterReader) Channel(ctx context.Context, channelID string) (arbiter.Channel, bool, error) {
	ch, found := f.channels[channelID]
	return ch, found, nil
}

type harness struct {
	store     *store.SQLStore
	arb       *fakeArbiterReader
	clock     *clock.Mock
	validator *validator.Validator
	senderKey ed25519.PrivateKey
	receiver  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	senderPub, senderPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	senderPubStr, err := codec.EncodePublicKey(senderPub)
	require.NoError(t, err)

	receiverPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	receiverPubStr, err := codec.EncodePublicKey(receiverPub)
	require.NoError(t, err)

	mockClock := clock.NewMock()
	arb := &fakeArbiterReader{channels: map[string]arbiter.Channel{
		"chan-1": {
			Receiver:         arbiter.Account{AccountID: "receiver.near", PublicKey: receiverPubStr},
			Sender:           arbiter.Account{AccountID: "sender.near", PublicKey: senderPubStr},
			AddedBalance:     arbiter.NewBalance(1_000_000_000),
			WithdrawnBalance: arbiter.Zero(),
		},
	}}

	v := validator.New(st, arb, receiverPubStr).WithClock(mockClock)

	return &harness{store: st, arb: arb, clock: mockClock, validator: v, senderKey: senderPriv, receiver: receiverPubStr}
}

func (h *harness) sign(t *testing.T, channelID string, spent int64) codec.SignedState {
	t.Helper()
	state := codec.State{ChannelID: channelID, SpentBalance: arbiter.NewBalance(spent).Int()}
	sig, err := codec.Sign(h.senderKey, state)
	require.NoError(t, err)
	return codec.SignedState{State: state, Signature: sig}
}

func TestAdmitColdReadRefreshesFromArbiter(t *testing.T) {
	h := newHarness(t)
	signed := h.sign(t, "chan-1", 400_000_000)

	err := h.validator.Admit(context.Background(), signed, arbiter.NewBalance(1), true)
	require.NoError(t, err)

	latest, found, err := h.store.LatestSignedState(context.Background(), "chan-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "400000000", latest.SpentBalance.String())
}

func TestAdmitRejectsUnknownChannel(t *testing.T) {
	h := newHarness(t)
	signed := h.sign(t, "chan-missing", 100)

	err := h.validator.Admit(context.Background(), signed, arbiter.Zero(), true)
	require.ErrorIs(t, err, validator.ErrChannelNotFound)
}

func TestAdmitRejectsBadSignature(t *testing.T) {
	h := newHarness(t)
	signed := h.sign(t, "chan-1", 400_000_000)
	signed.Signature[0] ^= 0xFF

	err := h.validator.Admit(context.Background(), signed, arbiter.Zero(), true)
	require.ErrorIs(t, err, validator.ErrBadSignature)
}

func TestAdmitRejectsNonMonotonicResubmit(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.validator.Admit(context.Background(), h.sign(t, "chan-1", 400_000_000), arbiter.Zero(), true))

	err := h.validator.Admit(context.Background(), h.sign(t, "chan-1", 300_000_000), arbiter.Zero(), true)
	require.ErrorIs(t, err, validator.ErrNonMonotonic)
}

func TestAdmitRejectsPaymentBelowMinCost(t *testing.T) {
	h := newHarness(t)
	err := h.validator.Admit(context.Background(), h.sign(t, "chan-1", 100), arbiter.NewBalance(1_000), false)
	require.ErrorIs(t, err, validator.ErrPaymentTooSmall)
}

func TestAdmitAtExactlyAddedBalanceAccepted(t *testing.T) {
	h := newHarness(t)
	err := h.validator.Admit(context.Background(), h.sign(t, "chan-1", 1_000_000_000), arbiter.Zero(), true)
	require.NoError(t, err)
}

func TestAdmitRefreshesOnceOnInsufficientFundsThenAccepts(t *testing.T) {
	h := newHarness(t)

	// First admission is far below added_balance so the local mirror gets
	// created at added_balance = 1_000_000_000.
	require.NoError(t, h.validator.Admit(context.Background(), h.sign(t, "chan-1", 100_000_000), arbiter.Zero(), true))

	// Sender tops up on-chain; bump the arbiter's view before the next send.
	ch := h.arb.channels["chan-1"]
	ch.AddedBalance = arbiter.NewBalance(2_000_000_000)
	h.arb.channels["chan-1"] = ch

	err := h.validator.Admit(context.Background(), h.sign(t, "chan-1", 1_500_000_000), arbiter.Zero(), true)
	require.NoError(t, err)
}

func TestAdmitStillInsufficientAfterRefresh(t *testing.T) {
	h := newHarness(t)
	err := h.validator.Admit(context.Background(), h.sign(t, "chan-1", 1_000_000_001), arbiter.Zero(), true)
	require.ErrorIs(t, err, validator.ErrInsufficientFunds)
}

func TestAdmitChecksMinCostBeforeFunds(t *testing.T) {
	h := newHarness(t)
	ch := h.arb.channels["chan-1"]
	ch.AddedBalance = arbiter.NewBalance(100)
	h.arb.channels["chan-1"] = ch

	require.NoError(t, h.validator.Admit(context.Background(), h.sign(t, "chan-1", 99), arbiter.NewBalance(5), true))

	// 101 is both over added_balance (100) and a too-small delta (2 < the
	// min_cost of 5) against the latest spent_balance of 99. spec.md §4.5
	// rejects on the earlier step (6) before the funds check (step 7) ever
	// runs, so the error must be PaymentTooSmall, not InsufficientFunds.
	err := h.validator.Admit(context.Background(), h.sign(t, "chan-1", 101), arbiter.NewBalance(5), true)
	require.ErrorIs(t, err, validator.ErrPaymentTooSmall)
	require.NotErrorIs(t, err, validator.ErrInsufficientFunds)
}

func TestAdmitRejectsWrongReceiverPublicKey(t *testing.T) {
	h := newHarness(t)
	otherReceiverPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	otherReceiverPubStr, err := codec.EncodePublicKey(otherReceiverPub)
	require.NoError(t, err)

	v := validator.New(h.store, h.arb, otherReceiverPubStr).WithClock(h.clock)
	err = v.Admit(context.Background(), h.sign(t, "chan-1", 400_000_000), arbiter.Zero(), true)
	require.ErrorIs(t, err, validator.ErrInvalidOwner)
}

func TestAdmitRejectsForceClosingChannel(t *testing.T) {
	h := newHarness(t)
	ch := h.arb.channels["chan-1"]
	started := h.clock.Now()
	ch.ForceCloseStarted = &started
	h.arb.channels["chan-1"] = ch

	err := h.validator.Admit(context.Background(), h.sign(t, "chan-1", 400_000_000), arbiter.Zero(), true)
	require.ErrorIs(t, err, validator.ErrClosing)
}

func TestAdmitWithoutInsertDoesNotPersist(t *testing.T) {
	h := newHarness(t)
	err := h.validator.Admit(context.Background(), h.sign(t, "chan-1", 400_000_000), arbiter.Zero(), false)
	require.NoError(t, err)

	_, found, err := h.store.LatestSignedState(context.Background(), "chan-1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestAdmitUsesStaleMirrorWithinThreshold(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.validator.Admit(context.Background(), h.sign(t, "chan-1", 400_000_000), arbiter.Zero(), true))

	// Remove the channel from the arbiter entirely; a fresh read within the
	// staleness window must still succeed off the local mirror.
	delete(h.arb.channels, "chan-1")
	h.clock.Add(validator.StaleThreshold - time.Second)

	err := h.validator.Admit(context.Background(), h.sign(t, "chan-1", 500_000_000), arbiter.Zero(), true)
	require.NoError(t, err)
}
