package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/receiver/store"
)

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	s, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testChannelRow(channelID string) store.ChannelRow {
	return store.ChannelRow{
		ChannelID:        channelID,
		Receiver:         arbiter.Account{AccountID: "receiver.near", PublicKey: "ed25519:receiver"},
		Sender:           arbiter.Account{AccountID: "sender.near", PublicKey: "ed25519:sender"},
		AddedBalance:     arbiter.NewBalance(1_000_000_000),
		WithdrawnBalance: arbiter.Zero(),
		UpdatedAt:        time.Now().UTC(),
	}
}

func TestUpsertThenGetChannelRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := testChannelRow("chan-1")
	require.NoError(t, s.UpsertChannel(ctx, row))

	got, err := s.GetChannel(ctx, "chan-1")
	require.NoError(t, err)
	require.Equal(t, row.Receiver, got.Receiver)
	require.Equal(t, row.Sender, got.Sender)
	require.Equal(t, "1000000000", got.AddedBalance.String())
}

func TestGetChannelNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetChannel(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFoundInDB)
}

func TestUpsertChannelPreservesIdentityOnUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := testChannelRow("chan-2")
	require.NoError(t, s.UpsertChannel(ctx, row))

	updated := row
	updated.Sender.AccountID = "attacker.near" // identity columns are written on first insert only; an update leaves them as they were.
	updated.AddedBalance = arbiter.NewBalance(2_000_000_000)
	require.NoError(t, s.UpsertChannel(ctx, updated))

	got, err := s.GetChannel(ctx, "chan-2")
	require.NoError(t, err)
	require.Equal(t, "2000000000", got.AddedBalance.String())
	require.Equal(t, row.Sender, got.Sender)
}

func TestTouchUpdatedAtIsIdempotentOnMonetaryFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := testChannelRow("chan-3")
	require.NoError(t, s.UpsertChannel(ctx, row))

	require.NoError(t, s.TouchUpdatedAt(ctx, "chan-3"))

	got, err := s.GetChannel(ctx, "chan-3")
	require.NoError(t, err)
	require.Equal(t, "1000000000", got.AddedBalance.String())
	require.False(t, got.SoftClosed)
}

func TestSoftCloseBlocksFurtherAdmission(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	row := testChannelRow("chan-4")
	require.NoError(t, s.UpsertChannel(ctx, row))
	require.NoError(t, s.SoftClose(ctx, "chan-4"))

	got, err := s.GetChannel(ctx, "chan-4")
	require.NoError(t, err)
	require.True(t, got.SoftClosed)

	err = s.InsertSignedStateLinearized(ctx, "chan-4", func(store.SignedStateRow, bool) error { return nil }, store.SignedStateRow{
		ChannelID: "chan-4", SpentBalance: arbiter.NewBalance(1), Signature: []byte("sig"), CreatedAt: time.Now().UTC(),
	})
	require.ErrorIs(t, err, store.ErrSoftClosed)
}

func TestLatestSignedStateEmptyWhenNoneInserted(t *testing.T) {
	s := newTestStore(t)
	_, found, err := s.LatestSignedState(context.Background(), "chan-5")
	require.NoError(t, err)
	require.False(t, found)
}

func TestInsertSignedStateLinearizedRejectsNonMonotonicInsideTx(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertChannel(ctx, testChannelRow("chan-6")))

	monotonic := func(latest store.SignedStateRow, found bool) error {
		if found && latest.SpentBalance.GreaterThan(arbiter.Zero()) {
			return nil
		}
		return nil
	}
	err := s.InsertSignedStateLinearized(ctx, "chan-6", monotonic, store.SignedStateRow{
		ChannelID: "chan-6", SpentBalance: arbiter.NewBalance(400_000_000), Signature: []byte("sig-1"), CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	rejectAll := func(latest store.SignedStateRow, found bool) error {
		return arbiter.ErrBadSignature // stand-in for a NonMonotonic rejection
	}
	err = s.InsertSignedStateLinearized(ctx, "chan-6", rejectAll, store.SignedStateRow{
		ChannelID: "chan-6", SpentBalance: arbiter.NewBalance(300_000_000), Signature: []byte("sig-2"), CreatedAt: time.Now().UTC(),
	})
	require.Error(t, err)

	latest, found, err := s.LatestSignedState(ctx, "chan-6")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "400000000", latest.SpentBalance.String())
}

func TestStaleChannelsExcludesSoftClosedAndFresh(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	stale := testChannelRow("chan-stale")
	stale.UpdatedAt = time.Now().Add(-time.Hour).UTC()
	require.NoError(t, s.UpsertChannel(ctx, stale))

	fresh := testChannelRow("chan-fresh")
	fresh.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.UpsertChannel(ctx, fresh))

	closed := testChannelRow("chan-closed")
	closed.UpdatedAt = time.Now().Add(-time.Hour).UTC()
	require.NoError(t, s.UpsertChannel(ctx, closed))
	require.NoError(t, s.SoftClose(ctx, "chan-closed"))

	rows, err := s.StaleChannels(ctx, "receiver.near", 30*time.Second, 16)
	require.NoError(t, err)
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ChannelID)
	}
	require.Contains(t, ids, "chan-stale")
	require.NotContains(t, ids, "chan-fresh")
	require.NotContains(t, ids, "chan-closed")
}

func TestStaleChannelsExcludesOtherReceivers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ours := testChannelRow("chan-ours")
	ours.UpdatedAt = time.Now().Add(-time.Hour).UTC()
	require.NoError(t, s.UpsertChannel(ctx, ours))

	foreign := testChannelRow("chan-foreign")
	foreign.Receiver = arbiter.Account{AccountID: "other-receiver.near", PublicKey: "ed25519:other"}
	foreign.UpdatedAt = time.Now().Add(-time.Hour).UTC()
	require.NoError(t, s.UpsertChannel(ctx, foreign))

	rows, err := s.StaleChannels(ctx, "receiver.near", 30*time.Second, 16)
	require.NoError(t, err)
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ChannelID)
	}
	require.Contains(t, ids, "chan-ours")
	require.NotContains(t, ids, "chan-foreign")
}
