// Package store is the receiver's persistent mirror of the arbiter's
// channel map plus the append-only log of signed states it has admitted.
package store

import (
	"time"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/codec"
)

// ChannelRow is the receiver's local mirror of one channel_id. Identity
// fields (Receiver, Sender) are immutable after insert; the rest mirrors
// the arbiter's mutable view.
type ChannelRow struct {
	ChannelID         string
	Receiver          arbiter.Account
	Sender            arbiter.Account
	AddedBalance      arbiter.Balance
	WithdrawnBalance  arbiter.Balance
	ForceCloseStarted *time.Time
	Closed            bool
	SoftClosed        bool
	UpdatedAt         time.Time
}

// ChannelRowFromArbiter builds the mutable projection of an arbiter.Channel used to
// refresh this row; immutable identity fields are taken only on first
// insert by the caller.
func ChannelRowFromArbiter(channelID string, ch arbiter.Channel, updatedAt time.Time) ChannelRow {
	return ChannelRow{
		ChannelID:         channelID,
		Receiver:          ch.Receiver,
		Sender:            ch.Sender,
		AddedBalance:      ch.AddedBalance,
		WithdrawnBalance:  ch.WithdrawnBalance,
		ForceCloseStarted: ch.ForceCloseStarted,
		Closed:            ch.Closed,
		UpdatedAt:         updatedAt,
	}
}

// Withdrawable is the amount the receiver could redeem right now given the
// channel's withdrawn_balance and the latest signed spent_balance.
func (r ChannelRow) Withdrawable(latestSpent arbiter.Balance) arbiter.Balance {
	return latestSpent.SaturatingSub(r.WithdrawnBalance)
}

// SignedStateRow is one append-only admitted payment, keyed by
// (channel_id, created_at).
type SignedStateRow struct {
	ChannelID    string
	SpentBalance arbiter.Balance
	Signature    []byte
	CreatedAt    time.Time
}

// SignedState reconstructs the codec.SignedState this row recorded.
func (r SignedStateRow) SignedState() codec.SignedState {
	return codec.SignedState{
		State:     codec.State{ChannelID: r.ChannelID, SpentBalance: r.SpentBalance.Int()},
		Signature: r.Signature,
	}
}
