package validator

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/codec"
	"github.com/nearai/pay-per-prompt/internal/metricsreg"
	"github.com/nearai/pay-per-prompt/internal/receiver/store"
)

// StaleThreshold is how long a local mirror row may go unrefreshed before
// admission falls back to the arbiter for a cold read (spec.md §4.4).
const StaleThreshold = 30 * time.Second

// ArbiterReader is everything the validator needs from the arbiter: a
// read-only channel view, used both for cold reads and the one
// synchronous re-check in step 7.
type ArbiterReader interface {
	Channel(ctx context.Context, channelID string) (arbiter.Channel, bool, error)
}

// Validator runs the admission flow from spec.md §4.5 against an inbound
// SignedState.
type Validator struct {
	store             store.Store
	arbiter           ArbiterReader
	receiverPublicKey string
	clock             clock.Clock
	metrics           *metricsreg.ChannelMetrics
}

// New builds a Validator. receiverPublicKey is the "ed25519:<base58>"
// encoding of the keypair this receiver process signs with; admission
// rejects any channel whose registered receiver differs.
func New(st store.Store, arb ArbiterReader, receiverPublicKey string) *Validator {
	return &Validator{store: st, arbiter: arb, receiverPublicKey: receiverPublicKey, clock: clock.New()}
}

// WithClock overrides the wall clock used for staleness checks, for tests.
func (v *Validator) WithClock(c clock.Clock) *Validator {
	v.clock = c
	return v
}

// WithMetrics attaches the Prometheus collectors admission outcomes
// report to.
func (v *Validator) WithMetrics(m *metricsreg.ChannelMetrics) *Validator {
	v.metrics = m
	return v
}

// Admit runs the full 8-step flow. If insert is true and every check
// passes, the signed state is appended to the store inside the same
// transaction that re-reads the latest signed state, so a concurrent
// admission cannot slip a stale "latest" past the monotonicity check.
func (v *Validator) Admit(ctx context.Context, signed codec.SignedState, minCost arbiter.Balance, insert bool) error {
	start := v.clock.Now()
	err := v.admit(ctx, signed, minCost, insert)
	if v.metrics != nil {
		v.metrics.AdmitDuration.Observe(v.clock.Now().Sub(start).Seconds())
		if err == nil {
			v.metrics.PaymentsAdmitted.Inc()
		} else {
			v.metrics.PaymentsRejected.WithLabelValues(rejectReason(err)).Inc()
		}
	}
	return err
}

func rejectReason(err error) string {
	switch err {
	case ErrChannelNotFound:
		return "channel_not_found"
	case ErrSoftClosed:
		return "soft_closed"
	case ErrHardClosed:
		return "hard_closed"
	case ErrClosing:
		return "closing"
	case ErrInvalidOwner:
		return "invalid_owner"
	case ErrBadSignature:
		return "bad_signature"
	case ErrNonMonotonic:
		return "non_monotonic"
	case ErrPaymentTooSmall:
		return "payment_too_small"
	case ErrInsufficientFunds:
		return "insufficient_funds"
	default:
		return "other"
	}
}

func (v *Validator) admit(ctx context.Context, signed codec.SignedState, minCost arbiter.Balance, insert bool) error {
	channelID := signed.State.ChannelID

	row, err := v.getFreshChannel(ctx, channelID)
	if err != nil {
		return err
	}

	if err := v.checkChannelState(row); err != nil {
		return err
	}
	if row.Receiver.PublicKey != v.receiverPublicKey {
		return ErrInvalidOwner
	}

	senderPub, err := codec.DecodePublicKey(row.Sender.PublicKey)
	if err != nil {
		return ErrBadSignature
	}
	if !codec.Verify(senderPub, signed.State, signed.Signature) {
		return ErrBadSignature
	}

	spent := arbiter.BalanceFromBigInt(signed.State.SpentBalance)

	check := func(latest store.SignedStateRow, found bool) error {
		if found {
			if !spent.GreaterThan(latest.SpentBalance) {
				return ErrNonMonotonic
			}
			delta := spent.SaturatingSub(latest.SpentBalance)
			if delta.LessThan(minCost) {
				return ErrPaymentTooSmall
			}
		} else {
			if !spent.GreaterThan(arbiter.Zero()) {
				return ErrNonMonotonic
			}
			if spent.LessThan(minCost) {
				return ErrPaymentTooSmall
			}
		}
		return nil
	}

	// spec.md §4.5 steps 5-6 run ahead of the funds-sufficiency check in
	// step 7: a signed state that is both non-monotonic (or under
	// min_cost) and over budget must reject on the earlier step.
	latest, found, err := v.store.LatestSignedState(ctx, channelID)
	if err != nil {
		return err
	}
	if err := check(latest, found); err != nil {
		return err
	}

	if spent.GreaterThan(row.AddedBalance) {
		// The sender may have just topped up; refresh once and recheck
		// before giving up (spec.md §4.5 step 7).
		row, err = v.refreshChannel(ctx, channelID)
		if err != nil {
			return err
		}
		if spent.GreaterThan(row.AddedBalance) {
			return ErrInsufficientFunds
		}
	}

	if !insert {
		return nil
	}

	sigCopy := append([]byte(nil), signed.Signature...)
	return v.store.InsertSignedStateLinearized(ctx, channelID, check, store.SignedStateRow{
		ChannelID:    channelID,
		SpentBalance: spent,
		Signature:    sigCopy,
		CreatedAt:    v.clock.Now().UTC(),
	})
}

func (v *Validator) checkChannelState(row store.ChannelRow) error {
	if row.Closed {
		return ErrHardClosed
	}
	if row.SoftClosed {
		return ErrSoftClosed
	}
	if row.ForceCloseStarted != nil {
		return ErrClosing
	}
	return nil
}

// getFreshChannel loads the local mirror, refreshing from the arbiter on a
// cold or stale read.
func (v *Validator) getFreshChannel(ctx context.Context, channelID string) (store.ChannelRow, error) {
	row, err := v.store.GetChannel(ctx, channelID)
	switch {
	case err == nil:
		if v.clock.Now().Sub(row.UpdatedAt) <= StaleThreshold {
			return row, nil
		}
		return v.refreshChannel(ctx, channelID)
	case err == store.ErrNotFoundInDB:
		return v.refreshChannel(ctx, channelID)
	default:
		return store.ChannelRow{}, err
	}
}

func (v *Validator) refreshChannel(ctx context.Context, channelID string) (store.ChannelRow, error) {
	ch, found, err := v.arbiter.Channel(ctx, channelID)
	if err != nil {
		return store.ChannelRow{}, err
	}
	if !found {
		return store.ChannelRow{}, ErrChannelNotFound
	}

	row := store.ChannelRowFromArbiter(channelID, ch, v.clock.Now().UTC())
	if err := v.store.UpsertChannel(ctx, row); err != nil {
		return store.ChannelRow{}, err
	}
	return row, nil
}
