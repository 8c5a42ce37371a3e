// Package reconciler runs the receiver's background sweep: it pulls
// channels whose local mirror has gone stale, refreshes them from the
// arbiter, and withdraws or closes the ones that are idle or mid
// force-close (spec.md §4.6).
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/codec"
	"github.com/nearai/pay-per-prompt/internal/keyguard"
	"github.com/nearai/pay-per-prompt/internal/metricsreg"
	"github.com/nearai/pay-per-prompt/internal/receiver/store"
)

// ArbiterClient is everything the reconciler needs from the arbiter: a
// fresh read plus the two mutating calls it may issue.
type ArbiterClient interface {
	Channel(ctx context.Context, channelID string) (arbiter.Channel, bool, error)
	Withdraw(ctx context.Context, caller codec.AccountID, state codec.SignedState) error
	WithdrawAndClose(ctx context.Context, caller codec.AccountID, withdrawState, closeState codec.SignedState) error
}

// Config tunes the sweep. New uses it as given and does not fill in zero
// fields; start from Defaults for the standard values.
type Config struct {
	PollInterval      time.Duration
	StaleThreshold    time.Duration
	IdleThreshold     time.Duration
	MaxConcurrent     int
	BatchLimit        int
	MinWithdrawAmount arbiter.Balance
}

// Defaults matches spec.md §4.6's stated constants.
func Defaults() Config {
	return Config{
		PollInterval:      5 * time.Second,
		StaleThreshold:    30 * time.Second,
		IdleThreshold:     24 * time.Hour,
		MaxConcurrent:     4,
		BatchLimit:        16,
		MinWithdrawAmount: arbiter.Zero(),
	}
}

// Reconciler owns the single long-lived cooperative sweep task.
type Reconciler struct {
	store             store.Store
	arbiter           ArbiterClient
	receiverAccountID codec.AccountID
	receiverKey       keyguard.GuardedKey
	cfg               Config
	clock             clock.Clock
	logger            *zap.Logger
	metrics           *metricsreg.ChannelMetrics
}

// New builds a Reconciler. receiverKey signs the zero-balance close
// state used by HardClose; it never leaves this process.
func New(st store.Store, arb ArbiterClient, receiverAccountID codec.AccountID, receiverKey keyguard.GuardedKey, cfg Config, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:             st,
		arbiter:           arb,
		receiverAccountID: receiverAccountID,
		receiverKey:       receiverKey,
		cfg:               cfg,
		clock:             clock.New(),
		logger:            logger,
	}
}

// WithClock overrides the wall clock, for tests.
func (r *Reconciler) WithClock(c clock.Clock) *Reconciler {
	r.clock = c
	return r
}

// WithMetrics attaches the Prometheus collectors this sweep reports to.
func (r *Reconciler) WithMetrics(m *metricsreg.ChannelMetrics) *Reconciler {
	r.metrics = m
	return r
}

// Run ticks every cfg.PollInterval until ctx is cancelled. A tick already
// in flight is allowed to finish; no new tick starts after cancellation.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := r.clock.Ticker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.SweepOnce(ctx); err != nil {
				r.logger.Warn("reconciler sweep completed with errors", zap.Error(err))
			}
		}
	}
}

// SweepOnce runs a single pass over the stale set. Per-row failures are
// isolated: one bad channel never prevents the rest of the batch from
// being reconciled, and the row simply reappears on the next sweep.
func (r *Reconciler) SweepOnce(ctx context.Context) error {
	rows, err := r.store.StaleChannels(ctx, string(r.receiverAccountID), r.cfg.StaleThreshold, r.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("reconciler: list stale channels: %w", err)
	}

	if r.metrics != nil {
		r.metrics.ReconcilerSweeps.Inc()
		r.metrics.ReconcilerRowsSeen.WithLabelValues().Set(float64(len(rows)))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrent)

	var mu sync.Mutex
	var errs error

	for _, row := range rows {
		row := row
		g.Go(func() error {
			if err := r.reconcileRow(gctx, row); err != nil {
				r.logger.Warn("reconcile row failed",
					zap.String("channel_id", row.ChannelID), zap.Error(err))
				if r.metrics != nil {
					r.metrics.ReconcilerErrors.Inc()
				}
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("channel %s: %w", row.ChannelID, err))
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait() // the inner goroutines never return a non-nil error themselves
	return errs
}

func (r *Reconciler) reconcileRow(ctx context.Context, row store.ChannelRow) error {
	ch, found, err := r.arbiter.Channel(ctx, row.ChannelID)
	if err != nil {
		return err
	}
	if !found {
		return r.store.TouchUpdatedAt(ctx, row.ChannelID)
	}

	row = store.ChannelRowFromArbiter(row.ChannelID, ch, r.clock.Now().UTC())
	if err := r.store.UpsertChannel(ctx, row); err != nil {
		return err
	}

	if row.Closed {
		return r.store.SoftClose(ctx, row.ChannelID)
	}

	latest, found, err := r.store.LatestSignedState(ctx, row.ChannelID)
	if err != nil {
		return err
	}
	if !found {
		return r.store.TouchUpdatedAt(ctx, row.ChannelID)
	}

	withdrawable := row.Withdrawable(latest.SpentBalance)
	if !withdrawable.GreaterThan(arbiter.Zero()) || withdrawable.LessThan(r.cfg.MinWithdrawAmount) {
		return r.store.TouchUpdatedAt(ctx, row.ChannelID)
	}

	idle := r.clock.Now().Sub(latest.CreatedAt) >= r.cfg.IdleThreshold
	switch {
	case idle:
		return r.hardClose(ctx, row, latest)
	case row.ForceCloseStarted != nil:
		return r.softCloseWithdraw(ctx, row, latest)
	default:
		return r.store.TouchUpdatedAt(ctx, row.ChannelID)
	}
}

// hardClose redeems everything owed and retires the channel in one
// atomic withdraw_and_close, so the receiver never pays gas twice
// tearing it down.
func (r *Reconciler) hardClose(ctx context.Context, row store.ChannelRow, latest store.SignedStateRow) error {
	zero := codec.ZeroState(row.ChannelID)
	msg, err := codec.Encode(zero)
	if err != nil {
		return fmt.Errorf("reconciler: encode close state: %w", err)
	}
	closeState := codec.SignedState{State: zero, Signature: r.receiverKey.Sign(msg)}

	if err := r.arbiter.WithdrawAndClose(ctx, r.receiverAccountID, latest.SignedState(), closeState); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.WithdrawnTotal.Inc()
		r.metrics.ChannelsClosed.WithLabelValues("hard_close").Inc()
	}
	return r.store.SoftClose(ctx, row.ChannelID)
}

// softCloseWithdraw redeems what is owed on a channel already mid
// force-close, then stops admitting further payments on it locally; the
// on-chain 7-day timer keeps running independently.
func (r *Reconciler) softCloseWithdraw(ctx context.Context, row store.ChannelRow, latest store.SignedStateRow) error {
	if err := r.arbiter.Withdraw(ctx, r.receiverAccountID, latest.SignedState()); err != nil {
		return err
	}
	if r.metrics != nil {
		r.metrics.WithdrawnTotal.Inc()
	}
	return r.store.SoftClose(ctx, row.ChannelID)
}
