package senderclient

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/codec"
)

// ErrUnexpectedIdentity is returned by Info when the arbiter's view of a
// channel's counterparty identity diverges from the local record — a
// divergence the client cannot reconcile safely (spec.md §4.3.1).
var ErrUnexpectedIdentity = errors.New("senderclient: channel identity on the arbiter diverges from the local record")

// ArbiterClient is everything Client needs from the arbiter, satisfied by
// *arbiterrpc.Client in production and by an in-memory fake in tests.
type ArbiterClient interface {
	OpenChannel(ctx context.Context, channelID string, receiver, sender arbiter.Account, deposit arbiter.Balance) error
	Topup(ctx context.Context, channelID string, amount arbiter.Balance) error
	Close(ctx context.Context, state codec.SignedState) error
	ForceCloseStart(ctx context.Context, caller codec.AccountID, channelID string) error
	ForceCloseFinish(ctx context.Context, channelID string) error
	Channel(ctx context.Context, channelID string) (arbiter.Channel, bool, error)
}

// Client is the sender's local channel-management surface: it is the
// single entry point every CLI command wraps.
type Client struct {
	cfg      Config
	arbiter  ArbiterClient
	provider *ProviderClient
}

// NewClient builds a Client over the given config, arbiter handle, and
// provider HTTP client.
func NewClient(cfg Config, arb ArbiterClient, provider *ProviderClient) *Client {
	return &Client{cfg: cfg, arbiter: arb, provider: provider}
}

// Open fetches the receiver's identity, generates a fresh channel-scoped
// keypair, submits open_channel, and persists the new Record.
func (c *Client) Open(ctx context.Context, deposit arbiter.Balance) (Record, error) {
	accountID, err := c.cfg.RequireAccountID()
	if err != nil {
		return Record{}, err
	}

	info, err := c.provider.Info(ctx)
	if err != nil {
		return Record{}, err
	}
	if err := pinProvider(info); err != nil {
		return Record{}, fmt.Errorf("senderclient: pin receiver %s: %w", info.AccountID, err)
	}

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return Record{}, fmt.Errorf("senderclient: generate channel keypair: %w", err)
	}
	pubStr, err := codec.EncodePublicKey(pub)
	if err != nil {
		return Record{}, err
	}

	sender := arbiter.Account{AccountID: codec.AccountID(accountID), PublicKey: pubStr}
	receiver := arbiter.Account{AccountID: codec.AccountID(info.AccountID), PublicKey: info.PublicKey}

	channelID := uuid.NewString()
	if err := c.arbiter.OpenChannel(ctx, channelID, receiver, sender, deposit); err != nil {
		return Record{}, fmt.Errorf("senderclient: open channel: %w", err)
	}

	record := Record{
		ChannelID:        channelID,
		Receiver:         receiver,
		Sender:           sender,
		SenderSecretKey:  priv,
		SpentBalance:     arbiter.Zero(),
		AddedBalance:     deposit,
		WithdrawnBalance: arbiter.Zero(),
	}
	if err := SaveRecord(record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Topup rejects a pending force-close, then submits an on-chain topup and
// advances the local mirror.
func (c *Client) Topup(ctx context.Context, channelID string, amount arbiter.Balance) (Record, error) {
	record, err := LoadRecord(channelID)
	if err != nil {
		return Record{}, err
	}
	if record.ForceCloseStarted != nil {
		return Record{}, fmt.Errorf("senderclient: cannot topup channel %s, force close already started", channelID)
	}

	if err := c.arbiter.Topup(ctx, channelID, amount); err != nil {
		return Record{}, fmt.Errorf("senderclient: topup channel %s: %w", channelID, err)
	}
	record.AddedBalance = record.AddedBalance.Add(amount)
	if err := SaveRecord(record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// Send produces the next signed payment tuple off-chain; it does not touch
// the arbiter. save controls whether the advanced spent_balance is
// persisted locally (the CLI's `-n` flag suppresses this).
func (c *Client) Send(channelID string, amount arbiter.Balance, save bool) (codec.SignedState, Record, error) {
	record, err := LoadRecord(channelID)
	if err != nil {
		return codec.SignedState{}, Record{}, err
	}

	newSpent := record.SpentBalance.Add(amount)
	if newSpent.GreaterThan(record.AddedBalance) {
		return codec.SignedState{}, Record{}, fmt.Errorf("senderclient: send %s would exceed added_balance %s on channel %s", amount, record.AddedBalance, channelID)
	}

	signed, err := record.Sign(newSpent)
	if err != nil {
		return codec.SignedState{}, Record{}, err
	}

	record.SpentBalance = newSpent
	if save {
		if err := SaveRecord(record); err != nil {
			return codec.SignedState{}, Record{}, err
		}
	}
	return signed, record, nil
}

// Close obtains a receiver-signed zero-balance close state (either fetched
// from the provider or supplied as a pasted payload) and submits it to the
// arbiter.
func (c *Client) Close(ctx context.Context, channelID string, pastedPayload string) error {
	record, err := LoadRecord(channelID)
	if err != nil {
		return err
	}

	var closeState codec.SignedState
	if pastedPayload != "" {
		closeState, err = codec.DecodeSignedStateB64(pastedPayload)
		if err != nil {
			return fmt.Errorf("senderclient: decode close payload: %w", err)
		}
	} else {
		closeState, err = c.provider.ClosePayload(ctx, channelID)
		if err != nil {
			return err
		}
	}

	if err := c.arbiter.Close(ctx, closeState); err != nil {
		return fmt.Errorf("senderclient: close channel %s: %w", channelID, err)
	}
	return ArchiveRecord(record)
}

// ForceCloseStart submits force_close_start for channelID.
func (c *Client) ForceCloseStart(ctx context.Context, channelID string) error {
	record, err := LoadRecord(channelID)
	if err != nil {
		return err
	}
	if err := c.arbiter.ForceCloseStart(ctx, record.Sender.AccountID, channelID); err != nil {
		return fmt.Errorf("senderclient: force close start %s: %w", channelID, err)
	}
	return c.refreshInto(ctx, &record)
}

// ForceCloseFinish submits force_close_finish for channelID.
func (c *Client) ForceCloseFinish(ctx context.Context, channelID string) error {
	record, err := LoadRecord(channelID)
	if err != nil {
		return err
	}
	if err := c.arbiter.ForceCloseFinish(ctx, channelID); err != nil {
		return fmt.Errorf("senderclient: force close finish %s: %w", channelID, err)
	}
	return c.refreshInto(ctx, &record)
}

// Info re-reads the channel from the arbiter and applies the §4.3.1
// mirror-merge rules, returning the (possibly archived) record.
func (c *Client) Info(ctx context.Context, channelID string, update bool) (Record, error) {
	record, err := LoadRecord(channelID)
	if err != nil {
		return Record{}, err
	}
	if !update {
		return record, nil
	}
	if err := c.refreshInto(ctx, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}

// refreshInto applies the mirror-merge rules from spec.md §4.3.1: accept
// the arbiter's mutable fields, reject on identity divergence, and archive
// on the closed sentinel.
func (c *Client) refreshInto(ctx context.Context, record *Record) error {
	ch, found, err := c.arbiter.Channel(ctx, record.ChannelID)
	if err != nil {
		return fmt.Errorf("senderclient: refresh channel %s: %w", record.ChannelID, err)
	}
	if !found {
		return fmt.Errorf("senderclient: channel %s not found on arbiter", record.ChannelID)
	}

	if ch.Closed {
		return ArchiveRecord(*record)
	}

	if ch.Sender.AccountID != record.Sender.AccountID || ch.Sender.PublicKey != record.Sender.PublicKey ||
		ch.Receiver.AccountID != record.Receiver.AccountID || ch.Receiver.PublicKey != record.Receiver.PublicKey {
		return ErrUnexpectedIdentity
	}

	record.AddedBalance = ch.AddedBalance
	record.WithdrawnBalance = ch.WithdrawnBalance
	record.ForceCloseStarted = ch.ForceCloseStarted
	return SaveRecord(*record)
}
