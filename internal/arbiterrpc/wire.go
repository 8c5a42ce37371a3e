// Package arbiterrpc exposes an *arbiter.Arbiter over JSON-over-HTTP and
// provides the client-side transaction poll loop, modeling the
// async-submit/poll-for-status lifecycle of a real NEAR transaction closely
// enough that the sender's and receiver's RPC paths exercise it for real.
package arbiterrpc

import (
	"fmt"
	"math/big"
	"time"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/codec"
)

// TxStatus is the lifecycle state of a submitted transaction.
type TxStatus string

const (
	TxPending TxStatus = "Pending"
	TxSuccess TxStatus = "Success"
	TxFailure TxStatus = "Failure"
)

// accountWire is the wire shape of arbiter.Account.
type accountWire struct {
	AccountID string `json:"account_id"`
	PublicKey string `json:"public_key"`
}

func (a accountWire) toAccount() arbiter.Account {
	return arbiter.Account{AccountID: codec.AccountID(a.AccountID), PublicKey: a.PublicKey}
}

func fromAccount(a arbiter.Account) accountWire {
	return accountWire{AccountID: string(a.AccountID), PublicKey: a.PublicKey}
}

// stateWire is the wire shape of codec.State; SpentBalance travels as a
// decimal string since u128 does not fit a JSON number losslessly.
type stateWire struct {
	ChannelID    string `json:"channel_id"`
	SpentBalance string `json:"spent_balance"`
}

// signedStateWire is the wire shape of codec.SignedState.
type signedStateWire struct {
	State     stateWire `json:"state"`
	Signature []byte    `json:"signature"`
}

// channelWire is the wire shape of arbiter.Channel returned by GET /channel/{id}.
type channelWire struct {
	Receiver          accountWire `json:"receiver"`
	Sender            accountWire `json:"sender"`
	AddedBalance      string      `json:"added_balance"`
	WithdrawnBalance  string      `json:"withdrawn_balance"`
	ForceCloseStarted *int64      `json:"force_close_started,omitempty"` // unix nanos
	Closed            bool        `json:"closed"`
}

// openChannelRequest is the body of POST /tx/open_channel. The caller pins
// channel_id itself (the sender generates a fresh UUID, spec.md §4.3).
type openChannelRequest struct {
	ChannelID string      `json:"channel_id"`
	Receiver  accountWire `json:"receiver"`
	Sender    accountWire `json:"sender"`
	Deposit   string      `json:"deposit"`
}

type topupRequest struct {
	ChannelID       string `json:"channel_id"`
	AttachedDeposit string `json:"attached_deposit"`
}

type withdrawRequest struct {
	Caller string          `json:"caller"`
	State  signedStateWire `json:"state"`
}

type closeRequest struct {
	State signedStateWire `json:"state"`
}

type withdrawAndCloseRequest struct {
	Caller        string          `json:"caller"`
	WithdrawState signedStateWire `json:"withdraw_state"`
	CloseState    signedStateWire `json:"close_state"`
}

type forceCloseStartRequest struct {
	Caller    string `json:"caller"`
	ChannelID string `json:"channel_id"`
}

type forceCloseFinishRequest struct {
	ChannelID string `json:"channel_id"`
}

// txEnvelope is what POST /tx/{method} always returns: a handle to poll.
type txEnvelope struct {
	TxID string `json:"tx_id"`
}

// txStatusResponse is what GET /tx/{id} returns.
type txStatusResponse struct {
	Status TxStatus `json:"status"`
	Error  string   `json:"error,omitempty"`
	// Result is reserved for method-specific success payloads; no current
	// method sets one, so it is always omitted.
	Result any `json:"result,omitempty"`
}

func parseBalance(s string) (arbiter.Balance, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return arbiter.Balance{}, fmt.Errorf("arbiterrpc: invalid balance %q", s)
	}
	return arbiter.BalanceFromBigInt(n), nil
}

func toStateWire(s codec.State) stateWire {
	return stateWire{ChannelID: s.ChannelID, SpentBalance: s.SpentBalance.String()}
}

func (w stateWire) toState() (codec.State, error) {
	n, ok := new(big.Int).SetString(w.SpentBalance, 10)
	if !ok {
		return codec.State{}, fmt.Errorf("arbiterrpc: invalid spent_balance %q", w.SpentBalance)
	}
	return codec.State{ChannelID: w.ChannelID, SpentBalance: n}, nil
}

func toSignedStateWire(s codec.SignedState) signedStateWire {
	return signedStateWire{State: toStateWire(s.State), Signature: s.Signature}
}

func (w signedStateWire) toSignedState() (codec.SignedState, error) {
	state, err := w.State.toState()
	if err != nil {
		return codec.SignedState{}, err
	}
	return codec.SignedState{State: state, Signature: w.Signature}, nil
}

func toChannelWire(ch arbiter.Channel) channelWire {
	w := channelWire{
		Receiver:         fromAccount(ch.Receiver),
		Sender:           fromAccount(ch.Sender),
		AddedBalance:     ch.AddedBalance.String(),
		WithdrawnBalance: ch.WithdrawnBalance.String(),
		Closed:           ch.Closed,
	}
	if ch.ForceCloseStarted != nil {
		nanos := ch.ForceCloseStarted.UnixNano()
		w.ForceCloseStarted = &nanos
	}
	return w
}

func (w channelWire) toChannel() arbiter.Channel {
	ch := arbiter.Channel{
		Receiver:         w.Receiver.toAccount(),
		Sender:           w.Sender.toAccount(),
		AddedBalance:     arbiter.NewBalance(0),
		WithdrawnBalance: arbiter.NewBalance(0),
		Closed:           w.Closed,
	}
	if added, err := parseBalance(w.AddedBalance); err == nil {
		ch.AddedBalance = added
	}
	if withdrawn, err := parseBalance(w.WithdrawnBalance); err == nil {
		ch.WithdrawnBalance = withdrawn
	}
	if w.ForceCloseStarted != nil {
		t := time.Unix(0, *w.ForceCloseStarted).UTC()
		ch.ForceCloseStarted = &t
	}
	return ch
}
