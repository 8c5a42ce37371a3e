package arbiterrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/codec"
)

// pollInterval and pollBound implement spec.md §5's transaction-status poll
// loop: 2-second sleeps, bounded to roughly a minute.
const (
	pollInterval = 2 * time.Second
	pollBound    = 60 * time.Second
)

// ErrTransactionTimeout is returned when a submitted transaction has not
// reached a terminal status within pollBound.
var ErrTransactionTimeout = errors.New("arbiterrpc: transaction poll window exceeded")

// Client is a remote handle to an arbiter exposed by Server. It satisfies
// every operation the sender client and receiver reconciler need, hiding
// the submit/poll protocol behind synchronous method calls.
type Client struct {
	baseURL string
	hc      *http.Client
}

// NewClient builds a Client against an arbiterrpc.Server listening at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{baseURL: baseURL, hc: &http.Client{Timeout: 10 * time.Second}}
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (txEnvelope, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return txEnvelope{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return txEnvelope{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return txEnvelope{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return txEnvelope{}, fmt.Errorf("arbiterrpc: %s returned %d: %s", path, resp.StatusCode, e.Error)
	}
	var env txEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return txEnvelope{}, err
	}
	return env, nil
}

// pollUntilDone polls GET /tx/{id} every pollInterval until the transaction
// leaves Pending or pollBound elapses. Every error while fetching the
// status (a network failure, an unknown tx_id, a non-200 reply, an
// undecodable body) is retried within the same bound; errors are not
// classified, so none of them ends the loop early. Only a terminal Failure
// status ends it before the bound, surfaced as the wrapped error.
func (c *Client) pollUntilDone(ctx context.Context, txID string) (txStatusResponse, error) {
	deadline := time.Now().Add(pollBound)
	for {
		status, err := c.fetchTxStatus(ctx, txID)
		if err == nil {
			switch status.Status {
			case TxSuccess:
				return status, nil
			case TxFailure:
				return status, fmt.Errorf("arbiterrpc: transaction failed: %s", status.Error)
			}
			// Pending: fall through to the sleep-and-retry below.
		}
		if time.Now().After(deadline) {
			return txStatusResponse{}, ErrTransactionTimeout
		}
		select {
		case <-ctx.Done():
			return txStatusResponse{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (c *Client) fetchTxStatus(ctx context.Context, txID string) (txStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tx/"+txID, nil)
	if err != nil {
		return txStatusResponse{}, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		// transient network error: treated as not-yet-ready by the caller.
		return txStatusResponse{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return txStatusResponse{}, fmt.Errorf("arbiterrpc: tx status returned %d", resp.StatusCode)
	}
	var status txStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return txStatusResponse{}, err
	}
	return status, nil
}

// OpenChannel submits open_channel for the caller-pinned channelID and
// blocks until it settles.
func (c *Client) OpenChannel(ctx context.Context, channelID string, receiver, sender arbiter.Account, deposit arbiter.Balance) error {
	env, err := c.postJSON(ctx, "/tx/open_channel", openChannelRequest{
		ChannelID: channelID,
		Receiver:  fromAccount(receiver),
		Sender:    fromAccount(sender),
		Deposit:   deposit.String(),
	})
	if err != nil {
		return err
	}
	_, err = c.pollUntilDone(ctx, env.TxID)
	return err
}

// Topup submits topup and blocks until it settles.
func (c *Client) Topup(ctx context.Context, channelID string, amount arbiter.Balance) error {
	env, err := c.postJSON(ctx, "/tx/topup", topupRequest{ChannelID: channelID, AttachedDeposit: amount.String()})
	if err != nil {
		return err
	}
	_, err = c.pollUntilDone(ctx, env.TxID)
	return err
}

// Withdraw submits withdraw and blocks until it settles.
func (c *Client) Withdraw(ctx context.Context, caller codec.AccountID, state codec.SignedState) error {
	env, err := c.postJSON(ctx, "/tx/withdraw", withdrawRequest{Caller: string(caller), State: toSignedStateWire(state)})
	if err != nil {
		return err
	}
	_, err = c.pollUntilDone(ctx, env.TxID)
	return err
}

// Close submits close and blocks until it settles.
func (c *Client) Close(ctx context.Context, state codec.SignedState) error {
	env, err := c.postJSON(ctx, "/tx/close", closeRequest{State: toSignedStateWire(state)})
	if err != nil {
		return err
	}
	_, err = c.pollUntilDone(ctx, env.TxID)
	return err
}

// WithdrawAndClose submits withdraw_and_close and blocks until it settles.
func (c *Client) WithdrawAndClose(ctx context.Context, caller codec.AccountID, withdrawState, closeState codec.SignedState) error {
	env, err := c.postJSON(ctx, "/tx/withdraw_and_close", withdrawAndCloseRequest{
		Caller:        string(caller),
		WithdrawState: toSignedStateWire(withdrawState),
		CloseState:    toSignedStateWire(closeState),
	})
	if err != nil {
		return err
	}
	_, err = c.pollUntilDone(ctx, env.TxID)
	return err
}

// ForceCloseStart submits force_close_start and blocks until it settles.
func (c *Client) ForceCloseStart(ctx context.Context, caller codec.AccountID, channelID string) error {
	env, err := c.postJSON(ctx, "/tx/force_close_start", forceCloseStartRequest{Caller: string(caller), ChannelID: channelID})
	if err != nil {
		return err
	}
	_, err = c.pollUntilDone(ctx, env.TxID)
	return err
}

// ForceCloseFinish submits force_close_finish and blocks until it settles.
func (c *Client) ForceCloseFinish(ctx context.Context, channelID string) error {
	env, err := c.postJSON(ctx, "/tx/force_close_finish", forceCloseFinishRequest{ChannelID: channelID})
	if err != nil {
		return err
	}
	_, err = c.pollUntilDone(ctx, env.TxID)
	return err
}

// Channel performs a direct read-only view fetch (no tx/poll dance needed
// for a view call).
func (c *Client) Channel(ctx context.Context, channelID string) (arbiter.Channel, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/channel/"+channelID, nil)
	if err != nil {
		return arbiter.Channel{}, false, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return arbiter.Channel{}, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return arbiter.Channel{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return arbiter.Channel{}, false, fmt.Errorf("arbiterrpc: get channel returned %d", resp.StatusCode)
	}
	var w channelWire
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return arbiter.Channel{}, false, err
	}
	return w.toChannel(), true, nil
}
