package senderclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nearai/pay-per-prompt/internal/codec"
)

// ProviderInfo is the shape GET /info on the receiver returns.
type ProviderInfo struct {
	AccountID string `json:"account_id"`
	Network   string `json:"network"`
	PublicKey string `json:"public_key"`
}

// ProviderClient is the thin HTTP client the sender uses to reach the
// receiver's payment-facing endpoints (spec.md §6 receiver HTTP surface).
type ProviderClient struct {
	baseURL string
	hc      *http.Client
}

// NewProviderClient builds a ProviderClient against baseURL.
func NewProviderClient(baseURL string) *ProviderClient {
	return &ProviderClient{baseURL: strings.TrimRight(baseURL, "/"), hc: &http.Client{Timeout: 15 * time.Second}}
}

// Info fetches the receiver's identity, used to populate Account.Receiver
// on open and to detect a pinned-identity mismatch on re-use.
func (p *ProviderClient) Info(ctx context.Context) (ProviderInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/info", nil)
	if err != nil {
		return ProviderInfo{}, err
	}
	resp, err := p.hc.Do(req)
	if err != nil {
		return ProviderInfo{}, fmt.Errorf("senderclient: fetch provider info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ProviderInfo{}, fmt.Errorf("senderclient: provider info returned %d", resp.StatusCode)
	}
	var info ProviderInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return ProviderInfo{}, fmt.Errorf("senderclient: parse provider info: %w", err)
	}
	return info, nil
}

// ClosePayload asks the receiver to withdraw everything outstanding and
// hand back a receiver-signed zero-balance close SignedState, per
// POST /pc/close/{channel_id}.
func (p *ProviderClient) ClosePayload(ctx context.Context, channelID string) (codec.SignedState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/pc/close/"+channelID, nil)
	if err != nil {
		return codec.SignedState{}, err
	}
	resp, err := p.hc.Do(req)
	if err != nil {
		return codec.SignedState{}, fmt.Errorf("senderclient: request close payload: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return codec.SignedState{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return codec.SignedState{}, fmt.Errorf("senderclient: close payload request returned %d: %s", resp.StatusCode, string(body))
	}
	return codec.DecodeSignedStateB64(strings.TrimSpace(string(body)))
}
