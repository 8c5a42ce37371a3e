package arbiter

import (
	"time"

	"github.com/nearai/pay-per-prompt/internal/codec"
)

// Account identifies a channel participant by account id and the
// ed25519 public key that must sign on its behalf.
type Account struct {
	AccountID codec.AccountID `json:"account_id"`
	PublicKey string          `json:"public_key"`
}

// Channel is the arbiter's authoritative record for one channel_id.
// Closed is the tagged-variant replacement for the original contract's
// zero-account sentinel (see spec.md §9 and DESIGN.md): once true, the
// other fields are zeroed and the entry is retired but remains indexed
// to block channel_id reuse.
type Channel struct {
	Receiver          Account    `json:"receiver"`
	Sender            Account    `json:"sender"`
	AddedBalance      Balance    `json:"added_balance"`
	WithdrawnBalance  Balance    `json:"withdrawn_balance"`
	ForceCloseStarted *time.Time `json:"force_close_started,omitempty"`
	Closed            bool       `json:"closed"`
}

// SignedState pairs a codec.State with its signature. It is an alias of
// codec.SignedState, so the two names denote the same type.
type SignedState = codec.SignedState
