package arbiter

import (
	"context"
	"time"

	"github.com/nearai/pay-per-prompt/internal/codec"
)

// Ledger abstracts the blockchain runtime primitives the arbiter
// depends on but does not implement itself: promise transfers and the
// current block timestamp. spec.md §1 explicitly scopes "the
// underlying blockchain runtime's primitives" out of this system;
// Ledger is the seam that keeps the arbiter's state-machine logic
// testable without a real chain.
type Ledger interface {
	// Transfer moves amount to to. In a real deployment this settles
	// asynchronously (a NEAR Promise); the arbiter does not observe
	// its outcome and cannot be re-entered by it within the same
	// call, matching spec.md §5.
	Transfer(ctx context.Context, to codec.AccountID, amount Balance) error

	// Now returns the current block timestamp. Implementations must
	// be monotone, non-decreasing (spec.md §9 open question: behavior
	// under chain timestamp skew is unspecified and assumed away).
	Now() time.Time
}

// Store is the arbiter's persistent keyed map over channel_id. All
// methods are synchronous and are always called with the arbiter's
// single mutex held, so implementations do not need their own
// locking — they exist to plug in different durability strategies
// (in-memory for tests, bbolt for a real deployment).
type Store interface {
	// Get returns the channel for id and whether it was found at all
	// (found=false means channel_id has never been used).
	Get(id string) (ch Channel, found bool, err error)

	// Put writes ch under id, creating or overwriting the entry.
	Put(id string, ch Channel) error

	// NewChannelID allocates a channel_id guaranteed never to have
	// been used by this store before (spec.md invariant 2).
	NewChannelID() (string, error)
}
