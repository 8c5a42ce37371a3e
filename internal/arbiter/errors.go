package arbiter

import "errors"

// Contract-level errors, matching the taxonomy in spec.md §7 Channel
// and SignedState sections. The arbiter fails fast: every precondition
// check returns one of these without partially applying a transition.
var (
	ErrAlreadyExists       = errors.New("arbiter: channel already exists")
	ErrNotFound            = errors.New("arbiter: channel not found")
	ErrClosed              = errors.New("arbiter: channel is closed")
	ErrClosing             = errors.New("arbiter: channel is closing")
	ErrUnauthorized        = errors.New("arbiter: caller is not authorized for this operation")
	ErrBadSignature        = errors.New("arbiter: invalid signature")
	ErrNothingToWithdraw   = errors.New("arbiter: nothing to withdraw")
	ErrInvalidClosePayload = errors.New("arbiter: close requires a zero spent_balance")
	ErrForceCloseActive    = errors.New("arbiter: force close already started")
	ErrNotClosing          = errors.New("arbiter: channel is not closing")
	ErrTimeoutNotElapsed   = errors.New("arbiter: force close hard timeout has not elapsed")
)
