// Package validator implements the receiver's admission flow for an
// inbound signed payment state (spec.md §4.5).
package validator

import "errors"

var (
	// ErrChannelNotFound is returned when channel_id is unknown both
	// locally and to the arbiter.
	ErrChannelNotFound = errors.New("validator: channel not found")
	// ErrSoftClosed is returned once the receiver has locally retired the
	// channel.
	ErrSoftClosed = errors.New("validator: channel is soft-closed")
	// ErrHardClosed is returned once the arbiter has written the closed
	// sentinel for this channel.
	ErrHardClosed = errors.New("validator: channel is closed")
	// ErrClosing is returned while a force-close is in progress.
	ErrClosing = errors.New("validator: channel is closing")
	// ErrInvalidOwner is returned when the validator's own public key does
	// not match the channel's registered receiver.
	ErrInvalidOwner = errors.New("validator: we are not the receiver of this channel")
	// ErrBadSignature is returned when the sender's signature does not
	// verify over the canonical encoding of the signed state.
	ErrBadSignature = errors.New("validator: bad signature")
	// ErrNonMonotonic is returned when spent_balance does not strictly
	// exceed the last admitted spent_balance.
	ErrNonMonotonic = errors.New("validator: spent_balance is not strictly increasing")
	// ErrPaymentTooSmall is returned when the payment delta is below the
	// required minimum cost.
	ErrPaymentTooSmall = errors.New("validator: payment delta below minimum cost")
	// ErrInsufficientFunds is returned when spent_balance exceeds
	// added_balance even after a refresh from the arbiter.
	ErrInsufficientFunds = errors.New("validator: spent_balance exceeds added_balance")
)
