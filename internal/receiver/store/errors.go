package store

import "errors"

// ErrNotFoundInDB is returned by GetChannel when channel_id has no local
// mirror row yet (the caller is expected to fall back to the arbiter).
var ErrNotFoundInDB = errors.New("store: channel not found in local mirror")

// ErrSoftClosed is returned by InsertSignedStateLinearized once a channel has been
// retired locally by the reconciler.
var ErrSoftClosed = errors.New("store: channel is soft-closed")
