// Package keyguard wraps a private key held in memory (the receiver's
// identity key, in cmd/provider) so that no struct holding one can be
// logged or serialized into key material by accident.
package keyguard

import (
	"crypto/ed25519"
	"encoding/json"
)

const redactedSentinel = "<redacted>"

// GuardedKey carries an ed25519 private key. The only operation it
// exposes is Sign; String and MarshalJSON always return the redacted
// sentinel, so a GuardedKey embedded in a config struct or passed to
// zap can never leak through a log line or JSON dump.
type GuardedKey struct {
	priv ed25519.PrivateKey
}

// New wraps priv.
func New(priv ed25519.PrivateKey) GuardedKey {
	return GuardedKey{priv: priv}
}

// Sign returns the ed25519 signature of message under the wrapped key.
func (k GuardedKey) Sign(message []byte) []byte {
	return ed25519.Sign(k.priv, message)
}

// String never reveals key material.
func (k GuardedKey) String() string {
	return redactedSentinel
}

// MarshalJSON never reveals key material.
func (k GuardedKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(redactedSentinel)
}
