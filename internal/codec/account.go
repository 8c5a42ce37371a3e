package codec

import (
	"crypto/ed25519"
	"errors"
	"strings"

	"github.com/mr-tron/base58"
)

// keyPrefix matches the convention the original contract used for its
// PublicKey type: "ed25519:<base58-encoded 32 raw bytes>".
const keyPrefix = "ed25519:"

// AccountID is an opaque account identifier. The arbiter treats it as
// an uninterpreted string key.
type AccountID string

// EncodePublicKey renders pub in the "ed25519:<base58>" wire form.
func EncodePublicKey(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", errors.New("codec: invalid ed25519 public key length")
	}
	return keyPrefix + base58.Encode(pub), nil
}

// DecodePublicKey parses the "ed25519:<base58>" wire form produced by
// EncodePublicKey. It fails closed on any malformed input.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(s, keyPrefix) {
		return nil, errors.New("codec: public key missing ed25519 prefix")
	}
	raw, err := base58.Decode(strings.TrimPrefix(s, keyPrefix))
	if err != nil {
		return nil, errors.New("codec: invalid base58 public key")
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("codec: decoded public key has wrong length")
	}
	return ed25519.PublicKey(raw), nil
}
