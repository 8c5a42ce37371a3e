package codec

import (
	"encoding/base64"
	"math/big"
)

// SignedState is a State together with a signature over its canonical
// encoding, as transmitted off-chain between sender and receiver and
// posted on-chain to the arbiter.
type SignedState struct {
	State     State
	Signature []byte
}

// IsZeroPayment reports whether the state carries a zero spent_balance,
// the shape required of a cooperative-close signed state.
func (s State) IsZeroPayment() bool {
	return s.SpentBalance != nil && s.SpentBalance.Sign() == 0
}

// ZeroState builds the zero-balance State used for cooperative close.
func ZeroState(channelID string) State {
	return State{ChannelID: channelID, SpentBalance: big.NewInt(0)}
}

// EncodeSignedStateB64 base64-encodes a SignedState for out-of-band
// transport (HTTP headers, pasted CLI payloads), matching spec.md's
// "output base64 encoding for out-of-band delivery".
func EncodeSignedStateB64(ss SignedState) (string, error) {
	wire, err := Encode(ss.State)
	if err != nil {
		return "", err
	}
	buf := make([]byte, 0, 2+len(wire)+len(ss.Signature))
	var lenBuf [2]byte
	lenBuf[0] = byte(len(wire) >> 8)
	lenBuf[1] = byte(len(wire))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, wire...)
	buf = append(buf, ss.Signature...)
	return base64.StdEncoding.EncodeToString(buf), nil
}

// DecodeSignedStateB64 reverses EncodeSignedStateB64.
func DecodeSignedStateB64(encoded string) (SignedState, error) {
	buf, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return SignedState{}, ErrMalformed
	}
	if len(buf) < 2 {
		return SignedState{}, ErrMalformed
	}
	wireLen := int(buf[0])<<8 | int(buf[1])
	if len(buf) < 2+wireLen {
		return SignedState{}, ErrMalformed
	}
	state, err := Decode(buf[2 : 2+wireLen])
	if err != nil {
		return SignedState{}, err
	}
	sig := append([]byte(nil), buf[2+wireLen:]...)
	return SignedState{State: state, Signature: sig}, nil
}
