package codec

import (
	"crypto/ed25519"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	states := []State{
		{ChannelID: "abc-123", SpentBalance: big.NewInt(0)},
		{ChannelID: "", SpentBalance: big.NewInt(1)},
		{ChannelID: "channel-with-a-long-uuid-like-id-0000", SpentBalance: new(big.Int).Lsh(big.NewInt(1), 100)},
	}

	for _, s := range states {
		encoded, err := Encode(s)
		require.NoError(t, err)

		decoded, err := Decode(encoded)
		require.NoError(t, err)

		require.Equal(t, s.ChannelID, decoded.ChannelID)
		require.Equal(t, 0, s.SpentBalance.Cmp(decoded.SpentBalance))
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	encoded, err := Encode(State{ChannelID: "x", SpentBalance: big.NewInt(5)})
	require.NoError(t, err)
	encoded[0] = 0xFF

	_, err = Decode(encoded)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeRejectsTruncated(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x00})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	state := State{ChannelID: "chan-1", SpentBalance: big.NewInt(600_000_000)}

	sig, err := Sign(priv, state)
	require.NoError(t, err)
	require.True(t, Verify(pub, state, sig))

	// Any divergence in the signed state must fail verification.
	tampered := state
	tampered.SpentBalance = big.NewInt(600_000_001)
	require.False(t, Verify(pub, tampered, sig))
}

func TestVerifyFailsClosedOnMalformedSignature(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	state := State{ChannelID: "x", SpentBalance: big.NewInt(1)}

	require.False(t, Verify(pub, state, []byte("not-a-signature")))
	require.False(t, Verify(nil, state, make([]byte, ed25519.SignatureSize)))
}

func TestPublicKeyEncodeDecodeRoundTrip(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	encoded, err := EncodePublicKey(pub)
	require.NoError(t, err)
	require.Regexp(t, "^ed25519:", encoded)

	decoded, err := DecodePublicKey(encoded)
	require.NoError(t, err)
	require.Equal(t, pub, decoded)
}

func TestDecodePublicKeyFailsClosed(t *testing.T) {
	_, err := DecodePublicKey("secp256k1:abc")
	require.Error(t, err)

	_, err = DecodePublicKey("ed25519:not-base58-!!!")
	require.Error(t, err)
}

func TestSignedStateB64RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	_ = pub

	state := State{ChannelID: "chan-xyz", SpentBalance: big.NewInt(42)}
	sig, err := Sign(priv, state)
	require.NoError(t, err)

	encoded, err := EncodeSignedStateB64(SignedState{State: state, Signature: sig})
	require.NoError(t, err)

	decoded, err := DecodeSignedStateB64(encoded)
	require.NoError(t, err)
	require.Equal(t, state.ChannelID, decoded.State.ChannelID)
	require.Equal(t, 0, state.SpentBalance.Cmp(decoded.State.SpentBalance))
	require.Equal(t, sig, decoded.Signature)
}
