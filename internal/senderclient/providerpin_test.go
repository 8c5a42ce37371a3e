package senderclient_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nearai/pay-per-prompt/internal/senderclient"
)

func TestPinnedProviderRoundTrip(t *testing.T) {
	useTempConfigDir(t)

	_, found, err := senderclient.LoadPinnedProvider("receiver.near")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, senderclient.SavePinnedProvider(senderclient.PinnedProvider{
		AccountID: "receiver.near",
		PublicKey: "ed25519:abc",
	}))

	pin, found, err := senderclient.LoadPinnedProvider("receiver.near")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "ed25519:abc", pin.PublicKey)
}
