package api_test

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/codec"
	"github.com/nearai/pay-per-prompt/internal/keyguard"
	"github.com/nearai/pay-per-prompt/internal/receiver/api"
	"github.com/nearai/pay-per-prompt/internal/receiver/store"
	"github.com/nearai/pay-per-prompt/internal/receiver/validator"
)

type fakeArbiterReader struct {
	channels map[string]arbiter.Channel
}

func (f *fakeArbiterReader) Channel(ctx context.Context, channelID string) (arbiter.Channel, bool, error) {
	ch, found := f.channels[channelID]
	return ch, found, nil
}

type fakeWithdrawer struct {
	called bool
	err    error
}

func (f *fakeWithdrawer) Withdraw(ctx context.Context, caller codec.AccountID, state codec.SignedState) error {
	f.called = true
	return f.err
}

type testServer struct {
	srv          *api.Server
	store        *store.SQLStore
	receiverPriv ed25519.PrivateKey
	receiverPub  ed25519.PublicKey
	senderPriv   ed25519.PrivateKey
	withdrawer   *fakeWithdrawer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st, err := store.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	receiverPub, receiverPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	receiverPubStr, err := codec.EncodePublicKey(receiverPub)
	require.NoError(t, err)

	senderPub, senderPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	senderPubStr, err := codec.EncodePublicKey(senderPub)
	require.NoError(t, err)

	arb := &fakeArbiterReader{channels: map[string]arbiter.Channel{
		"chan-1": {
			Receiver:     arbiter.Account{AccountID: "receiver.near", PublicKey: receiverPubStr},
			Sender:       arbiter.Account{AccountID: "sender.near", PublicKey: senderPubStr},
			AddedBalance: arbiter.NewBalance(1_000_000),
		},
	}}

	v := validator.New(st, arb, receiverPubStr)
	arbw := &fakeWithdrawer{}

	cfg := api.Config{
		AccountID:   "receiver.near",
		Network:     "testnet",
		PublicKey:   receiverPubStr,
		PrivateKey:  keyguard.New(receiverPriv),
		CostPerCall: arbiter.NewBalance(1),
	}
	srv := api.NewServer(cfg, st, v, arbw, nil, nil)

	return &testServer{srv: srv, store: st, receiverPriv: receiverPriv, receiverPub: receiverPub, senderPriv: senderPriv, withdrawer: arbw}
}

func TestHandleInfoReturnsReceiverIdentity(t *testing.T) {
	ts := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	ts.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "receiver.near", body["account_id"])
	require.Equal(t, "testnet", body["network"])
}

func TestHandleValidateAcceptsFirstPayment(t *testing.T) {
	ts := newTestServer(t)

	state := codec.State{ChannelID: "chan-1", SpentBalance: arbiter.NewBalance(100).Int()}
	sig, err := codec.Sign(ts.senderPriv, state)
	require.NoError(t, err)
	body, err := codec.EncodeSignedStateB64(codec.SignedState{State: state, Signature: sig})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/pc/validate", strings.NewReader(body))
	ts.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleValidateRejectsBadSignatureWith400(t *testing.T) {
	ts := newTestServer(t)

	state := codec.State{ChannelID: "chan-1", SpentBalance: arbiter.NewBalance(100).Int()}
	sig, err := codec.Sign(ts.senderPriv, state)
	require.NoError(t, err)
	sig[0] ^= 0xFF
	body, err := codec.EncodeSignedStateB64(codec.SignedState{State: state, Signature: sig})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/pc/validate", strings.NewReader(body))
	ts.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleStateReturns404ForUnknownChannel(t *testing.T) {
	ts := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/pc/state/does-not-exist", nil)
	ts.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleCloseWithdrawsThenReturnsSignedZeroState(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now().UTC()

	ch := arbiter.Channel{
		Receiver:     arbiter.Account{AccountID: "receiver.near"},
		Sender:       arbiter.Account{AccountID: "sender.near"},
		AddedBalance: arbiter.NewBalance(1_000_000),
	}
	row := store.ChannelRowFromArbiter("chan-1", ch, now)
	require.NoError(t, ts.store.UpsertChannel(context.Background(), row))

	state := codec.State{ChannelID: "chan-1", SpentBalance: arbiter.NewBalance(500).Int()}
	sig, err := codec.Sign(ts.senderPriv, state)
	require.NoError(t, err)
	check := func(store.SignedStateRow, bool) error { return nil }
	require.NoError(t, ts.store.InsertSignedStateLinearized(context.Background(), "chan-1", check, store.SignedStateRow{
		ChannelID:    "chan-1",
		SpentBalance: arbiter.NewBalance(500),
		Signature:    sig,
		CreatedAt:    now,
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/pc/close/chan-1", nil)
	ts.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, ts.withdrawer.called)

	signed, err := codec.DecodeSignedStateB64(rec.Body.String())
	require.NoError(t, err)
	require.True(t, signed.State.IsZeroPayment())
	require.True(t, codec.Verify(ts.receiverPub, signed.State, signed.Signature))

	row2, err := ts.store.GetChannel(context.Background(), "chan-1")
	require.NoError(t, err)
	require.True(t, row2.SoftClosed)
}

func TestBusinessRouteRejectsMissingPaymentHeader(t *testing.T) {
	ts := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/complete", nil)
	ts.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBusinessRouteAdmitsValidPayment(t *testing.T) {
	ts := newTestServer(t)

	state := codec.State{ChannelID: "chan-1", SpentBalance: arbiter.NewBalance(100).Int()}
	sig, err := codec.Sign(ts.senderPriv, state)
	require.NoError(t, err)
	header, err := codec.EncodeSignedStateB64(codec.SignedState{State: state, Signature: sig})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/complete", nil)
	req.Header.Set(api.DefaultPaymentHeader, header)
	ts.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleCloseSkipsWithdrawWhenNoSignedStatesExist(t *testing.T) {
	ts := newTestServer(t)
	now := time.Now().UTC()

	ch := arbiter.Channel{
		Receiver:     arbiter.Account{AccountID: "receiver.near"},
		Sender:       arbiter.Account{AccountID: "sender.near"},
		AddedBalance: arbiter.NewBalance(1_000_000),
	}
	row := store.ChannelRowFromArbiter("chan-1", ch, now)
	require.NoError(t, ts.store.UpsertChannel(context.Background(), row))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/pc/close/chan-1", nil)
	ts.srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, ts.withdrawer.called)
}
