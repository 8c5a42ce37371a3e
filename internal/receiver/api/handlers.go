package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/codec"
)

type infoResponse struct {
	AccountID string `json:"account_id"`
	Network   string `json:"network"`
	PublicKey string `json:"public_key"`
}

func (s *Server) handleInfo(c *gin.Context) {
	c.JSON(http.StatusOK, infoResponse{
		AccountID: string(s.cfg.AccountID),
		Network:   s.cfg.Network,
		PublicKey: s.cfg.PublicKey,
	})
}

type channelStateResponse struct {
	ChannelID        string `json:"channel_id"`
	ReceiverAccount  string `json:"receiver_account_id"`
	SenderAccount    string `json:"sender_account_id"`
	AddedBalance     string `json:"added_balance"`
	WithdrawnBalance string `json:"withdrawn_balance"`
	ForceCloseStart  string `json:"force_close_started,omitempty"`
	Closed           bool   `json:"closed"`
	SoftClosed       bool   `json:"soft_closed"`
}

func (s *Server) handleState(c *gin.Context) {
	channelID := c.Param("channel_id")
	row, err := s.store.GetChannel(c.Request.Context(), channelID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": messageFor(err)})
		return
	}

	resp := channelStateResponse{
		ChannelID:        row.ChannelID,
		ReceiverAccount:  string(row.Receiver.AccountID),
		SenderAccount:    string(row.Sender.AccountID),
		AddedBalance:     row.AddedBalance.String(),
		WithdrawnBalance: row.WithdrawnBalance.String(),
		Closed:           row.Closed,
		SoftClosed:       row.SoftClosed,
	}
	if row.ForceCloseStarted != nil {
		resp.ForceCloseStart = row.ForceCloseStarted.UTC().Format(timeLayout)
	}
	c.JSON(http.StatusOK, resp)
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

// handleValidate runs admission without inserting, per spec.md §6's
// "validation without insertion" contract.
func (s *Server) handleValidate(c *gin.Context) {
	signed, err := decodeBodySignedState(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.validator.Admit(c.Request.Context(), signed, s.cfg.CostPerCall, false); err != nil {
		c.JSON(statusFor(err), gin.H{"error": messageFor(err)})
		return
	}
	c.Status(http.StatusOK)
}

// handleClose withdraws everything outstanding on channel_id, then hands
// back a receiver-signed zero-balance SignedState the sender can submit
// to the arbiter to finish a cooperative close (spec.md §6).
func (s *Server) handleClose(c *gin.Context) {
	channelID := c.Param("channel_id")
	ctx := c.Request.Context()

	latest, found, err := s.store.LatestSignedState(ctx, channelID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": messageFor(err)})
		return
	}
	if found {
		if err := s.arbiter.Withdraw(ctx, s.cfg.AccountID, latest.SignedState()); err != nil && !errors.Is(err, arbiter.ErrNothingToWithdraw) {
			c.JSON(statusFor(err), gin.H{"error": messageFor(err)})
			return
		}
	}
	if err := s.store.SoftClose(ctx, channelID); err != nil {
		c.JSON(statusFor(err), gin.H{"error": messageFor(err)})
		return
	}

	zero := codec.ZeroState(channelID)
	msg, err := codec.Encode(zero)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	encoded, err := codec.EncodeSignedStateB64(codec.SignedState{State: zero, Signature: s.cfg.PrivateKey.Sign(msg)})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.String(http.StatusOK, encoded)
}

// handleComplete is a placeholder for the upstream inference proxy
// (out of scope here); it exists so PaymentMiddleware has a route to
// guard and demonstrate payment-gated access.
func (s *Server) handleComplete(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func decodeBodySignedState(c *gin.Context) (codec.SignedState, error) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return codec.SignedState{}, err
	}
	return codec.DecodeSignedStateB64(strings.TrimSpace(string(body)))
}
