package arbiterrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/codec"
)

// tx is one submitted transaction's lifecycle record.
type tx struct {
	status TxStatus
	err    string
	result any
}

// Server exposes an *arbiter.Arbiter over JSON-over-HTTP. Every mutating
// call returns a tx_id that the caller polls, matching the NEAR
// transaction lifecycle the sender's poll loop expects; the mutation
// itself is applied before the tx_id is returned.
type Server struct {
	arb    *arbiter.Arbiter
	logger *zap.Logger

	mu  sync.Mutex
	txs map[string]*tx
}

// NewServer wraps arb for HTTP exposure.
func NewServer(arb *arbiter.Arbiter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{arb: arb, logger: logger, txs: make(map[string]*tx)}
}

// Router builds the gin router implementing the arbiter RPC surface.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/tx/open_channel", s.handleOpenChannel)
	r.POST("/tx/topup", s.handleTopup)
	r.POST("/tx/withdraw", s.handleWithdraw)
	r.POST("/tx/close", s.handleClose)
	r.POST("/tx/withdraw_and_close", s.handleWithdrawAndClose)
	r.POST("/tx/force_close_start", s.handleForceCloseStart)
	r.POST("/tx/force_close_finish", s.handleForceCloseFinish)
	r.GET("/tx/:id", s.handleTxStatus)
	r.GET("/channel/:id", s.handleGetChannel)
	return r
}

func (s *Server) submit(run func(ctx context.Context) (any, error)) string {
	id := uuid.NewString()
	s.mu.Lock()
	s.txs[id] = &tx{status: TxPending}
	s.mu.Unlock()

	// The arbiter call executes synchronously under its own mutex; we run
	// it inline rather than in a goroutine since there is no real network
	// hop to a separate chain here, but the caller still observes the
	// submit/poll protocol.
	result, err := run(context.Background())
	s.mu.Lock()
	defer s.mu.Unlock()
	record := s.txs[id]
	if err != nil {
		record.status = TxFailure
		record.err = err.Error()
	} else {
		record.status = TxSuccess
		record.result = result
	}
	return id
}

func (s *Server) handleOpenChannel(c *gin.Context) {
	var req openChannelRequest
	if !bindJSON(c, &req) {
		return
	}
	deposit, err := parseBalance(req.Deposit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := s.submit(func(ctx context.Context) (any, error) {
		return nil, s.arb.OpenChannelWithID(ctx, req.ChannelID, req.Receiver.toAccount(), req.Sender.toAccount(), deposit)
	})
	c.JSON(http.StatusAccepted, txEnvelope{TxID: id})
}

func (s *Server) handleTopup(c *gin.Context) {
	var req topupRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, err := parseBalance(req.AttachedDeposit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := s.submit(func(ctx context.Context) (any, error) {
		return nil, s.arb.Topup(ctx, req.ChannelID, amount)
	})
	c.JSON(http.StatusAccepted, txEnvelope{TxID: id})
}

func (s *Server) handleWithdraw(c *gin.Context) {
	var req withdrawRequest
	if !bindJSON(c, &req) {
		return
	}
	state, err := req.State.toSignedState()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := s.submit(func(ctx context.Context) (any, error) {
		return nil, s.arb.Withdraw(ctx, codec.AccountID(req.Caller), state)
	})
	c.JSON(http.StatusAccepted, txEnvelope{TxID: id})
}

func (s *Server) handleClose(c *gin.Context) {
	var req closeRequest
	if !bindJSON(c, &req) {
		return
	}
	state, err := req.State.toSignedState()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := s.submit(func(ctx context.Context) (any, error) {
		return nil, s.arb.Close(ctx, state)
	})
	c.JSON(http.StatusAccepted, txEnvelope{TxID: id})
}

func (s *Server) handleWithdrawAndClose(c *gin.Context) {
	var req withdrawAndCloseRequest
	if !bindJSON(c, &req) {
		return
	}
	withdrawState, err := req.WithdrawState.toSignedState()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	closeState, err := req.CloseState.toSignedState()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := s.submit(func(ctx context.Context) (any, error) {
		return nil, s.arb.WithdrawAndClose(ctx, codec.AccountID(req.Caller), withdrawState, closeState)
	})
	c.JSON(http.StatusAccepted, txEnvelope{TxID: id})
}

func (s *Server) handleForceCloseStart(c *gin.Context) {
	var req forceCloseStartRequest
	if !bindJSON(c, &req) {
		return
	}
	id := s.submit(func(ctx context.Context) (any, error) {
		return nil, s.arb.ForceCloseStart(ctx, codec.AccountID(req.Caller), req.ChannelID)
	})
	c.JSON(http.StatusAccepted, txEnvelope{TxID: id})
}

func (s *Server) handleForceCloseFinish(c *gin.Context) {
	var req forceCloseFinishRequest
	if !bindJSON(c, &req) {
		return
	}
	id := s.submit(func(ctx context.Context) (any, error) {
		return nil, s.arb.ForceCloseFinish(ctx, req.ChannelID)
	})
	c.JSON(http.StatusAccepted, txEnvelope{TxID: id})
}

func (s *Server) handleTxStatus(c *gin.Context) {
	id := c.Param("id")
	s.mu.Lock()
	record, found := s.txs[id]
	s.mu.Unlock()
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown transaction"})
		return
	}
	c.JSON(http.StatusOK, txStatusResponse{Status: record.status, Error: record.err, Result: record.result})
}

func (s *Server) handleGetChannel(c *gin.Context) {
	id := c.Param("id")
	ch, found, err := s.arb.Channel(c.Request.Context(), id)
	if err != nil {
		s.logger.Error("get channel failed", zap.String("channel_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "channel not found"})
		return
	}
	c.JSON(http.StatusOK, toChannelWire(ch))
}

func bindJSON(c *gin.Context, v any) bool {
	if err := json.NewDecoder(c.Request.Body).Decode(v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return false
	}
	return true
}
