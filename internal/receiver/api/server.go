// Package api exposes the receiver's payment-facing HTTP surface: the
// endpoints named in spec.md §6, plus the ambient health and metrics
// routes every service in this codebase carries.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/codec"
	"github.com/nearai/pay-per-prompt/internal/keyguard"
	"github.com/nearai/pay-per-prompt/internal/metricsreg"
	"github.com/nearai/pay-per-prompt/internal/receiver/store"
	"github.com/nearai/pay-per-prompt/internal/receiver/validator"
)

// DefaultPaymentHeader is the header business routes read for an inbound
// payment, per spec.md §6.
const DefaultPaymentHeader = "X-Payments-Signature"

// ArbiterClient is the slice of the arbiter the close endpoint needs: it
// must withdraw everything outstanding before handing back a close
// payload (spec.md §6, §4.6 SoftClose path).
type ArbiterClient interface {
	Withdraw(ctx context.Context, caller codec.AccountID, state codec.SignedState) error
}

// Config is the receiver's own identity and the policy knobs the API
// surface enforces.
type Config struct {
	AccountID     codec.AccountID
	Network       string
	PublicKey     string
	PrivateKey    keyguard.GuardedKey
	PaymentHeader string
	CostPerCall   arbiter.Balance
}

// Server wires a Store, Validator, and arbiter client behind a gin
// router.
type Server struct {
	cfg       Config
	store     store.Store
	validator *validator.Validator
	arbiter   ArbiterClient
	metrics   *metricsreg.ChannelMetrics
	logger    *zap.Logger
}

// NewServer builds a Server. logger and metrics may be nil.
func NewServer(cfg Config, st store.Store, v *validator.Validator, arb ArbiterClient, metrics *metricsreg.ChannelMetrics, logger *zap.Logger) *Server {
	if cfg.PaymentHeader == "" {
		cfg.PaymentHeader = DefaultPaymentHeader
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{cfg: cfg, store: st, validator: v, arbiter: arb, metrics: metrics, logger: logger}
}

// Router builds the gin engine serving this surface.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	r.GET("/info", s.handleInfo)
	r.GET("/pc/state/:channel_id", s.handleState)
	r.POST("/pc/validate", s.handleValidate)
	r.POST("/pc/close/:channel_id", s.handleClose)

	// The upstream inference proxy itself is out of scope; this route
	// stands in for it to exercise PaymentMiddleware end to end.
	r.POST("/v1/complete", s.PaymentMiddleware(s.cfg.CostPerCall), s.handleComplete)

	return r
}
