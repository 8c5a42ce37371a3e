package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/codec"
)

// PaymentMiddleware reads the payment header, runs full admission with
// insert=true against minCost, and aborts the request on any failure.
// Any business route (the upstream inference proxy, out of scope here)
// mounts this ahead of its handler.
func (s *Server) PaymentMiddleware(minCost arbiter.Balance) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader(s.cfg.PaymentHeader))
		if header == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing " + s.cfg.PaymentHeader})
			return
		}

		signed, err := codec.DecodeSignedStateB64(header)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "malformed payment header"})
			return
		}

		if err := s.validator.Admit(c.Request.Context(), signed, minCost, true); err != nil {
			c.AbortWithStatusJSON(statusFor(err), gin.H{"error": messageFor(err)})
			return
		}

		c.Next()
	}
}
