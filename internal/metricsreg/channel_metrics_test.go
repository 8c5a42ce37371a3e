package metricsreg_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nearai/pay-per-prompt/internal/metricsreg"
)

func TestChannelMetricsScrapeIncludesRegisteredCollectors(t *testing.T) {
	reg := metricsreg.New()
	m := metricsreg.NewChannelMetrics(reg)
	m.ChannelsOpened.Inc()
	m.PaymentsAdmitted.Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, "payment_channel_channels_opened_total"))
	require.True(t, strings.Contains(body, "payment_channel_payments_admitted_total"))
}

func TestRegistryCounterIsIdempotentByName(t *testing.T) {
	reg := metricsreg.New()
	a := reg.Counter("dup_total", "first registration")
	b := reg.Counter("dup_total", "second registration returns the same collector")
	require.Same(t, a, b)
}
