package metricsreg

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
)

// ChannelMetrics tracks channel lifecycle, payment admission, and the
// reconciler sweep. One instance is shared across the provider process.
type ChannelMetrics struct {
	registry           *Registry
	ChannelsOpened     prometheus.Counter
	ChannelsClosed     *prometheus.CounterVec
	PaymentsAdmitted   prometheus.Counter
	PaymentsRejected   *prometheus.CounterVec
	AdmitDuration      prometheus.Observer
	ReconcilerSweeps   prometheus.Counter
	ReconcilerRowsSeen *prometheus.GaugeVec
	ReconcilerErrors   prometheus.Counter
	WithdrawnTotal     prometheus.Counter
}

// Handler exposes the underlying registry's /metrics handler, so callers
// that only hold a *ChannelMetrics don't need a separate *Registry
// reference to serve it.
func (m *ChannelMetrics) Handler() http.Handler {
	return m.registry.Handler()
}

// NewChannelMetrics registers this module's collectors on reg.
func NewChannelMetrics(reg *Registry) *ChannelMetrics {
	return &ChannelMetrics{
		registry:           reg,
		ChannelsOpened:     reg.Counter("channels_opened_total", "Channels opened by this receiver").WithLabelValues(),
		ChannelsClosed:     reg.Counter("channels_closed_total", "Channels closed, by close kind", "kind"),
		PaymentsAdmitted:   reg.Counter("payments_admitted_total", "Signed states accepted by the validator").WithLabelValues(),
		PaymentsRejected:   reg.Counter("payments_rejected_total", "Signed states rejected by the validator, by reason", "reason"),
		AdmitDuration:      reg.Histogram("payment_admit_duration_seconds", "Time to run the admission flow", DurationBuckets).WithLabelValues(),
		ReconcilerSweeps:   reg.Counter("reconciler_sweeps_total", "Reconciler sweep passes run").WithLabelValues(),
		ReconcilerRowsSeen: reg.Gauge("reconciler_rows_seen", "Stale rows returned by the last sweep"),
		ReconcilerErrors:   reg.Counter("reconciler_row_errors_total", "Per-row reconciliation failures").WithLabelValues(),
		WithdrawnTotal:     reg.Counter("withdrawn_total", "Withdraw and withdraw_and_close calls issued").WithLabelValues(),
	}
}
