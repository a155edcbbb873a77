package channels

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports per-channel counters. One instance is shared by the dock
// and registered on the gateway's registry.
type Metrics struct {
	inbound     *prometheus.CounterVec
	outbound    *prometheus.CounterVec
	sendErrors  *prometheus.CounterVec
	sendLatency *prometheus.HistogramVec
}

// NewMetrics builds the collectors and registers them with reg. A nil reg
// leaves them unregistered (tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haya", Subsystem: "channel", Name: "messages_in_total",
			Help: "Inbound messages accepted per channel.",
		}, []string{"channel"}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haya", Subsystem: "channel", Name: "messages_out_total",
			Help: "Outbound messages delivered per channel.",
		}, []string{"channel"}),
		sendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "haya", Subsystem: "channel", Name: "send_errors_total",
			Help: "Failed outbound sends per channel.",
		}, []string{"channel"}),
		sendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "haya", Subsystem: "channel", Name: "send_seconds",
			Help:    "Outbound send latency per channel.",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
	}
	if reg != nil {
		reg.MustRegister(m.inbound, m.outbound, m.sendErrors, m.sendLatency)
	}
	return m
}

func (m *Metrics) recordInbound(channel string) {
	if m != nil {
		m.inbound.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) recordOutbound(channel string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.sendErrors.WithLabelValues(channel).Inc()
		return
	}
	m.outbound.WithLabelValues(channel).Inc()
	m.sendLatency.WithLabelValues(channel).Observe(elapsed.Seconds())
}
