package sigtransport

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the engine updates. Construct one
// with NewMetrics and register it with a prometheus.Registerer of the
// caller's choosing.
type Metrics struct {
	cacheDepth    prometheus.Gauge
	queueProgress prometheus.Gauge
	socketState   prometheus.Gauge
	sendSuccesses prometheus.Counter
	sendFailures  prometheus.Counter
}

// NewMetrics builds a Metrics instance and registers its collectors with
// reg. A nil reg uses prometheus.NewRegistry() internally so callers that
// don't care about metrics can still construct engines safely.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		cacheDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigtransport_envelope_cache_depth",
			Help: "Number of unprocessed envelopes currently cached.",
		}),
		queueProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigtransport_task_queue_completed_total",
			Help: "Running count of completed serial-chain dispatch tasks.",
		}),
		socketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sigtransport_socket_state",
			Help: "Current push socket state as a SocketState ordinal.",
		}),
		sendSuccesses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigtransport_send_success_total",
			Help: "Count of recipient numbers that completed a send successfully.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sigtransport_send_failure_total",
			Help: "Count of recipient numbers that ended a send with an error.",
		}),
	}
	reg.MustRegister(m.cacheDepth, m.queueProgress, m.socketState, m.sendSuccesses, m.sendFailures)
	return m
}

// SetSocketState records the supervisor's current state.
func (m *Metrics) SetSocketState(s SocketState) {
	m.socketState.Set(float64(s))
}
