// Package metrics holds the Prometheus collectors the rest of the proxy
// reports through, one counter/gauge per §7/§8 observable event.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ErrorsTotal is incremented once per errs.Kind occurrence.
	ErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxy_errors_total",
		Help: "Count of errors by kind, mirroring the error-handling table.",
	}, []string{"kind"})

	// DecodedFramesTotal counts AudioDecoder output by kind (normal/concealment).
	DecodedFramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proxy_decoded_frames_total",
		Help: "Count of decoder output frames by kind.",
	}, []string{"kind"})

	// DiscardedChunksTotal counts out-of-order/replayed chunk discards.
	DiscardedChunksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proxy_discarded_chunks_total",
		Help: "Count of chunks discarded by gap detection (out-of-order or replay).",
	})

	// ActiveSessions tracks live ProviderSessions.
	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proxy_active_sessions",
		Help: "Number of currently open ProviderSessions across all multiplexers.",
	})

	// WorkerActiveConnections mirrors the coordinator's per-worker load.
	WorkerActiveConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "proxy_worker_active_connections",
		Help: "Active connection count per worker, as tracked by the LoadCoordinator.",
	}, []string{"worker_id"})

	// WorkerCount is the total number of workers known to the coordinator.
	WorkerCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proxy_worker_count",
		Help: "Total worker count tracked by the LoadCoordinator.",
	})

	// SequenceNumber is the most recently issued process-global outbound sequence number.
	SequenceNumber = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "proxy_outbound_sequence_number",
		Help: "Most recently issued value of the process-global outbound sequence counter.",
	})
)

// Registry returns a registry with every collector above registered,
// suitable for exposing on /metrics.
func Registry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		ErrorsTotal,
		DecodedFramesTotal,
		DiscardedChunksTotal,
		ActiveSessions,
		WorkerActiveConnections,
		WorkerCount,
		SequenceNumber,
	)
	return r
}
