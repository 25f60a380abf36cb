package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromRecorder exports drone telemetry as Prometheus counters and gauges.
// It is a pure consumer of a drone's event channel — the engine itself
// never references this type, following the same "opt-in, separately
// wired" shape as the example pack's churn telemetry module.
type PromRecorder struct {
	sent      prometheus.Counter
	dropped   prometheus.Counter
	shortcuts prometheus.Counter
	neighbors prometheus.Gauge
	floodsSeen prometheus.Gauge
}

// NewPromRecorder creates a PromRecorder and registers its metrics with
// reg. Pass prometheus.NewRegistry() for an isolated registry in tests,
// or prometheus.DefaultRegisterer in production.
func NewPromRecorder(reg prometheus.Registerer, nodeID string) *PromRecorder {
	labels := prometheus.Labels{"node": nodeID}
	r := &PromRecorder{
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "drone_packets_sent_total",
			Help:        "Total packets successfully sent to a neighbor.",
			ConstLabels: labels,
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "drone_packets_dropped_total",
			Help:        "Total fragments dropped by the probabilistic drop policy.",
			ConstLabels: labels,
		}),
		shortcuts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "drone_controller_shortcuts_total",
			Help:        "Total non-fragment packets escalated to the controller via shortcut.",
			ConstLabels: labels,
		}),
		neighbors: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "drone_neighbors",
			Help:        "Current number of neighbor links.",
			ConstLabels: labels,
		}),
		floodsSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "drone_floods_seen",
			Help:        "Number of distinct flood ids observed so far.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(r.sent, r.dropped, r.shortcuts, r.neighbors, r.floodsSeen)
	return r
}

// Observe records a single telemetry event.
func (r *PromRecorder) Observe(e Event) {
	switch e.Kind {
	case KindPacketSent:
		r.sent.Inc()
	case KindPacketDropped:
		r.dropped.Inc()
	case KindControllerShortcut:
		r.shortcuts.Inc()
	}
}

// SetNeighborCount updates the live neighbor-count gauge.
func (r *PromRecorder) SetNeighborCount(n int) {
	r.neighbors.Set(float64(n))
}

// SetFloodsSeen updates the seen-flood-count gauge.
func (r *PromRecorder) SetFloodsSeen(n int) {
	r.floodsSeen.Set(float64(n))
}

// Drain reads events from ch and records each one until ch is closed.
// Intended to run in its own goroutine, owned by whoever constructed the
// channel passed as a drone's controller_out.
func (r *PromRecorder) Drain(ch <-chan Event) {
	for e := range ch {
		r.Observe(e)
	}
}

// ServeMetrics starts a background HTTP server exposing /metrics on addr
// using reg as the metrics source. It does not block.
func ServeMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
