package metric

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ingestmesh"

// Partition outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeAborted  = "aborted"
)

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Connection metrics
	ConnectionsTotal    *prometheus.CounterVec
	ConnectionsRejected *prometheus.CounterVec
	ConnectionsActive   prometheus.Gauge

	// Replication metrics
	BlocksVerified  prometheus.Counter
	BlocksWritten   prometheus.Counter
	BytesWritten    prometheus.Counter
	SinkErrors      prometheus.Counter
	PartitionsTotal *prometheus.CounterVec
	SessionsDone    prometheus.Counter

	// Collector metrics
	GCSweeps       prometheus.Counter
	GCPathsDeleted prometheus.Counter
	GCPathsFailed  prometheus.Counter
	GCQueueLength  prometheus.Gauge
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// Handler returns the /metrics handler of the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// NewRegistry creates a registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
		ConnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Accepted connections by kind (context or partition)",
		}, []string{"kind"}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Connections rejected before or at routing, by reason",
		}, []string{"reason"}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Currently open connections",
		}),
		BlocksVerified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_verified_total",
			Help:      "Blocks accepted by the verified log",
		}),
		BlocksWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_written_total",
			Help:      "Blocks acknowledged by the sink",
		}),
		BytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_written_total",
			Help:      "Bytes acknowledged by the sink",
		}),
		SinkErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed sink writes",
		}),
		PartitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partitions_total",
			Help:      "Finished partition connections by outcome",
		}, []string{"outcome"}),
		SessionsDone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Sessions whose completion signal was handled",
		}),
		GCSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_sweeps_total",
			Help:      "Collection sweeps run",
		}),
		GCPathsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_paths_deleted_total",
			Help:      "Storage paths removed by collection",
		}),
		GCPathsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_paths_failed_total",
			Help:      "Storage path deletions that failed and were re-queued",
		}),
		GCQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gc_queue_length",
			Help:      "Storage paths pending collection",
		}),
	}

	reg.MustRegister(
		r.ConnectionsTotal,
		r.ConnectionsRejected,
		r.ConnectionsActive,
		r.BlocksVerified,
		r.BlocksWritten,
		r.BytesWritten,
		r.SinkErrors,
		r.PartitionsTotal,
		r.SessionsDone,
		r.GCSweeps,
		r.GCPathsDeleted,
		r.GCPathsFailed,
		r.GCQueueLength,
	)
	return r
}

// Registerer exposes the underlying registry so storage engines can add
// their own collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Handler returns an HTTP handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ConnectionOpened records an accepted connection of kind.
func (r *Registry) ConnectionOpened(kind string) {
	if r == nil {
		return
	}
	r.ConnectionsTotal.WithLabelValues(kind).Inc()
	r.ConnectionsActive.Inc()
}

// ConnectionClosed records a connection ending.
func (r *Registry) ConnectionClosed() {
	if r == nil {
		return
	}
	r.ConnectionsActive.Dec()
}

// ConnectionRejected records a rejected connection.
func (r *Registry) ConnectionRejected(reason string) {
	if r == nil {
		return
	}
	r.ConnectionsRejected.WithLabelValues(reason).Inc()
}

// BlockVerified records one block accepted by a log.
func (r *Registry) BlockVerified() {
	if r == nil {
		return
	}
	r.BlocksVerified.Inc()
}

// BlockWritten records one block acknowledged by the sink.
func (r *Registry) BlockWritten(n int) {
	if r == nil {
		return
	}
	r.BlocksWritten.Inc()
	r.BytesWritten.Add(float64(n))
}

// SinkError records a failed sink write.
func (r *Registry) SinkError() {
	if r == nil {
		return
	}
	r.SinkErrors.Inc()
}

// PartitionFinished records a partition outcome.
func (r *Registry) PartitionFinished(outcome string) {
	if r == nil {
		return
	}
	r.PartitionsTotal.WithLabelValues(outcome).Inc()
}

// SessionCompleted records a handled completion signal.
func (r *Registry) SessionCompleted() {
	if r == nil {
		return
	}
	r.SessionsDone.Inc()
}

// SweepFinished records a collection sweep.
func (r *Registry) SweepFinished(deleted, failed int) {
	if r == nil {
		return
	}
	r.GCSweeps.Inc()
	r.GCPathsDeleted.Add(float64(deleted))
	r.GCPathsFailed.Add(float64(failed))
}

// SetQueueLength records the pending collection queue length.
func (r *Registry) SetQueueLength(n int) {
	if r == nil {
		return
	}
	r.GCQueueLength.Set(float64(n))
}
