// Package metrics exposes the server's Prometheus registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every counter and gauge the server exports. None of
// it feeds back into protocol or invariant decisions; it is pure
// observability, scraped over a loopback HTTP port separate from the
// FIFO transport.
type Registry struct {
	ActiveSessions  prometheus.Gauge
	BucketsTouched  *prometheus.CounterVec
	Operations      *prometheus.CounterVec
	ConnectRejected prometheus.Counter
	Notifications   *prometheus.CounterVec
	BackupsStarted  prometheus.Counter
	BackupsFailed   prometheus.Counter
	JobsProcessed   prometheus.Counter
}

// NewRegistry constructs and registers all metrics on a fresh
// prometheus.Registry, so tests can instantiate independent registries
// without colliding on the global default one.
func NewRegistry() (*Registry, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	r := &Registry{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvsd",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of occupied session slots.",
		}),
		BucketsTouched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvsd",
			Subsystem: "store",
			Name:      "bucket_touched_total",
			Help:      "Bucket accesses by operation.",
		}, []string{"op"}),
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvsd",
			Subsystem: "batch",
			Name:      "operations_total",
			Help:      "Batch operations processed, by command and result.",
		}, []string{"command", "result"}),
		ConnectRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kvsd",
			Subsystem: "dispatcher",
			Name:      "connect_rejected_total",
			Help:      "CONNECT requests rejected due to no free session slot.",
		}),
		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvsd",
			Subsystem: "session",
			Name:      "notifications_total",
			Help:      "Subscription notifications, by outcome (delivered, dropped).",
		}, []string{"outcome"}),
		BackupsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kvsd",
			Subsystem: "snapshot",
			Name:      "backups_started_total",
			Help:      "Backup children spawned.",
		}),
		BackupsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kvsd",
			Subsystem: "snapshot",
			Name:      "backups_failed_total",
			Help:      "Backup children that exited non-zero or timed out.",
		}),
		JobsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kvsd",
			Subsystem: "jobrunner",
			Name:      "jobs_processed_total",
			Help:      "Job files fully processed.",
		}),
	}
	return r, reg
}

// Handler returns the HTTP handler to mount on the debug listener.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
