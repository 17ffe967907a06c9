// Package metrics exposes orchestration counters in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "comfyrunner"

type Metrics struct {
	registry *prometheus.Registry

	JobsSubmitted      prometheus.Counter
	JobsFailed         prometheus.Counter
	JobsSaved          prometheus.Counter
	SettleTimeouts     prometheus.Counter
	ListenerReconnects prometheus.Counter
	Workers            *prometheus.GaugeVec
	WorkerErrors       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_submitted_total",
			Help: "Jobs accepted by the ComfyUI server.",
		}),
		JobsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_failed_total",
			Help: "Submissions that produced no job.",
		}),
		JobsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_saved_total",
			Help: "Jobs whose artifacts were settled.",
		}),
		SettleTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "settle_timeouts_total",
			Help: "Artifact paths that never reached a stable size.",
		}),
		ListenerReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "listener_reconnects_total",
			Help: "Progress stream reconnect attempts.",
		}),
		Workers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "workers_running",
			Help: "Background workers currently running, by kind.",
		}, []string{"kind"}),
		WorkerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "worker_errors_total",
			Help: "Background workers that ended with an error, by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.JobsSubmitted,
		m.JobsFailed,
		m.JobsSaved,
		m.SettleTimeouts,
		m.ListenerReconnects,
		m.Workers,
		m.WorkerErrors,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
