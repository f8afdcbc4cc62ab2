// Package metrics exposes order and job counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uhyunpark/arcdark/pkg/app/darkpool"
)

type Metrics struct {
	reg *prometheus.Registry

	OrdersPlaced      prometheus.Counter
	OrdersDeactivated prometheus.Counter
	JobsSubmitted     prometheus.Counter
	JobsFinished      *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
	Callbacks         *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		OrdersPlaced: f.NewCounter(prometheus.CounterOpts{
			Namespace: "arcdark",
			Subsystem: "orders",
			Name:      "placed_total",
			Help:      "Encrypted orders accepted.",
		}),
		OrdersDeactivated: f.NewCounter(prometheus.CounterOpts{
			Namespace: "arcdark",
			Subsystem: "orders",
			Name:      "deactivated_total",
			Help:      "Orders switched inactive, by cancel or by a finished match.",
		}),
		JobsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "arcdark",
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Match jobs accepted by the cluster.",
		}),
		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcdark",
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Match jobs that reached a terminal state.",
		}, []string{"state"}),
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "arcdark",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Time from submission to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"state"}),
		Callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "arcdark",
			Subsystem: "callbacks",
			Name:      "total",
			Help:      "Cluster callbacks by verdict.",
		}, []string{"verdict"}),
	}
}

// QueueDepth reports fn as the cluster queue gauge.
func (m *Metrics) QueueDepth(fn func() float64) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "arcdark",
		Subsystem: "cluster",
		Name:      "queue_depth",
		Help:      "Jobs waiting for a cluster worker.",
	}, fn)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) OrderPlaced()      { m.OrdersPlaced.Inc() }
func (m *Metrics) OrderDeactivated() { m.OrdersDeactivated.Inc() }
func (m *Metrics) JobSubmitted()     { m.JobsSubmitted.Inc() }

func (m *Metrics) JobFinished(state darkpool.JobState, elapsedSeconds float64) {
	m.JobsFinished.WithLabelValues(state.String()).Inc()
	m.JobDuration.WithLabelValues(state.String()).Observe(elapsedSeconds)
}

func (m *Metrics) Callback(v darkpool.Verdict) {
	m.Callbacks.WithLabelValues(v.String()).Inc()
}

var _ darkpool.Metrics = (*Metrics)(nil)
