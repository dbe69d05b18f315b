// Package metrics exports operation and event delivery counters to
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/port"
)

var _ port.Metrics = (*Prometheus)(nil)

type Prometheus struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	published  *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, alongside the Go runtime
// and process collectors.
func New() *Prometheus {
	reg := prometheus.NewRegistry()
	p := &Prometheus{
		registry: reg,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retail",
			Name:      "operations_total",
			Help:      "Engine operations by outcome.",
		}, []string{"op", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "retail",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency, including transaction time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "retail",
			Name:      "events_published_total",
			Help:      "Event publish attempts by type and outcome.",
		}, []string{"type", "result"}),
	}
	reg.MustRegister(
		p.operations,
		p.durations,
		p.published,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prometheus) ObserveOperation(op string, err error, d time.Duration) {
	p.operations.WithLabelValues(op, result(err)).Inc()
	p.durations.WithLabelValues(op).Observe(d.Seconds())
}

func (p *Prometheus) ObservePublish(eventType domain.EventType, err error) {
	ok := "ok"
	if err != nil {
		ok = "error"
	}
	p.published.WithLabelValues(string(eventType), ok).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// result buckets errors by kind so label cardinality stays fixed.
func result(err error) string {
	if err == nil {
		return "ok"
	}
	switch domain.Kind(err) {
	case domain.ErrInvalidInput:
		return "invalid_input"
	case domain.ErrNotFound:
		return "not_found"
	case domain.ErrConflict:
		return "conflict"
	}
	return "internal"
}
