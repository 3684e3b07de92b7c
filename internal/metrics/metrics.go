// ABOUTME: Prometheus metrics for the conversation workflow
// ABOUTME: Implements conversation.Observer and serves a scrape handler from a private registry

// Package metrics exposes workflow counters and latencies to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/herald/internal/publish"
	"github.com/2389/herald/internal/session"
)

const namespace = "herald"

// Metrics records workflow measurements.
type Metrics struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	denied          prometheus.Counter
	generations     *prometheus.CounterVec
	generationTime  prometheus.Histogram
	publishes       *prometheus.CounterVec
	publishTime     prometheus.Histogram
	publishAttempts prometheus.Histogram
	logins          *prometheus.CounterVec
}

// New creates Metrics registered on a fresh registry, including Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound events from the authorized user, by kind.",
		}, []string{"kind"}),
		denied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_denied_total",
			Help:      "Inbound events rejected by the authorization gate.",
		}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Draft generations, by result.",
		}, []string{"result"}),
		generationTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Time spent generating a draft.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Publish operations, by result and error kind.",
		}, []string{"result", "error_kind"}),
		publishTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time spent publishing, including retries.",
			Buckets:   prometheus.DefBuckets,
		}),
		publishAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_attempts",
			Help:      "Submission attempts per publish operation.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Background platform logins, by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.events,
		m.denied,
		m.generations,
		m.generationTime,
		m.publishes,
		m.publishTime,
		m.publishAttempts,
		m.logins,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) EventReceived(kind string) {
	m.events.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventDenied() {
	m.denied.Inc()
}

func (m *Metrics) GenerationFinished(err error, elapsed time.Duration) {
	m.generations.WithLabelValues(result(err == nil)).Inc()
	m.generationTime.Observe(elapsed.Seconds())
}

func (m *Metrics) PublishFinished(res publish.Result, elapsed time.Duration) {
	m.publishes.WithLabelValues(result(res.Success), string(res.ErrorKind)).Inc()
	m.publishTime.Observe(elapsed.Seconds())
	if res.Attempts > 0 {
		m.publishAttempts.Observe(float64(res.Attempts))
	}
}

func (m *Metrics) LoginFinished(err error) {
	switch {
	case err == nil:
		m.logins.WithLabelValues("success").Inc()
	case errors.Is(err, session.ErrLoginTimeout):
		m.logins.WithLabelValues("timeout").Inc()
	default:
		m.logins.WithLabelValues("failure").Inc()
	}
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
