// Package metrics exports relay session metrics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wordassist/docedit-proxy/internal/relay"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "docedit"

// Collector records session metrics. It implements relay.Observer.
//
// Metrics:
//   - docedit_sessions_total{mode,outcome}
//   - docedit_session_errors_total{kind}
//   - docedit_sessions_salvaged_total
//   - docedit_progress_events_total
//   - docedit_session_duration_seconds{mode}
//   - docedit_session_fragments
//   - docedit_sessions_in_flight
type Collector struct {
	registry *prometheus.Registry

	sessions       *prometheus.CounterVec
	errors         *prometheus.CounterVec
	salvaged       prometheus.Counter
	progressEvents prometheus.Counter
	duration       *prometheus.HistogramVec
	fragments      prometheus.Histogram
	inFlight       prometheus.Gauge
}

// NewCollector registers the session metrics on registry, or on a fresh
// registry when nil.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	c := &Collector{
		registry: registry,
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Finished edit sessions by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_errors_total",
				Help:      "Sessions that ended with an error event, by error kind",
			},
			[]string{"kind"},
		),
		salvaged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_salvaged_total",
			Help:      "Sessions completed from partial content after the upstream hung up",
		}),
		progressEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_events_total",
			Help:      "Progress events sent to callers",
		}),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Session duration from start to terminal event",
				// model calls run from under a second to the 300s read budget
				Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"mode"},
		),
		fragments: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_fragments",
			Help:      "Content fragments received per upstream session",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_in_flight",
			Help:      "Sessions currently running",
		}),
	}

	registry.MustRegister(
		c.sessions,
		c.errors,
		c.salvaged,
		c.progressEvents,
		c.duration,
		c.fragments,
		c.inFlight,
	)
	return c
}

func (c *Collector) SessionStarted(relay.SessionInfo) {
	c.inFlight.Inc()
}

func (c *Collector) ProgressEmitted(relay.SessionInfo, relay.Progress) {
	c.progressEvents.Inc()
}

func (c *Collector) SessionFinished(s relay.Summary) {
	c.inFlight.Dec()
	c.sessions.WithLabelValues(string(s.Mode), string(s.Outcome)).Inc()
	c.duration.WithLabelValues(string(s.Mode)).Observe(s.Duration.Seconds())
	if s.Outcome == relay.OutcomeError && s.ErrorKind != "" {
		c.errors.WithLabelValues(s.ErrorKind).Inc()
	}
	if s.Salvaged {
		c.salvaged.Inc()
	}
	if s.Mode == relay.ModeUpstream {
		c.fragments.Observe(float64(s.Fragments))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Registry exposes the underlying registry, e.g. to add Go runtime collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }
