// Package metrics exposes Prometheus instrumentation for pipeline runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/cartographer/internal/status"
)

const namespace = "cartographer"

// Recorder implements the pipeline observer and the embedding cache
// observer on top of a Prometheus registry.
type Recorder struct {
	gatherer prometheus.Gatherer

	runsStarted   prometheus.Counter
	runsFinished  *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	itemFailures  *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
}

// NewRecorder registers the collectors with reg. Passing nil uses a fresh
// registry, which keeps tests isolated.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_started_total",
			Help:      "Total pipeline runs started",
		}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_finished_total",
			Help:      "Total pipeline runs finished, by final status",
		}, []string{"status"}),
		phaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "phase_duration_seconds",
			Help:      "Duration of each pipeline phase in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"phase"}),
		itemFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "item_failures_total",
			Help:      "Structured LLM calls that produced no usable output",
		}, []string{"kind"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "cache_lookups_total",
			Help:      "Embedding cache lookups, by result",
		}, []string{"result"}),
	}
}

func (r *Recorder) RunStarted() {
	r.runsStarted.Inc()
}

func (r *Recorder) RunFinished(state status.State) {
	r.runsFinished.WithLabelValues(string(state)).Inc()
}

func (r *Recorder) PhaseCompleted(phase string, elapsed time.Duration) {
	r.phaseDuration.WithLabelValues(phase).Observe(elapsed.Seconds())
}

func (r *Recorder) ItemFailed(kind string) {
	r.itemFailures.WithLabelValues(kind).Inc()
}

func (r *Recorder) ObserveCache(hits, misses int) {
	r.cacheLookups.WithLabelValues("hit").Add(float64(hits))
	r.cacheLookups.WithLabelValues("miss").Add(float64(misses))
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
