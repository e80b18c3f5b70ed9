package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by all pipeline counters.
const (
	OutcomeSuccess      = "success"
	OutcomeValidation   = "validation_error"
	OutcomeNotFound     = "not_found"
	OutcomePartial      = "partial_failure"
	OutcomeFailed       = "failed"
	OutcomeDeadLettered = "dead_lettered"
)

// Recorder exports pipeline metrics. A nil Recorder discards everything.
type Recorder struct {
	gatherer    prometheus.Gatherer
	ingests     *prometheus.CounterVec
	ingestBytes prometheus.Counter
	derivations *prometheus.CounterVec
	deriveTime  prometheus.Histogram
	retrievals  *prometheus.CounterVec
	queueDepth  *prometheus.GaugeVec
}

// New registers the pipeline metrics on reg. A nil reg uses a fresh registry.
func New(namespace string, reg *prometheus.Registry) (*Recorder, error) {
	if namespace == "" {
		namespace = "thumbflow"
	}
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	r := &Recorder{
		gatherer: reg,
		ingests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingests_total",
			Help:      "Upload attempts by outcome.",
		}, []string{"outcome"}),
		ingestBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_bytes_total",
			Help:      "Decoded bytes stored by successful uploads.",
		}),
		derivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "derivations_total",
			Help:      "Derivation task deliveries by outcome.",
		}, []string{"outcome"}),
		deriveTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "derivation_duration_seconds",
			Help:      "Time spent handling one derivation delivery.",
			Buckets:   prometheus.DefBuckets,
		}),
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Reads by variant and outcome.",
		}, []string{"variant", "outcome"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_tasks",
			Help:      "Tasks in the work queue by state.",
		}, []string{"state"}),
	}
	collectors := []prometheus.Collector{r.ingests, r.ingestBytes, r.derivations, r.deriveTime, r.retrievals, r.queueDepth}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return nil, fmt.Errorf("register pipeline metric: %w", err)
		}
	}
	return r, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func (r *Recorder) Ingest(outcome string, size int) {
	if r == nil {
		return
	}
	r.ingests.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess || outcome == OutcomePartial {
		r.ingestBytes.Add(float64(size))
	}
}

func (r *Recorder) Derivation(outcome string, took time.Duration) {
	if r == nil {
		return
	}
	r.derivations.WithLabelValues(outcome).Inc()
	r.deriveTime.Observe(took.Seconds())
}

func (r *Recorder) Retrieval(variant, outcome string) {
	if r == nil {
		return
	}
	r.retrievals.WithLabelValues(variant, outcome).Inc()
}

// QueueDepth publishes a queue occupancy snapshot.
func (r *Recorder) QueueDepth(ready, inFlight, dead int64) {
	if r == nil {
		return
	}
	r.queueDepth.WithLabelValues("ready").Set(float64(ready))
	r.queueDepth.WithLabelValues("in_flight").Set(float64(inFlight))
	r.queueDepth.WithLabelValues("dead_lettered").Set(float64(dead))
}
