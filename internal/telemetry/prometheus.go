package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Aman-CERP/fusesearch/internal/fusion"
)

// Search outcomes used as the "outcome" label.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeError    = "error"
)

// PromCollector exports search metrics to Prometheus.
type PromCollector struct {
	searches  *prometheus.CounterVec
	failures  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	fusedHits prometheus.Histogram
	overlap   prometheus.Histogram
}

// NewPromCollector registers the search metrics on reg. A nil reg uses the
// default registerer.
func NewPromCollector(reg prometheus.Registerer) *PromCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &PromCollector{
		searches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fusesearch",
				Name:      "searches_total",
				Help:      "Hybrid searches by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		failures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fusesearch",
				Name:      "backend_failures_total",
				Help:      "Backend failures by backend and failure class",
			},
			[]string{"backend", "class"},
		),
		duration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fusesearch",
				Name:      "search_duration_seconds",
				Help:      "End-to-end hybrid search latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"strategy"},
		),
		fusedHits: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fusesearch",
			Name:      "fused_hits",
			Help:      "Number of hits returned per search",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		}),
		overlap: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fusesearch",
			Name:      "overlap_ratio",
			Help:      "Share of returned hits found by both backends",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
	}
}

// ObserveSearch implements fusion.Observer.
func (c *PromCollector) ObserveSearch(rec fusion.SearchRecord) {
	strategy := string(rec.Strategy)
	c.searches.WithLabelValues(strategy, outcome(rec)).Inc()
	c.duration.WithLabelValues(strategy).Observe(rec.Elapsed.Seconds())

	if rec.LexicalFailure != fusion.FailureNone {
		c.failures.WithLabelValues(fusion.BackendLexical, string(rec.LexicalFailure)).Inc()
	}
	if rec.SemanticFailure != fusion.FailureNone {
		c.failures.WithLabelValues(fusion.BackendSemantic, string(rec.SemanticFailure)).Inc()
	}
	if rec.Err != nil {
		return
	}

	c.fusedHits.Observe(float64(rec.Hits))
	o := fusion.Overlap{
		LexicalCount:   rec.LexicalCount,
		SemanticCount:  rec.SemanticCount,
		BothFoundCount: rec.BothFoundCount,
	}
	c.overlap.Observe(o.Ratio(rec.Hits))
}

func outcome(rec fusion.SearchRecord) string {
	switch {
	case rec.Err != nil:
		return OutcomeError
	case rec.Degraded:
		return OutcomeDegraded
	default:
		return OutcomeOK
	}
}

var _ fusion.Observer = (*PromCollector)(nil)
