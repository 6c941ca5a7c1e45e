package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sink receives routing/caching observability events. Implemented by the
// Prometheus sink in production and by NopSink in tests.
type Sink interface {
	RoutingDecision(strategy string, durationSeconds, estimatedCost float64)
	RoutingFallback()
	RoutingFailure(kind string)
	OutcomeObserved(model string, success bool)
	CacheHit()
	CacheMiss()
	CacheBackendError()
	ThresholdAdjusted(direction string)
	ExperimentReward(domain, policy string)
}

// PrometheusSink exports counters and histograms under the model_router
// namespace.
type PrometheusSink struct {
	decisions        *prometheus.CounterVec
	decisionDuration prometheus.Histogram
	estimatedCost    prometheus.Histogram
	fallbacks        prometheus.Counter
	failures         *prometheus.CounterVec
	outcomes         *prometheus.CounterVec
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	cacheErrors      prometheus.Counter
	adjustments      *prometheus.CounterVec
	rewards          *prometheus.CounterVec
}

// NewPrometheusSink registers all collectors with the given registerer. Pass
// prometheus.DefaultRegisterer in main; tests use a fresh registry.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	factory := promauto.With(reg)
	return &PrometheusSink{
		decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "model_router_decisions_total",
			Help: "Routing decisions by strategy",
		}, []string{"strategy"}),
		decisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "model_router_decision_duration_seconds",
			Help:    "Time spent computing routing decisions",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		estimatedCost: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "model_router_estimated_cost_dollars",
			Help:    "Estimated cost per routed request",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_router_fallbacks_total",
			Help: "Routing calls recovered by the fallback strategy",
		}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "model_router_failures_total",
			Help: "Routing failures surfaced to callers, by error kind",
		}, []string{"kind"}),
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "model_router_outcomes_total",
			Help: "Observed request outcomes by model and result",
		}, []string{"model", "result"}),
		cacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_router_cache_hits_total",
			Help: "Semantic cache hits",
		}),
		cacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_router_cache_misses_total",
			Help: "Semantic cache misses",
		}),
		cacheErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "model_router_cache_backend_errors_total",
			Help: "Cache backend errors degraded to misses or no-op writes",
		}),
		adjustments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "model_router_threshold_adjustments_total",
			Help: "Applied cache threshold adjustments by direction",
		}, []string{"direction"}),
		rewards: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "model_router_experiment_rewards_total",
			Help: "Recorded experiment reward samples",
		}, []string{"domain", "policy"}),
	}
}

func (s *PrometheusSink) RoutingDecision(strategy string, durationSeconds, estimatedCost float64) {
	s.decisions.WithLabelValues(strategy).Inc()
	s.decisionDuration.Observe(durationSeconds)
	s.estimatedCost.Observe(estimatedCost)
}

func (s *PrometheusSink) RoutingFallback() { s.fallbacks.Inc() }

func (s *PrometheusSink) RoutingFailure(kind string) { s.failures.WithLabelValues(kind).Inc() }

func (s *PrometheusSink) OutcomeObserved(model string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	s.outcomes.WithLabelValues(model, result).Inc()
}

func (s *PrometheusSink) CacheHit() { s.cacheHits.Inc() }

func (s *PrometheusSink) CacheMiss() { s.cacheMisses.Inc() }

func (s *PrometheusSink) CacheBackendError() { s.cacheErrors.Inc() }

func (s *PrometheusSink) ThresholdAdjusted(direction string) {
	s.adjustments.WithLabelValues(direction).Inc()
}

func (s *PrometheusSink) ExperimentReward(domain, policy string) {
	s.rewards.WithLabelValues(domain, policy).Inc()
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) RoutingDecision(string, float64, float64) {}
func (NopSink) RoutingFallback()                         {}
func (NopSink) RoutingFailure(string)                    {}
func (NopSink) OutcomeObserved(string, bool)             {}
func (NopSink) CacheHit()                                {}
func (NopSink) CacheMiss()                               {}
func (NopSink) CacheBackendError()                       {}
func (NopSink) ThresholdAdjusted(string)                 {}
func (NopSink) ExperimentReward(string, string)          {}

var _ Sink = NopSink{}
var _ Sink = (*PrometheusSink)(nil)

