package routing

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/model-router/internal/catalog"
	"github.com/tributary-ai/model-router/internal/experiment"
	"github.com/tributary-ai/model-router/internal/metrics"
	"github.com/tributary-ai/model-router/internal/monitoring"
	"github.com/tributary-ai/model-router/internal/shadow"
	"github.com/tributary-ai/model-router/internal/types"
)

// Config carries the router's tunable knobs.
type Config struct {
	MinQuality    float64  `yaml:"min_quality" json:"min_quality"`
	FallbackChain []string `yaml:"fallback_chain" json:"fallback_chain"`
}

// Router is the unified routing entrypoint. It picks a strategy from the
// request's constraints, retries exactly once through the fallback strategy
// when the primary strategy fails, and memoizes decisions per request
// fingerprint.
type Router struct {
	catalog  *catalog.Catalog
	store    *metrics.Store
	shadow   *shadow.Evaluator
	sink     monitoring.Sink
	logger   *logrus.Logger
	fallback Strategy

	strategies map[string]Strategy

	// Decision-replay cache. No TTL: entries live until ClearCache, which
	// is the caller's invalidation hook.
	memoMu sync.RWMutex
	memo   map[string]types.RoutingDecision
}

// New wires the router. The shadow evaluator may be nil; the sink may not.
func New(cfg Config, cat *catalog.Catalog, store *metrics.Store, experiments *experiment.Manager, shadowEval *shadow.Evaluator, sink monitoring.Sink, logger *logrus.Logger) *Router {
	if sink == nil {
		sink = monitoring.NopSink{}
	}

	r := &Router{
		catalog:  cat,
		store:    store,
		shadow:   shadowEval,
		sink:     sink,
		logger:   logger,
		fallback: &fallbackStrategy{chain: cfg.FallbackChain, catalog: cat},
		memo:     make(map[string]types.RoutingDecision),
	}

	r.strategies = map[string]Strategy{
		StrategyBandit:    &banditStrategy{store: store, experiments: experiments, catalog: cat},
		StrategyCostAware: &costAwareStrategy{catalog: cat, store: store, minQuality: cfg.MinQuality},
		StrategyLatency:   &latencyStrategy{catalog: cat, store: store},
	}
	return r
}

// pick maps request constraints to a strategy. Cost wins over latency when
// both are set; everything else goes to the bandit.
func (r *Router) pick(req *types.RoutingRequest) Strategy {
	switch {
	case req.HasConstraint("minimize_cost"):
		return r.strategies[StrategyCostAware]
	case req.HasConstraint("minimize_latency"):
		return r.strategies[StrategyLatency]
	default:
		return r.strategies[StrategyBandit]
	}
}

// Route resolves a routing decision for the request. Invalid input fails
// fast; a strategy failure gets exactly one retry through the fallback
// strategy, and the resulting decision is tagged as such.
func (r *Router) Route(ctx context.Context, req *types.RoutingRequest) (*types.RoutingDecision, error) {
	if req == nil {
		return nil, types.NewInvalidInput("request cannot be nil")
	}
	if req.Prompt == "" {
		return nil, types.NewInvalidInput("prompt cannot be empty")
	}
	if len(req.Candidates) == 0 {
		req.Candidates = r.catalog.Names()
	}
	if len(req.Candidates) == 0 {
		return nil, types.NewInvalidInput("no candidate models available")
	}

	fingerprint := req.Fingerprint()
	if cached, ok := r.memoized(fingerprint); ok {
		return cached, nil
	}

	start := time.Now()
	strategy := r.pick(req)

	decision, err := strategy.Route(ctx, req)
	if err != nil {
		if types.IsKind(err, types.ErrInvalidInput) {
			r.sink.RoutingFailure(string(types.ErrInvalidInput))
			return nil, err
		}

		r.logger.WithFields(logrus.Fields{
			"request_id": req.ID,
			"strategy":   strategy.Name(),
			"error":      err.Error(),
		}).Warn("Strategy failed, retrying with fallback")
		r.sink.RoutingFallback()

		decision, err = r.fallback.Route(ctx, req)
		if err != nil {
			r.sink.RoutingFailure(string(types.ErrStrategyFailure))
			return nil, types.NewStrategyFailure("fallback strategy failed", err)
		}
		decision.Strategy = StrategyFallback
	}

	if decision.Strategy == "" {
		decision.Strategy = strategy.Name()
	}
	if decision.Provider == "" {
		if info, ok := r.catalog.Get(decision.SelectedModel); ok {
			decision.Provider = info.Provider
		}
	}

	r.memoize(fingerprint, decision)
	r.sink.RoutingDecision(decision.Strategy, time.Since(start).Seconds(), decision.EstimatedCost)

	if r.shadow != nil {
		r.shadow.Evaluate(req, decision)
	}

	r.logger.WithFields(logrus.Fields{
		"request_id":     req.ID,
		"selected_model": decision.SelectedModel,
		"provider":       decision.Provider,
		"strategy":       decision.Strategy,
		"confidence":     decision.Confidence,
		"estimated_cost": decision.EstimatedCost,
	}).Info("Routing decision made")

	return decision, nil
}

// ObserveOutcome feeds a completed request's outcome back into the metrics
// store and the monitoring sink.
func (r *Router) ObserveOutcome(outcome types.Outcome) error {
	if outcome.ModelID == "" {
		return types.NewInvalidInput("outcome model id cannot be empty")
	}
	r.store.Observe(outcome.ModelID, outcome.LatencyMs, outcome.Cost, outcome.Success, outcome.Quality)
	r.sink.OutcomeObserved(outcome.ModelID, outcome.Success)
	return nil
}

func (r *Router) memoized(fingerprint string) (*types.RoutingDecision, bool) {
	r.memoMu.RLock()
	decision, ok := r.memo[fingerprint]
	r.memoMu.RUnlock()
	if !ok {
		return nil, false
	}
	return &decision, true
}

func (r *Router) memoize(fingerprint string, d *types.RoutingDecision) {
	r.memoMu.Lock()
	defer r.memoMu.Unlock()
	r.memo[fingerprint] = *d
}

// ClearCache drops all memoized decisions. Called when the metrics landscape
// shifts enough that stale decisions would mislead.
func (r *Router) ClearCache() {
	r.memoMu.Lock()
	defer r.memoMu.Unlock()
	r.memo = make(map[string]types.RoutingDecision)
}
