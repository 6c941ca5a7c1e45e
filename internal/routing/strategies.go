package routing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tributary-ai/model-router/internal/catalog"
	"github.com/tributary-ai/model-router/internal/experiment"
	"github.com/tributary-ai/model-router/internal/metrics"
	"github.com/tributary-ai/model-router/internal/types"
)

// Strategy names, surfaced in decisions and metric labels.
const (
	StrategyBandit    = "bandit"
	StrategyCostAware = "cost_aware"
	StrategyLatency   = "latency_optimized"
	StrategyFallback  = "fallback"
)

// Strategy produces a routing decision for a request, or an error the
// unified router recovers from with the fallback strategy.
type Strategy interface {
	Name() string
	Route(ctx context.Context, req *types.RoutingRequest) (*types.RoutingDecision, error)
}

// banditStrategy scores candidates on observed performance via the metrics
// store and defers to the experiment manager when an active experiment
// covers the request's task domain.
type banditStrategy struct {
	store       *metrics.Store
	experiments *experiment.Manager
	catalog     *catalog.Catalog
}

func (s *banditStrategy) Name() string { return StrategyBandit }

func (s *banditStrategy) Route(_ context.Context, req *types.RoutingRequest) (*types.RoutingDecision, error) {
	candidates := req.Candidates
	if len(candidates) == 0 {
		return nil, types.NewInvalidInput("no candidate models supplied")
	}

	if s.experiments != nil {
		if model, policy, ok := s.experiments.SelectModel(req.TaskType, req.Context, candidates); ok {
			decision := &types.RoutingDecision{
				SelectedModel: model,
				Confidence:    0.75,
				Reasoning:     fmt.Sprintf("active experiment policy %q selected %s for domain %q", policy, model, req.TaskType),
				Timestamp:     time.Now(),
			}
			s.fillEstimates(decision, req.Prompt)
			return decision, nil
		}
	}

	target := metrics.TargetBalanced
	if t, ok := req.Constraints["optimization_target"]; ok {
		target = metrics.OptimizationTarget(t)
	}

	decision, err := s.store.Select(req.TaskType, candidates, target)
	if err != nil {
		return nil, err
	}
	s.fillEstimates(decision, req.Prompt)
	return decision, nil
}

func (s *banditStrategy) fillEstimates(d *types.RoutingDecision, prompt string) {
	info, ok := s.catalog.Get(d.SelectedModel)
	if !ok {
		return
	}
	d.Provider = info.Provider
	if d.EstimatedLatency == 0 {
		d.EstimatedLatency = info.ExpectedLatencyMs
	}
	if cost, err := s.catalog.EstimateCost(d.SelectedModel, prompt); err == nil {
		d.EstimatedCost = cost
	}
}

// costAwareStrategy minimizes estimated request cost subject to a
// minimum-quality floor.
type costAwareStrategy struct {
	catalog    *catalog.Catalog
	store      *metrics.Store
	minQuality float64
}

func (s *costAwareStrategy) Name() string { return StrategyCostAware }

func (s *costAwareStrategy) Route(_ context.Context, req *types.RoutingRequest) (*types.RoutingDecision, error) {
	if len(req.Candidates) == 0 {
		return nil, types.NewInvalidInput("no candidate models supplied")
	}

	var (
		best     string
		bestInfo catalog.ModelInfo
		bestCost = math.Inf(1)
		skipped  int
	)
	for _, name := range req.Candidates {
		info, ok := s.catalog.Get(name)
		if !ok {
			continue
		}
		if s.quality(name, info) < s.minQuality {
			skipped++
			continue
		}
		cost, err := s.catalog.EstimateCost(name, req.Prompt)
		if err != nil {
			continue
		}
		if cost < bestCost {
			bestCost = cost
			best = name
			bestInfo = info
		}
	}

	if best == "" {
		return nil, types.NewStrategyFailure(
			fmt.Sprintf("no candidate meets quality floor %.2f (%d below floor)", s.minQuality, skipped), nil)
	}

	return &types.RoutingDecision{
		SelectedModel:    best,
		Provider:         bestInfo.Provider,
		EstimatedCost:    bestCost,
		EstimatedLatency: bestInfo.ExpectedLatencyMs,
		Confidence:       0.85,
		Reasoning:        fmt.Sprintf("lowest estimated cost $%.6f above quality floor %.2f", bestCost, s.minQuality),
		Timestamp:        time.Now(),
	}, nil
}

// quality prefers the observed quality score when the model has real
// traffic, falling back to the catalog prior.
func (s *costAwareStrategy) quality(name string, info catalog.ModelInfo) float64 {
	if m, ok := s.store.Get(name); ok && m.TotalRequests > 0 {
		return m.QualityScore
	}
	return info.QualityPrior
}

// latencyStrategy minimizes expected latency, preferring observed averages
// over catalog priors.
type latencyStrategy struct {
	catalog *catalog.Catalog
	store   *metrics.Store
}

func (s *latencyStrategy) Name() string { return StrategyLatency }

func (s *latencyStrategy) Route(_ context.Context, req *types.RoutingRequest) (*types.RoutingDecision, error) {
	if len(req.Candidates) == 0 {
		return nil, types.NewInvalidInput("no candidate models supplied")
	}

	var (
		best        string
		bestInfo    catalog.ModelInfo
		bestLatency = math.Inf(1)
	)
	for _, name := range req.Candidates {
		info, ok := s.catalog.Get(name)
		if !ok {
			continue
		}
		latency := info.ExpectedLatencyMs
		if m, ok := s.store.Get(name); ok && m.TotalRequests > 0 {
			latency = m.AvgLatencyMs
		}
		if latency < bestLatency {
			bestLatency = latency
			best = name
			bestInfo = info
		}
	}

	if best == "" {
		return nil, types.NewStrategyFailure("no candidate present in model catalog", nil)
	}

	decision := &types.RoutingDecision{
		SelectedModel:    best,
		Provider:         bestInfo.Provider,
		EstimatedLatency: bestLatency,
		Confidence:       0.85,
		Reasoning:        fmt.Sprintf("lowest expected latency %.0fms among %d candidates", bestLatency, len(req.Candidates)),
		Timestamp:        time.Now(),
	}
	if cost, err := s.catalog.EstimateCost(best, req.Prompt); err == nil {
		decision.EstimatedCost = cost
	}
	return decision, nil
}

// fallbackStrategy walks a fixed ordered chain and returns the first model
// the catalog knows about. Last resort only.
type fallbackStrategy struct {
	chain   []string
	catalog *catalog.Catalog
}

func (s *fallbackStrategy) Name() string { return StrategyFallback }

func (s *fallbackStrategy) Route(_ context.Context, req *types.RoutingRequest) (*types.RoutingDecision, error) {
	chain := s.chain
	if len(chain) == 0 {
		chain = req.Candidates
	}

	for _, name := range chain {
		info, ok := s.catalog.Get(name)
		if !ok {
			continue
		}
		decision := &types.RoutingDecision{
			SelectedModel:    name,
			Provider:         info.Provider,
			EstimatedLatency: info.ExpectedLatencyMs,
			Confidence:       0.5,
			Reasoning:        fmt.Sprintf("fallback chain selected %s", name),
			Strategy:         StrategyFallback,
			Timestamp:        time.Now(),
		}
		if cost, err := s.catalog.EstimateCost(name, req.Prompt); err == nil {
			decision.EstimatedCost = cost
		}
		return decision, nil
	}

	return nil, types.NewStrategyFailure("fallback chain exhausted, no reachable model", nil)
}
