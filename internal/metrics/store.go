package metrics

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/model-router/internal/catalog"
	"github.com/tributary-ai/model-router/internal/types"
)

// alpha is the EMA smoothing factor. A design constant, not a tunable.
const alpha = 0.1

// ModelPerformanceMetrics holds the running exponentially-weighted statistics
// for one model. SuccessRate and QualityScore stay in [0,1]; latency and cost
// stay >= 0.
type ModelPerformanceMetrics struct {
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	AvgCost       float64   `json:"avg_cost"`
	SuccessRate   float64   `json:"success_rate"`
	QualityScore  float64   `json:"quality_score"`
	TotalRequests int64     `json:"total_requests"`
	LastUpdated   time.Time `json:"last_updated"`
}

type modelEntry struct {
	mu sync.Mutex
	m  ModelPerformanceMetrics
}

// Store tracks per-model performance. Entries are locked individually so
// concurrent observations for unrelated models never contend.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*modelEntry
	catalog *catalog.Catalog
	logger  *logrus.Logger
}

// NewStore creates a metrics store. The catalog supplies priors for models
// observed for the first time; it may be nil.
func NewStore(cat *catalog.Catalog, logger *logrus.Logger) *Store {
	return &Store{
		entries: make(map[string]*modelEntry),
		catalog: cat,
		logger:  logger,
	}
}

// entry returns the entry for a model, creating it with priors on first use.
func (s *Store) entry(model string) *modelEntry {
	s.mu.RLock()
	e, ok := s.entries[model]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[model]; ok {
		return e
	}

	e = &modelEntry{m: s.priors(model)}
	s.entries[model] = e
	return e
}

func (s *Store) priors(model string) ModelPerformanceMetrics {
	m := ModelPerformanceMetrics{
		AvgLatencyMs: 1000,
		SuccessRate:  1.0,
		QualityScore: 0.7,
	}
	if s.catalog != nil {
		if info, ok := s.catalog.Get(model); ok {
			if info.ExpectedLatencyMs > 0 {
				m.AvgLatencyMs = info.ExpectedLatencyMs
			}
			if info.QualityPrior > 0 {
				m.QualityScore = info.QualityPrior
			}
			m.AvgCost = info.InputCostPer1K
		}
	}
	return m
}

// Observe folds one outcome into the model's running statistics. Unknown
// models are created on the fly; there is no error path.
func (s *Store) Observe(model string, latencyMs, cost float64, success bool, quality *float64) {
	if latencyMs < 0 {
		latencyMs = 0
	}
	if cost < 0 {
		cost = 0
	}

	e := s.entry(model)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.m.TotalRequests == 0 {
		// First real sample replaces the prior outright so a cold model
		// converges immediately instead of dragging the prior along.
		e.m.AvgLatencyMs = latencyMs
		e.m.AvgCost = cost
	} else {
		e.m.AvgLatencyMs = (1-alpha)*e.m.AvgLatencyMs + alpha*latencyMs
		e.m.AvgCost = (1-alpha)*e.m.AvgCost + alpha*cost
	}

	successSample := 0.0
	if success {
		successSample = 1.0
	}
	e.m.SuccessRate = clamp01((1-alpha)*e.m.SuccessRate + alpha*successSample)

	if quality != nil {
		e.m.QualityScore = clamp01((1-alpha)*e.m.QualityScore + alpha*clamp01(*quality))
	}

	e.m.TotalRequests++
	e.m.LastUpdated = time.Now()
}

// Get returns a copy of the metrics for a model.
func (s *Store) Get(model string) (ModelPerformanceMetrics, bool) {
	s.mu.RLock()
	e, ok := s.entries[model]
	s.mu.RUnlock()
	if !ok {
		return ModelPerformanceMetrics{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.m, true
}

// Snapshot returns a copy of all model metrics.
func (s *Store) Snapshot() map[string]ModelPerformanceMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ModelPerformanceMetrics, len(s.entries))
	for name, e := range s.entries {
		e.mu.Lock()
		out[name] = e.m
		e.mu.Unlock()
	}
	return out
}

// Reset drops all tracked metrics. Test isolation hook.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*modelEntry)
}

// OptimizationTarget selects the scoring weight vector.
type OptimizationTarget string

const (
	TargetSpeed    OptimizationTarget = "speed"
	TargetCost     OptimizationTarget = "cost"
	TargetQuality  OptimizationTarget = "quality"
	TargetBalanced OptimizationTarget = "balanced"
)

type weights struct {
	speed, cost, quality, reliability float64
}

func targetWeights(target OptimizationTarget) weights {
	switch target {
	case TargetSpeed:
		return weights{speed: 0.50, cost: 0.20, quality: 0.15, reliability: 0.15}
	case TargetCost:
		return weights{speed: 0.20, cost: 0.50, quality: 0.15, reliability: 0.15}
	case TargetQuality:
		return weights{speed: 0.15, cost: 0.15, quality: 0.50, reliability: 0.20}
	default:
		return weights{speed: 0.25, cost: 0.25, quality: 0.25, reliability: 0.25}
	}
}

// taskMultipliers biases scoring per task type before renormalization.
var taskMultipliers = map[string]weights{
	"analysis":   {speed: 1.0, cost: 1.0, quality: 1.5, reliability: 1.2},
	"fast":       {speed: 1.5, cost: 1.0, quality: 0.8, reliability: 1.0},
	"realtime":   {speed: 1.5, cost: 0.8, quality: 0.8, reliability: 1.2},
	"bulk":       {speed: 0.8, cost: 1.5, quality: 0.9, reliability: 1.0},
	"generation": {speed: 1.0, cost: 1.0, quality: 1.2, reliability: 1.0},
}

func effectiveWeights(target OptimizationTarget, taskType string) weights {
	w := targetWeights(target)
	if mult, ok := taskMultipliers[taskType]; ok {
		w.speed *= mult.speed
		w.cost *= mult.cost
		w.quality *= mult.quality
		w.reliability *= mult.reliability
	}
	sum := w.speed + w.cost + w.quality + w.reliability
	if sum > 0 {
		w.speed /= sum
		w.cost /= sum
		w.quality /= sum
		w.reliability /= sum
	}
	return w
}

type scored struct {
	model string
	score float64
	m     ModelPerformanceMetrics
}

// Select picks the best candidate for a task under the given optimization
// target. Candidates without observed metrics are skipped; if none have
// metrics the first supplied candidate is returned with low confidence.
// Fails only on an empty candidate list.
func (s *Store) Select(taskType string, candidates []string, target OptimizationTarget) (*types.RoutingDecision, error) {
	if len(candidates) == 0 {
		return nil, types.NewInvalidInput("no candidate models supplied")
	}

	w := effectiveWeights(target, taskType)

	var ranked []scored
	for _, name := range candidates {
		m, ok := s.Get(name)
		if !ok || m.TotalRequests == 0 {
			continue
		}
		score := w.speed*speedScore(m.AvgLatencyMs) +
			w.cost*costScore(m.AvgCost) +
			w.quality*m.QualityScore +
			w.reliability*m.SuccessRate
		ranked = append(ranked, scored{model: name, score: score, m: m})
	}

	now := time.Now()

	if len(ranked) == 0 {
		return &types.RoutingDecision{
			SelectedModel: candidates[0],
			Confidence:    0.5,
			Reasoning:     fmt.Sprintf("no performance data for any candidate, defaulting to %s", candidates[0]),
			Timestamp:     now,
		}, nil
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	top := ranked[0]

	confidence := 0.9
	if len(ranked) > 1 {
		confidence = math.Min(0.95, 0.5+(top.score-ranked[1].score)/2)
	}

	var alternatives []string
	for _, r := range ranked[1:] {
		alternatives = append(alternatives, r.model)
		if len(alternatives) == 3 {
			break
		}
	}

	decision := &types.RoutingDecision{
		SelectedModel:    top.model,
		EstimatedCost:    top.m.AvgCost,
		EstimatedLatency: top.m.AvgLatencyMs,
		Confidence:       confidence,
		Reasoning: fmt.Sprintf("best weighted score %.3f for %s optimization (task %q, %d candidates scored)",
			top.score, target, taskType, len(ranked)),
		Alternatives: alternatives,
		Timestamp:    now,
	}

	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"model":      top.model,
			"score":      top.score,
			"target":     string(target),
			"task_type":  taskType,
			"confidence": confidence,
		}).Debug("Model selected by performance score")
	}

	return decision, nil
}

// speedScore maps average latency to (0,1], higher is faster.
func speedScore(latencyMs float64) float64 {
	return 1000.0 / (1000.0 + latencyMs)
}

// costScore maps average per-request cost to (0,1], higher is cheaper. The
// 100x factor spreads typical sub-cent LLM costs across the useful range.
func costScore(cost float64) float64 {
	return 1.0 / (1.0 + cost*100.0)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
