package shadow

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/model-router/internal/catalog"
	"github.com/tributary-ai/model-router/internal/types"
)

const utilityEpsilon = 1e-6

// Weights are the utility weights for quality, cost-efficiency and
// latency-efficiency. They always sum to 1 after normalization.
type Weights struct {
	Quality float64 `json:"quality" yaml:"quality"`
	Cost    float64 `json:"cost" yaml:"cost"`
	Latency float64 `json:"latency" yaml:"latency"`
}

func (w Weights) normalized() Weights {
	sum := w.Quality + w.Cost + w.Latency
	if sum <= 0 {
		return Weights{Quality: 1.0 / 3, Cost: 1.0 / 3, Latency: 1.0 / 3}
	}
	return Weights{Quality: w.Quality / sum, Cost: w.Cost / sum, Latency: w.Latency / sum}
}

// Result is one shadow comparison report. Append-only analytics; it never
// feeds back into production routing.
type Result struct {
	RequestID       string    `json:"request_id"`
	ProductionModel string    `json:"production_model"`
	ShadowModel     string    `json:"shadow_model"`
	ProductionUtil  float64   `json:"production_utility"`
	ShadowUtil      float64   `json:"shadow_utility"`
	UtilityDelta    float64   `json:"utility_delta"`
	CostDelta       float64   `json:"cost_delta"`
	Confidence      float64   `json:"confidence"`
	Agreed          bool      `json:"agreed"`
	Timestamp       time.Time `json:"timestamp"`
}

// Report aggregates the rolling shadow history.
type Report struct {
	Enabled            bool     `json:"enabled"`
	Evaluations        int64    `json:"evaluations"`
	Disagreements      int64    `json:"disagreements"`
	PotentialSavings   float64  `json:"potential_cost_savings"`
	MeanUtilityDelta   float64  `json:"mean_utility_delta"`
	Weights            Weights  `json:"weights"`
	MinQuality         float64  `json:"min_quality"`
	RecentResults      []Result `json:"recent_results"`
	HistoryCapacity    int      `json:"history_capacity"`
	HistoryLen         int      `json:"history_len"`
	AgreementRate      float64  `json:"agreement_rate"`
	TotalUtilityDeltas float64  `json:"-"`
}

// Evaluator runs the what-if utility calculation against each production
// decision without altering it. History is a fixed-capacity ring; the oldest
// entry is evicted first.
type Evaluator struct {
	mu         sync.Mutex
	enabled    bool
	weights    Weights
	minQuality float64

	ring  []Result
	next  int
	count int64

	disagreements int64
	savingsSum    float64
	utilDeltaSum  float64

	catalog *catalog.Catalog
	logger  *logrus.Logger
}

// NewEvaluator creates a shadow evaluator over the model catalog. Weights are
// normalized at construction and after every mutation.
func NewEvaluator(cat *catalog.Catalog, weights Weights, minQuality float64, historySize int, enabled bool, logger *logrus.Logger) *Evaluator {
	if historySize <= 0 {
		historySize = 256
	}
	return &Evaluator{
		enabled:    enabled,
		weights:    weights.normalized(),
		minQuality: minQuality,
		ring:       make([]Result, 0, historySize),
		catalog:    cat,
		logger:     logger,
	}
}

// SetWeights replaces the utility weights. The update and the normalization
// happen under one lock so readers never observe a partially applied vector.
func (e *Evaluator) SetWeights(w Weights) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.weights = w.normalized()
}

// Weights returns the current normalized weight vector.
func (e *Evaluator) Weights() Weights {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.weights
}

// SetEnabled toggles shadow evaluation.
func (e *Evaluator) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
}

// utility scores one model: U = wq*q + wc*(1/(1+cost)) + wl*(1/(1+latency_s)).
func utility(w Weights, quality, cost, latencyMs float64) float64 {
	return w.Quality*quality +
		w.Cost*(1.0/(1.0+cost)) +
		w.Latency*(1.0/(1.0+latencyMs/1000.0))
}

// Evaluate computes the would-have-chosen alternative for a production
// decision and records the comparison. It returns nil when disabled or when
// no candidate clears the quality floor.
func (e *Evaluator) Evaluate(req *types.RoutingRequest, decision *types.RoutingDecision) *Result {
	e.mu.Lock()
	if !e.enabled {
		e.mu.Unlock()
		return nil
	}
	w := e.weights
	minQ := e.minQuality
	e.mu.Unlock()

	var (
		bestModel string
		bestUtil  = math.Inf(-1)
		bestCost  float64
		prodUtil  float64
		prodCost  float64
		prodSeen  bool
	)

	for _, info := range e.catalog.All() {
		if info.QualityPrior < minQ {
			continue
		}
		cost, err := e.catalog.EstimateCost(info.Name, req.Prompt)
		if err != nil {
			continue
		}
		u := utility(w, info.QualityPrior, cost, info.ExpectedLatencyMs)
		if info.Name == decision.SelectedModel {
			prodUtil = u
			prodCost = cost
			prodSeen = true
		}
		if u > bestUtil {
			bestUtil = u
			bestModel = info.Name
			bestCost = cost
		}
	}

	if bestModel == "" {
		return nil
	}
	if !prodSeen {
		// Production model missing from catalog or below the floor; compare
		// against the decision's own estimates.
		prodUtil = utility(w, 0, decision.EstimatedCost, decision.EstimatedLatency)
		prodCost = decision.EstimatedCost
	}

	delta := bestUtil - prodUtil
	result := Result{
		RequestID:       req.ID,
		ProductionModel: decision.SelectedModel,
		ShadowModel:     bestModel,
		ProductionUtil:  prodUtil,
		ShadowUtil:      bestUtil,
		UtilityDelta:    delta,
		CostDelta:       bestCost - prodCost,
		Confidence:      math.Min(1.0, math.Abs(delta)/math.Max(prodUtil, utilityEpsilon)),
		Agreed:          bestModel == decision.SelectedModel,
		Timestamp:       time.Now(),
	}

	e.record(result)
	return &result
}

func (e *Evaluator) record(r Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.ring) < cap(e.ring) {
		e.ring = append(e.ring, r)
	} else {
		e.ring[e.next] = r
		e.next = (e.next + 1) % cap(e.ring)
	}

	e.count++
	e.utilDeltaSum += r.UtilityDelta
	if !r.Agreed {
		e.disagreements++
		if r.CostDelta < 0 {
			e.savingsSum += -r.CostDelta
		}
	}

	if e.logger != nil && !r.Agreed {
		e.logger.WithFields(logrus.Fields{
			"production_model": r.ProductionModel,
			"shadow_model":     r.ShadowModel,
			"utility_delta":    r.UtilityDelta,
			"cost_delta":       r.CostDelta,
		}).Debug("Shadow evaluation disagreed with production decision")
	}
}

// Report returns the aggregate shadow statistics and the rolling history in
// oldest-first order.
func (e *Evaluator) Report() Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	recent := make([]Result, 0, len(e.ring))
	if len(e.ring) == cap(e.ring) {
		recent = append(recent, e.ring[e.next:]...)
		recent = append(recent, e.ring[:e.next]...)
	} else {
		recent = append(recent, e.ring...)
	}

	report := Report{
		Enabled:          e.enabled,
		Evaluations:      e.count,
		Disagreements:    e.disagreements,
		PotentialSavings: e.savingsSum,
		Weights:          e.weights,
		MinQuality:       e.minQuality,
		RecentResults:    recent,
		HistoryCapacity:  cap(e.ring),
		HistoryLen:       len(e.ring),
	}
	if e.count > 0 {
		report.MeanUtilityDelta = e.utilDeltaSum / float64(e.count)
		report.AgreementRate = 1.0 - float64(e.disagreements)/float64(e.count)
	}
	return report
}

// Reset clears history and counters. Test isolation hook.
func (e *Evaluator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ring = e.ring[:0]
	e.next = 0
	e.count = 0
	e.disagreements = 0
	e.savingsSum = 0
	e.utilDeltaSum = 0
}
