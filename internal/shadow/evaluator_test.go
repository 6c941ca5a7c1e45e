package shadow

import (
	"fmt"
	"math"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/model-router/internal/catalog"
	"github.com/tributary-ai/model-router/internal/types"
)

func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.ModelInfo{
		{Name: "cheap-model", Provider: "openai", InputCostPer1K: 0.0002, OutputCostPer1K: 0.0006, ExpectedLatencyMs: 600, QualityPrior: 0.7},
		{Name: "premium-model", Provider: "anthropic", InputCostPer1K: 0.003, OutputCostPer1K: 0.015, ExpectedLatencyMs: 1200, QualityPrior: 0.92},
		{Name: "weak-model", Provider: "openai", InputCostPer1K: 0.0001, OutputCostPer1K: 0.0002, ExpectedLatencyMs: 400, QualityPrior: 0.3},
	})
}

func newTestEvaluator(weights Weights, minQuality float64, historySize int) *Evaluator {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewEvaluator(testCatalog(), weights, minQuality, historySize, true, logger)
}

func TestEvaluator_WeightsNormalizeToOne(t *testing.T) {
	e := newTestEvaluator(Weights{Quality: 2, Cost: 1, Latency: 1}, 0, 16)

	w := e.Weights()
	sum := w.Quality + w.Cost + w.Latency
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("Weights should sum to 1, got %.6f", sum)
	}
	if math.Abs(w.Quality-0.5) > 1e-9 {
		t.Errorf("Quality weight should be 0.5, got %.3f", w.Quality)
	}

	// Mutation renormalizes atomically.
	e.SetWeights(Weights{Quality: 0, Cost: 0, Latency: 0})
	w = e.Weights()
	sum = w.Quality + w.Cost + w.Latency
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("Degenerate weights should fall back to uniform, sum %.6f", sum)
	}
}

func TestEvaluator_QualityFloorExcludesModels(t *testing.T) {
	e := newTestEvaluator(Weights{Quality: 0.1, Cost: 0.8, Latency: 0.1}, 0.5, 16)

	req := &types.RoutingRequest{ID: "r1", Prompt: "summarize this"}
	decision := &types.RoutingDecision{SelectedModel: "premium-model"}

	result := e.Evaluate(req, decision)
	if result == nil {
		t.Fatal("Expected a shadow result")
	}
	// weak-model is far cheaper but sits below the floor.
	if result.ShadowModel == "weak-model" {
		t.Error("Quality floor should exclude weak-model")
	}
}

func TestEvaluator_DisabledReturnsNil(t *testing.T) {
	e := newTestEvaluator(Weights{Quality: 1, Cost: 1, Latency: 1}, 0, 16)
	e.SetEnabled(false)

	req := &types.RoutingRequest{ID: "r1", Prompt: "hello"}
	if r := e.Evaluate(req, &types.RoutingDecision{SelectedModel: "cheap-model"}); r != nil {
		t.Error("Disabled evaluator must not produce results")
	}
	if e.Report().Evaluations != 0 {
		t.Error("Disabled evaluator must not record history")
	}
}

func TestEvaluator_ConfidenceBounded(t *testing.T) {
	e := newTestEvaluator(Weights{Quality: 1, Cost: 1, Latency: 1}, 0, 16)

	req := &types.RoutingRequest{ID: "r1", Prompt: "hello world"}
	result := e.Evaluate(req, &types.RoutingDecision{SelectedModel: "cheap-model"})
	if result == nil {
		t.Fatal("Expected a shadow result")
	}
	if result.Confidence < 0 || result.Confidence > 1 {
		t.Errorf("Confidence out of [0,1]: %.3f", result.Confidence)
	}
}

func TestEvaluator_HistoryRingEvictsOldest(t *testing.T) {
	e := newTestEvaluator(Weights{Quality: 1, Cost: 1, Latency: 1}, 0, 4)

	for i := 0; i < 10; i++ {
		req := &types.RoutingRequest{ID: fmt.Sprintf("req-%d", i), Prompt: "hello"}
		e.Evaluate(req, &types.RoutingDecision{SelectedModel: "cheap-model"})
	}

	report := e.Report()
	if report.Evaluations != 10 {
		t.Errorf("Expected 10 evaluations, got %d", report.Evaluations)
	}
	if report.HistoryLen != 4 {
		t.Errorf("Ring should cap at 4 entries, got %d", report.HistoryLen)
	}
	if len(report.RecentResults) != 4 {
		t.Fatalf("Expected 4 recent results, got %d", len(report.RecentResults))
	}
	// Oldest-first ordering: the surviving entries are req-6..req-9.
	if report.RecentResults[0].RequestID != "req-6" {
		t.Errorf("Expected oldest surviving entry req-6, got %s", report.RecentResults[0].RequestID)
	}
	if report.RecentResults[3].RequestID != "req-9" {
		t.Errorf("Expected newest entry req-9, got %s", report.RecentResults[3].RequestID)
	}
}

func TestEvaluator_TracksDisagreementSavings(t *testing.T) {
	// Pure cost weight: the shadow pick is the cheapest model, full stop.
	e := newTestEvaluator(Weights{Quality: 0, Cost: 1, Latency: 0}, 0, 16)

	req := &types.RoutingRequest{ID: "r1", Prompt: "a moderately sized prompt for cost estimation purposes"}
	result := e.Evaluate(req, &types.RoutingDecision{SelectedModel: "premium-model"})
	if result == nil {
		t.Fatal("Expected a shadow result")
	}
	if result.Agreed {
		t.Fatalf("Expected disagreement, shadow picked %s", result.ShadowModel)
	}

	report := e.Report()
	if report.Disagreements != 1 {
		t.Errorf("Expected 1 disagreement, got %d", report.Disagreements)
	}
	if report.PotentialSavings <= 0 {
		t.Errorf("Cheaper shadow pick should record savings, got %.6f", report.PotentialSavings)
	}
}

func TestEvaluator_Reset(t *testing.T) {
	e := newTestEvaluator(Weights{Quality: 1, Cost: 1, Latency: 1}, 0, 8)
	req := &types.RoutingRequest{ID: "r1", Prompt: "hello"}
	e.Evaluate(req, &types.RoutingDecision{SelectedModel: "cheap-model"})

	e.Reset()

	report := e.Report()
	if report.Evaluations != 0 || report.HistoryLen != 0 {
		t.Error("Reset should clear history and counters")
	}
}
