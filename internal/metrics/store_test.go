package metrics

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/model-router/internal/types"
)

func newTestStore() *Store {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewStore(nil, logger)
}

func TestStore_ObserveCreatesUnknownModels(t *testing.T) {
	store := newTestStore()

	store.Observe("model-a", 500, 0.002, true, nil)

	m, ok := store.Get("model-a")
	if !ok {
		t.Fatal("model-a should exist after Observe")
	}
	if m.TotalRequests != 1 {
		t.Errorf("Expected 1 request, got %d", m.TotalRequests)
	}
	if m.AvgLatencyMs != 500 {
		t.Errorf("First sample should replace prior, got %.1f", m.AvgLatencyMs)
	}
}

func TestStore_ObserveConvergesToRepeatedSample(t *testing.T) {
	store := newTestStore()

	// Seed away from the target, then apply the same sample repeatedly. The
	// EMA with alpha=0.1 must close the gap by (1-alpha)^n.
	store.Observe("model-a", 2000, 0.01, true, nil)
	for i := 0; i < 50; i++ {
		store.Observe("model-a", 800, 0.002, true, nil)
	}

	m, _ := store.Get("model-a")
	bound := (2000.0 - 800.0) * math.Pow(1-alpha, 50)
	if math.Abs(m.AvgLatencyMs-800) > bound+1e-9 {
		t.Errorf("avg_latency_ms %.3f not within %.3f of 800", m.AvgLatencyMs, bound)
	}
}

func TestStore_MetricsStayBounded(t *testing.T) {
	store := newTestStore()

	q := 1.5 // out-of-range quality must be clamped
	store.Observe("model-a", -50, -1, true, &q)

	m, _ := store.Get("model-a")
	if m.AvgLatencyMs < 0 || m.AvgCost < 0 {
		t.Errorf("latency/cost must stay >= 0, got %.2f / %.4f", m.AvgLatencyMs, m.AvgCost)
	}
	if m.SuccessRate < 0 || m.SuccessRate > 1 {
		t.Errorf("success rate out of [0,1]: %.3f", m.SuccessRate)
	}
	if m.QualityScore < 0 || m.QualityScore > 1 {
		t.Errorf("quality score out of [0,1]: %.3f", m.QualityScore)
	}
}

func TestStore_SelectReturnsSuppliedCandidate(t *testing.T) {
	store := newTestStore()
	store.Observe("model-a", 400, 0.001, true, nil)
	store.Observe("model-b", 900, 0.004, true, nil)

	decision, err := store.Select("generation", []string{"model-a", "model-b"}, TargetBalanced)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	if decision.SelectedModel != "model-a" && decision.SelectedModel != "model-b" {
		t.Errorf("Selected model %s is not a supplied candidate", decision.SelectedModel)
	}
}

func TestStore_SelectSpeedPrefersLowerLatency(t *testing.T) {
	store := newTestStore()
	for i := 0; i < 10; i++ {
		store.Observe("model-a", 300, 0.002, true, nil)
		store.Observe("model-b", 1500, 0.002, true, nil)
	}

	decision, err := store.Select("fast", []string{"model-a", "model-b"}, TargetSpeed)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	if decision.SelectedModel != "model-a" {
		t.Errorf("Expected model-a (lower latency), got %s", decision.SelectedModel)
	}
	if decision.Confidence < 0.5 {
		t.Errorf("Expected confidence >= 0.5, got %.3f", decision.Confidence)
	}
	if !strings.Contains(decision.Reasoning, "speed") {
		t.Errorf("Reasoning should mention speed, got %q", decision.Reasoning)
	}
}

func TestStore_SelectNoDataFallsBackToFirstCandidate(t *testing.T) {
	store := newTestStore()

	decision, err := store.Select("analysis", []string{"model-x", "model-y"}, TargetQuality)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}

	if decision.SelectedModel != "model-x" {
		t.Errorf("Expected first candidate model-x, got %s", decision.SelectedModel)
	}
	if decision.Confidence != 0.5 {
		t.Errorf("No-data confidence should be 0.5, got %.2f", decision.Confidence)
	}
	if !strings.Contains(decision.Reasoning, "no performance data") {
		t.Errorf("Reasoning should say no data, got %q", decision.Reasoning)
	}
}

func TestStore_SelectEmptyCandidates(t *testing.T) {
	store := newTestStore()

	_, err := store.Select("generation", nil, TargetBalanced)
	if err == nil {
		t.Fatal("Expected error for empty candidate list")
	}
	if !types.IsKind(err, types.ErrInvalidInput) {
		t.Errorf("Expected invalid_input error, got %v", err)
	}
}

func TestStore_SelectSingleCandidateConfidence(t *testing.T) {
	store := newTestStore()
	store.Observe("model-a", 400, 0.001, true, nil)

	decision, err := store.Select("generation", []string{"model-a"}, TargetBalanced)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if decision.Confidence != 0.9 {
		t.Errorf("Single-candidate confidence should be 0.9, got %.2f", decision.Confidence)
	}
}

func TestStore_SelectAlternativesCapped(t *testing.T) {
	store := newTestStore()
	candidates := make([]string, 6)
	for i := range candidates {
		name := fmt.Sprintf("model-%d", i)
		candidates[i] = name
		store.Observe(name, float64(300+100*i), 0.002, true, nil)
	}

	decision, err := store.Select("generation", candidates, TargetSpeed)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(decision.Alternatives) > 3 {
		t.Errorf("Expected at most 3 alternatives, got %d", len(decision.Alternatives))
	}
}

func TestStore_ConcurrentObserve(t *testing.T) {
	store := newTestStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				store.Observe("model-a", 500, 0.002, true, nil)
			}
		}()
	}
	wg.Wait()

	m, _ := store.Get("model-a")
	if m.TotalRequests != 800 {
		t.Errorf("Expected 800 observations, got %d (lost updates)", m.TotalRequests)
	}
}

func TestStore_Reset(t *testing.T) {
	store := newTestStore()
	store.Observe("model-a", 500, 0.002, true, nil)

	store.Reset()

	if _, ok := store.Get("model-a"); ok {
		t.Error("Reset should drop all entries")
	}
}

func BenchmarkStore_Observe(b *testing.B) {
	store := newTestStore()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.Observe("model-a", 500, 0.002, true, nil)
	}
}

func BenchmarkStore_Select(b *testing.B) {
	store := newTestStore()
	candidates := []string{"model-a", "model-b", "model-c"}
	for _, c := range candidates {
		store.Observe(c, 500, 0.002, true, nil)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := store.Select("generation", candidates, TargetBalanced); err != nil {
			b.Fatalf("Select failed: %v", err)
		}
	}
}
