package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/model-router/internal/monitoring"
)

func testConfig() Config {
	return Config{
		MinThreshold:             0.75,
		MaxThreshold:             0.99,
		InitialThreshold:         0.90,
		Step:                     0.02,
		WindowSize:               32,
		EvaluationWindow:         1000, // explicit Optimize calls only
		MinRequestsForAdjustment: 4,
		DeclineTolerance:         0.10,
		TargetHitRate:            0.40,
		TTL:                      time.Hour,
	}
}

func newTestCache(cfg Config) *AdaptiveCache {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return NewAdaptiveCache(cfg, NewMemoryBackend(), NewHashEmbedder(), monitoring.NopSink{}, logger)
}

func TestAdaptiveCache_ExactKeyHit(t *testing.T) {
	c := newTestCache(testConfig())
	ctx := context.Background()

	c.Store(ctx, "gpt-4o", "what is the capital of france", "Paris.", 0.002, 800)

	entry, hit := c.Lookup(ctx, "gpt-4o", "what is the capital of france")
	if !hit {
		t.Fatal("Expected exact-key hit")
	}
	if entry.Response != "Paris." {
		t.Errorf("Unexpected response %q", entry.Response)
	}

	stats := c.Stats()
	if stats.Hits != 1 {
		t.Errorf("Expected 1 hit, got %d", stats.Hits)
	}
	if stats.CostSaved != 0.002 {
		t.Errorf("Hit should accumulate saved cost, got %.4f", stats.CostSaved)
	}
}

func TestAdaptiveCache_SemanticHitAndModelIsolation(t *testing.T) {
	c := newTestCache(testConfig())
	ctx := context.Background()

	c.Store(ctx, "gpt-4o", "alpha beta gamma delta", "answer", 0.001, 500)

	// Same vocabulary, different order: identical bag-of-words vector.
	if _, hit := c.Lookup(ctx, "gpt-4o", "delta gamma beta alpha"); !hit {
		t.Error("Reordered prompt should match semantically")
	}

	// Different model namespace must not match.
	if _, hit := c.Lookup(ctx, "claude-haiku", "alpha beta gamma delta"); hit {
		t.Error("Entries must be isolated per model")
	}

	// Unrelated vocabulary misses.
	if _, hit := c.Lookup(ctx, "gpt-4o", "completely unrelated question here"); hit {
		t.Error("Dissimilar prompt should miss")
	}
}

func TestAdaptiveCache_AllMissWindowNeverDecreases(t *testing.T) {
	c := newTestCache(testConfig())
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		c.Lookup(ctx, "gpt-4o", "unique prompt number "+string(rune('a'+i)))
	}

	before := c.Threshold()
	proposal := c.Optimize(false)
	if proposal.Action == ActionDecrease {
		t.Errorf("All-miss trend must never propose a decrease, got %s", proposal.Action)
	}
	if c.Threshold() < before {
		t.Errorf("Threshold decreased from %.2f to %.2f under all-miss trend", before, c.Threshold())
	}
}

func TestAdaptiveCache_IncreaseIdempotentAtMax(t *testing.T) {
	cfg := testConfig()
	cfg.InitialThreshold = cfg.MaxThreshold
	c := newTestCache(cfg)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		c.Lookup(ctx, "gpt-4o", "unique prompt number "+string(rune('a'+i)))
	}

	proposal := c.Optimize(false)
	if proposal.Applied {
		t.Error("Increase at MaxThreshold must be a no-op")
	}
	if c.Threshold() != cfg.MaxThreshold {
		t.Errorf("Threshold moved off the boundary: %.3f", c.Threshold())
	}
	if c.Stats().Adjustments != 0 {
		t.Error("Boundary no-op must not count as an adjustment")
	}
}

func TestAdaptiveCache_HighHitRateDecreasesThreshold(t *testing.T) {
	c := newTestCache(testConfig())
	ctx := context.Background()

	c.Store(ctx, "gpt-4o", "repeated prompt", "answer", 0.001, 500)
	for i := 0; i < 8; i++ {
		if _, hit := c.Lookup(ctx, "gpt-4o", "repeated prompt"); !hit {
			t.Fatal("Setup lookup should hit")
		}
	}

	before := c.Threshold()
	proposal := c.Optimize(true)
	if proposal.Action != ActionDecrease {
		t.Fatalf("Sustained high hit rate should propose decrease, got %s", proposal.Action)
	}
	if !proposal.Applied || c.Threshold() >= before {
		t.Errorf("Decrease should apply: %.3f -> %.3f", before, c.Threshold())
	}
	if c.Stats().Adjustments != 1 {
		t.Errorf("Expected 1 recorded adjustment, got %d", c.Stats().Adjustments)
	}
}

func TestAdaptiveCache_InsufficientDataProposesNothing(t *testing.T) {
	c := newTestCache(testConfig())
	ctx := context.Background()

	c.Lookup(ctx, "gpt-4o", "only one sample")

	proposal := c.Optimize(true)
	if proposal.Action != ActionInsufficient {
		t.Errorf("Expected insufficient data, got %s", proposal.Action)
	}
	if proposal.Applied {
		t.Error("Insufficient data must never adjust the threshold")
	}
}

type failingBackend struct{}

func (failingBackend) Get(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, errors.New("backend down")
}
func (failingBackend) Set(context.Context, Entry) error { return errors.New("backend down") }
func (failingBackend) Entries(context.Context, string) ([]Entry, error) {
	return nil, errors.New("backend down")
}
func (failingBackend) Delete(context.Context, string) error { return errors.New("backend down") }
func (failingBackend) Close() error                         { return nil }

func TestAdaptiveCache_BackendErrorsDegradeToMiss(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	c := NewAdaptiveCache(testConfig(), failingBackend{}, NewHashEmbedder(), monitoring.NopSink{}, logger)
	ctx := context.Background()

	if _, hit := c.Lookup(ctx, "gpt-4o", "hello"); hit {
		t.Error("Backend failure must degrade to a miss")
	}
	c.Store(ctx, "gpt-4o", "hello", "answer", 0.001, 500)

	stats := c.Stats()
	if stats.BackendErrors != 2 {
		t.Errorf("Expected 2 backend errors (get + set), got %d", stats.BackendErrors)
	}
	if stats.Misses != 0 {
		t.Errorf("Backend errors are counted apart from ordinary misses, got %d misses", stats.Misses)
	}
}

func TestAdaptiveCache_Reset(t *testing.T) {
	c := newTestCache(testConfig())
	ctx := context.Background()

	c.Store(ctx, "gpt-4o", "prompt", "answer", 0.001, 500)
	c.Lookup(ctx, "gpt-4o", "prompt")
	c.Reset()

	stats := c.Stats()
	if stats.Hits != 0 || stats.Misses != 0 || stats.WindowLen != 0 {
		t.Error("Reset should clear all counters and the window")
	}
	if stats.Threshold != 0.90 {
		t.Errorf("Reset should restore the initial threshold, got %.2f", stats.Threshold)
	}
}

func TestMemoryBackend_TTLExpiry(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	entry := Entry{
		Key:       Key("gpt-4o", "prompt"),
		Model:     "gpt-4o",
		Prompt:    "prompt",
		Response:  "answer",
		CreatedAt: time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	if err := b.Set(ctx, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, found, _ := b.Get(ctx, entry.Key); found {
		t.Error("Expired entry must not be returned")
	}
	entries, _ := b.Entries(ctx, "gpt-4o")
	if len(entries) != 0 {
		t.Error("Expired entries must not be scanned")
	}
}

func TestKey_Deterministic(t *testing.T) {
	if Key("gpt-4o", "hello") != Key("gpt-4o", "hello") {
		t.Error("Key must be deterministic")
	}
	if Key("gpt-4o", "hello") == Key("gpt-4o-mini", "hello") {
		t.Error("Key must vary with model")
	}
	if Key("gpt-4o", "hello") == Key("gpt-4o", "hello!") {
		t.Error("Key must vary with prompt")
	}
}

func TestHashEmbedder_DeterministicUnitVectors(t *testing.T) {
	e := NewHashEmbedder()
	ctx := context.Background()

	a, _ := e.Embed(ctx, "the quick brown fox")
	b, _ := e.Embed(ctx, "the quick brown fox")
	if cosineSimilarity(a, b) < 0.999 {
		t.Error("Same text must embed identically")
	}

	c, _ := e.Embed(ctx, "entirely different words altogether")
	if sim := cosineSimilarity(a, c); sim > 0.9 {
		t.Errorf("Unrelated texts should not be near-identical, similarity %.3f", sim)
	}
}
