package cache

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/model-router/internal/monitoring"
)

// Threshold optimizer actions.
const (
	ActionIncrease     = "increase_threshold"
	ActionDecrease     = "decrease_threshold"
	ActionMaintain     = "maintain_threshold"
	ActionInsufficient = "insufficient_data"
)

// Confidence bars a proposal must clear before being applied. Forced runs are
// held to a higher bar because they bypass the periodic cadence.
const (
	periodicConfidenceBar = 0.5
	forcedConfidenceBar   = 0.7
)

// Config tunes the adaptive cache. Zero values are replaced with defaults at
// construction.
type Config struct {
	MinThreshold             float64       `yaml:"min_threshold" json:"min_threshold"`
	MaxThreshold             float64       `yaml:"max_threshold" json:"max_threshold"`
	InitialThreshold         float64       `yaml:"initial_threshold" json:"initial_threshold"`
	Step                     float64       `yaml:"step" json:"step"`
	WindowSize               int           `yaml:"window_size" json:"window_size"`
	EvaluationWindow         int64         `yaml:"evaluation_window" json:"evaluation_window"`
	MinRequestsForAdjustment int           `yaml:"min_requests_for_adjustment" json:"min_requests_for_adjustment"`
	DeclineTolerance         float64       `yaml:"decline_tolerance" json:"decline_tolerance"`
	TargetHitRate            float64       `yaml:"target_hit_rate" json:"target_hit_rate"`
	CostSavingsTarget        float64       `yaml:"cost_savings_target" json:"cost_savings_target"`
	TTL                      time.Duration `yaml:"ttl" json:"ttl"`
}

func (c *Config) setDefaults() {
	if c.MinThreshold <= 0 {
		c.MinThreshold = 0.75
	}
	if c.MaxThreshold <= 0 {
		c.MaxThreshold = 0.99
	}
	if c.InitialThreshold <= 0 {
		c.InitialThreshold = 0.90
	}
	if c.Step <= 0 {
		c.Step = 0.02
	}
	if c.WindowSize <= 0 {
		c.WindowSize = 200
	}
	if c.EvaluationWindow <= 0 {
		c.EvaluationWindow = 50
	}
	if c.MinRequestsForAdjustment <= 0 {
		c.MinRequestsForAdjustment = 20
	}
	if c.DeclineTolerance <= 0 {
		c.DeclineTolerance = 0.10
	}
	if c.TargetHitRate <= 0 {
		c.TargetHitRate = 0.40
	}
	if c.TTL <= 0 {
		c.TTL = 24 * time.Hour
	}
}

type lookupRecord struct {
	key string
	hit bool
	ts  time.Time
}

// Proposal is the outcome of one optimizer run.
type Proposal struct {
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	Applied    bool    `json:"applied"`
	Threshold  float64 `json:"threshold"`
}

// Stats is a read-time snapshot of cache performance.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	BackendErrors int64   `json:"backend_errors"`
	HitRate       float64 `json:"hit_rate"`
	Threshold     float64 `json:"threshold"`
	CostSaved     float64 `json:"cost_saved"`
	LatencySaved  float64 `json:"latency_saved_ms"`
	Adjustments   int64   `json:"threshold_adjustments"`
	WindowLen     int     `json:"window_len"`
}

// AdaptiveCache wraps a storage backend with semantic matching and a
// self-tuning acceptance threshold. Backend failures never reach callers;
// they degrade to misses and no-op writes.
type AdaptiveCache struct {
	backend  Backend
	embedder Embedder
	sink     monitoring.Sink
	logger   *logrus.Logger
	cfg      Config

	mu        sync.Mutex
	threshold float64
	window    []lookupRecord
	next      int

	lookups       int64
	hits          int64
	misses        int64
	backendErrors int64
	costSaved     float64
	latencySaved  float64
	adjustments   int64

	optimizing atomic.Bool
}

// NewAdaptiveCache builds the cache around a backend and an embedder.
func NewAdaptiveCache(cfg Config, backend Backend, embedder Embedder, sink monitoring.Sink, logger *logrus.Logger) *AdaptiveCache {
	cfg.setDefaults()
	if sink == nil {
		sink = monitoring.NopSink{}
	}
	return &AdaptiveCache{
		backend:   backend,
		embedder:  embedder,
		sink:      sink,
		logger:    logger,
		cfg:       cfg,
		threshold: clamp(cfg.InitialThreshold, cfg.MinThreshold, cfg.MaxThreshold),
		window:    make([]lookupRecord, 0, cfg.WindowSize),
	}
}

// Threshold returns the current acceptance threshold.
func (c *AdaptiveCache) Threshold() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.threshold
}

// Lookup returns a cached answer for the prompt, matching first on the exact
// key and then on embedding similarity against the threshold. Backend or
// embedder failures return a miss.
func (c *AdaptiveCache) Lookup(ctx context.Context, model, prompt string) (*Entry, bool) {
	key := Key(model, prompt)

	entry, found, err := c.backend.Get(ctx, key)
	if err != nil {
		c.backendError("get", err)
		return nil, false
	}
	if found {
		c.recordHit(key, entry)
		return &entry, true
	}

	vector, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		c.backendError("embed", err)
		return nil, false
	}

	candidates, err := c.backend.Entries(ctx, model)
	if err != nil {
		c.backendError("scan", err)
		return nil, false
	}

	threshold := c.Threshold()
	var (
		best    Entry
		bestSim = -1.0
	)
	for _, candidate := range candidates {
		if sim := cosineSimilarity(vector, candidate.Embedding); sim > bestSim {
			bestSim = sim
			best = candidate
		}
	}

	if bestSim >= threshold {
		c.recordHit(key, best)
		return &best, true
	}

	c.recordMiss(key)
	return nil, false
}

// Store writes an answer into the backend. Failures are swallowed: a cache
// write is always best-effort.
func (c *AdaptiveCache) Store(ctx context.Context, model, prompt, response string, cost, latencyMs float64) {
	vector, err := c.embedder.Embed(ctx, prompt)
	if err != nil {
		c.backendError("embed", err)
		return
	}

	now := time.Now()
	entry := Entry{
		Key:       Key(model, prompt),
		Model:     model,
		Prompt:    prompt,
		Response:  response,
		Embedding: vector,
		Cost:      cost,
		LatencyMs: latencyMs,
		CreatedAt: now,
		ExpiresAt: now.Add(c.cfg.TTL),
	}
	if err := c.backend.Set(ctx, entry); err != nil {
		c.backendError("set", err)
	}
}

// Delete removes the exact entry for a (model, prompt) pair.
func (c *AdaptiveCache) Delete(ctx context.Context, model, prompt string) {
	if err := c.backend.Delete(ctx, Key(model, prompt)); err != nil {
		c.backendError("delete", err)
	}
}

func (c *AdaptiveCache) recordHit(key string, entry Entry) {
	c.sink.CacheHit()
	c.mu.Lock()
	c.hits++
	c.costSaved += entry.Cost
	c.latencySaved += entry.LatencyMs
	due := c.record(key, true)
	c.mu.Unlock()
	if due {
		c.Optimize(false)
	}
}

func (c *AdaptiveCache) recordMiss(key string) {
	c.sink.CacheMiss()
	c.mu.Lock()
	c.misses++
	due := c.record(key, false)
	c.mu.Unlock()
	if due {
		c.Optimize(false)
	}
}

// record appends to the sliding window and reports whether an optimizer run
// is due. Caller holds c.mu.
func (c *AdaptiveCache) record(key string, hit bool) bool {
	r := lookupRecord{key: key, hit: hit, ts: time.Now()}
	if len(c.window) < cap(c.window) {
		c.window = append(c.window, r)
	} else {
		c.window[c.next] = r
		c.next = (c.next + 1) % cap(c.window)
	}
	c.lookups++
	return c.lookups%c.cfg.EvaluationWindow == 0
}

func (c *AdaptiveCache) backendError(op string, err error) {
	c.sink.CacheBackendError()
	c.mu.Lock()
	c.backendErrors++
	c.mu.Unlock()
	if c.logger != nil {
		c.logger.WithFields(logrus.Fields{
			"op":    op,
			"error": err.Error(),
		}).Warn("Cache backend error degraded to miss")
	}
}

// Optimize runs one threshold-optimization pass. Single-flight: a run that
// finds another in progress returns immediately with a maintain proposal.
// Forced runs are held to the higher confidence bar.
func (c *AdaptiveCache) Optimize(forced bool) Proposal {
	if !c.optimizing.CompareAndSwap(false, true) {
		return Proposal{Action: ActionMaintain, Threshold: c.Threshold()}
	}
	defer c.optimizing.Store(false)

	c.mu.Lock()
	defer c.mu.Unlock()

	proposal := c.propose()

	bar := periodicConfidenceBar
	if forced {
		bar = forcedConfidenceBar
	}

	if proposal.Confidence >= bar {
		before := c.threshold
		switch proposal.Action {
		case ActionIncrease:
			c.threshold = clamp(c.threshold+c.cfg.Step, c.cfg.MinThreshold, c.cfg.MaxThreshold)
		case ActionDecrease:
			c.threshold = clamp(c.threshold-c.cfg.Step, c.cfg.MinThreshold, c.cfg.MaxThreshold)
		}
		if c.threshold != before {
			proposal.Applied = true
			c.adjustments++
			direction := "increase"
			if c.threshold < before {
				direction = "decrease"
			}
			c.sink.ThresholdAdjusted(direction)
			if c.logger != nil {
				c.logger.WithFields(logrus.Fields{
					"action":     proposal.Action,
					"confidence": proposal.Confidence,
					"from":       before,
					"to":         c.threshold,
				}).Info("Cache threshold adjusted")
			}
		}
	}

	proposal.Threshold = c.threshold
	return proposal
}

// propose derives the adjustment recommendation from the sliding window.
// Caller holds c.mu.
func (c *AdaptiveCache) propose() Proposal {
	n := len(c.window)
	if n < c.cfg.MinRequestsForAdjustment {
		return Proposal{Action: ActionInsufficient}
	}

	ordered := c.orderedWindow()
	hits := 0
	for _, r := range ordered {
		if r.hit {
			hits++
		}
	}
	hitRate := float64(hits) / float64(n)

	half := n / 2
	olderRate := windowHitRate(ordered[:half])
	recentRate := windowHitRate(ordered[half:])
	gap := olderRate - recentRate

	switch {
	case hits == 0:
		// All misses: tighten matching, never loosen it into garbage hits.
		return Proposal{Action: ActionIncrease, Confidence: 0.6}
	case gap > c.cfg.DeclineTolerance:
		return Proposal{Action: ActionIncrease, Confidence: math.Min(1, 0.5+gap)}
	case hitRate > c.cfg.TargetHitRate && c.costSaved >= c.cfg.CostSavingsTarget:
		return Proposal{Action: ActionDecrease, Confidence: math.Min(1, 0.5+(hitRate-c.cfg.TargetHitRate))}
	default:
		return Proposal{Action: ActionMaintain, Confidence: 0.5}
	}
}

// orderedWindow returns the ring contents oldest first. Caller holds c.mu.
func (c *AdaptiveCache) orderedWindow() []lookupRecord {
	if len(c.window) < cap(c.window) {
		return c.window
	}
	ordered := make([]lookupRecord, 0, len(c.window))
	ordered = append(ordered, c.window[c.next:]...)
	ordered = append(ordered, c.window[:c.next]...)
	return ordered
}

func windowHitRate(records []lookupRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	hits := 0
	for _, r := range records {
		if r.hit {
			hits++
		}
	}
	return float64(hits) / float64(len(records))
}

// Stats snapshots the cache counters.
func (c *AdaptiveCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		BackendErrors: c.backendErrors,
		Threshold:     c.threshold,
		CostSaved:     c.costSaved,
		LatencySaved:  c.latencySaved,
		Adjustments:   c.adjustments,
		WindowLen:     len(c.window),
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Reset clears counters and the sliding window, restoring the initial
// threshold. Test isolation hook.
func (c *AdaptiveCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.threshold = clamp(c.cfg.InitialThreshold, c.cfg.MinThreshold, c.cfg.MaxThreshold)
	c.window = c.window[:0]
	c.next = 0
	c.lookups = 0
	c.hits = 0
	c.misses = 0
	c.backendErrors = 0
	c.costSaved = 0
	c.latencySaved = 0
	c.adjustments = 0
}

// Close releases the backend.
func (c *AdaptiveCache) Close() error { return c.backend.Close() }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
