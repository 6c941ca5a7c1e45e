package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Entry is one cached answer together with the embedding used for semantic
// matching and the cost/latency the original call spent.
type Entry struct {
	Key       string    `json:"key"`
	Model     string    `json:"model"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	Embedding []float32 `json:"embedding"`
	Cost      float64   `json:"cost"`
	LatencyMs float64   `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry's TTL has passed. A zero ExpiresAt means
// the entry never expires.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Backend is the storage capability behind the adaptive cache. Implementations
// must be safe for concurrent use. Errors propagate to the adaptive layer,
// which degrades them to misses and no-op writes.
type Backend interface {
	// Get returns the entry stored under an exact key.
	Get(ctx context.Context, key string) (Entry, bool, error)
	// Set stores an entry under its key, replacing any previous value.
	Set(ctx context.Context, entry Entry) error
	// Entries returns all live entries for a model namespace, for
	// similarity scanning.
	Entries(ctx context.Context, model string) ([]Entry, error)
	// Delete removes an entry. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases backend resources.
	Close() error
}

// Key derives the deterministic exact-match cache key for a prompt routed to
// a model.
func Key(model, prompt string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}
