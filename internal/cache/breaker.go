package cache

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
)

// breakerBackend wraps an external backend in a circuit breaker so a dead
// Redis or locked SQLite file fails fast instead of stalling every lookup.
type breakerBackend struct {
	inner Backend
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerBackend wraps a backend with circuit-breaking. The breaker opens
// after 5 consecutive failures and probes again after 30 seconds.
func NewBreakerBackend(inner Backend) Backend {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "cache-backend",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &breakerBackend{inner: inner, cb: cb}
}

func (b *breakerBackend) Get(ctx context.Context, key string) (Entry, bool, error) {
	type result struct {
		entry Entry
		found bool
	}
	out, err := b.cb.Execute(func() (interface{}, error) {
		entry, found, err := b.inner.Get(ctx, key)
		return result{entry: entry, found: found}, err
	})
	if err != nil {
		return Entry{}, false, err
	}
	r := out.(result)
	return r.entry, r.found, nil
}

func (b *breakerBackend) Set(ctx context.Context, entry Entry) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Set(ctx, entry)
	})
	return err
}

func (b *breakerBackend) Entries(ctx context.Context, model string) ([]Entry, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Entries(ctx, model)
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return out.([]Entry), nil
}

func (b *breakerBackend) Delete(ctx context.Context, key string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Delete(ctx, key)
	})
	return err
}

func (b *breakerBackend) Close() error { return b.inner.Close() }
