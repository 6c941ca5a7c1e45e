package cache

import (
	"context"
	"sync"
	"time"
)

// memoryBackend is the deterministic in-process backend used for tests and
// as the fallback when no external store is configured.
type memoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() Backend {
	return &memoryBackend{entries: make(map[string]Entry)}
}

func (b *memoryBackend) Get(_ context.Context, key string) (Entry, bool, error) {
	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok || entry.Expired(time.Now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (b *memoryBackend) Set(_ context.Context, entry Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[entry.Key] = entry
	return nil
}

func (b *memoryBackend) Entries(_ context.Context, model string) ([]Entry, error) {
	now := time.Now()
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Entry
	for _, entry := range b.entries {
		if entry.Model != model || entry.Expired(now) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (b *memoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries, key)
	return nil
}

func (b *memoryBackend) Close() error { return nil }
