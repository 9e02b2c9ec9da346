package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonwraymond/apikit/observe"
	"github.com/jonwraymond/apikit/storage"
)

// persistedEntry is the stored form of one entry. Loading and error
// state are never persisted.
type persistedEntry struct {
	Key         json.RawMessage `json:"key"`
	Value       json.RawMessage `json:"value"`
	FetchedAtMs int64           `json:"fetched_at_ms"`
}

func (r *Resource[K, V]) schedule() {
	if r.opts.store == nil {
		return
	}
	r.persist.Schedule()
}

func (r *Resource[K, V]) flushScheduled() {
	ctx := context.Background()
	if err := r.write(ctx); err != nil {
		r.opts.logger.Error(ctx, "persist cache snapshot", observe.F("error", err.Error()))
	}
}

// Flush writes the snapshot now and cancels the pending debounced write.
func (r *Resource[K, V]) Flush(ctx context.Context) error {
	if r.opts.store == nil {
		return nil
	}
	r.persist.Cancel()
	return r.write(ctx)
}

func (r *Resource[K, V]) write(ctx context.Context) error {
	if err := storage.ValidateName(r.opts.storeName); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStoreName, err)
	}
	data, err := r.snapshot()
	if err != nil {
		return err
	}
	if err := r.opts.store.Write(ctx, r.opts.storeName, string(data)); err != nil {
		return fmt.Errorf("cache: write snapshot: %w", err)
	}
	return nil
}

// snapshot encodes entries holding a valid value, least recently used
// first.
func (r *Resource[K, V]) snapshot() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]persistedEntry, 0, len(r.entries))
	for el := r.lru.Back(); el != nil; el = el.Prev() {
		s := r.entries[el.Value.(K)]
		if s == nil || !s.HasValue || s.Invalidated {
			continue
		}
		kb, err := json.Marshal(s.Key)
		if err != nil {
			return nil, fmt.Errorf("cache: encode key: %w", err)
		}
		vb, err := json.Marshal(s.Value)
		if err != nil {
			return nil, fmt.Errorf("cache: encode value: %w", err)
		}
		out = append(out, persistedEntry{Key: kb, Value: vb, FetchedAtMs: s.FetchedAt.UnixMilli()})
	}
	return json.Marshal(out)
}

// Load hydrates entries from storage. Entries already in memory with a
// newer value are kept. A missing snapshot is not an error.
func (r *Resource[K, V]) Load(ctx context.Context) error {
	if r.opts.store == nil {
		return nil
	}
	raw, ok, err := r.opts.store.Read(ctx, r.opts.storeName)
	if err != nil {
		return fmt.Errorf("cache: read snapshot: %w", err)
	}
	if !ok || raw == "" {
		return nil
	}

	var stored []persistedEntry
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	ttl := r.policy.EffectiveTTL(0)
	skipped := 0

	r.mu.Lock()
	for _, pe := range stored {
		var key K
		var val V
		if json.Unmarshal(pe.Key, &key) != nil || json.Unmarshal(pe.Value, &val) != nil {
			skipped++
			continue
		}
		fetchedAt := time.UnixMilli(pe.FetchedAtMs)
		if cur, ok := r.entries[key]; ok && cur.HasValue && !cur.FetchedAt.Before(fetchedAt) {
			continue
		}
		s := r.slotLocked(key)
		s.Value = val
		s.HasValue = true
		s.FetchedAt = fetchedAt
		s.ExpiresAt = fetchedAt.Add(ttl)
		s.Invalidated = false
	}
	r.evictLocked()
	r.mu.Unlock()

	if skipped > 0 {
		r.opts.logger.Warn(ctx, "skipped undecodable cache entries", observe.F("count", skipped))
	}
	return nil
}
