package cache

import "time"

// DefaultDebounceWindow is the delay between a mutation and the
// persisted write it schedules.
const DefaultDebounceWindow = 500 * time.Millisecond

// Policy configures caching behavior.
type Policy struct {
	// DefaultTTL is the TTL to use when none is specified.
	// If zero, every Get refetches.
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL. Override TTLs are clamped to this.
	// If zero, no maximum is enforced.
	MaxTTL time.Duration

	// DebounceWindow collapses mutations into one persisted write.
	// Zero means DefaultDebounceWindow.
	DebounceWindow time.Duration

	// MaxEntries bounds the number of entries. The least recently used
	// entry without a pending fetch is evicted first. Zero means unbounded.
	MaxEntries int
}

// DefaultPolicy returns the default caching policy.
// DefaultTTL: 5 minutes, MaxTTL: 1 hour, DebounceWindow: 500ms, unbounded.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL:     5 * time.Minute,
		MaxTTL:         1 * time.Hour,
		DebounceWindow: DefaultDebounceWindow,
	}
}

// NoCachePolicy returns a policy under which every Get refetches.
// Concurrent fetches of the same key are still coalesced.
func NoCachePolicy() Policy {
	return Policy{DebounceWindow: DefaultDebounceWindow}
}

// ShouldCache returns true if values are reused by default.
func (p Policy) ShouldCache() bool {
	return p.DefaultTTL > 0
}

// EffectiveTTL returns the TTL to use, applying defaults and clamping.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}

func (p Policy) debounceWindow() time.Duration {
	if p.DebounceWindow <= 0 {
		return DefaultDebounceWindow
	}
	return p.DebounceWindow
}
