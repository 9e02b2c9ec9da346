package cache

import (
	"container/list"
	"time"
)

// State is the observable condition of an entry.
type State int

const (
	// StateStale means the entry has no usable value: it was never
	// fetched, was invalidated, or its TTL elapsed.
	StateStale State = iota
	// StateFresh means the value is within its TTL.
	StateFresh
	// StateLoading means a fetch is in flight.
	StateLoading
	// StateError means the last fetch failed. A previous value may remain.
	StateError
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateLoading:
		return "loading"
	case StateError:
		return "error"
	default:
		return "stale"
	}
}

// Entry is a snapshot of one cached key.
type Entry[K comparable, V any] struct {
	Key         K
	Value       V
	HasValue    bool
	FetchedAt   time.Time
	ExpiresAt   time.Time // FetchedAt plus the TTL of the fetching call
	Loading     bool
	Invalidated bool
	Err         error // last fetch error, cleared by a successful fetch
	FailedAt    time.Time
}

// State reports the entry state at now.
func (e Entry[K, V]) State(now time.Time) State {
	switch {
	case e.Loading:
		return StateLoading
	case e.Err != nil:
		return StateError
	case !e.HasValue || e.Invalidated || !now.Before(e.ExpiresAt):
		return StateStale
	default:
		return StateFresh
	}
}

// slot is the mutable entry held by a Resource.
type slot[K comparable, V any] struct {
	Entry[K, V]
	elem *list.Element
	// invalidations counts Invalidate calls so a fetch can tell whether
	// one arrived while it ran.
	invalidations uint64
}

func (s *slot[K, V]) fresh(now time.Time, ttl time.Duration) bool {
	return s.HasValue && !s.Invalidated && now.Sub(s.FetchedAt) < ttl
}
