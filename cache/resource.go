package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonwraymond/apikit/observe"
	"github.com/jonwraymond/apikit/storage"
)

// FetchFunc loads the value of one key.
type FetchFunc[V any] func(ctx context.Context) (V, error)

// Option configures a Resource.
type Option func(*options)

type options struct {
	name      string
	store     storage.Storage
	storeName string
	logger    observe.Logger
	metrics   observe.Metrics
	now       func() time.Time
}

// WithName sets the resource name used in metrics and logs.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithStorage persists entries to st under name.
func WithStorage(st storage.Storage, name string) Option {
	return func(o *options) {
		o.store = st
		o.storeName = name
	}
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics records hits, misses, joined waits and fetch failures.
func WithMetrics(m observe.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// call is one in-flight fetch.
type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Resource is a keyed cache of fetched values.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Single-flight: at most one fetch runs per key; concurrent Gets of
//     the key share its outcome.
//   - Context: a caller whose context ends stops waiting; the fetch runs on
//     and its outcome is stored.
//   - Errors: a failed fetch keeps the previous value and FetchedAt.
type Resource[K comparable, V any] struct {
	policy Policy
	opts   options

	mu      sync.Mutex
	entries map[K]*slot[K, V]
	lru     *list.List // front is most recently used
	calls   map[K]*call[V]
	gen     uint64 // bumped by Clear; stale fetches do not store
	closed  bool

	persist *debouncer
}

// NewResource creates a Resource.
func NewResource[K comparable, V any](policy Policy, opts ...Option) *Resource[K, V] {
	o := options{
		logger:  observe.NopLogger(),
		metrics: observe.NopMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store != nil && o.storeName == "" {
		o.storeName = "cache"
		if o.name != "" {
			o.storeName = "cache:" + o.name
		}
	}
	o.logger = o.logger.With(observe.F("resource", o.name))

	r := &Resource[K, V]{
		policy:  policy,
		opts:    o,
		entries: make(map[K]*slot[K, V]),
		lru:     list.New(),
		calls:   make(map[K]*call[V]),
	}
	r.persist = newDebouncer(policy.debounceWindow(), r.flushScheduled)
	return r
}

// Name returns the resource name.
func (r *Resource[K, V]) Name() string { return r.opts.name }

// Get returns the cached value of key when it is fresh, joins a pending
// fetch of key, or starts fetch. ttl <= 0 uses the policy default.
func (r *Resource[K, V]) Get(ctx context.Context, key K, fetch FetchFunc[V], ttl time.Duration) (V, error) {
	var zero V
	if fetch == nil {
		return zero, ErrNilFetch
	}
	ttl = r.policy.EffectiveTTL(ttl)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return zero, ErrClosed
	}
	if c, ok := r.calls[key]; ok {
		r.mu.Unlock()
		r.record(ctx, observe.CacheJoin)
		return r.wait(ctx, c)
	}
	if s, ok := r.entries[key]; ok && s.fresh(r.opts.now(), ttl) {
		r.lru.MoveToFront(s.elem)
		v := s.Value
		r.mu.Unlock()
		r.record(ctx, observe.CacheHit)
		return v, nil
	}

	c := &call[V]{done: make(chan struct{})}
	r.calls[key] = c
	var seen uint64
	if s, ok := r.entries[key]; ok {
		// A new load supersedes the previous failure.
		s.Err = nil
		s.FailedAt = time.Time{}
		seen = s.invalidations
	}
	gen := r.gen
	r.mu.Unlock()

	r.record(ctx, observe.CacheMiss)
	go r.run(context.WithoutCancel(ctx), key, c, fetchState{gen: gen, invalidations: seen}, fetch, ttl)
	return r.wait(ctx, c)
}

// GetStale is like Get but when the fetch fails and a previous value
// exists it returns that value with stale set, alongside the error.
func (r *Resource[K, V]) GetStale(ctx context.Context, key K, fetch FetchFunc[V], ttl time.Duration) (v V, stale bool, err error) {
	v, err = r.Get(ctx, key, fetch, ttl)
	if err == nil {
		return v, false, nil
	}
	if e, ok := r.Peek(key); ok && e.HasValue {
		return e.Value, true, err
	}
	return v, false, err
}

func (r *Resource[K, V]) wait(ctx context.Context, c *call[V]) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// fetchState is what a fetch saw of its resource and slot when it started.
type fetchState struct {
	gen           uint64
	invalidations uint64
}

func (r *Resource[K, V]) run(ctx context.Context, key K, c *call[V], st fetchState, fetch FetchFunc[V], ttl time.Duration) {
	v, err := safeFetch(ctx, fetch)

	r.mu.Lock()
	delete(r.calls, key)
	stored := st.gen == r.gen && !r.closed
	if stored {
		now := r.opts.now()
		s := r.slotLocked(key)
		if err == nil {
			s.Value = v
			s.HasValue = true
			s.FetchedAt = now
			s.ExpiresAt = now.Add(ttl)
			s.Invalidated = s.invalidations != st.invalidations
			s.Err = nil
			s.FailedAt = time.Time{}
		} else {
			s.Err = err
			s.FailedAt = now
		}
		r.evictLocked()
	}
	c.val, c.err = v, err
	r.mu.Unlock()
	close(c.done)

	if err != nil {
		r.record(ctx, observe.CacheFailure)
		r.opts.logger.Warn(ctx, "fetch failed", observe.F("key", fmt.Sprint(key)), observe.F("error", err.Error()))
		return
	}
	if stored {
		r.schedule()
	}
}

func safeFetch[V any](ctx context.Context, fetch FetchFunc[V]) (v V, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrFetchPanic, p)
		}
	}()
	return fetch(ctx)
}

// slotLocked returns the slot for key, creating it as most recently used.
func (r *Resource[K, V]) slotLocked(key K) *slot[K, V] {
	if s, ok := r.entries[key]; ok {
		r.lru.MoveToFront(s.elem)
		return s
	}
	s := &slot[K, V]{Entry: Entry[K, V]{Key: key}}
	s.elem = r.lru.PushFront(key)
	r.entries[key] = s
	return s
}

func (r *Resource[K, V]) removeLocked(key K) {
	if s, ok := r.entries[key]; ok {
		r.lru.Remove(s.elem)
		delete(r.entries, key)
	}
}

// evictLocked drops least recently used entries without a pending fetch
// until the policy bound holds.
func (r *Resource[K, V]) evictLocked() {
	if r.policy.MaxEntries <= 0 {
		return
	}
	for el := r.lru.Back(); el != nil && len(r.entries) > r.policy.MaxEntries; {
		prev := el.Prev()
		key := el.Value.(K)
		if _, loading := r.calls[key]; !loading {
			r.removeLocked(key)
		}
		el = prev
	}
}

// Peek returns a snapshot of key without fetching.
func (r *Resource[K, V]) Peek(key K) (Entry[K, V], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, loading := r.calls[key]
	s, ok := r.entries[key]
	if !ok {
		if loading {
			return Entry[K, V]{Key: key, Loading: true}, true
		}
		return Entry[K, V]{}, false
	}
	e := s.Entry
	e.Loading = loading
	return e, true
}

// Len returns the number of entries.
func (r *Resource[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Invalidate marks key so that the next Get refetches. The value stays
// visible through Peek until then.
func (r *Resource[K, V]) Invalidate(key K) {
	r.mu.Lock()
	s, ok := r.entries[key]
	if ok {
		s.Invalidated = true
		s.invalidations++
	}
	r.mu.Unlock()
	if ok {
		r.schedule()
	}
}

// Clear drops every entry, cancels the pending write and removes the
// persisted snapshot. Fetches in flight still answer their callers but
// are not stored.
func (r *Resource[K, V]) Clear(ctx context.Context) error {
	r.mu.Lock()
	r.entries = make(map[K]*slot[K, V])
	r.lru.Init()
	r.gen++
	r.mu.Unlock()

	r.persist.Cancel()
	if r.opts.store == nil {
		return nil
	}
	if err := r.opts.store.Remove(ctx, r.opts.storeName); err != nil {
		return fmt.Errorf("cache: remove snapshot: %w", err)
	}
	return nil
}

// Close flushes pending state and stops the debounce timer. Get returns
// ErrClosed afterwards.
func (r *Resource[K, V]) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	err := r.Flush(ctx)

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.persist.Cancel()
	return err
}

func (r *Resource[K, V]) record(ctx context.Context, outcome observe.CacheOutcome) {
	r.opts.metrics.RecordCache(ctx, r.opts.name, outcome)
}
