package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/apikit/observe"
	"github.com/jonwraymond/apikit/resilience"
	"github.com/jonwraymond/apikit/storage"
)

// DefaultStorageName is the storage name the credential is persisted under.
const DefaultStorageName = "credential"

// refreshKey is the fixed single-flight key for refreshes.
const refreshKey = "refresh"

// Store holds the current credential of one session.
//
// Contract:
// - Concurrency: safe for concurrent use. Readers never observe a partially
//   updated credential.
// - Refresh: at most one refresh runs at a time; concurrent callers share it.
// - Errors: Refresh never clears the credential.
type Store struct {
	storage     storage.Storage
	storageName string
	refresher   Refresher
	now         func() time.Time
	leeway      time.Duration
	refreshWait time.Duration
	logger      observe.Logger
	metrics     observe.Metrics

	hydrate sync.Once
	flight  singleflight.Group

	// writeMu serializes Set and Clear so the persisted copy follows the
	// order of in-memory updates.
	writeMu sync.Mutex

	mu      sync.RWMutex
	current *Credential
	version uint64
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStorageName sets the storage name. Default: "credential".
func WithStorageName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.storageName = name
		}
	}
}

// WithExpiryLeeway makes IsValid report false this long before the
// credential actually expires. Default: 0.
func WithExpiryLeeway(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.leeway = d
		}
	}
}

// WithRefreshWaitTimeout bounds how long a Refresh caller waits for the
// shared refresh. The refresh itself keeps running. Default: 0 (unbounded).
func WithRefreshWaitTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.refreshWait = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m observe.Metrics) Option {
	return func(s *Store) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewStore creates a Store persisting to st. A nil st keeps the
// credential in memory only. A nil refresher makes Refresh fail with
// ErrNoRefresher.
func NewStore(st storage.Storage, refresher Refresher, opts ...Option) *Store {
	if st == nil {
		st = storage.NewMemoryStorage()
	}
	s := &Store{
		storage:     st,
		storageName: DefaultStorageName,
		refresher:   refresher,
		now:         time.Now,
		logger:      observe.NopLogger(),
		metrics:     observe.NopMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the current credential. The first call on an empty store
// hydrates it from storage; later calls never read storage again.
func (s *Store) Get(ctx context.Context) (Credential, bool) {
	c, _, ok := s.snapshot(ctx)
	return c, ok
}

func (s *Store) load(ctx context.Context) {
	s.mu.RLock()
	present, version := s.current != nil, s.version
	s.mu.RUnlock()
	if present {
		return
	}

	raw, ok, err := s.storage.Read(ctx, s.storageName)
	if err != nil {
		s.logger.Warn(ctx, "credential hydration failed", observe.F("error", err))
		return
	}
	if !ok {
		return
	}
	c, err := decode(raw)
	if err != nil {
		s.logger.Warn(ctx, "discarding unreadable persisted credential", observe.F("error", err))
		return
	}

	s.mu.Lock()
	// A Set or Clear that raced with the read wins.
	if s.version == version {
		s.current = &c
	}
	s.mu.Unlock()
}

// Set replaces the credential and persists it. The in-memory value is
// updated even when persisting fails.
func (s *Store) Set(ctx context.Context, c Credential) error {
	if c.AccessToken == "" {
		return ErrMissingAccessToken
	}
	_, err := s.replace(ctx, c, nil)
	return err
}

// replace stores c. With a non-nil ifVersion it stores c only while no
// Set or Clear happened since that version was read, and reports whether
// it did.
func (s *Store) replace(ctx context.Context, c Credential, ifVersion *uint64) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if ifVersion != nil && s.version != *ifVersion {
		s.mu.Unlock()
		return false, nil
	}
	s.current = &c
	s.version++
	s.mu.Unlock()

	raw, err := encode(c)
	if err == nil {
		err = s.storage.Write(ctx, s.storageName, raw)
	}
	if err != nil {
		s.logger.Error(ctx, "credential persist failed", observe.F("error", err))
		return true, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return true, nil
}

// snapshot returns the current credential with the version it belongs to.
func (s *Store) snapshot(ctx context.Context) (Credential, uint64, bool) {
	s.hydrate.Do(func() { s.load(ctx) })

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Credential{}, s.version, false
	}
	return *s.current, s.version, true
}

// Clear removes the credential from memory and storage. Idempotent.
func (s *Store) Clear(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.current = nil
	s.version++
	s.mu.Unlock()

	if err := s.storage.Remove(ctx, s.storageName); err != nil {
		s.logger.Error(ctx, "credential remove failed", observe.F("error", err))
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// IsValid reports whether a credential is present and unexpired, treating
// it as expired the configured leeway early.
func (s *Store) IsValid(ctx context.Context) bool {
	c, ok := s.Get(ctx)
	if !ok {
		return false
	}
	return c.Valid(s.now().Add(s.leeway))
}

// Refresh obtains a new credential through the Refresher and stores it.
// Concurrent callers share one refresh. The refresh runs detached from the
// caller's cancellation; a caller that stops waiting gets ctx.Err() or
// ErrRefreshTimeout while the refresh completes for the others.
func (s *Store) Refresh(ctx context.Context) (Credential, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.flight.DoChan(refreshKey, func() (any, error) {
		return s.runRefresh(detached)
	})

	res, err := resilience.WaitWithTimeout(ctx, s.refreshWait, ch)
	if err != nil {
		if errors.Is(err, resilience.ErrTimeout) {
			return Credential{}, ErrRefreshTimeout
		}
		return Credential{}, err
	}
	if res.Err != nil {
		return Credential{}, res.Err
	}
	return res.Val.(Credential), nil
}

func (s *Store) runRefresh(ctx context.Context) (Credential, error) {
	if s.refresher == nil {
		return Credential{}, ErrNoRefresher
	}
	current, version, ok := s.snapshot(ctx)
	if !ok || current.RefreshToken == "" {
		return Credential{}, ErrNoRefreshToken
	}

	start := time.Now()
	next, err := s.refresher.Refresh(ctx, current)
	if err == nil && next.AccessToken == "" {
		err = ErrMissingAccessToken
	}
	s.metrics.RecordRefresh(ctx, time.Since(start), err)
	if err != nil {
		re := asRefreshError(err)
		s.logger.Warn(ctx, "credential refresh failed",
			observe.F("status", re.Status),
			observe.F("error", re.Err),
		)
		return Credential{}, re
	}

	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	stored, err := s.replace(ctx, next, &version)
	if err != nil && !errors.Is(err, ErrPersist) {
		return Credential{}, err
	}
	if !stored {
		// A Clear or Set during the refresh wins over its result.
		s.logger.Debug(ctx, "discarding refresh result superseded by a newer update")
		if c, ok := s.Get(ctx); ok {
			return c, nil
		}
		return Credential{}, ErrNoCredential
	}
	s.logger.Debug(ctx, "credential refreshed", observe.F("expires_at", next.ExpiresAt))
	return next, nil
}

// Claims decodes the claims of the current access token.
func (s *Store) Claims(ctx context.Context) (*Claims, error) {
	c, ok := s.Get(ctx)
	if !ok {
		return nil, ErrNoCredential
	}
	return InspectToken(c.AccessToken)
}
