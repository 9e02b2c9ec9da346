// Package session wires storage, credentials, the request pipeline,
// resource caches and telemetry into one client session.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/jonwraymond/apikit/apiclient"
	"github.com/jonwraymond/apikit/cache"
	"github.com/jonwraymond/apikit/config"
	"github.com/jonwraymond/apikit/credential"
	"github.com/jonwraymond/apikit/health"
	"github.com/jonwraymond/apikit/observe"
	"github.com/jonwraymond/apikit/resilience"
	"github.com/jonwraymond/apikit/secret"
	"github.com/jonwraymond/apikit/storage"
)

// ErrNoTokenEndpoint is returned by Login when no password grant is
// configured.
var ErrNoTokenEndpoint = errors.New("session: no password grant configured")

// PasswordGranter obtains a credential from user credentials.
// *credential.OAuth2Refresher implements it.
type PasswordGranter interface {
	PasswordGrant(ctx context.Context, username, password string) (credential.Credential, error)
}

// Option configures Open.
type Option func(*options)

type options struct {
	transport      apiclient.Transport
	httpClient     apiclient.HTTPDoer
	executor       *resilience.Executor
	refresher      credential.Refresher
	store          storage.Storage
	observer       observe.Observer
	resolver       *secret.Resolver
	logWriter      io.Writer
	onUnauthorized func(ctx context.Context)
}

// WithTransport replaces the HTTP transport.
func WithTransport(t apiclient.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithHTTPClient sets the client used by the HTTP transport.
func WithHTTPClient(c apiclient.HTTPDoer) Option {
	return func(o *options) { o.httpClient = c }
}

// WithExecutor guards every transport attempt with exec.
func WithExecutor(exec *resilience.Executor) Option {
	return func(o *options) { o.executor = exec }
}

// WithRefresher replaces the OAuth2 refresher built from the config. If
// r also implements PasswordGranter it serves Login.
func WithRefresher(r credential.Refresher) Option {
	return func(o *options) { o.refresher = r }
}

// WithStorage replaces the backend selected by the config. The caller
// keeps ownership of st.
func WithStorage(st storage.Storage) Option {
	return func(o *options) { o.store = st }
}

// WithObserver replaces the observer built from the config. The caller
// keeps ownership of obs.
func WithObserver(obs observe.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithSecretResolver replaces the default env and file resolver.
func WithSecretResolver(r *secret.Resolver) Option {
	return func(o *options) { o.resolver = r }
}

// WithLogWriter directs log output to w.
func WithLogWriter(w io.Writer) Option {
	return func(o *options) { o.logWriter = w }
}

// WithUnauthorizedHook is called after a forced logout.
func WithUnauthorizedHook(fn func(ctx context.Context)) Option {
	return func(o *options) { o.onUnauthorized = fn }
}

// Session is one authenticated API session.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Ownership: Close releases the storage and observer Open created.
type Session struct {
	cfg     config.Config
	obs     observe.Observer
	ownsObs bool
	logger  observe.Logger
	metrics observe.Metrics

	store     storage.Storage
	ownsStore bool
	creds     *credential.Store
	granter   PasswordGranter
	client    *apiclient.Client
	executor  *resilience.Executor
	onUnauth  func(ctx context.Context)

	mu        sync.Mutex
	resources []resource
	closed    bool
}

// resource is the type-erased view of a *cache.Resource.
type resource interface {
	Name() string
	Clear(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open resolves secrets, validates cfg and builds a session.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (_ *Session, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.resolver == nil {
		o.resolver = secret.NewDefaultResolver()
	}
	if err := cfg.ResolveSecrets(ctx, o.resolver); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Session{cfg: cfg, onUnauth: o.onUnauthorized}
	defer func() {
		if err != nil {
			_ = s.release(context.WithoutCancel(ctx))
		}
	}()

	if err := s.openObserver(ctx, o); err != nil {
		return nil, err
	}
	if err := s.openStorage(ctx, o); err != nil {
		return nil, err
	}
	s.openCredentials(o)
	s.openClient(o)

	s.logger.Info(ctx, "session opened",
		observe.F("base_url", cfg.BaseURL),
		observe.F("storage", cfg.Storage),
	)
	return s, nil
}

func (s *Session) openObserver(ctx context.Context, o options) error {
	if o.observer != nil {
		s.obs = o.observer
	} else {
		obsCfg := s.cfg.Observe()
		obsCfg.Logging.Writer = o.logWriter
		obs, err := observe.NewObserver(ctx, obsCfg)
		if err != nil {
			return fmt.Errorf("session: observer: %w", err)
		}
		s.obs = obs
		s.ownsObs = true
	}
	s.logger = s.obs.Logger()

	metrics, err := observe.NewMetrics(s.obs.Meter())
	if err != nil {
		return fmt.Errorf("session: metrics: %w", err)
	}
	s.metrics = metrics
	return nil
}

func (s *Session) openStorage(ctx context.Context, o options) error {
	if o.store != nil {
		s.store = o.store
		return nil
	}
	st, err := OpenStorage(ctx, s.cfg)
	if err != nil {
		return err
	}
	s.store = st
	s.ownsStore = true
	return nil
}

// OpenStorage opens the backend selected by cfg.Storage.
func OpenStorage(ctx context.Context, cfg config.Config) (storage.Storage, error) {
	switch cfg.Storage {
	case config.StorageMemory, "":
		return storage.NewMemoryStorage(), nil
	case config.StorageFile:
		return storage.NewFileStorage(cfg.StoragePath)
	case config.StorageSQLite:
		return storage.OpenSQLite(ctx, cfg.StoragePath)
	case config.StorageRedis:
		return storage.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, storage.RedisConfig{
			Prefix: cfg.RedisPrefix,
			TTL:    cfg.RedisTTL,
		})
	default:
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownStore, cfg.Storage)
	}
}

func (s *Session) openCredentials(o options) {
	refresher := o.refresher
	if refresher == nil && s.cfg.TokenURL != "" {
		oauthCfg := s.cfg.OAuth2()
		oauthCfg.Timeout = s.cfg.Timeout
		if hc, ok := o.httpClient.(*http.Client); ok {
			oauthCfg.HTTPClient = hc
		}
		refresher = credential.NewOAuth2Refresher(oauthCfg)
	}
	if g, ok := refresher.(PasswordGranter); ok {
		s.granter = g
	}

	s.creds = credential.NewStore(s.store, refresher,
		credential.WithExpiryLeeway(s.cfg.ExpiryLeeway),
		credential.WithRefreshWaitTimeout(s.cfg.RefreshWait),
		credential.WithLogger(s.logger.With(observe.F("component", "credential"))),
		credential.WithMetrics(s.metrics),
	)
}

func (s *Session) openClient(o options) {
	transport := o.transport
	if transport == nil {
		transport = apiclient.NewHTTPTransport(apiclient.HTTPConfig{
			Client:  o.httpClient,
			Timeout: s.cfg.Timeout,
		})
	}
	if o.executor != nil {
		s.executor = o.executor
		transport = apiclient.GuardTransport(transport, o.executor)
	}
	mw := observe.NewMiddleware(observe.NewTracer(s.obs.Tracer()), s.metrics, s.logger)
	transport = apiclient.ObserveTransport(transport, mw)

	headers := http.Header{}
	for k, v := range s.cfg.DefaultHeaders {
		headers.Set(k, v)
	}

	clientOpts := []apiclient.Option{
		apiclient.WithBaseURL(s.cfg.BaseURL),
		apiclient.WithDefaultHeaders(headers),
		apiclient.WithAutoRefresh(s.cfg.AutoRefresh),
		apiclient.WithDedupeReads(s.cfg.Dedupe),
		apiclient.WithUnauthorizedHook(s.forceLogout),
		apiclient.WithLogger(s.logger.With(observe.F("component", "apiclient"))),
		apiclient.WithMetrics(s.metrics),
	}
	if s.cfg.RequestIDs {
		clientOpts = append(clientOpts, apiclient.WithRequestIDs())
	}
	s.client = apiclient.New(transport, s.creds, clientOpts...)
}

// Config returns the resolved configuration.
func (s *Session) Config() config.Config { return s.cfg }

// Client returns the request pipeline.
func (s *Session) Client() *apiclient.Client { return s.client }

// Credentials returns the credential store.
func (s *Session) Credentials() *credential.Store { return s.creds }

// Storage returns the storage backend.
func (s *Session) Storage() storage.Storage { return s.store }

// Logger returns the session logger.
func (s *Session) Logger() observe.Logger { return s.logger }

// Health probes the storage backend, the credential and, when an
// executor with a circuit breaker guards the transport, its state.
func (s *Session) Health(ctx context.Context) (health.Status, map[string]health.Result) {
	agg := health.NewAggregator(health.AggregatorConfig{Timeout: s.cfg.Timeout})
	agg.Register(health.StorageCheck(s.store))
	agg.Register(health.CredentialCheck(s.creds))
	if s.executor != nil && s.executor.CircuitBreaker() != nil {
		agg.Register(health.CircuitCheck(s.executor.CircuitBreaker()))
	}
	results := agg.CheckAll(ctx)
	return health.OverallStatus(results), results
}

// Login exchanges user credentials for a credential and stores it.
func (s *Session) Login(ctx context.Context, username, password string) error {
	if s.granter == nil {
		return ErrNoTokenEndpoint
	}
	cred, err := s.granter.PasswordGrant(ctx, username, password)
	if err != nil {
		return fmt.Errorf("session: login: %w", err)
	}
	if err := s.creds.Set(ctx, cred); err != nil {
		return fmt.Errorf("session: login: %w", err)
	}
	s.logger.Info(ctx, "logged in", observe.F("user", username))
	return nil
}

// Logout clears the credential and every resource cache of the session.
func (s *Session) Logout(ctx context.Context) error {
	errs := []error{s.creds.Clear(ctx)}
	for _, r := range s.snapshotResources() {
		if err := r.Clear(ctx); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", r.Name(), err))
		}
	}
	s.logger.Info(ctx, "logged out")
	return errors.Join(errs...)
}

// forceLogout runs when a request stays unauthorized after a refresh.
func (s *Session) forceLogout(ctx context.Context) {
	s.logger.Warn(ctx, "credential rejected, logging out")
	if err := s.creds.Clear(ctx); err != nil {
		s.logger.Error(ctx, "clear credential", observe.F("error", err.Error()))
	}
	if s.onUnauth != nil {
		s.onUnauth(ctx)
	}
}

// NewResource creates a resource cache that persists through the
// session storage under "cache:<name>" and hydrates from it.
func NewResource[K comparable, V any](s *Session, name string) *cache.Resource[K, V] {
	r := cache.NewResource[K, V](s.cfg.CachePolicy(),
		cache.WithName(name),
		cache.WithStorage(s.store, "cache:"+name),
		cache.WithLogger(s.logger.With(observe.F("component", "cache"))),
		cache.WithMetrics(s.metrics),
	)
	ctx := context.Background()
	if err := r.Load(ctx); err != nil {
		s.logger.Warn(ctx, "hydrate resource", observe.F("resource", name), observe.F("error", err.Error()))
	}

	s.mu.Lock()
	s.resources = append(s.resources, r)
	s.mu.Unlock()
	return r
}

func (s *Session) snapshotResources() []resource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]resource(nil), s.resources...)
}

// Close flushes every resource, then releases storage and telemetry.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, r := range s.snapshotResources() {
		if err := r.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", r.Name(), err))
		}
	}
	errs = append(errs, s.release(ctx))
	return errors.Join(errs...)
}

func (s *Session) release(ctx context.Context) error {
	var errs []error
	if s.ownsStore && s.store != nil {
		if err := storage.Close(s.store); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if s.ownsObs && s.obs != nil {
		if err := s.obs.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown observer: %w", err))
		}
	}
	return errors.Join(errs...)
}
