package apiclient

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/apikit/credential"
	"github.com/jonwraymond/apikit/observe"
)

// CredentialSource supplies the bearer credential and runs the refresh
// protocol. *credential.Store implements it.
type CredentialSource interface {
	Get(ctx context.Context) (credential.Credential, bool)
	Refresh(ctx context.Context) (credential.Credential, error)
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the URL that relative endpoints are resolved against.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithDefaultHeaders sets headers sent with every request. Per-request
// headers override them.
func WithDefaultHeaders(h http.Header) Option {
	return func(c *Client) { c.defaultHeaders = h.Clone() }
}

// WithUnauthorizedHook sets a callback invoked when an authenticated
// request still fails authorization after the refresh protocol ran.
func WithUnauthorizedHook(fn func(ctx context.Context)) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// WithAutoRefresh toggles the refresh-and-retry protocol. Default: on.
func WithAutoRefresh(on bool) Option {
	return func(c *Client) { c.autoRefresh = on }
}

// WithDedupeReads toggles deduplication of identical in-flight reads.
// Default: on.
func WithDedupeReads(on bool) Option {
	return func(c *Client) { c.dedupe = on }
}

// WithRequestIDs stamps every attempt with a fresh X-Request-ID header.
func WithRequestIDs() Option {
	return func(c *Client) { c.requestIDs = true }
}

// WithLogger sets the client logger.
func WithLogger(l observe.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics sink for dedup joins.
func WithMetrics(m observe.Metrics) Option {
	return func(c *Client) {
		if m != nil {
			c.metrics = m
		}
	}
}

// Client executes request descriptors.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Errors: Execute never returns a Go error; failures are carried in Result.Err.
//   - Dedup: identical reads in flight share one transport call and one result.
type Client struct {
	transport      Transport
	creds          CredentialSource
	baseURL        string
	defaultHeaders http.Header
	onUnauthorized func(ctx context.Context)
	autoRefresh    bool
	dedupe         bool
	requestIDs     bool
	logger         observe.Logger
	metrics        observe.Metrics

	flight singleflight.Group
}

// New creates a Client. creds may be nil when no request requires a
// credential.
func New(transport Transport, creds CredentialSource, opts ...Option) *Client {
	c := &Client{
		transport:   transport,
		creds:       creds,
		autoRefresh: true,
		dedupe:      true,
		logger:      observe.NopLogger(),
		metrics:     observe.NopMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute runs the descriptor through the request pipeline.
func (c *Client) Execute(ctx context.Context, d Descriptor) Result[Payload] {
	p, err := d.normalize()
	if err != nil {
		return failure[Payload](KindInvalid, 0, err)
	}
	if c.transport == nil {
		return failure[Payload](KindNetwork, 0, ErrNoTransport)
	}
	if !c.dedupe || !p.Dedupe || !p.IsRead() {
		return c.run(ctx, p)
	}

	key, err := p.dedupKey()
	if err != nil {
		return failure[Payload](KindInvalid, 0, err)
	}

	// The shared call must outlive any single caller.
	shared := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		return c.run(shared, p), nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.RecordDedup(ctx, observe.RequestMeta{Method: p.Method, Endpoint: p.Endpoint})
		}
		return res.Val.(Result[Payload])
	case <-ctx.Done():
		return failure[Payload](KindNetwork, 0, ctx.Err())
	}
}

type phase int

const (
	phaseAttempt phase = iota
	phaseRefresh
	phaseRetry
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseAttempt:
		return "attempt"
	case phaseRefresh:
		return "refresh"
	case phaseRetry:
		return "retry"
	default:
		return "done"
	}
}

// execution holds the state of one pipeline run.
type execution struct {
	c       *Client
	p       prepared
	attempt int
	token   string // access token sent by the latest attempt
	hook    sync.Once
	result  Result[Payload]
}

// run drives Attempt -> Refresh -> Retry -> Done. At most one refresh and
// one retry happen per run, and the unauthorized hook fires at most once.
func (c *Client) run(ctx context.Context, p prepared) Result[Payload] {
	ex := &execution{c: c, p: p}
	state := phaseAttempt
	for state != phaseDone {
		state = ex.step(ctx, state)
	}
	return ex.result
}

func (ex *execution) step(ctx context.Context, state phase) phase {
	switch state {
	case phaseAttempt, phaseRetry:
		return ex.attemptOnce(ctx, state == phaseRetry)
	case phaseRefresh:
		ex.c.logger.Debug(ctx, "refreshing credential after 401",
			observe.F("method", ex.p.Method), observe.F("endpoint", ex.p.Endpoint))
		// Another request already replaced the rejected token.
		if cred, ok := ex.c.creds.Get(ctx); ok && cred.AccessToken != ex.token {
			return phaseRetry
		}
		if _, err := ex.c.creds.Refresh(ctx); err != nil {
			ex.c.logger.Warn(ctx, "credential refresh failed", observe.F("error", err.Error()))
			ex.unauthorized(ctx, err)
			return phaseDone
		}
		return phaseRetry
	}
	return phaseDone
}

func (ex *execution) attemptOnce(ctx context.Context, retry bool) phase {
	ex.attempt++

	var token string
	if ex.p.RequiresAuth {
		cred, ok := ex.credential(ctx)
		if !ok {
			// No transport call without a credential.
			if retry {
				ex.unauthorized(ctx, ErrNoCredential)
			} else {
				ex.result = failure[Payload](KindUnauthenticated, http.StatusUnauthorized, ErrNoCredential)
			}
			return phaseDone
		}
		token = cred.AccessToken
	}
	ex.token = token

	resp, err := ex.c.transport.RoundTrip(ctx, ex.c.buildRequest(ex.p, token, ex.attempt))
	if err != nil {
		ex.result = failure[Payload](KindNetwork, 0, err)
		return phaseDone
	}

	switch {
	case resp.Status == http.StatusUnauthorized:
		if !ex.p.RequiresAuth {
			ex.result = failure[Payload](KindUnauthenticated, resp.Status, nil)
			ex.result.Header = resp.Header
			return phaseDone
		}
		if !retry && ex.c.autoRefresh && !ex.p.SkipRefresh && ex.c.creds != nil {
			return phaseRefresh
		}
		if retry {
			ex.unauthorized(ctx, nil)
		} else {
			ex.result = failure[Payload](KindUnauthenticated, resp.Status, nil)
		}
		ex.result.Header = resp.Header
		return phaseDone

	case resp.Status >= http.StatusBadRequest:
		ex.result = failure[Payload](KindHTTP, resp.Status, nil)
		ex.result.Err.Body = resp.Body
		ex.result.Header = resp.Header
		return phaseDone
	}

	ex.result = Result[Payload]{
		Value:  Payload{ContentType: resp.Header.Get("Content-Type"), Body: resp.Body},
		Empty:  resp.Status == http.StatusNoContent || len(resp.Body) == 0,
		Status: resp.Status,
		Header: resp.Header,
	}
	return phaseDone
}

func (ex *execution) credential(ctx context.Context) (credential.Credential, bool) {
	if ex.c.creds == nil {
		return credential.Credential{}, false
	}
	cred, ok := ex.c.creds.Get(ctx)
	if !ok || cred.AccessToken == "" {
		return credential.Credential{}, false
	}
	return cred, true
}

// unauthorized records the terminal Unauthenticated outcome and fires the
// hook.
func (ex *execution) unauthorized(ctx context.Context, cause error) {
	ex.result = failure[Payload](KindUnauthenticated, http.StatusUnauthorized, cause)
	if ex.c.onUnauthorized == nil {
		return
	}
	ex.hook.Do(func() {
		ex.c.logger.Info(ctx, "request unauthorized after refresh",
			observe.F("method", ex.p.Method), observe.F("endpoint", ex.p.Endpoint))
		ex.c.onUnauthorized(ctx)
	})
}

const bearerPrefix = "Bearer "

func (c *Client) buildRequest(p prepared, token string, attempt int) *Request {
	h := c.defaultHeaders.Clone()
	if h == nil {
		h = http.Header{}
	}
	if h.Get("Accept") == "" {
		h.Set("Accept", "application/json")
	}
	if len(p.body) > 0 && h.Get("Content-Type") == "" {
		h.Set("Content-Type", contentTypeFor(p.Body))
	}
	for k, vs := range p.Header {
		h[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	if token != "" {
		if !strings.HasPrefix(token, bearerPrefix) {
			token = bearerPrefix + token
		}
		h.Set("Authorization", token)
	}
	if c.requestIDs && h.Get(HeaderRequestID) == "" {
		h.Set(HeaderRequestID, uuid.NewString())
	}
	return &Request{
		Method:  p.Method,
		URL:     c.resolve(p.Endpoint),
		Header:  h,
		Body:    p.body,
		Attempt: attempt,
	}
}

func contentTypeFor(body any) string {
	switch body.(type) {
	case string:
		return "text/plain; charset=utf-8"
	case []byte:
		return "application/octet-stream"
	default:
		return "application/json"
	}
}

func (c *Client) resolve(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") || c.baseURL == "" {
		return endpoint
	}
	return c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}
