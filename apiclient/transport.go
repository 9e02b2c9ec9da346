package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jonwraymond/apikit/observe"
	"github.com/jonwraymond/apikit/resilience"
)

const (
	defaultHTTPTimeout       = 30 * time.Second
	defaultResponseBodyLimit = 10 << 20
)

// HeaderRequestID carries the per-attempt request identifier.
const HeaderRequestID = "X-Request-ID"

// Request is one transport attempt.
type Request struct {
	Method  string
	URL     string
	Header  http.Header
	Body    []byte
	Attempt int // 1 for the first attempt, 2 for the retry after a refresh
}

// Response is a fully read transport response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport performs a single attempt. A non-nil error means no
// response was received.
type Transport interface {
	RoundTrip(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

// RoundTrip calls f.
func (f TransportFunc) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPDoer is the subset of *http.Client used by HTTPTransport.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPConfig configures HTTPTransport.
type HTTPConfig struct {
	// Client overrides the HTTP client. When nil a client with Timeout
	// is created.
	Client HTTPDoer

	// Timeout bounds each attempt. Default: 30s.
	Timeout time.Duration

	// MaxResponseBytes bounds the response body. Default: 10MiB.
	MaxResponseBytes int64
}

// HTTPTransport is the net/http Transport.
type HTTPTransport struct {
	client HTTPDoer
	limit  int64
}

// NewHTTPTransport creates an HTTPTransport.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultResponseBodyLimit
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPTransport{client: client, limit: cfg.MaxResponseBytes}
}

// RoundTrip sends req and reads the whole response body.
func (t *HTTPTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, t.limit+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(data)) > t.limit {
		return nil, fmt.Errorf("%w: %d bytes", ErrResponseTooLarge, t.limit)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// ObserveTransport wraps next so that every attempt is traced, counted
// and logged by mw.
func ObserveTransport(next Transport, mw *observe.Middleware) Transport {
	if mw == nil {
		return next
	}
	return TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		meta := observe.RequestMeta{
			Method:    req.Method,
			Endpoint:  endpointOf(req.URL),
			Attempt:   req.Attempt,
			RequestID: req.Header.Get(HeaderRequestID),
		}
		var resp *Response
		_, err := mw.Observe(ctx, meta, func(ctx context.Context) (int, error) {
			r, err := next.RoundTrip(ctx, req)
			if err != nil {
				return 0, err
			}
			resp = r
			return r.Status, nil
		})
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
}

// serverStatus marks a 5xx response as a failure for the executor.
type serverStatus int

func (s serverStatus) Error() string { return fmt.Sprintf("server status %d", int(s)) }

// GuardTransport runs every attempt through exec. Rejections by the
// executor surface as transport errors. 5xx responses are returned to the
// caller but count as failures for the circuit breaker.
func GuardTransport(next Transport, exec *resilience.Executor) Transport {
	if exec == nil {
		return next
	}
	return TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		var resp *Response
		err := exec.Execute(ctx, func(ctx context.Context) error {
			r, err := next.RoundTrip(ctx, req)
			if err != nil {
				return err
			}
			resp = r
			if r.Status >= http.StatusInternalServerError {
				return serverStatus(r.Status)
			}
			return nil
		})
		var ss serverStatus
		if errors.As(err, &ss) && resp != nil {
			return resp, nil
		}
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
}

func endpointOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return raw
	}
	return u.Path
}
