package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/apikit/credential"
)

// fakeCreds is an in-memory CredentialSource.
type fakeCreds struct {
	mu         sync.Mutex
	token      string
	refreshTo  string
	refreshErr error
	refreshes  atomic.Int32
}

func (f *fakeCreds) Get(context.Context) (credential.Credential, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.token == "" {
		return credential.Credential{}, false
	}
	return credential.Credential{AccessToken: f.token}, true
}

func (f *fakeCreds) Refresh(context.Context) (credential.Credential, error) {
	f.refreshes.Add(1)
	if f.refreshErr != nil {
		return credential.Credential{}, f.refreshErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = f.refreshTo
	return credential.Credential{AccessToken: f.token}, nil
}

type hookCounter struct{ n atomic.Int32 }

func (h *hookCounter) fire(context.Context) { h.n.Add(1) }

func newTestClient(t *testing.T, h http.Handler, creds CredentialSource, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithBaseURL(srv.URL)}, opts...)
	return New(NewHTTPTransport(HTTPConfig{Timeout: 5 * time.Second}), creds, opts...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestExecute_AttachesBearer(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"raw token", "t1", "Bearer t1"},
		{"already prefixed", "Bearer t1", "Bearer t1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get("Authorization")
				writeJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
			}), &fakeCreds{token: tt.token})

			res := c.Execute(context.Background(), MustDescriptor("GET", "/me"))
			if !res.OK() {
				t.Fatalf("Execute() err = %v", res.Err)
			}
			if got != tt.want {
				t.Errorf("Authorization = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExecute_NoCredentialSkipsTransport(t *testing.T) {
	var calls atomic.Int32
	tr := TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		calls.Add(1)
		return &Response{Status: http.StatusOK}, nil
	})
	c := New(tr, &fakeCreds{})

	res := c.Execute(context.Background(), MustDescriptor("GET", "/me"))
	if !errors.Is(res.Err, ErrUnauthenticated) {
		t.Fatalf("Err = %v, want ErrUnauthenticated", res.Err)
	}
	if res.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", res.Status)
	}
	if calls.Load() != 0 {
		t.Errorf("transport calls = %d, want 0", calls.Load())
	}
}

func TestExecute_RefreshProtocol(t *testing.T) {
	tests := []struct {
		name          string
		acceptToken   string // token the server accepts; empty accepts none
		refreshErr    error
		autoRefresh   bool
		wantOK        bool
		wantCalls     int32
		wantRefreshes int32
		wantHooks     int32
	}{
		{"refresh then retry succeeds", "t2", nil, true, true, 2, 1, 0},
		{"refresh fails", "t2", errors.New("grant rejected"), true, false, 1, 1, 1},
		{"retry still unauthorized", "", nil, true, false, 2, 1, 1},
		{"auto refresh disabled", "t2", nil, false, false, 1, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				if tt.acceptToken != "" && r.Header.Get("Authorization") == "Bearer "+tt.acceptToken {
					writeJSON(w, http.StatusOK, map[string]int{"id": 1})
					return
				}
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "expired"})
			})
			creds := &fakeCreds{token: "t1", refreshTo: "t2", refreshErr: tt.refreshErr}
			hooks := &hookCounter{}
			c := newTestClient(t, h, creds, WithAutoRefresh(tt.autoRefresh), WithUnauthorizedHook(hooks.fire))

			res := c.Execute(context.Background(), MustDescriptor("GET", "/me"))

			if res.OK() != tt.wantOK {
				t.Fatalf("OK() = %v, want %v (err %v)", res.OK(), tt.wantOK, res.Err)
			}
			if !tt.wantOK {
				if !errors.Is(res.Err, ErrUnauthenticated) || res.Status != http.StatusUnauthorized {
					t.Errorf("Err = %v status %d, want Unauthenticated/401", res.Err, res.Status)
				}
			}
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("transport calls = %d, want %d", got, tt.wantCalls)
			}
			if got := creds.refreshes.Load(); got != tt.wantRefreshes {
				t.Errorf("refreshes = %d, want %d", got, tt.wantRefreshes)
			}
			if got := hooks.n.Load(); got != tt.wantHooks {
				t.Errorf("hook calls = %d, want %d", got, tt.wantHooks)
			}
		})
	}
}

func TestExecute_PublicUnauthorizedDoesNotRefresh(t *testing.T) {
	creds := &fakeCreds{token: "t1", refreshTo: "t2"}
	hooks := &hookCounter{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("public request sent Authorization header")
		}
		w.WriteHeader(http.StatusUnauthorized)
	}), creds, WithUnauthorizedHook(hooks.fire))

	res := c.Execute(context.Background(), MustDescriptor("POST", "/login", Public()))
	if !errors.Is(res.Err, ErrUnauthenticated) {
		t.Fatalf("Err = %v, want ErrUnauthenticated", res.Err)
	}
	if creds.refreshes.Load() != 0 || hooks.n.Load() != 0 {
		t.Errorf("refreshes = %d hooks = %d, want 0/0", creds.refreshes.Load(), hooks.n.Load())
	}
}

func TestExecute_Classification(t *testing.T) {
	tests := []struct {
		name       string
		transport  TransportFunc
		wantErr    error
		wantStatus int
		wantEmpty  bool
	}{
		{
			name: "network failure",
			transport: func(context.Context, *Request) (*Response, error) {
				return nil, errors.New("connection refused")
			},
			wantErr:    ErrNetwork,
			wantStatus: 0,
		},
		{
			name: "not found",
			transport: func(context.Context, *Request) (*Response, error) {
				return &Response{Status: http.StatusNotFound, Header: http.Header{}, Body: []byte(`{"error":"missing"}`)}, nil
			},
			wantErr:    ErrHTTP,
			wantStatus: http.StatusNotFound,
		},
		{
			name: "server error",
			transport: func(context.Context, *Request) (*Response, error) {
				return &Response{Status: http.StatusBadGateway, Header: http.Header{}}, nil
			},
			wantErr:    ErrHTTP,
			wantStatus: http.StatusBadGateway,
		},
		{
			name: "no content",
			transport: func(context.Context, *Request) (*Response, error) {
				return &Response{Status: http.StatusNoContent, Header: http.Header{}}, nil
			},
			wantStatus: http.StatusNoContent,
			wantEmpty:  true,
		},
		{
			name: "empty body",
			transport: func(context.Context, *Request) (*Response, error) {
				return &Response{Status: http.StatusOK, Header: http.Header{"Content-Type": {"application/json"}}}, nil
			},
			wantStatus: http.StatusOK,
			wantEmpty:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.transport, nil)
			res := c.Execute(context.Background(), MustDescriptor("DELETE", "/items/1", Public()))
			if tt.wantErr == nil {
				if res.Err != nil {
					t.Fatalf("Err = %v, want nil", res.Err)
				}
			} else if !errors.Is(res.Err, tt.wantErr) {
				t.Fatalf("Err = %v, want %v", res.Err, tt.wantErr)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("Status = %d, want %d", res.Status, tt.wantStatus)
			}
			if res.Empty != tt.wantEmpty {
				t.Errorf("Empty = %v, want %v", res.Empty, tt.wantEmpty)
			}
		})
	}
}

func TestExecute_HTTPErrorKeepsBody(t *testing.T) {
	c := New(TransportFunc(func(context.Context, *Request) (*Response, error) {
		return &Response{Status: http.StatusConflict, Header: http.Header{}, Body: []byte("duplicate")}, nil
	}), nil)

	res := c.Execute(context.Background(), MustDescriptor("POST", "/items", Public(), WithBody(map[string]int{"id": 1})))
	if res.Err == nil || string(res.Err.Body) != "duplicate" {
		t.Fatalf("Err = %+v, want body %q", res.Err, "duplicate")
	}
	if StatusOf(res.Err) != http.StatusConflict {
		t.Errorf("StatusOf = %d, want 409", StatusOf(res.Err))
	}
}

func TestExecute_InvalidDescriptor(t *testing.T) {
	c := New(TransportFunc(func(context.Context, *Request) (*Response, error) {
		t.Fatal("transport must not be called")
		return nil, nil
	}), nil)

	res := c.Execute(context.Background(), Descriptor{Method: "GET"})
	if !errors.Is(res.Err, ErrInvalidDescriptor) {
		t.Fatalf("Err = %v, want ErrInvalidDescriptor", res.Err)
	}
}

func TestExecute_HeadersAndBody(t *testing.T) {
	var gotHeader http.Header
	var gotBody []byte
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}), &fakeCreds{token: "t1"},
		WithDefaultHeaders(http.Header{"X-Client": {"default"}, "X-Tenant": {"default"}}),
		WithRequestIDs(),
	)

	d := MustDescriptor("post", "items", WithBody(map[string]string{"name": "a"}), WithHeader("X-Tenant", "acme"))
	res := c.Execute(context.Background(), d)
	if !res.OK() {
		t.Fatalf("Execute() err = %v", res.Err)
	}

	if gotHeader.Get("X-Client") != "default" {
		t.Errorf("X-Client = %q, want default", gotHeader.Get("X-Client"))
	}
	if gotHeader.Get("X-Tenant") != "acme" {
		t.Errorf("X-Tenant = %q, want per-request override", gotHeader.Get("X-Tenant"))
	}
	if gotHeader.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", gotHeader.Get("Content-Type"))
	}
	if gotHeader.Get(HeaderRequestID) == "" {
		t.Error("missing request id")
	}
	if strings.TrimSpace(string(gotBody)) != `{"name":"a"}` {
		t.Errorf("body = %s", gotBody)
	}
}

func TestExecute_RequestIDPerAttempt(t *testing.T) {
	var mu sync.Mutex
	var ids []string
	creds := &fakeCreds{token: "t1", refreshTo: "t2"}
	c := New(TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		mu.Lock()
		ids = append(ids, req.Header.Get(HeaderRequestID))
		mu.Unlock()
		if req.Attempt == 1 {
			return &Response{Status: http.StatusUnauthorized, Header: http.Header{}}, nil
		}
		return &Response{Status: http.StatusOK, Header: http.Header{}}, nil
	}), creds, WithRequestIDs())

	if res := c.Execute(context.Background(), MustDescriptor("GET", "/me")); !res.OK() {
		t.Fatalf("Execute() err = %v", res.Err)
	}
	if len(ids) != 2 || ids[0] == "" || ids[0] == ids[1] {
		t.Fatalf("request ids = %v, want two distinct ids", ids)
	}
}

func TestExecute_DedupSharesOneCall(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	c := New(TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return &Response{
			Status: http.StatusOK,
			Header: http.Header{"Content-Type": {"application/json"}},
			Body:   []byte(`{"n":1}`),
		}, nil
	}), &fakeCreds{token: "t1"})

	d := MustDescriptor("GET", "/items", WithBody(map[string]any{"a": 1, "b": 2}))
	same := MustDescriptor("GET", "/items", WithBody(map[string]any{"b": 2, "a": 1}))

	const n = 5
	results := make([]Result[Payload], n)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = c.Execute(context.Background(), d)
	}()
	<-started
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Execute(context.Background(), same)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("transport calls = %d, want 1", calls.Load())
	}
	for i, r := range results {
		if !r.OK() || string(r.Value.Body) != `{"n":1}` || r.Status != http.StatusOK {
			t.Errorf("result[%d] = %+v", i, r)
		}
	}
}

func TestExecute_DedupWaiterCancellation(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	c := New(TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		calls.Add(1)
		<-release
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &Response{Status: http.StatusOK, Header: http.Header{}, Body: []byte("x")}, nil
	}), nil)
	d := MustDescriptor("GET", "/slow", Public())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result[Payload], 1)
	go func() { done <- c.Execute(ctx, d) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	res := <-done
	if !errors.Is(res.Err, ErrNetwork) || !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("Err = %v, want network error wrapping context.Canceled", res.Err)
	}

	// The shared call keeps running for other callers.
	joined := make(chan Result[Payload], 1)
	go func() { joined <- c.Execute(context.Background(), d) }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if r := <-joined; !r.OK() {
		t.Fatalf("joined result err = %v", r.Err)
	}
	if calls.Load() != 1 {
		t.Errorf("transport calls = %d, want 1", calls.Load())
	}
}

func TestExecute_WritesAreNotDeduplicated(t *testing.T) {
	var calls atomic.Int32
	bothArrived := make(chan struct{})
	c := New(TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		if calls.Add(1) == 2 {
			close(bothArrived)
		}
		select {
		case <-bothArrived:
		case <-time.After(2 * time.Second):
			return nil, errors.New("second write never arrived")
		}
		return &Response{Status: http.StatusCreated, Header: http.Header{}}, nil
	}), nil)

	d := MustDescriptor("POST", "/items", Public(), WithBody(`{"a":1}`))
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r := c.Execute(context.Background(), d); !r.OK() {
				t.Errorf("Execute() err = %v", r.Err)
			}
		}()
	}
	wg.Wait()
	if calls.Load() != 2 {
		t.Errorf("transport calls = %d, want 2", calls.Load())
	}
}

func TestExecute_DedupDisabled(t *testing.T) {
	var calls atomic.Int32
	c := New(TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		calls.Add(1)
		return &Response{Status: http.StatusOK, Header: http.Header{}}, nil
	}), nil, WithDedupeReads(false))

	d := MustDescriptor("GET", "/items", Public())
	c.Execute(context.Background(), d)
	c.Execute(context.Background(), d)
	if calls.Load() != 2 {
		t.Errorf("transport calls = %d, want 2", calls.Load())
	}
}

func TestHTTPTransport_ResponseLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(HTTPConfig{MaxResponseBytes: 16})
	_, err := tr.RoundTrip(context.Background(), &Request{Method: "GET", URL: srv.URL})
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("RoundTrip() err = %v, want ErrResponseTooLarge", err)
	}
}

func TestExecute_UnauthorizedAfterConcurrentRefreshRetriesWithoutRefreshing(t *testing.T) {
	creds := &fakeCreds{token: "old", refreshTo: "unexpected"}
	var calls atomic.Int32
	tr := TransportFunc(func(ctx context.Context, req *Request) (*Response, error) {
		calls.Add(1)
		if req.Header.Get("Authorization") == "Bearer old" {
			// Another request refreshes while this one is in flight.
			creds.mu.Lock()
			creds.token = "new"
			creds.mu.Unlock()
			return &Response{Status: http.StatusUnauthorized}, nil
		}
		return &Response{Status: http.StatusOK, Header: http.Header{"Content-Type": {"application/json"}}, Body: []byte(`{}`)}, nil
	})
	var hook hookCounter
	c := New(tr, creds, WithUnauthorizedHook(hook.fire))

	res := c.Execute(context.Background(), MustDescriptor("GET", "/me"))
	if !res.OK() {
		t.Fatalf("Execute() err = %v", res.Err)
	}
	if creds.refreshes.Load() != 0 {
		t.Errorf("refreshes = %d, want 0", creds.refreshes.Load())
	}
	if calls.Load() != 2 || hook.n.Load() != 0 {
		t.Errorf("transport calls = %d hook = %d, want 2/0", calls.Load(), hook.n.Load())
	}
}

func TestExecute_TransportTimeoutIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := New(NewHTTPTransport(HTTPConfig{Timeout: 50 * time.Millisecond}), &fakeCreds{token: "t"},
		WithBaseURL(srv.URL))

	start := time.Now()
	res := c.Execute(context.Background(), MustDescriptor("GET", "/slow"))
	if !errors.Is(res.Err, ErrNetwork) {
		t.Fatalf("Err = %v, want ErrNetwork", res.Err)
	}
	if res.Status != 0 {
		t.Errorf("Status = %d, want 0", res.Status)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Execute() took %v, want the transport timeout to end it", elapsed)
	}
}
