package apiclient

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Descriptor describes one logical request. Descriptors are values: the
// client never mutates the caller's copy.
type Descriptor struct {
	Method       string
	Endpoint     string      // path relative to the base URL, or an absolute URL
	Body         any         // nil, []byte, string, json.RawMessage or a JSON-encodable value
	Header       http.Header // per-request headers
	RequiresAuth bool
	Dedupe       bool
	SkipRefresh  bool // disables the refresh-and-retry protocol for this request
}

// DescriptorOption configures a Descriptor built by NewDescriptor.
type DescriptorOption func(*Descriptor)

// WithBody sets the request body.
func WithBody(body any) DescriptorOption {
	return func(d *Descriptor) { d.Body = body }
}

// WithHeader adds a per-request header.
func WithHeader(key, value string) DescriptorOption {
	return func(d *Descriptor) {
		if d.Header == nil {
			d.Header = http.Header{}
		}
		d.Header.Add(key, value)
	}
}

// Public marks the request as not requiring a credential.
func Public() DescriptorOption {
	return func(d *Descriptor) { d.RequiresAuth = false }
}

// WithDedupe overrides whether the request joins identical in-flight reads.
func WithDedupe(on bool) DescriptorOption {
	return func(d *Descriptor) { d.Dedupe = on }
}

// WithoutRefresh disables the refresh-and-retry protocol for the request.
func WithoutRefresh() DescriptorOption {
	return func(d *Descriptor) { d.SkipRefresh = true }
}

// NewDescriptor builds a descriptor. By default the request requires a
// credential and reads participate in deduplication.
func NewDescriptor(method, endpoint string, opts ...DescriptorOption) (Descriptor, error) {
	d := Descriptor{Method: method, Endpoint: endpoint, RequiresAuth: true}
	d.Method = normalizeMethod(d.Method)
	d.Dedupe = d.IsRead()
	for _, opt := range opts {
		opt(&d)
	}
	if _, err := d.normalize(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// MustDescriptor is like NewDescriptor but panics on a malformed descriptor.
func MustDescriptor(method, endpoint string, opts ...DescriptorOption) Descriptor {
	d, err := NewDescriptor(method, endpoint, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

func normalizeMethod(m string) string {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return http.MethodGet
	}
	return m
}

// IsRead reports whether the method is GET, HEAD or OPTIONS.
func (d Descriptor) IsRead() bool {
	switch normalizeMethod(d.Method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// prepared is a validated descriptor with its encoded body.
type prepared struct {
	Descriptor
	body []byte
}

// normalize validates d and encodes its body.
func (d Descriptor) normalize() (prepared, error) {
	d.Method = normalizeMethod(d.Method)
	d.Endpoint = strings.TrimSpace(d.Endpoint)
	if d.Endpoint == "" {
		return prepared{}, fmt.Errorf("%w: endpoint is required", ErrInvalidDescriptor)
	}
	if strings.ContainsAny(d.Method, " \t\r\n") {
		return prepared{}, fmt.Errorf("%w: method %q", ErrInvalidDescriptor, d.Method)
	}
	body, err := encodeBody(d.Body)
	if err != nil {
		return prepared{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return prepared{Descriptor: d, body: body}, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(b)
	}
}

// DedupKey returns the deterministic identity of the request: a hash of
// the method, the endpoint and the canonical form of the body. Bodies
// that are JSON compare equal regardless of object key order.
// Format: dedup:<32 hex chars>
func (d Descriptor) DedupKey() (string, error) {
	p, err := d.normalize()
	if err != nil {
		return "", err
	}
	return p.dedupKey()
}

func (p prepared) dedupKey() (string, error) {
	body, err := canonicalBody(p.body)
	if err != nil {
		return "", err
	}

	h := sha256.New()
	h.Write([]byte(p.Method))
	h.Write([]byte{'\n'})
	h.Write([]byte(p.Endpoint))
	h.Write([]byte{'\n'})
	h.Write(body)
	sum := h.Sum(nil)
	return "dedup:" + hex.EncodeToString(sum[:16]), nil
}

// canonicalBody re-encodes JSON bodies with sorted object keys. Bodies
// that are not JSON are used as is.
func canonicalBody(body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return body, nil
	}
	return canonicalize(v)
}

// canonicalize produces a deterministic JSON representation of v.
func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			out = append(out, kb...)
			out = append(out, ':')
			vb, err := canonicalize(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		return append(out, '}'), nil

	case []any:
		out := []byte{'['}
		for i, item := range val {
			if i > 0 {
				out = append(out, ',')
			}
			vb, err := canonicalize(item)
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		return append(out, ']'), nil

	default:
		return json.Marshal(v)
	}
}
