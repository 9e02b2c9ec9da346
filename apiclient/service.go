package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// Service groups endpoints under a common path prefix.
type Service struct {
	client   *Client
	basePath string
	defaults []DescriptorOption
}

// NewService creates a service rooted at basePath. opts apply to every
// descriptor the service builds.
func NewService(c *Client, basePath string, opts ...DescriptorOption) *Service {
	return &Service{
		client:   c,
		basePath: "/" + strings.Trim(basePath, "/"),
		defaults: opts,
	}
}

// Client returns the underlying client.
func (s *Service) Client() *Client { return s.client }

// Path joins elems below the service root. Elements are path-escaped.
func (s *Service) Path(elems ...string) string {
	p := strings.TrimRight(s.basePath, "/")
	for _, e := range elems {
		if e == "" {
			continue
		}
		p += "/" + url.PathEscape(e)
	}
	if p == "" {
		return "/"
	}
	return p
}

// Descriptor builds a descriptor for an endpoint relative to the service.
func (s *Service) Descriptor(method, endpoint string, opts ...DescriptorOption) (Descriptor, error) {
	all := append(append([]DescriptorOption(nil), s.defaults...), opts...)
	return NewDescriptor(method, strings.TrimRight(s.basePath, "/")+"/"+strings.TrimLeft(endpoint, "/"), all...)
}

// Collection is a typed CRUD view of a REST collection.
type Collection[T any] struct {
	svc  *Service
	name string
}

// NewCollection returns the collection named name under s.
func NewCollection[T any](s *Service, name string) *Collection[T] {
	return &Collection[T]{svc: s, name: strings.Trim(name, "/")}
}

func (c *Collection[T]) do(ctx context.Context, method, path string, body any) Result[T] {
	opts := append([]DescriptorOption(nil), c.svc.defaults...)
	if body != nil {
		opts = append(opts, WithBody(body))
	}
	d, err := NewDescriptor(method, path, opts...)
	if err != nil {
		return failure[T](KindInvalid, 0, err)
	}
	return Do[T](ctx, c.svc.client, d)
}

// List fetches the collection.
func (c *Collection[T]) List(ctx context.Context, query url.Values) Result[[]T] {
	path := c.svc.Path(c.name)
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	d, err := NewDescriptor(http.MethodGet, path, c.svc.defaults...)
	if err != nil {
		return failure[[]T](KindInvalid, 0, err)
	}
	return Do[[]T](ctx, c.svc.client, d)
}

// Find fetches one item.
func (c *Collection[T]) Find(ctx context.Context, id string) Result[T] {
	return c.do(ctx, http.MethodGet, c.svc.Path(c.name, id), nil)
}

// Create posts a new item.
func (c *Collection[T]) Create(ctx context.Context, body any) Result[T] {
	return c.do(ctx, http.MethodPost, c.svc.Path(c.name), body)
}

// Update replaces an item.
func (c *Collection[T]) Update(ctx context.Context, id string, body any) Result[T] {
	return c.do(ctx, http.MethodPut, c.svc.Path(c.name, id), body)
}

// PatchOne partially updates an item.
func (c *Collection[T]) PatchOne(ctx context.Context, id string, body any) Result[T] {
	return c.do(ctx, http.MethodPatch, c.svc.Path(c.name, id), body)
}

// Remove deletes an item. Servers commonly answer 204, which yields an
// Empty result.
func (c *Collection[T]) Remove(ctx context.Context, id string) Result[T] {
	return c.do(ctx, http.MethodDelete, c.svc.Path(c.name, id), nil)
}
