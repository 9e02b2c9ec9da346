package apiclient

import (
	"context"
	"net/http"
)

// Get issues a GET and decodes the response into T.
func Get[T any](ctx context.Context, c *Client, endpoint string, opts ...DescriptorOption) Result[T] {
	return send[T](ctx, c, http.MethodGet, endpoint, nil, opts)
}

// Post issues a POST with a JSON body.
func Post[T any](ctx context.Context, c *Client, endpoint string, body any, opts ...DescriptorOption) Result[T] {
	return send[T](ctx, c, http.MethodPost, endpoint, body, opts)
}

// Put issues a PUT with a JSON body.
func Put[T any](ctx context.Context, c *Client, endpoint string, body any, opts ...DescriptorOption) Result[T] {
	return send[T](ctx, c, http.MethodPut, endpoint, body, opts)
}

// Patch issues a PATCH with a JSON body.
func Patch[T any](ctx context.Context, c *Client, endpoint string, body any, opts ...DescriptorOption) Result[T] {
	return send[T](ctx, c, http.MethodPatch, endpoint, body, opts)
}

// Delete issues a DELETE.
func Delete[T any](ctx context.Context, c *Client, endpoint string, opts ...DescriptorOption) Result[T] {
	return send[T](ctx, c, http.MethodDelete, endpoint, nil, opts)
}

func send[T any](ctx context.Context, c *Client, method, endpoint string, body any, opts []DescriptorOption) Result[T] {
	if body != nil {
		opts = append([]DescriptorOption{WithBody(body)}, opts...)
	}
	d, err := NewDescriptor(method, endpoint, opts...)
	if err != nil {
		return failure[T](KindInvalid, 0, err)
	}
	return Do[T](ctx, c, d)
}
