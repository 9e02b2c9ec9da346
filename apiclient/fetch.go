package apiclient

import (
	"context"

	"github.com/jonwraymond/apikit/cache"
)

// Fetcher adapts a descriptor into a cache fetch function. An empty
// response yields the zero V.
func Fetcher[V any](c *Client, d Descriptor) cache.FetchFunc[V] {
	return func(ctx context.Context) (V, error) {
		return Do[V](ctx, c, d).Unwrap()
	}
}
