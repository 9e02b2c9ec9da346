// Package cache provides keyed resource caches for API data.
//
// A Resource holds one entry per key with a per-call TTL, coalesces
// concurrent fetches of the same key into a single call, keeps the last
// good value when a refetch fails, and persists its entries to a
// storage.Storage through a debounced writer.
package cache
