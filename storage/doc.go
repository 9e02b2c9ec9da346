// Package storage provides the durable key-value boundary used to persist
// credentials and cache snapshots across process restarts.
//
// It provides a Storage interface with memory, file, Redis and SQLite
// implementations. Values are opaque strings; callers own the encoding.
// Storage never debounces writes: callers that need coalescing (see the
// cache package) do it themselves.
package storage
