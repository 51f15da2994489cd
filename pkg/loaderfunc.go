package entropykv

// loaderfunc.go defines LoaderFunc, the internal callback that loaderGroup
// (loader.go) runs when a Get misses the Event-Horizon cache; Engine.Get
// wraps shardRecord in one. The internal/entangle prefetcher does not use it:
// it takes its own FetchFunc.
//
// © 2025 entropykv authors. MIT License.

import "context"

// LoaderFunc resolves a missing key to its Record. Implementations must not
// call back into the Engine for the same key they were invoked for. ctx is
// the context of the first caller for that key; a caller whose own ctx has
// expired by the time the shared load returns gets its ctx error instead.
type LoaderFunc func(ctx context.Context, key []byte) (Record, error)
