package entropykv

// loader.go implements the singleflight-based de-duplication layer behind
// cache-miss loads and quantum-get prefetch fan-out. The goal is to prevent a
// thundering herd when many goroutines request the same missing key
// simultaneously: only one LoaderFunc executes, the rest wait for its result.
// Keys are always []byte, values are always Record.
//
// © 2025 entropykv authors. MIT License.

import (
	"context"

	"github.com/entropykv/entropykv/internal/unsafehelpers"
	"golang.org/x/sync/singleflight"
)

// LoadResult holds the outcome of an asynchronous load. Shared == true means
// this goroutine did not execute the loader itself - it received a result
// shared with another in-flight caller for the same key.
type LoadResult struct {
	Value  Record
	Err    error
	Shared bool
}

// loaderGroup deduplicates concurrent loads of the same key.
type loaderGroup struct {
	g singleflight.Group
}

func newLoaderGroup() *loaderGroup {
	return &loaderGroup{}
}

// load executes fn exactly once per key across all concurrent callers; every
// waiter receives the same Value/error.
func (lg *loaderGroup) load(ctx context.Context, key []byte, fn LoaderFunc) (val Record, err error, shared bool) {
	k := unsafehelpers.BytesToString(key)
	res, err, shared := lg.g.Do(k, func() (any, error) {
		return fn(ctx, key)
	})
	if ctx.Err() != nil {
		return Record{}, ctx.Err(), shared
	}
	if err != nil {
		return Record{}, err, shared
	}
	return res.(Record), nil, shared
}

// loadAsync returns a channel delivering the LoadResult, honouring ctx
// cancellation independently of the underlying singleflight call (a
// cancelled waiter must not cancel the load for other waiters sharing it).
func (lg *loaderGroup) loadAsync(ctx context.Context, key []byte, fn LoaderFunc) <-chan LoadResult {
	out := make(chan LoadResult, 1)
	k := string(key)

	ch := lg.g.DoChan(k, func() (any, error) {
		return fn(context.Background(), key)
	})

	go func() {
		select {
		case res := <-ch:
			if res.Err != nil {
				out <- LoadResult{Err: res.Err, Shared: res.Shared}
			} else {
				out <- LoadResult{Value: res.Val.(Record), Shared: res.Shared}
			}
		case <-ctx.Done():
			out <- LoadResult{Err: ctx.Err(), Shared: false}
		}
		close(out)
	}()
	return out
}
