package entangle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// FetchFunc performs the engine's internal GET path with consistency=CachedOk
// against a single related key. Errors are swallowed by the Prefetcher and
// counted only (spec §4.6).
type FetchFunc func(ctx context.Context, key []byte) ([]byte, bool, error)

// Prefetcher drives bounded concurrent prefetches for quantum_get (spec
// §4.6): up to N = min(max_fanout, available_slots) related keys are
// fetched against a dedicated pool with per-item and collective deadlines.
type Prefetcher struct {
	sem          *semaphore.Weighted
	itemDeadline time.Duration
	allDeadline  time.Duration
	onResult     func(result string) // "hit", "miss", "error" — metrics only
}

// NewPrefetcher builds a Prefetcher with a worker pool bounded at
// concurrency slots.
func NewPrefetcher(concurrency int64, itemDeadline, collectiveDeadline time.Duration, onResult func(string)) *Prefetcher {
	return &Prefetcher{
		sem:          semaphore.NewWeighted(concurrency),
		itemDeadline: itemDeadline,
		allDeadline:  collectiveDeadline,
		onResult:     onResult,
	}
}

// Run fetches every key in related concurrently (bounded by the pool),
// subject to the collective deadline. It returns whatever arrived in time;
// expired fetches are abandoned (their goroutine keeps running and may still
// populate caches later, per spec §4.6) but are not waited on.
func (p *Prefetcher) Run(ctx context.Context, keys []string, fetch FetchFunc) map[string][]byte {
	results := make(map[string][]byte)
	if len(keys) == 0 {
		return results
	}

	collectiveCtx, cancel := context.WithTimeout(ctx, p.allDeadline)
	defer cancel()

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, k := range keys {
		key := []byte(k)
		if err := p.sem.Acquire(collectiveCtx, 1); err != nil {
			// Collective deadline hit or caller cancelled before a slot
			// freed up: the remaining keys are simply not prefetched.
			break
		}
		wg.Add(1)
		go func(k string, key []byte) {
			defer wg.Done()
			defer p.sem.Release(1)

			itemCtx, itemCancel := context.WithTimeout(collectiveCtx, p.itemDeadline)
			defer itemCancel()

			value, hit, err := fetch(itemCtx, key)
			switch {
			case err != nil:
				p.report("error")
			case !hit:
				p.report("miss")
			default:
				p.report("hit")
				mu.Lock()
				results[k] = value
				mu.Unlock()
			}
		}(k, key)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-collectiveCtx.Done():
		// Collective deadline reached: return whatever has landed so far.
		// In-flight goroutines keep running to warm caches best-effort.
	}

	mu.Lock()
	defer mu.Unlock()
	out := make(map[string][]byte, len(results))
	for k, v := range results {
		out[k] = v
	}
	return out
}

func (p *Prefetcher) report(result string) {
	if p.onResult != nil {
		p.onResult(result)
	}
}
