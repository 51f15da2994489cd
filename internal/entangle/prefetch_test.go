package entangle

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestPrefetcherRunCollectsHits(t *testing.T) {
	p := NewPrefetcher(4, 50*time.Millisecond, 200*time.Millisecond, nil)
	fetch := func(_ context.Context, key []byte) ([]byte, bool, error) {
		return append([]byte("v-"), key...), true, nil
	}
	got := p.Run(context.Background(), []string{"a", "b", "c"}, fetch)
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3: %v", len(got), got)
	}
	if string(got["a"]) != "v-a" {
		t.Fatalf("got %q, want v-a", got["a"])
	}
}

func TestPrefetcherRunOnEmptyKeysReturnsEmpty(t *testing.T) {
	p := NewPrefetcher(4, time.Second, time.Second, nil)
	got := p.Run(context.Background(), nil, func(context.Context, []byte) ([]byte, bool, error) {
		t.Fatal("fetch should not be called for an empty key set")
		return nil, false, nil
	})
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestPrefetcherOmitsMissesAndErrors(t *testing.T) {
	p := NewPrefetcher(4, 50*time.Millisecond, 200*time.Millisecond, nil)
	fetch := func(_ context.Context, key []byte) ([]byte, bool, error) {
		switch string(key) {
		case "hit":
			return []byte("v"), true, nil
		case "miss":
			return nil, false, nil
		default:
			return nil, false, context.Canceled
		}
	}
	got := p.Run(context.Background(), []string{"hit", "miss", "broken"}, fetch)
	if len(got) != 1 {
		t.Fatalf("got %v, want only 'hit'", got)
	}
	if _, ok := got["hit"]; !ok {
		t.Fatalf("expected 'hit' key present, got %v", got)
	}
}

func TestPrefetcherReportsResultKinds(t *testing.T) {
	p := NewPrefetcher(4, 50*time.Millisecond, 200*time.Millisecond, nil)
	var mu sync.Mutex
	counts := map[string]int{}
	p.onResult = func(r string) {
		mu.Lock()
		counts[r]++
		mu.Unlock()
	}
	fetch := func(_ context.Context, key []byte) ([]byte, bool, error) {
		switch string(key) {
		case "hit":
			return []byte("v"), true, nil
		case "miss":
			return nil, false, nil
		default:
			return nil, false, context.Canceled
		}
	}
	p.Run(context.Background(), []string{"hit", "miss", "broken"}, fetch)
	mu.Lock()
	defer mu.Unlock()
	if counts["hit"] != 1 || counts["miss"] != 1 || counts["error"] != 1 {
		t.Fatalf("unexpected result counts: %v", counts)
	}
}

func TestPrefetcherRespectsCollectiveDeadline(t *testing.T) {
	p := NewPrefetcher(4, time.Second, 20*time.Millisecond, nil)
	fetch := func(ctx context.Context, _ []byte) ([]byte, bool, error) {
		select {
		case <-time.After(500 * time.Millisecond):
			return []byte("too-late"), true, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
	start := time.Now()
	got := p.Run(context.Background(), []string{"a", "b"}, fetch)
	elapsed := time.Since(start)
	if elapsed > 400*time.Millisecond {
		t.Fatalf("Run took %v, expected to return near the collective deadline", elapsed)
	}
	if len(got) != 0 {
		t.Fatalf("expected no results within the deadline, got %v", got)
	}
}

func TestPrefetcherBoundsConcurrency(t *testing.T) {
	p := NewPrefetcher(2, time.Second, time.Second, nil)
	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	fetch := func(_ context.Context, _ []byte) ([]byte, bool, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return []byte("v"), true, nil
	}
	p.Run(context.Background(), []string{"a", "b", "c", "d", "e", "f"}, fetch)
	if maxInFlight > 2 {
		t.Fatalf("max concurrent fetches = %d, want <= 2", maxInFlight)
	}
}
