// Package bench provides reproducible micro-benchmarks for entropykv.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// We measure:
//   1. Put          - write-only workload, async durability
//   2. Get          - read-only workload (after warm-up), cache path
//   3. GetParallel  - highly concurrent reads (b.RunParallel)
//   4. QuantumGet   - primary + bounded prefetch of related keys
//
// Results are printed in ns/op + alloc/op so CI can diff via benchstat.
//
// NOTE: Unit tests live in each package's _test.go files; this file is only
// for performance.
//
// © 2025 entropykv authors. MIT License.
package bench

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"testing"

	entropykv "github.com/entropykv/entropykv/pkg"
)

const (
	numShards = 16
	keys      = 1 << 16 // 64K keys for dataset
)

func newTestEngine(b *testing.B) *entropykv.Engine {
	b.Helper()
	dir, err := os.MkdirTemp("", "entropykv-bench-*")
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { os.RemoveAll(dir) })

	e, err := entropykv.New(
		entropykv.WithNumShards(numShards),
		entropykv.WithDataRoot(dir),
		entropykv.WithDurability(entropykv.DurabilityConfig{Mode: entropykv.DurabilityAsync, FlushMs: 100, BatchBytes: 1 << 20}),
	)
	if err != nil {
		b.Fatal(err)
	}
	return e
}

var ds = func() [][]byte {
	arr := make([][]byte, keys)
	for i := range arr {
		arr[i] = []byte(fmt.Sprintf("bench:%d", i))
	}
	return arr
}()

var val = []byte("the quick brown fox jumps over the lazy dog, sixty-four bytes!!")

func BenchmarkPut(b *testing.B) {
	e := newTestEngine(b)
	defer e.Close()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := ds[i&(keys-1)]
		if _, err := e.Put(context.Background(), key, val, entropykv.PutOptions{}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGet(b *testing.B) {
	e := newTestEngine(b)
	defer e.Close()
	for _, k := range ds {
		if _, err := e.Put(context.Background(), k, val, entropykv.PutOptions{}); err != nil {
			b.Fatal(err)
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := ds[i&(keys-1)]
		if _, err := e.Get(context.Background(), k, entropykv.GetOptions{Consistency: entropykv.ConsistencyCachedOk}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGetParallel(b *testing.B) {
	e := newTestEngine(b)
	defer e.Close()
	for _, k := range ds {
		if _, err := e.Put(context.Background(), k, val, entropykv.PutOptions{}); err != nil {
			b.Fatal(err)
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		idx := rand.Intn(keys)
		for pb.Next() {
			idx = (idx + 1) & (keys - 1)
			e.Get(context.Background(), ds[idx], entropykv.GetOptions{Consistency: entropykv.ConsistencyCachedOk})
		}
	})
}

func BenchmarkQuantumGet(b *testing.B) {
	e, err := entropykv.New(
		entropykv.WithNumShards(numShards),
		entropykv.WithDataRoot(b.TempDir()),
		entropykv.WithEntanglementRules([]entropykv.EntanglementRuleConfig{
			{Pattern: "bench:*", Related: []string{"profile:*"}, MaxFanout: 1, Strength: 0.9},
		}),
	)
	if err != nil {
		b.Fatal(err)
	}
	defer e.Close()
	for i, k := range ds {
		e.Put(context.Background(), k, val, entropykv.PutOptions{})
		related := []byte(fmt.Sprintf("profile:%d", i))
		e.Put(context.Background(), related, val, entropykv.PutOptions{})
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.QuantumGet(context.Background(), ds[i&(keys-1)]); err != nil {
			b.Fatal(err)
		}
	}
}

func init() {
	rand.Seed(42)
	runtime.GOMAXPROCS(runtime.NumCPU())
}
