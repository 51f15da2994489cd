// Package entropykv implements a sharded, in-memory key-value engine with
// write-ahead-log persistence, a multi-tier cache, adaptive routing, and a
// quantum-entanglement prefetcher. Engine is the public facade: it
// orchestrates the Router, Shards, Event-Horizon cache, Entanglement
// Registry/Prefetcher, and Entropy Monitor behind a small GET/PUT/DELETE/
// quantum-get surface (spec §4.1).
//
// © 2025 entropykv authors. MIT License.
package entropykv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entropykv/entropykv/internal/cache"
	"github.com/entropykv/entropykv/internal/checkpoint"
	"github.com/entropykv/entropykv/internal/clockpro"
	"github.com/entropykv/entropykv/internal/entangle"
	"github.com/entropykv/entropykv/internal/entropy"
	"github.com/entropykv/entropykv/internal/recovery"
	"github.com/entropykv/entropykv/internal/router"
	"github.com/entropykv/entropykv/internal/shard"
	"github.com/entropykv/entropykv/internal/types"
	"go.uber.org/zap"
)

const manifestFormatVersion uint32 = 1

type manifest struct {
	FormatVersion uint32 `json:"format_version"`
	CreatedNs     uint64 `json:"created_ns"`
	NumShards     uint16 `json:"num_shards"`
}

// Engine is the top-level handle returned by New. It owns every shard, the
// router, the Event-Horizon cache, the entanglement registry/prefetcher, and
// the entropy monitor, and is safe for concurrent use by many goroutines.
type Engine struct {
	cfg *config

	shards []*shard.Shard
	rt     *router.Router
	eh     *cache.EventHorizon
	reg    *entangle.Registry
	pre    *entangle.Prefetcher
	mon    *entropy.Monitor
	ckpt   *checkpoint.Store
	ckptLp *checkpointLoop

	metrics metricsSink
	logger  *zap.Logger
	loaders *loaderGroup

	migrationSeq atomic.Uint64
	shuttingDown atomic.Bool
	opWg         sync.WaitGroup
	lastEntropy  atomic.Pointer[entropy.Report]
}

// New constructs an Engine: it creates (or opens) data_root, replays every
// shard's WAL, opens fresh active segments, and starts the background
// entropy sampler.
func New(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	if err := applyOptions(cfg, opts); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.dataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("entropykv: create data_root: %w", err)
	}
	if err := writeManifestIfAbsent(cfg); err != nil {
		return nil, err
	}

	shards := make([]*shard.Shard, cfg.numShards)
	for i := 0; i < cfg.numShards; i++ {
		shards[i] = shard.New(shard.Config{
			ID:              uint16(i),
			DataRoot:        cfg.dataRoot,
			MaxSegmentBytes: cfg.limits.MaxSegmentBytes,
			MaxSegmentAgeMs: cfg.limits.MaxSegmentAgeMs,
			Compression:     cfg.walCompression,
			DurabilityMode:  shard.DurabilityMode(cfg.durability.Mode),
			FlushMs:         cfg.durability.FlushMs,
			BatchBytes:      cfg.durability.BatchBytes,
		})
	}

	ckptDir := filepath.Join(cfg.dataRoot, "checkpoints")
	ckpt, err := checkpoint.Open(ckptDir)
	if err != nil {
		return nil, fmt.Errorf("entropykv: open checkpoint store: %w", err)
	}

	if err := recovery.ReplayAll(shards, ckpt); err != nil {
		return nil, fmt.Errorf("entropykv: recovery: %w", err)
	}

	tierBounds := make(map[cache.Tier]cache.TierConfig, len(AllTiers))
	for _, t := range AllTiers {
		tc := cfg.cacheTiers[t]
		tierBounds[cache.Tier(t)] = cache.TierConfig{CapacityBytes: tc.CapacityBytes, CapacityEntries: tc.CapacityEntries}
	}
	eh := cache.New(tierBounds, clockpro.DefaultWeights())

	rules := make([]entangle.Rule, len(cfg.entanglement))
	for i, r := range cfg.entanglement {
		rules[i] = entangle.Rule{Pattern: r.Pattern, Related: r.Related, MaxFanout: r.MaxFanout, Strength: r.Strength}
	}
	reg := entangle.NewRegistry(rules)

	metrics := newMetricsSink(cfg.registry)

	pre := entangle.NewPrefetcher(cfg.prefetchConcurrency, cfg.prefetchDeadline, cfg.prefetchTotalDeadline, func(result string) {
		metrics.incPrefetch(result)
	})

	e := &Engine{
		cfg: cfg, shards: shards, eh: eh, reg: reg, pre: pre, ckpt: ckpt,
		metrics: metrics, logger: cfg.logger, loaders: newLoaderGroup(),
	}
	e.rt = router.New(shards, router.DefaultWeights())

	statsFn := func() []entropy.ShardStats {
		out := make([]entropy.ShardStats, len(e.shards))
		for i, s := range e.shards {
			c := s.Counters()
			out[i] = entropy.ShardStats{ID: s.ID(), Reads: c.Reads, Writes: c.Writes, Bytes: c.Bytes}
		}
		return out
	}
	e.mon = entropy.NewMonitor(entropy.Config{
		SampleInterval:     cfg.entropy.SampleInterval,
		ImbalanceThreshold: cfg.entropy.ImbalanceThreshold,
		RebalanceCooldown:  cfg.entropy.RebalanceCooldown,
		Alpha:              cfg.entropy.Alpha, Beta: cfg.entropy.Beta, Gamma: cfg.entropy.Gamma,
	}, statsFn, e.onEntropyReport)
	e.mon.Start()

	e.ckptLp = newCheckpointLoop(e, cfg.checkpointInterval)
	e.ckptLp.start()

	e.logger.Info("entropykv engine started",
		zap.Int("num_shards", cfg.numShards),
		zap.String("data_root", cfg.dataRoot),
		zap.String("durability", cfg.durability.Mode.String()),
	)
	return e, nil
}

func writeManifestIfAbsent(cfg *config) error {
	path := filepath.Join(cfg.dataRoot, "manifest.json")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	m := manifest{FormatVersion: manifestFormatVersion, CreatedNs: nowNs(), NumShards: uint16(cfg.numShards)}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("entropykv: marshal manifest: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

func hintToTier(hint TierHint) cache.Tier {
	switch hint {
	case TierHot:
		return cache.TierHot
	case TierWarm:
		return cache.TierWarm
	case TierCold:
		return cache.TierCold
	default:
		return cache.TierWarm // TierAuto: a reasonable default placement
	}
}

// Put stores key/value, routing it to a shard per opts (or the configured
// default policy), appending durably to that shard's WAL, and optionally
// write-through-populating the Event-Horizon cache (spec §4.1).
func (e *Engine) Put(ctx context.Context, key, value []byte, opts PutOptions) (PutResult, error) {
	start := time.Now()
	if e.shuttingDown.Load() {
		return PutResult{}, ErrShutdown
	}
	if err := validateKeyValue(key, value, e.cfg.limits.MaxKeyBytes, e.cfg.limits.MaxValueBytes); err != nil {
		return PutResult{}, err
	}
	ctx, cancel := withOpDeadline(ctx, opts.Deadline)
	defer cancel()
	if ctx.Err() != nil {
		return PutResult{}, ErrTimeout
	}
	e.opWg.Add(1)
	defer e.opWg.Done()

	var shardID uint16
	if opts.OverrideShard != nil {
		shardID = *opts.OverrideShard
	} else {
		shardID = e.rt.PlaceForPut(key, router.Policy(e.cfg.routingDefault))
	}
	if int(shardID) >= len(e.shards) {
		return PutResult{}, ErrShardUnavailable
	}
	s := e.shards[shardID]

	rec, err := s.ApplyPut(ctx, key, value, uint8(opts.AccessPattern))
	if err != nil {
		if ctx.Err() != nil {
			return PutResult{}, ErrTimeout
		}
		return PutResult{}, err
	}
	e.metrics.incPuts(shardID)
	e.metrics.addWalBytes(shardID, int64(len(key)+len(value)))

	if !opts.SkipCache {
		tier := hintToTier(opts.AccessPattern)
		e.eh.Put(tier, rec)
		e.metrics.setCacheBytes(cacheTierName(tier), e.eh.TierBytes(tier))
	}

	return PutResult{ShardID: shardID, ElapsedNs: uint64(time.Since(start).Nanoseconds())}, nil
}

// Get resolves key to its owning shard (spec §4.2: "GET/DELETE must honor
// the stored record's shard_id") and returns its value, consulting the
// Event-Horizon cache first unless consistency=Latest requires bypassing it.
func (e *Engine) Get(ctx context.Context, key []byte, opts GetOptions) (GetResult, error) {
	start := time.Now()
	ctx, cancel := withOpDeadline(ctx, opts.Deadline)
	defer cancel()
	if ctx.Err() != nil {
		return GetResult{}, ErrTimeout
	}
	shardID := e.rt.ShardForRead(key)

	if opts.Consistency == ConsistencyCachedOk {
		if v, _, ok := e.eh.Get(key); ok {
			e.metrics.incGets(shardID, true)
			return GetResult{Value: v, ShardID: shardID, Source: SourceCache, ElapsedNs: uint64(time.Since(start).Nanoseconds())}, nil
		}
	}

	// Concurrent callers missing the cache for the same key collapse into a
	// single shard read via singleflight, rather than each re-reading the
	// shard's table independently.
	rec, err, _ := e.loaders.load(ctx, key, func(_ context.Context, key []byte) (Record, error) {
		return e.shardRecord(shardID, key)
	})
	if err != nil {
		e.metrics.incGets(shardID, false)
		return GetResult{}, err
	}
	e.metrics.incGets(shardID, false)
	if !opts.SkipCache {
		tier := hintToTier(rec.TierHint)
		e.eh.Put(tier, &types.Record{
			Key: rec.Key, Value: rec.Value, Version: rec.Version,
			CreatedAtNs: rec.CreatedAtNs, UpdatedAtNs: rec.UpdatedAtNs,
			ShardID: rec.ShardID, TierHint: uint8(rec.TierHint),
		})
		e.metrics.setCacheBytes(cacheTierName(tier), e.eh.TierBytes(tier))
	}
	if opts.Prefetch {
		e.scheduleRelatedPrefetch(string(key))
	}
	return GetResult{Value: rec.Value, ShardID: shardID, Source: SourceShard, ElapsedNs: uint64(time.Since(start).Nanoseconds())}, nil
}

// shardRecord reads key directly from shardID's authoritative table,
// converting the internal record shape to the public Record and ErrNotFound
// on a miss. It is the LoaderFunc wrapped by loaders.load in Get.
func (e *Engine) shardRecord(shardID uint16, key []byte) (Record, error) {
	rec, ok := e.shards[shardID].Get(key)
	if !ok {
		return Record{}, ErrNotFound
	}
	return Record{
		Key: rec.Key, Value: rec.Value, Version: rec.Version,
		CreatedAtNs: rec.CreatedAtNs, UpdatedAtNs: rec.UpdatedAtNs,
		ShardID: rec.ShardID, TierHint: TierHint(rec.TierHint),
	}, nil
}

// Delete removes key from its owning shard and invalidates it from every
// cache tier.
func (e *Engine) Delete(ctx context.Context, key []byte) (DeleteResult, error) {
	start := time.Now()
	if e.shuttingDown.Load() {
		return DeleteResult{}, ErrShutdown
	}
	if ctx.Err() != nil {
		return DeleteResult{}, ErrTimeout
	}
	e.opWg.Add(1)
	defer e.opWg.Done()
	shardID := e.rt.ShardForRead(key)
	existed, err := e.shards[shardID].ApplyDelete(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			return DeleteResult{}, ErrTimeout
		}
		return DeleteResult{}, err
	}
	if !existed {
		return DeleteResult{}, ErrNotFound
	}
	e.metrics.incDeletes(shardID)
	e.eh.Invalidate(key)
	return DeleteResult{ShardsAffected: []uint16{shardID}, ElapsedNs: uint64(time.Since(start).Nanoseconds())}, nil
}

// QuantumGet issues the primary GET synchronously (Latest), then schedules
// bounded best-effort prefetches for every related key the Entanglement
// Registry resolves, with the engine's configured per-item and collective
// deadlines (spec §4.6).
func (e *Engine) QuantumGet(ctx context.Context, key []byte) (QuantumResult, error) {
	primary, err := e.Get(ctx, key, GetOptions{Consistency: ConsistencyLatest})
	if err != nil && err != ErrNotFound {
		return QuantumResult{}, err
	}

	related := e.reg.Resolve(string(key))
	result := QuantumResult{Related: make(map[string][]byte), Sources: make(map[string]string)}
	if err == nil {
		result.Primary = primary.Value
	}
	if len(related) == 0 {
		return result, nil
	}

	var srcMu sync.Mutex
	srcs := make(map[string]string, len(related))
	fetched := e.pre.Run(ctx, related, func(ctx context.Context, k []byte) ([]byte, bool, error) {
		r, gerr := e.Get(ctx, k, GetOptions{Consistency: ConsistencyCachedOk})
		if gerr == ErrNotFound {
			return nil, false, nil
		}
		if gerr != nil {
			return nil, false, gerr
		}
		srcMu.Lock()
		srcs[string(k)] = r.Source.String()
		srcMu.Unlock()
		return r.Value, true, nil
	})
	srcMu.Lock()
	defer srcMu.Unlock()
	for _, k := range related {
		if v, ok := fetched[k]; ok {
			result.Related[k] = v
			result.Sources[k] = srcs[k]
		} else {
			result.Sources[k] = "miss"
		}
	}
	return result, nil
}

func (e *Engine) scheduleRelatedPrefetch(key string) {
	related := e.reg.Resolve(key)
	if len(related) == 0 {
		return
	}
	go e.pre.Run(context.Background(), related, func(ctx context.Context, k []byte) ([]byte, bool, error) {
		r, gerr := e.Get(ctx, k, GetOptions{Consistency: ConsistencyCachedOk})
		if gerr == ErrNotFound {
			return nil, false, nil
		}
		if gerr != nil {
			return nil, false, gerr
		}
		return r.Value, true, nil
	})
}

// MetricsSnapshot is the structure returned by Metrics().
type MetricsSnapshot struct {
	Shards  []ShardMetrics
	Cache   map[string]int64
	Entropy entropy.Report
}

// ShardMetrics reports one shard's current counters.
type ShardMetrics struct {
	ID       uint16
	Reads    uint64
	Writes   uint64
	Bytes    int64
	KeyCount int
}

// Metrics returns a point-in-time snapshot across shards, cache tiers, and
// the entropy monitor (spec §6: metrics() -> {shards, cache, wal, entropy}).
func (e *Engine) Metrics() MetricsSnapshot {
	snap := MetricsSnapshot{Cache: make(map[string]int64, len(AllTiers))}
	for _, s := range e.shards {
		c := s.Counters()
		snap.Shards = append(snap.Shards, ShardMetrics{ID: s.ID(), Reads: c.Reads, Writes: c.Writes, Bytes: c.Bytes, KeyCount: c.KeyCount})
	}
	for _, t := range []cache.Tier{cache.TierUniversal, cache.TierCold, cache.TierWarm, cache.TierHot} {
		snap.Cache[cacheTierName(t)] = e.eh.TierBytes(t)
	}
	if r := e.lastEntropy.Load(); r != nil {
		snap.Entropy = *r
	}
	return snap
}

func cacheTierName(t cache.Tier) string { return t.String() }

// onEntropyReport is invoked by the entropy monitor after each sampling
// window; it updates the imbalance gauge and, when recommended, executes a
// bounded rebalance (spec §4.2, §4.7).
func (e *Engine) onEntropyReport(report entropy.Report) {
	e.lastEntropy.Store(&report)
	e.metrics.setEntropyImbalance(report.Imbalance)
	if !report.RecommendRebalance || len(report.HotShards) == 0 || len(report.ColdShards) == 0 {
		return
	}
	e.rebalance(report.HotShards[0], report.ColdShards[0])
}

// maxMigrationKeysPerWindow bounds how many keys one rebalance pass moves,
// per spec §4.7: "Emit MigrationTasks... bounded per window".
const maxMigrationKeysPerWindow = 256

// rebalance moves up to maxMigrationKeysPerWindow records from the
// overloaded shard to the underloaded one, following the paired-frame
// migration protocol of spec §4.2: MigrationPut lands in the target before
// MigrationDelete removes the source, so a concurrent reader never
// observes neither copy.
func (e *Engine) rebalance(fromID, toID uint16) {
	src := e.shards[fromID]
	dst := e.shards[toID]
	records := src.Snapshot()
	if len(records) > maxMigrationKeysPerWindow {
		records = records[:maxMigrationKeysPerWindow]
	}

	for _, rec := range records {
		migrationID := e.migrationSeq.Add(1)
		if _, err := dst.ApplyMigrationPut(context.Background(), rec.Key, rec.Value, migrationID); err != nil {
			e.logger.Warn("migration put failed", zap.Uint16("from", fromID), zap.Uint16("to", toID), zap.Error(err))
			e.metrics.incMigrations("conflict")
			continue
		}
		e.rt.ApplyMigration([][]byte{rec.Key}, toID)
		if err := src.ApplyMigrationDelete(context.Background(), rec.Key, migrationID); err != nil {
			e.logger.Warn("migration delete failed", zap.Uint16("from", fromID), zap.Error(err))
			e.metrics.incMigrations("conflict")
			continue
		}
		e.eh.Invalidate(rec.Key)
		e.metrics.incMigrations("applied")
	}
}

// Close drains in-flight operations, stops the entropy monitor, and closes
// every shard's WAL and the checkpoint store (spec §9: "teardown drains
// pending flushes and closes WAL segments").
func (e *Engine) Close() error {
	e.shuttingDown.Store(true)
	e.opWg.Wait()
	e.mon.Stop()
	e.ckptLp.stop()

	var firstErr error
	for _, s := range e.shards {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.ckpt.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// withOpDeadline derives a context bounded by d when d > 0, matching spec
// §5's "all public operations accept an optional deadline". A zero deadline
// leaves ctx untouched.
func withOpDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
