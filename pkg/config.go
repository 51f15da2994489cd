package entropykv

// config.go defines the internal configuration object and the set of
// functional options passed to New(): Option func(*config), defaultConfig(),
// applyOptions(). The config is not generic over K/V, since the engine
// always stores []byte keys/values.
//
// © 2025 entropykv authors. MIT License.

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DurabilityMode selects when a PUT is considered durable (spec §4.3).
type DurabilityMode uint8

const (
	DurabilityAsync DurabilityMode = iota
	DurabilityGrouped
	DurabilitySync
)

func (d DurabilityMode) String() string {
	switch d {
	case DurabilityGrouped:
		return "grouped"
	case DurabilitySync:
		return "sync"
	default:
		return "async"
	}
}

// DurabilityConfig parameterizes the chosen DurabilityMode.
type DurabilityConfig struct {
	Mode       DurabilityMode
	FlushMs    int   // Async: fsync every FlushMs; Grouped: fallback batch flush interval
	BatchBytes int64 // Async: or every BatchBytes, whichever first; Grouped: batch size
}

// RoutingPolicy selects how the Router places a fresh key (spec §4.2).
type RoutingPolicy uint8

const (
	RoutingHash RoutingPolicy = iota
	RoutingLocality
	RoutingLoadBalanced
	RoutingAttraction
)

func (r RoutingPolicy) String() string {
	switch r {
	case RoutingLocality:
		return "locality"
	case RoutingLoadBalanced:
		return "load_balanced"
	case RoutingAttraction:
		return "attraction"
	default:
		return "hash"
	}
}

// EntanglementRuleConfig is one configured key-pattern relation (spec §3,
// §4.6).
type EntanglementRuleConfig struct {
	Pattern   string
	Related   []string
	MaxFanout uint16
	Strength  float32 // in [0,1]
}

// EntropyConfig parameterizes the Entropy/Load Monitor (spec §4.7).
type EntropyConfig struct {
	SampleInterval     time.Duration
	ImbalanceThreshold float64
	RebalanceCooldown  time.Duration
	Alpha, Beta, Gamma float64 // activity weights: reads, writes, bytes
}

// Limits bounds key/value/segment sizes (spec §6).
type Limits struct {
	MaxKeyBytes     int
	MaxValueBytes   int
	MaxSegmentBytes int64
	MaxSegmentAgeMs int64
}

// config bundles every knob influencing engine behaviour. All fields are
// immutable once the Engine is constructed, except EntanglementRules which
// §3 explicitly allows hot-reloading as an atomic whole-set swap.
type config struct {
	numShards int
	dataRoot  string

	durability     DurabilityConfig
	cacheTiers     map[CacheTier]TierConfig
	routingDefault RoutingPolicy
	entanglement   []EntanglementRuleConfig
	entropy        EntropyConfig
	limits         Limits

	registry       *prometheus.Registry
	logger         *zap.Logger
	walCompression bool

	prefetchDeadline      time.Duration
	prefetchTotalDeadline time.Duration
	prefetchConcurrency   int64

	checkpointInterval time.Duration
}

// Option is the functional option passed to New.
type Option func(*config)

func defaultConfig() *config {
	shards := runtime.NumCPU()
	if shards < 1 {
		shards = 1
	}
	return &config{
		numShards: shards,
		dataRoot:  "./data",
		durability: DurabilityConfig{
			Mode:       DurabilityAsync,
			FlushMs:    100,
			BatchBytes: 1 << 20,
		},
		cacheTiers: map[CacheTier]TierConfig{
			TierHotCache:  {CapacityBytes: 64 << 20, CapacityEntries: 100_000},
			TierWarmCache: {CapacityBytes: 128 << 20, CapacityEntries: 500_000},
			TierColdCache: {CapacityBytes: 256 << 20, CapacityEntries: 1_000_000},
			TierUniversal: {CapacityBytes: 64 << 20, CapacityEntries: 100_000},
		},
		routingDefault: RoutingHash,
		entropy: EntropyConfig{
			SampleInterval:     time.Second,
			ImbalanceThreshold: 0.35,
			RebalanceCooldown:  60 * time.Second,
			Alpha:              1,
			Beta:               2,
			Gamma:              0.001,
		},
		limits: Limits{
			MaxKeyBytes:     1024,
			MaxValueBytes:   16 << 20,
			MaxSegmentBytes: 128 << 20,
			MaxSegmentAgeMs: 10 * 60 * 1000,
		},
		logger:                zap.NewNop(),
		prefetchDeadline:      2 * time.Millisecond,
		prefetchTotalDeadline: 5 * time.Millisecond,
		prefetchConcurrency:   64,
		checkpointInterval:    30 * time.Second,
	}
}

/* ---------------- Functional options exposed to users ---------------- */

// WithNumShards sets the fixed shard count (must be > 0 and <= 1024).
func WithNumShards(n int) Option {
	return func(c *config) { c.numShards = n }
}

// WithDataRoot sets the on-disk directory for WAL segments and checkpoints.
func WithDataRoot(path string) Option {
	return func(c *config) { c.dataRoot = path }
}

// WithDurability selects the durability mode and its parameters.
func WithDurability(d DurabilityConfig) Option {
	return func(c *config) { c.durability = d }
}

// WithCacheTier overrides one Event-Horizon tier's bounds.
func WithCacheTier(tier CacheTier, cfg TierConfig) Option {
	return func(c *config) {
		if c.cacheTiers == nil {
			c.cacheTiers = make(map[CacheTier]TierConfig)
		}
		c.cacheTiers[tier] = cfg
	}
}

// WithRoutingDefault selects the default placement policy for fresh keys.
func WithRoutingDefault(p RoutingPolicy) Option {
	return func(c *config) { c.routingDefault = p }
}

// WithEntanglementRules installs the entanglement rule set, evaluated in the
// given order (spec §4.6: "Rules are evaluated in insertion order").
func WithEntanglementRules(rules []EntanglementRuleConfig) Option {
	return func(c *config) { c.entanglement = rules }
}

// WithEntropyConfig overrides the Entropy/Load Monitor's parameters.
func WithEntropyConfig(e EntropyConfig) Option {
	return func(c *config) { c.entropy = e }
}

// WithLimits overrides size and rotation limits.
func WithLimits(l Limits) Option {
	return func(c *config) { c.limits = l }
}

// WithMetrics enables Prometheus metrics collection. Passing nil disables
// metrics (default); metrics collection is opt-in.
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) { c.registry = reg }
}

// WithLogger plugs an external zap.Logger. The engine never logs on the hot
// path; it logs engine start-up, failed migration steps, and failed
// checkpoint snapshots or segment purges.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithWalCompression toggles S2 compression of large WAL frame values
// (frame flags bit0, spec §4.4).
func WithWalCompression(enabled bool) Option {
	return func(c *config) { c.walCompression = enabled }
}

// WithPrefetchDeadlines overrides the quantum-get per-item and collective
// prefetch deadlines (spec §4.6 defaults: 2ms / 5ms).
func WithPrefetchDeadlines(perItem, collective time.Duration) Option {
	return func(c *config) {
		c.prefetchDeadline = perItem
		c.prefetchTotalDeadline = collective
	}
}

// WithPrefetchConcurrency bounds the prefetch worker pool size.
func WithPrefetchConcurrency(n int64) Option {
	return func(c *config) { c.prefetchConcurrency = n }
}

// WithCheckpointInterval overrides how often each shard's live record set is
// snapshotted to the checkpoint store and purgeable WAL segments are
// released (default 30s). A non-positive interval disables the background
// checkpoint loop entirely.
func WithCheckpointInterval(d time.Duration) Option {
	return func(c *config) { c.checkpointInterval = d }
}

/* ---------------- Helper: apply options & validate ---------------- */

func applyOptions(cfg *config, opts []Option) error {
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.numShards <= 0 || cfg.numShards > 1024 {
		return ErrInvalidConfig
	}
	if cfg.limits.MaxKeyBytes <= 0 || cfg.limits.MaxValueBytes <= 0 {
		return ErrInvalidConfig
	}
	if cfg.dataRoot == "" {
		return ErrInvalidConfig
	}
	return nil
}
