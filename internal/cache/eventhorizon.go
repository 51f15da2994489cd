// Package cache implements the Event-Horizon multi-tier cache (spec §4.5):
// independently-bounded Hot/Warm/Cold/Universal tiers sitting in front of the
// shards, each backed by an internal/clockpro.Clock ring for O(1) CLOCK-style
// eviction.
//
// © 2025 entropykv authors. MIT License.
package cache

import (
	"strings"
	"sync"

	"github.com/entropykv/entropykv/internal/clockpro"
	"github.com/entropykv/entropykv/internal/types"
	"github.com/entropykv/entropykv/internal/unsafehelpers"
)

// Tier names one of the Event-Horizon cache's bounded tiers. Values match
// pkg.CacheTier's ordering (Universal lowest priority, Hot highest) so the
// two can be converted with a plain cast at the pkg boundary.
type Tier uint8

const (
	TierUniversal Tier = iota
	TierCold
	TierWarm
	TierHot
)

func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierWarm:
		return "warm"
	case TierCold:
		return "cold"
	default:
		return "universal"
	}
}

// AllTiers lists every tier in fixed iteration order.
var AllTiers = []Tier{TierUniversal, TierCold, TierWarm, TierHot}

// promoteThreshold is the number of reads within a tier before an entry is
// promoted to the next tier up (spec §4.5: "promote if access_count crosses
// a tier threshold").
const promoteThreshold = 3

// TierConfig bounds one cache tier. Only CapacityBytes is enforced;
// CapacityEntries is accepted but does not limit the tier's entry count.
type TierConfig struct {
	CapacityBytes   int64
	CapacityEntries int
}

// Consistency names the two read levels: Latest reads bypass the cache and go
// to the shard, CachedOk may return a possibly-stale cached value. The
// EventHorizon methods themselves do not take it.
type Consistency uint8

const (
	ConsistencyLatest Consistency = iota
	ConsistencyCachedOk
)

type tierState struct {
	clock   *clockpro.Clock
	mu      sync.Mutex
	reads   map[string]int
}

// EventHorizon is the cache orchestrator owning every tier.
type EventHorizon struct {
	weights clockpro.Weights
	tiers   map[Tier]*tierState
}

// New constructs an EventHorizon with the given per-tier capacity bounds.
func New(bounds map[Tier]TierConfig, weights clockpro.Weights) *EventHorizon {
	eh := &EventHorizon{weights: weights, tiers: make(map[Tier]*tierState, len(AllTiers))}
	for _, t := range AllTiers {
		cfg := bounds[t]
		ts := &tierState{reads: make(map[string]int)}
		capturedTier := t
		ts.clock = clockpro.New(cfg.CapacityBytes, int(t), weights, func(key string, value []byte, reason clockpro.EvictionReason) {
			ts.mu.Lock()
			delete(ts.reads, key)
			ts.mu.Unlock()
			_ = capturedTier
			_ = value
			_ = reason
		})
		eh.tiers[t] = ts
	}
	return eh
}

// Put write-through-inserts rec's value into the tier hinted by hint (spec
// §4.5: "insert into the tier hinted by access_pattern").
func (eh *EventHorizon) Put(hint Tier, rec *types.Record) {
	ts := eh.tiers[hint]
	size := int64(len(rec.Key) + len(rec.Value))
	ts.clock.Put(string(rec.Key), rec.Value, size)
}

// Get looks up key across tiers from hottest to coldest, promoting on
// threshold crossing. It reports the tier it was found in.
func (eh *EventHorizon) Get(key []byte) (value []byte, tier Tier, ok bool) {
	k := unsafehelpers.BytesToString(key)
	for i := len(AllTiers) - 1; i >= 0; i-- {
		t := AllTiers[i]
		ts := eh.tiers[t]
		v, _, found := ts.clock.Get(k)
		if !found {
			continue
		}
		eh.maybePromote(t, k, v)
		return v, t, true
	}
	return nil, 0, false
}

func (eh *EventHorizon) maybePromote(t Tier, key string, value []byte) {
	if t == TierHot {
		return
	}
	key = strings.Clone(key) // key aliases the caller's buffer (see Get) and is stored below
	src := eh.tiers[t]
	src.mu.Lock()
	src.reads[key]++
	n := src.reads[key]
	src.mu.Unlock()
	if n < promoteThreshold {
		return
	}
	next := t + 1
	dst := eh.tiers[next]
	dst.clock.Put(key, value, int64(len(key)+len(value)))
	src.clock.Remove(key)
	src.mu.Lock()
	delete(src.reads, key)
	src.mu.Unlock()
}

// Invalidate removes key from every tier (DELETE path).
func (eh *EventHorizon) Invalidate(key []byte) {
	k := string(key)
	for _, t := range AllTiers {
		eh.tiers[t].clock.Remove(k)
	}
}

// TierBytes reports the live byte occupancy of one tier, for metrics
// (engine.cache.<tier>.bytes).
func (eh *EventHorizon) TierBytes(t Tier) int64 {
	return eh.tiers[t].clock.Bytes()
}

// TierLen reports the live entry count of one tier.
func (eh *EventHorizon) TierLen(t Tier) int {
	return eh.tiers[t].clock.Len()
}
