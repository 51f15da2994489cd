// Package router implements adaptive sharding (spec §4.2): mapping a key to
// a shard via a selectable policy, tracking per-shard load signals, and
// applying migration recommendations from the entropy monitor.
//
// The routing table recording non-hash placements is a copy-on-write
// immutable map (spec §5): readers always see a complete, untorn snapshot.
// Hash-policy placements are never stored in the table at all, since they
// are a pure function of the key and recomputed on every lookup — this
// keeps the common case allocation-free.
//
// © 2025 entropykv authors. MIT License.
package router

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/entropykv/entropykv/internal/shard"
)

// Policy selects how the Router places a fresh key.
type Policy uint8

const (
	Hash Policy = iota
	Locality
	LoadBalanced
	Attraction
)

// Weights tunes the Attraction (gravitational) scoring function,
// score(i) = mass_i*Mass - load_i*Load - distance(key,centroid_i)*Distance
// (spec §4.2).
type Weights struct {
	Mass     float64
	Load     float64
	Distance float64
}

// DefaultWeights returns entropykv's documented default weights.
func DefaultWeights() Weights { return Weights{Mass: 1, Load: 1, Distance: 0.01} }

type routingTable map[string]uint16

// Router maps keys to shards and tracks enough state to support
// Locality/LoadBalanced/Attraction placement and migration.
type Router struct {
	shards  []*shard.Shard
	weights Weights

	table atomic.Pointer[routingTable]

	localityMu sync.Mutex
	localityBy map[uint16]map[string]int // shard id -> prefix -> count

	centroidMu sync.Mutex
	centroid   map[uint16]uint64 // shard id -> running xor-fold of placed key hashes
}

// New constructs a Router over the given fixed shard array.
func New(shards []*shard.Shard, weights Weights) *Router {
	empty := routingTable{}
	r := &Router{
		shards:     shards,
		weights:    weights,
		localityBy: make(map[uint16]map[string]int, len(shards)),
		centroid:   make(map[uint16]uint64, len(shards)),
	}
	r.table.Store(&empty)
	for _, s := range shards {
		r.localityBy[s.ID()] = make(map[string]int)
	}
	return r
}

// NumShards returns the fixed shard count.
func (r *Router) NumShards() int { return len(r.shards) }

func hashKey(key []byte) uint64 { return xxhash.Sum64(key) }

func (r *Router) hashShard(key []byte) uint16 {
	return uint16(hashKey(key) % uint64(len(r.shards)))
}

// PlaceForPut chooses the owning shard for a fresh key under the given
// policy and, for every policy other than Hash, records the placement in the
// copy-on-write routing table so ShardForRead can find it later.
func (r *Router) PlaceForPut(key []byte, policy Policy) uint16 {
	var id uint16
	switch policy {
	case Locality:
		id = r.placeLocality(key)
	case LoadBalanced:
		id = r.placeLoadBalanced(key)
	case Attraction:
		id = r.placeAttraction(key)
	default:
		return r.hashShard(key) // Hash: pure function, nothing to record
	}
	r.publish(key, id)
	if policy == Locality {
		r.recordLocality(id, key)
	}
	if policy == Attraction {
		r.recordCentroid(id, key)
	}
	return id
}

// ShardForRead resolves the shard owning key for GET/DELETE. It honours the
// shard recorded at put time (the routing table), falling back to the Hash
// policy's deterministic placement for keys that were never placed
// non-hash (spec §4.2: "subsequent GET/DELETE do not re-route").
func (r *Router) ShardForRead(key []byte) uint16 {
	table := *r.table.Load()
	if id, ok := table[string(key)]; ok {
		return id
	}
	return r.hashShard(key)
}

func (r *Router) publish(key []byte, id uint16) {
	for {
		old := r.table.Load()
		next := make(routingTable, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[string(key)] = id
		if r.table.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Shard returns the shard object by id.
func (r *Router) Shard(id uint16) *shard.Shard { return r.shards[id] }

func (r *Router) placeLoadBalanced(key []byte) uint16 {
	best := uint16(0)
	bestCount := -1
	for _, s := range r.shards {
		n := s.Counters().KeyCount
		if bestCount == -1 || n < bestCount || (n == bestCount && s.ID() < best) {
			bestCount = n
			best = s.ID()
		}
	}
	return best
}

func localityPrefix(key []byte) string {
	for i, b := range key {
		if b == ':' {
			return string(key[:i])
		}
	}
	return string(key)
}

func (r *Router) placeLocality(key []byte) uint16 {
	prefix := localityPrefix(key)
	r.localityMu.Lock()
	bestID := r.shards[0].ID()
	bestScore := -1
	bestLoad := -1
	for _, s := range r.shards {
		count := r.localityBy[s.ID()][prefix]
		load := s.Counters().KeyCount
		if count > bestScore || (count == bestScore && load < bestLoad) {
			bestScore = count
			bestLoad = load
			bestID = s.ID()
		}
	}
	r.localityMu.Unlock()
	return bestID
}

func (r *Router) recordLocality(id uint16, key []byte) {
	prefix := localityPrefix(key)
	r.localityMu.Lock()
	r.localityBy[id][prefix]++
	r.localityMu.Unlock()
}

func popcount64(x uint64) int {
	n := 0
	for x != 0 {
		x &= x - 1
		n++
	}
	return n
}

func (r *Router) placeAttraction(key []byte) uint16 {
	h := hashKey(key)
	bestID := r.shards[0].ID()
	bestScore := -1.0
	first := true
	r.centroidMu.Lock()
	for _, s := range r.shards {
		mass := s.Mass()
		load := float64(s.Counters().KeyCount)
		centroid := r.centroid[s.ID()]
		dist := float64(popcount64(h ^ centroid))
		score := mass*r.weights.Mass - load*r.weights.Load - dist*r.weights.Distance
		if first || score > bestScore || (score == bestScore && s.ID() < bestID) {
			bestScore = score
			bestID = s.ID()
			first = false
		}
	}
	r.centroidMu.Unlock()
	return bestID
}

func (r *Router) recordCentroid(id uint16, key []byte) {
	r.centroidMu.Lock()
	r.centroid[id] ^= hashKey(key)
	r.centroidMu.Unlock()
}

// ApplyMigration atomically republishes the routing table so every key in
// keys now resolves to toShard, satisfying spec §4.2's "atomic pointer swap
// in the router's routing table for the affected keys".
func (r *Router) ApplyMigration(keys [][]byte, toShard uint16) {
	for {
		old := r.table.Load()
		next := make(routingTable, len(*old)+len(keys))
		for k, v := range *old {
			next[k] = v
		}
		for _, k := range keys {
			next[string(k)] = toShard
		}
		if r.table.CompareAndSwap(old, &next) {
			return
		}
	}
}
