// Package genring tracks sealed WAL segments awaiting purge, as a ring of
// generations each retired as a unit once safe (§3, WalSegment lifecycle:
// "deleted only after a checkpoint declares all its records durable in
// memory and compaction policy permits"). Each *generation* here is one
// sealed segment file.
//
// Concurrency model
// ------------------
// A Ring is owned by exactly one shard's retention goroutine; all exported
// methods assume external synchronization except where atomics are used
// explicitly.
//
// © 2025 entropykv authors. MIT License.
package genring

import "sync/atomic"

// Generation is one sealed segment awaiting a checkpoint watermark high
// enough to permit deletion.
type Generation struct {
	id      uint64
	path    string
	maxSeq  uint64
	purged  atomic.Bool
}

func newGeneration(id uint64, path string, maxSeq uint64) *Generation {
	return &Generation{id: id, path: path, maxSeq: maxSeq}
}

// ID is a stable identifier for the generation (its segment's seq_base).
func (g *Generation) ID() uint64 { return g.id }

// Path is the sealed segment's file path.
func (g *Generation) Path() string { return g.path }

// MaxSeq is the highest WAL sequence number the segment contains.
func (g *Generation) MaxSeq() uint64 { return g.maxSeq }

// Purged reports whether Ring.PurgeBelow has already removed this generation.
func (g *Generation) Purged() bool { return g.purged.Load() }

// Ring holds every sealed-but-not-yet-purged segment for one shard, oldest
// first. It is deliberately unbounded in length, since segment count depends
// on write rate and checkpoint cadence, not on a fixed generation budget.
type Ring struct {
	gens []*Generation
}

// New constructs an empty retention ring.
func New() *Ring { return &Ring{} }

// Add registers a newly-sealed segment. Segments must be added in the order
// they were sealed (i.e. ascending seq_base) so PurgeBelow can stop at the
// first generation it must keep.
func (r *Ring) Add(id uint64, path string, maxSeq uint64) *Generation {
	g := newGeneration(id, path, maxSeq)
	r.gens = append(r.gens, g)
	return g
}

// PurgeBelow returns every generation whose MaxSeq <= watermark and removes
// them from the ring bookkeeping, marking each Purged. The caller (checkpoint
// retention loop) is responsible for actually deleting the segment file;
// Ring only tracks which segments are now eligible.
func (r *Ring) PurgeBelow(watermark uint64) []*Generation {
	var purged []*Generation
	i := 0
	for ; i < len(r.gens); i++ {
		g := r.gens[i]
		if g.MaxSeq() > watermark {
			break
		}
		g.purged.Store(true)
		purged = append(purged, g)
	}
	r.gens = r.gens[i:]
	return purged
}

// Live returns the sealed segments still retained (not yet purged).
func (r *Ring) Live() []*Generation {
	out := make([]*Generation, len(r.gens))
	copy(out, r.gens)
	return out
}

// Len reports how many sealed segments are still retained.
func (r *Ring) Len() int { return len(r.gens) }
