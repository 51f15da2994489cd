// Package shard implements the authoritative per-shard key-value map and its
// WAL coordinator (§4.3): one Shard owns an exclusive in-memory table, an
// active WAL segment writer, and local counters. Multiple shards run
// independently so unrelated keys never contend: a many-reader/one-writer
// shape (sync.RWMutex over the table, a dedicated mutex serializing WAL
// appends), with every Shard storing string-keyed *types.Record and owning
// real on-disk durability.
//
// © 2025 entropykv authors. MIT License.
package shard

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/entropykv/entropykv/internal/genring"
	"github.com/entropykv/entropykv/internal/types"
	"github.com/entropykv/entropykv/internal/unsafehelpers"
	"github.com/entropykv/entropykv/internal/wal"
)

// DurabilityMode mirrors pkg.DurabilityMode without importing pkg.
type DurabilityMode uint8

const (
	DurabilityAsync DurabilityMode = iota
	DurabilityGrouped
	DurabilitySync
)

// Config parameterizes a single Shard.
type Config struct {
	ID              uint16
	DataRoot        string
	MaxSegmentBytes int64
	MaxSegmentAgeMs int64
	Compression     bool

	DurabilityMode DurabilityMode
	FlushMs        int
	BatchBytes     int64
}

// Counters is a point-in-time snapshot of a shard's activity, consumed by
// the entropy monitor (spec §4.7) and metrics().
type Counters struct {
	Reads    uint64
	Writes   uint64
	Bytes    int64
	KeyCount int
}

// Shard is the authoritative in-memory map for one partition of the key
// space, plus its WAL coordinator (spec §4.3).
type Shard struct {
	id  uint16
	dir string

	mu    sync.RWMutex
	table map[string]*types.Record

	walMu           sync.Mutex
	segment         *wal.Segment
	segmentOpenedAt time.Time
	nextSeq         atomic.Uint64 // read by the Grouped-mode fallback ticker without walMu
	retention       *genring.Ring

	cfg Config

	reads, writes atomic.Uint64
	bytesStored   atomic.Int64
	massBits      atomic.Uint64 // float64 bits: cheap activity proxy for gravitational routing

	flush *flusher
}

// New constructs an empty shard with no active WAL segment. Callers open a
// segment explicitly via OpenActiveSegment, either fresh (seq 1) or after
// recovery replay (seq = highest_applied + 1), matching spec §4.8.
func New(cfg Config) *Shard {
	s := &Shard{
		id:        cfg.ID,
		dir:       filepath.Join(cfg.DataRoot, fmt.Sprintf("shard_%02d", cfg.ID)),
		table:     make(map[string]*types.Record),
		cfg:       cfg,
		retention: genring.New(),
	}
	s.flush = newFlusher(s, cfg)
	return s
}

// ID returns the shard's stable identifier.
func (s *Shard) ID() uint16 { return s.id }

// Dir returns the shard's WAL directory (data_root/shard_XX).
func (s *Shard) Dir() string { return s.dir }

// OpenActiveSegment creates a new active segment with the given starting
// sequence number. Any previously open (unsealed) segment is abandoned
// without sealing: Close releases the active segment without sealing it,
// leaving recovery to tolerate a possibly-incomplete trailing frame.
func (s *Shard) OpenActiveSegment(startSeq uint64) error {
	s.walMu.Lock()
	defer s.walMu.Unlock()
	if s.segment != nil && !s.segment.Sealed() {
		_ = s.segment.Close()
	}
	seg, err := wal.CreateSegment(s.dir, startSeq)
	if err != nil {
		return err
	}
	s.segment = seg
	s.segmentOpenedAt = time.Now()
	s.nextSeq.Store(startSeq)
	s.flush.start()
	return nil
}

// LoadRecord installs rec directly into the table without touching the WAL,
// used exclusively by the recovery engine while replaying segments that
// already exist on disk (spec §4.8).
func (s *Shard) LoadRecord(rec *types.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := unsafehelpers.BytesToString(rec.Key)
	if old, ok := s.table[k]; ok {
		s.bytesStored.Add(-int64(len(old.Key) + len(old.Value)))
	}
	s.table[string(rec.Key)] = rec
	s.bytesStored.Add(int64(len(rec.Key) + len(rec.Value)))
}

// DeleteLoaded removes a key during recovery replay, mirroring ApplyDelete
// but without issuing a new WAL frame (the delete frame already exists).
func (s *Shard) DeleteLoaded(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := string(key)
	if old, ok := s.table[k]; ok {
		s.bytesStored.Add(-int64(len(old.Key) + len(old.Value)))
		delete(s.table, k)
	}
}

// Get returns a clone of the stored record for key, if present. Reads never
// wait on WAL I/O (spec §4.3).
func (s *Shard) Get(key []byte) (*types.Record, bool) {
	s.reads.Add(1)
	s.mu.RLock()
	rec, ok := s.table[unsafehelpers.BytesToString(key)]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// ApplyPut assigns the next strictly-increasing version for key within this
// shard, appends a Put frame to the WAL, and installs the record in memory.
// It rotates the active segment first if size/age thresholds are crossed.
// ctx bounds how long a Grouped-durability call may block waiting for its
// batch to flush (spec §5: operations honor an optional deadline).
func (s *Shard) ApplyPut(ctx context.Context, key, value []byte, tierHint uint8) (*types.Record, error) {
	s.walMu.Lock()
	defer s.walMu.Unlock()

	if err := s.maybeRotateLocked(); err != nil {
		return nil, err
	}

	now := uint64(time.Now().UnixNano())
	s.mu.RLock()
	existing := s.table[string(key)]
	s.mu.RUnlock()

	version := uint64(1)
	createdAt := now
	if existing != nil {
		version = existing.Version + 1
		createdAt = existing.CreatedAtNs
	}

	encodedValue, compressed := wal.MaybeCompress(s.cfg.Compression, value)
	seq := s.nextSeq.Add(1) - 1
	frame := &wal.Frame{
		Seq:         seq,
		Op:          wal.OpPut,
		TimestampNs: now,
		Key:         key,
		Value:       encodedValue,
		Compressed:  compressed,
	}
	n, err := s.segment.Append(frame)
	if err != nil {
		return nil, fmt.Errorf("shard %d: wal append: %w", s.id, err)
	}
	s.bumpMass()

	rec := &types.Record{
		Key: append([]byte(nil), key...), Value: append([]byte(nil), value...),
		Version: version, CreatedAtNs: createdAt, UpdatedAtNs: now,
		ShardID: s.id, TierHint: tierHint,
	}
	s.mu.Lock()
	if existing != nil {
		s.bytesStored.Add(-int64(len(existing.Key) + len(existing.Value)))
	}
	s.table[string(key)] = rec
	s.mu.Unlock()
	s.bytesStored.Add(int64(len(key) + len(value)))
	s.writes.Add(1)

	if err := s.flush.afterAppend(ctx, int64(n)); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// ApplyDelete removes key from this shard, appending a Delete frame. It
// reports whether the key existed beforehand.
func (s *Shard) ApplyDelete(ctx context.Context, key []byte) (bool, error) {
	s.walMu.Lock()
	defer s.walMu.Unlock()

	if err := s.maybeRotateLocked(); err != nil {
		return false, err
	}

	s.mu.RLock()
	existing, existed := s.table[string(key)]
	s.mu.RUnlock()

	now := uint64(time.Now().UnixNano())
	seq := s.nextSeq.Add(1) - 1
	frame := &wal.Frame{Seq: seq, Op: wal.OpDelete, TimestampNs: now, Key: key}
	n, err := s.segment.Append(frame)
	if err != nil {
		return false, fmt.Errorf("shard %d: wal append: %w", s.id, err)
	}

	if existed {
		s.mu.Lock()
		delete(s.table, string(key))
		s.mu.Unlock()
		s.bytesStored.Add(-int64(len(existing.Key) + len(existing.Value)))
	}
	s.writes.Add(1)

	if err := s.flush.afterAppend(ctx, int64(n)); err != nil {
		return existed, err
	}
	return existed, nil
}

// ApplyMigrationPut installs key/value as the target side of a migration
// (spec §4.2 step 2): a MigrationPut frame carrying migrationID, visible in
// this shard's table before the source shard's paired MigrationDelete is
// written, so a concurrent reader observes either the source or the target
// but never neither.
func (s *Shard) ApplyMigrationPut(ctx context.Context, key, value []byte, migrationID uint64) (*types.Record, error) {
	s.walMu.Lock()
	defer s.walMu.Unlock()
	if err := s.maybeRotateLocked(); err != nil {
		return nil, err
	}
	now := uint64(time.Now().UnixNano())
	seq := s.nextSeq.Add(1) - 1
	frame := &wal.Frame{
		Seq: seq, Op: wal.OpMigrationPut, TimestampNs: now,
		Key: key, Value: value, HasMigration: true, MigrationID: migrationID,
	}
	n, err := s.segment.Append(frame)
	if err != nil {
		return nil, fmt.Errorf("shard %d: migration put: %w", s.id, err)
	}
	rec := &types.Record{
		Key: append([]byte(nil), key...), Value: append([]byte(nil), value...),
		Version: 1, CreatedAtNs: now, UpdatedAtNs: now, ShardID: s.id,
	}
	s.mu.Lock()
	s.table[string(key)] = rec
	s.mu.Unlock()
	s.bytesStored.Add(int64(len(key) + len(value)))
	s.writes.Add(1)
	if err := s.flush.afterAppend(ctx, int64(n)); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// ApplyMigrationDelete removes key as the source side of a migration (spec
// §4.2 step 2), writing a MigrationDelete frame carrying the same
// migrationID as the paired ApplyMigrationPut.
func (s *Shard) ApplyMigrationDelete(ctx context.Context, key []byte, migrationID uint64) error {
	s.walMu.Lock()
	defer s.walMu.Unlock()
	if err := s.maybeRotateLocked(); err != nil {
		return err
	}
	now := uint64(time.Now().UnixNano())
	seq := s.nextSeq.Add(1) - 1
	frame := &wal.Frame{
		Seq: seq, Op: wal.OpMigrationDelete, TimestampNs: now,
		Key: key, HasMigration: true, MigrationID: migrationID,
	}
	n, err := s.segment.Append(frame)
	if err != nil {
		return fmt.Errorf("shard %d: migration delete: %w", s.id, err)
	}
	s.mu.Lock()
	if old, ok := s.table[string(key)]; ok {
		s.bytesStored.Add(-int64(len(old.Key) + len(old.Value)))
		delete(s.table, string(key))
	}
	s.mu.Unlock()
	s.writes.Add(1)
	return s.flush.afterAppend(ctx, int64(n))
}

// Snapshot returns a copy-on-iterate view of every live record, for
// background tasks (entropy sampling, checkpointing, migration) that must
// not block writers.
func (s *Shard) Snapshot() []*types.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Record, 0, len(s.table))
	for _, rec := range s.table {
		out = append(out, rec)
	}
	return out
}

// Counters returns the shard's current activity counters. Per spec §5,
// exact cross-sample precision is not required; these are relaxed atomic
// reads.
func (s *Shard) Counters() Counters {
	s.mu.RLock()
	n := len(s.table)
	s.mu.RUnlock()
	return Counters{
		Reads:    s.reads.Load(),
		Writes:   s.writes.Load(),
		Bytes:    s.bytesStored.Load(),
		KeyCount: n,
	}
}

// Mass is a decayed gravitational attribute used by the Attraction routing
// policy (spec §4.2): every write multiplies it by 0.999 and adds 1, so it
// tracks write activity with older writes weighing less, and "hot, recently
// active" shards are easier to find than merely "big" ones. It changes only
// on writes; it does not decay while a shard is idle.
func (s *Shard) Mass() float64 {
	return math.Float64frombits(s.massBits.Load())
}

func (s *Shard) bumpMass() {
	for {
		old := s.massBits.Load()
		m := math.Float64frombits(old)
		next := m*0.999 + 1.0
		if s.massBits.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

// NextSeq reports the sequence number that will be assigned to the next
// appended frame (the checkpoint loop uses NextSeq()-1 as its watermark).
func (s *Shard) NextSeq() uint64 {
	return s.nextSeq.Load()
}

// Retention exposes the sealed-segment retention ring for checkpoint-driven
// purges (internal/checkpoint).
func (s *Shard) Retention() *genring.Ring { return s.retention }

// Close drains pending flushes and closes the active segment without
// sealing it (spec §9: "teardown drains pending flushes and closes WAL
// segments").
func (s *Shard) Close() error {
	s.flush.stop()
	s.walMu.Lock()
	defer s.walMu.Unlock()
	if s.segment == nil {
		return nil
	}
	return s.segment.Close()
}

func (s *Shard) maybeRotateLocked() error {
	if s.segment == nil {
		return fmt.Errorf("shard %d: no active segment open", s.id)
	}
	tooBig := s.segment.Size() >= s.cfg.MaxSegmentBytes
	tooOld := s.cfg.MaxSegmentAgeMs > 0 && time.Since(s.segmentOpenedAt).Milliseconds() >= s.cfg.MaxSegmentAgeMs
	if !tooBig && !tooOld {
		return nil
	}
	sealedSeq := s.nextSeq.Load() - 1
	path := s.segment.Path()
	seqBase := s.segment.SeqBase()
	if err := s.segment.Seal(); err != nil {
		return fmt.Errorf("shard %d: seal: %w", s.id, err)
	}
	s.retention.Add(seqBase, path, sealedSeq)
	seg, err := wal.CreateSegment(s.dir, s.nextSeq.Load())
	if err != nil {
		return fmt.Errorf("shard %d: rotate: %w", s.id, err)
	}
	s.segment = seg
	s.segmentOpenedAt = time.Now()
	return nil
}
