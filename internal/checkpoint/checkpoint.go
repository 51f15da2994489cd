// Package checkpoint implements the optional checkpoint store (spec §6:
// "checkpoints/ (optional, not required by core)"). A checkpoint durably
// records, per shard, the highest WAL sequence number whose records are
// known to be captured outside the raw segment files; once every live
// segment's MaxSeq is at or below that watermark, internal/genring.Ring can
// release it for purge/compaction.
//
// Checkpoints are stored in an embedded github.com/dgraph-io/badger/v4
// instance rather than bespoke files: badger already gives us a crash-safe,
// compacting LSM KV store, which is exactly what a periodic
// shard-id -> watermark + record-blob index needs.
//
// © 2025 entropykv authors. MIT License.
package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/entropykv/entropykv/internal/genring"
	"github.com/entropykv/entropykv/internal/types"
)

// Store wraps a badger database rooted at dataRoot/checkpoints.
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) the checkpoint store at dir.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func watermarkKey(shardID uint16) []byte {
	return []byte(fmt.Sprintf("wm:%05d", shardID))
}

// recordPrefix identifies every record key belonging to shardID, so a shard's
// whole record set can be range-scanned (LoadShard) or cleared
// (SnapshotShard, before writing the fresh live set).
func recordPrefix(shardID uint16) []byte {
	buf := make([]byte, 6)
	binary.BigEndian.PutUint16(buf, shardID)
	copy(buf[2:], []byte("rec:"))
	return buf
}

func recordKey(shardID uint16, key []byte) []byte {
	return append(recordPrefix(shardID), key...)
}

// checkpointRecord is the on-disk encoding of one checkpointed record. Key is
// recovered from the badger key itself (LoadShard strips the recordPrefix
// that recordKey prepended) and ShardID from the caller, so neither is
// stored here.
type checkpointRecord struct {
	Value       []byte
	Version     uint64
	CreatedAtNs uint64
	UpdatedAtNs uint64
	TierHint    uint8
}

// SnapshotShard persists every live record of one shard plus its watermark
// (the highest WAL seq durably included in this checkpoint), in a single
// badger transaction. Any previously checkpointed records for shardID are
// cleared first, so a key deleted since the last snapshot does not linger
// and get resurrected by a later LoadShard.
func (s *Store) SnapshotShard(shardID uint16, records []*types.Record, watermark uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		prefix := recordPrefix(shardID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		var stale [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		for _, rec := range records {
			enc, err := json.Marshal(checkpointRecord{
				Value: rec.Value, Version: rec.Version,
				CreatedAtNs: rec.CreatedAtNs, UpdatedAtNs: rec.UpdatedAtNs,
				TierHint: rec.TierHint,
			})
			if err != nil {
				return fmt.Errorf("checkpoint: encode shard %d key %q: %w", shardID, rec.Key, err)
			}
			if err := txn.Set(recordKey(shardID, rec.Key), enc); err != nil {
				return err
			}
		}
		var wm [8]byte
		binary.LittleEndian.PutUint64(wm[:], watermark)
		return txn.Set(watermarkKey(shardID), wm[:])
	})
}

// LoadShard returns every record checkpointed for shardID plus the watermark
// they were captured at, for the recovery engine to use as a replay baseline
// (§4.8): frames at or below the watermark are already reflected here and
// need not be re-applied.
func (s *Store) LoadShard(shardID uint16) ([]*types.Record, uint64, error) {
	wm, err := s.Watermark(shardID)
	if err != nil {
		return nil, 0, err
	}

	var out []*types.Record
	err = s.db.View(func(txn *badger.Txn) error {
		prefix := recordPrefix(shardID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := append([]byte(nil), item.Key()[len(prefix):]...)
			var cr checkpointRecord
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &cr) }); err != nil {
				return fmt.Errorf("checkpoint: decode shard %d key %q: %w", shardID, key, err)
			}
			out = append(out, &types.Record{
				Key: key, Value: cr.Value, Version: cr.Version,
				CreatedAtNs: cr.CreatedAtNs, UpdatedAtNs: cr.UpdatedAtNs,
				ShardID: shardID, TierHint: cr.TierHint,
			})
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return out, wm, nil
}

// Watermark returns the last checkpointed WAL seq for shardID, or 0 if none.
func (s *Store) Watermark(shardID uint16) (uint64, error) {
	var wm uint64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(watermarkKey(shardID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			wm = binary.LittleEndian.Uint64(v)
			return nil
		})
	})
	return wm, err
}

// ReleasablePurges returns every sealed segment generation in ring that is
// now covered by shardID's checkpoint watermark, for the caller to delete
// from disk.
func (s *Store) ReleasablePurges(shardID uint16, ring *genring.Ring) ([]*genring.Generation, error) {
	wm, err := s.Watermark(shardID)
	if err != nil {
		return nil, err
	}
	return ring.PurgeBelow(wm), nil
}
