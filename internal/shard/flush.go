package shard

import (
	"context"
	"sync"
	"time"
)

// flusher implements the three durability modes from spec §4.3. It is owned
// by exactly one Shard and driven from ApplyPut/ApplyDelete (afterAppend) and
// a background ticker goroutine (for Async and Grouped fallback flushes).
type flusher struct {
	s   *Shard
	cfg Config

	mu            sync.Mutex
	pendingBytes  int64
	lastSyncedSeq uint64
	flushed       chan struct{} // closed and replaced every time a Grouped batch lands
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

func newFlusher(s *Shard, cfg Config) *flusher {
	return &flusher{s: s, cfg: cfg, flushed: make(chan struct{})}
}

// start launches the background fsync ticker. Async uses it as its sole
// durability timer; Grouped uses it as a fallback so a batch below
// BatchBytes still lands within FlushMs instead of waiting forever for a
// peer writer that may never arrive. Sync flushes synchronously inline in
// afterAppend and needs no ticker.
func (f *flusher) start() {
	if f.cfg.DurabilityMode != DurabilityAsync && f.cfg.DurabilityMode != DurabilityGrouped {
		return
	}
	interval := time.Duration(f.cfg.FlushMs) * time.Millisecond
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	f.stopCh = make(chan struct{})
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if f.cfg.DurabilityMode == DurabilityGrouped {
					f.flushGroupedBatch()
				} else {
					_ = f.s.segment.Sync()
				}
			case <-f.stopCh:
				return
			}
		}
	}()
}

func (f *flusher) stop() {
	if f.stopCh != nil {
		close(f.stopCh)
		f.wg.Wait()
		f.stopCh = nil
	}
}

// afterAppend runs after a frame of size n bytes has been handed to the
// segment's buffered writer. Async returns immediately (a background ticker
// fsyncs every FlushMs, and once BatchBytes have accumulated this call
// fsyncs inline before returning); Grouped batches fsyncs at the
// BatchBytes boundary (or the fallback ticker, whichever comes first) and
// wakes every waiter once the batch lands; Sync fsyncs before returning, per
// PUT. ctx bounds how long a Grouped-mode waiter blocks for a batch it did
// not itself trigger: expiry or cancellation returns ctx.Err() instead of
// hanging indefinitely.
func (f *flusher) afterAppend(ctx context.Context, n int64) error {
	switch f.cfg.DurabilityMode {
	case DurabilitySync:
		return f.s.segment.Sync()

	case DurabilityGrouped:
		f.mu.Lock()
		f.pendingBytes += n
		threshold := f.cfg.BatchBytes
		if threshold <= 0 {
			threshold = 1 << 20
		}
		if f.pendingBytes < threshold {
			target := f.s.nextSeq.Load() - 1
			for f.lastSyncedSeqBelowLocked(target) {
				ch := f.flushed
				f.mu.Unlock()
				select {
				case <-ch:
				case <-ctx.Done():
					return ctx.Err()
				}
				f.mu.Lock()
			}
			f.mu.Unlock()
			return nil
		}
		f.pendingBytes = 0
		f.mu.Unlock()
		return f.flushGroupedBatch()

	default: // DurabilityAsync
		bytesThreshold := f.cfg.BatchBytes
		if bytesThreshold > 0 {
			f.mu.Lock()
			f.pendingBytes += n
			if f.pendingBytes >= bytesThreshold {
				f.pendingBytes = 0
				f.mu.Unlock()
				return f.s.segment.Sync()
			}
			f.mu.Unlock()
		}
		return nil
	}
}

// flushGroupedBatch fsyncs the segment and wakes every Grouped-mode waiter
// blocked in afterAppend, whether triggered by BatchBytes being crossed or
// by the fallback ticker. It is a no-op if nothing is pending.
func (f *flusher) flushGroupedBatch() error {
	f.mu.Lock()
	if f.pendingBytes == 0 && f.lastSyncedSeq == f.s.nextSeq.Load()-1 {
		f.mu.Unlock()
		return nil
	}
	f.pendingBytes = 0
	f.mu.Unlock()

	err := f.s.segment.Sync()

	f.mu.Lock()
	f.lastSyncedSeq = f.s.nextSeq.Load() - 1
	close(f.flushed)
	f.flushed = make(chan struct{})
	f.mu.Unlock()
	return err
}

func (f *flusher) lastSyncedSeqBelowLocked(seqAtEnqueue uint64) bool {
	// Grouped-mode waiters block until a batch fsync has covered the seq of
	// the frame they appended; lastSyncedSeq only grows and is updated under
	// f.mu by flushGroupedBatch, the same lock the waiter polls it under.
	return f.lastSyncedSeq < seqAtEnqueue
}
