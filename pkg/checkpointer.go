package entropykv

// checkpointer.go runs the background checkpoint loop: periodically
// snapshotting each shard's live record set to the checkpoint store, then
// releasing (deleting) any sealed WAL segment whose frames are now fully
// covered by that checkpoint's watermark.

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// checkpointLoop owns the background ticker that exercises
// internal/checkpoint.Store against one Engine's shards, mirroring the
// ticker/stopCh/wg shape of internal/entropy.Monitor.
type checkpointLoop struct {
	e        *Engine
	interval time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newCheckpointLoop(e *Engine, interval time.Duration) *checkpointLoop {
	return &checkpointLoop{e: e, interval: interval}
}

// start launches the periodic snapshot/purge loop. A non-positive interval
// disables it entirely.
func (c *checkpointLoop) start() {
	if c.interval <= 0 {
		return
	}
	c.stopCh = make(chan struct{})
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(c.interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				c.tick()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// tick snapshots every shard's live record set to the checkpoint store, then
// deletes any sealed segment the new watermark now fully covers. Failures
// are logged, not fatal: a missed checkpoint just means segments stay
// un-purged a little longer, never data loss (the WAL segments themselves
// are still intact).
func (c *checkpointLoop) tick() {
	for _, s := range c.e.shards {
		records := s.Snapshot()
		watermark := s.NextSeq() - 1
		if err := c.e.ckpt.SnapshotShard(s.ID(), records, watermark); err != nil {
			c.e.logger.Warn("checkpoint snapshot failed", zap.Uint16("shard", s.ID()), zap.Error(err))
			continue
		}

		purged, err := c.e.ckpt.ReleasablePurges(s.ID(), s.Retention())
		if err != nil {
			c.e.logger.Warn("checkpoint releasable-purges failed", zap.Uint16("shard", s.ID()), zap.Error(err))
			continue
		}
		for _, gen := range purged {
			if err := os.Remove(gen.Path()); err != nil && !os.IsNotExist(err) {
				c.e.logger.Warn("purge segment failed", zap.Uint16("shard", s.ID()), zap.String("path", gen.Path()), zap.Error(err))
			}
		}
	}
}

// stop halts the loop and waits for it to exit. Safe to call even if start
// never launched a goroutine (interval <= 0).
func (c *checkpointLoop) stop() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	c.wg.Wait()
}
