package entropykv

import (
	"context"
	"os"
	"testing"
	"time"
)

// The periodic checkpoint loop must actually snapshot live records and
// purge a sealed segment once it is covered by the watermark, not merely
// open/close the checkpoint store.
func TestCheckpointLoopSnapshotsAndPurgesSealedSegments(t *testing.T) {
	e := newTestEngine(t,
		WithCheckpointInterval(20*time.Millisecond),
		WithLimits(Limits{MaxKeyBytes: 1024, MaxValueBytes: 1 << 20, MaxSegmentBytes: 64}),
	)
	ctx := context.Background()

	shardID := uint16(0)
	for i := 0; i < 10; i++ {
		if _, err := e.Put(ctx, []byte("k"), []byte("0123456789"), PutOptions{OverrideShard: &shardID}); err != nil {
			t.Fatal(err)
		}
	}

	s := e.shards[shardID]
	if s.Retention().Len() == 0 {
		t.Fatal("expected at least one sealed segment generation from rotation")
	}
	sealedPath := s.Retention().Live()[0].Path()
	if _, err := os.Stat(sealedPath); err != nil {
		t.Fatalf("expected sealed segment file to exist before checkpointing: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(sealedPath); os.IsNotExist(err) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected sealed segment %q to be purged by the checkpoint loop", sealedPath)
}

func TestCheckpointIntervalZeroDisablesLoop(t *testing.T) {
	e := newTestEngine(t, WithCheckpointInterval(0))
	if e.ckptLp.stopCh != nil {
		t.Fatal("expected a zero checkpoint interval to leave the loop unstarted")
	}
	// Close must still succeed even though the loop never started.
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
}
