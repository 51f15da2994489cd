package entropy

import (
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		SampleInterval:     10 * time.Millisecond,
		ImbalanceThreshold: 0.35,
		RebalanceCooldown:  60 * time.Second,
		Alpha:              1,
		Beta:               2,
		Gamma:              0.001,
	}
}

func TestSampleBalancedShardsHaveZeroImbalance(t *testing.T) {
	stats := []ShardStats{
		{ID: 0, Reads: 100, Writes: 10},
		{ID: 1, Reads: 100, Writes: 10},
		{ID: 2, Reads: 100, Writes: 10},
		{ID: 3, Reads: 100, Writes: 10},
	}
	r := Sample(testConfig(), stats, time.Now().Add(-time.Hour), time.Now())
	if r.Imbalance > 1e-9 {
		t.Fatalf("imbalance = %v, want ~0 for perfectly balanced shards", r.Imbalance)
	}
	if len(r.HotShards) != 0 || len(r.ColdShards) != 0 {
		t.Fatalf("expected no hot/cold shards, got hot=%v cold=%v", r.HotShards, r.ColdShards)
	}
}

func TestSampleSingleDominantShardHasMaxImbalance(t *testing.T) {
	stats := []ShardStats{
		{ID: 0, Reads: 100000, Writes: 0},
		{ID: 1, Reads: 0, Writes: 0},
		{ID: 2, Reads: 0, Writes: 0},
		{ID: 3, Reads: 0, Writes: 0},
	}
	r := Sample(testConfig(), stats, time.Now().Add(-time.Hour), time.Now())
	if r.Imbalance < 0.99 {
		t.Fatalf("imbalance = %v, want ~1 when one shard dominates all activity", r.Imbalance)
	}
	if len(r.HotShards) != 1 || r.HotShards[0] != 0 {
		t.Fatalf("expected shard 0 flagged hot, got %v", r.HotShards)
	}
}

func TestSampleSingleShardIsAlwaysBalanced(t *testing.T) {
	stats := []ShardStats{{ID: 0, Reads: 999, Writes: 999}}
	r := Sample(testConfig(), stats, time.Now().Add(-time.Hour), time.Now())
	if r.Imbalance != 0 {
		t.Fatalf("imbalance = %v, want 0 for a single shard", r.Imbalance)
	}
}

func TestSampleZeroActivityHasZeroImbalance(t *testing.T) {
	stats := []ShardStats{{ID: 0}, {ID: 1}, {ID: 2}}
	r := Sample(testConfig(), stats, time.Now().Add(-time.Hour), time.Now())
	if r.Imbalance != 0 {
		t.Fatalf("imbalance = %v, want 0 when no shard has any activity", r.Imbalance)
	}
}

func TestSampleRecommendsRebalanceOnlyWhenThresholdAndCooldownBothClear(t *testing.T) {
	skewed := []ShardStats{
		{ID: 0, Reads: 100000, Writes: 0},
		{ID: 1, Reads: 1, Writes: 0},
	}
	cfg := testConfig()

	withinCooldown := Sample(cfg, skewed, time.Now(), time.Now())
	if withinCooldown.RecommendRebalance {
		t.Fatal("should not recommend rebalance while still inside the cooldown window")
	}

	pastCooldown := Sample(cfg, skewed, time.Now().Add(-2*cfg.RebalanceCooldown), time.Now())
	if !pastCooldown.RecommendRebalance {
		t.Fatal("expected rebalance recommendation once threshold is exceeded and cooldown has elapsed")
	}
}

func TestSampleEmptyStatsReturnsZeroValue(t *testing.T) {
	r := Sample(testConfig(), nil, time.Now(), time.Now())
	if r.Shannon != 0 || r.Imbalance != 0 || r.RecommendRebalance || len(r.HotShards) != 0 || len(r.ColdShards) != 0 {
		t.Fatalf("expected zero-value Report for empty stats, got %+v", r)
	}
}

func TestMonitorTicksAndReportsPeriodically(t *testing.T) {
	var mu sync.Mutex
	reports := 0
	m := NewMonitor(testConfig(), func() []ShardStats {
		return []ShardStats{{ID: 0, Reads: 10}, {ID: 1, Reads: 10}}
	}, func(Report) {
		mu.Lock()
		reports++
		mu.Unlock()
	})
	m.Start()
	time.Sleep(55 * time.Millisecond)
	m.Stop()

	mu.Lock()
	defer mu.Unlock()
	if reports == 0 {
		t.Fatal("expected at least one report from the ticking monitor")
	}
}
