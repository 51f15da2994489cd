package entropykv

import "testing"

func TestDefaultConfigPassesValidation(t *testing.T) {
	cfg := defaultConfig()
	if err := applyOptions(cfg, nil); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestApplyOptionsRejectsZeroShards(t *testing.T) {
	cfg := defaultConfig()
	if err := applyOptions(cfg, []Option{WithNumShards(0)}); err != ErrInvalidConfig {
		t.Fatalf("got %v, want ErrInvalidConfig", err)
	}
}

func TestApplyOptionsRejectsTooManyShards(t *testing.T) {
	cfg := defaultConfig()
	if err := applyOptions(cfg, []Option{WithNumShards(1025)}); err != ErrInvalidConfig {
		t.Fatalf("got %v, want ErrInvalidConfig", err)
	}
}

func TestApplyOptionsRejectsEmptyDataRoot(t *testing.T) {
	cfg := defaultConfig()
	if err := applyOptions(cfg, []Option{WithDataRoot("")}); err != ErrInvalidConfig {
		t.Fatalf("got %v, want ErrInvalidConfig", err)
	}
}

func TestApplyOptionsRejectsNonPositiveLimits(t *testing.T) {
	cfg := defaultConfig()
	err := applyOptions(cfg, []Option{WithLimits(Limits{MaxKeyBytes: 0, MaxValueBytes: 1})})
	if err != ErrInvalidConfig {
		t.Fatalf("got %v, want ErrInvalidConfig", err)
	}
}

func TestWithCacheTierOverridesOnlyNamedTier(t *testing.T) {
	cfg := defaultConfig()
	want := TierConfig{CapacityBytes: 1 << 10, CapacityEntries: 5}
	if err := applyOptions(cfg, []Option{WithCacheTier(TierHotCache, want)}); err != nil {
		t.Fatal(err)
	}
	if cfg.cacheTiers[TierHotCache] != want {
		t.Fatalf("got %+v, want %+v", cfg.cacheTiers[TierHotCache], want)
	}
	if cfg.cacheTiers[TierWarmCache].CapacityEntries != 500_000 {
		t.Fatal("unrelated tier was overwritten")
	}
}

func TestWithLoggerIgnoresNil(t *testing.T) {
	cfg := defaultConfig()
	orig := cfg.logger
	if err := applyOptions(cfg, []Option{WithLogger(nil)}); err != nil {
		t.Fatal(err)
	}
	if cfg.logger != orig {
		t.Fatal("WithLogger(nil) should not replace the default logger")
	}
}

func TestDurabilityModeString(t *testing.T) {
	cases := map[DurabilityMode]string{
		DurabilityAsync:   "async",
		DurabilityGrouped: "grouped",
		DurabilitySync:    "sync",
	}
	for mode, want := range cases {
		if got := mode.String(); got != want {
			t.Fatalf("mode %d: got %q, want %q", mode, got, want)
		}
	}
}

func TestRoutingPolicyString(t *testing.T) {
	cases := map[RoutingPolicy]string{
		RoutingHash:         "hash",
		RoutingLocality:     "locality",
		RoutingLoadBalanced: "load_balanced",
		RoutingAttraction:   "attraction",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Fatalf("policy %d: got %q, want %q", p, got, want)
		}
	}
}
