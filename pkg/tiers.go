package entropykv

// CacheTier names one of the Event-Horizon cache's bounded tiers (spec §4.5).
// Priority ranks the tiers from Universal (lowest) to Hot (highest), the
// order in which the cache promotes entries upward. Each tier is bounded and
// evicted on its own; entries are never demoted across tiers and Priority
// does not influence which entry a tier evicts.
type CacheTier uint8

const (
	TierUniversal CacheTier = iota
	TierColdCache
	TierWarmCache
	TierHotCache
)

func (t CacheTier) String() string {
	switch t {
	case TierHotCache:
		return "hot"
	case TierWarmCache:
		return "warm"
	case TierColdCache:
		return "cold"
	default:
		return "universal"
	}
}

// Priority returns the tier's rank (Universal=0 up to Hot=3).
func (t CacheTier) Priority() int { return int(t) }

// AllTiers lists every tier in fixed iteration order, used to construct the
// Event-Horizon cache deterministically and to enumerate metrics.
var AllTiers = []CacheTier{TierUniversal, TierColdCache, TierWarmCache, TierHotCache}

// TierConfig bounds one cache tier. Only CapacityBytes is enforced;
// CapacityEntries is accepted but does not limit the tier's entry count.
type TierConfig struct {
	CapacityBytes   int64
	CapacityEntries int
}
