package entropykv

// metrics.go is a thin abstraction over Prometheus so that entropykv can be
// used with or without metrics (a noop sink when no *prometheus.Registry is
// supplied). Metric names follow §6's naming ("engine.puts_total",
// "engine.cache.<tier>.bytes", ...); Prometheus itself normalizes dots to
// underscores in practice, so the Name fields below spell them with
// underscores and rely on the Namespace field for the "engine" prefix.
//
// © 2025 entropykv authors. MIT License.

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type metricsSink interface {
	incPuts(shard uint16)
	incGets(shard uint16, hit bool)
	incDeletes(shard uint16)
	addWalBytes(shard uint16, delta int64)
	setCacheBytes(tier string, value int64)
	incPrefetch(result string) // "hit", "miss", "error"
	setEntropyImbalance(value float64)
	incMigrations(result string) // "applied", "conflict"
}

/* ---------------- No-op implementation ---------------- */

type noopMetrics struct{}

func (noopMetrics) incPuts(uint16)              {}
func (noopMetrics) incGets(uint16, bool)        {}
func (noopMetrics) incDeletes(uint16)           {}
func (noopMetrics) addWalBytes(uint16, int64)   {}
func (noopMetrics) setCacheBytes(string, int64) {}
func (noopMetrics) incPrefetch(string)          {}
func (noopMetrics) setEntropyImbalance(float64) {}
func (noopMetrics) incMigrations(string)        {}

/* ---------------- Prometheus implementation ---------------- */

type promMetrics struct {
	puts      *prometheus.CounterVec
	gets      *prometheus.CounterVec
	deletes   *prometheus.CounterVec
	walBytes  *prometheus.CounterVec
	cacheTier *prometheus.GaugeVec
	prefetch  *prometheus.CounterVec
	entropy   prometheus.Gauge
	migration *prometheus.CounterVec
}

func newPromMetrics(reg *prometheus.Registry) *promMetrics {
	shardLabel := []string{"shard"}

	pm := &promMetrics{
		puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine", Name: "puts_total", Help: "Number of successful PUT operations.",
		}, shardLabel),
		gets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine", Name: "gets_total", Help: "Number of GET operations.",
		}, append(shardLabel, "source")),
		deletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine", Name: "deletes_total", Help: "Number of DELETE operations.",
		}, shardLabel),
		walBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine", Name: "wal_bytes_written", Help: "Key and value bytes of PUTs appended to the WAL, uncompressed, frame overhead not counted.",
		}, shardLabel),
		cacheTier: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "engine", Subsystem: "cache", Name: "bytes", Help: "Live bytes held per cache tier.",
		}, []string{"tier"}),
		prefetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine", Subsystem: "prefetch", Name: "total", Help: "Quantum-get prefetch outcomes.",
		}, []string{"result"}),
		entropy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "engine", Subsystem: "entropy", Name: "imbalance", Help: "Normalized shard load imbalance in [0,1].",
		}),
		migration: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine", Subsystem: "migration", Name: "total", Help: "Router migration task outcomes.",
		}, []string{"result"}),
	}

	reg.MustRegister(pm.puts, pm.gets, pm.deletes, pm.walBytes, pm.cacheTier, pm.prefetch, pm.entropy, pm.migration)
	return pm
}

func (m *promMetrics) incPuts(shard uint16) {
	m.puts.WithLabelValues(strconv.Itoa(int(shard))).Inc()
}

func (m *promMetrics) incGets(shard uint16, hit bool) {
	source := "shard"
	if hit {
		source = "cache"
	}
	m.gets.WithLabelValues(strconv.Itoa(int(shard)), source).Inc()
}

func (m *promMetrics) incDeletes(shard uint16) {
	m.deletes.WithLabelValues(strconv.Itoa(int(shard))).Inc()
}

func (m *promMetrics) addWalBytes(shard uint16, delta int64) {
	m.walBytes.WithLabelValues(strconv.Itoa(int(shard))).Add(float64(delta))
}

func (m *promMetrics) setCacheBytes(tier string, value int64) {
	m.cacheTier.WithLabelValues(tier).Set(float64(value))
}

func (m *promMetrics) incPrefetch(result string) {
	m.prefetch.WithLabelValues(result).Inc()
}

func (m *promMetrics) setEntropyImbalance(value float64) {
	m.entropy.Set(value)
}

func (m *promMetrics) incMigrations(result string) {
	m.migration.WithLabelValues(result).Inc()
}

/* ---------------- Factory ---------------- */

func newMetricsSink(reg *prometheus.Registry) metricsSink {
	if reg == nil {
		return noopMetrics{}
	}
	return newPromMetrics(reg)
}
