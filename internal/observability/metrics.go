package observability

import (
	"fmt"
	"math"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cache clear reasons used as the "reason" label.
const (
	ClearReasonOverflow     = "overflow"
	ClearReasonInvalidation = "invalidation"
	ClearReasonTeardown     = "teardown"
)

// ShadowingCollector bundles Prometheus metrics for obstacle shadowing
// filters. A single collector is shared by every filter of a run, so counters
// aggregate over all receivers.
type ShadowingCollector struct {
	gatherer prometheus.Gatherer

	CacheHits          prometheus.Counter
	CacheMisses        prometheus.Counter
	CacheClears        *prometheus.CounterVec
	CacheEntries       prometheus.Gauge
	ObstaclesEvaluated prometheus.Counter
	EarlyExits         prometheus.Counter
	AttenuationDB      prometheus.Histogram
}

// NewShadowingCollector registers shadowing metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewShadowingCollector(reg prometheus.Registerer) (*ShadowingCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	hits, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shadowing_cache_hits_total",
		Help: "Signals whose attenuation was served from the shadowing cache.",
	}), "shadowing_cache_hits_total")
	if err != nil {
		return nil, err
	}
	misses, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shadowing_cache_misses_total",
		Help: "Signals whose attenuation had to be computed from obstacles.",
	}), "shadowing_cache_misses_total")
	if err != nil {
		return nil, err
	}
	clears, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shadowing_cache_clears_total",
		Help: "Full clears of shadowing caches, labeled by reason (overflow, invalidation, teardown).",
	}, []string{"reason"}), "shadowing_cache_clears_total")
	if err != nil {
		return nil, err
	}
	entries, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "shadowing_cache_entries",
		Help: "Current number of cached attenuation factors across all filters.",
	}), "shadowing_cache_entries")
	if err != nil {
		return nil, err
	}
	evaluated, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shadowing_obstacles_evaluated_total",
		Help: "Per-obstacle attenuation computations performed on cache misses.",
	}), "shadowing_obstacles_evaluated_total")
	if err != nil {
		return nil, err
	}
	earlyExits, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shadowing_early_exits_total",
		Help: "Obstacle walks stopped early because attenuation was already extreme.",
	}), "shadowing_early_exits_total")
	if err != nil {
		return nil, err
	}
	attenuation, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shadowing_attenuation_db",
		Help:    "Obstacle shadowing loss applied to signals, in dB.",
		Buckets: []float64{0, 1, 3, 6, 10, 20, 40, 80, 160, 300},
	}), "shadowing_attenuation_db")
	if err != nil {
		return nil, err
	}

	return &ShadowingCollector{
		gatherer:           gatherer,
		CacheHits:          hits,
		CacheMisses:        misses,
		CacheClears:        clears,
		CacheEntries:       entries,
		ObstaclesEvaluated: evaluated,
		EarlyExits:         earlyExits,
		AttenuationDB:      attenuation,
	}, nil
}

// ObserveSignal records the outcome of one filtered signal.
func (c *ShadowingCollector) ObserveSignal(hit bool, evaluated int, earlyExit bool, factor float64) {
	if c == nil {
		return
	}
	if hit {
		c.CacheHits.Inc()
	} else {
		c.CacheMisses.Inc()
	}
	if evaluated > 0 {
		c.ObstaclesEvaluated.Add(float64(evaluated))
	}
	if earlyExit {
		c.EarlyExits.Inc()
	}
	if factor > 0 {
		db := -10 * math.Log10(factor)
		if db < 0 {
			db = 0
		}
		c.AttenuationDB.Observe(db)
	}
}

// CacheCleared records a full cache clear that dropped the given number of
// entries.
func (c *ShadowingCollector) CacheCleared(reason string, dropped int) {
	if c == nil {
		return
	}
	c.CacheClears.WithLabelValues(reason).Inc()
	c.CacheEntries.Sub(float64(dropped))
}

// CacheEntryAdded records a new cache entry.
func (c *ShadowingCollector) CacheEntryAdded() {
	if c == nil {
		return
	}
	c.CacheEntries.Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *ShadowingCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
