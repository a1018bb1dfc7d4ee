// Package shadowing implements a per-signal analogue model that attenuates
// radio signals blocked by static obstacles, memoizing results per directed
// endpoint geometry.
package shadowing

import (
	"context"
	"fmt"
	"sync"

	"github.com/signalsfoundry/obstacle-shadowing/internal/logging"
	"github.com/signalsfoundry/obstacle-shadowing/internal/observability"
	"github.com/signalsfoundry/obstacle-shadowing/model"
	"github.com/signalsfoundry/obstacle-shadowing/obstacle"
)

// ExtremeAttenuation is the factor below which a signal counts as totally
// blocked; remaining obstacles are not evaluated.
const ExtremeAttenuation = 1e-30

// HitTag is the annotation text drawn at obstacles that attenuate a signal.
const HitTag = "hit"

// Obstacles is the obstacle registry consumed by the filter.
type Obstacles interface {
	IsAnyObstacleDefined() bool
	// PotentialObstacles returns candidates in the order they must be
	// evaluated.
	PotentialObstacles(sender, receiver model.Position) []*obstacle.Obstacle
	CalculateAttenuation(sender, receiver model.Position, o *obstacle.Obstacle) float64
	// Subscribe registers for geometry change notifications.
	Subscribe(fn func(obstacle.Event)) (unsubscribe func())
}

// Annotator is an optional visualization hook.
type Annotator interface {
	DrawBubble(at model.Position, text string)
}

// MetricsRecorder receives per-signal and per-clear observations.
// observability.ShadowingCollector satisfies it.
type MetricsRecorder interface {
	ObserveSignal(hit bool, evaluated int, earlyExit bool, factor float64)
	CacheCleared(reason string, dropped int)
	CacheEntryAdded()
}

// AccumulationPolicy selects how per-obstacle results combine.
type AccumulationPolicy int

const (
	// PolicyOverwrite replaces the running factor with each obstacle's
	// result. The registry's result is taken as cumulative.
	PolicyOverwrite AccumulationPolicy = iota
	// PolicyProduct multiplies per-obstacle factors together, for registries
	// that report single-obstacle attenuation only.
	PolicyProduct
)

func (p AccumulationPolicy) String() string {
	switch p {
	case PolicyOverwrite:
		return "overwrite"
	case PolicyProduct:
		return "product"
	default:
		return fmt.Sprintf("AccumulationPolicy(%d)", int(p))
	}
}

// ParsePolicy maps "overwrite" or "product" to a policy. The empty string
// selects PolicyOverwrite.
func ParsePolicy(s string) (AccumulationPolicy, error) {
	switch s {
	case "", "overwrite":
		return PolicyOverwrite, nil
	case "product":
		return PolicyProduct, nil
	default:
		return 0, fmt.Errorf("%w: unknown accumulation policy %q", ErrObstacleConfiguration, s)
	}
}

// Config holds playground and cache settings for a filter.
type Config struct {
	// UseTorus requests a wrap-around playground, which is unsupported.
	UseTorus       bool
	PlaygroundSize model.Position

	CacheCapacity int
	Policy        AccumulationPolicy
}

// Option customises a Filter.
type Option func(*Filter)

// WithAnnotator attaches a visualization hook.
func WithAnnotator(a Annotator) Option {
	return func(f *Filter) { f.annotator = a }
}

// WithLogger sets the filter's logger.
func WithLogger(l logging.Logger) Option {
	return func(f *Filter) {
		if l != nil {
			f.log = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m MetricsRecorder) Option {
	return func(f *Filter) { f.metrics = m }
}

// Stats summarises a filter's activity.
type Stats struct {
	Signals            int64
	Hits               int64
	Misses             int64
	ObstaclesEvaluated int64
	EarlyExits         int64
	OverflowClears     int64
	Invalidations      int64
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Signals += other.Signals
	s.Hits += other.Hits
	s.Misses += other.Misses
	s.ObstaclesEvaluated += other.ObstaclesEvaluated
	s.EarlyExits += other.EarlyExits
	s.OverflowClears += other.OverflowClears
	s.Invalidations += other.Invalidations
}

// Filter applies obstacle shadowing to signals. It subscribes to the
// registry's change notifications on construction and clears its cache on
// every change; Close unsubscribes.
type Filter struct {
	// mu serialises filtering and invalidation so a factor computed against
	// old geometry is never written after a clear.
	mu sync.Mutex

	obstacles Obstacles
	cache     *Cache
	policy    AccumulationPolicy

	annotator Annotator
	log       logging.Logger
	metrics   MetricsRecorder

	unsubscribe func()
	closed      bool
	stats       Stats
}

// NewFilter validates cfg and subscribes a new filter to the registry.
func NewFilter(obstacles Obstacles, cfg Config, opts ...Option) (*Filter, error) {
	if cfg.UseTorus {
		return nil, ErrTorusPlayground
	}
	if obstacles == nil {
		return nil, ErrNoRegistry
	}

	f := &Filter{
		obstacles: obstacles,
		cache:     NewCache(cfg.CacheCapacity),
		policy:    cfg.Policy,
		log:       logging.Noop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.unsubscribe = obstacles.Subscribe(f.HandleObstaclesChanged)
	return f, nil
}

// FilterSignal scales sig's power by the obstacle attenuation between its
// endpoints. It fails with ErrNoObstacles, leaving sig untouched, when no
// obstacle types are configured.
func (f *Filter) FilterSignal(sig *model.Signal) error {
	if !f.obstacles.IsAnyObstacleDefined() {
		f.log.Error(context.Background(), "obstacle shadowing misconfigured", logging.Err(ErrNoObstacles))
		return ErrNoObstacles
	}

	senderPos := sig.Sender.PositionAt(sig.SendTime)
	receiverPos := sig.Receiver.PositionAt(sig.SendTime)
	key := CacheKey{Sender: senderPos, Receiver: receiverPos}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	var (
		evaluated int
		earlyExit bool
	)
	factor, hit := f.cache.Lookup(key)
	if !hit {
		factor, evaluated, earlyExit = f.attenuation(senderPos, receiverPos)
	}

	dropped, added := f.cache.Insert(key, factor)
	if dropped > 0 {
		f.stats.OverflowClears++
		f.recordClear(observability.ClearReasonOverflow, dropped)
	}
	if added && f.metrics != nil {
		f.metrics.CacheEntryAdded()
	}

	f.stats.Signals++
	if hit {
		f.stats.Hits++
	} else {
		f.stats.Misses++
	}
	f.stats.ObstaclesEvaluated += int64(evaluated)
	if earlyExit {
		f.stats.EarlyExits++
	}
	if f.metrics != nil {
		f.metrics.ObserveSignal(hit, evaluated, earlyExit, factor)
	}

	sig.Scale(factor)
	return nil
}

// attenuation walks the candidate obstacles in registry order.
func (f *Filter) attenuation(sender, receiver model.Position) (factor float64, evaluated int, earlyExit bool) {
	factor = 1
	candidates := f.obstacles.PotentialObstacles(sender, receiver)
	for i, o := range candidates {
		prev := factor

		a := f.obstacles.CalculateAttenuation(sender, receiver, o)
		evaluated++
		if f.policy == PolicyProduct {
			factor *= a
		} else {
			factor = a
		}

		if factor != prev {
			f.annotate(o)
		}
		if factor < ExtremeAttenuation {
			earlyExit = i < len(candidates)-1
			break
		}
	}
	return factor, evaluated, earlyExit
}

// annotate notifies the annotator, if any. A panicking annotator is logged
// and otherwise ignored.
func (f *Filter) annotate(o *obstacle.Obstacle) {
	if f.annotator == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			f.log.Warn(context.Background(), "annotator panicked",
				logging.String("obstacle_id", o.ID),
				logging.Any("panic", r),
			)
		}
	}()
	f.annotator.DrawBubble(o.BboxP1(), HitTag)
}

// HandleObstaclesChanged clears the cache. It is registered with the
// obstacle registry and may also be called directly.
func (f *Filter) HandleObstaclesChanged(ev obstacle.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dropped := f.cache.Clear()
	f.stats.Invalidations++
	f.recordClear(observability.ClearReasonInvalidation, dropped)
	f.log.Debug(context.Background(), "shadowing cache invalidated",
		logging.String("event", ev.Type.String()),
		logging.String("obstacle_id", ev.ObstacleID),
		logging.Int("dropped", dropped),
	)
}

// Caller must hold f.mu.
func (f *Filter) recordClear(reason string, dropped int) {
	if f.metrics != nil {
		f.metrics.CacheCleared(reason, dropped)
	}
	if reason == observability.ClearReasonOverflow {
		f.log.Debug(context.Background(), "shadowing cache full; cleared",
			logging.Int("dropped", dropped),
			logging.Int("capacity", f.cache.Capacity()),
		)
	}
}

// Lookup returns the cached factor for the directed pair, if any.
func (f *Filter) Lookup(sender, receiver model.Position) (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache.Lookup(CacheKey{Sender: sender, Receiver: receiver})
}

// CacheLen returns the number of cached factors.
func (f *Filter) CacheLen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache.Len()
}

// Stats returns a snapshot of the filter's counters.
func (f *Filter) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Close unsubscribes from the registry and drops the cache. It is safe to
// call more than once.
func (f *Filter) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	unsubscribe := f.unsubscribe
	f.unsubscribe = nil
	dropped := f.cache.Clear()
	if dropped > 0 && f.metrics != nil {
		f.metrics.CacheCleared(observability.ClearReasonTeardown, dropped)
	}
	f.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return nil
}
