package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/signalsfoundry/obstacle-shadowing/annotation"
	"github.com/signalsfoundry/obstacle-shadowing/internal/logging"
	"github.com/signalsfoundry/obstacle-shadowing/internal/observability"
	"github.com/signalsfoundry/obstacle-shadowing/model"
	"github.com/signalsfoundry/obstacle-shadowing/obstacle"
	"github.com/signalsfoundry/obstacle-shadowing/scenario"
	"github.com/signalsfoundry/obstacle-shadowing/shadowing"
	"github.com/signalsfoundry/obstacle-shadowing/timectrl"
)

// LinkReport summarises the signals received on one directed node pair.
type LinkReport struct {
	From, To string

	Signals      int
	LastPowerDBm float64
	LastLossDB   float64
	MaxLossDB    float64
}

// Report is the outcome of a simulation run.
type Report struct {
	RunID    string
	Scenario string
	SimTime  time.Duration
	WallTime time.Duration

	Events         int
	ObstacleEvents int
	Stats          shadowing.Stats
	Links          []LinkReport
	Hotspots       []annotation.Hotspot
}

// Runner executes a scenario: every node beacons to every other node at the
// scenario's interval, each reception passes through the receiver's
// shadowing filter, and timed obstacle changes are applied to the registry.
type Runner struct {
	sc          *scenario.Scenario
	log         logging.Logger
	metrics     shadowing.MetricsRecorder
	annotations *annotation.Manager
	hotspots    int
}

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

// WithRunnerLogger sets the logger used by the runner and its filters.
func WithRunnerLogger(l logging.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.log = l
		}
	}
}

// WithRunnerMetrics attaches a metrics sink to every filter.
func WithRunnerMetrics(m shadowing.MetricsRecorder) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithAnnotations attaches an annotation manager to every filter and
// reports its top n hotspots.
func WithAnnotations(m *annotation.Manager, n int) RunnerOption {
	return func(r *Runner) {
		r.annotations = m
		r.hotspots = n
	}
}

// NewRunner creates a runner for sc.
func NewRunner(sc *scenario.Scenario, opts ...RunnerOption) *Runner {
	r := &Runner{sc: sc, log: logging.Noop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type radio struct {
	id       string
	endpoint model.Endpoint
	filter   *shadowing.Filter
}

type linkKey struct{ from, to string }

// Run executes the scenario to completion. Configuration errors from the
// shadowing filters abort the run and are returned unchanged so callers can
// match them with errors.Is.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if r.sc == nil {
		return nil, errors.New("nil scenario")
	}
	sc := r.sc
	ctx, log := logging.WithRunLogger(ctx, r.log)
	runID := logging.RunIDFromContext(ctx)

	ctx, span := observability.StartRunSpan(ctx, runID, sc.Name, len(sc.Nodes), len(sc.Obstacles))
	defer span.End()

	wallStart := time.Now()
	ctrl, err := buildRegistry(sc)
	if err != nil {
		observability.FailSpan(span, err)
		return nil, err
	}

	radios, err := r.buildRadios(ctrl, log)
	defer func() {
		for _, rd := range radios {
			_ = rd.filter.Close()
		}
	}()
	if err != nil {
		observability.FailSpan(span, err)
		return nil, err
	}

	clock := timectrl.NewClock(sc.Start)
	sched := NewEventScheduler(clock)
	end := sc.Start.Add(sc.Duration)

	links := make(map[linkKey]*LinkReport)
	var runErr error
	fail := func(err error) {
		if runErr == nil {
			runErr = err
		}
		sched.Stop()
	}

	txPowerDBm := model.MilliwattToDBm(sc.TxPowerMw)
	for i := range radios {
		sender := radios[i]
		// Stagger first beacons across the interval so senders do not collide.
		offset := time.Duration(int64(sc.BeaconInterval) * int64(i) / int64(len(radios)))

		var beacon func()
		beacon = func() {
			if err := ctx.Err(); err != nil {
				fail(err)
				return
			}
			now := clock.Now()
			for _, receiver := range radios {
				if receiver.id == sender.id {
					continue
				}
				sig := &model.Signal{
					Sender:   sender.endpoint,
					Receiver: receiver.endpoint,
					SendTime: now,
					PowerMw:  sc.TxPowerMw,
				}
				if err := receiver.filter.FilterSignal(sig); err != nil {
					fail(fmt.Errorf("filter signal %s->%s at %s: %w", sender.id, receiver.id, now.Sub(sc.Start), err))
					return
				}
				record(links, sender.id, receiver.id, sig.PowerDBm(), txPowerDBm)
			}
			sched.After(sc.BeaconInterval, beacon)
		}
		sched.Schedule(sc.Start.Add(offset), beacon)
	}

	obstacleEvents := 0
	for _, ch := range sc.Changes {
		sched.Schedule(sc.Start.Add(ch.At), func() {
			if err := applyChange(ctrl, ch); err != nil {
				fail(fmt.Errorf("obstacle change at %s: %w", ch.At, err))
				return
			}
			obstacleEvents++
			log.Info(ctx, "obstacle change applied",
				logging.String("action", string(ch.Action)),
				logging.String("obstacle_id", ch.ObstacleID),
				logging.Duration("at", ch.At),
			)
		})
	}

	log.Info(ctx, "simulation starting",
		logging.String("scenario", sc.Name),
		logging.Int("nodes", len(radios)),
		logging.Int("obstacles", ctrl.Len()),
		logging.Duration("duration", sc.Duration),
		logging.Duration("beacon_interval", sc.BeaconInterval),
	)

	if err := sched.RunUntil(end); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		log.Error(ctx, "simulation aborted", logging.Err(runErr))
		observability.FailSpan(span, runErr)
		return nil, runErr
	}

	rep := &Report{
		RunID:          runID,
		Scenario:       sc.Name,
		SimTime:        clock.Elapsed(),
		WallTime:       time.Since(wallStart),
		Events:         sched.Ran(),
		ObstacleEvents: obstacleEvents,
		Links:          sortedLinks(links),
	}
	for _, rd := range radios {
		rep.Stats.Add(rd.filter.Stats())
	}
	if r.annotations != nil {
		rep.Hotspots = r.annotations.Hotspots(r.hotspots)
	}

	span.SetAttributes(
		attribute.Int64("signals", rep.Stats.Signals),
		attribute.Int64("cache_hits", rep.Stats.Hits),
		attribute.Int64("cache_misses", rep.Stats.Misses),
		attribute.Int64("invalidations", rep.Stats.Invalidations),
	)
	log.Info(ctx, "simulation complete",
		logging.Any("signals", rep.Stats.Signals),
		logging.Any("cache_hits", rep.Stats.Hits),
		logging.Any("cache_misses", rep.Stats.Misses),
		logging.Duration("wall_time", rep.WallTime),
	)
	return rep, nil
}

func (r *Runner) buildRadios(ctrl *obstacle.Control, log logging.Logger) ([]radio, error) {
	sc := r.sc
	cfg := shadowing.Config{
		UseTorus:       sc.UseTorus,
		PlaygroundSize: sc.PlaygroundSize,
		CacheCapacity:  sc.CacheCapacity,
		Policy:         sc.Policy,
	}

	radios := make([]radio, 0, len(sc.Nodes))
	for _, n := range sc.Nodes {
		opts := []shadowing.Option{
			shadowing.WithLogger(log.With(logging.String("receiver", n.ID))),
		}
		if r.metrics != nil {
			opts = append(opts, shadowing.WithMetrics(r.metrics))
		}
		if r.annotations != nil {
			opts = append(opts, shadowing.WithAnnotator(r.annotations))
		}
		f, err := shadowing.NewFilter(ctrl, cfg, opts...)
		if err != nil {
			return radios, fmt.Errorf("create shadowing filter for %q: %w", n.ID, err)
		}

		var ep model.Endpoint = model.StaticEndpoint{Pos: n.Position}
		if n.Velocity.X != 0 || n.Velocity.Y != 0 || n.Velocity.Z != 0 {
			ep = &model.LinearEndpoint{Origin: n.Position, Velocity: n.Velocity, Epoch: sc.Start}
		}
		radios = append(radios, radio{id: n.ID, endpoint: ep, filter: f})
	}
	return radios, nil
}

func buildRegistry(sc *scenario.Scenario) (*obstacle.Control, error) {
	ctrl := obstacle.NewControl(sc.GridCellSize)
	for _, t := range sc.Types {
		if err := ctrl.AddType(t); err != nil {
			return nil, err
		}
	}
	for _, o := range sc.Obstacles {
		// Obstacles are copied so a scenario can be run more than once.
		cp, err := obstacle.New(o.ID, o.Type, o.Shape)
		if err != nil {
			return nil, err
		}
		if err := ctrl.AddObstacle(cp); err != nil {
			return nil, err
		}
	}
	return ctrl, nil
}

func applyChange(ctrl *obstacle.Control, ch scenario.Change) error {
	switch ch.Action {
	case scenario.ActionAdd:
		o, err := obstacle.New(ch.Obstacle.ID, ch.Obstacle.Type, ch.Obstacle.Shape)
		if err != nil {
			return err
		}
		return ctrl.AddObstacle(o)
	case scenario.ActionRemove:
		return ctrl.RemoveObstacle(ch.ObstacleID)
	case scenario.ActionMove:
		return ctrl.MoveObstacle(ch.ObstacleID, ch.Shape)
	default:
		return fmt.Errorf("unknown obstacle change %q", ch.Action)
	}
}

func record(links map[linkKey]*LinkReport, from, to string, powerDBm, txPowerDBm float64) {
	k := linkKey{from: from, to: to}
	l, ok := links[k]
	if !ok {
		l = &LinkReport{From: from, To: to}
		links[k] = l
	}
	loss := txPowerDBm - powerDBm
	l.Signals++
	l.LastPowerDBm = powerDBm
	l.LastLossDB = loss
	l.MaxLossDB = math.Max(l.MaxLossDB, loss)
}

func sortedLinks(links map[linkKey]*LinkReport) []LinkReport {
	out := make([]LinkReport, 0, len(links))
	for _, l := range links {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}
