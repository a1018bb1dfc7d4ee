package obstacle

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/obstacle-shadowing/model"
)

var (
	ErrTypeExists       = errors.New("obstacle type already exists")
	ErrTypeNotFound     = errors.New("obstacle type not found")
	ErrObstacleExists   = errors.New("obstacle already exists")
	ErrObstacleNotFound = errors.New("obstacle not found")
	ErrObstacleInvalid  = errors.New("invalid obstacle")
)

// DefaultGridCellSize is the edge length, in metres, of the cells of the
// spatial index used for candidate queries.
const DefaultGridCellSize = 250.0

// EventType indicates what kind of change happened in the registry.
type EventType int

const (
	EventTypeAdded EventType = iota
	EventObstacleAdded
	EventObstacleRemoved
	EventObstacleMoved
	EventCleared
)

func (t EventType) String() string {
	switch t {
	case EventTypeAdded:
		return "type_added"
	case EventObstacleAdded:
		return "obstacle_added"
	case EventObstacleRemoved:
		return "obstacle_removed"
	case EventObstacleMoved:
		return "obstacle_moved"
	case EventCleared:
		return "cleared"
	default:
		return "unknown"
	}
}

// Event is emitted to subscribers whenever obstacle geometry or materials
// change. Any cached attenuation becomes suspect on every event.
type Event struct {
	Type       EventType
	ObstacleID string
}

type cell struct{ x, y int64 }

// Control is the obstacle registry. It owns obstacle types and obstacles,
// answers candidate and attenuation queries, and notifies subscribers of
// geometry changes. It is safe for concurrent use.
type Control struct {
	mu sync.RWMutex

	cellSize  float64
	types     map[string]Type
	obstacles map[string]*Obstacle
	grid      map[cell][]*Obstacle
	nextSeq   uint64

	subs    map[uint64]func(Event)
	nextSub uint64
}

// NewControl constructs an empty registry. A non-positive cellSize uses
// DefaultGridCellSize.
func NewControl(cellSize float64) *Control {
	if cellSize <= 0 {
		cellSize = DefaultGridCellSize
	}
	return &Control{
		cellSize:  cellSize,
		types:     make(map[string]Type),
		obstacles: make(map[string]*Obstacle),
		grid:      make(map[cell][]*Obstacle),
		subs:      make(map[uint64]func(Event)),
	}
}

//
// ---------- Types ----------
//

// AddType registers an obstacle material.
func (c *Control) AddType(t Type) error {
	if t.Name == "" {
		return fmt.Errorf("%w: empty type name", ErrObstacleInvalid)
	}
	c.mu.Lock()
	if _, exists := c.types[t.Name]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrTypeExists, t.Name)
	}
	c.types[t.Name] = t
	subs := c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, Event{Type: EventTypeAdded})
	return nil
}

// GetType returns the named obstacle type.
func (c *Control) GetType(name string) (Type, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[name]
	return t, ok
}

// IsAnyObstacleDefined reports whether at least one obstacle type has been
// configured.
func (c *Control) IsAnyObstacleDefined() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.types) > 0
}

//
// ---------- Obstacles ----------
//

// AddObstacle inserts o into the registry. Its type must already exist.
func (c *Control) AddObstacle(o *Obstacle) error {
	if o == nil {
		return fmt.Errorf("%w: nil obstacle", ErrObstacleInvalid)
	}
	c.mu.Lock()
	if _, ok := c.types[o.Type]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q (obstacle %q)", ErrTypeNotFound, o.Type, o.ID)
	}
	if _, exists := c.obstacles[o.ID]; exists {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrObstacleExists, o.ID)
	}
	c.nextSeq++
	o.seq = c.nextSeq
	c.obstacles[o.ID] = o
	c.indexLocked(o)
	subs := c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, Event{Type: EventObstacleAdded, ObstacleID: o.ID})
	return nil
}

// RemoveObstacle deletes the obstacle with the given ID.
func (c *Control) RemoveObstacle(id string) error {
	c.mu.Lock()
	o, ok := c.obstacles[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrObstacleNotFound, id)
	}
	delete(c.obstacles, id)
	c.unindexLocked(o)
	subs := c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, Event{Type: EventObstacleRemoved, ObstacleID: id})
	return nil
}

// MoveObstacle replaces the footprint of an existing obstacle. The obstacle
// keeps its ID, type and query order.
func (c *Control) MoveObstacle(id string, shape []r2.Vec) error {
	c.mu.Lock()
	old, ok := c.obstacles[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrObstacleNotFound, id)
	}
	moved, err := New(id, old.Type, shape)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	moved.seq = old.seq
	c.unindexLocked(old)
	c.obstacles[id] = moved
	c.indexLocked(moved)
	subs := c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, Event{Type: EventObstacleMoved, ObstacleID: id})
	return nil
}

// GetObstacle returns the obstacle with the given ID, or nil if not found.
func (c *Control) GetObstacle(id string) *Obstacle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.obstacles[id]
}

// Len returns the number of registered obstacles.
func (c *Control) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.obstacles)
}

// Clear removes every obstacle. Obstacle types are kept.
func (c *Control) Clear() {
	c.mu.Lock()
	c.obstacles = make(map[string]*Obstacle)
	c.grid = make(map[cell][]*Obstacle)
	subs := c.subscribersLocked()
	c.mu.Unlock()

	notify(subs, Event{Type: EventCleared})
}

//
// ---------- Queries ----------
//

// PotentialObstacles returns the obstacles whose grid cells overlap the
// bounding box of the sender-receiver segment, in insertion order. The
// returned slice is owned by the caller.
func (c *Control) PotentialObstacles(sender, receiver model.Position) []*Obstacle {
	minX, maxX := math.Min(sender.X, receiver.X), math.Max(sender.X, receiver.X)
	minY, maxY := math.Min(sender.Y, receiver.Y), math.Max(sender.Y, receiver.Y)
	lo := c.cellOf(minX, minY)
	hi := c.cellOf(maxX, maxY)

	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[*Obstacle]struct{})
	var out []*Obstacle
	for x := lo.x; x <= hi.x; x++ {
		for y := lo.y; y <= hi.y; y++ {
			for _, o := range c.grid[cell{x, y}] {
				if _, dup := seen[o]; dup {
					continue
				}
				seen[o] = struct{}{}
				out = append(out, o)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// CalculateAttenuation returns the factor by which o attenuates a
// transmission from sender to receiver. Unknown types do not attenuate.
func (c *Control) CalculateAttenuation(sender, receiver model.Position, o *Obstacle) float64 {
	t, ok := c.GetType(o.Type)
	if !ok {
		return 1
	}
	return o.Attenuation(sender, receiver, t)
}

//
// ---------- Subscriptions ----------
//

// Subscribe registers a callback for registry events. It returns an
// unsubscribe function that is safe to call more than once.
func (c *Control) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSub++
	id := c.nextSub
	c.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// subscribersLocked snapshots the callbacks in subscription order so they
// can be invoked outside the lock. Caller must hold c.mu.
func (c *Control) subscribersLocked() []func(Event) {
	ids := make([]uint64, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, c.subs[id])
	}
	return out
}

func notify(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}

//
// ---------- Grid index ----------
//

func (c *Control) cellOf(x, y float64) cell {
	return cell{
		x: int64(math.Floor(x / c.cellSize)),
		y: int64(math.Floor(y / c.cellSize)),
	}
}

func (c *Control) cellsOf(o *Obstacle) (lo, hi cell) {
	return c.cellOf(o.p1.X, o.p1.Y), c.cellOf(o.p2.X, o.p2.Y)
}

// Caller must hold c.mu.
func (c *Control) indexLocked(o *Obstacle) {
	lo, hi := c.cellsOf(o)
	for x := lo.x; x <= hi.x; x++ {
		for y := lo.y; y <= hi.y; y++ {
			k := cell{x, y}
			c.grid[k] = append(c.grid[k], o)
		}
	}
}

// Caller must hold c.mu.
func (c *Control) unindexLocked(o *Obstacle) {
	lo, hi := c.cellsOf(o)
	for x := lo.x; x <= hi.x; x++ {
		for y := lo.y; y <= hi.y; y++ {
			k := cell{x, y}
			list := c.grid[k]
			for i, cand := range list {
				if cand == o {
					list = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(list) == 0 {
				delete(c.grid, k)
			} else {
				c.grid[k] = list
			}
		}
	}
}
