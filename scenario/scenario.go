// Package scenario loads obstacle shadowing scenarios from JSON.
package scenario

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/obstacle-shadowing/model"
	"github.com/signalsfoundry/obstacle-shadowing/obstacle"
	"github.com/signalsfoundry/obstacle-shadowing/shadowing"
)

// ErrInvalidScenario is wrapped by every validation failure.
var ErrInvalidScenario = errors.New("invalid scenario")

// Defaults applied to fields left out of the JSON.
const (
	DefaultTxPowerMw      = 20.0
	DefaultBeaconInterval = 100 * time.Millisecond
	DefaultDuration       = 10 * time.Second
)

// DefaultStart is the simulation epoch used when the scenario sets none.
var DefaultStart = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

// ChangeAction is the kind of a timed obstacle change.
type ChangeAction string

const (
	ActionAdd    ChangeAction = "add"
	ActionRemove ChangeAction = "remove"
	ActionMove   ChangeAction = "move"
)

// Node is a radio whose position may change linearly over time.
type Node struct {
	ID       string
	Position model.Position
	Velocity r3.Vec
}

// Change is an obstacle registry mutation applied At after the start.
type Change struct {
	At         time.Duration
	Action     ChangeAction
	ObstacleID string

	Obstacle *obstacle.Obstacle // add only
	Shape    []r2.Vec           // move only
}

// Scenario is a fully validated simulation description.
type Scenario struct {
	Name           string
	Start          time.Time
	Duration       time.Duration
	BeaconInterval time.Duration
	TxPowerMw      float64

	UseTorus       bool
	PlaygroundSize model.Position
	CacheCapacity  int
	Policy         shadowing.AccumulationPolicy
	GridCellSize   float64

	Types     []obstacle.Type
	Obstacles []*obstacle.Obstacle
	Nodes     []Node
	Changes   []Change
}

// On-disk shapes. They stay unexported so the file format can change without
// touching Scenario.
type scenarioJSON struct {
	Name           string         `json:"name"`
	Start          string         `json:"start"`
	Duration       string         `json:"duration"`
	BeaconInterval string         `json:"beacon_interval"`
	TxPowerMw      *float64       `json:"tx_power_mw"`
	UseTorus       bool           `json:"use_torus"`
	PlaygroundSize *vecJSON       `json:"playground_size"`
	CacheCapacity  int            `json:"cache_capacity"`
	Policy         string         `json:"policy"`
	GridCellSize   float64        `json:"grid_cell_size"`
	ObstacleTypes  []typeJSON     `json:"obstacle_types"`
	Obstacles      []obstacleJSON `json:"obstacles"`
	Nodes          []nodeJSON     `json:"nodes"`
	Changes        []changeJSON   `json:"changes"`
}

type typeJSON struct {
	Name       string  `json:"name"`
	DBPerCut   float64 `json:"db_per_cut"`
	DBPerMeter float64 `json:"db_per_meter"`
}

type obstacleJSON struct {
	ID    string       `json:"id"`
	Type  string       `json:"type"`
	Shape [][2]float64 `json:"shape"`
}

type nodeJSON struct {
	ID       string   `json:"id"`
	Position vecJSON  `json:"position"`
	Velocity *vecJSON `json:"velocity"`
}

type changeJSON struct {
	At       string       `json:"at"`
	Action   string       `json:"action"`
	Obstacle obstacleJSON `json:"obstacle"`
}

type vecJSON struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// LoadFile reads and validates the scenario at path.
func LoadFile(path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open scenario %q: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load decodes a JSON scenario from r and validates it. Unknown fields are
// rejected so typos surface instead of silently using defaults.
func Load(r io.Reader) (*Scenario, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()

	var raw scenarioJSON
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode scenario JSON: %w", ErrInvalidScenario, err)
	}
	return raw.build()
}

func (raw *scenarioJSON) build() (*Scenario, error) {
	sc := &Scenario{
		Name:           raw.Name,
		Start:          DefaultStart,
		Duration:       DefaultDuration,
		BeaconInterval: DefaultBeaconInterval,
		TxPowerMw:      DefaultTxPowerMw,
		UseTorus:       raw.UseTorus,
		CacheCapacity:  raw.CacheCapacity,
		GridCellSize:   raw.GridCellSize,
	}

	var err error
	if raw.Start != "" {
		if sc.Start, err = time.Parse(time.RFC3339, raw.Start); err != nil {
			return nil, fmt.Errorf("%w: start: %v", ErrInvalidScenario, err)
		}
	}
	if sc.Duration, err = parsePositiveDuration("duration", raw.Duration, DefaultDuration); err != nil {
		return nil, err
	}
	if sc.BeaconInterval, err = parsePositiveDuration("beacon_interval", raw.BeaconInterval, DefaultBeaconInterval); err != nil {
		return nil, err
	}
	if raw.TxPowerMw != nil {
		if *raw.TxPowerMw <= 0 {
			return nil, fmt.Errorf("%w: tx_power_mw must be positive", ErrInvalidScenario)
		}
		sc.TxPowerMw = *raw.TxPowerMw
	}
	if raw.PlaygroundSize != nil {
		sc.PlaygroundSize = raw.PlaygroundSize.position()
	}
	if raw.CacheCapacity < 0 {
		return nil, fmt.Errorf("%w: cache_capacity must not be negative", ErrInvalidScenario)
	}
	if sc.Policy, err = shadowing.ParsePolicy(raw.Policy); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}

	types := make(map[string]bool, len(raw.ObstacleTypes))
	for _, t := range raw.ObstacleTypes {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: obstacle type without a name", ErrInvalidScenario)
		}
		if types[t.Name] {
			return nil, fmt.Errorf("%w: duplicate obstacle type %q", ErrInvalidScenario, t.Name)
		}
		if t.DBPerCut < 0 || t.DBPerMeter < 0 {
			return nil, fmt.Errorf("%w: obstacle type %q has negative attenuation", ErrInvalidScenario, t.Name)
		}
		types[t.Name] = true
		sc.Types = append(sc.Types, obstacle.Type{Name: t.Name, DBPerCut: t.DBPerCut, DBPerMeter: t.DBPerMeter})
	}

	obstacleIDs := make(map[string]bool, len(raw.Obstacles))
	for _, oj := range raw.Obstacles {
		o, err := oj.obstacle(types)
		if err != nil {
			return nil, err
		}
		if obstacleIDs[o.ID] {
			return nil, fmt.Errorf("%w: duplicate obstacle %q", ErrInvalidScenario, o.ID)
		}
		obstacleIDs[o.ID] = true
		sc.Obstacles = append(sc.Obstacles, o)
	}

	nodeIDs := make(map[string]bool, len(raw.Nodes))
	for _, nj := range raw.Nodes {
		id := nj.ID
		if id == "" {
			id = "node-" + uuid.NewString()[:8]
		}
		if nodeIDs[id] {
			return nil, fmt.Errorf("%w: duplicate node %q", ErrInvalidScenario, id)
		}
		nodeIDs[id] = true
		n := Node{ID: id, Position: nj.Position.position()}
		if nj.Velocity != nil {
			n.Velocity = nj.Velocity.position().Vec()
		}
		sc.Nodes = append(sc.Nodes, n)
	}

	for i, cj := range raw.Changes {
		ch, err := cj.change(types)
		if err != nil {
			return nil, fmt.Errorf("change %d: %w", i, err)
		}
		if ch.At > sc.Duration {
			return nil, fmt.Errorf("%w: change %d at %s is after the end of the run", ErrInvalidScenario, i, ch.At)
		}
		sc.Changes = append(sc.Changes, ch)
	}

	return sc, nil
}

func (oj obstacleJSON) obstacle(types map[string]bool) (*obstacle.Obstacle, error) {
	id := oj.ID
	if id == "" {
		id = "obstacle-" + uuid.NewString()[:8]
	}
	if !types[oj.Type] {
		return nil, fmt.Errorf("%w: obstacle %q references unknown type %q", ErrInvalidScenario, id, oj.Type)
	}
	o, err := obstacle.New(id, oj.Type, oj.shape())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScenario, err)
	}
	return o, nil
}

func (oj obstacleJSON) shape() []r2.Vec {
	out := make([]r2.Vec, 0, len(oj.Shape))
	for _, p := range oj.Shape {
		out = append(out, r2.Vec{X: p[0], Y: p[1]})
	}
	return out
}

func (cj changeJSON) change(types map[string]bool) (Change, error) {
	var ch Change
	at, err := time.ParseDuration(cj.At)
	if err != nil || at < 0 {
		return ch, fmt.Errorf("%w: at %q is not a non-negative duration", ErrInvalidScenario, cj.At)
	}
	ch.At = at
	ch.Action = ChangeAction(strings.ToLower(cj.Action))

	switch ch.Action {
	case ActionAdd:
		ch.Obstacle, err = cj.Obstacle.obstacle(types)
		if err == nil {
			ch.ObstacleID = ch.Obstacle.ID
		}
	case ActionMove:
		if cj.Obstacle.ID == "" {
			return ch, fmt.Errorf("%w: move needs an obstacle ID", ErrInvalidScenario)
		}
		if len(cj.Obstacle.Shape) < 3 {
			return ch, fmt.Errorf("%w: move of %q needs a shape with at least 3 vertices", ErrInvalidScenario, cj.Obstacle.ID)
		}
		ch.ObstacleID = cj.Obstacle.ID
		ch.Shape = cj.Obstacle.shape()
	case ActionRemove:
		if cj.Obstacle.ID == "" {
			return ch, fmt.Errorf("%w: remove needs an obstacle ID", ErrInvalidScenario)
		}
		ch.ObstacleID = cj.Obstacle.ID
	default:
		return ch, fmt.Errorf("%w: unknown action %q", ErrInvalidScenario, cj.Action)
	}
	return ch, err
}

func parsePositiveDuration(field, raw string, def time.Duration) (time.Duration, error) {
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidScenario, field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidScenario, field)
	}
	return d, nil
}

func (v vecJSON) position() model.Position {
	return model.Position{X: v.X, Y: v.Y, Z: v.Z}
}
