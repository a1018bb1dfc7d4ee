package obstacle

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/signalsfoundry/obstacle-shadowing/model"
)

// Type describes the material attenuation of a class of obstacles, e.g. a
// building. Loss is charged per wall crossing and per metre travelled inside.
type Type struct {
	Name       string
	DBPerCut   float64
	DBPerMeter float64
}

// Obstacle is a static polygonal footprint in the XY plane. Obstacles held by
// the registry are never mutated; moving an obstacle replaces it.
type Obstacle struct {
	ID    string
	Type  string
	Shape []r2.Vec

	seq    uint64
	p1, p2 r2.Vec
}

// New builds an obstacle and computes its bounding box. The shape is copied.
func New(id, typ string, shape []r2.Vec) (*Obstacle, error) {
	if id == "" || typ == "" {
		return nil, fmt.Errorf("%w: obstacle needs an ID and a type", ErrObstacleInvalid)
	}
	if len(shape) < 3 {
		return nil, fmt.Errorf("%w: obstacle %q has %d vertices, need at least 3", ErrObstacleInvalid, id, len(shape))
	}
	o := &Obstacle{
		ID:    id,
		Type:  typ,
		Shape: append([]r2.Vec(nil), shape...),
	}
	o.p1 = r2.Vec{X: math.Inf(1), Y: math.Inf(1)}
	o.p2 = r2.Vec{X: math.Inf(-1), Y: math.Inf(-1)}
	for _, v := range o.Shape {
		if math.IsNaN(v.X) || math.IsNaN(v.Y) || math.IsInf(v.X, 0) || math.IsInf(v.Y, 0) {
			return nil, fmt.Errorf("%w: obstacle %q has a non-finite vertex", ErrObstacleInvalid, id)
		}
		o.p1.X = math.Min(o.p1.X, v.X)
		o.p1.Y = math.Min(o.p1.Y, v.Y)
		o.p2.X = math.Max(o.p2.X, v.X)
		o.p2.Y = math.Max(o.p2.Y, v.Y)
	}
	return o, nil
}

// BboxP1 returns the minimum corner of the obstacle's bounding box. It is
// used as the obstacle's anchor point for annotations.
func (o *Obstacle) BboxP1() model.Position { return model.FromPlanar(o.p1) }

// BboxP2 returns the maximum corner of the obstacle's bounding box.
func (o *Obstacle) BboxP2() model.Position { return model.FromPlanar(o.p2) }

// Contains reports whether the XY projection of p lies inside the polygon.
func (o *Obstacle) Contains(p model.Position) bool {
	return pointInPolygon(p.Planar(), o.Shape)
}

// Attenuation returns the linear factor by which a straight transmission
// from sender to receiver is attenuated when passing through o, given the
// material of its type. A segment that misses the obstacle yields 1.
func (o *Obstacle) Attenuation(sender, receiver model.Position, t Type) float64 {
	s, r := sender.Planar(), receiver.Planar()
	if !o.bboxIntersects(s, r) {
		return 1
	}

	cuts, fractionInside := o.crossings(s, r)
	if cuts == 0 && fractionInside == 0 {
		return 1
	}

	insideMeters := fractionInside * sender.DistanceTo(receiver)
	db := float64(cuts)*t.DBPerCut + insideMeters*t.DBPerMeter
	return math.Pow(10, -db/10)
}

func (o *Obstacle) bboxIntersects(s, r r2.Vec) bool {
	minX, maxX := math.Min(s.X, r.X), math.Max(s.X, r.X)
	minY, maxY := math.Min(s.Y, r.Y), math.Max(s.Y, r.Y)
	return minX <= o.p2.X && maxX >= o.p1.X && minY <= o.p2.Y && maxY >= o.p1.Y
}
