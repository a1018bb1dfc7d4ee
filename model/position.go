package model

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Position is a point in simulation space, in metres. Z is zero for planar
// scenarios. Position is comparable and can be used directly as a map key.
type Position struct {
	X float64
	Y float64
	Z float64
}

// Vec returns the position as a gonum 3D vector.
func (p Position) Vec() r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

// Planar returns the XY projection of the position.
func (p Position) Planar() r2.Vec {
	return r2.Vec{X: p.X, Y: p.Y}
}

// DistanceTo returns the straight-line distance between two positions.
func (p Position) DistanceTo(other Position) float64 {
	return r3.Norm(r3.Sub(p.Vec(), other.Vec()))
}

// Add returns p offset by the vector v.
func (p Position) Add(v r3.Vec) Position {
	return FromVec(r3.Add(p.Vec(), v))
}

func (p Position) String() string {
	return fmt.Sprintf("(%g, %g, %g)", p.X, p.Y, p.Z)
}

// FromVec converts a gonum 3D vector into a Position.
func FromVec(v r3.Vec) Position {
	return Position{X: v.X, Y: v.Y, Z: v.Z}
}

// FromPlanar lifts a 2D point into a Position with Z = 0.
func FromPlanar(v r2.Vec) Position {
	return Position{X: v.X, Y: v.Y}
}
