package model

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Endpoint is a radio point of attachment whose position can be resolved at
// a given simulation time. Mobile endpoints may return a different position
// on every call.
type Endpoint interface {
	PositionAt(simTime time.Time) Position
}

// StaticEndpoint never moves.
type StaticEndpoint struct {
	Pos Position
}

// PositionAt returns the fixed position.
func (e StaticEndpoint) PositionAt(time.Time) Position { return e.Pos }

// LinearEndpoint moves with constant velocity (metres per second) from
// Origin, starting at Epoch.
type LinearEndpoint struct {
	Origin   Position
	Velocity r3.Vec
	Epoch    time.Time
}

// PositionAt extrapolates the endpoint's position to simTime. Times before
// Epoch resolve to Origin.
func (e *LinearEndpoint) PositionAt(simTime time.Time) Position {
	dt := simTime.Sub(e.Epoch).Seconds()
	if dt <= 0 {
		return e.Origin
	}
	return e.Origin.Add(r3.Scale(dt, e.Velocity))
}
