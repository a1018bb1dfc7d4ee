package model

import (
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestPositionIsComparableMapKey(t *testing.T) {
	m := map[Position]int{}
	m[Position{X: 1, Y: 2}] = 7
	if got := m[Position{X: 1, Y: 2, Z: 0}]; got != 7 {
		t.Fatalf("map lookup = %d, want 7", got)
	}
}

func TestPositionDistance(t *testing.T) {
	a := Position{X: 0, Y: 0, Z: 0}
	b := Position{X: 3, Y: 4, Z: 0}
	if got := a.DistanceTo(b); math.Abs(got-5) > 1e-12 {
		t.Fatalf("DistanceTo = %v, want 5", got)
	}
}

func TestLinearEndpointPositionAt(t *testing.T) {
	epoch := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	e := &LinearEndpoint{
		Origin:   Position{X: 10},
		Velocity: r3.Vec{X: 2, Y: -1},
		Epoch:    epoch,
	}

	if got := e.PositionAt(epoch.Add(-time.Second)); got != e.Origin {
		t.Fatalf("PositionAt before epoch = %v, want origin", got)
	}
	want := Position{X: 16, Y: -3}
	if got := e.PositionAt(epoch.Add(3 * time.Second)); got != want {
		t.Fatalf("PositionAt(+3s) = %v, want %v", got, want)
	}
}

func TestSignalScale(t *testing.T) {
	s := &Signal{PowerMw: 10}
	s.Scale(0.5)
	if s.PowerMw != 5 {
		t.Fatalf("PowerMw = %v, want 5", s.PowerMw)
	}
	if got := s.PowerDBm(); math.Abs(got-10*math.Log10(5)) > 1e-12 {
		t.Fatalf("PowerDBm = %v", got)
	}
}

func TestFactorToDB(t *testing.T) {
	if got := FactorToDB(1); got != 0 {
		t.Fatalf("FactorToDB(1) = %v, want 0", got)
	}
	if got := FactorToDB(0.1); math.Abs(got-10) > 1e-9 {
		t.Fatalf("FactorToDB(0.1) = %v, want 10", got)
	}
	if got := FactorToDB(0); !math.IsInf(got, 1) {
		t.Fatalf("FactorToDB(0) = %v, want +Inf", got)
	}
}
