package model

import (
	"math"
	"time"
)

// Signal is a single simulated transmission between two endpoints. Power is
// the received power in milliwatts before and after analogue models are
// applied.
type Signal struct {
	Sender   Endpoint
	Receiver Endpoint

	// SendTime is the simulation time at which endpoint positions are
	// resolved.
	SendTime time.Time

	PowerMw float64
}

// Scale multiplies the signal's power by factor in place.
func (s *Signal) Scale(factor float64) {
	s.PowerMw *= factor
}

// PowerDBm returns the signal power in dBm. Zero power maps to -Inf.
func (s *Signal) PowerDBm() float64 {
	return MilliwattToDBm(s.PowerMw)
}

// MilliwattToDBm converts a linear power in mW to dBm.
func MilliwattToDBm(mw float64) float64 {
	if mw <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(mw)
}

// FactorToDB converts a linear attenuation factor into a positive loss in dB.
func FactorToDB(factor float64) float64 {
	if factor <= 0 {
		return math.Inf(1)
	}
	return -10 * math.Log10(factor)
}
