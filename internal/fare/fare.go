// Package fare prices a journey. Everything here is pure: no I/O, no clock.
package fare

import "math"

// Segment is the part of a route between the boarding and the alighting station.
type Segment struct {
	DistanceKm float64
	Legs       int
}

// Func prices one passenger.
type Func func(baseMultiplier, classMultiplier float64, seg Segment) float64

type Rates struct {
	PerKm   float64
	PerLeg  float64
	Minimum float64
}

var DefaultRates = Rates{PerKm: 0.75, PerLeg: 40, Minimum: 30}

// Fare uses distance when the route carries it and falls back to a per leg rate.
func (r Rates) Fare(baseMultiplier, classMultiplier float64, seg Segment) float64 {
	var raw float64
	if seg.DistanceKm > 0 {
		raw = seg.DistanceKm * r.PerKm
	} else {
		raw = float64(seg.Legs) * r.PerLeg
	}
	amount := raw * baseMultiplier * classMultiplier
	if amount < r.Minimum {
		amount = r.Minimum
	}
	return Round(amount)
}

func Default() Func {
	return DefaultRates.Fare
}

// Total prices a whole booking from the per passenger fare.
func Total(f Func, baseMultiplier, classMultiplier float64, seg Segment, passengers int) float64 {
	if passengers <= 0 {
		return 0
	}
	return Round(f(baseMultiplier, classMultiplier, seg) * float64(passengers))
}

// Round rounds half away from zero to two decimals.
func Round(v float64) float64 {
	return math.Round(v*100) / 100
}
