package docking

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// BoltzmannK is the Boltzmann constant in kcal/(mol·K).
const BoltzmannK = 0.001987

// MinRadiusFraction is the floor of the search-radius schedule as a fraction
// of the initial radius.
const MinRadiusFraction = 0.5

// SearchRadius returns max(r0*(1-decay*t/total), r0*0.5). A non-positive
// total leaves the radius at r0.
func SearchRadius(r0, decay float64, t, total int) float64 {
	if total <= 0 {
		return r0
	}
	r := r0 * (1 - decay*float64(t)/float64(total))
	return math.Max(r, r0*MinRadiusFraction)
}

// TemperatureSchedule returns steps temperatures linearly interpolated from
// high to target inclusive. One step yields just high.
func TemperatureSchedule(high, target float64, steps int) []float64 {
	if steps <= 0 {
		return nil
	}
	temps := make([]float64, steps)
	if steps == 1 {
		temps[0] = high
		return temps
	}
	return floats.Span(temps, high, target)
}

// MetropolisProbability returns the probability of accepting an energy
// change delta at temperature temp: 1 for delta <= 0, otherwise
// exp(-delta/(BoltzmannK*temp)). A non-positive temperature accepts only
// improvements and an infinite or NaN delta is never accepted.
func MetropolisProbability(delta, temp float64) float64 {
	if math.IsNaN(delta) || math.IsInf(delta, 1) {
		return 0
	}
	if delta <= 0 {
		return 1
	}
	if temp <= 0 {
		return 0
	}
	return math.Exp(-delta / (BoltzmannK * temp))
}

// MetropolisAccept decides acceptance given a uniform draw u in [0,1).
func MetropolisAccept(delta, temp, u float64) bool {
	if delta <= 0 && !math.IsNaN(delta) {
		return true
	}
	return u < MetropolisProbability(delta, temp)
}
