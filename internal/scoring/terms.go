package scoring

import (
	"fmt"
	"math"
)

// Term is one pairwise interaction evaluated on the surface distance
// s = d - (Ri + Rj) between two atoms.
type Term interface {
	// Eval returns the weighted contribution of one atom pair.
	Eval(s float64) float64
}

// GaussianTerm is an attractive term weight·exp(-((s-offset)/width)²).
// Weights are negative for attraction.
type GaussianTerm struct {
	offset float64
	width  float64
	weight float64
}

// NewGaussianTerm creates a Gaussian term.
func NewGaussianTerm(offset, width, weight float64) *GaussianTerm {
	if width <= 0 {
		panic(fmt.Sprintf("width must be positive, got %v", width))
	}
	return &GaussianTerm{offset: offset, width: width, weight: weight}
}

// Eval implements Term.
func (g *GaussianTerm) Eval(s float64) float64 {
	x := (s - g.offset) / g.width
	return g.weight * math.Exp(-x*x)
}

// RepulsionTerm penalises overlap quadratically: weight·s² for s < 0.
type RepulsionTerm struct {
	weight float64
}

// NewRepulsionTerm creates a repulsion term.
func NewRepulsionTerm(weight float64) *RepulsionTerm {
	if weight < 0 {
		panic(fmt.Sprintf("weight must be non-negative, got %v", weight))
	}
	return &RepulsionTerm{weight: weight}
}

// Eval implements Term.
func (r *RepulsionTerm) Eval(s float64) float64 {
	if s >= 0 {
		return 0
	}
	return r.weight * s * s
}
