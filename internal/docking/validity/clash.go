// Package validity rejects and repairs invalid poses. ClashFilter tests a
// pose against the receptor; ConformationValidator checks the ligand's own
// geometry and repairs it after crossover.
package validity

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/copyleftdev/DOCKR/internal/docking"
)

// DefaultClashThreshold is the minimum allowed ligand-receptor distance in Å.
const DefaultClashThreshold = 1.5

// ClashFilter rejects poses with any ligand-receptor pair strictly closer
// than Threshold. When the receptor has an active site only its cached
// atoms are checked.
type ClashFilter struct {
	Threshold float64
}

// NewClashFilter returns a filter with the given threshold, or the default
// when threshold is not positive.
func NewClashFilter(threshold float64) *ClashFilter {
	if threshold <= 0 {
		threshold = DefaultClashThreshold
	}
	return &ClashFilter{Threshold: threshold}
}

// Clashes reports whether pose overlaps the receptor. It stops at the first
// violating pair.
func (f *ClashFilter) Clashes(receptor *docking.Receptor, pose *docking.Pose) bool {
	return Clash(pose.Coords, receptor.ContactAtoms(), f.Threshold)
}

// Valid reports whether pose is clash-free and its centroid lies in region.
func (f *ClashFilter) Valid(receptor *docking.Receptor, pose *docking.Pose, region docking.Region) bool {
	return region.Contains(pose.Centroid()) && !f.Clashes(receptor, pose)
}

// OverlapFraction returns the fraction of ligand atoms that have at least
// one receptor atom closer than the threshold.
func (f *ClashFilter) OverlapFraction(receptor *docking.Receptor, pose *docking.Pose) float64 {
	if pose.Len() == 0 {
		return 0
	}
	atoms := receptor.ContactAtoms()
	t2 := f.Threshold * f.Threshold
	var n int
	for _, l := range pose.Coords {
		for _, a := range atoms {
			if r3.Norm2(r3.Sub(l, a.Coord)) < t2 {
				n++
				break
			}
		}
	}
	return float64(n) / float64(pose.Len())
}

// Clash reports whether any ligand coordinate is strictly closer than
// threshold to any atom. A pair at exactly threshold does not clash.
func Clash(ligand []r3.Vec, atoms []docking.Atom, threshold float64) bool {
	t2 := threshold * threshold
	for _, l := range ligand {
		for _, a := range atoms {
			if r3.Norm2(r3.Sub(l, a.Coord)) < t2 {
				return true
			}
		}
	}
	return false
}

// Penalized wraps s so that poses clashing under f score +Inf without
// calling s.
func Penalized(s docking.Scorer, f *ClashFilter) docking.Scorer {
	return docking.ScoreFunc(func(receptor *docking.Receptor, pose *docking.Pose) (float64, error) {
		if f.Clashes(receptor, pose) {
			return math.Inf(1), nil
		}
		return s.Score(receptor, pose)
	})
}
