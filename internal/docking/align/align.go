// Package align superimposes a ligand on a reference pose with the Kabsch
// algorithm and measures root-mean-square deviation between poses.
package align

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/copyleftdev/DOCKR/internal/docking"
	"github.com/copyleftdev/DOCKR/internal/docking/geometry"
)

const component = "align"

// Kabsch is the default docking.ReferenceAligner. The aligned pose keeps
// the ligand's internal geometry and takes the reference's position and
// orientation.
type Kabsch struct {
	// SkipOptimization is passed through to the Alignment.
	SkipOptimization bool
}

// Align implements docking.ReferenceAligner.
func (k Kabsch) Align(ligand, reference *docking.Pose) (docking.Alignment, error) {
	if ligand == nil || ligand.Len() == 0 || reference == nil || reference.Len() == 0 {
		return docking.Alignment{}, docking.WrapError(docking.ErrEmptyLigand, "cannot align").
			WithComponent(component)
	}
	coords, err := Superpose(ligand.Coords, reference.Coords)
	if err != nil {
		return docking.Alignment{}, err
	}
	out := ligand.Clone()
	copy(out.Coords, coords)
	return docking.Alignment{Pose: out, SkipOptimization: k.SkipOptimization}, nil
}

// Superpose returns mobile rigidly moved to minimise its RMSD to target.
// Both sets must have the same length.
func Superpose(mobile, target []r3.Vec) ([]r3.Vec, error) {
	if len(mobile) != len(target) {
		return nil, docking.NewErrorf("atom count mismatch: %d vs %d", len(mobile), len(target)).
			WithOperation("superpose").WithComponent(component)
	}
	if len(mobile) == 0 {
		return nil, nil
	}

	cm, ct := geometry.Centroid(mobile), geometry.Centroid(target)
	p := centered(mobile, cm)
	q := centered(target, ct)

	rot, err := kabsch(p, q)
	if err != nil {
		return nil, err
	}

	var moved mat.Dense
	moved.Mul(p, rot.T())
	out := make([]r3.Vec, len(mobile))
	for i := range out {
		out[i] = r3.Add(ct, r3.Vec{X: moved.At(i, 0), Y: moved.At(i, 1), Z: moved.At(i, 2)})
	}
	return out, nil
}

// kabsch returns the proper rotation R minimising Σ|R·pᵢ - qᵢ|² for
// centred row-vector sets p and q.
func kabsch(p, q *mat.Dense) (*mat.Dense, error) {
	var h mat.Dense
	h.Mul(p.T(), q)

	var svd mat.SVD
	if ok := svd.Factorize(&h, mat.SVDFull); !ok {
		return nil, docking.NewError("SVD factorization failed").
			WithOperation("kabsch").WithComponent(component)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// Flip the smallest singular direction when the optimum is a reflection.
	var vut mat.Dense
	vut.Mul(&v, u.T())
	d := mat.NewDiagDense(3, []float64{1, 1, 1})
	if mat.Det(&vut) < 0 {
		d.SetDiag(2, -1)
	}

	var tmp, rot mat.Dense
	tmp.Mul(&v, d)
	rot.Mul(&tmp, u.T())
	return &rot, nil
}

func centered(pts []r3.Vec, c r3.Vec) *mat.Dense {
	m := mat.NewDense(len(pts), 3, nil)
	for i, p := range pts {
		d := r3.Sub(p, c)
		m.Set(i, 0, d.X)
		m.Set(i, 1, d.Y)
		m.Set(i, 2, d.Z)
	}
	return m
}

// RMSD returns the root-mean-square deviation between corresponding atoms
// without superposition.
func RMSD(a, b []r3.Vec) (float64, error) {
	if len(a) != len(b) {
		return 0, docking.NewErrorf("atom count mismatch: %d vs %d", len(a), len(b)).
			WithOperation("rmsd").WithComponent(component)
	}
	if len(a) == 0 {
		return 0, nil
	}
	var sum float64
	for i := range a {
		sum += r3.Norm2(r3.Sub(a[i], b[i]))
	}
	return math.Sqrt(sum / float64(len(a))), nil
}
