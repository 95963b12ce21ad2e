package docking

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/copyleftdev/DOCKR/internal/docking/geometry"
)

// Atom is a receptor atom: a coordinate plus the chemical metadata the
// scoring collaborator may need.
type Atom struct {
	Name      string
	Element   string
	Residue   string
	ResidueID int
	Chain     string
	Coord     r3.Vec
}

// Bond connects two ligand atoms. A zero length range means the validator's
// default range applies.
type Bond struct {
	I, J      int
	MinLength float64
	MaxLength float64
}

// RotatableBond describes a torsion about the I->J axis. Moving lists the
// atoms displaced by the torsion; when empty it is derived from the bond
// graph as every atom reachable from J without crossing I.
type RotatableBond struct {
	I, J   int
	Moving []int
}

// Pose is one placement of the ligand. Coordinates are owned by the pose;
// Elements, Bonds and Rotatable are immutable and shared between clones.
type Pose struct {
	Coords    []r3.Vec
	Elements  []string
	Bonds     []Bond
	Rotatable []RotatableBond
}

// NewPose returns a pose owning a copy of coords.
func NewPose(coords []r3.Vec, bonds []Bond) *Pose {
	return &Pose{
		Coords: append([]r3.Vec(nil), coords...),
		Bonds:  bonds,
	}
}

// Clone returns an independent copy of the pose. Only the coordinate array
// is duplicated.
func (p *Pose) Clone() *Pose {
	if p == nil {
		return nil
	}
	return &Pose{
		Coords:    append([]r3.Vec(nil), p.Coords...),
		Elements:  p.Elements,
		Bonds:     p.Bonds,
		Rotatable: p.Rotatable,
	}
}

// Len returns the number of atoms.
func (p *Pose) Len() int { return len(p.Coords) }

// CheckTopology reports bonds, rotatable bonds or moving-atom lists that
// reference atoms outside the pose. The error wraps ErrInvalidConfig.
func (p *Pose) CheckTopology() error {
	n := len(p.Coords)
	in := func(i int) bool { return i >= 0 && i < n }
	for k, b := range p.Bonds {
		if !in(b.I) || !in(b.J) || b.I == b.J {
			return WrapErrorf(ErrInvalidConfig, "bond %d joins atoms %d-%d in a pose of %d atoms", k, b.I, b.J, n).
				WithComponent("pose")
		}
	}
	for k, rb := range p.Rotatable {
		if !in(rb.I) || !in(rb.J) || rb.I == rb.J {
			return WrapErrorf(ErrInvalidConfig, "rotatable bond %d joins atoms %d-%d in a pose of %d atoms", k, rb.I, rb.J, n).
				WithComponent("pose")
		}
		for _, a := range rb.Moving {
			if !in(a) {
				return WrapErrorf(ErrInvalidConfig, "rotatable bond %d moves atom %d outside a pose of %d atoms", k, a, n).
					WithComponent("pose")
			}
		}
	}
	return nil
}

// Centroid returns the geometric center of the pose.
func (p *Pose) Centroid() r3.Vec { return geometry.Centroid(p.Coords) }

// Translate moves every atom by d.
func (p *Pose) Translate(d r3.Vec) {
	for i := range p.Coords {
		p.Coords[i] = r3.Add(p.Coords[i], d)
	}
}

// MoveCentroidTo translates the pose so that its centroid lands on target.
func (p *Pose) MoveCentroidTo(target r3.Vec) {
	p.Translate(r3.Sub(target, p.Centroid()))
}

// Rotate applies rot about pivot.
func (p *Pose) Rotate(rot r3.Rotation, pivot r3.Vec) {
	for i := range p.Coords {
		p.Coords[i] = geometry.RotateAbout(p.Coords[i], rot, pivot)
	}
}

// RotateAboutCentroid applies rot about the pose's own centroid.
func (p *Pose) RotateAboutCentroid(rot r3.Rotation) {
	p.Rotate(rot, p.Centroid())
}

// RotateBond applies a dihedral rotation of angle radians about rotatable
// bond idx.
func (p *Pose) RotateBond(idx int, angle float64) error {
	if idx < 0 || idx >= len(p.Rotatable) {
		return NewErrorf("rotatable bond %d out of range [0,%d)", idx, len(p.Rotatable)).
			WithComponent("pose").WithOperation("RotateBond")
	}
	rb := p.Rotatable[idx]
	if rb.I < 0 || rb.J < 0 || rb.I >= len(p.Coords) || rb.J >= len(p.Coords) {
		return NewErrorf("rotatable bond %d references atoms %d-%d outside pose of %d atoms", idx, rb.I, rb.J, len(p.Coords)).
			WithComponent("pose").WithOperation("RotateBond")
	}
	moving := rb.Moving
	if len(moving) == 0 {
		moving = p.fragment(rb.I, rb.J)
	}
	pivot := p.Coords[rb.J]
	rot := geometry.AxisAngle(r3.Sub(p.Coords[rb.J], p.Coords[rb.I]), angle)
	for _, a := range moving {
		if a == rb.I || a == rb.J {
			continue
		}
		p.Coords[a] = geometry.RotateAbout(p.Coords[a], rot, pivot)
	}
	return nil
}

// fragment returns the atoms reachable from j without passing through i.
func (p *Pose) fragment(i, j int) []int {
	adj := make(map[int][]int, len(p.Coords))
	for _, b := range p.Bonds {
		adj[b.I] = append(adj[b.I], b.J)
		adj[b.J] = append(adj[b.J], b.I)
	}
	seen := map[int]bool{i: true, j: true}
	queue := []int{j}
	var out []int
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range adj[cur] {
			if seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, n)
			queue = append(queue, n)
		}
	}
	return out
}

// Flatten writes the coordinates as x0,y0,z0,x1,... into dst, growing it as
// needed.
func (p *Pose) Flatten(dst []float64) []float64 {
	n := 3 * len(p.Coords)
	if cap(dst) < n {
		dst = make([]float64, n)
	}
	dst = dst[:n]
	for i, c := range p.Coords {
		dst[3*i], dst[3*i+1], dst[3*i+2] = c.X, c.Y, c.Z
	}
	return dst
}

// SetFlat overwrites the coordinates from a flat buffer produced by Flatten.
func (p *Pose) SetFlat(x []float64) {
	for i := range p.Coords {
		p.Coords[i] = r3.Vec{X: x[3*i], Y: x[3*i+1], Z: x[3*i+2]}
	}
}

// Region is a spherical search volume.
type Region struct {
	Center r3.Vec
	Radius float64
}

// Validate rejects non-positive or non-finite radii and non-finite centers.
func (r Region) Validate() error {
	if !(r.Radius > 0) || math.IsInf(r.Radius, 0) {
		return WrapErrorf(ErrInvalidRegion, "radius must be positive and finite, got %v", r.Radius)
	}
	for _, v := range []float64{r.Center.X, r.Center.Y, r.Center.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return WrapErrorf(ErrInvalidRegion, "center must be finite, got %v", r.Center)
		}
	}
	return nil
}

// Contains reports whether p lies inside or on the region boundary.
func (r Region) Contains(p r3.Vec) bool {
	return geometry.InSphere(p, r.Center, r.Radius)
}

// ActiveSite is a region together with the receptor atoms that fall inside
// it. Atoms is computed once when the site is defined.
type ActiveSite struct {
	Region
	Atoms []Atom
}

// PocketDetector proposes candidate binding pockets for a receptor.
type PocketDetector func(*Receptor) []Region

// Receptor is the rigid macromolecule. It is read-only once a search starts.
type Receptor struct {
	Atoms            []Atom
	Site             *ActiveSite
	Pockets          PocketDetector
	FlexibleResidues []string
}

// DefineActiveSite validates region and caches the atoms inside it.
func (r *Receptor) DefineActiveSite(region Region) error {
	if err := region.Validate(); err != nil {
		return err
	}
	site := &ActiveSite{Region: region, Atoms: []Atom{}}
	for _, a := range r.Atoms {
		if region.Contains(a.Coord) {
			site.Atoms = append(site.Atoms, a)
		}
	}
	r.Site = site
	return nil
}

// EnsureActiveSite defines a site around the receptor centroid with
// defaultRadius when none exists, fills in the cached atoms of a site that
// was set without them, and returns the active region.
func (r *Receptor) EnsureActiveSite(defaultRadius float64) (Region, error) {
	if r.Site == nil {
		if err := r.DefineActiveSite(Region{Center: r.Centroid(), Radius: defaultRadius}); err != nil {
			return Region{}, err
		}
		return r.Site.Region, nil
	}
	if err := r.Site.Region.Validate(); err != nil {
		return Region{}, err
	}
	if r.Site.Atoms == nil {
		if err := r.DefineActiveSite(r.Site.Region); err != nil {
			return Region{}, err
		}
	}
	return r.Site.Region, nil
}

// ContactAtoms returns the active-site atoms when a site is defined and all
// atoms otherwise.
func (r *Receptor) ContactAtoms() []Atom {
	if r.Site != nil && r.Site.Atoms != nil {
		return r.Site.Atoms
	}
	return r.Atoms
}

// Centroid returns the mean atom position of the receptor.
func (r *Receptor) Centroid() r3.Vec {
	pts := make([]r3.Vec, len(r.Atoms))
	for i, a := range r.Atoms {
		pts[i] = a.Coord
	}
	return geometry.Centroid(pts)
}

// Bounds returns the axis-aligned bounding box of all receptor atoms.
func (r *Receptor) Bounds() r3.Box {
	if len(r.Atoms) == 0 {
		return r3.Box{}
	}
	box := r3.Box{Min: r.Atoms[0].Coord, Max: r.Atoms[0].Coord}
	for _, a := range r.Atoms[1:] {
		c := a.Coord
		box.Min = r3.Vec{X: math.Min(box.Min.X, c.X), Y: math.Min(box.Min.Y, c.Y), Z: math.Min(box.Min.Z, c.Z)}
		box.Max = r3.Vec{X: math.Max(box.Max.X, c.X), Y: math.Max(box.Max.Y, c.Y), Z: math.Max(box.Max.Z, c.Z)}
	}
	return box
}

// DetectPockets runs the pocket detector if one is attached.
func (r *Receptor) DetectPockets() []Region {
	if r.Pockets == nil {
		return nil
	}
	return r.Pockets(r)
}

// RepairEvent tags how an individual's geometry was obtained after a
// crossover.
type RepairEvent int

const (
	RepairNone RepairEvent = iota
	RepairPerturbed
	RepairMinimized
	RepairReplaced
)

func (e RepairEvent) String() string {
	switch e {
	case RepairPerturbed:
		return "perturbed"
	case RepairMinimized:
		return "minimized"
	case RepairReplaced:
		return "replaced"
	default:
		return "none"
	}
}

// Individual is a pose with an optional score. Once Evaluated is set the
// score does not change; a mutated pose is a new Individual.
type Individual struct {
	Pose      *Pose
	Score     float64
	Evaluated bool
	Repair    RepairEvent
}

// Rank is the score used for ordering: +Inf for unevaluated individuals and
// NaN scores.
func (ind Individual) Rank() float64 {
	if !ind.Evaluated || math.IsNaN(ind.Score) {
		return math.Inf(1)
	}
	return ind.Score
}

// SortIndividuals orders by ascending score with unevaluated individuals
// last.
func SortIndividuals(pop []Individual) {
	sort.SliceStable(pop, func(i, j int) bool {
		return pop[i].Rank() < pop[j].Rank()
	})
}

// Result is a scored pose. RMSD is filled in only when a reference pose was
// supplied.
type Result struct {
	Pose  *Pose
	Score float64
	RMSD  float64
}

// SortResults orders results by ascending score; NaN sorts last.
func SortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].Score, results[j].Score
		if math.IsNaN(b) {
			return !math.IsNaN(a)
		}
		return a < b
	})
}

// DedupeResults drops results whose score, rounded to decimals places,
// repeats an earlier one. The input order is kept.
func DedupeResults(results []Result, decimals int) []Result {
	scale := math.Pow(10, float64(decimals))
	seen := make(map[float64]bool, len(results))
	out := make([]Result, 0, len(results))
	for _, r := range results {
		key := math.Round(r.Score*scale) / scale
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}
