package server

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/copyleftdev/DOCKR/internal/docking"
	serrors "github.com/copyleftdev/DOCKR/internal/errors"
)

// AtomSpec is an atom on the wire.
type AtomSpec struct {
	Name      string     `json:"name,omitempty"`
	Element   string     `json:"element"`
	Residue   string     `json:"residue,omitempty"`
	ResidueID int        `json:"residue_id,omitempty"`
	Chain     string     `json:"chain,omitempty"`
	Coord     [3]float64 `json:"coord"`
}

// RegionSpec is a spherical search region.
type RegionSpec struct {
	Center [3]float64 `json:"center"`
	Radius float64    `json:"radius"`
}

// ReceptorSpec describes the prepared receptor.
type ReceptorSpec struct {
	Atoms            []AtomSpec  `json:"atoms"`
	Site             *RegionSpec `json:"site,omitempty"`
	FlexibleResidues []string    `json:"flexible_residues,omitempty"`
}

// LigandSpec describes a prepared ligand. Bonds and rotatable bonds are
// pairs of atom indices.
type LigandSpec struct {
	Atoms     []AtomSpec `json:"atoms"`
	Bonds     [][2]int   `json:"bonds,omitempty"`
	Rotatable [][2]int   `json:"rotatable,omitempty"`
}

// DockRequest starts a docking job. Zero-valued tuning fields take the
// server defaults.
type DockRequest struct {
	Receptor       ReceptorSpec `json:"receptor"`
	Ligand         LigandSpec   `json:"ligand"`
	Reference      *LigandSpec  `json:"reference,omitempty"`
	Strategy       string       `json:"strategy,omitempty"`
	ReferenceMode  string       `json:"reference_mode,omitempty"`
	Exhaustiveness int          `json:"exhaustiveness,omitempty"`
	RandomSeed     int64        `json:"random_seed,omitempty"`
	MaxResults     int          `json:"max_results,omitempty"`
}

// ResultView is one ranked pose on the wire.
type ResultView struct {
	Rank   int          `json:"rank"`
	Score  float64      `json:"score"`
	RMSD   *float64     `json:"rmsd,omitempty"`
	Coords [][3]float64 `json:"coords"`
}

func vec(c [3]float64) r3.Vec { return r3.Vec{X: c[0], Y: c[1], Z: c[2]} }

func badRequest(format string, args ...interface{}) error {
	return serrors.Wrapf(serrors.ErrBadRequest, format, args...)
}

func (s ReceptorSpec) toReceptor() (*docking.Receptor, error) {
	if len(s.Atoms) == 0 {
		return nil, badRequest("receptor has no atoms")
	}
	rec := &docking.Receptor{
		Atoms:            make([]docking.Atom, len(s.Atoms)),
		FlexibleResidues: s.FlexibleResidues,
	}
	for i, a := range s.Atoms {
		rec.Atoms[i] = docking.Atom{
			Name:      a.Name,
			Element:   a.Element,
			Residue:   a.Residue,
			ResidueID: a.ResidueID,
			Chain:     a.Chain,
			Coord:     vec(a.Coord),
		}
	}
	if s.Site != nil {
		if err := rec.DefineActiveSite(docking.Region{Center: vec(s.Site.Center), Radius: s.Site.Radius}); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

func (s LigandSpec) toPose(what string) (*docking.Pose, error) {
	if len(s.Atoms) == 0 {
		return nil, badRequest("%s has no atoms", what)
	}
	n := len(s.Atoms)
	p := &docking.Pose{
		Coords:   make([]r3.Vec, n),
		Elements: make([]string, n),
	}
	for i, a := range s.Atoms {
		p.Coords[i] = vec(a.Coord)
		p.Elements[i] = a.Element
	}
	inRange := func(b [2]int) bool {
		return b[0] >= 0 && b[0] < n && b[1] >= 0 && b[1] < n && b[0] != b[1]
	}
	for _, b := range s.Bonds {
		if !inRange(b) {
			return nil, badRequest("%s bond %v out of range", what, b)
		}
		p.Bonds = append(p.Bonds, docking.Bond{I: b[0], J: b[1]})
	}
	for _, b := range s.Rotatable {
		if !inRange(b) {
			return nil, badRequest("%s rotatable bond %v out of range", what, b)
		}
		p.Rotatable = append(p.Rotatable, docking.RotatableBond{I: b[0], J: b[1]})
	}
	return p, nil
}

func finite(v float64) bool { return !math.IsInf(v, 0) && !math.IsNaN(v) }

// resultViews converts ranked results, dropping non-finite scores which
// JSON cannot carry.
func resultViews(results []docking.Result, withRMSD bool) []ResultView {
	out := make([]ResultView, 0, len(results))
	for _, r := range results {
		if !finite(r.Score) {
			continue
		}
		v := ResultView{Rank: len(out) + 1, Score: r.Score, Coords: make([][3]float64, len(r.Pose.Coords))}
		for j, c := range r.Pose.Coords {
			v.Coords[j] = [3]float64{c.X, c.Y, c.Z}
		}
		if withRMSD {
			rmsd := r.RMSD
			v.RMSD = &rmsd
		}
		out = append(out, v)
	}
	return out
}
