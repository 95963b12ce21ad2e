// Package grid builds the set of anchor points that covers the search
// volume: one lattice sphere per detected pocket, a sphere around the
// active site, or a padded bounding-box lattice over the whole receptor.
package grid

import (
	"math"
	"math/rand"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/copyleftdev/DOCKR/internal/docking"
)

// Mode records how a grid was built.
type Mode int

const (
	// Spherical grids are unions of lattice spheres.
	Spherical Mode = iota
	// Cartesian grids fill a padded bounding box.
	Cartesian
)

func (m Mode) String() string {
	if m == Cartesian {
		return "cartesian"
	}
	return "spherical"
}

// Grid is an ordered, read-only set of points.
type Grid struct {
	Points []r3.Vec
	Mode   Mode
}

// Len returns the number of points.
func (g *Grid) Len() int { return len(g.Points) }

// Random returns a uniformly chosen point.
func (g *Grid) Random(rng *rand.Rand) r3.Vec {
	return g.Points[rng.Intn(len(g.Points))]
}

// Config controls grid construction.
type Config struct {
	// Spacing is the lattice step in Å.
	Spacing float64
	// Radius is the sphere radius used around each pocket center.
	Radius float64
	// Padding expands the receptor bounding box in cartesian mode.
	Padding float64
}

// Default values used when a Config field is not set.
const (
	DefaultSpacing = 0.375
	DefaultRadius  = 10.0
	DefaultPadding = 2.0
)

// boundaryTolerance absorbs rounding in radius/spacing when testing sphere
// membership.
const boundaryTolerance = 1e-9

// Builder produces grids for receptors.
type Builder struct {
	cfg    Config
	logger *zap.Logger
}

// NewBuilder returns a Builder; unset fields take the package defaults.
func NewBuilder(cfg Config, logger *zap.Logger) *Builder {
	if cfg.Spacing <= 0 {
		cfg.Spacing = DefaultSpacing
	}
	if cfg.Radius <= 0 {
		cfg.Radius = DefaultRadius
	}
	if cfg.Padding <= 0 {
		cfg.Padding = DefaultPadding
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{cfg: cfg, logger: logger.Named("grid")}
}

// Build covers the receptor's search volume. Detected pockets take
// precedence; otherwise the defined active site is used; otherwise the
// padded bounding box of all receptor atoms. An empty result is an error.
func (b *Builder) Build(receptor *docking.Receptor) (*Grid, error) {
	if pockets := receptor.DetectPockets(); len(pockets) > 0 {
		centers := make([]r3.Vec, len(pockets))
		for i, p := range pockets {
			centers[i] = p.Center
		}
		return b.fromCenters(centers, b.cfg.Radius)
	}
	if receptor.Site != nil {
		return b.fromCenters([]r3.Vec{receptor.Site.Center}, receptor.Site.Radius)
	}

	box := receptor.Bounds()
	if len(receptor.Atoms) == 0 {
		return nil, docking.WrapError(docking.ErrEmptyGrid, "receptor has no atoms").
			WithComponent("grid").WithOperation("Build")
	}
	pts := Box(box, b.cfg.Padding, b.cfg.Spacing)
	if len(pts) == 0 {
		return nil, docking.WrapError(docking.ErrEmptyGrid, "bounding box produced no points").
			WithComponent("grid").WithOperation("Build")
	}
	b.logger.Debug("built cartesian grid",
		zap.Int("points", len(pts)),
		zap.Float64("spacing", b.cfg.Spacing),
		zap.Float64("padding", b.cfg.Padding))
	return &Grid{Points: pts, Mode: Cartesian}, nil
}

func (b *Builder) fromCenters(centers []r3.Vec, radius float64) (*Grid, error) {
	var pts []r3.Vec
	for _, c := range centers {
		if err := (docking.Region{Center: c, Radius: radius}).Validate(); err != nil {
			return nil, err
		}
		pts = append(pts, Sphere(c, radius, b.cfg.Spacing)...)
	}
	if len(pts) == 0 {
		return nil, docking.WrapErrorf(docking.ErrEmptyGrid, "%d centers with radius %.3f", len(centers), radius).
			WithComponent("grid").WithOperation("Build")
	}
	b.logger.Debug("built spherical grid",
		zap.Int("centers", len(centers)),
		zap.Int("points", len(pts)),
		zap.Float64("radius", radius),
		zap.Float64("spacing", b.cfg.Spacing))
	return &Grid{Points: pts, Mode: Spherical}, nil
}

// Sphere returns every lattice point center+(i,j,k)*spacing whose distance
// from center is at most radius. The comparison is made on integer lattice
// offsets, i²+j²+k² <= (radius/spacing)², with a relative tolerance so
// points exactly on the boundary are kept for any spacing.
func Sphere(center r3.Vec, radius, spacing float64) []r3.Vec {
	if radius <= 0 || spacing <= 0 {
		return nil
	}
	ratio := radius / spacing
	limit := ratio * ratio * (1 + boundaryTolerance)
	n := int(math.Ceil(ratio))
	var pts []r3.Vec
	for i := -n; i <= n; i++ {
		for j := -n; j <= n; j++ {
			for k := -n; k <= n; k++ {
				if float64(i*i+j*j+k*k) > limit {
					continue
				}
				off := r3.Vec{X: float64(i) * spacing, Y: float64(j) * spacing, Z: float64(k) * spacing}
				pts = append(pts, r3.Add(center, off))
			}
		}
	}
	return pts
}

// Box returns the lattice min+(i,j,k)*spacing filling box expanded by
// padding on every side. Upper bounds are exclusive.
func Box(box r3.Box, padding, spacing float64) []r3.Vec {
	if spacing <= 0 {
		return nil
	}
	lo := r3.Sub(box.Min, r3.Vec{X: padding, Y: padding, Z: padding})
	hi := r3.Add(box.Max, r3.Vec{X: padding, Y: padding, Z: padding})
	xs := arange(lo.X, hi.X, spacing)
	ys := arange(lo.Y, hi.Y, spacing)
	zs := arange(lo.Z, hi.Z, spacing)

	pts := make([]r3.Vec, 0, len(xs)*len(ys)*len(zs))
	for _, x := range xs {
		for _, y := range ys {
			for _, z := range zs {
				pts = append(pts, r3.Vec{X: x, Y: y, Z: z})
			}
		}
	}
	return pts
}

func arange(start, stop, step float64) []float64 {
	n := int(math.Ceil((stop - start) / step))
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}
