package grid

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/copyleftdev/DOCKR/internal/docking"
	"github.com/copyleftdev/DOCKR/internal/docking/geometry"
)

// latticeCount counts integer triples with i²+j²+k² <= n².
func latticeCount(n int) int {
	var count int
	for i := -n; i <= n; i++ {
		for j := -n; j <= n; j++ {
			for k := -n; k <= n; k++ {
				if i*i+j*j+k*k <= n*n {
					count++
				}
			}
		}
	}
	return count
}

func TestSphere_AnalyticCount(t *testing.T) {
	pts := Sphere(r3.Vec{}, 10, 2)
	require.NotEmpty(t, pts)
	assert.Equal(t, latticeCount(5), len(pts))
	for _, p := range pts {
		assert.LessOrEqual(t, r3.Norm(p), 10.0)
	}
	assert.Contains(t, pts, r3.Vec{X: 10}, "boundary point must be included")
}

func TestSphere_OffsetCenter(t *testing.T) {
	center := r3.Vec{X: 1.25, Y: -3.5, Z: 7}
	pts := Sphere(center, 3, 0.5)
	assert.Equal(t, latticeCount(6), len(pts))
	for _, p := range pts {
		assert.True(t, geometry.InSphere(p, center, 3+1e-9))
	}
}

func TestSphere_InexactSpacingKeepsBoundary(t *testing.T) {
	tests := []struct {
		radius, spacing float64
		n               int
	}{
		{0.5, 0.1, 5},
		{0.3, 0.1, 3},
		{0.7, 0.1, 7},
		{2.0, 0.2, 10},
	}
	for _, tt := range tests {
		pts := Sphere(r3.Vec{}, tt.radius, tt.spacing)
		assert.Equal(t, latticeCount(tt.n), len(pts), "radius %v spacing %v", tt.radius, tt.spacing)
	}

	// (3,4,0) lies exactly on the boundary of a 0.5 Å sphere at 0.1 Å spacing.
	var found bool
	for _, p := range Sphere(r3.Vec{}, 0.5, 0.1) {
		if math.Abs(p.X-0.3) < 1e-12 && math.Abs(p.Y-0.4) < 1e-12 && p.Z == 0 {
			found = true
		}
	}
	assert.True(t, found, "boundary point (3,4,0) must be included")
}

func TestSphere_Degenerate(t *testing.T) {
	assert.Empty(t, Sphere(r3.Vec{}, 0, 1))
	assert.Empty(t, Sphere(r3.Vec{}, 1, 0))
	assert.Len(t, Sphere(r3.Vec{}, 0.1, 1), 1)
}

func TestBox(t *testing.T) {
	box := r3.Box{Min: r3.Vec{}, Max: r3.Vec{X: 2, Y: 2, Z: 2}}
	pts := Box(box, 1, 1)
	// [-1, 3) in steps of 1 is four values per axis.
	assert.Len(t, pts, 64)
	for _, p := range pts {
		assert.GreaterOrEqual(t, p.X, -1.0)
		assert.Less(t, p.X, 3.0)
	}
}

func TestBuilder_Build(t *testing.T) {
	atoms := []docking.Atom{
		{Coord: r3.Vec{}},
		{Coord: r3.Vec{X: 4, Y: 4, Z: 4}},
	}

	tests := []struct {
		name     string
		receptor func() *docking.Receptor
		mode     Mode
		check    func(t *testing.T, g *Grid)
	}{
		{
			name: "pockets",
			receptor: func() *docking.Receptor {
				return &docking.Receptor{
					Atoms: atoms,
					Pockets: func(*docking.Receptor) []docking.Region {
						return []docking.Region{
							{Center: r3.Vec{}, Radius: 1},
							{Center: r3.Vec{X: 20}, Radius: 1},
						}
					},
				}
			},
			mode: Spherical,
			check: func(t *testing.T, g *Grid) {
				assert.Equal(t, 2*latticeCount(2), g.Len())
			},
		},
		{
			name: "active site",
			receptor: func() *docking.Receptor {
				rec := &docking.Receptor{Atoms: atoms}
				require.NoError(t, rec.DefineActiveSite(docking.Region{Center: r3.Vec{X: 2}, Radius: 2}))
				return rec
			},
			mode: Spherical,
			check: func(t *testing.T, g *Grid) {
				for _, p := range g.Points {
					assert.True(t, geometry.InSphere(p, r3.Vec{X: 2}, 2+1e-9))
				}
			},
		},
		{
			name:     "bounding box fallback",
			receptor: func() *docking.Receptor { return &docking.Receptor{Atoms: atoms} },
			mode:     Cartesian,
			check: func(t *testing.T, g *Grid) {
				// [-2, 6) with spacing 0.5 is 16 values per axis.
				assert.Equal(t, 16*16*16, g.Len())
			},
		},
	}

	b := NewBuilder(Config{Spacing: 0.5, Radius: 1}, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := b.Build(tt.receptor())
			require.NoError(t, err)
			assert.Equal(t, tt.mode, g.Mode)
			tt.check(t, g)
		})
	}
}

func TestBuilder_Errors(t *testing.T) {
	b := NewBuilder(Config{}, nil)

	_, err := b.Build(&docking.Receptor{})
	assert.ErrorIs(t, err, docking.ErrEmptyGrid)

	badSite := &docking.Receptor{
		Atoms: []docking.Atom{{Element: "C"}},
		Site:  &docking.ActiveSite{Region: docking.Region{Radius: -1}},
	}
	_, err = b.Build(badSite)
	assert.ErrorIs(t, err, docking.ErrInvalidRegion)
}

func TestGrid_Random(t *testing.T) {
	g := &Grid{Points: Sphere(r3.Vec{}, 2, 1)}
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		assert.Contains(t, g.Points, g.Random(rng))
	}
}

func BenchmarkSphere(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = Sphere(r3.Vec{}, 10, 0.375)
	}
}
