package local

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/copyleftdev/DOCKR/internal/docking"
	"github.com/copyleftdev/DOCKR/internal/docking/dockingtest"
	"github.com/copyleftdev/DOCKR/internal/docking/geometry"
)

func TestOptimize_MovesTowardOptimum(t *testing.T) {
	target := r3.Vec{X: 0.4, Y: -0.3, Z: 0.2}
	opt := New(Config{}, dockingtest.DistanceScorer(target), nil)

	lig := dockingtest.Ligand()
	res := opt.Optimize(context.Background(), &docking.Receptor{}, lig)

	start := r3.Norm2(target)
	assert.Less(t, res.Score, start)
	assert.Less(t, geometry.Distance(res.Pose.Centroid(), target), 0.05)
	assert.Equal(t, dockingtest.Ligand().Coords, lig.Coords, "input must not change")
}

func TestOptimize_Rotates(t *testing.T) {
	opt := New(Config{MaxSteps: 500}, dockingtest.OrientationScorer(r3.Vec{}), nil)
	lig := dockingtest.Ligand()
	lig.RotateAboutCentroid(geometry.AxisAngle(r3.Vec{Z: 1}, 0.3))

	before, err := dockingtest.OrientationScorer(r3.Vec{})(nil, lig)
	require.NoError(t, err)
	res := opt.Optimize(context.Background(), nil, lig)
	assert.Less(t, res.Score, before)
}

func TestOptimize_NeverWorse(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	noisy := docking.ScoreFunc(func(_ *docking.Receptor, p *docking.Pose) (float64, error) {
		return rng.NormFloat64() + r3.Norm(p.Centroid()), nil
	})
	opt := New(Config{MaxSteps: 50}, noisy, nil)

	for i := 0; i < 20; i++ {
		res := opt.OptimizeFrom(context.Background(), nil, dockingtest.Ligand(), -1.5)
		assert.LessOrEqual(t, res.Score, -1.5)
	}
}

func TestOptimize_FailingScorer(t *testing.T) {
	opt := New(Config{MaxSteps: 20}, dockingtest.FailingScorer(dockingtest.ConstantScorer(1)), nil)
	lig := dockingtest.Ligand()
	lig.Translate(r3.Vec{X: 1})

	res := opt.Optimize(context.Background(), nil, lig)
	assert.True(t, math.IsInf(res.Score, 1))
	require.NotNil(t, res.Pose)
}

func TestOptimize_TerminatesOnStepFloor(t *testing.T) {
	scorer := &dockingtest.CountingScorer{Next: dockingtest.ConstantScorer(0)}
	opt := New(Config{TranslationStep: 0.1, Factor: 0.5, MinStep: 0.01, MaxSteps: 1000}, scorer, nil)
	opt.Optimize(context.Background(), nil, dockingtest.Ligand())

	// 0.1 -> 0.05 -> 0.025 -> 0.0125 -> stop: four failing iterations of
	// twelve moves each, plus the initial score.
	assert.Equal(t, int64(4*12+1), scorer.Calls())
}

func TestOptimize_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	scorer := &dockingtest.CountingScorer{Next: dockingtest.DistanceScorer(r3.Vec{X: 5})}
	opt := New(Config{}, scorer, nil)
	res := opt.Optimize(ctx, nil, dockingtest.Ligand())
	assert.Equal(t, int64(1), scorer.Calls())
	assert.Equal(t, 25.0, math.Round(res.Score))
}

func BenchmarkOptimize(b *testing.B) {
	opt := New(Config{}, dockingtest.DistanceScorer(r3.Vec{X: 1}), nil)
	lig := dockingtest.Ligand()
	for i := 0; i < b.N; i++ {
		opt.Optimize(context.Background(), nil, lig)
	}
}
