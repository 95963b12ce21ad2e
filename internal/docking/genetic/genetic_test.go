package genetic

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/copyleftdev/DOCKR/internal/docking"
	"github.com/copyleftdev/DOCKR/internal/docking/dockingtest"
	"github.com/copyleftdev/DOCKR/internal/docking/geometry"
	"github.com/copyleftdev/DOCKR/internal/docking/grid"
	"github.com/copyleftdev/DOCKR/internal/docking/local"
	"github.com/copyleftdev/DOCKR/internal/docking/sampler"
	"github.com/copyleftdev/DOCKR/internal/docking/validity"
)

func siteReceptor(radius float64) *docking.Receptor {
	rec := dockingtest.ShellReceptor(r3.Vec{}, 12)
	if err := rec.DefineActiveSite(docking.Region{Radius: radius}); err != nil {
		panic(err)
	}
	return rec
}

func newTestRun(t *testing.T, cfg Config, scorer docking.Scorer) *run {
	t.Helper()
	cfg.RandomSeed = 42
	e := New(cfg, scorer)
	rec := siteReceptor(6)
	rng := docking.NewRand(cfg.RandomSeed)
	return &run{
		Engine:    e,
		ctx:       context.Background(),
		receptor:  rec,
		ligand:    dockingtest.Ligand(),
		region:    rec.Site.Region,
		rng:       rng,
		sampler:   sampler.New(e.cfg.Sampler, rng),
		clash:     validity.NewClashFilter(e.cfg.ClashThreshold),
		validator: validity.NewConformationValidator(e.cfg.Conformation, nil),
		local:     local.New(e.cfg.Local, scorer, nil),
	}
}

func TestSearch_ConstantScore(t *testing.T) {
	e := New(Config{PopulationSize: 10, MaxIterations: 5, RandomSeed: 1}, dockingtest.ConstantScorer(-3))

	results, err := e.Search(context.Background(), siteReceptor(6), dockingtest.Ligand())
	require.NoError(t, err)
	require.Len(t, results, 1, "a constant score never strictly improves")
	assert.Equal(t, -3.0, results[0].Score)
	assert.Equal(t, dockingtest.Ligand().Len(), results[0].Pose.Len())
}

func TestSearch_ImprovesAndSorts(t *testing.T) {
	target := r3.Vec{X: 1, Y: -1, Z: 0.5}
	rec := &dockingtest.Recorder{}
	cfg := DefaultConfig()
	cfg.PopulationSize = 20
	cfg.MaxIterations = 15
	cfg.RandomSeed = 7
	cfg.Workers = 2
	e := New(cfg, dockingtest.DistanceScorer(target), WithProgress(rec))

	results, err := e.Search(context.Background(), siteReceptor(6), dockingtest.Ligand())
	require.NoError(t, err)
	require.NotEmpty(t, results)

	for i := 1; i < len(results); i++ {
		assert.Less(t, results[i-1].Score, results[i].Score, "history holds strict improvements only")
	}
	assert.Less(t, results[0].Score, 0.5)

	events := rec.Events()
	require.Len(t, events, 15)
	for i, ev := range events {
		assert.Equal(t, Name, ev.Strategy)
		assert.Equal(t, i+1, ev.Iteration)
		assert.GreaterOrEqual(t, ev.Radius, 3.0)
		if i > 0 {
			assert.LessOrEqual(t, ev.BestScore, events[i-1].BestScore)
			assert.LessOrEqual(t, ev.Radius, events[i-1].Radius)
		}
	}
}

func TestSearch_ConfigurationErrors(t *testing.T) {
	e := New(Config{PopulationSize: 4, MaxIterations: 1}, dockingtest.ConstantScorer(0))

	_, err := e.Search(context.Background(), siteReceptor(6), &docking.Pose{})
	assert.ErrorIs(t, err, docking.ErrEmptyLigand)

	bad := dockingtest.ShellReceptor(r3.Vec{}, 12)
	bad.Site = &docking.ActiveSite{Region: docking.Region{Radius: -2}}
	_, err = e.Search(context.Background(), bad, dockingtest.Ligand())
	assert.ErrorIs(t, err, docking.ErrInvalidRegion)
	assert.True(t, docking.IsConfigurationError(err))

	lig := dockingtest.Ligand()
	lig.Bonds = []docking.Bond{{I: 0, J: 99}}
	require.NotPanics(t, func() {
		_, err = e.Search(context.Background(), siteReceptor(6), lig)
	})
	assert.ErrorIs(t, err, docking.ErrInvalidConfig)
}

func TestSearch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := New(Config{PopulationSize: 4, MaxIterations: 3, RandomSeed: 3}, dockingtest.ConstantScorer(0))
	_, err := e.Search(ctx, siteReceptor(6), dockingtest.Ligand())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTournament_PicksLowestOfSample(t *testing.T) {
	r := newTestRun(t, Config{PopulationSize: 8, TournamentSize: 3}, dockingtest.ConstantScorer(0))
	pop := make([]docking.Individual, 8)
	for i := range pop {
		pop[i] = docking.Individual{Pose: dockingtest.Ligand(), Score: float64((i * 5) % 8), Evaluated: true}
	}

	for trial := 0; trial < 200; trial++ {
		idx := r.rng.Perm(len(pop))[:3]
		w := bestOf(pop, idx)
		for _, i := range idx {
			assert.LessOrEqual(t, pop[w].Score, pop[i].Score)
		}
	}

	// A full-size tournament always returns the global best.
	r.cfg.TournamentSize = len(pop)
	for trial := 0; trial < 20; trial++ {
		assert.Equal(t, 0.0, pop[r.tournament(pop)].Score)
	}
}

func TestCrossover_PreservesTopologyAndTagsRepairs(t *testing.T) {
	r := newTestRun(t, Config{PopulationSize: 4, CrossoverRate: 1}, dockingtest.ConstantScorer(0))
	lig := dockingtest.Ligand()

	for trial := 0; trial < 50; trial++ {
		a := docking.Individual{Pose: r.sampler.RandomPose(lig, r.region), Score: 1, Evaluated: true}
		b := docking.Individual{Pose: r.sampler.RandomPose(lig, r.region), Score: 2, Evaluated: true}

		c1, c2 := r.crossover(a, b)
		for _, c := range []docking.Individual{c1, c2} {
			assert.Equal(t, lig.Len(), c.Pose.Len())
			assert.Equal(t, len(lig.Bonds), len(c.Pose.Bonds))
			assert.False(t, c.Evaluated)
			if c.Repair == docking.RepairNone {
				assert.NoError(t, r.validator.Validate(c.Pose), "untagged child must be valid")
			}
		}
	}
}

func TestCrossover_PassThrough(t *testing.T) {
	r := newTestRun(t, Config{PopulationSize: 4}, dockingtest.ConstantScorer(0))
	r.cfg.CrossoverRate = 0

	a := docking.Individual{Pose: dockingtest.Ligand(), Score: 1, Evaluated: true}
	b := docking.Individual{Pose: dockingtest.Ligand(), Score: 2, Evaluated: true}
	c1, c2 := r.crossover(a, b)

	assert.Equal(t, a.Pose.Coords, c1.Pose.Coords)
	assert.NotSame(t, a.Pose, c1.Pose)
	assert.Equal(t, 2.0, c2.Score)
	assert.True(t, c2.Evaluated)
}

func TestConfig_Rates(t *testing.T) {
	tests := []struct {
		name          string
		mutation      float64
		crossover     float64
		wantMutation  float64
		wantCrossover float64
	}{
		{"zero disables both operators", 0, 0, 0, 0},
		{"explicit rates kept", 0.05, 0.6, 0.05, 0.6},
		{"out of range takes defaults", -1, 1.5, 0.2, 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(Config{MutationRate: tt.mutation, CrossoverRate: tt.crossover}, dockingtest.ConstantScorer(0))
			assert.Equal(t, tt.wantMutation, e.cfg.MutationRate)
			assert.Equal(t, tt.wantCrossover, e.cfg.CrossoverRate)
			assert.Equal(t, tt.wantMutation, e.cfg.Sampler.MutationRate)
		})
	}
}

func TestZeroRates_PurePassThrough(t *testing.T) {
	r := newTestRun(t, Config{PopulationSize: 4, CrossoverRate: 0, MutationRate: 0}, dockingtest.ConstantScorer(0))
	lig := dockingtest.Ligand()

	for trial := 0; trial < 100; trial++ {
		a := docking.Individual{Pose: r.sampler.RandomPose(lig, r.region), Score: 1, Evaluated: true}
		b := docking.Individual{Pose: r.sampler.RandomPose(lig, r.region), Score: 2, Evaluated: true}
		c1, c2 := r.crossover(a, b)
		assert.Equal(t, a.Pose.Coords, c1.Pose.Coords)
		assert.Equal(t, b.Pose.Coords, c2.Pose.Coords)

		before := append([]r3.Vec(nil), c1.Pose.Coords...)
		m := r.sampler.Mutate(c1.Pose, r.region.Center, r.region.Radius)
		assert.Equal(t, sampler.MutationNone, m.Kind)
		assert.Equal(t, before, c1.Pose.Coords)
	}
}

func TestInitPopulation_Exhaustion(t *testing.T) {
	rec := dockingtest.PointReceptor(r3.Vec{})
	require.NoError(t, rec.DefineActiveSite(docking.Region{Radius: 3}))

	// Every placement clashes with a 100 Å threshold.
	r := newTestRun(t, Config{PopulationSize: 5, InitAttemptsPerIndividual: 4, ExpandAfter: 3, ClashThreshold: 100}, dockingtest.ConstantScorer(0))
	r.receptor = rec
	r.region = rec.Site.Region

	pop := r.initPopulation()
	require.Len(t, pop, 5)
	for _, ind := range pop {
		assert.True(t, r.region.Contains(ind.Pose.Centroid()))
		assert.False(t, ind.Evaluated)
	}
}

func TestInitPopulation_SeedsFromGrid(t *testing.T) {
	r := newTestRun(t, Config{PopulationSize: 12}, dockingtest.ConstantScorer(0))
	g := &grid.Grid{Points: []r3.Vec{{X: 2}, {Y: -2}}}
	WithGrid(g)(r.Engine)

	for _, ind := range r.initPopulation() {
		c := ind.Pose.Centroid()
		d := math.Min(geometry.Distance(c, g.Points[0]), geometry.Distance(c, g.Points[1]))
		// Jitter is N(0, 1) per axis.
		assert.Less(t, d, 6.0)
		assert.True(t, r.region.Contains(c))
	}
}

func TestSearch_AllClashingStillTerminates(t *testing.T) {
	rec := dockingtest.PointReceptor(r3.Vec{})
	require.NoError(t, rec.DefineActiveSite(docking.Region{Radius: 0.5}))

	e := New(Config{PopulationSize: 6, MaxIterations: 3, RandomSeed: 5, ClashThreshold: 50}, dockingtest.ConstantScorer(1))
	results, err := e.Search(context.Background(), rec, dockingtest.Ligand())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, math.IsInf(results[0].Score, 1))
}

func BenchmarkSearch(b *testing.B) {
	rec := siteReceptor(6)
	cfg := DefaultConfig()
	cfg.PopulationSize = 20
	cfg.MaxIterations = 10
	cfg.RandomSeed = 1
	e := New(cfg, dockingtest.DistanceScorer(r3.Vec{}))
	for i := 0; i < b.N; i++ {
		_, _ = e.Search(context.Background(), rec, dockingtest.Ligand())
	}
}
