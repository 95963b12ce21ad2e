package orchestrator

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/copyleftdev/DOCKR/internal/docking"
	"github.com/copyleftdev/DOCKR/internal/docking/align"
	"github.com/copyleftdev/DOCKR/internal/docking/dockingtest"
	"github.com/copyleftdev/DOCKR/internal/docking/grid"
	"github.com/copyleftdev/DOCKR/internal/docking/randsearch"
)

// fakeSearcher returns fixed scores for poses centred at offsets along x.
type fakeSearcher struct {
	scores []float64
	err    error
}

func (f *fakeSearcher) Name() string { return "fake" }

func (f *fakeSearcher) Search(ctx context.Context, _ *docking.Receptor, ligand *docking.Pose) ([]docking.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]docking.Result, len(f.scores))
	for i, s := range f.scores {
		p := ligand.Clone()
		p.Translate(r3.Vec{X: float64(i) * 0.1})
		out[i] = docking.Result{Pose: p, Score: s}
	}
	return out, nil
}

type captureSink struct {
	mu      sync.Mutex
	results []docking.Result
	meta    map[string]interface{}
	calls   int
	err     error
}

func (c *captureSink) Accept(_ context.Context, results []docking.Result, meta map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.results = results
	c.meta = meta
	return c.err
}

// siteReceptor has its only atom far from an active site at the origin.
func siteReceptor(t *testing.T) *docking.Receptor {
	t.Helper()
	rec := dockingtest.PointReceptor(r3.Vec{X: 50})
	require.NoError(t, rec.DefineActiveSite(docking.Region{Radius: 4}))
	return rec
}

func scoresOf(results []docking.Result) []float64 {
	out := make([]float64, len(results))
	for i, r := range results {
		out[i] = r.Score
	}
	return out
}

func TestParse(t *testing.T) {
	for _, s := range Strategies {
		got, err := ParseStrategy(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ParseStrategy("simplex")
	assert.True(t, docking.IsConfigurationError(err))

	tests := []struct {
		in   string
		want ReferenceMode
	}{
		{"", ReferenceNone},
		{"none", ReferenceNone},
		{"exact", ReferenceExact},
		{"guided", ReferenceGuided},
	}
	for _, tt := range tests {
		got, err := ParseReferenceMode(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
		if tt.in != "" {
			assert.Equal(t, tt.in, got.String())
		}
	}
	_, err = ParseReferenceMode("fuzzy")
	assert.ErrorIs(t, err, docking.ErrInvalidConfig)
}

func TestRun_EnsembleMergesRankedUniqueResults(t *testing.T) {
	var seeds []int64
	factory := func(run int, seed int64, g *grid.Grid) (docking.Searcher, error) {
		require.NotNil(t, g)
		assert.NotZero(t, g.Len())
		seeds = append(seeds, seed)
		return &fakeSearcher{scores: []float64{float64(run + 1), 0.5}}, nil
	}
	sink := &captureSink{}
	o := New(Config{Exhaustiveness: 3, SkipRefinement: true, RandomSeed: 7},
		dockingtest.ConstantScorer(0),
		WithSearcherFactory(factory),
		WithResultSink(sink))

	results, err := o.Run(context.Background(), Request{Receptor: siteReceptor(t), Ligand: dockingtest.Ligand()})
	require.NoError(t, err)

	assert.Equal(t, []int64{7, 8, 9}, seeds)
	assert.Equal(t, []float64{0.5, 1, 2, 3}, scoresOf(results))
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, results, sink.results)
	assert.Equal(t, "genetic", sink.meta["strategy"])
	assert.Equal(t, 3, sink.meta["exhaustiveness"])
	assert.Equal(t, "none", sink.meta["reference_mode"])
}

func TestRun_MaxResults(t *testing.T) {
	factory := func(int, int64, *grid.Grid) (docking.Searcher, error) {
		return &fakeSearcher{scores: []float64{4, 3, 2, 1}}, nil
	}
	o := New(Config{MaxResults: 2, SkipRefinement: true}, dockingtest.ConstantScorer(0), WithSearcherFactory(factory))
	results, err := o.Run(context.Background(), Request{Receptor: siteReceptor(t), Ligand: dockingtest.Ligand()})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, scoresOf(results))
}

func TestRun_RefinesTopResults(t *testing.T) {
	factory := func(int, int64, *grid.Grid) (docking.Searcher, error) {
		return &fakeSearcher{scores: []float64{5}}, nil
	}
	ligand := dockingtest.Ligand()
	ligand.Translate(r3.Vec{X: 1})
	o := New(Config{RefineTop: 1}, dockingtest.DistanceScorer(r3.Vec{}), WithSearcherFactory(factory))

	results, err := o.Run(context.Background(), Request{Receptor: siteReceptor(t), Ligand: ligand})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Less(t, results[0].Score, 0.1, "refinement rescored and improved the pose")
}

func TestRun_EmptyResultIsNotAnError(t *testing.T) {
	factory := func(int, int64, *grid.Grid) (docking.Searcher, error) {
		return &fakeSearcher{}, nil
	}
	sink := &captureSink{}
	o := New(Config{}, dockingtest.ConstantScorer(0), WithSearcherFactory(factory), WithResultSink(sink))

	results, err := o.Run(context.Background(), Request{Receptor: siteReceptor(t), Ligand: dockingtest.Ligand()})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, 1, sink.calls)
}

func TestRun_SinkReceivesFlexibleResidues(t *testing.T) {
	factory := func(int, int64, *grid.Grid) (docking.Searcher, error) {
		return &fakeSearcher{scores: []float64{1}}, nil
	}
	sinkErr := errors.New("disk full")
	sink := &captureSink{err: sinkErr}
	rec := siteReceptor(t)
	rec.FlexibleResidues = []string{"TYR99", "ASP25"}
	o := New(Config{SkipRefinement: true}, dockingtest.ConstantScorer(0), WithSearcherFactory(factory), WithResultSink(sink))

	results, err := o.Run(context.Background(), Request{Receptor: rec, Ligand: dockingtest.Ligand()})
	assert.ErrorIs(t, err, sinkErr)
	assert.Len(t, results, 1, "results survive a sink failure")
	assert.Equal(t, []string{"TYR99", "ASP25"}, sink.meta["flexible_residues"])
}

func TestRun_ReferenceExact(t *testing.T) {
	reference := dockingtest.Ligand()
	reference.Translate(r3.Vec{X: 1})
	called := false
	factory := func(int, int64, *grid.Grid) (docking.Searcher, error) {
		called = true
		return &fakeSearcher{}, nil
	}

	t.Run("skip optimization keeps the aligned pose", func(t *testing.T) {
		o := New(Config{ReferenceMode: ReferenceExact},
			dockingtest.DistanceScorer(r3.Vec{}),
			WithAligner(align.Kabsch{SkipOptimization: true}),
			WithSearcherFactory(factory))
		results, err := o.Run(context.Background(), Request{
			Receptor:  siteReceptor(t),
			Ligand:    dockingtest.Ligand(),
			Reference: reference,
		})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
		assert.InDelta(t, 0.0, results[0].RMSD, 1e-6)
	})

	t.Run("refinement moves away from the reference", func(t *testing.T) {
		o := New(Config{ReferenceMode: ReferenceExact}, dockingtest.DistanceScorer(r3.Vec{}), WithSearcherFactory(factory))
		results, err := o.Run(context.Background(), Request{
			Receptor:  siteReceptor(t),
			Ligand:    dockingtest.Ligand(),
			Reference: reference,
		})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Less(t, results[0].Score, 0.1)
		assert.Greater(t, results[0].RMSD, 0.5)
	})

	assert.False(t, called, "reference modes do not run the strategy")
}

func TestRun_ReferenceGuided(t *testing.T) {
	reference := dockingtest.Ligand()
	reference.Translate(r3.Vec{X: 1})
	o := New(Config{ReferenceMode: ReferenceGuided, GuidedSamples: 20, RandomSeed: 3},
		dockingtest.DistanceScorer(r3.Vec{}),
		WithAligner(align.Kabsch{SkipOptimization: true}))

	results, err := o.Run(context.Background(), Request{
		Receptor:  siteReceptor(t),
		Ligand:    dockingtest.Ligand(),
		Reference: reference,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 20)
	assert.LessOrEqual(t, results[0].Score, 1.0+1e-6, "the aligned pose itself is a candidate")
	for i, r := range results {
		if i > 0 {
			assert.LessOrEqual(t, results[i-1].Score, r.Score)
		}
		assert.False(t, math.IsInf(r.Score, 1))
		assert.GreaterOrEqual(t, r.RMSD, 0.0)
	}
}

func TestRun_Errors(t *testing.T) {
	ok := func(int, int64, *grid.Grid) (docking.Searcher, error) {
		return &fakeSearcher{scores: []float64{1}}, nil
	}

	t.Run("unknown strategy", func(t *testing.T) {
		o := New(Config{Strategy: "simplex"}, dockingtest.ConstantScorer(0))
		_, err := o.Run(context.Background(), Request{Receptor: siteReceptor(t), Ligand: dockingtest.Ligand()})
		assert.ErrorIs(t, err, docking.ErrInvalidConfig)
	})

	t.Run("missing receptor", func(t *testing.T) {
		o := New(Config{}, dockingtest.ConstantScorer(0), WithSearcherFactory(ok))
		_, err := o.Run(context.Background(), Request{Ligand: dockingtest.Ligand()})
		assert.True(t, docking.IsConfigurationError(err))
	})

	t.Run("empty ligand", func(t *testing.T) {
		o := New(Config{}, dockingtest.ConstantScorer(0), WithSearcherFactory(ok))
		_, err := o.Run(context.Background(), Request{Receptor: siteReceptor(t), Ligand: &docking.Pose{}})
		assert.ErrorIs(t, err, docking.ErrEmptyLigand)
	})

	t.Run("ligand bond out of range", func(t *testing.T) {
		lig := dockingtest.Ligand()
		lig.Bonds = append([]docking.Bond(nil), lig.Bonds...)
		lig.Bonds = append(lig.Bonds, docking.Bond{I: 0, J: 42})
		o := New(Config{}, dockingtest.ConstantScorer(0), WithSearcherFactory(ok))
		_, err := o.Run(context.Background(), Request{Receptor: siteReceptor(t), Ligand: lig})
		assert.ErrorIs(t, err, docking.ErrInvalidConfig)
	})

	t.Run("reference mode without reference", func(t *testing.T) {
		o := New(Config{ReferenceMode: ReferenceGuided}, dockingtest.ConstantScorer(0))
		_, err := o.Run(context.Background(), Request{Receptor: siteReceptor(t), Ligand: dockingtest.Ligand()})
		assert.ErrorIs(t, err, docking.ErrInvalidConfig)
	})

	t.Run("empty receptor cannot be gridded", func(t *testing.T) {
		for _, strategy := range Strategies {
			o := New(Config{Strategy: strategy}, dockingtest.ConstantScorer(0), WithSearcherFactory(ok))
			_, err := o.Run(context.Background(), Request{Receptor: &docking.Receptor{}, Ligand: dockingtest.Ligand()})
			assert.ErrorIs(t, err, docking.ErrEmptyGrid, string(strategy))
			assert.True(t, docking.IsConfigurationError(err))
		}
	})

	t.Run("search failure", func(t *testing.T) {
		boom := errors.New("boom")
		o := New(Config{}, dockingtest.ConstantScorer(0),
			WithSearcherFactory(func(int, int64, *grid.Grid) (docking.Searcher, error) {
				return &fakeSearcher{err: boom}, nil
			}))
		_, err := o.Run(context.Background(), Request{Receptor: siteReceptor(t), Ligand: dockingtest.Ligand()})
		assert.ErrorIs(t, err, boom)
		e, isDockingErr := docking.AsError(err)
		require.True(t, isDockingErr)
		assert.Equal(t, "fake", e.Op)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		o := New(Config{}, dockingtest.ConstantScorer(0), WithSearcherFactory(ok))
		_, err := o.Run(ctx, Request{Receptor: siteReceptor(t), Ligand: dockingtest.Ligand()})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRun_GridOnlyForGeneticStrategy(t *testing.T) {
	tests := []struct {
		strategy Strategy
		wantGrid bool
	}{
		{StrategyGenetic, true},
		{StrategyAnnealing, false},
		{StrategyMonteCarlo, false},
		{StrategyRandom, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			var got *grid.Grid
			factory := func(_ int, _ int64, g *grid.Grid) (docking.Searcher, error) {
				got = g
				return &fakeSearcher{scores: []float64{1}}, nil
			}
			o := New(Config{Strategy: tt.strategy, SkipRefinement: true}, dockingtest.ConstantScorer(0), WithSearcherFactory(factory))
			_, err := o.Run(context.Background(), Request{Receptor: siteReceptor(t), Ligand: dockingtest.Ligand()})
			require.NoError(t, err)
			assert.Equal(t, tt.wantGrid, got != nil)
		})
	}
}

func TestRun_AllClashingGeneticRunIsEmpty(t *testing.T) {
	rec := dockingtest.PointReceptor(r3.Vec{})
	require.NoError(t, rec.DefineActiveSite(docking.Region{Radius: 0.5}))

	cfg := DefaultConfig()
	cfg.ClashThreshold = 50
	cfg.RandomSeed = 5
	cfg.Genetic.PopulationSize = 6
	cfg.Genetic.MaxIterations = 3
	cfg.Genetic.InitAttemptsPerIndividual = 4
	sink := &captureSink{}
	o := New(cfg, dockingtest.ConstantScorer(1), WithResultSink(sink))

	results, err := o.Run(context.Background(), Request{Receptor: rec, Ligand: dockingtest.Ligand()})
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
	assert.Equal(t, 1, sink.calls)
	assert.Empty(t, sink.results)
}

func TestRun_NonFiniteResultsDropped(t *testing.T) {
	factory := func(int, int64, *grid.Grid) (docking.Searcher, error) {
		return &fakeSearcher{scores: []float64{math.Inf(1), 2, math.NaN(), 1}}, nil
	}
	o := New(Config{SkipRefinement: true}, dockingtest.ConstantScorer(0), WithSearcherFactory(factory))

	results, err := o.Run(context.Background(), Request{Receptor: siteReceptor(t), Ligand: dockingtest.Ligand()})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, scoresOf(results))
}

func TestRun_RandomStrategyEndToEnd(t *testing.T) {
	rs := randsearch.DefaultConfig()
	rs.MaxIterations = 60
	cfg := Config{
		Strategy:       StrategyRandom,
		Exhaustiveness: 2,
		RandomSeed:     11,
		Workers:        2,
		Random:         rs,
	}
	rec := dockingtest.ShellReceptor(r3.Vec{}, 8)
	o := New(cfg, dockingtest.DistanceScorer(r3.Vec{}))

	results, err := o.Run(context.Background(), Request{Receptor: rec, Ligand: dockingtest.Ligand()})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.Less(t, results[0].Score, 1.0)
	require.NotNil(t, rec.Site, "the run defines a default active site")
}
