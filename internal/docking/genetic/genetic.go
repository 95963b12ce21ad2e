// Package genetic implements the population-based pose search: biased
// initialization, tournament selection, centroid-blend and fragment-swap
// crossover with slerped orientations, bounded mutation, (μ+λ) elitism,
// periodic local optimization and a shrinking search radius.
package genetic

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/copyleftdev/DOCKR/internal/docking"
	"github.com/copyleftdev/DOCKR/internal/docking/evaluator"
	"github.com/copyleftdev/DOCKR/internal/docking/geometry"
	"github.com/copyleftdev/DOCKR/internal/docking/grid"
	"github.com/copyleftdev/DOCKR/internal/docking/local"
	"github.com/copyleftdev/DOCKR/internal/docking/sampler"
	"github.com/copyleftdev/DOCKR/internal/docking/validity"
	"github.com/copyleftdev/DOCKR/internal/metrics"
)

// Name identifies the strategy.
const Name = "genetic"

// Config holds the genetic-algorithm parameters. Zero fields take the
// defaults, except the two rates: a zero rate disables that operator and a
// rate outside [0,1] falls back to the default.
type Config struct {
	PopulationSize int
	MaxIterations  int
	MutationRate   float64
	CrossoverRate  float64
	TournamentSize int
	// DecayRate controls the linear radius shrink toward half the initial
	// radius.
	DecayRate float64
	// LocalOptEvery runs the local optimizer on the best individual every
	// LocalOptEvery generations.
	LocalOptEvery int
	// ClashThreshold is the ligand-receptor distance below which a pose is
	// rejected or penalised.
	ClashThreshold float64
	// DefaultRadius is used when the receptor has no active site.
	DefaultRadius float64
	// InitAttemptsPerIndividual bounds initialization sampling.
	InitAttemptsPerIndividual int
	// ExpandAfter consecutive initialization failures grow the sampling
	// radius by ExpandStep.
	ExpandAfter int
	ExpandStep  float64
	// Workers is passed to the default evaluator.
	Workers int
	// RandomSeed seeds the search; 0 uses the clock.
	RandomSeed int64

	Sampler      sampler.Config
	Local        local.Config
	Conformation validity.ConformationConfig
}

// DefaultConfig returns the standard parameters.
func DefaultConfig() Config {
	return Config{
		PopulationSize:            50,
		MaxIterations:             100,
		MutationRate:              0.2,
		CrossoverRate:             0.8,
		TournamentSize:            3,
		DecayRate:                 0.5,
		LocalOptEvery:             5,
		ClashThreshold:            validity.DefaultClashThreshold,
		DefaultRadius:             10,
		InitAttemptsPerIndividual: 100,
		ExpandAfter:               30,
		ExpandStep:                1.0,
	}
}

func (c *Config) fill() {
	def := DefaultConfig()
	if c.PopulationSize < 2 {
		c.PopulationSize = def.PopulationSize
	}
	if c.MaxIterations < 1 {
		c.MaxIterations = def.MaxIterations
	}
	if c.MutationRate < 0 || c.MutationRate > 1 {
		c.MutationRate = def.MutationRate
	}
	if c.CrossoverRate < 0 || c.CrossoverRate > 1 {
		c.CrossoverRate = def.CrossoverRate
	}
	if c.TournamentSize < 1 {
		c.TournamentSize = def.TournamentSize
	}
	if c.TournamentSize > c.PopulationSize {
		c.TournamentSize = c.PopulationSize
	}
	if c.DecayRate <= 0 {
		c.DecayRate = def.DecayRate
	}
	if c.LocalOptEvery < 1 {
		c.LocalOptEvery = def.LocalOptEvery
	}
	if c.ClashThreshold <= 0 {
		c.ClashThreshold = def.ClashThreshold
	}
	if c.DefaultRadius <= 0 {
		c.DefaultRadius = def.DefaultRadius
	}
	if c.InitAttemptsPerIndividual < 1 {
		c.InitAttemptsPerIndividual = def.InitAttemptsPerIndividual
	}
	if c.ExpandAfter < 1 {
		c.ExpandAfter = def.ExpandAfter
	}
	if c.ExpandStep <= 0 {
		c.ExpandStep = def.ExpandStep
	}
	c.Sampler.MutationRate = c.MutationRate
}

// Engine runs the genetic algorithm. It satisfies docking.Searcher and can
// be reused for several searches; each call owns its own state.
type Engine struct {
	cfg       Config
	scorer    docking.Scorer
	evaluator docking.Evaluator
	grid      *grid.Grid
	logger    *zap.Logger
	progress  docking.ProgressSink
	metrics   metrics.Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithEvaluator replaces the default parallel evaluator.
func WithEvaluator(ev docking.Evaluator) Option {
	return func(e *Engine) { e.evaluator = ev }
}

// WithGrid seeds the initial population at points of g instead of
// uniformly inside the search region.
func WithGrid(g *grid.Grid) Option {
	return func(e *Engine) {
		if g != nil && g.Len() > 0 {
			e.grid = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithProgress sets the progress sink.
func WithProgress(p docking.ProgressSink) Option {
	return func(e *Engine) { e.progress = docking.ProgressOrNop(p) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = metrics.OrNoop(m) }
}

// New returns an engine scoring with scorer.
func New(cfg Config, scorer docking.Scorer, opts ...Option) *Engine {
	cfg.fill()
	e := &Engine{
		cfg:      cfg,
		scorer:   scorer,
		logger:   zap.NewNop(),
		progress: docking.NopProgress,
		metrics:  metrics.Noop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named(Name)
	if e.evaluator == nil {
		e.evaluator = evaluator.New(
			evaluator.Config{Workers: cfg.Workers, Label: Name},
			scorer,
			evaluator.WithClashPenalty(validity.NewClashFilter(cfg.ClashThreshold)),
			evaluator.WithLogger(e.logger),
			evaluator.WithMetrics(e.metrics),
		)
	}
	return e
}

// Name implements docking.Searcher.
func (e *Engine) Name() string { return Name }

// run is the per-search state.
type run struct {
	*Engine
	ctx       context.Context
	receptor  *docking.Receptor
	ligand    *docking.Pose
	region    docking.Region
	rng       *rand.Rand
	sampler   *sampler.Sampler
	clash     *validity.ClashFilter
	validator *validity.ConformationValidator
	local     *local.Optimizer
}

// Search implements docking.Searcher. It returns the distinct best-so-far
// individuals sorted by ascending score.
func (e *Engine) Search(ctx context.Context, receptor *docking.Receptor, ligand *docking.Pose) ([]docking.Result, error) {
	start := time.Now()
	results, err := e.search(ctx, receptor, ligand)
	e.metrics.RunFinished(Name, time.Since(start), len(results), err)
	return results, err
}

func (e *Engine) search(ctx context.Context, receptor *docking.Receptor, ligand *docking.Pose) ([]docking.Result, error) {
	if ligand == nil || ligand.Len() == 0 {
		return nil, docking.WrapError(docking.ErrEmptyLigand, "cannot search").WithComponent(Name)
	}
	if err := ligand.CheckTopology(); err != nil {
		return nil, docking.WrapError(err, "checking ligand").WithComponent(Name)
	}
	region, err := receptor.EnsureActiveSite(e.cfg.DefaultRadius)
	if err != nil {
		return nil, docking.WrapError(err, "defining search region").WithComponent(Name)
	}

	rng := docking.NewRand(e.cfg.RandomSeed)
	clash := validity.NewClashFilter(e.cfg.ClashThreshold)
	r := &run{
		Engine:    e,
		ctx:       ctx,
		receptor:  receptor,
		ligand:    ligand,
		region:    region,
		rng:       rng,
		sampler:   sampler.New(e.cfg.Sampler, rng),
		clash:     clash,
		validator: validity.NewConformationValidator(e.cfg.Conformation, e.logger),
		local:     local.New(e.cfg.Local, validity.Penalized(e.scorer, clash), e.logger),
	}
	return r.evolve()
}

func (r *run) evolve() ([]docking.Result, error) {
	cfg := r.cfg
	pop := r.initPopulation()
	if err := evaluator.Individuals(r.ctx, r.evaluator, r.receptor, pop); err != nil {
		return nil, err
	}
	docking.SortIndividuals(pop)

	history := []docking.Individual{snapshot(pop[0])}
	best := pop[0].Score

	for g := 0; g < cfg.MaxIterations; g++ {
		if err := r.ctx.Err(); err != nil {
			return nil, err
		}
		radius := docking.SearchRadius(r.region.Radius, cfg.DecayRate, g, cfg.MaxIterations)

		parents := make([]docking.Individual, cfg.PopulationSize)
		for i := range parents {
			parents[i] = pop[r.tournament(pop)]
		}

		offspring := make([]docking.Individual, 0, cfg.PopulationSize)
		for i := 0; i+1 < len(parents); i += 2 {
			c1, c2 := r.crossover(parents[i], parents[i+1])
			offspring = append(offspring, c1, c2)
		}
		if len(parents)%2 == 1 {
			offspring = append(offspring, passThrough(parents[len(parents)-1]))
		}
		for i := range offspring {
			r.mutate(&offspring[i], radius)
		}

		if err := evaluator.Individuals(r.ctx, r.evaluator, r.receptor, offspring); err != nil {
			return nil, err
		}

		merged := append(pop, offspring...)
		docking.SortIndividuals(merged)
		pop = append([]docking.Individual(nil), merged[:cfg.PopulationSize]...)

		if g%cfg.LocalOptEvery == 0 {
			res := r.local.OptimizeFrom(r.ctx, r.receptor, pop[0].Pose, pop[0].Score)
			if res.Score <= pop[0].Score {
				pop[0] = docking.Individual{Pose: res.Pose, Score: res.Score, Evaluated: true, Repair: pop[0].Repair}
			}
		}

		if pop[0].Score < best {
			best = pop[0].Score
			history = append(history, snapshot(pop[0]))
		}

		r.metrics.Generation(Name, g+1)
		r.metrics.BestScore(Name, best)
		r.progress.Progress(docking.ProgressEvent{
			Strategy:     Name,
			Iteration:    g + 1,
			Total:        cfg.MaxIterations,
			Radius:       radius,
			BestScore:    best,
			CurrentScore: pop[0].Score,
		})
		r.logger.Debug("generation complete",
			zap.Int("generation", g+1),
			zap.Float64("radius", radius),
			zap.Float64("best_score", best),
			zap.Int("history", len(history)))
	}

	results := make([]docking.Result, len(history))
	for i, ind := range history {
		results[i] = docking.Result{Pose: ind.Pose, Score: ind.Score}
	}
	docking.SortResults(results)
	r.logger.Info("search finished",
		zap.Int("generations", cfg.MaxIterations),
		zap.Int("population", cfg.PopulationSize),
		zap.Float64("best_score", best),
		zap.Int("improvements", len(results)))
	return results, nil
}

// initPopulation collects PopulationSize clash-free, in-region biased
// placements, positioned on the grid when one is set. After ExpandAfter
// consecutive failures the accepted radius grows by ExpandStep; when the
// attempt budget is spent the remainder is filled with unconstrained random
// placements.
func (r *run) initPopulation() []docking.Individual {
	size := r.cfg.PopulationSize
	pop := make([]docking.Individual, 0, size)
	sampling := r.region
	budget := size * r.cfg.InitAttemptsPerIndividual

	var attempts, failures int
	for len(pop) < size && attempts < budget {
		attempts++
		var pose *docking.Pose
		if r.grid != nil {
			pose = r.sampler.BiasedGridPose(r.ligand, r.grid, r.region.Center)
		} else {
			pose = r.sampler.BiasedPose(r.ligand, sampling)
		}
		if r.clash.Valid(r.receptor, pose, sampling) {
			pop = append(pop, docking.Individual{Pose: pose})
			failures = 0
			continue
		}
		failures++
		if failures >= r.cfg.ExpandAfter {
			sampling.Radius += r.cfg.ExpandStep
			failures = 0
			r.logger.Debug("expanding initialization radius", zap.Float64("radius", sampling.Radius))
		}
	}

	if missing := size - len(pop); missing > 0 {
		r.logger.Warn("population initialization incomplete, filling with random poses",
			zap.Error(docking.ErrSamplingExhausted),
			zap.Int("valid", len(pop)),
			zap.Int("missing", missing),
			zap.Int("attempts", attempts))
		for len(pop) < size {
			pop = append(pop, docking.Individual{Pose: r.sampler.RandomPose(r.ligand, r.region)})
		}
	}
	return pop
}

// tournament returns the index of the lowest-scored of TournamentSize
// distinct members drawn from pop.
func (r *run) tournament(pop []docking.Individual) int {
	contenders := r.rng.Perm(len(pop))[:r.cfg.TournamentSize]
	return bestOf(pop, contenders)
}

func bestOf(pop []docking.Individual, idx []int) int {
	winner := idx[0]
	for _, i := range idx[1:] {
		if pop[i].Rank() < pop[winner].Rank() {
			winner = i
		}
	}
	return winner
}

// crossover produces two children. With probability CrossoverRate the
// children blend the parents' centroids, exchange a random half of their
// atom coordinates and share an orientation slerped between two random
// rotations; otherwise they are copies of the parents.
func (r *run) crossover(a, b docking.Individual) (docking.Individual, docking.Individual) {
	if r.rng.Float64() >= r.cfg.CrossoverRate {
		return passThrough(a), passThrough(b)
	}

	c1, c2 := a.Pose.Clone(), b.Pose.Clone()
	alpha := 0.3 + 0.4*r.rng.Float64()

	ca, cb := a.Pose.Centroid(), b.Pose.Centroid()
	c1.MoveCentroidTo(r3.Add(r3.Scale(alpha, ca), r3.Scale(1-alpha, cb)))
	c2.MoveCentroidTo(r3.Add(r3.Scale(1-alpha, ca), r3.Scale(alpha, cb)))

	n := c1.Len()
	for _, i := range r.rng.Perm(n)[:n/2] {
		c1.Coords[i], c2.Coords[i] = c2.Coords[i], c1.Coords[i]
	}

	rot := geometry.Slerp(geometry.RandomRotation(r.rng), geometry.RandomRotation(r.rng), alpha)
	c1.RotateAboutCentroid(rot)
	c2.RotateAboutCentroid(rot)

	return r.repair(c1), r.repair(c2)
}

func (r *run) repair(p *docking.Pose) docking.Individual {
	fixed, ev := r.validator.Repair(p, r.rng, func() *docking.Pose {
		return r.sampler.RandomPose(r.ligand, r.region)
	})
	if ev != docking.RepairNone {
		r.metrics.Repair(ev.String())
	}
	return docking.Individual{Pose: fixed, Repair: ev}
}

// mutate applies a bounded mutation. A pose that actually moved becomes a
// new, unevaluated individual.
func (r *run) mutate(ind *docking.Individual, radius float64) {
	m := r.sampler.Mutate(ind.Pose, r.region.Center, radius)
	if m.Kind != sampler.MutationNone && !m.Reverted {
		ind.Evaluated = false
		ind.Score = 0
	}
}

// passThrough copies a parent; the copy keeps the parent's score until it
// is mutated.
func passThrough(p docking.Individual) docking.Individual {
	return docking.Individual{Pose: p.Pose.Clone(), Score: p.Score, Evaluated: p.Evaluated}
}

func snapshot(ind docking.Individual) docking.Individual {
	ind.Pose = ind.Pose.Clone()
	return ind
}
