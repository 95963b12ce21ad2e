// Package randsearch implements the plain random search: uniform placements
// inside a shrinking sphere, clash filtering with radius expansion, batch
// scoring and a final local polish of the best few poses.
package randsearch

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/DOCKR/internal/docking"
	"github.com/copyleftdev/DOCKR/internal/docking/evaluator"
	"github.com/copyleftdev/DOCKR/internal/docking/local"
	"github.com/copyleftdev/DOCKR/internal/docking/sampler"
	"github.com/copyleftdev/DOCKR/internal/docking/validity"
	"github.com/copyleftdev/DOCKR/internal/metrics"
)

// Name identifies the strategy.
const Name = "random"

// Config holds the random-search parameters.
type Config struct {
	// MaxIterations is the number of placements attempted.
	MaxIterations  int
	DecayRate      float64
	ClashThreshold float64
	DefaultRadius  float64
	// ExpandAfter consecutive clashing placements grow the base radius by
	// ExpandStep.
	ExpandAfter int
	ExpandStep  float64
	// RefineTop poses are passed through the local optimizer.
	RefineTop int
	// ProgressEvery emits a progress event every ProgressEvery iterations.
	ProgressEvery int
	Workers       int
	RandomSeed    int64

	Local local.Config
}

// DefaultConfig returns the standard parameters.
func DefaultConfig() Config {
	return Config{
		MaxIterations:  100,
		DecayRate:      0.5,
		ClashThreshold: validity.DefaultClashThreshold,
		DefaultRadius:  10,
		ExpandAfter:    30,
		ExpandStep:     1.0,
		RefineTop:      5,
		ProgressEvery:  25,
	}
}

func (c *Config) fill() {
	def := DefaultConfig()
	if c.MaxIterations < 1 {
		c.MaxIterations = def.MaxIterations
	}
	if c.DecayRate <= 0 {
		c.DecayRate = def.DecayRate
	}
	if c.ClashThreshold <= 0 {
		c.ClashThreshold = def.ClashThreshold
	}
	if c.DefaultRadius <= 0 {
		c.DefaultRadius = def.DefaultRadius
	}
	if c.ExpandAfter < 1 {
		c.ExpandAfter = def.ExpandAfter
	}
	if c.ExpandStep <= 0 {
		c.ExpandStep = def.ExpandStep
	}
	if c.RefineTop < 1 {
		c.RefineTop = def.RefineTop
	}
	if c.ProgressEvery < 1 {
		c.ProgressEvery = def.ProgressEvery
	}
}

// Engine runs random searches. It satisfies docking.Searcher.
type Engine struct {
	cfg       Config
	scorer    docking.Scorer
	evaluator docking.Evaluator
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
			evaluator.WithLogger(e.logger),
			evaluator.WithMetrics(e.metrics),
		)
	}
	return e
}

// Name implements docking.Searcher.
func (e *Engine) Name() string { return Name }

// Search implements docking.Searcher. It returns every scored clash-free
// placement sorted by ascending score; when all placements clashed the
// result is empty and the error nil.
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
	region, err := receptor.EnsureActiveSite(e.cfg.DefaultRadius)
	if err != nil {
		return nil, docking.WrapError(err, "defining search region").WithComponent(Name)
	}

	rng := docking.NewRand(e.cfg.RandomSeed)
	smp := sampler.New(sampler.Config{}, rng)
	clash := validity.NewClashFilter(e.cfg.ClashThreshold)

	base := region.Radius
	var poses []*docking.Pose
	var failures, rejected int
	for i := 0; i < e.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := docking.Region{
			Center: region.Center,
			Radius: docking.SearchRadius(base, e.cfg.DecayRate, i, e.cfg.MaxIterations),
		}
		pose := smp.RandomPose(ligand, current)
		if clash.Clashes(receptor, pose) {
			rejected++
			e.metrics.ClashPenalty(Name)
			if failures++; failures >= e.cfg.ExpandAfter {
				base += e.cfg.ExpandStep
				failures = 0
				e.logger.Debug("expanding search radius after repeated clashes", zap.Float64("radius", base))
			}
		} else {
			failures = 0
			poses = append(poses, pose)
		}

		if (i+1)%e.cfg.ProgressEvery == 0 || i+1 == e.cfg.MaxIterations {
			// Placements are scored in one batch after the loop.
			e.progress.Progress(docking.ProgressEvent{
				Strategy:     Name,
				Iteration:    i + 1,
				Total:        e.cfg.MaxIterations,
				Radius:       current.Radius,
				BestScore:    math.Inf(1),
				CurrentScore: math.Inf(1),
			})
		}
	}

	if len(poses) == 0 {
		e.logger.Warn("no clash-free placement found, returning empty result",
			zap.Error(docking.ErrSamplingExhausted),
			zap.Int("iterations", e.cfg.MaxIterations),
			zap.Float64("final_radius", base))
		return []docking.Result{}, nil
	}

	scores, err := e.evaluator.Evaluate(ctx, receptor, poses)
	if err != nil {
		return nil, err
	}
	results := make([]docking.Result, 0, len(poses))
	for i, p := range poses {
		if math.IsInf(scores[i], 1) {
			continue
		}
		results = append(results, docking.Result{Pose: p, Score: scores[i]})
	}
	if len(results) == 0 {
		e.logger.Warn("every placement failed evaluation, returning empty result",
			zap.Error(docking.ErrEvaluation),
			zap.Int("placements", len(poses)))
		return results, nil
	}
	docking.SortResults(results)

	opt := local.New(e.cfg.Local, validity.Penalized(e.scorer, clash), e.logger)
	for i := 0; i < min(e.cfg.RefineTop, len(results)); i++ {
		results[i] = opt.OptimizeFrom(ctx, receptor, results[i].Pose, results[i].Score)
	}
	docking.SortResults(results)

	e.metrics.BestScore(Name, results[0].Score)
	e.logger.Info("search finished",
		zap.Int("iterations", e.cfg.MaxIterations),
		zap.Int("accepted", len(poses)),
		zap.Int("rejected", rejected),
		zap.Float64("best_score", results[0].Score))
	return results, nil
}
