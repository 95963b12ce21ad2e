// Package orchestrator is the top-level docking driver. It builds the
// search grid once, runs the selected strategy (a single pass, an
// exhaustiveness ensemble, or a reference-aligned variant), polishes and
// ranks the merged results and hands them to the result sink.
package orchestrator

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/DOCKR/internal/docking"
	"github.com/copyleftdev/DOCKR/internal/docking/align"
	"github.com/copyleftdev/DOCKR/internal/docking/annealing"
	"github.com/copyleftdev/DOCKR/internal/docking/evaluator"
	"github.com/copyleftdev/DOCKR/internal/docking/genetic"
	"github.com/copyleftdev/DOCKR/internal/docking/grid"
	"github.com/copyleftdev/DOCKR/internal/docking/local"
	"github.com/copyleftdev/DOCKR/internal/docking/randsearch"
	"github.com/copyleftdev/DOCKR/internal/docking/sampler"
	"github.com/copyleftdev/DOCKR/internal/docking/validity"
	"github.com/copyleftdev/DOCKR/internal/metrics"
)

const component = "orchestrator"

// Strategy names a search strategy.
type Strategy string

const (
	StrategyGenetic    Strategy = genetic.Name
	StrategyAnnealing  Strategy = annealing.Name
	StrategyMonteCarlo Strategy = annealing.MonteCarloName
	StrategyRandom     Strategy = randsearch.Name
)

// Strategies lists the known strategies.
var Strategies = []Strategy{StrategyGenetic, StrategyAnnealing, StrategyMonteCarlo, StrategyRandom}

// ParseStrategy validates a strategy name.
func ParseStrategy(s string) (Strategy, error) {
	for _, known := range Strategies {
		if Strategy(s) == known {
			return known, nil
		}
	}
	return "", docking.WrapErrorf(docking.ErrInvalidConfig, "unknown strategy %q", s).WithComponent(component)
}

// ReferenceMode selects how a reference pose is used.
type ReferenceMode int

const (
	// ReferenceNone runs the strategy; a reference only contributes RMSD.
	ReferenceNone ReferenceMode = iota
	// ReferenceExact scores the ligand superimposed on the reference.
	ReferenceExact
	// ReferenceGuided samples perturbed poses around the superimposed
	// ligand instead of searching blindly.
	ReferenceGuided
)

func (m ReferenceMode) String() string {
	switch m {
	case ReferenceExact:
		return "exact"
	case ReferenceGuided:
		return "guided"
	default:
		return "none"
	}
}

// ParseReferenceMode parses "", "none", "exact" or "guided".
func ParseReferenceMode(s string) (ReferenceMode, error) {
	switch s {
	case "", "none":
		return ReferenceNone, nil
	case "exact":
		return ReferenceExact, nil
	case "guided":
		return ReferenceGuided, nil
	}
	return ReferenceNone, docking.WrapErrorf(docking.ErrInvalidConfig, "unknown reference mode %q", s).WithComponent(component)
}

// Config controls a docking run.
type Config struct {
	Strategy Strategy
	// Exhaustiveness is the number of independent runs merged into one
	// ranking.
	Exhaustiveness int
	// RefineTop results are locally optimised after merging unless
	// SkipRefinement is set.
	RefineTop      int
	SkipRefinement bool
	// DedupeDecimals is the score precision used to drop duplicates.
	DedupeDecimals int
	// MaxResults truncates the final ranking; 0 keeps everything.
	MaxResults int

	ReferenceMode ReferenceMode
	// GuidedSamples poses are drawn around the aligned ligand in guided
	// mode, each moved by up to GuidedTranslation Å per axis and
	// GuidedRotation radians.
	GuidedSamples     int
	GuidedTranslation float64
	GuidedRotation    float64

	ClashThreshold float64
	// DefaultRadius is the active-site radius used when the receptor has
	// none.
	DefaultRadius float64
	Workers       int
	// RandomSeed seeds run i with RandomSeed+i; 0 seeds every run from the
	// clock.
	RandomSeed int64

	Grid       grid.Config
	Genetic    genetic.Config
	Annealing  annealing.Config
	MonteCarlo annealing.Config
	Random     randsearch.Config
	Local      local.Config
}

// DefaultConfig returns the standard single-run genetic configuration.
func DefaultConfig() Config {
	return Config{
		Strategy:          StrategyGenetic,
		Exhaustiveness:    1,
		RefineTop:         10,
		DedupeDecimals:    4,
		GuidedSamples:     50,
		GuidedTranslation: 1.0,
		GuidedRotation:    0.3,
		ClashThreshold:    validity.DefaultClashThreshold,
		DefaultRadius:     10,
		Genetic:           genetic.DefaultConfig(),
		Annealing:         annealing.DefaultConfig(),
		MonteCarlo:        annealing.DefaultMonteCarloConfig(),
		Random:            randsearch.DefaultConfig(),
		Local:             local.DefaultConfig(),
	}
}

func (c *Config) fill() {
	def := DefaultConfig()
	if c.Strategy == "" {
		c.Strategy = def.Strategy
	}
	if c.Exhaustiveness < 1 {
		c.Exhaustiveness = def.Exhaustiveness
	}
	if c.RefineTop < 1 {
		c.RefineTop = def.RefineTop
	}
	if c.DedupeDecimals < 1 {
		c.DedupeDecimals = def.DedupeDecimals
	}
	if c.GuidedSamples < 1 {
		c.GuidedSamples = def.GuidedSamples
	}
	if c.GuidedTranslation <= 0 {
		c.GuidedTranslation = def.GuidedTranslation
	}
	if c.GuidedRotation <= 0 {
		c.GuidedRotation = def.GuidedRotation
	}
	if c.ClashThreshold <= 0 {
		c.ClashThreshold = def.ClashThreshold
	}
	if c.DefaultRadius <= 0 {
		c.DefaultRadius = def.DefaultRadius
	}
	if c.Genetic == (genetic.Config{}) {
		c.Genetic = def.Genetic
	}
	if c.MonteCarlo == (annealing.Config{}) {
		c.MonteCarlo = def.MonteCarlo
	}
}

// SearcherFactory builds the searcher for one run of an ensemble.
type SearcherFactory func(run int, seed int64, g *grid.Grid) (docking.Searcher, error)

// Request is the input of one docking run.
type Request struct {
	Receptor *docking.Receptor
	Ligand   *docking.Pose
	// Reference is optional. When set, every result carries its RMSD to it.
	Reference *docking.Pose
}

// Orchestrator drives docking runs. It is safe for concurrent use when its
// scorer, sink and progress collaborators are.
type Orchestrator struct {
	cfg      Config
	scorer   docking.Scorer
	aligner  docking.ReferenceAligner
	sink     docking.ResultSink
	progress docking.ProgressSink
	metrics  metrics.Recorder
	logger   *zap.Logger
	factory  SearcherFactory
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAligner replaces the default Kabsch aligner.
func WithAligner(a docking.ReferenceAligner) Option {
	return func(o *Orchestrator) { o.aligner = a }
}

// WithResultSink sets the sink receiving the final ranking.
func WithResultSink(s docking.ResultSink) Option {
	return func(o *Orchestrator) { o.sink = s }
}

// WithProgress sets the progress sink passed to every engine.
func WithProgress(p docking.ProgressSink) Option {
	return func(o *Orchestrator) { o.progress = docking.ProgressOrNop(p) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = metrics.OrNoop(m) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSearcherFactory replaces strategy dispatch.
func WithSearcherFactory(f SearcherFactory) Option {
	return func(o *Orchestrator) { o.factory = f }
}

// New returns an orchestrator scoring with scorer.
func New(cfg Config, scorer docking.Scorer, opts ...Option) *Orchestrator {
	cfg.fill()
	o := &Orchestrator{
		cfg:      cfg,
		scorer:   scorer,
		aligner:  align.Kabsch{},
		progress: docking.NopProgress,
		metrics:  metrics.Noop{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named(component)
	if o.factory == nil {
		o.factory = o.newSearcher
	}
	return o
}

// newSearcher dispatches on the configured strategy.
func (o *Orchestrator) newSearcher(_ int, seed int64, g *grid.Grid) (docking.Searcher, error) {
	switch o.cfg.Strategy {
	case StrategyGenetic:
		cfg := o.cfg.Genetic
		cfg.RandomSeed = seed
		cfg.Workers = o.cfg.Workers
		cfg.ClashThreshold = o.cfg.ClashThreshold
		cfg.DefaultRadius = o.cfg.DefaultRadius
		return genetic.New(cfg, o.scorer,
			genetic.WithGrid(g),
			genetic.WithLogger(o.logger),
			genetic.WithProgress(o.progress),
			genetic.WithMetrics(o.metrics)), nil
	case StrategyAnnealing, StrategyMonteCarlo:
		cfg := o.cfg.Annealing
		if o.cfg.Strategy == StrategyMonteCarlo {
			cfg = o.cfg.MonteCarlo
			cfg.Mode = annealing.ModeMonteCarlo
		}
		cfg.RandomSeed = seed
		cfg.ClashThreshold = o.cfg.ClashThreshold
		cfg.DefaultRadius = o.cfg.DefaultRadius
		return annealing.New(cfg, o.scorer,
			annealing.WithLogger(o.logger),
			annealing.WithProgress(o.progress),
			annealing.WithMetrics(o.metrics)), nil
	case StrategyRandom:
		cfg := o.cfg.Random
		cfg.RandomSeed = seed
		cfg.Workers = o.cfg.Workers
		cfg.ClashThreshold = o.cfg.ClashThreshold
		cfg.DefaultRadius = o.cfg.DefaultRadius
		return randsearch.New(cfg, o.scorer,
			randsearch.WithLogger(o.logger),
			randsearch.WithProgress(o.progress),
			randsearch.WithMetrics(o.metrics)), nil
	}
	return nil, docking.WrapErrorf(docking.ErrInvalidConfig, "unknown strategy %q", o.cfg.Strategy).WithComponent(component)
}

// Run executes a docking request and returns the final ranking. Results are
// delivered to the sink before Run returns; a sink failure is returned
// together with the results.
func (o *Orchestrator) Run(ctx context.Context, req Request) ([]docking.Result, error) {
	start := time.Now()
	results, err := o.run(ctx, req)
	o.metrics.RunFinished(string(o.cfg.Strategy), time.Since(start), len(results), err)
	return results, err
}

func (o *Orchestrator) run(ctx context.Context, req Request) ([]docking.Result, error) {
	if req.Receptor == nil {
		return nil, docking.WrapError(docking.ErrInvalidConfig, "missing receptor").WithComponent(component)
	}
	if req.Ligand == nil || req.Ligand.Len() == 0 {
		return nil, docking.WrapError(docking.ErrEmptyLigand, "cannot dock").WithComponent(component)
	}
	if err := req.Ligand.CheckTopology(); err != nil {
		return nil, docking.WrapError(err, "checking ligand").WithComponent(component)
	}
	if len(req.Receptor.Atoms) == 0 {
		return nil, docking.WrapError(docking.ErrEmptyGrid, "receptor has no atoms").WithComponent(component)
	}
	if o.cfg.ReferenceMode != ReferenceNone && req.Reference == nil {
		return nil, docking.WrapErrorf(docking.ErrInvalidConfig, "reference mode %s requires a reference pose", o.cfg.ReferenceMode).
			WithComponent(component)
	}

	// The grid is built once per request, before any sampling, and only
	// when the strategy seeds from it.
	var g *grid.Grid
	if o.usesGrid() {
		var err error
		if g, err = grid.NewBuilder(o.cfg.Grid, o.logger).Build(req.Receptor); err != nil {
			return nil, docking.WrapError(err, "building search grid").WithComponent(component)
		}
		o.logger.Debug("search grid built",
			zap.Int("grid_points", g.Len()),
			zap.String("grid_mode", g.Mode.String()))
	}
	region, err := req.Receptor.EnsureActiveSite(o.cfg.DefaultRadius)
	if err != nil {
		return nil, docking.WrapError(err, "defining search region").WithComponent(component)
	}
	o.logger.Info("docking run started",
		zap.String("strategy", string(o.cfg.Strategy)),
		zap.String("reference_mode", o.cfg.ReferenceMode.String()),
		zap.Int("exhaustiveness", o.cfg.Exhaustiveness),
		zap.Float64("radius", region.Radius))

	var results []docking.Result
	skipRefine := o.cfg.SkipRefinement
	switch o.cfg.ReferenceMode {
	case ReferenceExact, ReferenceGuided:
		var skip bool
		results, skip, err = o.referenced(ctx, req)
		skipRefine = skipRefine || skip
	default:
		results, err = o.ensemble(ctx, req, g)
	}
	if err != nil {
		return nil, err
	}

	results = o.finish(ctx, req, results, skipRefine)

	if o.sink != nil {
		meta := map[string]interface{}{
			"strategy":          string(o.cfg.Strategy),
			"exhaustiveness":    o.cfg.Exhaustiveness,
			"reference_mode":    o.cfg.ReferenceMode.String(),
			"flexible_residues": req.Receptor.FlexibleResidues,
		}
		if err := o.sink.Accept(ctx, results, meta); err != nil {
			return results, docking.WrapError(err, "delivering results").WithComponent(component)
		}
	}
	return results, nil
}

// usesGrid reports whether the configured run seeds from the search grid.
// Reference modes never search blindly and only the genetic engine seeds its
// population from grid points.
func (o *Orchestrator) usesGrid() bool {
	return o.cfg.ReferenceMode == ReferenceNone && o.cfg.Strategy == StrategyGenetic
}

// ensemble runs Exhaustiveness independent searches and merges their
// results.
func (o *Orchestrator) ensemble(ctx context.Context, req Request, g *grid.Grid) ([]docking.Result, error) {
	var merged []docking.Result
	for i := 0; i < o.cfg.Exhaustiveness; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var seed int64
		if o.cfg.RandomSeed != 0 {
			seed = o.cfg.RandomSeed + int64(i)
		}
		s, err := o.factory(i, seed, g)
		if err != nil {
			return nil, err
		}
		res, err := s.Search(ctx, req.Receptor, req.Ligand)
		if err != nil {
			return nil, docking.WrapErrorf(err, "run %d/%d", i+1, o.cfg.Exhaustiveness).
				WithOperation(s.Name()).WithComponent(component)
		}
		o.logger.Debug("run finished",
			zap.Int("run", i+1),
			zap.String("strategy", s.Name()),
			zap.Int("results", len(res)))
		merged = append(merged, res...)
	}
	return merged, nil
}

// referenced superimposes the ligand on the reference and either scores
// that pose alone or samples perturbed poses around it.
func (o *Orchestrator) referenced(ctx context.Context, req Request) ([]docking.Result, bool, error) {
	al, err := o.aligner.Align(req.Ligand, req.Reference)
	if err != nil {
		return nil, false, docking.WrapError(err, "aligning to reference").WithComponent(component)
	}

	poses := []*docking.Pose{al.Pose}
	if o.cfg.ReferenceMode == ReferenceGuided {
		smp := sampler.New(sampler.Config{}, docking.NewRand(o.cfg.RandomSeed))
		for len(poses) < o.cfg.GuidedSamples {
			p := al.Pose.Clone()
			smp.Perturb(p, o.cfg.GuidedTranslation, o.cfg.GuidedRotation)
			poses = append(poses, p)
		}
	}

	ev := evaluator.New(
		evaluator.Config{Workers: o.cfg.Workers, Label: "reference-" + o.cfg.ReferenceMode.String()},
		o.scorer,
		evaluator.WithClashPenalty(validity.NewClashFilter(o.cfg.ClashThreshold)),
		evaluator.WithLogger(o.logger),
		evaluator.WithMetrics(o.metrics),
	)
	scores, err := ev.Evaluate(ctx, req.Receptor, poses)
	if err != nil {
		return nil, false, err
	}
	results := make([]docking.Result, 0, len(poses))
	for i, p := range poses {
		if math.IsInf(scores[i], 1) {
			continue
		}
		results = append(results, docking.Result{Pose: p, Score: scores[i]})
	}
	o.logger.Debug("reference poses scored",
		zap.String("mode", o.cfg.ReferenceMode.String()),
		zap.Int("poses", len(poses)),
		zap.Int("valid", len(results)),
		zap.Bool("skip_optimization", al.SkipOptimization))
	return results, al.SkipOptimization, nil
}

// finish drops unusable poses, refines the best results, ranks,
// de-duplicates, truncates and annotates them with RMSD.
func (o *Orchestrator) finish(ctx context.Context, req Request, results []docking.Result, skipRefine bool) []docking.Result {
	results = finiteResults(results)
	if len(results) == 0 {
		o.logger.Warn("docking produced no valid pose")
		return []docking.Result{}
	}
	docking.SortResults(results)

	if !skipRefine {
		clash := validity.NewClashFilter(o.cfg.ClashThreshold)
		opt := local.New(o.cfg.Local, validity.Penalized(o.scorer, clash), o.logger)
		for i := 0; i < min(o.cfg.RefineTop, len(results)); i++ {
			results[i] = opt.OptimizeFrom(ctx, req.Receptor, results[i].Pose, results[i].Score)
		}
		docking.SortResults(results)
	}

	results = docking.DedupeResults(results, o.cfg.DedupeDecimals)
	if o.cfg.MaxResults > 0 && len(results) > o.cfg.MaxResults {
		results = results[:o.cfg.MaxResults]
	}

	if req.Reference != nil {
		for i := range results {
			rmsd, err := align.RMSD(results[i].Pose.Coords, req.Reference.Coords)
			if err != nil {
				o.logger.Warn("cannot compute RMSD", zap.Error(err))
				break
			}
			results[i].RMSD = rmsd
		}
	}

	o.metrics.BestScore(string(o.cfg.Strategy), results[0].Score)
	o.logger.Info("docking run finished",
		zap.Int("results", len(results)),
		zap.Float64("best_score", results[0].Score))
	return results
}

// finiteResults filters, in place, the results whose score is +Inf or NaN.
// Engines report such poses when every candidate clashed.
func finiteResults(results []docking.Result) []docking.Result {
	out := results[:0]
	for _, r := range results {
		if math.IsInf(r.Score, 0) || math.IsNaN(r.Score) {
			continue
		}
		out = append(out, r)
	}
	return out
}
