// Package annealing implements Metropolis Monte-Carlo refinement under a
// linear cooling schedule. In protocol mode every (conformer, orientation)
// pair is annealed and then minimized; in Monte-Carlo mode the input ligand
// is annealed from a set of orientations without either extra step.
package annealing

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/DOCKR/internal/docking"
	"github.com/copyleftdev/DOCKR/internal/docking/geometry"
	"github.com/copyleftdev/DOCKR/internal/docking/local"
	"github.com/copyleftdev/DOCKR/internal/docking/sampler"
	"github.com/copyleftdev/DOCKR/internal/docking/validity"
	"github.com/copyleftdev/DOCKR/internal/metrics"
)

const (
	// Name identifies the full annealing protocol.
	Name = "annealing"
	// MonteCarloName identifies the standalone Monte-Carlo mode.
	MonteCarloName = "monte-carlo"
)

// Mode selects between the full protocol and plain Monte-Carlo sampling.
type Mode int

const (
	ModeProtocol Mode = iota
	ModeMonteCarlo
)

// Config holds the annealing parameters. Temperatures are in Kelvin.
type Config struct {
	Mode       Mode
	HighTemp   float64
	TargetTemp float64
	// Steps is the length of each annealing trajectory.
	Steps int
	// Conformers is the total conformer count including the input ligand.
	// Ignored in Monte-Carlo mode.
	Conformers   int
	Orientations int
	// TranslationAmplitude and RotationAmplitude bound the per-axis move at
	// HighTemp; both scale with T/HighTemp.
	TranslationAmplitude float64
	RotationAmplitude    float64
	// Displacement is the orientation offset bound as a fraction of the
	// region radius.
	Displacement float64
	// RejectionFactor times Orientations consecutive soft-check failures
	// abandon orientation sampling for a conformer.
	RejectionFactor int
	// SoftClashLimit applies to scorers implementing docking.ClashScorer.
	// Other scorers are bounded by SoftOverlapLimit, the largest tolerated
	// fraction of ligand atoms closer than ClashThreshold to the receptor,
	// and then by SoftScoreLimit.
	SoftClashLimit   float64
	SoftOverlapLimit float64
	SoftScoreLimit   float64
	ClashThreshold   float64
	DefaultRadius    float64
	// ProgressEvery emits a progress event every ProgressEvery steps.
	ProgressEvery int
	RandomSeed    int64

	// Local configures the final minimization. Local.MaxSteps is the
	// minimization step budget.
	Local local.Config
}

// DefaultConfig returns the protocol parameters.
func DefaultConfig() Config {
	return Config{
		Mode:                 ModeProtocol,
		HighTemp:             1000,
		TargetTemp:           300,
		Steps:                1000,
		Conformers:           10,
		Orientations:         10,
		TranslationAmplitude: 0.5,
		RotationAmplitude:    0.1,
		Displacement:         0.3,
		RejectionFactor:      10,
		SoftClashLimit:       10,
		SoftOverlapLimit:     0.5,
		SoftScoreLimit:       100,
		ClashThreshold:       validity.DefaultClashThreshold,
		DefaultRadius:        15,
		ProgressEvery:        100,
		Local:                local.Config{MaxSteps: 200},
	}
}

// DefaultMonteCarloConfig returns fixed-temperature Monte-Carlo parameters.
func DefaultMonteCarloConfig() Config {
	cfg := DefaultConfig()
	cfg.Mode = ModeMonteCarlo
	cfg.HighTemp = 300
	cfg.TargetTemp = 300
	return cfg
}

func (c *Config) fill() {
	def := DefaultConfig()
	if c.HighTemp <= 0 {
		c.HighTemp = def.HighTemp
	}
	if c.TargetTemp <= 0 {
		c.TargetTemp = def.TargetTemp
	}
	// The schedule never heats.
	if c.TargetTemp > c.HighTemp {
		c.TargetTemp = c.HighTemp
	}
	if c.Steps < 1 {
		c.Steps = def.Steps
	}
	if c.Conformers < 1 {
		c.Conformers = def.Conformers
	}
	if c.Orientations < 1 {
		c.Orientations = def.Orientations
	}
	if c.TranslationAmplitude <= 0 {
		c.TranslationAmplitude = def.TranslationAmplitude
	}
	if c.RotationAmplitude <= 0 {
		c.RotationAmplitude = def.RotationAmplitude
	}
	if c.Displacement <= 0 {
		c.Displacement = def.Displacement
	}
	if c.RejectionFactor < 1 {
		c.RejectionFactor = def.RejectionFactor
	}
	if c.SoftClashLimit <= 0 {
		c.SoftClashLimit = def.SoftClashLimit
	}
	if c.SoftOverlapLimit <= 0 || c.SoftOverlapLimit > 1 {
		c.SoftOverlapLimit = def.SoftOverlapLimit
	}
	if c.SoftScoreLimit <= 0 {
		c.SoftScoreLimit = def.SoftScoreLimit
	}
	if c.ClashThreshold <= 0 {
		c.ClashThreshold = def.ClashThreshold
	}
	if c.DefaultRadius <= 0 {
		c.DefaultRadius = def.DefaultRadius
	}
	if c.ProgressEvery < 1 {
		c.ProgressEvery = def.ProgressEvery
	}
	if c.Local.MaxSteps < 1 {
		c.Local.MaxSteps = def.Local.MaxSteps
	}
}

// Engine runs annealing searches. It satisfies docking.Searcher.
type Engine struct {
	cfg      Config
	scorer   docking.Scorer
	logger   *zap.Logger
	progress docking.ProgressSink
	metrics  metrics.Recorder
	overlap  *validity.ClashFilter

	// trace observes every Metropolis decision.
	trace func(delta, temp float64, accepted bool)
}

// Option configures an Engine.
type Option func(*Engine)

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
		overlap:  validity.NewClashFilter(cfg.ClashThreshold),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named(e.Name())
	return e
}

// Name implements docking.Searcher.
func (e *Engine) Name() string {
	if e.cfg.Mode == ModeMonteCarlo {
		return MonteCarloName
	}
	return Name
}

type run struct {
	*Engine
	ctx      context.Context
	receptor *docking.Receptor
	region   docking.Region
	rng      *rand.Rand
	local    *local.Optimizer

	// steps counts Metropolis steps across trajectories for progress
	// reporting.
	steps, totalSteps int
}

// start is an accepted orientation and, when the soft check computed it,
// its score.
type start struct {
	pose   *docking.Pose
	score  float64
	scored bool
}

// Search implements docking.Searcher. It returns one result per annealed
// trajectory sorted by ascending score. When no orientation passes the soft
// check the result is empty and the error nil.
func (e *Engine) Search(ctx context.Context, receptor *docking.Receptor, ligand *docking.Pose) ([]docking.Result, error) {
	begin := time.Now()
	results, err := e.search(ctx, receptor, ligand)
	e.metrics.RunFinished(e.Name(), time.Since(begin), len(results), err)
	return results, err
}

func (e *Engine) search(ctx context.Context, receptor *docking.Receptor, ligand *docking.Pose) ([]docking.Result, error) {
	if ligand == nil || ligand.Len() == 0 {
		return nil, docking.WrapError(docking.ErrEmptyLigand, "cannot search").WithComponent(e.Name())
	}
	region, err := receptor.EnsureActiveSite(e.cfg.DefaultRadius)
	if err != nil {
		return nil, docking.WrapError(err, "defining search region").WithComponent(e.Name())
	}

	rng := docking.NewRand(e.cfg.RandomSeed)
	r := &run{
		Engine:   e,
		ctx:      ctx,
		receptor: receptor,
		region:   region,
		rng:      rng,
		local:    local.New(e.cfg.Local, e.scorer, e.logger),
	}

	conformers := []*docking.Pose{ligand.Clone()}
	if e.cfg.Mode == ModeProtocol && e.cfg.Conformers > 1 && len(ligand.Rotatable) > 0 {
		extra, err := sampler.New(sampler.Config{}, rng).Conformers(ligand, e.cfg.Conformers-1)
		if err != nil {
			return nil, docking.WrapError(err, "generating conformers").WithComponent(e.Name())
		}
		conformers = append(conformers, extra...)
	}

	var starts []start
	for _, conf := range conformers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		starts = append(starts, r.orientations(conf)...)
	}
	if len(starts) == 0 {
		e.logger.Warn("no orientation passed the soft clash check",
			zap.Error(docking.ErrSamplingExhausted),
			zap.Int("conformers", len(conformers)))
		return []docking.Result{}, nil
	}

	schedule := docking.TemperatureSchedule(e.cfg.HighTemp, e.cfg.TargetTemp, e.cfg.Steps)
	r.totalSteps = len(starts) * len(schedule)
	results := make([]docking.Result, 0, len(starts))
	best := math.Inf(1)
	for i, s := range starts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := r.anneal(s, schedule)
		if e.cfg.Mode == ModeProtocol {
			res = r.local.OptimizeFrom(ctx, receptor, res.Pose, res.Score)
		}
		results = append(results, res)
		best = math.Min(best, res.Score)
		e.metrics.Generation(e.Name(), i+1)
		e.metrics.BestScore(e.Name(), best)
	}

	docking.SortResults(results)
	e.logger.Info("search finished",
		zap.Int("conformers", len(conformers)),
		zap.Int("trajectories", len(starts)),
		zap.Int("steps", len(schedule)),
		zap.Float64("best_score", results[0].Score))
	return results, nil
}

// orientations places conf at the region center with a random rotation and
// a uniform offset of up to Displacement·radius per axis, keeping poses
// that pass the soft check. Sampling stops after Orientations accepted
// poses or RejectionFactor·Orientations consecutive rejections.
func (r *run) orientations(conf *docking.Pose) []start {
	want := r.cfg.Orientations
	limit := want * r.cfg.RejectionFactor
	out := make([]start, 0, want)

	var rejected, total int
	for len(out) < want && rejected < limit {
		pose := conf.Clone()
		pose.MoveCentroidTo(r.region.Center)
		pose.RotateAboutCentroid(geometry.RandomRotation(r.rng))
		pose.Translate(geometry.UniformVec(r.rng, r.cfg.Displacement*r.region.Radius))

		if s, ok := r.soft(pose); ok {
			out = append(out, s)
			rejected = 0
			continue
		}
		rejected++
		total++
	}
	if len(out) < want {
		r.logger.Debug("orientation sampling gave up",
			zap.Int("accepted", len(out)),
			zap.Int("wanted", want),
			zap.Int("rejected", total))
	}
	return out
}

// soft tolerates a bounded amount of steric overlap: the clash component
// when the scorer exposes one, otherwise the overlapping atom fraction and
// then the full score against a loose limit.
func (r *run) soft(pose *docking.Pose) (start, bool) {
	if cs, ok := r.scorer.(docking.ClashScorer); ok {
		c, err := cs.ClashComponent(r.receptor, pose)
		if err != nil || math.IsNaN(c) {
			return start{}, false
		}
		return start{pose: pose}, c < r.cfg.SoftClashLimit
	}
	if r.overlap.OverlapFraction(r.receptor, pose) > r.cfg.SoftOverlapLimit {
		return start{}, false
	}
	s := r.score(pose)
	return start{pose: pose, score: s, scored: true}, s < r.cfg.SoftScoreLimit
}

func (r *run) score(pose *docking.Pose) float64 {
	s, err := r.scorer.Score(r.receptor, pose)
	if err != nil {
		r.metrics.EvaluationFailed("error")
		return math.Inf(1)
	}
	if math.IsNaN(s) {
		r.metrics.EvaluationFailed("nan")
		return math.Inf(1)
	}
	return s
}

// anneal runs one Metropolis trajectory over schedule and returns the best
// pose it visited, which may differ from where the trajectory ends.
func (r *run) anneal(s start, schedule []float64) docking.Result {
	current, score := s.pose, s.score
	if !s.scored {
		score = r.score(current)
	}
	best, bestScore := current, score
	initial := score

	var accepted int
	for step, temp := range schedule {
		scale := temp / r.cfg.HighTemp
		cand := current.Clone()
		cand.Translate(geometry.UniformVec(r.rng, r.cfg.TranslationAmplitude*scale))
		angle := (2*r.rng.Float64() - 1) * r.cfg.RotationAmplitude * scale
		cand.RotateAboutCentroid(geometry.AxisAngle(geometry.RandomUnitVector(r.rng), angle))

		candScore := r.score(cand)
		delta := candScore - score
		ok := docking.MetropolisAccept(delta, temp, r.rng.Float64())
		if r.trace != nil {
			r.trace(delta, temp, ok)
		}
		if ok {
			current, score = cand, candScore
			accepted++
			if score < bestScore {
				best, bestScore = current, score
			}
		}

		r.steps++
		if (step+1)%r.cfg.ProgressEvery == 0 || step+1 == len(schedule) {
			r.progress.Progress(docking.ProgressEvent{
				Strategy:     r.Name(),
				Iteration:    r.steps,
				Total:        r.totalSteps,
				Temperature:  temp,
				Radius:       r.region.Radius,
				BestScore:    bestScore,
				CurrentScore: score,
			})
		}
	}

	r.logger.Debug("trajectory finished",
		zap.Float64("initial_score", initial),
		zap.Float64("best_score", bestScore),
		zap.Float64("acceptance", float64(accepted)/float64(max(1, len(schedule)))))
	return docking.Result{Pose: best.Clone(), Score: bestScore}
}
