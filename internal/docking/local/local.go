// Package local implements the greedy coordinate-descent refinement of a
// single pose.
package local

import (
	"context"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/copyleftdev/DOCKR/internal/docking"
	"github.com/copyleftdev/DOCKR/internal/docking/geometry"
)

// Config tunes the optimizer.
type Config struct {
	// TranslationStep is the initial translation step in Å.
	TranslationStep float64
	// RotationStep is the initial rotation step in radians.
	RotationStep float64
	// Factor shrinks both steps after an iteration without improvement.
	Factor float64
	// MinStep stops the search once the translation step falls below it.
	MinStep float64
	// MaxSteps bounds the number of iterations.
	MaxSteps int
}

// DefaultConfig returns the standard minimization schedule.
func DefaultConfig() Config {
	return Config{
		TranslationStep: 0.1,
		RotationStep:    0.05,
		Factor:          0.9,
		MinStep:         0.001,
		MaxSteps:        200,
	}
}

var axes = [3]r3.Vec{{X: 1}, {Y: 1}, {Z: 1}}

// Optimizer refines poses by first-improvement coordinate descent over six
// axis translations and six axis rotations about the centroid.
type Optimizer struct {
	cfg    Config
	scorer docking.Scorer
	logger *zap.Logger
}

// New returns an optimizer scoring with scorer. Unset config fields take
// DefaultConfig values.
func New(cfg Config, scorer docking.Scorer, logger *zap.Logger) *Optimizer {
	def := DefaultConfig()
	if cfg.TranslationStep <= 0 {
		cfg.TranslationStep = def.TranslationStep
	}
	if cfg.RotationStep <= 0 {
		cfg.RotationStep = def.RotationStep
	}
	if cfg.Factor <= 0 || cfg.Factor >= 1 {
		cfg.Factor = def.Factor
	}
	if cfg.MinStep <= 0 {
		cfg.MinStep = def.MinStep
	}
	if cfg.MaxSteps < 1 {
		cfg.MaxSteps = def.MaxSteps
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{cfg: cfg, scorer: scorer, logger: logger.Named("local")}
}

func (o *Optimizer) score(receptor *docking.Receptor, pose *docking.Pose) float64 {
	s, err := o.scorer.Score(receptor, pose)
	if err != nil || math.IsNaN(s) {
		return math.Inf(1)
	}
	return s
}

// Optimize scores pose and refines it.
func (o *Optimizer) Optimize(ctx context.Context, receptor *docking.Receptor, pose *docking.Pose) docking.Result {
	return o.OptimizeFrom(ctx, receptor, pose, o.score(receptor, pose))
}

// OptimizeFrom refines pose whose score is already known. The returned
// score never exceeds score and the input pose is not modified. The context
// is checked between iterations.
func (o *Optimizer) OptimizeFrom(ctx context.Context, receptor *docking.Receptor, pose *docking.Pose, score float64) docking.Result {
	best := pose.Clone()
	bestScore := score
	step := o.cfg.TranslationStep
	angle := o.cfg.RotationStep

	var iter, accepted int
	for ; iter < o.cfg.MaxSteps && step >= o.cfg.MinStep; iter++ {
		if ctx.Err() != nil {
			break
		}
		cand, candScore, ok := o.firstImprovement(receptor, best, bestScore, step, angle)
		if ok {
			best, bestScore = cand, candScore
			accepted++
			continue
		}
		step *= o.cfg.Factor
		angle *= o.cfg.Factor
	}

	o.logger.Debug("local optimization finished",
		zap.Int("iterations", iter),
		zap.Int("accepted", accepted),
		zap.Float64("initial_score", score),
		zap.Float64("final_score", bestScore))
	return docking.Result{Pose: best, Score: bestScore}
}

func (o *Optimizer) firstImprovement(receptor *docking.Receptor, pose *docking.Pose, score, step, angle float64) (*docking.Pose, float64, bool) {
	for _, axis := range axes {
		for _, sign := range [2]float64{1, -1} {
			cand := pose.Clone()
			cand.Translate(r3.Scale(sign*step, axis))
			if s := o.score(receptor, cand); s < score {
				return cand, s, true
			}
		}
	}
	for _, axis := range axes {
		for _, sign := range [2]float64{1, -1} {
			cand := pose.Clone()
			cand.RotateAboutCentroid(geometry.AxisAngle(axis, sign*angle))
			if s := o.score(receptor, cand); s < score {
				return cand, s, true
			}
		}
	}
	return nil, score, false
}
