// Package evaluator scores batches of poses on a bounded pool of
// goroutines. Every pose receives exactly one score in input order; scoring
// failures become +Inf and a crashed worker's remainder is scored
// sequentially.
package evaluator

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/copyleftdev/DOCKR/internal/docking"
	"github.com/copyleftdev/DOCKR/internal/docking/validity"
	"github.com/copyleftdev/DOCKR/internal/metrics"
)

// Config controls the worker pool.
type Config struct {
	// Workers bounds concurrent batches. Values below 1 use GOMAXPROCS; 1
	// evaluates inline.
	Workers int
	// BatchSize is the number of poses handed to one worker. Values below 1
	// split the input into about two batches per worker.
	BatchSize int
	// Label tags metrics emitted by this evaluator.
	Label string
}

// Parallel implements docking.Evaluator.
type Parallel struct {
	cfg     Config
	scorer  docking.Scorer
	clash   *validity.ClashFilter
	logger  *zap.Logger
	metrics metrics.Recorder
}

// Option configures a Parallel evaluator.
type Option func(*Parallel)

// WithClashPenalty scores clashing poses +Inf without calling the scorer.
func WithClashPenalty(f *validity.ClashFilter) Option {
	return func(p *Parallel) { p.clash = f }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Parallel) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(p *Parallel) { p.metrics = metrics.OrNoop(m) }
}

// New returns a parallel evaluator for scorer.
func New(cfg Config, scorer docking.Scorer, opts ...Option) *Parallel {
	if cfg.Workers < 1 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Label == "" {
		cfg.Label = "default"
	}
	p := &Parallel{
		cfg:     cfg,
		scorer:  scorer,
		logger:  zap.NewNop(),
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("evaluator")
	return p
}

type batch struct {
	start int
	poses []*docking.Pose
	// done is the number of poses scored before a worker crash; -1 when the
	// batch completed.
	done int
}

// Evaluate implements docking.Evaluator. The only error it returns is the
// context's, when cancelled before all batches were dispatched.
func (p *Parallel) Evaluate(ctx context.Context, receptor *docking.Receptor, poses []*docking.Pose) ([]float64, error) {
	scores := make([]float64, len(poses))
	if len(poses) == 0 {
		return scores, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if p.cfg.Workers == 1 {
		for i, pose := range poses {
			scores[i] = p.scoreOne(receptor, pose)
		}
		p.metrics.PosesScored(len(poses))
		return scores, nil
	}

	batches := p.split(poses)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	var mu sync.Mutex
	var crashed []*batch
	for _, b := range batches {
		b := b
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if n, ok := p.runBatch(receptor, b, scores); !ok {
				b.done = n
				mu.Lock()
				crashed = append(crashed, b)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, b := range crashed {
		p.metrics.WorkerFallback()
		p.logger.Warn("worker failed, scoring remainder sequentially",
			zap.Int("batch_start", b.start),
			zap.Int("batch_size", len(b.poses)),
			zap.Int("scored", b.done))
		// The pose that crashed the worker is retried once in isolation.
		for i := b.done; i < len(b.poses); i++ {
			scores[b.start+i] = p.scoreOne(receptor, b.poses[i])
		}
	}
	p.metrics.PosesScored(len(poses))
	return scores, nil
}

func (p *Parallel) split(poses []*docking.Pose) []*batch {
	size := p.cfg.BatchSize
	if size < 1 {
		size = max(1, len(poses)/(p.cfg.Workers*2))
	}
	var out []*batch
	for start := 0; start < len(poses); start += size {
		end := min(start+size, len(poses))
		out = append(out, &batch{start: start, poses: poses[start:end], done: -1})
	}
	return out
}

// runBatch scores a private copy of the batch. It reports how many poses
// were scored and false if the scorer panicked.
func (p *Parallel) runBatch(receptor *docking.Receptor, b *batch, scores []float64) (n int, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.EvaluationFailed("panic")
			p.logger.Warn("scorer panicked in worker", zap.Any("panic", r), zap.Int("pose", b.start+n))
			ok = false
		}
	}()
	for i, pose := range b.poses {
		local := pose.Clone()
		scores[b.start+i] = p.scoreUnsafe(receptor, local)
		n = i + 1
	}
	return n, true
}

// scoreOne scores a single pose, converting a panic into +Inf.
func (p *Parallel) scoreOne(receptor *docking.Receptor, pose *docking.Pose) (s float64) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.EvaluationFailed("panic")
			p.logger.Warn("scorer panicked", zap.String("panic", fmt.Sprint(r)))
			s = math.Inf(1)
		}
	}()
	return p.scoreUnsafe(receptor, pose.Clone())
}

func (p *Parallel) scoreUnsafe(receptor *docking.Receptor, pose *docking.Pose) float64 {
	if p.clash != nil && p.clash.Clashes(receptor, pose) {
		p.metrics.ClashPenalty(p.cfg.Label)
		return math.Inf(1)
	}
	s, err := p.scorer.Score(receptor, pose)
	if err != nil {
		p.metrics.EvaluationFailed("error")
		p.logger.Debug("scoring failed", zap.Error(err))
		return math.Inf(1)
	}
	if math.IsNaN(s) {
		p.metrics.EvaluationFailed("nan")
		return math.Inf(1)
	}
	return s
}

// Individuals scores the unevaluated members of pop in place through ev.
func Individuals(ctx context.Context, ev docking.Evaluator, receptor *docking.Receptor, pop []docking.Individual) error {
	var idx []int
	var poses []*docking.Pose
	for i := range pop {
		if !pop[i].Evaluated {
			idx = append(idx, i)
			poses = append(poses, pop[i].Pose)
		}
	}
	if len(poses) == 0 {
		return nil
	}
	scores, err := ev.Evaluate(ctx, receptor, poses)
	if err != nil {
		return err
	}
	for k, i := range idx {
		pop[i].Score = scores[k]
		pop[i].Evaluated = true
	}
	return nil
}
