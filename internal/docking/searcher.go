// Package docking holds the data model and collaborator contracts shared by
// the pose-search engines: poses, receptors, search regions, individuals and
// results, plus the scoring, evaluation, progress and result-sink interfaces.
//
// Engines live in subpackages and are composed from injected helpers rather
// than a common base type. Every strategy satisfies Searcher.
package docking

import (
	"context"
)

// Searcher is a complete pose-search strategy.
type Searcher interface {
	// Name identifies the strategy in logs, metrics and progress events.
	Name() string

	// Search returns poses ranked by ascending score. A run that finds no
	// valid pose returns an empty slice and a nil error.
	Search(ctx context.Context, receptor *Receptor, ligand *Pose) ([]Result, error)
}

// Scorer computes the energy of a pose in a receptor; lower is better.
// Implementations must not mutate the receptor or the pose and must be safe
// for concurrent use.
type Scorer interface {
	Score(receptor *Receptor, pose *Pose) (float64, error)
}

// ScoreFunc adapts an ordinary function to Scorer.
type ScoreFunc func(receptor *Receptor, pose *Pose) (float64, error)

// Score calls f(receptor, pose).
func (f ScoreFunc) Score(receptor *Receptor, pose *Pose) (float64, error) {
	return f(receptor, pose)
}

// ClashScorer is implemented by scorers that can report their steric-clash
// term alone. It is used as a cheap validity proxy.
type ClashScorer interface {
	ClashComponent(receptor *Receptor, pose *Pose) (float64, error)
}

// Evaluator scores a batch of poses. Every input pose receives exactly one
// score, in input order. Failed scoring calls yield +Inf rather than an
// error; the returned error is reserved for cancellation.
type Evaluator interface {
	Evaluate(ctx context.Context, receptor *Receptor, poses []*Pose) ([]float64, error)
}

// Alignment is the seed supplied by a ReferenceAligner.
type Alignment struct {
	// Pose is the ligand superimposed on the reference.
	Pose *Pose
	// SkipOptimization asks the caller not to locally optimise results.
	SkipOptimization bool
}

// ReferenceAligner places a ligand near a known reference pose.
type ReferenceAligner interface {
	Align(ligand, reference *Pose) (Alignment, error)
}

// ResultSink receives the final ranked list of a run together with optional
// metadata such as the flexible residues.
type ResultSink interface {
	Accept(ctx context.Context, results []Result, meta map[string]interface{}) error
}
