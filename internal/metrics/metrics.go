// Package metrics records operational telemetry of docking runs. Engines
// depend only on the Recorder interface; the Prometheus implementation is
// registered by the service and exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder collects search telemetry. Implementations must be safe for
// concurrent use.
type Recorder interface {
	// PosesScored is called after a batch of n poses was scored.
	PosesScored(n int)
	// EvaluationFailed counts a scoring call that returned an error
	// ("error") or panicked ("panic").
	EvaluationFailed(reason string)
	// ClashPenalty counts a pose scored +Inf because it clashed.
	ClashPenalty(strategy string)
	// WorkerFallback counts a batch that fell back to sequential evaluation.
	WorkerFallback()
	// Repair counts a post-crossover repair by outcome.
	Repair(outcome string)
	// Generation reports the current iteration of a running strategy.
	Generation(strategy string, g int)
	// BestScore reports the best score seen by a strategy.
	BestScore(strategy string, score float64)
	// RunFinished records a completed search run.
	RunFinished(strategy string, d time.Duration, results int, err error)
}

// Noop discards everything.
type Noop struct{}

func (Noop) PosesScored(int) {}
func (Noop) EvaluationFailed(string) {}
func (Noop) ClashPenalty(string) {}
func (Noop) WorkerFallback() {}
func (Noop) Repair(string) {}
func (Noop) Generation(string, int) {}
func (Noop) BestScore(string, float64) {}
func (Noop) RunFinished(string, time.Duration, int, error) {}

// OrNoop returns r, or Noop when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}
	return r
}

const namespace = "dockr"

// Prometheus is a Recorder backed by Prometheus collectors.
type Prometheus struct {
	posesScored     prometheus.Counter
	evalFailures    *prometheus.CounterVec
	clashPenalties  *prometheus.CounterVec
	workerFallbacks prometheus.Counter
	repairs         *prometheus.CounterVec
	generation      *prometheus.GaugeVec
	bestScore       *prometheus.GaugeVec
	runDuration     *prometheus.HistogramVec
	runResults      *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg. A nil
// reg uses prometheus.DefaultRegisterer.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &Prometheus{
		posesScored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poses_scored_total",
			Help:      "Total number of poses passed to the scoring function.",
		}),
		evalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_failures_total",
			Help:      "Scoring calls that failed and were penalised with +Inf.",
		}, []string{"reason"}),
		clashPenalties: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clash_penalties_total",
			Help:      "Poses penalised with +Inf because of a steric clash.",
		}, []string{"strategy"}),
		workerFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worker_fallbacks_total",
			Help:      "Evaluation batches that fell back to sequential scoring.",
		}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conformation_repairs_total",
			Help:      "Post-crossover conformation repairs by outcome.",
		}, []string{"outcome"}),
		generation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "search_iteration",
			Help:      "Current iteration of the running search.",
		}, []string{"strategy"}),
		bestScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "search_best_score",
			Help:      "Best score seen by the running search.",
		}, []string{"strategy"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Wall-clock duration of search runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"strategy", "status"}),
		runResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_results_total",
			Help:      "Ranked poses returned by search runs.",
		}, []string{"strategy"}),
	}

	collectors := []prometheus.Collector{
		p.posesScored,
		p.evalFailures,
		p.clashPenalties,
		p.workerFallbacks,
		p.repairs,
		p.generation,
		p.bestScore,
		p.runDuration,
		p.runResults,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) PosesScored(n int) { p.posesScored.Add(float64(n)) }

func (p *Prometheus) EvaluationFailed(reason string) {
	p.evalFailures.WithLabelValues(reason).Inc()
}

func (p *Prometheus) ClashPenalty(strategy string) {
	p.clashPenalties.WithLabelValues(strategy).Inc()
}

func (p *Prometheus) WorkerFallback() { p.workerFallbacks.Inc() }

func (p *Prometheus) Repair(outcome string) { p.repairs.WithLabelValues(outcome).Inc() }

func (p *Prometheus) Generation(strategy string, g int) {
	p.generation.WithLabelValues(strategy).Set(float64(g))
}

func (p *Prometheus) BestScore(strategy string, score float64) {
	p.bestScore.WithLabelValues(strategy).Set(score)
}

func (p *Prometheus) RunFinished(strategy string, d time.Duration, results int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.runDuration.WithLabelValues(strategy, status).Observe(d.Seconds())
	p.runResults.WithLabelValues(strategy).Add(float64(results))
}
