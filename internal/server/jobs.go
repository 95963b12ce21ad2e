package server

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/copyleftdev/DOCKR/internal/docking"
)

// JobStatus is the lifecycle state of a docking job.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Job is one asynchronous docking run. It receives progress events and the
// final ranking from the orchestrator, so it is both the run's
// docking.ProgressSink and its docking.ResultSink. All fields are guarded
// by mu.
type Job struct {
	ID       string
	Strategy string

	mu          sync.RWMutex
	status      JobStatus
	startTime   time.Time
	endTime     time.Time
	lastUpdated time.Time
	progress    float64
	lastEvent   *docking.ProgressEvent
	results     []docking.Result
	meta        map[string]interface{}
	hasRef      bool
	err         string
	cancel      context.CancelFunc
}

func newJob(strategy string, hasRef bool, cancel context.CancelFunc) *Job {
	now := time.Now()
	return &Job{
		ID:          uuid.NewString(),
		Strategy:    strategy,
		status:      StatusPending,
		startTime:   now,
		lastUpdated: now,
		hasRef:      hasRef,
		cancel:      cancel,
	}
}

// Progress implements docking.ProgressSink. Iteration counters of
// consecutive runs of an ensemble restart, so progress is the latest
// fraction reported and never decreases within a run.
func (j *Job) Progress(ev docking.ProgressEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if ev.Total > 0 {
		j.progress = float64(ev.Iteration) / float64(ev.Total)
		if j.progress > 1 {
			j.progress = 1
		}
	}
	e := ev
	j.lastEvent = &e
	j.lastUpdated = time.Now()
}

// Accept implements docking.ResultSink.
func (j *Job) Accept(_ context.Context, results []docking.Result, meta map[string]interface{}) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.results = results
	j.meta = meta
	j.lastUpdated = time.Now()
	return nil
}

// transition moves the job to status unless it is already terminal. It
// reports whether the transition happened.
func (j *Job) transition(status JobStatus, errMsg string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = status
	now := time.Now()
	j.lastUpdated = now
	if status.Terminal() {
		j.endTime = now
		j.err = errMsg
		if status == StatusCompleted {
			j.progress = 1
		}
	}
	return true
}

// Status returns the current state.
func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// JobView is the wire representation of a job.
type JobView struct {
	ID         string                 `json:"job_id"`
	Status     JobStatus              `json:"status"`
	Strategy   string                 `json:"strategy"`
	Progress   float64                `json:"progress"`
	StartTime  string                 `json:"start_time"`
	LastUpdate string                 `json:"last_update"`
	EndTime    string                 `json:"end_time,omitempty"`
	Iteration  int                    `json:"iteration,omitempty"`
	BestScore  *float64               `json:"best_score,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Results    []ResultView           `json:"results,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// View snapshots the job.
func (j *Job) View() JobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	v := JobView{
		ID:         j.ID,
		Status:     j.status,
		Strategy:   j.Strategy,
		Progress:   j.progress,
		StartTime:  j.startTime.Format(time.RFC3339),
		LastUpdate: j.lastUpdated.Format(time.RFC3339),
		Error:      j.err,
		Metadata:   j.meta,
	}
	if !j.endTime.IsZero() {
		v.EndTime = j.endTime.Format(time.RFC3339)
	}
	if j.lastEvent != nil {
		v.Iteration = j.lastEvent.Iteration
		if finite(j.lastEvent.BestScore) {
			best := j.lastEvent.BestScore
			v.BestScore = &best
		}
	}
	if j.results != nil {
		v.Results = resultViews(j.results, j.hasRef)
		if len(v.Results) > 0 {
			best := v.Results[0].Score
			v.BestScore = &best
		}
	}
	return v
}
