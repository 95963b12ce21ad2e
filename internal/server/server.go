package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/copyleftdev/DOCKR/internal/config"
	"github.com/copyleftdev/DOCKR/internal/docking"
	"github.com/copyleftdev/DOCKR/internal/docking/orchestrator"
	serrors "github.com/copyleftdev/DOCKR/internal/errors"
	"github.com/copyleftdev/DOCKR/internal/logging"
	"github.com/copyleftdev/DOCKR/internal/metrics"
	"github.com/copyleftdev/DOCKR/internal/scoring"
)

// Logger defines the logging interface used by the server.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// Server implements the HTTP and JSON-RPC docking job service. Jobs run
// asynchronously; at most cfg.Docking.MaxJobs run at once and the rest wait
// in pending state.
type Server struct {
	cfg          *config.Config
	logger       Logger
	engineLogger *zap.Logger
	scorer       docking.Scorer
	metrics      metrics.Recorder

	jobs   map[string]*Job
	jobsMu sync.RWMutex
	slots  chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithScorer replaces the default contact scoring function.
func WithScorer(sc docking.Scorer) Option {
	return func(s *Server) { s.scorer = sc }
}

// WithMetrics sets the recorder handed to every run.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *Server) { s.metrics = metrics.OrNoop(m) }
}

// WithEngineLogger sets the zap logger handed to the docking engines.
func WithEngineLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.engineLogger = l
		}
	}
}

// NewServer creates a new server instance with the given config and logger.
// Engines log through logger as well when it is a *logging.Logger.
func NewServer(cfg *config.Config, logger Logger, opts ...Option) *Server {
	maxJobs := cfg.Docking.MaxJobs
	if maxJobs < 1 {
		maxJobs = 1
	}
	s := &Server{
		cfg:          cfg,
		logger:       logger,
		engineLogger: zap.NewNop(),
		scorer:       scoring.New(scoring.DefaultConfig()),
		metrics:      metrics.Noop{},
		jobs:         make(map[string]*Job),
		slots:        make(chan struct{}, maxJobs),
	}
	if l, ok := logger.(*logging.Logger); ok {
		s.engineLogger = logging.NewZapLogger(l)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/dock", s.handleDock)
		r.Get("/jobs", s.handleList)
		r.Get("/jobs/{id}", s.handleStatus)
		r.Delete("/jobs/{id}", s.handleCancel)
	})

	// JSON-RPC 2.0 endpoint
	r.Post("/rpc", s.handleJSONRPC)
}

// StartJob validates req, registers a pending job and starts it in the
// background.
func (s *Server) StartJob(req DockRequest) (*Job, error) {
	receptor, err := req.Receptor.toReceptor()
	if err != nil {
		return nil, err
	}
	ligand, err := req.Ligand.toPose("ligand")
	if err != nil {
		return nil, err
	}
	var reference *docking.Pose
	if req.Reference != nil {
		if reference, err = req.Reference.toPose("reference"); err != nil {
			return nil, err
		}
		if reference.Len() != ligand.Len() {
			return nil, badRequest("reference has %d atoms, ligand has %d", reference.Len(), ligand.Len())
		}
	}

	dc := s.cfg.Docking
	if req.Strategy != "" {
		dc.Strategy = req.Strategy
	}
	if req.ReferenceMode != "" {
		dc.ReferenceMode = req.ReferenceMode
	}
	if req.Exhaustiveness > 0 {
		dc.Exhaustiveness = req.Exhaustiveness
	}
	if req.RandomSeed != 0 {
		dc.RandomSeed = req.RandomSeed
	}
	if req.MaxResults > 0 {
		dc.MaxResults = req.MaxResults
	}
	if err := dc.Validate(); err != nil {
		return nil, err
	}
	ocfg := dc.Orchestrator()

	ctx, cancel := context.WithCancel(context.Background())
	job := newJob(string(ocfg.Strategy), reference != nil, cancel)

	orch := orchestrator.New(ocfg, s.scorer,
		orchestrator.WithResultSink(job),
		orchestrator.WithProgress(job),
		orchestrator.WithMetrics(s.metrics),
		orchestrator.WithLogger(s.engineLogger.With(zap.String("job_id", job.ID))),
	)

	s.jobsMu.Lock()
	s.jobs[job.ID] = job
	s.jobsMu.Unlock()

	s.logger.Info("Docking job submitted", map[string]interface{}{
		"job_id":         job.ID,
		"strategy":       job.Strategy,
		"receptor_atoms": len(receptor.Atoms),
		"ligand_atoms":   ligand.Len(),
	})

	s.wg.Add(1)
	go s.runJob(ctx, job, orch, orchestrator.Request{Receptor: receptor, Ligand: ligand, Reference: reference})
	return job, nil
}

func (s *Server) runJob(ctx context.Context, job *Job, orch *orchestrator.Orchestrator, req orchestrator.Request) {
	defer s.wg.Done()
	defer job.cancel()

	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		job.transition(StatusCancelled, "")
		return
	}
	defer func() { <-s.slots }()

	if !job.transition(StatusRunning, "") {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Docking job panicked", map[string]interface{}{"job_id": job.ID, "error": fmt.Sprint(rec)})
			job.transition(StatusFailed, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	results, err := orch.Run(ctx, req)
	switch {
	case ctx.Err() != nil:
		job.transition(StatusCancelled, "")
	case err != nil:
		s.logger.Error("Docking job failed", map[string]interface{}{"job_id": job.ID, "error": err.Error()})
		job.transition(StatusFailed, err.Error())
	default:
		s.logger.Info("Docking job completed", map[string]interface{}{"job_id": job.ID, "results": len(results)})
		job.transition(StatusCompleted, "")
	}
}

// Job returns the job with the given id.
func (s *Server) Job(id string) (*Job, error) {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, serrors.Wrapf(serrors.ErrNotFound, "job %s", id)
	}
	return job, nil
}

// CancelJob cancels a pending or running job.
func (s *Server) CancelJob(id string) (*Job, error) {
	job, err := s.Job(id)
	if err != nil {
		return nil, err
	}
	if !job.transition(StatusCancelled, "") {
		return nil, serrors.Wrapf(serrors.ErrConflict, "cannot cancel job with status %s", job.Status())
	}
	job.cancel()
	s.logger.Info("Docking job cancelled", map[string]interface{}{"job_id": id})
	return job, nil
}

// Close cancels every job and waits for the workers to return.
func (s *Server) Close() error {
	s.jobsMu.RLock()
	for _, job := range s.jobs {
		job.transition(StatusCancelled, "")
		job.cancel()
	}
	s.jobsMu.RUnlock()
	s.wg.Wait()
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleDock(w http.ResponseWriter, r *http.Request) {
	var req DockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		serrors.WriteJSON(w, serrors.Wrapf(serrors.ErrBadRequest, "invalid request body: %v", err))
		return
	}
	job, err := s.StartJob(req)
	if err != nil {
		serrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status(),
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.jobsMu.RLock()
	views := make([]JobView, 0, len(s.jobs))
	for _, job := range s.jobs {
		v := job.View()
		v.Results = nil
		views = append(views, v)
	}
	s.jobsMu.RUnlock()
	sort.Slice(views, func(i, j int) bool {
		if views[i].StartTime != views[j].StartTime {
			return views[i].StartTime < views[j].StartTime
		}
		return views[i].ID < views[j].ID
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": views})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.Job(chi.URLParam(r, "id"))
	if err != nil {
		serrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job.View())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	job, err := s.CancelJob(chi.URLParam(r, "id"))
	if err != nil {
		serrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status(),
	})
}
