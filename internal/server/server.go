// Package server exposes the pipeline engine over HTTP: events come
// in, trigger rules gate them, accepted events start runs, and run
// state is queryable while and after they execute.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"pipeci/internal/core"
	"pipeci/internal/history"
	"pipeci/internal/storage"
)

// Server dispatches events against the loaded pipelines and records
// the resulting runs.
type Server struct {
	cfg      Config
	logger   zerolog.Logger
	journal  *history.Journal
	logs     *storage.LogStore
	provider func(spec core.EnvironmentSpec) (core.Provisioner, error)

	mu        sync.Mutex
	pipelines []*core.Pipeline
	runs      map[string]*core.Run
	order     []string

	wg sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithProvisionerFactory overrides how the environment provisioner is
// chosen per run. Tests use it to avoid a real container runtime.
func WithProvisionerFactory(fn func(spec core.EnvironmentSpec) (core.Provisioner, error)) Option {
	return func(s *Server) { s.provider = fn }
}

// New creates a Server over the given pipelines.
func New(cfg Config, pipelines []*core.Pipeline, journal *history.Journal, logs *storage.LogStore, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		journal:   journal,
		logs:      logs,
		pipelines: pipelines,
		runs:      make(map[string]*core.Run),
		provider:  defaultProvisioner,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", s.handleEvent)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/steps/{name}/log", s.handleStepLog)
		r.Get("/history/verify", s.handleVerifyHistory)
		r.Get("/healthz", s.handleHealth)
	})
	return r
}

// Wait blocks until all in-flight runs have finished. Used during
// shutdown and by tests.
func (s *Server) Wait() {
	s.wg.Wait()
}

type eventRequest struct {
	Kind string    `json:"kind"`
	Ref  string    `json:"ref"`
	Time time.Time `json:"time"`
}

type acceptedPipeline struct {
	Pipeline string `json:"pipeline"`
}

// handleEvent evaluates the event against every loaded pipeline's
// trigger rules and starts a run per match. An event matching nothing
// is inaction, not an error.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event body")
		return
	}

	kind := core.EventKind(req.Kind)
	switch kind {
	case core.EventPush, core.EventPullRequest, core.EventSchedule:
	default:
		writeError(w, http.StatusBadRequest, "unknown event kind")
		return
	}
	ev := core.Event{Kind: kind, Ref: req.Ref, Time: req.Time}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	accepted := s.Dispatch(r.Context(), ev)

	status := http.StatusOK
	if len(accepted) > 0 {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]any{"accepted": accepted})
}

// Dispatch starts one run per pipeline whose triggers match the event.
// Runs execute concurrently and independently; each gets its own
// environment.
func (s *Server) Dispatch(ctx context.Context, ev core.Event) []acceptedPipeline {
	s.mu.Lock()
	pipelines := s.pipelines
	s.mu.Unlock()

	accepted := make([]acceptedPipeline, 0)
	for _, p := range pipelines {
		if !p.On.Match(ev) {
			continue
		}
		accepted = append(accepted, acceptedPipeline{Pipeline: p.Name})
		s.wg.Add(1)
		go func(p *core.Pipeline) {
			defer s.wg.Done()
			s.executeRun(context.WithoutCancel(ctx), p, ev)
		}(p)
	}
	if len(accepted) == 0 {
		s.logger.Debug().Str("kind", string(ev.Kind)).Str("ref", ev.Ref).Msg("event matched no pipeline")
	}
	return accepted
}

func (s *Server) executeRun(ctx context.Context, p *core.Pipeline, ev core.Event) {
	prov, err := s.provider(p.Environment)
	if err != nil {
		s.logger.Error().Err(err).Str("pipeline", p.Name).Msg("cannot build provisioner")
		return
	}

	engine := core.NewEngine(prov,
		core.WithLogger(s.logger),
		core.WithLogSink(s.logs),
		core.WithStepTimeout(s.cfg.StepTimeout),
		core.WithRunObserver(s.recordRun),
	)
	run := engine.Execute(ctx, p, ev)

	if s.journal != nil {
		if _, err := s.journal.Append(run); err != nil {
			s.logger.Warn().Err(err).Str("run", run.ID).Msg("cannot journal run")
		}
	}
}

// recordRun stores a snapshot of the run; called when a run starts and
// again when it finishes.
func (s *Server) recordRun(run *core.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, known := s.runs[run.ID]; !known {
		s.order = append(s.order, run.ID)
	}
	s.runs[run.ID] = run
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]*core.Run, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.runs[id])
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	run, ok := s.runs[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleStepLog(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeError(w, http.StatusNotFound, "log storage disabled")
		return
	}
	out, err := s.logs.Read(chi.URLParam(r, "id"), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, http.StatusNotFound, "log not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleVerifyHistory(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	if err := s.journal.Verify(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "corrupt", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "records": s.journal.Len()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
