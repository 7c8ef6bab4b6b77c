// Package server exposes the console's HTTP API: job submission, per-job
// progress streams, and snapshot endpoints.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"opsatlas/internal/cache"
	"opsatlas/internal/config"
	"opsatlas/internal/database"
	"opsatlas/internal/jobstream"
	"opsatlas/internal/logging"
	"opsatlas/internal/realtime"
	"opsatlas/internal/reasoning"
	"opsatlas/internal/runner"
)

// Server wires the database, job runner, stream hub, and schedules
type Server struct {
	config     *config.Config
	db         *sql.DB
	hub        *Hub
	runner     *runner.Runner
	snapshot   *cache.Cache
	vitals     *realtime.History
	classifier *jobstream.Classifier
	cron       *cron.Cron
	httpSrv    *http.Server
}

// New creates a server instance from configuration
func New(cfg *config.Config) (*Server, error) {
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	s := &Server{
		config:   cfg,
		db:       db,
		hub:      NewHub(),
		snapshot: cache.New(30 * time.Minute),
		vitals:   realtime.NewHistory(10 * time.Minute),
	}

	s.classifier = jobstream.NewClassifier()
	if cfg.ClassifierRulesPath != "" {
		rules, err := jobstream.LoadRules(cfg.ClassifierRulesPath)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to load classifier rules from %s: %w", cfg.ClassifierRulesPath, err)
		}
		s.classifier = jobstream.NewClassifierWithRules(rules)
		logging.Info("Loaded %d classifier rules from %s", len(rules), cfg.ClassifierRulesPath)
	}

	var reasoner *reasoning.Service
	if cfg.LLM.APIKey != "" {
		reasoner, err = reasoning.NewService(reasoning.Config{
			APIKey: cfg.LLM.APIKey,
			APIURL: cfg.LLM.APIURL,
			Model:  cfg.LLM.Model,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize LLM service: %w", err)
		}
		logging.Info("LLM-assisted discovery enabled")
	}

	s.runner = runner.New(db, s.hub, s.snapshot, reasoner, s.classifier)
	s.runner.Start(2)

	if err := s.startSchedules(); err != nil {
		s.runner.Stop()
		db.Close()
		return nil, err
	}

	return s, nil
}

// startSchedules registers the cron-driven background work: the nightly
// graph recompute and hourly cleanup of old job records.
func (s *Server) startSchedules() error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(s.config.RecomputeSchedule, func() {
		if _, err := s.runner.Enqueue(runner.FeatureGraphRecompute); err != nil {
			log.Printf("Scheduled graph recompute failed to enqueue: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("invalid recompute schedule %q: %w", s.config.RecomputeSchedule, err)
	}

	if _, err := s.cron.AddFunc("@hourly", func() {
		s.runner.CleanupOldJobs(s.config.JobRetentionDuration())
	}); err != nil {
		return fmt.Errorf("failed to register cleanup schedule: %w", err)
	}

	if _, err := s.cron.AddFunc("@daily", func() {
		if err := logging.Rotate(s.config.LogDir); err != nil {
			logging.Warning("Log rotation failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to register log rotation schedule: %w", err)
	}

	s.cron.Start()
	return nil
}

// Routes returns the API handler
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs/{feature}", s.handleSubmitJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /api/jobs/{id}/events", s.handleJobEvents)
	mux.HandleFunc("GET /api/jobs/{id}/logs", s.handleGetJobLogs)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/graph", s.handleGetGraph)
	mux.HandleFunc("GET /api/system/vitals", s.handleGetVitals)
	mux.HandleFunc("GET /api/system/vitals/history", s.handleGetVitalsHistory)
	mux.HandleFunc("GET /api/classifier/rules", s.handleGetClassifierRules)
	mux.HandleFunc("GET /api/version", s.handleGetVersion)
	return mux
}

// ListenAndServe runs the HTTP server until the context is cancelled
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    s.config.ListenAddr,
		Handler: s.Routes(),
	}

	collectCtx, stopCollect := context.WithCancel(ctx)
	defer stopCollect()
	go s.vitals.Collect(collectCtx, 10*time.Second)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", s.config.ListenAddr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// Shutdown releases all server resources
func (s *Server) Shutdown() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.runner != nil {
		s.runner.Stop()
	}
	if s.snapshot != nil {
		s.snapshot.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}
