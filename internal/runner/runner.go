// Package runner executes background jobs server-side and publishes their
// progress as stream events.
package runner

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"opsatlas/internal/cache"
	"opsatlas/internal/database"
	"opsatlas/internal/graph"
	"opsatlas/internal/inventory"
	"opsatlas/internal/jobstream"
	"opsatlas/internal/logging"
	"opsatlas/internal/reasoning"
	"opsatlas/internal/telemetry"
)

// Feature names of the jobs the console can run
const (
	FeatureSystemDetection  = "system_detection"
	FeatureProcessDiscovery = "process_discovery"
	FeatureGraphRecompute   = "graph_recompute"
)

// GraphCacheKey is where the latest recomputed graph snapshot lives
const GraphCacheKey = "graph:latest"

// ValidFeature reports whether name is a known job feature
func ValidFeature(name string) bool {
	switch name {
	case FeatureSystemDetection, FeatureProcessDiscovery, FeatureGraphRecompute:
		return true
	}
	return false
}

// Emitter publishes job stream frames to connected observers
type Emitter interface {
	Publish(jobID, event string, payload interface{})
}

// progressPayload mirrors the job_progress frame body
type progressPayload struct {
	Status          string `json:"status,omitempty"`
	ProgressPct     *int   `json:"progress_pct,omitempty"`
	ProgressMessage string `json:"progress_message,omitempty"`
}

// donePayload mirrors the done frame body
type donePayload struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type job struct {
	ID      string
	Feature string
}

// Runner owns the job queue and the worker pool that drains it
type Runner struct {
	db         *sql.DB
	emitter    Emitter
	snapshot   *cache.Cache
	reasoner   *reasoning.Service    // nil means heuristic identification
	classifier *jobstream.Classifier // categorizes persisted progress messages

	jobQueue chan job
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a runner. reasoner may be nil; a nil classifier falls back
// to the built-in classification rules.
func New(db *sql.DB, emitter Emitter, snapshot *cache.Cache, reasoner *reasoning.Service, classifier *jobstream.Classifier) *Runner {
	if classifier == nil {
		classifier = jobstream.NewClassifier()
	}
	return &Runner{
		db:         db,
		emitter:    emitter,
		snapshot:   snapshot,
		reasoner:   reasoner,
		classifier: classifier,
		jobQueue:   make(chan job, 64),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the worker pool
func (r *Runner) Start(numWorkers int) {
	log.Printf("Starting job runner with %d workers", numWorkers)
	for i := 0; i < numWorkers; i++ {
		r.wg.Add(1)
		go r.processJobs(i)
	}
}

// Stop drains the pool and waits for in-flight jobs
func (r *Runner) Stop() {
	log.Println("Stopping job runner")
	close(r.stopCh)
	r.wg.Wait()
}

// Enqueue creates a job record for the feature and queues it for execution
func (r *Runner) Enqueue(feature string) (*database.Job, error) {
	if !ValidFeature(feature) {
		return nil, fmt.Errorf("unknown feature %q", feature)
	}

	id := uuid.NewString()
	if err := database.CreateJob(r.db, id, feature); err != nil {
		return nil, err
	}

	select {
	case r.jobQueue <- job{ID: id, Feature: feature}:
	default:
		_ = database.FinishJob(r.db, id, "failed", "job queue is full")
		return nil, fmt.Errorf("job queue is full")
	}

	return database.GetJob(r.db, id)
}

// processJobs is the main worker loop
func (r *Runner) processJobs(workerID int) {
	defer r.wg.Done()

	for {
		select {
		case j := <-r.jobQueue:
			log.Printf("Worker %d: processing %s job %s", workerID, j.Feature, j.ID)
			r.runJob(j)
		case <-r.stopCh:
			return
		}
	}
}

// runJob executes one job and guarantees a terminating done frame
func (r *Runner) runJob(j job) {
	ctx, span := telemetry.StartSpan(context.Background(), "runner."+j.Feature)
	defer span.End()
	telemetry.SetAttribute(span, "job.id", j.ID)

	var err error
	switch j.Feature {
	case FeatureSystemDetection:
		err = r.runSystemDetection(ctx, j.ID)
	case FeatureProcessDiscovery:
		err = r.runProcessDiscovery(ctx, j.ID)
	case FeatureGraphRecompute:
		err = r.runGraphRecompute(ctx, j.ID)
	}

	if err != nil {
		telemetry.RecordError(span, err)
		logging.Error("Job %s failed: %v", j.ID, err)
		if dbErr := database.FinishJob(r.db, j.ID, "failed", err.Error()); dbErr != nil {
			logging.Warning("Failed to record job failure: %v", dbErr)
		}
		r.emitter.Publish(j.ID, "done", donePayload{Status: "failed", Error: err.Error()})
		return
	}

	if dbErr := database.FinishJob(r.db, j.ID, "completed", ""); dbErr != nil {
		logging.Warning("Failed to record job completion: %v", dbErr)
	}
	r.emitter.Publish(j.ID, "done", donePayload{Status: "completed"})
}

// progress persists and publishes one progress step
func (r *Runner) progress(jobID, status string, pct int, message string) {
	if err := database.UpdateJobProgress(r.db, jobID, status, pct, message); err != nil {
		logging.Warning("Failed to persist progress for job %s: %v", jobID, err)
	}
	if message != "" {
		category := string(r.classifier.Classify(message))
		if err := database.AppendJobLog(r.db, jobID, message, pct, category); err != nil {
			logging.Warning("Failed to persist log for job %s: %v", jobID, err)
		}
	}

	payload := progressPayload{Status: status, ProgressPct: &pct, ProgressMessage: message}
	r.emitter.Publish(jobID, "job_progress", payload)
}

func (r *Runner) runSystemDetection(ctx context.Context, jobID string) error {
	r.progress(jobID, "running", 5, "Scanning systems...")

	info, err := inventory.Detect(ctx)
	if err != nil {
		return fmt.Errorf("system detection failed: %w", err)
	}
	r.progress(jobID, "running", 50, fmt.Sprintf("Context gathered: host %s (%s %s)", info.Hostname, info.Platform, info.PlatformVersion))

	vitals, err := inventory.GetVitals()
	if err != nil {
		return fmt.Errorf("vitals collection failed: %w", err)
	}
	r.progress(jobID, "running", 85, fmt.Sprintf("Identified host vitals: cpu %.0f%%, mem %.0f%%", vitals.CPUPercent, vitals.MemPercent))

	r.snapshot.Set("system:latest", info)
	r.progress(jobID, "running", 100, "Detection complete")
	return nil
}

func (r *Runner) runProcessDiscovery(ctx context.Context, jobID string) error {
	r.progress(jobID, "running", 5, "Scanning processes...")

	scan, err := inventory.ScanProcesses(ctx)
	if err != nil {
		return fmt.Errorf("process scan failed: %w", err)
	}
	if scan.Skipped > 0 {
		r.progress(jobID, "running", 30, fmt.Sprintf("Skipped %d unreadable processes", scan.Skipped))
	}
	r.progress(jobID, "running", 40, fmt.Sprintf("Context gathered: %d processes", len(scan.Processes)))

	var systems []inventory.System
	if r.reasoner != nil {
		r.progress(jobID, "running", 55, "Calling LLM for system analysis")
		systems, err = r.reasoner.IdentifySystems(ctx, scan.Processes)
		if err != nil {
			return fmt.Errorf("LLM call failed: %w", err)
		}
	} else {
		systems = inventory.IdentifyHeuristic(scan.Processes)
	}
	r.progress(jobID, "running", 85, fmt.Sprintf("Identified %d systems", len(systems)))

	r.snapshot.Set("processes:latest", scan)
	r.snapshot.Set("systems:latest", systems)
	r.progress(jobID, "running", 100, "Discovery complete")
	return nil
}

func (r *Runner) runGraphRecompute(ctx context.Context, jobID string) error {
	r.progress(jobID, "running", 5, "Scanning systems...")

	info, err := r.latestSystemInfo(ctx)
	if err != nil {
		return err
	}

	scan, systems, err := r.latestDiscovery(ctx)
	if err != nil {
		return err
	}
	r.progress(jobID, "running", 50, fmt.Sprintf("Context gathered: %d processes, %d systems", len(scan.Processes), len(systems)))

	r.progress(jobID, "running", 70, "Merging duplicate systems")
	g := graph.Build(info, systems, scan.Processes)
	if g.Merged > 0 {
		r.progress(jobID, "running", 80, fmt.Sprintf("Merged %d duplicate systems", g.Merged))
	}

	r.progress(jobID, "running", 90, "Creating graph nodes")
	r.snapshot.Set(GraphCacheKey, g)

	r.progress(jobID, "running", 100, "Discovery complete")
	return nil
}

// latestSystemInfo reuses a cached detection snapshot or collects a new one
func (r *Runner) latestSystemInfo(ctx context.Context) (*inventory.SystemInfo, error) {
	if cached, ok := r.snapshot.Get("system:latest"); ok {
		if info, ok := cached.(*inventory.SystemInfo); ok {
			return info, nil
		}
	}
	info, err := inventory.Detect(ctx)
	if err != nil {
		return nil, fmt.Errorf("system detection failed: %w", err)
	}
	r.snapshot.Set("system:latest", info)
	return info, nil
}

// latestDiscovery reuses cached discovery results or rescans
func (r *Runner) latestDiscovery(ctx context.Context) (*inventory.ScanResult, []inventory.System, error) {
	cachedScan, scanOK := r.snapshot.Get("processes:latest")
	cachedSystems, sysOK := r.snapshot.Get("systems:latest")
	if scanOK && sysOK {
		scan, ok1 := cachedScan.(*inventory.ScanResult)
		systems, ok2 := cachedSystems.([]inventory.System)
		if ok1 && ok2 {
			return scan, systems, nil
		}
	}

	scan, err := inventory.ScanProcesses(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("process scan failed: %w", err)
	}
	systems := inventory.IdentifyHeuristic(scan.Processes)
	r.snapshot.Set("processes:latest", scan)
	r.snapshot.Set("systems:latest", systems)
	return scan, systems, nil
}

// CleanupOldJobs removes finished jobs older than maxAge
func (r *Runner) CleanupOldJobs(maxAge time.Duration) {
	removed, err := database.CleanupOldJobs(r.db, maxAge)
	if err != nil {
		log.Printf("Failed to cleanup old jobs: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("Cleaned up %d old jobs", removed)
	}
}
