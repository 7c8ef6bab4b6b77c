package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"opsatlas/internal/database"
	"opsatlas/internal/inventory"
	"opsatlas/internal/realtime"
	"opsatlas/internal/runner"
	"opsatlas/internal/version"
)

// jobResponse is the submit/status body the jobstream client decodes
type jobResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	ProgressPct int    `json:"progress_pct"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleSubmitJob creates and queues a job for a feature
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	feature := r.PathValue("feature")
	if !runner.ValidFeature(feature) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown feature %q", feature))
		return
	}

	job, err := s.runner.Enqueue(feature)
	if err != nil {
		log.Printf("Failed to enqueue %s job: %v", feature, err)
		writeError(w, http.StatusServiceUnavailable, "failed to start job")
		return
	}

	writeJSON(w, http.StatusOK, jobResponse{
		JobID:       job.ID,
		Status:      job.Status,
		ProgressPct: job.ProgressPct,
	})
}

// handleGetJob returns one job's current state
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := database.GetJob(s.db, r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{
		JobID:       job.ID,
		Status:      job.Status,
		ProgressPct: job.ProgressPct,
	})
}

// handleGetJobLogs returns a job's persisted progress messages
func (s *Server) handleGetJobLogs(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if _, err := database.GetJob(s.db, jobID); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	logs, err := database.GetJobLogs(s.db, jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job logs")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// handleListJobs returns recent jobs, newest first
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := database.ListRecentJobs(s.db, 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// handleJobEvents streams a job's progress as server-sent events. The
// current job record is replayed as the first frame so late subscribers
// start from the latest known state.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	job, err := database.GetJob(s.db, jobID)
	if err != nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := &streamClient{
		JobID:    jobID,
		Messages: make(chan string, 256),
	}
	s.hub.Register(jobID, client)
	defer s.hub.Unregister(jobID, client)

	// Re-read the record after registering so a job that finished in the
	// gap is replayed as terminal instead of leaving the stream waiting
	if fresh, err := database.GetJob(s.db, jobID); err == nil {
		job = fresh
	}

	// Replay the latest persisted state
	initial, _ := json.Marshal(map[string]interface{}{
		"status":           job.Status,
		"progress_pct":     job.ProgressPct,
		"progress_message": job.ProgressMessage,
	})
	fmt.Fprint(w, FormatFrame("job_progress", string(initial)))
	flusher.Flush()

	// A job that already finished gets its terminal frame immediately
	if job.Status == "completed" || job.Status == "failed" || job.Status == "cancelled" {
		final, _ := json.Marshal(struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}{Status: job.Status, Error: job.ErrorMessage})
		fmt.Fprint(w, FormatFrame("done", string(final)))
		flusher.Flush()
		return
	}

	for {
		select {
		case frame := <-client.Messages:
			fmt.Fprint(w, frame)
			flusher.Flush()
			if IsDoneFrame(frame) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// handleGetGraph returns the latest recomputed knowledge graph
func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	g, ok := s.snapshot.Get(runner.GraphCacheKey)
	if !ok {
		writeError(w, http.StatusNotFound, "no graph computed yet")
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// handleGetVitals returns current host resource usage
func (s *Server) handleGetVitals(w http.ResponseWriter, r *http.Request) {
	vitals, err := inventory.GetVitals()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to collect vitals")
		return
	}
	writeJSON(w, http.StatusOK, vitals)
}

// vitalsHistoryResponse is the recent-samples body plus summary fields
type vitalsHistoryResponse struct {
	Samples    []realtime.Sample `json:"samples"`
	AverageCPU float64           `json:"average_cpu"`
	Latest     *realtime.Sample  `json:"latest,omitempty"`
}

// handleGetVitalsHistory returns recent vitals samples for charting
func (s *Server) handleGetVitalsHistory(w http.ResponseWriter, r *http.Request) {
	window := 10 * time.Minute
	resp := vitalsHistoryResponse{
		Samples:    s.vitals.Recent(window),
		AverageCPU: s.vitals.AverageCPU(window),
	}
	if resp.Samples == nil {
		resp.Samples = []realtime.Sample{}
	}
	if latest, ok := s.vitals.Latest(); ok {
		resp.Latest = &latest
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleGetClassifierRules returns the active log classification rules
func (s *Server) handleGetClassifierRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.classifier.Rules())
}

// handleGetVersion returns build version information
func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}
