package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"opsatlas/internal/config"
	"opsatlas/internal/database"
	"opsatlas/internal/inventory"
	"opsatlas/internal/jobstream"
	"opsatlas/internal/realtime"
	"opsatlas/internal/runner"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	cfg := &config.Config{
		ListenAddr:        ":0",
		DatabasePath:      filepath.Join(t.TempDir(), "test.db"),
		RecomputeSchedule: "0 3 * * *",
	}
	// Load() normally fills this; tests construct the config directly
	cfg.JobRetention.Duration = 24 * time.Hour

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(s.Shutdown)

	// Seed snapshots so graph recompute needs no live host scan
	s.snapshot.Set("system:latest", &inventory.SystemInfo{Hostname: "node-1", Platform: "debian", OS: "linux"})
	s.snapshot.Set("processes:latest", &inventory.ScanResult{Processes: []inventory.Process{
		{PID: 100, Name: "postgres"},
	}})
	s.snapshot.Set("systems:latest", []inventory.System{
		{Name: "PostgreSQL", Kind: "database", PIDs: []int32{100}},
	})

	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)
	return s, srv
}

func TestSubmitUnknownFeature(t *testing.T) {
	_, srv := testServer(t)

	resp, err := http.Post(srv.URL+"/api/jobs/bogus_feature", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSubmitReturnsJobIdentity(t *testing.T) {
	_, srv := testServer(t)

	resp, err := http.Post(srv.URL+"/api/jobs/graph_recompute", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.JobID == "" {
		t.Error("no job id returned")
	}
}

// Full round trip: submit through the jobstream monitor and watch the
// stream to completion.
func TestJobStreamRoundTrip(t *testing.T) {
	_, srv := testServer(t)

	monitor := jobstream.NewMonitor(jobstream.NewClient(srv.URL), runner.FeatureGraphRecompute, nil)
	session, err := monitor.Start(context.Background())
	if err != nil {
		t.Fatalf("monitor start failed: %v", err)
	}
	defer session.Cancel()

	select {
	case <-session.Done():
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for job stream to finish")
	}

	snap := session.State()
	if snap.Status != jobstream.StatusCompleted {
		t.Fatalf("expected completed, got %q (stream err: %v)", snap.Status, session.StreamErr())
	}
	if snap.ProgressPct != 100 {
		t.Errorf("expected 100%%, got %d", snap.ProgressPct)
	}

	// The classified timeline contains the recompute vocabulary
	var sawMerge, sawDone bool
	for _, entry := range snap.Log {
		if entry.Category == jobstream.CategoryMerge {
			sawMerge = true
		}
		if entry.Category == jobstream.CategoryDone {
			sawDone = true
		}
	}
	if !sawMerge || !sawDone {
		t.Errorf("timeline missing expected categories: %+v", snap.Log)
	}
}

func TestJobEventsForUnknownJob(t *testing.T) {
	_, srv := testServer(t)

	resp, err := http.Get(srv.URL + "/api/jobs/no-such-job/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

// A subscriber arriving after the job finished still gets a terminal frame.
func TestJobEventsReplayForFinishedJob(t *testing.T) {
	s, srv := testServer(t)

	job, err := s.runner.Enqueue(runner.FeatureGraphRecompute)
	if err != nil {
		t.Fatal(err)
	}

	// Wait for the job record to reach a terminal state
	deadline := time.After(15 * time.Second)
	for {
		resp, err := http.Get(srv.URL + "/api/jobs/" + job.ID)
		if err != nil {
			t.Fatal(err)
		}
		var body jobResponse
		json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if body.Status == "completed" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never completed, last status %q", body.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}

	done := make(chan jobstream.Event, 1)
	closed := make(chan struct{})
	cancel := jobstream.Subscribe(context.Background(), srv.Client(),
		srv.URL+"/api/jobs/"+job.ID+"/events", jobstream.Handlers{
			OnMessage: func(ev jobstream.Event) {
				if ev.Kind == jobstream.EventDone {
					select {
					case done <- ev:
					default:
					}
				}
			},
			OnClose: func() { close(closed) },
		})
	defer cancel()

	select {
	case ev := <-done:
		if ev.Payload.Status != "completed" {
			t.Errorf("unexpected replayed terminal status %q", ev.Payload.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal frame replayed")
	}

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not close after terminal frame")
	}
}

// Rule overrides from the configured YAML file must reach both the rules
// endpoint and the categories persisted with job logs.
func TestClassifierRulesFromConfig(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	rules := "- category: error\n  keywords: [\"failed\"]\n- category: result\n  keywords: [\"merging\", \"scanning\", \"context\", \"complete\", \"creating\"]\n"
	if err := os.WriteFile(rulesPath, []byte(rules), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		ListenAddr:          ":0",
		DatabasePath:        filepath.Join(t.TempDir(), "test.db"),
		RecomputeSchedule:   "0 3 * * *",
		ClassifierRulesPath: rulesPath,
	}
	cfg.JobRetention.Duration = 24 * time.Hour

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	t.Cleanup(s.Shutdown)
	s.snapshot.Set("system:latest", &inventory.SystemInfo{Hostname: "node-1", Platform: "debian", OS: "linux"})
	s.snapshot.Set("processes:latest", &inventory.ScanResult{Processes: []inventory.Process{
		{PID: 100, Name: "postgres"},
	}})
	s.snapshot.Set("systems:latest", []inventory.System{
		{Name: "PostgreSQL", Kind: "database", PIDs: []int32{100}},
	})
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/classifier/rules")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var active []jobstream.Rule
	if err := json.NewDecoder(resp.Body).Decode(&active); err != nil {
		t.Fatal(err)
	}
	if len(active) != 2 || active[0].Category != jobstream.CategoryError || active[1].Category != jobstream.CategoryResult {
		t.Fatalf("unexpected active rules: %+v", active)
	}

	job, err := s.runner.Enqueue(runner.FeatureGraphRecompute)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.After(15 * time.Second)
	for {
		rec, err := database.GetJob(s.db, job.ID)
		if err != nil {
			t.Fatal(err)
		}
		if rec.Status == "completed" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("job never completed, last status %q", rec.Status)
		case <-time.After(20 * time.Millisecond):
		}
	}

	logs, err := database.GetJobLogs(s.db, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) == 0 {
		t.Fatal("no job logs persisted")
	}
	for _, entry := range logs {
		if entry.Category != "result" {
			t.Errorf("message %q classified as %q under override rules", entry.Message, entry.Category)
		}
	}
}

func TestBadClassifierRulesFileRejected(t *testing.T) {
	rulesPath := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(rulesPath, []byte("- category: error\n  keywords: []\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		ListenAddr:          ":0",
		DatabasePath:        filepath.Join(t.TempDir(), "test.db"),
		RecomputeSchedule:   "0 3 * * *",
		ClassifierRulesPath: rulesPath,
	}
	cfg.JobRetention.Duration = 24 * time.Hour

	if _, err := New(cfg); err == nil {
		t.Fatal("server accepted a rules file with an empty keyword list")
	}
}

func TestVitalsHistorySummary(t *testing.T) {
	s, srv := testServer(t)

	now := time.Now()
	s.vitals.Add(realtime.Sample{Time: now.Add(-2 * time.Second), CPUPercent: 10, MemPercent: 40})
	s.vitals.Add(realtime.Sample{Time: now.Add(-1 * time.Second), CPUPercent: 30, MemPercent: 60})

	resp, err := http.Get(srv.URL + "/api/system/vitals/history")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body vitalsHistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(body.Samples))
	}
	if body.AverageCPU != 20 {
		t.Errorf("expected average cpu 20, got %v", body.AverageCPU)
	}
	if body.Latest == nil || body.Latest.CPUPercent != 30 {
		t.Errorf("unexpected latest sample: %+v", body.Latest)
	}
}

func TestGetGraphBeforeRecompute(t *testing.T) {
	cfg := &config.Config{
		ListenAddr:        ":0",
		DatabasePath:      filepath.Join(t.TempDir(), "empty.db"),
		RecomputeSchedule: "0 3 * * *",
	}
	cfg.JobRetention.Duration = 24 * time.Hour

	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Shutdown)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/graph")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 before any recompute, got %d", resp.StatusCode)
	}
}
