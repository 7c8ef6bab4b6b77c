package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"opsatlas/internal/inventory"
)

func testProcs() []inventory.Process {
	return []inventory.Process{
		{PID: 100, Name: "postgres"},
		{PID: 101, Name: "postgres"},
		{PID: 200, Name: "nginx"},
	}
}

// llmServer returns a chat-completions stub that always answers with content
func llmServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}
		response := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(response)
	}))
}

func newTestService(t *testing.T, url string) *Service {
	t.Helper()
	svc, err := NewService(Config{APIKey: "test-key", APIURL: url})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return svc
}

func TestNewServiceRequiresAPIKey(t *testing.T) {
	if _, err := NewService(Config{}); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestIdentifySystems(t *testing.T) {
	content := `{"systems":[{"name":"PostgreSQL","kind":"database","pids":[100,101],"confidence":0.95}]}`
	srv := llmServer(t, content)
	defer srv.Close()

	svc := newTestService(t, srv.URL)
	systems, err := svc.IdentifySystems(context.Background(), testProcs())
	if err != nil {
		t.Fatalf("IdentifySystems failed: %v", err)
	}
	if len(systems) != 1 {
		t.Fatalf("expected 1 system, got %d", len(systems))
	}
	if systems[0].Name != "PostgreSQL" || len(systems[0].PIDs) != 2 {
		t.Errorf("unexpected system %+v", systems[0])
	}
}

func TestIdentifySystemsStripsMarkdownFences(t *testing.T) {
	content := "```json\n{\"systems\":[{\"name\":\"Nginx\",\"kind\":\"web-server\",\"pids\":[200],\"confidence\":0.9}]}\n```"
	srv := llmServer(t, content)
	defer srv.Close()

	svc := newTestService(t, srv.URL)
	systems, err := svc.IdentifySystems(context.Background(), testProcs())
	if err != nil {
		t.Fatalf("IdentifySystems failed: %v", err)
	}
	if len(systems) != 1 || systems[0].Name != "Nginx" {
		t.Errorf("unexpected result %+v", systems)
	}
}

func TestIdentifySystemsDiscardsHallucinatedPIDs(t *testing.T) {
	content := `{"systems":[
		{"name":"PostgreSQL","kind":"database","pids":[100,99999],"confidence":0.9},
		{"name":"Phantom","kind":"other","pids":[55555],"confidence":0.5}
	]}`
	srv := llmServer(t, content)
	defer srv.Close()

	svc := newTestService(t, srv.URL)
	systems, err := svc.IdentifySystems(context.Background(), testProcs())
	if err != nil {
		t.Fatalf("IdentifySystems failed: %v", err)
	}
	if len(systems) != 1 {
		t.Fatalf("system with only invalid PIDs must be dropped, got %+v", systems)
	}
	if len(systems[0].PIDs) != 1 || systems[0].PIDs[0] != 100 {
		t.Errorf("invalid PID not discarded: %v", systems[0].PIDs)
	}
}

func TestIdentifySystemsRejectsBadConfidence(t *testing.T) {
	content := `{"systems":[{"name":"X","kind":"other","pids":[100],"confidence":1.5}]}`
	srv := llmServer(t, content)
	defer srv.Close()

	svc := newTestService(t, srv.URL)
	if _, err := svc.IdentifySystems(context.Background(), testProcs()); err == nil {
		t.Fatal("expected validation error for confidence > 1")
	}
}

func TestIdentifySystemsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"rate limited"}}`)
	}))
	defer srv.Close()

	svc := newTestService(t, srv.URL)
	if _, err := svc.IdentifySystems(context.Background(), testProcs()); err == nil {
		t.Fatal("expected error from API failure")
	}
}
