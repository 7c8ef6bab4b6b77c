package inventory

import (
	"testing"
)

func TestIdentifyHeuristic(t *testing.T) {
	procs := []Process{
		{PID: 100, Name: "postgres"},
		{PID: 101, Name: "postgres"},
		{PID: 200, Name: "nginx"},
		{PID: 300, Name: "some-custom-app"},
		{PID: 400, Name: "redis-server"},
	}

	systems := IdentifyHeuristic(procs)
	if len(systems) != 3 {
		t.Fatalf("expected 3 systems, got %d: %+v", len(systems), systems)
	}

	byName := make(map[string]System)
	for _, sys := range systems {
		byName[sys.Name] = sys
	}

	pg, ok := byName["PostgreSQL"]
	if !ok {
		t.Fatal("PostgreSQL not identified")
	}
	if len(pg.PIDs) != 2 {
		t.Errorf("expected both postgres PIDs grouped, got %v", pg.PIDs)
	}
	if pg.Kind != "database" {
		t.Errorf("unexpected kind %q", pg.Kind)
	}

	if _, ok := byName["Redis"]; !ok {
		t.Error("redis-server not matched by fragment")
	}
	if _, ok := byName["Nginx"]; !ok {
		t.Error("nginx not identified")
	}
}

func TestIdentifyHeuristicStableOrder(t *testing.T) {
	procs := []Process{
		{PID: 1, Name: "nginx"},
		{PID: 2, Name: "postgres"},
	}
	systems := IdentifyHeuristic(procs)
	if len(systems) != 2 {
		t.Fatalf("expected 2 systems, got %d", len(systems))
	}
	if systems[0].Name != "Nginx" || systems[1].Name != "PostgreSQL" {
		t.Errorf("identification order does not follow process order: %+v", systems)
	}
}

func TestIdentifyHeuristicNoMatches(t *testing.T) {
	systems := IdentifyHeuristic([]Process{{PID: 1, Name: "unknown-thing"}})
	if len(systems) != 0 {
		t.Errorf("expected no systems, got %+v", systems)
	}
}
