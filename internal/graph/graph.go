// Package graph builds and recomputes the knowledge graph of hosts,
// identified systems, and the processes that back them.
package graph

import (
	"fmt"
	"strings"
	"time"

	"opsatlas/internal/inventory"
)

// Node kinds
const (
	KindHost    = "host"
	KindSystem  = "system"
	KindProcess = "process"
)

// Edge kinds
const (
	EdgeRuns      = "runs"       // host -> system
	EdgeBelongsTo = "belongs_to" // process -> system
	EdgeHosts     = "hosts"      // host -> process (unidentified)
)

// Node is one vertex of the knowledge graph
type Node struct {
	ID    string            `json:"id"`
	Kind  string            `json:"kind"`
	Label string            `json:"label"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Edge is one directed relation between two nodes
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// Graph is a recomputed knowledge-graph snapshot
type Graph struct {
	Nodes      []Node    `json:"nodes"`
	Edges      []Edge    `json:"edges"`
	Merged     int       `json:"merged"`
	ComputedAt time.Time `json:"computed_at"`
}

// Build folds a detection snapshot, identified systems, and discovered
// processes into a graph. Systems whose normalized names collide are
// merged into a single node; Merged counts the collapsed duplicates.
func Build(host *inventory.SystemInfo, systems []inventory.System, procs []inventory.Process) *Graph {
	g := &Graph{ComputedAt: time.Now()}

	hostID := "host:" + host.Hostname
	g.Nodes = append(g.Nodes, Node{
		ID:    hostID,
		Kind:  KindHost,
		Label: host.Hostname,
		Attrs: map[string]string{
			"platform": host.Platform,
			"os":       host.OS,
		},
	})

	// Merge duplicate systems by normalized name
	merged := make(map[string]*inventory.System)
	var order []string
	for _, sys := range systems {
		key := normalizeName(sys.Name)
		if existing, ok := merged[key]; ok {
			existing.PIDs = append(existing.PIDs, sys.PIDs...)
			if sys.Confidence > existing.Confidence {
				existing.Confidence = sys.Confidence
			}
			g.Merged++
			continue
		}
		clone := sys
		merged[key] = &clone
		order = append(order, key)
	}

	pidToSystem := make(map[int32]string)
	for _, key := range order {
		sys := merged[key]
		sysID := "system:" + key
		g.Nodes = append(g.Nodes, Node{
			ID:    sysID,
			Kind:  KindSystem,
			Label: sys.Name,
			Attrs: map[string]string{
				"kind":       sys.Kind,
				"confidence": fmt.Sprintf("%.2f", sys.Confidence),
			},
		})
		g.Edges = append(g.Edges, Edge{From: hostID, To: sysID, Kind: EdgeRuns})
		for _, pid := range sys.PIDs {
			pidToSystem[pid] = sysID
		}
	}

	for _, proc := range procs {
		procID := fmt.Sprintf("process:%d", proc.PID)
		g.Nodes = append(g.Nodes, Node{
			ID:    procID,
			Kind:  KindProcess,
			Label: proc.Name,
			Attrs: map[string]string{"user": proc.Username},
		})
		if sysID, ok := pidToSystem[proc.PID]; ok {
			g.Edges = append(g.Edges, Edge{From: procID, To: sysID, Kind: EdgeBelongsTo})
		} else {
			g.Edges = append(g.Edges, Edge{From: hostID, To: procID, Kind: EdgeHosts})
		}
	}

	return g
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
