package inventory

import (
	"context"
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// Process is one discovered running process
type Process struct {
	PID        int32   `json:"pid"`
	Name       string  `json:"name"`
	Cmdline    string  `json:"cmdline"`
	Username   string  `json:"username"`
	CPUPercent float64 `json:"cpu_percent"`
	MemPercent float32 `json:"mem_percent"`
}

// ScanResult holds a process discovery pass
type ScanResult struct {
	Processes []Process `json:"processes"`
	Skipped   int       `json:"skipped"`
}

// ScanProcesses discovers the processes currently running on the host.
// Individual processes that disappear or deny access mid-scan are counted
// as skipped rather than failing the scan.
func ScanProcesses(ctx context.Context) (*ScanResult, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	result := &ScanResult{}
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			result.Skipped++
			continue
		}

		entry := Process{PID: p.Pid, Name: name}
		if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
			entry.Cmdline = cmdline
		}
		if username, err := p.UsernameWithContext(ctx); err == nil {
			entry.Username = username
		}
		if cpuPct, err := p.CPUPercentWithContext(ctx); err == nil {
			entry.CPUPercent = cpuPct
		}
		if memPct, err := p.MemoryPercentWithContext(ctx); err == nil {
			entry.MemPercent = memPct
		}

		result.Processes = append(result.Processes, entry)
	}

	return result, nil
}

// System is a logical system identified from a set of processes, either by
// the LLM step or heuristically.
type System struct {
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	PIDs       []int32 `json:"pids"`
	Confidence float64 `json:"confidence"`
}

// knownSystems maps process-name fragments to the system they indicate
var knownSystems = []struct {
	fragment string
	name     string
	kind     string
}{
	{"postgres", "PostgreSQL", "database"},
	{"mysqld", "MySQL", "database"},
	{"redis", "Redis", "cache"},
	{"mongod", "MongoDB", "database"},
	{"nginx", "Nginx", "web-server"},
	{"apache2", "Apache", "web-server"},
	{"httpd", "Apache", "web-server"},
	{"caddy", "Caddy", "web-server"},
	{"dockerd", "Docker", "container-runtime"},
	{"containerd", "containerd", "container-runtime"},
	{"kafka", "Kafka", "message-broker"},
	{"rabbitmq", "RabbitMQ", "message-broker"},
	{"elasticsearch", "Elasticsearch", "search"},
	{"prometheus", "Prometheus", "monitoring"},
	{"grafana", "Grafana", "monitoring"},
	{"sshd", "OpenSSH", "remote-access"},
}

// IdentifyHeuristic groups processes into known systems by name matching.
// Used when no LLM is configured.
func IdentifyHeuristic(procs []Process) []System {
	byName := make(map[string]*System)
	var order []string

	for _, proc := range procs {
		lower := strings.ToLower(proc.Name)
		for _, known := range knownSystems {
			if !strings.Contains(lower, known.fragment) {
				continue
			}
			sys, ok := byName[known.name]
			if !ok {
				sys = &System{Name: known.name, Kind: known.kind, Confidence: 0.9}
				byName[known.name] = sys
				order = append(order, known.name)
			}
			sys.PIDs = append(sys.PIDs, proc.PID)
			break
		}
	}

	systems := make([]System, 0, len(order))
	for _, name := range order {
		systems = append(systems, *byName[name])
	}
	return systems
}
