// Package inventory collects host facts: system detection snapshots,
// running processes, and their identification into logical systems.
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo is the result of a system detection run
type SystemInfo struct {
	Hostname        string    `json:"hostname"`
	OS              string    `json:"os"`
	Platform        string    `json:"platform"`
	PlatformVersion string    `json:"platform_version"`
	KernelVersion   string    `json:"kernel_version"`
	CPUModel        string    `json:"cpu_model"`
	CPUCores        int       `json:"cpu_cores"`
	MemoryTotalMB   uint64    `json:"memory_total_mb"`
	DiskTotalGB     uint64    `json:"disk_total_gb"`
	UptimeSeconds   uint64    `json:"uptime_seconds"`
	CollectedAt     time.Time `json:"collected_at"`
}

// Detect gathers a detection snapshot of the host
func Detect(ctx context.Context) (*SystemInfo, error) {
	hostInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get host info: %w", err)
	}

	info := &SystemInfo{
		Hostname:        hostInfo.Hostname,
		OS:              hostInfo.OS,
		Platform:        hostInfo.Platform,
		PlatformVersion: hostInfo.PlatformVersion,
		KernelVersion:   hostInfo.KernelVersion,
		UptimeSeconds:   hostInfo.Uptime,
		CollectedAt:     time.Now(),
	}

	if cpuInfos, err := cpu.InfoWithContext(ctx); err == nil && len(cpuInfos) > 0 {
		info.CPUModel = cpuInfos[0].ModelName
	}
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUCores = cores
	}
	if memStat, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryTotalMB = memStat.Total / 1024 / 1024
	}
	if diskStat, err := disk.UsageWithContext(ctx, "/"); err == nil {
		info.DiskTotalGB = diskStat.Total / 1024 / 1024 / 1024
	}

	return info, nil
}
