package util

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Platform     string `json:"platform"`
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
}

// GetSystemInfo gathers system information.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Platform:     runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
}

// ProcessUsage is the resource footprint of the running server process.
type ProcessUsage struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSSMB      uint64  `json:"rss_mb"`
	Goroutines int     `json:"goroutines"`
}

// GetProcessUsage reports CPU and resident memory of this process.
func GetProcessUsage() (*ProcessUsage, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect own process: %w", err)
	}

	usage := &ProcessUsage{Goroutines: runtime.NumGoroutine()}

	if pct, err := proc.CPUPercent(); err == nil {
		usage.CPUPercent = pct
	}
	if memInfo, err := proc.MemoryInfo(); err == nil {
		usage.RSSMB = memInfo.RSS / (1024 * 1024)
	}

	return usage, nil
}
