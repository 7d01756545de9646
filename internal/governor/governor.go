// Package governor samples memory and CPU pressure and derives a safe
// concurrency budget for the level executor. Every decision is made from
// a fresh snapshot; nothing is cached between calls.
package governor

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"kiln/internal/logging"
)

// Snapshot captures resource pressure at a single point in time.
type Snapshot struct {
	HeapUsedMB      int     `json:"heap_used_mb"`
	RSSMB           int     `json:"rss_mb"`
	FreeSystemMB    int     `json:"free_system_mb"`
	TotalSystemMB   int     `json:"total_system_mb"`
	SystemMemoryPct float64 `json:"system_memory_pct"` // 0-100, 0 when unknown
	LoadAvg1m       float64 `json:"load_avg_1m"`
	CPUCount        int     `json:"cpu_count"`
}

// Governor derives concurrency budgets from resource snapshots.
type Governor struct {
	MemThresholdPct        float64 // Default 85
	CPUThresholdMultiplier float64 // Default 0.8

	// Overridable for tests.
	snapshotFn func() Snapshot
}

// New creates a governor with the given thresholds. Zero values fall back
// to the documented defaults.
func New(memThresholdPct, cpuThresholdMultiplier float64) *Governor {
	if memThresholdPct <= 0 {
		memThresholdPct = 85
	}
	if cpuThresholdMultiplier <= 0 {
		cpuThresholdMultiplier = 0.8
	}
	return &Governor{
		MemThresholdPct:        memThresholdPct,
		CPUThresholdMultiplier: cpuThresholdMultiplier,
	}
}

// Snapshot returns a freshly computed resource snapshot.
func (g *Governor) Snapshot() Snapshot {
	if g.snapshotFn != nil {
		return g.snapshotFn()
	}
	return TakeSnapshot()
}

// TakeSnapshot samples process and system resource usage. System-wide
// figures come from /proc and read as zero on platforms without it;
// zero means "unknown" and never triggers a penalty.
func TakeSnapshot() Snapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	snap := Snapshot{
		HeapUsedMB: int(m.HeapAlloc / 1024 / 1024),
		CPUCount:   runtime.NumCPU(),
	}

	snap.RSSMB = readRSSMB()
	snap.FreeSystemMB, snap.TotalSystemMB = readSystemMemoryMB()
	if snap.TotalSystemMB > 0 {
		used := snap.TotalSystemMB - snap.FreeSystemMB
		snap.SystemMemoryPct = 100 * float64(used) / float64(snap.TotalSystemMB)
	}
	snap.LoadAvg1m = readLoadAvg1m()

	return snap
}

// MaxSafeAgents derives the concurrency budget from a fresh snapshot.
// Base budget is floor(cpus * 0.75). Memory pressure above the threshold
// halves it; otherwise load pressure cuts it by 25%. The two penalties
// never stack (memory wins). The result is always at least 1.
func (g *Governor) MaxSafeAgents() int {
	snap := g.Snapshot()

	budget := snap.CPUCount * 3 / 4

	switch {
	case snap.SystemMemoryPct > g.MemThresholdPct:
		budget /= 2
		logging.Governor("memory pressure %.1f%% > %.1f%%: budget halved to %d",
			snap.SystemMemoryPct, g.MemThresholdPct, budget)
	case snap.LoadAvg1m > float64(snap.CPUCount)*g.CPUThresholdMultiplier:
		budget = budget * 3 / 4
		logging.Governor("load %.2f > %.2f: budget cut to %d",
			snap.LoadAvg1m, float64(snap.CPUCount)*g.CPUThresholdMultiplier, budget)
	}

	if budget < 1 {
		budget = 1
	}

	logging.GovernorDebug("snapshot heap=%dMB rss=%dMB sysmem=%.1f%% load=%.2f cpus=%d budget=%d",
		snap.HeapUsedMB, snap.RSSMB, snap.SystemMemoryPct, snap.LoadAvg1m, snap.CPUCount, budget)

	return budget
}

// String renders the snapshot for diagnostics.
func (s Snapshot) String() string {
	return fmt.Sprintf("heap=%dMB rss=%dMB free=%dMB/%dMB (%.1f%%) load=%.2f cpus=%d",
		s.HeapUsedMB, s.RSSMB, s.FreeSystemMB, s.TotalSystemMB, s.SystemMemoryPct, s.LoadAvg1m, s.CPUCount)
}

// readRSSMB reads resident set size from /proc/self/status.
func readRSSMB() int {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "VmRSS:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if kb, err := strconv.Atoi(fields[1]); err == nil {
					return kb / 1024
				}
			}
		}
	}
	return 0
}

// readSystemMemoryMB reads MemAvailable and MemTotal from /proc/meminfo.
func readSystemMemoryMB() (freeMB, totalMB int) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalMB = kb / 1024
		case "MemAvailable:":
			freeMB = kb / 1024
		}
	}
	return freeMB, totalMB
}

// readLoadAvg1m reads the 1-minute load average from /proc/loadavg.
func readLoadAvg1m() float64 {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return load
}
