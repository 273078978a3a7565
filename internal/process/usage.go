package process

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	psprocess "github.com/shirou/gopsutil/v4/process"
)

// Usage is the resource use of one process.
type Usage struct {
	CPUPercent float64 `json:"cpu_percent" doc:"CPU use since the process started, 100 per core"`
	RSSBytes   uint64  `json:"rss_bytes" doc:"Resident set size"`
}

// HostUsage is machine-wide resource use.
type HostUsage struct {
	CPUPercent    float64 `json:"cpu_percent" doc:"CPU use across all cores since the previous sample"`
	MemoryPercent float64 `json:"memory_percent" doc:"Used memory"`
	MemoryTotal   uint64  `json:"memory_total" doc:"Total memory in bytes"`
}

// ProcessUsage samples the resource use of pid.
func ProcessUsage(ctx context.Context, pid int) (Usage, error) {
	p, err := psprocess.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return Usage{}, err
	}
	cpuPercent, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		return Usage{}, err
	}
	memInfo, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return Usage{}, err
	}
	return Usage{CPUPercent: cpuPercent, RSSBytes: memInfo.RSS}, nil
}

// Host samples machine-wide CPU and memory use.
func Host(ctx context.Context) (HostUsage, error) {
	// A zero interval compares against the previous call.
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return HostUsage{}, err
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return HostUsage{}, err
	}
	usage := HostUsage{MemoryPercent: vm.UsedPercent, MemoryTotal: vm.Total}
	if len(percents) > 0 {
		usage.CPUPercent = percents[0]
	}
	return usage, nil
}

// ListWithUsage is List with per-process usage filled in where it can be
// sampled.
func (r *Registry) ListWithUsage(ctx context.Context) []Info {
	infos := r.List()
	for i := range infos {
		if infos[i].PID == 0 || infos[i].State != StateRunning {
			continue
		}
		usage, err := ProcessUsage(ctx, infos[i].PID)
		if err != nil {
			r.logger.Debug("Failed to sample process usage", "id", infos[i].ID, "error", err)
			continue
		}
		infos[i].Usage = &usage
	}
	return infos
}
