package health

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// RuntimeSample is the host-level portion of a unit's metrics: resource
// usage observed where the monitor runs, shared by every unit in the pass.
type RuntimeSample struct {
	MemoryUsage float64
	CPUUsage    float64
	DiskUsage   float64
	UptimeSec   float64
}

// RuntimeCollector produces one host sample per sampling pass.
type RuntimeCollector interface {
	Sample(ctx context.Context) (RuntimeSample, error)
}

// SystemCollector reads live memory, CPU, disk, and uptime figures from the
// host.
type SystemCollector struct {
	diskPath string
}

func NewSystemCollector() *SystemCollector {
	return &SystemCollector{diskPath: "/"}
}

func (c *SystemCollector) Sample(ctx context.Context) (RuntimeSample, error) {
	var s RuntimeSample

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("failed to read memory usage: %w", err)
	}
	s.MemoryUsage = vm.UsedPercent / 100

	// Interval 0 reports usage since the previous call instead of blocking.
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return s, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(percents) > 0 {
		s.CPUUsage = percents[0] / 100
	}

	du, err := disk.UsageWithContext(ctx, c.diskPath)
	if err != nil {
		return s, fmt.Errorf("failed to read disk usage: %w", err)
	}
	s.DiskUsage = du.UsedPercent / 100

	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return s, fmt.Errorf("failed to read host uptime: %w", err)
	}
	s.UptimeSec = float64(uptime)

	return s, nil
}

// StaticCollector returns a fixed sample. Used in tests and when host
// metrics are unavailable.
type StaticCollector struct {
	Value RuntimeSample
}

func (c *StaticCollector) Sample(ctx context.Context) (RuntimeSample, error) {
	return c.Value, nil
}
