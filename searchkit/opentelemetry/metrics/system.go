package metrics

import (
	"context"
	"time"

	"github.com/LerianStudio/lib-searchkit/searchkit/log"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// Pre-configured system metrics for infrastructure monitoring.
var (
	// MetricSystemCPUUsage is a gauge that records the current CPU usage percentage.
	MetricSystemCPUUsage = Metric{
		Name:        "system.cpu.usage",
		Unit:        "percentage",
		Description: "Current CPU usage percentage of the process host.",
	}

	// MetricSystemMemUsage is a gauge that records the current memory usage percentage.
	MetricSystemMemUsage = Metric{
		Name:        "system.mem.usage",
		Unit:        "percentage",
		Description: "Current memory usage percentage of the process host.",
	}
)

const cpuSampleWindow = 100 * time.Millisecond

// RecordSystemCPUUsage records the current CPU usage percentage via the factory's gauge.
func (f *MetricsFactory) RecordSystemCPUUsage(ctx context.Context, percentage int64) error {
	b, err := f.Gauge(MetricSystemCPUUsage)
	if err != nil {
		return err
	}

	return b.Set(ctx, percentage)
}

// RecordSystemMemUsage records the current memory usage percentage via the factory's gauge.
func (f *MetricsFactory) RecordSystemMemUsage(ctx context.Context, percentage int64) error {
	b, err := f.Gauge(MetricSystemMemUsage)
	if err != nil {
		return err
	}

	return b.Set(ctx, percentage)
}

// SampleSystemUsage reads host CPU and memory usage once and records both
// gauges. Read failures are logged and recorded as zero.
func (f *MetricsFactory) SampleSystemUsage(ctx context.Context) {
	var cpuPercent, memPercent int64

	if out, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false); err != nil {
		f.logger.Log(ctx, log.LevelWarn, "error getting CPU usage", log.Err(err))
	} else if len(out) > 0 {
		cpuPercent = int64(out[0])
	}

	if out, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		f.logger.Log(ctx, log.LevelWarn, "error getting memory info", log.Err(err))
	} else {
		memPercent = int64(out.UsedPercent)
	}

	if err := f.RecordSystemCPUUsage(ctx, cpuPercent); err != nil {
		f.logger.Log(ctx, log.LevelWarn, "error recording CPU gauge", log.Err(err))
	}

	if err := f.RecordSystemMemUsage(ctx, memPercent); err != nil {
		f.logger.Log(ctx, log.LevelWarn, "error recording memory gauge", log.Err(err))
	}
}

// RunSystemSampler samples host usage every interval until ctx is done.
func (f *MetricsFactory) RunSystemSampler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		f.SampleSystemUsage(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
