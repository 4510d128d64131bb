package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
)

var meter = otel.Meter("siteadapters.perf_stats")
var cpuGauge, _ = meter.Float64Gauge("cpu_usage")
var memoryGauge, _ = meter.Int64Gauge("allocated_mb")
var goroutineGauge, _ = meter.Int64Gauge("goroutine_count")

type PerfStats struct {
	CpuPercent  float64
	AllocatedMb int64
	Goroutines  int64
}

// ReadPerfStats samples cpu usage over `window` and the current memory
// and goroutine counts.
func ReadPerfStats(ctx context.Context, window time.Duration) (PerfStats, error) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	stats := PerfStats{
		AllocatedMb: int64(memStats.Alloc / 1_000_000),
		Goroutines:  int64(runtime.NumGoroutine()),
	}

	usage, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return stats, err
	}
	if len(usage) > 0 {
		stats.CpuPercent = usage[0]
	}
	return stats, nil
}

// InstrumentPerfStats records perf stats gauges every 30 seconds until ctx
// is done.
func InstrumentPerfStats(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Second * 30)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats, err := ReadPerfStats(ctx, time.Second*5)
				if err != nil {
					slog.WarnContext(ctx, "failed to read cpu usage", "err", err)
				} else {
					cpuGauge.Record(ctx, stats.CpuPercent)
				}
				memoryGauge.Record(ctx, stats.AllocatedMb)
				goroutineGauge.Record(ctx, stats.Goroutines)
			case <-ctx.Done():
				return
			}
		}
	}()
}
