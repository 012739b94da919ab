package limits

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tenvisio/pulse/internal/config"
	"github.com/tenvisio/pulse/internal/monitoring"
)

// ResourceGuard enforces the static admission-control limits from spec §5:
// a hard connection cap plus CPU/memory/goroutine emergency brakes. It is
// deliberately static configuration rather than an auto-tuning capacity
// manager — predictable rejection behavior under load.
type ResourceGuard struct {
	cfg    *config.Config
	logger zerolog.Logger

	currentCPU    atomic.Value // float64
	currentMemory atomic.Value // int64

	currentConns *int64
}

// NewResourceGuard constructs a guard. currentConns must point at the
// server's live connection counter (updated via atomic ops).
func NewResourceGuard(cfg *config.Config, logger zerolog.Logger, currentConns *int64) *ResourceGuard {
	rg := &ResourceGuard{
		cfg:          cfg,
		logger:       logger,
		currentConns: currentConns,
	}
	rg.currentCPU.Store(0.0)
	rg.currentMemory.Store(int64(0))

	logger.Info().
		Float64("cpu_limit", cfg.CPULimit).
		Int64("memory_limit", cfg.MemoryLimit).
		Int("max_connections", cfg.MaxConnections).
		Int("max_goroutines", cfg.MaxGoroutines).
		Msg("resource guard initialized")

	return rg
}

// ShouldAcceptConnection runs the ordered admission checks: hard connection
// limit, CPU emergency brake, memory emergency brake, goroutine limit.
func (rg *ResourceGuard) ShouldAcceptConnection() (accept bool, reason string) {
	currentConns := atomic.LoadInt64(rg.currentConns)
	currentCPU := rg.currentCPU.Load().(float64)
	currentMemory := rg.currentMemory.Load().(int64)
	currentGoros := runtime.NumGoroutine()

	if currentConns >= int64(rg.cfg.MaxConnections) {
		monitoring.IncrementConnectionsRejected("at_max_connections")
		return false, fmt.Sprintf("at max connections (%d)", rg.cfg.MaxConnections)
	}
	if currentCPU > rg.cfg.CPURejectThreshold {
		monitoring.IncrementConnectionsRejected("cpu_overload")
		return false, fmt.Sprintf("cpu %.1f%% > %.1f%%", currentCPU, rg.cfg.CPURejectThreshold)
	}
	if rg.cfg.MemoryLimit > 0 && currentMemory > rg.cfg.MemoryLimit {
		monitoring.IncrementConnectionsRejected("memory_limit")
		return false, "memory limit exceeded"
	}
	if currentGoros > rg.cfg.MaxGoroutines {
		monitoring.IncrementConnectionsRejected("goroutine_limit")
		return false, fmt.Sprintf("goroutine limit exceeded (%d > %d)", currentGoros, rg.cfg.MaxGoroutines)
	}

	return true, "OK"
}

// UpdateResources samples current CPU and memory usage. Called periodically
// by StartMonitoring.
func (rg *ResourceGuard) UpdateResources() {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		rg.currentCPU.Store(percents[0])
	} else if err != nil {
		monitoring.LogError(rg.logger, err, "failed to sample cpu usage", nil)
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	rg.currentMemory.Store(int64(memStats.Alloc))

	rg.logger.Debug().
		Float64("cpu_percent", rg.currentCPU.Load().(float64)).
		Int64("memory_bytes", rg.currentMemory.Load().(int64)).
		Int64("connections", atomic.LoadInt64(rg.currentConns)).
		Int("goroutines", runtime.NumGoroutine()).
		Msg("resource state updated")
}

// HostMemoryPercent reports host-wide memory utilization, when available.
// Exercises gopsutil/v3/mem in addition to the host-wide cpu sampling.
func (rg *ResourceGuard) HostMemoryPercent() (float64, error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return v.UsedPercent, nil
}

// StartMonitoring begins periodic resource sampling and exports it to
// Prometheus, until ctx is cancelled.
func (rg *ResourceGuard) StartMonitoring(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer monitoring.RecoverPanic(rg.logger, "resource_guard_monitor", nil)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rg.UpdateResources()
				monitoring.CPUUsagePercent.Set(rg.currentCPU.Load().(float64))
				monitoring.MemoryUsageBytes.Set(float64(rg.currentMemory.Load().(int64)))
				monitoring.GoroutinesCurrent.Set(float64(runtime.NumGoroutine()))
				if hostPct, err := rg.HostMemoryPercent(); err == nil {
					monitoring.HostMemoryPercent.Set(hostPct)
				} else {
					monitoring.LogError(rg.logger, err, "failed to sample host memory percent", nil)
				}
			case <-ctx.Done():
				rg.logger.Info().Msg("resource guard monitoring stopped")
				return
			}
		}
	}()

	rg.logger.Info().Dur("interval", interval).Msg("resource guard monitoring started")
}
