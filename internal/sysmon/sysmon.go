// Package sysmon periodically samples process CPU and memory usage and
// publishes them as Prometheus gauges. It owns no broker state: it is
// safe to run on its own goroutine alongside the single-threaded reactor.
package sysmon

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/stefan1627/pubsub-broker/internal/metrics"
)

// Run samples at the given interval until ctx is cancelled.
func Run(ctx context.Context, interval time.Duration, reg *metrics.Registry) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sample(proc, reg)
		}
	}
}

func sample(proc *process.Process, reg *metrics.Registry) {
	if pct, err := proc.CPUPercent(); err == nil {
		reg.CPUPercent.Set(pct)
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		reg.MemoryRSSByte.Set(float64(mem.RSS))
	}
}
