package job

import (
	"context"

	"github.com/creamcroissant/clashpilot/internal/monitor"
)

// ProcessObserver receives the controller's resource usage.
type ProcessObserver interface {
	ProcessObserved(rss uint64, cpuPercent float64)
}

// ProcessStatsJob samples the monitor and forwards process usage.
type ProcessStatsJob struct {
	monitor  *monitor.Monitor
	observer ProcessObserver
}

// NewProcessStatsJob 构造进程资源采样任务。
func NewProcessStatsJob(m *monitor.Monitor, observer ProcessObserver) *ProcessStatsJob {
	return &ProcessStatsJob{monitor: m, observer: observer}
}

// Name 返回任务标识。
func (j *ProcessStatsJob) Name() string { return "process-stats" }

// Run 采样一次。
func (j *ProcessStatsJob) Run(ctx context.Context) error {
	stat := j.monitor.Collect()
	if j.observer != nil {
		j.observer.ProcessObserved(stat.ProcessRSS, stat.ProcessCPU)
	}
	return nil
}
