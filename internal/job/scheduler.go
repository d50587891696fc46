// 文件路径: internal/job/scheduler.go
// 模块说明: 封装 cron 调度器，统一超时、日志以及“上一次未结束则跳过”的行为。
package job

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Runnable 表示由调度器触发的后台任务。
type Runnable interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler 封装 cron，并提供日志与优雅停机。
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	timeout time.Duration
	mu      sync.Mutex
	started bool
	names   map[cron.EntryID]string
}

const defaultJobTimeout = 2 * time.Minute

// NewScheduler 构建支持秒与 @every 描述的调度器；timeout<=0 时使用默认值。
func NewScheduler(logger *slog.Logger, timeout time.Duration) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{
		cron:    c,
		logger:  logger.With("component", "scheduler"),
		timeout: timeout,
		names:   make(map[cron.EntryID]string),
	}
}

// Register 绑定 cron 表达式与任务。空表达式表示禁用该任务。
func (s *Scheduler) Register(spec string, runnable Runnable) (cron.EntryID, error) {
	if runnable == nil {
		return 0, fmt.Errorf("scheduler: runnable is required / runnable 不能为空")
	}
	if spec == "" {
		s.logger.Info("job disabled", "job", runnable.Name())
		return 0, nil
	}
	entryID, err := s.cron.AddFunc(spec, func() { s.RunOnce(runnable) })
	if err != nil {
		return 0, fmt.Errorf("scheduler: register %s: %w", runnable.Name(), err)
	}
	s.mu.Lock()
	s.names[entryID] = runnable.Name()
	s.mu.Unlock()
	s.logger.Info("job registered", "job", runnable.Name(), "spec", spec)
	return entryID, nil
}

// Next 返回每个任务下一次执行的时间。
func (s *Scheduler) Next() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]time.Time, len(s.names))
	for _, entry := range s.cron.Entries() {
		if name, ok := s.names[entry.ID]; ok {
			next[name] = entry.Next
		}
	}
	return next
}

// Start 启动调度器并执行任务。
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
}

// Stop 停止调度器；返回的 context 在执行中的任务结束后完成。
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return context.Background()
	}
	s.started = false
	return s.cron.Stop()
}

// RunOnce 以调度器的超时与日志执行一次任务。
func (s *Scheduler) RunOnce(runnable Runnable) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	start := time.Now()
	if err := runnable.Run(ctx); err != nil {
		s.logger.Error("job failed", "job", runnable.Name(), "error", err, "elapsed", time.Since(start))
		return
	}
	s.logger.Debug("job completed", "job", runnable.Name(), "elapsed", time.Since(start))
}
