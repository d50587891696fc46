package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/creamcroissant/clashpilot/internal/clash"
	"github.com/creamcroissant/clashpilot/internal/proxygroup"
	"github.com/creamcroissant/clashpilot/internal/support/stream"
)

// RunningGate reports whether the proxy service is Running.
type RunningGate interface {
	Running() bool
}

// DelayRefresher re-applies cached delays to the published group list.
type DelayRefresher interface {
	RefreshDelaysOnly()
}

// DelayTester health-checks groups found in the published list.
type DelayTester interface {
	Groups() *stream.Stream[[]proxygroup.GroupInfo]
	TestGroupDelay(ctx context.Context, group string) error
}

// DelaySyncJob keeps displayed delays in step with the delay cache.
type DelaySyncJob struct {
	groups DelayRefresher
	gate   RunningGate
}

// NewDelaySyncJob 构造延迟同步任务。
func NewDelaySyncJob(groups DelayRefresher, gate RunningGate) *DelaySyncJob {
	return &DelaySyncJob{groups: groups, gate: gate}
}

// Name 返回任务标识。
func (j *DelaySyncJob) Name() string { return "delay-sync" }

// Run 在服务运行时执行一次仅延迟的刷新。
func (j *DelaySyncJob) Run(ctx context.Context) error {
	if !j.gate.Running() {
		return nil
	}
	j.groups.RefreshDelaysOnly()
	return nil
}

// DelayTestJob probes Selector and URLTest groups so the delay cache stays warm.
type DelayTestJob struct {
	groups DelayTester
	gate   RunningGate
	logger *slog.Logger
}

// NewDelayTestJob 构造分组测速任务。
func NewDelayTestJob(groups DelayTester, gate RunningGate, logger *slog.Logger) *DelayTestJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &DelayTestJob{groups: groups, gate: gate, logger: logger}
}

// Name 返回任务标识。
func (j *DelayTestJob) Name() string { return "delay-test" }

// Run tests every eligible group; one failing group does not stop the others.
func (j *DelayTestJob) Run(ctx context.Context) error {
	if !j.gate.Running() {
		return nil
	}
	var errs []error
	tested := 0
	for _, g := range j.groups.Groups().Value() {
		if g.Type != clash.TypeSelector && g.Type != clash.TypeURLTest {
			continue
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := j.groups.TestGroupDelay(ctx, g.Name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", g.Name, err))
			continue
		}
		tested++
	}
	j.logger.Debug("delay test finished", "tested", tested, "failed", len(errs))
	return errors.Join(errs...)
}
