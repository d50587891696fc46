package service

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/creamcroissant/clashpilot/internal/clash"
)

func (o *Orchestrator) interval() time.Duration {
	if o.screenOn.Load() {
		return o.screenOnInterval
	}
	return o.screenOffInterval
}

func (o *Orchestrator) pollLoop(ctx context.Context) {
	defer o.wg.Done()

	o.poll(ctx)
	ticker := time.NewTicker(o.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.intervalCh:
			interval := o.interval()
			o.logger.Debug("polling interval updated", "interval", interval)
			ticker.Reset(interval)
		case <-ticker.C:
			o.poll(ctx)
		}
	}
}

// poll samples traffic and tunnel state, then refreshes groups when allowed.
func (o *Orchestrator) poll(ctx context.Context) {
	sample := TrafficSnapshot{At: o.now()}
	failed := 0

	if now, err := o.core.QueryTrafficNow(ctx); err != nil {
		failed++
		o.logger.Debug("query traffic failed", "error", err)
	} else {
		sample.Now = now
	}
	if total, err := o.core.QueryTrafficTotal(ctx); err != nil {
		failed++
		o.logger.Debug("query traffic total failed", "error", err)
	} else {
		sample.Total = total
	}
	if tunnel, err := o.core.QueryTunnelState(ctx); err != nil {
		failed++
		o.logger.Debug("query tunnel state failed", "error", err)
	} else {
		sample.Tunnel = tunnel
	}
	if ctx.Err() != nil {
		return
	}

	if failed == 3 {
		o.recordPollFailure()
		return
	}
	o.mu.Lock()
	o.pollFailures = 0
	o.mu.Unlock()

	o.traffic.Publish(sample)
	o.recorder.TrafficObserved(sample)
	o.maybeRefreshGroups(ctx)
}

func (o *Orchestrator) recordPollFailure() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pollFailures++
	if o.maxPollFailures <= 0 || o.pollFailures < o.maxPollFailures || o.status.State != StateRunning {
		return
	}
	err := errCoreUnreachable
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.setStatusLocked(Status{
		State:   StateError,
		Mode:    o.status.Mode,
		Profile: o.status.Profile,
		Message: err.Error(),
		Cause:   err,
	})
}

// maybeRefreshGroups runs a full group refresh only while the screen is on, the
// proxy view is active and GroupRefreshMin has passed since the last one.
func (o *Orchestrator) maybeRefreshGroups(ctx context.Context) bool {
	if !o.screenOn.Load() || !o.proxyScreenActive.Load() {
		return false
	}
	o.mu.Lock()
	now := o.now()
	if !o.lastGroupRefresh.IsZero() && now.Sub(o.lastGroupRefresh) < o.groupRefreshMin {
		o.mu.Unlock()
		return false
	}
	o.lastGroupRefresh = now
	profile := o.status.Profile
	o.mu.Unlock()

	if err := o.groups.RefreshGroups(ctx, false, profile); err != nil {
		// Retried on a later tick.
		o.logger.Warn("refresh proxy groups failed", "error", err)
	}
	return true
}

func (o *Orchestrator) logLoop(ctx context.Context) {
	defer o.wg.Done()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	for {
		started := o.now()
		err := o.core.SubscribeLogs(ctx, o.coreLogLevel, o.appendLog)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			o.logger.Debug("core log stream ended", "error", err)
		}
		if o.now().Sub(started) > b.MaxInterval {
			b.Reset()
		}
		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (o *Orchestrator) appendLog(entry clash.LogEntry) {
	o.logs.Update(func(current []clash.LogEntry) ([]clash.LogEntry, bool) {
		start := 0
		if len(current) >= o.logBufferSize {
			start = len(current) - o.logBufferSize + 1
		}
		next := make([]clash.LogEntry, 0, len(current)-start+1)
		next = append(next, current[start:]...)
		next = append(next, entry)
		return next, true
	})
}
