// 文件路径: internal/service/orchestrator.go
// 模块说明: 管理代理服务生命周期（加载配置 → 启动 TUN/HTTP → 轮询 → 停止），并决定何时刷新代理组。
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creamcroissant/clashpilot/internal/clash"
	"github.com/creamcroissant/clashpilot/internal/repository"
	"github.com/creamcroissant/clashpilot/internal/support/stream"
)

// Mode is the inbound the core is started with.
type Mode string

const (
	ModeTun  Mode = "tun"
	ModeHTTP Mode = "http"
)

// ParseMode accepts "tun" and "http".
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeTun:
		return ModeTun, nil
	case ModeHTTP:
		return ModeHTTP, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, raw)
}

// State is the lifecycle state of the proxy service.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateRunning
	StateStopping
	StateError
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a snapshot of the lifecycle.
type Status struct {
	State   State               `json:"state"`
	Mode    Mode                `json:"mode,omitempty"`
	Profile *repository.Profile `json:"profile,omitempty"`
	Message string              `json:"message,omitempty"`
	Cause   error               `json:"-"`
	Since   time.Time           `json:"since"`
}

// TrafficSnapshot is one polling sample.
type TrafficSnapshot struct {
	Now    clash.Traffic      `json:"now"`
	Total  clash.TrafficTotal `json:"total"`
	Tunnel clash.TunnelState  `json:"tunnel"`
	At     time.Time          `json:"at"`
}

// Core is the part of the controller client used for lifecycle and polling.
type Core interface {
	LoadProfile(ctx context.Context, path string) error
	EnableTun(ctx context.Context, enable bool, stack string) error
	SetMixedPort(ctx context.Context, port int) error
	CloseConnections(ctx context.Context) error
	QueryTrafficNow(ctx context.Context) (clash.Traffic, error)
	QueryTrafficTotal(ctx context.Context) (clash.TrafficTotal, error)
	QueryTunnelState(ctx context.Context) (clash.TunnelState, error)
	SubscribeLogs(ctx context.Context, level string, fn func(clash.LogEntry)) error
}

// GroupRefresher is the proxy group manager as seen by the orchestrator.
type GroupRefresher interface {
	RefreshGroups(ctx context.Context, skipCacheClear bool, profile *repository.Profile) error
	RestoreSelections(ctx context.Context, profileID string)
	ClearGroupStates()
}

// SystemProxy points the host at the HTTP inbound.
type SystemProxy interface {
	Enable(ctx context.Context, port int) error
	Disable(ctx context.Context) error
}

// Recorder observes lifecycle and polling results.
type Recorder interface {
	StateChanged(state State)
	TrafficObserved(sample TrafficSnapshot)
}

type noopSystemProxy struct{}

func (noopSystemProxy) Enable(context.Context, int) error { return nil }
func (noopSystemProxy) Disable(context.Context) error     { return nil }

type noopRecorder struct{}

func (noopRecorder) StateChanged(State)              {}
func (noopRecorder) TrafficObserved(TrafficSnapshot) {}

// Options wires an Orchestrator.
type Options struct {
	Core        Core
	Groups      GroupRefresher
	SystemProxy SystemProxy
	Recorder    Recorder
	Logger      *slog.Logger

	ScreenOnInterval  time.Duration
	ScreenOffInterval time.Duration
	GroupRefreshMin   time.Duration
	// MaxPollFailures moves a running service to Error after that many polls
	// in a row could not reach the core. Zero disables the check.
	MaxPollFailures int

	TunStack      string
	MixedPort     int
	UseSysProxy   bool
	CoreLogLevel  string
	LogBufferSize int

	Now func() time.Time
}

// Orchestrator owns the proxy service state machine and the polling cadence.
type Orchestrator struct {
	core     Core
	groups   GroupRefresher
	sysProxy SystemProxy
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	screenOnInterval  time.Duration
	screenOffInterval time.Duration
	groupRefreshMin   time.Duration
	maxPollFailures   int
	tunStack          string
	mixedPort         int
	useSysProxy       bool
	coreLogLevel      string
	logBufferSize     int

	screenOn          atomic.Bool
	proxyScreenActive atomic.Bool
	intervalCh        chan struct{}

	mu               sync.Mutex
	status           Status
	cancel           context.CancelFunc
	lastGroupRefresh time.Time
	pollFailures     int
	wg               sync.WaitGroup

	states  *stream.Stream[Status]
	traffic *stream.Stream[TrafficSnapshot]
	logs    *stream.Stream[[]clash.LogEntry]
}

// New builds an idle orchestrator with the screen considered on.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sysProxy := opts.SystemProxy
	if sysProxy == nil {
		sysProxy = noopSystemProxy{}
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}
	onInterval := opts.ScreenOnInterval
	if onInterval <= 0 {
		onInterval = time.Second
	}
	offInterval := opts.ScreenOffInterval
	if offInterval <= 0 {
		offInterval = 10 * time.Second
	}
	refreshMin := opts.GroupRefreshMin
	if refreshMin < 0 {
		refreshMin = 0
	}
	bufferSize := opts.LogBufferSize
	if bufferSize <= 0 {
		bufferSize = 200
	}

	initial := Status{State: StateIdle, Since: now()}
	o := &Orchestrator{
		core:              opts.Core,
		groups:            opts.Groups,
		sysProxy:          sysProxy,
		recorder:          recorder,
		logger:            logger.With("component", "orchestrator"),
		now:               now,
		screenOnInterval:  onInterval,
		screenOffInterval: offInterval,
		groupRefreshMin:   refreshMin,
		maxPollFailures:   opts.MaxPollFailures,
		tunStack:          opts.TunStack,
		mixedPort:         opts.MixedPort,
		useSysProxy:       opts.UseSysProxy,
		coreLogLevel:      opts.CoreLogLevel,
		logBufferSize:     bufferSize,
		intervalCh:        make(chan struct{}, 1),
		status:            initial,
		states:            stream.New(initial),
		traffic:           stream.New(TrafficSnapshot{}),
		logs:              stream.New[[]clash.LogEntry](nil),
	}
	o.screenOn.Store(true)
	return o
}

// States streams every lifecycle transition.
func (o *Orchestrator) States() *stream.Stream[Status] { return o.states }

// Traffic streams polling samples.
func (o *Orchestrator) Traffic() *stream.Stream[TrafficSnapshot] { return o.traffic }

// Logs streams the most recent core log lines.
func (o *Orchestrator) Logs() *stream.Stream[[]clash.LogEntry] { return o.logs }

// Status returns the current lifecycle snapshot.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	return o.Status().State
}

// Running reports whether the service is Running.
func (o *Orchestrator) Running() bool {
	return o.State() == StateRunning
}

// CurrentProfile returns the profile of a running or starting service.
func (o *Orchestrator) CurrentProfile() *repository.Profile {
	return o.Status().Profile
}

// setStatusLocked must be called with o.mu held.
func (o *Orchestrator) setStatusLocked(st Status) {
	st.Since = o.now()
	o.status = st
	o.states.Publish(st)
	o.recorder.StateChanged(st.State)
	o.logger.Info("service state changed", "state", st.State.String(), "mode", st.Mode, "message", st.Message)
}

// StartTun loads profile and enables the TUN inbound.
func (o *Orchestrator) StartTun(ctx context.Context, profile *repository.Profile) error {
	return o.start(ctx, ModeTun, profile)
}

// StartHTTP loads profile and opens the mixed HTTP/SOCKS inbound.
func (o *Orchestrator) StartHTTP(ctx context.Context, profile *repository.Profile) error {
	return o.start(ctx, ModeHTTP, profile)
}

// Start dispatches to StartTun or StartHTTP.
func (o *Orchestrator) Start(ctx context.Context, mode Mode, profile *repository.Profile) error {
	switch mode {
	case ModeTun, ModeHTTP:
		return o.start(ctx, mode, profile)
	}
	return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

func (o *Orchestrator) start(ctx context.Context, mode Mode, profile *repository.Profile) error {
	if profile == nil || profile.Path == "" {
		return ErrNoProfile
	}

	o.mu.Lock()
	switch o.status.State {
	case StateConnecting, StateRunning, StateStopping:
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.setStatusLocked(Status{State: StateConnecting, Mode: mode, Profile: profile})
	o.mu.Unlock()
	// Loops left over from an Error state must be gone before new ones start.
	o.wg.Wait()

	if err := o.bringUp(ctx, mode, profile); err != nil {
		o.mu.Lock()
		o.setStatusLocked(Status{State: StateError, Mode: mode, Profile: profile, Message: err.Error(), Cause: err})
		o.mu.Unlock()
		return err
	}

	o.groups.ClearGroupStates()
	o.groups.RestoreSelections(ctx, profile.ID)

	o.mu.Lock()
	if o.status.State != StateConnecting {
		o.mu.Unlock()
		return fmt.Errorf("service: start of %s aborted by stop", mode)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.lastGroupRefresh = time.Time{}
	o.pollFailures = 0
	o.setStatusLocked(Status{State: StateRunning, Mode: mode, Profile: profile})
	o.wg.Add(2)
	o.mu.Unlock()

	go o.pollLoop(runCtx)
	go o.logLoop(runCtx)
	return nil
}

func (o *Orchestrator) bringUp(ctx context.Context, mode Mode, profile *repository.Profile) error {
	if err := o.core.LoadProfile(ctx, profile.Path); err != nil {
		return err
	}
	switch mode {
	case ModeTun:
		if err := o.core.EnableTun(ctx, true, o.tunStack); err != nil {
			return err
		}
	case ModeHTTP:
		if err := o.core.SetMixedPort(ctx, o.mixedPort); err != nil {
			return err
		}
		if o.useSysProxy {
			if err := o.sysProxy.Enable(ctx, o.mixedPort); err != nil {
				return fmt.Errorf("enable system proxy: %w", err)
			}
		}
	}
	return nil
}

// Stop tears the service down. Every step runs even if an earlier one fails;
// the joined error is returned and the state still ends at Idle.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if o.status.State == StateIdle || o.status.State == StateStopping {
		o.mu.Unlock()
		return nil
	}
	prev := o.status
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.setStatusLocked(Status{State: StateStopping, Mode: prev.Mode, Profile: prev.Profile})
	o.mu.Unlock()

	o.wg.Wait()

	var errs []error
	if err := o.core.EnableTun(ctx, false, ""); err != nil {
		errs = append(errs, fmt.Errorf("disable tun: %w", err))
	}
	if err := o.core.SetMixedPort(ctx, 0); err != nil {
		errs = append(errs, fmt.Errorf("close http inbound: %w", err))
	}
	if err := o.sysProxy.Disable(ctx); err != nil {
		errs = append(errs, fmt.Errorf("disable system proxy: %w", err))
	}
	if err := o.core.CloseConnections(ctx); err != nil {
		errs = append(errs, fmt.Errorf("reset core: %w", err))
	}
	o.groups.ClearGroupStates()

	err := errors.Join(errs...)
	if err != nil {
		o.logger.Warn("service teardown finished with errors", "error", err)
	}

	o.mu.Lock()
	o.setStatusLocked(Status{State: StateIdle})
	o.mu.Unlock()
	return err
}

// Close stops the service if it is running.
func (o *Orchestrator) Close(ctx context.Context) error {
	return o.Stop(ctx)
}

// SetScreenOn switches between the short and the long polling interval.
func (o *Orchestrator) SetScreenOn(on bool) {
	if o.screenOn.Swap(on) == on {
		return
	}
	o.logger.Debug("screen state changed", "on", on)
	select {
	case o.intervalCh <- struct{}{}:
	default:
	}
}

// ScreenOn reports the last screen state.
func (o *Orchestrator) ScreenOn() bool { return o.screenOn.Load() }

// SetProxyScreenActive is set by a front end while the proxy group view is shown.
func (o *Orchestrator) SetProxyScreenActive(active bool) {
	o.proxyScreenActive.Store(active)
}

// ProxyScreenActive reports the flag set by SetProxyScreenActive.
func (o *Orchestrator) ProxyScreenActive() bool { return o.proxyScreenActive.Load() }
