// 文件路径: internal/proxygroup/manager.go
// 模块说明: 维护代理组选择状态，与核心快照对账，并发布可直接展示的代理组列表。
package proxygroup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/creamcroissant/clashpilot/internal/clash"
	"github.com/creamcroissant/clashpilot/internal/repository"
	"github.com/creamcroissant/clashpilot/internal/support/stream"
)

// Core is the subset of the controller client the manager needs.
type Core interface {
	QueryGroupNames(ctx context.Context, excludeNotSelectable bool) ([]string, error)
	QueryGroup(ctx context.Context, name string, order clash.SortOrder) (clash.Group, error)
	PatchSelector(ctx context.Context, group, proxy string) (bool, error)
	PatchForceSelector(ctx context.Context, group, proxy string) (bool, error)
	HealthCheckGroup(ctx context.Context, group string) (map[string]int, error)
}

// DelayCache is the time-bounded latency store.
type DelayCache interface {
	UpdateDelay(name string, delay int)
	Delay(name string) (int, bool)
	AllValidDelays() map[string]int
}

// SelectionStore persists selections and pins per profile.
type SelectionStore interface {
	Selections() repository.SelectionRepository
	Pins() repository.PinRepository
}

// Recorder receives refresh and selection outcomes, typically for metrics.
type Recorder interface {
	RefreshCompleted(elapsed time.Duration, err error)
	SelectionCompleted(kind string, ok bool)
	GroupsPublished(count int)
}

type noopRecorder struct{}

func (noopRecorder) RefreshCompleted(time.Duration, error) {}
func (noopRecorder) SelectionCompleted(string, bool)       {}
func (noopRecorder) GroupsPublished(int)                   {}

// GroupState is the last known selection of one group.
type GroupState struct {
	Now        string
	Fixed      string
	LastUpdate time.Time
}

// Proxy is an enriched group member ready for display.
type Proxy struct {
	Name     string          `json:"name"`
	Type     clash.GroupType `json:"type"`
	Delay    int             `json:"delay"`
	Subtitle string          `json:"subtitle,omitempty"`
}

// GroupInfo is one published group. Values are never mutated after publish.
type GroupInfo struct {
	Name      string          `json:"name"`
	Type      clash.GroupType `json:"type"`
	Proxies   []Proxy         `json:"proxies"`
	Now       string          `json:"now"`
	Fixed     string          `json:"fixed"`
	ChainPath []string        `json:"chain_path"`
}

// Options wires a Manager. Zero settle durations skip the wait.
type Options struct {
	Core          Core
	Delays        DelayCache
	Store         SelectionStore
	Recorder      Recorder
	Logger        *slog.Logger
	SortOrder     clash.SortOrder
	SelectSettle  time.Duration
	PinSettle     time.Duration
	UnpinSettle   time.Duration
	RestoreSettle time.Duration
	Parallelism   int
	Now           func() time.Time
}

// Manager owns the per-group state table and the published group list.
type Manager struct {
	core     Core
	delays   DelayCache
	store    SelectionStore
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	selectSettle  time.Duration
	pinSettle     time.Duration
	unpinSettle   time.Duration
	restoreSettle time.Duration
	parallelism   int

	// refreshMu serializes full refreshes.
	refreshMu sync.Mutex

	mu        sync.Mutex
	states    map[string]GroupState
	sortOrder clash.SortOrder

	groups *stream.Stream[[]GroupInfo]
}

// NewManager builds a manager. Core, Delays and Store are required.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = 8
	}
	order := opts.SortOrder
	if order == "" {
		order = clash.SortDefault
	}
	return &Manager{
		core:          opts.Core,
		delays:        opts.Delays,
		store:         opts.Store,
		recorder:      recorder,
		logger:        logger.With("component", "proxygroup"),
		now:           now,
		selectSettle:  opts.SelectSettle,
		pinSettle:     opts.PinSettle,
		unpinSettle:   opts.UnpinSettle,
		restoreSettle: opts.RestoreSettle,
		parallelism:   parallelism,
		states:        make(map[string]GroupState),
		sortOrder:     order,
		groups:        stream.New[[]GroupInfo](nil),
	}
}

// Groups is the hot stream of published group lists.
func (m *Manager) Groups() *stream.Stream[[]GroupInfo] {
	return m.groups
}

// GroupState returns the tracked state of a group.
func (m *Manager) GroupState(name string) (GroupState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[name]
	return st, ok
}

// ClearGroupStates drops every tracked state, used on profile switch and teardown.
func (m *Manager) ClearGroupStates() {
	m.mu.Lock()
	m.states = make(map[string]GroupState)
	m.mu.Unlock()
}

// SetSortOrder changes member ordering for subsequent refreshes.
func (m *Manager) SetSortOrder(order clash.SortOrder) {
	m.mu.Lock()
	m.sortOrder = order
	m.mu.Unlock()
}

// SortOrder returns the current member ordering.
func (m *Manager) SortOrder() clash.SortOrder {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortOrder
}

func (m *Manager) updateState(name string, fn func(*GroupState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.states[name]
	fn(&st)
	st.LastUpdate = m.now()
	m.states[name] = st
}

func (m *Manager) lookupState(name string) (GroupState, bool) {
	return m.GroupState(name)
}

// settle waits d unless ctx ends first.
func settle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
