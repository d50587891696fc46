package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/creamcroissant/clashpilot/internal/proxygroup"
	"github.com/creamcroissant/clashpilot/internal/repository"
	"github.com/creamcroissant/clashpilot/internal/service"
	"github.com/creamcroissant/clashpilot/internal/support/stream"
)

// ViewType 表示当前视图
type ViewType int

const (
	ViewGroupList ViewType = iota // 代理组列表
	ViewProxyList                 // 组内节点列表
)

const actionTimeout = 15 * time.Second

// Backend is what the browser drives.
type Backend interface {
	Groups() *stream.Stream[[]proxygroup.GroupInfo]
	Traffic() *stream.Stream[service.TrafficSnapshot]
	RefreshGroups(ctx context.Context) error
	SelectProxy(ctx context.Context, group, proxy string) bool
	ForceSelectProxy(ctx context.Context, group, proxy string) bool
	TestGroupDelay(ctx context.Context, group string) error
	SetProxyScreenActive(active bool)
}

// GroupOps is the part of the proxy group manager used by Bind.
type GroupOps interface {
	Groups() *stream.Stream[[]proxygroup.GroupInfo]
	RefreshGroups(ctx context.Context, skipCacheClear bool, profile *repository.Profile) error
	SelectProxy(ctx context.Context, group, proxy string, profile *repository.Profile) bool
	ForceSelectProxy(ctx context.Context, group, proxy string, profile *repository.Profile) bool
	TestGroupDelay(ctx context.Context, group string) error
}

// ServiceOps is the part of the orchestrator used by Bind.
type ServiceOps interface {
	Traffic() *stream.Stream[service.TrafficSnapshot]
	CurrentProfile() *repository.Profile
	SetProxyScreenActive(active bool)
}

type boundBackend struct {
	groups GroupOps
	svc    ServiceOps
}

// Bind adapts the manager and orchestrator; selections persist under the running profile.
func Bind(groups GroupOps, svc ServiceOps) Backend {
	return boundBackend{groups: groups, svc: svc}
}

func (b boundBackend) Groups() *stream.Stream[[]proxygroup.GroupInfo] { return b.groups.Groups() }

func (b boundBackend) Traffic() *stream.Stream[service.TrafficSnapshot] { return b.svc.Traffic() }

func (b boundBackend) RefreshGroups(ctx context.Context) error {
	return b.groups.RefreshGroups(ctx, false, b.svc.CurrentProfile())
}

func (b boundBackend) SelectProxy(ctx context.Context, group, proxy string) bool {
	return b.groups.SelectProxy(ctx, group, proxy, b.svc.CurrentProfile())
}

func (b boundBackend) ForceSelectProxy(ctx context.Context, group, proxy string) bool {
	return b.groups.ForceSelectProxy(ctx, group, proxy, b.svc.CurrentProfile())
}

func (b boundBackend) TestGroupDelay(ctx context.Context, group string) error {
	return b.groups.TestGroupDelay(ctx, group)
}

func (b boundBackend) SetProxyScreenActive(active bool) { b.svc.SetProxyScreenActive(active) }

// Model 是主 TUI 模型
type Model struct {
	ctx     context.Context
	backend Backend

	groupsCh  <-chan []proxygroup.GroupInfo
	trafficCh <-chan service.TrafficSnapshot

	// 数据
	groups        []proxygroup.GroupInfo
	selectedGroup int
	selectedProxy int
	traffic       service.TrafficSnapshot

	// 视图状态
	view         ViewType
	currentGroup string

	// 终端尺寸
	width  int
	height int

	// 状态
	busy   bool
	notice string
	err    error

	// 按键绑定
	keys keyMap
}

// keyMap 定义全部按键绑定
type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Enter   key.Binding
	Back    key.Binding
	Quit    key.Binding
	Refresh key.Binding
	Pin     key.Binding
	Unpin   key.Binding
	Test    key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		Enter: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "open/select"),
		),
		Back: key.NewBinding(
			key.WithKeys("esc", "backspace"),
			key.WithHelp("esc", "back"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Pin: key.NewBinding(
			key.WithKeys("p"),
			key.WithHelp("p", "pin"),
		),
		Unpin: key.NewBinding(
			key.WithKeys("u"),
			key.WithHelp("u", "unpin"),
		),
		Test: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "test delay"),
		),
	}
}

// NewModel 创建新的 TUI 模型；ctx 结束时订阅随之关闭。
func NewModel(ctx context.Context, backend Backend) Model {
	return Model{
		ctx:       ctx,
		backend:   backend,
		groupsCh:  backend.Groups().Subscribe(ctx),
		trafficCh: backend.Traffic().Subscribe(ctx),
		view:      ViewGroupList,
		keys:      defaultKeyMap(),
	}
}

// Init 实现 tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		waitGroups(m.groupsCh),
		waitTraffic(m.trafficCh),
		m.refreshCmd(),
	)
}

// Run shows the browser until the user quits. The proxy screen flag is held for its lifetime.
func Run(ctx context.Context, backend Backend, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	backend.SetProxyScreenActive(true)
	defer backend.SetProxyScreenActive(false)

	p := tea.NewProgram(NewModel(ctx, backend), append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)...)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run tui: %w", err)
	}
	return nil
}

// 消息类型

type groupsMsg []proxygroup.GroupInfo

type trafficMsg service.TrafficSnapshot

type actionMsg struct {
	notice string
	err    error
}

// 命令

func waitGroups(ch <-chan []proxygroup.GroupInfo) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return nil
		}
		return groupsMsg(v)
	}
}

func waitTraffic(ch <-chan service.TrafficSnapshot) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return nil
		}
		return trafficMsg(v)
	}
}

func (m Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, actionTimeout)
		defer cancel()
		if err := m.backend.RefreshGroups(ctx); err != nil {
			return actionMsg{err: fmt.Errorf("refresh: %w", err)}
		}
		return actionMsg{notice: "groups refreshed"}
	}
}

func (m Model) selectCmd(group, proxy string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, actionTimeout)
		defer cancel()
		if !m.backend.SelectProxy(ctx, group, proxy) {
			return actionMsg{err: fmt.Errorf("select %s in %s was not applied", proxy, group)}
		}
		return actionMsg{notice: fmt.Sprintf("%s → %s", group, proxy)}
	}
}

func (m Model) pinCmd(group, proxy string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, actionTimeout)
		defer cancel()
		if !m.backend.ForceSelectProxy(ctx, group, proxy) {
			if proxy == "" {
				return actionMsg{err: fmt.Errorf("unpin %s was not applied", group)}
			}
			return actionMsg{err: fmt.Errorf("pin %s in %s was not applied", proxy, group)}
		}
		if proxy == "" {
			return actionMsg{notice: group + " unpinned"}
		}
		return actionMsg{notice: fmt.Sprintf("%s pinned to %s", group, proxy)}
	}
}

func (m Model) testCmd(group string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, actionTimeout)
		defer cancel()
		if err := m.backend.TestGroupDelay(ctx, group); err != nil {
			return actionMsg{err: fmt.Errorf("test %s: %w", group, err)}
		}
		return actionMsg{notice: group + " tested"}
	}
}

// 辅助函数

func (m Model) current() (proxygroup.GroupInfo, bool) {
	for _, g := range m.groups {
		if g.Name == m.currentGroup {
			return g, true
		}
	}
	return proxygroup.GroupInfo{}, false
}

func (m Model) highlighted() (proxygroup.GroupInfo, bool) {
	if m.view == ViewProxyList {
		return m.current()
	}
	if m.selectedGroup < 0 || m.selectedGroup >= len(m.groups) {
		return proxygroup.GroupInfo{}, false
	}
	return m.groups[m.selectedGroup], true
}
