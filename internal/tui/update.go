package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/creamcroissant/clashpilot/internal/clash"
	"github.com/creamcroissant/clashpilot/internal/service"
)

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case groupsMsg:
		m.groups = msg
		m.clampSelection()
		return m, waitGroups(m.groupsCh)

	case trafficMsg:
		m.traffic = service.TrafficSnapshot(msg)
		return m, waitTraffic(m.trafficCh)

	case actionMsg:
		m.busy = false
		m.err = msg.err
		m.notice = msg.notice
		return m, nil
	}

	return m, nil
}

func (m *Model) clampSelection() {
	if m.selectedGroup >= len(m.groups) {
		m.selectedGroup = len(m.groups) - 1
	}
	if m.selectedGroup < 0 {
		m.selectedGroup = 0
	}
	if m.view != ViewProxyList {
		return
	}
	g, ok := m.current()
	if !ok {
		// The group vanished from the published list.
		m.view = ViewGroupList
		m.currentGroup = ""
		m.selectedProxy = 0
		return
	}
	if m.selectedProxy >= len(g.Proxies) {
		m.selectedProxy = len(g.Proxies) - 1
	}
	if m.selectedProxy < 0 {
		m.selectedProxy = 0
	}
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		return m.move(-1), nil

	case key.Matches(msg, m.keys.Down):
		return m.move(1), nil

	case key.Matches(msg, m.keys.Enter):
		return m.handleEnter()

	case key.Matches(msg, m.keys.Back):
		if m.view == ViewProxyList {
			m.view = ViewGroupList
			m.currentGroup = ""
			m.selectedProxy = 0
		}
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		return m.start(m.refreshCmd())

	case key.Matches(msg, m.keys.Pin):
		return m.handlePin()

	case key.Matches(msg, m.keys.Unpin):
		g, ok := m.highlighted()
		if !ok || !g.Type.Pinnable() {
			return m, nil
		}
		return m.start(m.pinCmd(g.Name, ""))

	case key.Matches(msg, m.keys.Test):
		g, ok := m.highlighted()
		if !ok {
			return m, nil
		}
		return m.start(m.testCmd(g.Name))
	}

	return m, nil
}

// start runs one backend action at a time.
func (m Model) start(cmd tea.Cmd) (tea.Model, tea.Cmd) {
	if m.busy {
		return m, nil
	}
	m.busy = true
	m.err = nil
	m.notice = ""
	return m, cmd
}

func (m Model) move(delta int) Model {
	switch m.view {
	case ViewGroupList:
		m.selectedGroup = wrap(m.selectedGroup+delta, len(m.groups))
	case ViewProxyList:
		if g, ok := m.current(); ok {
			m.selectedProxy = wrap(m.selectedProxy+delta, len(g.Proxies))
		}
	}
	return m
}

func wrap(i, n int) int {
	if n == 0 {
		return 0
	}
	return ((i % n) + n) % n
}

func (m Model) handleEnter() (tea.Model, tea.Cmd) {
	switch m.view {
	case ViewGroupList:
		if len(m.groups) > 0 {
			g := m.groups[m.selectedGroup]
			m.currentGroup = g.Name
			m.view = ViewProxyList
			m.selectedProxy = 0
			for i, p := range g.Proxies {
				if p.Name == g.Now {
					m.selectedProxy = i
					break
				}
			}
		}
	case ViewProxyList:
		g, ok := m.current()
		if !ok || len(g.Proxies) == 0 {
			return m, nil
		}
		proxy := g.Proxies[m.selectedProxy].Name
		switch {
		case g.Type == clash.TypeSelector:
			return m.start(m.selectCmd(g.Name, proxy))
		case g.Type.Pinnable():
			return m.start(m.pinCmd(g.Name, proxy))
		}
	}
	return m, nil
}

func (m Model) handlePin() (tea.Model, tea.Cmd) {
	if m.view != ViewProxyList {
		return m, nil
	}
	g, ok := m.current()
	if !ok || len(g.Proxies) == 0 || !g.Type.Pinnable() {
		return m, nil
	}
	return m.start(m.pinCmd(g.Name, g.Proxies[m.selectedProxy].Name))
}
