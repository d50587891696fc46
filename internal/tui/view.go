package tui

import (
	"fmt"
	"strings"

	"github.com/creamcroissant/clashpilot/internal/proxygroup"
)

// View 实现 tea.Model
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	switch m.view {
	case ViewGroupList:
		m.renderGroupListView(&b)
	case ViewProxyList:
		m.renderProxyListView(&b)
	}
	return b.String()
}

func (m Model) renderStatusLine(b *strings.Builder) {
	switch {
	case m.err != nil:
		b.WriteString(styleFailed.Render(fmt.Sprintf("  Error: %v", m.err)))
	case m.busy:
		b.WriteString(styleMuted.Render("  Working..."))
	case m.notice != "":
		b.WriteString(styleMuted.Render("  " + m.notice))
	}
	b.WriteString("\n\n")
}

func (m Model) renderTraffic() string {
	t := m.traffic
	return fmt.Sprintf("  ↑ %s/s  ↓ %s/s  │  total ↑ %s ↓ %s  │  %d conns",
		formatBytes(t.Now.Up), formatBytes(t.Now.Down),
		formatBytes(t.Total.Up), formatBytes(t.Total.Down), t.Total.Connections)
}

// visibleWindow returns [start,end) keeping selected on screen.
func (m Model) visibleWindow(selected, total int) (int, int) {
	rows := m.height - 10
	if rows < 5 {
		rows = 5
	}
	start := 0
	if selected >= rows {
		start = selected - rows + 1
	}
	end := start + rows
	if end > total {
		end = total
	}
	return start, end
}

func (m Model) renderGroupListView(b *strings.Builder) {
	b.WriteString(styleHeader.Width(m.width).Render("  Proxy Groups"))
	b.WriteString("\n\n")
	m.renderStatusLine(b)

	header := fmt.Sprintf("  %-24s │ %-12s │ %-20s │ %s", "Group", "Type", "Now", "Chain")
	b.WriteString(styleTableHeader.Width(m.width).Render(header))
	b.WriteString("\n")
	b.WriteString(styleMuted.Render(strings.Repeat("─", m.width)))
	b.WriteString("\n")

	if len(m.groups) == 0 {
		b.WriteString(styleMuted.Render("  No groups published yet. Press r to refresh."))
		b.WriteString("\n")
	}
	start, end := m.visibleWindow(m.selectedGroup, len(m.groups))
	for i := start; i < end; i++ {
		g := m.groups[i]
		now := g.Now
		if g.Fixed != "" {
			now += " 📌"
		}
		row := fmt.Sprintf("  %-24s │ %-12s │ %-20s │ %s",
			truncate(g.Name, 24), g.Type, truncate(now, 20), strings.Join(g.ChainPath, " → "))
		b.WriteString(m.renderRow(row, i == m.selectedGroup))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderTraffic())
	b.WriteString("\n\n")
	b.WriteString(styleHelp.Render("  [↑/↓] Navigate  [Enter] Open  [t] Test  [u] Unpin  [r] Refresh  [q] Quit"))
}

func (m Model) renderProxyListView(b *strings.Builder) {
	g, _ := m.current()
	title := fmt.Sprintf("  %s (%s)", g.Name, g.Type)
	if g.Fixed != "" {
		title += "  pinned: " + g.Fixed
	}
	b.WriteString(styleHeader.Width(m.width).Render(title))
	b.WriteString("\n\n")
	m.renderStatusLine(b)

	if len(g.ChainPath) > 0 {
		b.WriteString(styleMuted.Render("  Chain: " + strings.Join(g.ChainPath, " → ")))
		b.WriteString("\n\n")
	}

	header := fmt.Sprintf("  %-2s %-28s │ %-24s │ %s", "", "Proxy", "Type", "Delay")
	b.WriteString(styleTableHeader.Width(m.width).Render(header))
	b.WriteString("\n")

	start, end := m.visibleWindow(m.selectedProxy, len(g.Proxies))
	for i := start; i < end; i++ {
		b.WriteString(m.renderProxyRow(g, g.Proxies[i], i == m.selectedProxy))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderTraffic())
	b.WriteString("\n\n")
	b.WriteString(styleHelp.Render("  [↑/↓] Navigate  [Enter] Select  [p] Pin  [u] Unpin  [t] Test  [esc] Back  [q] Quit"))
}

func (m Model) renderProxyRow(g proxygroup.GroupInfo, p proxygroup.Proxy, selected bool) string {
	mark := " "
	switch p.Name {
	case g.Fixed:
		mark = "📌"
	case g.Now:
		mark = "●"
	}
	typ := string(p.Type)
	if p.Subtitle != "" {
		typ = p.Subtitle
	}
	row := fmt.Sprintf("  %-2s %-28s │ %-24s │ %s", mark, truncate(p.Name, 28), truncate(typ, 24), DelayLabel(p.Delay))
	return m.renderRow(row, selected)
}

func (m Model) renderRow(row string, selected bool) string {
	if selected {
		return styleTableRowSelected.Width(m.width).Render("▶" + row[1:])
	}
	return styleTableRow.Render(row)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%c", float64(bytes)/float64(div), "KMGTPE"[exp])
}
