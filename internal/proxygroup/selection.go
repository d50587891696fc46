package proxygroup

import (
	"context"
	"sort"

	"github.com/creamcroissant/clashpilot/internal/clash"
	"github.com/creamcroissant/clashpilot/internal/repository"
)

// SelectProxy switches a Selector group. It reports whether the core accepted the change
// and the selection was recorded. Errors are logged, never returned.
func (m *Manager) SelectProxy(ctx context.Context, group, proxy string, profile *repository.Profile) bool {
	ok := m.selectProxy(ctx, group, proxy, profile)
	m.recorder.SelectionCompleted("select", ok)
	return ok
}

func (m *Manager) selectProxy(ctx context.Context, group, proxy string, profile *repository.Profile) bool {
	accepted, err := m.core.PatchSelector(ctx, group, proxy)
	if err != nil {
		m.logger.Warn("patch selector failed", "group", group, "proxy", proxy, "error", err)
		return false
	}
	if !accepted {
		m.logger.Info("core rejected selection", "group", group, "proxy", proxy)
		return false
	}

	// Record first; the in-memory state only moves once the record is durable.
	if profile != nil {
		if err := m.store.Selections().Set(ctx, &repository.Selection{
			ProfileID: profile.ID,
			GroupName: group,
			ProxyName: proxy,
			UpdatedAt: m.now().Unix(),
		}); err != nil {
			m.logger.Error("persist selection failed", "group", group, "proxy", proxy, "error", err)
			return false
		}
	}
	m.updateState(group, func(st *GroupState) { st.Now = proxy })

	settle(ctx, m.selectSettle)
	m.RefreshSingleGroupSelection(group, proxy, nil)
	return true
}

// ForceSelectProxy pins proxy in group. A blank proxy clears the pin and shows
// whatever the group now selects on its own.
func (m *Manager) ForceSelectProxy(ctx context.Context, group, proxy string, profile *repository.Profile) bool {
	kind := "pin"
	if proxy == "" {
		kind = "unpin"
	}
	ok := m.forceSelectProxy(ctx, group, proxy, profile)
	m.recorder.SelectionCompleted(kind, ok)
	return ok
}

func (m *Manager) forceSelectProxy(ctx context.Context, group, proxy string, profile *repository.Profile) bool {
	accepted, err := m.core.PatchForceSelector(ctx, group, proxy)
	if err != nil {
		m.logger.Warn("patch force selector failed", "group", group, "proxy", proxy, "error", err)
		return false
	}
	if !accepted {
		m.logger.Info("core rejected pin", "group", group, "proxy", proxy)
		return false
	}

	effective := proxy
	if proxy == "" {
		settle(ctx, m.unpinSettle)
		live, err := m.core.QueryGroup(ctx, group, m.SortOrder())
		if err != nil {
			m.logger.Warn("query group after unpin failed", "group", group, "error", err)
			if st, ok := m.GroupState(group); ok {
				effective = st.Now
			}
		} else {
			effective = live.Now
		}
	}

	if profile != nil {
		var err error
		if proxy == "" {
			err = m.store.Pins().Remove(ctx, profile.ID, group)
		} else {
			err = m.store.Pins().Set(ctx, &repository.Pin{
				ProfileID: profile.ID,
				GroupName: group,
				ProxyName: proxy,
				UpdatedAt: m.now().Unix(),
			})
		}
		if err != nil {
			m.logger.Error("persist pin failed", "group", group, "proxy", proxy, "error", err)
			return false
		}
	}
	m.updateState(group, func(st *GroupState) {
		st.Fixed = proxy
		if effective != "" {
			st.Now = effective
		}
	})

	settle(ctx, m.pinSettle)
	m.RefreshSingleGroupSelection(group, effective, &proxy)
	return true
}

// RestoreSelections replays a profile's stored selections and pins into the core.
// Selections apply only to groups the core reports as Selector; pins apply to any group.
// Each entry is independent, a failure is logged and the batch continues.
func (m *Manager) RestoreSelections(ctx context.Context, profileID string) {
	logger := m.logger.With("profile", profileID)

	selections, err := m.store.Selections().All(ctx, profileID)
	if err != nil {
		logger.Error("load selections failed", "error", err)
	}
	restored := 0
	for _, group := range sortedKeys(selections) {
		proxy := selections[group]
		if m.restoreSelection(ctx, group, proxy) {
			restored++
		}
	}

	pins, err := m.store.Pins().All(ctx, profileID)
	if err != nil {
		logger.Error("load pins failed", "error", err)
	}
	pinned := 0
	for _, group := range sortedKeys(pins) {
		proxy := pins[group]
		accepted, err := m.core.PatchForceSelector(ctx, group, proxy)
		if err != nil || !accepted {
			logger.Warn("restore pin failed", "group", group, "proxy", proxy, "error", err)
			continue
		}
		m.updateState(group, func(st *GroupState) {
			st.Fixed = proxy
			st.Now = proxy
		})
		pinned++
	}

	m.recorder.SelectionCompleted("restore", err == nil)
	logger.Info("selections restored", "selections", restored, "pins", pinned)
	settle(ctx, m.restoreSettle)
}

func (m *Manager) restoreSelection(ctx context.Context, group, proxy string) bool {
	live, err := m.core.QueryGroup(ctx, group, m.SortOrder())
	if err != nil {
		m.logger.Warn("restore selection lookup failed", "group", group, "error", err)
		return false
	}
	if live.Type != clash.TypeSelector {
		return false
	}
	accepted, err := m.core.PatchSelector(ctx, group, proxy)
	if err != nil || !accepted {
		m.logger.Warn("restore selection failed", "group", group, "proxy", proxy, "error", err)
		return false
	}
	m.updateState(group, func(st *GroupState) { st.Now = proxy })
	return true
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
