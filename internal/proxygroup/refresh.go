package proxygroup

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/creamcroissant/clashpilot/internal/clash"
	"github.com/creamcroissant/clashpilot/internal/repository"
)

type persistOp struct {
	group     string
	selection string
	pin       *string
}

// RefreshGroups reconciles every group with the core and publishes a new list.
// skipCacheClear is accepted for compatibility; every call is a full refresh.
// On error nothing is committed and the published list is left as is.
func (m *Manager) RefreshGroups(ctx context.Context, skipCacheClear bool, profile *repository.Profile) (err error) {
	_ = skipCacheClear
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	started := m.now()
	defer func() {
		m.recorder.RefreshCompleted(m.now().Sub(started), err)
	}()

	groups, err := m.fetchGroups(ctx)
	if err != nil {
		return err
	}

	ops := m.diff(groups, profile)
	if err := m.persist(ctx, profile, ops); err != nil {
		return err
	}

	observedAt := m.now()
	m.mu.Lock()
	for _, g := range groups {
		m.states[g.Name] = GroupState{Now: g.Now, Fixed: g.Fixed, LastUpdate: observedAt}
	}
	m.mu.Unlock()

	live := make(map[string]int)
	for _, g := range groups {
		for _, p := range g.Proxies {
			if p.Delay > 0 {
				m.delays.UpdateDelay(p.Name, p.Delay)
				live[p.Name] = p.Delay
			}
		}
	}
	for name, d := range m.delays.AllValidDelays() {
		live[name] = d
	}

	m.publish(enrich(groups, live, m.lookupState))
	return nil
}

func (m *Manager) fetchGroups(ctx context.Context) ([]clash.Group, error) {
	names, err := m.core.QueryGroupNames(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("query group names: %w", err)
	}
	order := m.SortOrder()
	groups := make([]clash.Group, len(names))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(m.parallelism)
	for i, name := range names {
		i, name := i, name
		eg.Go(func() error {
			g, err := m.core.QueryGroup(egCtx, name, order)
			if err != nil {
				return fmt.Errorf("query group %s: %w", name, err)
			}
			groups[i] = g
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return groups, nil
}

// diff compares snapshots with tracked state and lists the records to write.
func (m *Manager) diff(groups []clash.Group, profile *repository.Profile) []persistOp {
	if profile == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var ops []persistOp
	for _, g := range groups {
		prev, known := m.states[g.Name]
		op := persistOp{group: g.Name}
		if g.Type == clash.TypeSelector && g.Now != "" && (!known || prev.Now != g.Now) {
			op.selection = g.Now
		}
		// An unseen group counts as unpinned so a first observation never drops a stored pin.
		if prev.Fixed != g.Fixed {
			fixed := g.Fixed
			op.pin = &fixed
		}
		if op.selection != "" || op.pin != nil {
			ops = append(ops, op)
		}
	}
	return ops
}

func (m *Manager) persist(ctx context.Context, profile *repository.Profile, ops []persistOp) error {
	if profile == nil {
		return nil
	}
	stamp := m.now().Unix()
	for _, op := range ops {
		if op.selection != "" {
			if err := m.store.Selections().Set(ctx, &repository.Selection{
				ProfileID: profile.ID,
				GroupName: op.group,
				ProxyName: op.selection,
				UpdatedAt: stamp,
			}); err != nil {
				return fmt.Errorf("persist selection %s: %w", op.group, err)
			}
		}
		if op.pin == nil {
			continue
		}
		if *op.pin == "" {
			if err := m.store.Pins().Remove(ctx, profile.ID, op.group); err != nil {
				return fmt.Errorf("remove pin %s: %w", op.group, err)
			}
			continue
		}
		if err := m.store.Pins().Set(ctx, &repository.Pin{
			ProfileID: profile.ID,
			GroupName: op.group,
			ProxyName: *op.pin,
			UpdatedAt: stamp,
		}); err != nil {
			return fmt.Errorf("persist pin %s: %w", op.group, err)
		}
	}
	return nil
}

func (m *Manager) publish(infos []GroupInfo) {
	m.groups.Publish(infos)
	m.recorder.GroupsPublished(len(infos))
}

// RefreshSingleGroupSelection applies a local selection to the last published list
// without asking the core. A nil fixed keeps the group's pin. Unknown groups are ignored.
func (m *Manager) RefreshSingleGroupSelection(group, proxy string, fixed *string) {
	published := m.groups.Update(func(current []GroupInfo) ([]GroupInfo, bool) {
		idx := -1
		for i := range current {
			if current[i].Name == group {
				idx = i
				break
			}
		}
		if idx < 0 {
			return current, false
		}
		groups := toGroups(current)
		groups[idx].Now = proxy
		if fixed != nil {
			groups[idx].Fixed = *fixed
		}
		return enrich(groups, m.delays.AllValidDelays(), m.lookupState), true
	})
	if published {
		m.recorder.GroupsPublished(len(m.groups.Value()))
	}
}

// RefreshDelaysOnly re-applies cached delays to the published list.
func (m *Manager) RefreshDelaysOnly() {
	published := m.groups.Update(func(current []GroupInfo) ([]GroupInfo, bool) {
		if len(current) == 0 {
			return current, false
		}
		return enrich(toGroups(current), m.delays.AllValidDelays(), m.lookupState), true
	})
	if published {
		m.recorder.GroupsPublished(len(m.groups.Value()))
	}
}

// TestGroupDelay health-checks every member of a group and refreshes displayed delays.
func (m *Manager) TestGroupDelay(ctx context.Context, group string) error {
	started := time.Now()
	results, err := m.core.HealthCheckGroup(ctx, group)
	if err != nil {
		return fmt.Errorf("test group %s: %w", group, err)
	}
	for name, d := range results {
		m.delays.UpdateDelay(name, d)
	}
	m.logger.Debug("group delay test finished", "group", group, "members", len(results), "elapsed", time.Since(started))
	m.RefreshDelaysOnly()
	return nil
}
