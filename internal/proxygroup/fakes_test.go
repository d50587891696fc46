package proxygroup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/creamcroissant/clashpilot/internal/cache"
	"github.com/creamcroissant/clashpilot/internal/clash"
	"github.com/creamcroissant/clashpilot/internal/repository"
)

type fakeCore struct {
	mu        sync.Mutex
	names     []string
	groups    map[string]clash.Group
	failGroup string
	reject    bool
	patchErr  error
	gen       int
	dynamic   func(name string, gen int) clash.Group
	health    map[string]int
	patches   []string
}

func newFakeCore(groups ...clash.Group) *fakeCore {
	fc := &fakeCore{groups: map[string]clash.Group{}}
	for _, g := range groups {
		fc.names = append(fc.names, g.Name)
		fc.groups[g.Name] = g
	}
	return fc
}

func (f *fakeCore) QueryGroupNames(ctx context.Context, excludeNotSelectable bool) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	names := make([]string, 0, len(f.names))
	for _, n := range f.names {
		if excludeNotSelectable && f.groups[n].Type != clash.TypeSelector {
			continue
		}
		names = append(names, n)
	}
	return names, nil
}

func (f *fakeCore) QueryGroup(ctx context.Context, name string, order clash.SortOrder) (clash.Group, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == f.failGroup {
		return clash.Group{}, errors.New("core unavailable")
	}
	if f.dynamic != nil {
		return f.dynamic(name, f.gen), nil
	}
	g, ok := f.groups[name]
	if !ok {
		return clash.Group{}, fmt.Errorf("%w: %s", clash.ErrGroupNotFound, name)
	}
	g.Proxies = append([]clash.Proxy(nil), g.Proxies...)
	return g, nil
}

func (f *fakeCore) PatchSelector(ctx context.Context, group, proxy string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, "select "+group+"="+proxy)
	if f.patchErr != nil {
		return false, f.patchErr
	}
	g, ok := f.groups[group]
	if f.reject || !ok {
		return false, nil
	}
	g.Now = proxy
	f.groups[group] = g
	return true, nil
}

func (f *fakeCore) PatchForceSelector(ctx context.Context, group, proxy string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, "pin "+group+"="+proxy)
	if f.patchErr != nil {
		return false, f.patchErr
	}
	g, ok := f.groups[group]
	if f.reject || !ok {
		return false, nil
	}
	g.Fixed = proxy
	f.groups[group] = g
	return true, nil
}

func (f *fakeCore) HealthCheckGroup(ctx context.Context, group string) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health, nil
}

func (f *fakeCore) setNow(group, now string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.groups[group]
	g.Now = now
	f.groups[group] = g
}

func (f *fakeCore) setFixed(group, fixed string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := f.groups[group]
	g.Fixed = fixed
	f.groups[group] = g
}

type memStore struct {
	selections *memPairs
	pins       *memPairs
}

func newMemStore() *memStore {
	return &memStore{selections: &memPairs{data: map[string]map[string]string{}}, pins: &memPairs{data: map[string]map[string]string{}}}
}

func (s *memStore) Selections() repository.SelectionRepository { return memSelections{s.selections} }
func (s *memStore) Pins() repository.PinRepository             { return memPins{s.pins} }

type memPairs struct {
	mu      sync.Mutex
	data    map[string]map[string]string
	failSet error
}

func (p *memPairs) all(profileID string) map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[string]string{}
	for k, v := range p.data[profileID] {
		out[k] = v
	}
	return out
}

func (p *memPairs) set(profileID, group, proxy string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSet != nil {
		return p.failSet
	}
	if p.data[profileID] == nil {
		p.data[profileID] = map[string]string{}
	}
	p.data[profileID][group] = proxy
	return nil
}

func (p *memPairs) remove(profileID, group string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.data[profileID], group)
}

type memSelections struct{ p *memPairs }

func (m memSelections) All(ctx context.Context, profileID string) (map[string]string, error) {
	return m.p.all(profileID), nil
}

func (m memSelections) Set(ctx context.Context, s *repository.Selection) error {
	return m.p.set(s.ProfileID, s.GroupName, s.ProxyName)
}

func (m memSelections) DeleteByProfile(ctx context.Context, profileID string) error {
	m.p.mu.Lock()
	defer m.p.mu.Unlock()
	delete(m.p.data, profileID)
	return nil
}

type memPins struct{ p *memPairs }

func (m memPins) All(ctx context.Context, profileID string) (map[string]string, error) {
	return m.p.all(profileID), nil
}

func (m memPins) Set(ctx context.Context, pin *repository.Pin) error {
	return m.p.set(pin.ProfileID, pin.GroupName, pin.ProxyName)
}

func (m memPins) Remove(ctx context.Context, profileID, group string) error {
	m.p.remove(profileID, group)
	return nil
}

func newDelayCache() *cache.DelayCache {
	return cache.NewDelayCache(cache.NewStore(cache.Options{DefaultTTL: time.Minute, CleanupInterval: time.Minute}), time.Minute)
}

func newTestManager(t *testing.T, core Core, store SelectionStore) (*Manager, *cache.DelayCache) {
	t.Helper()
	delays := newDelayCache()
	return NewManager(Options{
		Core:   core,
		Delays: delays,
		Store:  store,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}), delays
}

// scenarioCore is "Proxy" (Selector on A) with A (URLTest on B).
func scenarioCore() *fakeCore {
	return newFakeCore(
		clash.Group{Name: "Proxy", Type: clash.TypeSelector, Now: "A", Proxies: []clash.Proxy{
			{Name: "A", Type: clash.TypeURLTest, Delay: -1},
			{Name: "B", Type: "Shadowsocks", Delay: 120},
		}},
		clash.Group{Name: "A", Type: clash.TypeURLTest, Now: "B", Proxies: []clash.Proxy{
			{Name: "B", Type: "Shadowsocks", Delay: 120},
		}},
	)
}

func findGroup(groups []GroupInfo, name string) (GroupInfo, bool) {
	for _, g := range groups {
		if g.Name == name {
			return g, true
		}
	}
	return GroupInfo{}, false
}

func findProxy(g GroupInfo, name string) (Proxy, bool) {
	for _, p := range g.Proxies {
		if p.Name == name {
			return p, true
		}
	}
	return Proxy{}, false
}
