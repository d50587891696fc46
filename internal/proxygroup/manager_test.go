package proxygroup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/clashpilot/internal/clash"
	"github.com/creamcroissant/clashpilot/internal/repository"
)

var testProfile = &repository.Profile{ID: "profile-1", Name: "home"}

func TestRefreshGroupsEnrichesNestedGroups(t *testing.T) {
	m, _ := newTestManager(t, scenarioCore(), newMemStore())

	require.NoError(t, m.RefreshGroups(context.Background(), false, nil))

	groups := m.Groups().Value()
	require.Len(t, groups, 2)
	proxy, ok := findGroup(groups, "Proxy")
	require.True(t, ok)
	a, ok := findProxy(proxy, "A")
	require.True(t, ok)
	assert.Equal(t, "URLTest(B)", a.Subtitle)
	assert.Equal(t, 120, a.Delay)
	assert.Equal(t, []string{"Proxy", "A", "B"}, proxy.ChainPath)

	auto, _ := findGroup(groups, "A")
	assert.Equal(t, []string{"A", "B"}, auto.ChainPath)
}

func TestRefreshGroupsMergesLiveDelaysIntoCache(t *testing.T) {
	m, delays := newTestManager(t, scenarioCore(), newMemStore())
	delays.UpdateDelay("Stale", 300)

	require.NoError(t, m.RefreshGroups(context.Background(), true, nil))

	d, ok := delays.Delay("B")
	require.True(t, ok)
	assert.Equal(t, 120, d)
	_, ok = delays.Delay("A")
	assert.False(t, ok, "non-positive live delays are not cached")
}

func TestRefreshGroupsTracksStateWithoutProfile(t *testing.T) {
	store := newMemStore()
	m, _ := newTestManager(t, scenarioCore(), store)

	require.NoError(t, m.RefreshGroups(context.Background(), false, nil))

	st, ok := m.GroupState("Proxy")
	require.True(t, ok)
	assert.Equal(t, "A", st.Now)
	assert.Empty(t, store.selections.all(testProfile.ID))
}

func TestRefreshGroupsPersistsObservedChanges(t *testing.T) {
	core := scenarioCore()
	store := newMemStore()
	m, _ := newTestManager(t, core, store)
	ctx := context.Background()

	require.NoError(t, m.RefreshGroups(ctx, false, testProfile))
	assert.Equal(t, map[string]string{"Proxy": "A"}, store.selections.all(testProfile.ID), "only Selector groups are recorded")

	core.setNow("Proxy", "B")
	core.setFixed("A", "B")
	require.NoError(t, m.RefreshGroups(ctx, false, testProfile))
	assert.Equal(t, "B", store.selections.all(testProfile.ID)["Proxy"])
	assert.Equal(t, map[string]string{"A": "B"}, store.pins.all(testProfile.ID))

	core.setFixed("A", "")
	require.NoError(t, m.RefreshGroups(ctx, false, testProfile))
	assert.Empty(t, store.pins.all(testProfile.ID))
}

func TestRefreshGroupsFirstObservationKeepsStoredPins(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.pins.set(testProfile.ID, "A", "B"))
	m, _ := newTestManager(t, scenarioCore(), store)

	require.NoError(t, m.RefreshGroups(context.Background(), false, testProfile))
	assert.Equal(t, map[string]string{"A": "B"}, store.pins.all(testProfile.ID))
}

func TestRefreshGroupsFailureKeepsPublishedList(t *testing.T) {
	core := scenarioCore()
	m, _ := newTestManager(t, core, newMemStore())
	ctx := context.Background()
	require.NoError(t, m.RefreshGroups(ctx, false, nil))
	before := m.Groups().Value()
	version := m.Groups().Version()

	core.setNow("Proxy", "B")
	core.failGroup = "A"
	err := m.RefreshGroups(ctx, false, nil)
	require.Error(t, err)

	assert.Equal(t, version, m.Groups().Version())
	assert.Equal(t, before, m.Groups().Value())
	st, _ := m.GroupState("Proxy")
	assert.Equal(t, "A", st.Now, "state is not committed on failure")
}

func TestRefreshGroupsPersistFailureCommitsNothing(t *testing.T) {
	store := newMemStore()
	store.selections.failSet = errors.New("disk full")
	m, _ := newTestManager(t, scenarioCore(), store)

	err := m.RefreshGroups(context.Background(), false, testProfile)
	require.Error(t, err)
	_, ok := m.GroupState("Proxy")
	assert.False(t, ok)
	assert.Nil(t, m.Groups().Value())
}

func TestConcurrentRefreshesPublishWholeSnapshots(t *testing.T) {
	names := []string{"G1", "G2", "G3", "G4", "G5"}
	core := newFakeCore()
	core.names = names
	core.dynamic = func(name string, gen int) clash.Group {
		return clash.Group{Name: name, Type: clash.TypeSelector, Now: fmt.Sprintf("n%d", gen)}
	}
	m, _ := newTestManager(t, core, newMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := m.Groups().Subscribe(ctx)

	var observed [][]GroupInfo
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for list := range updates {
			observed = append(observed, list)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.RefreshGroups(context.Background(), false, nil))
		}()
	}
	wg.Wait()
	final := m.Groups().Value()
	cancel()
	<-collected

	observed = append(observed, final)
	for _, list := range observed {
		if list == nil {
			continue
		}
		require.Len(t, list, len(names))
		for _, g := range list {
			assert.Equal(t, list[0].Now, g.Now, "published list mixes refresh results")
		}
	}
}

func TestSelectProxyThenRestoreOnFreshManager(t *testing.T) {
	core := scenarioCore()
	store := newMemStore()
	m, _ := newTestManager(t, core, store)
	ctx := context.Background()
	require.NoError(t, m.RefreshGroups(ctx, false, testProfile))

	require.True(t, m.SelectProxy(ctx, "Proxy", "B", testProfile))
	st, _ := m.GroupState("Proxy")
	assert.Equal(t, "B", st.Now)

	core.setNow("Proxy", "A")
	fresh, _ := newTestManager(t, core, store)
	fresh.RestoreSelections(ctx, testProfile.ID)

	st, ok := fresh.GroupState("Proxy")
	require.True(t, ok)
	assert.Equal(t, "B", st.Now)
}

func TestSelectProxyUpdatesPublishedListOptimistically(t *testing.T) {
	m, _ := newTestManager(t, scenarioCore(), newMemStore())
	ctx := context.Background()
	require.NoError(t, m.RefreshGroups(ctx, false, nil))

	require.True(t, m.SelectProxy(ctx, "Proxy", "B", nil))

	proxy, _ := findGroup(m.Groups().Value(), "Proxy")
	assert.Equal(t, "B", proxy.Now)
	assert.Equal(t, []string{"Proxy", "B"}, proxy.ChainPath)
}

func TestSelectProxyRejectedLeavesState(t *testing.T) {
	core := scenarioCore()
	store := newMemStore()
	m, _ := newTestManager(t, core, store)
	ctx := context.Background()
	require.NoError(t, m.RefreshGroups(ctx, false, nil))
	version := m.Groups().Version()

	core.reject = true
	assert.False(t, m.SelectProxy(ctx, "Proxy", "B", testProfile))
	core.reject = false
	core.patchErr = errors.New("connection refused")
	assert.False(t, m.SelectProxy(ctx, "Proxy", "B", testProfile))

	st, _ := m.GroupState("Proxy")
	assert.Equal(t, "A", st.Now)
	assert.Equal(t, version, m.Groups().Version())
	assert.Empty(t, store.selections.all(testProfile.ID))
}

func TestSelectProxyPersistFailureKeepsMemoryUntouched(t *testing.T) {
	store := newMemStore()
	m, _ := newTestManager(t, scenarioCore(), store)
	ctx := context.Background()
	require.NoError(t, m.RefreshGroups(ctx, false, nil))

	store.selections.failSet = errors.New("readonly database")
	assert.False(t, m.SelectProxy(ctx, "Proxy", "B", testProfile))
	st, _ := m.GroupState("Proxy")
	assert.Equal(t, "A", st.Now)
}

func TestForceSelectBlankFallsBackToLiveNow(t *testing.T) {
	core := scenarioCore()
	core.setNow("Proxy", "NodeB")
	store := newMemStore()
	m, _ := newTestManager(t, core, store)
	ctx := context.Background()
	require.NoError(t, m.RefreshGroups(ctx, false, testProfile))

	require.True(t, m.ForceSelectProxy(ctx, "Proxy", "A", testProfile))
	st, _ := m.GroupState("Proxy")
	assert.Equal(t, GroupState{Now: "A", Fixed: "A", LastUpdate: st.LastUpdate}, st)
	assert.Equal(t, map[string]string{"Proxy": "A"}, store.pins.all(testProfile.ID))

	require.True(t, m.ForceSelectProxy(ctx, "Proxy", "", testProfile))
	st, _ = m.GroupState("Proxy")
	assert.Equal(t, "NodeB", st.Now)
	assert.Equal(t, "", st.Fixed)
	assert.Empty(t, store.pins.all(testProfile.ID))

	proxy, _ := findGroup(m.Groups().Value(), "Proxy")
	assert.Equal(t, "NodeB", proxy.Now)
	assert.Empty(t, proxy.Fixed)
}

func TestRefreshSingleGroupSelectionIgnoresUnknownGroup(t *testing.T) {
	m, _ := newTestManager(t, scenarioCore(), newMemStore())
	require.NoError(t, m.RefreshGroups(context.Background(), false, nil))
	version := m.Groups().Version()

	m.RefreshSingleGroupSelection("Missing", "X", nil)
	assert.Equal(t, version, m.Groups().Version())
}

func TestRefreshSingleGroupSelectionRebuildsDependentChains(t *testing.T) {
	core := scenarioCore()
	m, _ := newTestManager(t, core, newMemStore())
	require.NoError(t, m.RefreshGroups(context.Background(), false, nil))

	fixed := "C"
	m.RefreshSingleGroupSelection("A", "C", &fixed)

	groups := m.Groups().Value()
	a, _ := findGroup(groups, "A")
	assert.Equal(t, "C", a.Now)
	assert.Equal(t, "C", a.Fixed)
	proxy, _ := findGroup(groups, "Proxy")
	assert.Equal(t, []string{"Proxy", "A", "C"}, proxy.ChainPath)
	member, _ := findProxy(proxy, "A")
	assert.Equal(t, "URLTest(C)", member.Subtitle)
	assert.Equal(t, 120, member.Delay, "previously resolved delay is preserved")
}

func TestRestoreSelectionsIsBestEffort(t *testing.T) {
	core := scenarioCore()
	store := newMemStore()
	require.NoError(t, store.selections.set(testProfile.ID, "A", "B"))
	require.NoError(t, store.selections.set(testProfile.ID, "Gone", "X"))
	require.NoError(t, store.selections.set(testProfile.ID, "Proxy", "B"))
	require.NoError(t, store.pins.set(testProfile.ID, "A", "B"))
	require.NoError(t, store.pins.set(testProfile.ID, "Missing", "Y"))
	m, _ := newTestManager(t, core, store)

	m.RestoreSelections(context.Background(), testProfile.ID)

	st, ok := m.GroupState("Proxy")
	require.True(t, ok)
	assert.Equal(t, "B", st.Now)
	st, ok = m.GroupState("A")
	require.True(t, ok)
	assert.Equal(t, "B", st.Fixed)
	_, ok = m.GroupState("Gone")
	assert.False(t, ok)

	core.mu.Lock()
	defer core.mu.Unlock()
	assert.NotContains(t, core.patches, "select A=B", "selections only replay into Selector groups")
	assert.Contains(t, core.patches, "pin A=B")
	assert.Contains(t, core.patches, "pin Missing=Y")
}

func TestClearGroupStates(t *testing.T) {
	m, _ := newTestManager(t, scenarioCore(), newMemStore())
	require.NoError(t, m.RefreshGroups(context.Background(), false, nil))

	m.ClearGroupStates()
	_, ok := m.GroupState("Proxy")
	assert.False(t, ok)
}

func TestTestGroupDelayRefreshesDisplayedDelays(t *testing.T) {
	core := scenarioCore()
	m, delays := newTestManager(t, core, newMemStore())
	require.NoError(t, m.RefreshGroups(context.Background(), false, nil))

	core.health = map[string]int{"B": 42}
	require.NoError(t, m.TestGroupDelay(context.Background(), "A"))

	d, _ := delays.Delay("B")
	assert.Equal(t, 42, d)
	proxy, _ := findGroup(m.Groups().Value(), "Proxy")
	a, _ := findProxy(proxy, "A")
	assert.Equal(t, 42, a.Delay)
}

func TestRefreshDelaysOnlyWithoutPublishedListIsNoop(t *testing.T) {
	m, _ := newTestManager(t, scenarioCore(), newMemStore())
	m.RefreshDelaysOnly()
	assert.Zero(t, m.Groups().Version())
}
