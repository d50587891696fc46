package proxygroup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/creamcroissant/clashpilot/internal/clash"
)

func TestBuildProxyChainStopsOnCycle(t *testing.T) {
	groups := map[string]GroupSnapshot{
		"A": {Type: clash.TypeSelector, Now: "B"},
		"B": {Type: clash.TypeSelector, Now: "A"},
	}
	path := BuildProxyChain("A", "B", groups, nil)
	assert.Equal(t, []string{"A", "B"}, path)
	assert.LessOrEqual(t, len(path), len(groups))
}

func TestBuildProxyChainSelfLoop(t *testing.T) {
	groups := map[string]GroupSnapshot{"A": {Type: clash.TypeSelector, Now: "A"}}
	assert.Equal(t, []string{"A"}, BuildProxyChain("A", "A", groups, nil))
}

func TestBuildProxyChainFallsBackToTrackedState(t *testing.T) {
	groups := map[string]GroupSnapshot{
		"Proxy": {Type: clash.TypeSelector, Now: "Auto"},
		"Auto":  {Type: clash.TypeURLTest},
	}
	states := func(name string) (GroupState, bool) {
		if name == "Auto" {
			return GroupState{Now: "HK"}, true
		}
		return GroupState{}, false
	}
	assert.Equal(t, []string{"Proxy", "Auto", "HK"}, BuildProxyChain("Proxy", "Auto", groups, states))
}

func TestResolveRecursiveDelayPrefersDescendedValue(t *testing.T) {
	next := func(name string) string {
		if name == "A" {
			return "B"
		}
		return ""
	}
	delays := map[string]int{"A": 999, "B": 50}

	d, ok := resolveRecursiveDelay("A", delays, next, map[string]struct{}{})
	assert.True(t, ok)
	assert.Equal(t, 50, d)
}

func TestResolveRecursiveDelayFallsBackToDirectEntry(t *testing.T) {
	next := func(name string) string {
		if name == "A" {
			return "B"
		}
		return ""
	}
	d, ok := resolveRecursiveDelay("A", map[string]int{"A": 999, "B": 0}, next, map[string]struct{}{})
	assert.True(t, ok)
	assert.Equal(t, 999, d)

	_, ok = resolveRecursiveDelay("A", map[string]int{}, next, map[string]struct{}{})
	assert.False(t, ok)
}

func TestResolveRecursiveDelayTerminatesOnCycle(t *testing.T) {
	next := func(name string) string {
		return map[string]string{"A": "B", "B": "A"}[name]
	}
	_, ok := resolveRecursiveDelay("A", map[string]int{}, next, map[string]struct{}{})
	assert.False(t, ok)

	d, ok := resolveRecursiveDelay("A", map[string]int{"B": 70}, next, map[string]struct{}{})
	assert.True(t, ok)
	assert.Equal(t, 70, d)
}

func TestEnrichUsesChildDelayOverStaleDirect(t *testing.T) {
	groups := []clash.Group{
		{Name: "Top", Type: clash.TypeSelector, Now: "A", Proxies: []clash.Proxy{{Name: "A", Type: clash.TypeSelector, Delay: -1}}},
		{Name: "A", Type: clash.TypeSelector, Now: "B", Proxies: []clash.Proxy{{Name: "B", Type: "Trojan", Delay: 0}}},
	}
	infos := enrich(groups, map[string]int{"A": 999, "B": 50}, nil)

	top, ok := findGroup(infos, "Top")
	assert.True(t, ok)
	assert.Equal(t, 50, top.Proxies[0].Delay)
	assert.Equal(t, "Selector(B)", top.Proxies[0].Subtitle)
	assert.Equal(t, []string{"Top", "A", "B"}, top.ChainPath)
}

func TestEnrichLeavesChainEmptyForBlankNow(t *testing.T) {
	infos := enrich([]clash.Group{{Name: "LB", Type: clash.TypeLoadBalance}}, nil, nil)
	assert.Empty(t, infos[0].ChainPath)
	assert.NotNil(t, infos[0].ChainPath)
}
