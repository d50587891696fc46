package proxygroup

import (
	"fmt"

	"github.com/creamcroissant/clashpilot/internal/clash"
)

// GroupSnapshot is the part of a group needed to follow selections.
type GroupSnapshot struct {
	Type  clash.GroupType
	Now   string
	Fixed string
}

// StateLookup returns locally tracked state for a group.
type StateLookup func(name string) (GroupState, bool)

// BuildProxyChain returns [group, current, ...] following each node's selection.
// A node's now is taken from groups, or from states when the map entry is blank.
// The walk stops at a node without a selection or at the first repeated name.
func BuildProxyChain(group, current string, groups map[string]GroupSnapshot, states StateLookup) []string {
	path := []string{group}
	visited := map[string]struct{}{group: {}}
	node := current
	for node != "" {
		if _, seen := visited[node]; seen {
			return path
		}
		visited[node] = struct{}{}
		path = append(path, node)
		node = nextHop(node, groups, states)
	}
	return path
}

func nextHop(name string, groups map[string]GroupSnapshot, states StateLookup) string {
	if snap, ok := groups[name]; ok && snap.Now != "" {
		return snap.Now
	}
	if states != nil {
		if st, ok := states(name); ok {
			return st.Now
		}
	}
	return ""
}

// resolveRecursiveDelay follows selections from name and returns the first positive
// delay found deepest in the chain, falling back to name's own entry.
func resolveRecursiveDelay(name string, delays map[string]int, next func(string) string, visited map[string]struct{}) (int, bool) {
	if _, seen := visited[name]; seen {
		return 0, false
	}
	visited[name] = struct{}{}

	if child := next(name); child != "" {
		if d, ok := resolveRecursiveDelay(child, delays, next, visited); ok && d > 0 {
			return d, true
		}
	}
	if d, ok := delays[name]; ok && d > 0 {
		return d, true
	}
	return 0, false
}

// enrich turns raw group snapshots into published group infos.
func enrich(groups []clash.Group, delays map[string]int, states StateLookup) []GroupInfo {
	snapshots := make(map[string]GroupSnapshot, len(groups))
	for _, g := range groups {
		snapshots[g.Name] = GroupSnapshot{Type: g.Type, Now: g.Now, Fixed: g.Fixed}
	}
	next := func(name string) string { return nextHop(name, snapshots, states) }

	infos := make([]GroupInfo, 0, len(groups))
	for _, g := range groups {
		info := GroupInfo{
			Name:      g.Name,
			Type:      g.Type,
			Now:       g.Now,
			Fixed:     g.Fixed,
			Proxies:   make([]Proxy, 0, len(g.Proxies)),
			ChainPath: []string{},
		}
		for _, p := range g.Proxies {
			entry := Proxy{Name: p.Name, Type: p.Type, Delay: p.Delay}
			if d, ok := delays[p.Name]; ok && d > 0 {
				entry.Delay = d
			}
			if p.Type.IsGroup() {
				if child := next(p.Name); child != "" {
					entry.Subtitle = fmt.Sprintf("%s(%s)", p.Type, child)
				}
				if d, ok := resolveRecursiveDelay(p.Name, delays, next, map[string]struct{}{}); ok {
					entry.Delay = d
				}
			}
			info.Proxies = append(info.Proxies, entry)
		}
		if g.Type.IsGroup() && g.Now != "" {
			info.ChainPath = BuildProxyChain(g.Name, g.Now, snapshots, states)
		}
		infos = append(infos, info)
	}
	return infos
}

// toGroups converts a published list back into raw snapshots for re-enrichment.
func toGroups(infos []GroupInfo) []clash.Group {
	groups := make([]clash.Group, 0, len(infos))
	for _, info := range infos {
		g := clash.Group{
			Name:    info.Name,
			Type:    info.Type,
			Now:     info.Now,
			Fixed:   info.Fixed,
			Proxies: make([]clash.Proxy, 0, len(info.Proxies)),
		}
		for _, p := range info.Proxies {
			g.Proxies = append(g.Proxies, clash.Proxy{Name: p.Name, Type: p.Type, Delay: p.Delay})
		}
		groups = append(groups, g)
	}
	return groups
}
