package clash

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
)

const globalGroup = "GLOBAL"

// loadProxies returns the /proxies payload, reusing a recent one unless fresh is set.
func (c *Client) loadProxies(ctx context.Context, fresh bool) (map[string]proxyPayload, error) {
	c.snapMu.Lock()
	if !fresh && c.snapshot != nil && c.snapshotTTL > 0 && c.now().Sub(c.snapshotAt) < c.snapshotTTL {
		snap := c.snapshot
		c.snapMu.Unlock()
		return snap, nil
	}
	c.snapMu.Unlock()

	var payload proxiesPayload
	if err := c.get(ctx, "/proxies", nil, &payload); err != nil {
		return nil, err
	}
	if payload.Proxies == nil {
		payload.Proxies = map[string]proxyPayload{}
	}

	c.snapMu.Lock()
	c.snapshot = payload.Proxies
	c.snapshotAt = c.now()
	c.snapMu.Unlock()
	return payload.Proxies, nil
}

func (c *Client) invalidateSnapshot() {
	c.snapMu.Lock()
	c.snapshot = nil
	c.snapMu.Unlock()
}

// QueryGroupNames lists group names in the order of the GLOBAL group.
// Groups missing from GLOBAL follow in name order. Hidden groups and GLOBAL itself are skipped.
func (c *Client) QueryGroupNames(ctx context.Context, excludeNotSelectable bool) ([]string, error) {
	proxies, err := c.loadProxies(ctx, true)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(proxies))
	names := make([]string, 0, len(proxies))
	accept := func(name string) {
		if _, dup := seen[name]; dup || name == globalGroup {
			return
		}
		p, ok := proxies[name]
		if !ok || p.Hidden {
			return
		}
		kind := ParseGroupType(p.Type)
		if !kind.IsGroup() {
			return
		}
		if excludeNotSelectable && kind != TypeSelector {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	if global, ok := proxies[globalGroup]; ok {
		for _, name := range global.All {
			accept(name)
		}
	}
	rest := make([]string, 0)
	for name := range proxies {
		if _, ok := seen[name]; !ok {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		accept(name)
	}
	return names, nil
}

// QueryGroup returns the live state of one group with its members ordered by order.
func (c *Client) QueryGroup(ctx context.Context, name string, order SortOrder) (Group, error) {
	proxies, err := c.loadProxies(ctx, false)
	if err != nil {
		return Group{}, err
	}
	p, ok := proxies[name]
	if !ok {
		return Group{}, fmt.Errorf("%w: %s", ErrGroupNotFound, name)
	}
	kind := ParseGroupType(p.Type)
	if !kind.IsGroup() {
		return Group{}, fmt.Errorf("%w: %s", ErrNotGroup, name)
	}

	group := Group{
		Name:    name,
		Type:    kind,
		Now:     p.Now,
		Fixed:   p.Fixed,
		Proxies: make([]Proxy, 0, len(p.All)),
	}
	for _, member := range p.All {
		entry := Proxy{Name: member, Delay: DelayUnknown}
		if mp, ok := proxies[member]; ok {
			entry.Type = ParseGroupType(mp.Type)
			entry.Delay = mp.lastDelay()
		}
		group.Proxies = append(group.Proxies, entry)
	}
	c.sorter.sortProxies(group.Proxies, order)
	return group, nil
}

// PatchSelector switches a Selector group. A rejection by the core is reported as false.
func (c *Client) PatchSelector(ctx context.Context, group, proxy string) (bool, error) {
	return c.putSelection(ctx, group, proxy)
}

// PatchForceSelector pins a member of a group. A blank proxy clears the pin.
func (c *Client) PatchForceSelector(ctx context.Context, group, proxy string) (bool, error) {
	if proxy == "" {
		err := c.do(ctx, http.MethodDelete, "/proxies"+escapeName(group), nil, nil, nil)
		c.invalidateSnapshot()
		return acceptance(err)
	}
	return c.putSelection(ctx, group, proxy)
}

func (c *Client) putSelection(ctx context.Context, group, proxy string) (bool, error) {
	body := map[string]string{"name": proxy}
	err := c.do(ctx, http.MethodPut, "/proxies"+escapeName(group), nil, body, nil)
	c.invalidateSnapshot()
	return acceptance(err)
}

func acceptance(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if IsRejected(err) {
		return false, nil
	}
	return false, err
}

// HealthCheckGroup asks the core to probe every member of a group.
// The result maps member names to delays; members that failed are absent.
func (c *Client) HealthCheckGroup(ctx context.Context, group string) (map[string]int, error) {
	query := url.Values{}
	query.Set("url", c.delayURL)
	query.Set("timeout", strconv.FormatInt(c.delayTimeout.Milliseconds(), 10))

	result := map[string]int{}
	err := c.do(ctx, http.MethodGet, "/group"+escapeName(group)+"/delay", query, nil, &result)
	c.invalidateSnapshot()
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, group)
		}
		return nil, err
	}
	return result, nil
}
