// Package clash talks to a Clash-compatible core through its external controller.
package clash

import "strings"

// GroupType is the kind reported in the "type" field of a proxy.
type GroupType string

const (
	TypeSelector    GroupType = "Selector"
	TypeURLTest     GroupType = "URLTest"
	TypeFallback    GroupType = "Fallback"
	TypeLoadBalance GroupType = "LoadBalance"
	TypeRelay       GroupType = "Relay"
	TypeDirect      GroupType = "Direct"
	TypeReject      GroupType = "Reject"
	TypeRejectDrop  GroupType = "RejectDrop"
	TypeCompatible  GroupType = "Compatible"
	TypePass        GroupType = "Pass"
)

// IsGroup reports whether the type aggregates other proxies.
func (t GroupType) IsGroup() bool {
	switch t {
	case TypeSelector, TypeURLTest, TypeFallback, TypeLoadBalance, TypeRelay:
		return true
	}
	return false
}

// Pinnable reports whether the core accepts a forced member for this type.
func (t GroupType) Pinnable() bool {
	switch t {
	case TypeSelector, TypeURLTest, TypeFallback:
		return true
	}
	return false
}

// ParseGroupType normalizes the casing used by different cores.
func ParseGroupType(raw string) GroupType {
	for _, known := range []GroupType{
		TypeSelector, TypeURLTest, TypeFallback, TypeLoadBalance, TypeRelay,
		TypeDirect, TypeReject, TypeRejectDrop, TypeCompatible, TypePass,
	} {
		if strings.EqualFold(raw, string(known)) {
			return known
		}
	}
	return GroupType(raw)
}

// Delay sentinels. Positive values are measured milliseconds.
const (
	DelayUnknown   = -1
	DelayNotTested = 0
	// DelayFailed marks a probe that did not complete; it is above any timeout threshold.
	DelayFailed = 65535
)

// Proxy is a member of a group as reported by the core.
type Proxy struct {
	Name  string    `json:"name"`
	Type  GroupType `json:"type"`
	Delay int       `json:"delay"`
}

// Group is the live state of one group.
type Group struct {
	Name    string    `json:"name"`
	Type    GroupType `json:"type"`
	Now     string    `json:"now"`
	Fixed   string    `json:"fixed"`
	Proxies []Proxy   `json:"proxies"`
}

// SortOrder controls member ordering inside a group.
type SortOrder string

const (
	SortDefault SortOrder = "default"
	SortTitle   SortOrder = "title"
	SortDelay   SortOrder = "delay"
)

// ParseSortOrder falls back to SortDefault for unknown values.
func ParseSortOrder(raw string) SortOrder {
	switch SortOrder(strings.ToLower(strings.TrimSpace(raw))) {
	case SortTitle:
		return SortTitle
	case SortDelay:
		return SortDelay
	default:
		return SortDefault
	}
}

// Traffic is a pair of byte counters.
type Traffic struct {
	Up   int64 `json:"up"`
	Down int64 `json:"down"`
}

// TrafficTotal is the cumulative traffic since the core started.
type TrafficTotal struct {
	Up          int64 `json:"up"`
	Down        int64 `json:"down"`
	Connections int   `json:"connections"`
}

// TunnelState is the subset of /configs the client cares about.
type TunnelState struct {
	Mode       string `json:"mode"`
	TunEnabled bool   `json:"tun_enabled"`
	MixedPort  int    `json:"mixed_port"`
}

// LogEntry is one line of the core's log stream.
type LogEntry struct {
	Level   string `json:"level"`
	Payload string `json:"payload"`
	Time    int64  `json:"time"`
}

type proxyPayload struct {
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	Now     string         `json:"now"`
	Fixed   string         `json:"fixed"`
	All     []string       `json:"all"`
	Hidden  bool           `json:"hidden"`
	History []delayHistory `json:"history"`
}

type delayHistory struct {
	Time  string `json:"time"`
	Delay int    `json:"delay"`
}

type proxiesPayload struct {
	Proxies map[string]proxyPayload `json:"proxies"`
}

func (p proxyPayload) lastDelay() int {
	if len(p.History) == 0 {
		return DelayNotTested
	}
	last := p.History[len(p.History)-1].Delay
	if last <= 0 {
		return DelayFailed
	}
	return last
}
