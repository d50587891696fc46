package clash

import (
	"sort"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

type sorter struct {
	mu       sync.Mutex
	collator *collate.Collator
}

func newSorter(locale string) *sorter {
	tag := language.English
	if locale != "" {
		if parsed, err := language.Parse(locale); err == nil {
			tag = parsed
		}
	}
	return &sorter{collator: collate.New(tag, collate.Loose, collate.Numeric)}
}

// sortProxies orders members in place. SortDelay puts unmeasured members last.
func (s *sorter) sortProxies(proxies []Proxy, order SortOrder) {
	switch order {
	case SortTitle:
		// Collator buffers are not safe for concurrent use.
		s.mu.Lock()
		defer s.mu.Unlock()
		sort.SliceStable(proxies, func(i, j int) bool {
			return s.collator.CompareString(proxies[i].Name, proxies[j].Name) < 0
		})
	case SortDelay:
		sort.SliceStable(proxies, func(i, j int) bool {
			return delayRank(proxies[i].Delay) < delayRank(proxies[j].Delay)
		})
	}
}

func delayRank(delay int) int {
	if delay <= 0 {
		return int(^uint(0) >> 1)
	}
	return delay
}
