// 文件路径: internal/cache/store.go
// 模块说明: 这是 internal 模块里的 store 逻辑，基于 go-cache 提供带过期时间与命名空间的内存缓存。
package cache

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Store 定义延迟缓存等组件共用的缓存接口。
type Store interface {
	Set(key string, value any, ttl time.Duration)
	Get(key string) (any, bool)
	// Items returns the unexpired entries of this namespace keyed without the prefix.
	Items() map[string]any
	// Flush removes every entry of this namespace.
	Flush()
	Namespace(prefix string) Store
}

// Options 配置内存缓存行为。
type Options struct {
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	Prefix          string
}

// NewStore 创建基于 go-cache 的缓存实现，并支持命名空间。
func NewStore(opts Options) Store {
	defaultTTL := opts.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	cleanup := opts.CleanupInterval
	if cleanup <= 0 {
		cleanup = defaultTTL
	}
	backend := gocache.New(defaultTTL, cleanup)

	return &goCacheStore{
		backend:    backend,
		defaultTTL: defaultTTL,
		prefix:     normalizePrefix(opts.Prefix),
	}
}

type goCacheStore struct {
	backend    *gocache.Cache
	defaultTTL time.Duration
	prefix     string
}

func (s *goCacheStore) Set(key string, value any, ttl time.Duration) {
	s.backend.Set(s.prefixed(key), value, s.normalizeTTL(ttl))
}

func (s *goCacheStore) Get(key string) (any, bool) {
	return s.backend.Get(s.prefixed(key))
}

func (s *goCacheStore) Items() map[string]any {
	now := time.Now().UnixNano()
	result := make(map[string]any)
	for key, item := range s.backend.Items() {
		if item.Expiration > 0 && now > item.Expiration {
			continue
		}
		name, ok := s.unprefixed(key)
		if !ok {
			continue
		}
		result[name] = item.Object
	}
	return result
}

func (s *goCacheStore) Flush() {
	if s.prefix == "" {
		s.backend.Flush()
		return
	}
	for key := range s.backend.Items() {
		if _, ok := s.unprefixed(key); ok {
			s.backend.Delete(key)
		}
	}
}

func (s *goCacheStore) Namespace(prefix string) Store {
	return &goCacheStore{
		backend:    s.backend,
		defaultTTL: s.defaultTTL,
		prefix:     joinPrefixes(s.prefix, prefix),
	}
}

func (s *goCacheStore) prefixed(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *goCacheStore) unprefixed(key string) (string, bool) {
	if s.prefix == "" {
		return key, true
	}
	if !strings.HasPrefix(key, s.prefix+":") {
		return "", false
	}
	return key[len(s.prefix)+1:], true
}

func (s *goCacheStore) normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.defaultTTL
	}
	return ttl
}

func normalizePrefix(prefix string) string {
	return strings.Trim(prefix, ": ")
}

func joinPrefixes(parts ...string) string {
	var normalized []string
	for _, part := range parts {
		trimmed := normalizePrefix(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return strings.Join(normalized, ":")
}
