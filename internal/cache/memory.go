package cache

import (
	"container/list"
	"regexp"
	"sync"
	"time"
)

const (
	DefaultMaxSize = 100
	DefaultTTL     = 5 * time.Minute
)

type MemoryConfig struct {
	MaxSize    int
	DefaultTTL time.Duration
	Now        func() time.Time
	OnEvict    func(key string, reason EvictReason)
}

// MemoryStore is a bounded key/value store with per-entry TTL and LRU eviction.
// The list front holds the most recently used entry.
type MemoryStore[V any] struct {
	mu          sync.Mutex
	entries     map[string]*list.Element
	lru         *list.List
	maxSize     int
	defaultTTL  time.Duration
	now         func() time.Time
	onEvict     func(key string, reason EvictReason)
	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

var _ Store[int] = (*MemoryStore[int])(nil)

func NewMemoryStore[V any](cfg MemoryConfig) *MemoryStore[V] {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MemoryStore[V]{
		entries:    make(map[string]*list.Element, cfg.MaxSize),
		lru:        list.New(),
		maxSize:    cfg.MaxSize,
		defaultTTL: cfg.DefaultTTL,
		now:        cfg.Now,
		onEvict:    cfg.OnEvict,
	}
}

func (m *MemoryStore[V]) Get(key string) (V, bool) {
	var zero V
	if m == nil {
		return zero, false
	}

	m.mu.Lock()
	el, ok := m.entries[key]
	if !ok {
		m.misses++
		m.mu.Unlock()
		return zero, false
	}
	e := el.Value.(*entry[V])
	if e.expired(m.now()) {
		m.removeLocked(el)
		m.misses++
		m.expirations++
		m.mu.Unlock()
		m.notify(key, EvictExpired)
		return zero, false
	}
	m.lru.MoveToFront(el)
	m.hits++
	value := e.value
	m.mu.Unlock()
	return value, true
}

func (m *MemoryStore[V]) Set(key string, value V, ttl time.Duration) {
	if m == nil {
		return
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	m.mu.Lock()
	now := m.now()
	if el, ok := m.entries[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.storedAt = now
		e.ttl = ttl
		m.lru.MoveToFront(el)
		m.mu.Unlock()
		return
	}

	var evicted string
	if len(m.entries) >= m.maxSize {
		if back := m.lru.Back(); back != nil {
			evicted = back.Value.(*entry[V]).key
			m.removeLocked(back)
			m.evictions++
		}
	}
	m.entries[key] = m.lru.PushFront(&entry[V]{key: key, value: value, storedAt: now, ttl: ttl})
	m.mu.Unlock()

	if evicted != "" {
		m.notify(evicted, EvictCapacity)
	}
}

func (m *MemoryStore[V]) Delete(key string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if el, ok := m.entries[key]; ok {
		m.removeLocked(el)
	}
	m.mu.Unlock()
}

// DeleteByPattern removes every key matched by pattern and returns how many were removed.
func (m *MemoryStore[V]) DeleteByPattern(pattern *regexp.Regexp) int {
	if m == nil || pattern == nil {
		return 0
	}

	m.mu.Lock()
	removed := make([]string, 0)
	for key, el := range m.entries {
		if pattern.MatchString(key) {
			m.removeLocked(el)
			removed = append(removed, key)
		}
	}
	m.mu.Unlock()

	for _, key := range removed {
		m.notify(key, EvictPattern)
	}
	return len(removed)
}

func (m *MemoryStore[V]) Clear() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.entries = make(map[string]*list.Element, m.maxSize)
	m.lru.Init()
	m.mu.Unlock()
}

// Cleanup removes every expired entry. Survivors keep their recency order.
func (m *MemoryStore[V]) Cleanup() int {
	if m == nil {
		return 0
	}

	m.mu.Lock()
	now := m.now()
	removed := make([]string, 0)
	for key, el := range m.entries {
		if el.Value.(*entry[V]).expired(now) {
			m.removeLocked(el)
			removed = append(removed, key)
		}
	}
	m.expirations += uint64(len(removed))
	m.mu.Unlock()

	for _, key := range removed {
		m.notify(key, EvictExpired)
	}
	return len(removed)
}

func (m *MemoryStore[V]) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		Size:        len(m.entries),
		MaxSize:     m.maxSize,
		Hits:        m.hits,
		Misses:      m.misses,
		Evictions:   m.evictions,
		Expirations: m.expirations,
	}
	if total := m.hits + m.misses; total > 0 {
		stats.HitRate = float64(m.hits) / float64(total)
	}
	return stats
}

func (m *MemoryStore[V]) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Keys returns keys from most to least recently used, expired entries included.
func (m *MemoryStore[V]) Keys() []string {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, m.lru.Len())
	for el := m.lru.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[V]).key)
	}
	return keys
}

func (m *MemoryStore[V]) removeLocked(el *list.Element) {
	delete(m.entries, el.Value.(*entry[V]).key)
	m.lru.Remove(el)
}

func (m *MemoryStore[V]) notify(key string, reason EvictReason) {
	if m.onEvict == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	m.onEvict(key, reason)
}
