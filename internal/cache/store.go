package cache

import "time"

type EvictReason string

const (
	EvictCapacity EvictReason = "capacity"
	EvictExpired  EvictReason = "expired"
	EvictPattern  EvictReason = "pattern"
)

// Store is the part of the memory store the read-through layer depends on.
type Store[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V, ttl time.Duration)
	Delete(key string)
}

type Stats struct {
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
	HitRate     float64 `json:"hit_rate"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
}

type entry[V any] struct {
	key      string
	value    V
	storedAt time.Time
	ttl      time.Duration
}

// expired reports whether the entry is past its TTL. An entry aged exactly ttl is still live.
func (e *entry[V]) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}
