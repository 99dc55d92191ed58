package obs

import (
	"sort"
	"sync"
	"time"
)

const (
	defaultTopK              = 20
	defaultRecomputeInterval = 10 * time.Second
	otherLabel               = "other"
)

type KeyCount struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// TopK tracks the most frequently observed values of an unbounded label so that only the
// leaders are exported verbatim and everything else collapses into "other".
type TopK struct {
	mu            sync.Mutex
	counts        map[string]int64
	top           map[string]struct{}
	k             int
	interval      time.Duration
	lastRecompute time.Time
	now           func() time.Time
}

func NewTopK(k int, interval time.Duration) *TopK {
	if k <= 0 {
		k = defaultTopK
	}
	if interval <= 0 {
		interval = defaultRecomputeInterval
	}
	return &TopK{
		counts:   make(map[string]int64),
		top:      make(map[string]struct{}),
		k:        k,
		interval: interval,
		now:      time.Now,
	}
}

func (t *TopK) Observe(value string) {
	if t == nil || value == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts[value]++
	if len(t.top) < t.k {
		t.top[value] = struct{}{}
	}
	if now := t.now(); now.Sub(t.lastRecompute) >= t.interval {
		t.recomputeLocked()
		t.lastRecompute = now
	}
}

// Canon returns value when it is currently a leader, otherwise "other".
func (t *TopK) Canon(value string) string {
	if t == nil || value == "" {
		return otherLabel
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.top[value]; ok {
		return value
	}
	return otherLabel
}

// Top returns up to n leaders ordered by count.
func (t *TopK) Top(n int) []KeyCount {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	items := make([]KeyCount, 0, len(t.top))
	for key := range t.top {
		items = append(items, KeyCount{Key: key, Count: t.counts[key]})
	}
	sortCounts(items)
	if n > 0 && n < len(items) {
		items = items[:n]
	}
	return items
}

// recomputeLocked rebuilds the leader set and forgets the long tail so counts stay bounded.
func (t *TopK) recomputeLocked() {
	items := make([]KeyCount, 0, len(t.counts))
	for key, count := range t.counts {
		items = append(items, KeyCount{Key: key, Count: count})
	}
	sortCounts(items)

	limit := t.k
	if limit > len(items) {
		limit = len(items)
	}
	t.top = make(map[string]struct{}, limit)
	for i := 0; i < limit; i++ {
		t.top[items[i].Key] = struct{}{}
	}

	if keep := 4 * t.k; len(items) > keep {
		for _, item := range items[keep:] {
			delete(t.counts, item.Key)
		}
	}
}

func sortCounts(items []KeyCount) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Count == items[j].Count {
			return items[i].Key < items[j].Key
		}
		return items[i].Count > items[j].Count
	})
}
