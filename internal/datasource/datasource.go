package datasource

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"zendesk_datasource/internal/cache"
	"zendesk_datasource/internal/obs"
	"zendesk_datasource/internal/query"
)

const defaultBatchConcurrency = 8

var ErrClosed = errors.New("datasource closed")

// Pinger probes the upstream API for health reporting.
type Pinger interface {
	TestConnection(ctx context.Context) error
}

type CacheConfig struct {
	MaxSize         int
	DefaultTTL      time.Duration
	CleanupInterval time.Duration
	// TTLByKind overrides DefaultTTL for individual query kinds.
	TTLByKind map[query.Kind]time.Duration
}

type Config struct {
	API              query.API
	Pinger           Pinger
	Cache            CacheConfig
	Batch            cache.BatcherConfig
	BatchConcurrency int
	Metrics          *obs.Metrics
	Logger           *log.Logger
	Now              func() time.Time
}

// DefaultTTLByKind shortens single-ticket and aggregate lookups and keeps slow-moving
// organization data longer.
func DefaultTTLByKind() map[query.Kind]time.Duration {
	return map[query.Kind]time.Duration{
		query.KindTicketByID:    time.Minute,
		query.KindStats:         time.Minute,
		query.KindOrganizations: 15 * time.Minute,
		query.KindOrgStats:      15 * time.Minute,
	}
}

// Datasource answers structured queries from cache, coalescing concurrent misses into
// one upstream call per distinct query.
type Datasource struct {
	api         query.API
	pinger      Pinger
	cache       *cache.Cache[query.Query, query.Result]
	janitor     *cache.Janitor
	ttl         map[query.Kind]time.Duration
	defaultTTL  time.Duration
	concurrency int
	metrics     *obs.Metrics
	logger      *log.Logger
	now         func() time.Time

	mu     sync.RWMutex
	closed bool
}

func New(cfg Config) (*Datasource, error) {
	if cfg.API == nil {
		return nil, errors.New("datasource api is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = obs.NopLogger()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	concurrency := cfg.BatchConcurrency
	if concurrency <= 0 {
		concurrency = defaultBatchConcurrency
	}
	defaultTTL := cfg.Cache.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = cache.DefaultTTL
	}

	ds := &Datasource{
		api:         cfg.API,
		pinger:      cfg.Pinger,
		ttl:         make(map[query.Kind]time.Duration, len(cfg.Cache.TTLByKind)),
		defaultTTL:  defaultTTL,
		concurrency: concurrency,
		metrics:     cfg.Metrics,
		logger:      logger,
		now:         now,
	}
	for kind, ttl := range cfg.Cache.TTLByKind {
		if ttl > 0 {
			ds.ttl[kind] = ttl
		}
	}

	store := cache.NewMemoryStore[query.Result](cache.MemoryConfig{
		MaxSize:    cfg.Cache.MaxSize,
		DefaultTTL: defaultTTL,
		Now:        now,
		OnEvict: func(key string, reason cache.EvictReason) {
			ds.metrics.RecordEviction(string(reason))
			ds.logger.Debug("cache entry removed", "key", key, "reason", reason)
		},
	})

	batch := cfg.Batch
	userOnBatch := batch.OnBatch
	batch.OnBatch = func(ev cache.BatchEvent) {
		kind := string(query.KindFromKey(ev.Key))
		ds.metrics.ObserveBatch(kind, string(ev.Trigger), ev.Size, ev.Err, ev.Duration)
		if ev.Err != nil {
			ds.logger.Warn("upstream batch failed", "kind", kind, "callers", ev.Size, "trigger", ev.Trigger, "err", ev.Err)
		} else {
			ds.logger.Debug("upstream batch completed", "kind", kind, "callers", ev.Size, "trigger", ev.Trigger, "duration", ev.Duration)
		}
		if userOnBatch != nil {
			userOnBatch(ev)
		}
	}

	ds.cache = cache.NewCache(store, ds.fetchBatch, query.Key, ds.TTLFor, batch)
	ds.janitor = cache.StartJanitor(context.Background(), store, cfg.Cache.CleanupInterval, func(removed int) {
		ds.metrics.SetCacheSize(store.Len())
		if removed > 0 {
			ds.logger.Debug("expired cache entries swept", "removed", removed)
		}
	})
	return ds, nil
}

// fetchBatch serves one closed window. Every request in it shares a fingerprint, so a
// single upstream call answers all of them.
func (d *Datasource) fetchBatch(ctx context.Context, reqs []query.Query) ([]query.Result, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	result, err := query.Execute(ctx, d.api, reqs[0])
	if err != nil {
		return nil, err
	}
	results := make([]query.Result, len(reqs))
	for i := range results {
		results[i] = result
	}
	return results, nil
}

// TTLFor returns the cache lifetime applied to results of q.
func (d *Datasource) TTLFor(q query.Query) time.Duration {
	if q == nil {
		return d.defaultTTL
	}
	if ttl, ok := d.ttl[q.Kind()]; ok {
		return ttl
	}
	return d.defaultTTL
}

// Query validates q and answers it from cache or from a coalesced upstream call.
func (d *Datasource) Query(ctx context.Context, q query.Query) (query.Result, cache.Status, error) {
	if q == nil {
		return query.Result{}, cache.StatusError, query.ErrMissingKind
	}
	if err := q.Validate(); err != nil {
		return query.Result{}, cache.StatusError, err
	}
	if d.isClosed() {
		return query.Result{}, cache.StatusError, ErrClosed
	}

	key := query.Key(q)
	result, status, err := d.cache.Fetch(ctx, q)
	d.metrics.RecordCacheLookup(string(q.Kind()), string(status), key)
	d.metrics.SetCacheSize(d.cache.Store.Len())
	if err != nil {
		return query.Result{}, status, err
	}
	return result, status, nil
}

type Outcome struct {
	Result *query.Result `json:"result,omitempty"`
	Status cache.Status  `json:"cache_status"`
	Error  string        `json:"error,omitempty"`
}

// QueryBatch runs every query concurrently. Outcome i always answers qs[i].
func (d *Datasource) QueryBatch(ctx context.Context, qs []query.Query) []Outcome {
	outcomes := make([]Outcome, len(qs))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.concurrency)

	for i, q := range qs {
		group.Go(func() error {
			result, status, err := d.Query(groupCtx, q)
			if err != nil {
				outcomes[i] = Outcome{Status: status, Error: err.Error()}
				return nil
			}
			outcomes[i] = Outcome{Result: &result, Status: status}
			return nil
		})
	}
	_ = group.Wait()
	return outcomes
}

// Invalidate drops every cached result of kind and returns how many were removed.
func (d *Datasource) Invalidate(kind query.Kind) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %s", query.ErrUnknownKind, kind)
	}
	pattern := regexp.MustCompile("^" + regexp.QuoteMeta(kind.Prefix()+"|"))
	removed := d.cache.Store.DeleteByPattern(pattern)
	d.metrics.RecordInvalidation(string(kind), removed)
	d.metrics.SetCacheSize(d.cache.Store.Len())
	d.logger.Info("cache invalidated", "kind", kind, "removed", removed)
	return removed, nil
}

// InvalidatePattern drops every cached result whose key matches pattern.
func (d *Datasource) InvalidatePattern(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, fmt.Errorf("invalid pattern: %w", err)
	}
	removed := d.cache.Store.DeleteByPattern(re)
	d.metrics.RecordInvalidation("pattern", removed)
	d.metrics.SetCacheSize(d.cache.Store.Len())
	d.logger.Info("cache invalidated", "pattern", pattern, "removed", removed)
	return removed, nil
}

// ClearCache empties the result cache without touching in-flight upstream calls.
func (d *Datasource) ClearCache() int {
	removed := d.cache.Store.Len()
	d.cache.Store.Clear()
	d.metrics.RecordInvalidation("all", removed)
	d.metrics.SetCacheSize(0)
	return removed
}

type CacheStats struct {
	cache.Stats
	Pending int            `json:"pending"`
	HotKeys []obs.KeyCount `json:"hot_keys,omitempty"`
}

func (d *Datasource) CacheStats() CacheStats {
	return CacheStats{
		Stats:   d.cache.Store.Stats(),
		Pending: d.cache.Batcher.Pending(),
		HotKeys: d.metrics.HotKeys(10),
	}
}

// Close fails every caller still waiting in an open window, stops the janitor and
// empties the cache. Later queries fail with ErrClosed.
func (d *Datasource) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.janitor.Stop()
	failed := d.cache.Close()
	d.metrics.RecordCleared(failed)
	d.metrics.SetCacheSize(0)
	if failed > 0 {
		d.logger.Warn("pending queries failed on shutdown", "callers", failed)
	}
}

func (d *Datasource) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}
