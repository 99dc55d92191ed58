package datasource_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"zendesk_datasource/internal/cache"
	"zendesk_datasource/internal/datasource"
	"zendesk_datasource/internal/obs"
	"zendesk_datasource/internal/query"
	"zendesk_datasource/internal/testutil"
	"zendesk_datasource/internal/zendesk"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newDatasource(t *testing.T, fake *testutil.FakeZendesk, mutate func(*datasource.Config)) *datasource.Datasource {
	t.Helper()
	client, err := zendesk.NewClient(zendesk.Config{
		BaseURL:  fake.URL,
		Email:    "agent@example.com",
		APIToken: "secret",
		Timeout:  2 * time.Second,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	cfg := datasource.Config{
		API:    client,
		Pinger: client,
		Cache: datasource.CacheConfig{
			MaxSize:    100,
			DefaultTTL: 5 * time.Minute,
		},
		Batch:   cache.BatcherConfig{MaxBatchSize: 10, MaxWait: 5 * time.Millisecond},
		Metrics: obs.NewMetrics(obs.MetricsConfig{HotKeys: 5}),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ds, err := datasource.New(cfg)
	if err != nil {
		t.Fatalf("new datasource: %v", err)
	}
	t.Cleanup(ds.Close)
	return ds
}

func seedTickets(fake *testutil.FakeZendesk) {
	fake.SetTickets(
		zendesk.Ticket{ID: 1, Subject: testutil.StringPtr("Printer jam"), Status: "open", Priority: testutil.StringPtr("high")},
		zendesk.Ticket{ID: 2, Subject: testutil.StringPtr("Login broken"), Status: "solved"},
	)
}

func TestNewRequiresAPI(t *testing.T) {
	if _, err := datasource.New(datasource.Config{}); err == nil {
		t.Fatalf("expected error without api")
	}
}

func TestQueryMissThenHit(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	seedTickets(fake)
	ds := newDatasource(t, fake, nil)

	result, status, err := ds.Query(context.Background(), query.TicketList{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != cache.StatusMiss || len(result.Tickets) != 2 {
		t.Fatalf("expected miss with 2 tickets, got %s with %d", status, len(result.Tickets))
	}

	_, status, err = ds.Query(context.Background(), query.TicketList{Page: 1, Limit: query.DefaultLimit})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != cache.StatusHit {
		t.Fatalf("explicit default paging should hit, got %s", status)
	}
	if hits := fake.Hits("/tickets.json"); hits != 1 {
		t.Fatalf("expected 1 upstream call, got %d", hits)
	}
}

func TestConcurrentMissesShareOneUpstreamCall(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	seedTickets(fake)
	ds := newDatasource(t, fake, func(cfg *datasource.Config) {
		cfg.Batch = cache.BatcherConfig{MaxBatchSize: 10, MaxWait: 10 * time.Second}
	})

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, _, err := ds.Query(context.Background(), query.Search{Query: "printer"})
			if err != nil || len(result.Tickets) != 1 {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Fatalf("%d callers failed", failures.Load())
	}
	if hits := fake.Hits("/search.json"); hits != 1 {
		t.Fatalf("expected one coalesced upstream call, got %d", hits)
	}
}

func TestValidationFailsBeforeUpstream(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	ds := newDatasource(t, fake, nil)

	_, status, err := ds.Query(context.Background(), query.Search{Query: "  "})
	var validation *query.ValidationError
	if !errors.As(err, &validation) || status != cache.StatusError {
		t.Fatalf("expected validation error, got %v (%s)", err, status)
	}
	if _, _, err := ds.Query(context.Background(), nil); !errors.Is(err, query.ErrMissingKind) {
		t.Fatalf("expected missing kind, got %v", err)
	}
	if fake.TotalHits() != 0 {
		t.Fatalf("invalid queries must not reach upstream")
	}
}

func TestUpstreamFailureIsNotCached(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	seedTickets(fake)
	ds := newDatasource(t, fake, nil)

	fake.Fail(http.StatusServiceUnavailable, `{"error":"maintenance"}`)
	_, status, err := ds.Query(context.Background(), query.TicketList{})
	var apiErr *zendesk.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusServiceUnavailable || status != cache.StatusError {
		t.Fatalf("expected api error, got %v (%s)", err, status)
	}

	fake.Fail(0, "")
	_, status, err = ds.Query(context.Background(), query.TicketList{})
	if err != nil || status != cache.StatusMiss {
		t.Fatalf("expected fresh miss after recovery, got %v (%s)", err, status)
	}
}

func TestTTLByKind(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	seedTickets(fake)
	clk := &clock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	ds := newDatasource(t, fake, func(cfg *datasource.Config) {
		cfg.Now = clk.Now
		cfg.Cache.TTLByKind = datasource.DefaultTTLByKind()
	})

	if ttl := ds.TTLFor(query.TicketByID{TicketID: 1}); ttl != time.Minute {
		t.Fatalf("expected 1m for single tickets, got %s", ttl)
	}
	if ttl := ds.TTLFor(query.TicketList{}); ttl != 5*time.Minute {
		t.Fatalf("expected default ttl for lists, got %s", ttl)
	}

	ctx := context.Background()
	if _, _, err := ds.Query(ctx, query.TicketByID{TicketID: 1}); err != nil {
		t.Fatalf("query: %v", err)
	}
	if _, _, err := ds.Query(ctx, query.TicketList{}); err != nil {
		t.Fatalf("query: %v", err)
	}

	clk.Advance(2 * time.Minute)

	if _, status, _ := ds.Query(ctx, query.TicketByID{TicketID: 1}); status != cache.StatusMiss {
		t.Fatalf("single ticket should have expired, got %s", status)
	}
	if _, status, _ := ds.Query(ctx, query.TicketList{}); status != cache.StatusHit {
		t.Fatalf("ticket list should still be cached, got %s", status)
	}
}

func TestInvalidateByKind(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	seedTickets(fake)
	fake.SetUsers(zendesk.User{ID: 7, Name: "Ada", Role: "agent", Active: true})
	ds := newDatasource(t, fake, nil)
	ctx := context.Background()

	for _, q := range []query.Query{query.TicketList{}, query.TicketList{Status: "open"}, query.UserList{}} {
		if _, _, err := ds.Query(ctx, q); err != nil {
			t.Fatalf("query %s: %v", q.Kind(), err)
		}
	}

	removed, err := ds.Invalidate(query.KindTickets)
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 ticket entries removed, got %d (%v)", removed, err)
	}
	if _, status, _ := ds.Query(ctx, query.UserList{}); status != cache.StatusHit {
		t.Fatalf("users must survive ticket invalidation, got %s", status)
	}
	if _, err := ds.Invalidate("widgets"); !errors.Is(err, query.ErrUnknownKind) {
		t.Fatalf("expected unknown kind, got %v", err)
	}

	removed, err = ds.InvalidatePattern(`^query:users\|`)
	if err != nil || removed != 1 {
		t.Fatalf("expected 1 user entry removed, got %d (%v)", removed, err)
	}
	if _, err := ds.InvalidatePattern("("); err == nil {
		t.Fatalf("expected invalid pattern error")
	}
}

func TestQueryBatchKeepsPositions(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	seedTickets(fake)
	ds := newDatasource(t, fake, nil)

	outcomes := ds.QueryBatch(context.Background(), []query.Query{
		query.TicketByID{TicketID: 2},
		query.TicketByID{TicketID: 404},
		query.Stats{},
		query.Search{},
	})
	if len(outcomes) != 4 {
		t.Fatalf("expected 4 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Result == nil || outcomes[0].Result.Tickets[0].ID != 2 {
		t.Fatalf("outcome 0 should answer ticket 2: %+v", outcomes[0])
	}
	if outcomes[1].Error == "" || outcomes[1].Status != cache.StatusError {
		t.Fatalf("outcome 1 should fail: %+v", outcomes[1])
	}
	if outcomes[2].Result == nil || outcomes[2].Result.TicketStats == nil || outcomes[2].Result.TicketStats.Total != 2 {
		t.Fatalf("outcome 2 should carry stats: %+v", outcomes[2])
	}
	if outcomes[3].Error == "" {
		t.Fatalf("outcome 3 should fail validation: %+v", outcomes[3])
	}
}

func TestCheckHealth(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	ds := newDatasource(t, fake, nil)

	report := ds.CheckHealth(context.Background())
	if report.Status != datasource.HealthOK || report.Cache.MaxSize != 100 {
		t.Fatalf("unexpected healthy report %+v", report)
	}

	fake.Fail(http.StatusUnauthorized, `{"error":"Couldn't authenticate you"}`)
	report = ds.CheckHealth(context.Background())
	if report.Status != datasource.HealthError {
		t.Fatalf("expected error status, got %+v", report)
	}
}

func TestCacheStatsReportHotKeys(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	seedTickets(fake)
	ds := newDatasource(t, fake, nil)

	for i := 0; i < 3; i++ {
		if _, _, err := ds.Query(context.Background(), query.TicketList{}); err != nil {
			t.Fatalf("query: %v", err)
		}
	}
	stats := ds.CacheStats()
	if stats.Size != 1 || stats.Hits != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(stats.HotKeys) == 0 || stats.HotKeys[0].Count != 3 {
		t.Fatalf("expected hot key with 3 lookups, got %+v", stats.HotKeys)
	}
}

func TestCloseFailsPendingCallers(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	seedTickets(fake)
	ds := newDatasource(t, fake, func(cfg *datasource.Config) {
		cfg.Batch = cache.BatcherConfig{MaxBatchSize: 100, MaxWait: 10 * time.Second}
	})

	errs := make(chan error, 1)
	go func() {
		_, _, err := ds.Query(context.Background(), query.TicketList{})
		errs <- err
	}()

	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() error {
		if pending := ds.CacheStats().Pending; pending != 1 {
			return fmt.Errorf("pending=%d", pending)
		}
		return nil
	})

	ds.Close()
	select {
	case err := <-errs:
		if !errors.Is(err, cache.ErrBatcherCleared) {
			t.Fatalf("expected cleared error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pending caller was not released")
	}

	if _, _, err := ds.Query(context.Background(), query.TicketList{}); !errors.Is(err, datasource.ErrClosed) {
		t.Fatalf("expected closed error, got %v", err)
	}
	if fake.TotalHits() != 0 {
		t.Fatalf("cleared window must not reach upstream")
	}
	ds.Close()
}
