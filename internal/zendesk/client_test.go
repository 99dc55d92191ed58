package zendesk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"zendesk_datasource/internal/testutil"
	"zendesk_datasource/internal/zendesk"
)

func newClient(t *testing.T, baseURL string, mutate func(*zendesk.Config)) *zendesk.Client {
	t.Helper()
	cfg := zendesk.Config{
		BaseURL:  baseURL,
		Email:    "agent@example.com",
		APIToken: "secret",
		Timeout:  2 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	client, err := zendesk.NewClient(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientValidatesConfig(t *testing.T) {
	if _, err := zendesk.NewClient(zendesk.Config{Email: "a", APIToken: "b"}); !errors.Is(err, zendesk.ErrMissingSubdomain) {
		t.Fatalf("expected missing subdomain, got %v", err)
	}
	if _, err := zendesk.NewClient(zendesk.Config{Subdomain: "acme"}); !errors.Is(err, zendesk.ErrMissingCredentials) {
		t.Fatalf("expected missing credentials, got %v", err)
	}

	client, err := zendesk.NewClient(zendesk.Config{Subdomain: "acme", Email: "a", APIToken: "b"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.BaseURL() != "https://acme.zendesk.com/api/v2" {
		t.Fatalf("unexpected base url %q", client.BaseURL())
	}
}

func TestClientSendsBasicTokenAuth(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"user":{"id":1}}`))
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)
	if err := client.TestConnection(context.Background()); err != nil {
		t.Fatalf("test connection: %v", err)
	}

	req := &http.Request{Header: http.Header{"Authorization": []string{got}}}
	user, pass, ok := req.BasicAuth()
	if !ok || user != "agent@example.com/token" || pass != "secret" {
		t.Fatalf("unexpected basic auth %q", got)
	}
}

func TestListTicketsEncodesFilters(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	fake.SetTickets(
		zendesk.Ticket{ID: 1, Status: "open", Priority: testutil.StringPtr("high")},
		zendesk.Ticket{ID: 2, Status: "solved"},
		zendesk.Ticket{ID: 3, Status: "open"},
	)
	client := newClient(t, fake.URL, nil)

	resp, err := client.ListTickets(context.Background(), zendesk.TicketListParams{
		ListParams: zendesk.ListParams{Page: 1, PerPage: 25, SortBy: "created_at", SortOrder: "desc"},
		Status:     "open",
		AssigneeID: 42,
	})
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(resp.Tickets) != 2 {
		t.Fatalf("expected 2 open tickets, got %d", len(resp.Tickets))
	}
	if resp.Count == nil || *resp.Count != 2 {
		t.Fatalf("expected count 2, got %v", resp.Count)
	}

	query, err := url.ParseQuery(fake.LastQuery("/tickets.json"))
	if err != nil {
		t.Fatalf("parse query: %v", err)
	}
	want := map[string]string{"status": "open", "assignee_id": "42", "page": "1", "per_page": "25", "sort_by": "created_at", "sort_order": "desc"}
	for name, value := range want {
		if query.Get(name) != value {
			t.Fatalf("expected %s=%s, got %q", name, value, query.Get(name))
		}
	}
	if query.Has("priority") || query.Has("requester_id") {
		t.Fatalf("unset filters must be omitted: %v", query)
	}
}

func TestGetTicketAndSearch(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	fake.SetTickets(
		zendesk.Ticket{ID: 7, Status: "open", Subject: testutil.StringPtr("Printer on fire")},
		zendesk.Ticket{ID: 8, Status: "pending", Subject: testutil.StringPtr("Password reset")},
	)
	client := newClient(t, fake.URL, nil)

	ticket, err := client.GetTicket(context.Background(), 7)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if ticket.Ticket.ID != 7 || *ticket.Ticket.Subject != "Printer on fire" {
		t.Fatalf("unexpected ticket %+v", ticket.Ticket)
	}

	results, err := client.SearchTickets(context.Background(), "printer", zendesk.ListParams{PerPage: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results.Results) != 1 || results.Results[0].ID != 7 {
		t.Fatalf("unexpected search results %+v", results.Results)
	}
	if got := fake.LastQuery("/search.json"); !strings.Contains(got, "query=printer") {
		t.Fatalf("search query not sent: %q", got)
	}

	_, err = client.GetTicket(context.Background(), 99)
	if !zendesk.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUsersAndOrganizations(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	fake.SetUsers(zendesk.User{ID: 1, Name: "Ann", Role: "admin", Active: true}, zendesk.User{ID: 2, Name: "Bo", Role: "end-user"})
	fake.SetOrganizations(zendesk.Organization{ID: 5, Name: "Acme", DomainNames: []string{"acme.test"}})
	client := newClient(t, fake.URL, nil)

	users, err := client.ListUsers(context.Background(), zendesk.ListParams{})
	if err != nil || len(users.Users) != 2 {
		t.Fatalf("list users: %v %+v", err, users)
	}
	user, err := client.GetUser(context.Background(), 2)
	if err != nil || user.User.Name != "Bo" {
		t.Fatalf("get user: %v %+v", err, user)
	}
	orgs, err := client.ListOrganizations(context.Background(), zendesk.ListParams{})
	if err != nil || len(orgs.Organizations) != 1 {
		t.Fatalf("list organizations: %v %+v", err, orgs)
	}
	org, err := client.GetOrganization(context.Background(), 5)
	if err != nil || org.Organization.DomainNames[0] != "acme.test" {
		t.Fatalf("get organization: %v %+v", err, org)
	}
}

func TestAPIErrorMessages(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{name: "string error", status: http.StatusUnauthorized, body: `{"error":"Couldn't authenticate you"}`, message: "Couldn't authenticate you"},
		{name: "object error", status: http.StatusForbidden, body: `{"error":{"title":"Forbidden","message":"You do not have access"}}`, message: "Forbidden You do not have access"},
		{name: "description only", status: http.StatusUnprocessableEntity, body: `{"error":"","description":"Invalid sort"}`, message: "Invalid sort"},
		{name: "non json", status: http.StatusBadGateway, body: `<html>bad gateway</html>`, message: "HTTP 502: Bad Gateway"},
		{name: "empty body", status: http.StatusInternalServerError, body: ``, message: "HTTP 500: Internal Server Error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := testutil.StartFakeZendesk(t)
			fake.Fail(tc.status, tc.body)
			client := newClient(t, fake.URL, nil)

			_, err := client.ListTickets(context.Background(), zendesk.TicketListParams{})
			var apiErr *zendesk.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %T %v", err, err)
			}
			if apiErr.Status != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, apiErr.Status)
			}
			if apiErr.Error() != tc.message {
				t.Fatalf("expected message %q, got %q", tc.message, apiErr.Error())
			}
		})
	}
}

func TestNoContentResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newClient(t, server.URL, nil)
	resp, err := client.ListUsers(context.Background(), zendesk.ListParams{})
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(resp.Users) != 0 {
		t.Fatalf("expected empty response, got %+v", resp)
	}
}

func TestClientRecordsRateLimitHeaders(t *testing.T) {
	reset := time.Now().Add(30 * time.Second).Unix()
	fake := testutil.StartFakeZendesk(t)
	fake.SetHeader("X-Rate-Limit", "700")
	fake.SetHeader("X-Rate-Limit-Remaining", "699")
	fake.SetHeader("X-Rate-Limit-Reset", strconv.FormatInt(reset, 10))
	client := newClient(t, fake.URL, nil)

	if _, ok := client.LastRateLimit(); ok {
		t.Fatalf("no rate limit expected before the first request")
	}
	if err := client.TestConnection(context.Background()); err != nil {
		t.Fatalf("test connection: %v", err)
	}
	limit, ok := client.LastRateLimit()
	if !ok {
		t.Fatalf("expected rate limit to be recorded")
	}
	if limit.Limit != 700 || limit.Remaining != 699 || limit.Reset.Unix() != reset {
		t.Fatalf("unexpected rate limit %+v", limit)
	}
	if limit.Exhausted(time.Now()) {
		t.Fatalf("budget should not be exhausted")
	}
}

func TestClientWaitsForResetWhenExhausted(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	fake.SetHeader("X-Rate-Limit-Remaining", "0")
	fake.SetHeader("Retry-After", "60")
	client := newClient(t, fake.URL, func(cfg *zendesk.Config) {
		cfg.RespectRateLimitReset = true
	})

	if err := client.TestConnection(context.Background()); err != nil {
		t.Fatalf("first request: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.TestConnection(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wait to be bounded by ctx, got %v", err)
	}
	if fake.Hits("/users/me.json") != 1 {
		t.Fatalf("second request must not reach upstream, hits=%d", fake.Hits("/users/me.json"))
	}
}

func TestClientIgnoresResetByDefault(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	fake.SetHeader("X-Rate-Limit-Remaining", "0")
	fake.SetHeader("Retry-After", "60")
	client := newClient(t, fake.URL, nil)

	for i := 0; i < 2; i++ {
		if err := client.TestConnection(context.Background()); err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
	}
	if fake.Hits("/users/me.json") != 2 {
		t.Fatalf("expected both requests upstream, hits=%d", fake.Hits("/users/me.json"))
	}
}

func TestClientThrottlesRequestsPerMinute(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	client := newClient(t, fake.URL, func(cfg *zendesk.Config) {
		cfg.RequestsPerMinute = 60
	})

	if err := client.TestConnection(context.Background()); err != nil {
		t.Fatalf("first request: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := client.TestConnection(ctx); err == nil {
		t.Fatalf("second request should wait for a token beyond the deadline")
	}
	if fake.Hits("/users/me.json") != 1 {
		t.Fatalf("throttled request must not reach upstream")
	}
}

func TestClientObserver(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	var mu sync.Mutex
	var seen []string
	client := newClient(t, fake.URL, func(cfg *zendesk.Config) {
		cfg.Observer = func(endpoint string, status int, _ time.Duration, err error) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, endpoint+":"+strconv.Itoa(status)+":"+strconv.FormatBool(err != nil))
		}
	})

	_ = client.TestConnection(context.Background())
	_, _ = client.GetTicket(context.Background(), 404)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"me:200:false", "ticket:404:true"}
	if strings.Join(seen, ",") != strings.Join(want, ",") {
		t.Fatalf("expected observations %v, got %v", want, seen)
	}
}
