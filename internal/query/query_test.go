package query_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"zendesk_datasource/internal/query"
	"zendesk_datasource/internal/testutil"
	"zendesk_datasource/internal/zendesk"
)

func TestParseBuildsTypedQueries(t *testing.T) {
	cases := []struct {
		body string
		want query.Query
	}{
		{`{"queryType":"tickets","status":"open","limit":10}`, query.TicketList{Status: "open", Limit: 10}},
		{`{"queryType":"search","query":"printer"}`, query.Search{Query: "printer"}},
		{`{"queryType":"ticketById","ticketId":42}`, query.TicketByID{TicketID: 42}},
		{`{"queryType":"stats","priority":"urgent"}`, query.Stats{Priority: "urgent"}},
		{`{"queryType":"users","userId":3}`, query.UserList{UserID: 3}},
		{`{"queryType":"organizations","page":2}`, query.OrganizationList{Page: 2}},
		{`{"queryType":"userStats"}`, query.UserStats{}},
		{`{"queryType":"orgStats","limit":50}`, query.OrgStats{Limit: 50}},
	}

	for _, tc := range cases {
		got, err := query.Parse([]byte(tc.body))
		if err != nil {
			t.Fatalf("parse %s: %v", tc.body, err)
		}
		if got != tc.want {
			t.Fatalf("parse %s: expected %#v, got %#v", tc.body, tc.want, got)
		}
	}
}

func TestParseRejectsBadQueries(t *testing.T) {
	if _, err := query.Parse([]byte(`{}`)); !errors.Is(err, query.ErrMissingKind) {
		t.Fatalf("expected missing kind, got %v", err)
	}
	if _, err := query.Parse([]byte(`{"queryType":"heatmap"}`)); !errors.Is(err, query.ErrUnknownKind) {
		t.Fatalf("expected unknown kind, got %v", err)
	}
	if _, err := query.Parse([]byte(`{"queryType":`)); err == nil {
		t.Fatalf("expected decode error")
	}

	invalid := []string{
		`{"queryType":"search"}`,
		`{"queryType":"ticketById"}`,
		`{"queryType":"tickets","status":"lost"}`,
		`{"queryType":"tickets","priority":"meh"}`,
		`{"queryType":"tickets","sortOrder":"sideways"}`,
		`{"queryType":"tickets","limit":1000}`,
		`{"queryType":"users","userId":-1}`,
	}
	for _, body := range invalid {
		_, err := query.Parse([]byte(body))
		var validation *query.ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("expected validation error for %s, got %v", body, err)
		}
	}
}

func TestKeysCollapseDefaults(t *testing.T) {
	implicit := query.Key(query.TicketList{Status: "open"})
	explicit := query.Key(query.TicketList{Status: "open", Page: 1, Limit: query.DefaultLimit})
	if implicit != explicit {
		t.Fatalf("default paging should share a key: %q vs %q", implicit, explicit)
	}
	if implicit != `query:tickets|page:1|per_page:25|status:"open"` {
		t.Fatalf("unexpected key %q", implicit)
	}

	if query.Key(query.TicketList{Status: "open"}) == query.Key(query.TicketList{Status: "pending"}) {
		t.Fatalf("different filters must not share a key")
	}
	if query.Key(query.TicketList{}) == query.Key(query.Stats{}) {
		t.Fatalf("different kinds must not share a key")
	}
	if query.Key(query.Search{Query: " printer "}) != query.Key(query.Search{Query: "printer"}) {
		t.Fatalf("search text should be trimmed before keying")
	}
	if query.Key(nil) != "" {
		t.Fatalf("nil query should have an empty key")
	}
}

func TestKindFromKey(t *testing.T) {
	for _, kind := range query.Kinds() {
		var q query.Query
		switch kind {
		case query.KindTickets:
			q = query.TicketList{}
		case query.KindSearch:
			q = query.Search{Query: "x"}
		case query.KindTicketByID:
			q = query.TicketByID{TicketID: 1}
		case query.KindStats:
			q = query.Stats{}
		case query.KindUsers:
			q = query.UserList{}
		case query.KindOrganizations:
			q = query.OrganizationList{}
		case query.KindUserStats:
			q = query.UserStats{}
		case query.KindOrgStats:
			q = query.OrgStats{}
		}
		if got := query.KindFromKey(query.Key(q)); got != kind {
			t.Fatalf("expected %s from key, got %q", kind, got)
		}
	}
	if query.KindFromKey("other:tickets|") != "" || query.KindFromKey("query:nope|") != "" {
		t.Fatalf("foreign keys should map to empty kind")
	}
}

func TestComputeTicketStats(t *testing.T) {
	tickets := []zendesk.Ticket{
		{Status: "open", Priority: testutil.StringPtr("high")},
		{Status: "pending"},
		{Status: "solved", Priority: testutil.StringPtr("low"), CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T02:00:00Z"},
		{Status: "solved", CreatedAt: "2024-01-01T00:00:00Z", UpdatedAt: "2024-01-01T04:00:00Z"},
		{Status: "closed"},
	}

	stats := query.ComputeTicketStats(tickets)
	if stats.Total != 5 || stats.Open != 2 || stats.Solved != 3 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	if stats.ByStatus["solved"] != 2 || stats.ByPriority["normal"] != 3 || stats.ByPriority["high"] != 1 {
		t.Fatalf("unexpected breakdown %+v", stats)
	}
	if stats.AverageResolutionMS == nil || *stats.AverageResolutionMS != float64(3*60*60*1000) {
		t.Fatalf("unexpected average resolution %v", stats.AverageResolutionMS)
	}

	if query.ComputeTicketStats(nil).AverageResolutionMS != nil {
		t.Fatalf("average resolution should be nil without solved tickets")
	}
}

func TestComputeUserAndOrgStats(t *testing.T) {
	users := query.ComputeUserStats([]zendesk.User{{Role: "admin", Active: true}, {Active: true}, {Role: "agent"}})
	if users.Total != 3 || users.Active != 2 || users.ByRole["end-user"] != 1 {
		t.Fatalf("unexpected user stats %+v", users)
	}
	orgs := query.ComputeOrgStats([]zendesk.Organization{{SharedTickets: true}, {}})
	if orgs.Total != 2 || orgs.WithSharedTickets != 1 {
		t.Fatalf("unexpected org stats %+v", orgs)
	}
}

func TestExecuteAgainstFakeUpstream(t *testing.T) {
	fake := testutil.StartFakeZendesk(t)
	fake.SetTickets(
		zendesk.Ticket{ID: 1, Status: "open", Subject: testutil.StringPtr("Printer jam")},
		zendesk.Ticket{ID: 2, Status: "solved"},
	)
	fake.SetUsers(zendesk.User{ID: 9, Name: "Ann", Role: "admin", Active: true})
	fake.SetOrganizations(zendesk.Organization{ID: 4, Name: "Acme", SharedTickets: true})

	client, err := zendesk.NewClient(zendesk.Config{BaseURL: fake.URL, Email: "a@example.com", APIToken: "t"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	result, err := query.Execute(ctx, client, query.TicketList{Status: "open"})
	if err != nil || len(result.Tickets) != 1 || result.Count != 1 {
		t.Fatalf("tickets: %v %+v", err, result)
	}
	if !strings.Contains(fake.LastQuery("/tickets.json"), "per_page=25") {
		t.Fatalf("default page size not sent: %q", fake.LastQuery("/tickets.json"))
	}

	result, err = query.Execute(ctx, client, query.Search{Query: "printer"})
	if err != nil || len(result.Tickets) != 1 || result.Kind != query.KindSearch {
		t.Fatalf("search: %v %+v", err, result)
	}

	result, err = query.Execute(ctx, client, query.TicketByID{TicketID: 2})
	if err != nil || result.Tickets[0].ID != 2 {
		t.Fatalf("ticket by id: %v %+v", err, result)
	}

	result, err = query.Execute(ctx, client, query.Stats{})
	if err != nil || result.TicketStats == nil || result.TicketStats.Total != 2 {
		t.Fatalf("stats: %v %+v", err, result)
	}
	if !strings.Contains(fake.LastQuery("/tickets.json"), "per_page=100") {
		t.Fatalf("stats should use the stats page size: %q", fake.LastQuery("/tickets.json"))
	}

	result, err = query.Execute(ctx, client, query.UserList{UserID: 9})
	if err != nil || result.Users[0].Name != "Ann" {
		t.Fatalf("user by id: %v %+v", err, result)
	}

	result, err = query.Execute(ctx, client, query.OrgStats{})
	if err != nil || result.OrgStats == nil || result.OrgStats.WithSharedTickets != 1 {
		t.Fatalf("org stats: %v %+v", err, result)
	}

	if _, err := query.Execute(ctx, client, query.TicketByID{TicketID: 404}); !zendesk.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := query.Execute(ctx, client, nil); !errors.Is(err, query.ErrMissingKind) {
		t.Fatalf("expected missing kind, got %v", err)
	}
}
