package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"zendesk_datasource/internal/zendesk"
)

// FakeZendesk serves a small in-memory subset of the Zendesk v2 API.
type FakeZendesk struct {
	URL string

	mu            sync.Mutex
	tickets       []zendesk.Ticket
	users         []zendesk.User
	organizations []zendesk.Organization
	hits          map[string]int
	lastQuery     map[string]string
	failStatus    int
	failBody      string
	delay         time.Duration
	headers       http.Header
	release       chan struct{}
	server        *httptest.Server
}

func StartFakeZendesk(t *testing.T) *FakeZendesk {
	t.Helper()
	f := &FakeZendesk{
		hits:      make(map[string]int),
		lastQuery: make(map[string]string),
		headers:   http.Header{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /tickets.json", f.handleTickets)
	mux.HandleFunc("GET /tickets/{file}", f.handleTicket)
	mux.HandleFunc("GET /search.json", f.handleSearch)
	mux.HandleFunc("GET /users.json", f.handleUsers)
	mux.HandleFunc("GET /users/me.json", f.handleMe)
	mux.HandleFunc("GET /users/{file}", f.handleUser)
	mux.HandleFunc("GET /organizations.json", f.handleOrganizations)
	mux.HandleFunc("GET /organizations/{file}", f.handleOrganization)

	f.server = httptest.NewServer(f.wrap(mux))
	f.URL = f.server.URL
	t.Cleanup(f.server.Close)
	return f
}

func (f *FakeZendesk) Close() {
	f.server.Close()
}

func (f *FakeZendesk) SetTickets(tickets ...zendesk.Ticket) {
	f.mu.Lock()
	f.tickets = append([]zendesk.Ticket(nil), tickets...)
	f.mu.Unlock()
}

func (f *FakeZendesk) SetUsers(users ...zendesk.User) {
	f.mu.Lock()
	f.users = append([]zendesk.User(nil), users...)
	f.mu.Unlock()
}

func (f *FakeZendesk) SetOrganizations(orgs ...zendesk.Organization) {
	f.mu.Lock()
	f.organizations = append([]zendesk.Organization(nil), orgs...)
	f.mu.Unlock()
}

// Fail makes every request answer with status and body until Fail(0, "") is called.
func (f *FakeZendesk) Fail(status int, body string) {
	f.mu.Lock()
	f.failStatus = status
	f.failBody = body
	f.mu.Unlock()
}

func (f *FakeZendesk) SetDelay(delay time.Duration) {
	f.mu.Lock()
	f.delay = delay
	f.mu.Unlock()
}

// Hold blocks every request until the returned release func is called.
func (f *FakeZendesk) Hold() func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.release = ch
	f.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.release == ch {
				f.release = nil
			}
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *FakeZendesk) SetHeader(name string, value string) {
	f.mu.Lock()
	f.headers.Set(name, value)
	f.mu.Unlock()
}

// Hits returns how many requests reached path, for example "/tickets.json".
func (f *FakeZendesk) Hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

func (f *FakeZendesk) TotalHits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, count := range f.hits {
		total += count
	}
	return total
}

// LastQuery returns the raw query string of the latest request to path.
func (f *FakeZendesk) LastQuery(path string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery[path]
}

func (f *FakeZendesk) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.hits[r.URL.Path]++
		f.lastQuery[r.URL.Path] = r.URL.RawQuery
		failStatus, failBody, delay, release := f.failStatus, f.failBody, f.delay, f.release
		for name, values := range f.headers {
			for _, value := range values {
				w.Header().Add(name, value)
			}
		}
		f.mu.Unlock()

		if release != nil {
			select {
			case <-release:
			case <-r.Context().Done():
				return
			}
		}
		if delay > 0 {
			time.Sleep(delay)
		}

		if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
			writeFakeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Couldn't authenticate you"})
			return
		}
		if failStatus != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(failStatus)
			_, _ = w.Write([]byte(failBody))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeZendesk) handleTickets(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	priority := r.URL.Query().Get("priority")

	f.mu.Lock()
	var matched []zendesk.Ticket
	for _, ticket := range f.tickets {
		if status != "" && ticket.Status != status {
			continue
		}
		if priority != "" && (ticket.Priority == nil || *ticket.Priority != priority) {
			continue
		}
		matched = append(matched, ticket)
	}
	f.mu.Unlock()

	page, count := paginate(r, len(matched))
	writeFakeJSON(w, http.StatusOK, zendesk.TicketsResponse{Tickets: sliceOf(matched, page), Page: count})
}

func (f *FakeZendesk) handleTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "RecordNotFound"})
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ticket := range f.tickets {
		if ticket.ID == id {
			writeFakeJSON(w, http.StatusOK, zendesk.TicketResponse{Ticket: ticket})
			return
		}
	}
	writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "RecordNotFound"})
}

func (f *FakeZendesk) handleSearch(w http.ResponseWriter, r *http.Request) {
	needle := strings.ToLower(r.URL.Query().Get("query"))

	f.mu.Lock()
	var matched []zendesk.Ticket
	for _, ticket := range f.tickets {
		subject := ""
		if ticket.Subject != nil {
			subject = strings.ToLower(*ticket.Subject)
		}
		if needle == "" || strings.Contains(subject, needle) || strings.Contains(needle, "status:"+ticket.Status) {
			matched = append(matched, ticket)
		}
	}
	f.mu.Unlock()

	page, count := paginate(r, len(matched))
	writeFakeJSON(w, http.StatusOK, zendesk.SearchResponse{Results: sliceOf(matched, page), Page: count})
}

func (f *FakeZendesk) handleUsers(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	users := append([]zendesk.User(nil), f.users...)
	f.mu.Unlock()

	page, count := paginate(r, len(users))
	writeFakeJSON(w, http.StatusOK, zendesk.UsersResponse{Users: sliceOf(users, page), Page: count})
}

func (f *FakeZendesk) handleMe(w http.ResponseWriter, _ *http.Request) {
	writeFakeJSON(w, http.StatusOK, zendesk.UserResponse{User: zendesk.User{ID: 1, Name: "Agent", Role: "agent", Active: true}})
}

func (f *FakeZendesk) handleUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if ok && user.ID == id {
			writeFakeJSON(w, http.StatusOK, zendesk.UserResponse{User: user})
			return
		}
	}
	writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "RecordNotFound"})
}

func (f *FakeZendesk) handleOrganizations(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	orgs := append([]zendesk.Organization(nil), f.organizations...)
	f.mu.Unlock()

	page, count := paginate(r, len(orgs))
	writeFakeJSON(w, http.StatusOK, zendesk.OrganizationsResponse{Organizations: sliceOf(orgs, page), Page: count})
}

func (f *FakeZendesk) handleOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, org := range f.organizations {
		if ok && org.ID == id {
			writeFakeJSON(w, http.StatusOK, zendesk.OrganizationResponse{Organization: org})
			return
		}
	}
	writeFakeJSON(w, http.StatusNotFound, map[string]string{"error": "RecordNotFound"})
}

type pageWindow struct {
	start int
	end   int
}

func paginate(r *http.Request, total int) (pageWindow, zendesk.Page) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	if perPage < 1 {
		perPage = 100
	}
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	count := total
	info := zendesk.Page{Count: &count}
	if end < total {
		next := r.URL.Path + "?page=" + strconv.Itoa(page+1)
		info.NextPage = &next
	}
	return pageWindow{start: start, end: end}, info
}

func sliceOf[T any](items []T, window pageWindow) []T {
	out := make([]T, 0, window.end-window.start)
	return append(out, items[window.start:window.end]...)
}

func pathID(r *http.Request) (int64, bool) {
	raw := strings.TrimSuffix(r.PathValue("file"), ".json")
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

func writeFakeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func StringPtr(value string) *string {
	return &value
}

func Int64Ptr(value int64) *int64 {
	return &value
}
