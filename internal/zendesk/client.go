package zendesk

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 30 * time.Second
	maxErrorBodySize = 64 * 1024
	userAgent        = "zendesk-datasource/1"
)

var (
	ErrMissingSubdomain   = errors.New("zendesk subdomain or base url is required")
	ErrMissingCredentials = errors.New("zendesk email and api token are required")
)

// Endpoint names used as the stable label for upstream observations.
const (
	EndpointTickets       = "tickets"
	EndpointTicket        = "ticket"
	EndpointSearch        = "search"
	EndpointUsers         = "users"
	EndpointUser          = "user"
	EndpointOrganizations = "organizations"
	EndpointOrganization  = "organization"
	EndpointMe            = "me"
)

// Observer receives one call per upstream round trip. status is 0 when no response arrived.
type Observer func(endpoint string, status int, duration time.Duration, err error)

type Config struct {
	Subdomain string
	Email     string
	APIToken  string
	// BaseURL replaces https://{Subdomain}.zendesk.com/api/v2 when set.
	BaseURL               string
	Timeout               time.Duration
	RequestsPerMinute     int
	RespectRateLimitReset bool
	HTTPClient            *http.Client
	Observer              Observer
	Now                   func() time.Time
}

type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e == nil {
		return "zendesk api error"
	}
	return e.Message
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

type Client struct {
	baseURL      string
	authHeader   string
	httpClient   *http.Client
	limiter      *rate.Limiter
	respectReset bool
	observer     Observer
	now          func() time.Time

	mu        sync.Mutex
	lastLimit RateLimit
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		subdomain := strings.TrimSpace(cfg.Subdomain)
		if subdomain == "" {
			return nil, ErrMissingSubdomain
		}
		baseURL = fmt.Sprintf("https://%s.zendesk.com/api/v2", subdomain)
	}
	if strings.TrimSpace(cfg.Email) == "" || strings.TrimSpace(cfg.APIToken) == "" {
		return nil, ErrMissingCredentials
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.RequestsPerMinute / 60
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), burst)
	}

	credentials := fmt.Sprintf("%s/token:%s", cfg.Email, cfg.APIToken)
	return &Client{
		baseURL:      baseURL,
		authHeader:   "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials)),
		httpClient:   httpClient,
		limiter:      limiter,
		respectReset: cfg.RespectRateLimitReset,
		observer:     cfg.Observer,
		now:          now,
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// LastRateLimit returns the budget reported by the most recent response that carried one.
func (c *Client) LastRateLimit() (RateLimit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastLimit, !c.lastLimit.ObservedAt.IsZero()
}

func (c *Client) ListTickets(ctx context.Context, params TicketListParams) (*TicketsResponse, error) {
	query := listQuery(params.ListParams)
	setString(query, "status", params.Status)
	setString(query, "priority", params.Priority)
	setInt(query, "assignee_id", params.AssigneeID)
	setInt(query, "requester_id", params.RequesterID)

	var out TicketsResponse
	if err := c.get(ctx, EndpointTickets, "/tickets.json", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetTicket(ctx context.Context, id int64) (*TicketResponse, error) {
	var out TicketResponse
	if err := c.get(ctx, EndpointTicket, fmt.Sprintf("/tickets/%d.json", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SearchTickets(ctx context.Context, search string, params ListParams) (*SearchResponse, error) {
	query := listQuery(params)
	query.Set("query", search)

	var out SearchResponse
	if err := c.get(ctx, EndpointSearch, "/search.json", query, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListUsers(ctx context.Context, params ListParams) (*UsersResponse, error) {
	var out UsersResponse
	if err := c.get(ctx, EndpointUsers, "/users.json", listQuery(params), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetUser(ctx context.Context, id int64) (*UserResponse, error) {
	var out UserResponse
	if err := c.get(ctx, EndpointUser, fmt.Sprintf("/users/%d.json", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListOrganizations(ctx context.Context, params ListParams) (*OrganizationsResponse, error) {
	var out OrganizationsResponse
	if err := c.get(ctx, EndpointOrganizations, "/organizations.json", listQuery(params), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetOrganization(ctx context.Context, id int64) (*OrganizationResponse, error) {
	var out OrganizationResponse
	if err := c.get(ctx, EndpointOrganization, fmt.Sprintf("/organizations/%d.json", id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) TestConnection(ctx context.Context) error {
	return c.get(ctx, EndpointMe, "/users/me.json", nil, nil)
}

func (c *Client) get(ctx context.Context, endpoint string, path string, query url.Values, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.throttle(ctx); err != nil {
		return err
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", c.authHeader)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(endpoint, 0, start, err)
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if limit, ok := parseRateLimit(resp.Header, c.now()); ok {
		c.mu.Lock()
		c.lastLimit = limit
		c.mu.Unlock()
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := decodeAPIError(resp)
		c.observe(endpoint, resp.StatusCode, start, apiErr)
		return apiErr
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		c.observe(endpoint, resp.StatusCode, start, nil)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		err = fmt.Errorf("decode response: %w", err)
		c.observe(endpoint, resp.StatusCode, start, err)
		return err
	}
	c.observe(endpoint, resp.StatusCode, start, nil)
	return nil
}

// throttle applies the local request budget and, when enabled, waits out an exhausted
// upstream budget. Neither path retries a failed request.
func (c *Client) throttle(ctx context.Context) error {
	if c.respectReset {
		if limit, ok := c.LastRateLimit(); ok && limit.Exhausted(c.now()) {
			wait := limit.Reset.Sub(c.now())
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	return nil
}

func (c *Client) observe(endpoint string, status int, start time.Time, err error) {
	if c.observer == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	c.observer(endpoint, status, c.now().Sub(start), err)
}

func decodeAPIError(resp *http.Response) *APIError {
	apiErr := &APIError{
		Status:  resp.StatusCode,
		Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get(headerRetryAfter))); err == nil && seconds > 0 {
		apiErr.RetryAfter = time.Duration(seconds) * time.Second
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var body struct {
		Error       json.RawMessage `json:"error"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal(data, &body); err != nil || len(body.Error) == 0 {
		return apiErr
	}

	// The error field is a string on most endpoints and an object on some.
	var message string
	if err := json.Unmarshal(body.Error, &message); err != nil {
		var detail struct {
			Title   string `json:"title"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(body.Error, &detail); err == nil {
			message = strings.TrimSpace(detail.Title + " " + detail.Message)
		}
	}
	if message == "" {
		message = strings.TrimSpace(body.Description)
	}
	if message != "" {
		apiErr.Message = message
	}
	return apiErr
}

func listQuery(params ListParams) url.Values {
	query := url.Values{}
	if params.Page > 0 {
		query.Set("page", strconv.Itoa(params.Page))
	}
	if params.PerPage > 0 {
		query.Set("per_page", strconv.Itoa(params.PerPage))
	}
	setString(query, "sort_by", params.SortBy)
	setString(query, "sort_order", params.SortOrder)
	return query
}

func setString(query url.Values, name string, value string) {
	if value != "" {
		query.Set(name, value)
	}
}

func setInt(query url.Values, name string, value int64) {
	if value != 0 {
		query.Set(name, strconv.FormatInt(value, 10))
	}
}
