package query

import (
	"errors"
	"fmt"
	"strings"

	"zendesk_datasource/internal/cache"
)

type Kind string

const (
	KindTickets       Kind = "tickets"
	KindSearch        Kind = "search"
	KindTicketByID    Kind = "ticketById"
	KindStats         Kind = "stats"
	KindUsers         Kind = "users"
	KindOrganizations Kind = "organizations"
	KindUserStats     Kind = "userStats"
	KindOrgStats      Kind = "orgStats"
)

const (
	keyPrefix = "query:"

	DefaultPage       = 1
	DefaultLimit      = 25
	DefaultStatsLimit = 100
	MaxLimit          = 100
)

var (
	ErrUnknownKind = errors.New("unknown query type")
	ErrMissingKind = errors.New("no query type specified")
)

var kinds = []Kind{KindTickets, KindSearch, KindTicketByID, KindStats, KindUsers, KindOrganizations, KindUserStats, KindOrgStats}

var (
	ticketStatuses   = map[string]struct{}{"new": {}, "open": {}, "pending": {}, "hold": {}, "solved": {}, "closed": {}}
	ticketPriorities = map[string]struct{}{"low": {}, "normal": {}, "high": {}, "urgent": {}}
)

// Kinds lists every supported query kind.
func Kinds() []Kind {
	return append([]Kind(nil), kinds...)
}

func (k Kind) Valid() bool {
	for _, known := range kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Prefix is the cache key prefix shared by every query of this kind.
func (k Kind) Prefix() string {
	return keyPrefix + string(k)
}

// KindFromKey recovers the kind from a cache key; unknown keys map to "".
func KindFromKey(key string) Kind {
	rest, ok := strings.CutPrefix(key, keyPrefix)
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "|")
	kind := Kind(name)
	if !kind.Valid() {
		return ""
	}
	return kind
}

// Query is one structured request against the ticketing API. Its cache key is derived
// from the effective parameters, so omitted defaults and explicit defaults share a key.
type Query interface {
	cache.Canonical
	Kind() Kind
	Validate() error
}

type ValidationError struct {
	Kind    Kind
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "invalid query"
	}
	if e.Field == "" {
		return fmt.Sprintf("%s query: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s query: %s %s", e.Kind, e.Field, e.Message)
}

type TicketList struct {
	Status      string
	Priority    string
	AssigneeID  int64
	RequesterID int64
	Page        int
	Limit       int
	SortBy      string
	SortOrder   string
}

func (q TicketList) Kind() Kind             { return KindTickets }
func (q TicketList) CacheKeyPrefix() string { return q.Kind().Prefix() }

func (q TicketList) CanonicalParams() map[string]any {
	params := pageParams(q.Page, q.Limit, DefaultLimit)
	putString(params, "status", q.Status)
	putString(params, "priority", q.Priority)
	putInt(params, "assignee_id", q.AssigneeID)
	putInt(params, "requester_id", q.RequesterID)
	putString(params, "sort_by", q.SortBy)
	putString(params, "sort_order", q.SortOrder)
	return params
}

func (q TicketList) Validate() error {
	if err := validateStatus(q.Kind(), q.Status); err != nil {
		return err
	}
	if err := validatePriority(q.Kind(), q.Priority); err != nil {
		return err
	}
	if q.AssigneeID < 0 {
		return &ValidationError{Kind: q.Kind(), Field: "assigneeId", Message: "must not be negative"}
	}
	if q.RequesterID < 0 {
		return &ValidationError{Kind: q.Kind(), Field: "requesterId", Message: "must not be negative"}
	}
	if err := validateSort(q.Kind(), q.SortOrder); err != nil {
		return err
	}
	return validatePage(q.Kind(), q.Page, q.Limit)
}

type Search struct {
	Query     string
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

func (q Search) Kind() Kind             { return KindSearch }
func (q Search) CacheKeyPrefix() string { return q.Kind().Prefix() }

func (q Search) CanonicalParams() map[string]any {
	params := pageParams(q.Page, q.Limit, DefaultLimit)
	params["query"] = strings.TrimSpace(q.Query)
	putString(params, "sort_by", q.SortBy)
	putString(params, "sort_order", q.SortOrder)
	return params
}

func (q Search) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return &ValidationError{Kind: q.Kind(), Field: "query", Message: "is required"}
	}
	if err := validateSort(q.Kind(), q.SortOrder); err != nil {
		return err
	}
	return validatePage(q.Kind(), q.Page, q.Limit)
}

type TicketByID struct {
	TicketID int64
}

func (q TicketByID) Kind() Kind             { return KindTicketByID }
func (q TicketByID) CacheKeyPrefix() string { return q.Kind().Prefix() }

func (q TicketByID) CanonicalParams() map[string]any {
	return map[string]any{"ticket_id": q.TicketID}
}

func (q TicketByID) Validate() error {
	if q.TicketID <= 0 {
		return &ValidationError{Kind: q.Kind(), Field: "ticketId", Message: "is required"}
	}
	return nil
}

// Stats aggregates the first page of tickets matching the filters.
type Stats struct {
	Status   string
	Priority string
	Limit    int
}

func (q Stats) Kind() Kind             { return KindStats }
func (q Stats) CacheKeyPrefix() string { return q.Kind().Prefix() }

func (q Stats) CanonicalParams() map[string]any {
	params := map[string]any{"limit": effective(q.Limit, DefaultStatsLimit)}
	putString(params, "status", q.Status)
	putString(params, "priority", q.Priority)
	return params
}

func (q Stats) Validate() error {
	if err := validateStatus(q.Kind(), q.Status); err != nil {
		return err
	}
	if err := validatePriority(q.Kind(), q.Priority); err != nil {
		return err
	}
	return validatePage(q.Kind(), 0, q.Limit)
}

// UserList lists users, or fetches one when UserID is set.
type UserList struct {
	UserID int64
	Page   int
	Limit  int
}

func (q UserList) Kind() Kind             { return KindUsers }
func (q UserList) CacheKeyPrefix() string { return q.Kind().Prefix() }

func (q UserList) CanonicalParams() map[string]any {
	if q.UserID > 0 {
		return map[string]any{"user_id": q.UserID}
	}
	return pageParams(q.Page, q.Limit, DefaultLimit)
}

func (q UserList) Validate() error {
	if q.UserID < 0 {
		return &ValidationError{Kind: q.Kind(), Field: "userId", Message: "must not be negative"}
	}
	return validatePage(q.Kind(), q.Page, q.Limit)
}

// OrganizationList lists organizations, or fetches one when OrganizationID is set.
type OrganizationList struct {
	OrganizationID int64
	Page           int
	Limit          int
}

func (q OrganizationList) Kind() Kind             { return KindOrganizations }
func (q OrganizationList) CacheKeyPrefix() string { return q.Kind().Prefix() }

func (q OrganizationList) CanonicalParams() map[string]any {
	if q.OrganizationID > 0 {
		return map[string]any{"organization_id": q.OrganizationID}
	}
	return pageParams(q.Page, q.Limit, DefaultLimit)
}

func (q OrganizationList) Validate() error {
	if q.OrganizationID < 0 {
		return &ValidationError{Kind: q.Kind(), Field: "organizationId", Message: "must not be negative"}
	}
	return validatePage(q.Kind(), q.Page, q.Limit)
}

type UserStats struct {
	Limit int
}

func (q UserStats) Kind() Kind             { return KindUserStats }
func (q UserStats) CacheKeyPrefix() string { return q.Kind().Prefix() }

func (q UserStats) CanonicalParams() map[string]any {
	return map[string]any{"limit": effective(q.Limit, DefaultStatsLimit)}
}

func (q UserStats) Validate() error {
	return validatePage(q.Kind(), 0, q.Limit)
}

type OrgStats struct {
	Limit int
}

func (q OrgStats) Kind() Kind             { return KindOrgStats }
func (q OrgStats) CacheKeyPrefix() string { return q.Kind().Prefix() }

func (q OrgStats) CanonicalParams() map[string]any {
	return map[string]any{"limit": effective(q.Limit, DefaultStatsLimit)}
}

func (q OrgStats) Validate() error {
	return validatePage(q.Kind(), 0, q.Limit)
}

// Key returns the cache fingerprint of q.
func Key(q Query) string {
	if q == nil {
		return ""
	}
	return cache.KeyOf(q)
}

func pageParams(page int, limit int, defaultLimit int) map[string]any {
	return map[string]any{
		"page":     effective(page, DefaultPage),
		"per_page": effective(limit, defaultLimit),
	}
}

func effective(value int, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func putString(params map[string]any, name string, value string) {
	if value != "" {
		params[name] = value
	}
}

func putInt(params map[string]any, name string, value int64) {
	if value != 0 {
		params[name] = value
	}
}

func validateStatus(kind Kind, status string) error {
	if status == "" {
		return nil
	}
	if _, ok := ticketStatuses[status]; !ok {
		return &ValidationError{Kind: kind, Field: "status", Message: fmt.Sprintf("%q is not a ticket status", status)}
	}
	return nil
}

func validatePriority(kind Kind, priority string) error {
	if priority == "" {
		return nil
	}
	if _, ok := ticketPriorities[priority]; !ok {
		return &ValidationError{Kind: kind, Field: "priority", Message: fmt.Sprintf("%q is not a ticket priority", priority)}
	}
	return nil
}

func validateSort(kind Kind, order string) error {
	switch order {
	case "", "asc", "desc":
		return nil
	default:
		return &ValidationError{Kind: kind, Field: "sortOrder", Message: "must be asc or desc"}
	}
}

func validatePage(kind Kind, page int, limit int) error {
	if page < 0 {
		return &ValidationError{Kind: kind, Field: "page", Message: "must not be negative"}
	}
	if limit < 0 || limit > MaxLimit {
		return &ValidationError{Kind: kind, Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", MaxLimit)}
	}
	return nil
}
