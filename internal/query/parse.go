package query

import (
	"encoding/json"
	"fmt"
)

// Request is the JSON form of a query as sent by dashboards and API clients.
type Request struct {
	RefID          string `json:"refId,omitempty"`
	QueryType      Kind   `json:"queryType"`
	TicketID       int64  `json:"ticketId,omitempty"`
	Status         string `json:"status,omitempty"`
	Priority       string `json:"priority,omitempty"`
	AssigneeID     int64  `json:"assigneeId,omitempty"`
	RequesterID    int64  `json:"requesterId,omitempty"`
	UserID         int64  `json:"userId,omitempty"`
	OrganizationID int64  `json:"organizationId,omitempty"`
	Query          string `json:"query,omitempty"`
	Page           int    `json:"page,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	SortBy         string `json:"sortBy,omitempty"`
	SortOrder      string `json:"sortOrder,omitempty"`
}

// Parse decodes and validates a single JSON query.
func Parse(data []byte) (Query, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode query: %w", err)
	}
	return req.Typed()
}

// Typed converts the request into its typed form and validates it.
func (r Request) Typed() (Query, error) {
	var q Query
	switch r.QueryType {
	case "":
		return nil, ErrMissingKind
	case KindTickets:
		q = TicketList{Status: r.Status, Priority: r.Priority, AssigneeID: r.AssigneeID, RequesterID: r.RequesterID, Page: r.Page, Limit: r.Limit, SortBy: r.SortBy, SortOrder: r.SortOrder}
	case KindSearch:
		q = Search{Query: r.Query, Page: r.Page, Limit: r.Limit, SortBy: r.SortBy, SortOrder: r.SortOrder}
	case KindTicketByID:
		q = TicketByID{TicketID: r.TicketID}
	case KindStats:
		q = Stats{Status: r.Status, Priority: r.Priority, Limit: r.Limit}
	case KindUsers:
		q = UserList{UserID: r.UserID, Page: r.Page, Limit: r.Limit}
	case KindOrganizations:
		q = OrganizationList{OrganizationID: r.OrganizationID, Page: r.Page, Limit: r.Limit}
	case KindUserStats:
		q = UserStats{Limit: r.Limit}
	case KindOrgStats:
		q = OrgStats{Limit: r.Limit}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, r.QueryType)
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}
