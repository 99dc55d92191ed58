package query

import (
	"context"
	"fmt"

	"zendesk_datasource/internal/zendesk"
)

// API is the part of the ticketing client that queries need.
type API interface {
	ListTickets(ctx context.Context, params zendesk.TicketListParams) (*zendesk.TicketsResponse, error)
	GetTicket(ctx context.Context, id int64) (*zendesk.TicketResponse, error)
	SearchTickets(ctx context.Context, search string, params zendesk.ListParams) (*zendesk.SearchResponse, error)
	ListUsers(ctx context.Context, params zendesk.ListParams) (*zendesk.UsersResponse, error)
	GetUser(ctx context.Context, id int64) (*zendesk.UserResponse, error)
	ListOrganizations(ctx context.Context, params zendesk.ListParams) (*zendesk.OrganizationsResponse, error)
	GetOrganization(ctx context.Context, id int64) (*zendesk.OrganizationResponse, error)
}

var _ API = (*zendesk.Client)(nil)

// Execute performs exactly one upstream call for q.
func Execute(ctx context.Context, api API, q Query) (Result, error) {
	switch q := q.(type) {
	case TicketList:
		resp, err := api.ListTickets(ctx, zendesk.TicketListParams{
			ListParams:  listParams(q.Page, q.Limit, DefaultLimit, q.SortBy, q.SortOrder),
			Status:      q.Status,
			Priority:    q.Priority,
			AssigneeID:  q.AssigneeID,
			RequesterID: q.RequesterID,
		})
		if err != nil {
			return Result{}, err
		}
		count, next := pageInfo(resp.Page, len(resp.Tickets))
		return Result{Kind: KindTickets, Tickets: resp.Tickets, Count: count, NextPage: next}, nil

	case Search:
		resp, err := api.SearchTickets(ctx, q.Query, listParams(q.Page, q.Limit, DefaultLimit, q.SortBy, q.SortOrder))
		if err != nil {
			return Result{}, err
		}
		count, next := pageInfo(resp.Page, len(resp.Results))
		return Result{Kind: KindSearch, Tickets: resp.Results, Count: count, NextPage: next}, nil

	case TicketByID:
		resp, err := api.GetTicket(ctx, q.TicketID)
		if err != nil {
			return Result{}, err
		}
		return Result{Kind: KindTicketByID, Tickets: []zendesk.Ticket{resp.Ticket}, Count: 1}, nil

	case Stats:
		resp, err := api.ListTickets(ctx, zendesk.TicketListParams{
			ListParams: listParams(1, q.Limit, DefaultStatsLimit, "", ""),
			Status:     q.Status,
			Priority:   q.Priority,
		})
		if err != nil {
			return Result{}, err
		}
		stats := ComputeTicketStats(resp.Tickets)
		return Result{Kind: KindStats, TicketStats: &stats, Count: stats.Total}, nil

	case UserList:
		if q.UserID > 0 {
			resp, err := api.GetUser(ctx, q.UserID)
			if err != nil {
				return Result{}, err
			}
			return Result{Kind: KindUsers, Users: []zendesk.User{resp.User}, Count: 1}, nil
		}
		resp, err := api.ListUsers(ctx, listParams(q.Page, q.Limit, DefaultLimit, "", ""))
		if err != nil {
			return Result{}, err
		}
		count, next := pageInfo(resp.Page, len(resp.Users))
		return Result{Kind: KindUsers, Users: resp.Users, Count: count, NextPage: next}, nil

	case OrganizationList:
		if q.OrganizationID > 0 {
			resp, err := api.GetOrganization(ctx, q.OrganizationID)
			if err != nil {
				return Result{}, err
			}
			return Result{Kind: KindOrganizations, Organizations: []zendesk.Organization{resp.Organization}, Count: 1}, nil
		}
		resp, err := api.ListOrganizations(ctx, listParams(q.Page, q.Limit, DefaultLimit, "", ""))
		if err != nil {
			return Result{}, err
		}
		count, next := pageInfo(resp.Page, len(resp.Organizations))
		return Result{Kind: KindOrganizations, Organizations: resp.Organizations, Count: count, NextPage: next}, nil

	case UserStats:
		resp, err := api.ListUsers(ctx, listParams(1, q.Limit, DefaultStatsLimit, "", ""))
		if err != nil {
			return Result{}, err
		}
		stats := ComputeUserStats(resp.Users)
		return Result{Kind: KindUserStats, UserStats: &stats, Count: stats.Total}, nil

	case OrgStats:
		resp, err := api.ListOrganizations(ctx, listParams(1, q.Limit, DefaultStatsLimit, "", ""))
		if err != nil {
			return Result{}, err
		}
		stats := ComputeOrgStats(resp.Organizations)
		return Result{Kind: KindOrgStats, OrgStats: &stats, Count: stats.Total}, nil

	case nil:
		return Result{}, ErrMissingKind
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownKind, q.Kind())
	}
}

func listParams(page int, limit int, defaultLimit int, sortBy string, sortOrder string) zendesk.ListParams {
	return zendesk.ListParams{
		Page:      effective(page, DefaultPage),
		PerPage:   effective(limit, defaultLimit),
		SortBy:    sortBy,
		SortOrder: sortOrder,
	}
}
