package query

import (
	"time"

	"zendesk_datasource/internal/zendesk"
)

// Result is the cached answer to one query.
type Result struct {
	Kind          Kind                   `json:"kind"`
	Tickets       []zendesk.Ticket       `json:"tickets,omitempty"`
	Users         []zendesk.User         `json:"users,omitempty"`
	Organizations []zendesk.Organization `json:"organizations,omitempty"`
	TicketStats   *TicketStats           `json:"ticket_stats,omitempty"`
	UserStats     *UserStatsResult       `json:"user_stats,omitempty"`
	OrgStats      *OrgStatsResult        `json:"org_stats,omitempty"`
	Count         int                    `json:"count"`
	NextPage      string                 `json:"next_page,omitempty"`
}

type TicketStats struct {
	Total      int            `json:"total"`
	Open       int            `json:"open"`
	Solved     int            `json:"solved"`
	ByStatus   map[string]int `json:"by_status"`
	ByPriority map[string]int `json:"by_priority"`
	// AverageResolutionMS covers solved tickets only; nil when there are none.
	AverageResolutionMS *float64 `json:"average_resolution_ms,omitempty"`
}

type UserStatsResult struct {
	Total  int            `json:"total"`
	Active int            `json:"active"`
	ByRole map[string]int `json:"by_role"`
}

type OrgStatsResult struct {
	Total             int `json:"total"`
	WithSharedTickets int `json:"with_shared_tickets"`
}

func ComputeTicketStats(tickets []zendesk.Ticket) TicketStats {
	stats := TicketStats{
		Total:      len(tickets),
		ByStatus:   make(map[string]int),
		ByPriority: make(map[string]int),
	}

	var resolvedTotal time.Duration
	resolved := 0
	for _, ticket := range tickets {
		stats.ByStatus[ticket.Status]++
		switch ticket.Status {
		case "new", "open", "pending", "hold":
			stats.Open++
		case "solved", "closed":
			stats.Solved++
		}

		priority := "normal"
		if ticket.Priority != nil && *ticket.Priority != "" {
			priority = *ticket.Priority
		}
		stats.ByPriority[priority]++

		if ticket.Status != "solved" {
			continue
		}
		created, errCreated := time.Parse(time.RFC3339, ticket.CreatedAt)
		updated, errUpdated := time.Parse(time.RFC3339, ticket.UpdatedAt)
		if errCreated != nil || errUpdated != nil {
			continue
		}
		resolvedTotal += updated.Sub(created)
		resolved++
	}

	if resolved > 0 {
		average := float64(resolvedTotal.Milliseconds()) / float64(resolved)
		stats.AverageResolutionMS = &average
	}
	return stats
}

func ComputeUserStats(users []zendesk.User) UserStatsResult {
	stats := UserStatsResult{Total: len(users), ByRole: make(map[string]int)}
	for _, user := range users {
		if user.Active {
			stats.Active++
		}
		role := user.Role
		if role == "" {
			role = "end-user"
		}
		stats.ByRole[role]++
	}
	return stats
}

func ComputeOrgStats(orgs []zendesk.Organization) OrgStatsResult {
	stats := OrgStatsResult{Total: len(orgs)}
	for _, org := range orgs {
		if org.SharedTickets {
			stats.WithSharedTickets++
		}
	}
	return stats
}

func pageInfo(page zendesk.Page, fallback int) (int, string) {
	count := fallback
	if page.Count != nil {
		count = *page.Count
	}
	next := ""
	if page.NextPage != nil {
		next = *page.NextPage
	}
	return count, next
}
