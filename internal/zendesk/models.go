package zendesk

type Ticket struct {
	ID             int64    `json:"id"`
	URL            string   `json:"url"`
	ExternalID     *string  `json:"external_id,omitempty"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
	Type           *string  `json:"type,omitempty"`
	Subject        *string  `json:"subject,omitempty"`
	Description    *string  `json:"description,omitempty"`
	Priority       *string  `json:"priority,omitempty"`
	Status         string   `json:"status"`
	RequesterID    int64    `json:"requester_id"`
	AssigneeID     *int64   `json:"assignee_id,omitempty"`
	OrganizationID *int64   `json:"organization_id,omitempty"`
	GroupID        *int64   `json:"group_id,omitempty"`
	Tags           []string `json:"tags,omitempty"`
}

type User struct {
	ID             int64  `json:"id"`
	URL            string `json:"url"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
	Role           string `json:"role"`
	Active         bool   `json:"active"`
	Verified       bool   `json:"verified"`
	OrganizationID *int64 `json:"organization_id,omitempty"`
}

type Organization struct {
	ID            int64    `json:"id"`
	URL           string   `json:"url"`
	Name          string   `json:"name"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
	DomainNames   []string `json:"domain_names,omitempty"`
	SharedTickets bool     `json:"shared_tickets"`
	Tags          []string `json:"tags,omitempty"`
}

// Page carries the pagination envelope shared by every list endpoint.
type Page struct {
	Count        *int    `json:"count,omitempty"`
	NextPage     *string `json:"next_page,omitempty"`
	PreviousPage *string `json:"previous_page,omitempty"`
}

type TicketsResponse struct {
	Tickets []Ticket `json:"tickets"`
	Page
}

type TicketResponse struct {
	Ticket Ticket `json:"ticket"`
}

type SearchResponse struct {
	Results []Ticket `json:"results"`
	Page
}

type UsersResponse struct {
	Users []User `json:"users"`
	Page
}

type UserResponse struct {
	User User `json:"user"`
}

type OrganizationsResponse struct {
	Organizations []Organization `json:"organizations"`
	Page
}

type OrganizationResponse struct {
	Organization Organization `json:"organization"`
}

// ListParams are the paging and ordering options accepted by list and search endpoints.
type ListParams struct {
	Page      int
	PerPage   int
	SortBy    string
	SortOrder string
}

type TicketListParams struct {
	ListParams
	Status      string
	Priority    string
	AssigneeID  int64
	RequesterID int64
}
