package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"zendesk_datasource/internal/query"
	"zendesk_datasource/internal/zendesk"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"

	ContentTypeCSV  = "text/csv"
	ContentTypeJSON = "application/json"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrNotExportable     = errors.New("query kind cannot be exported")
)

var (
	ticketHeader       = []string{"ID", "Subject", "Status", "Priority", "Created At", "Updated At", "Requester ID", "Assignee ID"}
	userHeader         = []string{"ID", "Name", "Email", "Role", "Active", "Created At", "Updated At"}
	organizationHeader = []string{"ID", "Name", "Domain Names", "Created At", "Updated At"}
)

// ParseFormat maps a request parameter to a Format. An empty value means JSON.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, value)
	}
}

func Tickets(tickets []zendesk.Ticket, format Format) ([]byte, string, error) {
	return render(format, map[string]any{"tickets": nonNil(tickets)}, ticketHeader, len(tickets), func(i int) []string {
		t := tickets[i]
		return []string{
			strconv.FormatInt(t.ID, 10),
			deref(t.Subject),
			t.Status,
			deref(t.Priority),
			t.CreatedAt,
			t.UpdatedAt,
			strconv.FormatInt(t.RequesterID, 10),
			derefID(t.AssigneeID),
		}
	})
}

func Users(users []zendesk.User, format Format) ([]byte, string, error) {
	return render(format, map[string]any{"users": nonNil(users)}, userHeader, len(users), func(i int) []string {
		u := users[i]
		return []string{
			strconv.FormatInt(u.ID, 10),
			u.Name,
			u.Email,
			u.Role,
			strconv.FormatBool(u.Active),
			u.CreatedAt,
			u.UpdatedAt,
		}
	})
}

func Organizations(orgs []zendesk.Organization, format Format) ([]byte, string, error) {
	return render(format, map[string]any{"organizations": nonNil(orgs)}, organizationHeader, len(orgs), func(i int) []string {
		o := orgs[i]
		return []string{
			strconv.FormatInt(o.ID, 10),
			o.Name,
			strings.Join(o.DomainNames, "; "),
			o.CreatedAt,
			o.UpdatedAt,
		}
	})
}

// Result exports the records carried by a query result. Aggregate kinds have no rows.
func Result(result query.Result, format Format) ([]byte, string, error) {
	switch result.Kind {
	case query.KindTickets, query.KindSearch, query.KindTicketByID:
		return Tickets(result.Tickets, format)
	case query.KindUsers:
		return Users(result.Users, format)
	case query.KindOrganizations:
		return Organizations(result.Organizations, format)
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrNotExportable, result.Kind)
	}
}

// Fields lists the attributes each record kind exposes to query editors.
func Fields() map[string][]string {
	return map[string][]string{
		"tickets":       {"id", "subject", "status", "priority", "created_at", "updated_at"},
		"users":         {"id", "name", "email", "role", "active", "created_at"},
		"organizations": {"id", "name", "domain_names", "created_at"},
	}
}

func render(format Format, envelope any, header []string, rows int, row func(int) []string) ([]byte, string, error) {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(envelope, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("encode json export: %w", err)
		}
		return data, ContentTypeJSON, nil
	case FormatCSV:
		var buf bytes.Buffer
		writer := csv.NewWriter(&buf)
		if err := writer.Write(header); err != nil {
			return nil, "", fmt.Errorf("write csv header: %w", err)
		}
		for i := 0; i < rows; i++ {
			if err := writer.Write(row(i)); err != nil {
				return nil, "", fmt.Errorf("write csv row %d: %w", i, err)
			}
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			return nil, "", fmt.Errorf("flush csv: %w", err)
		}
		return buf.Bytes(), ContentTypeCSV, nil
	default:
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func derefID(value *int64) string {
	if value == nil {
		return ""
	}
	return strconv.FormatInt(*value, 10)
}
