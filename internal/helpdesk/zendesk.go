package helpdesk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

// ZendeskConfig configures the Zendesk adapter.
type ZendeskConfig struct {
	Subdomain string // "acme" for acme.zendesk.com
	Email     string // agent email used with the API token
	APIToken  string
	// BaseURL overrides https://{subdomain}.zendesk.com (tests, proxies).
	BaseURL string
	// RPS paces outbound calls when > 0.
	RPS        float64
	HTTPClient *http.Client
}

// Zendesk implements Store, Deleter, SpamMarker and Merger against the
// Zendesk Support REST API (v2).
type Zendesk struct {
	cfg  ZendeskConfig
	rest *restClient
}

// NewZendesk constructs a Zendesk adapter authenticating with
// "{email}/token:{apiToken}" basic auth.
func NewZendesk(cfg ZendeskConfig) *Zendesk {
	base := cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://%s.zendesk.com", cfg.Subdomain)
	}
	rc := newRESTClient("zendesk", base, cfg.HTTPClient, cfg.RPS)
	rc.auth = func(r *http.Request) {
		r.SetBasicAuth(cfg.Email+"/token", cfg.APIToken)
	}
	return &Zendesk{cfg: cfg, rest: rc}
}

// Name implements Store.
func (z *Zendesk) Name() string { return "zendesk" }

// TicketURL implements Store.
func (z *Zendesk) TicketURL(id string) string {
	return fmt.Sprintf("https://%s.zendesk.com/agent/tickets/%s", z.cfg.Subdomain, id)
}

// --- wire types ---

type zdTicket struct {
	ID          int64    `json:"id"`
	Subject     string   `json:"subject"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    *string  `json:"priority"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	AssigneeID  *int64   `json:"assignee_id"`
	Tags        []string `json:"tags"`
	Via         *struct {
		Source struct {
			From struct {
				Address string `json:"address"`
			} `json:"from"`
		} `json:"source"`
	} `json:"via,omitempty"`
}

type zdTicketEnvelope struct {
	Ticket zdTicket `json:"ticket"`
}

type zdTicketPage struct {
	Tickets []zdTicket `json:"tickets"`
	Meta    struct {
		HasMore bool `json:"has_more"`
	} `json:"meta"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

type zdUser struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type zdUserPage struct {
	Users []zdUser `json:"users"`
	Meta  struct {
		HasMore bool `json:"has_more"`
	} `json:"meta"`
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
}

func (t zdTicket) normalize() domain.Ticket {
	out := domain.Ticket{
		ID:          strconv.FormatInt(t.ID, 10),
		Subject:     t.Subject,
		Description: t.Description,
		Status:      strings.ToLower(t.Status),
		CreatedAt:   parseISO(t.CreatedAt),
		UpdatedAt:   parseISO(t.UpdatedAt),
		Tags:        append([]string(nil), t.Tags...),
	}
	if t.Priority != nil {
		out.Priority = strings.ToLower(*t.Priority)
	}
	if t.AssigneeID != nil {
		s := strconv.FormatInt(*t.AssigneeID, 10)
		out.AssigneeID = &s
	}
	if t.Via != nil {
		out.RequesterEmail = t.Via.Source.From.Address
	}
	return out
}

// FetchAll implements Store using cursor pagination.
func (z *Zendesk) FetchAll(ctx context.Context) ([]domain.Ticket, error) {
	ctx, span := otel.Tracer("helpdesk/zendesk").Start(ctx, "FetchAll")
	defer span.End()

	var out []domain.Ticket
	next := "/api/v2/tickets.json"
	query := url.Values{"page[size]": {"100"}}
	for next != "" {
		var page zdTicketPage
		if err := z.rest.do(ctx, http.MethodGet, next, query, nil, &page); err != nil {
			span.RecordError(err)
			return nil, err
		}
		for _, t := range page.Tickets {
			out = append(out, t.normalize())
		}
		next, query = "", nil
		if page.Meta.HasMore && page.Links.Next != "" {
			next = page.Links.Next
		}
	}
	span.SetAttributes(attribute.Int("tickets", len(out)))
	return out, nil
}

// Get fetches one ticket.
func (z *Zendesk) Get(ctx context.Context, id string) (domain.Ticket, error) {
	var env zdTicketEnvelope
	if err := z.rest.do(ctx, http.MethodGet, "/api/v2/tickets/"+url.PathEscape(id)+".json", nil, nil, &env); err != nil {
		return domain.Ticket{}, err
	}
	return env.Ticket.normalize(), nil
}

// Mutate implements Store. Status, priority and assignee go out in one
// ticket update; tag additions and removals use the tags endpoint.
func (z *Zendesk) Mutate(ctx context.Context, id string, p Patch) (domain.Ticket, error) {
	ctx, span := otel.Tracer("helpdesk/zendesk").Start(ctx, "Mutate",
		trace.WithAttributes(attribute.String("ticket.id", id)))
	defer span.End()

	if p.IsZero() {
		return z.Get(ctx, id)
	}

	fields := map[string]any{}
	if p.Status != "" {
		fields["status"] = toZendeskStatus(p.Status)
	}
	if p.Priority != "" {
		fields["priority"] = p.Priority
	}
	if p.AssigneeEmail != "" {
		agent, err := z.findUserByEmail(ctx, p.AssigneeEmail)
		if err != nil {
			span.RecordError(err)
			return domain.Ticket{}, err
		}
		fields["assignee_id"] = agent.ID
	}

	var latest *domain.Ticket
	if len(fields) > 0 {
		var env zdTicketEnvelope
		body := map[string]any{"ticket": fields}
		if err := z.rest.do(ctx, http.MethodPut, "/api/v2/tickets/"+url.PathEscape(id)+".json", nil, body, &env); err != nil {
			span.RecordError(err)
			return domain.Ticket{}, err
		}
		t := env.Ticket.normalize()
		latest = &t
	}

	tagsPath := "/api/v2/tickets/" + url.PathEscape(id) + "/tags.json"
	if add := normalizeTags(p.AddTags); len(add) > 0 {
		if err := z.rest.do(ctx, http.MethodPut, tagsPath, nil, map[string]any{"tags": add}, nil); err != nil {
			span.RecordError(err)
			return domain.Ticket{}, err
		}
		latest = nil
	}
	if rm := normalizeTags(p.RemoveTags); len(rm) > 0 {
		if err := z.rest.do(ctx, http.MethodDelete, tagsPath, nil, map[string]any{"tags": rm}, nil); err != nil {
			span.RecordError(err)
			return domain.Ticket{}, err
		}
		latest = nil
	}
	if latest != nil {
		return *latest, nil
	}
	return z.Get(ctx, id)
}

// Create implements Store.
func (z *Zendesk) Create(ctx context.Context, nt NewTicket) (domain.Ticket, error) {
	ticket := map[string]any{
		"subject": nt.Subject,
		"comment": map[string]any{"body": firstNonBlank(nt.Description, nt.Subject)},
	}
	if nt.Priority != "" {
		ticket["priority"] = nt.Priority
	}
	if nt.RequesterEmail != "" {
		ticket["requester"] = map[string]any{"email": nt.RequesterEmail, "name": nameFromEmail(nt.RequesterEmail)}
	}
	if tags := normalizeTags(nt.Tags); len(tags) > 0 {
		ticket["tags"] = tags
	}
	var env zdTicketEnvelope
	if err := z.rest.do(ctx, http.MethodPost, "/api/v2/tickets.json", nil, map[string]any{"ticket": ticket}, &env); err != nil {
		return domain.Ticket{}, err
	}
	return env.Ticket.normalize(), nil
}

// Delete implements Deleter (soft delete; restorable).
func (z *Zendesk) Delete(ctx context.Context, id string) error {
	return z.rest.do(ctx, http.MethodDelete, "/api/v2/tickets/"+url.PathEscape(id)+".json", nil, nil, nil)
}

// Restore implements Deleter.
func (z *Zendesk) Restore(ctx context.Context, id string) (domain.Ticket, error) {
	if err := z.rest.do(ctx, http.MethodPut, "/api/v2/deleted_tickets/"+url.PathEscape(id)+"/restore.json", nil, nil, nil); err != nil {
		return domain.Ticket{}, err
	}
	return z.Get(ctx, id)
}

// MarkSpam implements SpamMarker. Zendesk also suspends the requester.
func (z *Zendesk) MarkSpam(ctx context.Context, id string) error {
	return z.rest.do(ctx, http.MethodPut, "/api/v2/tickets/"+url.PathEscape(id)+"/mark_as_spam.json", nil, nil, nil)
}

// Merge implements Merger: sourceIDs are closed into targetID.
func (z *Zendesk) Merge(ctx context.Context, targetID string, sourceIDs []string) (domain.Ticket, error) {
	ids := make([]int64, 0, len(sourceIDs))
	for _, s := range sourceIDs {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return domain.Ticket{}, fmt.Errorf("zendesk: invalid ticket id %q", s)
		}
		ids = append(ids, n)
	}
	body := map[string]any{"ids": ids}
	if err := z.rest.do(ctx, http.MethodPost, "/api/v2/tickets/"+url.PathEscape(targetID)+"/merge.json", nil, body, nil); err != nil {
		return domain.Ticket{}, err
	}
	return z.Get(ctx, targetID)
}

// ListUsers implements Store (agents and admins).
func (z *Zendesk) ListUsers(ctx context.Context) ([]domain.User, error) {
	var out []domain.User
	next := "/api/v2/users.json"
	query := url.Values{"role[]": {"agent", "admin"}, "page[size]": {"100"}}
	for next != "" {
		var page zdUserPage
		if err := z.rest.do(ctx, http.MethodGet, next, query, nil, &page); err != nil {
			return nil, err
		}
		for _, u := range page.Users {
			out = append(out, u.normalize())
		}
		next, query = "", nil
		if page.Meta.HasMore && page.Links.Next != "" {
			next = page.Links.Next
		}
	}
	return out, nil
}

func (z *Zendesk) findUserByEmail(ctx context.Context, email string) (zdUser, error) {
	var page zdUserPage
	q := url.Values{"query": {email}}
	if err := z.rest.do(ctx, http.MethodGet, "/api/v2/users/search.json", q, nil, &page); err != nil {
		return zdUser{}, err
	}
	for _, u := range page.Users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return zdUser{}, fmt.Errorf("zendesk: no user with email %s: %w", email, ErrNotFound)
}

func (u zdUser) normalize() domain.User {
	return domain.User{ID: strconv.FormatInt(u.ID, 10), Name: u.Name, Email: u.Email, Role: u.Role}
}

// toZendeskStatus maps canonical statuses onto Zendesk's vocabulary.
func toZendeskStatus(s string) string {
	if s == domain.StatusSnoozed {
		return domain.StatusHold
	}
	return s
}

func parseISO(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func nameFromEmail(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
