package helpdesk

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/helpdesk-query/internal/domain"
)

// intercomAPIVersion pins the response shapes decoded below.
const intercomAPIVersion = "2.11"

// IntercomConfig configures the Intercom adapter.
type IntercomConfig struct {
	AccessToken string
	// AdminID acts on behalf of this admin for replies, state changes and tags.
	AdminID string
	// AppID is only used to build inbox deep links.
	AppID string
	// BaseURL overrides https://api.intercom.io.
	BaseURL    string
	RPS        float64
	HTTPClient *http.Client
}

// Intercom implements Store over Intercom conversations. It does not
// support delete, spam or merge.
type Intercom struct {
	cfg  IntercomConfig
	rest *restClient
	now  func() time.Time
}

// NewIntercom constructs an Intercom adapter using bearer auth.
func NewIntercom(cfg IntercomConfig) *Intercom {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.intercom.io"
	}
	rc := newRESTClient("intercom", base, cfg.HTTPClient, cfg.RPS)
	rc.headers["Intercom-Version"] = intercomAPIVersion
	rc.auth = func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+cfg.AccessToken)
	}
	return &Intercom{cfg: cfg, rest: rc, now: time.Now}
}

// Name implements Store.
func (ic *Intercom) Name() string { return "intercom" }

// TicketURL implements Store.
func (ic *Intercom) TicketURL(id string) string {
	return fmt.Sprintf("https://app.intercom.com/a/apps/%s/inbox/inbox/all/conversations/%s", ic.cfg.AppID, id)
}

type icConversation struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	State           string `json:"state"`
	Priority        string `json:"priority"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
	AdminAssigneeID *int64 `json:"admin_assignee_id"`
	Source          struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
		Author  struct {
			Email string `json:"email"`
		} `json:"author"`
	} `json:"source"`
	Tags struct {
		Tags []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"tags"`
	} `json:"tags"`
}

type icConversationPage struct {
	Conversations []icConversation `json:"conversations"`
	Pages         struct {
		Next *struct {
			StartingAfter string `json:"starting_after"`
		} `json:"next"`
	} `json:"pages"`
}

type icAdmin struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Type  string `json:"type"`
}

type icTag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// stripHTML flattens an Intercom message body to plain text.
func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

func (c icConversation) normalize() domain.Ticket {
	subject := firstNonBlank(c.Title, stripHTML(c.Source.Subject))
	body := stripHTML(c.Source.Body)
	if subject == "" {
		subject = truncateRunes(body, 80)
	}
	out := domain.Ticket{
		ID:             c.ID,
		Subject:        subject,
		Description:    body,
		Status:         strings.ToLower(c.State),
		Priority:       fromIntercomPriority(c.Priority),
		CreatedAt:      unixTime(c.CreatedAt),
		UpdatedAt:      unixTime(c.UpdatedAt),
		RequesterEmail: c.Source.Author.Email,
	}
	if c.AdminAssigneeID != nil {
		s := strconv.FormatInt(*c.AdminAssigneeID, 10)
		out.AssigneeID = &s
	}
	for _, t := range c.Tags.Tags {
		out.Tags = append(out.Tags, t.Name)
	}
	return out
}

// FetchAll implements Store using starting_after cursors.
func (ic *Intercom) FetchAll(ctx context.Context) ([]domain.Ticket, error) {
	ctx, span := otel.Tracer("helpdesk/intercom").Start(ctx, "FetchAll")
	defer span.End()

	var out []domain.Ticket
	cursor := ""
	for {
		q := url.Values{"per_page": {"50"}}
		if cursor != "" {
			q.Set("starting_after", cursor)
		}
		var page icConversationPage
		if err := ic.rest.do(ctx, http.MethodGet, "/conversations", q, nil, &page); err != nil {
			span.RecordError(err)
			return nil, err
		}
		for _, c := range page.Conversations {
			out = append(out, c.normalize())
		}
		if page.Pages.Next == nil || page.Pages.Next.StartingAfter == "" || page.Pages.Next.StartingAfter == cursor {
			break
		}
		cursor = page.Pages.Next.StartingAfter
	}
	span.SetAttributes(attribute.Int("tickets", len(out)))
	return out, nil
}

// Get fetches one conversation.
func (ic *Intercom) Get(ctx context.Context, id string) (domain.Ticket, error) {
	var c icConversation
	if err := ic.rest.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, nil, &c); err != nil {
		return domain.Ticket{}, err
	}
	return c.normalize(), nil
}

// Mutate implements Store. Every patch field is its own API call, applied
// in the order status, priority, assignee, tags added, tags removed.
func (ic *Intercom) Mutate(ctx context.Context, id string, p Patch) (domain.Ticket, error) {
	ctx, span := otel.Tracer("helpdesk/intercom").Start(ctx, "Mutate",
		trace.WithAttributes(attribute.String("ticket.id", id)))
	defer span.End()

	convPath := "/conversations/" + url.PathEscape(id)
	steps := []func() error{}

	if p.Status != "" {
		steps = append(steps, func() error {
			return ic.rest.do(ctx, http.MethodPost, convPath+"/parts", nil, ic.statusPart(p.Status), nil)
		})
	}
	if p.Priority != "" {
		steps = append(steps, func() error {
			return ic.rest.do(ctx, http.MethodPut, convPath, nil, map[string]any{"priority": toIntercomPriority(p.Priority)}, nil)
		})
	}
	if p.AssigneeEmail != "" {
		steps = append(steps, func() error {
			admin, err := ic.findAdminByEmail(ctx, p.AssigneeEmail)
			if err != nil {
				return err
			}
			body := map[string]any{
				"message_type": "assignment",
				"type":         "admin",
				"admin_id":     ic.cfg.AdminID,
				"assignee_id":  admin.ID,
			}
			return ic.rest.do(ctx, http.MethodPost, convPath+"/parts", nil, body, nil)
		})
	}
	for _, name := range normalizeTags(p.AddTags) {
		steps = append(steps, func() error {
			tag, err := ic.ensureTag(ctx, name)
			if err != nil {
				return err
			}
			return ic.rest.do(ctx, http.MethodPost, convPath+"/tags", nil, map[string]any{"id": tag.ID, "admin_id": ic.cfg.AdminID}, nil)
		})
	}
	if rm := normalizeTags(p.RemoveTags); len(rm) > 0 {
		steps = append(steps, func() error {
			current, err := ic.rawConversation(ctx, id)
			if err != nil {
				return err
			}
			for _, t := range current.Tags.Tags {
				if !containsFold(rm, t.Name) {
					continue
				}
				body := map[string]any{"admin_id": ic.cfg.AdminID}
				if err := ic.rest.do(ctx, http.MethodDelete, convPath+"/tags/"+url.PathEscape(t.ID), nil, body, nil); err != nil {
					return err
				}
			}
			return nil
		})
	}

	for _, step := range steps {
		if err := step(); err != nil {
			span.RecordError(err)
			return domain.Ticket{}, err
		}
	}
	return ic.Get(ctx, id)
}

// statusPart builds the reply-part body that moves a conversation to the
// canonical status. Pending and hold map onto a 24h snooze.
func (ic *Intercom) statusPart(status string) map[string]any {
	body := map[string]any{"type": "admin", "admin_id": ic.cfg.AdminID}
	switch status {
	case domain.StatusClosed, domain.StatusSolved:
		body["message_type"] = "close"
	case domain.StatusSnoozed, domain.StatusPending, domain.StatusHold:
		body["message_type"] = "snoozed"
		body["snoozed_until"] = ic.now().Add(24 * time.Hour).Unix()
	default:
		body["message_type"] = "open"
	}
	return body
}

// Create implements Store by opening a user-initiated conversation.
func (ic *Intercom) Create(ctx context.Context, nt NewTicket) (domain.Ticket, error) {
	if nt.RequesterEmail == "" {
		return domain.Ticket{}, fmt.Errorf("%w: intercom needs a requester email to open a conversation", ErrInvalidInput)
	}
	text := nt.Description
	if nt.Subject != "" && nt.Subject != nt.Description {
		text = strings.TrimSpace(nt.Subject + "\n\n" + nt.Description)
	}
	body := map[string]any{
		"from": map[string]any{"type": "user", "email": nt.RequesterEmail},
		"body": text,
	}
	var created struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := ic.rest.do(ctx, http.MethodPost, "/conversations", nil, body, &created); err != nil {
		return domain.Ticket{}, err
	}
	if created.ConversationID == "" {
		return domain.Ticket{}, fmt.Errorf("%w: intercom: create returned no conversation id", ErrStoreUnavailable)
	}
	if nt.Priority != "" || len(nt.Tags) > 0 {
		return ic.Mutate(ctx, created.ConversationID, Patch{Priority: nt.Priority, AddTags: nt.Tags})
	}
	return ic.Get(ctx, created.ConversationID)
}

// ListUsers implements Store (workspace admins).
func (ic *Intercom) ListUsers(ctx context.Context) ([]domain.User, error) {
	admins, err := ic.admins(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(admins))
	for _, a := range admins {
		out = append(out, domain.User{ID: a.ID, Name: a.Name, Email: a.Email, Role: "admin"})
	}
	return out, nil
}

func (ic *Intercom) admins(ctx context.Context) ([]icAdmin, error) {
	var resp struct {
		Admins []icAdmin `json:"admins"`
	}
	if err := ic.rest.do(ctx, http.MethodGet, "/admins", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Admins, nil
}

func (ic *Intercom) findAdminByEmail(ctx context.Context, email string) (icAdmin, error) {
	admins, err := ic.admins(ctx)
	if err != nil {
		return icAdmin{}, err
	}
	for _, a := range admins {
		if strings.EqualFold(a.Email, email) {
			return a, nil
		}
	}
	return icAdmin{}, fmt.Errorf("intercom: no admin with email %s: %w", email, ErrNotFound)
}

// ensureTag returns the workspace tag with name, creating it if needed.
// POST /tags is an upsert on name.
func (ic *Intercom) ensureTag(ctx context.Context, name string) (icTag, error) {
	var tag icTag
	if err := ic.rest.do(ctx, http.MethodPost, "/tags", nil, map[string]any{"name": name}, &tag); err != nil {
		return icTag{}, err
	}
	return tag, nil
}

func (ic *Intercom) rawConversation(ctx context.Context, id string) (icConversation, error) {
	var c icConversation
	err := ic.rest.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, nil, &c)
	return c, err
}

func fromIntercomPriority(p string) string {
	switch strings.ToLower(p) {
	case "priority":
		return domain.PriorityHigh
	case "not_priority", "":
		return domain.PriorityNormal
	}
	return strings.ToLower(p)
}

// toIntercomPriority collapses the canonical scale onto Intercom's flag.
func toIntercomPriority(p string) string {
	switch p {
	case domain.PriorityUrgent, domain.PriorityHigh:
		return "priority"
	}
	return "not_priority"
}

func unixTime(secs int64) time.Time {
	if secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
