package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/helpdesk-query/internal/domain"
	"github.com/tbourn/helpdesk-query/internal/helpdesk"
	"github.com/tbourn/helpdesk-query/internal/llm"
)

// SnapshotCache is the part of cache.Cache the pipeline uses.
type SnapshotCache interface {
	Get(ctx context.Context) (*domain.Snapshot, error)
	Invalidate()
}

// Dispatcher maps operation requests onto store calls. Destructive
// operations go through a stateless confirmation gate: the first request
// only names the exact confirmation phrase, and only that phrase executes.
type Dispatcher struct {
	store     helpdesk.Store
	cache     SnapshotCache
	completer llm.Completer
	rules     []intentRule
}

// NewDispatcher returns a dispatcher over store. completer may be nil, in
// which case reply drafting is reported as unsupported.
func NewDispatcher(store helpdesk.Store, cache SnapshotCache, completer llm.Completer) *Dispatcher {
	return &Dispatcher{store: store, cache: cache, completer: completer, rules: defaultIntentRules()}
}

var confirmRE = regexp.MustCompile(`^confirm\s+(delete|spam)\s+(?:ticket|conversation)\s+#?(\w+)$`)

// TryDispatch returns (answer, true) when query is an operation request.
// snap may be nil when the store could not be read.
func (d *Dispatcher) TryDispatch(ctx context.Context, query string, qctx QueryContext, snap *domain.Snapshot) (Answer, bool) {
	q := normalizeForIntent(query)
	m := classifyIntent(d.rules, q)
	if !m.Matched {
		return Answer{}, false
	}

	tr := otel.Tracer("services/Dispatcher")
	ctx, span := tr.Start(ctx, "TryDispatch",
		trace.WithAttributes(
			attribute.String("store", d.store.Name()),
			attribute.String("intent", string(m.Intent)),
		),
	)
	defer span.End()

	if m.Ambiguous() {
		names := make([]string, len(m.Tied))
		for i, in := range m.Tied {
			names[i] = string(in)
		}
		return warn(domain.SourceLive, OutcomeAmbiguousIntent, confidenceClarify,
			fmt.Sprintf("I'm not sure which action you want (%s). Please ask for one action at a time, for example \"delete ticket #123\".",
				strings.Join(names, " or "))), true
	}

	zerolog.Ctx(ctx).Debug().Str("store", d.store.Name()).Str("intent", string(m.Intent)).Msg("dispatch")

	switch m.Intent {
	case IntentRefresh:
		return d.refresh(ctx), true
	case IntentGenerateReply:
		return d.generateReply(ctx, q, qctx, snap), true
	case IntentCreate:
		return d.create(ctx, query, q), true
	case IntentUpdateStatus:
		return d.updateStatus(ctx, q, qctx), true
	case IntentUpdatePriority:
		return d.updatePriority(ctx, q, qctx), true
	case IntentAssign:
		return d.assign(ctx, q, qctx), true
	case IntentTagAdd:
		return d.tags(ctx, q, qctx, true), true
	case IntentTagRemove:
		return d.tags(ctx, q, qctx, false), true
	case IntentDelete:
		return d.requestConfirmation(q, qctx, snap, "delete"), true
	case IntentSpam:
		return d.requestConfirmation(q, qctx, snap, "spam"), true
	case IntentConfirmDelete, IntentConfirmSpam:
		return d.confirm(ctx, q), true
	case IntentRestore:
		return d.restore(ctx, q, qctx), true
	case IntentMerge:
		return d.merge(ctx, q, qctx), true
	case IntentListUsers:
		return d.listUsers(ctx), true
	}
	return Answer{}, false
}

func (d *Dispatcher) refresh(ctx context.Context) Answer {
	d.cache.Invalidate()
	snap, err := d.cache.Get(ctx)
	if err != nil {
		return d.failure("refresh the ticket cache", err)
	}
	n := len(snap.Records)
	return ok(domain.SourceLive, confidenceAction,
		fmt.Sprintf("Cache refreshed: %d %s loaded from %s.", n, ticketWord(n), d.store.Name()))
}

func (d *Dispatcher) updateStatus(ctx context.Context, q string, qctx QueryContext) Answer {
	status := extractStatus(q)
	if status == "" {
		return clarify(OutcomeAmbiguousEntity, "Which status should I set? For example: \"mark ticket #123 as solved\".")
	}
	r := resolveTargets(q, qctx.LastResults)
	if r.Missing != "" {
		return clarify(OutcomeMissingContext, r.Missing)
	}
	return d.applyPatch(ctx, r.IDs, helpdesk.Patch{Status: status}, "set status of", "status set to "+status)
}

func (d *Dispatcher) updatePriority(ctx context.Context, q string, qctx QueryContext) Answer {
	priority := extractPriority(q)
	if priority == "" {
		return clarify(OutcomeAmbiguousEntity, "Which priority should I set (urgent, high, normal or low)? For example: \"set the priority of ticket #123 to high\".")
	}
	r := resolveTargets(q, qctx.LastResults)
	if r.Missing != "" {
		return clarify(OutcomeMissingContext, r.Missing)
	}
	return d.applyPatch(ctx, r.IDs, helpdesk.Patch{Priority: priority}, "set priority of", "priority set to "+priority)
}

func (d *Dispatcher) assign(ctx context.Context, q string, qctx QueryContext) Answer {
	email := extractEmail(q)
	if email == "" {
		return clarify(OutcomeAmbiguousEntity, "Who should I assign it to? Give the agent's email, for example: \"assign ticket #123 to sam@example.com\".")
	}
	r := resolveTargets(q, qctx.LastResults)
	if r.Missing != "" {
		return clarify(OutcomeMissingContext, r.Missing)
	}
	return d.applyPatch(ctx, r.IDs, helpdesk.Patch{AssigneeEmail: email}, "assign", "assigned to "+email)
}

func (d *Dispatcher) tags(ctx context.Context, q string, qctx QueryContext, add bool) Answer {
	tags := extractTags(q)
	if len(tags) == 0 {
		return clarify(OutcomeAmbiguousEntity, "Which tag? For example: \"add the tag vip to ticket #123\" or \"remove tag billing from ticket #123\".")
	}
	r := resolveTargets(q, qctx.LastResults)
	if r.Missing != "" {
		return clarify(OutcomeMissingContext, r.Missing)
	}
	list := strings.Join(tags, ", ")
	if add {
		return d.applyPatch(ctx, r.IDs, helpdesk.Patch{AddTags: tags}, "tag", "tagged "+list)
	}
	return d.applyPatch(ctx, r.IDs, helpdesk.Patch{RemoveTags: tags}, "untag", "tag "+list+" removed")
}

// applyPatch mutates each id in turn and stops at the first failure. A
// failed Mutate may still have applied some of its calls, so the cache is
// invalidated either way.
func (d *Dispatcher) applyPatch(ctx context.Context, ids []string, p helpdesk.Patch, verb, done string) Answer {
	var updated []domain.Ticket
	for _, id := range ids {
		t, err := d.store.Mutate(ctx, id, p)
		if err != nil {
			d.cache.Invalidate()
			a := d.failure(fmt.Sprintf("%s ticket #%s", verb, id), err)
			a.Results = updated
			return a
		}
		updated = append(updated, t)
	}
	d.cache.Invalidate()

	var b strings.Builder
	for i, t := range updated {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Ticket #%s %s.", t.ID, done)
		if t.Status != "" && p.Status != "" && t.Status != p.Status {
			fmt.Fprintf(&b, " (%s reports it as %s)", d.store.Name(), t.Status)
		}
		fmt.Fprintf(&b, " %s", d.store.TicketURL(t.ID))
	}
	a := ok(domain.SourceLive, confidenceAction, b.String())
	a.Results = updated
	return a
}

func (d *Dispatcher) create(ctx context.Context, raw, q string) Answer {
	subject := extractSubject(raw)
	if subject == "" {
		return clarify(OutcomeAmbiguousEntity, "What is the new ticket about? For example: \"create a ticket for jane@example.com about login issues\".")
	}
	nt := helpdesk.NewTicket{
		Subject:        subject,
		Description:    subject,
		RequesterEmail: extractEmail(q),
		Priority:       extractExplicitPriority(q),
	}
	t, err := d.store.Create(ctx, nt)
	if err != nil {
		return d.failure("create the ticket", err)
	}
	d.cache.Invalidate()
	a := ok(domain.SourceLive, confidenceAction,
		fmt.Sprintf("Created ticket #%s: %s %s", t.ID, t.Subject, d.store.TicketURL(t.ID)))
	a.Results = []domain.Ticket{t}
	return a
}

// requestConfirmation is the first half of the delete/spam gate. It never
// touches the store.
func (d *Dispatcher) requestConfirmation(q string, qctx QueryContext, snap *domain.Snapshot, action string) Answer {
	caps := helpdesk.CapabilitiesOf(d.store)
	if (action == "delete" && !caps.Delete) || (action == "spam" && !caps.Spam) {
		return d.unsupported(action)
	}
	r := resolveTargets(q, qctx.LastResults)
	if r.Missing != "" {
		return clarify(OutcomeMissingContext, r.Missing)
	}
	if len(r.IDs) > 1 {
		return clarify(OutcomeAmbiguousEntity, fmt.Sprintf("I can only %s one ticket at a time. Which one: #%s?", action, strings.Join(r.IDs, " or #")))
	}
	id := r.IDs[0]
	what := "ticket #" + id
	if t, found := lookupTicket(id, qctx.LastResults, snap); found && t.Subject != "" {
		what = fmt.Sprintf("ticket #%s (%q)", id, t.Subject)
	}
	effect := "delete " + what
	if action == "spam" {
		effect = "mark " + what + " as spam"
	}
	return warn(domain.SourceLive, OutcomeConfirmationRequired, confidenceConfirmation,
		fmt.Sprintf("This will %s. To proceed, reply exactly: confirm %s ticket #%s", effect, action, id))
}

// confirm executes a destructive operation named by the literal phrase.
func (d *Dispatcher) confirm(ctx context.Context, q string) Answer {
	m := confirmRE.FindStringSubmatch(q)
	if m == nil {
		return clarify(OutcomeAmbiguousEntity, "Reply exactly \"confirm delete ticket #123\" or \"confirm spam ticket #123\".")
	}
	action, id := m[1], m[2]

	switch action {
	case "delete":
		del, can := d.store.(helpdesk.Deleter)
		if !can {
			return d.unsupported("delete")
		}
		if err := del.Delete(ctx, id); err != nil {
			return d.failure("delete ticket #"+id, err)
		}
		d.cache.Invalidate()
		zerolog.Ctx(ctx).Info().Str("store", d.store.Name()).Str("ticket", id).Msg("ticket deleted")
		return ok(domain.SourceLive, confidenceAction,
			fmt.Sprintf("Ticket #%s deleted. Say \"restore ticket #%s\" to undo.", id, id))
	default:
		sm, can := d.store.(helpdesk.SpamMarker)
		if !can {
			return d.unsupported("spam")
		}
		if err := sm.MarkSpam(ctx, id); err != nil {
			return d.failure("mark ticket #"+id+" as spam", err)
		}
		d.cache.Invalidate()
		zerolog.Ctx(ctx).Info().Str("store", d.store.Name()).Str("ticket", id).Msg("ticket marked as spam")
		return ok(domain.SourceLive, confidenceAction, fmt.Sprintf("Ticket #%s marked as spam.", id))
	}
}

func (d *Dispatcher) restore(ctx context.Context, q string, qctx QueryContext) Answer {
	del, can := d.store.(helpdesk.Deleter)
	if !can {
		return d.unsupported("restore")
	}
	r := resolveTargets(q, qctx.LastResults)
	if r.Missing != "" {
		return clarify(OutcomeMissingContext, r.Missing)
	}
	id := r.IDs[0]
	t, err := del.Restore(ctx, id)
	if err != nil {
		return d.failure("restore ticket #"+id, err)
	}
	d.cache.Invalidate()
	a := ok(domain.SourceLive, confidenceAction, fmt.Sprintf("Ticket #%s restored. %s", t.ID, d.store.TicketURL(t.ID)))
	a.Results = []domain.Ticket{t}
	return a
}

func (d *Dispatcher) merge(ctx context.Context, q string, qctx QueryContext) Answer {
	mg, can := d.store.(helpdesk.Merger)
	if !can {
		return d.unsupported("merge")
	}
	r := resolveTargets(q, qctx.LastResults)
	if r.Missing != "" {
		return clarify(OutcomeMissingContext, r.Missing)
	}
	if len(r.IDs) < 2 {
		return clarify(OutcomeAmbiguousEntity, "Name at least two tickets, for example: \"merge ticket #3 into #4\".")
	}
	targetID := r.IDs[0]
	if i := strings.Index(q, " into "); i >= 0 {
		if after := resolveTargets(q[i:], qctx.LastResults); len(after.IDs) > 0 {
			targetID = after.IDs[0]
		}
	}
	var sources []string
	for _, id := range r.IDs {
		if id != targetID {
			sources = append(sources, id)
		}
	}
	t, err := mg.Merge(ctx, targetID, sources)
	if err != nil {
		return d.failure("merge into ticket #"+targetID, err)
	}
	d.cache.Invalidate()
	a := ok(domain.SourceLive, confidenceAction,
		fmt.Sprintf("Merged #%s into ticket #%s. %s", strings.Join(sources, ", #"), targetID, d.store.TicketURL(targetID)))
	a.Results = []domain.Ticket{t}
	return a
}

func (d *Dispatcher) listUsers(ctx context.Context) Answer {
	users, err := d.store.ListUsers(ctx)
	if err != nil {
		return d.failure("list agents", err)
	}
	if len(users) == 0 {
		return ok(domain.SourceLive, confidenceAction, fmt.Sprintf("No agents found in %s.", d.store.Name()))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d agents in %s:", len(users), d.store.Name())
	for _, u := range users {
		fmt.Fprintf(&b, "\n- %s <%s>", u.Name, u.Email)
		if u.Role != "" {
			fmt.Fprintf(&b, " (%s)", u.Role)
		}
	}
	return ok(domain.SourceLive, confidenceAction, b.String())
}

const replySystemPrompt = `You are a helpful customer support agent. Draft a reply to the customer who opened the ticket below.
Be polite, concise and concrete. Do not invent facts that are not in the ticket. Return only the reply text.`

func (d *Dispatcher) generateReply(ctx context.Context, q string, qctx QueryContext, snap *domain.Snapshot) Answer {
	if d.completer == nil {
		return warn(domain.SourceLive, OutcomeUnsupported, confidenceUnsupported,
			"Drafting replies needs a language model, and none is configured.")
	}
	r := resolveTargets(q, qctx.LastResults)
	if r.Missing != "" {
		return clarify(OutcomeMissingContext, r.Missing)
	}
	id := r.IDs[0]
	t, found := lookupTicket(id, qctx.LastResults, snap)
	if !found {
		g, can := d.store.(helpdesk.Getter)
		if !can {
			return fail(domain.SourceLive, OutcomeOperationFailed, fmt.Sprintf("Ticket #%s is not in the cache. Refresh and try again.", id))
		}
		var err error
		if t, err = g.Get(ctx, id); err != nil {
			return d.failure("load ticket #"+id, err)
		}
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Ticket #%s\nSubject: %s\nStatus: %s\n", t.ID, t.Subject, t.Status)
	if t.Priority != "" {
		fmt.Fprintf(&user, "Priority: %s\n", t.Priority)
	}
	fmt.Fprintf(&user, "Description:\n%s\n\nAgent request: %s", t.Description, q)

	text, err := d.completer.Complete(ctx, replySystemPrompt, user.String())
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("ticket", id).Msg("reply draft failed")
		return fail(domain.SourceAI, OutcomeFallbackFailure, fmt.Sprintf("I couldn't draft a reply for ticket #%s: %v", id, err))
	}
	a := ok(domain.SourceAI, confidenceFallback, fmt.Sprintf("Draft reply for ticket #%s:\n\n%s", id, text))
	a.Results = []domain.Ticket{t}
	return a
}

func (d *Dispatcher) unsupported(action string) Answer {
	return warn(domain.SourceLive, OutcomeUnsupported, confidenceUnsupported,
		fmt.Sprintf("%s does not support the %s operation.", titleLabel(d.store.Name()), action))
}

// failure converts an adapter error into an answer.
func (d *Dispatcher) failure(action string, err error) Answer {
	switch {
	case errors.Is(err, helpdesk.ErrInvalidInput):
		return clarify(OutcomeAmbiguousEntity, fmt.Sprintf("I need more details to %s: %v", action, err))
	case errors.Is(err, helpdesk.ErrUnsupported):
		return d.unsupported(action)
	case helpdesk.IsNotFound(err):
		return fail(domain.SourceLive, OutcomeOperationFailed, fmt.Sprintf("Could not %s: not found (%v).", action, err))
	case errors.Is(err, helpdesk.ErrStoreUnavailable):
		return fail(domain.SourceLive, OutcomeStoreUnavailable, fmt.Sprintf("Could not %s: %s is unavailable (%v).", action, d.store.Name(), err))
	}
	return fail(domain.SourceLive, OutcomeOperationFailed, fmt.Sprintf("Could not %s: %v", action, err))
}

func clarify(outcome Outcome, text string) Answer {
	return warn(domain.SourceLive, outcome, confidenceClarify, text)
}
