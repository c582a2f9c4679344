// Package orchestrator sequences resolver, availability checker,
// confirmation gate and backend mutation for each classified request.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sekretaria/agenda/internal/audit"
	"github.com/sekretaria/agenda/internal/availability"
	"github.com/sekretaria/agenda/internal/calendar"
	"github.com/sekretaria/agenda/internal/classifier"
	"github.com/sekretaria/agenda/internal/confirm"
	"github.com/sekretaria/agenda/internal/model"
	"github.com/sekretaria/agenda/internal/store"
	"github.com/sekretaria/agenda/internal/temporal"
)

// ExecutionProcedure is the ledger procedure flagged for review when the
// correction loop hits a fatal failure.
const ExecutionProcedure = "appointment-execution"

// Options carries the documented tunables of the orchestration core.
type Options struct {
	DefaultTimeZone     string
	RetryCeiling        int
	BackoffInitial      time.Duration
	BackoffMax          time.Duration
	ConfidenceThreshold float64
	AgendaWindowDays    int
	AgendaMaxEvents     int
}

func (o *Options) fillDefaults() {
	if o.RetryCeiling <= 0 {
		o.RetryCeiling = 3
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 200 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 5 * time.Second
	}
	if o.ConfidenceThreshold <= 0 {
		o.ConfidenceThreshold = 0.6
	}
	if o.AgendaWindowDays <= 0 {
		o.AgendaWindowDays = 7
	}
	if o.AgendaMaxEvents <= 0 {
		o.AgendaMaxEvents = 10
	}
}

// Orchestrator is the decision layer. One instance serves all users;
// per-user ordering is enforced internally.
type Orchestrator struct {
	st       store.Store
	backend  calendar.Backend
	checker  *availability.Checker
	gate     *confirm.Gate
	recorder *audit.Recorder
	cls      classifier.Classifier
	opts     Options
	log      zerolog.Logger
	locks    *userLocks
	now      func() time.Time
}

func New(st store.Store, backend calendar.Backend, gate *confirm.Gate, recorder *audit.Recorder, cls classifier.Classifier, opts Options, log zerolog.Logger) *Orchestrator {
	opts.fillDefaults()
	return &Orchestrator{
		st:       st,
		backend:  backend,
		checker:  availability.NewChecker(backend),
		gate:     gate,
		recorder: recorder,
		cls:      cls,
		opts:     opts,
		log:      log,
		locks:    newUserLocks(),
		now:      time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Process handles one incoming message for a user and returns exactly one
// Outcome. If a confirmation is pending for the user the message is treated
// as the confirmation reply; otherwise it is classified and orchestrated.
func (o *Orchestrator) Process(ctx context.Context, userID, text string) (model.Outcome, error) {
	unlock := o.locks.lock(userID)
	defer unlock()

	// The "now" anchor is fixed once per request so retries and relative
	// phrases resolve identically within it.
	now := o.now()

	user, err := o.st.Users().Get(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return model.Outcome{Kind: model.OutcomeRejected, Detail: "unknown user"}, nil
	}
	if err != nil {
		return model.Outcome{}, err
	}

	pending, err := o.gate.Pending(ctx, userID)
	if err != nil {
		return model.Outcome{}, err
	}
	if pending != nil {
		return o.handleReply(ctx, user, text, now)
	}

	intent, err := o.cls.Classify(ctx, userID, text)
	if err != nil {
		o.recorder.Record(ctx, userID, model.AuditRequestRejected, map[string]interface{}{
			"reason": "classifier failure", "error": err.Error(),
		})
		return model.Outcome{Kind: model.OutcomeRejected, Detail: "could not understand the request"}, nil
	}
	o.recorder.Record(ctx, userID, model.AuditIntentReceived, map[string]interface{}{
		"kind":       string(intent.Kind),
		"confidence": intent.Confidence,
	})

	if !intent.Kind.IsCalendarIntent() {
		return model.Outcome{Kind: model.OutcomeOutOfDomain}, nil
	}

	return o.dispatch(ctx, user, intent, now)
}

// handleReply resolves the pending token with the user's message.
func (o *Orchestrator) handleReply(ctx context.Context, user *model.User, text string, now time.Time) (model.Outcome, error) {
	decision, tok, err := o.gate.Resolve(ctx, user.UserID, text, now)
	if err != nil {
		return model.Outcome{}, err
	}
	switch decision {
	case confirm.DecisionConfirmed:
		return o.execute(ctx, user, tok.Request, now)
	case confirm.DecisionDenied:
		return model.Outcome{Kind: model.OutcomeResult, Detail: "operation cancelled"}, nil
	case confirm.DecisionExpired:
		return model.Outcome{
			Kind:   model.OutcomeRejected,
			Detail: "confirmation expired; please restate the request",
		}, nil
	default:
		// Token vanished between Pending and Resolve; treat as a fresh message.
		return model.Outcome{Kind: model.OutcomeRejected, Detail: "nothing pending"}, nil
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, user *model.User, intent model.Intent, now time.Time) (model.Outcome, error) {
	switch intent.Kind {
	case model.IntentQuery:
		return o.handleQuery(ctx, user, intent, now)
	case model.IntentCheckAvailability:
		return o.handleAvailability(ctx, user, intent, now)
	case model.IntentCreate:
		return o.handleCreate(ctx, user, intent, now)
	case model.IntentDelete, model.IntentEdit, model.IntentMove:
		return o.handleTargeted(ctx, user, intent, now)
	default:
		return model.Outcome{Kind: model.OutcomeOutOfDomain}, nil
	}
}

func (o *Orchestrator) defaultTZ(user *model.User) string {
	if user.TimeZone != "" {
		return user.TimeZone
	}
	return o.opts.DefaultTimeZone
}

// clarify converts a resolver ambiguity into the NEEDS_CLARIFICATION outcome;
// other errors pass through.
func (o *Orchestrator) clarify(ctx context.Context, userID string, err error) (model.Outcome, error) {
	var amb *temporal.AmbiguityError
	if errors.As(err, &amb) {
		o.recorder.Record(ctx, userID, model.AuditAmbiguityRaised, map[string]interface{}{
			"missing": string(amb.Field),
		})
		return model.Outcome{Kind: model.OutcomeNeedsClarification, MissingField: amb.Field}, nil
	}
	if errors.Is(err, model.ErrValidation) {
		return model.Outcome{Kind: model.OutcomeRejected, Detail: err.Error()}, nil
	}
	return model.Outcome{}, err
}

func (o *Orchestrator) handleQuery(ctx context.Context, user *model.User, intent model.Intent, now time.Time) (model.Outcome, error) {
	tz := o.defaultTZ(user)
	var window model.ResolvedInterval
	var err error
	if intent.Entities.Date != "" {
		window, err = temporal.ResolveDay(intent.Entities.Date, tz, now)
	} else {
		window, err = temporal.ResolveDay("", tz, now)
		if err == nil {
			window.End = window.Start.AddDate(0, 0, o.opts.AgendaWindowDays)
		}
	}
	if err != nil {
		return o.clarify(ctx, user.UserID, err)
	}
	events, err := o.checker.Agenda(ctx, user.CalendarID, window, o.opts.AgendaMaxEvents)
	if err != nil {
		return o.backendFailureOutcome(ctx, user.UserID, err)
	}
	return model.Outcome{
		Kind:   model.OutcomeResult,
		Detail: fmt.Sprintf("%d event(s)", len(events)),
		Events: events,
	}, nil
}

func (o *Orchestrator) handleAvailability(ctx context.Context, user *model.User, intent model.Intent, now time.Time) (model.Outcome, error) {
	interval, err := o.resolveIntent(intent, user, now)
	if err != nil {
		return o.clarify(ctx, user.UserID, err)
	}
	verdict, err := o.checker.Check(ctx, user.CalendarID, interval)
	if err != nil {
		return o.backendFailureOutcome(ctx, user.UserID, err)
	}
	if verdict.Free {
		return model.Outcome{Kind: model.OutcomeResult, Detail: "free"}, nil
	}
	return model.Outcome{
		Kind:   model.OutcomeResult,
		Detail: "busy",
		Events: verdict.Overlapping,
	}, nil
}

func (o *Orchestrator) handleCreate(ctx context.Context, user *model.User, intent model.Intent, now time.Time) (model.Outcome, error) {
	interval, err := o.resolveIntent(intent, user, now)
	if err != nil {
		return o.clarify(ctx, user.UserID, err)
	}
	verdict, err := o.checker.Check(ctx, user.CalendarID, interval)
	if err != nil {
		return o.backendFailureOutcome(ctx, user.UserID, err)
	}
	if !verdict.Free {
		o.recorder.Record(ctx, user.UserID, model.AuditConflictDetected, map[string]interface{}{
			"overlapping": len(verdict.Overlapping),
		})
		return model.Outcome{
			Kind:   model.OutcomeRejected,
			Detail: "requested slot conflicts with existing events",
			Events: verdict.Overlapping,
		}, nil
	}

	req := model.AppointmentRequest{
		UserID:   user.UserID,
		Intent:   intent,
		Interval: &interval,
	}
	if intent.Confidence < o.opts.ConfidenceThreshold {
		return o.raiseGate(ctx, req, o.summarize(req), now)
	}
	return o.execute(ctx, user, req, now)
}

// handleTargeted serves delete, edit and move: the intents that name an
// existing event by free-text reference.
func (o *Orchestrator) handleTargeted(ctx context.Context, user *model.User, intent model.Intent, now time.Time) (model.Outcome, error) {
	ref := strings.TrimSpace(intent.Entities.TargetReference)
	if ref == "" {
		o.recorder.Record(ctx, user.UserID, model.AuditAmbiguityRaised, map[string]interface{}{
			"missing": string(model.AmbiguityTarget),
		})
		return model.Outcome{Kind: model.OutcomeNeedsClarification, MissingField: model.AmbiguityTarget}, nil
	}

	window := model.ResolvedInterval{Start: now, End: now.AddDate(0, 0, o.opts.AgendaWindowDays)}
	candidates, err := o.checker.Agenda(ctx, user.CalendarID, window, o.opts.AgendaMaxEvents)
	if err != nil {
		return o.backendFailureOutcome(ctx, user.UserID, err)
	}
	var matches []model.CalendarEvent
	needle := strings.ToLower(ref)
	for _, ev := range candidates {
		if strings.Contains(strings.ToLower(ev.Title), needle) {
			matches = append(matches, ev)
		}
	}

	if len(matches) == 0 {
		o.recorder.Record(ctx, user.UserID, model.AuditAmbiguityRaised, map[string]interface{}{
			"missing": string(model.AmbiguityTarget),
			"ref":     ref,
		})
		return model.Outcome{
			Kind:         model.OutcomeNeedsClarification,
			MissingField: model.AmbiguityTarget,
			Detail:       fmt.Sprintf("no upcoming event matches %q", ref),
		}, nil
	}

	req := model.AppointmentRequest{
		UserID:    user.UserID,
		Intent:    intent,
		TargetRef: matches[0].EventRef,
	}

	// Move and edit may carry a new slot; resolve it when present.
	if intent.Kind != model.IntentDelete && (intent.Entities.Date != "" || intent.Entities.Time != "") {
		interval, err := o.resolveIntent(intent, user, now)
		if err != nil {
			return o.clarify(ctx, user.UserID, err)
		}
		req.Interval = &interval
	}
	if intent.Kind == model.IntentMove && req.Interval == nil {
		return model.Outcome{Kind: model.OutcomeNeedsClarification, MissingField: model.AmbiguityDate}, nil
	}

	// A target matched by more than one event is not uniquely identified;
	// the action is destructive and must be confirmed. Confirmation applies
	// to the earliest matching event, which the summary spells out.
	if len(matches) > 1 || intent.Confidence < o.opts.ConfidenceThreshold {
		req.Destructive = len(matches) > 1
		summary := o.summarizeCandidates(req, matches)
		return o.raiseGate(ctx, req, summary, now)
	}

	return o.execute(ctx, user, req, now)
}

func (o *Orchestrator) resolveIntent(intent model.Intent, user *model.User, now time.Time) (model.ResolvedInterval, error) {
	return temporal.Resolve(model.TimeReference{
		Date:            intent.Entities.Date,
		Time:            intent.Entities.Time,
		DurationMinutes: intent.Entities.DurationMinutes,
		TimeZone:        intent.Entities.TimeZone,
	}, o.defaultTZ(user), now)
}

func (o *Orchestrator) raiseGate(ctx context.Context, req model.AppointmentRequest, summary string, now time.Time) (model.Outcome, error) {
	tok, err := o.gate.Open(ctx, req, summary, now)
	if err != nil {
		return model.Outcome{}, err
	}
	return model.Outcome{
		Kind:   model.OutcomePendingConfirmation,
		Detail: summary,
		Token:  tok,
	}, nil
}

func (o *Orchestrator) summarize(req model.AppointmentRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", req.Intent.Kind)
	if t := req.Intent.Entities.Title; t != "" {
		fmt.Fprintf(&b, " %q", t)
	}
	if req.Interval != nil {
		fmt.Fprintf(&b, " at %s", req.Interval.Start.Format("2006-01-02 15:04 MST"))
	}
	return b.String()
}

func (o *Orchestrator) summarizeCandidates(req model.AppointmentRequest, matches []model.CalendarEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s matches %d event(s):", req.Intent.Kind, len(matches))
	for _, ev := range matches {
		fmt.Fprintf(&b, " %q (%s);", ev.Title, ev.Start.Format("2006-01-02 15:04"))
	}
	if len(matches) > 1 {
		fmt.Fprintf(&b, " confirming applies to the first")
	}
	return b.String()
}
