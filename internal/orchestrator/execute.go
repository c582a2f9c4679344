package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sekretaria/agenda/internal/calendar"
	"github.com/sekretaria/agenda/internal/model"
)

// Fingerprint derives the deterministic idempotency key for a request:
// identical user, intent, interval and target always hash identically, so a
// retried execution replays instead of double-applying.
func Fingerprint(req model.AppointmentRequest) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|", req.UserID, req.Intent.Kind)
	if req.Interval != nil {
		fmt.Fprintf(h, "%s|%s|", req.Interval.Start.UTC().Format(time.RFC3339), req.Interval.End.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(h, "%s", req.TargetRef)
	return hex.EncodeToString(h.Sum(nil))
}

// execute performs the backend mutation for a request whose gating is
// settled. Destructive requests reach here only through a CONFIRMED token
// (handleReply); the dispatch paths never pass one directly.
func (o *Orchestrator) execute(ctx context.Context, user *model.User, req model.AppointmentRequest, now time.Time) (model.Outcome, error) {
	fp := Fingerprint(req)

	// Idempotence: a fingerprint that already succeeded never mutates again.
	if prior, err := o.st.Attempts().LastSuccess(ctx, fp); err == nil {
		return model.Outcome{
			Kind:     model.OutcomeResult,
			Detail:   "already applied",
			EventRef: prior.EventRef,
		}, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return model.Outcome{}, err
	}

	history, err := o.st.Attempts().ListByFingerprint(ctx, fp)
	if err != nil {
		return model.Outcome{}, err
	}
	base := len(history)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.opts.BackoffInitial
	bo.MaxInterval = o.opts.BackoffMax

	attempt := 0
	var eventRef string
	op := func() error {
		attempt++
		ref, mErr := o.mutate(ctx, user, req, fp)
		rec := &model.ExecutionAttempt{
			Fingerprint:   fp,
			UserID:        req.UserID,
			AttemptNumber: base + attempt,
		}
		if mErr == nil {
			eventRef = ref
			rec.Outcome = model.AttemptSuccess
			rec.EventRef = ref
			if err := o.st.Attempts().Record(ctx, rec); err != nil {
				o.log.Error().Stack().Err(err).Str("fingerprint", fp).Msg("attempt record failed")
			}
			return nil
		}
		rec.ErrorDetail = mErr.Error()
		if errors.Is(mErr, model.ErrTransient) {
			rec.Outcome = model.AttemptTransientFailure
			if err := o.st.Attempts().Record(ctx, rec); err != nil {
				o.log.Error().Stack().Err(err).Str("fingerprint", fp).Msg("attempt record failed")
			}
			o.recorder.Record(ctx, req.UserID, model.AuditCorrectionAttempt, map[string]interface{}{
				"fingerprint": fp,
				"attempt":     base + attempt,
				"error":       mErr.Error(),
			})
			return mErr
		}
		rec.Outcome = model.AttemptFatalFailure
		if err := o.st.Attempts().Record(ctx, rec); err != nil {
			o.log.Error().Stack().Err(err).Str("fingerprint", fp).Msg("attempt record failed")
		}
		return backoff.Permanent(mErr)
	}

	retries := uint64(0)
	if o.opts.RetryCeiling > 1 {
		retries = uint64(o.opts.RetryCeiling - 1)
	}
	err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx))
	if err != nil {
		return o.failureOutcome(ctx, req, fp, err, now)
	}

	o.recorder.Record(ctx, req.UserID, model.AuditMutationApplied, map[string]interface{}{
		"fingerprint": fp,
		"intent":      string(req.Intent.Kind),
		"event_ref":   eventRef,
	})
	return model.Outcome{
		Kind:     model.OutcomeResult,
		Detail:   fmt.Sprintf("%s applied", req.Intent.Kind),
		EventRef: eventRef,
	}, nil
}

// mutate dispatches one backend call for the request, keyed by fingerprint.
func (o *Orchestrator) mutate(ctx context.Context, user *model.User, req model.AppointmentRequest, fp string) (string, error) {
	switch req.Intent.Kind {
	case model.IntentCreate:
		title := req.Intent.Entities.Title
		if title == "" {
			title = "appointment"
		}
		ev, err := o.backend.Create(ctx, user.CalendarID, calendar.EventInput{
			Title:        title,
			Start:        req.Interval.Start,
			End:          req.Interval.End,
			TimeZone:     req.Interval.TimeZone,
			Location:     req.Intent.Entities.Location,
			Participants: req.Intent.Entities.Participants,
		}, fp)
		if err != nil {
			return "", err
		}
		return ev.EventRef, nil

	case model.IntentDelete:
		if err := o.backend.Delete(ctx, user.CalendarID, req.TargetRef, fp); err != nil {
			return "", err
		}
		return req.TargetRef, nil

	case model.IntentEdit, model.IntentMove:
		var ch calendar.EventChanges
		if t := req.Intent.Entities.Title; t != "" {
			ch.Title = &t
		}
		if l := req.Intent.Entities.Location; l != "" {
			ch.Location = &l
		}
		if req.Interval != nil {
			start, end := req.Interval.Start, req.Interval.End
			ch.Start = &start
			ch.End = &end
		}
		ev, err := o.backend.Update(ctx, user.CalendarID, req.TargetRef, ch, fp)
		if err != nil {
			return "", err
		}
		return ev.EventRef, nil

	default:
		return "", fmt.Errorf("%w: intent %q is not a mutation", model.ErrFatal, req.Intent.Kind)
	}
}

// failureOutcome converts a terminal mutation error into the outcome the
// failure class demands. The loop never escalates a class's severity except
// reclassifying exhausted TRANSIENT retries as fatal.
func (o *Orchestrator) failureOutcome(ctx context.Context, req model.AppointmentRequest, fp string, err error, now time.Time) (model.Outcome, error) {
	switch {
	case errors.Is(err, model.ErrAuthorization):
		o.recorder.Record(ctx, req.UserID, model.AuditRequestRejected, map[string]interface{}{
			"fingerprint": fp, "class": "authorization",
		})
		return model.Outcome{
			Kind:   model.OutcomeRejected,
			Detail: "calendar authorization required; please re-authorize and retry",
		}, nil

	case errors.Is(err, model.ErrCostIncurring):
		// Never auto-retried: the second attempt needs a fresh consent cycle.
		summary := fmt.Sprintf("retry %s (operation may incur cost)", o.summarize(req))
		return o.raiseGate(ctx, req, summary, now)

	case errors.Is(err, model.ErrNotFound):
		return model.Outcome{
			Kind:   model.OutcomeRejected,
			Detail: "target event no longer exists",
		}, nil

	default:
		// Fatal, or transient retries exhausted. Surface to the operator and
		// flag the active procedure for human review; it is never auto-edited.
		o.flagActiveProcedure(ctx, err)
		o.recorder.Record(ctx, req.UserID, model.AuditRequestRejected, map[string]interface{}{
			"fingerprint": fp, "class": "fatal", "error": err.Error(),
		})
		o.log.Error().Stack().Err(err).
			Str("fingerprint", fp).
			Str("user_id", req.UserID).
			Msg("mutation failed permanently")
		return model.Outcome{
			Kind:   model.OutcomeRejected,
			Detail: "the calendar operation failed and was reported for review",
		}, nil
	}
}

func (o *Orchestrator) flagActiveProcedure(ctx context.Context, cause error) {
	active, err := o.st.Directives().Active(ctx, ExecutionProcedure)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			o.log.Error().Stack().Err(err).Msg("directive lookup failed")
		}
		return
	}
	reason := fmt.Sprintf("fatal execution failure: %v", cause)
	if err := o.st.Directives().Flag(ctx, active.ProcedureName, active.Version, reason); err != nil {
		o.log.Error().Stack().Err(err).Msg("directive flag failed")
	}
}

// backendFailureOutcome maps a read-path backend error onto an outcome.
// Reads are not mutations: failures are surfaced, not retried.
func (o *Orchestrator) backendFailureOutcome(ctx context.Context, userID string, err error) (model.Outcome, error) {
	switch {
	case errors.Is(err, model.ErrAuthorization):
		return model.Outcome{
			Kind:   model.OutcomeRejected,
			Detail: "calendar authorization required; please re-authorize",
		}, nil
	case errors.Is(err, model.ErrTransient):
		return model.Outcome{
			Kind:   model.OutcomeRejected,
			Detail: "calendar backend temporarily unavailable; please retry",
		}, nil
	default:
		o.recorder.Record(ctx, userID, model.AuditRequestRejected, map[string]interface{}{
			"class": "fatal", "error": err.Error(),
		})
		return model.Outcome{}, err
	}
}
