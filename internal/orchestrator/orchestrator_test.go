package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekretaria/agenda/internal/audit"
	"github.com/sekretaria/agenda/internal/calendar/calendartest"
	"github.com/sekretaria/agenda/internal/confirm"
	"github.com/sekretaria/agenda/internal/model"
	"github.com/sekretaria/agenda/internal/store"
	storelite "github.com/sekretaria/agenda/internal/store/sqlite"
)

// Monday, 2026-06-01 09:00 UTC.
var anchor = time.Date(2026, time.June, 1, 9, 0, 0, 0, time.UTC)

type scriptedClassifier struct {
	intents map[string]model.Intent
	err     error
}

func (s *scriptedClassifier) Classify(ctx context.Context, userID, text string) (model.Intent, error) {
	if s.err != nil {
		return model.Intent{}, s.err
	}
	in, ok := s.intents[text]
	if !ok {
		return model.Intent{UserID: userID, Kind: model.IntentUnrelated, Confidence: 0.9, RawText: text}, nil
	}
	in.UserID = userID
	in.RawText = text
	return in, nil
}

type rig struct {
	orch  *Orchestrator
	st    store.Store
	fake  *calendartest.Fake
	cls   *scriptedClassifier
	clock time.Time
}

func newRig(t *testing.T) *rig {
	t.Helper()
	db, err := storelite.Open(filepath.Join(t.TempDir(), "orch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := storelite.NewWithDB(db)

	_, err = st.Users().Create(context.Background(), &model.User{
		UserID: "u1", Email: "u1@example.com", TimeZone: "UTC", CalendarID: "cal",
	})
	require.NoError(t, err)

	fake := calendartest.New()
	cls := &scriptedClassifier{intents: map[string]model.Intent{}}
	log := zerolog.Nop()
	rec := audit.NewRecorder(st.Audit(), log)
	gate := confirm.NewGate(st.Tokens(), rec, 10*time.Minute)

	r := &rig{st: st, fake: fake, cls: cls, clock: anchor}
	r.orch = New(st, fake, gate, rec, cls, Options{
		DefaultTimeZone: "UTC",
		RetryCeiling:    3,
		BackoffInitial:  time.Millisecond,
		BackoffMax:      2 * time.Millisecond,
	}, log).WithClock(func() time.Time { return r.clock })
	return r
}

func (r *rig) script(text string, in model.Intent) {
	r.cls.intents[text] = in
}

func createIntent(confidence float64) model.Intent {
	return model.Intent{
		Kind:       model.IntentCreate,
		Confidence: confidence,
		Entities: model.IntentEntities{
			Title: "checkup", Date: "2026-06-02", Time: "10:00", DurationMinutes: 60,
		},
	}
}

func deleteIntent(target string, confidence float64) model.Intent {
	return model.Intent{
		Kind:       model.IntentDelete,
		Confidence: confidence,
		Entities:   model.IntentEntities{TargetReference: target},
	}
}

func TestProcess_UnknownUser(t *testing.T) {
	r := newRig(t)
	out, err := r.orch.Process(context.Background(), "ghost", "hola")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejected, out.Kind)
	assert.Equal(t, "unknown user", out.Detail)
}

func TestProcess_OutOfDomainShortCircuits(t *testing.T) {
	r := newRig(t)
	out, err := r.orch.Process(context.Background(), "u1", "what's the weather like")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeOutOfDomain, out.Kind)
	assert.Zero(t, r.fake.Creates+r.fake.Updates+r.fake.Deletes)
}

func TestProcess_ClassifierFailureRejects(t *testing.T) {
	r := newRig(t)
	r.cls.err = fmt.Errorf("%w: model unreachable", model.ErrTransient)
	out, err := r.orch.Process(context.Background(), "u1", "agenda algo")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejected, out.Kind)
}

func TestCreate_FreeSlotExecutes(t *testing.T) {
	r := newRig(t)
	r.script("book checkup", createIntent(0.9))

	out, err := r.orch.Process(context.Background(), "u1", "book checkup")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeResult, out.Kind)
	assert.Equal(t, 1, r.fake.Creates)
	assert.NotEmpty(t, out.EventRef)

	// The attempt log recorded exactly one success.
	attempts, err := r.st.Attempts().ListByFingerprint(context.Background(), Fingerprint(model.AppointmentRequest{
		UserID: "u1",
		Intent: model.Intent{UserID: "u1", Kind: model.IntentCreate, Confidence: 0.9, RawText: "book checkup", Entities: createIntent(0.9).Entities},
		Interval: &model.ResolvedInterval{
			Start: time.Date(2026, time.June, 2, 10, 0, 0, 0, time.UTC),
			End:   time.Date(2026, time.June, 2, 11, 0, 0, 0, time.UTC),
		},
	}))
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, model.AttemptSuccess, attempts[0].Outcome)
}

func TestCreate_ConflictBlocksMutation(t *testing.T) {
	r := newRig(t)
	r.fake.Seed("cal", "existing", time.Date(2026, time.June, 2, 10, 30, 0, 0, time.UTC),
		time.Date(2026, time.June, 2, 11, 30, 0, 0, time.UTC))
	r.script("book checkup", createIntent(0.9))

	out, err := r.orch.Process(context.Background(), "u1", "book checkup")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejected, out.Kind)
	assert.NotEmpty(t, out.Events, "the conflicting events are reported back")
	assert.Zero(t, r.fake.Creates, "a conflicting create must never reach the backend")
}

func TestCreate_AdjacentSlotIsNotConflict(t *testing.T) {
	r := newRig(t)
	// Ends exactly when the request starts.
	r.fake.Seed("cal", "earlier", time.Date(2026, time.June, 2, 9, 0, 0, 0, time.UTC),
		time.Date(2026, time.June, 2, 10, 0, 0, 0, time.UTC))
	r.script("book checkup", createIntent(0.9))

	out, err := r.orch.Process(context.Background(), "u1", "book checkup")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeResult, out.Kind)
	assert.Equal(t, 1, r.fake.Creates)
}

func TestCreate_LowConfidenceGatesThenConfirms(t *testing.T) {
	r := newRig(t)
	r.script("maybe book", createIntent(0.4))

	out, err := r.orch.Process(context.Background(), "u1", "maybe book")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomePendingConfirmation, out.Kind)
	require.NotNil(t, out.Token)
	assert.Zero(t, r.fake.Creates)

	// The next message is the confirmation reply, not a new intent.
	r.clock = r.clock.Add(time.Minute)
	out, err = r.orch.Process(context.Background(), "u1", "sí")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeResult, out.Kind)
	assert.Equal(t, 1, r.fake.Creates)
}

func TestCreate_DenialCancels(t *testing.T) {
	r := newRig(t)
	r.script("maybe book", createIntent(0.4))

	_, err := r.orch.Process(context.Background(), "u1", "maybe book")
	require.NoError(t, err)

	r.clock = r.clock.Add(time.Minute)
	out, err := r.orch.Process(context.Background(), "u1", "mejor no")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeResult, out.Kind)
	assert.Equal(t, "operation cancelled", out.Detail)
	assert.Zero(t, r.fake.Creates)
}

func TestCreate_ExpiredConfirmationNeverExecutes(t *testing.T) {
	r := newRig(t)
	r.script("maybe book", createIntent(0.4))

	_, err := r.orch.Process(context.Background(), "u1", "maybe book")
	require.NoError(t, err)

	// The affirmative arrives after the deadline. It must be rejected as a
	// late reply to the dead token, never classified as a new message.
	r.clock = r.clock.Add(11 * time.Minute)
	out, err := r.orch.Process(context.Background(), "u1", "sí")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejected, out.Kind)
	assert.Contains(t, out.Detail, "confirmation expired")
	assert.Zero(t, r.fake.Creates, "an expired token must never execute")

	// Restating the request starts over from a clean gate.
	r.script("book the slot again", createIntent(0.9))
	out, err = r.orch.Process(context.Background(), "u1", "book the slot again")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeResult, out.Kind)
	assert.Equal(t, 1, r.fake.Creates)
}

func TestCreate_AmbiguousTimeAsksForClarification(t *testing.T) {
	r := newRig(t)
	in := createIntent(0.9)
	in.Entities.Time = ""
	r.script("book sometime", in)

	out, err := r.orch.Process(context.Background(), "u1", "book sometime")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNeedsClarification, out.Kind)
	assert.Equal(t, model.AmbiguityTime, out.MissingField)
	assert.Zero(t, r.fake.Creates)
}

func TestDelete_UniqueTargetExecutesDirectly(t *testing.T) {
	r := newRig(t)
	r.fake.Seed("cal", "dentist cleaning", anchor.Add(24*time.Hour), anchor.Add(25*time.Hour))
	r.script("cancel dentist", deleteIntent("dentist", 0.9))

	out, err := r.orch.Process(context.Background(), "u1", "cancel dentist")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeResult, out.Kind)
	assert.Equal(t, 1, r.fake.Deletes)
}

func TestDelete_MultiMatchRequiresConfirmation(t *testing.T) {
	r := newRig(t)
	r.fake.Seed("cal", "Dr. Gomez checkup", anchor.Add(24*time.Hour), anchor.Add(25*time.Hour))
	r.fake.Seed("cal", "Dr. Gomez follow-up", anchor.Add(48*time.Hour), anchor.Add(49*time.Hour))
	r.script("cancel gomez", deleteIntent("gomez", 0.9))

	out, err := r.orch.Process(context.Background(), "u1", "cancel gomez")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomePendingConfirmation, out.Kind)
	require.NotNil(t, out.Token)
	assert.True(t, out.Token.Request.Destructive)
	assert.Zero(t, r.fake.Deletes, "a destructive action must not execute before confirmation")

	// Denial leaves both events untouched.
	r.clock = r.clock.Add(time.Minute)
	out, err = r.orch.Process(context.Background(), "u1", "no")
	require.NoError(t, err)
	assert.Equal(t, "operation cancelled", out.Detail)
	assert.Zero(t, r.fake.Deletes)

	events, err := r.fake.ListEvents(context.Background(), "cal", anchor, anchor.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestDelete_MultiMatchConfirmAppliesToEarliest(t *testing.T) {
	r := newRig(t)
	first := r.fake.Seed("cal", "Dr. Gomez checkup", anchor.Add(24*time.Hour), anchor.Add(25*time.Hour))
	r.fake.Seed("cal", "Dr. Gomez follow-up", anchor.Add(48*time.Hour), anchor.Add(49*time.Hour))
	r.script("cancel gomez", deleteIntent("gomez", 0.9))

	out, err := r.orch.Process(context.Background(), "u1", "cancel gomez")
	require.NoError(t, err)
	require.Equal(t, model.OutcomePendingConfirmation, out.Kind)
	assert.Equal(t, first, out.Token.Request.TargetRef)

	r.clock = r.clock.Add(time.Minute)
	out, err = r.orch.Process(context.Background(), "u1", "confirmo")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeResult, out.Kind)
	assert.Equal(t, 1, r.fake.Deletes)

	events, err := r.fake.ListEvents(context.Background(), "cal", anchor, anchor.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Dr. Gomez follow-up", events[0].Title)
}

func TestDelete_NoMatchAsksForTarget(t *testing.T) {
	r := newRig(t)
	r.script("cancel dentist", deleteIntent("dentist", 0.9))

	out, err := r.orch.Process(context.Background(), "u1", "cancel dentist")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNeedsClarification, out.Kind)
	assert.Equal(t, model.AmbiguityTarget, out.MissingField)
}

func TestDelete_EmptyTargetAsksForTarget(t *testing.T) {
	r := newRig(t)
	r.script("cancel it", deleteIntent("", 0.9))

	out, err := r.orch.Process(context.Background(), "u1", "cancel it")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNeedsClarification, out.Kind)
	assert.Equal(t, model.AmbiguityTarget, out.MissingField)
}

func TestMove_WithoutNewSlotAsksForDate(t *testing.T) {
	r := newRig(t)
	r.fake.Seed("cal", "dentist", anchor.Add(24*time.Hour), anchor.Add(25*time.Hour))
	r.script("move dentist", model.Intent{
		Kind: model.IntentMove, Confidence: 0.9,
		Entities: model.IntentEntities{TargetReference: "dentist"},
	})

	out, err := r.orch.Process(context.Background(), "u1", "move dentist")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeNeedsClarification, out.Kind)
	assert.Equal(t, model.AmbiguityDate, out.MissingField)
	assert.Zero(t, r.fake.Updates)
}

func TestMove_UniqueTargetWithSlot(t *testing.T) {
	r := newRig(t)
	r.fake.Seed("cal", "dentist", anchor.Add(24*time.Hour), anchor.Add(25*time.Hour))
	r.script("move dentist", model.Intent{
		Kind: model.IntentMove, Confidence: 0.9,
		Entities: model.IntentEntities{TargetReference: "dentist", Date: "2026-06-04", Time: "16:00"},
	})

	out, err := r.orch.Process(context.Background(), "u1", "move dentist")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeResult, out.Kind)
	assert.Equal(t, 1, r.fake.Updates)

	events, err := r.fake.ListEvents(context.Background(), "cal", anchor, anchor.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, time.Date(2026, time.June, 4, 16, 0, 0, 0, time.UTC), events[0].Start.UTC())
}

func TestExecute_TransientFailureRetriesThenSucceeds(t *testing.T) {
	r := newRig(t)
	r.fake.FailWith = []error{fmt.Errorf("%w: 503 from backend", model.ErrTransient)}
	r.script("book checkup", createIntent(0.9))

	out, err := r.orch.Process(context.Background(), "u1", "book checkup")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeResult, out.Kind)
	assert.Equal(t, 1, r.fake.Creates, "exactly one committed mutation despite the retry")

	history := attemptsFor(t, r, "u1")
	require.Len(t, history, 2)
	assert.Equal(t, model.AttemptTransientFailure, history[0].Outcome)
	assert.Equal(t, model.AttemptSuccess, history[1].Outcome)
	assert.Equal(t, 1, history[0].AttemptNumber)
	assert.Equal(t, 2, history[1].AttemptNumber)
}

func TestExecute_RetryCeilingExhaustedFlagsDirective(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	// Seed an approved procedure so the failure has something to flag.
	_, err := r.st.Directives().Propose(ctx, ExecutionProcedure, "v1 procedure", "initial")
	require.NoError(t, err)
	_, err = r.st.Directives().Approve(ctx, ExecutionProcedure, 1, "operator")
	require.NoError(t, err)

	transient := fmt.Errorf("%w: 503 from backend", model.ErrTransient)
	r.fake.FailWith = []error{transient, transient, transient}
	r.script("book checkup", createIntent(0.9))

	out, err := r.orch.Process(ctx, "u1", "book checkup")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejected, out.Kind)
	assert.Zero(t, r.fake.Creates)

	history := attemptsFor(t, r, "u1")
	assert.Len(t, history, 3, "the retry ceiling bounds the attempt count")

	flagged, err := r.st.Directives().Get(ctx, ExecutionProcedure, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, flagged.FlaggedReason, "exhausted retries must flag the active procedure")
}

func TestExecute_FatalFailureNeverRetries(t *testing.T) {
	r := newRig(t)
	r.fake.FailWith = []error{fmt.Errorf("%w: malformed payload", model.ErrFatal)}
	r.script("book checkup", createIntent(0.9))

	out, err := r.orch.Process(context.Background(), "u1", "book checkup")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejected, out.Kind)

	history := attemptsFor(t, r, "u1")
	require.Len(t, history, 1, "fatal failures must not be retried")
	assert.Equal(t, model.AttemptFatalFailure, history[0].Outcome)
}

func TestExecute_CostIncurringFailureReGates(t *testing.T) {
	r := newRig(t)
	r.fake.FailWith = []error{fmt.Errorf("%w: payment required", model.ErrCostIncurring)}
	r.script("book checkup", createIntent(0.9))

	out, err := r.orch.Process(context.Background(), "u1", "book checkup")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomePendingConfirmation, out.Kind, "cost-incurring failures need fresh consent, not auto-retry")
	assert.Zero(t, r.fake.Creates)

	history := attemptsFor(t, r, "u1")
	require.Len(t, history, 1)
	assert.Equal(t, model.AttemptFatalFailure, history[0].Outcome)
}

func TestExecute_AuthorizationFailureSurfaced(t *testing.T) {
	r := newRig(t)
	r.fake.FailWith = []error{fmt.Errorf("%w: token revoked", model.ErrAuthorization)}
	r.script("book checkup", createIntent(0.9))

	out, err := r.orch.Process(context.Background(), "u1", "book checkup")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeRejected, out.Kind)
	assert.Contains(t, out.Detail, "authorization")

	history := attemptsFor(t, r, "u1")
	require.Len(t, history, 1, "authorization failures must not be retried")
}

func TestExecute_IdempotentReplay(t *testing.T) {
	r := newRig(t)
	r.fake.Seed("cal", "dentist", anchor.Add(24*time.Hour), anchor.Add(25*time.Hour))
	edit := model.Intent{
		Kind: model.IntentEdit, Confidence: 0.9,
		Entities: model.IntentEntities{TargetReference: "dentist", Location: "room 2"},
	}
	r.script("edit dentist", edit)

	out, err := r.orch.Process(context.Background(), "u1", "edit dentist")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeResult, out.Kind)
	assert.Equal(t, 1, r.fake.Updates)

	// The same request again finds its prior success and replays it.
	out, err = r.orch.Process(context.Background(), "u1", "edit dentist")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeResult, out.Kind)
	assert.Equal(t, "already applied", out.Detail)
	assert.Equal(t, 1, r.fake.Updates, "the backend must not be mutated twice")
}

func TestQuery_ListsAgenda(t *testing.T) {
	r := newRig(t)
	r.fake.Seed("cal", "dentist", anchor.Add(24*time.Hour), anchor.Add(25*time.Hour))
	r.fake.Seed("cal", "checkup", anchor.Add(48*time.Hour), anchor.Add(49*time.Hour))
	r.script("what do I have", model.Intent{Kind: model.IntentQuery, Confidence: 0.9})

	out, err := r.orch.Process(context.Background(), "u1", "what do I have")
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeResult, out.Kind)
	assert.Len(t, out.Events, 2)
}

func TestAvailability_FreeAndBusy(t *testing.T) {
	r := newRig(t)
	r.fake.Seed("cal", "dentist", time.Date(2026, time.June, 2, 10, 0, 0, 0, time.UTC),
		time.Date(2026, time.June, 2, 11, 0, 0, 0, time.UTC))

	r.script("am I free at 10", model.Intent{
		Kind: model.IntentCheckAvailability, Confidence: 0.9,
		Entities: model.IntentEntities{Date: "2026-06-02", Time: "10:30"},
	})
	out, err := r.orch.Process(context.Background(), "u1", "am I free at 10")
	require.NoError(t, err)
	assert.Equal(t, "busy", out.Detail)
	assert.NotEmpty(t, out.Events)

	r.script("am I free at 14", model.Intent{
		Kind: model.IntentCheckAvailability, Confidence: 0.9,
		Entities: model.IntentEntities{Date: "2026-06-02", Time: "14:00"},
	})
	out, err = r.orch.Process(context.Background(), "u1", "am I free at 14")
	require.NoError(t, err)
	assert.Equal(t, "free", out.Detail)
}

func TestProcess_SerializesPerUser(t *testing.T) {
	r := newRig(t)
	r.script("book checkup", createIntent(0.9))

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = r.orch.Process(context.Background(), "u1", "book checkup")
		}()
	}
	<-done
	<-done

	// Same fingerprint: the second call either saw the conflict or replayed
	// the recorded success. Either way only one create was committed.
	assert.Equal(t, 1, r.fake.Creates)
}

func attemptsFor(t *testing.T, r *rig, userID string) []*model.ExecutionAttempt {
	t.Helper()
	// Attempts are keyed by fingerprint; recover it from the audit-free path
	// of listing everything recorded for the single request under test.
	entries, err := r.st.Audit().List(context.Background(), userID, 100)
	require.NoError(t, err)
	for _, e := range entries {
		if fp, ok := e.Payload["fingerprint"].(string); ok && fp != "" {
			history, err := r.st.Attempts().ListByFingerprint(context.Background(), fp)
			require.NoError(t, err)
			return history
		}
	}
	// No audit entry carried a fingerprint (fatal paths always do); fall back
	// to recomputing it from the scripted create request.
	history, err := r.st.Attempts().ListByFingerprint(context.Background(), Fingerprint(model.AppointmentRequest{
		UserID: userID,
		Intent: model.Intent{UserID: userID, Kind: model.IntentCreate},
		Interval: &model.ResolvedInterval{
			Start: time.Date(2026, time.June, 2, 10, 0, 0, 0, time.UTC),
			End:   time.Date(2026, time.June, 2, 11, 0, 0, 0, time.UTC),
		},
	}))
	require.NoError(t, err)
	return history
}
