// Package storetest holds a compliance suite run against every store driver.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sekretaria/agenda/internal/model"
	"github.com/sekretaria/agenda/internal/store"
)

// Run exercises the compliance suite against a store.Store implementation.
// makeStore must return a clean, isolated store.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	userID := "u-" + uuid.New().String()

	// Users
	u := &model.User{UserID: userID, Email: userID + "@example.test", TimeZone: "America/Bogota"}
	created, err := s.Users().Create(ctx, u)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if created.CalendarID == "" || created.Status != "ACTIVE" {
		t.Fatalf("CreateUser defaults: %+v", created)
	}
	if got, err := s.Users().Get(ctx, userID); err != nil || got.TimeZone != "America/Bogota" {
		t.Fatalf("GetUser: got=%v err=%v", got, err)
	}
	if _, err := s.Users().Get(ctx, "missing-"+userID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("GetUser missing: want ErrNotFound, got %v", err)
	}

	// Tokens: creating a second one must supersede the first.
	now := time.Now().UTC().Truncate(time.Second)
	req := model.AppointmentRequest{
		UserID:      userID,
		Intent:      model.Intent{UserID: userID, Kind: model.IntentDelete, RawText: "cancela mi cita"},
		Destructive: true,
	}
	tok1, err := s.Tokens().Create(ctx, &model.ConfirmationToken{
		UserID: userID, Request: req, Summary: "delete cita",
		IssuedAt: now, ExpiresAt: now.Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	tok2, err := s.Tokens().Create(ctx, &model.ConfirmationToken{
		UserID: userID, Request: req, Summary: "delete cita (superseding)",
		IssuedAt: now.Add(time.Second), ExpiresAt: now.Add(11 * time.Minute),
	})
	if err != nil {
		t.Fatalf("CreateToken second: %v", err)
	}
	if old, err := s.Tokens().Get(ctx, tok1.TokenID); err != nil || old.State != model.TokenExpired {
		t.Fatalf("superseded token: state=%v err=%v", old, err)
	}
	live, err := s.Tokens().Live(ctx, userID)
	if err != nil || live.TokenID != tok2.TokenID {
		t.Fatalf("Live: got=%v err=%v", live, err)
	}
	if live.Request.Intent.Kind != model.IntentDelete || !live.Request.Destructive {
		t.Fatalf("token request round-trip: %+v", live.Request)
	}
	if err := s.Tokens().SetState(ctx, tok2.TokenID, model.TokenConfirmed); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if _, err := s.Tokens().Live(ctx, userID); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Live after confirm: want ErrNotFound, got %v", err)
	}

	// Attempts
	fp := "fp-" + uuid.New().String()
	if err := s.Attempts().Record(ctx, &model.ExecutionAttempt{
		Fingerprint: fp, UserID: userID, AttemptNumber: 1,
		Outcome: model.AttemptTransientFailure, ErrorDetail: "rate limited",
	}); err != nil {
		t.Fatalf("Record attempt 1: %v", err)
	}
	if err := s.Attempts().Record(ctx, &model.ExecutionAttempt{
		Fingerprint: fp, UserID: userID, AttemptNumber: 2,
		Outcome: model.AttemptSuccess, EventRef: "evt-1",
	}); err != nil {
		t.Fatalf("Record attempt 2: %v", err)
	}
	hist, err := s.Attempts().ListByFingerprint(ctx, fp)
	if err != nil || len(hist) != 2 {
		t.Fatalf("ListByFingerprint: n=%d err=%v", len(hist), err)
	}
	if hist[0].Outcome != model.AttemptTransientFailure || hist[1].Outcome != model.AttemptSuccess {
		t.Fatalf("attempt ordering: %+v", hist)
	}
	last, err := s.Attempts().LastSuccess(ctx, fp)
	if err != nil || last.EventRef != "evt-1" {
		t.Fatalf("LastSuccess: got=%v err=%v", last, err)
	}
	if _, err := s.Attempts().LastSuccess(ctx, "fp-none"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("LastSuccess missing: want ErrNotFound, got %v", err)
	}

	// Directives: versions strictly increase, approve moves the pointer.
	proc := "proc-" + uuid.New().String()
	v1, err := s.Directives().Propose(ctx, proc, "v1 content", "initial")
	if err != nil || v1.Version != 1 {
		t.Fatalf("Propose v1: got=%v err=%v", v1, err)
	}
	v2, err := s.Directives().Propose(ctx, proc, "v2 content", "tweak")
	if err != nil || v2.Version != 2 {
		t.Fatalf("Propose v2: got=%v err=%v", v2, err)
	}
	if _, err := s.Directives().Active(ctx, proc); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Active before approve: want ErrNotFound, got %v", err)
	}
	approved, err := s.Directives().Approve(ctx, proc, 2, "operator@example.test")
	if err != nil || !approved.Active || approved.ApprovedBy == nil {
		t.Fatalf("Approve: got=%v err=%v", approved, err)
	}
	if act, err := s.Directives().Active(ctx, proc); err != nil || act.Version != 2 {
		t.Fatalf("Active: got=%v err=%v", act, err)
	}
	// Prior version stays readable.
	if got, err := s.Directives().Get(ctx, proc, 1); err != nil || got.Content != "v1 content" {
		t.Fatalf("Get v1 after approve: got=%v err=%v", got, err)
	}
	if all, err := s.Directives().List(ctx, proc); err != nil || len(all) != 2 {
		t.Fatalf("List: n=%d err=%v", len(all), err)
	}
	if err := s.Directives().Flag(ctx, proc, 2, "review after fatal failure"); err != nil {
		t.Fatalf("Flag: %v", err)
	}
	if got, _ := s.Directives().Get(ctx, proc, 2); got.FlaggedReason == "" {
		t.Fatalf("Flag not persisted: %+v", got)
	}
	if _, err := s.Directives().Approve(ctx, proc, 99, "x"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Approve missing version: want ErrNotFound, got %v", err)
	}

	// Audit
	if err := s.Audit().Append(ctx, &model.AuditEntry{
		UserID: userID, EventKind: model.AuditIntentReceived,
		Payload: map[string]interface{}{"kind": "create"},
	}); err != nil {
		t.Fatalf("Audit append: %v", err)
	}
	entries, err := s.Audit().List(ctx, userID, 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Audit list: n=%d err=%v", len(entries), err)
	}
	if entries[0].Payload["kind"] != "create" {
		t.Fatalf("Audit payload round-trip: %+v", entries[0])
	}
}
