// Package confirm implements the per-user confirmation gate.
//
// The gate holds at most one pending action per user. Destructive or
// ambiguous requests open a token; the user's next message resolves it.
// The reply grammar is fixed and deliberately dumb: only an exact
// affirmative from a small set confirms, anything else denies. The
// classifier's judgment is never consulted here.
package confirm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sekretaria/agenda/internal/audit"
	"github.com/sekretaria/agenda/internal/model"
	"github.com/sekretaria/agenda/internal/store"
)

// affirmatives is the complete confirmation vocabulary.
var affirmatives = map[string]bool{
	"sí": true, "si": true, "yes": true, "confirmo": true, "ok": true,
}

// Decision is the gate's verdict on a reply.
type Decision string

const (
	DecisionConfirmed   Decision = "CONFIRMED"
	DecisionDenied      Decision = "DENIED"
	DecisionExpired     Decision = "EXPIRED"
	DecisionNonePending Decision = "NONE_PENDING"
)

// Gate drives confirmation-token lifecycle over the store.
type Gate struct {
	tokens   store.Tokens
	recorder *audit.Recorder
	ttl      time.Duration
}

func NewGate(tokens store.Tokens, recorder *audit.Recorder, ttl time.Duration) *Gate {
	return &Gate{tokens: tokens, recorder: recorder, ttl: ttl}
}

// Open creates a token for the request, superseding any prior unconfirmed
// token for the user.
func (g *Gate) Open(ctx context.Context, req model.AppointmentRequest, summary string, now time.Time) (*model.ConfirmationToken, error) {
	tok, err := g.tokens.Create(ctx, &model.ConfirmationToken{
		UserID:    req.UserID,
		Request:   req,
		Summary:   summary,
		IssuedAt:  now,
		ExpiresAt: now.Add(g.ttl),
	})
	if err != nil {
		return nil, err
	}
	g.recorder.Record(ctx, req.UserID, model.AuditConfirmationOpened, map[string]interface{}{
		"token_id": tok.TokenID,
		"summary":  summary,
	})
	return tok, nil
}

// Pending returns the token the user's next reply must resolve, or nil when
// nothing is pending. A token past its deadline is still reported here; only
// Resolve marks it expired, so the late reply is rejected rather than being
// read as a fresh message.
func (g *Gate) Pending(ctx context.Context, userID string) (*model.ConfirmationToken, error) {
	tok, err := g.tokens.Live(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// Resolve applies a user reply to the live token. An expiry that elapsed
// before the reply arrived rejects the reply; the user must restate the
// request.
func (g *Gate) Resolve(ctx context.Context, userID, reply string, now time.Time) (Decision, *model.ConfirmationToken, error) {
	tok, err := g.tokens.Live(ctx, userID)
	if errors.Is(err, model.ErrNotFound) {
		return DecisionNonePending, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if !now.Before(tok.ExpiresAt) {
		if err := g.tokens.SetState(ctx, tok.TokenID, model.TokenExpired); err != nil {
			return "", nil, err
		}
		tok.State = model.TokenExpired
		g.recorder.Record(ctx, userID, model.AuditConfirmationExpired, map[string]interface{}{
			"token_id": tok.TokenID,
		})
		return DecisionExpired, tok, nil
	}

	if IsAffirmative(reply) {
		if err := g.tokens.SetState(ctx, tok.TokenID, model.TokenConfirmed); err != nil {
			return "", nil, err
		}
		tok.State = model.TokenConfirmed
		g.recorder.Record(ctx, userID, model.AuditConfirmationGranted, map[string]interface{}{
			"token_id": tok.TokenID,
		})
		return DecisionConfirmed, tok, nil
	}

	if err := g.tokens.SetState(ctx, tok.TokenID, model.TokenDenied); err != nil {
		return "", nil, err
	}
	tok.State = model.TokenDenied
	g.recorder.Record(ctx, userID, model.AuditConfirmationDenied, map[string]interface{}{
		"token_id": tok.TokenID,
	})
	return DecisionDenied, tok, nil
}

// IsAffirmative reports whether the reply confirms the pending action.
func IsAffirmative(reply string) bool {
	return affirmatives[strings.ToLower(strings.TrimSpace(reply))]
}
