// Package audit writes the immutable decision trail.
package audit

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/sekretaria/agenda/internal/model"
	"github.com/sekretaria/agenda/internal/store"
)

// Recorder appends decision-point entries to the audit log. Append failures
// are logged but never fail the request that produced them; losing an audit
// line must not turn a successful mutation into a user-visible error.
type Recorder struct {
	audit store.Audit
	log   zerolog.Logger
}

func NewRecorder(a store.Audit, log zerolog.Logger) *Recorder {
	return &Recorder{audit: a, log: log}
}

// Record appends one entry.
func (r *Recorder) Record(ctx context.Context, userID, eventKind string, payload map[string]interface{}) {
	err := r.audit.Append(ctx, &model.AuditEntry{
		UserID:    userID,
		EventKind: eventKind,
		Payload:   payload,
	})
	if err != nil {
		r.log.Error().Stack().Err(err).
			Str("user_id", userID).
			Str("event_kind", eventKind).
			Msg("audit append failed")
	}
}

// List returns the newest entries for a user.
func (r *Recorder) List(ctx context.Context, userID string, limit int) ([]*model.AuditEntry, error) {
	return r.audit.List(ctx, userID, limit)
}
