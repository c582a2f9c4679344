package confirm

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekretaria/agenda/internal/audit"
	"github.com/sekretaria/agenda/internal/model"
	"github.com/sekretaria/agenda/internal/store"
	storelite "github.com/sekretaria/agenda/internal/store/sqlite"
)

func newGate(t *testing.T, ttl time.Duration) (*Gate, store.Store) {
	t.Helper()
	db, err := storelite.Open(filepath.Join(t.TempDir(), "gate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := storelite.NewWithDB(db)
	rec := audit.NewRecorder(st.Audit(), zerolog.Nop())
	return NewGate(st.Tokens(), rec, ttl), st
}

func seedUser(t *testing.T, st store.Store, userID string) {
	t.Helper()
	_, err := st.Users().Create(context.Background(), &model.User{
		UserID: userID, Email: userID + "@example.com", TimeZone: "UTC",
	})
	require.NoError(t, err)
}

func deleteRequest(userID string) model.AppointmentRequest {
	return model.AppointmentRequest{
		UserID:      userID,
		Intent:      model.Intent{UserID: userID, Kind: model.IntentDelete},
		TargetRef:   "evt-1",
		Destructive: true,
	}
}

func TestGate_AffirmativeConfirms(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)
	gate, st := newGate(t, 10*time.Minute)
	seedUser(t, st, "u1")

	tok, err := gate.Open(ctx, deleteRequest("u1"), "cancel the checkup", now)
	require.NoError(t, err)
	require.Equal(t, model.TokenAwaiting, tok.State)

	for _, reply := range []string{"sí", "si", "yes", "confirmo", "OK", "  Sí  "} {
		tok, err = gate.Open(ctx, deleteRequest("u1"), "cancel the checkup", now)
		require.NoError(t, err)
		decision, resolved, err := gate.Resolve(ctx, "u1", reply, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, DecisionConfirmed, decision, "reply %q", reply)
		assert.Equal(t, tok.TokenID, resolved.TokenID)
	}
}

func TestGate_AnythingElseDenies(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)
	gate, st := newGate(t, 10*time.Minute)
	seedUser(t, st, "u1")

	for _, reply := range []string{"no", "dale", "claro que sí", "yep", "sure", ""} {
		_, err := gate.Open(ctx, deleteRequest("u1"), "cancel the checkup", now)
		require.NoError(t, err)
		decision, _, err := gate.Resolve(ctx, "u1", reply, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, DecisionDenied, decision, "reply %q must deny", reply)
	}
}

func TestGate_ExpiryRejectsLateReply(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)
	gate, st := newGate(t, 10*time.Minute)
	seedUser(t, st, "u1")

	_, err := gate.Open(ctx, deleteRequest("u1"), "cancel the checkup", now)
	require.NoError(t, err)

	decision, tok, err := gate.Resolve(ctx, "u1", "sí", now.Add(11*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, DecisionExpired, decision, "an affirmative after the deadline must not confirm")
	assert.Equal(t, model.TokenExpired, tok.State)

	// The token is spent; a second reply finds nothing pending.
	decision, _, err = gate.Resolve(ctx, "u1", "sí", now.Add(12*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, DecisionNonePending, decision)
}

func TestGate_PendingReportsPastDeadlineToken(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)
	gate, st := newGate(t, 10*time.Minute)
	seedUser(t, st, "u1")

	opened, err := gate.Open(ctx, deleteRequest("u1"), "cancel the checkup", now)
	require.NoError(t, err)

	// A token past its deadline is still pending; the next reply must be
	// routed to Resolve and rejected there, not treated as a new message.
	tok, err := gate.Pending(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, opened.TokenID, tok.TokenID)

	decision, _, err := gate.Resolve(ctx, "u1", "sí", now.Add(15*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, DecisionExpired, decision)

	// Resolve spent the token; nothing is pending afterwards.
	tok, err = gate.Pending(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestGate_NewRequestSupersedesPending(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)
	gate, st := newGate(t, 10*time.Minute)
	seedUser(t, st, "u1")

	first, err := gate.Open(ctx, deleteRequest("u1"), "cancel the checkup", now)
	require.NoError(t, err)
	second, err := gate.Open(ctx, deleteRequest("u1"), "cancel the cleaning", now.Add(time.Minute))
	require.NoError(t, err)

	// Only the newest token is live; the first was invalidated.
	tok, err := gate.Pending(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, second.TokenID, tok.TokenID)

	old, err := st.Tokens().Get(ctx, first.TokenID)
	require.NoError(t, err)
	assert.Equal(t, model.TokenExpired, old.State)
}

func TestGate_NonePendingWithoutToken(t *testing.T) {
	ctx := context.Background()
	gate, st := newGate(t, 10*time.Minute)
	seedUser(t, st, "u1")

	decision, tok, err := gate.Resolve(ctx, "u1", "sí", time.Now())
	require.NoError(t, err)
	assert.Equal(t, DecisionNonePending, decision)
	assert.Nil(t, tok)
}

func TestIsAffirmative(t *testing.T) {
	assert.True(t, IsAffirmative("sí"))
	assert.True(t, IsAffirmative(" YES "))
	assert.False(t, IsAffirmative("claro"))
	assert.False(t, IsAffirmative("sí claro"))
}
