package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekretaria/agenda/internal/api/recovery"
	"github.com/sekretaria/agenda/internal/audit"
	"github.com/sekretaria/agenda/internal/calendar/calendartest"
	"github.com/sekretaria/agenda/internal/confirm"
	"github.com/sekretaria/agenda/internal/directive"
	"github.com/sekretaria/agenda/internal/model"
	"github.com/sekretaria/agenda/internal/orchestrator"
	storelite "github.com/sekretaria/agenda/internal/store/sqlite"
)

type fixedClassifier struct{ intent model.Intent }

func (f *fixedClassifier) Classify(ctx context.Context, userID, text string) (model.Intent, error) {
	in := f.intent
	in.UserID = userID
	in.RawText = text
	return in, nil
}

func newTestRouter(t *testing.T, cls *fixedClassifier) (*mux.Router, *calendartest.Fake) {
	t.Helper()
	db, err := storelite.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	st := storelite.NewWithDB(db)

	fake := calendartest.New()
	log := zerolog.Nop()
	rec := audit.NewRecorder(st.Audit(), log)
	gate := confirm.NewGate(st.Tokens(), rec, 10*time.Minute)
	orch := orchestrator.New(st, fake, gate, rec, cls, orchestrator.Options{DefaultTimeZone: "UTC"}, log)

	root := mux.NewRouter()
	root.Use(recovery.Middleware)

	userHandler := NewUserHandler(st.Users())
	root.HandleFunc("/api/users", userHandler.CreateUser).Methods("POST")
	root.HandleFunc("/api/users/{userId}", userHandler.GetUser).Methods("GET")
	root.HandleFunc("/api/users/{userId}", userHandler.DeleteUser).Methods("DELETE")

	requestHandler := NewRequestHandler(orch, nil)
	root.HandleFunc("/api/users/{userId}/requests", requestHandler.SubmitRequest).Methods("POST")

	auditHandler := NewAuditHandler(rec)
	root.HandleFunc("/api/users/{userId}/audit", auditHandler.ListAudit).Methods("GET")

	ledger := directive.NewLedger(st.Directives())
	directiveHandler := NewDirectiveHandler(ledger)
	root.HandleFunc("/api/directives/{procedure}/versions", directiveHandler.Propose).Methods("POST")
	root.HandleFunc("/api/directives/{procedure}/versions", directiveHandler.List).Methods("GET")
	root.HandleFunc("/api/directives/{procedure}/versions/{version}/approve", directiveHandler.Approve).Methods("POST")
	root.HandleFunc("/api/directives/{procedure}/active", directiveHandler.Active).Methods("GET")

	healthHandler := NewHealthHandler()
	root.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")

	return root, fake
}

func doJSON(t *testing.T, router *mux.Router, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createTestUser(t *testing.T, router *mux.Router) {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/users", map[string]interface{}{
		"userId": "u1", "email": "u1@example.com", "timeZone": "UTC", "calendarId": "cal",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestUserLifecycle(t *testing.T) {
	router, _ := newTestRouter(t, &fixedClassifier{})
	createTestUser(t, router)

	rec := doJSON(t, router, http.MethodGet, "/api/users/u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var u model.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	assert.Equal(t, "u1", u.UserID)

	rec = doJSON(t, router, http.MethodDelete, "/api/users/u1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/users/u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateUser_Validation(t *testing.T) {
	router, _ := newTestRouter(t, &fixedClassifier{})

	rec := doJSON(t, router, http.MethodPost, "/api/users", map[string]interface{}{
		"userId": "Bad User", "email": "u@example.com",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/users", map[string]interface{}{
		"userId": "u1", "email": "not-an-email",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitRequest_EndToEnd(t *testing.T) {
	cls := &fixedClassifier{intent: model.Intent{
		Kind: model.IntentCreate, Confidence: 0.9,
		Entities: model.IntentEntities{Title: "checkup", Date: "2026-06-02", Time: "10:00"},
	}}
	router, fake := newTestRouter(t, cls)
	createTestUser(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/users/u1/requests", map[string]interface{}{
		"text": "book a checkup",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Outcome model.Outcome `json:"outcome"`
		Reply   string        `json:"reply"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, model.OutcomeResult, out.Outcome.Kind)
	assert.NotEmpty(t, out.Reply)
	assert.Equal(t, 1, fake.Creates)

	// The processed request left an audit trail.
	rec = doJSON(t, router, http.MethodGet, "/api/users/u1/audit?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Greater(t, listed.Count, 0)
}

func TestSubmitRequest_EmptyText(t *testing.T) {
	router, _ := newTestRouter(t, &fixedClassifier{})
	createTestUser(t, router)

	rec := doJSON(t, router, http.MethodPost, "/api/users/u1/requests", map[string]interface{}{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDirectiveEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, &fixedClassifier{})

	rec := doJSON(t, router, http.MethodPost, "/api/directives/appointment-execution/versions", map[string]interface{}{
		"content": "verify, then mutate", "rationale": "initial",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var v model.DirectiveVersion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.Equal(t, 1, v.Version)
	assert.False(t, v.Active)

	// Not active until approved.
	rec = doJSON(t, router, http.MethodGet, "/api/directives/appointment-execution/active", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodPost,
		fmt.Sprintf("/api/directives/appointment-execution/versions/%d/approve", v.Version),
		map[string]interface{}{"approvedBy": "operator"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/directives/appointment-execution/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.True(t, v.Active)

	rec = doJSON(t, router, http.MethodGet, "/api/directives/appointment-execution/versions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, 1, listed.Count)
}

func TestDirectiveValidation(t *testing.T) {
	router, _ := newTestRouter(t, &fixedClassifier{})

	rec := doJSON(t, router, http.MethodPost, "/api/directives/Bad%20Name/versions", map[string]interface{}{
		"content": "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/api/directives/ok-name/versions", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, &fixedClassifier{})
	BindServiceHealth(func() bool { return true })
	t.Cleanup(func() { BindServiceHealth(func() bool { return false }) })

	rec := doJSON(t, router, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
