package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sekretaria/agenda/internal/api/respond"
	"github.com/sekretaria/agenda/internal/audit"
)

type AuditHandler struct {
	recorder *audit.Recorder
}

func NewAuditHandler(recorder *audit.Recorder) *AuditHandler {
	return &AuditHandler{recorder: recorder}
}

// ListAudit handles GET /api/users/{userId}/audit?limit=N.
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			respond.WriteBadRequest(w, "limit must be an integer in [1,500]")
			return
		}
		limit = n
	}
	entries, err := h.recorder.List(r.Context(), userID, limit)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, struct {
		Entries interface{} `json:"entries"`
		Count   int         `json:"count"`
	}{Entries: entries, Count: len(entries)})
}
