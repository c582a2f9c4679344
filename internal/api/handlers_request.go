package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sekretaria/agenda/internal/api/respond"
	"github.com/sekretaria/agenda/internal/api/validate"
	"github.com/sekretaria/agenda/internal/orchestrator"
	"github.com/sekretaria/agenda/internal/responder"
	"github.com/sekretaria/agenda/internal/transcriber"
)

// RequestHandler accepts natural-language requests and replies with the
// orchestration outcome plus a rendered message.
type RequestHandler struct {
	orch *orchestrator.Orchestrator
	tr   transcriber.Transcriber
}

func NewRequestHandler(orch *orchestrator.Orchestrator, tr transcriber.Transcriber) *RequestHandler {
	return &RequestHandler{orch: orch, tr: tr}
}

// SubmitRequest handles POST /api/users/{userId}/requests. A request
// carries either text or a base64 voice note; voice is transcribed first.
func (h *RequestHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	var in struct {
		Text     string `json:"text,omitempty"`
		Audio    string `json:"audio,omitempty"` // base64
		MimeType string `json:"mimeType,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}

	text := in.Text
	if text == "" && in.Audio != "" {
		if h.tr == nil {
			respond.WriteBadRequest(w, "voice requests are not enabled")
			return
		}
		audio, err := base64.StdEncoding.DecodeString(in.Audio)
		if err != nil {
			respond.WriteBadRequest(w, "audio must be base64")
			return
		}
		text, err = h.tr.Transcribe(r.Context(), audio, in.MimeType)
		if err != nil {
			respond.WriteDomainError(w, err)
			return
		}
	}
	if err := validate.UserRequest(text); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}

	out, err := h.orch.Process(r.Context(), userID, text)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, struct {
		Outcome interface{} `json:"outcome"`
		Reply   string      `json:"reply"`
	}{Outcome: out, Reply: responder.Render(out)})
}
