package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sekretaria/agenda/internal/api/respond"
	"github.com/sekretaria/agenda/internal/api/validate"
	"github.com/sekretaria/agenda/internal/directive"
)

type DirectiveHandler struct {
	ledger *directive.Ledger
}

func NewDirectiveHandler(ledger *directive.Ledger) *DirectiveHandler {
	return &DirectiveHandler{ledger: ledger}
}

func (h *DirectiveHandler) Propose(w http.ResponseWriter, r *http.Request) {
	proc := mux.Vars(r)["procedure"]
	if err := validate.ProcedureName(proc); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	var in struct {
		Content   string `json:"content"`
		Rationale string `json:"rationale,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if err := validate.NonEmpty("content", in.Content); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	v, err := h.ledger.Propose(r.Context(), proc, in.Content, in.Rationale)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, v)
}

func (h *DirectiveHandler) Approve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	proc := vars["procedure"]
	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		respond.WriteBadRequest(w, "version must be an integer")
		return
	}
	var in struct {
		ApprovedBy string `json:"approvedBy"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if err := validate.NonEmpty("approvedBy", in.ApprovedBy); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	v, err := h.ledger.Approve(r.Context(), proc, version, in.ApprovedBy)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, v)
}

func (h *DirectiveHandler) Active(w http.ResponseWriter, r *http.Request) {
	proc := mux.Vars(r)["procedure"]
	v, err := h.ledger.Active(r.Context(), proc)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, v)
}

func (h *DirectiveHandler) List(w http.ResponseWriter, r *http.Request) {
	proc := mux.Vars(r)["procedure"]
	vs, err := h.ledger.List(r.Context(), proc)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, struct {
		Versions interface{} `json:"versions"`
		Count    int         `json:"count"`
	}{Versions: vs, Count: len(vs)})
}
