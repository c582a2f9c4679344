package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sekretaria/agenda/internal/api/respond"
	"github.com/sekretaria/agenda/internal/api/validate"
	"github.com/sekretaria/agenda/internal/model"
	"github.com/sekretaria/agenda/internal/store"
)

type UserHandler struct {
	users store.Users
}

func NewUserHandler(users store.Users) *UserHandler { return &UserHandler{users: users} }

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID      string  `json:"userId"`
		Email       string  `json:"email"`
		DisplayName *string `json:"displayName,omitempty"`
		TimeZone    string  `json:"timeZone"`
		CalendarID  string  `json:"calendarId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respond.WriteBadRequest(w, "invalid json")
		return
	}
	if err := validate.CreateUser(in.UserID, in.Email, in.TimeZone, in.DisplayName); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	u := &model.User{
		UserID:      in.UserID,
		Email:       in.Email,
		DisplayName: in.DisplayName,
		TimeZone:    in.TimeZone,
		CalendarID:  in.CalendarID,
	}
	out, err := h.users.Create(r.Context(), u)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, out)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if userID == "" {
		respond.WriteBadRequest(w, "userId required")
		return
	}
	u, err := h.users.Get(r.Context(), userID)
	if err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, u)
}

func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]
	if err := h.users.Delete(r.Context(), userID); err != nil {
		respond.WriteDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
