package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"booking-calendar-api/internal/apperr"
	"booking-calendar-api/internal/middleware"
	"booking-calendar-api/internal/model"
	"booking-calendar-api/internal/store"
)

type updateUserRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
}

type profileResponse struct {
	userResponse
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toProfile(u *model.User) profileResponse {
	return profileResponse{userResponse: toUser(u), CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt}
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	u, err := h.loadUser(r, caller(r).ID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toProfile(u))
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		middleware.WriteError(w, fmt.Errorf("list users: %w", err))
		return
	}
	out := make([]profileResponse, 0, len(users))
	for i := range users {
		out = append(out, toProfile(&users[i]))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := ownAccount(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	u, err := h.loadUser(r, id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toProfile(u))
}

// UpdateUser changes name and email. Omitted fields keep their value.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := ownAccount(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	var req updateUserRequest
	if err := decode(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	u, err := h.loadUser(r, id)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	if req.Name != nil {
		if u.Name = strings.TrimSpace(*req.Name); u.Name == "" {
			middleware.WriteError(w, apperr.New(apperr.Validation, "name cannot be empty"))
			return
		}
	}
	if req.Email != nil {
		if u.Email = strings.ToLower(strings.TrimSpace(*req.Email)); !strings.Contains(u.Email, "@") {
			middleware.WriteError(w, apperr.New(apperr.Validation, "invalid email"))
			return
		}
	}

	if err := h.users.UpdateUser(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			middleware.WriteError(w, apperr.New(apperr.Conflict, "email already in use"))
			return
		}
		if errors.Is(err, store.ErrNotFound) {
			middleware.WriteError(w, apperr.New(apperr.NotFound, "user not found"))
			return
		}
		middleware.WriteError(w, fmt.Errorf("update user: %w", err))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toProfile(u))
}

// DeleteUser removes the account and its stored Google credentials.
// Existing bookings stay for the other participant's records.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := ownAccount(r)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if err := h.users.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			middleware.WriteError(w, apperr.New(apperr.NotFound, "user not found"))
			return
		}
		middleware.WriteError(w, fmt.Errorf("delete user: %w", err))
		return
	}
	if id == caller(r).ID {
		h.clearCookies(w)
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"message": "user deleted"})
}

// ownAccount returns the {id} path value when the caller may act on it:
// the account owner or an admin.
func ownAccount(r *http.Request) (string, error) {
	id := mux.Vars(r)["id"]
	who := caller(r)
	if id != who.ID && who.Role != model.RoleAdmin {
		return "", apperr.New(apperr.Authorization, "you are not authorized")
	}
	return id, nil
}

func (h *Handler) loadUser(r *http.Request, id string) (*model.User, error) {
	u, err := h.users.UserByID(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}
