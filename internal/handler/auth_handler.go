package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"booking-calendar-api/internal/apperr"
	"booking-calendar-api/internal/auth"
	"booking-calendar-api/internal/middleware"
	"booking-calendar-api/internal/model"
	"booking-calendar-api/internal/store"
)

const refreshCookie = "refresh_token"

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func toUser(u *model.User) userResponse {
	return userResponse{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if req.Email == "" || req.Password == "" || req.Name == "" {
		middleware.WriteError(w, apperr.New(apperr.Validation, "all fields required"))
		return
	}
	if len(req.Password) < 8 {
		middleware.WriteError(w, apperr.New(apperr.Validation, "password too short"))
		return
	}
	// admins are provisioned out of band
	switch req.Role {
	case "":
		req.Role = model.RolePatient
	case model.RolePatient, model.RoleDoctor:
	default:
		middleware.WriteError(w, apperr.New(apperr.Validation, "role must be patient or doctor"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}

	u := &model.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: hash,
		Name:         req.Name,
		Role:         req.Role,
	}
	if err := h.users.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// don't reveal the email is taken
			middleware.WriteError(w, apperr.New(apperr.Conflict, "registration failed"))
			return
		}
		middleware.WriteError(w, fmt.Errorf("create user: %w", err))
		return
	}

	tok, err := h.issue(w, r, u)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, authResponse{Token: tok, User: toUser(u)})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		middleware.WriteError(w, apperr.New(apperr.Validation, "email and password required"))
		return
	}

	u, err := h.users.UserByEmail(r.Context(), email)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		middleware.WriteError(w, fmt.Errorf("lookup user: %w", err))
		return
	}
	if err != nil || !auth.CheckPassword(u.PasswordHash, req.Password) {
		middleware.WriteError(w, apperr.New(apperr.Authentication, "invalid credentials"))
		return
	}

	tok, err := h.issue(w, r, u)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, authResponse{Token: tok, User: toUser(u)})
}

// Refresh trades the refresh cookie for a new access token. The refresh
// token is rotated on every use; presenting a used one revokes the family.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(refreshCookie)
	if err != nil || c.Value == "" {
		middleware.WriteError(w, apperr.New(apperr.Authentication, "no refresh token"))
		return
	}

	raw, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	userID, err := h.users.RotateRefreshToken(r.Context(), auth.HashRefreshToken(c.Value), hash, time.Now().Add(h.cfg.RefreshTTL))
	if err != nil {
		h.clearCookies(w)
		if errors.Is(err, store.ErrTokenRevoked) || errors.Is(err, store.ErrNotFound) {
			middleware.WriteError(w, apperr.New(apperr.Authentication, "refresh token invalid"))
			return
		}
		middleware.WriteError(w, fmt.Errorf("rotate refresh token: %w", err))
		return
	}

	u, err := h.users.UserByID(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, apperr.Wrap(apperr.Authentication, "refresh token invalid", err))
		return
	}
	tok, err := auth.MakeToken(u.ID, u.Role, h.cfg.Secret, h.cfg.AccessTTL)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	h.setCookies(w, tok, raw)
	middleware.WriteJSON(w, http.StatusOK, authResponse{Token: tok, User: toUser(u)})
}

// Logout revokes the presented refresh token; ?all=true signs out every
// device of the same user.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(refreshCookie); err == nil && c.Value != "" {
		userID, err := h.users.RevokeRefreshToken(r.Context(), auth.HashRefreshToken(c.Value))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			middleware.WriteError(w, fmt.Errorf("revoke refresh token: %w", err))
			return
		}
		if userID != "" && r.URL.Query().Get("all") == "true" {
			if err := h.users.RevokeAllRefreshTokens(r.Context(), userID); err != nil {
				middleware.WriteError(w, fmt.Errorf("revoke sessions: %w", err))
				return
			}
		}
	}
	h.clearCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// issue mints an access token and a fresh refresh token for u and sets both cookies.
func (h *Handler) issue(w http.ResponseWriter, r *http.Request, u *model.User) (string, error) {
	tok, err := auth.MakeToken(u.ID, u.Role, h.cfg.Secret, h.cfg.AccessTTL)
	if err != nil {
		return "", err
	}
	raw, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		return "", err
	}
	if _, err := h.users.CreateRefreshToken(r.Context(), u.ID, hash, time.Now().Add(h.cfg.RefreshTTL)); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	h.setCookies(w, tok, raw)
	return tok, nil
}

func (h *Handler) setCookies(w http.ResponseWriter, access, refresh string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.AccessCookie,
		Value:    access,
		Path:     "/",
		MaxAge:   int(h.cfg.AccessTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    refresh,
		Path:     "/auth/",
		MaxAge:   int(h.cfg.RefreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: middleware.AccessCookie, Path: "/", MaxAge: -1, HttpOnly: true, Secure: h.cfg.Secure})
	http.SetCookie(w, &http.Cookie{Name: refreshCookie, Path: "/auth/", MaxAge: -1, HttpOnly: true, Secure: h.cfg.Secure})
}
