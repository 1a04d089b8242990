package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"booking-calendar-api/internal/apperr"
	"booking-calendar-api/internal/booking"
	"booking-calendar-api/internal/calendar"
	"booking-calendar-api/internal/middleware"
	"booking-calendar-api/internal/model"
	"booking-calendar-api/internal/oauth"
	"booking-calendar-api/internal/store"
)

// Users is the account side of the store.
type Users interface {
	CreateUser(ctx context.Context, u *model.User) error
	UserByEmail(ctx context.Context, email string) (*model.User, error)
	UserByID(ctx context.Context, id string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUser(ctx context.Context, u *model.User) error
	DeleteUser(ctx context.Context, id string) error

	CreateRefreshToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (string, error)
	RotateRefreshToken(ctx context.Context, oldHash, newHash string, newExpiry time.Time) (string, error)
	RevokeAllRefreshTokens(ctx context.Context, userID string) error
	RevokeRefreshToken(ctx context.Context, tokenHash string) (string, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Secret      string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	FrontendURL string
	// Secure marks auth cookies Secure; off for plain-http local dev.
	Secure bool
}

type Handler struct {
	users    Users
	db       Pinger
	bookings *booking.Service
	google   *oauth.Manager
	cal      *calendar.Synchronizer
	cfg      Config
}

func New(users Users, db Pinger, bookings *booking.Service, google *oauth.Manager, cal *calendar.Synchronizer, cfg Config) *Handler {
	if cfg.AccessTTL == 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL == 0 {
		cfg.RefreshTTL = 7 * 24 * time.Hour
	}
	return &Handler{users: users, db: db, bookings: bookings, google: google, cal: cal, cfg: cfg}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) userExists(ctx context.Context, id string) (bool, error) {
	_, err := h.users.UserByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup user: %w", err)
	}
	return true, nil
}

// caller is set by middleware.Authenticate on every protected route.
func caller(r *http.Request) model.Identity {
	id, _ := middleware.IdentityFrom(r.Context())
	return id
}

const maxBody = 1 << 20

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.New(apperr.Validation, "request body required")
		}
		return apperr.Wrap(apperr.Validation, "invalid request body", err)
	}
	return nil
}
