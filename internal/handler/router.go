package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"booking-calendar-api/internal/middleware"
	"booking-calendar-api/internal/model"
)

// Router wires every route. rl throttles the credential endpoints.
func (h *Handler) Router(rl *middleware.RateLimiter) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logging)
	r.Use(middleware.Recover)
	r.NotFoundHandler = http.HandlerFunc(notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	authn := middleware.Authenticate(h.cfg.Secret)
	active := middleware.RequireUser(h.userExists)
	gate := func(f http.HandlerFunc, roles ...string) http.Handler {
		var next http.Handler = f
		if len(roles) > 0 {
			next = middleware.RequireRole(roles...)(next)
		}
		return authn(active(next))
	}
	limited := middleware.RateLimit(rl)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	r.Handle("/auth/register", limited(http.HandlerFunc(h.Register))).Methods(http.MethodPost)
	r.Handle("/auth/login", limited(http.HandlerFunc(h.Login))).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", h.Refresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", h.Logout).Methods(http.MethodPost)

	r.Handle("/users/profile/me", gate(h.Profile)).Methods(http.MethodGet)
	r.Handle("/users", gate(h.ListUsers, model.RoleAdmin)).Methods(http.MethodGet)
	r.Handle("/users/{id}", gate(h.GetUser)).Methods(http.MethodGet)
	r.Handle("/users/{id}", gate(h.UpdateUser)).Methods(http.MethodPut)
	r.Handle("/users/{id}", gate(h.DeleteUser)).Methods(http.MethodDelete)

	r.Handle("/booking", gate(h.CreateBooking, model.RolePatient)).Methods(http.MethodPost)
	r.Handle("/booking", gate(h.ListBookings)).Methods(http.MethodGet)
	r.Handle("/booking/{id}", gate(h.GetBooking)).Methods(http.MethodGet)
	r.Handle("/booking/{id}", gate(h.CancelBooking)).Methods(http.MethodDelete)
	r.Handle("/booking/{id}/confirm", gate(h.ConfirmBooking, model.RoleDoctor)).Methods(http.MethodPut)
	r.Handle("/booking/{id}/reschedule", gate(h.RescheduleBooking)).Methods(http.MethodPut)

	r.Handle("/calendar/google", gate(h.GoogleAuth)).Methods(http.MethodGet)
	r.HandleFunc("/calendar/google/callback", h.GoogleCallback).Methods(http.MethodGet)
	r.Handle("/calendar/create", gate(h.CreateEvent)).Methods(http.MethodPost)
	r.Handle("/calendar/events", gate(h.ListEvents)).Methods(http.MethodGet)
	r.Handle("/calendar/update", gate(h.UpdateEvent)).Methods(http.MethodPut)
	r.Handle("/calendar/delete/{eventId}", gate(h.DeleteEvent)).Methods(http.MethodDelete)

	return r
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusNotFound, middleware.ErrorResponse{Error: "not_found", Message: "route not found"})
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusMethodNotAllowed, middleware.ErrorResponse{Error: "method_not_allowed", Message: "method not allowed"})
}
