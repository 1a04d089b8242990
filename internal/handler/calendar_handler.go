package handler

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	"booking-calendar-api/internal/apperr"
	"booking-calendar-api/internal/calendar"
	"booking-calendar-api/internal/middleware"
)

type eventRequest struct {
	EventID     string   `json:"eventId"`
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Date        string   `json:"date"`
	Time        string   `json:"time"`
	Attendees   []string `json:"attendees"`
}

func (e eventRequest) input() calendar.EventInput {
	return calendar.EventInput{
		Summary:     e.Summary,
		Description: e.Description,
		Date:        e.Date,
		Time:        e.Time,
		Attendees:   e.Attendees,
	}
}

// GoogleAuth sends the caller to Google's consent page. SPA clients that
// cannot follow a cross-origin redirect ask for ?format=json instead.
func (h *Handler) GoogleAuth(w http.ResponseWriter, r *http.Request) {
	u, err := h.google.AuthURL(caller(r).ID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"url": u})
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

// GoogleCallback is where Google lands after consent. The user is known
// from the signed state, not from a session.
func (h *Handler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		middleware.WriteError(w, apperr.New(apperr.Validation, "google authorization denied: "+e))
		return
	}
	if _, err := h.google.HandleCallback(r.Context(), q.Get("state"), q.Get("code")); err != nil {
		middleware.WriteError(w, err)
		return
	}
	http.Redirect(w, r, h.frontendURL("linked"), http.StatusFound)
}

func (h *Handler) frontendURL(status string) string {
	u, err := url.Parse(h.cfg.FrontendURL)
	if err != nil || h.cfg.FrontendURL == "" {
		return "/"
	}
	q := u.Query()
	q.Set("calendar", status)
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decode(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	svc, err := h.google.Session(r.Context(), caller(r).ID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	ev, err := h.cal.Insert(r.Context(), svc, req.input())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, map[string]any{"message": "event created", "event": ev})
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			middleware.WriteError(w, apperr.New(apperr.Validation, "max must be a positive integer"))
			return
		}
		limit = n
	}
	svc, err := h.google.Session(r.Context(), caller(r).ID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	events, err := h.cal.ListUpcoming(r.Context(), svc, limit)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decode(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if req.EventID == "" {
		middleware.WriteError(w, apperr.New(apperr.Validation, "eventId required"))
		return
	}
	svc, err := h.google.Session(r.Context(), caller(r).ID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	ev, err := h.cal.UpdateEvent(r.Context(), svc, req.EventID, req.input())
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"message": "event updated", "event": ev})
}

func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	svc, err := h.google.Session(r.Context(), caller(r).ID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	if err := h.cal.DeleteEvent(r.Context(), svc, mux.Vars(r)["eventId"]); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
