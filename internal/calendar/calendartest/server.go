// Package calendartest runs an in-memory stand-in for the Google Calendar
// events API and the OAuth token endpoint.
package calendartest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

type Server struct {
	*httptest.Server

	mu       sync.Mutex
	events   map[string]*gcal.Event
	seq      int
	access   map[string]bool
	refresh  map[string]bool
	failNext int
	delay    time.Duration
	tokDelay time.Duration
	calls    []string
	refreshN int
}

// NewServer starts a fake. With no access tokens registered any bearer
// (or none) is accepted.
func NewServer(t testing.TB) *Server {
	s := &Server{
		events:  map[string]*gcal.Event{},
		access:  map[string]bool{},
		refresh: map[string]bool{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", s.token)
	mux.HandleFunc("/calendar/v3/", s.calendar)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Endpoint() string { return s.URL + "/calendar/v3/" }

func (s *Server) TokenURL() string { return s.URL + "/token" }

// Service returns a client that talks to the fake without OAuth.
func (s *Server) Service(t testing.TB) *gcal.Service {
	t.Helper()
	svc, err := gcal.NewService(t.Context(), option.WithHTTPClient(s.Client()), option.WithEndpoint(s.Endpoint()))
	if err != nil {
		t.Fatalf("calendar service: %v", err)
	}
	return svc
}

func (s *Server) AllowAccess(tok string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access[tok] = true
}

func (s *Server) AllowRefresh(tok string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[tok] = true
}

// FailNext makes the next calendar call answer with status.
func (s *Server) FailNext(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = status
}

func (s *Server) Delay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *Server) AddEvent(ev *gcal.Event) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(ev)
}

func (s *Server) Event(id string) (*gcal.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	return ev, ok
}

func (s *Server) RemoveEvent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, id)
}

func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// TokenDelay stalls the token endpoint for d on every request.
func (s *Server) TokenDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokDelay = d
}

// Calls lists "METHOD /path" for every calendar request seen.
func (s *Server) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *Server) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshN
}

func (s *Server) add(ev *gcal.Event) string {
	s.seq++
	if ev.Id == "" {
		ev.Id = fmt.Sprintf("evt%d", s.seq)
	}
	s.events[ev.Id] = ev
	return ev.Id
}

func (s *Server) token(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delay := s.tokDelay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var access string
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		code := r.PostForm.Get("code")
		if code == "" || code == "bad-code" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		access = "access-" + code
		s.refresh["refresh-"+code] = true
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  access,
			"refresh_token": "refresh-" + code,
			"token_type":    "Bearer",
			"scope":         "https://www.googleapis.com/auth/calendar",
			"expires_in":    3600,
		})
	case "refresh_token":
		if !s.refresh[r.PostForm.Get("refresh_token")] {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		s.refreshN++
		access = fmt.Sprintf("refreshed-%d", s.refreshN)
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": access,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}
	s.access[access] = true
}

func (s *Server) calendar(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	delay := s.delay
	s.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, r.Method+" "+r.URL.Path)

	if len(s.access) > 0 {
		tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !s.access[tok] {
			apiError(w, http.StatusUnauthorized, "Invalid Credentials")
			return
		}
	}
	if s.failNext != 0 {
		code := s.failNext
		s.failNext = 0
		apiError(w, code, http.StatusText(code))
		return
	}

	// /calendar/v3/calendars/{cal}/events[/{id}]
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/calendar/v3/"), "/")
	if len(parts) < 3 || parts[0] != "calendars" || parts[2] != "events" {
		apiError(w, http.StatusNotFound, "Not Found")
		return
	}
	var id string
	if len(parts) > 3 {
		id = parts[3]
	}

	switch {
	case r.Method == http.MethodPost && id == "":
		var ev gcal.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			apiError(w, http.StatusBadRequest, "bad body")
			return
		}
		ev.Id = ""
		ev.Status = "confirmed"
		s.add(&ev)
		ev.HtmlLink = "https://calendar.google.com/event?eid=" + ev.Id
		writeJSON(w, http.StatusOK, &ev)
	case r.Method == http.MethodGet && id == "":
		s.list(w, r)
	case r.Method == http.MethodPatch:
		ev, ok := s.events[id]
		if !ok {
			apiError(w, http.StatusNotFound, "Not Found")
			return
		}
		var patch gcal.Event
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			apiError(w, http.StatusBadRequest, "bad body")
			return
		}
		if patch.Summary != "" {
			ev.Summary = patch.Summary
		}
		if patch.Description != "" {
			ev.Description = patch.Description
		}
		if patch.Start != nil {
			ev.Start = patch.Start
		}
		if patch.End != nil {
			ev.End = patch.End
		}
		if patch.Attendees != nil {
			ev.Attendees = patch.Attendees
		}
		writeJSON(w, http.StatusOK, ev)
	case r.Method == http.MethodDelete:
		if _, ok := s.events[id]; !ok {
			apiError(w, http.StatusGone, "Resource has been deleted")
			return
		}
		delete(s.events, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		apiError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var min time.Time
	if v := q.Get("timeMin"); v != "" {
		min, _ = time.Parse(time.RFC3339, v)
	}
	max, _ := strconv.Atoi(q.Get("maxResults"))

	var items []*gcal.Event
	for _, ev := range s.events {
		end := eventTime(ev.End)
		if !min.IsZero() && !end.After(min) {
			continue
		}
		items = append(items, ev)
	}
	sort.Slice(items, func(i, j int) bool {
		return eventTime(items[i].Start).Before(eventTime(items[j].Start))
	})
	if max > 0 && len(items) > max {
		items = items[:max]
	}
	writeJSON(w, http.StatusOK, &gcal.Events{Items: items})
}

func eventTime(dt *gcal.EventDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339, dt.DateTime)
	return t
}

func apiError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{"code": code, "message": msg},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
