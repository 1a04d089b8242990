// Package calendar mirrors bookings into a user's Google Calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"booking-calendar-api/internal/apperr"
	"booking-calendar-api/internal/model"
)

// Every appointment occupies a fixed half-hour slot.
const SlotLength = 30 * time.Minute

const (
	primaryCalendar = "primary"
	defaultSummary  = "Medical appointment"
	maxListResults  = 250 // Google Calendar API max per page
	dateLayout      = "2006-01-02"
	clockLayout     = "15:04"
)

// Event is the subset of a Google event this service reads and writes.
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	TimeZone    string    `json:"timeZone"`
	Attendees   []string  `json:"attendees,omitempty"`
	Link        string    `json:"htmlLink,omitempty"`
}

// EventInput carries the fields of a create or update. On update, empty
// strings and a nil Attendees slice leave the remote value untouched.
type EventInput struct {
	Summary     string
	Description string
	Date        string
	Time        string
	Attendees   []string
}

type Synchronizer struct {
	loc     *time.Location
	tz      string
	timeout time.Duration
	now     func() time.Time
}

func NewSynchronizer(tz string, timeout time.Duration) (*Synchronizer, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("calendar time zone %q: %w", tz, err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Synchronizer{loc: loc, tz: tz, timeout: timeout, now: time.Now}, nil
}

// Window turns a wall-clock date and time into the slot's start and end.
func (s *Synchronizer) Window(date, clock string) (time.Time, time.Time, error) {
	if _, err := time.Parse(dateLayout, date); err != nil {
		return time.Time{}, time.Time{}, apperr.New(apperr.Validation, "date must be YYYY-MM-DD")
	}
	// "15" takes a single-digit hour; the stored form is always two digits
	if c, err := time.Parse(clockLayout, clock); err != nil || c.Format(clockLayout) != clock {
		return time.Time{}, time.Time{}, apperr.New(apperr.Validation, "time must be HH:MM")
	}
	start, err := time.ParseInLocation(dateLayout+" "+clockLayout, date+" "+clock, s.loc)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.Wrap(apperr.Validation, "invalid date/time", err)
	}
	return start, start.Add(SlotLength), nil
}

// BookingInput describes a booking the way it appears on the patient's calendar.
func BookingInput(b *model.Booking) EventInput {
	return EventInput{
		Summary:     defaultSummary,
		Description: fmt.Sprintf("Medical appointment with doctor %s. Reason: %s", b.DoctorID, b.Reason),
		Date:        b.Date,
		Time:        b.Time,
	}
}

// CreateEvent inserts the booking's event and returns its id.
func (s *Synchronizer) CreateEvent(ctx context.Context, svc *gcal.Service, b *model.Booking) (string, error) {
	ev, err := s.Insert(ctx, svc, BookingInput(b))
	if err != nil {
		return "", err
	}
	return ev.ID, nil
}

func (s *Synchronizer) Insert(ctx context.Context, svc *gcal.Service, in EventInput) (*Event, error) {
	if in.Summary == "" {
		in.Summary = defaultSummary
	}
	start, end, err := s.Window(in.Date, in.Time)
	if err != nil {
		return nil, err
	}
	body := &gcal.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Start:       s.dateTime(start),
		End:         s.dateTime(end),
		Attendees:   attendees(in.Attendees),
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := svc.Events.Insert(primaryCalendar, body).Context(ctx).Do()
	if err != nil {
		return nil, classify(ctx, "create calendar event", err)
	}
	return s.fromGoogle(out), nil
}

// UpdateEvent patches an existing event. Date and Time move the slot and
// must be given together.
func (s *Synchronizer) UpdateEvent(ctx context.Context, svc *gcal.Service, eventID string, in EventInput) (*Event, error) {
	if eventID == "" {
		return nil, apperr.New(apperr.Validation, "event id required")
	}
	body := &gcal.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Attendees:   attendees(in.Attendees),
	}
	if in.Date != "" || in.Time != "" {
		start, end, err := s.Window(in.Date, in.Time)
		if err != nil {
			return nil, err
		}
		body.Start = s.dateTime(start)
		body.End = s.dateTime(end)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	out, err := svc.Events.Patch(primaryCalendar, eventID, body).Context(ctx).Do()
	if err != nil {
		return nil, classify(ctx, "update calendar event", err)
	}
	return s.fromGoogle(out), nil
}

func (s *Synchronizer) DeleteEvent(ctx context.Context, svc *gcal.Service, eventID string) error {
	if eventID == "" {
		return apperr.New(apperr.Validation, "event id required")
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := svc.Events.Delete(primaryCalendar, eventID).Context(ctx).Do(); err != nil {
		return classify(ctx, "delete calendar event", err)
	}
	return nil
}

// ListUpcoming returns up to max events starting strictly after now, soonest
// first. Google's timeMin bounds the end time, so events already in progress
// are filtered out here.
func (s *Synchronizer) ListUpcoming(ctx context.Context, svc *gcal.Service, max int) ([]Event, error) {
	switch {
	case max <= 0:
		max = 10
	case max > maxListResults:
		max = maxListResults
	}
	now := s.now()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := svc.Events.List(primaryCalendar).
		TimeMin(now.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(int64(max)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classify(ctx, "list calendar events", err)
	}

	out := make([]Event, 0, len(res.Items))
	for _, it := range res.Items {
		if it == nil || it.Status == "cancelled" {
			continue
		}
		ev := s.fromGoogle(it)
		if !ev.Start.After(now) {
			continue
		}
		out = append(out, *ev)
	}
	return out, nil
}

func (s *Synchronizer) dateTime(t time.Time) *gcal.EventDateTime {
	return &gcal.EventDateTime{
		DateTime: t.In(s.loc).Format(time.RFC3339),
		TimeZone: s.tz,
	}
}

func (s *Synchronizer) fromGoogle(ev *gcal.Event) *Event {
	out := &Event{
		ID:          ev.Id,
		Summary:     ev.Summary,
		Description: ev.Description,
		Link:        ev.HtmlLink,
		TimeZone:    s.tz,
	}
	if ev.Start != nil {
		out.Start = s.parseTime(ev.Start)
		if ev.Start.TimeZone != "" {
			out.TimeZone = ev.Start.TimeZone
		}
	}
	if ev.End != nil {
		out.End = s.parseTime(ev.End)
	}
	for _, a := range ev.Attendees {
		if a != nil && a.Email != "" {
			out.Attendees = append(out.Attendees, a.Email)
		}
	}
	return out
}

func (s *Synchronizer) parseTime(dt *gcal.EventDateTime) time.Time {
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t
		}
	}
	// all-day events only carry a date
	if dt.Date != "" {
		if t, err := time.ParseInLocation(dateLayout, dt.Date, s.loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

func attendees(emails []string) []*gcal.EventAttendee {
	if len(emails) == 0 {
		return nil
	}
	out := make([]*gcal.EventAttendee, 0, len(emails))
	for _, e := range emails {
		if e != "" {
			out = append(out, &gcal.EventAttendee{Email: e})
		}
	}
	return out
}

// classify maps Google client failures onto the service's error kinds.
// Gone and not-found events are NotFound; everything else, including a
// failed token refresh and a hit deadline, is Upstream.
func classify(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(apperr.Upstream, op+": calendar request timed out", err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound, http.StatusGone:
			return apperr.Wrap(apperr.NotFound, "calendar event not found", err)
		}
	}
	return apperr.Wrap(apperr.Upstream, op+" failed", err)
}
