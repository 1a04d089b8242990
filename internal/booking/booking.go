// Package booking owns appointment records and keeps each one linked to the
// patient's Google Calendar event.
//
// Consistency model: a booking is the source of truth. Calendar writes follow
// the local write; a failed create leaves an unlinked booking, a failed delete
// never blocks cancellation, a failed reschedule rolls the local row back.
// Every outcome is reported in SyncResult, nothing is retried.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	gcal "google.golang.org/api/calendar/v3"

	"booking-calendar-api/internal/apperr"
	"booking-calendar-api/internal/calendar"
	"booking-calendar-api/internal/model"
	"booking-calendar-api/internal/store"
)

type Repository interface {
	CreateBooking(ctx context.Context, b *model.Booking) error
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	UpdateBooking(ctx context.Context, b *model.Booking) error
	SetBookingEvent(ctx context.Context, id string, eventID *string) error
	DeleteBooking(ctx context.Context, id string) error
	BookingsForPatient(ctx context.Context, patientID string) ([]model.Booking, error)
	BookingsForDoctor(ctx context.Context, doctorID string) ([]model.Booking, error)
}

type Sessions interface {
	Session(ctx context.Context, userID string) (*gcal.Service, error)
}

type Calendar interface {
	Window(date, clock string) (start, end time.Time, err error)
	CreateEvent(ctx context.Context, svc *gcal.Service, b *model.Booking) (string, error)
	UpdateEvent(ctx context.Context, svc *gcal.Service, eventID string, in calendar.EventInput) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, svc *gcal.Service, eventID string) error
}

// Sync outcomes reported back to the caller.
const (
	SyncSynced       = "synced"
	SyncNotLinked    = "not_linked"
	SyncFailed       = "failed"
	SyncDeleted      = "deleted"
	SyncEventMissing = "event_missing"
)

type SyncResult struct {
	Status  string `json:"status"`
	EventID string `json:"eventId,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Result struct {
	Booking  *model.Booking
	Calendar SyncResult
}

type Service struct {
	repo     Repository
	sessions Sessions
	cal      Calendar
}

func NewService(repo Repository, sessions Sessions, cal Calendar) *Service {
	return &Service{repo: repo, sessions: sessions, cal: cal}
}

// Create persists a requested booking, then mirrors it to the patient's
// calendar. A calendar failure keeps the booking and is reported.
func (s *Service) Create(ctx context.Context, patientID, doctorID, date, clock, reason string) (*Result, error) {
	date, clock, reason = strings.TrimSpace(date), strings.TrimSpace(clock), strings.TrimSpace(reason)
	if patientID == "" {
		return nil, apperr.New(apperr.Authentication, "patient identity missing")
	}
	if doctorID == "" || date == "" || clock == "" {
		return nil, apperr.New(apperr.Validation, "doctorId, date and time are required")
	}
	if _, _, err := s.cal.Window(date, clock); err != nil {
		return nil, err
	}

	b := &model.Booking{
		ID:        uuid.NewString(),
		PatientID: patientID,
		DoctorID:  doctorID,
		Date:      date,
		Time:      clock,
		Reason:    reason,
		Status:    model.StatusRequested,
	}
	if err := s.repo.CreateBooking(ctx, b); err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return nil, apperr.Wrap(apperr.Validation, "booking rejected by storage rules", err)
		}
		return nil, fmt.Errorf("create booking: %w", err)
	}

	res := &Result{Booking: b}
	svc, err := s.sessions.Session(ctx, patientID)
	if err != nil {
		res.Calendar = failure(err)
		log.Printf("booking %s: calendar session: %v", b.ID, err)
		return res, nil
	}

	eventID, err := s.cal.CreateEvent(ctx, svc, b)
	if err != nil {
		res.Calendar = failure(err)
		log.Printf("booking %s: calendar create: %v", b.ID, err)
		return res, nil
	}

	if err := s.repo.SetBookingEvent(ctx, b.ID, &eventID); err != nil {
		// the event exists but the link could not be saved; take it back
		// out so no orphan stays on the calendar
		log.Printf("booking %s: link event %s: %v", b.ID, eventID, err)
		if derr := s.cal.DeleteEvent(ctx, svc, eventID); derr != nil {
			log.Printf("booking %s: orphan event %s left on calendar: %v", b.ID, eventID, derr)
		}
		res.Calendar = SyncResult{Status: SyncFailed, Error: "could not link calendar event"}
		return res, nil
	}
	b.CalendarEventID = &eventID
	res.Calendar = SyncResult{Status: SyncSynced, EventID: eventID}
	return res, nil
}

// Get returns a booking visible to the requester: its patient, its doctor
// or an admin. Others get NotFound, which hides whether the id exists.
func (s *Service) Get(ctx context.Context, id string, who model.Identity) (*model.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !participates(who, b) && who.Role != model.RoleAdmin {
		return nil, apperr.New(apperr.NotFound, "booking not found")
	}
	return b, nil
}

func (s *Service) List(ctx context.Context, who model.Identity) ([]model.Booking, error) {
	var (
		out []model.Booking
		err error
	)
	switch who.Role {
	case model.RoleDoctor:
		out, err = s.repo.BookingsForDoctor(ctx, who.ID)
	default:
		out, err = s.repo.BookingsForPatient(ctx, who.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	return out, nil
}

// Confirm is the doctor's acceptance. No calendar side effect.
func (s *Service) Confirm(ctx context.Context, id, doctorID string) (*model.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.DoctorID != doctorID {
		return nil, apperr.New(apperr.Authorization, "only the assigned doctor can confirm this booking")
	}
	if b.Status == model.StatusConfirmed {
		return b, nil
	}
	b.Status = model.StatusConfirmed
	if err := s.repo.UpdateBooking(ctx, b); err != nil {
		return nil, fmt.Errorf("confirm booking: %w", err)
	}
	return b, nil
}

// Cancel deletes a booking owned by requesterID. The calendar delete is
// attempted first and is best effort: the local delete always proceeds.
func (s *Service) Cancel(ctx context.Context, id, requesterID string) (SyncResult, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return SyncResult{}, err
	}
	if b.PatientID != requesterID {
		return SyncResult{}, apperr.New(apperr.Authorization, "not authorized to cancel this booking")
	}

	res := SyncResult{Status: SyncNotLinked}
	if eventID := b.EventID(); eventID != "" {
		res = s.deleteRemote(ctx, b.PatientID, eventID)
		if res.Status != SyncDeleted {
			log.Printf("booking %s: calendar delete of %s needs reconciliation: %s", b.ID, eventID, res.Error)
		}
	}

	if err := s.repo.DeleteBooking(ctx, b.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return res, apperr.New(apperr.NotFound, "booking not found")
		}
		return res, fmt.Errorf("delete booking: %w", err)
	}
	return res, nil
}

func (s *Service) deleteRemote(ctx context.Context, userID, eventID string) SyncResult {
	svc, err := s.sessions.Session(ctx, userID)
	if err != nil {
		return SyncResult{Status: SyncFailed, EventID: eventID, Error: apperr.Message(err)}
	}
	if err := s.cal.DeleteEvent(ctx, svc, eventID); err != nil {
		if apperr.Is(err, apperr.NotFound) {
			// already gone upstream; recorded, not fatal
			return SyncResult{Status: SyncEventMissing, EventID: eventID, Error: apperr.Message(err)}
		}
		return SyncResult{Status: SyncFailed, EventID: eventID, Error: apperr.Message(err)}
	}
	return SyncResult{Status: SyncDeleted, EventID: eventID}
}

// Reschedule moves a booking to a new date and time. The local row and the
// linked event change together: if the event update fails the row is put
// back. An event already deleted upstream is unlinked and the move stands.
func (s *Service) Reschedule(ctx context.Context, id string, who model.Identity, date, clock string) (*Result, error) {
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)
	if date == "" {
		return nil, apperr.New(apperr.Validation, "date is required")
	}
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !participates(who, b) {
		return nil, apperr.New(apperr.Authorization, "not authorized to reschedule this booking")
	}
	if clock == "" {
		clock = b.Time
	}
	if _, _, err := s.cal.Window(date, clock); err != nil {
		return nil, err
	}

	prev := *b
	b.Date, b.Time = date, clock
	if b.Status == model.StatusRequested {
		b.Status = model.StatusRescheduled
	}
	if err := s.repo.UpdateBooking(ctx, b); err != nil {
		if errors.Is(err, store.ErrInvalid) {
			return nil, apperr.Wrap(apperr.Validation, "booking rejected by storage rules", err)
		}
		return nil, fmt.Errorf("reschedule booking: %w", err)
	}

	res := &Result{Booking: b, Calendar: SyncResult{Status: SyncNotLinked}}
	eventID := b.EventID()
	if eventID == "" {
		return res, nil
	}

	svc, err := s.sessions.Session(ctx, b.PatientID)
	if err == nil {
		_, err = s.cal.UpdateEvent(ctx, svc, eventID, calendar.EventInput{Date: date, Time: clock})
	}
	switch {
	case err == nil:
		res.Calendar = SyncResult{Status: SyncSynced, EventID: eventID}
		return res, nil
	case apperr.Is(err, apperr.NotFound):
		if uerr := s.repo.SetBookingEvent(ctx, b.ID, nil); uerr != nil {
			return nil, s.rollback(ctx, &prev, fmt.Errorf("unlink stale event: %w", uerr))
		}
		b.CalendarEventID = nil
		log.Printf("booking %s: event %s gone upstream, unlinked", b.ID, eventID)
		res.Calendar = SyncResult{Status: SyncEventMissing, EventID: eventID, Error: apperr.Message(err)}
		return res, nil
	default:
		return nil, s.rollback(ctx, &prev, err)
	}
}

// rollback restores prev and returns cause, or a combined error when the
// restore itself fails.
func (s *Service) rollback(ctx context.Context, prev *model.Booking, cause error) error {
	if err := s.repo.UpdateBooking(ctx, prev); err != nil {
		log.Printf("booking %s: rollback failed: %v (cause: %v)", prev.ID, err, cause)
		return fmt.Errorf("rollback booking %s: %v: %w", prev.ID, err, cause)
	}
	return cause
}

func (s *Service) load(ctx context.Context, id string) (*model.Booking, error) {
	if id == "" {
		return nil, apperr.New(apperr.Validation, "booking id required")
	}
	b, err := s.repo.GetBooking(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "booking not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	return b, nil
}

func failure(err error) SyncResult {
	if apperr.Is(err, apperr.Reauth) {
		return SyncResult{Status: SyncNotLinked, Error: apperr.Message(err)}
	}
	return SyncResult{Status: SyncFailed, Error: apperr.Message(err)}
}

func participates(who model.Identity, b *model.Booking) bool {
	return who.ID != "" && (who.ID == b.PatientID || who.ID == b.DoctorID)
}
