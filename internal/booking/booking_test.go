package booking

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gcal "google.golang.org/api/calendar/v3"

	"booking-calendar-api/internal/apperr"
	"booking-calendar-api/internal/calendar"
	"booking-calendar-api/internal/calendar/calendartest"
	"booking-calendar-api/internal/model"
	"booking-calendar-api/internal/oauth"
	"booking-calendar-api/internal/store"
)

type memRepo struct {
	mu        sync.Mutex
	rows      map[string]model.Booking
	failSet   bool
	failUpd   int // fail the n-th UpdateBooking call, 1-based
	updates   int
	rejectAll bool // every write fails a CHECK constraint
}

func newMemRepo() *memRepo { return &memRepo{rows: map[string]model.Booking{}} }

// same CHECKs as db/migrations/001_init.sql
var (
	visitDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	visitTime = regexp.MustCompile(`^\d{2}:\d{2}$`)
)

func (m *memRepo) checkRow(b *model.Booking) error {
	if m.rejectAll || !visitDate.MatchString(b.Date) || !visitTime.MatchString(b.Time) {
		return fmt.Errorf("%w: bookings_check", store.ErrInvalid)
	}
	return nil
}

func (m *memRepo) CreateBooking(_ context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkRow(b); err != nil {
		return err
	}
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	m.rows[b.ID] = *b
	return nil
}

func (m *memRepo) GetBooking(_ context.Context, id string) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.rows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (m *memRepo) UpdateBooking(_ context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	if m.failUpd == m.updates {
		return errors.New("db down")
	}
	if _, ok := m.rows[b.ID]; !ok {
		return store.ErrNotFound
	}
	if err := m.checkRow(b); err != nil {
		return err
	}
	m.rows[b.ID] = *b
	return nil
}

func (m *memRepo) SetBookingEvent(_ context.Context, id string, eventID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errors.New("db down")
	}
	b, ok := m.rows[id]
	if !ok {
		return store.ErrNotFound
	}
	b.CalendarEventID = eventID
	m.rows[id] = b
	return nil
}

func (m *memRepo) DeleteBooking(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memRepo) BookingsForPatient(_ context.Context, id string) ([]model.Booking, error) {
	return m.filter(func(b model.Booking) bool { return b.PatientID == id }), nil
}

func (m *memRepo) BookingsForDoctor(_ context.Context, id string) ([]model.Booking, error) {
	return m.filter(func(b model.Booking) bool { return b.DoctorID == id }), nil
}

func (m *memRepo) filter(keep func(model.Booking) bool) []model.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Booking{}
	for _, b := range m.rows {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

// linked hands out the fake calendar for every user in the set.
type linked struct {
	svc   *gcal.Service
	users map[string]bool
}

func (l *linked) Session(_ context.Context, userID string) (*gcal.Service, error) {
	if !l.users[userID] {
		return nil, oauth.ErrNoCredentials
	}
	return l.svc, nil
}

type fixture struct {
	svc  *Service
	repo *memRepo
	fake *calendartest.Server
}

func setup(t *testing.T, linkedUsers ...string) *fixture {
	t.Helper()
	fake := calendartest.NewServer(t)
	sessions := &linked{svc: fake.Service(t), users: map[string]bool{}}
	for _, u := range linkedUsers {
		sessions.users[u] = true
	}
	syncer, err := calendar.NewSynchronizer("UTC", time.Second)
	require.NoError(t, err)
	repo := newMemRepo()
	return &fixture{svc: NewService(repo, sessions, syncer), repo: repo, fake: fake}
}

func TestCreateScenario(t *testing.T) {
	f := setup(t, "P")

	res, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "checkup")
	require.NoError(t, err)
	assert.Equal(t, model.StatusRequested, res.Booking.Status)
	assert.Equal(t, SyncSynced, res.Calendar.Status)

	stored, err := f.repo.GetBooking(context.Background(), res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRequested, stored.Status)
	require.Equal(t, res.Calendar.EventID, stored.EventID())

	ev, ok := f.fake.Event(stored.EventID())
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(ev.Start.DateTime, "2025-03-01T10:00:00"))
	assert.True(t, strings.HasPrefix(ev.End.DateTime, "2025-03-01T10:30:00"))
}

func TestCreateValidation(t *testing.T) {
	f := setup(t, "P")
	tests := []struct {
		name                              string
		patient, doctor, date, clock, why string
	}{
		{"no doctor", "P", "", "2025-03-01", "10:00", ""},
		{"no date", "P", "D", "", "10:00", ""},
		{"no time", "P", "D", "2025-03-01", "  ", ""},
		{"bad date", "P", "D", "March 1st", "10:00", ""},
		{"bad time", "P", "D", "2025-03-01", "10am", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tt.patient, tt.doctor, tt.date, tt.clock, tt.why)
			assert.Equal(t, apperr.Validation, apperr.KindOf(err))
		})
	}
	// nothing persisted, nothing synced
	assert.Empty(t, f.repo.rows)
	assert.Zero(t, f.fake.Len())
}

func TestCreateWithoutCredentials(t *testing.T) {
	f := setup(t)

	res, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "checkup")
	require.NoError(t, err)
	assert.Equal(t, SyncNotLinked, res.Calendar.Status)
	assert.NotEmpty(t, res.Calendar.Error)

	stored, err := f.repo.GetBooking(context.Background(), res.Booking.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.CalendarEventID)
	assert.Equal(t, model.StatusRequested, stored.Status)
}

func TestCreateUpstreamFailureKeepsBooking(t *testing.T) {
	f := setup(t, "P")
	f.fake.FailNext(http.StatusServiceUnavailable)

	res, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "")
	require.NoError(t, err)
	assert.Equal(t, SyncFailed, res.Calendar.Status)
	assert.Contains(t, res.Calendar.Error, "create calendar event")

	stored, err := f.repo.GetBooking(context.Background(), res.Booking.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.CalendarEventID)
}

func TestCreateLinkFailureRemovesEvent(t *testing.T) {
	f := setup(t, "P")
	f.repo.failSet = true

	res, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "")
	require.NoError(t, err)
	assert.Equal(t, SyncFailed, res.Calendar.Status)
	assert.Zero(t, f.fake.Len(), "orphan event left on calendar")
}

func TestCancelByOtherUser(t *testing.T) {
	f := setup(t, "P")
	res, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "checkup")
	require.NoError(t, err)
	before, _ := f.repo.GetBooking(context.Background(), res.Booking.ID)

	for _, who := range []string{"Q", "D", ""} {
		_, err = f.svc.Cancel(context.Background(), res.Booking.ID, who)
		assert.Equal(t, apperr.Authorization, apperr.KindOf(err), who)
	}

	after, err := f.repo.GetBooking(context.Background(), res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, f.fake.Len())
}

func TestCancelDeletesEventAndRecord(t *testing.T) {
	f := setup(t, "P")
	res, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "checkup")
	require.NoError(t, err)

	sr, err := f.svc.Cancel(context.Background(), res.Booking.ID, "P")
	require.NoError(t, err)
	assert.Equal(t, SyncDeleted, sr.Status)
	assert.Zero(t, f.fake.Len())

	_, err = f.repo.GetBooking(context.Background(), res.Booking.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.Cancel(context.Background(), res.Booking.ID, "P")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestCancelWithEventAlreadyGone(t *testing.T) {
	f := setup(t, "P")
	res, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "checkup")
	require.NoError(t, err)
	f.fake.RemoveEvent(res.Calendar.EventID)

	sr, err := f.svc.Cancel(context.Background(), res.Booking.ID, "P")
	require.NoError(t, err)
	assert.Equal(t, SyncEventMissing, sr.Status)
	assert.NotEmpty(t, sr.Error)

	_, err = f.repo.GetBooking(context.Background(), res.Booking.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCancelUpstreamDown(t *testing.T) {
	f := setup(t, "P")
	res, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "checkup")
	require.NoError(t, err)
	f.fake.FailNext(http.StatusInternalServerError)

	sr, err := f.svc.Cancel(context.Background(), res.Booking.ID, "P")
	require.NoError(t, err)
	assert.Equal(t, SyncFailed, sr.Status)

	// local delete still went through
	_, err = f.repo.GetBooking(context.Background(), res.Booking.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCancelUnlinked(t *testing.T) {
	f := setup(t)
	res, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "")
	require.NoError(t, err)

	sr, err := f.svc.Cancel(context.Background(), res.Booking.ID, "P")
	require.NoError(t, err)
	assert.Equal(t, SyncNotLinked, sr.Status)
	assert.Empty(t, f.fake.Calls())
}

func TestConfirm(t *testing.T) {
	f := setup(t, "P")
	res, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "")
	require.NoError(t, err)
	calls := len(f.fake.Calls())

	_, err = f.svc.Confirm(context.Background(), res.Booking.ID, "other-doctor")
	assert.Equal(t, apperr.Authorization, apperr.KindOf(err))

	b, err := f.svc.Confirm(context.Background(), res.Booking.ID, "D")
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, b.Status)

	stored, _ := f.repo.GetBooking(context.Background(), res.Booking.ID)
	assert.Equal(t, model.StatusConfirmed, stored.Status)
	assert.Len(t, f.fake.Calls(), calls, "confirm must not touch the calendar")

	_, err = f.svc.Confirm(context.Background(), "missing", "D")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
}

func TestReschedule(t *testing.T) {
	f := setup(t, "P")
	res, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "")
	require.NoError(t, err)

	out, err := f.svc.Reschedule(context.Background(), res.Booking.ID, model.Identity{ID: "P", Role: model.RolePatient}, "2025-03-04", "")
	require.NoError(t, err)
	assert.Equal(t, SyncSynced, out.Calendar.Status)
	assert.Equal(t, "2025-03-04", out.Booking.Date)
	assert.Equal(t, "10:00", out.Booking.Time)
	assert.Equal(t, model.StatusRescheduled, out.Booking.Status)

	ev, _ := f.fake.Event(res.Calendar.EventID)
	assert.True(t, strings.HasPrefix(ev.Start.DateTime, "2025-03-04T10:00:00"))

	// the doctor may move it too
	_, err = f.svc.Reschedule(context.Background(), res.Booking.ID, model.Identity{ID: "D", Role: model.RoleDoctor}, "2025-03-05", "14:30")
	require.NoError(t, err)
	ev, _ = f.fake.Event(res.Calendar.EventID)
	assert.True(t, strings.HasPrefix(ev.Start.DateTime, "2025-03-05T14:30:00"))

	_, err = f.svc.Reschedule(context.Background(), res.Booking.ID, model.Identity{ID: "Q", Role: model.RolePatient}, "2025-03-06", "")
	assert.Equal(t, apperr.Authorization, apperr.KindOf(err))
}

func TestRescheduleRollsBackOnUpstreamError(t *testing.T) {
	f := setup(t, "P")
	res, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "")
	require.NoError(t, err)
	f.fake.FailNext(http.StatusInternalServerError)

	_, err = f.svc.Reschedule(context.Background(), res.Booking.ID, model.Identity{ID: "P"}, "2025-03-04", "11:00")
	assert.Equal(t, apperr.Upstream, apperr.KindOf(err))

	stored, _ := f.repo.GetBooking(context.Background(), res.Booking.ID)
	assert.Equal(t, "2025-03-01", stored.Date)
	assert.Equal(t, "10:00", stored.Time)
	assert.Equal(t, model.StatusRequested, stored.Status)
	assert.Equal(t, res.Calendar.EventID, stored.EventID())
}

func TestRescheduleClearsStaleEvent(t *testing.T) {
	f := setup(t, "P")
	res, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "")
	require.NoError(t, err)
	f.fake.RemoveEvent(res.Calendar.EventID)

	out, err := f.svc.Reschedule(context.Background(), res.Booking.ID, model.Identity{ID: "P"}, "2025-03-04", "")
	require.NoError(t, err)
	assert.Equal(t, SyncEventMissing, out.Calendar.Status)

	stored, _ := f.repo.GetBooking(context.Background(), res.Booking.ID)
	assert.Equal(t, "2025-03-04", stored.Date)
	assert.Nil(t, stored.CalendarEventID)
}

func TestRescheduleValidation(t *testing.T) {
	f := setup(t, "P")
	res, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "")
	require.NoError(t, err)

	_, err = f.svc.Reschedule(context.Background(), res.Booking.ID, model.Identity{ID: "P"}, "", "")
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	_, err = f.svc.Reschedule(context.Background(), res.Booking.ID, model.Identity{ID: "P"}, "2025-13-01", "")
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
}

func TestGetAndList(t *testing.T) {
	f := setup(t)
	a, _ := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "")
	_, _ = f.svc.Create(context.Background(), "P", "E", "2025-03-02", "10:00", "")
	_, _ = f.svc.Create(context.Background(), "Q", "D", "2025-03-03", "10:00", "")

	_, err := f.svc.Get(context.Background(), a.Booking.ID, model.Identity{ID: "Q", Role: model.RolePatient})
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))
	_, err = f.svc.Get(context.Background(), a.Booking.ID, model.Identity{ID: "D", Role: model.RoleDoctor})
	assert.NoError(t, err)
	_, err = f.svc.Get(context.Background(), a.Booking.ID, model.Identity{ID: "root", Role: model.RoleAdmin})
	assert.NoError(t, err)

	mine, err := f.svc.List(context.Background(), model.Identity{ID: "P", Role: model.RolePatient})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	docs, err := f.svc.List(context.Background(), model.Identity{ID: "D", Role: model.RoleDoctor})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestRescheduleStoreFailure(t *testing.T) {
	f := setup(t, "P")
	res, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "")
	require.NoError(t, err)
	f.repo.failUpd = f.repo.updates + 1

	_, err = f.svc.Reschedule(context.Background(), res.Booking.ID, model.Identity{ID: "P"}, "2025-03-04", "")
	require.Error(t, err)
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))

	// the calendar was never touched
	ev, _ := f.fake.Event(res.Calendar.EventID)
	assert.True(t, strings.HasPrefix(ev.Start.DateTime, "2025-03-01T10:00:00"))
}

func TestCreateSingleDigitHour(t *testing.T) {
	f := setup(t, "P")

	_, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "9:00", "checkup")
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.Empty(t, f.repo.rows)
	assert.Zero(t, f.fake.Len())
}

func TestRescheduleSingleDigitHour(t *testing.T) {
	f := setup(t, "P")
	res, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "")
	require.NoError(t, err)

	_, err = f.svc.Reschedule(context.Background(), res.Booking.ID, model.Identity{ID: "P"}, "2025-03-02", "9:30")
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))

	stored, _ := f.repo.GetBooking(context.Background(), res.Booking.ID)
	assert.Equal(t, "2025-03-01", stored.Date)
	assert.Equal(t, "10:00", stored.Time)
}

func TestCreateWithoutPatient(t *testing.T) {
	f := setup(t, "P")
	_, err := f.svc.Create(context.Background(), "", "D", "2025-03-01", "10:00", "")
	assert.Equal(t, apperr.Authentication, apperr.KindOf(err))
	assert.Empty(t, f.repo.rows)
}

func TestCreateStorageRejection(t *testing.T) {
	f := setup(t, "P")
	f.repo.rejectAll = true

	_, err := f.svc.Create(context.Background(), "P", "D", "2025-03-01", "10:00", "")
	require.Error(t, err)
	assert.Equal(t, apperr.Validation, apperr.KindOf(err))
	assert.ErrorIs(t, err, store.ErrInvalid)
	assert.Zero(t, f.fake.Len())
}
