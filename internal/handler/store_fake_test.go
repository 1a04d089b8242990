package handler_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"booking-calendar-api/internal/model"
	"booking-calendar-api/internal/store"
)

type refreshRow struct {
	userID  string
	expires time.Time
	revoked bool
}

// memStore stands in for store.Store across every interface the handlers
// and services consume.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	refresh  map[string]*refreshRow
	bookings map[string]model.Booking
	creds    map[string]model.Credential
	pingErr  error
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]*model.User{},
		refresh:  map[string]*refreshRow{},
		bookings: map[string]model.Booking{},
		creds:    map[string]model.Credential{},
	}
}

func (m *memStore) Ping(context.Context) error { return m.pingErr }

func (m *memStore) CreateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return store.ErrDuplicate
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memStore) UserByEmail(_ context.Context, email string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) UserByID(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) ListUsers(context.Context) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	slices.SortFunc(out, func(a, b model.User) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *memStore) UpdateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[u.ID]
	if !ok {
		return store.ErrNotFound
	}
	for _, other := range m.users {
		if other.ID != u.ID && other.Email == u.Email {
			return store.ErrDuplicate
		}
	}
	cur.Name, cur.Email = u.Name, u.Email
	cur.UpdatedAt = time.Now()
	u.UpdatedAt = cur.UpdatedAt
	return nil
}

func (m *memStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.users, id)
	delete(m.creds, id)
	for hash, r := range m.refresh {
		if r.userID == id {
			delete(m.refresh, hash)
		}
	}
	return nil
}

func (m *memStore) CreateRefreshToken(_ context.Context, userID, hash string, exp time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refresh[hash] = &refreshRow{userID: userID, expires: exp}
	return uuid.NewString(), nil
}

func (m *memStore) RotateRefreshToken(_ context.Context, oldHash, newHash string, exp time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.refresh[oldHash]
	if !ok {
		return "", store.ErrNotFound
	}
	if row.revoked || time.Now().After(row.expires) {
		for _, r := range m.refresh {
			if r.userID == row.userID {
				r.revoked = true
			}
		}
		return "", store.ErrTokenRevoked
	}
	row.revoked = true
	m.refresh[newHash] = &refreshRow{userID: row.userID, expires: exp}
	return row.userID, nil
}

func (m *memStore) RevokeAllRefreshTokens(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.refresh {
		if r.userID == userID {
			r.revoked = true
		}
	}
	return nil
}

func (m *memStore) RevokeRefreshToken(_ context.Context, hash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.refresh[hash]
	if !ok {
		return "", store.ErrNotFound
	}
	row.revoked = true
	return row.userID, nil
}

func (m *memStore) CreateBooking(_ context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b.CreatedAt = time.Now()
	b.UpdatedAt = b.CreatedAt
	m.bookings[b.ID] = *b
	return nil
}

func (m *memStore) GetBooking(_ context.Context, id string) (*model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (m *memStore) UpdateBooking(_ context.Context, b *model.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; !ok {
		return store.ErrNotFound
	}
	b.UpdatedAt = time.Now()
	m.bookings[b.ID] = *b
	return nil
}

func (m *memStore) SetBookingEvent(_ context.Context, id string, eventID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return store.ErrNotFound
	}
	b.CalendarEventID = eventID
	m.bookings[id] = b
	return nil
}

func (m *memStore) DeleteBooking(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.bookings, id)
	return nil
}

func (m *memStore) BookingsForPatient(_ context.Context, id string) ([]model.Booking, error) {
	return m.filter(func(b model.Booking) bool { return b.PatientID == id }), nil
}

func (m *memStore) BookingsForDoctor(_ context.Context, id string) ([]model.Booking, error) {
	return m.filter(func(b model.Booking) bool { return b.DoctorID == id }), nil
}

func (m *memStore) filter(keep func(model.Booking) bool) []model.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Booking
	for _, b := range m.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	return out
}

func (m *memStore) UpsertCredential(_ context.Context, c *model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.creds[c.UserID]; ok && c.RefreshToken == "" {
		c.RefreshToken = prev.RefreshToken
	}
	m.creds[c.UserID] = *c
	return nil
}

func (m *memStore) GetCredential(_ context.Context, userID string) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

// link gives userID a long-lived Google credential.
func (m *memStore) link(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[userID] = model.Credential{
		UserID:      userID,
		AccessToken: "tok-" + userID,
		TokenType:   "Bearer",
		ExpiryDate:  time.Now().Add(time.Hour).UnixMilli(),
	}
}

var errDown = errors.New("db down")
