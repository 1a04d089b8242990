package model

import "time"

const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

const (
	StatusRequested   = "requested"
	StatusConfirmed   = "confirmed"
	StatusRescheduled = "rescheduled"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Booking is one scheduled visit. Date is YYYY-MM-DD, Time is HH:MM.
type Booking struct {
	ID              string
	PatientID       string
	DoctorID        string
	Date            string
	Time            string
	Reason          string
	Status          string
	CalendarEventID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (b *Booking) EventID() string {
	if b.CalendarEventID == nil {
		return ""
	}
	return *b.CalendarEventID
}

// Credential is a user's stored Google token set. ExpiryDate is epoch millis.
type Credential struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	Scope        string
	TokenType    string
	ExpiryDate   int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity is the caller as decoded from the bearer token. Never persisted.
type Identity struct {
	ID   string
	Role string
}
