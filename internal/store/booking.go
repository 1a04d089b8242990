package store

import (
	"context"

	"booking-calendar-api/internal/model"
)

const bookingCols = `id, patient_id, doctor_id, visit_date, visit_time, reason, status,
	calendar_event_id, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanBooking(row scanner) (*model.Booking, error) {
	b := &model.Booking{}
	err := row.Scan(&b.ID, &b.PatientID, &b.DoctorID, &b.Date, &b.Time, &b.Reason, &b.Status,
		&b.CalendarEventID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return b, nil
}

func (s *Store) CreateBooking(ctx context.Context, b *model.Booking) error {
	row := s.pool.QueryRow(ctx,
		`INSERT INTO bookings (id, patient_id, doctor_id, visit_date, visit_time, reason, status, calendar_event_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 RETURNING created_at, updated_at`,
		b.ID, b.PatientID, b.DoctorID, b.Date, b.Time, b.Reason, b.Status, b.CalendarEventID,
	)
	return translate(row.Scan(&b.CreatedAt, &b.UpdatedAt))
}

func (s *Store) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return scanBooking(s.pool.QueryRow(ctx,
		`SELECT `+bookingCols+` FROM bookings WHERE id = $1`, id))
}

// UpdateBooking replaces the mutable fields of one row.
func (s *Store) UpdateBooking(ctx context.Context, b *model.Booking) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bookings
		 SET visit_date=$1, visit_time=$2, reason=$3, status=$4, calendar_event_id=$5, updated_at=NOW()
		 WHERE id=$6`,
		b.Date, b.Time, b.Reason, b.Status, b.CalendarEventID, b.ID,
	)
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetBookingEvent(ctx context.Context, id string, eventID *string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bookings SET calendar_event_id=$1, updated_at=NOW() WHERE id=$2`, eventID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteBooking(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bookings WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) BookingsForPatient(ctx context.Context, patientID string) ([]model.Booking, error) {
	return s.listBookings(ctx, `patient_id = $1`, patientID)
}

func (s *Store) BookingsForDoctor(ctx context.Context, doctorID string) ([]model.Booking, error) {
	return s.listBookings(ctx, `doctor_id = $1`, doctorID)
}

func (s *Store) listBookings(ctx context.Context, cond string, arg any) ([]model.Booking, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+bookingCols+` FROM bookings WHERE `+cond+` ORDER BY visit_date, visit_time`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}
