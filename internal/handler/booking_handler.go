package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"booking-calendar-api/internal/booking"
	"booking-calendar-api/internal/middleware"
	"booking-calendar-api/internal/model"
)

type createBookingRequest struct {
	DoctorID string `json:"doctorId"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Reason   string `json:"reason"`
}

type rescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type bookingResponse struct {
	ID              string    `json:"id"`
	PatientID       string    `json:"patientId"`
	DoctorID        string    `json:"doctorId"`
	Date            string    `json:"date"`
	Time            string    `json:"time"`
	Reason          string    `json:"reason,omitempty"`
	Status          string    `json:"status"`
	CalendarEventID *string   `json:"calendarEventId"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type bookingResult struct {
	Booking  bookingResponse    `json:"booking"`
	Calendar booking.SyncResult `json:"calendar"`
}

func toBooking(b *model.Booking) bookingResponse {
	return bookingResponse{
		ID:              b.ID,
		PatientID:       b.PatientID,
		DoctorID:        b.DoctorID,
		Date:            b.Date,
		Time:            b.Time,
		Reason:          b.Reason,
		Status:          b.Status,
		CalendarEventID: b.CalendarEventID,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
	}
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := decode(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	res, err := h.bookings.Create(r.Context(), caller(r).ID, req.DoctorID, req.Date, req.Time, req.Reason)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, bookingResult{Booking: toBooking(res.Booking), Calendar: res.Calendar})
}

func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	list, err := h.bookings.List(r.Context(), caller(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	out := make([]bookingResponse, 0, len(list))
	for i := range list {
		out = append(out, toBooking(&list[i]))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"bookings": out})
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.bookings.Get(r.Context(), mux.Vars(r)["id"], caller(r))
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toBooking(b))
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	res, err := h.bookings.Cancel(r.Context(), mux.Vars(r)["id"], caller(r).ID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"message":  "booking cancelled",
		"calendar": res,
	})
}

func (h *Handler) ConfirmBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.bookings.Confirm(r.Context(), mux.Vars(r)["id"], caller(r).ID)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, toBooking(b))
}

func (h *Handler) RescheduleBooking(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := decode(r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	res, err := h.bookings.Reschedule(r.Context(), mux.Vars(r)["id"], caller(r), req.Date, req.Time)
	if err != nil {
		middleware.WriteError(w, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, bookingResult{Booking: toBooking(res.Booking), Calendar: res.Calendar})
}
