package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dk-marin/bookslot/services/booking-service/internal/booking"
	"github.com/dk-marin/bookslot/services/booking-service/internal/model"
)

const maxPageSize = 100

type BookingHandler struct {
	manager *booking.Manager
	logger  *slog.Logger
}

func NewBookingHandler(manager *booking.Manager, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{manager: manager, logger: logger}
}

type createAppointmentRequest struct {
	ProviderID string `json:"provider_id"`
	ServiceID  string `json:"service_id"`
	UserID     string `json:"user_id"`
	Date       string `json:"date"`
	Start      string `json:"start"`
}

type appointmentResponse struct {
	ID           string  `json:"id"`
	ProviderID   string  `json:"provider_id"`
	ServiceID    string  `json:"service_id"`
	UserID       string  `json:"user_id"`
	StartTime    string  `json:"start_time"`
	EndTime      string  `json:"end_time"`
	DurationMins int     `json:"duration_mins"`
	Status       string  `json:"status"`
	CancelledAt  *string `json:"cancelled_at,omitempty"`
	CancelReason string  `json:"cancel_reason,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

func toAppointmentResponse(a model.Appointment) appointmentResponse {
	resp := appointmentResponse{
		ID:           a.ID,
		ProviderID:   a.ProviderID,
		ServiceID:    a.ServiceID,
		UserID:       a.UserID,
		StartTime:    a.StartTime.UTC().Format(time.RFC3339),
		EndTime:      a.EndTime.UTC().Format(time.RFC3339),
		DurationMins: a.DurationMins,
		Status:       string(a.Status),
		CancelReason: a.CancelReason,
		CreatedAt:    a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if a.CancelledAt != nil {
		s := a.CancelledAt.UTC().Format(time.RFC3339)
		resp.CancelledAt = &s
	}
	return resp
}

// Create serves POST /api/v1/public/appointments.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.UserID = strings.TrimSpace(req.UserID)
	req.Date = strings.TrimSpace(req.Date)
	req.Start = strings.TrimSpace(req.Start)
	if req.ProviderID == "" || req.ServiceID == "" || req.UserID == "" {
		http.Error(w, "provider_id, service_id, and user_id are required", http.StatusBadRequest)
		return
	}

	day, err := time.ParseInLocation("2006-01-02", req.Date, time.UTC)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	wall, err := time.Parse("15:04", req.Start)
	if err != nil {
		http.Error(w, "invalid start", http.StatusBadRequest)
		return
	}
	start := day.Add(time.Duration(wall.Hour())*time.Hour + time.Duration(wall.Minute())*time.Minute)

	appt, err := h.manager.Book(r.Context(), booking.BookRequest{
		ProviderID: req.ProviderID,
		ServiceID:  req.ServiceID,
		UserID:     req.UserID,
		Start:      start,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(toAppointmentResponse(appt))
}

type cancelAppointmentRequest struct {
	ProviderID    string `json:"provider_id"`
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

// Cancel serves POST /api/v1/appointments/cancel. Cancelling an already
// cancelled appointment succeeds without emitting a second event.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.ProviderID == "" || req.AppointmentID == "" {
		http.Error(w, "provider_id and appointment_id are required", http.StatusBadRequest)
		return
	}

	appt, err := h.manager.Cancel(r.Context(), req.ProviderID, req.AppointmentID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(toAppointmentResponse(appt))
}

// List serves GET /api/v1/appointments filtered by provider or user.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	filter := booking.ListFilter{
		ProviderID: strings.TrimSpace(q.Get("provider")),
		UserID:     strings.TrimSpace(q.Get("user")),
		Status:     strings.TrimSpace(q.Get("status")),
		Limit:      maxPageSize,
	}
	if filter.ProviderID == "" && filter.UserID == "" {
		http.Error(w, "provider or user is required", http.StatusBadRequest)
		return
	}

	appts, err := h.manager.ListAppointments(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"appointments": out})
}

func (h *BookingHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrProviderNotFound), errors.Is(err, booking.ErrAppointmentNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, booking.ErrInvalidService),
		errors.Is(err, booking.ErrPastDate),
		errors.Is(err, booking.ErrProviderClosed):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, booking.ErrSlotTaken),
		errors.Is(err, booking.ErrNotCancellable):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, booking.ErrLockTimeout):
		// Retryable: another booking held the day lock too long.
		http.Error(w, err.Error(), http.StatusLocked)
	default:
		h.logger.Error("booking request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
