package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dk-marin/bookslot/services/booking-service/internal/booking"
	"github.com/dk-marin/bookslot/services/booking-service/internal/schedule"
)

type AvailabilityHandler struct {
	manager *booking.Manager
	logger  *slog.Logger
}

func NewAvailabilityHandler(manager *booking.Manager, logger *slog.Logger) *AvailabilityHandler {
	return &AvailabilityHandler{manager: manager, logger: logger}
}

type availableSlotsResponse struct {
	ProviderID string   `json:"provider_id"`
	ServiceID  string   `json:"service_id"`
	Date       string   `json:"date"`
	Slots      []string `json:"slots"`
}

// Slots serves GET /api/v1/public/available-slots. A closed day returns 200
// with an empty slots array; the answer is advisory until a booking commits.
func (h *AvailabilityHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := strings.TrimSpace(r.URL.Query().Get("provider"))
	serviceID := strings.TrimSpace(r.URL.Query().Get("service"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if providerID == "" || serviceID == "" || dateStr == "" {
		http.Error(w, "provider, service, and date are required", http.StatusBadRequest)
		return
	}

	day, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	starts, err := h.manager.AvailableSlots(r.Context(), providerID, serviceID, day)
	if err != nil {
		h.writeError(w, err)
		return
	}

	slots := make([]string, 0, len(starts))
	for _, s := range starts {
		slots = append(slots, s.Format("15:04"))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(availableSlotsResponse{
		ProviderID: providerID,
		ServiceID:  serviceID,
		Date:       dateStr,
		Slots:      slots,
	})
}

func (h *AvailabilityHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrProviderNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, booking.ErrInvalidService):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, schedule.ErrMalformedRule):
		h.logger.Error("working hours data error", "err", err)
		http.Error(w, "working hours misconfigured", http.StatusInternalServerError)
	default:
		h.logger.Error("availability lookup failed", "err", err)
		http.Error(w, "failed to compute availability", http.StatusInternalServerError)
	}
}
