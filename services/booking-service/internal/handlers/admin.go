package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dk-marin/bookslot/services/booking-service/internal/model"
	"github.com/dk-marin/bookslot/services/booking-service/internal/storage"
)

const (
	minDurationMins = 5
	maxDurationMins = 480
	minStepMins     = 5
	maxStepMins     = 120
)

// Catalog is the provider/service administration surface backed by
// storage.CatalogRepository.
type Catalog interface {
	CreateProvider(ctx context.Context, name string, slotStepMins int) (model.Provider, error)
	DeactivateProvider(ctx context.Context, providerID string) error
	CreateService(ctx context.Context, providerID, name string, durationMins int, price string) (model.Service, error)
	ListServices(ctx context.Context, providerID string, limit int) ([]model.Service, error)
	UpsertWorkingHours(ctx context.Context, rule model.WorkingHoursRule) error
	ListWorkingHours(ctx context.Context, providerID string) ([]model.WorkingHoursRule, error)
}

type AdminHandler struct {
	catalog Catalog
	logger  *slog.Logger
}

func NewAdminHandler(catalog Catalog, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{catalog: catalog, logger: logger}
}

type createProviderRequest struct {
	Name         string `json:"name"`
	SlotStepMins int    `json:"slot_step_mins"`
}

func (h *AdminHandler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.SlotStepMins != 0 && (req.SlotStepMins < minStepMins || req.SlotStepMins > maxStepMins) {
		http.Error(w, "slot_step_mins out of range", http.StatusBadRequest)
		return
	}

	p, err := h.catalog.CreateProvider(r.Context(), req.Name, req.SlotStepMins)
	if err != nil {
		h.logger.Error("create provider failed", "err", err)
		http.Error(w, "failed to create provider", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":             p.ID,
		"name":           p.Name,
		"slot_step_mins": p.SlotStepMins,
		"is_active":      p.IsActive,
		"created_at":     p.CreatedAt.UTC().Format(time.RFC3339),
	})
}

type deactivateProviderRequest struct {
	ProviderID string `json:"provider_id"`
}

// DeactivateProvider soft-deletes a provider. Existing appointments are
// untouched; the provider stops resolving for availability and booking.
func (h *AdminHandler) DeactivateProvider(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req deactivateProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ProviderID) == "" {
		http.Error(w, "provider_id is required", http.StatusBadRequest)
		return
	}

	if err := h.catalog.DeactivateProvider(r.Context(), req.ProviderID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "provider not found", http.StatusNotFound)
			return
		}
		h.logger.Error("deactivate provider failed", "err", err, "provider_id", req.ProviderID)
		http.Error(w, "failed to deactivate provider", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type createServiceRequest struct {
	ProviderID   string `json:"provider_id"`
	Name         string `json:"name"`
	DurationMins int    `json:"duration_mins"`
	Price        string `json:"price"`
}

func (h *AdminHandler) CreateService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createServiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.Name = strings.TrimSpace(req.Name)
	if req.ProviderID == "" || req.Name == "" {
		http.Error(w, "provider_id and name are required", http.StatusBadRequest)
		return
	}
	if req.DurationMins < minDurationMins || req.DurationMins > maxDurationMins {
		http.Error(w, "duration_mins out of range", http.StatusBadRequest)
		return
	}

	svc, err := h.catalog.CreateService(r.Context(), req.ProviderID, req.Name, req.DurationMins, req.Price)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "provider not found", http.StatusNotFound)
			return
		}
		h.logger.Error("create service failed", "err", err, "provider_id", req.ProviderID)
		http.Error(w, "failed to create service", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":            svc.ID,
		"provider_id":   svc.ProviderID,
		"name":          svc.Name,
		"duration_mins": svc.DurationMins,
		"price":         svc.Price,
		"is_active":     svc.IsActive,
		"created_at":    svc.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (h *AdminHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := strings.TrimSpace(r.URL.Query().Get("provider"))
	if providerID == "" {
		http.Error(w, "provider is required", http.StatusBadRequest)
		return
	}

	svcs, err := h.catalog.ListServices(r.Context(), providerID, maxPageSize)
	if err != nil {
		h.logger.Error("list services failed", "err", err, "provider_id", providerID)
		http.Error(w, "failed to list services", http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(svcs))
	for _, svc := range svcs {
		out = append(out, map[string]any{
			"id":            svc.ID,
			"provider_id":   svc.ProviderID,
			"name":          svc.Name,
			"duration_mins": svc.DurationMins,
			"price":         svc.Price,
			"is_active":     svc.IsActive,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"services": out})
}

type workingHoursRule struct {
	Weekday int    `json:"weekday"`
	Closed  bool   `json:"closed"`
	Open    string `json:"open,omitempty"`
	Close   string `json:"close,omitempty"`
}

type putWorkingHoursRequest struct {
	ProviderID string             `json:"provider_id"`
	Rules      []workingHoursRule `json:"rules"`
}

// PutWorkingHours upserts working-hours rules. One rule per weekday; writing
// a weekday again replaces the previous rule for it.
func (h *AdminHandler) PutWorkingHours(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req putWorkingHoursRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	if req.ProviderID == "" || len(req.Rules) == 0 {
		http.Error(w, "provider_id and rules are required", http.StatusBadRequest)
		return
	}

	for _, in := range req.Rules {
		rule, err := toRule(req.ProviderID, in)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := h.catalog.UpsertWorkingHours(r.Context(), rule); err != nil {
			h.logger.Error("upsert working hours failed", "err", err, "provider_id", req.ProviderID)
			http.Error(w, "failed to save working hours", http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) GetWorkingHours(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := strings.TrimSpace(r.URL.Query().Get("provider"))
	if providerID == "" {
		http.Error(w, "provider is required", http.StatusBadRequest)
		return
	}

	rules, err := h.catalog.ListWorkingHours(r.Context(), providerID)
	if err != nil {
		h.logger.Error("list working hours failed", "err", err, "provider_id", providerID)
		http.Error(w, "failed to list working hours", http.StatusInternalServerError)
		return
	}

	out := make([]workingHoursRule, 0, len(rules))
	for _, rule := range rules {
		entry := workingHoursRule{Weekday: rule.Weekday, Closed: rule.Closed}
		if !rule.Closed {
			entry.Open = minutesToClock(rule.OpenMinute)
			entry.Close = minutesToClock(rule.CloseMinute)
		}
		out = append(out, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"provider_id": providerID,
		"rules":       out,
	})
}

func toRule(providerID string, in workingHoursRule) (model.WorkingHoursRule, error) {
	if in.Weekday < 0 || in.Weekday > 6 {
		return model.WorkingHoursRule{}, errors.New("weekday must be 0 (Sunday) through 6 (Saturday)")
	}
	rule := model.WorkingHoursRule{
		ProviderID: providerID,
		Weekday:    in.Weekday,
		Closed:     in.Closed,
	}
	if in.Closed {
		return rule, nil
	}

	open, err := clockToMinutes(in.Open)
	if err != nil {
		return model.WorkingHoursRule{}, errors.New("invalid open time")
	}
	close, err := clockToMinutes(in.Close)
	if err != nil {
		return model.WorkingHoursRule{}, errors.New("invalid close time")
	}
	if open >= close {
		return model.WorkingHoursRule{}, errors.New("open must be before close")
	}
	rule.OpenMinute = open
	rule.CloseMinute = close
	return rule, nil
}

func clockToMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func minutesToClock(m int) string {
	return time.Date(0, 1, 1, 0, m, 0, 0, time.UTC).Format("15:04")
}
