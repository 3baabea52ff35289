package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dk-marin/bookslot/services/booking-service/internal/model"
	"github.com/dk-marin/bookslot/services/booking-service/internal/storage"
)

type fakeCatalog struct {
	providers map[string]model.Provider
	services  map[string]model.Service
	rules     map[string]map[int]model.WorkingHoursRule
	nextID    int
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		providers: map[string]model.Provider{},
		services:  map[string]model.Service{},
		rules:     map[string]map[int]model.WorkingHoursRule{},
	}
}

func (c *fakeCatalog) id(prefix string) string {
	c.nextID++
	return prefix + "-" + strconv.Itoa(c.nextID)
}

func (c *fakeCatalog) CreateProvider(_ context.Context, name string, slotStepMins int) (model.Provider, error) {
	p := model.Provider{ID: c.id("prov"), Name: name, SlotStepMins: slotStepMins, IsActive: true, CreatedAt: time.Now().UTC()}
	c.providers[p.ID] = p
	return p, nil
}

func (c *fakeCatalog) DeactivateProvider(_ context.Context, providerID string) error {
	p, ok := c.providers[providerID]
	if !ok || !p.IsActive {
		return storage.ErrNotFound
	}
	p.IsActive = false
	c.providers[providerID] = p
	return nil
}

func (c *fakeCatalog) CreateService(_ context.Context, providerID, name string, durationMins int, price string) (model.Service, error) {
	if _, ok := c.providers[providerID]; !ok {
		return model.Service{}, storage.ErrNotFound
	}
	svc := model.Service{ID: c.id("svc"), ProviderID: providerID, Name: name, DurationMins: durationMins, Price: price, IsActive: true, CreatedAt: time.Now().UTC()}
	c.services[svc.ID] = svc
	return svc, nil
}

func (c *fakeCatalog) ListServices(_ context.Context, providerID string, _ int) ([]model.Service, error) {
	var out []model.Service
	for _, svc := range c.services {
		if svc.ProviderID == providerID {
			out = append(out, svc)
		}
	}
	return out, nil
}

func (c *fakeCatalog) UpsertWorkingHours(_ context.Context, rule model.WorkingHoursRule) error {
	byDay := c.rules[rule.ProviderID]
	if byDay == nil {
		byDay = map[int]model.WorkingHoursRule{}
		c.rules[rule.ProviderID] = byDay
	}
	byDay[rule.Weekday] = rule
	return nil
}

func (c *fakeCatalog) ListWorkingHours(_ context.Context, providerID string) ([]model.WorkingHoursRule, error) {
	var out []model.WorkingHoursRule
	for wd := 0; wd < 7; wd++ {
		if rule, ok := c.rules[providerID][wd]; ok {
			out = append(out, rule)
		}
	}
	return out, nil
}

func TestCreateProviderEndpoint(t *testing.T) {
	catalog := newFakeCatalog()
	h := NewAdminHandler(catalog, testLogger())

	rec := postJSON(t, h.CreateProvider, `{"name":"Sparkle Car Wash","slot_step_mins":30}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %q)", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["name"] != "Sparkle Car Wash" || resp["id"] == "" {
		t.Fatalf("response = %v", resp)
	}

	if rec := postJSON(t, h.CreateProvider, `{"name":""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty name status = %d, want 400", rec.Code)
	}
	if rec := postJSON(t, h.CreateProvider, `{"name":"X","slot_step_mins":3}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("tiny step status = %d, want 400", rec.Code)
	}
}

func TestDeactivateProviderEndpoint(t *testing.T) {
	catalog := newFakeCatalog()
	h := NewAdminHandler(catalog, testLogger())
	p, _ := catalog.CreateProvider(context.Background(), "Shop", 0)

	rec := postJSON(t, h.DeactivateProvider, `{"provider_id":"`+p.ID+`"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if catalog.providers[p.ID].IsActive {
		t.Fatal("provider still active after deactivation")
	}

	rec = postJSON(t, h.DeactivateProvider, `{"provider_id":"ghost"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown provider status = %d, want 404", rec.Code)
	}
}

func TestCreateServiceEndpoint(t *testing.T) {
	catalog := newFakeCatalog()
	h := NewAdminHandler(catalog, testLogger())
	p, _ := catalog.CreateProvider(context.Background(), "Shop", 0)

	rec := postJSON(t, h.CreateService, `{"provider_id":"`+p.ID+`","name":"Full Wash","duration_mins":60,"price":"25.00"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %q)", rec.Code, rec.Body.String())
	}

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"unknown provider", `{"provider_id":"ghost","name":"X","duration_mins":30}`, http.StatusNotFound},
		{"zero duration", `{"provider_id":"` + p.ID + `","name":"X","duration_mins":0}`, http.StatusBadRequest},
		{"huge duration", `{"provider_id":"` + p.ID + `","name":"X","duration_mins":600}`, http.StatusBadRequest},
		{"missing name", `{"provider_id":"` + p.ID + `","duration_mins":30}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		if rec := postJSON(t, h.CreateService, tc.body); rec.Code != tc.status {
			t.Fatalf("%s: status = %d, want %d", tc.name, rec.Code, tc.status)
		}
	}
}

func TestWorkingHoursRoundTrip(t *testing.T) {
	catalog := newFakeCatalog()
	h := NewAdminHandler(catalog, testLogger())
	p, _ := catalog.CreateProvider(context.Background(), "Shop", 0)

	put := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/x", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.PutWorkingHours(rec, req)
		return rec
	}

	rec := put(`{"provider_id":"` + p.ID + `","rules":[
		{"weekday":1,"open":"09:00","close":"12:00"},
		{"weekday":2,"closed":true}
	]}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("put status = %d, want 204 (body %q)", rec.Code, rec.Body.String())
	}

	// Re-writing a weekday replaces the stored rule.
	rec = put(`{"provider_id":"` + p.ID + `","rules":[{"weekday":1,"open":"10:00","close":"14:00"}]}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("second put status = %d, want 204", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/x?provider="+p.ID, nil)
	getRec := httptest.NewRecorder()
	h.GetWorkingHours(getRec, req)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", getRec.Code)
	}
	var resp struct {
		Rules []workingHoursRule `json:"rules"`
	}
	if err := json.NewDecoder(getRec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Rules) != 2 {
		t.Fatalf("rules = %+v, want 2", resp.Rules)
	}
	if resp.Rules[0].Weekday != 1 || resp.Rules[0].Open != "10:00" || resp.Rules[0].Close != "14:00" {
		t.Fatalf("monday rule = %+v, want replaced 10:00-14:00", resp.Rules[0])
	}
	if !resp.Rules[1].Closed || resp.Rules[1].Open != "" {
		t.Fatalf("tuesday rule = %+v, want closed with no times", resp.Rules[1])
	}
}

func TestPutWorkingHoursValidation(t *testing.T) {
	catalog := newFakeCatalog()
	h := NewAdminHandler(catalog, testLogger())

	put := func(body string) int {
		req := httptest.NewRequest(http.MethodPut, "/x", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.PutWorkingHours(rec, req)
		return rec.Code
	}

	cases := []struct {
		name string
		body string
	}{
		{"bad weekday", `{"provider_id":"p","rules":[{"weekday":7,"open":"09:00","close":"12:00"}]}`},
		{"open after close", `{"provider_id":"p","rules":[{"weekday":1,"open":"14:00","close":"12:00"}]}`},
		{"open equals close", `{"provider_id":"p","rules":[{"weekday":1,"open":"09:00","close":"09:00"}]}`},
		{"bad clock", `{"provider_id":"p","rules":[{"weekday":1,"open":"9am","close":"12:00"}]}`},
		{"no rules", `{"provider_id":"p","rules":[]}`},
	}
	for _, tc := range cases {
		if code := put(tc.body); code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", tc.name, code)
		}
	}
}
