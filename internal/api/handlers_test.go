package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/hackgods/appointment-ledger/internal/appointment"
	"github.com/hackgods/appointment-ledger/internal/directory"
	"github.com/hackgods/appointment-ledger/internal/metrics"
)

type testServer struct {
	handler http.Handler
	ledger  *appointment.Ledger
	metrics *metrics.Collector
}

func newTestServer(t *testing.T, health ...Dependency) *testServer {
	t.Helper()
	log := zaptest.NewLogger(t)
	m := metrics.NewCollector("api_test")
	ledger, err := appointment.NewLedger(appointment.NewMemoryRepository(), appointment.Options{
		NotBeforeToday: true,
		Logger:         log,
		Metrics:        m,
		Clock:          func() time.Time { return time.Date(2025, time.January, 1, 8, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewLedger error: %v", err)
	}
	dir := directory.NewStatic(
		directory.Provider{ID: "D1", Name: "Dr. Ada Obi", Specialization: "Cardiology"},
		directory.Provider{ID: "D2", Name: "Dr. Sam Lee", Specialization: "ENT"},
	)
	return &testServer{
		handler: NewRouter(RouterConfig{
			Ledger:    ledger,
			Directory: dir,
			Logger:    log,
			Metrics:   m,
			Health:    health,
			Env:       "test",
			Version:   "v0.0.0-test",
		}),
		ledger:  ledger,
		metrics: m,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func (s *testServer) book(t *testing.T, patientID int, providerID, date, at string) AppointmentResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
		PatientID: patientID, ProviderID: providerID, Date: date, Time: at,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("book status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	return decode[AppointmentResponse](t, rec)
}

func TestCreateAppointment(t *testing.T) {
	s := newTestServer(t)

	appt := s.book(t, 7, "D1", "2025-01-10", "10:00")
	if appt.ID == "" || appt.Status != "Scheduled" || appt.Time != "10:00" {
		t.Fatalf("response = %+v", appt)
	}

	cases := []struct {
		name       string
		req        CreateAppointmentRequest
		wantStatus int
		wantCode   string
	}{
		{"double booking", CreateAppointmentRequest{8, "D1", "2025-01-10", "10:00"}, http.StatusConflict, "slot_conflict"},
		{"unknown provider", CreateAppointmentRequest{8, "D9", "2025-01-10", "10:00"}, http.StatusNotFound, "provider_not_found"},
		{"break", CreateAppointmentRequest{8, "D1", "2025-01-10", "13:00"}, http.StatusUnprocessableEntity, "out_of_policy"},
		{"past", CreateAppointmentRequest{8, "D1", "2024-12-31", "10:00"}, http.StatusUnprocessableEntity, "out_of_policy"},
		{"bad date", CreateAppointmentRequest{8, "D1", "10/01/2025", "10:00"}, http.StatusBadRequest, "invalid_date"},
		{"bad time", CreateAppointmentRequest{8, "D1", "2025-01-10", "ten"}, http.StatusBadRequest, "invalid_time"},
		{"no patient", CreateAppointmentRequest{0, "D1", "2025-01-10", "11:00"}, http.StatusBadRequest, "invalid_patient_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/appointments", tc.req)
			if rec.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tc.wantStatus, rec.Body.String())
			}
			if got := decode[ErrorResponse](t, rec); got.Error != tc.wantCode {
				t.Fatalf("error = %q, want %q", got.Error, tc.wantCode)
			}
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", rec.Code)
	}
}

func TestAppointmentLifecycle(t *testing.T) {
	s := newTestServer(t)
	appt := s.book(t, 7, "D1", "2025-01-10", "10:00")
	base := "/appointments/" + appt.ID

	accept := true
	rec := s.do(t, http.MethodPost, base+"/respond", RespondRequest{Accept: &accept})
	if rec.Code != http.StatusOK || decode[AppointmentResponse](t, rec).Status != "Confirmed" {
		t.Fatalf("respond: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, base+"/outcome", OutcomeRequest{
		ServiceType:        "Consultation",
		Notes:              "stable",
		Medicines:          []appointment.Medicine{{Name: "Aspirin", Quantity: 10}},
		PrescriptionStatus: "Pending",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("outcome: %d %s", rec.Code, rec.Body.String())
	}
	done := decode[AppointmentResponse](t, rec)
	if done.Status != "Completed" || done.Outcome == nil || done.Outcome.Medicines[0].Name != "Aspirin" {
		t.Fatalf("outcome response = %+v", done)
	}

	rec = s.do(t, http.MethodPut, base+"/prescription-status", PrescriptionStatusRequest{Status: "Dispensed"})
	if rec.Code != http.StatusOK || decode[AppointmentResponse](t, rec).Outcome.PrescriptionStatus != "Dispensed" {
		t.Fatalf("prescription: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, base+"/reschedule", RescheduleRequest{Date: "2025-01-11", Time: "10:00"})
	if rec.Code != http.StatusConflict || decode[ErrorResponse](t, rec).Error != "invalid_status_transition" {
		t.Fatalf("reschedule completed: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, base+"/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel completed: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, base, nil)
	if rec.Code != http.StatusOK || decode[AppointmentResponse](t, rec).Status != "Completed" {
		t.Fatalf("get: %d %s", rec.Code, rec.Body.String())
	}
}

func TestRescheduleAndCancel(t *testing.T) {
	s := newTestServer(t)
	a := s.book(t, 1, "D1", "2025-01-10", "10:00")
	s.book(t, 2, "D1", "2025-01-10", "10:30")

	rec := s.do(t, http.MethodPost, "/appointments/"+a.ID+"/reschedule", RescheduleRequest{Date: "2025-01-10", Time: "10:30"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("reschedule onto taken slot: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodPost, "/appointments/"+a.ID+"/reschedule", RescheduleRequest{Date: "2025-01-10", Time: "11:00"})
	if rec.Code != http.StatusOK || decode[AppointmentResponse](t, rec).Time != "11:00" {
		t.Fatalf("reschedule: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/appointments/"+a.ID+"/cancel", nil)
	if rec.Code != http.StatusOK || decode[AppointmentResponse](t, rec).Status != "Cancelled" {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/appointments/missing/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("cancel missing: %d", rec.Code)
	}

	rec = s.do(t, http.MethodDelete, "/appointments/"+a.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/appointments/"+a.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted: %d", rec.Code)
	}
}

func TestRespond_RequiresAccept(t *testing.T) {
	s := newTestServer(t)
	a := s.book(t, 1, "D1", "2025-01-10", "10:00")

	rec := s.do(t, http.MethodPost, "/appointments/"+a.ID+"/respond", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	reject := false
	rec = s.do(t, http.MethodPost, "/appointments/"+a.ID+"/respond", RespondRequest{Accept: &reject})
	if rec.Code != http.StatusOK || decode[AppointmentResponse](t, rec).Status != "Cancelled" {
		t.Fatalf("reject: %d %s", rec.Code, rec.Body.String())
	}
}

func TestListAppointments(t *testing.T) {
	s := newTestServer(t)
	s.book(t, 1, "D1", "2025-01-11", "10:00")
	s.book(t, 1, "D2", "2025-01-10", "09:00")
	c := s.book(t, 2, "D1", "2025-01-10", "15:00")
	if rec := s.do(t, http.MethodPost, "/appointments/"+c.ID+"/cancel", nil); rec.Code != http.StatusOK {
		t.Fatalf("cancel: %d", rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/appointments?patient_id=1", nil)
	byPatient := decode[[]AppointmentResponse](t, rec)
	if len(byPatient) != 2 || byPatient[0].Date != "2025-01-10" {
		t.Fatalf("by patient = %+v", byPatient)
	}

	rec = s.do(t, http.MethodGet, "/appointments?provider_id=D1", nil)
	if got := decode[[]AppointmentResponse](t, rec); len(got) != 2 {
		t.Fatalf("by provider = %+v", got)
	}
	rec = s.do(t, http.MethodGet, "/appointments?provider_id=D1&upcoming=true", nil)
	if got := decode[[]AppointmentResponse](t, rec); len(got) != 1 || got[0].Status != "Scheduled" {
		t.Fatalf("upcoming = %+v", got)
	}

	rec = s.do(t, http.MethodGet, "/appointments?patient_id=3", nil)
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("empty list body = %s, want []", body)
	}

	if rec := s.do(t, http.MethodGet, "/appointments", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("no filter: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/appointments?patient_id=x", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad patient id: %d", rec.Code)
	}
}

func TestProviderSlots(t *testing.T) {
	s := newTestServer(t)
	s.book(t, 1, "D1", "2025-01-10", "09:00")
	if rec := s.do(t, http.MethodPost, "/providers/D1/blocks", SlotRequest{Date: "2025-01-10", Time: "09:30"}); rec.Code != http.StatusNoContent {
		t.Fatalf("block: %d %s", rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodGet, "/providers/D1/slots?date=2025-01-10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("slots: %d %s", rec.Code, rec.Body.String())
	}
	got := decode[SlotsResponse](t, rec)
	if got.Provider.Name != "Dr. Ada Obi" || len(got.Slots) != 16 {
		t.Fatalf("slots response = %+v", got)
	}
	want := map[string]string{"09:00": "BOOKED", "09:30": "UNAVAILABLE", "10:00": "AVAILABLE", "13:00": "UNAVAILABLE"}
	for _, slot := range got.Slots {
		if w, ok := want[slot.Start]; ok && slot.Status != w {
			t.Fatalf("slot %s = %s, want %s", slot.Start, slot.Status, w)
		}
	}

	rec = s.do(t, http.MethodGet, "/providers/D1/availability?date=2025-01-10&time=09:30", nil)
	if a := decode[AvailabilityResponse](t, rec); a.Available {
		t.Fatalf("blocked slot reported available")
	}
	if rec := s.do(t, http.MethodDelete, "/providers/D1/blocks", SlotRequest{Date: "2025-01-10", Time: "09:30"}); rec.Code != http.StatusNoContent {
		t.Fatalf("unblock: %d", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/providers/D1/availability?date=2025-01-10&time=09:30", nil)
	if a := decode[AvailabilityResponse](t, rec); !a.Available {
		t.Fatalf("unblocked slot reported unavailable")
	}

	if rec := s.do(t, http.MethodPost, "/providers/D1/blocks", SlotRequest{Date: "2025-01-10", Time: "09:00"}); rec.Code != http.StatusConflict {
		t.Fatalf("blocking a booked slot: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/providers/D9/slots?date=2025-01-10", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown provider slots: %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/providers/D2", nil); rec.Code != http.StatusOK {
		t.Fatalf("get provider: %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	s := newTestServer(t,
		Dependency{Name: "store", Critical: true, Check: func(context.Context) error { return nil }},
		Dependency{Name: "cache", Check: func(context.Context) error { return errors.New("down") }},
	)

	rec := s.do(t, http.MethodGet, "/health/live", nil)
	if rec.Code != http.StatusOK || decode[LivenessResponse](t, rec).Version != "v0.0.0-test" {
		t.Fatalf("live: %d %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/health/ready", nil)
	ready := decode[ReadinessResponse](t, rec)
	if rec.Code != http.StatusOK || ready.Status != "degraded" || ready.Dependencies["cache"] != "down" {
		t.Fatalf("ready: %d %+v", rec.Code, ready)
	}

	failing := newTestServer(t, Dependency{Name: "store", Critical: true, Check: func(context.Context) error { return errors.New("gone") }})
	if rec := failing.do(t, http.MethodGet, "/health/ready", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready with failed critical dependency: %d", rec.Code)
	}
}

func TestMiddleware_RequestIDAndMetrics(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("X-Request-ID = %q, want req-123", got)
	}

	rec = s.do(t, http.MethodGet, "/health/live", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("no request id generated")
	}

	s.do(t, http.MethodGet, "/appointments/A1", nil)
	rec = s.do(t, http.MethodGet, "/metrics", nil)
	if !strings.Contains(rec.Body.String(), `route="/appointments/{id}",status="404"`) {
		t.Fatalf("metrics missing templated route:\n%s", rec.Body.String())
	}
}
