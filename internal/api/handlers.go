package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/appointment-ledger/internal/appointment"
	"github.com/hackgods/appointment-ledger/internal/calendar"
	"github.com/hackgods/appointment-ledger/internal/directory"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func parseSlot(w http.ResponseWriter, rawDate, rawTime string) (calendar.Date, calendar.Clock, bool) {
	date, err := calendar.ParseDate(rawDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
		return calendar.Date{}, calendar.Clock{}, false
	}
	at, err := calendar.ParseClock(rawTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time", err.Error())
		return calendar.Date{}, calendar.Clock{}, false
	}
	return date, at, true
}

func createAppointmentHandler(ledger *appointment.Ledger, dir directory.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.PatientID <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a positive integer")
			return
		}
		if _, err := dir.GetProvider(r.Context(), req.ProviderID); err != nil {
			handleLedgerError(w, err)
			return
		}
		date, at, ok := parseSlot(w, req.Date, req.Time)
		if !ok {
			return
		}

		rec, err := ledger.Schedule(r.Context(), req.PatientID, req.ProviderID, date, at)
		if err != nil {
			handleLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(rec))
	}
}

func listAppointmentsHandler(ledger *appointment.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("patient_id") != "":
			patientID, err := strconv.Atoi(q.Get("patient_id"))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be an integer")
				return
			}
			writeJSON(w, http.StatusOK, toAppointmentResponses(ledger.ListByPatient(r.Context(), patientID)))
		case q.Get("provider_id") != "":
			providerID := q.Get("provider_id")
			if q.Get("upcoming") == "true" {
				writeJSON(w, http.StatusOK, toAppointmentResponses(ledger.ListUpcomingByProvider(r.Context(), providerID)))
				return
			}
			writeJSON(w, http.StatusOK, toAppointmentResponses(ledger.ListByProvider(r.Context(), providerID)))
		default:
			writeError(w, http.StatusBadRequest, "missing_filter", "patient_id or provider_id is required")
		}
	}
}

func getAppointmentHandler(ledger *appointment.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := ledger.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(rec))
	}
}

func rescheduleHandler(ledger *appointment.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RescheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		date, at, ok := parseSlot(w, req.Date, req.Time)
		if !ok {
			return
		}

		rec, err := ledger.Reschedule(r.Context(), chi.URLParam(r, "id"), date, at)
		if err != nil {
			handleLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(rec))
	}
}

func cancelHandler(ledger *appointment.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := ledger.Cancel(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(rec))
	}
}

func respondHandler(ledger *appointment.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RespondRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Accept == nil {
			writeError(w, http.StatusBadRequest, "missing_accept", "accept must be true or false")
			return
		}

		rec, err := ledger.Respond(r.Context(), chi.URLParam(r, "id"), *req.Accept)
		if err != nil {
			handleLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(rec))
	}
}

func recordOutcomeHandler(ledger *appointment.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OutcomeRequest
		if !decodeBody(w, r, &req) {
			return
		}

		rec, err := ledger.RecordOutcome(r.Context(), chi.URLParam(r, "id"), appointment.Outcome{
			ServiceType:        req.ServiceType,
			Notes:              req.Notes,
			Medicines:          req.Medicines,
			PrescriptionStatus: req.PrescriptionStatus,
		})
		if err != nil {
			handleLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(rec))
	}
}

func prescriptionStatusHandler(ledger *appointment.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PrescriptionStatusRequest
		if !decodeBody(w, r, &req) {
			return
		}

		rec, err := ledger.UpdatePrescriptionStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
		if err != nil {
			handleLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(rec))
	}
}

func removeAppointmentHandler(ledger *appointment.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := ledger.RemoveRecord(r.Context(), chi.URLParam(r, "id")); err != nil {
			handleLedgerError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func getProviderHandler(dir directory.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := dir.GetProvider(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func slotsHandler(ledger *appointment.Ledger, dir directory.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := dir.GetProvider(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			handleLedgerError(w, err)
			return
		}
		date, err := calendar.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			Provider: p,
			Date:     date.String(),
			Slots:    toSlotResponses(ledger.AvailableSlots(r.Context(), p.ID, date)),
		})
	}
}

func availabilityHandler(ledger *appointment.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providerID := chi.URLParam(r, "id")
		date, at, ok := parseSlot(w, r.URL.Query().Get("date"), r.URL.Query().Get("time"))
		if !ok {
			return
		}

		available, err := ledger.IsSlotAvailable(r.Context(), providerID, date, at)
		if err != nil {
			handleLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, AvailabilityResponse{
			ProviderID: providerID,
			Date:       date.String(),
			Time:       at.String(),
			Available:  available,
		})
	}
}

func blockSlotHandler(ledger *appointment.Ledger, block bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SlotRequest
		if !decodeBody(w, r, &req) {
			return
		}
		date, at, ok := parseSlot(w, req.Date, req.Time)
		if !ok {
			return
		}

		providerID := chi.URLParam(r, "id")
		var err error
		if block {
			err = ledger.BlockSlot(r.Context(), providerID, date, at)
		} else {
			err = ledger.UnblockSlot(r.Context(), providerID, date, at)
		}
		if err != nil {
			handleLedgerError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, directory.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, appointment.ErrSlotConflict):
		writeError(w, http.StatusConflict, "slot_conflict", err.Error())
	case errors.Is(err, appointment.ErrSlotBlocked):
		writeError(w, http.StatusConflict, "slot_blocked", err.Error())
	case errors.Is(err, appointment.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrOutOfPolicy):
		writeError(w, http.StatusUnprocessableEntity, "out_of_policy", err.Error())
	case errors.Is(err, appointment.ErrInvalidOutcome):
		writeError(w, http.StatusUnprocessableEntity, "invalid_outcome", err.Error())
	case errors.Is(err, appointment.ErrStore):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
