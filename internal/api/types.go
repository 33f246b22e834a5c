package api

import (
	"github.com/hackgods/appointment-ledger/internal/appointment"
	"github.com/hackgods/appointment-ledger/internal/calendar"
	"github.com/hackgods/appointment-ledger/internal/directory"
)

type CreateAppointmentRequest struct {
	PatientID  int    `json:"patient_id"`
	ProviderID string `json:"provider_id"`
	Date       string `json:"date"`
	Time       string `json:"time"`
}

type RescheduleRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type RespondRequest struct {
	Accept *bool `json:"accept"`
}

type OutcomeRequest struct {
	ServiceType        string                 `json:"service_type"`
	Notes              string                 `json:"notes"`
	Medicines          []appointment.Medicine `json:"medicines"`
	PrescriptionStatus string                 `json:"prescription_status"`
}

type PrescriptionStatusRequest struct {
	Status string `json:"status"`
}

type SlotRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type AppointmentResponse struct {
	ID         string               `json:"id"`
	PatientID  int                  `json:"patient_id"`
	ProviderID string               `json:"provider_id"`
	Date       string               `json:"date"`
	Time       string               `json:"time"`
	Status     string               `json:"status"`
	Outcome    *appointment.Outcome `json:"outcome,omitempty"`
}

func toAppointmentResponse(r appointment.Record) AppointmentResponse {
	return AppointmentResponse{
		ID:         r.ID,
		PatientID:  r.PatientID,
		ProviderID: r.ProviderID,
		Date:       r.Date.String(),
		Time:       r.Time.String(),
		Status:     r.Status.String(),
		Outcome:    r.Outcome,
	}
}

func toAppointmentResponses(records []appointment.Record) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(records))
	for _, r := range records {
		out = append(out, toAppointmentResponse(r))
	}
	return out
}

type SlotResponse struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Status string `json:"status"`
}

type SlotsResponse struct {
	Provider directory.Provider `json:"provider"`
	Date     string             `json:"date"`
	Slots    []SlotResponse     `json:"slots"`
}

func toSlotResponses(slots []calendar.TimeSlot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{Start: s.Start.String(), End: s.End.String(), Status: string(s.Status)})
	}
	return out
}

type AvailabilityResponse struct {
	ProviderID string `json:"provider_id"`
	Date       string `json:"date"`
	Time       string `json:"time"`
	Available  bool   `json:"available"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
