package appointment

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hackgods/appointment-ledger/internal/calendar"
)

// Status is the lifecycle state of an appointment.
//
//	Scheduled → Confirmed → Completed
//	Scheduled → Cancelled
//	Confirmed → Cancelled
//
// Rescheduling is not a state: a successful reschedule leaves the record Scheduled.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusScheduled
	StatusConfirmed
	StatusCompleted
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusScheduled: "Scheduled",
	StatusConfirmed: "Confirmed",
	StatusCompleted: "Completed",
	StatusCancelled: "Cancelled",
}

var transitions = map[Status][]Status{
	StatusScheduled: {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// ParseStatus accepts the persisted status names case-insensitively.
func ParseStatus(s string) (Status, error) {
	for st, name := range statusNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return st, nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown appointment status %q", s)
}

// IsActive reports whether the status holds its slot.
func (s Status) IsActive() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) CanTransitionTo(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (s Status) MarshalText() ([]byte, error) {
	if _, ok := statusNames[s]; !ok {
		return nil, fmt.Errorf("cannot marshal status %d", s)
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	st, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Medicine is one prescribed item of an outcome.
type Medicine struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Outcome is recorded when an appointment is completed.
type Outcome struct {
	ServiceType        string     `json:"service_type"`
	Notes              string     `json:"notes"`
	Medicines          []Medicine `json:"medicines"`
	PrescriptionStatus string     `json:"prescription_status"`
}

func (o *Outcome) clone() *Outcome {
	if o == nil {
		return nil
	}
	c := *o
	if o.Medicines != nil {
		c.Medicines = append([]Medicine(nil), o.Medicines...)
	}
	return &c
}

func (o Outcome) validate() error {
	if strings.TrimSpace(o.ServiceType) == "" {
		return fmt.Errorf("%w: service type is required", ErrInvalidOutcome)
	}
	for i, m := range o.Medicines {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("%w: medicine %d has no name", ErrInvalidOutcome, i+1)
		}
		if strings.ContainsAny(m.Name, ";\r\n") {
			return fmt.Errorf("%w: medicine name %q contains a reserved character", ErrInvalidOutcome, m.Name)
		}
		if m.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for %s must be positive", ErrInvalidOutcome, m.Name)
		}
	}
	if strings.ContainsRune(o.ServiceType, '\r') || strings.ContainsRune(o.Notes, '\r') {
		return fmt.Errorf("%w: carriage returns are not allowed, use \\n line breaks", ErrInvalidOutcome)
	}
	if strings.ContainsAny(o.PrescriptionStatus, "\r\n") {
		return fmt.Errorf("%w: prescription status must be a single line", ErrInvalidOutcome)
	}
	return nil
}

// SlotKey identifies one bookable slot of one provider.
type SlotKey struct {
	ProviderID string
	Date       calendar.Date
	Time       calendar.Clock
}

func (k SlotKey) String() string {
	return fmt.Sprintf("%s@%s %s", k.ProviderID, k.Date, k.Time)
}

// Record is one scheduled encounter. Records handed out by the Ledger are
// copies; mutate them through their methods, which persist via the Ledger.
type Record struct {
	ID         string
	PatientID  int
	ProviderID string
	Date       calendar.Date
	Time       calendar.Clock
	Status     Status
	Outcome    *Outcome

	ledger *Ledger
}

func (r Record) Slot() SlotKey {
	return SlotKey{ProviderID: r.ProviderID, Date: r.Date, Time: r.Time}
}

// onlyPrescriptionDiffers reports whether next matches r in everything but
// the outcome's prescription status.
func (r Record) onlyPrescriptionDiffers(next Record) bool {
	if r.Status != next.Status || r.PatientID != next.PatientID || r.ProviderID != next.ProviderID ||
		r.Date != next.Date || r.Time != next.Time {
		return false
	}
	a, b := r.Outcome, next.Outcome
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ServiceType == b.ServiceType && a.Notes == b.Notes && slices.Equal(a.Medicines, b.Medicines)
}

func (r Record) clone() Record {
	r.Outcome = r.Outcome.clone()
	return r
}

// transition applies to on the receiver if the state machine allows it.
func (r *Record) transition(to Status, action string) error {
	if !r.Status.CanTransitionTo(to) {
		return &TransitionError{ID: r.ID, From: r.Status, Action: action}
	}
	r.Status = to
	return nil
}

var errDetached = errors.New("appointment record is not attached to a ledger")

func (r *Record) sync(updated Record, err error) error {
	if err != nil {
		return err
	}
	*r = updated
	return nil
}

func (r *Record) attached() error {
	if r.ledger == nil {
		return errDetached
	}
	return nil
}

// Confirm accepts a Scheduled appointment.
func (r *Record) Confirm(ctx context.Context) error {
	if err := r.attached(); err != nil {
		return err
	}
	return r.sync(r.ledger.Respond(ctx, r.ID, true))
}

// Reject declines a Scheduled appointment, cancelling it.
func (r *Record) Reject(ctx context.Context) error {
	if err := r.attached(); err != nil {
		return err
	}
	return r.sync(r.ledger.Respond(ctx, r.ID, false))
}

func (r *Record) Cancel(ctx context.Context) error {
	if err := r.attached(); err != nil {
		return err
	}
	return r.sync(r.ledger.Cancel(ctx, r.ID))
}

func (r *Record) Reschedule(ctx context.Context, date calendar.Date, at calendar.Clock) error {
	if err := r.attached(); err != nil {
		return err
	}
	return r.sync(r.ledger.Reschedule(ctx, r.ID, date, at))
}

func (r *Record) RecordOutcome(ctx context.Context, o Outcome) error {
	if err := r.attached(); err != nil {
		return err
	}
	return r.sync(r.ledger.RecordOutcome(ctx, r.ID, o))
}

func (r *Record) SetPrescriptionStatus(ctx context.Context, status string) error {
	if err := r.attached(); err != nil {
		return err
	}
	return r.sync(r.ledger.UpdatePrescriptionStatus(ctx, r.ID, status))
}

// Refresh reloads the record from the store.
func (r *Record) Refresh(ctx context.Context) error {
	if err := r.attached(); err != nil {
		return err
	}
	return r.sync(r.ledger.Get(ctx, r.ID))
}
