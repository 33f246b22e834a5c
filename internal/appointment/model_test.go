package appointment

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusScheduled, StatusConfirmed, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusCompleted, false},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusScheduled, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCompleted, StatusScheduled, false},
		{StatusCancelled, StatusScheduled, false},
		{StatusCancelled, StatusConfirmed, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestStatus_Classes(t *testing.T) {
	for _, s := range []Status{StatusScheduled, StatusConfirmed} {
		if !s.IsActive() || s.IsTerminal() {
			t.Errorf("%s: active = %v terminal = %v", s, s.IsActive(), s.IsTerminal())
		}
	}
	for _, s := range []Status{StatusCompleted, StatusCancelled} {
		if s.IsActive() || !s.IsTerminal() {
			t.Errorf("%s: active = %v terminal = %v", s, s.IsActive(), s.IsTerminal())
		}
	}
}

func TestStatus_Text(t *testing.T) {
	b, err := json.Marshal(map[string]Status{"status": StatusConfirmed})
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if string(b) != `{"status":"Confirmed"}` {
		t.Fatalf("json = %s", b)
	}

	var s Status
	if err := s.UnmarshalText([]byte(" cancelled ")); err != nil {
		t.Fatalf("UnmarshalText error: %v", err)
	}
	if s != StatusCancelled {
		t.Fatalf("status = %s, want Cancelled", s)
	}
	if _, err := ParseStatus("Pending"); err == nil {
		t.Fatalf("ParseStatus(Pending) succeeded")
	}
	if _, err := StatusUnknown.MarshalText(); err == nil {
		t.Fatalf("marshalling an unknown status succeeded")
	}
}

func TestTransitionError(t *testing.T) {
	err := error(&TransitionError{ID: "A1", From: StatusCompleted, Action: "reschedule"})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("errors.Is(ErrInvalidTransition) = false")
	}
	want := "invalid status transition: cannot reschedule appointment A1 in status Completed"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestOutcome_CloneIsDeep(t *testing.T) {
	o := &Outcome{ServiceType: "X", Medicines: []Medicine{{Name: "A", Quantity: 1}}}
	c := o.clone()
	c.Medicines[0].Quantity = 9
	if o.Medicines[0].Quantity != 1 {
		t.Fatalf("clone shares the medicines slice")
	}
}
