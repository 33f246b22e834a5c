package calendar

import (
	"reflect"
	"testing"
	"time"
)

func mustClock(t *testing.T, s string) Clock {
	t.Helper()
	c, err := ParseClock(s)
	if err != nil {
		t.Fatalf("ParseClock(%q) error: %v", s, err)
	}
	return c
}

func TestGenerateDailySlots_DefaultGrid(t *testing.T) {
	h := DefaultHours()
	date := Date{Year: 2025, Month: time.January, Day: 10}

	slots := h.GenerateDailySlots(date)
	if len(slots) != 16 {
		t.Fatalf("len(slots) = %d, want 16", len(slots))
	}
	if got := slots[0].Start.String(); got != "09:00" {
		t.Fatalf("first start = %s, want 09:00", got)
	}
	if got := slots[len(slots)-1].End.String(); got != "17:00" {
		t.Fatalf("last end = %s, want 17:00", got)
	}

	for _, s := range slots {
		if s.Date != date {
			t.Fatalf("slot date = %s, want %s", s.Date, date)
		}
		if s.End.Minutes()-s.Start.Minutes() != 30 {
			t.Fatalf("slot %s-%s is not 30 minutes wide", s.Start, s.End)
		}
		wantStatus := SlotAvailable
		if s.Start.String() == "13:00" || s.Start.String() == "13:30" {
			wantStatus = SlotUnavailable
		}
		if s.Status != wantStatus {
			t.Fatalf("slot %s status = %s, want %s", s.Start, s.Status, wantStatus)
		}
	}
}

func TestGenerateDailySlots_Deterministic(t *testing.T) {
	h := DefaultHours()
	date := Date{Year: 2025, Month: time.March, Day: 3}

	a := h.GenerateDailySlots(date)
	b := h.GenerateDailySlots(date)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("regenerating the same date produced different grids")
	}
}

func TestHoursPredicates(t *testing.T) {
	h := DefaultHours()

	cases := []struct {
		clock     string
		within    bool
		breakTime bool
		onGrid    bool
	}{
		{"08:30", false, false, false},
		{"09:00", true, false, true},
		{"09:15", true, false, false},
		{"12:30", true, false, true},
		{"13:00", true, true, true},
		{"13:30", true, true, true},
		{"13:45", true, true, false},
		{"14:00", true, false, true},
		{"16:30", true, false, true},
		{"16:45", false, false, false},
		{"17:00", false, false, true},
	}

	for _, tc := range cases {
		t.Run(tc.clock, func(t *testing.T) {
			c := mustClock(t, tc.clock)
			if got := h.IsWithinOperatingHours(c); got != tc.within {
				t.Fatalf("IsWithinOperatingHours = %v, want %v", got, tc.within)
			}
			if got := h.IsBreakTime(c); got != tc.breakTime {
				t.Fatalf("IsBreakTime = %v, want %v", got, tc.breakTime)
			}
			if got := h.IsOnGrid(c); got != tc.onGrid {
				t.Fatalf("IsOnGrid = %v, want %v", got, tc.onGrid)
			}
		})
	}
}

func TestHoursValidate(t *testing.T) {
	if err := DefaultHours().Validate(); err != nil {
		t.Fatalf("default hours invalid: %v", err)
	}

	bad := map[string]Hours{
		"close before open": {Open: Clock{Hour: 17}, Close: Clock{Hour: 9}, SlotWidth: 30 * time.Minute},
		"zero width":        {Open: Clock{Hour: 9}, Close: Clock{Hour: 17}},
		"uneven width":      {Open: Clock{Hour: 9}, Close: Clock{Hour: 17}, SlotWidth: 45 * time.Minute},
		"break outside day": {Open: Clock{Hour: 9}, Close: Clock{Hour: 17}, SlotWidth: 30 * time.Minute, BreakStart: Clock{Hour: 17}, BreakEnd: Clock{Hour: 18}},
		"misaligned break":  {Open: Clock{Hour: 9}, Close: Clock{Hour: 17}, SlotWidth: 30 * time.Minute, BreakStart: Clock{Hour: 13, Minute: 15}, BreakEnd: Clock{Hour: 14}},
	}
	for name, h := range bad {
		if err := h.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestHours_NoBreak(t *testing.T) {
	h := DefaultHours()
	h.BreakStart, h.BreakEnd = Clock{}, Clock{}
	if err := h.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	for _, s := range h.GenerateDailySlots(Date{Year: 2025, Month: time.May, Day: 1}) {
		if s.Status != SlotAvailable {
			t.Fatalf("slot %s status = %s, want AVAILABLE", s.Start, s.Status)
		}
	}
}

func TestParseDateAndClock(t *testing.T) {
	d, err := ParseDate("2025-01-10")
	if err != nil {
		t.Fatalf("ParseDate error: %v", err)
	}
	if d.String() != "2025-01-10" {
		t.Fatalf("date = %s, want 2025-01-10", d)
	}
	if !d.Before(d.AddDays(1)) || !d.AddDays(1).After(d) {
		t.Fatalf("date ordering broken")
	}

	if _, err := ParseDate("10/01/2025"); err == nil {
		t.Fatalf("expected error for non-ISO date")
	}
	if _, err := ParseClock("25:00"); err == nil {
		t.Fatalf("expected error for hour 25")
	}
	if got := mustClock(t, "09:30").String(); got != "09:30" {
		t.Fatalf("clock = %s, want 09:30", got)
	}
}
