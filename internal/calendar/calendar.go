// Package calendar generates the daily booking grid shared by every provider
// and answers the time-policy questions asked before any booking.
package calendar

import (
	"errors"
	"fmt"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// Date is a calendar day without a time zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses an ISO-8601 date (2006-01-02).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return d.Time().Format(dateLayout)
}

// Time returns midnight UTC of d.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) Before(o Date) bool {
	return d.Time().Before(o.Time())
}

func (d Date) After(o Date) bool {
	return d.Time().After(o.Time())
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// Clock is a time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses a 24h HH:MM time of day.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time %q: expected HH:MM", s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Minutes returns the number of minutes since midnight.
func (c Clock) Minutes() int {
	return c.Hour*60 + c.Minute
}

// Add returns c shifted by d, truncated to the minute. It does not wrap past midnight
// so callers can detect overflow by comparing against the closing time.
func (c Clock) Add(d time.Duration) Clock {
	m := c.Minutes() + int(d/time.Minute)
	return Clock{Hour: m / 60, Minute: m % 60}
}

func (c Clock) Before(o Clock) bool {
	return c.Minutes() < o.Minutes()
}

func (c Clock) After(o Clock) bool {
	return c.Minutes() > o.Minutes()
}

type SlotStatus string

const (
	SlotAvailable   SlotStatus = "AVAILABLE"
	SlotUnavailable SlotStatus = "UNAVAILABLE"
	SlotBooked      SlotStatus = "BOOKED"
)

// TimeSlot is one fixed-width booking unit on a given day.
type TimeSlot struct {
	Date   Date
	Start  Clock
	End    Clock
	Status SlotStatus
}

// Hours is the operating-hours policy every provider's grid is generated from.
type Hours struct {
	Open       Clock
	Close      Clock
	SlotWidth  time.Duration
	BreakStart Clock
	BreakEnd   Clock
}

// DefaultHours is 09:00-17:00 in 30 minute slots with a 13:00-14:00 break.
func DefaultHours() Hours {
	return Hours{
		Open:       Clock{Hour: 9},
		Close:      Clock{Hour: 17},
		SlotWidth:  30 * time.Minute,
		BreakStart: Clock{Hour: 13},
		BreakEnd:   Clock{Hour: 14},
	}
}

// Validate checks that the policy describes a usable grid.
func (h Hours) Validate() error {
	if h.SlotWidth < time.Minute || h.SlotWidth%time.Minute != 0 {
		return errors.New("slot width must be a positive whole number of minutes")
	}
	if !h.Close.After(h.Open) {
		return fmt.Errorf("closing time %s must be after opening time %s", h.Close, h.Open)
	}
	if h.Close.Minutes() > 24*60 {
		return fmt.Errorf("closing time %s is past midnight", h.Close)
	}
	width := h.widthMinutes()
	if (h.Close.Minutes()-h.Open.Minutes())%width != 0 {
		return fmt.Errorf("slot width %s does not divide %s-%s", h.SlotWidth, h.Open, h.Close)
	}
	if h.BreakStart == h.BreakEnd {
		return nil
	}
	if !h.BreakEnd.After(h.BreakStart) {
		return fmt.Errorf("break end %s must be after break start %s", h.BreakEnd, h.BreakStart)
	}
	if h.BreakStart.Before(h.Open) || h.BreakEnd.After(h.Close) {
		return fmt.Errorf("break %s-%s lies outside operating hours", h.BreakStart, h.BreakEnd)
	}
	if !h.IsOnGrid(h.BreakStart) || (h.BreakEnd.Minutes()-h.Open.Minutes())%width != 0 {
		return fmt.Errorf("break %s-%s is not aligned to the %s grid", h.BreakStart, h.BreakEnd, h.SlotWidth)
	}
	return nil
}

func (h Hours) widthMinutes() int {
	return int(h.SlotWidth / time.Minute)
}

// Starts returns every slot start time of the day in order.
func (h Hours) Starts() []Clock {
	width := h.widthMinutes()
	if width <= 0 {
		return nil
	}
	var starts []Clock
	for m := h.Open.Minutes(); m+width <= h.Close.Minutes(); m += width {
		starts = append(starts, Clock{Hour: m / 60, Minute: m % 60})
	}
	return starts
}

// GenerateDailySlots returns the grid for date. Break slots start UNAVAILABLE,
// everything else AVAILABLE. The result depends only on date and h.
func (h Hours) GenerateDailySlots(date Date) []TimeSlot {
	starts := h.Starts()
	slots := make([]TimeSlot, 0, len(starts))
	for _, start := range starts {
		status := SlotAvailable
		if h.IsBreakTime(start) {
			status = SlotUnavailable
		}
		slots = append(slots, TimeSlot{
			Date:   date,
			Start:  start,
			End:    start.Add(h.SlotWidth),
			Status: status,
		})
	}
	return slots
}

// IsWithinOperatingHours reports whether a slot starting at c fits between
// opening and closing time.
func (h Hours) IsWithinOperatingHours(c Clock) bool {
	if c.Before(h.Open) {
		return false
	}
	return !c.Add(h.SlotWidth).After(h.Close)
}

// IsBreakTime reports whether a slot starting at c overlaps the break window.
func (h Hours) IsBreakTime(c Clock) bool {
	if h.BreakStart == h.BreakEnd {
		return false
	}
	end := c.Add(h.SlotWidth)
	return c.Before(h.BreakEnd) && end.After(h.BreakStart)
}

// IsOnGrid reports whether c is a slot boundary of the daily grid.
func (h Hours) IsOnGrid(c Clock) bool {
	width := h.widthMinutes()
	if width <= 0 || c.Before(h.Open) {
		return false
	}
	return (c.Minutes()-h.Open.Minutes())%width == 0
}
