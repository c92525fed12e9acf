// Package schedule turns an event's display date and time into instants and
// computes reminder trigger times.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"campusevents/internal/model"
)

// ErrUnparseableSchedule marks an event whose date or time string cannot be
// read. Callers skip the reminder and keep going.
var ErrUnparseableSchedule = errors.New("unparseable schedule")

const dateLayout = "2006-01-02"

// ParseDate reads a YYYY-MM-DD date as midnight in loc.
func ParseDate(date string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrUnparseableSchedule, date)
	}
	return t, nil
}

// ParseClock reads "H:MM AM" / "HH:MM PM" and returns the 24-hour hour and
// minute. 12 AM is hour 0 and 12 PM is hour 12.
func ParseClock(s string) (hour, minute int, err error) {
	fail := func() (int, int, error) {
		return 0, 0, fmt.Errorf("%w: time %q", ErrUnparseableSchedule, s)
	}

	fields := strings.Fields(s)
	if len(fields) != 2 {
		return fail()
	}
	clock, period := fields[0], strings.ToUpper(fields[1])
	if period != "AM" && period != "PM" {
		return fail()
	}

	hh, mm, ok := strings.Cut(clock, ":")
	if !ok || len(hh) < 1 || len(hh) > 2 || len(mm) != 2 {
		return fail()
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 1 || h > 12 {
		return fail()
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return fail()
	}

	switch {
	case period == "AM" && h == 12:
		h = 0
	case period == "PM" && h != 12:
		h += 12
	}
	return h, m, nil
}

// Start combines an event's date and time into a single instant in loc.
func Start(date, clock string, loc *time.Location) (time.Time, error) {
	day, err := ParseDate(date, loc)
	if err != nil {
		return time.Time{}, err
	}
	h, m, err := ParseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location()), nil
}

// EventStart is Start for an event record.
func EventStart(ev model.Event, loc *time.Location) (time.Time, error) {
	return Start(ev.Date, ev.Time, loc)
}

// ReminderAt is the instant leadMinutes before the event starts.
func ReminderAt(ev model.Event, leadMinutes int, loc *time.Location) (time.Time, error) {
	start, err := EventStart(ev, loc)
	if err != nil {
		return time.Time{}, err
	}
	return start.Add(-time.Duration(leadMinutes) * time.Minute), nil
}

// InFuture reports whether at is strictly after now.
func InFuture(at, now time.Time) bool {
	return at.After(now)
}

// FormatDate and FormatClock produce the display strings events carry.
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func FormatClock(t time.Time) string {
	return t.Format("3:04 PM")
}

// LeadLabel renders a lead time the way reminder bodies word it.
func LeadLabel(minutes int) string {
	switch {
	case minutes == 1440:
		return "1 day"
	case minutes%60 == 0 && minutes >= 60:
		if minutes == 60 {
			return "1 hour"
		}
		return strconv.Itoa(minutes/60) + " hours"
	default:
		return strconv.Itoa(minutes) + " minutes"
	}
}
