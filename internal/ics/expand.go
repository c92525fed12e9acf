package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "campusevents/internal/log"
	"campusevents/internal/model"
	"campusevents/internal/schedule"
)

const defaultMaxPerComponent = 500

// Window bounds recurrence expansion. Single events are kept whatever their
// date; past events stay searchable.
type Window struct {
	From time.Time
	To   time.Time

	// Location is the zone event dates and times are rendered in.
	// Nil means time.Local.
	Location *time.Location

	// MaxPerComponent caps the instances one RRULE may produce.
	MaxPerComponent int
}

// Instance is one dated occurrence of a component.
type Instance struct {
	Component
	ID string
	At time.Time
}

// Expand turns components into instances. Recurring components produce one
// instance per occurrence in the window, identified as UID@YYYY-MM-DD, with
// EXDATEs removed and RECURRENCE-ID overrides applied. Output is ordered by
// start time.
func Expand(components []Component, w Window) ([]Instance, error) {
	if w.To.Before(w.From) {
		return nil, errors.New("expand: window ends before it starts")
	}
	if w.Location == nil {
		w.Location = time.Local
	}
	if w.MaxPerComponent <= 0 {
		w.MaxPerComponent = defaultMaxPerComponent
	}

	overrides := make(map[string][]Component)
	var bases []Component
	for _, c := range components {
		if c.RecurrenceID != nil {
			overrides[c.UID] = append(overrides[c.UID], c)
			continue
		}
		bases = append(bases, c)
	}

	var out []Instance
	for _, c := range bases {
		if c.RRule == "" {
			out = append(out, Instance{Component: c, ID: c.UID, At: displayAt(c, c.Start, w.Location)})
			continue
		}
		out = append(out, expandRecurring(c, overrides[c.UID], w)...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func expandRecurring(c Component, overrides []Component, w Window) []Instance {
	r, err := rrule.StrToRRule(c.RRule)
	if err != nil {
		appLog.Error("expand: bad RRULE", err, "uid", c.UID, "rrule", c.RRule)
		return nil
	}
	r.DTStart(c.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range c.ExDates {
		set.ExDate(ex.In(c.Start.Location()))
	}

	starts := set.Between(w.From.In(c.Start.Location()), w.To.In(c.Start.Location()), true)
	if len(starts) > w.MaxPerComponent {
		appLog.Warn("expand: occurrences truncated", "uid", c.UID, "cap", w.MaxPerComponent, "total", len(starts))
		starts = starts[:w.MaxPerComponent]
	}

	out := make([]Instance, 0, len(starts))
	for _, start := range starts {
		inst := c
		at := start
		for _, ov := range overrides {
			if ov.RecurrenceID.Equal(start) {
				inst = ov
				at = ov.Start
				break
			}
		}
		inst.RRule = ""
		inst.RecurrenceID = nil
		out = append(out, Instance{
			Component: inst,
			ID:        c.UID + "@" + schedule.FormatDate(displayAt(c, start, w.Location)),
			At:        displayAt(inst, at, w.Location),
		})
	}
	return out
}

// ToEvents renders instances as catalog events. Date and time use the
// instance start in loc; all-day instances are pinned to 12:00 AM.
func ToEvents(instances []Instance, loc *time.Location) []model.Event {
	if loc == nil {
		loc = time.Local
	}
	out := make([]model.Event, 0, len(instances))
	for _, inst := range instances {
		at := displayAt(inst.Component, inst.At, loc)
		clock := schedule.FormatClock(at)
		if inst.AllDay {
			clock = "12:00 AM"
		}
		out = append(out, model.Event{
			ID:          inst.ID,
			Title:       inst.Summary,
			Category:    categoryOf(inst.Component),
			Date:        schedule.FormatDate(at),
			Time:        clock,
			Location:    inst.Location,
			Description: inst.Description,
			Organizer:   inst.Organizer,
			Contact:     inst.Contact,
			Image:       inst.Image,
		})
	}
	return out
}

// displayAt converts timed starts into loc. All-day starts keep their own
// calendar date.
func displayAt(c Component, at time.Time, loc *time.Location) time.Time {
	if c.AllDay {
		return at
	}
	return at.In(loc)
}

func categoryOf(c Component) model.Category {
	for _, name := range c.Categories {
		if cat, ok := model.LookupCategory(name); ok {
			return cat
		}
	}
	if c.Feed.Category != "" {
		return c.Feed.Category
	}
	return model.CategoryOther
}
