package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "campusevents/internal/log"
	"campusevents/internal/model"
	"campusevents/internal/schedule"
)

const productID = "-//campusevents//saved events//EN"

// Export renders events as an iCalendar document. Each event gets a one-hour
// slot and a display alarm leadMinutes before it starts. Events whose date
// or time cannot be read are left out.
func Export(name string, events []model.Event, leadMinutes int, loc *time.Location, now time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, ev := range events {
		start, err := schedule.EventStart(ev, loc)
		if err != nil {
			appLog.Warn("ics export: event skipped", "event_id", ev.ID, "reason", err.Error())
			continue
		}

		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(now)
		ve.SetStartAt(start)
		ve.SetEndAt(start.Add(time.Hour))
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}
		if ev.Category != "" {
			ve.AddProperty(ical.ComponentPropertyCategories, string(ev.Category))
		}
		if ev.Contact != "" {
			ve.SetOrganizer("mailto:"+ev.Contact, ical.WithCN(organizerName(ev)))
		}
		if ev.Image != "" {
			ve.SetURL(ev.Image)
		}

		if leadMinutes > 0 {
			alarm := ve.AddAlarm()
			alarm.SetAction(ical.ActionDisplay)
			alarm.SetTrigger(fmt.Sprintf("-PT%dM", leadMinutes))
			alarm.AddProperty(ical.ComponentPropertyDescription, ev.Title+" starts in "+schedule.LeadLabel(leadMinutes)+"!")
		}
	}

	return cal.Serialize()
}

func organizerName(ev model.Event) string {
	if ev.Organizer != "" {
		return ev.Organizer
	}
	return ev.Contact
}
