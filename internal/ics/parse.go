package ics

import (
	"bytes"
	"errors"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "campusevents/internal/log"
)

// Component is a VEVENT as read from a feed, before recurrence expansion.
type Component struct {
	Feed Feed

	UID         string
	Summary     string
	Description string
	Location    string
	Categories  []string
	Organizer   string
	Contact     string
	Image       string

	Start  time.Time
	AllDay bool

	RRule        string
	ExDates      []time.Time
	RecurrenceID *time.Time // set on overrides of a single recurring instance
}

// Parse reads every VEVENT of an iCalendar body. A malformed VEVENT is
// logged and skipped; a malformed calendar fails the whole body.
func Parse(feed Feed, body []byte) ([]Component, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	out := make([]Component, 0)
	for _, ve := range cal.Events() {
		c, err := parseVEvent(feed, ve)
		if err != nil {
			appLog.Warn("ics vevent skipped", "feed", feed.ID, "reason", err.Error())
			continue
		}
		out = append(out, c)
	}

	appLog.Debug("ics feed parsed", "feed", feed.ID, "components", len(out))
	return out, nil
}

func parseVEvent(feed Feed, ve *ical.VEvent) (Component, error) {
	c := Component{Feed: feed}

	c.UID = propValue(ve, ical.ComponentPropertyUniqueId)
	if c.UID == "" {
		return c, errors.New("missing UID")
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return c, err
	}
	c.Start = start

	c.Summary = unescape(propValue(ve, ical.ComponentPropertySummary))
	c.Description = unescape(propValue(ve, ical.ComponentPropertyDescription))
	c.Location = unescape(propValue(ve, ical.ComponentPropertyLocation))

	for _, p := range ve.GetProperties(ical.ComponentPropertyCategories) {
		for _, v := range strings.Split(p.Value, ",") {
			if v = strings.TrimSpace(unescape(v)); v != "" {
				c.Categories = append(c.Categories, v)
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyOrganizer); p != nil {
		c.Contact = strings.TrimPrefix(strings.TrimPrefix(p.Value, "mailto:"), "MAILTO:")
		if cn := firstParam(p.ICalParameters, "CN"); cn != "" {
			c.Organizer = strings.Trim(cn, `"`)
		} else {
			c.Organizer = c.Contact
		}
	}
	if v := propValue(ve, "CONTACT"); v != "" {
		c.Contact = unescape(v)
	}

	for _, name := range []ical.ComponentProperty{"IMAGE", "ATTACH", ical.ComponentPropertyUrl} {
		if v := propValue(ve, name); strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
			c.Image = v
			break
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyDtStart); p != nil {
		if strings.EqualFold(firstParam(p.ICalParameters, "VALUE"), "DATE") || !strings.Contains(p.Value, "T") {
			c.AllDay = true
		}
	}

	c.RRule = propValue(ve, ical.ComponentPropertyRrule)

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := paramLocation(p.ICalParameters, c.Start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseStamp(part, loc); err == nil {
				c.ExDates = append(c.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		loc := paramLocation(p.ICalParameters, c.Start.Location())
		if t, err := parseStamp(p.Value, loc); err == nil {
			c.RecurrenceID = &t
		}
	}

	return c, nil
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func firstParam(params map[string][]string, key string) string {
	if vs, ok := params[key]; ok && len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// paramLocation resolves a TZID parameter, falling back to def.
func paramLocation(params map[string][]string, def *time.Location) *time.Location {
	if tz := firstParam(params, "TZID"); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return loc
		}
	}
	if def == nil {
		return time.UTC
	}
	return def
}

// parseStamp reads the basic DATE / DATE-TIME / UTC DATE-TIME forms used by
// EXDATE and RECURRENCE-ID.
func parseStamp(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

var textUnescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescape(s string) string {
	return textUnescaper.Replace(s)
}
