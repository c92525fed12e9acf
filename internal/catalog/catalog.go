// Package catalog is the read-only set of event records. Lookups and filters
// never fail; no match is an empty result.
package catalog

import (
	"sort"
	"strings"
	"sync/atomic"
	"time"

	appLog "campusevents/internal/log"
	"campusevents/internal/model"
	"campusevents/internal/schedule"
)

// Snapshot is an immutable, ordered set of events with an id index.
type Snapshot struct {
	events []model.Event
	byID   map[string]int
}

// NewSnapshot indexes events in the given order. When two records share an
// id the first one wins.
func NewSnapshot(events []model.Event) *Snapshot {
	s := &Snapshot{
		events: make([]model.Event, 0, len(events)),
		byID:   make(map[string]int, len(events)),
	}
	for _, ev := range events {
		if ev.ID == "" {
			appLog.Warn("catalog: event without id dropped", "title", ev.Title)
			continue
		}
		if _, dup := s.byID[ev.ID]; dup {
			appLog.Warn("catalog: duplicate event id dropped", "event_id", ev.ID, "title", ev.Title)
			continue
		}
		if ev.Category == "" {
			ev.Category = model.CategoryOther
		}
		s.byID[ev.ID] = len(s.events)
		s.events = append(s.events, ev)
	}
	return s
}

// Catalog serves the current snapshot. Replace swaps it atomically, so
// readers always see one consistent set.
type Catalog struct {
	snap atomic.Pointer[Snapshot]
	loc  *time.Location
}

// New creates a catalog whose dates are interpreted in loc.
func New(loc *time.Location, events []model.Event) *Catalog {
	if loc == nil {
		loc = time.Local
	}
	c := &Catalog{loc: loc}
	c.snap.Store(NewSnapshot(events))
	return c
}

func (c *Catalog) Replace(s *Snapshot) {
	c.snap.Store(s)
}

func (c *Catalog) Location() *time.Location {
	return c.loc
}

func (c *Catalog) current() *Snapshot {
	return c.snap.Load()
}

func (c *Catalog) Len() int {
	return len(c.current().events)
}

// Lookup resolves an event id.
func (c *Catalog) Lookup(id string) (model.Event, bool) {
	s := c.current()
	i, ok := s.byID[id]
	if !ok {
		return model.Event{}, false
	}
	return s.events[i], true
}

// All returns every event in catalog order.
func (c *Catalog) All() []model.Event {
	return c.filter(func(model.Event) bool { return true })
}

func (c *Catalog) filter(keep func(model.Event) bool) []model.Event {
	out := make([]model.Event, 0)
	for _, ev := range c.current().events {
		if keep(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// ByDate returns events on a YYYY-MM-DD date.
func (c *Catalog) ByDate(date string) []model.Event {
	date = strings.TrimSpace(date)
	return c.filter(func(ev model.Event) bool { return ev.Date == date })
}

// InRange returns events whose date falls in [from, to], both inclusive,
// compared as calendar dates in the catalog location. Events with an
// unreadable date never match.
func (c *Catalog) InRange(from, to time.Time) []model.Event {
	lo := dayOf(from.In(c.loc))
	hi := dayOf(to.In(c.loc))
	return c.filter(func(ev model.Event) bool {
		d, err := schedule.ParseDate(ev.Date, c.loc)
		if err != nil {
			return false
		}
		return !d.Before(lo) && !d.After(hi)
	})
}

// ByCategory returns events tagged with cat.
func (c *Catalog) ByCategory(cat model.Category) []model.Event {
	return c.filter(func(ev model.Event) bool { return ev.Category == cat })
}

// Search matches q case-insensitively as a substring of the title,
// description, location or category. A blank query matches nothing.
func (c *Catalog) Search(q string) []model.Event {
	needle := strings.ToLower(strings.TrimSpace(q))
	if needle == "" {
		return []model.Event{}
	}
	return c.filter(func(ev model.Event) bool {
		for _, field := range []string{ev.Title, ev.Description, ev.Location, string(ev.Category)} {
			if strings.Contains(strings.ToLower(field), needle) {
				return true
			}
		}
		return false
	})
}

// Upcoming returns up to limit events dated today or later relative to now,
// soonest first. limit <= 0 means no limit.
func (c *Catalog) Upcoming(now time.Time, limit int) []model.Event {
	today := dayOf(now.In(c.loc))
	type dated struct {
		ev model.Event
		at time.Time
	}
	var picked []dated
	for _, ev := range c.current().events {
		d, err := schedule.ParseDate(ev.Date, c.loc)
		if err != nil || d.Before(today) {
			continue
		}
		at, err := schedule.EventStart(ev, c.loc)
		if err != nil {
			at = d
		}
		picked = append(picked, dated{ev, at})
	}
	sort.SliceStable(picked, func(i, j int) bool { return picked[i].at.Before(picked[j].at) })

	if limit > 0 && len(picked) > limit {
		picked = picked[:limit]
	}
	out := make([]model.Event, len(picked))
	for i, p := range picked {
		out[i] = p.ev
	}
	return out
}

// MarkedDates returns the sorted distinct dates that have events, optionally
// restricted to a YYYY-MM month prefix.
func (c *Catalog) MarkedDates(month string) []string {
	seen := make(map[string]struct{})
	for _, ev := range c.current().events {
		if month != "" && !strings.HasPrefix(ev.Date, month+"-") {
			continue
		}
		seen[ev.Date] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// CategoryCount is a category with the number of events carrying it.
type CategoryCount struct {
	Category model.Category `json:"category"`
	Count    int            `json:"count"`
}

// Categories lists every category in browse order with its event count.
func (c *Catalog) Categories() []CategoryCount {
	counts := make(map[model.Category]int)
	for _, ev := range c.current().events {
		counts[ev.Category]++
	}
	out := make([]CategoryCount, 0, len(model.Categories))
	for _, cat := range model.Categories {
		out = append(out, CategoryCount{Category: cat, Count: counts[cat]})
	}
	return out
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
