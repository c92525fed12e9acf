package web

import (
	"net/http"
	"strings"

	"campusevents/internal/model"
	"campusevents/internal/schedule"
)

// eventDTO is an event plus whether it is in the saved list.
type eventDTO struct {
	model.Event
	Saved bool `json:"saved"`
}

type eventsResponse struct {
	Events []eventDTO `json:"events"`
	Count  int        `json:"count"`
}

func (s *Server) dtos(events []model.Event) eventsResponse {
	out := make([]eventDTO, 0, len(events))
	for _, ev := range events {
		out = append(out, eventDTO{Event: ev, Saved: s.deps.Saved.IsSaved(ev.ID)})
	}
	return eventsResponse{Events: out, Count: len(out)}
}

// handleEvents lists catalog events. Filters combine:
//
// GET /api/events?q=union&category=Career&date=2025-11-22&from=2025-11-01&to=2025-11-30
//   - q:        case-insensitive text over title, description, location, category
//   - category: category name or browse label ("Athletics", "Clubs", ...)
//   - date:     a single YYYY-MM-DD day
//   - from/to:  inclusive YYYY-MM-DD range; either end may be omitted
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cat := s.deps.Catalog

	events := cat.All()
	if text := strings.TrimSpace(q.Get("q")); text != "" {
		events = cat.Search(text)
	}

	if raw := q.Get("category"); raw != "" {
		c, ok := model.LookupCategory(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown category")
			return
		}
		events = intersect(events, cat.ByCategory(c))
	}

	if date := q.Get("date"); date != "" {
		if _, err := schedule.ParseDate(date, s.loc); err != nil {
			writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		events = intersect(events, cat.ByDate(date))
	}

	if fromRaw, toRaw := q.Get("from"), q.Get("to"); fromRaw != "" || toRaw != "" {
		from, to := s.now().In(s.loc).AddDate(-100, 0, 0), s.now().In(s.loc).AddDate(100, 0, 0)
		var err error
		if fromRaw != "" {
			if from, err = schedule.ParseDate(fromRaw, s.loc); err != nil {
				writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
				return
			}
		}
		if toRaw != "" {
			if to, err = schedule.ParseDate(toRaw, s.loc); err != nil {
				writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
				return
			}
		}
		events = intersect(events, cat.InRange(from, to))
	}

	writeJSON(w, http.StatusOK, s.dtos(events))
}

// handleUpcoming feeds the home screen's popular-events strip.
func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 6)
	if limit <= 0 {
		limit = 6
	}
	writeJSON(w, http.StatusOK, s.dtos(s.deps.Catalog.Upcoming(s.now(), limit)))
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := s.deps.Catalog.Lookup(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, eventDTO{Event: ev, Saved: s.deps.Saved.IsSaved(ev.ID)})
}

type calendarResponse struct {
	Month       string     `json:"month"`
	MarkedDates []string   `json:"markedDates"`
	Date        string     `json:"date,omitempty"`
	Events      []eventDTO `json:"events,omitempty"`
}

// handleCalendar returns the days of a month that have events and,
// optionally, the events of one selected day.
//
// GET /api/calendar?month=2025-11&date=2025-11-20
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	month := q.Get("month")
	if month == "" {
		month = s.now().In(s.loc).Format("2006-01")
	}
	if _, err := schedule.ParseDate(month+"-01", s.loc); err != nil {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}

	resp := calendarResponse{
		Month:       month,
		MarkedDates: s.deps.Catalog.MarkedDates(month),
	}
	if date := q.Get("date"); date != "" {
		resp.Date = date
		resp.Events = s.dtos(s.deps.Catalog.ByDate(date)).Events
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Catalog.Categories())
}

// intersect keeps the events of a whose ids appear in b, in a's order.
func intersect(a, b []model.Event) []model.Event {
	ids := make(map[string]struct{}, len(b))
	for _, ev := range b {
		ids[ev.ID] = struct{}{}
	}
	out := make([]model.Event, 0, len(a))
	for _, ev := range a {
		if _, ok := ids[ev.ID]; ok {
			out = append(out, ev)
		}
	}
	return out
}
