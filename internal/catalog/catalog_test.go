package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/ics"
	"campusevents/internal/model"
)

func ids(events []model.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.ID
	}
	return out
}

func seeded() *Catalog {
	return New(time.UTC, Seed())
}

func TestSeedDecodes(t *testing.T) {
	events := Seed()
	require.Len(t, events, 8)
	assert.Equal(t, model.CategorySports, events[7].Category, "Athletics alias resolves to Sports")
	assert.Equal(t, model.CategoryArts, events[3].Category)
}

func TestLookup(t *testing.T) {
	c := seeded()
	ev, ok := c.Lookup("3")
	require.True(t, ok)
	assert.Equal(t, "Career Fair", ev.Title)

	_, ok = c.Lookup("nope")
	assert.False(t, ok)
}

func TestSearchMatchesLocationCaseInsensitively(t *testing.T) {
	c := New(time.UTC, []model.Event{
		{ID: "a", Title: "Open Mic", Location: "The Syndicate", Description: "Poetry night"},
		{ID: "b", Title: "Lecture", Location: "Auditorium", Description: "Physics"},
	})
	assert.Equal(t, []string{"a"}, ids(c.Search("sYNDIC")))
}

func TestSearchFields(t *testing.T) {
	c := seeded()
	assert.Equal(t, []string{"3", "7"}, ids(c.Search("career")), "title and category")
	assert.Equal(t, []string{"2"}, ids(c.Search("TACOS")), "description")
	assert.Empty(t, c.Search("   "))
	assert.Empty(t, c.Search("quidditch"))
}

func TestByCategoryAndDate(t *testing.T) {
	c := seeded()
	assert.Equal(t, []string{"2", "6"}, ids(c.ByCategory(model.CategoryStudentLife)))
	assert.Equal(t, []string{"1", "2"}, ids(c.ByDate("2025-11-20")))
	assert.Empty(t, c.ByDate("2030-01-01"))
}

func TestInRangeIsInclusive(t *testing.T) {
	c := seeded()
	from := time.Date(2025, 11, 22, 23, 0, 0, 0, time.UTC)
	to := time.Date(2025, 12, 3, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, []string{"3", "4", "5"}, ids(c.InRange(from, to)))
}

func TestUpcomingSortsAndLimits(t *testing.T) {
	c := New(time.UTC, []model.Event{
		{ID: "late", Date: "2025-11-20", Time: "8:00 PM"},
		{ID: "past", Date: "2025-11-19", Time: "8:00 PM"},
		{ID: "next", Date: "2025-11-21", Time: "9:00 AM"},
		{ID: "early", Date: "2025-11-20", Time: "9:00 AM"},
		{ID: "bad", Date: "someday", Time: "9:00 AM"},
	})
	now := time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, []string{"early", "late", "next"}, ids(c.Upcoming(now, 0)), "today counts even if already started")
	assert.Equal(t, []string{"early", "late"}, ids(c.Upcoming(now, 2)))
}

func TestMarkedDatesAndCategories(t *testing.T) {
	c := seeded()
	assert.Equal(t, []string{"2025-11-20", "2025-11-22", "2025-11-25"}, c.MarkedDates("2025-11"))
	assert.Len(t, c.MarkedDates(""), 7)

	counts := c.Categories()
	require.Len(t, counts, len(model.Categories))
	assert.Equal(t, model.CategoryAcademic, counts[0].Category)
	assert.Equal(t, 1, counts[0].Count)
	assert.Equal(t, 0, counts[5].Count)
}

func TestSnapshotDropsDuplicatesAndBlankIDs(t *testing.T) {
	c := New(time.UTC, []model.Event{
		{ID: "x", Title: "first"},
		{ID: "x", Title: "second"},
		{ID: "", Title: "anonymous"},
	})
	require.Equal(t, 1, c.Len())
	ev, _ := c.Lookup("x")
	assert.Equal(t, "first", ev.Title)
	assert.Equal(t, model.CategoryOther, ev.Category)
}

const feedBody = "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//t//EN\r\n" +
	"BEGIN:VEVENT\r\nUID:hackathon\r\nDTSTAMP:20251101T000000Z\r\nDTSTART:20251205T150000Z\r\n" +
	"SUMMARY:HackUNT\r\nLOCATION:Discovery Park\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"

func TestLoaderMergesSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "extra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
events:
  - id: "1"
    title: Shadowed by the seed
  - id: extra
    title: Planetarium Night
    category: Academic Events
    date: "2025-12-01"
    time: "9:00 PM"
`), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feedBody))
	}))
	defer srv.Close()

	l := &Loader{
		Seed:     true,
		Files:    []string{path, filepath.Join(dir, "missing.yaml")},
		Feeds:    []ics.Feed{{ID: "eng", URL: srv.URL, Category: model.CategoryAcademic}},
		Fetcher:  ics.NewFetcher(filepath.Join(dir, "cache"), srv.Client()),
		Location: time.UTC,
	}

	c := New(time.UTC, nil)
	err := l.Refresh(context.Background(), c, time.Date(2025, 11, 15, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err, "missing file is reported")

	assert.Equal(t, 10, c.Len())
	first, _ := c.Lookup("1")
	assert.Equal(t, "Football Game", first.Title)

	extra, ok := c.Lookup("extra")
	require.True(t, ok)
	assert.Equal(t, model.CategoryAcademic, extra.Category)

	hack, ok := c.Lookup("hackathon")
	require.True(t, ok)
	assert.Equal(t, "2025-12-05", hack.Date)
	assert.Equal(t, "3:00 PM", hack.Time)
	assert.Equal(t, model.CategoryAcademic, hack.Category)
}

func TestRefreshKeepsPreviousSnapshotWhenNothingLoads(t *testing.T) {
	c := seeded()
	l := &Loader{Files: []string{filepath.Join(t.TempDir(), "gone.yaml")}}

	err := l.Refresh(context.Background(), c, time.Now())
	assert.Error(t, err)
	assert.Equal(t, 8, c.Len())
}
