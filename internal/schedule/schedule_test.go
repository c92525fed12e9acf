package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/model"
)

func TestReminderAtSubtractsLead(t *testing.T) {
	ev := model.Event{ID: "1", Date: "2025-11-20", Time: "8:00 PM"}

	at, err := ReminderAt(ev, 60, time.Local)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 11, 20, 19, 0, 0, 0, time.Local), at)
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in         string
		hour, min  int
	}{
		{"12:00 AM", 0, 0},
		{"12:30 PM", 12, 30},
		{"1:05 PM", 13, 5},
		{"09:15 AM", 9, 15},
		{"11:59 pm", 23, 59},
	}
	for _, tc := range cases {
		h, m, err := ParseClock(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.hour, h, tc.in)
		assert.Equal(t, tc.min, m, tc.in)
	}
}

func TestMalformedInputIsUnparseable(t *testing.T) {
	bad := []model.Event{
		{Date: "2025-11-20", Time: "8pm"},
		{Date: "2025-11-20", Time: "13:00 PM"},
		{Date: "2025-11-20", Time: "8:7 PM"},
		{Date: "2025-11-20", Time: "8:00"},
		{Date: "2025-11-20", Time: ""},
		{Date: "11/20/2025", Time: "8:00 PM"},
		{Date: "2025-02-30", Time: "8:00 PM"},
	}
	for _, ev := range bad {
		_, err := ReminderAt(ev, 15, time.UTC)
		assert.ErrorIs(t, err, ErrUnparseableSchedule, "%s %s", ev.Date, ev.Time)
	}
}

func TestStartHonorsLocation(t *testing.T) {
	loc := time.FixedZone("CST", -6*3600)
	start, err := Start("2025-11-22", "2:00 PM", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 11, 22, 20, 0, 0, 0, time.UTC), start.UTC())
}

func TestInFutureIsStrict(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.False(t, InFuture(now, now))
	assert.False(t, InFuture(now.Add(-time.Second), now))
	assert.True(t, InFuture(now.Add(time.Second), now))
}

func TestFormatRoundTrip(t *testing.T) {
	at := time.Date(2025, 11, 25, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-11-25", FormatDate(at))
	assert.Equal(t, "8:00 PM", FormatClock(at))

	back, err := Start(FormatDate(at), FormatClock(at), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, at, back)
}

func TestLeadLabel(t *testing.T) {
	assert.Equal(t, "15 minutes", LeadLabel(15))
	assert.Equal(t, "1 hour", LeadLabel(60))
	assert.Equal(t, "2 hours", LeadLabel(120))
	assert.Equal(t, "1 day", LeadLabel(1440))
}
