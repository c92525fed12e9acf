package saved

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusevents/internal/catalog"
	"campusevents/internal/model"
	"campusevents/internal/notify"
	"campusevents/internal/schedule"
)

type fakeDocs struct {
	mu       sync.Mutex
	ids      map[string][]string
	prefs    map[string]model.Preferences
	calls    []string
	loadErr  error
	prefsErr error
	writeErr error
	// loadGate and addGate, when set, hold the matching call until closed.
	loadGate chan struct{}
	addGate  chan struct{}
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{ids: map[string][]string{}, prefs: map[string]model.Preferences{}}
}

func (f *fakeDocs) SavedEventIDs(_ context.Context, uid string) ([]string, error) {
	if f.loadGate != nil {
		<-f.loadGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return append([]string(nil), f.ids[uid]...), nil
}

func (f *fakeDocs) AddSavedEvent(_ context.Context, uid, id string) error {
	if f.addGate != nil {
		<-f.addGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "add:"+uid+":"+id)
	return f.writeErr
}

func (f *fakeDocs) RemoveSavedEvent(_ context.Context, uid, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "remove:"+uid+":"+id)
	return f.writeErr
}

func (f *fakeDocs) Preferences(_ context.Context, uid string) (model.Preferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prefsErr != nil {
		return model.Preferences{}, f.prefsErr
	}
	return f.prefs[uid], nil
}

func (f *fakeDocs) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeReminders struct {
	mu      sync.Mutex
	next    int
	pending map[string]model.Reminder
}

func newFakeReminders() *fakeReminders {
	return &fakeReminders{pending: map[string]model.Reminder{}}
}

func (f *fakeReminders) Schedule(_ context.Context, req notify.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("r%d", f.next)
	f.pending[id] = model.Reminder{ID: id, EventID: req.EventID, Title: req.Title, Body: req.Body, At: req.At}
	return id, nil
}

func (f *fakeReminders) CancelByEvent(eventID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, r := range f.pending {
		if r.EventID == eventID {
			delete(f.pending, id)
			n++
		}
	}
	return n
}

func (f *fakeReminders) List() []model.Reminder {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Reminder, 0, len(f.pending))
	for _, r := range f.pending {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeReminders) ForEvent(id string) []model.Reminder {
	var out []model.Reminder
	for _, r := range f.List() {
		if r.EventID == id {
			out = append(out, r)
		}
	}
	return out
}

var (
	football = model.Event{ID: "1", Title: "Football Game", Category: model.CategorySports,
		Date: "2025-11-20", Time: "8:00 PM", Location: "Apogee Stadium"}
	careerFair = model.Event{ID: "2", Title: "Career Fair", Category: model.CategoryCareer,
		Date: "2025-11-22", Time: "2:00 PM", Location: "University Union"}
	jazz = model.Event{ID: "3", Title: "Jazz Concert", Category: model.CategoryArts,
		Date: "2025-11-25", Time: "7:30 PM", Location: "Winspear Hall"}
)

var testNow = time.Date(2025, 11, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	sync      *Synchronizer
	docs      *fakeDocs
	reminders *fakeReminders
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	docs := newFakeDocs()
	rem := newFakeReminders()
	cat := catalog.New(time.UTC, []model.Event{football, careerFair, jazz})
	s := New(docs, cat, rem, Options{Location: time.UTC})
	s.now = func() time.Time { return testNow }
	t.Cleanup(s.Close)
	return &harness{sync: s, docs: docs, reminders: rem}
}

func wait(t *testing.T, o *Outcome) Effects {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	fx, err := o.Wait(ctx)
	require.NoError(t, err)
	return fx
}

func savedIDs(s *Synchronizer) []string {
	ids := make([]string, 0)
	for _, ev := range s.Saved() {
		ids = append(ids, ev.ID)
	}
	return ids
}

func TestToggleRoundTripSignedOut(t *testing.T) {
	h := newHarness(t)

	first := h.sync.ToggleSave(careerFair)
	assert.True(t, first.Saved)
	assert.True(t, h.sync.IsSaved("2"))

	second := h.sync.ToggleSave(careerFair)
	assert.False(t, second.Saved)
	assert.False(t, h.sync.IsSaved("2"))
	assert.Empty(t, h.sync.Saved())

	fx := wait(t, first)
	assert.NotEmpty(t, fx.ReminderID)
	wait(t, second)

	assert.Empty(t, h.docs.Calls(), "signed-out toggles stay local")
	assert.Empty(t, h.reminders.List())
}

func TestToggleIsItsOwnInverse(t *testing.T) {
	h := newHarness(t)
	h.sync.ToggleSave(football)
	h.sync.ToggleSave(jazz)
	before := savedIDs(h.sync)

	h.sync.ToggleSave(careerFair)
	h.sync.ToggleSave(careerFair)
	assert.Equal(t, before, savedIDs(h.sync))

	h.sync.ToggleSave(football)
	h.sync.ToggleSave(football)
	assert.ElementsMatch(t, before, savedIDs(h.sync))
}

func TestSignInResolvesAgainstCatalog(t *testing.T) {
	h := newHarness(t)
	h.docs.ids["u1"] = []string{"2", "1", "x", "2"}

	h.sync.OnAuthStateChange(context.Background(), &model.Session{UID: "u1"})
	assert.Equal(t, []string{"2", "1"}, savedIDs(h.sync))
	require.NotNil(t, h.sync.CurrentUser())
	assert.Equal(t, "u1", h.sync.CurrentUser().UID)
}

func TestSignInReconcilesReminders(t *testing.T) {
	h := newHarness(t)
	h.docs.ids["u1"] = []string{"1", "2"}

	h.sync.OnAuthStateChange(context.Background(), &model.Session{UID: "u1"})
	h.sync.Flush()
	assert.Len(t, h.reminders.ForEvent("1"), 1)
	assert.Len(t, h.reminders.ForEvent("2"), 1)

	// A repeated notification for the same user does not duplicate them.
	h.sync.OnAuthStateChange(context.Background(), &model.Session{UID: "u1"})
	h.sync.Flush()
	assert.Len(t, h.reminders.List(), 2)
}

func TestSignOutClearsListAndReminders(t *testing.T) {
	h := newHarness(t)
	h.docs.ids["u1"] = []string{"1", "3"}
	h.sync.OnAuthStateChange(context.Background(), &model.Session{UID: "u1"})
	h.sync.ToggleSave(careerFair)
	require.Len(t, h.sync.Saved(), 3)

	h.sync.OnAuthStateChange(context.Background(), nil)
	assert.Empty(t, h.sync.Saved())
	assert.Nil(t, h.sync.CurrentUser())

	h.sync.Flush()
	assert.Empty(t, h.reminders.List())
}

func TestLoadFailureLeavesEmptyList(t *testing.T) {
	h := newHarness(t)
	h.docs.loadErr = errors.New("permission denied")

	h.sync.OnAuthStateChange(context.Background(), &model.Session{UID: "u1"})
	assert.Empty(t, h.sync.Saved())
	assert.NotNil(t, h.sync.CurrentUser())
}

func TestEndToEndSignedIn(t *testing.T) {
	h := newHarness(t)
	user := &model.Session{UID: "U"}
	h.sync.OnAuthStateChange(context.Background(), user)
	require.Empty(t, h.sync.Saved())

	fx := wait(t, h.sync.ToggleSave(football))
	assert.True(t, fx.Saved)
	assert.NoError(t, fx.ReminderErr)
	assert.NoError(t, fx.RemoteErr)
	assert.NotEmpty(t, fx.ReminderID)
	assert.True(t, h.sync.IsSaved("1"))
	assert.Equal(t, []string{"add:U:1"}, h.docs.Calls())
	assert.Len(t, h.reminders.ForEvent("1"), 1)

	fx = wait(t, h.sync.ToggleSave(football))
	assert.False(t, fx.Saved)
	assert.False(t, h.sync.IsSaved("1"))
	assert.Equal(t, []string{"add:U:1", "remove:U:1"}, h.docs.Calls())
	assert.Empty(t, h.reminders.ForEvent("1"))
}

func TestReminderUsesPreferredLead(t *testing.T) {
	h := newHarness(t)
	lead := 60
	h.docs.prefs["u1"] = model.Preferences{NotificationTime: &lead}
	h.sync.OnAuthStateChange(context.Background(), &model.Session{UID: "u1"})

	fx := wait(t, h.sync.ToggleSave(football))
	assert.Equal(t, time.Date(2025, 11, 20, 19, 0, 0, 0, time.UTC), fx.ReminderAt)

	rem := h.reminders.ForEvent("1")
	require.Len(t, rem, 1)
	assert.Equal(t, "🎉 Event Reminder", rem[0].Title)
	assert.Equal(t, "Football Game starts in 1 hour!", rem[0].Body)
}

func TestReminderLeadFallsBack(t *testing.T) {
	h := newHarness(t)
	h.docs.prefsErr = errors.New("unavailable")
	h.sync.OnAuthStateChange(context.Background(), &model.Session{UID: "u1"})

	fx := wait(t, h.sync.ToggleSave(football))
	assert.Equal(t, time.Date(2025, 11, 20, 19, 45, 0, 0, time.UTC), fx.ReminderAt)

	h.sync.OnAuthStateChange(context.Background(), nil)
	fx = wait(t, h.sync.ToggleSave(careerFair))
	assert.Equal(t, time.Date(2025, 11, 22, 13, 45, 0, 0, time.UTC), fx.ReminderAt)
}

func TestPastInstantSkipsReminderButSaves(t *testing.T) {
	h := newHarness(t)
	h.sync.now = func() time.Time { return time.Date(2025, 11, 20, 19, 45, 0, 0, time.UTC) }
	h.sync.OnAuthStateChange(context.Background(), &model.Session{UID: "u1"})

	fx := wait(t, h.sync.ToggleSave(football))
	assert.Empty(t, fx.ReminderID)
	assert.NoError(t, fx.ReminderErr)
	assert.True(t, h.sync.IsSaved("1"))
	assert.Empty(t, h.reminders.List())
	assert.Equal(t, []string{"add:u1:1"}, h.docs.Calls())
}

func TestUnparseableScheduleIsRecoverable(t *testing.T) {
	h := newHarness(t)
	h.sync.OnAuthStateChange(context.Background(), &model.Session{UID: "u1"})
	odd := model.Event{ID: "odd", Title: "TBD Mixer", Date: "2025-13-45", Time: "sometime"}

	fx := wait(t, h.sync.ToggleSave(odd))
	assert.ErrorIs(t, fx.ReminderErr, schedule.ErrUnparseableSchedule)
	assert.Empty(t, fx.ReminderID)
	assert.True(t, h.sync.IsSaved("odd"))
	assert.Equal(t, []string{"add:u1:odd"}, h.docs.Calls())
}

func TestRemoteFailureDoesNotRollBack(t *testing.T) {
	h := newHarness(t)
	h.docs.writeErr = errors.New("offline")
	h.sync.OnAuthStateChange(context.Background(), &model.Session{UID: "u1"})

	fx := wait(t, h.sync.ToggleSave(jazz))
	assert.Error(t, fx.RemoteErr)
	assert.True(t, h.sync.IsSaved("3"))

	fx = wait(t, h.sync.ToggleSave(jazz))
	assert.Error(t, fx.RemoteErr)
	assert.False(t, h.sync.IsSaved("3"))
}

func TestRapidTogglesApplyInOrder(t *testing.T) {
	h := newHarness(t)
	h.docs.addGate = make(chan struct{})
	h.sync.OnAuthStateChange(context.Background(), &model.Session{UID: "u1"})

	add := h.sync.ToggleSave(football)
	remove := h.sync.ToggleSave(football)
	assert.False(t, h.sync.IsSaved("1"))

	select {
	case <-remove.Done():
		t.Fatal("removal ran before the earlier add finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(h.docs.addGate)

	wait(t, add)
	wait(t, remove)
	assert.Equal(t, []string{"add:u1:1", "remove:u1:1"}, h.docs.Calls())
	assert.Empty(t, h.reminders.List())
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	h := newHarness(t)
	h.docs.ids["u1"] = []string{"1", "2"}
	h.docs.loadGate = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.sync.OnAuthStateChange(context.Background(), &model.Session{UID: "u1"})
	}()

	// Wait until the load is in flight, then sign out underneath it.
	require.Eventually(t, func() bool { return h.sync.CurrentUser() != nil }, time.Second, 5*time.Millisecond)
	h.sync.OnAuthStateChange(context.Background(), nil)
	close(h.docs.loadGate)
	<-done

	assert.Empty(t, h.sync.Saved())
	assert.Nil(t, h.sync.CurrentUser())
}

func TestToggleDuringLoadSurvivesLoad(t *testing.T) {
	h := newHarness(t)
	h.docs.ids["u1"] = []string{"1", "2"}
	h.docs.loadGate = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.sync.OnAuthStateChange(context.Background(), &model.Session{UID: "u1"})
	}()
	require.Eventually(t, func() bool { return h.sync.CurrentUser() != nil }, time.Second, 5*time.Millisecond)

	h.sync.ToggleSave(jazz)
	close(h.docs.loadGate)
	<-done

	assert.Equal(t, []string{"1", "2", "3"}, savedIDs(h.sync))
}

func TestToggleRightAfterAdoptSurvivesLoad(t *testing.T) {
	h := newHarness(t)
	h.docs.ids["u1"] = []string{"1", "2"}
	h.docs.loadGate = make(chan struct{})

	h.sync.Adopt(&model.Session{UID: "u1"})
	require.NotNil(t, h.sync.CurrentUser())
	assert.Equal(t, "u1", h.sync.CurrentUser().UID)

	out := h.sync.ToggleSave(jazz)
	close(h.docs.loadGate)
	h.sync.Flush()

	assert.Equal(t, []string{"1", "2", "3"}, savedIDs(h.sync))
	fx := wait(t, out)
	assert.True(t, fx.Saved)
	assert.NotEmpty(t, fx.ReminderID)
	assert.Equal(t, time.Date(2025, 11, 25, 19, 15, 0, 0, time.UTC), fx.ReminderAt)
	assert.NoError(t, fx.RemoteErr)
	assert.Contains(t, h.docs.Calls(), "add:u1:3")
}

func TestUserSwitchWritesToTogglingUser(t *testing.T) {
	h := newHarness(t)
	h.sync.Adopt(&model.Session{UID: "a"})
	h.sync.Adopt(&model.Session{UID: "b"})
	h.sync.ToggleSave(careerFair)
	h.sync.Flush()

	assert.Equal(t, []string{"add:b:2"}, h.docs.Calls())
	assert.Equal(t, []string{"2"}, savedIDs(h.sync))
	assert.Equal(t, "b", h.sync.CurrentUser().UID)
}

func TestSignInAgainKeepsUnlandedToggle(t *testing.T) {
	h := newHarness(t)
	h.sync.OnAuthStateChange(context.Background(), &model.Session{UID: "u1"})
	h.docs.addGate = make(chan struct{})

	h.sync.ToggleSave(jazz)
	h.sync.Adopt(&model.Session{UID: "u1"})
	close(h.docs.addGate)
	h.sync.Flush()

	assert.Equal(t, []string{"3"}, savedIDs(h.sync))
	assert.Equal(t, []string{"add:u1:3"}, h.docs.Calls())
	assert.Len(t, h.reminders.ForEvent("3"), 1)
}

func TestRescheduleAllPicksUpNewLead(t *testing.T) {
	h := newHarness(t)
	h.sync.OnAuthStateChange(context.Background(), &model.Session{UID: "u1"})
	wait(t, h.sync.ToggleSave(football))
	require.Len(t, h.reminders.ForEvent("1"), 1)

	lead := 1440
	h.docs.mu.Lock()
	h.docs.prefs["u1"] = model.Preferences{NotificationTime: &lead}
	h.docs.mu.Unlock()

	h.sync.RescheduleAll()
	h.sync.Flush()

	rem := h.reminders.ForEvent("1")
	require.Len(t, rem, 1)
	assert.Equal(t, time.Date(2025, 11, 19, 20, 0, 0, 0, time.UTC), rem[0].At)
	assert.Equal(t, "Football Game starts in 1 day!", rem[0].Body)
}

func TestToggleAfterClose(t *testing.T) {
	h := newHarness(t)
	h.sync.Close()

	fx := wait(t, h.sync.ToggleSave(jazz))
	assert.ErrorIs(t, fx.RemoteErr, ErrClosed)
	assert.True(t, h.sync.IsSaved("3"))
}
