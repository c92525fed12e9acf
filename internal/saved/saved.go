// Package saved keeps the signed-in user's saved events consistent across the
// in-memory list, the user's document and the pending reminders.
//
// The in-memory list is authoritative for the session. Toggles change it
// synchronously; the remote write and the reminder work run afterwards on a
// per-event queue, so two toggles of the same event apply their side effects
// in the order they were made.
package saved

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	appLog "campusevents/internal/log"
	"campusevents/internal/model"
	"campusevents/internal/notify"
	"campusevents/internal/schedule"
)

var ErrClosed = errors.New("synchronizer closed")

// Documents is the per-user record the synchronizer mirrors.
type Documents interface {
	SavedEventIDs(ctx context.Context, uid string) ([]string, error)
	AddSavedEvent(ctx context.Context, uid, eventID string) error
	RemoveSavedEvent(ctx context.Context, uid, eventID string) error
	Preferences(ctx context.Context, uid string) (model.Preferences, error)
}

// Events resolves saved ids to catalog records.
type Events interface {
	Lookup(id string) (model.Event, bool)
}

// Reminders schedules and cancels local notifications.
type Reminders interface {
	Schedule(ctx context.Context, req notify.Request) (string, error)
	CancelByEvent(eventID string) int
	List() []model.Reminder
}

type Options struct {
	// Location interprets event dates and times. Nil means time.Local.
	Location *time.Location
	// DefaultLeadMinutes applies when signed out or when preferences cannot
	// be read.
	DefaultLeadMinutes int
	// Title heads every reminder.
	Title string
	// Timeout bounds each queued side effect.
	Timeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Location == nil {
		o.Location = time.Local
	}
	if !model.ValidLeadTime(o.DefaultLeadMinutes) {
		o.DefaultLeadMinutes = model.DefaultLeadMinutes
	}
	if o.Title == "" {
		o.Title = "🎉 Event Reminder"
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
}

type toggle struct {
	event model.Event
	saved bool
	seq   uint64
	// done is set when the side effects landed while a load was running.
	done bool
}

type Synchronizer struct {
	docs      Documents
	events    Events
	reminders Reminders
	opts      Options
	now       func() time.Time
	queue     *keyedQueue
	loads     sync.WaitGroup

	mu    sync.Mutex
	saved []model.Event
	user  *model.Session
	// gen increments on every auth change so a slow load for an older
	// session cannot overwrite a newer one.
	gen     uint64
	loading bool
	// pending is the latest toggle per event whose side effects have not
	// landed, or landed during a load. Loads replay it over the stored ids.
	seq     uint64
	pending map[string]*toggle
}

func New(docs Documents, events Events, reminders Reminders, opts Options) *Synchronizer {
	opts.setDefaults()
	return &Synchronizer{
		docs:      docs,
		events:    events,
		reminders: reminders,
		opts:      opts,
		now:       time.Now,
		queue:     newKeyedQueue(),
		saved:     make([]model.Event, 0),
		pending:   make(map[string]*toggle),
	}
}

// Adopt switches to sess before it returns and loads the user's saved list
// in the background; nil means signed out. Toggles made after Adopt belong to
// sess and survive the load. The account store calls it while the session
// changes, so it must not call back into the store.
func (s *Synchronizer) Adopt(sess *model.Session) {
	gen := s.begin(sess)
	if sess == nil {
		s.signedOut()
		return
	}
	sess = copySession(sess)
	s.loads.Add(1)
	go func() {
		defer s.loads.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
		defer cancel()
		s.load(ctx, sess, gen)
	}()
}

// OnAuthStateChange adopts a new session and waits for its load; nil means
// signed out. Signing out clears the list. Signing in loads the user's saved
// ids and resolves them against the catalog, dropping ids the catalog does
// not know. A failed load leaves the list empty and is only logged.
// Afterwards reminders are reconciled with the new list.
func (s *Synchronizer) OnAuthStateChange(ctx context.Context, sess *model.Session) {
	gen := s.begin(sess)
	if sess == nil {
		s.signedOut()
		return
	}
	s.load(ctx, sess, gen)
}

// begin makes sess the current user. A different user starts from an empty
// list.
func (s *Synchronizer) begin(sess *model.Session) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	prev := s.user
	s.user = copySession(sess)
	if sess == nil || prev == nil || prev.UID != sess.UID {
		s.saved = make([]model.Event, 0)
		s.pending = make(map[string]*toggle)
	}
	s.loading = sess != nil
	return s.gen
}

func (s *Synchronizer) signedOut() {
	appLog.Info("saved events cleared on sign-out")
	s.reconcile(false)
}

func (s *Synchronizer) load(ctx context.Context, sess *model.Session, gen uint64) {
	ids, err := s.docs.SavedEventIDs(ctx, sess.UID)
	if err != nil {
		appLog.Error("load saved events failed", err, "uid", sess.UID)
		ids = nil
	}

	loaded := make([]model.Event, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	dropped := 0
	for _, id := range ids {
		if seen[id] {
			continue
		}
		ev, ok := s.events.Lookup(id)
		if !ok {
			dropped++
			continue
		}
		seen[id] = true
		loaded = append(loaded, ev)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	replay := make([]*toggle, 0, len(s.pending))
	for _, t := range s.pending {
		replay = append(replay, t)
	}
	sort.Slice(replay, func(i, j int) bool { return replay[i].seq < replay[j].seq })
	for _, t := range replay {
		loaded = applyToggle(loaded, *t)
		if t.done {
			delete(s.pending, t.event.ID)
		}
	}
	s.saved = loaded
	s.loading = false
	s.mu.Unlock()

	appLog.Info("saved events loaded", "uid", sess.UID, "count", len(loaded), "dropped", dropped)
	s.reconcile(false)
}

// ToggleSave adds ev to the saved list, or removes it when an event with the
// same id is already saved. The list changes before ToggleSave returns; the
// returned Outcome reports the side effects once they finish.
func (s *Synchronizer) ToggleSave(ev model.Event) *Outcome {
	s.mu.Lock()
	idx := indexOf(s.saved, ev.ID)
	s.seq++
	t := &toggle{event: ev, saved: idx < 0, seq: s.seq}
	if t.saved {
		s.saved = append(s.saved, ev)
	} else {
		s.saved = append(s.saved[:idx:idx], s.saved[idx+1:]...)
	}
	s.pending[ev.ID] = t
	user := copySession(s.user)
	s.mu.Unlock()

	out := newOutcome(t.saved)
	ok := s.queue.Enqueue(ev.ID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
		defer cancel()
		var fx Effects
		if t.saved {
			fx = s.added(ctx, ev, user)
		} else {
			fx = s.removed(ctx, ev, user)
		}
		s.settle(t)
		out.complete(fx)
	})
	if !ok {
		s.settle(t)
		out.complete(Effects{Saved: t.saved, ReminderErr: ErrClosed, RemoteErr: ErrClosed})
	}
	return out
}

// settle forgets t once its side effects are done, unless a load still has
// to replay it.
func (s *Synchronizer) settle(t *toggle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending[t.event.ID] != t {
		return
	}
	if s.loading {
		t.done = true
		return
	}
	delete(s.pending, t.event.ID)
}

// IsSaved reports whether an event with id is in the saved list.
func (s *Synchronizer) IsSaved(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return indexOf(s.saved, id) >= 0
}

// Saved returns a copy of the saved list in insertion order.
func (s *Synchronizer) Saved() []model.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Event, len(s.saved))
	copy(out, s.saved)
	return out
}

// CurrentUser returns the session the synchronizer is following, or nil.
func (s *Synchronizer) CurrentUser() *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySession(s.user)
}

// RescheduleAll replaces the reminder of every saved event, picking up a new
// lead time.
func (s *Synchronizer) RescheduleAll() {
	s.reconcile(true)
}

// Flush waits for background loads and for all side effects queued so far.
func (s *Synchronizer) Flush() {
	s.loads.Wait()
	s.queue.Wait()
}

// Close stops accepting toggles and waits for loads and queued side effects.
func (s *Synchronizer) Close() {
	s.loads.Wait()
	s.queue.Close()
}

func (s *Synchronizer) added(ctx context.Context, ev model.Event, user *model.Session) Effects {
	fx := Effects{Saved: true}
	// A reconcile may already have covered this event.
	s.reminders.CancelByEvent(ev.ID)
	fx.ReminderID, fx.ReminderAt, fx.ReminderErr = s.scheduleReminder(ctx, ev, user)

	if user != nil {
		if err := s.docs.AddSavedEvent(ctx, user.UID, ev.ID); err != nil {
			appLog.Error("remote save failed", err, "uid", user.UID, "event", ev.ID)
			fx.RemoteErr = err
		}
	}
	return fx
}

func (s *Synchronizer) removed(ctx context.Context, ev model.Event, user *model.Session) Effects {
	fx := Effects{Saved: false}
	if n := s.reminders.CancelByEvent(ev.ID); n > 0 {
		appLog.Debug("reminders cancelled on unsave", "event", ev.ID, "count", n)
	}
	if user != nil {
		if err := s.docs.RemoveSavedEvent(ctx, user.UID, ev.ID); err != nil {
			appLog.Error("remote unsave failed", err, "uid", user.UID, "event", ev.ID)
			fx.RemoteErr = err
		}
	}
	return fx
}

// scheduleReminder returns an empty id with a nil error when the reminder
// instant has already passed.
func (s *Synchronizer) scheduleReminder(ctx context.Context, ev model.Event, user *model.Session) (string, time.Time, error) {
	lead := s.leadMinutes(ctx, user)
	at, err := schedule.ReminderAt(ev, lead, s.opts.Location)
	if err != nil {
		appLog.Warn("reminder not scheduled", "event", ev.ID, "reason", err.Error())
		return "", time.Time{}, err
	}
	if !schedule.InFuture(at, s.now()) {
		appLog.Debug("reminder instant already passed", "event", ev.ID, "at", at)
		return "", at, nil
	}

	id, err := s.reminders.Schedule(ctx, notify.Request{
		EventID: ev.ID,
		Title:   s.opts.Title,
		Body:    fmt.Sprintf("%s starts in %s!", ev.Title, schedule.LeadLabel(lead)),
		At:      at,
	})
	if err != nil {
		appLog.Error("schedule reminder failed", err, "event", ev.ID)
		return "", at, err
	}
	return id, at, nil
}

func (s *Synchronizer) leadMinutes(ctx context.Context, user *model.Session) int {
	if user == nil {
		return s.opts.DefaultLeadMinutes
	}
	prefs, err := s.docs.Preferences(ctx, user.UID)
	if err != nil {
		appLog.Warn("read preferences failed, using default lead", "uid", user.UID, "err", err)
		return s.opts.DefaultLeadMinutes
	}
	if prefs.NotificationTime == nil || !model.ValidLeadTime(*prefs.NotificationTime) {
		return s.opts.DefaultLeadMinutes
	}
	return *prefs.NotificationTime
}

// reconcile queues a check for every event that is saved, has a reminder, or
// has side effects in flight. Each check runs after earlier work on the same
// event and compares against the list as it is at that moment: saved events
// get a reminder if they lack one, unsaved events lose theirs. With replace
// set, saved events always get a fresh reminder.
func (s *Synchronizer) reconcile(replace bool) {
	keys := make(map[string]bool)
	// Queue keys before reminders: work that finishes between the two reads
	// shows up in the reminder list.
	for _, k := range s.queue.Keys() {
		keys[k] = true
	}
	for _, r := range s.reminders.List() {
		keys[r.EventID] = true
	}
	s.mu.Lock()
	for _, ev := range s.saved {
		keys[ev.ID] = true
	}
	s.mu.Unlock()

	for id := range keys {
		s.queue.Enqueue(id, func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.opts.Timeout)
			defer cancel()
			s.reconcileOne(ctx, id, replace)
		})
	}
}

func (s *Synchronizer) reconcileOne(ctx context.Context, id string, replace bool) {
	s.mu.Lock()
	idx := indexOf(s.saved, id)
	var ev model.Event
	if idx >= 0 {
		ev = s.saved[idx]
	}
	user := copySession(s.user)
	s.mu.Unlock()

	if idx < 0 {
		s.reminders.CancelByEvent(id)
		return
	}
	if replace {
		s.reminders.CancelByEvent(id)
	} else {
		for _, r := range s.reminders.List() {
			if r.EventID == id {
				return
			}
		}
	}
	_, _, _ = s.scheduleReminder(ctx, ev, user)
}

func applyToggle(list []model.Event, t toggle) []model.Event {
	idx := indexOf(list, t.event.ID)
	switch {
	case t.saved && idx < 0:
		return append(list, t.event)
	case !t.saved && idx >= 0:
		return append(list[:idx:idx], list[idx+1:]...)
	}
	return list
}

func indexOf(list []model.Event, id string) int {
	for i, ev := range list {
		if ev.ID == id {
			return i
		}
	}
	return -1
}

func copySession(s *model.Session) *model.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
