// Package notify schedules one-shot local reminders on a cron runner and
// delivers them when they come due.
package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	appLog "campusevents/internal/log"
	"campusevents/internal/model"
	"campusevents/internal/schedule"
)

const (
	TestTitle = "🎉 Campus Events"
	TestBody  = "Notifications are working! You'll get reminders for your saved events."
)

var ErrEmptyEventID = errors.New("reminder event id is empty")

// Request describes a reminder to schedule.
type Request struct {
	EventID string
	Title   string
	Body    string
	At      time.Time
}

// once fires a single time at a fixed instant. After that Next returns the
// zero time, which cron treats as "never again".
type once struct {
	at time.Time
}

func (o once) Next(t time.Time) time.Time {
	if t.Before(o.at) {
		return o.at
	}
	return time.Time{}
}

type pending struct {
	reminder model.Reminder
	entry    cron.EntryID
}

// Scheduler keeps pending reminders as cron entries. It shares the cron
// runner it is given; starting and stopping the runner is the caller's job.
type Scheduler struct {
	cron    *cron.Cron
	deliver Deliverer
	now     func() time.Time
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pending
}

func New(c *cron.Cron, d Deliverer) *Scheduler {
	if d == nil {
		d = LogDeliverer{}
	}
	return &Scheduler{
		cron:    c,
		deliver: d,
		now:     time.Now,
		timeout: 10 * time.Second,
		pending: make(map[string]*pending),
	}
}

// Schedule registers a reminder and returns its id. An instant that is not
// strictly in the future schedules nothing and returns "".
func (s *Scheduler) Schedule(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.EventID == "" {
		return "", ErrEmptyEventID
	}
	if !schedule.InFuture(req.At, s.now()) {
		appLog.Debug("reminder instant not in the future, skipped", "event", req.EventID, "at", req.At)
		return "", nil
	}

	r := model.Reminder{
		ID:      uuid.NewString(),
		EventID: req.EventID,
		Title:   req.Title,
		Body:    req.Body,
		At:      req.At,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.cron.Schedule(once{at: req.At}, cron.FuncJob(func() { s.fire(r.ID) }))
	s.pending[r.ID] = &pending{reminder: r, entry: entry}

	appLog.Info("reminder scheduled", "id", r.ID, "event", r.EventID, "at", r.At)
	return r.ID, nil
}

// Cancel drops a pending reminder. Unknown ids are ignored.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.cron.Remove(p.entry)
	appLog.Info("reminder cancelled", "id", id, "event", p.reminder.EventID)
	return true
}

// CancelByEvent drops every pending reminder tagged with eventID and reports
// how many there were.
func (s *Scheduler) CancelByEvent(eventID string) int {
	s.mu.Lock()
	var entries []cron.EntryID
	for id, p := range s.pending {
		if p.reminder.EventID == eventID {
			entries = append(entries, p.entry)
			delete(s.pending, id)
		}
	}
	s.mu.Unlock()

	for _, e := range entries {
		s.cron.Remove(e)
	}
	if len(entries) > 0 {
		appLog.Info("reminders cancelled", "event", eventID, "count", len(entries))
	}
	return len(entries)
}

// List returns the pending reminders ordered by instant.
func (s *Scheduler) List() []model.Reminder {
	s.mu.Lock()
	out := make([]model.Reminder, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p.reminder)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].At.Equal(out[j].At) {
			return out[i].ID < out[j].ID
		}
		return out[i].At.Before(out[j].At)
	})
	return out
}

// SendTest delivers a reminder immediately.
func (s *Scheduler) SendTest(ctx context.Context) error {
	r := model.Reminder{
		ID:    uuid.NewString(),
		Title: TestTitle,
		Body:  TestBody,
		At:    s.now(),
	}
	if err := s.deliver.Deliver(ctx, r); err != nil {
		appLog.Error("test notification failed", err)
		return err
	}
	return nil
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	// Cancelled between the timer firing and this job running.
	if !ok {
		return
	}
	s.cron.Remove(p.entry)

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.deliver.Deliver(ctx, p.reminder); err != nil {
		appLog.Error("reminder delivery failed", err, "id", id, "event", p.reminder.EventID)
		return
	}
	appLog.Info("reminder fired", "id", id, "event", p.reminder.EventID)
}

// CronLogger adapts the application logger to cron's logging interface.
// Cron's chatty info lines go to debug.
type CronLogger struct{}

func (CronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
