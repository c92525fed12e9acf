package saved

import (
	"context"
	"time"
)

// Effects reports what a toggle did beyond the in-memory list. Callers may
// ignore it; nothing here rolls the list back.
type Effects struct {
	Saved bool `json:"saved"`
	// ReminderID is empty when no reminder was scheduled: removals, instants
	// already passed, or ReminderErr.
	ReminderID  string    `json:"reminderId,omitempty"`
	ReminderAt  time.Time `json:"reminderAt,omitempty"`
	ReminderErr error     `json:"-"`
	RemoteErr   error     `json:"-"`
}

// Outcome is the pending result of a toggle.
type Outcome struct {
	// Saved is the membership right after the toggle.
	Saved bool

	done    chan struct{}
	effects Effects
}

func newOutcome(saved bool) *Outcome {
	return &Outcome{Saved: saved, done: make(chan struct{})}
}

func (o *Outcome) complete(fx Effects) {
	o.effects = fx
	close(o.done)
}

// Done is closed once the side effects have run.
func (o *Outcome) Done() <-chan struct{} {
	return o.done
}

// Wait blocks until the side effects have run or ctx ends.
func (o *Outcome) Wait(ctx context.Context) (Effects, error) {
	select {
	case <-o.done:
		return o.effects, nil
	case <-ctx.Done():
		return Effects{Saved: o.Saved}, ctx.Err()
	}
}
