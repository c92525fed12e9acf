package account

import (
	"sync"

	"campusevents/internal/model"
)

// watcher delivers session changes to one subscriber. The mailbox holds a
// single pending value; a newer value replaces an undelivered older one.
type watcher struct {
	fn func(*model.Session)

	mu      sync.Mutex
	pending *model.Session
	has     bool
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newWatcher(fn func(*model.Session)) *watcher {
	w := &watcher{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *watcher) post(s *model.Session) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.pending = s
	w.has = true
	select {
	case w.wake <- struct{}{}:
	default:
	}
	w.mu.Unlock()
}

func (w *watcher) run() {
	defer close(w.done)
	for range w.wake {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return
		}
		s, ok := w.pending, w.has
		w.pending, w.has = nil, false
		w.mu.Unlock()

		if ok {
			w.fn(s)
		}
	}
}

func (w *watcher) stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.wake)
	w.mu.Unlock()
	<-w.done
}

// Subscribe registers fn to be called with the signed-in session (nil when
// signed out). fn runs on its own goroutine, first with the current state and
// then after every change. Calls for one subscriber never overlap; when
// changes arrive faster than fn returns, only the latest is delivered.
// The returned function unsubscribes and waits for an in-flight call.
func (s *Store) Subscribe(fn func(*model.Session)) func() {
	w := newWatcher(fn)

	s.mu.Lock()
	s.watchers = append(s.watchers, w)
	w.post(copySession(s.current))
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		for i, other := range s.watchers {
			if other == w {
				s.watchers = append(s.watchers[:i], s.watchers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		w.stop()
	}
}

type observer struct {
	fn func(*model.Session)
}

// Observe registers fn to run on every session change before the call that
// made the change returns, and once now with the current state. fn runs with
// the store locked and must not call back into it. The returned function
// removes fn.
func (s *Store) Observe(fn func(*model.Session)) func() {
	o := &observer{fn: fn}

	s.mu.Lock()
	s.observers = append(s.observers, o)
	fn(copySession(s.current))
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, other := range s.observers {
			if other == o {
				s.observers = append(s.observers[:i], s.observers[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) setCurrent(sess *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = copySession(sess)
	for _, o := range s.observers {
		o.fn(copySession(sess))
	}
	for _, w := range s.watchers {
		w.post(copySession(sess))
	}
}
