package saved

import (
	"sort"
	"sync"
)

// keyedQueue runs tasks one at a time per key, in submission order. Tasks for
// different keys run concurrently.
type keyedQueue struct {
	mu     sync.Mutex
	tasks  map[string][]func()
	wg     sync.WaitGroup
	closed bool
}

func newKeyedQueue() *keyedQueue {
	return &keyedQueue{tasks: make(map[string][]func())}
}

// Enqueue reports false once the queue is closed.
func (q *keyedQueue) Enqueue(key string, fn func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.wg.Add(1)
	pending, running := q.tasks[key]
	q.tasks[key] = append(pending, fn)
	if !running {
		go q.run(key)
	}
	return true
}

func (q *keyedQueue) run(key string) {
	for {
		q.mu.Lock()
		list := q.tasks[key]
		if len(list) == 0 {
			delete(q.tasks, key)
			q.mu.Unlock()
			return
		}
		fn := list[0]
		q.tasks[key] = list[1:]
		q.mu.Unlock()

		fn()
		q.wg.Done()
	}
}

// Keys lists keys with queued or running work.
func (q *keyedQueue) Keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := make([]string, 0, len(q.tasks))
	for k := range q.tasks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Wait blocks until every task submitted so far has finished.
func (q *keyedQueue) Wait() {
	q.wg.Wait()
}

// Close rejects new work and waits for queued work to finish.
func (q *keyedQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
}
