package sched

import (
	"sync"
	"time"
)

// Key identifies a delayed task: one per (tab, session birth, domain).
type Key struct {
	Tab    string
	Born   int64
	Domain string
}

type entry struct {
	timer Timer
	seq   uint64
}

// Queue runs at most one delayed task per Key. Scheduling a key that is
// already pending replaces the earlier task.
type Queue struct {
	clock Clock

	mu    sync.Mutex
	seq   uint64
	tasks map[Key]entry
}

// NewQueue returns an empty queue on the given clock.
func NewQueue(clock Clock) *Queue {
	if clock == nil {
		clock = RealClock()
	}
	return &Queue{clock: clock, tasks: make(map[Key]entry)}
}

// Clock returns the queue's time source.
func (q *Queue) Clock() Clock { return q.clock }

// Schedule arranges for fn to run after d.
func (q *Queue) Schedule(key Key, d time.Duration, fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if old, ok := q.tasks[key]; ok {
		old.timer.Stop()
	}
	q.seq++
	seq := q.seq
	timer := q.clock.AfterFunc(d, func() {
		q.mu.Lock()
		cur, ok := q.tasks[key]
		if !ok || cur.seq != seq {
			q.mu.Unlock()
			return
		}
		delete(q.tasks, key)
		q.mu.Unlock()
		fn()
	})
	q.tasks[key] = entry{timer: timer, seq: seq}
}

// Cancel drops the pending task for key, reporting whether one existed.
func (q *Queue) Cancel(key Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.tasks[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(q.tasks, key)
	return true
}

// CancelSession drops every task belonging to one session.
func (q *Queue) CancelSession(tab string, born int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for key, e := range q.tasks {
		if key.Tab == tab && key.Born == born {
			e.timer.Stop()
			delete(q.tasks, key)
			n++
		}
	}
	return n
}

// Pending reports whether a task for key is waiting to run.
func (q *Queue) Pending(key Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tasks[key]
	return ok
}

// Len returns the number of waiting tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
