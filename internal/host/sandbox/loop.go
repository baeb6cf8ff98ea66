package sandbox

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/injectcore/internal/shared/clock"
)

// Loop is the host's single task queue. Timers fire through the fake clock
// only while the loop is settling, and tasks they post run before the next
// timer.
type Loop struct {
	clock *clock.Fake

	mu    sync.Mutex
	tasks []func()
}

// NewLoop creates a loop over clk
func NewLoop(clk *clock.Fake) *Loop {
	return &Loop{clock: clk}
}

// Clock returns the loop clock
func (l *Loop) Clock() *clock.Fake { return l.clock }

// Post queues fn as a separate task
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
}

// Len returns the number of queued tasks
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Drain runs queued tasks, including those posted while draining, until the
// queue is empty
func (l *Loop) Drain() {
	for {
		l.mu.Lock()
		if len(l.tasks) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.tasks[0]
		l.tasks = l.tasks[1:]
		l.mu.Unlock()
		fn()
	}
}

// RunFor drains the queue, then fires timers in deadline order up to d of
// virtual time from now, draining after each one
func (l *Loop) RunFor(d time.Duration) {
	end := l.clock.Now().Add(d)
	l.Drain()
	for {
		next, ok := l.clock.NextDeadline()
		if !ok || next.After(end) {
			break
		}
		l.clock.Advance(next.Sub(l.clock.Now()))
		l.Drain()
	}
	if now := l.clock.Now(); now.Before(end) {
		l.clock.Advance(end.Sub(now))
	}
	l.Drain()
}
