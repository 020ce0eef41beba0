// Package eventloop runs every engine operation of one runtime on a single
// goroutine locked to its OS thread, and schedules Go-backed timers on it.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned for work submitted after Close.
var ErrClosed = errors.New("event loop closed")

// minInterval is the floor applied to repeating timers.
const minInterval = 10 * time.Millisecond

// timerEntry represents a pending setTimeout or setInterval callback. The
// JS side of the callback lives with the caller; the loop only tracks
// scheduling metadata.
type timerEntry struct {
	deadline time.Time
	interval time.Duration // 0 for one-shot timers
	id       int
	seq      uint64 // registration order, breaks deadline ties
	fire     func(id int)
}

// Loop owns the goroutine that touches the engine.
type Loop struct {
	mu      sync.Mutex
	timers  map[int]*timerEntry
	nextID  int
	nextSeq uint64

	tasks   chan func()
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	pending atomic.Int64 // queued tasks not yet finished
	gid     atomic.Uint64
	closed  atomic.Bool

	// afterTick runs after every task or timer batch, on the loop.
	afterTick func()
}

// New creates and starts a loop. afterTick may be nil.
func New(afterTick func()) *Loop {
	l := &Loop{
		timers:    make(map[int]*timerEntry),
		tasks:     make(chan func(), 64),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		afterTick: afterTick,
	}
	started := make(chan struct{})
	go l.run(started)
	<-started
	return l
}

func (l *Loop) run(started chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)

	l.gid.Store(goroutineID())
	close(started)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		l.armTimer(timer)
		select {
		case fn := <-l.tasks:
			fn()
			l.tick()
		case <-timer.C:
			if l.fireDue() {
				l.tick()
			}
		case <-l.wake:
		case <-l.quit:
			l.rejectQueued()
			return
		}
	}
}

func (l *Loop) tick() {
	if l.afterTick != nil {
		l.afterTick()
	}
}

// armTimer points t at the earliest deadline.
func (l *Loop) armTimer(t *time.Timer) {
	l.mu.Lock()
	var next *timerEntry
	for _, e := range l.timers {
		if next == nil || e.deadline.Before(next.deadline) {
			next = e
		}
	}
	l.mu.Unlock()

	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	if next == nil {
		t.Reset(time.Hour)
		return
	}
	t.Reset(time.Until(next.deadline))
}

// fireDue runs every timer whose deadline has passed, earliest first.
func (l *Loop) fireDue() bool {
	fired := false
	for {
		l.mu.Lock()
		now := time.Now()
		var next *timerEntry
		for _, e := range l.timers {
			if e.deadline.After(now) {
				continue
			}
			if next == nil || e.deadline.Before(next.deadline) ||
				(e.deadline.Equal(next.deadline) && e.seq < next.seq) {
				next = e
			}
		}
		if next == nil {
			l.mu.Unlock()
			return fired
		}
		if next.interval > 0 {
			next.deadline = now.Add(next.interval)
		} else {
			delete(l.timers, next.id)
		}
		fire, id := next.fire, next.id
		l.mu.Unlock()

		fire(id)
		fired = true
	}
}

func (l *Loop) rejectQueued() {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		default:
			return
		}
	}
}

// OnLoop reports whether the caller is running on the loop goroutine.
func (l *Loop) OnLoop() bool { return goroutineID() == l.gid.Load() }

// Do runs fn on the loop and waits for it. Called from the loop itself it
// runs fn inline. A panic in fn is returned as an error.
func (l *Loop) Do(fn func()) (err error) {
	if l.OnLoop() {
		return protect(fn)
	}
	if l.closed.Load() {
		return ErrClosed
	}
	result := make(chan error, 1)
	task := func() {
		if l.closed.Load() {
			result <- ErrClosed
			return
		}
		result <- protect(fn)
	}
	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrClosed
	}
	select {
	case err = <-result:
		return err
	case <-l.done:
		select {
		case err = <-result:
			return err
		default:
			return ErrClosed
		}
	}
}

// Post queues fn without waiting. Panics in fn are handed to onPanic.
func (l *Loop) Post(fn func(), onPanic func(error)) error {
	if l.closed.Load() {
		return ErrClosed
	}
	l.pending.Add(1)
	task := func() {
		defer l.pending.Add(-1)
		if l.closed.Load() {
			return
		}
		if err := protect(fn); err != nil && onPanic != nil {
			onPanic(err)
		}
	}
	select {
	case l.tasks <- task:
		return nil
	case <-l.done:
		l.pending.Add(-1)
		return ErrClosed
	}
}

func protect(fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic on event loop: %v", p)
		}
	}()
	fn()
	return nil
}

// RegisterTimer schedules fire to run on the loop after delay, repeatedly
// when isInterval is set. It returns the timer's ID.
func (l *Loop) RegisterTimer(delay time.Duration, isInterval bool, fire func(id int)) int {
	if delay < 0 {
		delay = 0
	}
	l.mu.Lock()
	l.nextID++
	l.nextSeq++
	id := l.nextID
	entry := &timerEntry{
		deadline: time.Now().Add(delay),
		id:       id,
		seq:      l.nextSeq,
		fire:     fire,
	}
	if isInterval {
		if delay < minInterval {
			delay = minInterval
		}
		entry.interval = delay
	}
	l.timers[id] = entry
	l.mu.Unlock()
	l.poke()
	return id
}

// ClearTimer cancels a timer by ID.
func (l *Loop) ClearTimer(id int) {
	l.mu.Lock()
	delete(l.timers, id)
	l.mu.Unlock()
	l.poke()
}

func (l *Loop) poke() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// HasPending returns true if there are active timers or queued tasks.
func (l *Loop) HasPending() bool {
	l.mu.Lock()
	n := len(l.timers)
	l.mu.Unlock()
	return n > 0 || l.pending.Load() > 0
}

// Wait blocks until no timers or queued tasks remain, or ctx is done.
// It must not be called from the loop goroutine.
func (l *Loop) Wait(ctx context.Context) error {
	if l.OnLoop() {
		return fmt.Errorf("eventloop: Wait called from the loop goroutine")
	}
	for l.HasPending() {
		if l.closed.Load() {
			return ErrClosed
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

// Reset clears all timers.
func (l *Loop) Reset() {
	l.mu.Lock()
	l.timers = make(map[int]*timerEntry)
	l.nextID = 0
	l.mu.Unlock()
	l.poke()
}

// Close stops the loop after the task that is currently running. Tasks
// still queued are dropped and their callers get ErrClosed.
func (l *Loop) Close() {
	if l.closed.Swap(true) {
		return
	}
	l.Reset()
	close(l.quit)
	if !l.OnLoop() {
		<-l.done
	}
}
