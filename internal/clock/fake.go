package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually driven clock. Callbacks run synchronously on the
// goroutine that calls Advance or FakeTimer.Fire, never while the clock's
// lock is held, so callbacks may arm new timers.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*FakeTimer
}

func NewFake(start time.Time) *Fake {
	if start.IsZero() {
		start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Fake{now: start}
}

type FakeTimer struct {
	c    *Fake
	at   time.Time
	seq  uint64
	fn   func()
	done bool
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	t := &FakeTimer{c: f, at: f.now.Add(d), seq: f.seq, fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// Deadline is the instant the timer is due.
func (t *FakeTimer) Deadline() time.Time { return t.at }

func (t *FakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	t.c.removeLocked(t)
	return true
}

// Fire runs the timer callback now, regardless of its deadline.
// It reports false if the timer was already stopped or fired.
func (t *FakeTimer) Fire() bool {
	t.c.mu.Lock()
	if t.done {
		t.c.mu.Unlock()
		return false
	}
	t.done = true
	t.c.removeLocked(t)
	t.c.mu.Unlock()
	t.fn()
	return true
}

func (f *Fake) removeLocked(t *FakeTimer) {
	for i, x := range f.timers {
		if x == t {
			f.timers = append(f.timers[:i], f.timers[i+1:]...)
			return
		}
	}
}

// Pending returns the armed timers ordered by deadline, then creation order.
func (f *Fake) Pending() []*FakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]*FakeTimer(nil), f.timers...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].at.Equal(out[j].at) {
			return out[i].at.Before(out[j].at)
		}
		return out[i].seq < out[j].seq
	})
	return out
}

// Advance moves time forward by d, firing every timer that becomes due in
// deadline order. Timers armed by callbacks with a deadline inside the
// window also fire.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		var next *FakeTimer
		for _, t := range f.timers {
			if t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
				next = t
			}
		}
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		if next.at.After(f.now) {
			f.now = next.at
		}
		next.done = true
		f.removeLocked(next)
		f.mu.Unlock()
		next.fn()
	}
}
