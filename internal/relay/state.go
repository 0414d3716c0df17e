package relay

import "relaygram/internal/clock"

// SchedulerState is every piece of mutable engine state. It is owned by the
// loop goroutine.
type SchedulerState struct {
	// queues in creation order; drain ticks walk them in this order.
	queues []*Queue

	idle   map[*Queue]clock.Timer
	writes map[*Queue]clock.Timer

	chains  map[string]*chain
	sending map[string]bool
}

func newSchedulerState() *SchedulerState {
	return &SchedulerState{
		idle:    map[*Queue]clock.Timer{},
		writes:  map[*Queue]clock.Timer{},
		chains:  map[string]*chain{},
		sending: map[string]bool{},
	}
}

// chain is the delivery timer list of one profile.
type chain struct {
	items  []Item
	timers []clock.Timer
	// inflight counts items popped but not yet acknowledged by the sink.
	inflight int
	// last is closed when the most recently dispatched send finishes.
	last chan struct{}
}

func (st *SchedulerState) chain(profile string) *chain {
	c := st.chains[profile]
	if c == nil {
		c = &chain{}
		st.chains[profile] = c
	}
	return c
}

func (st *SchedulerState) inProgress(profile string) bool { return st.sending[profile] }

func (st *SchedulerState) setSending(profile string, v bool) {
	if v {
		st.sending[profile] = true
		return
	}
	delete(st.sending, profile)
}
