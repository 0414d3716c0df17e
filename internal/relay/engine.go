package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"relaygram/internal/clock"
	"relaygram/internal/config"
	"relaygram/internal/eventbus"
	logx "relaygram/pkg/logx"
)

// Config tunes the engine. Zero durations take the defaults below.
type Config struct {
	Profiles []config.Profile

	JitterMin    time.Duration // default 10s
	JitterMax    time.Duration // default 20s
	TimeBudget   time.Duration // default 30m
	PersistDelay time.Duration // default 1s

	FetchTimeout time.Duration // default 30s
	SendTimeout  time.Duration // default 30s
	StoreTimeout time.Duration // default 10s
}

func (c Config) withDefaults() Config {
	def := func(d *time.Duration, v time.Duration) {
		if *d <= 0 {
			*d = v
		}
	}
	def(&c.JitterMin, 10*time.Second)
	def(&c.JitterMax, 20*time.Second)
	def(&c.TimeBudget, 30*time.Minute)
	def(&c.PersistDelay, time.Second)
	def(&c.FetchTimeout, 30*time.Second)
	def(&c.SendTimeout, 30*time.Second)
	def(&c.StoreTimeout, 10*time.Second)
	if c.JitterMax < c.JitterMin {
		c.JitterMax = c.JitterMin
	}
	return c
}

// Deps are the engine's collaborators. Clock and Rand default to the real
// clock and a time-seeded source.
type Deps struct {
	Store       QueueStore
	Origin      Origin
	Transformer Transformer
	Sink        Sink

	Clock clock.Clock
	Rand  *rand.Rand
	Bus   eventbus.Bus
	Log   logx.Logger
}

// Engine is the queue registry plus drain scheduler.
type Engine struct {
	cfg  Config
	log  logx.Logger
	clk  clock.Clock
	rng  *rand.Rand
	bus  eventbus.Bus
	loop *Loop

	store  QueueStore
	origin Origin
	tf     Transformer
	sink   Sink

	profiles map[string]config.Profile
	// bySource lists the profiles that take each source, in name order.
	bySource map[string][]string

	st *SchedulerState

	ctx    context.Context
	cancel context.CancelFunc
	sends  sync.WaitGroup
}

func New(cfg Config, d Deps) (*Engine, error) {
	if len(cfg.Profiles) == 0 {
		return nil, config.ErrNoProfiles
	}
	if d.Store == nil || d.Origin == nil || d.Transformer == nil || d.Sink == nil {
		return nil, errors.New("relay: store, origin, transformer and sink are required")
	}
	cfg = cfg.withDefaults()
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "relay"))
	clk := d.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	rng := d.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	e := &Engine{
		cfg:      cfg,
		log:      log,
		clk:      clk,
		rng:      rng,
		bus:      d.Bus,
		loop:     NewLoop(log),
		store:    d.Store,
		origin:   d.Origin,
		tf:       d.Transformer,
		sink:     d.Sink,
		profiles: make(map[string]config.Profile, len(cfg.Profiles)),
		bySource: map[string][]string{},
		st:       newSchedulerState(),
	}
	for _, p := range cfg.Profiles {
		if _, dup := e.profiles[p.Name]; dup {
			return nil, fmt.Errorf("relay: duplicate profile %q", p.Name)
		}
		e.profiles[p.Name] = p
		for _, src := range p.SourceKeys() {
			e.bySource[src] = append(e.bySource[src], p.Name)
		}
	}
	for src := range e.bySource {
		sort.Strings(e.bySource[src])
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Start runs the event loop and reinstates persisted queues.
func (e *Engine) Start(ctx context.Context) error {
	e.loop.Start()
	var loadErr error
	if err := e.loop.Call(ctx, func() { loadErr = e.load(ctx) }); err != nil {
		return err
	}
	return loadErr
}

// Sources returns every source key taken by at least one profile.
func (e *Engine) Sources() []string {
	out := make([]string, 0, len(e.bySource))
	for src := range e.bySource {
		out = append(out, src)
	}
	sort.Strings(out)
	return out
}

// OnNewItem records a new post of source in the open queue of every profile
// taking that source.
func (e *Engine) OnNewItem(source string, id int64) {
	profiles := e.bySource[source]
	if len(profiles) == 0 || id <= 0 {
		return
	}
	e.loop.Post(func() {
		for _, p := range profiles {
			q := e.getOrCreate(source, p)
			e.recordActivity(q, id)
		}
	})
}

// Touch restarts the idle timers of the open queues of source, if any.
// Edits and deletions call it so a queue does not close mid-edit.
func (e *Engine) Touch(source string) {
	profiles := e.bySource[source]
	if len(profiles) == 0 {
		return
	}
	e.loop.Post(func() {
		for _, p := range profiles {
			if q := e.findOpen(source, p); q != nil {
				e.armIdle(q)
			}
		}
	})
}

// Tick runs one drain pass and waits for it. A non-empty source limits the
// pass to that source's queues.
func (e *Engine) Tick(ctx context.Context, source string) error {
	return e.loop.Call(ctx, func() { e.tick(source) })
}

// QueueInfo is a read-only view of one tracked queue.
type QueueInfo struct {
	ID      int64  `json:"id"`
	Profile string `json:"profile"`
	Source  string `json:"source"`
	MinID   int64  `json:"min_id"`
	MaxID   int64  `json:"max_id"`
	Open    bool   `json:"open"`
}

// Stats is a point-in-time summary of the engine state.
type Stats struct {
	Queues  []QueueInfo    `json:"queues"`
	Sending []string       `json:"sending"`
	Timers  map[string]int `json:"delivery_timers"`
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := e.loop.Call(ctx, func() {
		for _, q := range e.st.queues {
			s.Queues = append(s.Queues, QueueInfo{ID: q.ID, Profile: q.Profile, Source: q.Source, MinID: q.MinID, MaxID: q.MaxID, Open: q.Open})
		}
		for p := range e.st.sending {
			s.Sending = append(s.Sending, p)
		}
		sort.Strings(s.Sending)
		s.Timers = map[string]int{}
		for p, c := range e.st.chains {
			if len(c.timers) > 0 {
				s.Timers[p] = len(c.timers)
			}
		}
	})
	return s, err
}

// Stop flushes pending writes, cancels every timer, waits for in-flight
// sends and stops the loop. Undelivered timers are dropped.
func (e *Engine) Stop(ctx context.Context) error {
	start := time.Now()
	e.log.Info("stop requested")

	err := e.loop.Call(ctx, func() {
		e.flushWrites()
		e.cancelTimers()
	})
	if errors.Is(err, ErrNotStarted) {
		e.cancel()
		return nil
	}
	if err != nil && !errors.Is(err, ErrStopped) {
		e.log.Warn("stop: loop did not drain", logx.Err(err))
	}

	waited := make(chan struct{})
	go func() {
		e.sends.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		e.log.Warn("stop: deliveries still in flight", logx.Err(ctx.Err()))
	}

	stopErr := e.loop.Stop(ctx)
	e.cancel()
	e.log.Info("stopped", logx.Duration("took", time.Since(start)))
	return stopErr
}

func (e *Engine) cancelTimers() {
	for q, t := range e.st.idle {
		t.Stop()
		delete(e.st.idle, q)
	}
	for q, t := range e.st.writes {
		t.Stop()
		delete(e.st.writes, q)
	}
	for p, c := range e.st.chains {
		if len(c.items) > 0 {
			e.log.Warn("dropping scheduled deliveries", logx.String("profile", p), logx.Int("items", len(c.items)))
		}
		for _, t := range c.timers {
			t.Stop()
		}
		c.timers, c.items = nil, nil
	}
}

func (e *Engine) closeInterval(q *Queue) time.Duration {
	p, ok := e.profiles[q.Profile]
	if !ok {
		return config.DefaultCloseInterval
	}
	if d := p.Settings(q.Source).CloseQueueInterval; d > 0 {
		return d
	}
	return config.DefaultCloseInterval
}

// storeCtx bounds one store round-trip.
func (e *Engine) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.ctx, e.cfg.StoreTimeout)
}
