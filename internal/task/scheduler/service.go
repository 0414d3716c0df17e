package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"relaygram/internal/config"
	"relaygram/internal/eventbus"
	logx "relaygram/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "scheduler")),
		bus:    bus,
		parser: cronParser,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether AddSchedule would accept schedule.
func ValidateSchedule(schedule string) error {
	ps, err := config.ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if ps.Kind == config.SpecCron {
		if _, err := cronParser.Parse(strings.TrimSpace(ps.Cron)); err != nil {
			return fmt.Errorf("invalid cron %q: %w", ps.Cron, err)
		}
	}
	return nil
}

// AddSchedule registers job under a relay schedule string (cron, duration or HH:MM).
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	ps, err := config.ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if ps.Kind == config.SpecInterval {
		return s.AddInterval(name, ps.Every, timeout, job)
	}
	return s.AddCron(name, ps.Cron, timeout, job)
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	sched, err := s.parser.Parse(strings.TrimSpace(spec))
	if err != nil {
		return fmt.Errorf("%s: invalid cron %q: %w", name, spec, err)
	}
	return s.add(&scheduleDef{name: name, spec: spec, sched: sched, timeout: timeout, job: job})
}

// AddInterval runs job every interval. The first run is spread by a small
// random delay so jobs added together do not fire together.
func (s *Service) AddInterval(name string, every, timeout time.Duration, job Job) error {
	if every <= 0 {
		return fmt.Errorf("%s: interval must be positive", name)
	}
	sched, spread := makeIntervalScheduleWithSpread(every, time.Now())
	return s.add(&scheduleDef{
		name:          name,
		spec:          "@every " + every.String(),
		sched:         sched,
		timeout:       timeout,
		job:           job,
		startupSpread: spread,
	})
}

func (s *Service) add(d *scheduleDef) error {
	if d.job == nil {
		return errors.New("scheduler: nil job")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, x := range s.defs {
		if x.name == d.name {
			return fmt.Errorf("scheduler: duplicate schedule %q", d.name)
		}
	}
	s.defs = append(s.defs, d)
	if s.c != nil {
		s.registerLocked(d)
	}
	return nil
}

func (s *Service) registerLocked(d *scheduleDef) {
	d.entryID = s.c.Schedule(d.sched, cron.FuncJob(func() { s.trigger(d) }))
	s.log.Info("schedule registered",
		logx.String("name", d.name),
		logx.String("spec", d.spec),
		logx.Duration("startup_spread", d.startupSpread),
		logx.Time("next", s.c.Entry(d.entryID).Next),
	)
}

// Start begins triggering registered schedules.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.c.Start()
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop stops triggering and cancels running jobs, waiting for them until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("jobs still running at stop")
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// RunNow triggers a schedule immediately, outside its timetable.
func (s *Service) RunNow(name string) bool {
	s.mu.Lock()
	var d *scheduleDef
	for _, x := range s.defs {
		if x.name == name {
			d = x
		}
	}
	s.mu.Unlock()
	if d == nil {
		return false
	}
	s.trigger(d)
	return true
}

func (s *Service) trigger(d *scheduleDef) {
	if s.ctx.Err() != nil {
		return
	}
	if !d.running.CompareAndSwap(false, true) {
		d.skipped.Add(1)
		s.log.Warn("previous run still in progress, skipping", logx.String("name", d.name))
		s.publish(EventRunSkipped, RunEvent{Name: d.name})
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer d.running.Store(false)
		s.execute(d)
	}()
}

func (s *Service) execute(d *scheduleDef) {
	ctx := s.ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return d.job(ctx)
	}()
	d.runs.Add(1)
	ev := RunEvent{Name: d.name, Took: time.Since(start)}
	if err != nil {
		ev.Error = err.Error()
		s.log.Error("scheduled job failed", logx.String("name", d.name), logx.Duration("took", ev.Took), logx.Err(err))
		s.publish(EventRunFailed, ev)
		return
	}
	s.log.Debug("scheduled job finished", logx.String("name", d.name), logx.Duration("took", ev.Took))
	s.publish(EventRunFinished, ev)
}

func (s *Service) publish(typ string, data RunEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: time.Now(), Data: data})
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	out := Snapshot{Timezone: loc.String(), Schedules: make([]ScheduleInfo, 0, len(s.defs))}
	for _, d := range s.defs {
		it := ScheduleInfo{
			Name:    d.name,
			Spec:    d.spec,
			Timeout: d.timeout,
			Runs:    d.runs.Load(),
			Skipped: d.skipped.Load(),
			Running: d.running.Load(),
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		out.Schedules = append(out.Schedules, it)
	}
	return out
}
