package app

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"relaygram/internal/config"
	"relaygram/internal/eventbus"
	"relaygram/internal/observability/debug"
	"relaygram/internal/origin"
	"relaygram/internal/relay"
	"relaygram/internal/runtime/supervisor"
	"relaygram/internal/storage"
	"relaygram/internal/task/scheduler"
	"relaygram/internal/transport/telegram"
	logx "relaygram/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter

	engine *relay.Engine
	sched  *scheduler.Service
	debug  *debug.Service

	profiles []config.Profile
	relay    relaySettings
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	rs, err := mapRelayConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Important: logx.New() calls Apply() immediately. Bootstrap with Telegram
	// logging disabled, set the target, then Apply() the final config so an
	// enabled sink never warns about a missing target.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, root := logx.New(bootCfg, nil)
	log := root.With(logx.String("comp", "app"))

	tgCfg, err := mapTelegramConfig(cfg, rs)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(tgCfg, root.With(logx.String("comp", "telegram")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	logSvc.SetSender(ad)
	if chatID, ok := logTarget(cfg); ok {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)

	profiles, tags, tf, err := loadDomain(cfg, root)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	openCtx, cancel := context.WithTimeout(context.Background(), sc.OpenTimeout+30*time.Second)
	store, err := storage.Open(openCtx, sc, root.With(logx.String("comp", "storage")))
	cancel()
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("env", sc.Env))

	bus := eventbus.New()

	engCfg := rs.Engine
	engCfg.Profiles = profiles
	eng, err := relay.New(engCfg, relay.Deps{
		Store:       store,
		Origin:      origin.New(store, root.With(logx.String("comp", "origin"))),
		Transformer: tf,
		Sink:        ad,
		Bus:         bus,
		Log:         root,
	})
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		engine:   eng,
		sched:    scheduler.New(scheduler.Config{}, root.With(logx.String("comp", "scheduler")), bus),
		profiles: profiles,
		relay:    rs,
	}

	dc, enabled, err := mapDebugConfig(cfg)
	if err != nil {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}
	if enabled {
		a.debug = debug.New(dc, a.health, root.With(logx.String("comp", "debug")))
	}

	log.Info("relay configured",
		logx.Int("profiles", len(profiles)),
		logx.Int("tag_groups", len(tags)),
		logx.String("main_schedule", rs.MainSchedule),
	)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	runCtx := a.sup.Context()

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	// Every output channel must be reachable before anything is relayed.
	outputs := make(map[string]string, len(a.profiles))
	for _, p := range a.profiles {
		outputs["profile "+p.Name] = p.OutputChannel
	}
	if err := a.adapter.ResolveChats(runCtx, outputs); err != nil {
		return fmt.Errorf("output channels: %w", err)
	}

	if err := a.engine.Start(runCtx); err != nil {
		return fmt.Errorf("relay start: %w", err)
	}
	if err := a.adapter.Start(runCtx, a.engine.Sources(), a.store, a.engine); err != nil {
		return err
	}
	if err := a.registerSchedules(); err != nil {
		return err
	}
	a.sched.Start()

	if a.debug != nil {
		if err := a.debug.Start(runCtx); err != nil {
			return err
		}
	}

	a.sup.Go("eventbus.log", func(c context.Context) error {
		events, unsub := a.bus.Subscribe(128, "relay.", "scheduler.")
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				// Keep this debug-level to avoid noise from frequent ticks.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
		return nil
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go("systemd.watchdog", a.watchdog)

	notifySystemd(a.log, sdReady)
	a.log.Info("app started", logx.Int("sources", len(a.engine.Sources())))
	return nil
}

// registerSchedules wires the main drain tick, one secondary tick per
// redirector profile and the journal pruning job.
func (a *App) registerSchedules() error {
	rs := a.relay
	err := a.sched.AddSchedule("relay.main", rs.MainSchedule, 0, func(c context.Context) error {
		return a.engine.Tick(c, "")
	})
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for _, st := range secondaryTicks(a.profiles, rs, rng) {
		source := st.source
		if err := a.sched.AddInterval(st.name, st.every, 0, func(c context.Context) error {
			return a.engine.Tick(c, source)
		}); err != nil {
			return err
		}
		a.log.Info("secondary tick scheduled", logx.String("profile", st.profile), logx.String("source", source), logx.Duration("every", st.every))
	}

	return a.sched.AddSchedule("journal.prune", rs.PruneSchedule, time.Minute, func(c context.Context) error {
		cutoff := time.Now().Add(-rs.JournalRetention)
		n, err := a.store.PruneItems(c, cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			a.log.Info("journal pruned", logx.Int64("rows", n), logx.Time("cutoff", cutoff))
		}
		return nil
	})
}

type secondaryTick struct {
	name    string
	profile string
	source  string
	every   time.Duration
}

// secondaryTicks plans one tick per profile with a redirector, filtered to
// the redirector's source key.
func secondaryTicks(profiles []config.Profile, rs relaySettings, rng *rand.Rand) []secondaryTick {
	var out []secondaryTick
	for _, p := range profiles {
		if p.Redirector == "" {
			continue
		}
		out = append(out, secondaryTick{
			name:    "relay.secondary." + p.Name,
			profile: p.Name,
			source:  p.Redirector,
			every:   scheduler.RandomMinutes(rng, rs.SecondaryMin, rs.SecondaryMax),
		})
	}
	return out
}

// reloadLoop applies the logging section of every committed config. Other
// sections only take effect after a restart.
func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}

			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)

			var pending []string
			for _, s := range sections {
				if s != "logging" {
					pending = append(pending, s)
				}
			}
			if len(pending) > 0 {
				a.log.Warn("config changed; restart required for changes to take effect", logx.String("sections", strings.Join(pending, ",")))
			}

			// update log target first (so Apply() doesn't warn when Telegram logging is enabled)
			if chatID, ok := logTarget(newCfg); ok {
				a.logs.SetTelegramTarget(chatID, newCfg.Logging.Telegram.ThreadID)
			} else {
				a.logs.SetTelegramTarget(0, 0)
			}
			a.logs.Apply(mapLogConfig(newCfg))

			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) health(ctx context.Context) (any, error) {
	c, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st, err := a.engine.Stats(c)
	if err != nil {
		return nil, fmt.Errorf("relay loop: %w", err)
	}
	out := map[string]any{
		"relay":       st,
		"scheduler":   a.sched.Snapshot(),
		"bus_dropped": a.bus.Dropped(),
		"log_dropped": a.logs.TelegramDropped(),
	}
	if a.sup != nil {
		out["tasks"] = a.sup.Snapshot()
	}
	return out, nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifySystemd(a.log, sdStopping)

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				took := time.Since(start)
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
				} else {
					a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
				}
			}()
		}
	}

	// No new ticks first, then flush and drain the engine before the
	// transport and the store go away.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("relay", 10*time.Second, func(c context.Context) error { return a.engine.Stop(c) })
	step("debug", 1*time.Second, func(c context.Context) error {
		if a.debug != nil {
			a.debug.Stop(c)
		}
		return nil
	})
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	// Finally, cancel and wait for supervised goroutines (config watch/reload, watchdog, event log).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Stop(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
