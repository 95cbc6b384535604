package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"assetsy/internal/alert"
	"assetsy/internal/bot"
	"assetsy/internal/config"
	"assetsy/internal/eventbus"
	"assetsy/internal/notifier"
	"assetsy/internal/observability"
	"assetsy/internal/pipeline"
	rtsup "assetsy/internal/runtime/supervisor"
	"assetsy/internal/source"
	"assetsy/internal/source/fab"
	"assetsy/internal/source/fetch"
	"assetsy/internal/source/unity"
	"assetsy/internal/storage"
	"assetsy/internal/task/scheduler"
	kit "assetsy/internal/transport"
	telegram "assetsy/internal/transport/telegram/adapter"
	"assetsy/internal/transport/telegram/router"
	logx "assetsy/pkg/logx"
)

// PipelineJob is the scheduler job name of the change-detection run.
const PipelineJob = "pipeline"

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  kit.Adapter
	router   *router.Router
	registry *source.Registry
	notif    *notifier.Service
	pipe     *pipeline.Pipeline
	sched    *scheduler.Service
	alerts   *alert.Service
	obs      *observability.Server

	updates chan kit.Update

	// schedule and timeout of the registered pipeline job
	jobMu      sync.Mutex
	jobSpec    string
	jobTimeout time.Duration
}

// NewApp loads cfgPath and builds every component. Nothing runs until Start.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validateSchedule)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegramConfig(cfg), logx.NewConsole(cfg.Logging.Level))
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg, ad)
}

func validateSchedule(_ context.Context, cfg *config.Config) error {
	if _, err := scheduler.ParseSchedule(cfg.Scheduler.ScheduleOrDefault()); err != nil {
		return fmt.Errorf("scheduler.schedule: %w", err)
	}
	return nil
}

func build(cfgm *config.Manager, cfg *config.Config, ad kit.Adapter) (*App, error) {
	logSvc, log := logx.NewService(logConfig(cfg), ad)
	cfgm.SetLogger(log)
	bus := eventbus.New()

	store, err := storage.Open(storageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	f, err := fetch.New(fetchConfig(cfg))
	if err != nil {
		return fail(err)
	}
	reg, err := buildRegistry(cfg, f, bus, log)
	if err != nil {
		return fail(err)
	}

	notif := notifier.New(notifierConfig(cfg), ad, log, bus).WithMarkup(bot.MainKeyboard())
	pipe, err := pipeline.New(pipeline.Deps{
		Registry: reg,
		Store:    store,
		Sender:   notif,
		Bus:      bus,
		Log:      log,
	}, pipelineConfig(cfg))
	if err != nil {
		return fail(err)
	}

	rt := router.New(log, ad, routerOptions(cfg))
	b := bot.New(bot.Deps{Registry: reg, Store: store, Bus: bus, Log: log})
	if err := rt.SetRegistry(b.Routes()); err != nil {
		return fail(err)
	}

	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		router:   rt,
		registry: reg,
		notif:    notif,
		pipe:     pipe,
		sched:    scheduler.New(schedulerConfig(cfg), log),
		alerts:   alert.New(alertConfig(cfg), notif, reg, log),
		updates:  make(chan kit.Update, 256),
	}
	a.obs = observability.New(observabilityConfig(cfg), a.health, log)
	return a, nil
}

// buildRegistry registers the enabled sources in display order, each behind
// its own breaker.
func buildRegistry(cfg *config.Config, f fetch.Fetcher, bus eventbus.Bus, log logx.Logger) (*source.Registry, error) {
	var entries []source.Entry
	if s := cfg.Sources.Unity; s.On() {
		e := unity.Entry(f, log)
		if u := strings.TrimSpace(s.URL); u != "" {
			e.Extractor = unity.New(f, log).WithURL(u)
		}
		entries = append(entries, e)
	}
	if s := cfg.Sources.Fab; s.On() {
		e := fab.Entry(f, log)
		if u := strings.TrimSpace(s.URL); u != "" {
			e.Extractor = fab.New(f, log).WithURL(u)
		}
		entries = append(entries, e)
	}
	bc := breakerConfig(cfg)
	for i := range entries {
		entries[i] = source.WithBreaker(entries[i], bc, bus, log)
	}
	return source.NewRegistry(entries...)
}

func (a *App) health(ctx context.Context) error {
	return a.store.Ping(ctx)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	run := a.sup.Context()
	cfg := a.cfgm.Get()

	if err := a.adapter.Start(run, a.updates); err != nil {
		return err
	}
	if err := a.router.PublishMenu(run); err != nil {
		a.log.Warn("command menu not published", logx.Err(err))
	}
	a.sup.Go("router", func(c context.Context) error { return a.router.Run(c, a.updates) })
	a.sup.Go("alerts", func(c context.Context) error { return a.alerts.Run(c, a.bus) })

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if err := a.obs.Start(run); err != nil {
		return err
	}

	if err := a.schedulePipeline(cfg); err != nil {
		return err
	}
	a.sched.Start(run)
	if cfg.Scheduler.RunOnStart {
		a.sup.Go0("pipeline.initial", func(c context.Context) {
			if err := a.sched.RunNow(c, PipelineJob); err != nil {
				a.log.Warn("initial run failed", logx.Err(err))
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.apply(c, next)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error { return a.cfgm.Watch(c) })

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		observability.RunWatchdog(c, a.log, func() bool {
			hc, cancel := context.WithTimeout(c, 2*time.Second)
			defer cancel()
			return a.health(hc) == nil
		})
	})
	observability.NotifyReady(a.log)

	a.log.Info("app started",
		logx.Int("sources", a.registry.Len()),
		logx.String("schedule", cfg.Scheduler.ScheduleOrDefault()),
	)
	return nil
}

// schedulePipeline registers (or replaces) the pipeline job when its
// schedule or timeout changed.
func (a *App) schedulePipeline(cfg *config.Config) error {
	spec, timeout := cfg.Scheduler.ScheduleOrDefault(), runTimeout(cfg)
	a.jobMu.Lock()
	defer a.jobMu.Unlock()
	if spec == a.jobSpec && timeout == a.jobTimeout {
		return nil
	}
	if err := a.sched.Add(PipelineJob, spec, timeout, a.runPipeline); err != nil {
		return err
	}
	a.jobSpec, a.jobTimeout = spec, timeout
	return nil
}

// runPipeline is the scheduled job. The pipeline logs its own summary and
// the scheduler logs the trigger.
func (a *App) runPipeline(ctx context.Context) error {
	_, err := a.pipe.Run(ctx)
	return err
}

// apply pushes a reloaded config into the live components. Restart-only
// sections are left as they are.
func (a *App) apply(ctx context.Context, cfg *config.Config) {
	a.logs.Apply(logConfig(cfg))
	a.sched.Apply(schedulerConfig(cfg))
	if err := a.schedulePipeline(cfg); err != nil {
		a.log.Warn("invalid schedule; keeping previous", logx.Err(err))
	}
	a.pipe.Apply(pipelineConfig(cfg))
	a.notif.Apply(notifierConfig(cfg))
	a.alerts.Apply(alertConfig(cfg))
	if err := a.obs.Reconfigure(ctx, observabilityConfig(cfg)); err != nil {
		a.log.Warn("observability reconfigure failed", logx.Err(err))
	}
	a.log.Debug("config applied")
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	observability.NotifyStopping(a.log)
	a.sup.Cancel()

	var errs []error
	// step runs fn bounded by limit (never past ctx's deadline) and keeps going
	// when a component does not return in time.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, limit)
		defer cancel()

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
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline",
					logx.String("name", name),
					logx.Bool("error", err != nil),
					logx.Duration("took", time.Since(start)),
				)
			}()
		}
	}

	// scheduler first: it waits for an in-flight run to finish its sends
	step("scheduler", 10*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	_ = a.logs.Close()
	return errors.Join(errs...)
}
