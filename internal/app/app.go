// Package app wires configuration, logging, storage, notifications, the
// browser pool, the account runner and the scheduler into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"bumpbot/internal/browser"
	"bumpbot/internal/browser/rodctl"
	"bumpbot/internal/clock"
	"bumpbot/internal/config"
	"bumpbot/internal/eventbus"
	"bumpbot/internal/notifier"
	"bumpbot/internal/pool"
	"bumpbot/internal/runner"
	"bumpbot/internal/runtime/supervisor"
	"bumpbot/internal/scheduler"
	"bumpbot/internal/storage"
	"bumpbot/pkg/logx"
)

// Options configure New. Only ConfigPath is required.
type Options struct {
	ConfigPath string
	// EnvFiles are loaded before the config is parsed; missing files are skipped.
	EnvFiles []string
	// Launcher replaces the go-rod launcher.
	Launcher browser.Launcher
	Clock    clock.Clock
	// NoWatch disables config hot reload.
	NoWatch bool
}

type App struct {
	cfgm     *config.ConfigManager
	settings *config.Settings

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	clk   clock.Clock

	notif  *notifier.Service
	pool   *pool.Pool
	runner *runner.Runner
	sched  *scheduler.Scheduler

	noWatch bool
	sup     *supervisor.Supervisor
	done    chan struct{}

	mu      sync.Mutex
	summary scheduler.Summary
}

func New(opts Options) (*App, error) {
	loaded, err := config.LoadEnvFiles(opts.EnvFiles...)
	if err != nil {
		return nil, err
	}
	cfgm := config.NewConfigManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	settings, err := config.Normalize(cfg, os.Getenv)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := scheduler.ValidateAccounts(settings.Accounts, settings.Loop.Delay); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logSvc, log := logx.New(settings.Logging)
	log = log.With(logx.String("comp", "app"))
	for _, p := range loaded {
		log.Debug("env file loaded", logx.String("path", p))
	}
	for _, w := range cfg.Warnings {
		log.Warn("config warning", logx.String("detail", w))
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	bus := eventbus.New()

	var store storage.Store
	if sc, enabled := mapStorageConfig(settings); enabled {
		st, err := storage.Open(sc, log)
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	channels, err := buildChannels(settings, log)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	notif := notifier.New(mapNotifierConfig(settings), channels, log, bus, store)

	launcher := opts.Launcher
	if launcher == nil {
		overrides, unknown := selectorOverrides(settings)
		for _, k := range unknown {
			log.Warn("unknown selector role ignored", logx.String("role", k))
		}
		launcher = rodctl.New(overrides, log)
	}

	p := pool.New(log, bus)
	run := runner.New(runner.ConfigFrom(settings), runner.Deps{
		Pool:     p,
		Launcher: launcher,
		Clock:    clk,
		Notifier: notif,
		Runs:     store,
		Bus:      bus,
		Log:      log,
	})
	sched, err := scheduler.New(scheduler.PolicyFor(settings.Loop), settings.Accounts, scheduler.TimingFrom(settings.Loop), scheduler.Deps{
		Runner: run,
		Clock:  clk,
		Store:  store,
		Log:    log,
	})
	if err != nil {
		closeStore(store)
		return nil, err
	}

	return &App{
		cfgm:     cfgm,
		settings: settings,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		clk:      clk,
		notif:    notif,
		pool:     p,
		runner:   run,
		sched:    sched,
		noWatch:  opts.NoWatch,
		done:     make(chan struct{}),
	}, nil
}

func closeStore(st storage.Store) {
	if st != nil {
		_ = st.Close()
	}
}

// Done is closed when the scheduler has finished (including keep-alive) or
// the app context was canceled.
func (a *App) Done() <-chan struct{} { return a.done }

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Summary reports what the scheduler did so far.
func (a *App) Summary() scheduler.Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.summary
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	// notifier outlives the run context so Stop can flush queued events
	if a.notif.Enabled() {
		a.notif.Start(context.WithoutCancel(ctx))
		a.log.Info("notifier enabled", logx.String("channels", strings.Join(a.notif.Channels(), ",")))
	} else {
		a.log.Info("notifier disabled")
	}

	if a.bus != nil {
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
					a.logEvent(e)
				}
			}
		})
	}

	if !a.noWatch {
		a.startReload()
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}
	a.startWatchdog()

	a.sup.Go("scheduler", func(c context.Context) error {
		defer close(a.done)
		sum, err := a.sched.Run(c)
		a.mu.Lock()
		a.summary = sum
		a.mu.Unlock()
		if err != nil {
			if c.Err() != nil {
				return nil
			}
			return err
		}
		a.log.Info("scheduler finished",
			logx.Int("runs", sum.Runs), logx.Int("failures", sum.Failures), logx.Int("cycles", sum.Cycles), logx.Essential())
		a.keepAlive(c)
		return nil
	})

	sdNotify(a.log, sdReady)
	a.log.Info("app started", logx.String("policy", a.sched.Policy()), logx.Int("accounts", len(a.settings.Accounts)))
	return nil
}

// keepAlive holds the process open after a single pass so browsers stay visible.
func (a *App) keepAlive(ctx context.Context) {
	d := a.settings.KeepAlive
	if a.sched.Policy() != scheduler.PolicyOnce || d <= 0 {
		return
	}
	a.log.Info("keep-alive: holding the process open; browsers stay open", logx.String("for", config.FormatDelay(d)), logx.Essential())
	if err := a.clk.Sleep(ctx, d); err != nil {
		return
	}
	a.log.Info("keep-alive period over", logx.Essential())
}

func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case eventbus.RunData:
		a.log.Debug("event", logx.String("type", e.Type), logx.String("session", d.Session),
			logx.Int("attempt", d.Attempt), logx.String("kind", d.Kind), logx.Bool("success", d.Success))
	case eventbus.SessionData:
		a.log.Debug("event", logx.String("type", e.Type), logx.String("session", d.Session), logx.String("reason", d.Reason))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// validateConfig rejects a reload that would not normalize.
func validateConfig(_ context.Context, cfg *config.Config) error {
	s, err := config.Normalize(cfg, os.Getenv)
	if err != nil {
		return err
	}
	return scheduler.ValidateAccounts(s.Accounts, s.Loop.Delay)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)), logx.Essential())
	sdNotify(a.log, sdStopping)
	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
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
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("scheduler", 10*time.Second, func(c context.Context) error {
		select {
		case <-a.done:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	step("pool", 10*time.Second, func(context.Context) error {
		if n := a.pool.DrainAll(); n > 0 {
			a.log.Info("browsers closed", logx.Int("count", n), logx.Essential())
		}
		return nil
	})
	step("notifier", 5*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped", logx.Essential())
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
