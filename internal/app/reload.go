package app

import (
	"context"
	"os"
	"strings"

	"bumpbot/internal/config"
	"bumpbot/internal/scheduler"
	"bumpbot/pkg/logx"
)

// startReload fans validated config reloads out to the live components.
// Accounts, auth, browser and storage changes only log that a restart is needed.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts: keep only the latest config
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	s, err := config.Normalize(next, os.Getenv)
	if err != nil {
		a.log.Warn("reloaded config does not normalize; keeping previous", logx.Err(err))
		return
	}
	if len(restart) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(restart, ",")), logx.Essential())
	}

	a.logs.Apply(s.Logging)

	if scheduler.PolicyFor(s.Loop) != a.sched.Policy() {
		a.log.Warn("loop policy changed; restart required",
			logx.String("current", a.sched.Policy()), logx.String("configured", scheduler.PolicyFor(s.Loop)))
	}
	a.sched.Apply(scheduler.TimingFrom(s.Loop))

	prevEnabled := a.notif.Enabled()
	a.notif.Apply(mapNotifierConfig(s))
	switch nowEnabled := a.notif.Enabled(); {
	case prevEnabled && !nowEnabled:
		a.log.Info("notifier disabled via config")
		a.notif.Stop(ctx)
	case !prevEnabled && nowEnabled:
		a.log.Info("notifier enabled via config")
		a.notif.Start(context.WithoutCancel(ctx))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
