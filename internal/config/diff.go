package config

import (
	"reflect"
	"strings"

	"bumpbot/pkg/logx"
)

// Hot-reloadable sections; everything else needs a restart.
var liveSections = map[string]bool{"logging": true, "loop": true, "notifier": true}

// SummarizeConfigChange returns (1) the changed sections, (2) safe structured
// attrs for logging (never credentials or tokens), and (3) the subset of
// changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.minimal", newCfg.Logging.Minimal),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Loop != newCfg.Loop {
		changed = append(changed, "loop")
		attrs = append(attrs,
			logx.Bool("loop.enabled", newCfg.Loop.Enabled),
			logx.String("loop.mode", newCfg.Loop.Mode),
			logx.String("loop.delay", strings.TrimSpace(newCfg.Loop.Delay)),
			logx.String("loop.jitter_max", strings.TrimSpace(newCfg.Loop.JitterMax)),
			logx.Int("loop.max_cycles", newCfg.Loop.MaxCycles),
			logx.Int("loop.max_runs", newCfg.Loop.MaxRuns),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.webhook_set", strings.TrimSpace(newCfg.Notifier.Webhook.URL) != ""),
			logx.Bool("notifier.telegram_set", newCfg.Notifier.Telegram.Token != "" || newCfg.Notifier.Telegram.TokenEnv != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Accounts, newCfg.Accounts) {
		changed = append(changed, "accounts")
		attrs = append(attrs, logx.Int("accounts.count", len(newCfg.Accounts)))
	}
	if oldCfg.Auth != newCfg.Auth {
		changed = append(changed, "auth")
	}
	if !reflect.DeepEqual(oldCfg.Browser, newCfg.Browser) {
		changed = append(changed, "browser")
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
	}
	if strings.TrimSpace(oldCfg.KeepAlive) != strings.TrimSpace(newCfg.KeepAlive) {
		changed = append(changed, "keep_alive")
	}

	var restart []string
	for _, s := range changed {
		if !liveSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
