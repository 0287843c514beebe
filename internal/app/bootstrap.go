package app

import (
	"net/http"
	"strings"
	"time"

	"bumpbot/internal/browser"
	"bumpbot/internal/config"
	"bumpbot/internal/notifier"
	"bumpbot/internal/transport"
	"bumpbot/internal/transport/telegram"
	"bumpbot/internal/transport/webhook"
	"bumpbot/pkg/logx"
)

const webhookTimeout = 10 * time.Second

func mapNotifierConfig(s *config.Settings) notifier.Config {
	n := s.Notifier
	return notifier.Config{
		Enabled:       n.Enabled,
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     n.RetryBase,
		RetryMaxDelay: n.RetryMaxDelay,
		DedupWindow:   n.DedupWindow,
		PersistDedup:  n.PersistDedup,
	}
}

// buildChannels creates the delivery channels. The webhook channel exists
// when a global URL or any per-account override is set.
func buildChannels(s *config.Settings, log logx.Logger) ([]transport.Channel, error) {
	var out []transport.Channel
	n := s.Notifier
	if n.WebhookURL != "" || anyAccountWebhook(s.Accounts) {
		out = append(out, webhook.New(webhook.Config{
			URL:     n.WebhookURL,
			Embed:   n.WebhookEmbed,
			Timeout: webhookTimeout,
		}, &http.Client{Timeout: webhookTimeout}, log))
	}
	if n.TelegramToken != "" {
		ch, err := telegram.New(telegram.Config{
			Token:    n.TelegramToken,
			ChatID:   n.TelegramChatID,
			ThreadID: n.TelegramThreadID,
		}, log)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, nil
}

func anyAccountWebhook(accts []config.Account) bool {
	for _, a := range accts {
		if a.WebhookURL != "" {
			return true
		}
	}
	return false
}

// selectorOverrides maps configured selectors onto roles; unknown keys are
// returned separately so they can be reported.
func selectorOverrides(s *config.Settings) (map[browser.Role]string, []string) {
	out := map[browser.Role]string{}
	var unknown []string
	for k, v := range s.Browser.Selectors {
		r := browser.Role(strings.ToLower(strings.TrimSpace(k)))
		if !browser.Known(r) {
			unknown = append(unknown, k)
			continue
		}
		out[r] = v
	}
	return out, unknown
}
