// Package telegram delivers notifications to a Telegram chat (optionally a
// forum topic) through the Bot API.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	"bumpbot/internal/transport"
	"bumpbot/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

const textLimit = 4000

type Config struct {
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides the Bot API endpoint (tests).
	APIURL string
}

// Channel is a send-only telebot client. It never polls for updates.
type Channel struct {
	cfg Config
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     cfg.APIURL,
		Token:   cfg.Token,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Channel{cfg: cfg, bot: b, log: log.With(logx.String("comp", "telegram"))}, nil
}

func (c *Channel) Name() string { return "telegram" }

func (c *Channel) Send(ctx context.Context, m transport.Message) error {
	chat := &tele.Chat{ID: c.cfg.ChatID}
	for _, chunk := range splitText(Render(m), textLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := c.bot.Send(chat, chunk, &tele.SendOptions{
			ThreadID:              c.cfg.ThreadID,
			DisableWebPagePreview: true,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Render formats a message as plain text: a header line, the body, then
// one "key: value" line per metadata entry.
func Render(m transport.Message) string {
	var b strings.Builder
	b.WriteString("[" + m.Kind + "]")
	if m.Session != "" {
		b.WriteString(" " + m.Session)
	}
	if m.Text != "" {
		b.WriteString("\n" + m.Text)
	}
	for _, k := range transport.SortedKeys(m.Metadata) {
		b.WriteString("\n" + k + ": " + m.Metadata[k])
	}
	if !m.At.IsZero() {
		b.WriteString("\n" + m.At.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// splitText splits long text into chunks, preferring newline boundaries.
func splitText(s string, limit int) []string {
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))
		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// avoid extremely small chunks
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}
		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
