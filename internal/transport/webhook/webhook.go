// Package webhook delivers notifications to a Discord-compatible webhook.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"bumpbot/internal/transport"
	"bumpbot/pkg/logx"
)

// Embed colours per notification kind.
const (
	ColorBumpsComplete     = 0x2ecc71
	ColorSecurityActivated = 0x1abc9c
	ColorError             = 0xe74c3c
	ColorDefault           = 0x5865F2
)

const maxFieldValue = 1024

type Config struct {
	// URL is the default destination. Messages with a Target override it.
	URL string
	// Embed sends a rich embed; otherwise a plain "[kind] text" content line.
	Embed   bool
	Timeout time.Duration
}

type Channel struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func New(cfg Config, client *http.Client, log logx.Logger) *Channel {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Channel{cfg: cfg, client: client, log: log.With(logx.String("comp", "webhook"))}
}

func (c *Channel) Name() string { return "webhook" }

type payload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color"`
	Fields      []embedField `json:"fields,omitempty"`
	Footer      *embedFooter `json:"footer,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type embedFooter struct {
	Text string `json:"text"`
}

func (c *Channel) Send(ctx context.Context, m transport.Message) error {
	url := strings.TrimSpace(m.Target)
	if url == "" {
		url = strings.TrimSpace(c.cfg.URL)
	}
	if url == "" {
		return transport.ErrNoTarget
	}

	body, err := json.Marshal(c.render(m))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook post failed: http=%d %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Channel) render(m transport.Message) payload {
	if !c.cfg.Embed {
		return payload{Content: fmt.Sprintf("[%s] %s", m.Kind, m.Text)}
	}
	e := embed{
		Title:       m.Kind,
		Description: m.Text,
		Color:       ColorFor(m.Kind),
	}
	for _, k := range transport.SortedKeys(m.Metadata) {
		v := m.Metadata[k]
		if len(v) > maxFieldValue {
			v = v[:maxFieldValue]
		}
		e.Fields = append(e.Fields, embedField{Name: k, Value: v, Inline: true})
	}
	if m.Session != "" {
		e.Footer = &embedFooter{Text: m.Session}
	}
	at := m.At
	if at.IsZero() {
		at = time.Now()
	}
	e.Timestamp = at.UTC().Format(time.RFC3339)
	return payload{Embeds: []embed{e}}
}

// ColorFor maps a notification kind to its embed colour.
func ColorFor(kind string) int {
	switch kind {
	case "bumps-complete":
		return ColorBumpsComplete
	case "security-activated":
		return ColorSecurityActivated
	case "error":
		return ColorError
	default:
		return ColorDefault
	}
}
