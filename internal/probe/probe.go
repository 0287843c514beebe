// Package probe classifies the session state of a page and provides the
// bounded-poll combinator shared by every wait in the runner.
package probe

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"bumpbot/internal/browser"
	"bumpbot/internal/clock"
	"bumpbot/pkg/logx"
)

// ObservePollInterval is the sampling rate used by ObserveLeftLogin.
const ObservePollInterval = 500 * time.Millisecond

// Classification is a snapshot of the session state.
type Classification struct {
	Authenticated bool
	AtLoginPath   bool
	Disconnected  bool
	Path          string
}

// LeftLogin reports the path-only fallback: a live page that is somewhere
// other than the login route counts as signed in even without the shell marker.
func (c Classification) LeftLogin() bool {
	return !c.Disconnected && !c.AtLoginPath && c.Path != ""
}

// Probe inspects pages. It holds no per-session state.
type Probe struct {
	loginPath string
	clk       clock.Clock
	log       logx.Logger
}

func New(loginPath string, clk clock.Clock, log logx.Logger) *Probe {
	if log.IsZero() {
		log = logx.Nop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if strings.TrimSpace(loginPath) == "" {
		loginPath = "/login"
	}
	return &Probe{loginPath: loginPath, clk: clk, log: log.With(logx.String("comp", "probe"))}
}

// IsLoginPath reports whether path is the login route (optionally followed by
// a non-word boundary such as "/" or "?").
func IsLoginPath(path, loginPath string) bool {
	if !strings.HasPrefix(path, loginPath) {
		return false
	}
	rest := path[len(loginPath):]
	if rest == "" {
		return true
	}
	c := rest[0]
	wordChar := c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
	return !wordChar
}

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" && u.Scheme == "" {
		return raw
	}
	return u.Path
}

// Classify inspects page once. A connection-lost indicator overrides an
// otherwise authenticated result. When the page itself is unreachable the
// classification is Disconnected and the error is returned alongside.
func (p *Probe) Classify(ctx context.Context, page browser.Page) (Classification, error) {
	if page == nil {
		return Classification{Disconnected: true}, browser.ErrDisconnected
	}
	raw, err := page.URL(ctx)
	if err != nil {
		return Classification{Disconnected: errors.Is(err, browser.ErrDisconnected)}, err
	}
	c := Classification{Path: pathOf(raw)}
	c.AtLoginPath = IsLoginPath(c.Path, p.loginPath)

	if !c.AtLoginPath {
		shell, err := page.Has(ctx, browser.RoleAppShell)
		if err != nil {
			return Classification{Path: c.Path, Disconnected: errors.Is(err, browser.ErrDisconnected)}, err
		}
		c.Authenticated = shell
	}
	lost, err := page.Has(ctx, browser.RoleDisconnected)
	if err != nil {
		return Classification{Path: c.Path, Disconnected: errors.Is(err, browser.ErrDisconnected)}, err
	}
	if lost {
		c.Disconnected = true
		c.Authenticated = false
	}
	return c, nil
}

// PollUntil samples until sample reports done or timeout elapses, sleeping
// interval between samples. It always samples at least once and returns the
// last observed value with ok=false on timeout or cancellation.
func PollUntil[T any](ctx context.Context, clk clock.Clock, interval, timeout time.Duration, sample func(context.Context) (T, bool)) (T, bool) {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	deadline := clk.Now().Add(timeout)
	for {
		v, done := sample(ctx)
		if done {
			return v, true
		}
		remaining := deadline.Sub(clk.Now())
		if remaining <= 0 || ctx.Err() != nil {
			return v, false
		}
		if err := clk.Sleep(ctx, min(interval, remaining)); err != nil {
			return v, false
		}
	}
}

// WaitAuthenticated polls Classify until authenticated or timeout.
func (p *Probe) WaitAuthenticated(ctx context.Context, page browser.Page, interval, timeout time.Duration) (Classification, bool) {
	return PollUntil(ctx, p.clk, interval, timeout, func(ctx context.Context) (Classification, bool) {
		c, err := p.Classify(ctx, page)
		if err != nil {
			p.log.Debug("classify failed", logx.Err(err))
			// an unreadable page never satisfies the route fallback
			c = Classification{Disconnected: c.Disconnected}
		}
		return c, c.Authenticated
	})
}

// ObserveLeftLogin is the path-only fallback: the session counts as active
// once the location leaves the login route within window.
func (p *Probe) ObserveLeftLogin(ctx context.Context, page browser.Page, window, step time.Duration) (string, bool) {
	start := p.clk.Now()
	var lastReport time.Duration
	path, ok := PollUntil(ctx, p.clk, ObservePollInterval, window, func(ctx context.Context) (string, bool) {
		raw, err := page.URL(ctx)
		if err != nil {
			return "", false
		}
		path := pathOf(raw)
		if !IsLoginPath(path, p.loginPath) && path != "" && raw != "about:blank" {
			return path, true
		}
		elapsed := p.clk.Now().Sub(start)
		if step > 0 && elapsed-lastReport >= step {
			lastReport = elapsed - elapsed%step
			p.log.Info("observing login route",
				logx.Duration("elapsed", lastReport),
				logx.Duration("window", window),
			)
		}
		return path, false
	})
	if ok {
		p.log.Info("left login route, session active", logx.String("path", path))
	} else {
		p.log.Info("still on login route after observation window")
	}
	return path, ok
}
