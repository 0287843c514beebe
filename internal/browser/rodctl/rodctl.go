// Package rodctl implements the browser controller on top of go-rod.
package rodctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"

	"bumpbot/internal/browser"
	"bumpbot/pkg/logx"
)

// EnvExecPath overrides the browser executable when browser.exec_path is empty.
const EnvExecPath = "BUMPBOT_BROWSER"

const defaultHeartbeat = 2 * time.Second

// DefaultArgs are always passed to the browser unless overridden by name.
var DefaultArgs = []string{
	"--window-size=1200,900",
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-session-crashed-bubble",
	"--disable-features=Translate,ExtensionsToolbarMenu",
	"--disable-infobars",
}

// Launcher starts Chromium-family browsers with a persistent profile.
type Launcher struct {
	selectors map[browser.Role]string
	heartbeat time.Duration
	log       logx.Logger
}

// New builds a Launcher. overrides replace built-in selectors per role.
func New(overrides map[browser.Role]string, log logx.Logger) *Launcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	sel := browser.DefaultSelectors()
	for r, s := range overrides {
		if strings.TrimSpace(s) != "" {
			sel[r] = s
		}
	}
	return &Launcher{selectors: sel, heartbeat: defaultHeartbeat, log: log.With(logx.String("comp", "rodctl"))}
}

// ResolveExecPath picks the executable: explicit path, then env, then a system install.
// An empty result lets rod download its own build.
func ResolveExecPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvExecPath)); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if p, ok := launcher.LookPath(); ok {
		return p
	}
	return ""
}

// SplitArg turns "--name=value" into its flag name and optional value.
func SplitArg(raw string) (name, value string, hasValue bool) {
	s := strings.TrimLeft(strings.TrimSpace(raw), "-")
	return strings.Cut(s, "=")
}

func (l *Launcher) Launch(ctx context.Context, profileDir string, opts browser.LaunchOptions) (browser.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	lc := launcher.New().UserDataDir(profileDir).Headless(opts.Headless)
	if bin := ResolveExecPath(opts.ExecPath); bin != "" {
		lc = lc.Bin(bin)
	}
	for _, raw := range append(append([]string(nil), DefaultArgs...), opts.Args...) {
		name, val, hasVal := SplitArg(raw)
		if name == "" {
			continue
		}
		if hasVal {
			lc = lc.Set(flags.Flag(name), val)
		} else {
			lc = lc.Set(flags.Flag(name))
		}
	}

	u, err := lc.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	rb := rod.New().ControlURL(u)
	if err := rb.Connect(); err != nil {
		lc.Kill()
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	b := &Browser{
		rb:        rb,
		lc:        lc,
		selectors: l.selectors,
		log:       l.log.With(logx.String("profile", profileDir)),
		stop:      make(chan struct{}),
		alive:     true,
	}
	go b.watch(l.heartbeat)
	return b, nil
}

// Browser wraps one rod browser and its launcher process.
type Browser struct {
	rb        *rod.Browser
	lc        *launcher.Launcher
	selectors map[browser.Role]string
	log       logx.Logger

	mu        sync.Mutex
	alive     bool
	closed    bool
	observers []func()
	stop      chan struct{}
}

func (b *Browser) watch(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-t.C:
			if _, err := b.rb.Version(); err != nil {
				b.log.Warn("browser heartbeat failed", logx.Err(err))
				b.markDead()
				return
			}
		}
	}
}

func (b *Browser) markDead() {
	b.mu.Lock()
	if !b.alive {
		b.mu.Unlock()
		return
	}
	b.alive = false
	obs := append([]func(){}, b.observers...)
	b.mu.Unlock()
	for _, fn := range obs {
		fn()
	}
}

func (b *Browser) OnDisconnect(fn func()) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	b.observers = append(b.observers, fn)
	b.mu.Unlock()
}

func (b *Browser) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alive && !b.closed
}

func (b *Browser) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.alive = false
	close(b.stop)
	b.mu.Unlock()

	err := b.rb.Close()
	b.lc.Kill()
	return err
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	if !b.Alive() {
		return nil, browser.ErrDisconnected
	}
	p, err := b.rb.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, b.wrap(err)
	}
	return &Page{p: p, owner: b}, nil
}

func (b *Browser) Pages(ctx context.Context) ([]browser.Page, error) {
	if !b.Alive() {
		return nil, browser.ErrDisconnected
	}
	ps, err := b.rb.Context(ctx).Pages()
	if err != nil {
		return nil, b.wrap(err)
	}
	out := make([]browser.Page, 0, len(ps))
	for _, p := range ps {
		out = append(out, &Page{p: p, owner: b})
	}
	return out, nil
}

func (b *Browser) selector(r browser.Role) (string, error) {
	s, ok := b.selectors[r]
	if !ok || s == "" {
		return "", fmt.Errorf("no selector for role %q", r)
	}
	return s, nil
}

// wrap maps transport failures to browser.ErrDisconnected once the process is gone.
func (b *Browser) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	if _, verr := b.rb.Version(); verr != nil {
		b.markDead()
		return fmt.Errorf("%w: %v", browser.ErrDisconnected, err)
	}
	return err
}
