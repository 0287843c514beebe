// Package browsertest provides a scriptable in-memory browser controller.
//
// A World models the remote chat UI: login state per profile directory,
// the channel composer and the security panel. Tests drive failure paths
// through World.Hook, which runs before every page action.
package browsertest

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"bumpbot/internal/browser"
)

const (
	DefaultLoginURL = "https://chat.test/login"
	DefaultAppURL   = "https://chat.test/channels/@me"
)

// Action is one recorded page or launcher operation.
type Action struct {
	Launch  int
	Profile string
	Op      string
	Arg     string
}

func (a Action) String() string {
	if a.Arg == "" {
		return fmt.Sprintf("#%d %s", a.Launch, a.Op)
	}
	return fmt.Sprintf("#%d %s %s", a.Launch, a.Op, a.Arg)
}

// Profile is persistent per-profile-directory state.
type Profile struct {
	LoggedIn bool
}

// Security models the security-actions panel.
type Security struct {
	Present    bool
	Value      string
	OptionText string
	SaveLabel  string

	panelOpen  bool
	selectOpen bool
	picked     bool
}

// World is the shared fake environment.
type World struct {
	mu sync.Mutex

	LoginURL string
	AppURL   string

	// Chooser shows the account chooser interstitial on the login route.
	Chooser bool
	// Reconnecting shows the connection-lost indicator.
	Reconnecting bool
	// CooldownNotice appears once both commands have been sent.
	CooldownNotice bool
	// ExtraBlankPages adds about:blank tabs to each new browser.
	ExtraBlankPages int
	// HideShell keeps the app-shell marker absent, as with a stale selector.
	HideShell bool

	Security Security

	// LaunchErr, when set, can fail the n-th launch (1-based).
	LaunchErr func(n int, profileDir string) error
	// Hook runs before every page action; a non-nil error fails it.
	Hook func(b *Browser, op, arg string) error

	profiles map[string]*Profile
	browsers []*Browser
	actions  []Action
	sent     []string
}

func NewWorld() *World {
	return &World{
		LoginURL: DefaultLoginURL,
		AppURL:   DefaultAppURL,
		Security: Security{OptionText: "24 heures", SaveLabel: "Sauvegarder", Value: "1 heure"},
		profiles: map[string]*Profile{},
	}
}

// Profile returns (creating if needed) the state for dir.
func (w *World) Profile(dir string) *Profile {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.profileLocked(dir)
}

func (w *World) profileLocked(dir string) *Profile {
	p, ok := w.profiles[dir]
	if !ok {
		p = &Profile{}
		w.profiles[dir] = p
	}
	return p
}

// ForgetProfile drops persisted login state, like deleting the directory.
func (w *World) ForgetProfile(dir string) {
	w.mu.Lock()
	delete(w.profiles, dir)
	w.actions = append(w.actions, Action{Profile: dir, Op: "forget-profile"})
	w.mu.Unlock()
}

// Browsers returns every browser launched so far.
func (w *World) Browsers() []*Browser {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*Browser(nil), w.browsers...)
}

// Actions returns a copy of the action log.
func (w *World) Actions() []Action {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Action(nil), w.actions...)
}

// Count returns how many actions had op (and arg, when non-empty).
func (w *World) Count(op, arg string) int {
	n := 0
	for _, a := range w.Actions() {
		if a.Op == op && (arg == "" || a.Arg == arg) {
			n++
		}
	}
	return n
}

// Sent returns messages submitted through the composer.
func (w *World) Sent() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.sent...)
}

// SecurityValue returns the current security setting text.
func (w *World) SecurityValue() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.Security.Value
}

func (w *World) record(b *Browser, op, arg string) {
	w.actions = append(w.actions, Action{Launch: b.Index, Profile: b.ProfileDir, Op: op, Arg: arg})
}

// Launcher implements browser.Launcher over a World.
type Launcher struct{ W *World }

func (l Launcher) Launch(ctx context.Context, profileDir string, opts browser.LaunchOptions) (browser.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w := l.W
	w.mu.Lock()
	n := len(w.browsers) + 1
	hook := w.LaunchErr
	w.mu.Unlock()
	if hook != nil {
		if err := hook(n, profileDir); err != nil {
			w.mu.Lock()
			w.actions = append(w.actions, Action{Launch: n, Profile: profileDir, Op: "launch-failed", Arg: err.Error()})
			w.mu.Unlock()
			return nil, err
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	b := &Browser{w: w, Index: n, ProfileDir: profileDir, Opts: opts, alive: true}
	b.pages = append(b.pages, &Page{b: b, url: "about:blank"})
	for i := 0; i < w.ExtraBlankPages; i++ {
		b.pages = append(b.pages, &Page{b: b, url: "about:blank"})
	}
	w.browsers = append(w.browsers, b)
	w.profileLocked(profileDir)
	w.record(b, "launch", profileDir)
	return b, nil
}

// Browser is a fake browser process.
type Browser struct {
	w          *World
	Index      int
	ProfileDir string
	Opts       browser.LaunchOptions

	alive     bool
	closed    bool
	pages     []*Page
	observers []func()
}

// Disconnect simulates the process dying: observers fire once.
func (b *Browser) Disconnect() {
	b.w.mu.Lock()
	if !b.alive {
		b.w.mu.Unlock()
		return
	}
	b.alive = false
	b.w.record(b, "disconnect", "")
	obs := append([]func(){}, b.observers...)
	b.w.mu.Unlock()
	for _, fn := range obs {
		fn()
	}
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.w.mu.Lock()
	defer b.w.mu.Unlock()
	return b.closed
}

func (b *Browser) OnDisconnect(fn func()) {
	b.w.mu.Lock()
	b.observers = append(b.observers, fn)
	b.w.mu.Unlock()
}

func (b *Browser) Alive() bool {
	b.w.mu.Lock()
	defer b.w.mu.Unlock()
	return b.alive && !b.closed
}

func (b *Browser) Close() error {
	b.w.mu.Lock()
	defer b.w.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.alive = false
	b.w.record(b, "close", "")
	return nil
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	b.w.mu.Lock()
	defer b.w.mu.Unlock()
	if !b.alive || b.closed {
		return nil, browser.ErrDisconnected
	}
	p := &Page{b: b, url: "about:blank"}
	b.pages = append(b.pages, p)
	b.w.record(b, "new-page", "")
	return p, nil
}

func (b *Browser) Pages(ctx context.Context) ([]browser.Page, error) {
	b.w.mu.Lock()
	defer b.w.mu.Unlock()
	if !b.alive || b.closed {
		return nil, browser.ErrDisconnected
	}
	out := make([]browser.Page, 0, len(b.pages))
	for _, p := range b.pages {
		if !p.closed {
			out = append(out, p)
		}
	}
	return out, nil
}

// Page is a fake tab.
type Page struct {
	b      *Browser
	url    string
	closed bool
	focus  browser.Role
	buffer string

	typedEmail    bool
	typedPassword bool
}

// before runs the hook outside the lock, then takes it.
func (p *Page) before(op, arg string) error {
	w := p.b.w
	w.mu.Lock()
	hook := w.Hook
	w.mu.Unlock()
	if hook != nil {
		if err := hook(p.b, op, arg); err != nil {
			return err
		}
	}
	w.mu.Lock()
	if !p.b.alive || p.b.closed || p.closed {
		w.mu.Unlock()
		return browser.ErrDisconnected
	}
	w.record(p.b, op, arg)
	return nil
}

func (p *Page) atLogin() bool {
	u, err := url.Parse(p.url)
	if err != nil {
		return false
	}
	lu, _ := url.Parse(p.b.w.LoginURL)
	return lu != nil && u.Path == lu.Path
}

func (p *Page) loggedIn() bool { return p.b.w.profileLocked(p.b.ProfileDir).LoggedIn }

func (p *Page) atChannel() bool {
	return p.loggedIn() && !p.atLogin() && strings.HasPrefix(p.url, "http") && p.url != p.b.w.AppURL
}

func (p *Page) present(r browser.Role) bool {
	w := p.b.w
	s := &w.Security
	switch r {
	case browser.RoleAppShell:
		return !w.HideShell && p.loggedIn() && !p.atLogin() && strings.HasPrefix(p.url, "http")
	case browser.RoleDisconnected:
		return w.Reconnecting
	case browser.RoleLoginForm, browser.RoleEmailInput, browser.RolePasswordInput, browser.RoleSubmit:
		return p.atLogin() && !p.loggedIn() && !w.Chooser
	case browser.RoleChooserAddNew, browser.RoleChooserFirst:
		return p.atLogin() && !p.loggedIn() && w.Chooser
	case browser.RoleComposer:
		return p.atChannel()
	case browser.RoleSecurityButton, browser.RoleSecurityValue:
		return p.atChannel() && s.Present
	case browser.RoleSecuritySelect:
		return p.atChannel() && s.panelOpen
	case browser.RoleSecurityOption:
		return p.atChannel() && s.selectOpen
	case browser.RoleSaveButton:
		return p.atChannel() && s.picked
	case browser.RoleCooldownNotice:
		return p.atChannel() && w.CooldownNotice && len(w.sent) >= 2
	}
	return false
}

func (p *Page) Goto(ctx context.Context, target string) error {
	if err := p.before("goto", target); err != nil {
		return err
	}
	defer p.b.w.mu.Unlock()
	w := p.b.w
	switch {
	case target == w.LoginURL && p.loggedIn():
		p.url = w.AppURL
	case target != w.LoginURL && !p.loggedIn():
		p.url = w.LoginURL
	default:
		p.url = target
	}
	p.focus = ""
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	w := p.b.w
	w.mu.Lock()
	defer w.mu.Unlock()
	if !p.b.alive || p.b.closed || p.closed {
		return "", browser.ErrDisconnected
	}
	return p.url, nil
}

func (p *Page) WaitFor(ctx context.Context, r browser.Role, timeout time.Duration) error {
	if err := p.before("wait", string(r)); err != nil {
		return err
	}
	defer p.b.w.mu.Unlock()
	if !p.present(r) {
		return fmt.Errorf("%w: %s", browser.ErrNotFound, r)
	}
	return nil
}

func (p *Page) Has(ctx context.Context, r browser.Role) (bool, error) {
	w := p.b.w
	w.mu.Lock()
	defer w.mu.Unlock()
	if !p.b.alive || p.b.closed || p.closed {
		return false, browser.ErrDisconnected
	}
	return p.present(r), nil
}

func (p *Page) Click(ctx context.Context, r browser.Role) error {
	if err := p.before("click", string(r)); err != nil {
		return err
	}
	defer p.b.w.mu.Unlock()
	if !p.present(r) {
		return fmt.Errorf("%w: %s", browser.ErrNotFound, r)
	}
	w := p.b.w
	p.focus = r
	switch r {
	case browser.RoleSubmit:
		if p.typedEmail && p.typedPassword {
			w.profileLocked(p.b.ProfileDir).LoggedIn = true
			p.url = w.AppURL
		}
	case browser.RoleChooserAddNew:
		w.Chooser = false
	case browser.RoleChooserFirst:
		w.Chooser = false
		w.profileLocked(p.b.ProfileDir).LoggedIn = true
		p.url = w.AppURL
	case browser.RoleSecurityButton:
		w.Security.panelOpen = true
	case browser.RoleSecuritySelect, browser.RoleSecurityValue:
		if w.Security.panelOpen {
			w.Security.selectOpen = true
		}
	}
	return nil
}

func (p *Page) ClickMatching(ctx context.Context, r browser.Role, re *regexp.Regexp) (bool, error) {
	if err := p.before("click-matching", string(r)); err != nil {
		return false, err
	}
	defer p.b.w.mu.Unlock()
	if !p.present(r) {
		return false, nil
	}
	s := &p.b.w.Security
	switch r {
	case browser.RoleSecurityOption:
		if re.MatchString(s.OptionText) {
			s.picked = true
			s.selectOpen = false
			return true, nil
		}
	case browser.RoleSaveButton:
		if re.MatchString(s.SaveLabel) {
			s.Value = s.OptionText
			s.picked = false
			s.panelOpen = false
			return true, nil
		}
	}
	return false, nil
}

func (p *Page) TextOf(ctx context.Context, r browser.Role) (string, error) {
	if err := p.before("text", string(r)); err != nil {
		return "", err
	}
	defer p.b.w.mu.Unlock()
	if !p.present(r) {
		return "", fmt.Errorf("%w: %s", browser.ErrNotFound, r)
	}
	if r == browser.RoleSecurityValue {
		return p.b.w.Security.Value, nil
	}
	return "", nil
}

func (p *Page) Type(ctx context.Context, text string, keyDelay time.Duration) error {
	if err := p.before("type", text); err != nil {
		return err
	}
	defer p.b.w.mu.Unlock()
	switch p.focus {
	case browser.RoleEmailInput:
		p.typedEmail = text != ""
	case browser.RolePasswordInput:
		p.typedPassword = text != ""
	default:
		p.buffer += text
	}
	return nil
}

func (p *Page) Press(ctx context.Context, key browser.Key) error {
	if err := p.before("press", string(key)); err != nil {
		return err
	}
	defer p.b.w.mu.Unlock()
	if key == browser.KeyEnter && p.buffer != "" {
		p.b.w.sent = append(p.b.w.sent, p.buffer)
		p.buffer = ""
	}
	return nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	if err := p.before("screenshot", ""); err != nil {
		return nil, err
	}
	p.b.w.mu.Unlock()
	return []byte("\x89PNG"), nil
}

func (p *Page) BringToFront(ctx context.Context) error {
	if err := p.before("front", ""); err != nil {
		return err
	}
	p.b.w.mu.Unlock()
	return nil
}

func (p *Page) Alive() bool {
	w := p.b.w
	w.mu.Lock()
	defer w.mu.Unlock()
	return !p.closed && p.b.alive && !p.b.closed
}

func (p *Page) Close() error {
	w := p.b.w
	w.mu.Lock()
	defer w.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	w.record(p.b, "close-page", p.url)
	return nil
}
