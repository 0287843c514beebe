package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"bumpbot/pkg/logx"
)

const (
	ModeCycles      = "cycles"
	ModeIndependent = "independent"

	ChooserPreferAddNew        = "prefer-add-new"
	ChooserPreferFirstExisting = "prefer-first-existing"

	DefaultLoginURL         = "https://discord.com/login"
	DefaultSecurityMessage  = "Sécurité 24h activée ✅"
	DefaultCommand          = "/bump"
	DefaultLoopDelay        = time.Hour
	DefaultSessionsDir      = "./sessions"
	DefaultStoragePath      = "./data/bumpbot"
	DefaultOptionMatch      = "24"
	DefaultSaveLabel        = "(?i)sauvegarder|save"
	DefaultStorageDriver    = "file"
	DefaultNotifierQueue    = 64
	DefaultNotifierRate     = 2.0
	DefaultNotifierRetryMax = 2
)

// Settings is the resolved, typed form of Config.
type Settings struct {
	Accounts  []Account
	Loop      Loop
	Auth      Auth
	Browser   Browser
	Logging   logx.Config
	Notifier  Notifier
	Storage   Storage
	KeepAlive time.Duration
}

// Account is one resolved account record. It is immutable after load.
type Account struct {
	Order       int
	SessionName string
	Email       string
	Password    string
	ChannelURL  string
	WebhookURL  string

	ReuseBrowser         bool
	CloseBrowserOnFinish *bool
	EnableSecurityAction bool
	Headless             bool

	// Cooldown is the raw interval or cron expression; empty means the loop delay applies.
	Cooldown string
	// JitterMax overrides loop.jitter_max when non-nil.
	JitterMax *time.Duration

	Startup         StartupTimings
	Login           LoginTimings
	Bump            BumpTimings
	Security        SecurityTimings
	SecurityMessage string
}

// HasCredentials reports whether both identity and secret are configured.
func (a Account) HasCredentials() bool { return a.Email != "" && a.Password != "" }

// CloseOnFinish resolves the tri-state: explicit value, else close unless reuse is on.
func (a Account) CloseOnFinish() bool {
	if a.CloseBrowserOnFinish != nil {
		return *a.CloseBrowserOnFinish
	}
	return !a.ReuseBrowser
}

type StartupTimings struct {
	Stabilization   time.Duration
	LoginDetectWait time.Duration
	LoginDetectStep time.Duration
}

type LoginTimings struct {
	WaitForm     time.Duration
	AfterType    time.Duration
	SubmitWait   time.Duration
	MaxWait      time.Duration
	QuickProbe   time.Duration
	PollInterval time.Duration
}

type BumpTimings struct {
	AfterChannel time.Duration
	BetweenKeys  time.Duration
	AfterFirst   time.Duration
	AfterSecond  time.Duration
	KeyDelay     time.Duration
	Command      string
}

type SecurityTimings struct {
	PreClick        time.Duration
	AfterButton     time.Duration
	AfterSelectOpen time.Duration
	AfterOption     time.Duration
	AfterSave       time.Duration
	WaitSaveButton  time.Duration
	SavePoll        time.Duration
	ConfirmWait     time.Duration
	ConfirmPoll     time.Duration
	DebugOnFail     bool
	OptionMatch     string
	SaveLabel       string
}

type Loop struct {
	Enabled   bool
	Mode      string
	Delay     time.Duration
	JitterMax time.Duration
	MaxCycles int
	MaxRuns   int
}

type Auth struct {
	LoginURL        string
	LoginPath       string
	ChooserStrategy string
}

type Browser struct {
	SessionsDir       string
	ExecPath          string
	Headless          bool
	Args              []string
	Selectors         map[string]string
	CleanupBlankPages bool
}

type Notifier struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    float64
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration
	PersistDedup  bool

	WebhookURL   string
	WebhookEmbed bool

	TelegramToken    string
	TelegramChatID   int64
	TelegramThreadID int
}

type Storage struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

// Getenv looks up environment variables; tests inject a map-backed version.
type Getenv func(string) string

// DefaultHeadless is true on Linux when no display is available.
func DefaultHeadless(getenv Getenv) bool {
	return runtime.GOOS == "linux" && strings.TrimSpace(getenv("DISPLAY")) == ""
}

type parser struct{ errs []error }

func (p *parser) delay(path, raw string, def time.Duration) time.Duration {
	d, err := ParseDelay(path, raw, def)
	if err != nil {
		p.errs = append(p.errs, err)
		return def
	}
	return d
}

func (p *parser) positive(path, raw string, def time.Duration) time.Duration {
	d, err := ParseDurationOrDefault(path, raw, def)
	if err != nil {
		p.errs = append(p.errs, err)
		return def
	}
	return d
}

func (p *parser) fail(format string, args ...any) {
	p.errs = append(p.errs, fmt.Errorf(format, args...))
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// Normalize resolves defaults and environment references. It reports every
// invalid field at once.
func Normalize(cfg *Config, getenv Getenv) (*Settings, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	p := &parser{}
	s := &Settings{}

	// loop
	s.Loop = Loop{
		Enabled:   cfg.Loop.Enabled,
		Mode:      strings.ToLower(firstNonEmpty(cfg.Loop.Mode, ModeCycles)),
		Delay:     p.delay("loop.delay", cfg.Loop.Delay, DefaultLoopDelay),
		JitterMax: p.delay("loop.jitter_max", cfg.Loop.JitterMax, 0),
		MaxCycles: cfg.Loop.MaxCycles,
		MaxRuns:   cfg.Loop.MaxRuns,
	}
	if s.Loop.Mode != ModeCycles && s.Loop.Mode != ModeIndependent {
		p.fail("loop.mode: unknown mode %q (want %s|%s)", cfg.Loop.Mode, ModeCycles, ModeIndependent)
	}
	if s.Loop.MaxCycles < 0 || s.Loop.MaxRuns < 0 {
		p.fail("loop: max_cycles and max_runs must be >= 0")
	}

	// auth
	s.Auth = Auth{
		LoginURL:        firstNonEmpty(cfg.Auth.LoginURL, DefaultLoginURL),
		ChooserStrategy: strings.ToLower(firstNonEmpty(cfg.Auth.ChooserStrategy, ChooserPreferAddNew)),
	}
	if u, err := url.Parse(s.Auth.LoginURL); err != nil || u.Scheme == "" || u.Host == "" {
		p.fail("auth.login_url: invalid url %q", s.Auth.LoginURL)
	} else {
		s.Auth.LoginPath = firstNonEmpty(cfg.Auth.LoginPath, u.Path, "/login")
	}
	if s.Auth.ChooserStrategy != ChooserPreferAddNew && s.Auth.ChooserStrategy != ChooserPreferFirstExisting {
		p.fail("auth.chooser_strategy: unknown strategy %q", cfg.Auth.ChooserStrategy)
	}

	// browser
	s.Browser = Browser{
		SessionsDir:       firstNonEmpty(cfg.Browser.SessionsDir, DefaultSessionsDir),
		ExecPath:          strings.TrimSpace(cfg.Browser.ExecPath),
		Headless:          boolOr(cfg.Browser.Headless, DefaultHeadless(getenv)),
		Args:              append([]string(nil), cfg.Browser.Args...),
		Selectors:         map[string]string{},
		CleanupBlankPages: boolOr(cfg.Browser.CleanupBlankPages, true),
	}
	for k, v := range cfg.Browser.Selectors {
		s.Browser.Selectors[strings.TrimSpace(k)] = v
	}

	// logging
	s.Logging = logx.Config{
		Level:   firstNonEmpty(cfg.Logging.Level, "INFO"),
		Console: boolOr(cfg.Logging.Console, true),
		Colored: cfg.Logging.Colored,
		Minimal: cfg.Logging.Minimal,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    firstNonEmpty(cfg.Logging.File.Path, "./bumpbot.log"),
		},
	}
	if !logx.ValidLevel(cfg.Logging.Level) {
		p.fail("logging.level: unknown level %q", cfg.Logging.Level)
	}

	// notifier
	n := cfg.Notifier
	s.Notifier = Notifier{
		Enabled:          boolOr(n.Enabled, true),
		Workers:          max(n.Workers, 1),
		QueueSize:        n.QueueSize,
		RatePerSec:       n.RatePerSec,
		RetryMax:         n.RetryMax,
		RetryBase:        p.positive("notifier.retry_base", n.RetryBase, 500*time.Millisecond),
		RetryMaxDelay:    p.positive("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second),
		DedupWindow:      p.delay("notifier.dedup_window", n.DedupWindow, 0),
		PersistDedup:     n.PersistDedup,
		WebhookURL:       strings.TrimSpace(n.Webhook.URL),
		WebhookEmbed:     boolOr(n.Webhook.Embed, true),
		TelegramToken:    firstNonEmpty(n.Telegram.Token, envOf(getenv, n.Telegram.TokenEnv)),
		TelegramChatID:   n.Telegram.ChatID,
		TelegramThreadID: n.Telegram.ThreadID,
	}
	if s.Notifier.QueueSize <= 0 {
		s.Notifier.QueueSize = DefaultNotifierQueue
	}
	if s.Notifier.RatePerSec <= 0 {
		s.Notifier.RatePerSec = DefaultNotifierRate
	}
	if s.Notifier.RetryMax <= 0 {
		s.Notifier.RetryMax = DefaultNotifierRetryMax
	}
	if s.Notifier.TelegramToken != "" && s.Notifier.TelegramChatID == 0 {
		p.fail("notifier.telegram.chat_id: required when a token is set")
	}

	// storage
	s.Storage = Storage{
		Driver:      strings.ToLower(firstNonEmpty(cfg.Storage.Driver, DefaultStorageDriver)),
		Path:        firstNonEmpty(cfg.Storage.Path, DefaultStoragePath),
		BusyTimeout: p.positive("storage.busy_timeout", cfg.Storage.BusyTimeout, 2*time.Second),
	}
	switch s.Storage.Driver {
	case "file", "sqlite", "none":
	default:
		p.fail("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}

	s.KeepAlive = p.delay("keep_alive", cfg.KeepAlive, 0)

	// accounts
	if len(cfg.Accounts) == 0 {
		p.fail("accounts: at least one account is required")
	}
	seen := map[string]string{}
	for i, a := range cfg.Accounts {
		acct := normalizeAccount(p, i, a, s, getenv)
		name := strings.TrimSpace(a.SessionName)
		if name == "" {
			p.fail("accounts[%d].session_name: required", i)
		} else if prev, dup := seen[SanitizeName(name)]; dup {
			p.fail("accounts[%d].session_name: %q collides with %q", i, name, prev)
		} else {
			seen[SanitizeName(name)] = name
		}
		s.Accounts = append(s.Accounts, acct)
	}

	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	return s, nil
}

func envOf(getenv Getenv, key string) string {
	if strings.TrimSpace(key) == "" {
		return ""
	}
	return strings.TrimSpace(getenv(strings.TrimSpace(key)))
}

func normalizeAccount(p *parser, i int, a AccountConfig, s *Settings, getenv Getenv) Account {
	pre := fmt.Sprintf("accounts[%d]", i)
	acct := Account{
		Order:                i,
		SessionName:          strings.TrimSpace(a.SessionName),
		Email:                firstNonEmpty(a.Email, envOf(getenv, a.EmailEnv)),
		Password:             firstNonEmpty(a.Password, envOf(getenv, a.PasswordEnv)),
		ChannelURL:           strings.TrimSpace(a.ChannelURL),
		WebhookURL:           strings.TrimSpace(a.WebhookURL),
		ReuseBrowser:         a.ReuseBrowser,
		CloseBrowserOnFinish: a.CloseBrowserOnFinish,
		EnableSecurityAction: boolOr(a.EnableSecurityAction, true),
		Headless:             boolOr(a.Headless, s.Browser.Headless),
		Cooldown:             strings.TrimSpace(a.Cooldown),
		SecurityMessage:      firstNonEmpty(a.Messages.SecurityActivated, DefaultSecurityMessage),
	}
	if strings.TrimSpace(a.JitterMax) != "" {
		j := p.delay(pre+".jitter_max", a.JitterMax, 0)
		acct.JitterMax = &j
	}
	if acct.ChannelURL == "" {
		p.fail("%s.channel_url: required", pre)
	} else if u, err := url.Parse(acct.ChannelURL); err != nil || u.Scheme == "" {
		p.fail("%s.channel_url: invalid url %q", pre, acct.ChannelURL)
	}

	acct.Startup = StartupTimings{
		Stabilization:   p.delay(pre+".startup.stabilization", a.Startup.Stabilization, 30*time.Second),
		LoginDetectWait: p.delay(pre+".startup.login_detect_wait", a.Startup.LoginDetectWait, 20*time.Second),
		LoginDetectStep: p.positive(pre+".startup.login_detect_progress_step", a.Startup.LoginDetectProgressStep, 5*time.Second),
	}
	acct.Login = LoginTimings{
		WaitForm:     p.delay(pre+".login.wait_form", a.Login.WaitForm, 30*time.Second),
		AfterType:    p.delay(pre+".login.after_type", a.Login.AfterType, 300*time.Millisecond),
		SubmitWait:   p.delay(pre+".login.submit_wait", a.Login.SubmitWait, 700*time.Millisecond),
		MaxWait:      p.positive(pre+".login.max_wait", a.Login.MaxWait, 2*time.Minute),
		QuickProbe:   p.delay(pre+".login.quick_probe", a.Login.QuickProbe, 8*time.Second),
		PollInterval: p.positive(pre+".login.poll_interval", a.Login.PollInterval, 2*time.Second),
	}
	acct.Bump = BumpTimings{
		AfterChannel: p.delay(pre+".bump.after_channel", a.Bump.AfterChannel, 5*time.Second),
		BetweenKeys:  p.delay(pre+".bump.between_keys", a.Bump.BetweenKeys, 600*time.Millisecond),
		AfterFirst:   p.delay(pre+".bump.after_first", a.Bump.AfterFirst, 1800*time.Millisecond),
		AfterSecond:  p.delay(pre+".bump.after_second", a.Bump.AfterSecond, 1200*time.Millisecond),
		KeyDelay:     p.delay(pre+".bump.key_delay", a.Bump.KeyDelay, 85*time.Millisecond),
		Command:      firstNonEmpty(a.Bump.Command, DefaultCommand),
	}
	sd := a.Security
	acct.Security = SecurityTimings{
		PreClick:        p.delay(pre+".security.pre_click", sd.PreClick, 800*time.Millisecond),
		AfterButton:     p.delay(pre+".security.after_button", sd.AfterButton, 1600*time.Millisecond),
		AfterSelectOpen: p.delay(pre+".security.after_select_open", sd.AfterSelectOpen, time.Second),
		AfterOption:     p.delay(pre+".security.after_option", sd.AfterOption, 1200*time.Millisecond),
		AfterSave:       p.delay(pre+".security.after_save", sd.AfterSave, 1600*time.Millisecond),
		WaitSaveButton:  p.delay(pre+".security.wait_save_button", sd.WaitSaveButton, 6*time.Second),
		SavePoll:        p.positive(pre+".security.save_poll_interval", sd.SavePollInterval, 400*time.Millisecond),
		ConfirmWait:     p.delay(pre+".security.confirm_wait", sd.ConfirmWait, 7*time.Second),
		ConfirmPoll:     p.positive(pre+".security.confirm_poll_interval", sd.ConfirmPollInterval, 500*time.Millisecond),
		DebugOnFail:     sd.DebugOnFail,
		OptionMatch:     firstNonEmpty(sd.OptionMatch, DefaultOptionMatch),
		SaveLabel:       firstNonEmpty(sd.SaveLabel, DefaultSaveLabel),
	}
	for field, expr := range map[string]string{"option_match": acct.Security.OptionMatch, "save_label": acct.Security.SaveLabel} {
		if _, err := regexp.Compile(expr); err != nil {
			p.fail("%s.security.%s: %v", pre, field, err)
		}
	}
	return acct
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeName maps a session name to a safe directory name.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "default-session"
	}
	return unsafeName.ReplaceAllString(name, "_")
}

// ProfileDir returns the persistent browser profile directory for an account.
func (b Browser) ProfileDir(sessionName string) string {
	return filepath.Join(b.SessionsDir, SanitizeName(sessionName))
}
