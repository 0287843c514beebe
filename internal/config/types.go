package config

// Config is the on-disk document (JSON or YAML). Durations are Go duration
// strings ("30s", "1h30m"). Omitted fields fall back to documented defaults
// during Normalize.
type Config struct {
	Accounts  []AccountConfig `json:"accounts"`
	Loop      LoopConfig      `json:"loop"`
	Auth      AuthConfig      `json:"auth"`
	Browser   BrowserConfig   `json:"browser"`
	Logging   LoggingConfig   `json:"logging"`
	Notifier  NotifierConfig  `json:"notifier"`
	Storage   StorageConfig   `json:"storage"`
	KeepAlive string          `json:"keep_alive,omitempty"`

	// Warnings collects non-fatal parse findings such as unknown fields.
	Warnings []string `json:"-"`
}

type AccountConfig struct {
	SessionName string `json:"session_name"`

	Email       string `json:"email,omitempty"`
	EmailEnv    string `json:"email_env,omitempty"`
	Password    string `json:"password,omitempty"`
	PasswordEnv string `json:"password_env,omitempty"`

	ChannelURL string `json:"channel_url"`
	WebhookURL string `json:"webhook_url,omitempty"`

	ReuseBrowser         bool  `json:"reuse_browser,omitempty"`
	CloseBrowserOnFinish *bool `json:"close_browser_on_finish,omitempty"`
	EnableSecurityAction *bool `json:"enable_security_action,omitempty"`
	Headless             *bool `json:"headless,omitempty"`

	// Cooldown is a duration ("2h") or "cron:<expr>"; empty uses loop.delay.
	Cooldown  string `json:"cooldown,omitempty"`
	JitterMax string `json:"jitter_max,omitempty"`

	Startup  StartupDelays  `json:"startup"`
	Login    LoginDelays    `json:"login"`
	Bump     BumpDelays     `json:"bump"`
	Security SecurityDelays `json:"security"`
	Messages Messages       `json:"messages"`
}

type StartupDelays struct {
	Stabilization           string `json:"stabilization,omitempty"`
	LoginDetectWait         string `json:"login_detect_wait,omitempty"`
	LoginDetectProgressStep string `json:"login_detect_progress_step,omitempty"`
}

type LoginDelays struct {
	WaitForm     string `json:"wait_form,omitempty"`
	AfterType    string `json:"after_type,omitempty"`
	SubmitWait   string `json:"submit_wait,omitempty"`
	MaxWait      string `json:"max_wait,omitempty"`
	QuickProbe   string `json:"quick_probe,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
}

type BumpDelays struct {
	AfterChannel string `json:"after_channel,omitempty"`
	BetweenKeys  string `json:"between_keys,omitempty"`
	AfterFirst   string `json:"after_first,omitempty"`
	AfterSecond  string `json:"after_second,omitempty"`
	KeyDelay     string `json:"key_delay,omitempty"`
	Command      string `json:"command,omitempty"`
}

type SecurityDelays struct {
	PreClick            string `json:"pre_click,omitempty"`
	AfterButton         string `json:"after_button,omitempty"`
	AfterSelectOpen     string `json:"after_select_open,omitempty"`
	AfterOption         string `json:"after_option,omitempty"`
	AfterSave           string `json:"after_save,omitempty"`
	WaitSaveButton      string `json:"wait_save_button,omitempty"`
	SavePollInterval    string `json:"save_poll_interval,omitempty"`
	ConfirmWait         string `json:"confirm_wait,omitempty"`
	ConfirmPollInterval string `json:"confirm_poll_interval,omitempty"`
	DebugOnFail         bool   `json:"debug_on_fail,omitempty"`

	// OptionMatch and SaveLabel are regular expressions matched against element text.
	OptionMatch string `json:"option_match,omitempty"`
	SaveLabel   string `json:"save_label,omitempty"`
}

type Messages struct {
	SecurityActivated string `json:"security_activated,omitempty"`
}

type LoopConfig struct {
	Enabled bool `json:"enabled"`
	// Mode: "cycles" (default) | "independent"
	Mode      string `json:"mode,omitempty"`
	Delay     string `json:"delay,omitempty"`
	JitterMax string `json:"jitter_max,omitempty"`
	MaxCycles int    `json:"max_cycles,omitempty"`
	MaxRuns   int    `json:"max_runs,omitempty"`
}

type AuthConfig struct {
	LoginURL  string `json:"login_url,omitempty"`
	LoginPath string `json:"login_path,omitempty"`
	// ChooserStrategy: "prefer-add-new" (default) | "prefer-first-existing"
	ChooserStrategy string `json:"chooser_strategy,omitempty"`
}

type BrowserConfig struct {
	SessionsDir       string            `json:"sessions_dir,omitempty"`
	ExecPath          string            `json:"exec_path,omitempty"`
	Headless          *bool             `json:"headless,omitempty"`
	Args              []string          `json:"args,omitempty"`
	Selectors         map[string]string `json:"selectors,omitempty"`
	CleanupBlankPages *bool             `json:"cleanup_blank_pages,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console *bool         `json:"console,omitempty"`
	Colored bool          `json:"colored"`
	Minimal bool          `json:"minimal"`
	File    LogFileConfig `json:"file"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type NotifierConfig struct {
	Enabled       *bool   `json:"enabled,omitempty"`
	Workers       int     `json:"workers,omitempty"`
	QueueSize     int     `json:"queue_size,omitempty"`
	RatePerSec    float64 `json:"rate_per_sec,omitempty"`
	RetryMax      int     `json:"retry_max,omitempty"`
	RetryBase     string  `json:"retry_base,omitempty"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	DedupWindow   string  `json:"dedup_window,omitempty"`
	PersistDedup  bool    `json:"persist_dedup,omitempty"`

	Webhook  WebhookConfig  `json:"webhook"`
	Telegram TelegramConfig `json:"telegram"`
}

type WebhookConfig struct {
	URL   string `json:"url,omitempty"`
	Embed *bool  `json:"embed,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token,omitempty"`
	TokenEnv string `json:"token_env,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
}

type StorageConfig struct {
	// Driver: "file" (default) | "sqlite" | "none"
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
