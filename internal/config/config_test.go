package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
accounts:
  - session_name: main account
    email_env: MAIN_EMAIL
    password_env: MAIN_PASSWORD
    channel_url: https://discord.com/channels/1/2
    reuse_browser: true
    cooldown: 2h
    jitter_max: 10m
    startup: { stabilization: 0s }
    bump: { command: /bump }
  - session_name: alt
    email: alt@example.com
    password: secret
    channel_url: https://discord.com/channels/1/3
    close_browser_on_finish: true
    enable_security_action: false
loop: { enabled: true, mode: independent, delay: 90m, jitter_max: 5m, max_runs: 10 }
logging: { level: debug, minimal: true }
notifier:
  telegram: { token_env: TG_TOKEN, chat_id: 42 }
`

func env(m map[string]string) Getenv {
	return func(k string) string { return m[k] }
}

func TestParseYAMLAndNormalize(t *testing.T) {
	t.Parallel()

	cfg, err := ParseBytes("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	assert.Empty(t, cfg.Warnings)

	s, err := Normalize(cfg, env(map[string]string{
		"MAIN_EMAIL":    "me@example.com",
		"MAIN_PASSWORD": "pw",
		"TG_TOKEN":      "123:abc",
	}))
	require.NoError(t, err)

	require.Len(t, s.Accounts, 2)
	main := s.Accounts[0]
	assert.Equal(t, "main account", main.SessionName)
	assert.True(t, main.HasCredentials())
	assert.Equal(t, "2h", main.Cooldown)
	require.NotNil(t, main.JitterMax)
	assert.Equal(t, 10*time.Minute, *main.JitterMax)
	assert.Equal(t, time.Duration(0), main.Startup.Stabilization)
	assert.Equal(t, 20*time.Second, main.Startup.LoginDetectWait)
	assert.Equal(t, 2*time.Minute, main.Login.MaxWait)
	assert.True(t, main.EnableSecurityAction)
	assert.False(t, main.CloseOnFinish(), "reuse keeps the browser by default")
	assert.Equal(t, DefaultSecurityMessage, main.SecurityMessage)

	alt := s.Accounts[1]
	assert.Equal(t, 1, alt.Order)
	assert.False(t, alt.EnableSecurityAction)
	assert.True(t, alt.CloseOnFinish())
	assert.Nil(t, alt.JitterMax)

	assert.Equal(t, Loop{Enabled: true, Mode: ModeIndependent, Delay: 90 * time.Minute, JitterMax: 5 * time.Minute, MaxRuns: 10}, s.Loop)
	assert.Equal(t, "/login", s.Auth.LoginPath)
	assert.Equal(t, ChooserPreferAddNew, s.Auth.ChooserStrategy)
	assert.Equal(t, "debug", s.Logging.Level)
	assert.True(t, s.Logging.Console)
	assert.True(t, s.Logging.Minimal)
	assert.Equal(t, "123:abc", s.Notifier.TelegramToken)
	assert.Equal(t, int64(42), s.Notifier.TelegramChatID)
	assert.True(t, s.Notifier.Enabled)
	assert.Equal(t, "file", s.Storage.Driver)
	assert.True(t, s.Browser.CleanupBlankPages)
	assert.Equal(t, filepath.Join(DefaultSessionsDir, "main_account"), s.Browser.ProfileDir(main.SessionName))
}

func TestParseJSONWithCommentsAndUnknownFields(t *testing.T) {
	t.Parallel()

	doc := `{
  // accounts
  "accounts": [{"session_name": "a", "channel_url": "https://x.test/c#frag", "shiny": 1}],
  /* loop block */
  "loop": {"enabled": false},
  # legacy
  "minimalLogs": true
}`
	cfg, err := ParseBytes("config.json", []byte(doc))
	require.NoError(t, err)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "unknown field")
	require.Len(t, cfg.Accounts, 1)
	assert.Equal(t, "https://x.test/c#frag", cfg.Accounts[0].ChannelURL)
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	_, err := ParseBytes("c.json", []byte(`{"accounts": []} {}`))
	require.Error(t, err)
}

func TestNormalizeReportsAllErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Accounts: []AccountConfig{
			{SessionName: "a", ChannelURL: "https://x.test/1", Login: LoginDelays{MaxWait: "soon"}},
			{SessionName: "a", ChannelURL: "https://x.test/2"},
			{ChannelURL: ""},
		},
		Loop:    LoopConfig{Mode: "parallel"},
		Auth:    AuthConfig{ChooserStrategy: "random"},
		Storage: StorageConfig{Driver: "redis"},
		Logging: LoggingConfig{Level: "loud"},
	}
	_, err := Normalize(cfg, env(nil))
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"accounts[0].login.max_wait",
		"accounts[1].session_name",
		"accounts[2].session_name: required",
		"accounts[2].channel_url: required",
		"loop.mode",
		"auth.chooser_strategy",
		"storage.driver",
		"logging.level",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestNormalizeRequiresAccounts(t *testing.T) {
	t.Parallel()
	_, err := Normalize(&Config{}, env(nil))
	require.ErrorContains(t, err, "at least one account")
}

func TestCloseOnFinishTriState(t *testing.T) {
	t.Parallel()

	yes, no := true, false
	cases := []struct {
		name  string
		reuse bool
		close *bool
		want  bool
	}{
		{"default closes", false, nil, true},
		{"reuse keeps", true, nil, false},
		{"explicit close wins over reuse", true, &yes, true},
		{"explicit keep", false, &no, false},
	}
	for _, tc := range cases {
		a := Account{ReuseBrowser: tc.reuse, CloseBrowserOnFinish: tc.close}
		assert.Equal(t, tc.want, a.CloseOnFinish(), tc.name)
	}
}

func TestSanitizeName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "Main_Acc-1_", SanitizeName("Main Acc-1!"))
	assert.Equal(t, "default-session", SanitizeName("  "))
}

func TestFormatDelay(t *testing.T) {
	t.Parallel()
	cases := map[time.Duration]string{
		850 * time.Millisecond:           "850 ms",
		42 * time.Second:                 "42 s",
		5 * time.Minute:                  "5 min",
		5*time.Minute + 3*time.Second:    "5 min 3 s",
		time.Hour + 500*time.Millisecond: "60 min 1 s",
	}
	for d, want := range cases {
		assert.Equal(t, want, FormatDelay(d), d.String())
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	old := &Config{Loop: LoopConfig{Delay: "1h"}, Accounts: []AccountConfig{{SessionName: "a"}}}
	next := &Config{Loop: LoopConfig{Delay: "2h"}, Accounts: []AccountConfig{{SessionName: "a"}, {SessionName: "b"}}}
	next.Logging.Level = "DEBUG"

	changed, attrs, restart := SummarizeConfigChange(old, next)
	assert.ElementsMatch(t, []string{"logging", "loop", "accounts"}, changed)
	assert.Equal(t, []string{"accounts"}, restart)
	assert.NotEmpty(t, attrs)
}

func TestManagerWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(200 * time.Millisecond)

	updated := sampleYAML + "keep_alive: 5s\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case cfg := <-ch:
		assert.Equal(t, "5s", cfg.KeepAlive)
		assert.Equal(t, "5s", m.Get().KeepAlive)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
}

func TestManagerValidatorRejects(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)

	ch := m.Subscribe(1)
	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML+"keep_alive: 1s\n"), 0o644))
	m.reload(context.Background())

	assert.Len(t, ch, 0)
	assert.Empty(t, m.Get().KeepAlive)
}

func TestLoadEnvFilesDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(p, []byte("BUMPBOT_TEST_A=file\nBUMPBOT_TEST_B=file\n"), 0o644))
	t.Setenv("BUMPBOT_TEST_A", "process")

	loaded, err := LoadEnvFiles(p, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, []string{p}, loaded)
	assert.Equal(t, "process", os.Getenv("BUMPBOT_TEST_A"))
	assert.Equal(t, "file", os.Getenv("BUMPBOT_TEST_B"))
	_ = os.Unsetenv("BUMPBOT_TEST_B")
}
