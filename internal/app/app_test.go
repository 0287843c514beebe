package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bumpbot/internal/browser/browsertest"
	"bumpbot/internal/clock"
	"bumpbot/internal/config"
	"bumpbot/internal/scheduler"
	"bumpbot/internal/storage"
	"bumpbot/pkg/logx"
)

const accountYAML = `
  - session_name: %s
    email: %s@example.test
    password: hunter2
    channel_url: https://chat.test/channels/1/2
    enable_security_action: false
    startup: { stabilization: 1s, login_detect_wait: 1s, login_detect_progress_step: 500ms }
`

func writeConfig(t *testing.T, loop, extra string, sessions ...string) (path, dir string) {
	t.Helper()
	dir = t.TempDir()
	doc := "accounts:\n"
	for _, s := range sessions {
		doc += fmt.Sprintf(accountYAML, s, s)
	}
	doc += fmt.Sprintf(`
loop: %s
auth: { login_url: "%s" }
browser: { sessions_dir: "%s", headless: true }
logging: { level: ERROR }
notifier: { enabled: false }
storage: { driver: file, path: "%s" }
%s
`, loop, browsertest.DefaultLoginURL, filepath.Join(dir, "sessions"), filepath.Join(dir, "data", "bumpbot"), extra)
	path = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path, dir
}

func runToCompletion(t *testing.T, a *App) {
	t.Helper()
	require.NoError(t, a.Start(context.Background()))
	select {
	case <-a.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("scheduler did not finish")
	}
	require.NoError(t, a.Stop(context.Background(), StopFinished))
	require.NoError(t, a.Err())
}

func TestSingleAccountSinglePassThenKeepAlive(t *testing.T) {
	t.Parallel()
	path, dir := writeConfig(t, "{ enabled: false }", "keep_alive: 90s", "main")
	w := browsertest.NewWorld()
	clk := clock.NewFake(time.Time{})

	a, err := New(Options{ConfigPath: path, Launcher: browsertest.Launcher{W: w}, Clock: clk, NoWatch: true})
	require.NoError(t, err)
	runToCompletion(t, a)

	assert.Equal(t, scheduler.Summary{Runs: 1}, a.Summary())
	assert.Equal(t, []string{"/bump", "/bump"}, w.Sent())
	assert.Contains(t, clk.Sleeps(), 90*time.Second)
	for _, b := range w.Browsers() {
		assert.True(t, b.Closed(), "browsers are drained on stop")
	}

	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(dir, "data", "bumpbot")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	recs, err := st.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "main", recs[0].Session)
	assert.True(t, recs[0].Success)
}

func TestTwoAccountsTwoCyclesEndToEnd(t *testing.T) {
	t.Parallel()
	path, _ := writeConfig(t, "{ enabled: true, mode: cycles, delay: 1h, max_cycles: 2 }", "", "first", "second")
	w := browsertest.NewWorld()
	clk := clock.NewFake(time.Time{})

	a, err := New(Options{ConfigPath: path, Launcher: browsertest.Launcher{W: w}, Clock: clk, NoWatch: true})
	require.NoError(t, err)
	runToCompletion(t, a)

	assert.Equal(t, scheduler.Summary{Runs: 4, Cycles: 2}, a.Summary())
	assert.Len(t, w.Sent(), 8)

	var order []string
	for _, b := range w.Browsers() {
		order = append(order, filepath.Base(b.ProfileDir))
	}
	assert.Equal(t, []string{"first", "second", "first", "second"}, order)
}

func TestNewRejectsBadCooldown(t *testing.T) {
	t.Parallel()
	path, _ := writeConfig(t, "{ enabled: true, mode: independent }", "", "main")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	doc := strings.Replace(string(raw), "enable_security_action: false", "enable_security_action: false\n    cooldown: \"cron:every tuesday\"", 1)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err = New(Options{ConfigPath: path, Launcher: browsertest.Launcher{W: browsertest.NewWorld()}, NoWatch: true})
	require.ErrorContains(t, err, "cooldown")
}

func TestApplyConfigUpdatesLoopTiming(t *testing.T) {
	t.Parallel()
	path, _ := writeConfig(t, "{ enabled: true, mode: cycles, delay: 1h }", "", "main")
	a, err := New(Options{ConfigPath: path, Launcher: browsertest.Launcher{W: browsertest.NewWorld()}, Clock: clock.NewFake(time.Time{}), NoWatch: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.store.Close() })

	prev := a.cfgm.Get()
	next := *prev
	next.Loop.Delay = "20m"
	next.Loop.JitterMax = "2m"
	a.applyConfig(context.Background(), prev, &next)

	assert.Equal(t, 20*time.Minute, a.sched.Timing().Delay)
	assert.Equal(t, 2*time.Minute, a.sched.Timing().JitterMax)
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Accounts: []config.AccountConfig{{SessionName: "a", ChannelURL: "https://chat.test/c"}}}
	require.NoError(t, validateConfig(context.Background(), cfg))

	cfg.Accounts[0].Cooldown = "cron:nope nope"
	require.Error(t, validateConfig(context.Background(), cfg))

	cfg.Accounts[0].Cooldown = ""
	cfg.Loop.Mode = "sideways"
	require.Error(t, validateConfig(context.Background(), cfg))
}
