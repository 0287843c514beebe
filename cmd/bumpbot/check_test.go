package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bumpbot/internal/storage"
	"bumpbot/pkg/logx"
)

func writeCheckConfig(t *testing.T, extra string) (cfgPath, dataPath string) {
	t.Helper()
	dir := t.TempDir()
	dataPath = filepath.Join(dir, "data", "bumpbot")
	doc := `{
  // comments are allowed
  "accounts": [
    {"session_name": "main", "channel_url": "https://chat.test/channels/1/2", "cooldown": "cron:0 */2 * * *", "reuse_browser": true},
    {"session_name": "alt", "email": "alt@example.test", "password": "x", "channel_url": "https://chat.test/channels/1/3"}
  ],
  "loop": {"enabled": true, "mode": "independent", "delay": "90m", "jitter_max": "5m"},
  "storage": {"driver": "file", "path": "` + filepath.ToSlash(dataPath) + `"}` + extra + `
}`
	cfgPath = filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(doc), 0o644))
	return cfgPath, dataPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCheckPrintsPlan(t *testing.T) {
	t.Parallel()
	cfgPath, _ := writeCheckConfig(t, "")

	out, err := execute(t, "check", "--config", cfgPath, "--env", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Contains(t, out, "policy: independent (delay 90 min, jitter 5 min")
	assert.Contains(t, out, "1. main  cooldown=cron 0 */2 * * *")
	assert.Contains(t, out, "login=manual reuse=true close=false")
	assert.Contains(t, out, "2. alt  cooldown=90 min")
	assert.Contains(t, out, "login=credentials")
	assert.Contains(t, out, "storage: file")
}

func TestCheckRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfgPath, _ := writeCheckConfig(t, `, "auth": {"chooser_strategy": "guess"}`)

	_, err := execute(t, "check", "--config", cfgPath)
	require.ErrorContains(t, err, "chooser_strategy")
}

func TestCheckHistory(t *testing.T) {
	t.Parallel()
	cfgPath, dataPath := writeCheckConfig(t, "")
	st, err := storage.Open(storage.Config{Driver: "file", Path: dataPath}, logx.Nop())
	require.NoError(t, err)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, ok := range []bool{true, false, true} {
		rec := storage.RunRecord{ID: "r" + string(rune('1'+i)), Session: "main", Cycle: i + 1, StartedAt: at, TookMS: 42000, Success: ok, Attempts: 1}
		if !ok {
			rec.Kind, rec.Error, rec.Attempts = "auth_timeout", "login not confirmed", 2
		}
		require.NoError(t, st.AppendRun(context.Background(), rec))
	}
	require.NoError(t, st.Close())

	out, err := execute(t, "check", "--config", cfgPath, "--history", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "history: 2 run(s)")
	assert.Contains(t, out, "FAIL auth_timeout  login not confirmed")
	assert.Contains(t, out, "cycle=3")
	assert.NotContains(t, out, "cycle=1 ")
}
