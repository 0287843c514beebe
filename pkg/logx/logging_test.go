package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "DEBUG").With(String("comp", "runner"))

	log.Info("browser open", String("session", "main"), Int("attempt", 2), Bool("fresh", true), Err(errors.New("boom")), Essential())
	log.Trace("hidden")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	l := lines[0]
	assert.Equal(t, "browser open", l["message"])
	assert.Equal(t, "runner", l["comp"])
	assert.Equal(t, "main", l["session"])
	assert.EqualValues(t, 2, l["attempt"])
	assert.Equal(t, true, l["fresh"])
	assert.Equal(t, "boom", l["err"])
	assert.Equal(t, true, l[EssentialKey])
	assert.Contains(t, l["caller"], "logging_test.go:")
}

func TestErrNilAddsNothing(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "INFO").Info("ok", Err(nil))
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "err")
}

func TestZeroAndNopLoggersAreSafe(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Info("dropped")
	assert.False(t, Nop().IsZero())
	Nop().With(String("a", "b")).Error("dropped")
}

func TestMinimalWriterKeepsEssentialAndWarnings(t *testing.T) {
	var buf bytes.Buffer
	w := &minimalWriter{next: &buf}

	_, err := w.WriteLevel(zerolog.InfoLevel, []byte(`{"message":"noise"}`+"\n"))
	require.NoError(t, err)
	_, err = w.WriteLevel(zerolog.InfoLevel, []byte(`{"message":"milestone","essential":true}`+"\n"))
	require.NoError(t, err)
	_, err = w.WriteLevel(zerolog.WarnLevel, []byte(`{"message":"careful"}`+"\n"))
	require.NoError(t, err)

	out := buf.String()
	assert.NotContains(t, out, "noise")
	assert.Contains(t, out, "milestone")
	assert.Contains(t, out, "careful")
}

func TestServiceFileSinkAndApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "bumpbot.log")
	svc, log := New(Config{Level: "INFO", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })

	log = log.With(String("comp", "app"))
	log.Debug("below level")
	log.Info("first")

	svc.Apply(Config{Level: "DEBUG", File: FileConfig{Enabled: true, Path: path}})
	log.Debug("now visible")
	require.NoError(t, svc.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	buf := bytes.NewBuffer(raw)
	lines := decodeLines(t, buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "first", lines[0]["message"])
	assert.Equal(t, "now visible", lines[1]["message"])
	assert.Equal(t, "app", lines[1]["comp"])
}

func TestValidLevel(t *testing.T) {
	for _, s := range []string{"", "trace", "Debug", "INFO", "warning", "ERROR"} {
		assert.True(t, ValidLevel(s), s)
	}
	assert.False(t, ValidLevel("loud"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warn", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("??", zerolog.InfoLevel))
}
