package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"bumpbot/internal/transport"
	"bumpbot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct {
	mu    sync.Mutex
	paths []string
	last  map[string]any
}

func newServer(t *testing.T, status int) (*httptest.Server, *capture) {
	t.Helper()
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.paths = append(c.paths, r.URL.Path)
		c.last = body
		c.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestSendEmbed(t *testing.T) {
	t.Parallel()
	srv, got := newServer(t, http.StatusNoContent)
	ch := New(Config{URL: srv.URL + "/default", Embed: true}, srv.Client(), logx.Nop())

	err := ch.Send(context.Background(), transport.Message{
		Kind:     "bumps-complete",
		Text:     "both commands sent",
		Session:  "main",
		Metadata: map[string]string{"cycle": "3", "attempts": "1"},
		At:       time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.Equal(t, []string{"/default"}, got.paths)
	embeds, ok := got.last["embeds"].([]any)
	require.True(t, ok)
	require.Len(t, embeds, 1)
	e := embeds[0].(map[string]any)
	assert.Equal(t, "bumps-complete", e["title"])
	assert.Equal(t, "both commands sent", e["description"])
	assert.EqualValues(t, ColorBumpsComplete, e["color"])
	assert.Equal(t, "2024-01-01T12:00:00Z", e["timestamp"])
	assert.Equal(t, "main", e["footer"].(map[string]any)["text"])

	fields := e["fields"].([]any)
	require.Len(t, fields, 2)
	assert.Equal(t, "attempts", fields[0].(map[string]any)["name"])
	assert.Equal(t, "cycle", fields[1].(map[string]any)["name"])
}

func TestSendPlainAndTargetOverride(t *testing.T) {
	t.Parallel()
	srv, got := newServer(t, http.StatusOK)
	ch := New(Config{URL: srv.URL + "/default"}, srv.Client(), logx.Nop())

	err := ch.Send(context.Background(), transport.Message{Kind: "error", Text: "boom", Target: srv.URL + "/account"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/account"}, got.paths)
	assert.Equal(t, "[error] boom", got.last["content"])
	assert.Nil(t, got.last["embeds"])
}

func TestSendErrors(t *testing.T) {
	t.Parallel()
	ch := New(Config{}, nil, logx.Nop())
	require.ErrorIs(t, ch.Send(context.Background(), transport.Message{Kind: "error"}), transport.ErrNoTarget)

	srv, _ := newServer(t, http.StatusTooManyRequests)
	ch = New(Config{URL: srv.URL}, srv.Client(), logx.Nop())
	err := ch.Send(context.Background(), transport.Message{Kind: "error", Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http=429")
}

func TestColorFor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ColorSecurityActivated, ColorFor("security-activated"))
	assert.Equal(t, ColorError, ColorFor("error"))
	assert.Equal(t, ColorDefault, ColorFor("security-skip"))
}
