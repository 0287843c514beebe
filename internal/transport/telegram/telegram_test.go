package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bumpbot/internal/transport"
	"bumpbot/pkg/logx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	t.Parallel()
	got := Render(transport.Message{
		Kind:     "error",
		Session:  "main",
		Text:     "auth timeout",
		Metadata: map[string]string{"kind": "auth_timeout", "attempts": "2"},
		At:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, "[error] main\nauth timeout\nattempts: 2\nkind: auth_timeout\n2024-01-01T00:00:00Z", got)
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"short"}, splitText("short", 10))

	long := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	parts := splitText(long, 10)
	require.Len(t, parts, 2)
	assert.Equal(t, "aaaaaa", parts[0])
	assert.Equal(t, "bbbbbb", parts[1])

	parts = splitText(strings.Repeat("x", 25), 10)
	assert.Len(t, parts, 3)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	_, err := New(Config{ChatID: 1}, logx.Nop())
	require.Error(t, err)
	_, err = New(Config{Token: "t"}, logx.Nop())
	require.Error(t, err)
}

func TestSendHitsBotAPI(t *testing.T) {
	t.Parallel()
	var (
		mu     sync.Mutex
		paths  []string
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, string(b))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"message_id": 7,
				"date":       0,
				"chat":       map[string]any{"id": 42, "type": "group"},
				"text":       "ok",
			},
		})
	}))
	defer srv.Close()

	ch, err := New(Config{Token: "123:abc", ChatID: 42, ThreadID: 9, APIURL: srv.URL}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, ch.Send(context.Background(), transport.Message{Kind: "bumps-complete", Session: "main", Text: "done"}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, paths, 1)
	assert.Equal(t, "/bot123:abc/sendMessage", paths[0])
	assert.Contains(t, bodies[0], "bumps-complete")
	assert.Contains(t, bodies[0], "42")
}
