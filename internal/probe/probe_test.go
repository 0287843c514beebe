package probe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bumpbot/internal/browser"
	"bumpbot/internal/browser/browsertest"
	"bumpbot/internal/clock"
	"bumpbot/pkg/logx"
)

func TestIsLoginPath(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"/login":          true,
		"/login/":         true,
		"/login?redirect": true,
		"/loginx":         false,
		"/channels/@me":   false,
		"":                false,
	}
	for path, want := range cases {
		assert.Equal(t, want, IsLoginPath(path, "/login"), path)
	}
}

func openPage(t *testing.T, w *browsertest.World, profile string) browser.Page {
	t.Helper()
	b, err := browsertest.Launcher{W: w}.Launch(context.Background(), profile, browser.LaunchOptions{})
	require.NoError(t, err)
	pages, err := b.Pages(context.Background())
	require.NoError(t, err)
	return pages[0]
}

func TestClassify(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := browsertest.NewWorld()
	page := openPage(t, w, "p1")
	p := New("/login", clock.NewFake(time.Time{}), logx.Nop())

	require.NoError(t, page.Goto(ctx, w.LoginURL))
	c, err := p.Classify(ctx, page)
	require.NoError(t, err)
	assert.True(t, c.AtLoginPath)
	assert.False(t, c.Authenticated)

	w.Profile("p1").LoggedIn = true
	require.NoError(t, page.Goto(ctx, w.LoginURL))
	c, err = p.Classify(ctx, page)
	require.NoError(t, err)
	assert.True(t, c.Authenticated)
	assert.False(t, c.AtLoginPath)

	// disconnection always wins
	w.Reconnecting = true
	c, err = p.Classify(ctx, page)
	require.NoError(t, err)
	assert.True(t, c.Disconnected)
	assert.False(t, c.Authenticated)
}

func TestClassifyDeadBrowser(t *testing.T) {
	t.Parallel()

	w := browsertest.NewWorld()
	page := openPage(t, w, "p1")
	w.Browsers()[0].Disconnect()

	c, err := New("", nil, logx.Logger{}).Classify(context.Background(), page)
	require.ErrorIs(t, err, browser.ErrDisconnected)
	assert.True(t, c.Disconnected)
}

func TestPollUntilTimeoutReturnsLast(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Time{})
	calls := 0
	v, ok := PollUntil(context.Background(), clk, 2*time.Second, 7*time.Second, func(context.Context) (int, bool) {
		calls++
		return calls, false
	})
	assert.False(t, ok)
	// samples at 0s, 2s, 4s, 6s, 7s
	assert.Equal(t, 5, calls)
	assert.Equal(t, 5, v)
	assert.Equal(t, 7*time.Second, clk.Slept())
}

func TestPollUntilSucceeds(t *testing.T) {
	t.Parallel()

	clk := clock.NewFake(time.Time{})
	calls := 0
	v, ok := PollUntil(context.Background(), clk, 500*time.Millisecond, time.Minute, func(context.Context) (string, bool) {
		calls++
		return "done", calls == 3
	})
	assert.True(t, ok)
	assert.Equal(t, "done", v)
	assert.Equal(t, time.Second, clk.Slept())
}

func TestPollUntilCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, ok := PollUntil(ctx, clock.NewFake(time.Time{}), time.Second, time.Minute, func(context.Context) (bool, bool) {
		calls++
		return false, false
	})
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
}

func TestWaitAuthenticatedAfterManualLogin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := browsertest.NewWorld()
	page := openPage(t, w, "p1")
	require.NoError(t, page.Goto(ctx, w.LoginURL))

	clk := clock.NewFake(time.Time{})
	clk.OnSleep(func(now time.Time) {
		// the user completes login by hand after a few polls
		if clk.Slept() >= 6*time.Second && !w.Profile("p1").LoggedIn {
			w.Profile("p1").LoggedIn = true
		}
	})
	p := New("/login", clk, logx.Nop())

	_, ok := p.WaitAuthenticated(ctx, page, 2*time.Second, 10*time.Second)
	assert.False(t, ok, "still on login route without navigation")

	require.NoError(t, page.Goto(ctx, w.AppURL))
	c, ok := p.WaitAuthenticated(ctx, page, 2*time.Second, 10*time.Second)
	assert.True(t, ok)
	assert.True(t, c.Authenticated)
}

func TestObserveLeftLogin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := browsertest.NewWorld()
	page := openPage(t, w, "p1")
	require.NoError(t, page.Goto(ctx, w.LoginURL))

	clk := clock.NewFake(time.Time{})
	p := New("/login", clk, logx.Nop())
	_, ok := p.ObserveLeftLogin(ctx, page, 20*time.Second, 5*time.Second)
	assert.False(t, ok)
	assert.Equal(t, 20*time.Second, clk.Slept())

	w.Profile("p1").LoggedIn = true
	require.NoError(t, page.Goto(ctx, w.LoginURL))
	path, ok := p.ObserveLeftLogin(ctx, page, 20*time.Second, 5*time.Second)
	assert.True(t, ok)
	assert.Equal(t, "/channels/@me", path)
}

func TestClassificationLeftLogin(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		c    Classification
		want bool
	}{
		{"app route", Classification{Path: "/channels/@me"}, true},
		{"login route", Classification{Path: "/login", AtLoginPath: true}, false},
		{"blank page", Classification{}, false},
		{"reconnecting", Classification{Path: "/channels/@me", Disconnected: true}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.c.LeftLogin(), tc.name)
	}
}

func TestWaitAuthenticatedWithoutShellMarker(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	w := browsertest.NewWorld()
	w.HideShell = true
	w.Profile("p1").LoggedIn = true
	page := openPage(t, w, "p1")
	require.NoError(t, page.Goto(ctx, w.LoginURL))

	p := New("/login", clock.NewFake(time.Time{}), logx.Nop())
	c, ok := p.WaitAuthenticated(ctx, page, time.Second, 3*time.Second)
	assert.False(t, ok, "shell marker is required for a positive poll")
	assert.True(t, c.LeftLogin(), "route fallback still available to the caller")
}
