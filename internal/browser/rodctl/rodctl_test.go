package rodctl

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"bumpbot/internal/browser"
	"bumpbot/pkg/logx"
)

func TestSplitArg(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw, name, val string
		has            bool
	}{
		{"--window-size=1200,900", "window-size", "1200,900", true},
		{"--no-first-run", "no-first-run", "", false},
		{"  --disable-features=Translate,ExtensionsToolbarMenu ", "disable-features", "Translate,ExtensionsToolbarMenu", true},
		{"", "", "", false},
	}
	for _, tc := range cases {
		name, val, has := SplitArg(tc.raw)
		assert.Equal(t, tc.name, name, tc.raw)
		assert.Equal(t, tc.val, val, tc.raw)
		assert.Equal(t, tc.has, has, tc.raw)
	}
}

func TestResolveExecPathExplicitWins(t *testing.T) {
	t.Setenv(EnvExecPath, "/nonexistent/from-env")
	assert.Equal(t, "/opt/edge/msedge", ResolveExecPath(" /opt/edge/msedge "))
}

func TestNewMergesSelectorOverrides(t *testing.T) {
	t.Parallel()

	l := New(map[browser.Role]string{
		browser.RoleComposer: `div[role="textbox"]`,
		browser.RoleSubmit:   "  ",
	}, logx.Nop())

	assert.Equal(t, `div[role="textbox"]`, l.selectors[browser.RoleComposer])
	assert.Equal(t, browser.DefaultSelectors()[browser.RoleSubmit], l.selectors[browser.RoleSubmit])
	assert.Len(t, l.selectors, len(browser.Roles()))
}
