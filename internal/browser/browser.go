// Package browser defines the controller capability the runner drives.
//
// Elements are addressed by semantic Role rather than raw markup so the
// runner and probe stay independent of the target UI. Implementations map
// roles to concrete selectors (see DefaultSelectors and rodctl).
package browser

import (
	"context"
	"errors"
	"regexp"
	"time"
)

var (
	// ErrNotFound is returned when an element for a role did not appear in time.
	ErrNotFound = errors.New("browser: element not found")
	// ErrDisconnected is returned when the browser process or its page is gone.
	ErrDisconnected = errors.New("browser: disconnected")
)

// Role names a semantic UI element.
type Role string

const (
	RoleAppShell       Role = "app_shell"
	RoleDisconnected   Role = "disconnected"
	RoleLoginForm      Role = "login_form"
	RoleEmailInput     Role = "email_input"
	RolePasswordInput  Role = "password_input"
	RoleSubmit         Role = "submit"
	RoleChooserAddNew  Role = "chooser_add_new"
	RoleChooserFirst   Role = "chooser_first"
	RoleComposer       Role = "composer"
	RoleSecurityButton Role = "security_button"
	RoleSecuritySelect Role = "security_select"
	RoleSecurityValue  Role = "security_value"
	RoleSecurityOption Role = "security_option"
	RoleSaveButton     Role = "save_button"
	RoleCooldownNotice Role = "cooldown_notice"
)

// Roles lists every known role in a stable order.
func Roles() []Role {
	return []Role{
		RoleAppShell, RoleDisconnected, RoleLoginForm, RoleEmailInput, RolePasswordInput,
		RoleSubmit, RoleChooserAddNew, RoleChooserFirst, RoleComposer, RoleSecurityButton,
		RoleSecuritySelect, RoleSecurityValue, RoleSecurityOption, RoleSaveButton, RoleCooldownNotice,
	}
}

// Known reports whether r is one of the predefined roles.
func Known(r Role) bool {
	for _, k := range Roles() {
		if k == r {
			return true
		}
	}
	return false
}

// DefaultSelectors returns the built-in CSS selector for each role.
func DefaultSelectors() map[Role]string {
	return map[Role]string{
		RoleAppShell:       `#app-mount [class*="sidebar"], #app-mount nav`,
		RoleDisconnected:   `[class*="connectingContainer"], [class*="reconnecting"], [class*="connectionLost"]`,
		RoleLoginForm:      `form`,
		RoleEmailInput:     `input[name="email"], input[type="email"]`,
		RolePasswordInput:  `input[name="password"][type="password"], input[type="password"]`,
		RoleSubmit:         `button[type="submit"]`,
		RoleChooserAddNew:  `[class*="chooseAccount"] [class*="addAccount"], [class*="accountSwitcher"] button[class*="add"]`,
		RoleChooserFirst:   `[class*="chooseAccount"] [class*="accountButton"], [class*="accountSwitcher"] [role="button"]`,
		RoleComposer:       `div[data-slate-node="element"]`,
		RoleSecurityButton: `button.button__6e2b9.actionButton__36c3e`,
		RoleSecuritySelect: `div.wrapper__3412a.select__3f413`,
		RoleSecurityValue:  `div.value__3f413`,
		RoleSecurityOption: `div.option__3f413`,
		RoleSaveButton:     `button, [role="button"]`,
		RoleCooldownNotice: `[class*="ephemeral"] [class*="embedDescription"]`,
	}
}

// Key is a named keyboard key.
type Key string

const (
	KeyEnter     Key = "Enter"
	KeyArrowDown Key = "ArrowDown"
)

// LaunchOptions configures one browser process.
type LaunchOptions struct {
	ExecPath string
	Headless bool
	Args     []string
}

// Launcher starts a browser bound to a persistent profile directory.
type Launcher interface {
	Launch(ctx context.Context, profileDir string, opts LaunchOptions) (Browser, error)
}

// Browser is one live browser process.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Pages(ctx context.Context) ([]Page, error)
	// OnDisconnect registers fn to run once when the process goes away.
	OnDisconnect(fn func())
	Alive() bool
	Close() error
}

// Page is one tab.
type Page interface {
	Goto(ctx context.Context, url string) error
	URL(ctx context.Context) (string, error)
	// WaitFor blocks until role is present; ErrNotFound after timeout.
	WaitFor(ctx context.Context, role Role, timeout time.Duration) error
	Has(ctx context.Context, role Role) (bool, error)
	Click(ctx context.Context, role Role) error
	// ClickMatching clicks the first role element whose text matches re.
	ClickMatching(ctx context.Context, role Role, re *regexp.Regexp) (bool, error)
	TextOf(ctx context.Context, role Role) (string, error)
	// Type sends text to the focused element, pausing keyDelay between keys.
	Type(ctx context.Context, text string, keyDelay time.Duration) error
	Press(ctx context.Context, key Key) error
	Screenshot(ctx context.Context) ([]byte, error)
	BringToFront(ctx context.Context) error
	Alive() bool
	Close() error
}
