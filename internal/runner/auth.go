package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bumpbot/internal/browser"
	"bumpbot/internal/config"
	"bumpbot/pkg/logx"
)

const (
	quickProbeInterval = 500 * time.Millisecond
	defaultAuthPoll    = 2 * time.Second
	defaultAuthWait    = 2 * time.Minute
)

// ensureAuthenticated makes sure the session is signed in. It reports
// whether a login had to be performed (credentials or manual), as opposed to
// an existing signed-in profile being detected.
func (st *run) ensureAuthenticated(ctx context.Context) (bool, error) {
	s := st.session
	if s.Authenticated {
		st.log.Debug("session already authenticated")
		return false, nil
	}
	page := s.Page
	login := st.acct.Login

	if err := page.Goto(ctx, st.cfg.LoginURL); err != nil {
		return true, st.navErr(err)
	}
	st.log.Info("login page opened", logx.String("url", st.cfg.LoginURL), logx.Essential())

	if !s.InitializedOnce {
		startup := st.acct.Startup
		st.log.Info("waiting for first page load to settle", logx.String("wait", config.FormatDelay(startup.Stabilization)))
		if err := st.clk.Sleep(ctx, startup.Stabilization); err != nil {
			return true, err
		}
		s.InitializedOnce = true
		if path, ok := st.probe.ObserveLeftLogin(ctx, page, startup.LoginDetectWait, startup.LoginDetectStep); ok {
			st.log.Info("session already signed in", logx.String("path", path), logx.String("by", "route"), logx.Essential())
			s.Authenticated = true
			return false, nil
		}
		if err := ctx.Err(); err != nil {
			return true, err
		}
	}

	st.handleChooser(ctx, page)

	c, ok := st.probe.WaitAuthenticated(ctx, page, quickProbeInterval, login.QuickProbe)
	if err := ctx.Err(); err != nil {
		return true, err
	}
	if ok || c.LeftLogin() {
		st.log.Info("session already signed in", logx.String("path", c.Path), logx.String("by", signedInBy(ok)), logx.Essential())
		s.Authenticated = true
		return false, nil
	}

	if st.acct.HasCredentials() {
		if err := st.submitCredentials(ctx, page, login); err != nil {
			return true, err
		}
	} else {
		st.log.Warn("no credentials configured; complete the login manually in the browser window",
			logx.String("max_wait", config.FormatDelay(orDefault(login.MaxWait, defaultAuthWait))), logx.Essential())
	}
	return true, st.confirmAuthenticated(ctx, page, login)
}

// confirmAuthenticated runs the long bounded poll.
func (st *run) confirmAuthenticated(ctx context.Context, page browser.Page, login config.LoginTimings) error {
	c, ok := st.probe.WaitAuthenticated(ctx, page,
		orDefault(login.PollInterval, defaultAuthPoll),
		orDefault(login.MaxWait, defaultAuthWait))
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ok && !c.LeftLogin() {
		if c.Disconnected {
			return fmt.Errorf("waiting for login: %w", ErrConnectionLost)
		}
		return fmt.Errorf("%w (path %q)", ErrAuthTimeout, c.Path)
	}
	st.session.Authenticated = true
	st.log.Info("signed in", logx.String("path", c.Path), logx.String("by", signedInBy(ok)), logx.Essential())
	return nil
}

// signedInBy names which check accepted the session: the shell marker or
// the route having left the login page.
func signedInBy(shell bool) string {
	if shell {
		return "shell"
	}
	return "route"
}

// handleChooser dismisses the account chooser interstitial when shown.
func (st *run) handleChooser(ctx context.Context, page browser.Page) {
	order := []browser.Role{browser.RoleChooserAddNew, browser.RoleChooserFirst}
	if st.cfg.ChooserStrategy == config.ChooserPreferFirstExisting {
		order = []browser.Role{browser.RoleChooserFirst, browser.RoleChooserAddNew}
	}
	for _, role := range order {
		present, err := page.Has(ctx, role)
		if err != nil || !present {
			continue
		}
		if err := page.Click(ctx, role); err != nil {
			st.log.Debug("chooser click failed", logx.String("role", string(role)), logx.Err(err))
			continue
		}
		st.log.Info("account chooser handled", logx.String("choice", string(role)))
		return
	}
}

func (st *run) submitCredentials(ctx context.Context, page browser.Page, login config.LoginTimings) error {
	if err := page.WaitFor(ctx, browser.RoleLoginForm, login.WaitForm); err != nil {
		if errors.Is(err, browser.ErrNotFound) {
			st.log.Warn("login form not found; waiting for manual login", logx.Err(err))
			return nil
		}
		return st.navErr(err)
	}
	steps := []struct {
		role browser.Role
		text string
	}{
		{browser.RoleEmailInput, st.acct.Email},
		{browser.RolePasswordInput, st.acct.Password},
	}
	for _, step := range steps {
		if err := page.Click(ctx, step.role); err != nil {
			return st.navErr(fmt.Errorf("focus %s: %w", step.role, err))
		}
		if err := page.Type(ctx, step.text, 0); err != nil {
			return st.navErr(err)
		}
		if err := st.clk.Sleep(ctx, login.AfterType); err != nil {
			return err
		}
	}
	if err := page.Click(ctx, browser.RoleSubmit); err != nil {
		return st.navErr(fmt.Errorf("submit: %w", err))
	}
	st.log.Info("credentials submitted", logx.Essential())
	return st.clk.Sleep(ctx, login.SubmitWait)
}

// navErr tags a page failure: a lost browser is a connection loss,
// everything else a navigation failure.
func (st *run) navErr(err error) error {
	if errors.Is(err, browser.ErrDisconnected) || !st.session.Alive() {
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return stage(KindNavigation, err)
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
