package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bumpbot/internal/browser"
	"bumpbot/internal/notifier"
	"bumpbot/pkg/logx"
)

const (
	composerWait  = 30 * time.Second
	afterFocus    = 400 * time.Millisecond
	afterPick     = 400 * time.Millisecond
	betweenEnters = 500 * time.Millisecond
)

// performTask opens the channel and sends the two command invocations.
func (st *run) performTask(ctx context.Context) error {
	page := st.session.Page
	bump := st.acct.Bump

	if err := page.Goto(ctx, st.acct.ChannelURL); err != nil {
		return st.navErr(fmt.Errorf("open channel: %w", err))
	}
	st.log.Info("channel opened", logx.String("url", st.acct.ChannelURL))
	if err := st.clk.Sleep(ctx, bump.AfterChannel); err != nil {
		return err
	}

	if st.acct.EnableSecurityAction {
		st.securitySequence(ctx, page)
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	// re-verify before the irreversible part
	c, err := st.probe.Classify(ctx, page)
	switch {
	case c.Disconnected:
		return fmt.Errorf("before commands: %w", ErrConnectionLost)
	case err != nil:
		return st.navErr(err)
	case !c.Authenticated && !c.LeftLogin():
		st.session.Authenticated = false
		return fmt.Errorf("before commands (path %q): %w", c.Path, ErrSessionDropped)
	case !c.Authenticated:
		st.log.Debug("shell marker missing; trusting route", logx.String("path", c.Path))
	}

	if err := page.WaitFor(ctx, browser.RoleComposer, composerWait); err != nil {
		return st.cmdErr(fmt.Errorf("composer: %w", err))
	}
	if err := page.Click(ctx, browser.RoleComposer); err != nil {
		return st.cmdErr(fmt.Errorf("focus composer: %w", err))
	}
	if err := st.clk.Sleep(ctx, afterFocus); err != nil {
		return err
	}

	// first invocation: accept the default suggestion
	if err := st.sendCommand(ctx, page, false); err != nil {
		return err
	}
	st.log.Info("first command sent", logx.String("command", bump.Command), logx.Essential())
	if err := st.clk.Sleep(ctx, bump.AfterFirst); err != nil {
		return err
	}

	// second invocation: pick the next suggestion
	if err := st.sendCommand(ctx, page, true); err != nil {
		return err
	}
	st.log.Info("second command sent", logx.String("command", bump.Command), logx.Essential())

	if cooling, err := page.Has(ctx, browser.RoleCooldownNotice); err == nil && cooling {
		return NoRetry(ErrCommandCooldown)
	}

	st.emit(ctx, notifier.KindBumpsComplete, "both "+bump.Command+" commands sent", nil)
	return st.clk.Sleep(ctx, bump.AfterSecond)
}

func (st *run) sendCommand(ctx context.Context, page browser.Page, pickNext bool) error {
	bump := st.acct.Bump
	if err := page.Type(ctx, bump.Command, bump.KeyDelay); err != nil {
		return st.cmdErr(err)
	}
	if err := st.clk.Sleep(ctx, bump.BetweenKeys); err != nil {
		return err
	}
	if pickNext {
		if err := page.Press(ctx, browser.KeyArrowDown); err != nil {
			return st.cmdErr(err)
		}
		if err := st.clk.Sleep(ctx, afterPick); err != nil {
			return err
		}
	}
	// one Enter selects the suggestion, the second submits it
	if err := page.Press(ctx, browser.KeyEnter); err != nil {
		return st.cmdErr(err)
	}
	if err := st.clk.Sleep(ctx, betweenEnters); err != nil {
		return err
	}
	if err := page.Press(ctx, browser.KeyEnter); err != nil {
		return st.cmdErr(err)
	}
	return nil
}

// cmdErr tags a failure during the command stage.
func (st *run) cmdErr(err error) error {
	if errors.Is(err, browser.ErrDisconnected) || !st.session.Alive() {
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return stage(KindCommand, err)
}
