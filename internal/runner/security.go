package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"bumpbot/internal/browser"
	"bumpbot/internal/config"
	"bumpbot/internal/notifier"
	"bumpbot/internal/probe"
	"bumpbot/pkg/logx"
)

const (
	securityButtonWait = 10 * time.Second
	// alreadyActive is the marker text of the target setting.
	alreadyActive = "24"
)

// securitySequence switches the channel's security setting to the 24h
// option. Every failure is logged and swallowed: the bump still runs.
func (st *run) securitySequence(ctx context.Context, page browser.Page) {
	sec := st.acct.Security
	log := st.log.With(logx.String("stage", "security"))

	optionRe, err := regexp.Compile(orString(sec.OptionMatch, config.DefaultOptionMatch))
	if err != nil {
		log.Warn("invalid option pattern; skipping", logx.Err(err))
		return
	}
	saveRe, err := regexp.Compile(orString(sec.SaveLabel, config.DefaultSaveLabel))
	if err != nil {
		log.Warn("invalid save label pattern; skipping", logx.Err(err))
		return
	}

	if err := page.WaitFor(ctx, browser.RoleSecurityButton, securityButtonWait); err != nil {
		log.Info("security button not found; skipping", logx.Err(err))
		return
	}
	if st.clk.Sleep(ctx, sec.PreClick) != nil {
		return
	}

	if current, err := page.TextOf(ctx, browser.RoleSecurityValue); err == nil && strings.Contains(current, alreadyActive) {
		log.Info("security already at 24h; skipping", logx.String("value", current), logx.Essential())
		st.emit(ctx, notifier.KindSecuritySkip, "security setting already active: "+current, nil)
		return
	}

	if err := page.Click(ctx, browser.RoleSecurityButton); err != nil {
		log.Warn("security button click failed", logx.Err(err))
		return
	}
	log.Debug("security panel opened")
	if st.clk.Sleep(ctx, sec.AfterButton) != nil {
		return
	}

	if err := page.Click(ctx, browser.RoleSecuritySelect); err != nil {
		log.Debug("select wrapper click failed; trying value element", logx.Err(err))
		if err := page.Click(ctx, browser.RoleSecurityValue); err != nil {
			log.Warn("could not open the duration select; continuing to save", logx.Err(err))
		}
	}
	if st.clk.Sleep(ctx, sec.AfterSelectOpen) != nil {
		return
	}

	picked, err := page.ClickMatching(ctx, browser.RoleSecurityOption, optionRe)
	if err != nil || !picked {
		log.Warn("24h option not found; continuing to save", logx.Err(err))
	} else {
		log.Debug("24h option selected")
		if st.clk.Sleep(ctx, sec.AfterOption) != nil {
			return
		}
	}

	_, saved := probe.PollUntil(ctx, st.clk, sec.SavePoll, sec.WaitSaveButton, func(ctx context.Context) (struct{}, bool) {
		ok, err := page.ClickMatching(ctx, browser.RoleSaveButton, saveRe)
		return struct{}{}, err == nil && ok
	})
	if !saved {
		log.Warn("save button not found", logx.String("waited", config.FormatDelay(sec.WaitSaveButton)))
		return
	}
	log.Debug("save clicked")
	if st.clk.Sleep(ctx, sec.AfterSave) != nil {
		return
	}

	value, confirmed := probe.PollUntil(ctx, st.clk, sec.ConfirmPoll, sec.ConfirmWait, func(ctx context.Context) (string, bool) {
		v, err := page.TextOf(ctx, browser.RoleSecurityValue)
		return v, err == nil && optionRe.MatchString(v)
	})
	if !confirmed {
		log.Warn("security change not confirmed", logx.String("value", value))
		if sec.DebugOnFail {
			st.debugScreenshot(ctx, page, log)
		}
		return
	}

	log.Info("security set to 24h", logx.String("value", value), logx.Essential())
	st.emit(ctx, notifier.KindSecurityActivated, "security setting changed to "+value, nil)
	st.postMessage(ctx, page, orString(st.acct.SecurityMessage, config.DefaultSecurityMessage), log)
}

// postMessage writes a confirmation line into the channel.
func (st *run) postMessage(ctx context.Context, page browser.Page, text string, log logx.Logger) {
	if err := page.Click(ctx, browser.RoleComposer); err != nil {
		log.Warn("confirmation message not sent", logx.Err(err))
		return
	}
	if err := page.Type(ctx, text, st.acct.Bump.KeyDelay); err != nil {
		log.Warn("confirmation message not sent", logx.Err(err))
		return
	}
	if err := page.Press(ctx, browser.KeyEnter); err != nil {
		log.Warn("confirmation message not sent", logx.Err(err))
		return
	}
	log.Info("confirmation message sent")
}

func (st *run) debugScreenshot(ctx context.Context, page browser.Page, log logx.Logger) {
	png, err := page.Screenshot(ctx)
	if err != nil {
		log.Warn("debug screenshot failed", logx.Err(err))
		return
	}
	dir := filepath.Join(st.cfg.SessionsDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn("debug screenshot failed", logx.Err(err))
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("security-fail-%s-%d.png", config.SanitizeName(st.key), st.clk.Now().Unix()))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		log.Warn("debug screenshot failed", logx.Err(err))
		return
	}
	log.Info("debug screenshot saved", logx.String("path", path))
}

func orString(s, def string) string {
	if strings.TrimSpace(s) != "" {
		return s
	}
	return def
}
