// Package runner executes one account's login-and-bump sequence against a
// browser session, with bounded recovery.
//
// A run makes at most two attempts. Each attempt resolves a session from the
// pool (or launches one), makes sure it is signed in, then performs the
// channel task. Failures are classified (see Kind) and decide how the second
// attempt starts: a brand new browser with a wiped profile, a new browser on
// the same profile, or the same browser with a forced fresh login.
package runner

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"bumpbot/internal/browser"
	"bumpbot/internal/clock"
	"bumpbot/internal/config"
	"bumpbot/internal/eventbus"
	"bumpbot/internal/notifier"
	"bumpbot/internal/pool"
	"bumpbot/internal/probe"
	"bumpbot/internal/storage"
	"bumpbot/pkg/logx"

	"github.com/google/uuid"
)

const maxAttempts = 2

// Config is the process-wide part of a run; per-account settings travel in
// Execution.
type Config struct {
	LoginURL        string
	LoginPath       string
	ChooserStrategy string

	SessionsDir       string
	ExecPath          string
	Args              []string
	CleanupBlankPages bool
}

// ConfigFrom extracts the runner config from resolved settings.
func ConfigFrom(s *config.Settings) Config {
	return Config{
		LoginURL:          s.Auth.LoginURL,
		LoginPath:         s.Auth.LoginPath,
		ChooserStrategy:   s.Auth.ChooserStrategy,
		SessionsDir:       s.Browser.SessionsDir,
		ExecPath:          s.Browser.ExecPath,
		Args:              s.Browser.Args,
		CleanupBlankPages: s.Browser.CleanupBlankPages,
	}
}

// Notifier is the fire-and-forget notification sink.
type Notifier interface {
	Notify(ctx context.Context, ev notifier.Event) error
}

// RunRecorder persists one record per finished run.
type RunRecorder interface {
	AppendRun(ctx context.Context, r storage.RunRecord) error
}

// Deps are the runner's collaborators. Launcher and Pool are required.
type Deps struct {
	Pool     *pool.Pool
	Launcher browser.Launcher
	Probe    *probe.Probe
	Clock    clock.Clock
	Notifier Notifier
	Runs     RunRecorder
	Bus      eventbus.Bus
	Log      logx.Logger
	// RemoveProfile deletes a profile directory; defaults to os.RemoveAll.
	RemoveProfile func(dir string) error
}

// Execution is one scheduled run of one account.
type Execution struct {
	Account config.Account
	Cycle   int
	RunID   string
}

// Outcome summarizes a finished run.
type Outcome struct {
	Success              bool
	Kind                 Kind
	Err                  error
	RequiresSessionReset bool
	Attempts             int
	ProfileResets        int
	FreshSessions        int
	Took                 time.Duration
}

type Runner struct {
	cfg      Config
	pool     *pool.Pool
	launcher browser.Launcher
	probe    *probe.Probe
	clk      clock.Clock
	notify   Notifier
	runs     RunRecorder
	bus      eventbus.Bus
	log      logx.Logger
	rmdir    func(string) error
}

func New(cfg Config, d Deps) *Runner {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Probe == nil {
		d.Probe = probe.New(cfg.LoginPath, d.Clock, d.Log)
	}
	if d.RemoveProfile == nil {
		d.RemoveProfile = os.RemoveAll
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = config.DefaultLoginURL
	}
	if cfg.ChooserStrategy == "" {
		cfg.ChooserStrategy = config.ChooserPreferAddNew
	}
	return &Runner{
		cfg:      cfg,
		pool:     d.Pool,
		launcher: d.Launcher,
		probe:    d.Probe,
		clk:      d.Clock,
		notify:   d.Notifier,
		runs:     d.Runs,
		bus:      d.Bus,
		log:      d.Log.With(logx.String("comp", "runner")),
		rmdir:    d.RemoveProfile,
	}
}

// run is the per-execution state shared by the attempt stages.
type run struct {
	*Runner
	ex      Execution
	acct    config.Account
	key     string
	log     logx.Logger
	session *pool.Session
	out     *Outcome
}

// Run executes the account sequence with at most two attempts. It never
// panics on browser failures and always returns an Outcome.
func (r *Runner) Run(ctx context.Context, ex Execution) Outcome {
	if ex.RunID == "" {
		ex.RunID = uuid.NewString()
	}
	acct := ex.Account
	started := r.clk.Now()
	out := Outcome{}
	st := &run{
		Runner: r,
		ex:     ex,
		acct:   acct,
		key:    acct.SessionName,
		log:    r.log.With(logx.String("session", acct.SessionName), logx.Int("cycle", ex.Cycle)),
		out:    &out,
	}
	eventbus.Publish(r.bus, eventbus.TypeRunStarted, eventbus.RunData{RunID: ex.RunID, Session: st.key, Cycle: ex.Cycle})

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out.Attempts = attempt
		neededLogin, err := st.attempt(ctx)
		if err == nil {
			out.Success, out.Kind, out.Err = true, KindNone, nil
			break
		}
		lastErr = err
		kind := Classify(err)
		if ctx.Err() != nil {
			kind = KindCanceled
		}
		out.Kind, out.Err = kind, err

		st.log.Error("attempt failed", logx.Int("attempt", attempt), logx.String("kind", string(kind)), logx.Err(err), logx.Essential())
		eventbus.Publish(r.bus, eventbus.TypeRunAttemptFailed, eventbus.RunData{
			RunID: ex.RunID, Session: st.key, Cycle: ex.Cycle, Attempt: attempt, Kind: string(kind), Err: err.Error(),
		})

		if kind == KindCanceled {
			break
		}
		retry := attempt < maxAttempts && !IsNoRetry(err)
		switch {
		case RequiresReset(kind):
			st.resetProfile()
		case evicts(kind):
			st.dropSession("evicted after " + string(kind))
		case kind == KindSessionDropped:
			// browser still connected: sign in again on it, profile kept
			st.forceLogin()
		case neededLogin:
			// a fresh login already ran in this attempt; repeating it cannot help
			retry = false
		default:
			st.forceLogin()
		}
		if !retry {
			break
		}
		st.log.Warn("retrying", logx.Int("next_attempt", attempt+1), logx.String("after", string(kind)), logx.Essential())
	}

	st.finalize(ctx)
	out.Took = r.clk.Now().Sub(started)

	if out.Success {
		st.log.Info("run complete", logx.Int("attempts", out.Attempts), logx.Duration("took", out.Took), logx.Essential())
	} else if out.Kind != KindCanceled {
		st.log.Error("run failed", logx.Int("attempts", out.Attempts), logx.String("kind", string(out.Kind)), logx.Err(lastErr), logx.Essential())
		st.emit(ctx, notifier.KindError, "run failed after "+strconv.Itoa(out.Attempts)+" attempt(s): "+lastErr.Error(), map[string]string{
			"kind":     string(out.Kind),
			"attempts": strconv.Itoa(out.Attempts),
		})
	}

	st.record(ctx, started)
	return out
}

// attempt runs one pass. neededLogin reports whether a full login ran.
func (st *run) attempt(ctx context.Context) (neededLogin bool, err error) {
	if err := st.resolveSession(ctx); err != nil {
		return false, err
	}
	neededLogin, err = st.ensureAuthenticated(ctx)
	if err != nil {
		return neededLogin, err
	}
	return neededLogin, st.performTask(ctx)
}

func (st *run) resolveSession(ctx context.Context) error {
	if st.session != nil && !st.session.Alive() {
		st.dropSession("dead")
	}
	if st.session == nil {
		st.session = st.pool.Acquire(st.key, st.acct.ReuseBrowser)
		if st.session != nil {
			st.log.Info("reusing browser session", logx.Time("created_at", st.session.CreatedAt), logx.Essential())
		}
	}
	if st.session == nil {
		if err := st.launch(ctx); err != nil {
			return err
		}
	}

	s := st.session
	if s.Page != nil && s.Page.Alive() {
		return nil
	}
	pages, err := s.Browser.Pages(ctx)
	if err != nil {
		return stage(KindLaunch, err)
	}
	var page browser.Page
	for _, p := range pages {
		if page == nil {
			page = p
			continue
		}
		if !st.cfg.CleanupBlankPages {
			break
		}
		if u, err := p.URL(ctx); err == nil && (u == "about:blank" || u == "") {
			_ = p.Close()
		}
	}
	if page == nil {
		if page, err = s.Browser.NewPage(ctx); err != nil {
			return stage(KindLaunch, err)
		}
	}
	s.Page = page
	return nil
}

func (st *run) launch(ctx context.Context) error {
	dir := st.profileDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return stage(KindLaunch, err)
	}
	st.log.Info("opening browser", logx.String("profile", dir), logx.Bool("headless", st.acct.Headless), logx.Essential())
	b, err := st.launcher.Launch(ctx, dir, browser.LaunchOptions{
		ExecPath: st.cfg.ExecPath,
		Headless: st.acct.Headless,
		Args:     st.cfg.Args,
	})
	if err != nil {
		return stage(KindLaunch, err)
	}
	st.session = &pool.Session{
		Key:        st.key,
		Browser:    b,
		ProfileDir: dir,
		CreatedAt:  st.clk.Now(),
		Fresh:      true,
	}
	st.pool.Remember(st.key, st.session)
	st.out.FreshSessions++
	return nil
}

func (st *run) profileDir() string {
	return config.Browser{SessionsDir: st.cfg.SessionsDir}.ProfileDir(st.key)
}

// dropSession evicts the current session and forgets it.
func (st *run) dropSession(reason string) {
	if st.session == nil {
		return
	}
	st.log.Debug("dropping session", logx.String("reason", reason))
	st.pool.Evict(st.key)
	st.session = nil
}

// resetProfile evicts and wipes the profile so the next launch starts clean.
func (st *run) resetProfile() {
	st.dropSession("connection lost")
	dir := st.profileDir()
	if err := st.rmdir(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		st.log.Warn("profile removal failed", logx.String("profile", dir), logx.Err(err))
	} else {
		st.log.Warn("profile reset", logx.String("profile", dir), logx.Essential())
	}
	st.out.ProfileResets++
	st.out.RequiresSessionReset = true
}

// forceLogin keeps the browser and profile but repeats the login flow.
func (st *run) forceLogin() {
	if st.session != nil {
		st.session.Authenticated = false
	}
}

func (st *run) finalize(ctx context.Context) {
	s := st.session
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	switch {
	case !s.Alive():
		st.pool.Evict(st.key)
	case st.acct.CloseOnFinish():
		st.pool.Evict(st.key)
		st.log.Info("browser closed", logx.Essential())
	default:
		if s.Page != nil {
			if err := s.Page.BringToFront(ctx); err != nil {
				st.log.Debug("bring to front failed", logx.Err(err))
			}
		}
		st.pool.Release(st.key)
		st.log.Info("browser kept open", logx.Essential())
	}
	st.session = nil
}

func (st *run) emit(ctx context.Context, kind, msg string, md map[string]string) {
	if st.notify == nil {
		return
	}
	if md == nil {
		md = map[string]string{}
	}
	if st.ex.Cycle > 0 {
		md["cycle"] = strconv.Itoa(st.ex.Cycle)
	}
	err := st.notify.Notify(context.WithoutCancel(ctx), notifier.Event{
		Kind:     kind,
		Message:  msg,
		Session:  st.key,
		Metadata: md,
		Target:   st.acct.WebhookURL,
	})
	if err != nil && !errors.Is(err, notifier.ErrDisabled) {
		st.log.Warn("notification not queued", logx.String("kind", kind), logx.Err(err))
	}
}

func (st *run) record(ctx context.Context, started time.Time) {
	out := st.out
	errText := ""
	if out.Err != nil {
		errText = out.Err.Error()
	}
	eventbus.Publish(st.bus, eventbus.TypeRunFinished, eventbus.RunData{
		RunID: st.ex.RunID, Session: st.key, Cycle: st.ex.Cycle, Attempt: out.Attempts,
		Kind: string(out.Kind), Success: out.Success, Err: errText, Took: out.Took,
	})
	if st.runs == nil {
		return
	}
	rec := storage.RunRecord{
		ID:        st.ex.RunID,
		Session:   st.key,
		Cycle:     st.ex.Cycle,
		StartedAt: started,
		TookMS:    out.Took.Milliseconds(),
		Success:   out.Success,
		Kind:      string(out.Kind),
		Attempts:  out.Attempts,
		Error:     errText,
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := st.runs.AppendRun(rctx, rec); err != nil {
		st.log.Warn("run record not saved", logx.Err(err))
	}
}
