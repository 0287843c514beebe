// Package scheduler decides which account runs next and how long to wait.
//
// One of three policies is chosen at construction: a single pass over the
// accounts, synchronized cycles over the ordered list, or independent
// per-account cooldowns kept in a due-time heap. Exactly one run is in flight
// at a time; a failed run is logged and the loop carries on.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"bumpbot/internal/clock"
	"bumpbot/internal/config"
	"bumpbot/internal/runner"
	"bumpbot/pkg/logx"
)

// Policy names.
const (
	PolicyOnce        = "once"
	PolicyCycles      = config.ModeCycles
	PolicyIndependent = config.ModeIndependent
)

// minGap keeps an independent account from being due again at its own completion instant.
const minGap = time.Second

// Runner executes one account run.
type Runner interface {
	Run(ctx context.Context, ex runner.Execution) runner.Outcome
}

// ScheduleStore persists independent next-run times.
type ScheduleStore interface {
	PutSchedule(ctx context.Context, session string, next time.Time) error
	LoadSchedule(ctx context.Context) (map[string]time.Time, error)
}

// Timing is the hot-reloadable part of the loop configuration.
type Timing struct {
	Delay     time.Duration
	JitterMax time.Duration
	MaxCycles int
	MaxRuns   int
}

// TimingFrom extracts Timing from resolved loop settings.
func TimingFrom(l config.Loop) Timing {
	return Timing{Delay: l.Delay, JitterMax: l.JitterMax, MaxCycles: l.MaxCycles, MaxRuns: l.MaxRuns}
}

// PolicyFor maps loop settings to a policy name.
func PolicyFor(l config.Loop) string {
	if !l.Enabled {
		return PolicyOnce
	}
	if l.Mode == config.ModeIndependent {
		return PolicyIndependent
	}
	return PolicyCycles
}

type Deps struct {
	Runner Runner
	Clock  clock.Clock
	Store  ScheduleStore
	// Rand draws jitter; defaults to a time-seeded source.
	Rand *rand.Rand
	Log  logx.Logger
}

// Summary counts what a Run call did.
type Summary struct {
	Runs     int
	Failures int
	Cycles   int
}

type Scheduler struct {
	policy   string
	accounts []config.Account
	run      Runner
	clk      clock.Clock
	store    ScheduleStore
	log      logx.Logger

	mu     sync.Mutex
	timing Timing
	rng    *rand.Rand
}

// New builds a scheduler for the given policy. It fails on an empty account
// list or an unparsable cooldown.
func New(policy string, accounts []config.Account, t Timing, d Deps) (*Scheduler, error) {
	if len(accounts) == 0 {
		return nil, errors.New("scheduler: no accounts")
	}
	if d.Runner == nil {
		return nil, errors.New("scheduler: runner is nil")
	}
	switch policy {
	case PolicyOnce, PolicyCycles, PolicyIndependent:
	default:
		return nil, fmt.Errorf("scheduler: unknown policy %q", policy)
	}
	if err := ValidateAccounts(accounts, t.Delay); err != nil {
		return nil, err
	}
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Scheduler{
		policy:   policy,
		accounts: append([]config.Account(nil), accounts...),
		run:      d.Runner,
		clk:      d.Clock,
		store:    d.Store,
		log:      d.Log.With(logx.String("comp", "scheduler")),
		timing:   t,
		rng:      d.Rand,
	}, nil
}

func (s *Scheduler) Policy() string { return s.policy }

// Apply swaps loop timing; it takes effect at the next wait.
func (s *Scheduler) Apply(t Timing) {
	s.mu.Lock()
	s.timing = t
	s.mu.Unlock()
	s.log.Info("loop timing updated",
		logx.String("delay", config.FormatDelay(t.Delay)),
		logx.String("jitter_max", config.FormatDelay(t.JitterMax)),
		logx.Int("max_cycles", t.MaxCycles),
		logx.Int("max_runs", t.MaxRuns),
	)
}

func (s *Scheduler) Timing() Timing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timing
}

// Jitter draws floor(rand * (jitterMax_ms + 1)) milliseconds.
func Jitter(rng *rand.Rand, jitterMax time.Duration) time.Duration {
	ms := jitterMax.Milliseconds()
	if ms <= 0 {
		return 0
	}
	return time.Duration(rng.Int63n(ms+1)) * time.Millisecond
}

// delay returns base plus a fresh jitter sample, in [base, base+jitterMax].
func (s *Scheduler) delay(base, jitterMax time.Duration) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return base + Jitter(s.rng, jitterMax)
}

// Run drives the chosen policy until it completes or ctx is canceled.
// A canceled ctx returns ctx.Err() with the summary so far.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	names := make([]string, 0, len(s.accounts))
	for _, a := range s.accounts {
		names = append(names, a.SessionName)
	}
	t := s.Timing()
	s.log.Info("scheduler starting",
		logx.String("policy", s.policy),
		logx.Int("accounts", len(s.accounts)),
		logx.Any("sessions", names),
		logx.String("delay", config.FormatDelay(t.Delay)),
		logx.String("jitter_max", config.FormatDelay(t.JitterMax)),
		logx.Essential(),
	)
	switch s.policy {
	case PolicyOnce:
		return s.runOnce(ctx)
	case PolicyIndependent:
		return s.runIndependent(ctx)
	default:
		return s.runCycles(ctx)
	}
}

// execute runs one account and folds the outcome into sum.
func (s *Scheduler) execute(ctx context.Context, acct config.Account, cycle int, sum *Summary) runner.Outcome {
	out := s.run.Run(ctx, runner.Execution{Account: acct, Cycle: cycle})
	if out.Kind == runner.KindCanceled {
		return out
	}
	sum.Runs++
	if !out.Success {
		sum.Failures++
		s.log.Warn("account run failed; continuing",
			logx.String("session", acct.SessionName),
			logx.String("kind", string(out.Kind)),
			logx.Err(out.Err),
		)
	}
	return out
}

func (s *Scheduler) runOnce(ctx context.Context) (Summary, error) {
	var sum Summary
	for i, acct := range s.accounts {
		s.log.Info("account "+strconv.Itoa(i+1), logx.String("session", acct.SessionName), logx.Essential())
		s.execute(ctx, acct, 0, &sum)
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if i == len(s.accounts)-1 {
			break
		}
		t := s.Timing()
		d := s.delay(t.Delay, t.JitterMax)
		if d <= 0 {
			continue
		}
		s.log.Info("waiting before next account", logx.String("wait", config.FormatDelay(d)), logx.Essential())
		if err := s.waitWithProgress(ctx, d, "before next account"); err != nil {
			return sum, err
		}
	}
	s.banner("DONE", '█')
	s.log.Info("all accounts processed", logx.Int("runs", sum.Runs), logx.Int("failures", sum.Failures), logx.Essential())
	return sum, nil
}

func (s *Scheduler) runCycles(ctx context.Context) (Summary, error) {
	var sum Summary
	for cycle := 1; ; cycle++ {
		s.banner("CYCLE #"+strconv.Itoa(cycle), '●')
		s.log.Info("cycle started", logx.Int("cycle", cycle), logx.Essential())
		for i, acct := range s.accounts {
			s.log.Info("account "+strconv.Itoa(i+1), logx.String("session", acct.SessionName), logx.Int("cycle", cycle), logx.Essential())
			s.execute(ctx, acct, cycle, &sum)
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			t := s.Timing()
			if t.MaxCycles > 0 && cycle >= t.MaxCycles && i == len(s.accounts)-1 {
				break
			}
			d := s.delay(t.Delay, t.JitterMax)
			s.log.Info("waiting before next run", logx.String("wait", config.FormatDelay(d)), logx.Essential())
			if err := s.waitWithProgress(ctx, d, "cycle "+strconv.Itoa(cycle)); err != nil {
				return sum, err
			}
		}
		sum.Cycles = cycle
		s.banner("END CYCLE #"+strconv.Itoa(cycle), '●')
		if t := s.Timing(); t.MaxCycles > 0 && cycle >= t.MaxCycles {
			s.banner("DONE", '█')
			s.log.Info("max cycles reached", logx.Int("cycles", cycle), logx.Essential())
			return sum, nil
		}
	}
}

func (s *Scheduler) runIndependent(ctx context.Context) (Summary, error) {
	var sum Summary
	q := s.initialQueue(ctx)
	runs := map[string]int{}
	for {
		t := s.Timing()
		if t.MaxRuns > 0 && sum.Runs >= t.MaxRuns {
			s.banner("DONE", '█')
			s.log.Info("max runs reached", logx.Int("runs", sum.Runs), logx.Essential())
			return sum, nil
		}
		e := q.peek()
		if wait := e.next.Sub(s.clk.Now()); wait > 0 {
			s.log.Info("next account due",
				logx.String("session", e.acct.SessionName),
				logx.String("wait", config.FormatDelay(wait)),
				logx.Time("at", e.next),
				logx.Essential(),
			)
			if err := s.waitWithProgress(ctx, wait, e.acct.SessionName); err != nil {
				return sum, err
			}
		}

		runs[e.acct.SessionName]++
		s.execute(ctx, e.acct, runs[e.acct.SessionName], &sum)
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		done := s.clk.Now()
		jm := t.JitterMax
		if e.acct.JitterMax != nil {
			jm = *e.acct.JitterMax
		}
		next := s.delayedFrom(e.cooldown(t.Delay).Next(done), jm)
		if !next.After(done) {
			next = done.Add(minGap)
		}
		e.next = next
		heap.Fix(q, e.index)
		s.persist(ctx, e.acct.SessionName, next)
		s.log.Info("account rescheduled", logx.String("session", e.acct.SessionName), logx.Time("next", next))
	}
}

func (s *Scheduler) delayedFrom(base time.Time, jitterMax time.Duration) time.Time {
	return base.Add(s.delay(0, jitterMax))
}

// initialQueue seeds every account as due now, or at its persisted next run
// time when that is later.
func (s *Scheduler) initialQueue(ctx context.Context) *dueQueue {
	now := s.clk.Now()
	var saved map[string]time.Time
	if s.store != nil {
		var err error
		if saved, err = s.store.LoadSchedule(ctx); err != nil {
			s.log.Warn("schedule restore failed; starting fresh", logx.Err(err))
		}
	}
	q := &dueQueue{}
	for _, a := range s.accounts {
		next := now
		if at, ok := saved[a.SessionName]; ok && at.After(now) {
			next = at
			s.log.Info("restored next run", logx.String("session", a.SessionName), logx.Time("next", at))
		}
		cd, _ := ParseCooldown(a.Cooldown, 0)
		heap.Push(q, &entry{acct: a, next: next, order: a.Order, cd: cd, raw: a.Cooldown})
	}
	return q
}

func (s *Scheduler) persist(ctx context.Context, session string, next time.Time) {
	if s.store == nil {
		return
	}
	if err := s.store.PutSchedule(context.WithoutCancel(ctx), session, next); err != nil {
		s.log.Warn("schedule persist failed", logx.String("session", session), logx.Err(err))
	}
}
