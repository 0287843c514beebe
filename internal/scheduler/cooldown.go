package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"bumpbot/internal/config"
)

// cronParser accepts 5 or 6 field expressions and descriptors ("@hourly", "@every 2h").
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// Cooldown is the pause an account observes between two of its own runs:
// either a fixed duration or a cron schedule.
type Cooldown struct {
	Every time.Duration
	Expr  string

	sched cron.Schedule
}

// IsCron reports whether the cooldown follows a cron schedule.
func (c Cooldown) IsCron() bool { return c.sched != nil }

// Next returns the base due time after a run finished at done (jitter excluded).
func (c Cooldown) Next(done time.Time) time.Time {
	if c.sched != nil {
		return c.sched.Next(done)
	}
	return done.Add(c.Every)
}

func (c Cooldown) String() string {
	if c.sched != nil {
		return "cron " + c.Expr
	}
	return config.FormatDelay(c.Every)
}

// ParseCooldown parses an account cooldown. Empty means fallback.
//
// Accepted forms:
//   - Go duration: "2h", "90m", "0s"
//   - HH:MM interval: "02:30"
//   - cron: "cron:0 */2 * * *", "@hourly", "@every 2h", or any value with spaces
//   - "every:" / "interval:" prefixes force interval parsing
func ParseCooldown(raw string, fallback time.Duration) (Cooldown, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Cooldown{Every: fallback}, nil
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t"):
		return parseCron(s)
	}
	return parseInterval(s)
}

func parseCron(expr string) (Cooldown, error) {
	if expr == "" {
		return Cooldown{}, fmt.Errorf("cron expression required after 'cron:'")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Cooldown{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return Cooldown{Expr: expr, sched: sched}, nil
}

func parseInterval(v string) (Cooldown, error) {
	if v == "" {
		return Cooldown{}, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Cooldown{}, fmt.Errorf("invalid minutes in %q", v)
		}
		return Cooldown{Every: time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute}, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Cooldown{}, fmt.Errorf("invalid cooldown %q (use a duration like '2h', HH:MM like '02:30', or 'cron:<expr>')", v)
	}
	if d < 0 {
		return Cooldown{}, fmt.Errorf("cooldown must be >= 0")
	}
	return Cooldown{Every: d}, nil
}

// ValidateAccounts checks every account cooldown against the loop delay.
func ValidateAccounts(accounts []config.Account, fallback time.Duration) error {
	for _, a := range accounts {
		if _, err := ParseCooldown(a.Cooldown, fallback); err != nil {
			return fmt.Errorf("accounts[%d].cooldown: %w", a.Order, err)
		}
	}
	return nil
}
