package scheduler

import (
	"context"
	"math"
	"strings"
	"time"

	"bumpbot/internal/config"
	"bumpbot/pkg/logx"
)

const (
	progressMin   = 10 * time.Second
	progressCells = 20
	bannerWidth   = 60
)

// ProgressStep is the reporting granularity for a wait of total length.
func ProgressStep(total time.Duration) time.Duration {
	switch {
	case total >= 15*time.Minute:
		return 5 * time.Minute
	case total >= 5*time.Minute:
		return time.Minute
	case total >= time.Minute:
		return 30 * time.Second
	case total >= 30*time.Second:
		return 10 * time.Second
	case total >= 10*time.Second:
		return 5 * time.Second
	default:
		return time.Second
	}
}

// ProgressBar renders waited/total as a 20-cell bar and a rounded percent.
func ProgressBar(waited, total time.Duration) (string, int) {
	if total <= 0 {
		return strings.Repeat("█", progressCells), 100
	}
	pct := int(math.Round(float64(waited) / float64(total) * 100))
	pct = min(max(pct, 0), 100)
	filled := pct / 5
	return strings.Repeat("█", filled) + strings.Repeat("░", progressCells-filled), pct
}

// Separator renders a fixed-width banner line, optionally titled.
func Separator(title string, fill rune) string {
	ch := string(fill)
	if title == "" {
		return strings.Repeat(ch, bannerWidth)
	}
	pad := max(0, bannerWidth-len([]rune(title))-2)
	left := pad / 2
	return strings.Repeat(ch, left) + " " + title + " " + strings.Repeat(ch, pad-left)
}

// waitWithProgress sleeps total in slices, logging progress for long waits.
func (s *Scheduler) waitWithProgress(ctx context.Context, total time.Duration, label string) error {
	if total <= 0 {
		return ctx.Err()
	}
	step := ProgressStep(total)
	var waited time.Duration
	for waited < total {
		slice := min(step, total-waited)
		if err := s.clk.Sleep(ctx, slice); err != nil {
			return err
		}
		waited += slice
		if total >= progressMin {
			bar, pct := ProgressBar(waited, total)
			s.log.Info("progress "+label,
				logx.String("waited", config.FormatDelay(waited)),
				logx.String("total", config.FormatDelay(total)),
				logx.String("bar", bar),
				logx.Int("pct", pct),
			)
		}
	}
	return nil
}

func (s *Scheduler) banner(title string, fill rune) {
	s.log.Info(Separator(title, fill), logx.Essential())
}
