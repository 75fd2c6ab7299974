package placement

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// AutoJumpTick is the cadence RunAutoJump is designed for.
	AutoJumpTick = 10 * time.Minute

	autoJumpChunk   = 50
	autoJumpJitter  = time.Minute
	windowSlots     = 72 // ten-minute ticks in twelve hours
	businessStartHr = 18
	businessEndHr   = 6
)

// Window is one twelve-hour auto-jump regime.
type Window struct {
	Start    time.Time
	Business bool
}

// WindowAt returns the regime containing t in loc: 18:00 to 06:00 is the
// business window, 06:00 to 18:00 the other.
func WindowAt(t time.Time, loc *time.Location) Window {
	lt := t.In(loc)
	y, m, d := lt.Date()
	switch h := lt.Hour(); {
	case h >= businessStartHr:
		return Window{Start: time.Date(y, m, d, businessStartHr, 0, 0, 0, loc), Business: true}
	case h < businessEndHr:
		return Window{Start: time.Date(y, m, d-1, businessStartHr, 0, 0, 0, loc), Business: true}
	default:
		return Window{Start: time.Date(y, m, d, businessEndHr, 0, 0, 0, loc)}
	}
}

// JumpsInWindow splits a daily auto-jump grant: ceil(70%) in the business
// window and the rest in the other.
func JumpsInWindow(perDay int, business bool) int {
	if perDay <= 0 {
		return 0
	}
	hot := (perDay*7 + 9) / 10
	if business {
		return hot
	}
	return perDay - hot
}

// JumpInterval spreads n jumps evenly over a window, rounded down to whole
// ticks and never shorter than one tick.
func JumpInterval(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	slots := windowSlots / n
	if slots < 1 {
		slots = 1
	}
	return time.Duration(slots) * AutoJumpTick
}

func isDue(c AutoJumpCandidate, w Window, now time.Time) bool {
	target := JumpsInWindow(c.AutoJumpPerDay, w.Business)
	if target == 0 || c.JumpsInWindow >= target {
		return false
	}
	if c.LastJumpedAt == nil {
		return true
	}
	return now.Sub(*c.LastJumpedAt) >= JumpInterval(target)-autoJumpJitter
}

// RunAutoJump performs one auto-jump tick. Chunks run one after another;
// jumps inside a chunk run concurrently and a failed jump never stops the
// others.
func (s *Service) RunAutoJump(ctx context.Context) (JobResult, error) {
	now := s.now()
	w := WindowAt(now, s.loc)
	res := JobResult{Job: JobAutoJump}

	candidates, err := s.store.AutoJumpCandidates(ctx, w.Start, now)
	if err != nil {
		return res, s.finishJob(res, err)
	}

	due := make([]AutoJumpCandidate, 0, len(candidates))
	for _, c := range candidates {
		if isDue(c, w, now) {
			due = append(due, c)
		}
	}

	var jumped, failed atomic.Int64
	for start := 0; start < len(due); start += autoJumpChunk {
		end := min(start+autoJumpChunk, len(due))
		var g errgroup.Group
		for _, c := range due[start:end] {
			c := c
			g.Go(func() error {
				ok, err := s.store.AutoJump(ctx, c.AdID, c.LastJumpedAt, now)
				switch {
				case err != nil:
					failed.Add(1)
					s.log.Warn("auto jump failed", zap.String("adId", c.AdID), zap.Error(err))
				case ok:
					jumped.Add(1)
					s.metrics.Jump(string(JumpAuto))
				}
				return nil
			})
		}
		_ = g.Wait()
		if ctx.Err() != nil {
			break
		}
	}

	res.Affected = jumped.Load()
	res.Failed = failed.Load()
	return res, s.finishJob(res, ctx.Err())
}
