package scheduler

import (
	"context"
	"fmt"
	"time"

	"orbit/internal/logger"
)

// DailyScheduler fires a task once per day at a fixed local wall-clock
// time ("15:04" in Location). Used for the end-of-day exit and the
// morning margin calculation.
type DailyScheduler struct {
	Name     string
	At       string
	Location *time.Location

	ctx   context.Context
	nowFn func() time.Time
}

func NewDailyScheduler(ctx context.Context, name, at string, loc *time.Location) (*DailyScheduler, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if loc == nil {
		loc = time.UTC
	}
	if _, err := time.Parse("15:04", at); err != nil {
		return nil, fmt.Errorf("scheduler %s: invalid time %q: %w", name, at, err)
	}
	return &DailyScheduler{
		Name:     name,
		At:       at,
		Location: loc,
		ctx:      ctx,
		nowFn:    time.Now,
	}, nil
}

func (s *DailyScheduler) Start(task func()) {
	if s == nil || task == nil {
		return
	}
	logger.Infof("scheduler %s: started daily at %s (%s)", s.Name, s.At, s.Location)
	for {
		wait := s.untilNext(s.nowFn())
		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("scheduler %s: ctx done, exit", s.Name)
			return
		case <-timer.C:
		}
		task()
	}
}

// untilNext returns the duration until the next occurrence of At in
// Location, always strictly positive so one trigger cannot double-fire.
func (s *DailyScheduler) untilNext(now time.Time) time.Duration {
	target, _ := time.Parse("15:04", s.At)
	local := now.In(s.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(),
		target.Hour(), target.Minute(), 0, 0, s.Location)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(local)
}
