package app

import (
	"context"
	"fmt"
	"time"

	"orbit/internal/command"
	"orbit/internal/config"
	"orbit/internal/events"
	"orbit/internal/logger"
	"orbit/internal/scheduler"
	"orbit/internal/store"

	"golang.org/x/sync/errgroup"
)

// App orchestrates the gateway, schedulers and command dispatch.
type App struct {
	cfg     *config.Config
	bus     *events.Subject
	invoker *command.Invoker
	broker  Broker
	store   store.Store
	nowFn   func() time.Time
}

// NewApp builds the application from config with default wiring.
func NewApp(cfg *config.Config) (*App, error) {
	return NewAppBuilder(cfg).Build()
}

// OnEvent routes every bus event to the commands registered for its
// kind. The App itself is the bus subscriber, so schedulers only ever
// talk to the Subject.
func (a *App) OnEvent(ev events.Event) {
	a.invoker.Execute(ev.Kind, ev)
}

// Bus exposes the event bus for external signal sources.
func (a *App) Bus() *events.Subject { return a.bus }

// Run connects the gateway and drives the scheduler loops until the
// context is cancelled. Queued events are drained on a single dispatch
// goroutine, so no two lifecycle commands for the same tick overlap.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if err := a.broker.Connect(ctx); err != nil {
		return fmt.Errorf("connecting gateway: %w", err)
	}
	defer a.broker.Close()
	defer a.store.Close()

	a.bus.Subscribe(a)

	// Recover the two-phase exits: any OPEN position carrying an exit
	// reason is re-polled on the very first manage cycle.
	a.bus.Enqueue(events.Event{Kind: events.KindManagePositions, At: a.nowFn()})

	group, ctx := errgroup.WithContext(ctx)
	loc := a.cfg.Trading.Location()
	sched := a.cfg.Schedule

	group.Go(func() error {
		a.drainLoop(ctx)
		return nil
	})
	a.startInterval(ctx, group, "manage_positions", sched.ManagePositionsSeconds, events.KindManagePositions)
	a.startInterval(ctx, group, "trail_stops", sched.TrailStopsSeconds, events.KindTrailStops)
	a.startInterval(ctx, group, "time_exit", sched.TimeExitSeconds, events.KindTimeExit)
	a.startInterval(ctx, group, "connection_check", sched.ConnectionCheckSeconds, events.KindConnectionCheck)

	if err := a.startDaily(ctx, group, "eod_exit", a.cfg.Trading.EODExitTime, loc, events.KindCloseAll); err != nil {
		return err
	}
	if err := a.startDaily(ctx, group, "margin_calc", sched.MarginCalcTime, loc, events.KindCalculateMargins); err != nil {
		return err
	}
	if err := a.startDaily(ctx, group, "daily_report", sched.DailyReportTime, loc, events.KindDailyReport); err != nil {
		return err
	}

	logger.Infof("orbit running: %d symbols watched, db=%s", len(a.cfg.Trading.Symbols), a.cfg.DB.Path)
	return group.Wait()
}

// drainLoop is the single dispatch goroutine.
func (a *App) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.bus.ProcessQueue()
		}
	}
}

func (a *App) startInterval(ctx context.Context, group *errgroup.Group, name string, seconds int, kind events.Kind) {
	s := scheduler.NewIntervalScheduler(ctx, name, time.Duration(seconds)*time.Second)
	group.Go(func() error {
		s.Start(func() {
			a.bus.Enqueue(events.Event{Kind: kind, At: a.nowFn()})
		})
		return nil
	})
}

func (a *App) startDaily(ctx context.Context, group *errgroup.Group, name, at string, loc *time.Location, kind events.Kind) error {
	s, err := scheduler.NewDailyScheduler(ctx, name, at, loc)
	if err != nil {
		return err
	}
	group.Go(func() error {
		s.Start(func() {
			a.bus.Enqueue(events.Event{Kind: kind, At: a.nowFn()})
		})
		return nil
	})
	return nil
}
