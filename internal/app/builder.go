package app

import (
	"context"
	"fmt"
	"time"

	"orbit/internal/atr"
	"orbit/internal/command"
	"orbit/internal/commands"
	"orbit/internal/config"
	"orbit/internal/events"
	"orbit/internal/gateway"
	"orbit/internal/logger"
	"orbit/internal/notify"
	"orbit/internal/store"
	"orbit/internal/store/gormstore"
)

// Broker is what the app needs from the gateway: the command-facing
// surface plus connection lifecycle and the bar source for ATR.
type Broker interface {
	commands.Broker
	atr.BarSource
	Connect(ctx context.Context) error
	Close()
}

// AppBuilder wires the application. Each dependency has a default
// constructor that tests can override.
type AppBuilder struct {
	cfg *config.Config

	storeFn    func(path string) (store.Store, error)
	brokerFn   func(cfg config.BrokerConfig, bus *events.Subject) Broker
	notifierFn func(cfg config.NotifyConfig) notify.TextNotifier
	nowFn      func() time.Time
}

type AppBuilderOption func(*AppBuilder)

func WithStore(s store.Store) AppBuilderOption {
	return func(b *AppBuilder) {
		b.storeFn = func(string) (store.Store, error) { return s, nil }
	}
}

func WithBroker(br Broker) AppBuilderOption {
	return func(b *AppBuilder) {
		b.brokerFn = func(config.BrokerConfig, *events.Subject) Broker { return br }
	}
}

func WithNotifier(n notify.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.notifierFn = func(config.NotifyConfig) notify.TextNotifier { return n }
	}
}

func WithNowFunc(fn func() time.Time) AppBuilderOption {
	return func(b *AppBuilder) { b.nowFn = fn }
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg: cfg,
		storeFn: func(path string) (store.Store, error) {
			return gormstore.New(path)
		},
		brokerFn: func(cfg config.BrokerConfig, bus *events.Subject) Broker {
			return gateway.New(cfg, bus)
		},
		notifierFn: buildNotifier,
		nowFn:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func buildNotifier(cfg config.NotifyConfig) notify.TextNotifier {
	if cfg.Telegram.Enabled {
		return notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}
	logger.Infof("telegram notifications disabled")
	return notify.Noop{}
}

func (b *AppBuilder) Build() (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	bus := events.NewSubject()
	broker := b.brokerFn(cfg.Broker, bus)
	st, err := b.storeFn(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	notifier := b.notifierFn(cfg.Notify)
	atrSvc := atr.NewService(broker, cfg.Trading.Location())
	atrSvc.SetNowFunc(b.nowFn)
	margins := commands.NewMarginCache()

	deps := commands.Deps{
		Broker:   broker,
		Store:    st,
		ATR:      atrSvc,
		Margins:  margins,
		Notifier: notifier,
		Cfg:      cfg,
		NowFn:    b.nowFn,
	}

	invoker := command.NewInvoker(notifier)
	registrations := []struct {
		kind events.Kind
		cmd  command.Command
	}{
		{events.KindManagePositions, commands.NewManageStockPositions(deps)},
		{events.KindManagePositions, commands.NewManageOptionPositions(deps)},
		{events.KindManagePositions, commands.NewManageEquityHoldings(deps)},
		{events.KindTrailStops, commands.NewTrailStopOrders(deps)},
		{events.KindTimeExit, commands.NewTimeBasedExit(deps)},
		{events.KindCloseAll, commands.NewEndOfDayExit(deps)},
		{events.KindOpenPosition, commands.NewOpenStockPosition(deps)},
		{events.KindCalculateMargins, commands.NewCalculateStockMargins(deps)},
		{events.KindConnectionCheck, commands.NewConnectionCheck(deps)},
		{events.KindDailyReport, commands.NewDailyPnLReport(deps)},
	}
	for _, reg := range registrations {
		if err := invoker.Register(reg.kind, reg.cmd); err != nil {
			return nil, fmt.Errorf("registering %s: %w", reg.kind, err)
		}
	}

	return &App{
		cfg:     cfg,
		bus:     bus,
		invoker: invoker,
		broker:  broker,
		store:   st,
		nowFn:   b.nowFn,
	}, nil
}
