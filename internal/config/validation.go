package config

import (
	"fmt"
	"strings"
	"time"
)

func validate(c *Config) error {
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.DB.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Schedule.validate(); err != nil {
		return err
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	url := strings.TrimSpace(b.WSURL)
	if url == "" {
		return fmt.Errorf("broker.ws_url cannot be empty")
	}
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return fmt.Errorf("broker.ws_url must start with ws:// or wss://")
	}
	if b.ClientID < 0 {
		return fmt.Errorf("broker.client_id must be >= 0")
	}
	return nil
}

func (d *DBConfig) validate() error {
	if strings.TrimSpace(d.Path) == "" {
		return fmt.Errorf("db.path cannot be empty")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.StagnationMovePct <= 0 || t.StagnationMovePct >= 1 {
		return fmt.Errorf("trading.stagnation_move_pct must be in (0, 1)")
	}
	if _, err := time.LoadLocation(t.Timezone); err != nil {
		return fmt.Errorf("trading.timezone invalid: %w", err)
	}
	for key, val := range map[string]string{
		"trading.market_open":   t.MarketOpen,
		"trading.market_close":  t.MarketClose,
		"trading.eod_exit_time": t.EODExitTime,
	} {
		if err := checkClockTime(val); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func (s *ScheduleConfig) validate() error {
	for key, val := range map[string]string{
		"schedule.margin_calc_time":  s.MarginCalcTime,
		"schedule.daily_report_time": s.DailyReportTime,
	} {
		if err := checkClockTime(val); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

func checkClockTime(v string) error {
	if _, err := time.Parse("15:04", strings.TrimSpace(v)); err != nil {
		return fmt.Errorf("expected HH:MM, got %q", v)
	}
	return nil
}
