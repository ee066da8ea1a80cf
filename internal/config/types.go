package config

import (
	"strings"
	"time"
)

// Config is the root configuration for orbit.
type Config struct {
	App      AppConfig      `toml:"app"`
	Broker   BrokerConfig   `toml:"broker"`
	DB       DBConfig       `toml:"db"`
	Notify   NotifyConfig   `toml:"notify"`
	Trading  TradingConfig  `toml:"trading"`
	Schedule ScheduleConfig `toml:"schedule"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

// BrokerConfig describes the websocket endpoint of the broker bridge.
type BrokerConfig struct {
	WSURL                 string `toml:"ws_url"`
	Account               string `toml:"account"`
	ClientID              int    `toml:"client_id"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
	ReconnectWaitSeconds  int    `toml:"reconnect_wait_seconds"`
}

func (b BrokerConfig) RequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeoutSeconds) * time.Second
}

func (b BrokerConfig) ReconnectWait() time.Duration {
	return time.Duration(b.ReconnectWaitSeconds) * time.Second
}

type DBConfig struct {
	Path string `toml:"path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// TradingConfig holds the risk and exit parameters shared by the
// lifecycle commands.
type TradingConfig struct {
	Symbols            []string `toml:"symbols"`
	MaxPositions       int      `toml:"max_positions"`
	ATRPeriod          int      `toml:"atr_period"`
	StopATRMultiplier  float64  `toml:"stop_atr_multiplier"`
	StagnationMinutes  int      `toml:"stagnation_minutes"`
	StagnationMovePct  float64  `toml:"stagnation_move_pct"`
	MinMarginPerShare  float64  `toml:"min_margin_per_share"`
	SyntheticMarginDef float64  `toml:"synthetic_margin_default"`
	Timezone           string   `toml:"timezone"`
	MarketOpen         string   `toml:"market_open"`
	MarketClose        string   `toml:"market_close"`
	EODExitTime        string   `toml:"eod_exit_time"`
}

// Location resolves the configured exchange timezone. Defaults and
// validation guarantee it loads, so errors after Load() are impossible.
func (t TradingConfig) Location() *time.Location {
	loc, err := time.LoadLocation(t.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type ScheduleConfig struct {
	ManagePositionsSeconds int    `toml:"manage_positions_seconds"`
	TrailStopsSeconds      int    `toml:"trail_stops_seconds"`
	TimeExitSeconds        int    `toml:"time_exit_seconds"`
	ConnectionCheckSeconds int    `toml:"connection_check_seconds"`
	MarginCalcTime         string `toml:"margin_calc_time"`
	DailyReportTime        string `toml:"daily_report_time"`
}

// keySet tracks which field paths were explicitly set in the config files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the defaulting rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
