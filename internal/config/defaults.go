package config

import "strings"

const (
	defaultAppEnv       = "dev"
	defaultAppLogLevel  = "info"
	defaultAppLogPath   = "/data/logs/orbit.log"
	defaultBrokerWSURL  = "ws://127.0.0.1:7497/ws"
	defaultBrokerTimout = 10
	defaultBrokerWait   = 30
	defaultDBPath       = "/data/db/orbit.db"

	defaultMaxPositions     = 5
	defaultATRPeriod        = 14
	defaultStopATRMult      = 0.10
	defaultStagnationMins   = 60
	defaultStagnationPct    = 0.25
	defaultMinMarginShare   = 10.0
	defaultSyntheticMargin  = 30.0
	defaultTimezone         = "America/Los_Angeles"
	defaultMarketOpen       = "06:30"
	defaultMarketClose      = "13:00"
	defaultEODExitTime      = "12:50"
	defaultManageSeconds    = 60
	defaultTrailSeconds     = 60
	defaultTimeExitSeconds  = 300
	defaultConnCheckSeconds = 300
	defaultMarginCalcTime   = "06:00"
	defaultDailyReportTime  = "13:05"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.DB.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Schedule.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("broker.ws_url", &b.WSURL, defaultBrokerWSURL),
		fieldDefault{
			key:   "broker.request_timeout_seconds",
			need:  func() bool { return b.RequestTimeoutSeconds <= 0 },
			apply: func() { b.RequestTimeoutSeconds = defaultBrokerTimout },
		},
		fieldDefault{
			key:   "broker.reconnect_wait_seconds",
			need:  func() bool { return b.ReconnectWaitSeconds <= 0 },
			apply: func() { b.ReconnectWaitSeconds = defaultBrokerWait },
		},
	)
}

func (d *DBConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("db.path", &d.Path, defaultDBPath),
	)
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	if t == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "trading.max_positions",
			need:  func() bool { return t.MaxPositions <= 0 },
			apply: func() { t.MaxPositions = defaultMaxPositions },
		},
		fieldDefault{
			key:   "trading.atr_period",
			need:  func() bool { return t.ATRPeriod <= 0 },
			apply: func() { t.ATRPeriod = defaultATRPeriod },
		},
		fieldDefault{
			key:   "trading.stop_atr_multiplier",
			need:  func() bool { return t.StopATRMultiplier <= 0 },
			apply: func() { t.StopATRMultiplier = defaultStopATRMult },
		},
		fieldDefault{
			key:   "trading.stagnation_minutes",
			need:  func() bool { return t.StagnationMinutes <= 0 },
			apply: func() { t.StagnationMinutes = defaultStagnationMins },
		},
		fieldDefault{
			key:   "trading.stagnation_move_pct",
			need:  func() bool { return t.StagnationMovePct <= 0 },
			apply: func() { t.StagnationMovePct = defaultStagnationPct },
		},
		fieldDefault{
			key:   "trading.min_margin_per_share",
			need:  func() bool { return t.MinMarginPerShare <= 0 },
			apply: func() { t.MinMarginPerShare = defaultMinMarginShare },
		},
		fieldDefault{
			key:   "trading.synthetic_margin_default",
			need:  func() bool { return t.SyntheticMarginDef <= 0 },
			apply: func() { t.SyntheticMarginDef = defaultSyntheticMargin },
		},
		stringFieldDefault("trading.timezone", &t.Timezone, defaultTimezone),
		stringFieldDefault("trading.market_open", &t.MarketOpen, defaultMarketOpen),
		stringFieldDefault("trading.market_close", &t.MarketClose, defaultMarketClose),
		stringFieldDefault("trading.eod_exit_time", &t.EODExitTime, defaultEODExitTime),
	)
}

func (s *ScheduleConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "schedule.manage_positions_seconds",
			need:  func() bool { return s.ManagePositionsSeconds <= 0 },
			apply: func() { s.ManagePositionsSeconds = defaultManageSeconds },
		},
		fieldDefault{
			key:   "schedule.trail_stops_seconds",
			need:  func() bool { return s.TrailStopsSeconds <= 0 },
			apply: func() { s.TrailStopsSeconds = defaultTrailSeconds },
		},
		fieldDefault{
			key:   "schedule.time_exit_seconds",
			need:  func() bool { return s.TimeExitSeconds <= 0 },
			apply: func() { s.TimeExitSeconds = defaultTimeExitSeconds },
		},
		fieldDefault{
			key:   "schedule.connection_check_seconds",
			need:  func() bool { return s.ConnectionCheckSeconds <= 0 },
			apply: func() { s.ConnectionCheckSeconds = defaultConnCheckSeconds },
		},
		stringFieldDefault("schedule.margin_calc_time", &s.MarginCalcTime, defaultMarginCalcTime),
		stringFieldDefault("schedule.daily_report_time", &s.DailyReportTime, defaultDailyReportTime),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
