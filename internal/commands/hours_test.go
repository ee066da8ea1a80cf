package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"orbit/internal/config"
)

func TestWithinMarketHours(t *testing.T) {
	cfg := config.TradingConfig{
		Timezone:    "America/Los_Angeles",
		MarketOpen:  "06:30",
		MarketClose: "13:00",
	}
	la, _ := time.LoadLocation("America/Los_Angeles")

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"mid-session", time.Date(2026, 8, 26, 10, 0, 0, 0, la), true},
		{"at the open", time.Date(2026, 8, 26, 6, 30, 0, 0, la), true},
		{"before the open", time.Date(2026, 8, 26, 6, 29, 0, 0, la), false},
		{"at the close", time.Date(2026, 8, 26, 13, 0, 0, 0, la), false},
		{"last minute", time.Date(2026, 8, 26, 12, 59, 0, 0, la), true},
		{"saturday", time.Date(2026, 8, 29, 10, 0, 0, 0, la), false},
		{"sunday", time.Date(2026, 8, 30, 10, 0, 0, 0, la), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, withinMarketHours(cfg, tc.at))
		})
	}
}

func TestWithinMarketHoursConvertsCallerZone(t *testing.T) {
	cfg := config.TradingConfig{
		Timezone:    "America/Los_Angeles",
		MarketOpen:  "06:30",
		MarketClose: "13:00",
	}
	// 17:00 UTC on a Wednesday is 10:00 in Los Angeles.
	assert.True(t, withinMarketHours(cfg, time.Date(2026, 8, 26, 17, 0, 0, 0, time.UTC)))
	// 05:00 UTC is 22:00 the previous evening in Los Angeles.
	assert.False(t, withinMarketHours(cfg, time.Date(2026, 8, 26, 5, 0, 0, 0, time.UTC)))
}
