package atr

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"orbit/internal/gateway"

	"github.com/markcheno/go-talib"
)

// BarSource supplies complete daily bars, oldest first.
type BarSource interface {
	DailyBars(symbol string, days int) ([]gateway.Bar, error)
}

type cacheKey struct {
	symbol string
	day    string // YYYY-MM-DD in the service's location
	period int
}

// Service computes the average true range from yesterday's complete
// daily bars and caches the result for the rest of the trading day, so
// repeated trailing-stop cycles cost one historical-data request per
// symbol per day.
type Service struct {
	source BarSource
	loc    *time.Location
	nowFn  func() time.Time

	mu    sync.RWMutex
	cache map[cacheKey]float64
}

func NewService(source BarSource, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		source: source,
		loc:    loc,
		nowFn:  time.Now,
		cache:  make(map[cacheKey]float64),
	}
}

// SetNowFunc overrides the clock, for tests.
func (s *Service) SetNowFunc(fn func() time.Time) {
	if fn != nil {
		s.nowFn = fn
	}
}

// ATR returns the simple mean of the last period true ranges. The cache
// key includes the calendar day, so the value rolls over implicitly at
// midnight.
func (s *Service) ATR(symbol string, period int) (float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return 0, fmt.Errorf("atr: symbol is required")
	}
	if period <= 0 {
		return 0, fmt.Errorf("atr: period must be > 0, got %d", period)
	}
	key := cacheKey{symbol: symbol, day: s.nowFn().In(s.loc).Format("2006-01-02"), period: period}

	s.mu.RLock()
	if v, ok := s.cache[key]; ok {
		s.mu.RUnlock()
		return v, nil
	}
	s.mu.RUnlock()

	// period+1 bars yield period true ranges; one extra covers a still
	// forming bar for today.
	bars, err := s.source.DailyBars(symbol, period+2)
	if err != nil {
		return 0, err
	}
	value, err := fromBars(bars, period)
	if err != nil {
		return 0, fmt.Errorf("atr: %s: %w", symbol, err)
	}

	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()
	return value, nil
}

// StopDistance is the trailing-stop distance for a symbol.
func (s *Service) StopDistance(symbol string, period int, multiplier float64) (float64, error) {
	if multiplier <= 0 {
		return 0, fmt.Errorf("atr: multiplier must be > 0, got %v", multiplier)
	}
	v, err := s.ATR(symbol, period)
	if err != nil {
		return 0, err
	}
	return v * multiplier, nil
}

// Clear empties the cache. Used in tests and on manual reset.
func (s *Service) Clear() {
	s.mu.Lock()
	s.cache = make(map[cacheKey]float64)
	s.mu.Unlock()
}

// fromBars computes the ATR over the most recent period true ranges.
// Bars must be ordered oldest first.
func fromBars(bars []gateway.Bar, period int) (float64, error) {
	if len(bars) < period+1 {
		return 0, fmt.Errorf("need %d daily bars, have %d", period+1, len(bars))
	}
	tr := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		b := bars[i]
		r := math.Max(b.High-b.Low,
			math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
		tr = append(tr, r)
	}
	sma := talib.Sma(tr, period)
	value := sma[len(sma)-1]
	if value <= 0 || math.IsNaN(value) {
		return 0, fmt.Errorf("computed ATR is not positive")
	}
	return value, nil
}
