package scheduler

import (
	"fmt"
	"time"
)

// Strategy names the polling cadence tier.
type Strategy string

const (
	StrategyAggressive   Strategy = "aggressive"
	StrategyNormal       Strategy = "normal"
	StrategyConservative Strategy = "conservative"
	StrategyMinimal      Strategy = "minimal"
)

// Interval returns the tier's fixed cadence. The per-tier floors keep the
// recommendation sane even when the budget arithmetic would allow
// sub-minute polling.
func (s Strategy) Interval() time.Duration {
	switch s {
	case StrategyAggressive:
		return time.Minute
	case StrategyNormal:
		return 5 * time.Minute
	case StrategyConservative:
		return 15 * time.Minute
	default:
		return time.Hour
	}
}

// MarketHours restricts aggressive polling to the trading window.
type MarketHours struct {
	Enabled      bool
	Open         string // "15:04"
	Close        string // "15:04"
	WeekdaysOnly bool
	loc          *time.Location
}

// NewMarketHours parses a window definition. Zero-value open/close with
// Enabled=false yields an always-open policy.
func NewMarketHours(enabled bool, open, close, tz string, weekdaysOnly bool) (MarketHours, error) {
	loc := time.UTC
	if tz != "" {
		var err error
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return MarketHours{}, fmt.Errorf("market hours timezone: %w", err)
		}
	}
	mh := MarketHours{Enabled: enabled, Open: open, Close: close, WeekdaysOnly: weekdaysOnly, loc: loc}
	if enabled {
		if _, err := time.Parse("15:04", open); err != nil {
			return MarketHours{}, fmt.Errorf("market hours open: %w", err)
		}
		if _, err := time.Parse("15:04", close); err != nil {
			return MarketHours{}, fmt.Errorf("market hours close: %w", err)
		}
	}
	return mh, nil
}

// RemainingMinutes returns how many minutes of the active window are left
// at now. Outside the window (or on excluded weekends) it returns 0.
// With the policy disabled every minute until the quota reset counts.
func (m MarketHours) RemainingMinutes(now, quotaResetAt time.Time) int {
	if !m.Enabled {
		mins := int(quotaResetAt.Sub(now).Minutes())
		if mins < 0 {
			return 0
		}
		return mins
	}
	local := now.In(m.loc)
	if m.WeekdaysOnly {
		if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return 0
		}
	}
	open, _ := time.Parse("15:04", m.Open)
	close, _ := time.Parse("15:04", m.Close)
	openAt := time.Date(local.Year(), local.Month(), local.Day(), open.Hour(), open.Minute(), 0, 0, m.loc)
	closeAt := time.Date(local.Year(), local.Month(), local.Day(), close.Hour(), close.Minute(), 0, 0, m.loc)
	if local.Before(openAt) || !local.Before(closeAt) {
		return 0
	}
	return int(closeAt.Sub(local).Minutes())
}

// Recommendation is the scheduler's advice to the external trigger.
type Recommendation struct {
	Strategy Strategy      `json:"strategy"`
	Interval time.Duration `json:"interval"`
	Reason   string        `json:"reason"`
}

// recommend derives the cadence tier from how many affordable checks per
// channel remain versus how many minutes of the trading window are left.
func recommend(remainingUnits int64, channels int, cheapestCost int64, minutesLeft int) Recommendation {
	if minutesLeft <= 0 {
		return Recommendation{
			Strategy: StrategyMinimal,
			Interval: StrategyMinimal.Interval(),
			Reason:   "outside trading window",
		}
	}
	if channels <= 0 {
		channels = 1
	}
	perChannel := remainingUnits / (int64(channels) * cheapestCost)
	if perChannel <= 0 {
		return Recommendation{
			Strategy: StrategyMinimal,
			Interval: StrategyMinimal.Interval(),
			Reason:   "quota exhausted",
		}
	}

	// checks-per-minute each channel can still afford
	ratio := float64(perChannel) / float64(minutesLeft)
	var tier Strategy
	switch {
	case ratio >= 1:
		tier = StrategyAggressive
	case ratio >= 0.2:
		tier = StrategyNormal
	case ratio >= 1.0/15.0:
		tier = StrategyConservative
	default:
		tier = StrategyMinimal
	}
	return Recommendation{
		Strategy: tier,
		Interval: tier.Interval(),
		Reason:   fmt.Sprintf("%d affordable checks per channel over %d minutes", perChannel, minutesLeft),
	}
}
