package quota

import (
	"context"
	"fmt"
	"time"

	"MirrorTrader/internal/domain/repository"
)

// Operation is a metered upstream API call kind. Costs follow the video
// platform's published quota table: a per-video lookup is two orders of
// magnitude cheaper than a search, which is the entire reason the
// scheduler prefers feed-then-lookup over search.
type Operation string

const (
	OpVideosList Operation = "videos.list"
	OpSearch     Operation = "search.list"
	OpLiveChat   Operation = "liveChat.messages"
)

var costs = map[Operation]int64{
	OpVideosList: 1,
	OpSearch:     100,
	OpLiveChat:   5,
}

// Cost returns the unit cost of one call of the given kind.
func Cost(op Operation) int64 {
	if c, ok := costs[op]; ok {
		return c
	}
	return 1
}

// CheapestCost is the unit cost of the cheapest metered operation.
func CheapestCost() int64 { return costs[OpVideosList] }

// Status is a point-in-time view of the day's budget.
type Status struct {
	Used        int64     `json:"used"`
	Remaining   int64     `json:"remaining"`
	Limit       int64     `json:"limit"`
	PercentUsed float64   `json:"percentUsed"`
	ResetAt     time.Time `json:"resetAt"`
}

// Ledger tracks consumed quota units against a fixed daily limit.
//
// The counter is keyed by calendar day in the reference timezone, so the
// daily reset is lazy and exact-once from any caller's perspective: a new
// day simply addresses a fresh key. Enforcement is advisory; RecordUsage
// never fails on overrun, HasCapacity is the check callers consult first.
type Ledger struct {
	counter    repository.QuotaCounter
	dailyLimit int64
	loc        *time.Location
	now        func() time.Time
}

// New creates a ledger. tz is the platform's quota reset timezone
// (the video platform resets at midnight Pacific).
func New(counter repository.QuotaCounter, dailyLimit int64, tz string) (*Ledger, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("quota timezone: %w", err)
	}
	return &Ledger{
		counter:    counter,
		dailyLimit: dailyLimit,
		loc:        loc,
		now:        time.Now,
	}, nil
}

// WithClock overrides the time source, for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) day() string {
	return l.now().In(l.loc).Format("2006-01-02")
}

// RecordUsage adds cost(op)*count units for completed calls. It is safe to
// call even when the result exceeds the limit.
func (l *Ledger) RecordUsage(ctx context.Context, op Operation, count int) error {
	if count <= 0 {
		return nil
	}
	if _, err := l.counter.Add(ctx, l.day(), Cost(op)*int64(count)); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// HasCapacity reports whether cost(op)*count more units still fit today.
func (l *Ledger) HasCapacity(ctx context.Context, op Operation, count int) (bool, error) {
	used, err := l.counter.Get(ctx, l.day())
	if err != nil {
		return false, fmt.Errorf("read usage: %w", err)
	}
	return used+Cost(op)*int64(count) <= l.dailyLimit, nil
}

// Status returns the current day's consumption snapshot.
func (l *Ledger) Status(ctx context.Context) (Status, error) {
	used, err := l.counter.Get(ctx, l.day())
	if err != nil {
		return Status{}, fmt.Errorf("read usage: %w", err)
	}
	remaining := l.dailyLimit - used
	if remaining < 0 {
		remaining = 0
	}
	now := l.now().In(l.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, l.loc).AddDate(0, 0, 1)
	return Status{
		Used:        used,
		Remaining:   remaining,
		Limit:       l.dailyLimit,
		PercentUsed: float64(used) / float64(l.dailyLimit) * 100,
		ResetAt:     midnight,
	}, nil
}

// Limit returns the configured daily limit.
func (l *Ledger) Limit() int64 { return l.dailyLimit }
