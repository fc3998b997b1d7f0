package usecase

import (
	"context"
	"fmt"
	"time"

	"MirrorTrader/internal/domain/repository"
	"MirrorTrader/internal/quota"
	"MirrorTrader/internal/scheduler"
	httpkit "MirrorTrader/pkg/http"
	"MirrorTrader/pkg/logger"
)

// ErrQuotaExhausted maps to 429 at the HTTP surface.
var ErrQuotaExhausted = httpkit.NewAppError("ERR_QUOTA_EXHAUSTED", "", "daily quota budget exhausted", 429)

// Poller runs liveness cycles on demand and guards the remaining budget
// with a safety floor: routine triggers stop spending before the budget is
// truly gone so manual forced checks still have room.
type Poller struct {
	sched       *scheduler.Scheduler
	ledger      *quota.Ledger
	metrics     repository.Metrics
	log         *logger.Logger
	safetyFloor int64
}

// NewPoller creates the poll usecase.
func NewPoller(
	sched *scheduler.Scheduler,
	ledger *quota.Ledger,
	metrics repository.Metrics,
	log *logger.Logger,
	safetyFloor int64,
) *Poller {
	return &Poller{
		sched:       sched,
		ledger:      ledger,
		metrics:     metrics,
		log:         log,
		safetyFloor: safetyFloor,
	}
}

// Run executes one poll cycle. Without force, the cycle is refused once
// the remaining budget falls under the safety floor.
func (p *Poller) Run(ctx context.Context, subset []string, force bool) (*scheduler.CycleResult, error) {
	start := time.Now()
	st, err := p.ledger.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("quota status: %w", err)
	}
	if !force && st.Remaining <= p.safetyFloor {
		p.metrics.RecordError("quota_floor")
		p.log.Warn("poll refused below safety floor",
			logger.Int64("remaining", st.Remaining),
			logger.Int64("floor", p.safetyFloor),
		)
		return nil, ErrQuotaExhausted.WithParam("remaining", st.Remaining)
	}

	res, err := p.sched.RunCycle(ctx, subset)
	if err != nil {
		return res, err
	}
	p.metrics.RecordLatency("poll_cycle", time.Since(start).Seconds())
	return res, nil
}

// QuotaStatus reports the current budget position.
func (p *Poller) QuotaStatus(ctx context.Context) (quota.Status, error) {
	return p.ledger.Status(ctx)
}
