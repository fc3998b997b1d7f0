package executor

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"MirrorTrader/internal/domain/models"
	"MirrorTrader/internal/domain/repository"
	"MirrorTrader/pkg/logger"
)

// Gate rule names carried on rejections. Stable identifiers: callers and
// dashboards key on them.
const (
	RuleDisabled         = "bot_disabled"
	RuleAutoExecute      = "auto_execute_off"
	RuleTraderNotCopied  = "trader_not_copied"
	RuleInstrumentFilter = "instrument_filter"
	RuleSymbol           = "symbol_not_allowed"
	RuleDirection        = "direction_not_allowed"
	RuleConfidence       = "confidence_below_minimum"
	RuleDailyLoss        = "daily_loss_limit"
	RuleDailyTrades      = "daily_trade_limit"
	RuleConcurrent       = "concurrent_trade_limit"
)

// PolicyRejected explains exactly which rule blocked an execution and where
// the limit stood, so a rejection is auditable after the fact.
type PolicyRejected struct {
	Rule    string  `json:"rule"`
	Limit   float64 `json:"limit"`
	Current float64 `json:"current"`
}

func (e *PolicyRejected) Error() string {
	return fmt.Sprintf("policy rejected: %s (limit %.2f, current %.2f)", e.Rule, e.Limit, e.Current)
}

func reject(rule string, limit, current float64) *PolicyRejected {
	return &PolicyRejected{Rule: rule, Limit: limit, Current: current}
}

// Action is what the executor did with an event.
type Action string

const (
	ActionEntry    Action = "ENTRY"
	ActionExit     Action = "EXIT"
	ActionRejected Action = "REJECTED"
	ActionSkipped  Action = "SKIPPED"
)

// ExecutionResult reports the outcome of handling one trade event.
type ExecutionResult struct {
	Action    Action                   `json:"action"`
	Contract  string                   `json:"contract,omitempty"`
	Side      repository.OrderSide     `json:"side,omitempty"`
	Quantity  int                      `json:"quantity,omitempty"`
	Rejection *PolicyRejected          `json:"rejection,omitempty"`
	Receipt   *repository.OrderReceipt `json:"receipt,omitempty"`
}

// exposure is one live copied position on the brokerage account.
type exposure struct {
	contract  string
	direction models.Direction
	quantity  int
	symbol    string
}

func sideFor(d models.Direction) repository.OrderSide {
	if d == models.DirectionShort {
		return repository.SideSell
	}
	return repository.SideBuy
}

// Option configures the Executor.
type Option func(*Executor)

// WithMinConfidence sets the confidence floor for entries.
func WithMinConfidence(v float64) Option {
	return func(e *Executor) { e.minConfidence = v }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// Executor mirrors ledger trade events onto a brokerage account, but only
// after every risk gate passes. Exits are privileged: a position already on
// the book must always be closable, so exit orders bypass the entry gates
// and size from tracked exposure, never from the observed stream.
type Executor struct {
	mu       sync.Mutex
	open     map[string]exposure // keyed by ledger trade ID
	dayKey   string
	dayPnl   float64
	dayCount int

	botID         string
	policies      repository.PolicyStore
	broker        repository.Broker
	metrics       repository.Metrics
	log           *logger.Logger
	minConfidence float64
	now           func() time.Time
}

// New creates an executor for one bot.
func New(
	botID string,
	policies repository.PolicyStore,
	broker repository.Broker,
	metrics repository.Metrics,
	log *logger.Logger,
	opts ...Option,
) *Executor {
	e := &Executor{
		open:          make(map[string]exposure),
		botID:         botID,
		policies:      policies,
		broker:        broker,
		metrics:       metrics,
		log:           log,
		minConfidence: 0.6,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleEvent routes one trade event through the gate chain. A rejection is
// a normal outcome, reported in the result; only infrastructure failures
// (policy load, broker) surface as errors.
func (e *Executor) HandleEvent(ctx context.Context, ev *models.TradeEvent) (*ExecutionResult, error) {
	if ev == nil || ev.Trade == nil {
		return &ExecutionResult{Action: ActionSkipped}, nil
	}
	switch ev.Type {
	case models.TradeOpened:
		return e.enter(ctx, ev)
	case models.TradeClosed:
		return e.exit(ctx, ev)
	default:
		return &ExecutionResult{Action: ActionSkipped}, nil
	}
}

func (e *Executor) enter(ctx context.Context, ev *models.TradeEvent) (*ExecutionResult, error) {
	t := ev.Trade
	policy, err := e.policies.LoadPolicy(ctx, e.botID)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDayLocked(policy)

	// resolved once: the gate chain and the sizing must see the same
	// configuration for the trader
	copyCfg, copied := e.resolveCopySettings(ctx, policy, t.TraderID)
	if rej := e.checkGatesLocked(policy, copyCfg, copied, t, ev.Confidence); rej != nil {
		e.metrics.RecordOrder("rejected")
		e.log.Info("entry rejected",
			logger.String("trade", t.ID),
			logger.String("rule", rej.Rule),
			logger.Float64("limit", rej.Limit),
			logger.Float64("current", rej.Current),
		)
		return &ExecutionResult{Action: ActionRejected, Rejection: rej}, nil
	}

	qty := sizeOrder(t.Size, copyCfg.CopyMultiplier, policy.MaxPositionSize)
	contract := FrontMonth(t.Symbol, e.now())
	side := sideFor(t.Direction)

	receipt, err := e.broker.PlaceMarketOrder(ctx, contract, side, qty)
	if err != nil {
		// broker failures pass through untranslated; exposure stays as-is
		e.metrics.RecordOrder("error")
		return nil, err
	}

	e.open[t.ID] = exposure{contract: contract, direction: t.Direction, quantity: qty, symbol: t.Symbol}
	e.dayCount++
	e.metrics.RecordOrder("entry")
	e.log.Info("entry placed",
		logger.String("trade", t.ID),
		logger.String("contract", contract),
		logger.String("side", string(side)),
		logger.Int("quantity", qty),
	)
	return &ExecutionResult{Action: ActionEntry, Contract: contract, Side: side, Quantity: qty, Receipt: receipt}, nil
}

func (e *Executor) exit(ctx context.Context, ev *models.TradeEvent) (*ExecutionResult, error) {
	t := ev.Trade

	e.mu.Lock()
	pos, ok := e.open[t.ID]
	e.mu.Unlock()
	if !ok {
		// never copied, or already flattened
		return &ExecutionResult{Action: ActionSkipped}, nil
	}

	side := sideFor(pos.direction.Opposite())
	receipt, err := e.broker.PlaceMarketOrder(ctx, pos.contract, side, pos.quantity)
	if err != nil {
		e.metrics.RecordOrder("error")
		return nil, err
	}

	e.mu.Lock()
	delete(e.open, t.ID)
	if t.Pnl != nil && t.Size > 0 {
		// realized loss tracking uses our copied share of the ledger P&L
		e.recordPnlLocked(*t.Pnl * float64(pos.quantity) / t.Size)
	}
	e.mu.Unlock()

	e.metrics.RecordOrder("exit")
	e.log.Info("exit placed",
		logger.String("trade", t.ID),
		logger.String("contract", pos.contract),
		logger.Int("quantity", pos.quantity),
	)
	return &ExecutionResult{Action: ActionExit, Contract: pos.contract, Side: side, Quantity: pos.quantity, Receipt: receipt}, nil
}

func (e *Executor) checkGatesLocked(p *models.BotRiskPolicy, copyCfg models.TraderCopySettings, copied bool, t *models.Trade, confidence float64) *PolicyRejected {
	if !p.Enabled {
		return reject(RuleDisabled, 0, 0)
	}
	if !p.AutoExecute {
		return reject(RuleAutoExecute, 0, 0)
	}
	// a trader with no copy configuration at all is never mirrored
	if !copied || !copyCfg.Enabled {
		return reject(RuleTraderNotCopied, 0, 0)
	}
	if copyCfg.OnlyPrimaryInstruments && !contains(copyCfg.PrimaryInstruments, t.Symbol) {
		return reject(RuleInstrumentFilter, 0, 0)
	}
	if !p.SymbolAllowed(t.Symbol) {
		return reject(RuleSymbol, 0, 0)
	}
	if !p.DirectionAllowed(t.Direction) {
		return reject(RuleDirection, 0, 0)
	}
	if confidence < e.minConfidence {
		return reject(RuleConfidence, e.minConfidence, confidence)
	}
	if p.MaxDailyLoss > 0 && e.dayPnl <= -p.MaxDailyLoss {
		return reject(RuleDailyLoss, p.MaxDailyLoss, -e.dayPnl)
	}
	if p.MaxDailyTrades > 0 && e.dayCount >= p.MaxDailyTrades {
		return reject(RuleDailyTrades, float64(p.MaxDailyTrades), float64(e.dayCount))
	}
	if p.MaxConcurrentTrades > 0 && len(e.open) >= p.MaxConcurrentTrades {
		return reject(RuleConcurrent, float64(p.MaxConcurrentTrades), float64(len(e.open)))
	}
	return nil
}

// resolveCopySettings finds the trader's copy configuration, first on the
// policy record, then in the policy store. The second return is false when
// the trader is configured nowhere.
func (e *Executor) resolveCopySettings(ctx context.Context, p *models.BotRiskPolicy, traderID string) (models.TraderCopySettings, bool) {
	if cfg, ok := findCopySettings(p, traderID); ok {
		return cfg, true
	}
	if e.policies != nil {
		if all, err := e.policies.LoadCopySettings(ctx, e.botID); err == nil {
			for _, cfg := range all {
				if cfg.TraderID == traderID {
					return cfg, true
				}
			}
		}
	}
	return models.TraderCopySettings{}, false
}

// RecordRealizedPnl feeds an externally observed fill P&L into the daily
// loss tracking, in account currency.
func (e *Executor) RecordRealizedPnl(pnl float64, policy *models.BotRiskPolicy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rollDayLocked(policy)
	e.recordPnlLocked(pnl)
}

// OpenPositions returns how many copied positions are currently on the book.
func (e *Executor) OpenPositions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.open)
}

// DailyPnl returns today's realized P&L as tracked by the executor.
func (e *Executor) DailyPnl() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dayPnl
}

func (e *Executor) recordPnlLocked(pnl float64) {
	e.dayPnl += pnl
}

// rollDayLocked implements the lazy daily reset: the first touch after a
// day boundary in the bot's timezone zeroes the counters.
func (e *Executor) rollDayLocked(p *models.BotRiskPolicy) {
	loc := time.UTC
	if p != nil && p.Timezone != "" {
		if l, err := time.LoadLocation(p.Timezone); err == nil {
			loc = l
		}
	}
	day := e.now().In(loc).Format("2006-01-02")
	if day != e.dayKey {
		e.dayKey = day
		e.dayPnl = 0
		e.dayCount = 0
	}
}

// sizeOrder converts the trader's observed size into our order quantity:
// scale by the copy multiplier, truncate, then clamp to [1, maxPosition].
func sizeOrder(observed, multiplier float64, maxPosition int) int {
	if multiplier <= 0 {
		multiplier = 1
	}
	qty := int(math.Floor(observed * multiplier))
	if qty < 1 {
		qty = 1
	}
	if maxPosition > 0 && qty > maxPosition {
		qty = maxPosition
	}
	return qty
}

func findCopySettings(p *models.BotRiskPolicy, traderID string) (models.TraderCopySettings, bool) {
	for _, cfg := range p.PerTrader {
		if cfg.TraderID == traderID {
			return cfg, true
		}
	}
	return models.TraderCopySettings{}, false
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
