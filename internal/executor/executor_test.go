package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MirrorTrader/internal/domain/models"
	"MirrorTrader/internal/domain/repository"
	"MirrorTrader/pkg/logger"
)

type fakePolicies struct {
	policy *models.BotRiskPolicy
	copies []models.TraderCopySettings
	err    error
}

func (f *fakePolicies) LoadPolicy(_ context.Context, _ string) (*models.BotRiskPolicy, error) {
	return f.policy, f.err
}

func (f *fakePolicies) LoadCopySettings(_ context.Context, _ string) ([]models.TraderCopySettings, error) {
	return f.copies, nil
}

type placedOrder struct {
	contract string
	side     repository.OrderSide
	quantity int
}

type fakeBroker struct {
	orders []placedOrder
	err    error
}

func (f *fakeBroker) PlaceMarketOrder(_ context.Context, contract string, side repository.OrderSide, qty int) (*repository.OrderReceipt, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.orders = append(f.orders, placedOrder{contract, side, qty})
	return &repository.OrderReceipt{
		OrderID:  fmt.Sprintf("ord-%d", len(f.orders)),
		Contract: contract,
		Side:     side,
		Quantity: qty,
	}, nil
}

type nopMetrics struct{}

func (nopMetrics) RecordQuotaUnits(_, _ int64)   {}
func (nopMetrics) RecordLivenessCheck(string)    {}
func (nopMetrics) RecordTradeOpened(string)      {}
func (nopMetrics) RecordTradeClosed(_, _ string) {}
func (nopMetrics) RecordOrder(string)            {}
func (nopMetrics) RecordError(string)            {}
func (nopMetrics) RecordLatency(string, float64) {}

func permissivePolicy() *models.BotRiskPolicy {
	return &models.BotRiskPolicy{
		BotID:               "bot-1",
		Enabled:             true,
		AutoExecute:         true,
		MaxDailyLoss:        1000,
		MaxPositionSize:     5,
		MaxConcurrentTrades: 3,
		MaxDailyTrades:      10,
		AllowLongs:          true,
		AllowShorts:         true,
		Timezone:            "UTC",
		PerTrader: []models.TraderCopySettings{{
			BotID: "bot-1", TraderID: "tr-1", Enabled: true, CopyMultiplier: 1,
		}},
	}
}

func newTestExecutor(policy *models.BotRiskPolicy, broker *fakeBroker, now time.Time) *Executor {
	return New("bot-1", &fakePolicies{policy: policy}, broker, nopMetrics{}, logger.Nop(),
		WithClock(func() time.Time { return now }),
	)
}

func openedEvent(id, symbol string, dir models.Direction, size, confidence float64) *models.TradeEvent {
	return &models.TradeEvent{
		Type:       models.TradeOpened,
		Confidence: confidence,
		Trade: &models.Trade{
			ID:        id,
			TraderID:  "tr-1",
			Symbol:    symbol,
			Direction: dir,
			Size:      size,
			Result:    models.ResultOpen,
		},
	}
}

func closedEvent(id, symbol string, dir models.Direction, size float64, pnl *float64) *models.TradeEvent {
	return &models.TradeEvent{
		Type:       models.TradeClosed,
		Confidence: 0.9,
		Trade: &models.Trade{
			ID:        id,
			TraderID:  "tr-1",
			Symbol:    symbol,
			Direction: dir,
			Size:      size,
			Pnl:       pnl,
			Result:    models.ResultLoss,
		},
	}
}

var june2 = time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

func TestEntryPlacesFrontMonthOrder(t *testing.T) {
	broker := &fakeBroker{}
	e := newTestExecutor(permissivePolicy(), broker, june2)

	res, err := e.HandleEvent(context.Background(), openedEvent("t-1", "ES", models.DirectionLong, 2, 0.9))
	require.NoError(t, err)
	assert.Equal(t, ActionEntry, res.Action)
	assert.Equal(t, "ESM5", res.Contract)
	assert.Equal(t, repository.SideBuy, res.Side)
	assert.Equal(t, 2, res.Quantity)
	require.Len(t, broker.orders, 1)
}

func TestEntryGateRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.BotRiskPolicy)
		event  *models.TradeEvent
		rule   string
	}{
		{
			name:   "disabled bot",
			mutate: func(p *models.BotRiskPolicy) { p.Enabled = false },
			event:  openedEvent("t-1", "ES", models.DirectionLong, 1, 0.9),
			rule:   RuleDisabled,
		},
		{
			name:   "auto execute off",
			mutate: func(p *models.BotRiskPolicy) { p.AutoExecute = false },
			event:  openedEvent("t-1", "ES", models.DirectionLong, 1, 0.9),
			rule:   RuleAutoExecute,
		},
		{
			name:   "symbol not allowed",
			mutate: func(p *models.BotRiskPolicy) { p.AllowedSymbols = []string{"NQ"} },
			event:  openedEvent("t-1", "ES", models.DirectionLong, 1, 0.9),
			rule:   RuleSymbol,
		},
		{
			name:   "shorts disallowed",
			mutate: func(p *models.BotRiskPolicy) { p.AllowShorts = false },
			event:  openedEvent("t-1", "ES", models.DirectionShort, 1, 0.9),
			rule:   RuleDirection,
		},
		{
			name:   "confidence floor",
			mutate: func(_ *models.BotRiskPolicy) {},
			event:  openedEvent("t-1", "ES", models.DirectionLong, 1, 0.4),
			rule:   RuleConfidence,
		},
		{
			name: "trader not configured",
			mutate: func(p *models.BotRiskPolicy) {
				p.PerTrader = []models.TraderCopySettings{{BotID: "bot-1", TraderID: "tr-other", Enabled: true, CopyMultiplier: 1}}
			},
			event: openedEvent("t-1", "ES", models.DirectionLong, 1, 0.9),
			rule:  RuleTraderNotCopied,
		},
		{
			name:   "no copy list at all",
			mutate: func(p *models.BotRiskPolicy) { p.PerTrader = nil },
			event:  openedEvent("t-1", "ES", models.DirectionLong, 1, 0.9),
			rule:   RuleTraderNotCopied,
		},
		{
			name: "trader disabled",
			mutate: func(p *models.BotRiskPolicy) {
				p.PerTrader = []models.TraderCopySettings{{BotID: "bot-1", TraderID: "tr-1", Enabled: false}}
			},
			event: openedEvent("t-1", "ES", models.DirectionLong, 1, 0.9),
			rule:  RuleTraderNotCopied,
		},
		{
			name: "instrument filter",
			mutate: func(p *models.BotRiskPolicy) {
				p.PerTrader = []models.TraderCopySettings{{
					BotID: "bot-1", TraderID: "tr-1", Enabled: true,
					OnlyPrimaryInstruments: true, PrimaryInstruments: []string{"NQ"},
					CopyMultiplier: 1,
				}}
			},
			event: openedEvent("t-1", "ES", models.DirectionLong, 1, 0.9),
			rule:  RuleInstrumentFilter,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			policy := permissivePolicy()
			tc.mutate(policy)
			broker := &fakeBroker{}
			e := newTestExecutor(policy, broker, june2)

			res, err := e.HandleEvent(context.Background(), tc.event)
			require.NoError(t, err)
			assert.Equal(t, ActionRejected, res.Action)
			require.NotNil(t, res.Rejection)
			assert.Equal(t, tc.rule, res.Rejection.Rule)
			assert.Empty(t, broker.orders, "rejected entries never reach the broker")
		})
	}
}

func TestStoreCopySettingsFeedGatesAndSizing(t *testing.T) {
	ctx := context.Background()
	policy := permissivePolicy()
	policy.PerTrader = nil

	// settings held only in the store still drive the instrument gate
	broker := &fakeBroker{}
	policies := &fakePolicies{policy: policy, copies: []models.TraderCopySettings{{
		BotID: "bot-1", TraderID: "tr-1", Enabled: true, CopyMultiplier: 2,
		OnlyPrimaryInstruments: true, PrimaryInstruments: []string{"NQ"},
	}}}
	e := New("bot-1", policies, broker, nopMetrics{}, logger.Nop(),
		WithClock(func() time.Time { return june2 }),
	)

	res, err := e.HandleEvent(ctx, openedEvent("t-1", "ES", models.DirectionLong, 1, 0.9))
	require.NoError(t, err)
	assert.Equal(t, ActionRejected, res.Action)
	assert.Equal(t, RuleInstrumentFilter, res.Rejection.Rule)
	assert.Empty(t, broker.orders)

	// and the same settings scale the allowed instrument
	res, err = e.HandleEvent(ctx, openedEvent("t-2", "NQ", models.DirectionLong, 2, 0.9))
	require.NoError(t, err)
	require.Equal(t, ActionEntry, res.Action)
	assert.Equal(t, 4, res.Quantity)
}

func TestEntryQuantityScalingAndClamp(t *testing.T) {
	policy := permissivePolicy()
	policy.MaxPositionSize = 2
	policy.PerTrader = []models.TraderCopySettings{{
		BotID: "bot-1", TraderID: "tr-1", Enabled: true, CopyMultiplier: 1.5,
	}}
	broker := &fakeBroker{}
	e := newTestExecutor(policy, broker, june2)

	// 2.5 * 1.5 = 3.75 -> floor 3 -> clamp 2
	res, err := e.HandleEvent(context.Background(), openedEvent("t-1", "ES", models.DirectionLong, 2.5, 0.9))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Quantity)

	// 0.4 * 1.5 = 0.6 -> floor 0 -> minimum 1
	res, err = e.HandleEvent(context.Background(), openedEvent("t-2", "ES", models.DirectionLong, 0.4, 0.9))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Quantity)
}

func TestConcurrencyCapBlocksEntriesNeverExits(t *testing.T) {
	ctx := context.Background()
	broker := &fakeBroker{}
	e := newTestExecutor(permissivePolicy(), broker, june2)

	for i := 1; i <= 3; i++ {
		res, err := e.HandleEvent(ctx, openedEvent(fmt.Sprintf("t-%d", i), "ES", models.DirectionLong, 1, 0.9))
		require.NoError(t, err)
		require.Equal(t, ActionEntry, res.Action)
	}

	res, err := e.HandleEvent(ctx, openedEvent("t-4", "ES", models.DirectionLong, 1, 0.9))
	require.NoError(t, err)
	assert.Equal(t, ActionRejected, res.Action)
	assert.Equal(t, RuleConcurrent, res.Rejection.Rule)

	// exits run even at the cap
	res, err = e.HandleEvent(ctx, closedEvent("t-1", "ES", models.DirectionLong, 1, nil))
	require.NoError(t, err)
	assert.Equal(t, ActionExit, res.Action)
	assert.Equal(t, 2, e.OpenPositions())
}

func TestExitUsesTrackedExposureSize(t *testing.T) {
	ctx := context.Background()
	policy := permissivePolicy()
	policy.MaxPositionSize = 2
	broker := &fakeBroker{}
	e := newTestExecutor(policy, broker, june2)

	// trader ran 5 contracts, we were clamped to 2
	res, err := e.HandleEvent(ctx, openedEvent("t-1", "ES", models.DirectionShort, 5, 0.9))
	require.NoError(t, err)
	require.Equal(t, 2, res.Quantity)
	require.Equal(t, repository.SideSell, res.Side)

	res, err = e.HandleEvent(ctx, closedEvent("t-1", "ES", models.DirectionShort, 5, nil))
	require.NoError(t, err)
	assert.Equal(t, ActionExit, res.Action)
	assert.Equal(t, 2, res.Quantity, "exit flattens our book, not the trader's")
	assert.Equal(t, repository.SideBuy, res.Side)
}

func TestExitForUntrackedTradeIsSkipped(t *testing.T) {
	broker := &fakeBroker{}
	e := newTestExecutor(permissivePolicy(), broker, june2)

	res, err := e.HandleEvent(context.Background(), closedEvent("ghost", "ES", models.DirectionLong, 1, nil))
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, res.Action)
	assert.Empty(t, broker.orders)
}

func TestBrokerErrorPassesThroughWithoutExposureChange(t *testing.T) {
	ctx := context.Background()
	brokerErr := errors.New("insufficient margin")
	broker := &fakeBroker{err: brokerErr}
	e := newTestExecutor(permissivePolicy(), broker, june2)

	_, err := e.HandleEvent(ctx, openedEvent("t-1", "ES", models.DirectionLong, 1, 0.9))
	require.ErrorIs(t, err, brokerErr)
	assert.Equal(t, 0, e.OpenPositions())

	// failed exits keep the exposure so the close can be retried
	broker.err = nil
	res, err := e.HandleEvent(ctx, openedEvent("t-2", "ES", models.DirectionLong, 1, 0.9))
	require.NoError(t, err)
	require.Equal(t, ActionEntry, res.Action)

	broker.err = brokerErr
	_, err = e.HandleEvent(ctx, closedEvent("t-2", "ES", models.DirectionLong, 1, nil))
	require.ErrorIs(t, err, brokerErr)
	assert.Equal(t, 1, e.OpenPositions())
}

func TestDailyLossGateWithLazyReset(t *testing.T) {
	ctx := context.Background()
	policy := permissivePolicy()
	policy.MaxDailyLoss = 500
	broker := &fakeBroker{}

	now := june2
	e := New("bot-1", &fakePolicies{policy: policy}, broker, nopMetrics{}, logger.Nop(),
		WithClock(func() time.Time { return now }),
	)

	e.RecordRealizedPnl(-600, policy)

	res, err := e.HandleEvent(ctx, openedEvent("t-1", "ES", models.DirectionLong, 1, 0.9))
	require.NoError(t, err)
	assert.Equal(t, ActionRejected, res.Action)
	assert.Equal(t, RuleDailyLoss, res.Rejection.Rule)
	assert.InDelta(t, 600, res.Rejection.Current, 1e-9)

	// crossing midnight in the bot timezone clears the tally on first touch
	now = now.AddDate(0, 0, 1)
	res, err = e.HandleEvent(ctx, openedEvent("t-2", "ES", models.DirectionLong, 1, 0.9))
	require.NoError(t, err)
	assert.Equal(t, ActionEntry, res.Action)
	assert.InDelta(t, 0, e.DailyPnl(), 1e-9)
}

func TestDailyTradeLimit(t *testing.T) {
	ctx := context.Background()
	policy := permissivePolicy()
	policy.MaxDailyTrades = 2
	policy.MaxConcurrentTrades = 10
	broker := &fakeBroker{}
	e := newTestExecutor(policy, broker, june2)

	for i := 1; i <= 2; i++ {
		res, err := e.HandleEvent(ctx, openedEvent(fmt.Sprintf("t-%d", i), "ES", models.DirectionLong, 1, 0.9))
		require.NoError(t, err)
		require.Equal(t, ActionEntry, res.Action)
	}
	res, err := e.HandleEvent(ctx, openedEvent("t-3", "ES", models.DirectionLong, 1, 0.9))
	require.NoError(t, err)
	assert.Equal(t, ActionRejected, res.Action)
	assert.Equal(t, RuleDailyTrades, res.Rejection.Rule)
}

func TestExitPnlFeedsDailyLossProRata(t *testing.T) {
	ctx := context.Background()
	policy := permissivePolicy()
	policy.MaxPositionSize = 1
	broker := &fakeBroker{}
	e := newTestExecutor(policy, broker, june2)

	res, err := e.HandleEvent(ctx, openedEvent("t-1", "ES", models.DirectionLong, 4, 0.9))
	require.NoError(t, err)
	require.Equal(t, 1, res.Quantity)

	loss := -800.0 // trader's loss across 4 contracts; ours is a quarter
	_, err = e.HandleEvent(ctx, closedEvent("t-1", "ES", models.DirectionLong, 4, &loss))
	require.NoError(t, err)
	assert.InDelta(t, -200, e.DailyPnl(), 1e-9)
}

func TestFrontMonthRoll(t *testing.T) {
	// June 2025: third Friday is the 20th, roll lead puts the switch on the 12th
	assert.Equal(t, "ESM5", FrontMonth("ES", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "ESU5", FrontMonth("ES", time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC)))

	// mid-quarter months map forward
	assert.Equal(t, "NQU5", FrontMonth("NQ", time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)))

	// December roll wraps into next year's March contract
	assert.Equal(t, "ESH6", FrontMonth("ES", time.Date(2025, 12, 20, 0, 0, 0, 0, time.UTC)))
}
