package correlator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MirrorTrader/internal/domain/models"
	"MirrorTrader/pkg/logger"
)

type memStore struct {
	mu    sync.Mutex
	saves []models.Trade
}

func (m *memStore) Save(_ context.Context, t *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, *t)
	return nil
}

func (m *memStore) Load(_ context.Context, _ string, _ int) ([]*models.Trade, error) {
	return nil, nil
}
func (m *memStore) Health(_ context.Context) error { return nil }
func (m *memStore) Close() error                   { return nil }

type memPublisher struct {
	mu     sync.Mutex
	events []*models.TradeEvent
}

func (m *memPublisher) Publish(_ context.Context, ev *models.TradeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memPublisher) Close() error { return nil }

type nopMetrics struct{}

func (nopMetrics) RecordQuotaUnits(_, _ int64)   {}
func (nopMetrics) RecordLivenessCheck(string)    {}
func (nopMetrics) RecordTradeOpened(string)      {}
func (nopMetrics) RecordTradeClosed(_, _ string) {}
func (nopMetrics) RecordOrder(string)            {}
func (nopMetrics) RecordError(string)            {}
func (nopMetrics) RecordLatency(string, float64) {}

var esTicks = map[string]models.TickSpec{
	"ES": {TickSize: 0.25, TickValue: 12.50},
}

func newTestCorrelator(now time.Time) (*Correlator, *memStore, *memPublisher) {
	store := &memStore{}
	pub := &memPublisher{}
	c := New(esTicks, store, pub, nopMetrics{}, logger.Nop(),
		WithWindow(10*time.Second),
		WithClock(func() time.Time { return now }),
	)
	return c, store, pub
}

func entryObs(symbol string, dir models.Direction, price, size float64, at time.Time) models.PositionObservation {
	return models.PositionObservation{
		Symbol:     symbol,
		Direction:  dir,
		Size:       size,
		EntryPrice: price,
		Confidence: 0.9,
		ObservedAt: at,
	}
}

func TestCorrelateBlendsVerbalWithinWindow(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	c, _, _ := newTestCorrelator(now)

	c.AddVerbalSignal(models.VerbalSignal{
		StreamID:   "st-1",
		Kind:       models.SignalEntry,
		Symbol:     "ES",
		Direction:  models.DirectionLong,
		Confidence: 0.8,
		ObservedAt: now.Add(-9 * time.Second),
	})

	res, err := c.Correlate(context.Background(), "st-1", "tr-1",
		[]models.PositionObservation{entryObs("ES", models.DirectionLong, 5880, 1, now)}, nil, nil)
	require.NoError(t, err)
	require.Len(t, res.NewTrades, 1)
	require.Len(t, res.Signals, 1)

	sig := res.Signals[0]
	assert.Greater(t, sig.AudioConfidence, 0.0, "pending candidate consumed")
	assert.Greater(t, sig.OverallConfidence, 0.9*0.6, "blend beats either source alone scaled")
	assert.Greater(t, sig.OverallConfidence, sig.VisionConfidence*0.6)
	assert.LessOrEqual(t, sig.OverallConfidence, 1.0)
	assert.Equal(t, 0, c.PendingCount("st-1"))
}

func TestCorrelateIgnoresVerbalOutsideWindow(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	c, _, _ := newTestCorrelator(now)

	c.AddVerbalSignal(models.VerbalSignal{
		StreamID:   "st-1",
		Kind:       models.SignalEntry,
		Symbol:     "ES",
		Direction:  models.DirectionLong,
		Confidence: 0.8,
		ObservedAt: now.Add(-11 * time.Second),
	})

	res, err := c.Correlate(context.Background(), "st-1", "tr-1",
		[]models.PositionObservation{entryObs("ES", models.DirectionLong, 5880, 1, now)}, nil, nil)
	require.NoError(t, err)
	require.Len(t, res.Signals, 1)

	sig := res.Signals[0]
	assert.Zero(t, sig.AudioConfidence, "stale candidate must not match")
	assert.Equal(t, sig.VisionConfidence, sig.OverallConfidence)
}

func TestCorrelateFIFOBreaksTies(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	c, _, _ := newTestCorrelator(now)

	c.AddVerbalSignal(models.VerbalSignal{
		StreamID: "st-1", Kind: models.SignalEntry, Symbol: "ES",
		Direction: models.DirectionLong, Confidence: 0.5, ObservedAt: now.Add(-8 * time.Second),
	})
	c.AddVerbalSignal(models.VerbalSignal{
		StreamID: "st-1", Kind: models.SignalEntry, Symbol: "ES",
		Direction: models.DirectionLong, Confidence: 0.9, ObservedAt: now.Add(-2 * time.Second),
	})

	res, err := c.Correlate(context.Background(), "st-1", "tr-1",
		[]models.PositionObservation{entryObs("ES", models.DirectionLong, 5880, 1, now)}, nil, nil)
	require.NoError(t, err)
	require.Len(t, res.Signals, 1)

	// the earlier (lower-confidence) candidate wins
	assert.InDelta(t, 0.5*pendingDiscount, res.Signals[0].AudioConfidence, 1e-9)
	assert.Equal(t, 1, c.PendingCount("st-1"))
}

func TestCorrelateWildcardSymbolMatches(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	c, _, _ := newTestCorrelator(now)

	// partially parsed utterance: direction known, symbol missing
	c.AddVerbalSignal(models.VerbalSignal{
		StreamID: "st-1", Kind: models.SignalEntry,
		Direction: models.DirectionShort, Confidence: 0.6, ObservedAt: now.Add(-3 * time.Second),
	})

	res, err := c.Correlate(context.Background(), "st-1", "tr-1",
		[]models.PositionObservation{entryObs("NQ", models.DirectionShort, 21000, 1, now)}, nil, nil)
	require.NoError(t, err)
	assert.Greater(t, res.Signals[0].AudioConfidence, 0.0)
}

func TestPendingEviction(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	c, _, _ := newTestCorrelator(now)

	c.AddVerbalSignal(models.VerbalSignal{
		StreamID: "st-1", Kind: models.SignalEntry, Symbol: "ES",
		Confidence: 0.8, ObservedAt: now.Add(-21 * time.Second),
	})
	c.AddVerbalSignal(models.VerbalSignal{
		StreamID: "st-1", Kind: models.SignalEntry, Symbol: "ES",
		Confidence: 0.8, ObservedAt: now.Add(-5 * time.Second),
	})

	// older than twice the window is gone, the recent one stays
	assert.Equal(t, 1, c.PendingCount("st-1"))
}

func TestCloseComputesPnlLongAndShort(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	ctx := context.Background()
	exit := 5892.0

	for _, tc := range []struct {
		dir  models.Direction
		want float64
	}{
		{models.DirectionLong, 600.00},
		{models.DirectionShort, -600.00},
	} {
		c, _, _ := newTestCorrelator(now)
		_, err := c.Correlate(ctx, "st-1", "tr-1",
			[]models.PositionObservation{entryObs("ES", tc.dir, 5880, 1, now)}, nil, nil)
		require.NoError(t, err)

		closeObs := entryObs("ES", tc.dir, 5880, 1, now.Add(time.Minute))
		closeObs.CurrentPrice = &exit
		res, err := c.Correlate(ctx, "st-1", "tr-1", nil,
			[]models.PositionObservation{closeObs}, nil)
		require.NoError(t, err)
		require.Len(t, res.ClosedTrades, 1)

		trade := res.ClosedTrades[0]
		require.NotNil(t, trade.Pnl)
		assert.InDelta(t, tc.want, *trade.Pnl, 1e-9)
		if tc.want > 0 {
			assert.Equal(t, models.ResultWin, trade.Result)
		} else {
			assert.Equal(t, models.ResultLoss, trade.Result)
		}
	}
}

func TestClosePrefersReportedRealizedPnl(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	ctx := context.Background()
	c, _, _ := newTestCorrelator(now)

	_, err := c.Correlate(ctx, "st-1", "tr-1",
		[]models.PositionObservation{entryObs("ES", models.DirectionLong, 5880, 1, now)}, nil, nil)
	require.NoError(t, err)

	exit := 5892.0
	realized := 587.50 // platform nets out fees
	closeObs := entryObs("ES", models.DirectionLong, 5880, 1, now.Add(time.Minute))
	closeObs.CurrentPrice = &exit
	closeObs.RealizedPnl = &realized

	res, err := c.Correlate(ctx, "st-1", "tr-1", nil, []models.PositionObservation{closeObs}, nil)
	require.NoError(t, err)
	require.Len(t, res.ClosedTrades, 1)
	assert.InDelta(t, realized, *res.ClosedTrades[0].Pnl, 1e-9)
}

func TestCloseReplayIsIdempotent(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	ctx := context.Background()
	c, store, pub := newTestCorrelator(now)

	_, err := c.Correlate(ctx, "st-1", "tr-1",
		[]models.PositionObservation{entryObs("ES", models.DirectionLong, 5880, 1, now)}, nil, nil)
	require.NoError(t, err)

	exit := 5885.0
	closeObs := entryObs("ES", models.DirectionLong, 5880, 1, now)
	closeObs.CurrentPrice = &exit

	first, err := c.Correlate(ctx, "st-1", "tr-1", nil, []models.PositionObservation{closeObs}, nil)
	require.NoError(t, err)
	require.Len(t, first.ClosedTrades, 1)
	savesAfterClose := len(store.saves)
	eventsAfterClose := len(pub.events)

	replay, err := c.Correlate(ctx, "st-1", "tr-1", nil, []models.PositionObservation{closeObs}, nil)
	require.NoError(t, err)
	assert.Empty(t, replay.ClosedTrades, "replayed close is a no-op")
	assert.Equal(t, savesAfterClose, len(store.saves))
	assert.Equal(t, eventsAfterClose, len(pub.events))
}

func TestAdjustmentStaysEvidenceOnly(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	ctx := context.Background()
	c, _, pub := newTestCorrelator(now)

	_, err := c.Correlate(ctx, "st-1", "tr-1",
		[]models.PositionObservation{entryObs("ES", models.DirectionLong, 5880, 3, now)}, nil, nil)
	require.NoError(t, err)
	eventsAfterOpen := len(pub.events)

	scaleOut := entryObs("ES", models.DirectionLong, 5880, 1, now.Add(time.Minute))
	res, err := c.Correlate(ctx, "st-1", "tr-1", nil, nil, []models.PositionObservation{scaleOut})
	require.NoError(t, err)
	require.Len(t, res.Adjusted, 1)

	trade := res.Adjusted[0]
	assert.Equal(t, models.ResultOpen, trade.Result)
	assert.Equal(t, 3.0, trade.Size, "entry size is not rewritten by a scale-out")
	assert.Len(t, trade.Signals, 2)
	assert.Equal(t, eventsAfterOpen, len(pub.events), "no event for an adjustment")

	open := c.OpenTrades("st-1")
	require.Len(t, open, 1)
	assert.Equal(t, models.ResultOpen, open[0].Result)
}

func TestOpenEmitsOpenedEventAndPersists(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	ctx := context.Background()
	c, store, pub := newTestCorrelator(now)

	res, err := c.Correlate(ctx, "st-1", "tr-1",
		[]models.PositionObservation{entryObs("ES", models.DirectionLong, 5880, 2, now)}, nil, nil)
	require.NoError(t, err)
	require.Len(t, res.NewTrades, 1)

	require.Len(t, store.saves, 1)
	assert.Equal(t, models.ResultOpen, store.saves[0].Result)

	require.Len(t, pub.events, 1)
	assert.Equal(t, models.TradeOpened, pub.events[0].Type)
	assert.Equal(t, "tr-1", pub.events[0].Trade.TraderID)
	assert.Equal(t, 2.0, pub.events[0].Trade.Size)
}

func TestUnknownSymbolFallsBackToPointPnl(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	ctx := context.Background()
	c, _, _ := newTestCorrelator(now)

	_, err := c.Correlate(ctx, "st-1", "tr-1",
		[]models.PositionObservation{entryObs("XX", models.DirectionLong, 100, 2, now)}, nil, nil)
	require.NoError(t, err)

	exit := 103.0
	closeObs := entryObs("XX", models.DirectionLong, 100, 2, now)
	closeObs.CurrentPrice = &exit
	res, err := c.Correlate(ctx, "st-1", "tr-1", nil, []models.PositionObservation{closeObs}, nil)
	require.NoError(t, err)
	require.Len(t, res.ClosedTrades, 1)
	assert.InDelta(t, 6.0, *res.ClosedTrades[0].Pnl, 1e-9)
}
