package correlator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"MirrorTrader/internal/domain/models"
	"MirrorTrader/internal/domain/repository"
	"MirrorTrader/pkg/logger"
)

const (
	// visionConfidence is assumed when the observation carries none;
	// vision is the higher-trust source.
	defaultVisionConfidence = 0.9
	// unmatched verbal signals lose credibility for missing corroboration.
	pendingDiscount = 0.7
	// pending candidates older than this multiple of the window are evicted.
	pendingMaxAge = 2
	// hard cap on queued candidates per stream
	maxPendingPerStream = 64
)

// Result is everything one correlation pass produced.
type Result struct {
	NewTrades    []*models.Trade            `json:"newTrades"`
	ClosedTrades []*models.Trade            `json:"closedTrades"`
	Adjusted     []*models.Trade            `json:"adjusted"`
	Signals      []models.CorrelatedSignal  `json:"signals"`
}

// Option configures the Correlator.
type Option func(*Correlator)

// WithWindow sets the correlation window.
func WithWindow(d time.Duration) Option {
	return func(c *Correlator) { c.window = d }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) { c.now = now }
}

// positionKey identifies one open position instance on a stream.
type positionKey struct {
	symbol    string
	direction models.Direction
}

// Correlator folds independent vision and verbal detections into the
// authoritative trade ledger. It exclusively owns Trade mutation; once a
// trade reaches a terminal result it is never touched again.
//
// All mutation for one stream arrives from the same analysis pass, so a
// single mutex covering the per-stream maps gives the required
// single-writer-per-stream semantics while tolerating interleaved calls
// across streams.
type Correlator struct {
	mu      sync.Mutex
	pending map[string][]models.VerbalSignal
	open    map[string]map[positionKey]*models.Trade

	window  time.Duration
	ticks   map[string]models.TickSpec
	store   repository.TradeStore
	pub     repository.TradePublisher
	metrics repository.Metrics
	log     *logger.Logger
	now     func() time.Time
}

// New creates a correlator.
func New(
	ticks map[string]models.TickSpec,
	store repository.TradeStore,
	pub repository.TradePublisher,
	metrics repository.Metrics,
	log *logger.Logger,
	opts ...Option,
) *Correlator {
	c := &Correlator{
		pending: make(map[string][]models.VerbalSignal),
		open:    make(map[string]map[positionKey]*models.Trade),
		window:  10 * time.Second,
		ticks:   ticks,
		store:   store,
		pub:     pub,
		metrics: metrics,
		log:     log,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddVerbalSignal queues a speech/chat detection for later correlation.
// Unparsable symbol/price fields are acceptable; partial evidence still
// contributes to confidence blending. The queued confidence is discounted
// because the signal arrived without vision corroboration.
func (c *Correlator) AddVerbalSignal(sig models.VerbalSignal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sig.Confidence *= pendingDiscount
	q := c.pending[sig.StreamID]
	if len(q) >= maxPendingPerStream {
		q = q[1:]
	}
	c.pending[sig.StreamID] = append(q, sig)
	c.evictLocked(sig.StreamID)
}

// PendingCount returns how many candidates are queued for a stream.
func (c *Correlator) PendingCount(streamID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(streamID)
	return len(c.pending[streamID])
}

// OpenTrades returns a snapshot of the currently open trades on a stream.
func (c *Correlator) OpenTrades(streamID string) []*models.Trade {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Trade, 0, len(c.open[streamID]))
	for _, t := range c.open[streamID] {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// Correlate merges one vision pass (newly opened, closed and modified
// positions) with the pending verbal candidates for the stream.
func (c *Correlator) Correlate(
	ctx context.Context,
	streamID, traderID string,
	opened, closed, modified []models.PositionObservation,
) (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictLocked(streamID)
	res := &Result{}

	for _, obs := range opened {
		t := c.openTradeLocked(ctx, streamID, traderID, obs, res)
		res.NewTrades = append(res.NewTrades, t)
	}
	for _, obs := range closed {
		if t := c.closeTradeLocked(ctx, streamID, obs, res); t != nil {
			res.ClosedTrades = append(res.ClosedTrades, t)
		}
	}
	for _, obs := range modified {
		if t := c.adjustTradeLocked(streamID, obs, res); t != nil {
			res.Adjusted = append(res.Adjusted, t)
		}
	}
	return res, nil
}

func (c *Correlator) openTradeLocked(
	ctx context.Context,
	streamID, traderID string,
	obs models.PositionObservation,
	res *Result,
) *models.Trade {
	visionConf := obs.Confidence
	if visionConf <= 0 {
		visionConf = defaultVisionConfidence
	}

	sig := models.CorrelatedSignal{
		ID:               uuid.NewString(),
		StreamID:         streamID,
		Symbol:           obs.Symbol,
		Direction:        obs.Direction,
		Kind:             models.EventEntry,
		EntryPrice:       obs.EntryPrice,
		Size:             obs.Size,
		VisionConfidence: visionConf,
		CreatedAt:        c.now(),
	}
	if obs.StopLoss != nil {
		sig.StopLoss = *obs.StopLoss
	}
	if obs.TakeProfit != nil {
		sig.TakeProfit = *obs.TakeProfit
	}

	if verbal, ok := c.takePendingLocked(streamID, obs.Symbol, obs.Direction, entryKinds); ok {
		sig.AudioConfidence = verbal.Confidence
		sig.OverallConfidence = blend(visionConf, verbal.Confidence)
	} else {
		sig.OverallConfidence = visionConf
	}
	res.Signals = append(res.Signals, sig)

	t := &models.Trade{
		ID:         uuid.NewString(),
		StreamID:   streamID,
		TraderID:   traderID,
		Symbol:     obs.Symbol,
		Direction:  obs.Direction,
		EntryTime:  obs.ObservedAt,
		EntryPrice: obs.EntryPrice,
		Size:       obs.Size,
		Result:     models.ResultOpen,
		Signals:    []models.CorrelatedSignal{sig},
	}
	if t.EntryTime.IsZero() {
		t.EntryTime = c.now()
	}

	if c.open[streamID] == nil {
		c.open[streamID] = make(map[positionKey]*models.Trade)
	}
	c.open[streamID][positionKey{obs.Symbol, obs.Direction}] = t

	c.persistLocked(ctx, t)
	c.publishLocked(ctx, models.TradeOpened, t, sig.OverallConfidence)
	c.metrics.RecordTradeOpened(t.Symbol)
	c.log.Info("trade opened",
		logger.String("stream", streamID),
		logger.String("symbol", t.Symbol),
		logger.String("direction", string(t.Direction)),
		logger.Float64("confidence", sig.OverallConfidence),
	)
	return t
}

func (c *Correlator) closeTradeLocked(
	ctx context.Context,
	streamID string,
	obs models.PositionObservation,
	res *Result,
) *models.Trade {
	key := positionKey{obs.Symbol, obs.Direction}
	t, ok := c.open[streamID][key]
	if !ok {
		// Already closed or never tracked; replays must not mutate
		// the terminal record a second time.
		return nil
	}

	exitPrice := obs.EntryPrice
	if obs.CurrentPrice != nil {
		exitPrice = *obs.CurrentPrice
	}

	pnl := c.computePnl(t, exitPrice, obs.RealizedPnl)

	visionConf := obs.Confidence
	if visionConf <= 0 {
		visionConf = defaultVisionConfidence
	}
	sig := models.CorrelatedSignal{
		ID:               uuid.NewString(),
		StreamID:         streamID,
		Symbol:           obs.Symbol,
		Direction:        obs.Direction,
		Kind:             models.EventExit,
		ExitPrice:        exitPrice,
		Size:             t.Size,
		VisionConfidence: visionConf,
		CreatedAt:        c.now(),
	}
	if verbal, ok := c.takePendingLocked(streamID, obs.Symbol, obs.Direction, exitKinds); ok {
		sig.AudioConfidence = verbal.Confidence
		sig.OverallConfidence = blend(visionConf, verbal.Confidence)
	} else {
		sig.OverallConfidence = visionConf
	}
	res.Signals = append(res.Signals, sig)

	now := obs.ObservedAt
	if now.IsZero() {
		now = c.now()
	}
	t.ExitTime = &now
	t.ExitPrice = &exitPrice
	t.Pnl = &pnl
	t.Signals = append(t.Signals, sig)
	switch {
	case pnl > 0:
		t.Result = models.ResultWin
	case pnl < 0:
		t.Result = models.ResultLoss
	default:
		t.Result = models.ResultBreakeven
	}
	delete(c.open[streamID], key)

	c.persistLocked(ctx, t)
	c.publishLocked(ctx, models.TradeClosed, t, sig.OverallConfidence)
	c.metrics.RecordTradeClosed(t.Symbol, string(t.Result))
	c.log.Info("trade closed",
		logger.String("stream", streamID),
		logger.String("symbol", t.Symbol),
		logger.String("result", string(t.Result)),
		logger.Float64("pnl", pnl),
	)
	return t
}

func (c *Correlator) adjustTradeLocked(streamID string, obs models.PositionObservation, res *Result) *models.Trade {
	key := positionKey{obs.Symbol, obs.Direction}
	t, ok := c.open[streamID][key]
	if !ok {
		return nil
	}

	visionConf := obs.Confidence
	if visionConf <= 0 {
		visionConf = defaultVisionConfidence
	}
	sig := models.CorrelatedSignal{
		ID:                uuid.NewString(),
		StreamID:          streamID,
		Symbol:            obs.Symbol,
		Direction:         obs.Direction,
		Kind:              models.EventAdjustment,
		Size:              obs.Size,
		VisionConfidence:  visionConf,
		OverallConfidence: visionConf,
		CreatedAt:         c.now(),
	}
	if obs.StopLoss != nil {
		sig.StopLoss = *obs.StopLoss
	}
	if obs.TakeProfit != nil {
		sig.TakeProfit = *obs.TakeProfit
	}
	// A size decrease is a scale-out. It stays evidence on the open
	// trade; no partial realized P&L is synthesized for it.
	t.Signals = append(t.Signals, sig)
	res.Signals = append(res.Signals, sig)
	return t
}

// computePnl prefers the platform-reported realized figure and only falls
// back to the tick arithmetic when the observation did not supply one.
func (c *Correlator) computePnl(t *models.Trade, exitPrice float64, realized *float64) float64 {
	if realized != nil {
		return *realized
	}
	spec, ok := c.ticks[t.Symbol]
	if !ok || spec.TickSize <= 0 {
		spec = models.TickSpec{TickSize: 1, TickValue: 1}
	}
	points := (exitPrice - t.EntryPrice) * t.Direction.Sign()
	return points * spec.PointValue() * t.Size
}

var (
	entryKinds = map[models.SignalKind]bool{models.SignalEntry: true, models.SignalAlert: true}
	exitKinds  = map[models.SignalKind]bool{models.SignalExit: true, models.SignalStop: true, models.SignalTarget: true}
)

// takePendingLocked pops the earliest queued candidate matching the
// observation. FIFO wins ties: the window is short enough that ordering
// ambiguity is rare, and recency bias would let noisy late signals
// override an earlier, more deliberate call.
func (c *Correlator) takePendingLocked(streamID, symbol string, dir models.Direction, kinds map[models.SignalKind]bool) (models.VerbalSignal, bool) {
	q := c.pending[streamID]
	cutoff := c.now().Add(-c.window)
	for i, sig := range q {
		if !kinds[sig.Kind] {
			continue
		}
		if sig.ObservedAt.Before(cutoff) {
			continue
		}
		if sig.Symbol != "" && sig.Symbol != symbol {
			continue
		}
		if sig.Direction != "" && sig.Direction != dir {
			continue
		}
		c.pending[streamID] = append(q[:i], q[i+1:]...)
		return sig, true
	}
	return models.VerbalSignal{}, false
}

func (c *Correlator) evictLocked(streamID string) {
	cutoff := c.now().Add(-time.Duration(pendingMaxAge) * c.window)
	q := c.pending[streamID]
	kept := q[:0]
	for _, sig := range q {
		if sig.ObservedAt.After(cutoff) {
			kept = append(kept, sig)
		}
	}
	if len(kept) == 0 {
		delete(c.pending, streamID)
		return
	}
	c.pending[streamID] = kept
}

func (c *Correlator) persistLocked(ctx context.Context, t *models.Trade) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, t); err != nil {
		c.metrics.RecordError("trade_store")
		c.log.Error("save trade failed", logger.String("trade", t.ID), logger.Error(err))
	}
}

func (c *Correlator) publishLocked(ctx context.Context, typ models.TradeEventType, t *models.Trade, conf float64) {
	if c.pub == nil {
		return
	}
	cp := *t
	ev := &models.TradeEvent{Type: typ, Trade: &cp, Confidence: conf, EmittedAt: c.now()}
	if err := c.pub.Publish(ctx, ev); err != nil {
		c.metrics.RecordError("trade_publish")
		c.log.Error("publish trade event failed", logger.String("trade", t.ID), logger.Error(err))
	}
}

// blend combines per-source trust into one score, weighted toward vision,
// with a small bonus for having two independent confirmations.
func blend(vision, audio float64) float64 {
	v := vision*0.6 + audio*0.4 + 0.1
	if v > 1 {
		return 1
	}
	return v
}
