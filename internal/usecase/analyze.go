package usecase

import (
	"context"
	"fmt"
	"time"

	"MirrorTrader/internal/correlator"
	"MirrorTrader/internal/domain/models"
	"MirrorTrader/internal/domain/repository"
	"MirrorTrader/internal/service/ratelimit"
	"MirrorTrader/pkg/logger"
)

// Per-author chat budget. Genuine calls are rare; anything chattier than
// this is noise and must not reach the parser.
const (
	chatBurst  = 5
	chatRefill = 0.5 // tokens per second
)

// Analyzer runs one full analysis pass: vision extraction, a diff against
// the trades currently open on the stream, and correlation into the ledger.
type Analyzer struct {
	vision   repository.VisionDetector
	verbal   repository.VerbalDetector
	corr     *correlator.Correlator
	store    repository.TradeStore
	channels repository.ChannelStore
	metrics  repository.Metrics
	log      *logger.Logger
	limiter  *ratelimit.Limiter
}

// NewAnalyzer creates the analyze usecase.
func NewAnalyzer(
	vision repository.VisionDetector,
	verbal repository.VerbalDetector,
	corr *correlator.Correlator,
	store repository.TradeStore,
	channels repository.ChannelStore,
	metrics repository.Metrics,
	log *logger.Logger,
) *Analyzer {
	return &Analyzer{
		vision:   vision,
		verbal:   verbal,
		corr:     corr,
		store:    store,
		channels: channels,
		metrics:  metrics,
		log:      log,
		limiter:  ratelimit.New(),
	}
}

// AnalysisOutcome is the result of one frame analysis.
type AnalysisOutcome struct {
	StreamID   string                       `json:"streamId"`
	Degraded   bool                         `json:"degraded,omitempty"`
	Observed   []models.PositionObservation `json:"observed"`
	NewTrades  []*models.Trade              `json:"newTrades"`
	Closed     []*models.Trade              `json:"closedTrades"`
	Signals    []models.CorrelatedSignal    `json:"signals"`
	AnalyzedAt time.Time                    `json:"analyzedAt"`
}

// Analyze extracts the position snapshot from one frame and correlates the
// delta against the stream's open trades. A position visible now but not
// tracked is an open; a tracked trade missing from the snapshot is a close;
// a size change on a tracked trade is an adjustment.
func (a *Analyzer) Analyze(ctx context.Context, streamID, frameURL string, imageData []byte) (*AnalysisOutcome, error) {
	start := time.Now()
	vr, err := a.vision.Analyze(ctx, streamID, frameURL, imageData)
	if err != nil {
		a.metrics.RecordError("vision")
		return nil, fmt.Errorf("vision: %w", err)
	}
	out := &AnalysisOutcome{StreamID: streamID, Degraded: vr.Degraded, Observed: vr.Positions, AnalyzedAt: vr.AnalyzedAt}
	if vr.Degraded {
		return out, nil
	}

	opened, closed, modified := a.diff(streamID, vr.Positions)
	res, err := a.corr.Correlate(ctx, streamID, a.resolveTrader(ctx, streamID), opened, closed, modified)
	if err != nil {
		return nil, fmt.Errorf("correlate: %w", err)
	}
	out.NewTrades = res.NewTrades
	out.Closed = res.ClosedTrades
	out.Signals = res.Signals
	a.metrics.RecordLatency("analyze", time.Since(start).Seconds())
	return out, nil
}

type posKey struct {
	symbol    string
	direction models.Direction
}

func (a *Analyzer) diff(streamID string, observed []models.PositionObservation) (opened, closed, modified []models.PositionObservation) {
	open := a.corr.OpenTrades(streamID)
	tracked := make(map[posKey]*models.Trade, len(open))
	for _, t := range open {
		tracked[posKey{t.Symbol, t.Direction}] = t
	}

	seen := make(map[posKey]bool, len(observed))
	for _, obs := range observed {
		key := posKey{obs.Symbol, obs.Direction}
		seen[key] = true
		t, ok := tracked[key]
		switch {
		case !ok:
			opened = append(opened, obs)
		case obs.Size != t.Size:
			// scale-in/scale-out; stop moves without a size change are
			// not diffable from a snapshot and stay unrecorded
			modified = append(modified, obs)
		}
	}

	for key, t := range tracked {
		if seen[key] {
			continue
		}
		// the position row vanished from the platform widget
		obs := models.PositionObservation{
			StreamID:   streamID,
			Symbol:     t.Symbol,
			Direction:  t.Direction,
			Size:       t.Size,
			EntryPrice: t.EntryPrice,
			ObservedAt: time.Now(),
		}
		closed = append(closed, obs)
	}
	return opened, closed, modified
}

func (a *Analyzer) resolveTrader(ctx context.Context, streamID string) string {
	if a.channels == nil {
		return ""
	}
	chs, err := a.channels.Channels(ctx)
	if err != nil {
		return ""
	}
	for _, ch := range chs {
		if ch.CurrentStreamID == streamID {
			return ch.TraderID
		}
	}
	return ""
}

// HandleChat classifies one chat line and, when it carries a signal, queues
// it for correlation. Returns the parsed signal, nil when the line is noise.
// Authors exceeding the chat budget are dropped before parsing.
func (a *Analyzer) HandleChat(msg models.ChatMessage) *models.VerbalSignal {
	if !a.limiter.Allow(msg.StreamID+":"+msg.Author, chatBurst, chatRefill) {
		a.metrics.RecordError("chat_throttled")
		return nil
	}
	sig, ok := a.verbal.Parse(msg)
	if !ok {
		return nil
	}
	a.corr.AddVerbalSignal(*sig)
	a.log.Debug("verbal signal queued",
		logger.String("stream", msg.StreamID),
		logger.String("kind", string(sig.Kind)),
		logger.String("symbol", sig.Symbol),
		logger.Float64("confidence", sig.Confidence),
	)
	return sig
}

// StreamState reports the open trades plus the recent ledger history for a
// stream.
func (a *Analyzer) StreamState(ctx context.Context, streamID string, limit int) ([]*models.Trade, []*models.Trade, error) {
	open := a.corr.OpenTrades(streamID)
	if a.store == nil {
		return open, nil, nil
	}
	recent, err := a.store.Load(ctx, streamID, limit)
	if err != nil {
		return open, nil, fmt.Errorf("load trades: %w", err)
	}
	return open, recent, nil
}
