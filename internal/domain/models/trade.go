package models

import "time"

// Direction is the side of a position.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// Sign returns +1 for longs and -1 for shorts.
func (d Direction) Sign() float64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// Opposite returns the inverse direction.
func (d Direction) Opposite() Direction {
	if d == DirectionLong {
		return DirectionShort
	}
	return DirectionLong
}

// TradeResult is the terminal classification of a trade.
type TradeResult string

const (
	ResultOpen      TradeResult = "OPEN"
	ResultWin       TradeResult = "WIN"
	ResultLoss      TradeResult = "LOSS"
	ResultBreakeven TradeResult = "BREAKEVEN"
)

// EventKind classifies a fused signal.
type EventKind string

const (
	EventEntry      EventKind = "ENTRY"
	EventExit       EventKind = "EXIT"
	EventAdjustment EventKind = "ADJUSTMENT"
)

// CorrelatedSignal is the fused record produced by matching a vision
// observation and/or a verbal signal inside the correlation window.
// Immutable once created; the blended confidence is never recomputed.
type CorrelatedSignal struct {
	ID                string    `json:"id"`
	StreamID          string    `json:"streamId"`
	Symbol            string    `json:"symbol"`
	Direction         Direction `json:"direction"`
	Kind              EventKind `json:"kind"`
	EntryPrice        float64   `json:"entryPrice,omitempty"`
	ExitPrice         float64   `json:"exitPrice,omitempty"`
	StopLoss          float64   `json:"stopLoss,omitempty"`
	TakeProfit        float64   `json:"takeProfit,omitempty"`
	Size              float64   `json:"size"`
	VisionConfidence  float64   `json:"visionConfidence,omitempty"`
	AudioConfidence   float64   `json:"audioConfidence,omitempty"`
	OverallConfidence float64   `json:"overallConfidence"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Trade is the authoritative ledger entry for one position instance.
// Owned and mutated only by the correlator; read-only everywhere else.
// Once Result leaves OPEN the record is never mutated again.
type Trade struct {
	ID         string             `json:"id"`
	StreamID   string             `json:"streamId"`
	TraderID   string             `json:"traderId"`
	Symbol     string             `json:"symbol"`
	Direction  Direction          `json:"direction"`
	EntryTime  time.Time          `json:"entryTime"`
	EntryPrice float64            `json:"entryPrice"`
	ExitTime   *time.Time         `json:"exitTime,omitempty"`
	ExitPrice  *float64           `json:"exitPrice,omitempty"`
	Size       float64            `json:"size"`
	Pnl        *float64           `json:"pnl,omitempty"`
	Result     TradeResult        `json:"result"`
	Signals    []CorrelatedSignal `json:"signals"`
}

// Closed reports whether the trade has reached a terminal result.
func (t *Trade) Closed() bool { return t.Result != ResultOpen }

// TradeEventType distinguishes events on the trade feed.
type TradeEventType string

const (
	TradeOpened TradeEventType = "OPENED"
	TradeClosed TradeEventType = "CLOSED"
)

// TradeEvent is what the correlator publishes and the executor consumes.
type TradeEvent struct {
	Type       TradeEventType `json:"type"`
	Trade      *Trade         `json:"trade"`
	Confidence float64        `json:"confidence"`
	EmittedAt  time.Time      `json:"emittedAt"`
}

// TickSpec describes how price distance converts to money for a symbol.
type TickSpec struct {
	TickSize  float64 `json:"tickSize" yaml:"tick_size"`
	TickValue float64 `json:"tickValue" yaml:"tick_value"`
}

// PointValue returns the dollar value of a one point move per contract.
func (s TickSpec) PointValue() float64 {
	if s.TickSize <= 0 {
		return 0
	}
	return s.TickValue / s.TickSize
}
