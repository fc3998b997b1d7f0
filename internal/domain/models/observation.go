package models

import "time"

// SignalKind classifies what a verbal or chat signal announces.
type SignalKind string

const (
	SignalEntry  SignalKind = "ENTRY"
	SignalExit   SignalKind = "EXIT"
	SignalStop   SignalKind = "STOP"
	SignalTarget SignalKind = "TARGET"
	SignalAlert  SignalKind = "ALERT"
)

// SourceRole is the trust class of whoever produced a chat/audio signal.
type SourceRole string

const (
	RoleOwner     SourceRole = "OWNER"
	RoleModerator SourceRole = "MODERATOR"
	RoleViewer    SourceRole = "VIEWER"
)

// PositionObservation is one vision/OCR reading of a platform position row.
// Ephemeral; produced once per analysis pass.
type PositionObservation struct {
	StreamID      string    `json:"streamId"`
	Symbol        string    `json:"symbol"`
	Direction     Direction `json:"direction"`
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entryPrice"`
	CurrentPrice  *float64  `json:"currentPrice,omitempty"`
	StopLoss      *float64  `json:"stopLoss,omitempty"`
	TakeProfit    *float64  `json:"takeProfit,omitempty"`
	RealizedPnl   *float64  `json:"realizedPnl,omitempty"`
	UnrealizedPnl *float64  `json:"unrealizedPnl,omitempty"`
	Confidence    float64   `json:"confidence"`
	ObservedAt    time.Time `json:"observedAt"`
}

// VerbalSignal is one speech/chat derived detection. Symbol, direction and
// price may be absent when the utterance was only partially parseable;
// absent fields act as wildcards during correlation.
type VerbalSignal struct {
	StreamID   string     `json:"streamId"`
	Kind       SignalKind `json:"kind"`
	Symbol     string     `json:"symbol,omitempty"`
	Direction  Direction  `json:"direction,omitempty"`
	Price      *float64   `json:"price,omitempty"`
	Size       *float64   `json:"size,omitempty"`
	Confidence float64    `json:"confidence"`
	RawText    string     `json:"rawText,omitempty"`
	ObservedAt time.Time  `json:"observedAt"`
}

// ChatMessage is a raw live-chat line before signal detection.
type ChatMessage struct {
	StreamID string     `json:"streamId"`
	Author   string     `json:"author"`
	Role     SourceRole `json:"role"`
	Text     string     `json:"text"`
	SentAt   time.Time  `json:"sentAt"`
}

// VisionResult is the full output of one vision analysis pass.
type VisionResult struct {
	StreamID   string                `json:"streamId"`
	Positions  []PositionObservation `json:"positions"`
	Degraded   bool                  `json:"degraded,omitempty"`
	AnalyzedAt time.Time             `json:"analyzedAt"`
}
