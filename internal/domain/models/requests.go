package models

// PollRequest triggers one liveness cycle. Channels narrows the cycle to a
// subset; Force bypasses the quota safety floor.
type PollRequest struct {
	Channels []string `json:"channels" query:"channels"`
	Force    bool     `json:"force" query:"force"`
}

// AnalyzeRequest submits one frame (and optionally buffered chat lines)
// for a full analysis pass.
type AnalyzeRequest struct {
	StreamID    string        `json:"streamId" validate:"required"`
	FrameURL    string        `json:"frameUrl" validate:"omitempty,url"`
	ImageBase64 string        `json:"imageBase64"`
	Chat        []ChatMessage `json:"chat" validate:"max=200"`
}

// StreamStateRequest fetches open trades and recent history for a stream.
type StreamStateRequest struct {
	StreamID string `query:"streamId" validate:"required"`
	Limit    int    `query:"limit" default:"50" validate:"gte=0,lte=500"`
}
