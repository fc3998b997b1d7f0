package detector

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"MirrorTrader/internal/domain/models"
	httpkit "MirrorTrader/pkg/http"
	"MirrorTrader/pkg/logger"
)

// VisionClient calls the screenshot-analysis API and maps its response to
// position observations. Without an API key it degrades to an empty result
// instead of failing the analysis pass.
type VisionClient struct {
	baseURL string
	apiKey  string
	client  *httpkit.Client
	log     *logger.Logger
}

// NewVisionClient builds a vision detector against baseURL.
func NewVisionClient(baseURL, apiKey string, timeout time.Duration, log *logger.Logger) *VisionClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &VisionClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  httpkit.NewClient(httpkit.WithTimeout(timeout)),
		log:     log,
	}
}

type visionRequest struct {
	StreamID    string `json:"streamId"`
	FrameURL    string `json:"frameUrl,omitempty"`
	ImageBase64 string `json:"imageBase64,omitempty"`
}

type visionPosition struct {
	Symbol        string   `json:"symbol"`
	Direction     string   `json:"direction"`
	Size          float64  `json:"size"`
	EntryPrice    float64  `json:"entryPrice"`
	CurrentPrice  *float64 `json:"currentPrice"`
	StopLoss      *float64 `json:"stopLoss"`
	TakeProfit    *float64 `json:"takeProfit"`
	RealizedPnl   *float64 `json:"realizedPnl"`
	UnrealizedPnl *float64 `json:"unrealizedPnl"`
	Confidence    float64  `json:"confidence"`
}

type visionResponse struct {
	Positions []visionPosition `json:"positions"`
}

// Analyze submits one frame for position extraction.
func (v *VisionClient) Analyze(ctx context.Context, streamID, frameURL string, imageData []byte) (*models.VisionResult, error) {
	now := time.Now()
	if v.apiKey == "" {
		v.log.Warn("vision analysis skipped, no api key", logger.String("stream", streamID))
		return &models.VisionResult{StreamID: streamID, Degraded: true, AnalyzedAt: now}, nil
	}

	req := visionRequest{StreamID: streamID, FrameURL: frameURL}
	if len(imageData) > 0 {
		req.ImageBase64 = base64.StdEncoding.EncodeToString(imageData)
	}

	var resp visionResponse
	err := v.client.SendAndParse(ctx, &httpkit.RequestOptions{
		Method: httpkit.MethodPost,
		URL:    v.baseURL + "/v1/analyze",
		Headers: map[string]string{
			"Authorization": "Bearer " + v.apiKey,
		},
		Body: req,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("vision analyze: %w", err)
	}

	out := &models.VisionResult{StreamID: streamID, AnalyzedAt: now}
	for _, p := range resp.Positions {
		dir := models.DirectionLong
		if p.Direction == string(models.DirectionShort) {
			dir = models.DirectionShort
		}
		out.Positions = append(out.Positions, models.PositionObservation{
			StreamID:      streamID,
			Symbol:        p.Symbol,
			Direction:     dir,
			Size:          p.Size,
			EntryPrice:    p.EntryPrice,
			CurrentPrice:  p.CurrentPrice,
			StopLoss:      p.StopLoss,
			TakeProfit:    p.TakeProfit,
			RealizedPnl:   p.RealizedPnl,
			UnrealizedPnl: p.UnrealizedPnl,
			Confidence:    p.Confidence,
			ObservedAt:    now,
		})
	}
	return out, nil
}
