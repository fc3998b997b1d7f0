package api

import (
	"encoding/base64"

	models "MirrorTrader/internal/domain/models"
	"MirrorTrader/internal/usecase"
	xhttp "MirrorTrader/pkg/http"
	xlogger "MirrorTrader/pkg/logger"

	"github.com/labstack/echo/v4"
)

// AnalyzeHandler exposes frame analysis and per-stream trade state.
type AnalyzeHandler struct {
	logger   *xlogger.Logger
	analyzer *usecase.Analyzer
	auth     echo.MiddlewareFunc
}

func NewAnalyzeHandler(logger *xlogger.Logger, analyzer *usecase.Analyzer, auth echo.MiddlewareFunc) *AnalyzeHandler {
	return &AnalyzeHandler{logger: logger, analyzer: analyzer, auth: auth}
}

func (h *AnalyzeHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api", h.auth)
	g.POST("/analyze", h.Analyze)
	g.GET("/analyze", h.StreamState)
}

// Analyze runs one vision+chat analysis pass over a submitted frame.
func (h *AnalyzeHandler) Analyze(c echo.Context) error {
	req := &models.AnalyzeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	var image []byte
	if req.ImageBase64 != "" {
		var err error
		image, err = base64.StdEncoding.DecodeString(req.ImageBase64)
		if err != nil {
			return xhttp.BadRequestResponse(c, xhttp.BadRequestError("imageBase64 is not valid base64"))
		}
	}

	// chat lines ride along with the frame so their signals are queued
	// before the vision diff runs
	for _, msg := range req.Chat {
		if msg.StreamID == "" {
			msg.StreamID = req.StreamID
		}
		h.analyzer.HandleChat(msg)
	}

	res, err := h.analyzer.Analyze(c.Request().Context(), req.StreamID, req.FrameURL, image)
	if err != nil {
		h.logger.Error("analyze usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

type streamStats struct {
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	TotalPnl float64 `json:"totalPnl"`
}

type streamStateResponse struct {
	StreamID string          `json:"streamId"`
	Open     []*models.Trade `json:"open"`
	Recent   []*models.Trade `json:"recent"`
	Stats    streamStats     `json:"stats"`
}

func aggregate(trades []*models.Trade) streamStats {
	var st streamStats
	for _, t := range trades {
		switch t.Result {
		case models.ResultWin:
			st.Wins++
		case models.ResultLoss:
			st.Losses++
		}
		if t.Pnl != nil {
			st.TotalPnl += *t.Pnl
		}
	}
	return st
}

// StreamState reports open trades and recent ledger history for a stream.
func (h *AnalyzeHandler) StreamState(c echo.Context) error {
	req := &models.StreamStateRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	open, recent, err := h.analyzer.StreamState(c.Request().Context(), req.StreamID, req.Limit)
	if err != nil {
		h.logger.Error("stream state error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, &streamStateResponse{
		StreamID: req.StreamID,
		Open:     open,
		Recent:   recent,
		Stats:    aggregate(recent),
	})
}
