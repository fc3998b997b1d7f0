package api

import (
	"net/http"

	models "MirrorTrader/internal/domain/models"
	"MirrorTrader/internal/usecase"
	xhttp "MirrorTrader/pkg/http"
	xlogger "MirrorTrader/pkg/logger"

	"github.com/labstack/echo/v4"
)

// PollHandler exposes the liveness poll trigger and quota status.
type PollHandler struct {
	logger *xlogger.Logger
	poller *usecase.Poller
	auth   echo.MiddlewareFunc
}

func NewPollHandler(logger *xlogger.Logger, poller *usecase.Poller, auth echo.MiddlewareFunc) *PollHandler {
	return &PollHandler{logger: logger, poller: poller, auth: auth}
}

func (h *PollHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api", h.auth)
	g.GET("/poll", h.Poll)
	g.POST("/poll", h.Poll)
	g.GET("/quota", h.Quota)
}

// Poll runs one cycle. GET serves the external scheduler trigger and is not
// held to the safety floor; POST with a body narrows to specific channels,
// and needs force to pass the floor.
func (h *PollHandler) Poll(c echo.Context) error {
	req := &models.PollRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	force := req.Force || c.Request().Method == http.MethodGet
	res, err := h.poller.Run(c.Request().Context(), req.Channels, force)
	if err != nil {
		h.logger.Error("poll usecase error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

// Quota reports the current budget position without spending anything.
func (h *PollHandler) Quota(c echo.Context) error {
	st, err := h.poller.QuotaStatus(c.Request().Context())
	if err != nil {
		h.logger.Error("quota status error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, st)
}
