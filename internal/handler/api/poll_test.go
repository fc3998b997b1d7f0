package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MirrorTrader/internal/domain/models"
	"MirrorTrader/internal/quota"
	internalrepo "MirrorTrader/internal/repository"
	"MirrorTrader/internal/scheduler"
	"MirrorTrader/internal/usecase"
	"MirrorTrader/pkg/cache"
	"MirrorTrader/pkg/logger"
)

type stubLivenessAPI struct{}

func (stubLivenessAPI) RecentVideos(_ context.Context, _ string) ([]string, error) {
	return nil, nil
}

func (stubLivenessAPI) VideoDetails(_ context.Context, _ []string) ([]models.VideoStatus, error) {
	return nil, nil
}

type nopMetrics struct{}

func (nopMetrics) RecordQuotaUnits(_, _ int64)   {}
func (nopMetrics) RecordLivenessCheck(string)    {}
func (nopMetrics) RecordTradeOpened(string)      {}
func (nopMetrics) RecordTradeClosed(_, _ string) {}
func (nopMetrics) RecordOrder(string)            {}
func (nopMetrics) RecordError(string)            {}
func (nopMetrics) RecordLatency(string, float64) {}

func passThroughAuth(next echo.HandlerFunc) echo.HandlerFunc { return next }

// newPollServer wires a handler over a real poller whose remaining budget
// already sits under the safety floor.
func newPollServer(t *testing.T) *echo.Echo {
	t.Helper()
	ledger, err := quota.New(internalrepo.NewMemoryQuotaCounter(), 1000, "UTC")
	require.NoError(t, err)
	require.NoError(t, ledger.RecordUsage(context.Background(), quota.OpSearch, 6)) // 600 used, 400 left

	hours, err := scheduler.NewMarketHours(false, "", "", "", false)
	require.NoError(t, err)
	sched := scheduler.New(ledger, stubLivenessAPI{}, internalrepo.NewMemoryChannelStore(nil),
		cache.NewMemoryCache(), hours, nopMetrics{}, logger.Nop())
	poller := usecase.NewPoller(sched, ledger, nopMetrics{}, logger.Nop(), 500)

	e := echo.New()
	NewPollHandler(logger.Nop(), poller, passThroughAuth).RegisterRoutes(e)
	return e
}

func TestPollSafetyFloorGatesPostOnly(t *testing.T) {
	e := newPollServer(t)

	// GET is the external scheduler trigger and runs even under the floor
	req := httptest.NewRequest(http.MethodGet, "/api/poll", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// a plain POST is refused once the budget is under the floor
	req = httptest.NewRequest(http.MethodPost, "/api/poll", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// force overrides the floor
	req = httptest.NewRequest(http.MethodPost, "/api/poll", strings.NewReader(`{"force":true}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
