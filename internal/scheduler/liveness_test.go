package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MirrorTrader/internal/domain/models"
	"MirrorTrader/internal/quota"
	"MirrorTrader/internal/repository"
	"MirrorTrader/pkg/cache"
	"MirrorTrader/pkg/logger"
)

type fakeAPI struct {
	feed      map[string][]string
	live      map[string]bool
	feedErr   error
	lookupErr error
	lookups   int
}

func (f *fakeAPI) RecentVideos(_ context.Context, channelID string) ([]string, error) {
	if f.feedErr != nil {
		return nil, f.feedErr
	}
	return f.feed[channelID], nil
}

func (f *fakeAPI) VideoDetails(_ context.Context, ids []string) ([]models.VideoStatus, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	f.lookups++
	out := make([]models.VideoStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.VideoStatus{VideoID: id, Live: f.live[id]})
	}
	return out, nil
}

type fakeChannels struct {
	chs []*models.MonitoredChannel
}

func (f *fakeChannels) Channels(_ context.Context) ([]*models.MonitoredChannel, error) {
	return f.chs, nil
}

func (f *fakeChannels) SaveChannel(_ context.Context, _ *models.MonitoredChannel) error {
	return nil
}

type nopMetrics struct{}

func (nopMetrics) RecordQuotaUnits(_, _ int64)        {}
func (nopMetrics) RecordLivenessCheck(string)         {}
func (nopMetrics) RecordTradeOpened(string)           {}
func (nopMetrics) RecordTradeClosed(_, _ string)      {}
func (nopMetrics) RecordOrder(string)                 {}
func (nopMetrics) RecordError(string)                 {}
func (nopMetrics) RecordLatency(string, float64)      {}

func newTestScheduler(t *testing.T, api *fakeAPI, chs *fakeChannels, limit int64, hours MarketHours, now time.Time) (*Scheduler, *quota.Ledger) {
	t.Helper()
	ledger, err := quota.New(repository.NewMemoryQuotaCounter(), limit, "UTC")
	require.NoError(t, err)
	ledger.WithClock(func() time.Time { return now })
	s := New(ledger, api, chs, cache.NewMemoryCache(), hours, nopMetrics{}, logger.Nop(),
		WithPacing(0),
		WithClock(func() time.Time { return now }),
	)
	return s, ledger
}

func channel(id, ext string) *models.MonitoredChannel {
	return &models.MonitoredChannel{ID: id, ExternalID: ext, Active: true}
}

func TestCheckChannelUsesCheapestMeteredLookup(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		feed: map[string][]string{"ext-1": {"vid-1", "vid-2"}},
		live: map[string]bool{"vid-1": true},
	}
	chs := &fakeChannels{chs: []*models.MonitoredChannel{channel("ch-1", "ext-1")}}
	s, ledger := newTestScheduler(t, api, chs, 10000, MarketHours{}, now)

	check := s.CheckChannel(context.Background(), chs.chs[0])
	assert.Equal(t, models.StatusLive, check.Status)
	assert.Equal(t, "vid-1", check.StreamID)
	assert.Equal(t, 1, check.UnitsSpent)

	st, err := ledger.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Used)
}

func TestCheckChannelCacheHitCostsNothing(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		feed: map[string][]string{"ext-1": {"vid-1"}},
		live: map[string]bool{"vid-1": true},
	}
	chs := &fakeChannels{chs: []*models.MonitoredChannel{channel("ch-1", "ext-1")}}
	s, ledger := newTestScheduler(t, api, chs, 10000, MarketHours{}, now)

	ch := chs.chs[0]
	first := s.CheckChannel(context.Background(), ch)
	require.Equal(t, models.StatusLive, first.Status)
	require.Equal(t, 1, api.lookups)

	second := s.CheckChannel(context.Background(), ch)
	assert.True(t, second.FromCache)
	assert.Equal(t, 0, second.UnitsSpent)
	assert.Equal(t, 1, api.lookups, "no second metered lookup")

	st, err := ledger.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Used)
}

func TestCheckChannelExhaustedQuotaReturnsUnknown(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		feed: map[string][]string{"ext-1": {"vid-1"}},
		live: map[string]bool{"vid-1": true},
	}
	chs := &fakeChannels{chs: []*models.MonitoredChannel{channel("ch-1", "ext-1")}}
	s, ledger := newTestScheduler(t, api, chs, 10, MarketHours{}, now)

	require.NoError(t, ledger.RecordUsage(context.Background(), quota.OpVideosList, 10))

	check := s.CheckChannel(context.Background(), chs.chs[0])
	assert.Equal(t, models.StatusUnknown, check.Status)
	assert.Equal(t, 0, check.UnitsSpent)
	assert.Equal(t, 0, api.lookups)
}

func TestCheckChannelFailedLookupConsumesNoQuota(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		feed:      map[string][]string{"ext-1": {"vid-1"}},
		lookupErr: errors.New("upstream 503"),
	}
	chs := &fakeChannels{chs: []*models.MonitoredChannel{channel("ch-1", "ext-1")}}
	s, ledger := newTestScheduler(t, api, chs, 10000, MarketHours{}, now)

	check := s.CheckChannel(context.Background(), chs.chs[0])
	assert.Equal(t, models.StatusUnknown, check.Status)
	assert.NotEmpty(t, check.Err)

	st, err := ledger.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Used)
}

func TestRunCycleFailureDoesNotAbortBatch(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	api := &fakeAPI{
		feed: map[string][]string{"ext-2": {"vid-9"}},
		live: map[string]bool{"vid-9": true},
	}
	// ext-1 has no feed entries; ext-2 resolves live
	chs := &fakeChannels{chs: []*models.MonitoredChannel{
		channel("ch-1", "ext-1"),
		channel("ch-2", "ext-2"),
	}}
	s, _ := newTestScheduler(t, api, chs, 10000, MarketHours{}, now)

	res, err := s.RunCycle(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Checks, 2)
	assert.Equal(t, models.StatusLive, res.Checks[1].Status)
}

func TestRunCycleSubsetFilter(t *testing.T) {
	now := time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	api := &fakeAPI{feed: map[string][]string{}, live: map[string]bool{}}
	chs := &fakeChannels{chs: []*models.MonitoredChannel{
		channel("ch-1", "ext-1"),
		channel("ch-2", "ext-2"),
		channel("ch-3", "ext-3"),
	}}
	s, _ := newTestScheduler(t, api, chs, 10000, MarketHours{}, now)

	res, err := s.RunCycle(context.Background(), []string{"ch-2"})
	require.NoError(t, err)
	require.Len(t, res.Checks, 1)
	assert.Equal(t, "ch-2", res.Checks[0].ChannelID)
}

func TestRecommendAggressiveWithFullBudget(t *testing.T) {
	// 5 channels, 10000 units, 9:00-16:00 window, nothing used yet:
	// 2000 affordable checks per channel dwarf 420 window minutes.
	hours, err := NewMarketHours(true, "09:00", "16:00", "UTC", true)
	require.NoError(t, err)

	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC) // a Monday
	minutes := hours.RemainingMinutes(now, now.Add(15*time.Hour))
	require.Equal(t, 420, minutes)

	rec := recommend(10000, 5, 1, minutes)
	assert.Equal(t, StrategyAggressive, rec.Strategy)
	assert.LessOrEqual(t, rec.Interval, time.Minute)
}

func TestRecommendDegradesWithBudget(t *testing.T) {
	rec := recommend(600, 5, 1, 420)
	assert.Equal(t, StrategyNormal, rec.Strategy)

	rec = recommend(150, 5, 1, 420)
	assert.Equal(t, StrategyConservative, rec.Strategy)

	rec = recommend(10, 5, 1, 420)
	assert.Equal(t, StrategyMinimal, rec.Strategy)

	rec = recommend(0, 5, 1, 420)
	assert.Equal(t, StrategyMinimal, rec.Strategy)
	assert.Equal(t, time.Hour, rec.Interval)
}

func TestRecommendOutsideWindowFallsBack(t *testing.T) {
	hours, err := NewMarketHours(true, "09:00", "16:00", "UTC", true)
	require.NoError(t, err)

	evening := time.Date(2025, 6, 2, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, hours.RemainingMinutes(evening, evening.Add(4*time.Hour)))

	saturday := time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, 0, hours.RemainingMinutes(saturday, saturday.Add(14*time.Hour)))

	rec := recommend(10000, 5, 1, 0)
	assert.Equal(t, StrategyMinimal, rec.Strategy)
}
