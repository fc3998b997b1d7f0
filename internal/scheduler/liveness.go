package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"MirrorTrader/internal/domain/models"
	"MirrorTrader/internal/domain/repository"
	"MirrorTrader/internal/quota"
	"MirrorTrader/pkg/cache"
	"MirrorTrader/pkg/logger"
)

// CycleResult aggregates one poll cycle across all monitored channels.
type CycleResult struct {
	Checks      []models.ChannelCheck `json:"checks"`
	UnitsSpent  int                   `json:"unitsSpent"`
	Quota       quota.Status          `json:"quota"`
	Recommended Recommendation        `json:"recommended"`
	StartedAt   time.Time             `json:"startedAt"`
	FinishedAt  time.Time             `json:"finishedAt"`
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithPacing sets the delay between channels inside one cycle. The pause is
// deliberate serialization: the upstream API rate-limits bursts.
func WithPacing(d time.Duration) Option {
	return func(s *Scheduler) { s.pacing = d }
}

// WithCacheTTL sets how long a liveness cache entry stays fresh.
func WithCacheTTL(d time.Duration) Option {
	return func(s *Scheduler) { s.cacheTTL = d }
}

// WithMaxCandidates caps how many feed videos one metered lookup covers.
func WithMaxCandidates(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxCandidates = n
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler decides per channel whether and how to check live status while
// minimizing quota spend: cache before the free feed, the free feed before
// the metered lookup, nothing at all when the budget is gone.
type Scheduler struct {
	ledger   *quota.Ledger
	api      repository.LivenessAPI
	channels repository.ChannelStore
	cache    cache.Service
	hours    MarketHours
	metrics  repository.Metrics
	log      *logger.Logger

	pacing        time.Duration
	cacheTTL      time.Duration
	maxCandidates int
	now           func() time.Time
}

// New creates a liveness scheduler.
func New(
	ledger *quota.Ledger,
	api repository.LivenessAPI,
	channels repository.ChannelStore,
	c cache.Service,
	hours MarketHours,
	metrics repository.Metrics,
	log *logger.Logger,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		ledger:        ledger,
		api:           api,
		channels:      channels,
		cache:         c,
		hours:         hours,
		metrics:       metrics,
		log:           log,
		pacing:        500 * time.Millisecond,
		cacheTTL:      90 * time.Second,
		maxCandidates: 3,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type liveEntry struct {
	Live      bool      `json:"live"`
	CheckedAt time.Time `json:"checkedAt"`
}

func cacheKey(videoID string) string { return cache.GenerateKey("live", videoID) }

func (s *Scheduler) cachedStatus(ctx context.Context, videoID string) (liveEntry, bool) {
	var raw string
	if err := s.cache.Get(ctx, cacheKey(videoID), &raw); err != nil {
		return liveEntry{}, false
	}
	var e liveEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return liveEntry{}, false
	}
	return e, true
}

func (s *Scheduler) storeStatus(ctx context.Context, videoID string, live bool) {
	b, err := json.Marshal(liveEntry{Live: live, CheckedAt: s.now()})
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, cacheKey(videoID), string(b), s.cacheTTL); err != nil {
		s.log.Warn("liveness cache set failed", logger.String("video", videoID), logger.Error(err))
	}
}

// RunCycle checks every active monitored channel sequentially. A nil or
// empty subset means all channels. Per-channel failures are reported in the
// result, never aborting the batch; cancelling ctx abandons the remainder
// of the cycle, which is safe because per-channel updates are idempotent.
func (s *Scheduler) RunCycle(ctx context.Context, subset []string) (*CycleResult, error) {
	all, err := s.channels.Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("load channels: %w", err)
	}

	wanted := make(map[string]bool, len(subset))
	for _, id := range subset {
		wanted[id] = true
	}

	res := &CycleResult{StartedAt: s.now()}
	active := 0
	for i, ch := range all {
		if !ch.Active {
			continue
		}
		if len(wanted) > 0 && !wanted[ch.ID] {
			continue
		}
		active++
		if i > 0 && s.pacing > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(s.pacing):
			}
		}
		check := s.CheckChannel(ctx, ch)
		res.Checks = append(res.Checks, check)
		res.UnitsSpent += check.UnitsSpent
		s.metrics.RecordLivenessCheck(string(check.Status))
	}

	st, err := s.ledger.Status(ctx)
	if err != nil {
		return res, fmt.Errorf("quota status: %w", err)
	}
	res.Quota = st
	s.metrics.RecordQuotaUnits(st.Used, st.Remaining)

	minutesLeft := s.hours.RemainingMinutes(s.now(), st.ResetAt)
	res.Recommended = recommend(st.Remaining, countActive(all), quota.CheapestCost(), minutesLeft)
	res.FinishedAt = s.now()

	s.log.Info("poll cycle complete",
		logger.Int("channels", active),
		logger.Int("units_spent", res.UnitsSpent),
		logger.Int64("quota_used", st.Used),
		logger.String("strategy", string(res.Recommended.Strategy)),
	)
	return res, nil
}

// CheckChannel resolves one channel's live status at the lowest possible
// cost and persists the outcome on the channel record.
func (s *Scheduler) CheckChannel(ctx context.Context, ch *models.MonitoredChannel) models.ChannelCheck {
	check := models.ChannelCheck{ChannelID: ch.ID, Status: models.StatusUnknown}

	// Zero-cost path: a fresh cache entry for the stream we already know.
	if ch.CurrentStreamID != "" {
		if e, ok := s.cachedStatus(ctx, ch.CurrentStreamID); ok && e.Live {
			check.Status = models.StatusLive
			check.StreamID = ch.CurrentStreamID
			check.FromCache = true
			s.persist(ctx, ch, check)
			return check
		}
	}

	// Free path: the channel's unmetered content feed.
	ids, err := s.api.RecentVideos(ctx, ch.ExternalID)
	if err != nil {
		// Upstream failure: report per-channel, leave cache untouched,
		// consume nothing.
		check.Err = err.Error()
		s.metrics.RecordError("liveness_feed")
		s.log.Warn("feed fetch failed", logger.String("channel", ch.ID), logger.Error(err))
		return check
	}
	if len(ids) > s.maxCandidates {
		ids = ids[:s.maxCandidates]
	}

	unknown := ids[:0:0]
	for _, id := range ids {
		e, ok := s.cachedStatus(ctx, id)
		if !ok {
			unknown = append(unknown, id)
			continue
		}
		if e.Live {
			check.Status = models.StatusLive
			check.StreamID = id
			check.FromCache = true
			s.persist(ctx, ch, check)
			return check
		}
	}
	if len(unknown) == 0 {
		check.Status = models.StatusOffline
		s.persist(ctx, ch, check)
		return check
	}

	// Metered path, only when affordable.
	ok, err := s.ledger.HasCapacity(ctx, quota.OpVideosList, 1)
	if err != nil {
		check.Err = err.Error()
		return check
	}
	if !ok {
		check.Err = "quota exhausted"
		s.metrics.RecordError("quota_exhausted")
		return check
	}

	statuses, err := s.api.VideoDetails(ctx, unknown)
	if err != nil {
		// Failed calls cost nothing and leave the cache alone.
		check.Err = err.Error()
		s.metrics.RecordError("liveness_lookup")
		s.log.Warn("video lookup failed", logger.String("channel", ch.ID), logger.Error(err))
		return check
	}
	if err := s.ledger.RecordUsage(ctx, quota.OpVideosList, 1); err != nil {
		s.log.Warn("record usage failed", logger.Error(err))
	}
	check.UnitsSpent = int(quota.Cost(quota.OpVideosList))

	check.Status = models.StatusOffline
	for _, vs := range statuses {
		s.storeStatus(ctx, vs.VideoID, vs.Live)
		if vs.Live {
			check.Status = models.StatusLive
			check.StreamID = vs.VideoID
		}
	}
	s.persist(ctx, ch, check)
	return check
}

func (s *Scheduler) persist(ctx context.Context, ch *models.MonitoredChannel, check models.ChannelCheck) {
	now := s.now()
	ch.IsLive = check.Status == models.StatusLive
	if check.StreamID != "" {
		ch.CurrentStreamID = check.StreamID
	}
	if !ch.IsLive {
		ch.CurrentStreamID = ""
	}
	ch.LastCheckedAt = &now
	if err := s.channels.SaveChannel(ctx, ch); err != nil {
		s.log.Warn("save channel failed", logger.String("channel", ch.ID), logger.Error(err))
	}
}

func countActive(chs []*models.MonitoredChannel) int {
	n := 0
	for _, ch := range chs {
		if ch.Active {
			n++
		}
	}
	return n
}
