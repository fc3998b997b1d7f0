package video

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"MirrorTrader/internal/domain/models"
	httpkit "MirrorTrader/pkg/http"
	"MirrorTrader/pkg/logger"
)

// Client implements the LivenessAPI against the video platform. The feed
// endpoint is unmetered; the details endpoint costs quota units, so it sits
// behind a circuit breaker to stop a flapping upstream from eating budget
// on calls that will fail anyway.
type Client struct {
	apiBaseURL  string
	feedBaseURL string
	apiKey      string
	client      *httpkit.Client
	breaker     *gobreaker.CircuitBreaker
	log         *logger.Logger
}

// Config holds the video platform endpoints and credentials.
type Config struct {
	APIBaseURL  string        `yaml:"api_base_url"`
	FeedBaseURL string        `yaml:"feed_base_url"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
}

// New creates a video platform client.
func New(cfg Config, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "video-details",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
	})
	return &Client{
		apiBaseURL:  strings.TrimRight(cfg.APIBaseURL, "/"),
		feedBaseURL: strings.TrimRight(cfg.FeedBaseURL, "/"),
		apiKey:      cfg.APIKey,
		client:      httpkit.NewClient(httpkit.WithTimeout(timeout)),
		breaker:     breaker,
		log:         log,
	}
}

// feed XML shapes, Atom with the platform's video extension
type feedEntry struct {
	VideoID string `xml:"videoId"`
}

type feed struct {
	Entries []feedEntry `xml:"entry"`
}

// RecentVideos fetches the channel's unmetered upload feed and returns the
// most recent video IDs, newest first.
func (c *Client) RecentVideos(ctx context.Context, channelExternalID string) ([]string, error) {
	u := fmt.Sprintf("%s/feeds/videos.xml?channel_id=%s", c.feedBaseURL, channelExternalID)
	var raw []byte
	err := c.client.SendAndParse(ctx, &httpkit.RequestOptions{
		Method: httpkit.MethodGet,
		URL:    u,
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("channel feed: %w", err)
	}

	var f feed
	if err := xml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	ids := make([]string, 0, len(f.Entries))
	for _, e := range f.Entries {
		if e.VideoID != "" {
			ids = append(ids, e.VideoID)
		}
	}
	return ids, nil
}

// details API shapes
type videoItem struct {
	ID      string `json:"id"`
	Snippet struct {
		LiveBroadcastContent string `json:"liveBroadcastContent"`
		Title                string `json:"title"`
	} `json:"snippet"`
	LiveStreamingDetails struct {
		ActualStartTime string `json:"actualStartTime"`
		ActualEndTime   string `json:"actualEndTime"`
	} `json:"liveStreamingDetails"`
}

type videoListResponse struct {
	Items []videoItem `json:"items"`
}

// VideoDetails resolves liveness for a batch of video IDs with one metered
// call. The caller owns quota accounting; this method only reports errors.
func (c *Client) VideoDetails(ctx context.Context, videoIDs []string) ([]models.VideoStatus, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		var resp videoListResponse
		err := c.client.SendAndParse(ctx, &httpkit.RequestOptions{
			Method: httpkit.MethodGet,
			URL:    c.apiBaseURL + "/videos",
			QueryParams: map[string][]string{
				"part": {"snippet,liveStreamingDetails"},
				"id":   {strings.Join(videoIDs, ",")},
				"key":  {c.apiKey},
			},
		}, &resp)
		if err != nil {
			return nil, err
		}
		return &resp, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, fmt.Errorf("video details unavailable: %w", err)
		}
		return nil, fmt.Errorf("video details: %w", err)
	}

	resp := res.(*videoListResponse)
	byID := make(map[string]videoItem, len(resp.Items))
	for _, it := range resp.Items {
		byID[it.ID] = it
	}

	out := make([]models.VideoStatus, 0, len(videoIDs))
	for _, id := range videoIDs {
		it, ok := byID[id]
		st := models.VideoStatus{VideoID: id}
		if ok {
			st.Live = it.Snippet.LiveBroadcastContent == "live" ||
				(it.LiveStreamingDetails.ActualStartTime != "" && it.LiveStreamingDetails.ActualEndTime == "")
			st.Title = it.Snippet.Title
		}
		out = append(out, st)
	}
	return out, nil
}
