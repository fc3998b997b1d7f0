package models

import "time"

// MonitoredChannel is one video-platform channel whose live status we track.
// Created at configuration time and never deleted, only deactivated.
type MonitoredChannel struct {
	ID              string     `json:"id" gorm:"primaryKey"`
	ExternalID      string     `json:"externalId"`
	TraderID        string     `json:"traderId"`
	Active          bool       `json:"active"`
	IsLive          bool       `json:"isLive"`
	CurrentStreamID string     `json:"currentStreamId,omitempty"`
	LastCheckedAt   *time.Time `json:"lastCheckedAt,omitempty"`
}

// LiveStatus is the outcome of one liveness determination.
type LiveStatus string

const (
	StatusLive    LiveStatus = "LIVE"
	StatusOffline LiveStatus = "OFFLINE"
	StatusUnknown LiveStatus = "UNKNOWN"
)

// VideoStatus is what a metered per-video lookup returns.
type VideoStatus struct {
	VideoID    string    `json:"videoId"`
	Live       bool      `json:"live"`
	Title      string    `json:"title,omitempty"`
	LiveChatID string    `json:"liveChatId,omitempty"`
	CheckedAt  time.Time `json:"checkedAt"`
}

// ChannelCheck is the per-channel result of one scheduler cycle.
type ChannelCheck struct {
	ChannelID  string     `json:"channelId"`
	Status     LiveStatus `json:"status"`
	StreamID   string     `json:"streamId,omitempty"`
	FromCache  bool       `json:"fromCache"`
	UnitsSpent int        `json:"unitsSpent"`
	Err        string     `json:"error,omitempty"`
}
