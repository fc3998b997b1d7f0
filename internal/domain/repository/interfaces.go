package repository

import (
	"context"

	"MirrorTrader/internal/domain/models"
)

// QuotaCounter is the narrow atomic-counter contract behind the quota
// ledger. Keys are calendar days; Add must be an atomic increment-and-return
// so concurrent pollers cannot overrun the budget between read and write.
type QuotaCounter interface {
	Add(ctx context.Context, day string, units int64) (int64, error)
	Get(ctx context.Context, day string) (int64, error)
}

// LivenessAPI is the upstream video-platform surface the scheduler calls.
// RecentVideos is the free, unmetered feed; VideoDetails is metered.
type LivenessAPI interface {
	RecentVideos(ctx context.Context, channelExternalID string) ([]string, error)
	VideoDetails(ctx context.Context, videoIDs []string) ([]models.VideoStatus, error)
}

// ChannelStore persists monitored channel configuration and state.
type ChannelStore interface {
	Channels(ctx context.Context) ([]*models.MonitoredChannel, error)
	SaveChannel(ctx context.Context, ch *models.MonitoredChannel) error
}

// PolicyStore loads bot risk configuration.
type PolicyStore interface {
	LoadPolicy(ctx context.Context, botID string) (*models.BotRiskPolicy, error)
	LoadCopySettings(ctx context.Context, botID string) ([]models.TraderCopySettings, error)
}

// TradeStore is the durable trade ledger.
type TradeStore interface {
	Save(ctx context.Context, t *models.Trade) error
	Load(ctx context.Context, streamID string, limit int) ([]*models.Trade, error)
	Health(ctx context.Context) error
	Close() error
}

// TradePublisher fans trade events out to executors.
type TradePublisher interface {
	Publish(ctx context.Context, ev *models.TradeEvent) error
	Close() error
}

// VisionDetector analyzes a platform screenshot into position observations.
// Implementations must degrade to an empty result when unconfigured.
type VisionDetector interface {
	Analyze(ctx context.Context, streamID, frameURL string, imageData []byte) (*models.VisionResult, error)
}

// VerbalDetector extracts a trade signal from one chat/speech line, if any.
// Kept behind an interface so the regex implementation can be swapped for a
// model-based classifier without touching the correlator.
type VerbalDetector interface {
	Parse(msg models.ChatMessage) (*models.VerbalSignal, bool)
}

// ChatStream reads live-chat messages for a stream.
type ChatStream interface {
	Connect(ctx context.Context, streamID string) error
	Read(ctx context.Context) (<-chan models.ChatMessage, <-chan error)
	Close() error
}

// OrderSide is the broker-facing side of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderReceipt is the broker's acknowledgement of a filled market order.
type OrderReceipt struct {
	OrderID  string
	Contract string
	Side     OrderSide
	Quantity int
}

// Broker places orders on the brokerage account.
type Broker interface {
	PlaceMarketOrder(ctx context.Context, contract string, side OrderSide, quantity int) (*OrderReceipt, error)
}

// Metrics is the domain-facing observability contract.
type Metrics interface {
	RecordQuotaUnits(used, remaining int64)
	RecordLivenessCheck(outcome string)
	RecordTradeOpened(symbol string)
	RecordTradeClosed(symbol, result string)
	RecordOrder(result string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
}
