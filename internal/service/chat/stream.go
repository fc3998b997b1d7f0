package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"MirrorTrader/internal/domain/models"
	"MirrorTrader/pkg/logger"
)

// Stream reads live-chat messages for one stream over a WebSocket relay.
type Stream struct {
	websocketURL   string
	apiKey         string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	conn      *websocket.Conn
	streamID  string
	connected bool
}

// Config holds the chat relay settings.
type Config struct {
	WebsocketURL   string        `yaml:"websocket_url"`
	APIKey         string        `yaml:"api_key"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

// New creates a chat stream client.
func New(cfg Config, log *logger.Logger) *Stream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Stream{
		websocketURL:   cfg.WebsocketURL,
		apiKey:         cfg.APIKey,
		reconnectDelay: cfg.ReconnectDelay,
		pingInterval:   cfg.PingInterval,
		log:            log,
	}
}

// Connect dials the relay and subscribes to one stream's chat.
func (s *Stream) Connect(ctx context.Context, streamID string) error {
	u := fmt.Sprintf("%s?stream=%s&token=%s", s.websocketURL, streamID, s.apiKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("chat connect: %w", err)
	}
	s.conn = conn
	s.streamID = streamID
	s.connected = true
	s.log.Info("chat stream connected", logger.String("stream", streamID))
	return nil
}

type wireMessage struct {
	Author  string `json:"author"`
	Role    string `json:"role"`
	Text    string `json:"text"`
	SentAt  int64  `json:"sentAt"` // ms
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Read streams chat messages and errors until ctx is cancelled or the
// connection drops. Backpressure drops messages rather than stalling the
// socket; chat is advisory evidence, not a durable feed.
func (s *Stream) Read(ctx context.Context) (<-chan models.ChatMessage, <-chan error) {
	msgs := make(chan models.ChatMessage, 256)
	errs := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.conn != nil {
					_ = s.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	go func() {
		defer close(msgs)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if s.conn == nil {
					errs <- fmt.Errorf("chat conn nil")
					return
				}
				_, b, err := s.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("chat read: %w", err)
					return
				}
				var m wireMessage
				if err := json.Unmarshal(b, &m); err != nil {
					continue
				}
				if m.Type != "" && m.Type != "chat" {
					continue
				}
				msg := models.ChatMessage{
					StreamID: s.streamID,
					Author:   m.Author,
					Role:     mapRole(m.Role),
					Text:     m.Text,
					SentAt:   time.UnixMilli(m.SentAt),
				}
				select {
				case msgs <- msg:
				default:
					// drop on backpressure
				}
			}
		}
	}()

	return msgs, errs
}

func mapRole(role string) models.SourceRole {
	switch role {
	case "owner", "OWNER", "broadcaster":
		return models.RoleOwner
	case "moderator", "MODERATOR", "mod":
		return models.RoleModerator
	default:
		return models.RoleViewer
	}
}

// Reconnect closes and redials the same stream.
func (s *Stream) Reconnect(ctx context.Context) error {
	_ = s.Close()
	time.Sleep(s.reconnectDelay)
	return s.Connect(ctx, s.streamID)
}

// Close tears the connection down.
func (s *Stream) Close() error {
	s.connected = false
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// IsConnected reports connection status.
func (s *Stream) IsConnected() bool { return s.connected }
