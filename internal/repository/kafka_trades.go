package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"MirrorTrader/internal/domain/models"
	"MirrorTrader/internal/domain/repository"
	pkgkafka "MirrorTrader/pkg/kafka"
)

// KafkaTradePublisher puts trade events on the feed topic, keyed by stream
// so one stream's events stay ordered within a partition.
type KafkaTradePublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaTradePublisher creates the publisher.
func NewKafkaTradePublisher(producer *pkgkafka.Producer, topic string) repository.TradePublisher {
	return &KafkaTradePublisher{producer: producer, topic: topic}
}

func (p *KafkaTradePublisher) Publish(ctx context.Context, ev *models.TradeEvent) error {
	if ev == nil || ev.Trade == nil {
		return nil
	}
	return p.producer.Publish(ctx, p.topic, []byte(ev.Trade.StreamID), ev)
}

func (p *KafkaTradePublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// DecodeTradeEvent parses one feed message back into a trade event.
func DecodeTradeEvent(data []byte) (*models.TradeEvent, error) {
	var ev models.TradeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode trade event: %w", err)
	}
	return &ev, nil
}

// LocalTradePublisher dispatches events to in-process subscribers,
// synchronously and in order. Used when no broker is configured, and in
// tests.
type LocalTradePublisher struct {
	mu   sync.RWMutex
	subs []func(context.Context, *models.TradeEvent) error
}

// NewLocalTradePublisher creates the in-process publisher.
func NewLocalTradePublisher() *LocalTradePublisher {
	return &LocalTradePublisher{}
}

// Subscribe registers a handler for every subsequent event.
func (p *LocalTradePublisher) Subscribe(fn func(context.Context, *models.TradeEvent) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, fn)
}

func (p *LocalTradePublisher) Publish(ctx context.Context, ev *models.TradeEvent) error {
	p.mu.RLock()
	subs := make([]func(context.Context, *models.TradeEvent) error, len(p.subs))
	copy(subs, p.subs)
	p.mu.RUnlock()

	for _, fn := range subs {
		if err := fn(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (p *LocalTradePublisher) Close() error { return nil }
