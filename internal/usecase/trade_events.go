package usecase

import (
	"context"
	"fmt"
	"time"

	"MirrorTrader/internal/domain/models"
	"MirrorTrader/internal/executor"
	"MirrorTrader/internal/repository"
	"MirrorTrader/pkg/logger"
)

// TradeEventHandler consumes the trade feed and drives the executor. One
// instance serves both transports: Handle for Kafka, OnEvent for the
// in-process publisher.
type TradeEventHandler struct {
	topic string
	exec  *executor.Executor
	log   *logger.Logger
}

// NewTradeEventHandler creates the feed handler for a topic.
func NewTradeEventHandler(topic string, exec *executor.Executor, log *logger.Logger) *TradeEventHandler {
	return &TradeEventHandler{topic: topic, exec: exec, log: log}
}

// Topic implements the consumer's MessageHandler contract.
func (h *TradeEventHandler) Topic() string { return h.topic }

// Handle decodes one feed message and executes it. Decode failures are
// permanent and must not be retried.
func (h *TradeEventHandler) Handle(ctx context.Context, data []byte) error {
	ev, err := repository.DecodeTradeEvent(data)
	if err != nil {
		h.log.Error("bad trade event payload", logger.Error(err))
		return nil
	}
	return h.OnEvent(ctx, ev)
}

// OnEvent routes one event through the executor.
func (h *TradeEventHandler) OnEvent(ctx context.Context, ev *models.TradeEvent) error {
	start := time.Now()
	res, err := h.exec.HandleEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("execute trade event: %w", err)
	}
	switch res.Action {
	case executor.ActionEntry, executor.ActionExit:
		h.log.Info("order executed",
			logger.String("action", string(res.Action)),
			logger.String("contract", res.Contract),
			logger.Int("quantity", res.Quantity),
			logger.Duration("took", time.Since(start)),
		)
	case executor.ActionRejected:
		h.log.Info("execution rejected", logger.String("rule", res.Rejection.Rule))
	}
	return nil
}
