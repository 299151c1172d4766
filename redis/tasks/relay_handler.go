// Package tasks provides the handlers processed by the relay task queue.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/formationai/marketplace/relay"
)

// Poster performs one delivery attempt to the relay target.
type Poster interface {
	Post(ctx context.Context, envelope relay.Envelope) error
}

// RelayHandler processes relay:forward tasks. Delivery errors are returned so
// asynq retries with backoff; a malformed payload is dropped since redelivery
// can never fix it.
type RelayHandler struct {
	poster Poster
	logger *zap.Logger
}

// NewRelayHandler creates a RelayHandler.
func NewRelayHandler(poster Poster, logger *zap.Logger) *RelayHandler {
	return &RelayHandler{poster: poster, logger: logger}
}

// ProcessTask implements asynq.Handler.
func (h *RelayHandler) ProcessTask(ctx context.Context, task *asynq.Task) error {
	var envelope relay.Envelope
	if err := json.Unmarshal(task.Payload(), &envelope); err != nil {
		h.logger.Error("dropping malformed relay task", zap.Error(err))
		return fmt.Errorf("failed to unmarshal envelope: %v: %w", err, asynq.SkipRetry)
	}

	if err := h.poster.Post(ctx, envelope); err != nil {
		h.logger.Warn("relay delivery attempt failed",
			zap.String("event_type", envelope.EventType),
			zap.Error(err),
		)
		return err
	}

	h.logger.Info("relay delivery succeeded",
		zap.String("event_type", envelope.EventType),
	)

	return nil
}
