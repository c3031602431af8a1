package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/koios/countdown-renderer/internal/handlers"
	"github.com/koios/countdown-renderer/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Consumer applies session config updates read from the update stream
type Consumer struct {
	client     *Client
	handler    *handlers.EventHandler
	logger     *zap.Logger
	block      time.Duration
	retryDelay time.Duration
}

// NewConsumer creates a new Redis consumer
func NewConsumer(client *Client, handler *handlers.EventHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		client:     client,
		handler:    handler,
		logger:     logger,
		block:      5 * time.Second,
		retryDelay: 5 * time.Second,
	}
}

// Run consumes config updates until ctx is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Starting Redis consumer for config updates",
		zap.String("stream", c.client.config.UpdateStream))

	for {
		if err := c.consumeMessages(ctx); err != nil {
			c.logger.Error("Error consuming messages, will retry",
				zap.Error(err),
				zap.Duration("retry_delay", c.retryDelay))

			select {
			case <-ctx.Done():
			case <-time.After(c.retryDelay):
				continue
			}
		}

		c.logger.Info("Redis consumer stopped")
		return nil
	}
}

// consumeMessages reads until ctx ends or the connection goes bad
func (c *Consumer) consumeMessages(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		streams, err := c.client.ReadUpdates(ctx, 10, c.block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !c.client.IsHealthy(ctx) {
				return fmt.Errorf("Redis connection unhealthy: %w", err)
			}
			c.logger.Error("Error reading from stream", zap.Error(err))

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				c.handleStreamMessage(ctx, message)
			}
		}
	}
}

// handleStreamMessage applies a single update. Every message is acknowledged,
// including malformed ones, so bad data is not redelivered.
func (c *Consumer) handleStreamMessage(ctx context.Context, msg redis.XMessage) {
	c.logger.Debug("Received config update from stream",
		zap.String("message_id", msg.ID),
		zap.Int("fields_count", len(msg.Values)))

	defer func() {
		// Acknowledge even when shutdown cancelled ctx mid-message
		ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := c.client.AcknowledgeMessage(ackCtx, msg.ID); err != nil {
			c.logger.Error("Failed to acknowledge message",
				zap.Error(err),
				zap.String("message_id", msg.ID))
		}
	}()

	payload, ok := msg.Values["payload"].(string)
	if !ok {
		c.logger.Error("Failed to extract payload from stream message",
			zap.String("message_id", msg.ID))
		return
	}

	var update models.ConfigUpdate
	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		c.logger.Error("Failed to unmarshal config update",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.String("payload", payload))
		return
	}

	if _, err := c.handler.Handle(ctx, &update); err != nil {
		c.logger.Warn("Rejected config update",
			zap.Error(err),
			zap.String("message_id", msg.ID),
			zap.String("session_id", update.SessionID))
		return
	}

	c.logger.Debug("Config update applied and acknowledged",
		zap.String("message_id", msg.ID),
		zap.String("session_id", update.SessionID))
}
