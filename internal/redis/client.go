package redis

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/koios/countdown-renderer/internal/config"
	"github.com/koios/countdown-renderer/internal/frame"
	"github.com/koios/countdown-renderer/pkg/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	frameChannelPrefix = "countdown:frames:"
	publishTimeout     = 2 * time.Second
)

// FrameChannel returns the pub/sub channel frames of a session go to
func FrameChannel(sessionID string) string {
	return frameChannelPrefix + sessionID
}

// Client wraps the Redis client for frame publishing and update streams
type Client struct {
	client *redis.Client
	config config.RedisConfig
	logger *zap.Logger
}

// NewClient connects to Redis and prepares the update stream consumer group
func NewClient(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})

	// Test the connection
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewClientFromRedis(ctx, rdb, cfg, logger), nil
}

// NewClientFromRedis wraps an existing connection
func NewClientFromRedis(ctx context.Context, rdb *redis.Client, cfg config.RedisConfig, logger *zap.Logger) *Client {
	// Generate consumer name if not provided
	if cfg.ConsumerName == "" {
		hostname, _ := os.Hostname()
		if hostname == "" {
			hostname = "unknown"
		}
		cfg.ConsumerName = fmt.Sprintf("%s-%d", hostname, time.Now().UnixNano())
	}

	client := &Client{
		client: rdb,
		config: cfg,
		logger: logger,
	}

	logger.Info("Connected to Redis",
		zap.String("addr", cfg.Addr),
		zap.String("update_stream", cfg.UpdateStream),
		zap.String("consumer_group", cfg.ConsumerGroup),
		zap.String("consumer_name", cfg.ConsumerName))

	if cfg.UpdateStream != "" {
		if err := client.initializeConsumerGroup(ctx); err != nil {
			logger.Warn("Failed to initialize consumer group", zap.Error(err))
		}
	}

	return client
}

// Redis returns the underlying connection, shared with the session mirror
func (c *Client) Redis() *redis.Client {
	return c.client
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// PublishFrame publishes a frame event to the session's channel
func (c *Client) PublishFrame(ctx context.Context, event *models.FrameEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal frame event: %w", err)
	}

	channel := FrameChannel(event.SessionID)

	if err := c.client.Publish(ctx, channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish to Redis channel %s: %w", channel, err)
	}

	c.logger.Debug("Published frame event",
		zap.String("channel", channel),
		zap.String("session_id", event.SessionID),
		zap.Int("size_bytes", event.SizeBytes))

	return nil
}

// OnFrame implements frame.Listener. Publish errors are logged and dropped.
func (c *Client) OnFrame(f *frame.Frame) {
	event := &models.FrameEvent{
		Type:       "frame",
		SessionID:  f.SessionID,
		RenderedAt: f.RenderedAt,
		SizeBytes:  len(f.PNG),
		ImageB64:   base64.StdEncoding.EncodeToString(f.PNG),
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := c.PublishFrame(ctx, event); err != nil {
		c.logger.Warn("Failed to publish frame event",
			zap.String("session_id", f.SessionID),
			zap.Error(err))
	}
}

// initializeConsumerGroup creates the consumer group for the update stream
func (c *Client) initializeConsumerGroup(ctx context.Context) error {
	// "$" skips updates sent before the group existed
	err := c.client.XGroupCreateMkStream(ctx, c.config.UpdateStream, c.config.ConsumerGroup, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Consumer group initialized",
		zap.String("stream", c.config.UpdateStream),
		zap.String("group", c.config.ConsumerGroup))

	return nil
}

// ReadUpdates reads config update messages using the consumer group
func (c *Client) ReadUpdates(ctx context.Context, count int64, block time.Duration) ([]redis.XStream, error) {
	// ">" means only new messages not yet delivered to other consumers
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.ConsumerGroup,
		Consumer: c.config.ConsumerName,
		Streams:  []string{c.config.UpdateStream, ">"},
		Count:    count,
		Block:    block,
	}).Result()

	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	return streams, nil
}

// AcknowledgeMessage acknowledges a message from the update stream
func (c *Client) AcknowledgeMessage(ctx context.Context, messageID string) error {
	err := c.client.XAck(ctx, c.config.UpdateStream, c.config.ConsumerGroup, messageID).Err()
	if err != nil {
		return fmt.Errorf("failed to acknowledge message %s: %w", messageID, err)
	}

	return nil
}

// IsHealthy checks if Redis connection is healthy
func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.client.Ping(ctx).Err() == nil
}
