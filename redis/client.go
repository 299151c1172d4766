// Package redis wraps the asynq task queue used for relay deliveries.
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"

	"github.com/formationai/marketplace/redis/config"
	"github.com/formationai/marketplace/redis/tasks"
	"github.com/formationai/marketplace/relay"
)

// Client wraps asynq client functionality.
type Client struct {
	client *asynq.Client
	cfg    *config.RedisConfig
	mu     sync.RWMutex
}

// NewClient creates a new queue client with the provided configuration.
func NewClient(cfg *config.RedisConfig) (*Client, error) {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	client := asynq.NewClient(redisOpt)

	if err := testConnection(client); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client, cfg: cfg}, nil
}

// EnqueueTask enqueues a task. Options such as asynq.MaxRetry, asynq.Queue,
// asynq.Timeout and asynq.Retention may be passed through.
func (c *Client) EnqueueTask(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if _, err := c.client.EnqueueContext(ctx, task, opts...); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	return nil
}

// Close closes the queue client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	return nil
}

// Ping checks Redis connectivity over a direct connection. Used by the
// health endpoint.
func Ping(ctx context.Context, cfg *config.RedisConfig) error {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.GetRedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	defer rdb.Close()

	return rdb.Ping(ctx).Err()
}

func testConnection(client *asynq.Client) error {
	task := asynq.NewTask(tasks.TypeHealthCheck, nil)
	if _, err := client.EnqueueContext(context.Background(), task, asynq.Queue(tasks.QueueDefault)); err != nil {
		return err
	}
	return nil
}

// Forwarder is the relay.Forwarder backed by the task queue. Each envelope
// becomes one durable task; asynq retries failed deliveries with exponential
// backoff, which is what turns the old fire-and-forget POST into
// at-least-once delivery.
type Forwarder struct {
	client *Client
}

// NewForwarder creates a queue-backed Forwarder.
func NewForwarder(client *Client) *Forwarder {
	return &Forwarder{client: client}
}

var _ relay.Forwarder = (*Forwarder)(nil)

// Forward enqueues the envelope for delivery.
func (f *Forwarder) Forward(ctx context.Context, envelope relay.Envelope) error {
	task, err := tasks.CreateRelayForwardTask(envelope)
	if err != nil {
		return err
	}

	return f.client.EnqueueTask(ctx, task,
		asynq.Queue(tasks.QueueCritical),
		asynq.MaxRetry(f.client.cfg.MaxRetries),
		asynq.Timeout(30*time.Second),
		asynq.Retention(f.client.cfg.RetentionPeriod),
	)
}
