package redis

import (
	"context"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/formationai/marketplace/redis/config"
)

// Server wraps the asynq worker that drains the relay queue.
type Server struct {
	server *asynq.Server
	cfg    *config.RedisConfig
	logger *zap.Logger
	mu     sync.Mutex
}

// NewServer creates a queue worker with the provided configuration.
func NewServer(cfg *config.RedisConfig, logger *zap.Logger) *Server {
	redisOpt := asynq.RedisClientOpt{
		Addr:         cfg.GetRedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Workers,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				// Exponential backoff capped at the configured interval.
				delay := time.Duration(1<<uint(n)) * time.Second
				if delay > cfg.RetryInterval {
					delay = cfg.RetryInterval
				}
				logger.Warn("task failed, retry scheduled",
					zap.String("task", task.Type()),
					zap.Int("attempt", n),
					zap.Duration("delay", delay),
					zap.Error(err),
				)
				return delay
			},
			Queues:         cfg.QueuePriorities,
			StrictPriority: true,
		},
	)

	return &Server{server: srv, cfg: cfg, logger: logger}
}

// Run starts the worker and blocks until the context is canceled.
func (s *Server) Run(ctx context.Context, mux *asynq.ServeMux) error {
	s.mu.Lock()
	if err := s.server.Start(mux); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	<-ctx.Done()

	s.server.Shutdown()

	return nil
}
