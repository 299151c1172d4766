// Package relayrunner runs only the relay delivery worker. Useful when the
// queue needs to scale independently of the API.
package relayrunner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	appconfig "github.com/formationai/marketplace/config"
	"github.com/formationai/marketplace/redis"
	redisconfig "github.com/formationai/marketplace/redis/config"
	"github.com/formationai/marketplace/redis/tasks"
	"github.com/formationai/marketplace/relay"
	"github.com/formationai/marketplace/runner"
)

type relayrunner struct {
	worker      *redis.Server
	db          *sql.DB
	zlog        *zap.Logger
	relayTarget string
}

// New builds the worker runner.
func New(cfg *runner.Config) (runner.Runner, error) {
	zlog, err := newLogger(cfg.Debug)
	if err != nil {
		return nil, err
	}

	redisCfg, err := redisconfig.NewRedisConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	relayTarget := cfg.RelayTargetURL
	if relayTarget == "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		relayTarget, err = appconfig.New(db).GetString(ctx, appconfig.KeyRelayTargetURL, "")
		if err != nil {
			return nil, err
		}
	}

	if relayTarget == "" {
		db.Close()
		return nil, errors.New("a relay target is required (flag -relay-url, RELAY_TARGET_URL, or the relay.target_url config key)")
	}

	return &relayrunner{
		worker:      redis.NewServer(redisCfg, zlog),
		db:          db,
		zlog:        zlog,
		relayTarget: relayTarget,
	}, nil
}

// Run drains the relay queue until the context is cancelled.
func (r *relayrunner) Run(ctx context.Context) error {
	mux := asynq.NewServeMux()
	mux.Handle(tasks.TypeRelayForward, tasks.NewRelayHandler(relay.NewClient(r.relayTarget), r.zlog))
	mux.HandleFunc(tasks.TypeHealthCheck, func(context.Context, *asynq.Task) error {
		return nil
	})

	return r.worker.Run(ctx, mux)
}

// Close releases the database handle.
func (r *relayrunner) Close(context.Context) error {
	_ = r.zlog.Sync()

	return r.db.Close()
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}
