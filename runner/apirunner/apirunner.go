// Package apirunner wires the full API process: Postgres, Redis, Stripe,
// the HTTP server, and the relay delivery worker.
package apirunner

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/hibiken/asynq"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/formationai/marketplace/auth"
	"github.com/formationai/marketplace/billing"
	appconfig "github.com/formationai/marketplace/config"
	"github.com/formationai/marketplace/deployments"
	"github.com/formationai/marketplace/github"
	"github.com/formationai/marketplace/pkg/encryption"
	"github.com/formationai/marketplace/postgres"
	"github.com/formationai/marketplace/redis"
	redisconfig "github.com/formationai/marketplace/redis/config"
	"github.com/formationai/marketplace/redis/tasks"
	"github.com/formationai/marketplace/relay"
	"github.com/formationai/marketplace/runner"
	stripeclient "github.com/formationai/marketplace/stripe"
	"github.com/formationai/marketplace/tlmt"
	"github.com/formationai/marketplace/web"
	webauth "github.com/formationai/marketplace/web/auth"
	"github.com/formationai/marketplace/web/handlers"
)

type apirunner struct {
	cfg         *runner.Config
	db          *sql.DB
	redisClient *redis.Client
	redisCfg    *redisconfig.RedisConfig
	worker      *redis.Server
	relayTarget string
	srv         *web.Server
	zlog        *zap.Logger
}

// New builds the API runner. Migrations run before anything else touches the
// database.
func New(cfg *runner.Config) (runner.Runner, error) {
	migrations := postgres.NewMigrationRunner(cfg.Dsn)
	if cfg.MigrationsDir != "" {
		if err := migrations.SetMigrationsDir(cfg.MigrationsDir); err != nil {
			return nil, err
		}
	}

	if err := migrations.RunMigrations(); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	zlog, err := newZapLogger(cfg.Debug)
	if err != nil {
		return nil, err
	}

	stdLogger := zap.NewStdLog(zlog)

	redisCfg, err := redisconfig.NewRedisConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	redisClient, err := redis.NewClient(redisCfg)
	if err != nil {
		return nil, err
	}

	var cipher *encryption.Cipher
	if key := os.Getenv("ENCRYPTION_KEY"); key != "" {
		cipher, err = encryption.New([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("invalid ENCRYPTION_KEY: %w", err)
		}
	}

	accountRepo := postgres.NewAccountRepository(db)
	integrationRepo := postgres.NewIntegrationRepository(db, cipher)
	deploymentRepo := postgres.NewDeploymentRepository(db)
	eventRepo := postgres.NewWebhookEventRepository(db)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfgSvc := appconfig.New(db)

	billingCfg, err := loadBillingConfig(ctx, cfgSvc)
	if err != nil {
		return nil, err
	}

	relayTarget := cfg.RelayTargetURL
	if relayTarget == "" {
		relayTarget, err = cfgSvc.GetString(ctx, appconfig.KeyRelayTargetURL, "")
		if err != nil {
			return nil, err
		}
	}

	relayEnabled, err := cfgSvc.GetBool(ctx, appconfig.KeyRelayEnabled, true)
	if err != nil {
		return nil, err
	}
	if !relayEnabled || relayTarget == "" {
		relayTarget = ""
		zlog.Warn("relay target not configured, webhook forwarding disabled")
	}

	var forwarder relay.Forwarder
	if relayTarget != "" {
		forwarder = redis.NewForwarder(redisClient)
	}

	stripeAPI := stripeclient.NewClient(cfg.StripeKey)
	billingSvc := billing.NewService(stripeAPI, accountRepo, eventRepo, forwarder, billingCfg, stdLogger)

	provider := deployments.NewHTTPProvider(cfg.DeployProviderURL, cfg.DeployProviderKey)
	deploySvc := deployments.NewService(deploymentRepo, provider, stdLogger)

	githubSvc := github.NewService(integrationRepo, accountRepo, deploySvc, forwarder, cfg.GitHubWebhookSecret, stdLogger)

	verifier := auth.NewVerifier(cfg.JWKSURL,
		auth.WithIssuer(cfg.JWTIssuer),
		auth.WithAudience(cfg.JWTAudience),
	)
	authMw := webauth.NewMiddleware(verifier, accountRepo, stdLogger)

	group := handlers.NewHandlerGroup(handlers.Dependencies{
		Logger:              stdLogger,
		Auth:                authMw,
		Accounts:            accountRepo,
		Billing:             billingSvc,
		GitHub:              githubSvc,
		Deployments:         deploySvc,
		StripeVerifier:      stripeAPI,
		StripeWebhookSecret: cfg.StripeWebhookSecret,
		InstallRedirectURL:  cfg.InstallRedirectURL,
		HealthChecks: []handlers.HealthCheck{
			{Name: "postgres", Check: db.PingContext},
			{Name: "redis", Check: func(ctx context.Context) error {
				return redis.Ping(ctx, redisCfg)
			}},
		},
	})

	srv := web.New(web.Config{
		Addr:           cfg.Addr,
		AllowedOrigins: cfg.AllowedOrigins,
		ShutdownGrace:  cfg.ShutdownGrace,
	}, group)

	return &apirunner{
		cfg:         cfg,
		db:          db,
		redisClient: redisClient,
		redisCfg:    redisCfg,
		worker:      redis.NewServer(redisCfg, zlog),
		relayTarget: relayTarget,
		srv:         srv,
		zlog:        zlog,
	}, nil
}

// Run serves HTTP and drains the relay queue until the context is cancelled.
func (a *apirunner) Run(ctx context.Context) error {
	evt := tlmt.NewEvent("api_start", map[string]any{"addr": a.cfg.Addr})
	_ = runner.Telemetry().Send(ctx, evt)

	mux := asynq.NewServeMux()
	if a.relayTarget != "" {
		mux.Handle(tasks.TypeRelayForward, tasks.NewRelayHandler(relay.NewClient(a.relayTarget), a.zlog))
	} else {
		// Drains tasks left over from a previously configured run.
		mux.HandleFunc(tasks.TypeRelayForward, func(context.Context, *asynq.Task) error {
			a.zlog.Warn("dropping relay task, no relay target configured")
			return fmt.Errorf("relay target not configured: %w", asynq.SkipRetry)
		})
	}
	mux.HandleFunc(tasks.TypeHealthCheck, func(context.Context, *asynq.Task) error {
		return nil
	})

	egroup, ctx := errgroup.WithContext(ctx)

	egroup.Go(func() error {
		return a.srv.Run(ctx)
	})

	egroup.Go(func() error {
		return a.worker.Run(ctx, mux)
	})

	return egroup.Wait()
}

// Close releases process resources.
func (a *apirunner) Close(context.Context) error {
	if err := a.redisClient.Close(); err != nil {
		a.zlog.Warn("failed to close redis client", zap.Error(err))
	}

	_ = a.zlog.Sync()

	return a.db.Close()
}

func newZapLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	return zap.NewProduction()
}

func loadBillingConfig(ctx context.Context, cfgSvc *appconfig.Service) (billing.Config, error) {
	topup, err := cfgSvc.GetString(ctx, appconfig.KeyTopupPriceID, "")
	if err != nil {
		return billing.Config{}, err
	}

	success, err := cfgSvc.GetString(ctx, appconfig.KeyCheckoutSuccess, "")
	if err != nil {
		return billing.Config{}, err
	}

	cancel, err := cfgSvc.GetString(ctx, appconfig.KeyCheckoutCancel, "")
	if err != nil {
		return billing.Config{}, err
	}

	portalReturn, err := cfgSvc.GetString(ctx, appconfig.KeyPortalReturnURL, "")
	if err != nil {
		return billing.Config{}, err
	}

	return billing.Config{
		TopupPriceID:    topup,
		SuccessURL:      success,
		CancelURL:       cancel,
		PortalReturnURL: portalReturn,
	}, nil
}
