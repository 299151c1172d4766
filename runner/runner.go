// Package runner holds process configuration and the run-mode entrypoints.
package runner

import (
	"context"
	"errors"
	"flag"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/formationai/marketplace/tlmt"
	"github.com/formationai/marketplace/tlmt/gonoop"
	"github.com/formationai/marketplace/tlmt/goposthog"
)

// Run modes.
const (
	RunModeAPI = iota + 1
	RunModeRelayWorker
	RunModeMigrate
)

var ErrInvalidRunMode = errors.New("invalid run mode")

// Runner is one process personality.
type Runner interface {
	Run(context.Context) error
	Close(context.Context) error
}

// Config carries process settings. Flags win over environment variables.
type Config struct {
	RunMode             int
	Addr                string
	Dsn                 string
	JWKSURL             string
	JWTIssuer           string
	JWTAudience         string
	StripeKey           string
	StripeWebhookSecret string
	GitHubWebhookSecret string
	RelayTargetURL      string
	DeployProviderURL   string
	DeployProviderKey   string
	InstallRedirectURL  string
	AllowedOrigins      []string
	MigrationsDir       string
	Debug               bool
	DisableTelemetry    bool
	ShutdownGrace       time.Duration
}

// ParseConfig reads flags and environment into a Config.
func ParseConfig() *Config {
	cfg := Config{}

	var (
		origins     string
		workerOnly  bool
		migrateOnly bool
	)

	flag.StringVar(&cfg.Addr, "addr", ":8080", "address to listen on")
	flag.StringVar(&cfg.Dsn, "dsn", "", "postgres connection string")
	flag.StringVar(&cfg.JWKSURL, "jwks-url", "", "identity provider JWKS endpoint")
	flag.StringVar(&cfg.RelayTargetURL, "relay-url", "", "URL webhook envelopes are forwarded to")
	flag.StringVar(&cfg.DeployProviderURL, "deploy-provider-url", "", "deploy pipeline base URL")
	flag.StringVar(&cfg.InstallRedirectURL, "install-redirect-url", "", "redirect target after GitHub App install")
	flag.StringVar(&cfg.MigrationsDir, "migrations", "", "migrations directory override")
	flag.StringVar(&origins, "allowed-origins", "", "comma separated CORS origins")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	flag.BoolVar(&workerOnly, "relay-worker", false, "run only the relay delivery worker")
	flag.BoolVar(&migrateOnly, "migrate", false, "apply migrations and exit")
	flag.DurationVar(&cfg.ShutdownGrace, "shutdown-grace", 15*time.Second, "graceful shutdown window")

	flag.Parse()

	if cfg.Dsn == "" {
		cfg.Dsn = os.Getenv("DATABASE_URL")
	}

	if cfg.JWKSURL == "" {
		cfg.JWKSURL = os.Getenv("JWKS_URL")
	}

	if cfg.RelayTargetURL == "" {
		cfg.RelayTargetURL = os.Getenv("RELAY_TARGET_URL")
	}

	if cfg.DeployProviderURL == "" {
		cfg.DeployProviderURL = os.Getenv("DEPLOY_PROVIDER_URL")
	}

	if cfg.InstallRedirectURL == "" {
		cfg.InstallRedirectURL = os.Getenv("INSTALL_REDIRECT_URL")
	}

	cfg.JWTIssuer = os.Getenv("JWT_ISSUER")
	cfg.JWTAudience = os.Getenv("JWT_AUDIENCE")
	cfg.StripeKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	cfg.GitHubWebhookSecret = os.Getenv("GITHUB_WEBHOOK_SECRET")
	cfg.DeployProviderKey = os.Getenv("DEPLOY_PROVIDER_KEY")
	cfg.DisableTelemetry = os.Getenv("DISABLE_TELEMETRY") == "1"

	if origins == "" {
		origins = os.Getenv("ALLOWED_ORIGINS")
	}

	if origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}

	if cfg.Dsn == "" {
		panic("a postgres dsn is required (flag -dsn or DATABASE_URL)")
	}

	switch {
	case migrateOnly:
		cfg.RunMode = RunModeMigrate
	case workerOnly:
		cfg.RunMode = RunModeRelayWorker
	default:
		cfg.RunMode = RunModeAPI
	}

	return &cfg
}

var (
	telemetryOnce sync.Once
	telemetry     tlmt.Telemetry
)

// Telemetry returns the process-wide telemetry sink. Without a PostHog key,
// or with DISABLE_TELEMETRY=1, events are discarded.
func Telemetry() tlmt.Telemetry {
	telemetryOnce.Do(func() {
		if os.Getenv("DISABLE_TELEMETRY") == "1" {
			telemetry = gonoop.New()

			return
		}

		apiKey := os.Getenv("POSTHOG_API_KEY")
		if apiKey == "" {
			telemetry = gonoop.New()

			return
		}

		endpoint := os.Getenv("POSTHOG_ENDPOINT")
		if endpoint == "" {
			endpoint = "https://eu.i.posthog.com"
		}

		val, err := goposthog.New(apiKey, endpoint)
		if err != nil || val == nil {
			telemetry = gonoop.New()

			return
		}

		telemetry = val
	})

	return telemetry
}
