// Package handlers holds the JSON API handlers.
package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"
	stripelib "github.com/stripe/stripe-go/v81"

	"github.com/formationai/marketplace/deployments"
	"github.com/formationai/marketplace/github"
	"github.com/formationai/marketplace/models"
	"github.com/formationai/marketplace/web/auth"
)

// BillingService is the billing surface handlers depend on.
type BillingService interface {
	CreateCheckoutSession(ctx context.Context, account *models.Account, priceID string, quantity int64) (*stripelib.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, account *models.Account) (string, error)
	ProcessWebhookEvent(ctx context.Context, event *stripelib.Event) error
}

// GitHubService is the GitHub surface handlers depend on.
type GitHubService interface {
	VerifySignature(payload []byte, signature string) error
	HandleInstallCallback(ctx context.Context, address string, installationID int64) (models.Integration, error)
	HandlePush(ctx context.Context, payload []byte) (models.Deployment, error)
	CreateIntegration(ctx context.Context, accountID string, params github.CreateIntegrationParams) (models.Integration, error)
	ListIntegrations(ctx context.Context, accountID string) ([]models.Integration, error)
	SetIntegrationStatus(ctx context.Context, accountID, id, status string) error
	DeleteIntegration(ctx context.Context, accountID, id string) error
}

// DeploymentService is the deployment surface handlers depend on.
type DeploymentService interface {
	Create(ctx context.Context, accountID string, params deployments.CreateParams) (models.Deployment, error)
	Get(ctx context.Context, accountID, id string) (models.Deployment, error)
	List(ctx context.Context, accountID string) ([]models.Deployment, error)
	Update(ctx context.Context, accountID, id string, update models.DeploymentUpdate) (models.Deployment, error)
	Delete(ctx context.Context, accountID, id string) error
}

// StripeWebhookVerifier verifies a raw Stripe webhook payload.
type StripeWebhookVerifier interface {
	VerifyWebhook(payload []byte, signature, secret string) (*stripelib.Event, error)
}

// Dependencies aggregates shared services used by handlers.
type Dependencies struct {
	Logger              *log.Logger
	Auth                *auth.Middleware
	Accounts            models.AccountRepository
	Billing             BillingService
	GitHub              GitHubService
	Deployments         DeploymentService
	StripeVerifier      StripeWebhookVerifier
	StripeWebhookSecret string
	InstallRedirectURL  string
	Validate            *validator.Validate
	HealthChecks        []HealthCheck
}

// HandlerGroup groups all handler categories for routing setup.
type HandlerGroup struct {
	Account    *AccountHandlers
	Billing    *BillingHandlers
	GitHub     *GitHubHandlers
	Deployment *DeploymentHandlers
	Health     *HealthHandlers
}

// NewHandlerGroup constructs a HandlerGroup with initialized handlers.
func NewHandlerGroup(deps Dependencies) *HandlerGroup {
	if deps.Validate == nil {
		deps.Validate = validator.New()
	}

	return &HandlerGroup{
		Account:    &AccountHandlers{Deps: deps},
		Billing:    &BillingHandlers{Deps: deps},
		GitHub:     &GitHubHandlers{Deps: deps},
		Deployment: &DeploymentHandlers{Deps: deps},
		Health:     &HealthHandlers{Deps: deps},
	}
}

// AccountHandlers contains routes for account state.
type AccountHandlers struct{ Deps Dependencies }

// BillingHandlers contains routes for billing sessions and the Stripe webhook.
type BillingHandlers struct{ Deps Dependencies }

// GitHubHandlers contains routes for the App callback, integrations, and the
// push webhook.
type GitHubHandlers struct{ Deps Dependencies }

// DeploymentHandlers contains routes for deployment CRUD.
type DeploymentHandlers struct{ Deps Dependencies }

// HealthHandlers contains the liveness route.
type HealthHandlers struct{ Deps Dependencies }

func renderJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func renderError(w http.ResponseWriter, status int, message string) {
	renderJSON(w, status, models.APIError{Error: message})
}
