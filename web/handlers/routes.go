package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/formationai/marketplace/web/middleware"
)

// RegisterRoutes wires every handler onto the router. Webhooks and the App
// callback stay outside the bearer-auth chain since their callers cannot
// carry a user token.
func (g *HandlerGroup) RegisterRoutes(router *mux.Router, allowedOrigins []string) {
	router.Use(middleware.CORS(allowedOrigins))
	router.Use(middleware.SecurityHeaders)
	router.Use(middleware.RequestLogger)

	router.HandleFunc("/health", g.Health.Live).Methods(http.MethodGet)

	router.HandleFunc("/api/stripe/webhook", g.Billing.HandleStripeWebhook).Methods(http.MethodPost)
	router.HandleFunc("/api/github/webhooks", g.GitHub.HandleWebhook).Methods(http.MethodPost)
	router.HandleFunc("/api/github/callback", g.GitHub.InstallCallback).Methods(http.MethodGet)

	authed := router.NewRoute().Subrouter()
	authed.Use(g.Account.Deps.Auth.Authenticate)

	authed.HandleFunc("/api/account/list", g.Account.List).Methods(http.MethodGet)
	authed.HandleFunc("/api/account/auto-topup", g.Account.GetAutoTopup).Methods(http.MethodGet)
	authed.HandleFunc("/api/account/auto-topup", g.Account.SetAutoTopup).Methods(http.MethodPost)

	authed.HandleFunc("/api/stripe/create-checkout-session", g.Billing.CreateCheckoutSession).Methods(http.MethodPost)
	authed.HandleFunc("/api/stripe/create-portal-session", g.Billing.CreatePortalSession).Methods(http.MethodPost)

	authed.HandleFunc("/api/github/integrations", g.GitHub.ListIntegrations).Methods(http.MethodGet)
	authed.HandleFunc("/api/github/integrations", g.GitHub.CreateIntegration).Methods(http.MethodPost)
	authed.HandleFunc("/api/github/integrations/{id}", g.GitHub.UpdateIntegration).Methods(http.MethodPatch)
	authed.HandleFunc("/api/github/integrations/{id}", g.GitHub.DeleteIntegration).Methods(http.MethodDelete)

	authed.HandleFunc("/api/deployments", g.Deployment.Create).Methods(http.MethodPost)
	authed.HandleFunc("/api/deployments", g.Deployment.List).Methods(http.MethodGet)
	authed.HandleFunc("/api/deployments/{id}", g.Deployment.Get).Methods(http.MethodGet)
	authed.HandleFunc("/api/deployments/{id}", g.Deployment.Update).Methods(http.MethodPatch)
	authed.HandleFunc("/api/deployments/{id}", g.Deployment.Delete).Methods(http.MethodDelete)
}
