package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/formationai/marketplace/billing"
	"github.com/formationai/marketplace/web/auth"
)

type checkoutSessionRequest struct {
	PriceID  string `json:"priceId"`
	Quantity int64  `json:"quantity"`
}

// CreateCheckoutSession starts a checkout flow for the caller's account and
// returns the session id the client redirects to.
func (h *BillingHandlers) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	account, err := auth.GetAccount(r.Context())
	if err != nil {
		renderError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req checkoutSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if req.PriceID == "" {
		renderError(w, http.StatusBadRequest, "priceId is required")
		return
	}

	sess, err := h.Deps.Billing.CreateCheckoutSession(r.Context(), &account, req.PriceID, req.Quantity)
	if err != nil {
		h.Deps.Logger.Printf("checkout session failed for account %s: %v", account.ID, err)
		renderError(w, http.StatusInternalServerError, "failed to create checkout session")
		return
	}

	renderJSON(w, http.StatusOK, map[string]string{"sessionId": sess.ID})
}

// CreatePortalSession returns a billing portal URL for the caller's account.
func (h *BillingHandlers) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	account, err := auth.GetAccount(r.Context())
	if err != nil {
		renderError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	url, err := h.Deps.Billing.CreatePortalSession(r.Context(), &account)
	if err != nil {
		if errors.Is(err, billing.ErrCustomerNotFound) {
			renderError(w, http.StatusNotFound, "no billing customer for account")
			return
		}

		h.Deps.Logger.Printf("portal session failed for account %s: %v", account.ID, err)
		renderError(w, http.StatusInternalServerError, "failed to create portal session")
		return
	}

	renderJSON(w, http.StatusOK, map[string]string{"url": url})
}

// HandleStripeWebhook verifies the event signature against the raw payload and
// applies the event. The signature check comes before any body parsing; once
// it passes the endpoint answers 200 so Stripe does not burn retries on our
// downstream failures.
func (h *BillingHandlers) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		renderError(w, http.StatusBadRequest, "failed to read payload")
		return
	}

	event, err := h.Deps.StripeVerifier.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"), h.Deps.StripeWebhookSecret)
	if err != nil {
		h.Deps.Logger.Printf("stripe webhook signature verification failed: %v", err)
		renderError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	if err := h.Deps.Billing.ProcessWebhookEvent(r.Context(), event); err != nil {
		h.Deps.Logger.Printf("stripe webhook %s processing failed: %v", event.ID, err)
	}

	renderJSON(w, http.StatusOK, map[string]bool{"received": true})
}
