package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/formationai/marketplace/github"
	"github.com/formationai/marketplace/models"
	"github.com/formationai/marketplace/web/auth"
)

// InstallCallback links a GitHub App installation to the account identified by
// the state parameter, then redirects back to the dashboard.
func (h *GitHubHandlers) InstallCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	installationID, err := strconv.ParseInt(r.URL.Query().Get("installation_id"), 10, 64)

	if state == "" || err != nil || installationID <= 0 {
		renderError(w, http.StatusBadRequest, "state and installation_id are required")
		return
	}

	if _, err := h.Deps.GitHub.HandleInstallCallback(r.Context(), state, installationID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			renderError(w, http.StatusNotFound, "no account for state")
			return
		}

		h.Deps.Logger.Printf("install callback failed for installation %d: %v", installationID, err)
		renderError(w, http.StatusInternalServerError, "failed to link installation")
		return
	}

	http.Redirect(w, r, h.Deps.InstallRedirectURL, http.StatusFound)
}

// HandleWebhook verifies the push payload's HMAC and, for pushes to a tracked
// branch, records and starts a deployment. Non-push events and untracked
// branches are acknowledged without acting.
func (h *GitHubHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		renderError(w, http.StatusBadRequest, "failed to read payload")
		return
	}

	if err := h.Deps.GitHub.VerifySignature(payload, r.Header.Get("X-Hub-Signature-256")); err != nil {
		h.Deps.Logger.Printf("github webhook signature verification failed: %v", err)
		renderError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	if event := r.Header.Get("X-GitHub-Event"); event != "push" {
		renderJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	if _, err := h.Deps.GitHub.HandlePush(r.Context(), payload); err != nil {
		switch {
		case errors.Is(err, github.ErrUnknownRepository):
			renderError(w, http.StatusNotFound, "no integration for repository")
		case errors.Is(err, github.ErrBranchIgnored):
			renderJSON(w, http.StatusOK, map[string]bool{"success": true})
		default:
			h.Deps.Logger.Printf("github push handling failed: %v", err)
			renderError(w, http.StatusInternalServerError, "failed to process push")
		}

		return
	}

	renderJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// CreateIntegration registers a repository and branch for push deployments.
func (h *GitHubHandlers) CreateIntegration(w http.ResponseWriter, r *http.Request) {
	account, err := auth.GetAccount(r.Context())
	if err != nil {
		renderError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var params github.CreateIntegrationParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		renderError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if err := h.Deps.Validate.Struct(&params); err != nil {
		renderError(w, http.StatusBadRequest, err.Error())
		return
	}

	integration, err := h.Deps.GitHub.CreateIntegration(r.Context(), account.ID, params)
	if err != nil {
		h.Deps.Logger.Printf("failed to create integration for account %s: %v", account.ID, err)
		renderError(w, http.StatusInternalServerError, "failed to create integration")
		return
	}

	renderJSON(w, http.StatusCreated, integrationResponse(integration))
}

// ListIntegrations returns the caller's integrations.
func (h *GitHubHandlers) ListIntegrations(w http.ResponseWriter, r *http.Request) {
	account, err := auth.GetAccount(r.Context())
	if err != nil {
		renderError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	integrations, err := h.Deps.GitHub.ListIntegrations(r.Context(), account.ID)
	if err != nil {
		h.Deps.Logger.Printf("failed to list integrations for account %s: %v", account.ID, err)
		renderError(w, http.StatusInternalServerError, "failed to list integrations")
		return
	}

	out := make([]map[string]any, 0, len(integrations))
	for _, integration := range integrations {
		out = append(out, integrationResponse(integration))
	}

	renderJSON(w, http.StatusOK, out)
}

type integrationStatusRequest struct {
	Status string `json:"status"`
}

// UpdateIntegration pauses or resumes push deployments for one of the
// caller's integrations.
func (h *GitHubHandlers) UpdateIntegration(w http.ResponseWriter, r *http.Request) {
	account, err := auth.GetAccount(r.Context())
	if err != nil {
		renderError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var req integrationStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		renderError(w, http.StatusBadRequest, "status is required")
		return
	}

	id := mux.Vars(r)["id"]

	if err := h.Deps.GitHub.SetIntegrationStatus(r.Context(), account.ID, id, req.Status); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			renderError(w, http.StatusNotFound, "integration not found")
			return
		}

		renderError(w, http.StatusBadRequest, err.Error())
		return
	}

	renderJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// DeleteIntegration removes one of the caller's integrations.
func (h *GitHubHandlers) DeleteIntegration(w http.ResponseWriter, r *http.Request) {
	account, err := auth.GetAccount(r.Context())
	if err != nil {
		renderError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	id := mux.Vars(r)["id"]

	if err := h.Deps.GitHub.DeleteIntegration(r.Context(), account.ID, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			renderError(w, http.StatusNotFound, "integration not found")
			return
		}

		h.Deps.Logger.Printf("failed to delete integration %s: %v", id, err)
		renderError(w, http.StatusInternalServerError, "failed to delete integration")
		return
	}

	renderJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// integrationResponse hides the webhook secret from API responses.
func integrationResponse(integration models.Integration) map[string]any {
	return map[string]any{
		"id":              integration.ID,
		"installation_id": integration.InstallationID,
		"repo_name":       integration.RepoName,
		"repo_url":        integration.RepoURL,
		"branch":          integration.Branch,
		"status":          integration.Status,
	}
}
