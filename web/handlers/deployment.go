package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/formationai/marketplace/deployments"
	"github.com/formationai/marketplace/models"
	"github.com/formationai/marketplace/web/auth"
)

// Create records a pending deployment for the caller's account.
func (h *DeploymentHandlers) Create(w http.ResponseWriter, r *http.Request) {
	account, err := auth.GetAccount(r.Context())
	if err != nil {
		renderError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var params deployments.CreateParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		renderError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if err := h.Deps.Validate.Struct(&params); err != nil {
		renderError(w, http.StatusBadRequest, err.Error())
		return
	}

	deployment, err := h.Deps.Deployments.Create(r.Context(), account.ID, params)
	if err != nil {
		h.Deps.Logger.Printf("failed to create deployment for account %s: %v", account.ID, err)
		renderError(w, http.StatusInternalServerError, "failed to create deployment")
		return
	}

	renderJSON(w, http.StatusCreated, models.NewDeploymentResponse(&deployment))
}

// List returns the caller's deployments.
func (h *DeploymentHandlers) List(w http.ResponseWriter, r *http.Request) {
	account, err := auth.GetAccount(r.Context())
	if err != nil {
		renderError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	list, err := h.Deps.Deployments.List(r.Context(), account.ID)
	if err != nil {
		h.Deps.Logger.Printf("failed to list deployments for account %s: %v", account.ID, err)
		renderError(w, http.StatusInternalServerError, "failed to list deployments")
		return
	}

	out := make([]models.DeploymentResponse, 0, len(list))
	for i := range list {
		out = append(out, models.NewDeploymentResponse(&list[i]))
	}

	renderJSON(w, http.StatusOK, out)
}

// Get returns one of the caller's deployments.
func (h *DeploymentHandlers) Get(w http.ResponseWriter, r *http.Request) {
	account, err := auth.GetAccount(r.Context())
	if err != nil {
		renderError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	deployment, err := h.Deps.Deployments.Get(r.Context(), account.ID, mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			renderError(w, http.StatusNotFound, "deployment not found")
			return
		}

		renderError(w, http.StatusInternalServerError, "failed to load deployment")
		return
	}

	renderJSON(w, http.StatusOK, models.NewDeploymentResponse(&deployment))
}

// Update applies a partial update to a deployment. Status changes on finished
// deployments are rejected.
func (h *DeploymentHandlers) Update(w http.ResponseWriter, r *http.Request) {
	account, err := auth.GetAccount(r.Context())
	if err != nil {
		renderError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var update models.DeploymentUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		renderError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if err := h.Deps.Validate.Struct(&update); err != nil {
		renderError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := mux.Vars(r)["id"]

	deployment, err := h.Deps.Deployments.Update(r.Context(), account.ID, id, update)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			renderError(w, http.StatusNotFound, "deployment not found")
		case errors.Is(err, models.ErrTerminalDeployment):
			renderError(w, http.StatusBadRequest, "deployment already finished")
		default:
			h.Deps.Logger.Printf("failed to update deployment %s: %v", id, err)
			renderError(w, http.StatusInternalServerError, "failed to update deployment")
		}

		return
	}

	renderJSON(w, http.StatusOK, models.NewDeploymentResponse(&deployment))
}

// Delete removes a deployment. Remote cleanup is best effort.
func (h *DeploymentHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	account, err := auth.GetAccount(r.Context())
	if err != nil {
		renderError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	id := mux.Vars(r)["id"]

	if err := h.Deps.Deployments.Delete(r.Context(), account.ID, id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			renderError(w, http.StatusNotFound, "deployment not found")
			return
		}

		h.Deps.Logger.Printf("failed to delete deployment %s: %v", id, err)
		renderError(w, http.StatusInternalServerError, "failed to delete deployment")
		return
	}

	renderJSON(w, http.StatusOK, map[string]bool{"success": true})
}
