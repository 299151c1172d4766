package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/formationai/marketplace/models"
	"github.com/formationai/marketplace/web/auth"
)

// List returns the caller's accounts. The subject maps to exactly one row, so
// the array has one element; the shape leaves room for delegation later.
func (h *AccountHandlers) List(w http.ResponseWriter, r *http.Request) {
	account, err := auth.GetAccount(r.Context())
	if err != nil {
		renderError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	renderJSON(w, http.StatusOK, []models.AccountResponse{models.NewAccountResponse(&account)})
}

// GetAutoTopup returns the account's auto-topup settings.
func (h *AccountHandlers) GetAutoTopup(w http.ResponseWriter, r *http.Request) {
	account, err := auth.GetAccount(r.Context())
	if err != nil {
		renderError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	renderJSON(w, http.StatusOK, map[string]any{
		"enabled":   account.AutoTopupEnabled,
		"threshold": account.AutoTopupThreshold,
		"amount":    account.AutoTopupAmount,
	})
}

// SetAutoTopup updates the account's auto-topup settings.
func (h *AccountHandlers) SetAutoTopup(w http.ResponseWriter, r *http.Request) {
	account, err := auth.GetAccount(r.Context())
	if err != nil {
		renderError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	var settings models.AutoTopupSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		renderError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if err := h.Deps.Validate.Struct(&settings); err != nil {
		renderError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Deps.Accounts.SetAutoTopup(r.Context(), account.ID, settings); err != nil {
		h.Deps.Logger.Printf("failed to update auto-topup for account %s: %v", account.ID, err)
		renderError(w, http.StatusInternalServerError, "failed to update auto-topup settings")
		return
	}

	renderJSON(w, http.StatusOK, map[string]bool{"success": true})
}
