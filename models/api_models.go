package models

import "time"

// APIError is the JSON error envelope returned by every handler.
type APIError struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// AccountResponse is the wire shape of an account.
type AccountResponse struct {
	ID                   string `json:"id"`
	SubjectID            string `json:"subject_id"`
	Address              string `json:"address,omitempty"`
	Email                string `json:"email,omitempty"`
	Credits              int64  `json:"credits"`
	StripeCustomerID     string `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string `json:"stripe_subscription_id,omitempty"`
	StripePriceID        string `json:"stripe_price_id,omitempty"`
	CreatedAt            string `json:"created_at"`
}

// DeploymentResponse is the wire shape of a deployment.
type DeploymentResponse struct {
	ID            string `json:"id"`
	AgentID       string `json:"agent_id"`
	AccountID     string `json:"account_id"`
	Status        string `json:"status"`
	DockerImage   string `json:"docker_image,omitempty"`
	DeploymentURL string `json:"deployment_url,omitempty"`
	CommitSHA     string `json:"commit_sha,omitempty"`
	Logs          string `json:"logs,omitempty"`
	ProviderID    string `json:"provider_id,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// NewAccountResponse converts an Account to its wire shape.
func NewAccountResponse(a *Account) AccountResponse {
	return AccountResponse{
		ID:                   a.ID,
		SubjectID:            a.SubjectID,
		Address:              a.Address,
		Email:                a.Email,
		Credits:              a.Credits,
		StripeCustomerID:     a.StripeCustomerID,
		StripeSubscriptionID: a.StripeSubscriptionID,
		StripePriceID:        a.StripePriceID,
		CreatedAt:            a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// NewDeploymentResponse converts a Deployment to its wire shape.
func NewDeploymentResponse(d *Deployment) DeploymentResponse {
	return DeploymentResponse{
		ID:            d.ID,
		AgentID:       d.AgentID,
		AccountID:     d.AccountID,
		Status:        d.Status,
		DockerImage:   d.DockerImage,
		DeploymentURL: d.DeploymentURL,
		CommitSHA:     d.CommitSHA,
		Logs:          d.Logs,
		ProviderID:    d.ProviderID,
		CreatedAt:     d.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     d.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
