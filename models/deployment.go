package models

import (
	"context"
	"encoding/json"
	"time"
)

// Deployment statuses. Success and failure are terminal: a new push creates a
// new deployment record rather than mutating a finished one.
const (
	DeploymentStatusPending = "pending"
	DeploymentStatusRunning = "running"
	DeploymentStatusSuccess = "success"
	DeploymentStatusFailure = "failure"
)

// Deployment is a request to run an agent for an account.
type Deployment struct {
	ID            string
	AgentID       string
	AccountID     string
	Status        string
	DockerImage   string
	DeploymentURL string
	CommitSHA     string
	Logs          string
	ProviderID    string
	Config        json.RawMessage
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Terminal reports whether the deployment reached a final state.
func (d *Deployment) Terminal() bool {
	return d.Status == DeploymentStatusSuccess || d.Status == DeploymentStatusFailure
}

// DeploymentUpdate carries the mutable fields of a PATCH request. Nil fields
// are left untouched.
type DeploymentUpdate struct {
	Status        *string `json:"status" validate:"omitempty,oneof=pending running success failure"`
	DeploymentURL *string `json:"deployment_url" validate:"omitempty,url"`
	DockerImage   *string `json:"docker_image"`
	CommitSHA     *string `json:"commit_sha"`
	Logs          *string `json:"logs"`
	ProviderID    *string `json:"provider_id"`
}

// DeploymentRepository manages deployment rows.
type DeploymentRepository interface {
	Create(ctx context.Context, deployment *Deployment) error
	Get(ctx context.Context, id string) (Deployment, error)
	ListByAccount(ctx context.Context, accountID string) ([]Deployment, error)
	Update(ctx context.Context, id string, update DeploymentUpdate) (Deployment, error)
	Delete(ctx context.Context, id string) error
}
