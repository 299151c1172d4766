package models

import (
	"context"
	"time"
)

// Integration statuses.
const (
	IntegrationStatusActive   = "active"
	IntegrationStatusInactive = "inactive"
)

// Integration links an Account to a source-code repository through a GitHub
// App installation. At most one integration exists per account+repository.
type Integration struct {
	ID             string
	AccountID      string
	InstallationID int64
	RepoName       string
	RepoURL        string
	Branch         string
	WebhookID      string
	WebhookSecret  string
	Status         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IntegrationRepository manages GitHub integration rows.
type IntegrationRepository interface {
	GetByRepo(ctx context.Context, repoName string) (Integration, error)
	GetByAccount(ctx context.Context, accountID string) ([]Integration, error)
	Save(ctx context.Context, integration *Integration) error
	SetStatus(ctx context.Context, id, status string) error
	Delete(ctx context.Context, id string) error
}
