package deployments

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/formationai/marketplace/models"
)

// Logger is the subset of log.Logger the service needs.
type Logger interface {
	Printf(format string, v ...any)
}

// Service creates and tracks deployments and drives the external pipeline.
type Service struct {
	repo     models.DeploymentRepository
	provider Provider
	logger   Logger
}

// NewService creates a deployment service.
func NewService(repo models.DeploymentRepository, provider Provider, logger Logger) *Service {
	return &Service{
		repo:     repo,
		provider: provider,
		logger:   logger,
	}
}

// CreateParams describes a new deployment request.
type CreateParams struct {
	AgentID     string          `json:"agent_id" validate:"required"`
	DockerImage string          `json:"docker_image"`
	CommitSHA   string          `json:"commit_sha"`
	Config      json.RawMessage `json:"config"`
}

// Create records a pending deployment for the account.
func (s *Service) Create(ctx context.Context, accountID string, params CreateParams) (models.Deployment, error) {
	deployment := models.Deployment{
		ID:          uuid.New().String(),
		AgentID:     params.AgentID,
		AccountID:   accountID,
		Status:      models.DeploymentStatusPending,
		DockerImage: params.DockerImage,
		CommitSHA:   params.CommitSHA,
		Config:      params.Config,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, &deployment); err != nil {
		return models.Deployment{}, fmt.Errorf("failed to create deployment: %w", err)
	}

	return deployment, nil
}

// Get returns a single deployment, scoped to the account.
func (s *Service) Get(ctx context.Context, accountID, id string) (models.Deployment, error) {
	deployment, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.Deployment{}, err
	}

	if deployment.AccountID != accountID {
		return models.Deployment{}, models.ErrNotFound
	}

	return deployment, nil
}

// List returns the account's deployments, newest first.
func (s *Service) List(ctx context.Context, accountID string) ([]models.Deployment, error) {
	return s.repo.ListByAccount(ctx, accountID)
}

// Update applies a partial update, scoped to the account. Terminal
// deployments reject further status changes.
func (s *Service) Update(ctx context.Context, accountID, id string, update models.DeploymentUpdate) (models.Deployment, error) {
	if _, err := s.Get(ctx, accountID, id); err != nil {
		return models.Deployment{}, err
	}

	return s.repo.Update(ctx, id, update)
}

// Delete removes the deployment row and asks the pipeline to tear down any
// remote resources. Remote cleanup is best effort: a provider failure is
// logged but does not block the delete.
func (s *Service) Delete(ctx context.Context, accountID, id string) error {
	deployment, err := s.Get(ctx, accountID, id)
	if err != nil {
		return err
	}

	if deployment.ProviderID != "" {
		if err := s.provider.Delete(ctx, deployment.ProviderID); err != nil {
			s.logger.Printf("failed to delete remote deployment %s: %v", deployment.ProviderID, err)
		}
	}

	return s.repo.Delete(ctx, id)
}

// Run drives a deployment through the pipeline: pending to running, then to
// success or failure depending on the provider outcome.
func (s *Service) Run(ctx context.Context, id string) error {
	running := models.DeploymentStatusRunning
	deployment, err := s.repo.Update(ctx, id, models.DeploymentUpdate{Status: &running})
	if err != nil {
		return fmt.Errorf("failed to mark deployment running: %w", err)
	}

	result, err := s.provider.Deploy(ctx, &deployment)
	if err != nil {
		failure := models.DeploymentStatusFailure
		logs := err.Error()
		if _, uerr := s.repo.Update(ctx, id, models.DeploymentUpdate{Status: &failure, Logs: &logs}); uerr != nil {
			s.logger.Printf("failed to mark deployment %s failed: %v", id, uerr)
		}

		return fmt.Errorf("deploy failed: %w", err)
	}

	success := models.DeploymentStatusSuccess
	update := models.DeploymentUpdate{Status: &success, ProviderID: &result.ProviderID}
	if result.DeploymentURL != "" {
		update.DeploymentURL = &result.DeploymentURL
	}

	if _, err := s.repo.Update(ctx, id, update); err != nil {
		return fmt.Errorf("failed to mark deployment succeeded: %w", err)
	}

	return nil
}
