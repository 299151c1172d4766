package github

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/formationai/marketplace/deployments"
	"github.com/formationai/marketplace/models"
	"github.com/formationai/marketplace/relay"
)

var (
	// ErrBadSignature means the webhook payload failed HMAC verification.
	ErrBadSignature = errors.New("invalid webhook signature")
	// ErrUnknownRepository means no integration exists for the repository.
	ErrUnknownRepository = errors.New("no integration for repository")
	// ErrBranchIgnored means the push targeted a branch the integration
	// does not track.
	ErrBranchIgnored = errors.New("push branch not tracked")
)

// Logger is the subset of log.Logger the service needs.
type Logger interface {
	Printf(format string, v ...any)
}

// Deployer starts a deployment run. Satisfied by deployments.Service.
type Deployer interface {
	Create(ctx context.Context, accountID string, params deployments.CreateParams) (models.Deployment, error)
	Run(ctx context.Context, id string) error
}

// Service handles GitHub App installs and push webhooks.
type Service struct {
	integrations  models.IntegrationRepository
	accounts      models.AccountRepository
	deployer      Deployer
	forwarder     relay.Forwarder
	webhookSecret string
	logger        Logger
}

// NewService creates a GitHub service. webhookSecret is the shared secret
// configured on the GitHub App's webhook.
func NewService(
	integrations models.IntegrationRepository,
	accounts models.AccountRepository,
	deployer Deployer,
	forwarder relay.Forwarder,
	webhookSecret string,
	logger Logger,
) *Service {
	return &Service{
		integrations:  integrations,
		accounts:      accounts,
		deployer:      deployer,
		forwarder:     forwarder,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

// VerifySignature checks the X-Hub-Signature-256 header against the raw
// payload. The header carries "sha256=<hex hmac>".
func (s *Service) VerifySignature(payload []byte, signature string) error {
	expected, ok := strings.CutPrefix(signature, "sha256=")
	if !ok || expected == "" {
		return ErrBadSignature
	}

	mac := hmac.New(sha256.New, []byte(s.webhookSecret))
	mac.Write(payload)
	computed := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(computed), []byte(expected)) {
		return ErrBadSignature
	}

	return nil
}

// HandleInstallCallback links a GitHub App installation to the account whose
// address was carried through the OAuth state parameter.
func (s *Service) HandleInstallCallback(ctx context.Context, address string, installationID int64) (models.Integration, error) {
	account, err := s.accounts.GetByAddress(ctx, address)
	if err != nil {
		return models.Integration{}, fmt.Errorf("failed to resolve account for state: %w", err)
	}

	integration := models.Integration{
		ID:             uuid.New().String(),
		AccountID:      account.ID,
		InstallationID: installationID,
		WebhookSecret:  uuid.New().String(),
		Status:         models.IntegrationStatusActive,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	if err := s.integrations.Save(ctx, &integration); err != nil {
		return models.Integration{}, fmt.Errorf("failed to save integration: %w", err)
	}

	s.logger.Printf("linked installation %d to account %s", installationID, account.ID)

	return integration, nil
}

// CreateIntegrationParams describes an explicit integration request for a
// specific repository and branch.
type CreateIntegrationParams struct {
	InstallationID int64  `json:"installation_id" validate:"required"`
	RepoName       string `json:"repo_name" validate:"required"`
	RepoURL        string `json:"repo_url" validate:"omitempty,url"`
	Branch         string `json:"branch"`
}

// CreateIntegration registers a repository+branch for push-triggered
// deployments. Saving twice for the same repo updates the existing row.
func (s *Service) CreateIntegration(ctx context.Context, accountID string, params CreateIntegrationParams) (models.Integration, error) {
	branch := params.Branch
	if branch == "" {
		branch = "main"
	}

	integration := models.Integration{
		ID:             uuid.New().String(),
		AccountID:      accountID,
		InstallationID: params.InstallationID,
		RepoName:       params.RepoName,
		RepoURL:        params.RepoURL,
		Branch:         branch,
		WebhookSecret:  uuid.New().String(),
		Status:         models.IntegrationStatusActive,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}

	if err := s.integrations.Save(ctx, &integration); err != nil {
		return models.Integration{}, fmt.Errorf("failed to save integration: %w", err)
	}

	return integration, nil
}

// ListIntegrations returns the account's integrations.
func (s *Service) ListIntegrations(ctx context.Context, accountID string) ([]models.Integration, error) {
	return s.integrations.GetByAccount(ctx, accountID)
}

// DeleteIntegration removes an integration, scoped to the account.
func (s *Service) DeleteIntegration(ctx context.Context, accountID, id string) error {
	found, err := s.integrations.GetByAccount(ctx, accountID)
	if err != nil {
		return err
	}

	for _, integration := range found {
		if integration.ID == id {
			return s.integrations.Delete(ctx, id)
		}
	}

	return models.ErrNotFound
}

// SetIntegrationStatus pauses or resumes push deployments for an
// integration, scoped to the account.
func (s *Service) SetIntegrationStatus(ctx context.Context, accountID, id, status string) error {
	if status != models.IntegrationStatusActive && status != models.IntegrationStatusInactive {
		return fmt.Errorf("invalid integration status %q", status)
	}

	found, err := s.integrations.GetByAccount(ctx, accountID)
	if err != nil {
		return err
	}

	for _, integration := range found {
		if integration.ID == id {
			return s.integrations.SetStatus(ctx, id, status)
		}
	}

	return models.ErrNotFound
}

// PushEvent is the subset of GitHub's push payload the service acts on.
type PushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Repository struct {
		FullName string `json:"full_name"`
		HTMLURL  string `json:"html_url"`
	} `json:"repository"`
	Installation struct {
		ID int64 `json:"id"`
	} `json:"installation"`
}

// HandlePush creates and starts a deployment for a push to a tracked branch.
// Pushes to unknown repositories or untracked branches are reported so the
// caller can acknowledge without acting.
func (s *Service) HandlePush(ctx context.Context, payload []byte) (models.Deployment, error) {
	var event PushEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return models.Deployment{}, fmt.Errorf("failed to parse push payload: %w", err)
	}

	integration, err := s.integrations.GetByRepo(ctx, event.Repository.FullName)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.Deployment{}, ErrUnknownRepository
		}

		return models.Deployment{}, err
	}

	if integration.Status != models.IntegrationStatusActive {
		return models.Deployment{}, ErrUnknownRepository
	}

	branch, ok := strings.CutPrefix(event.Ref, "refs/heads/")
	if !ok || branch != integration.Branch {
		return models.Deployment{}, ErrBranchIgnored
	}

	deployment, err := s.deployer.Create(ctx, integration.AccountID, deployments.CreateParams{
		AgentID:   integration.RepoName,
		CommitSHA: event.After,
	})
	if err != nil {
		return models.Deployment{}, fmt.Errorf("failed to create deployment: %w", err)
	}

	s.forward(ctx, "github.push", event)

	if err := s.deployer.Run(ctx, deployment.ID); err != nil {
		s.logger.Printf("deployment %s for %s@%s failed: %v", deployment.ID, integration.RepoName, event.After, err)
	}

	return deployment, nil
}

func (s *Service) forward(ctx context.Context, eventType string, event PushEvent) {
	if s.forwarder == nil {
		return
	}

	envelope := relay.Envelope{
		EventType: eventType,
		GitHubData: &relay.PushData{
			Repository: event.Repository.FullName,
			Ref:        event.Ref,
			CommitSHA:  event.After,
		},
	}

	if err := s.forwarder.Forward(ctx, envelope); err != nil {
		s.logger.Printf("failed to queue github event for relay: %v", err)
	}
}
