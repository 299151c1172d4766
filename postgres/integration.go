package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/formationai/marketplace/models"
	"github.com/formationai/marketplace/pkg/encryption"
)

const integrationColumns = `id, account_id, installation_id, repo_name, repo_url, branch, ` +
	`COALESCE(webhook_id, ''), COALESCE(webhook_secret, ''), status, created_at, updated_at`

// integrationRepository implements models.IntegrationRepository. Webhook
// secrets are encrypted at rest when a cipher is configured.
type integrationRepository struct {
	db     *sql.DB
	cipher *encryption.Cipher
}

// NewIntegrationRepository creates a new IntegrationRepository. cipher may be
// nil, in which case secrets are stored as-is.
func NewIntegrationRepository(db *sql.DB, cipher *encryption.Cipher) models.IntegrationRepository {
	return &integrationRepository{db: db, cipher: cipher}
}

func (repo *integrationRepository) scanIntegration(scan func(dest ...any) error) (models.Integration, error) {
	var i models.Integration
	err := scan(
		&i.ID, &i.AccountID, &i.InstallationID, &i.RepoName, &i.RepoURL, &i.Branch,
		&i.WebhookID, &i.WebhookSecret, &i.Status, &i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Integration{}, models.ErrNotFound
		}
		return models.Integration{}, err
	}

	if repo.cipher != nil && i.WebhookSecret != "" {
		plain, err := repo.cipher.Decrypt(i.WebhookSecret)
		if err != nil {
			return models.Integration{}, err
		}
		i.WebhookSecret = plain
	}

	return i, nil
}

// GetByRepo retrieves the integration for a repository full name (owner/repo).
func (repo *integrationRepository) GetByRepo(ctx context.Context, repoName string) (models.Integration, error) {
	const q = `SELECT ` + integrationColumns + ` FROM github_integrations WHERE repo_name = $1`
	return repo.scanIntegration(repo.db.QueryRowContext(ctx, q, repoName).Scan)
}

// GetByAccount lists all integrations belonging to an account.
func (repo *integrationRepository) GetByAccount(ctx context.Context, accountID string) ([]models.Integration, error) {
	const q = `SELECT ` + integrationColumns + ` FROM github_integrations WHERE account_id = $1 ORDER BY created_at`

	rows, err := repo.db.QueryContext(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Integration
	for rows.Next() {
		i, err := repo.scanIntegration(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}

	return out, rows.Err()
}

// Save upserts an integration keyed by account+repository.
func (repo *integrationRepository) Save(ctx context.Context, integration *models.Integration) error {
	if integration.ID == "" {
		integration.ID = uuid.New().String()
	}
	if integration.Status == "" {
		integration.Status = models.IntegrationStatusActive
	}

	now := time.Now().UTC()

	storedSecret := integration.WebhookSecret
	if repo.cipher != nil && storedSecret != "" {
		var err error
		storedSecret, err = repo.cipher.Encrypt(storedSecret)
		if err != nil {
			return err
		}
	}

	const q = `INSERT INTO github_integrations
	             (id, account_id, installation_id, repo_name, repo_url, branch, webhook_id, webhook_secret, status, created_at, updated_at)
	           VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	           ON CONFLICT (account_id, repo_name) DO UPDATE SET
	             installation_id = EXCLUDED.installation_id,
	             repo_url        = EXCLUDED.repo_url,
	             branch          = EXCLUDED.branch,
	             webhook_id      = EXCLUDED.webhook_id,
	             webhook_secret  = EXCLUDED.webhook_secret,
	             status          = EXCLUDED.status,
	             updated_at      = EXCLUDED.updated_at
	           RETURNING id`

	return repo.db.QueryRowContext(ctx, q,
		integration.ID,
		integration.AccountID,
		integration.InstallationID,
		integration.RepoName,
		integration.RepoURL,
		integration.Branch,
		integration.WebhookID,
		storedSecret,
		integration.Status,
		now,
	).Scan(&integration.ID)
}

// SetStatus flips the integration status.
func (repo *integrationRepository) SetStatus(ctx context.Context, id, status string) error {
	const q = `UPDATE github_integrations SET status = $2, updated_at = NOW() WHERE id = $1`

	res, err := repo.db.ExecContext(ctx, q, id, status)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return models.ErrNotFound
	}

	return nil
}

// Delete removes an integration.
func (repo *integrationRepository) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM github_integrations WHERE id = $1`
	_, err := repo.db.ExecContext(ctx, q, id)
	return err
}
