package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/formationai/marketplace/models"
)

const deploymentColumns = `id, agent_id, account_id, status, ` +
	`COALESCE(docker_image, ''), COALESCE(deployment_url, ''), COALESCE(commit_sha, ''), ` +
	`COALESCE(logs, ''), COALESCE(provider_id, ''), COALESCE(config, 'null'::jsonb), created_at, updated_at`

// deploymentRepository implements models.DeploymentRepository.
type deploymentRepository struct {
	db *sql.DB
}

// NewDeploymentRepository creates a new DeploymentRepository.
func NewDeploymentRepository(db *sql.DB) models.DeploymentRepository {
	return &deploymentRepository{db: db}
}

func scanDeployment(scan func(dest ...any) error) (models.Deployment, error) {
	var d models.Deployment
	err := scan(
		&d.ID, &d.AgentID, &d.AccountID, &d.Status,
		&d.DockerImage, &d.DeploymentURL, &d.CommitSHA,
		&d.Logs, &d.ProviderID, &d.Config, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Deployment{}, models.ErrNotFound
		}
		return models.Deployment{}, err
	}
	return d, nil
}

// Create inserts a new deployment with status pending unless one was set.
func (repo *deploymentRepository) Create(ctx context.Context, deployment *models.Deployment) error {
	if deployment.ID == "" {
		deployment.ID = uuid.New().String()
	}
	if deployment.Status == "" {
		deployment.Status = models.DeploymentStatusPending
	}

	now := time.Now().UTC()
	deployment.CreatedAt = now
	deployment.UpdatedAt = now

	config := deployment.Config
	if len(config) == 0 {
		config = []byte("null")
	}

	const q = `INSERT INTO deployments
	             (id, agent_id, account_id, status, docker_image, deployment_url, commit_sha, logs, provider_id, config, created_at, updated_at)
	           VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`

	_, err := repo.db.ExecContext(ctx, q,
		deployment.ID,
		deployment.AgentID,
		deployment.AccountID,
		deployment.Status,
		deployment.DockerImage,
		deployment.DeploymentURL,
		deployment.CommitSHA,
		deployment.Logs,
		deployment.ProviderID,
		config,
		now,
	)

	return err
}

// Get retrieves a deployment by id.
func (repo *deploymentRepository) Get(ctx context.Context, id string) (models.Deployment, error) {
	const q = `SELECT ` + deploymentColumns + ` FROM deployments WHERE id = $1`
	return scanDeployment(repo.db.QueryRowContext(ctx, q, id).Scan)
}

// ListByAccount lists deployments for an account, newest first.
func (repo *deploymentRepository) ListByAccount(ctx context.Context, accountID string) ([]models.Deployment, error) {
	const q = `SELECT ` + deploymentColumns + ` FROM deployments WHERE account_id = $1 ORDER BY created_at DESC`

	rows, err := repo.db.QueryContext(ctx, q, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	return out, rows.Err()
}

// Update applies the non-nil fields of the update. Deployments that already
// reached success or failure cannot change status again; the guard lives in
// the UPDATE's WHERE clause so concurrent writers cannot both pass a
// read-side check and overwrite a terminal status.
func (repo *deploymentRepository) Update(ctx context.Context, id string, update models.DeploymentUpdate) (models.Deployment, error) {
	set := "updated_at = NOW()"
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		set += fmt.Sprintf(", %s = $%d", column, len(args))
	}

	statusArg := 0
	if update.Status != nil {
		add("status", *update.Status)
		statusArg = len(args)
	}
	if update.DeploymentURL != nil {
		add("deployment_url", *update.DeploymentURL)
	}
	if update.DockerImage != nil {
		add("docker_image", *update.DockerImage)
	}
	if update.CommitSHA != nil {
		add("commit_sha", *update.CommitSHA)
	}
	if update.Logs != nil {
		add("logs", *update.Logs)
	}
	if update.ProviderID != nil {
		add("provider_id", *update.ProviderID)
	}

	q := `UPDATE deployments SET ` + set + ` WHERE id = $1`
	if statusArg != 0 {
		q += fmt.Sprintf(` AND (status NOT IN ('success', 'failure') OR status = $%d)`, statusArg)
	}
	q += ` RETURNING ` + deploymentColumns

	d, err := scanDeployment(repo.db.QueryRowContext(ctx, q, args...).Scan)
	if errors.Is(err, models.ErrNotFound) {
		// No row matched: either the id is unknown or the guard blocked a
		// status change on a finished deployment.
		if _, getErr := repo.Get(ctx, id); getErr != nil {
			return models.Deployment{}, getErr
		}

		return models.Deployment{}, models.ErrTerminalDeployment
	}

	return d, err
}

// Delete removes a deployment row.
func (repo *deploymentRepository) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM deployments WHERE id = $1`

	res, err := repo.db.ExecContext(ctx, q, id)
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
