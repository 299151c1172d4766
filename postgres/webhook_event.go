package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/formationai/marketplace/models"
)

// webhookEventRepository implements models.WebhookEventRepository.
type webhookEventRepository struct {
	db *sql.DB
}

// NewWebhookEventRepository creates a new WebhookEventRepository.
func NewWebhookEventRepository(db *sql.DB) models.WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// Record inserts the event if its provider+event id pair is new. Redelivered
// events hit the unique index and report seen=true without a second row.
func (repo *webhookEventRepository) Record(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	const q = `INSERT INTO webhook_events (provider, provider_event_id, event_type, payload, created_at)
	           VALUES ($1, $2, $3, $4, $5)
	           ON CONFLICT (provider, provider_event_id) DO NOTHING
	           RETURNING id`

	now := time.Now().UTC()

	err := repo.db.QueryRowContext(ctx, q,
		event.Provider, event.ProviderEventID, event.EventType, event.Payload, now,
	).Scan(&event.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, err
	}

	event.CreatedAt = now

	return false, nil
}

// MarkProcessed stamps the event with the processing outcome.
func (repo *webhookEventRepository) MarkProcessed(ctx context.Context, provider, providerEventID, processingError string) error {
	const q = `UPDATE webhook_events
	           SET processed_at = NOW(), processing_error = $3
	           WHERE provider = $1 AND provider_event_id = $2`

	_, err := repo.db.ExecContext(ctx, q, provider, providerEventID, processingError)
	return err
}
