package models

import (
	"context"
	"time"
)

// Webhook providers.
const (
	WebhookProviderStripe = "stripe"
	WebhookProviderGitHub = "github"
)

// WebhookEvent stores a received provider event together with dedup metadata
// so replayed deliveries are processed at most once.
type WebhookEvent struct {
	ID              int64
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
	ProcessedAt     *time.Time
	ProcessingError string
	CreatedAt       time.Time
}

// WebhookEventRepository manages the webhook event store.
type WebhookEventRepository interface {
	// Record inserts the event and reports whether it was seen before.
	// A second insert with the same provider+event id is a no-op.
	Record(ctx context.Context, event *WebhookEvent) (seen bool, err error)
	MarkProcessed(ctx context.Context, provider, providerEventID string, processingError string) error
}
