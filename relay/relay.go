// Package relay forwards normalized billing events to the external consumer
// configured via the relay URL.
package relay

import "context"

// SubscriptionData is the normalized projection of a Stripe subscription
// event. The subject id lets the downstream system correlate the event with
// an identity without access to our database.
type SubscriptionData struct {
	SubscriptionID   string `json:"subscription_id"`
	CustomerID       string `json:"customer_id"`
	Status           string `json:"status"`
	PriceID          string `json:"price_id,omitempty"`
	CurrentPeriodEnd int64  `json:"current_period_end,omitempty"`
	SubjectID        string `json:"subject_id"`
}

// PushData is the normalized projection of a GitHub push event.
type PushData struct {
	Repository string `json:"repository"`
	Ref        string `json:"ref"`
	CommitSHA  string `json:"commit_sha"`
}

// Envelope is the JSON body POSTed to the relay target. Exactly one of the
// provider payloads is set.
type Envelope struct {
	EventType  string           `json:"event_type"`
	StripeData *SubscriptionData `json:"stripe_data,omitempty"`
	GitHubData *PushData        `json:"github_data,omitempty"`
}

// Forwarder hands an envelope to the delivery machinery. Implementations must
// provide at-least-once delivery; callers treat a Forward error as a full
// failure to schedule, not a delivery failure.
type Forwarder interface {
	Forward(ctx context.Context, envelope Envelope) error
}
