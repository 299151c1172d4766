package models

import (
	"context"
	"time"
)

// Account represents one marketplace identity. It maps 1:1 to a subject id
// issued by the external identity provider.
type Account struct {
	ID                   string
	SubjectID            string
	Address              string
	Email                string
	Credits              int64
	StripeCustomerID     string
	StripeSubscriptionID string
	StripePriceID        string
	AutoTopupEnabled     bool
	AutoTopupThreshold   int64
	AutoTopupAmount      int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AutoTopupSettings is the user-facing view of the auto-topup fields.
type AutoTopupSettings struct {
	Threshold int64 `json:"threshold" validate:"gte=0"`
	Amount    int64 `json:"amount" validate:"gt=0"`
}

// AccountRepository manages account persistence. GetOrCreateBySubject is the
// only operation allowed to insert; read flows return ErrNotFound instead.
type AccountRepository interface {
	GetBySubject(ctx context.Context, subjectID string) (Account, error)
	GetByAddress(ctx context.Context, address string) (Account, error)
	GetByCustomerID(ctx context.Context, customerID string) (Account, error)
	GetOrCreateBySubject(ctx context.Context, account *Account) error
	SetStripeCustomerID(ctx context.Context, accountID, customerID string) error
	SetSubscription(ctx context.Context, accountID, subscriptionID, priceID string) error
	SetAutoTopup(ctx context.Context, accountID string, settings AutoTopupSettings) error
	AddCredits(ctx context.Context, accountID string, amount int64) error
}
