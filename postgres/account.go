package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/formationai/marketplace/models"
)

const accountColumns = `id, subject_id, address, email, credits, ` +
	`COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''), COALESCE(stripe_price_id, ''), ` +
	`auto_topup_enabled, auto_topup_threshold, auto_topup_amount, created_at, updated_at`

// accountRepository implements models.AccountRepository on top of Postgres.
type accountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db *sql.DB) models.AccountRepository {
	return &accountRepository{db: db}
}

func scanAccount(row *sql.Row) (models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID, &a.SubjectID, &a.Address, &a.Email, &a.Credits,
		&a.StripeCustomerID, &a.StripeSubscriptionID, &a.StripePriceID,
		&a.AutoTopupEnabled, &a.AutoTopupThreshold, &a.AutoTopupAmount,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Account{}, models.ErrNotFound
		}
		return models.Account{}, err
	}
	return a, nil
}

// GetBySubject retrieves an account by its external subject id.
func (repo *accountRepository) GetBySubject(ctx context.Context, subjectID string) (models.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE subject_id = $1`
	return scanAccount(repo.db.QueryRowContext(ctx, q, subjectID))
}

// GetByAddress retrieves an account by its primary wallet address.
func (repo *accountRepository) GetByAddress(ctx context.Context, address string) (models.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE address = $1`
	return scanAccount(repo.db.QueryRowContext(ctx, q, address))
}

// GetByCustomerID retrieves an account by its Stripe customer id.
func (repo *accountRepository) GetByCustomerID(ctx context.Context, customerID string) (models.Account, error) {
	const q = `SELECT ` + accountColumns + ` FROM accounts WHERE stripe_customer_id = $1`
	return scanAccount(repo.db.QueryRowContext(ctx, q, customerID))
}

// GetOrCreateBySubject inserts a fresh account for the subject id or loads the
// existing one. Two concurrent first logins race on the insert; the unique
// index on subject_id plus ON CONFLICT DO NOTHING guarantees a single row, and
// the follow-up select returns it to whichever caller lost.
func (repo *accountRepository) GetOrCreateBySubject(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}

	now := time.Now().UTC()

	const q = `INSERT INTO accounts (id, subject_id, address, email, created_at, updated_at)
	           VALUES ($1, $2, $3, $4, $5, $5)
	           ON CONFLICT (subject_id) DO NOTHING`

	if _, err := repo.db.ExecContext(ctx, q, account.ID, account.SubjectID, account.Address, account.Email, now); err != nil {
		return err
	}

	existing, err := repo.GetBySubject(ctx, account.SubjectID)
	if err != nil {
		return err
	}

	*account = existing

	return nil
}

// SetStripeCustomerID persists the Stripe customer id for the account.
func (repo *accountRepository) SetStripeCustomerID(ctx context.Context, accountID, customerID string) error {
	const q = `UPDATE accounts SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`
	return repo.exec(ctx, q, accountID, customerID)
}

// SetSubscription persists the subscription and price ids for the account.
func (repo *accountRepository) SetSubscription(ctx context.Context, accountID, subscriptionID, priceID string) error {
	const q = `UPDATE accounts SET stripe_subscription_id = $2, stripe_price_id = $3, updated_at = NOW() WHERE id = $1`
	return repo.exec(ctx, q, accountID, subscriptionID, priceID)
}

// SetAutoTopup persists the auto-topup settings for the account.
func (repo *accountRepository) SetAutoTopup(ctx context.Context, accountID string, settings models.AutoTopupSettings) error {
	const q = `UPDATE accounts
	           SET auto_topup_enabled = TRUE, auto_topup_threshold = $2, auto_topup_amount = $3, updated_at = NOW()
	           WHERE id = $1`
	return repo.exec(ctx, q, accountID, settings.Threshold, settings.Amount)
}

// AddCredits atomically adjusts the credit balance.
func (repo *accountRepository) AddCredits(ctx context.Context, accountID string, amount int64) error {
	const q = `UPDATE accounts SET credits = credits + $2, updated_at = NOW() WHERE id = $1`
	return repo.exec(ctx, q, accountID, amount)
}

func (repo *accountRepository) exec(ctx context.Context, q string, args ...any) error {
	res, err := repo.db.ExecContext(ctx, q, args...)
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
