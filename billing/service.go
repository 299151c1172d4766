// Package billing brokers checkout and billing portal sessions and applies
// Stripe webhook events to account state.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v81"

	"github.com/formationai/marketplace/models"
	"github.com/formationai/marketplace/relay"
	stripeClient "github.com/formationai/marketplace/stripe"
)

// Logger interface for logging.
type Logger interface {
	Printf(format string, v ...interface{})
}

// ErrCustomerNotFound is returned when a portal session is requested for an
// account that never checked out.
var ErrCustomerNotFound = errors.New("customer not found")

// Config carries the billing-specific settings.
type Config struct {
	// TopupPriceID is the fixed price id that denotes a one-time credit
	// purchase. Every other price id starts a subscription.
	TopupPriceID    string
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
}

// Service implements the billing session broker and webhook processing.
type Service struct {
	stripe      stripeClient.Client
	accountRepo models.AccountRepository
	eventRepo   models.WebhookEventRepository
	forwarder   relay.Forwarder
	cfg         Config
	logger      Logger
}

// NewService creates a billing service.
func NewService(
	stripe stripeClient.Client,
	accountRepo models.AccountRepository,
	eventRepo models.WebhookEventRepository,
	forwarder relay.Forwarder,
	cfg Config,
	logger Logger,
) *Service {
	return &Service{
		stripe:      stripe,
		accountRepo: accountRepo,
		eventRepo:   eventRepo,
		forwarder:   forwarder,
		cfg:         cfg,
		logger:      logger,
	}
}

// ensureCustomer returns the account's Stripe customer id, creating and
// persisting one only when absent. Persisting before use is what keeps a
// second checkout from minting a duplicate customer.
func (s *Service) ensureCustomer(ctx context.Context, account *models.Account) (string, error) {
	if account.StripeCustomerID != "" {
		return account.StripeCustomerID, nil
	}

	cust, err := s.stripe.CreateCustomer(ctx, account)
	if err != nil {
		return "", fmt.Errorf("failed to create Stripe customer: %w", err)
	}

	if err := s.accountRepo.SetStripeCustomerID(ctx, account.ID, cust.ID); err != nil {
		return "", fmt.Errorf("failed to persist customer id: %w", err)
	}

	account.StripeCustomerID = cust.ID

	return cust.ID, nil
}

// CreateCheckoutSession creates a checkout session for the account. The fixed
// top-up price id selects a one-time payment with payment-method retention;
// any other price id starts a subscription.
func (s *Service) CreateCheckoutSession(ctx context.Context, account *models.Account, priceID string, quantity int64) (*stripe.CheckoutSession, error) {
	if priceID == "" {
		return nil, errors.New("price id is required")
	}

	customerID, err := s.ensureCustomer(ctx, account)
	if err != nil {
		return nil, err
	}

	oneTime := priceID == s.cfg.TopupPriceID

	metadata := map[string]string{
		"account_id": account.ID,
		"subject_id": account.SubjectID,
	}
	if oneTime {
		if quantity <= 0 {
			quantity = 1
		}
		metadata["credits"] = strconv.FormatInt(quantity, 10)
	}

	sess, err := s.stripe.CreateCheckoutSession(ctx, stripeClient.CheckoutParams{
		CustomerID: customerID,
		PriceID:    priceID,
		Quantity:   quantity,
		OneTime:    oneTime,
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
		Metadata:   metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	s.logger.Printf("Created checkout session %s for account %s (one_time=%v)", sess.ID, account.ID, oneTime)

	return sess, nil
}

// CreatePortalSession returns a billing portal URL for the account. Accounts
// without a Stripe customer cannot have a portal.
func (s *Service) CreatePortalSession(ctx context.Context, account *models.Account) (string, error) {
	if account.StripeCustomerID == "" {
		return "", ErrCustomerNotFound
	}

	sess, err := s.stripe.CreateBillingPortalSession(ctx, account.StripeCustomerID, s.cfg.PortalReturnURL)
	if err != nil {
		return "", fmt.Errorf("failed to create billing portal session: %w", err)
	}

	return sess.URL, nil
}

// ProcessWebhookEvent applies one verified Stripe event. Redelivered events
// are detected through the event store and skipped. Forwarding failures are
// logged but never fail the webhook: the relay queue owns retries.
func (s *Service) ProcessWebhookEvent(ctx context.Context, event *stripe.Event) error {
	record := models.WebhookEvent{
		Provider:        models.WebhookProviderStripe,
		ProviderEventID: event.ID,
		EventType:       string(event.Type),
		Payload:         event.Data.Raw,
	}

	seen, err := s.eventRepo.Record(ctx, &record)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	if seen {
		s.logger.Printf("Event %s already processed", event.ID)
		return nil
	}

	err = s.dispatchEvent(ctx, event)

	processingError := ""
	if err != nil {
		processingError = err.Error()
	}
	if markErr := s.eventRepo.MarkProcessed(ctx, models.WebhookProviderStripe, event.ID, processingError); markErr != nil {
		s.logger.Printf("Failed to mark event %s processed: %v", event.ID, markErr)
	}

	return err
}

func (s *Service) dispatchEvent(ctx context.Context, event *stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return s.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated":
		return s.handleSubscriptionChanged(ctx, event)
	case "customer.subscription.deleted":
		return s.handleSubscriptionDeleted(ctx, event)
	default:
		s.logger.Printf("Ignoring event type: %s (ID: %s)", event.Type, event.ID)
		return nil
	}
}

// handleCheckoutCompleted attributes the session to the account via metadata.
// One-time payment sessions grant the purchased credits; subscription
// sessions persist the new subscription right away so the account reflects it
// before the subscription event arrives.
func (s *Service) handleCheckoutCompleted(ctx context.Context, event *stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("failed to parse checkout session object: %w", err)
	}

	accountID := sess.Metadata["account_id"]
	s.logger.Printf("Checkout session %s completed for account %s", sess.ID, accountID)

	if accountID == "" {
		return nil
	}

	if sess.Mode == stripe.CheckoutSessionModeSubscription {
		return s.recordCheckoutSubscription(ctx, accountID, &sess)
	}

	if sess.Mode != stripe.CheckoutSessionModePayment {
		return nil
	}

	credits, err := strconv.ParseInt(sess.Metadata["credits"], 10, 64)
	if err != nil || credits <= 0 {
		s.logger.Printf("Checkout session %s has no credit metadata, skipping grant", sess.ID)
		return nil
	}

	if err := s.accountRepo.AddCredits(ctx, accountID, credits); err != nil {
		return fmt.Errorf("failed to grant credits: %w", err)
	}

	s.logger.Printf("Granted %d credits to account %s", credits, accountID)

	return nil
}

// recordCheckoutSubscription looks up the session's subscription and stores
// it on the account. The subscription webhook events remain authoritative, so
// a lookup failure is logged rather than surfaced for retry.
func (s *Service) recordCheckoutSubscription(ctx context.Context, accountID string, sess *stripe.CheckoutSession) error {
	if sess.Subscription == nil || sess.Subscription.ID == "" {
		return nil
	}

	sub, err := s.stripe.GetSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		s.logger.Printf("Failed to resolve subscription %s for session %s: %v", sess.Subscription.ID, sess.ID, err)
		return nil
	}

	if err := s.accountRepo.SetSubscription(ctx, accountID, sub.ID, subscriptionPriceID(sub)); err != nil {
		return fmt.Errorf("failed to record checkout subscription: %w", err)
	}

	return nil
}

func (s *Service) handleSubscriptionChanged(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription object: %w", err)
	}

	account, subjectID, err := s.resolveCustomer(ctx, &sub)
	if err != nil {
		return err
	}

	priceID := subscriptionPriceID(&sub)

	if account != nil {
		if err := s.accountRepo.SetSubscription(ctx, account.ID, sub.ID, priceID); err != nil {
			return fmt.Errorf("failed to update account subscription: %w", err)
		}
	}

	s.forward(ctx, string(event.Type), &sub, priceID, subjectID)

	return nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to parse subscription object: %w", err)
	}

	account, subjectID, err := s.resolveCustomer(ctx, &sub)
	if err != nil {
		return err
	}

	if account != nil {
		if err := s.accountRepo.SetSubscription(ctx, account.ID, "", ""); err != nil {
			return fmt.Errorf("failed to clear account subscription: %w", err)
		}
	}

	s.forward(ctx, string(event.Type), &sub, "", subjectID)

	return nil
}

// resolveCustomer finds the local account and subject id for the event's
// customer. The subject id comes from customer metadata so downstream access
// revocation works even when the local row is missing.
func (s *Service) resolveCustomer(ctx context.Context, sub *stripe.Subscription) (*models.Account, string, error) {
	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil, "", errors.New("subscription has no customer")
	}

	customerID := sub.Customer.ID

	account, err := s.accountRepo.GetByCustomerID(ctx, customerID)
	if err == nil {
		return &account, account.SubjectID, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, "", fmt.Errorf("failed to look up account: %w", err)
	}

	cust, err := s.stripe.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve customer %s: %w", customerID, err)
	}

	return nil, cust.Metadata["subject_id"], nil
}

func (s *Service) forward(ctx context.Context, eventType string, sub *stripe.Subscription, priceID, subjectID string) {
	if s.forwarder == nil {
		return
	}

	envelope := relay.Envelope{
		EventType: eventType,
		StripeData: &relay.SubscriptionData{
			SubscriptionID:   sub.ID,
			CustomerID:       sub.Customer.ID,
			Status:           string(sub.Status),
			PriceID:          priceID,
			CurrentPeriodEnd: sub.CurrentPeriodEnd,
			SubjectID:        subjectID,
		},
	}

	if err := s.forwarder.Forward(ctx, envelope); err != nil {
		s.logger.Printf("Failed to schedule relay forward for %s: %v", sub.ID, err)
	}
}

func subscriptionPriceID(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return ""
	}
	return sub.Items.Data[0].Price.ID
}
