// Package stripe wraps the Stripe SDK behind a small interface so services
// can be tested with fakes.
package stripe

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	portalsession "github.com/stripe/stripe-go/v81/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/customer"
	"github.com/stripe/stripe-go/v81/subscription"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/formationai/marketplace/models"
)

// CheckoutParams describes a checkout session request.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	Quantity   int64
	// OneTime selects payment mode instead of subscription mode and asks
	// Stripe to retain the payment method for later off-session charges.
	OneTime    bool
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// Client interface for Stripe operations.
type Client interface {
	CreateCustomer(ctx context.Context, account *models.Account) (*stripe.Customer, error)
	GetCustomer(ctx context.Context, customerID string) (*stripe.Customer, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*stripe.CheckoutSession, error)
	CreateBillingPortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	VerifyWebhook(payload []byte, signature, secret string) (*stripe.Event, error)
}

type client struct{}

// NewClient creates a new Stripe client.
func NewClient(apiKey string) Client {
	stripe.Key = apiKey
	return &client{}
}

// CreateCustomer creates a new Stripe customer tagged with the account and
// subject ids so webhook events can be correlated back.
func (c *client) CreateCustomer(_ context.Context, account *models.Account) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(account.Email),
	}
	params.AddMetadata("account_id", account.ID)
	params.AddMetadata("subject_id", account.SubjectID)

	cust, err := customer.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	return cust, nil
}

// GetCustomer retrieves a Stripe customer.
func (c *client) GetCustomer(_ context.Context, customerID string) (*stripe.Customer, error) {
	cust, err := customer.Get(customerID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get customer: %w", err)
	}

	return cust, nil
}

// CreateCheckoutSession creates a hosted checkout session.
func (c *client) CreateCheckoutSession(_ context.Context, p CheckoutParams) (*stripe.CheckoutSession, error) {
	quantity := p.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(p.CustomerID),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(quantity),
			},
		},
	}

	if p.OneTime {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			SetupFutureUsage: stripe.String("off_session"),
		}
	} else {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
	}

	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return sess, nil
}

// CreateBillingPortalSession creates a self-service billing portal session.
func (c *client) CreateBillingPortalSession(_ context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}

	sess, err := portalsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create billing portal session: %w", err)
	}

	return sess, nil
}

// GetSubscription retrieves a subscription.
func (c *client) GetSubscription(_ context.Context, subscriptionID string) (*stripe.Subscription, error) {
	sub, err := subscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return sub, nil
}

// VerifyWebhook verifies a webhook signature and returns the event. The raw
// payload bytes must be passed untouched since the signature covers them.
func (c *client) VerifyWebhook(payload []byte, signature, secret string) (*stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, secret)
	if err != nil {
		return nil, fmt.Errorf("failed to verify webhook signature: %w", err)
	}

	return &event, nil
}
