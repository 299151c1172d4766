package billing

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"testing"

	"github.com/stripe/stripe-go/v81"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formationai/marketplace/models"
	"github.com/formationai/marketplace/relay"
	stripeClient "github.com/formationai/marketplace/stripe"
)

type fakeStripe struct {
	customersCreated int
	checkoutParams   []stripeClient.CheckoutParams
	customerMetadata map[string]string
	subscription     *stripe.Subscription
}

func (f *fakeStripe) CreateCustomer(_ context.Context, account *models.Account) (*stripe.Customer, error) {
	f.customersCreated++
	return &stripe.Customer{ID: "cus_new"}, nil
}

func (f *fakeStripe) GetCustomer(_ context.Context, customerID string) (*stripe.Customer, error) {
	return &stripe.Customer{ID: customerID, Metadata: f.customerMetadata}, nil
}

func (f *fakeStripe) CreateCheckoutSession(_ context.Context, params stripeClient.CheckoutParams) (*stripe.CheckoutSession, error) {
	f.checkoutParams = append(f.checkoutParams, params)
	return &stripe.CheckoutSession{ID: "cs_test"}, nil
}

func (f *fakeStripe) CreateBillingPortalSession(_ context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error) {
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.com/session/" + customerID}, nil
}

func (f *fakeStripe) GetSubscription(_ context.Context, subscriptionID string) (*stripe.Subscription, error) {
	if f.subscription != nil {
		return f.subscription, nil
	}
	return &stripe.Subscription{ID: subscriptionID}, nil
}

func (f *fakeStripe) VerifyWebhook(payload []byte, signature, secret string) (*stripe.Event, error) {
	return nil, nil
}

type fakeAccounts struct {
	byCustomer    map[string]models.Account
	customerIDs   map[string]string
	subscriptions map[string][2]string
	credits       map[string]int64
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		byCustomer:    make(map[string]models.Account),
		customerIDs:   make(map[string]string),
		subscriptions: make(map[string][2]string),
		credits:       make(map[string]int64),
	}
}

func (f *fakeAccounts) GetBySubject(context.Context, string) (models.Account, error) {
	return models.Account{}, models.ErrNotFound
}

func (f *fakeAccounts) GetByAddress(context.Context, string) (models.Account, error) {
	return models.Account{}, models.ErrNotFound
}

func (f *fakeAccounts) GetByCustomerID(_ context.Context, customerID string) (models.Account, error) {
	account, ok := f.byCustomer[customerID]
	if !ok {
		return models.Account{}, models.ErrNotFound
	}
	return account, nil
}

func (f *fakeAccounts) GetOrCreateBySubject(context.Context, *models.Account) error { return nil }

func (f *fakeAccounts) SetStripeCustomerID(_ context.Context, accountID, customerID string) error {
	f.customerIDs[accountID] = customerID
	return nil
}

func (f *fakeAccounts) SetSubscription(_ context.Context, accountID, subscriptionID, priceID string) error {
	f.subscriptions[accountID] = [2]string{subscriptionID, priceID}
	return nil
}

func (f *fakeAccounts) SetAutoTopup(context.Context, string, models.AutoTopupSettings) error {
	return nil
}

func (f *fakeAccounts) AddCredits(_ context.Context, accountID string, amount int64) error {
	f.credits[accountID] += amount
	return nil
}

type fakeEvents struct {
	seen map[string]bool
}

func (f *fakeEvents) Record(_ context.Context, event *models.WebhookEvent) (bool, error) {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	key := event.Provider + ":" + event.ProviderEventID
	if f.seen[key] {
		return true, nil
	}
	f.seen[key] = true
	return false, nil
}

func (f *fakeEvents) MarkProcessed(context.Context, string, string, string) error { return nil }

type fakeForwarder struct {
	envelopes []relay.Envelope
}

func (f *fakeForwarder) Forward(_ context.Context, envelope relay.Envelope) error {
	f.envelopes = append(f.envelopes, envelope)
	return nil
}

func newTestService(st *fakeStripe, accounts *fakeAccounts, forwarder *fakeForwarder) *Service {
	return NewService(st, accounts, &fakeEvents{}, forwarder, Config{
		TopupPriceID:    "price_topup",
		SuccessURL:      "https://formation.example/settings?checkout=success",
		CancelURL:       "https://formation.example/settings?checkout=cancel",
		PortalReturnURL: "https://formation.example/settings",
	}, log.New(os.Stderr, "", 0))
}

func TestCreateCheckoutSessionReusesCustomer(t *testing.T) {
	st := &fakeStripe{}
	accounts := newFakeAccounts()
	svc := newTestService(st, accounts, &fakeForwarder{})
	ctx := context.Background()

	account := models.Account{ID: "acc-1", SubjectID: "did:user:alice", Email: "alice@example.com"}

	_, err := svc.CreateCheckoutSession(ctx, &account, "price_sub", 1)
	require.NoError(t, err)

	_, err = svc.CreateCheckoutSession(ctx, &account, "price_sub", 1)
	require.NoError(t, err)

	assert.Equal(t, 1, st.customersCreated, "second checkout must reuse the stored customer")
	assert.Equal(t, "cus_new", accounts.customerIDs["acc-1"])
	require.Len(t, st.checkoutParams, 2)
	assert.Equal(t, "cus_new", st.checkoutParams[1].CustomerID)
}

func TestCreateCheckoutSessionModes(t *testing.T) {
	tests := []struct {
		name        string
		priceID     string
		quantity    int64
		wantOneTime bool
		wantCredits string
	}{
		{
			name:        "topup price is a one-time payment",
			priceID:     "price_topup",
			quantity:    500,
			wantOneTime: true,
			wantCredits: "500",
		},
		{
			name:    "other prices are subscriptions",
			priceID: "price_pro_monthly",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStripe{}
			svc := newTestService(st, newFakeAccounts(), &fakeForwarder{})

			account := models.Account{ID: "acc-1", SubjectID: "did:user:alice", StripeCustomerID: "cus_1"}

			_, err := svc.CreateCheckoutSession(context.Background(), &account, tt.priceID, tt.quantity)
			require.NoError(t, err)

			require.Len(t, st.checkoutParams, 1)
			params := st.checkoutParams[0]
			assert.Equal(t, tt.wantOneTime, params.OneTime)
			assert.Equal(t, "acc-1", params.Metadata["account_id"])
			assert.Equal(t, "did:user:alice", params.Metadata["subject_id"])
			assert.Equal(t, tt.wantCredits, params.Metadata["credits"])
		})
	}
}

func TestCreateCheckoutSessionRequiresPrice(t *testing.T) {
	svc := newTestService(&fakeStripe{}, newFakeAccounts(), &fakeForwarder{})

	account := models.Account{ID: "acc-1"}
	_, err := svc.CreateCheckoutSession(context.Background(), &account, "", 1)
	assert.Error(t, err)
}

func TestCreatePortalSession(t *testing.T) {
	svc := newTestService(&fakeStripe{}, newFakeAccounts(), &fakeForwarder{})
	ctx := context.Background()

	t.Run("requires an existing customer", func(t *testing.T) {
		account := models.Account{ID: "acc-1"}
		_, err := svc.CreatePortalSession(ctx, &account)
		assert.ErrorIs(t, err, ErrCustomerNotFound)
	})

	t.Run("returns the portal url", func(t *testing.T) {
		account := models.Account{ID: "acc-1", StripeCustomerID: "cus_1"}
		url, err := svc.CreatePortalSession(ctx, &account)
		require.NoError(t, err)
		assert.Equal(t, "https://billing.stripe.com/session/cus_1", url)
	})
}

func subscriptionEvent(t *testing.T, eventType, eventID string) *stripe.Event {
	t.Helper()

	sub := map[string]any{
		"id":                 "sub_123",
		"status":             "active",
		"customer":           "cus_123",
		"current_period_end": 1750000000,
		"items": map[string]any{
			"data": []any{
				map[string]any{"price": map[string]any{"id": "price_pro_monthly"}},
			},
		},
	}
	raw, err := json.Marshal(sub)
	require.NoError(t, err)

	return &stripe.Event{
		ID:   eventID,
		Type: stripe.EventType(eventType),
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestProcessWebhookEventSubscriptionUpdated(t *testing.T) {
	st := &fakeStripe{}
	accounts := newFakeAccounts()
	accounts.byCustomer["cus_123"] = models.Account{ID: "acc-1", SubjectID: "did:user:alice"}
	forwarder := &fakeForwarder{}
	svc := newTestService(st, accounts, forwarder)

	event := subscriptionEvent(t, "customer.subscription.updated", "evt_1")
	require.NoError(t, svc.ProcessWebhookEvent(context.Background(), event))

	assert.Equal(t, [2]string{"sub_123", "price_pro_monthly"}, accounts.subscriptions["acc-1"])

	require.Len(t, forwarder.envelopes, 1)
	envelope := forwarder.envelopes[0]
	assert.Equal(t, "customer.subscription.updated", envelope.EventType)
	assert.Equal(t, "sub_123", envelope.StripeData.SubscriptionID)
	assert.Equal(t, "cus_123", envelope.StripeData.CustomerID)
	assert.Equal(t, "active", envelope.StripeData.Status)
	assert.Equal(t, "did:user:alice", envelope.StripeData.SubjectID)
}

func TestProcessWebhookEventSubscriptionDeletedUnknownAccount(t *testing.T) {
	st := &fakeStripe{customerMetadata: map[string]string{"subject_id": "did:user:bob"}}
	forwarder := &fakeForwarder{}
	svc := newTestService(st, newFakeAccounts(), forwarder)

	event := subscriptionEvent(t, "customer.subscription.deleted", "evt_2")
	require.NoError(t, svc.ProcessWebhookEvent(context.Background(), event))

	require.Len(t, forwarder.envelopes, 1)
	assert.Equal(t, "did:user:bob", forwarder.envelopes[0].StripeData.SubjectID,
		"subject id must come from customer metadata when no local account exists")
}

func TestProcessWebhookEventDeduplicates(t *testing.T) {
	accounts := newFakeAccounts()
	accounts.byCustomer["cus_123"] = models.Account{ID: "acc-1", SubjectID: "did:user:alice"}
	forwarder := &fakeForwarder{}
	svc := newTestService(&fakeStripe{}, accounts, forwarder)
	ctx := context.Background()

	event := subscriptionEvent(t, "customer.subscription.updated", "evt_3")
	require.NoError(t, svc.ProcessWebhookEvent(ctx, event))
	require.NoError(t, svc.ProcessWebhookEvent(ctx, event))

	assert.Len(t, forwarder.envelopes, 1, "redelivered event must not be forwarded twice")
}

func TestProcessWebhookEventCheckoutCompleted(t *testing.T) {
	accounts := newFakeAccounts()
	svc := newTestService(&fakeStripe{}, accounts, &fakeForwarder{})

	sess := map[string]any{
		"id":   "cs_1",
		"mode": "payment",
		"metadata": map[string]string{
			"account_id": "acc-1",
			"credits":    "500",
		},
	}
	raw, err := json.Marshal(sess)
	require.NoError(t, err)

	event := &stripe.Event{
		ID:   "evt_4",
		Type: "checkout.session.completed",
		Data: &stripe.EventData{Raw: raw},
	}

	require.NoError(t, svc.ProcessWebhookEvent(context.Background(), event))
	assert.Equal(t, int64(500), accounts.credits["acc-1"])
}

func TestProcessWebhookEventCheckoutSubscriptionMode(t *testing.T) {
	st := &fakeStripe{subscription: &stripe.Subscription{
		ID: "sub_99",
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{Price: &stripe.Price{ID: "price_pro_monthly"}}},
		},
	}}
	accounts := newFakeAccounts()
	svc := newTestService(st, accounts, &fakeForwarder{})

	sess := map[string]any{
		"id":           "cs_2",
		"mode":         "subscription",
		"subscription": "sub_99",
		"metadata": map[string]string{
			"account_id": "acc-1",
		},
	}
	raw, err := json.Marshal(sess)
	require.NoError(t, err)

	event := &stripe.Event{
		ID:   "evt_6",
		Type: "checkout.session.completed",
		Data: &stripe.EventData{Raw: raw},
	}

	require.NoError(t, svc.ProcessWebhookEvent(context.Background(), event))
	assert.Equal(t, [2]string{"sub_99", "price_pro_monthly"}, accounts.subscriptions["acc-1"])
}

func TestProcessWebhookEventWithoutForwarder(t *testing.T) {
	accounts := newFakeAccounts()
	accounts.byCustomer["cus_123"] = models.Account{ID: "acc-1", SubjectID: "did:user:alice"}
	svc := NewService(&fakeStripe{}, accounts, &fakeEvents{}, nil, Config{
		TopupPriceID: "price_topup",
	}, log.New(os.Stderr, "", 0))

	event := subscriptionEvent(t, "customer.subscription.updated", "evt_7")
	require.NoError(t, svc.ProcessWebhookEvent(context.Background(), event))

	assert.Equal(t, [2]string{"sub_123", "price_pro_monthly"}, accounts.subscriptions["acc-1"])
}

func TestProcessWebhookEventIgnoresUnknownTypes(t *testing.T) {
	forwarder := &fakeForwarder{}
	svc := newTestService(&fakeStripe{}, newFakeAccounts(), forwarder)

	event := &stripe.Event{
		ID:   "evt_5",
		Type: "invoice.finalized",
		Data: &stripe.EventData{Raw: []byte(`{}`)},
	}

	require.NoError(t, svc.ProcessWebhookEvent(context.Background(), event))
	assert.Empty(t, forwarder.envelopes)
}
