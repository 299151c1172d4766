package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
	stripelib "github.com/stripe/stripe-go/v81"

	"github.com/formationai/marketplace/billing"
	"github.com/formationai/marketplace/deployments"
	"github.com/formationai/marketplace/github"
	"github.com/formationai/marketplace/models"
	"github.com/formationai/marketplace/web/auth"
)

type fakeBilling struct {
	checkoutSession *stripelib.CheckoutSession
	checkoutErr     error
	portalURL       string
	portalErr       error
	processedEvents []string
	processErr      error
}

func (f *fakeBilling) CreateCheckoutSession(_ context.Context, _ *models.Account, priceID string, _ int64) (*stripelib.CheckoutSession, error) {
	if f.checkoutErr != nil {
		return nil, f.checkoutErr
	}

	if f.checkoutSession != nil {
		return f.checkoutSession, nil
	}

	return &stripelib.CheckoutSession{ID: "cs_" + priceID}, nil
}

func (f *fakeBilling) CreatePortalSession(_ context.Context, _ *models.Account) (string, error) {
	return f.portalURL, f.portalErr
}

func (f *fakeBilling) ProcessWebhookEvent(_ context.Context, event *stripelib.Event) error {
	f.processedEvents = append(f.processedEvents, event.ID)

	return f.processErr
}

type fakeGitHub struct {
	signatureErr error
	pushResult   models.Deployment
	pushErr      error
	callbackErr  error
	integrations []models.Integration
}

func (f *fakeGitHub) VerifySignature(_ []byte, _ string) error { return f.signatureErr }

func (f *fakeGitHub) HandleInstallCallback(_ context.Context, _ string, _ int64) (models.Integration, error) {
	return models.Integration{ID: "int-1"}, f.callbackErr
}

func (f *fakeGitHub) HandlePush(_ context.Context, _ []byte) (models.Deployment, error) {
	return f.pushResult, f.pushErr
}

func (f *fakeGitHub) CreateIntegration(_ context.Context, accountID string, params github.CreateIntegrationParams) (models.Integration, error) {
	return models.Integration{ID: "int-1", AccountID: accountID, RepoName: params.RepoName, Branch: params.Branch}, nil
}

func (f *fakeGitHub) ListIntegrations(_ context.Context, _ string) ([]models.Integration, error) {
	return f.integrations, nil
}

func (f *fakeGitHub) SetIntegrationStatus(_ context.Context, _, id, status string) error {
	if status != models.IntegrationStatusActive && status != models.IntegrationStatusInactive {
		return errors.New("invalid integration status")
	}

	for i, integration := range f.integrations {
		if integration.ID == id {
			f.integrations[i].Status = status

			return nil
		}
	}

	return models.ErrNotFound
}

func (f *fakeGitHub) DeleteIntegration(_ context.Context, _, id string) error {
	for _, integration := range f.integrations {
		if integration.ID == id {
			return nil
		}
	}

	return models.ErrNotFound
}

type fakeDeployments struct {
	rows map[string]models.Deployment
}

func newFakeDeployments() *fakeDeployments {
	return &fakeDeployments{rows: make(map[string]models.Deployment)}
}

func (f *fakeDeployments) Create(_ context.Context, accountID string, params deployments.CreateParams) (models.Deployment, error) {
	d := models.Deployment{
		ID:        "dep-1",
		AgentID:   params.AgentID,
		AccountID: accountID,
		Status:    models.DeploymentStatusPending,
	}
	f.rows[d.ID] = d

	return d, nil
}

func (f *fakeDeployments) Get(_ context.Context, accountID, id string) (models.Deployment, error) {
	d, ok := f.rows[id]
	if !ok || d.AccountID != accountID {
		return models.Deployment{}, models.ErrNotFound
	}

	return d, nil
}

func (f *fakeDeployments) List(_ context.Context, accountID string) ([]models.Deployment, error) {
	var out []models.Deployment

	for _, d := range f.rows {
		if d.AccountID == accountID {
			out = append(out, d)
		}
	}

	return out, nil
}

func (f *fakeDeployments) Update(_ context.Context, accountID, id string, update models.DeploymentUpdate) (models.Deployment, error) {
	d, err := f.Get(context.Background(), accountID, id)
	if err != nil {
		return models.Deployment{}, err
	}

	if update.Status != nil {
		if d.Terminal() {
			return models.Deployment{}, models.ErrTerminalDeployment
		}

		d.Status = *update.Status
	}

	f.rows[id] = d

	return d, nil
}

func (f *fakeDeployments) Delete(_ context.Context, accountID, id string) error {
	if _, err := f.Get(context.Background(), accountID, id); err != nil {
		return err
	}

	delete(f.rows, id)

	return nil
}

type fakeStripeVerifier struct {
	event *stripelib.Event
	err   error
}

func (f *fakeStripeVerifier) VerifyWebhook(_ []byte, _, _ string) (*stripelib.Event, error) {
	return f.event, f.err
}

type fakeAccountsRepo struct {
	autoTopup    map[string]models.AutoTopupSettings
	autoTopupErr error
}

func (f *fakeAccountsRepo) GetBySubject(_ context.Context, _ string) (models.Account, error) {
	return models.Account{}, models.ErrNotFound
}

func (f *fakeAccountsRepo) GetByAddress(_ context.Context, _ string) (models.Account, error) {
	return models.Account{}, models.ErrNotFound
}

func (f *fakeAccountsRepo) GetByCustomerID(_ context.Context, _ string) (models.Account, error) {
	return models.Account{}, models.ErrNotFound
}

func (f *fakeAccountsRepo) GetOrCreateBySubject(_ context.Context, _ *models.Account) error {
	return nil
}

func (f *fakeAccountsRepo) SetStripeCustomerID(_ context.Context, _, _ string) error { return nil }

func (f *fakeAccountsRepo) SetSubscription(_ context.Context, _, _, _ string) error { return nil }

func (f *fakeAccountsRepo) SetAutoTopup(_ context.Context, accountID string, settings models.AutoTopupSettings) error {
	if f.autoTopupErr != nil {
		return f.autoTopupErr
	}

	if f.autoTopup == nil {
		f.autoTopup = make(map[string]models.AutoTopupSettings)
	}

	f.autoTopup[accountID] = settings

	return nil
}

func (f *fakeAccountsRepo) AddCredits(_ context.Context, _ string, _ int64) error { return nil }

func testDeps() Dependencies {
	return Dependencies{
		Logger:              log.New(os.Stderr, "", 0),
		Accounts:            &fakeAccountsRepo{},
		Billing:             &fakeBilling{},
		GitHub:              &fakeGitHub{},
		Deployments:         newFakeDeployments(),
		StripeVerifier:      &fakeStripeVerifier{},
		StripeWebhookSecret: "whsec_test",
		InstallRedirectURL:  "https://app.example.com/integrations",
	}
}

func authedRequest(method, target string, body []byte, account models.Account) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	ctx := context.WithValue(req.Context(), auth.AccountKey, account)
	ctx = context.WithValue(ctx, auth.SubjectKey, account.SubjectID)

	return req.WithContext(ctx)
}

func testAccount() models.Account {
	return models.Account{ID: "acc-1", SubjectID: "did:user:alice", Credits: 10}
}

func TestAccountList(t *testing.T) {
	group := NewHandlerGroup(testDeps())

	rec := httptest.NewRecorder()
	group.Account.List(rec, authedRequest(http.MethodGet, "/api/account/list", nil, testAccount()))

	require.Equal(t, http.StatusOK, rec.Code)

	var accounts []models.AccountResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accounts))
	require.Len(t, accounts, 1)
	require.Equal(t, "acc-1", accounts[0].ID)
}

func TestAccountListUnauthenticated(t *testing.T) {
	group := NewHandlerGroup(testDeps())

	rec := httptest.NewRecorder()
	group.Account.List(rec, httptest.NewRequest(http.MethodGet, "/api/account/list", http.NoBody))

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSetAutoTopup(t *testing.T) {
	deps := testDeps()
	accounts := &fakeAccountsRepo{}
	deps.Accounts = accounts
	group := NewHandlerGroup(deps)

	body := []byte(`{"threshold": 10, "amount": 100}`)
	rec := httptest.NewRecorder()
	group.Account.SetAutoTopup(rec, authedRequest(http.MethodPost, "/api/account/auto-topup", body, testAccount()))

	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 100, accounts.autoTopup["acc-1"].Amount)
}

func TestSetAutoTopupRejectsInvalid(t *testing.T) {
	group := NewHandlerGroup(testDeps())

	body := []byte(`{"threshold": -5, "amount": 0}`)
	rec := httptest.NewRecorder()
	group.Account.SetAutoTopup(rec, authedRequest(http.MethodPost, "/api/account/auto-topup", body, testAccount()))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateCheckoutSession(t *testing.T) {
	group := NewHandlerGroup(testDeps())

	body := []byte(`{"priceId": "price_123", "quantity": 5}`)
	rec := httptest.NewRecorder()
	group.Billing.CreateCheckoutSession(rec, authedRequest(http.MethodPost, "/api/stripe/create-checkout-session", body, testAccount()))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "cs_price_123", resp["sessionId"])
}

func TestCreateCheckoutSessionMissingPrice(t *testing.T) {
	group := NewHandlerGroup(testDeps())

	rec := httptest.NewRecorder()
	group.Billing.CreateCheckoutSession(rec, authedRequest(http.MethodPost, "/api/stripe/create-checkout-session", []byte(`{}`), testAccount()))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreatePortalSessionNoCustomer(t *testing.T) {
	deps := testDeps()
	deps.Billing = &fakeBilling{portalErr: billing.ErrCustomerNotFound}
	group := NewHandlerGroup(deps)

	rec := httptest.NewRecorder()
	group.Billing.CreatePortalSession(rec, authedRequest(http.MethodPost, "/api/stripe/create-portal-session", nil, testAccount()))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStripeWebhookBadSignature(t *testing.T) {
	deps := testDeps()
	billingSvc := &fakeBilling{}
	deps.Billing = billingSvc
	deps.StripeVerifier = &fakeStripeVerifier{err: errors.New("bad signature")}
	group := NewHandlerGroup(deps)

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")

	rec := httptest.NewRecorder()
	group.Billing.HandleStripeWebhook(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, billingSvc.processedEvents, "unverified payload must not be processed")
}

func TestStripeWebhookAcksDespiteProcessingError(t *testing.T) {
	deps := testDeps()
	deps.Billing = &fakeBilling{processErr: errors.New("db down")}
	deps.StripeVerifier = &fakeStripeVerifier{event: &stripelib.Event{ID: "evt_1"}}
	group := NewHandlerGroup(deps)

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=good")

	rec := httptest.NewRecorder()
	group.Billing.HandleStripeWebhook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp["received"])
}

func TestGitHubWebhookBadSignature(t *testing.T) {
	deps := testDeps()
	deps.GitHub = &fakeGitHub{signatureErr: github.ErrBadSignature}
	group := NewHandlerGroup(deps)

	req := httptest.NewRequest(http.MethodPost, "/api/github/webhooks", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-Hub-Signature-256", "sha256=bad")
	req.Header.Set("X-GitHub-Event", "push")

	rec := httptest.NewRecorder()
	group.GitHub.HandleWebhook(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGitHubWebhookUnknownRepository(t *testing.T) {
	deps := testDeps()
	deps.GitHub = &fakeGitHub{pushErr: github.ErrUnknownRepository}
	group := NewHandlerGroup(deps)

	req := httptest.NewRequest(http.MethodPost, "/api/github/webhooks", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-GitHub-Event", "push")

	rec := httptest.NewRecorder()
	group.GitHub.HandleWebhook(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGitHubWebhookIgnoredBranchStillAcks(t *testing.T) {
	deps := testDeps()
	deps.GitHub = &fakeGitHub{pushErr: github.ErrBranchIgnored}
	group := NewHandlerGroup(deps)

	req := httptest.NewRequest(http.MethodPost, "/api/github/webhooks", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-GitHub-Event", "push")

	rec := httptest.NewRecorder()
	group.GitHub.HandleWebhook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateIntegrationStatus(t *testing.T) {
	deps := testDeps()
	deps.GitHub = &fakeGitHub{integrations: []models.Integration{
		{ID: "int-1", AccountID: "acc-1", Status: models.IntegrationStatusActive},
	}}
	group := NewHandlerGroup(deps)

	req := authedRequest(http.MethodPatch, "/api/github/integrations/int-1", []byte(`{"status": "inactive"}`), testAccount())
	req = mux.SetURLVars(req, map[string]string{"id": "int-1"})

	rec := httptest.NewRecorder()
	group.GitHub.UpdateIntegration(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateIntegrationUnknownID(t *testing.T) {
	group := NewHandlerGroup(testDeps())

	req := authedRequest(http.MethodPatch, "/api/github/integrations/missing", []byte(`{"status": "inactive"}`), testAccount())
	req = mux.SetURLVars(req, map[string]string{"id": "missing"})

	rec := httptest.NewRecorder()
	group.GitHub.UpdateIntegration(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateIntegrationRejectsBadStatus(t *testing.T) {
	deps := testDeps()
	deps.GitHub = &fakeGitHub{integrations: []models.Integration{
		{ID: "int-1", AccountID: "acc-1", Status: models.IntegrationStatusActive},
	}}
	group := NewHandlerGroup(deps)

	req := authedRequest(http.MethodPatch, "/api/github/integrations/int-1", []byte(`{"status": "paused"}`), testAccount())
	req = mux.SetURLVars(req, map[string]string{"id": "int-1"})

	rec := httptest.NewRecorder()
	group.GitHub.UpdateIntegration(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGitHubWebhookNonPushEvent(t *testing.T) {
	group := NewHandlerGroup(testDeps())

	req := httptest.NewRequest(http.MethodPost, "/api/github/webhooks", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("X-GitHub-Event", "ping")

	rec := httptest.NewRecorder()
	group.GitHub.HandleWebhook(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp["success"])
}

func TestInstallCallbackRedirects(t *testing.T) {
	group := NewHandlerGroup(testDeps())

	req := httptest.NewRequest(http.MethodGet, "/api/github/callback?state=0xabc&installation_id=4242", http.NoBody)
	rec := httptest.NewRecorder()
	group.GitHub.InstallCallback(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://app.example.com/integrations", rec.Header().Get("Location"))
}

func TestInstallCallbackUnknownAccount(t *testing.T) {
	deps := testDeps()
	deps.GitHub = &fakeGitHub{callbackErr: models.ErrNotFound}
	group := NewHandlerGroup(deps)

	req := httptest.NewRequest(http.MethodGet, "/api/github/callback?state=0xmissing&installation_id=4242", http.NoBody)
	rec := httptest.NewRecorder()
	group.GitHub.InstallCallback(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInstallCallbackMissingParams(t *testing.T) {
	group := NewHandlerGroup(testDeps())

	req := httptest.NewRequest(http.MethodGet, "/api/github/callback?state=0xabc", http.NoBody)
	rec := httptest.NewRecorder()
	group.GitHub.InstallCallback(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeploymentCreate(t *testing.T) {
	group := NewHandlerGroup(testDeps())

	body := []byte(`{"agent_id": "agent-1"}`)
	rec := httptest.NewRecorder()
	group.Deployment.Create(rec, authedRequest(http.MethodPost, "/api/deployments", body, testAccount()))

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp models.DeploymentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, models.DeploymentStatusPending, resp.Status)
}

func TestDeploymentCreateRequiresAgent(t *testing.T) {
	group := NewHandlerGroup(testDeps())

	rec := httptest.NewRecorder()
	group.Deployment.Create(rec, authedRequest(http.MethodPost, "/api/deployments", []byte(`{}`), testAccount()))

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeploymentGetNotFound(t *testing.T) {
	group := NewHandlerGroup(testDeps())

	req := authedRequest(http.MethodGet, "/api/deployments/missing", nil, testAccount())
	req = mux.SetURLVars(req, map[string]string{"id": "missing"})

	rec := httptest.NewRecorder()
	group.Deployment.Get(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeploymentUpdateTerminal(t *testing.T) {
	deps := testDeps()
	repo := newFakeDeployments()
	repo.rows["dep-1"] = models.Deployment{ID: "dep-1", AccountID: "acc-1", Status: models.DeploymentStatusSuccess}
	deps.Deployments = repo
	group := NewHandlerGroup(deps)

	req := authedRequest(http.MethodPatch, "/api/deployments/dep-1", []byte(`{"status": "running"}`), testAccount())
	req = mux.SetURLVars(req, map[string]string{"id": "dep-1"})

	rec := httptest.NewRecorder()
	group.Deployment.Update(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeploymentDelete(t *testing.T) {
	deps := testDeps()
	repo := newFakeDeployments()
	repo.rows["dep-1"] = models.Deployment{ID: "dep-1", AccountID: "acc-1", Status: models.DeploymentStatusSuccess}
	deps.Deployments = repo
	group := NewHandlerGroup(deps)

	req := authedRequest(http.MethodDelete, "/api/deployments/dep-1", nil, testAccount())
	req = mux.SetURLVars(req, map[string]string{"id": "dep-1"})

	rec := httptest.NewRecorder()
	group.Deployment.Delete(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, repo.rows)
}
