package nexus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aethex/platform/internal/events"
	"github.com/aethex/platform/internal/logging"
	"github.com/aethex/platform/internal/middleware"
	"github.com/aethex/platform/internal/payments"
	"github.com/aethex/platform/services/nexus/supabase"
)

// fakeGateway is a payments.Gateway that records calls.
type fakeGateway struct {
	mu        sync.Mutex
	intents   []payments.PaymentIntentRequest
	transfers []payments.TransferRequest
	accounts  int
	status    payments.AccountStatus
	webhooks  map[string]*payments.WebhookEvent
	failNext  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{webhooks: make(map[string]*payments.WebhookEvent)}
}

func (f *fakeGateway) fail() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeGateway) CreatePaymentIntent(_ context.Context, req payments.PaymentIntentRequest) (*payments.PaymentIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	f.intents = append(f.intents, req)
	return &payments.PaymentIntent{
		ID:           "pi_" + req.ContractID,
		ClientSecret: "pi_" + req.ContractID + "_secret",
		Status:       "requires_payment_method",
		AmountCents:  req.AmountCents,
		Currency:     req.Currency,
	}, nil
}

func (f *fakeGateway) CreateConnectedAccount(_ context.Context, userID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return "", err
	}
	f.accounts++
	return "acct_" + userID, nil
}

func (f *fakeGateway) CreateOnboardingLink(_ context.Context, accountID, refreshURL, _ string) (string, error) {
	return "https://connect.stripe.com/setup/" + accountID + "?refresh=" + refreshURL, nil
}

func (f *fakeGateway) GetAccountStatus(_ context.Context, accountID string) (*payments.AccountStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.status
	st.ID = accountID
	return &st, nil
}

func (f *fakeGateway) CreateTransfer(_ context.Context, req payments.TransferRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return "", err
	}
	f.transfers = append(f.transfers, req)
	return "tr_" + req.ContractID, nil
}

// ParseWebhook treats the signature header as a key into the registered events.
func (f *fakeGateway) ParseWebhook(_ []byte, signature string) (*payments.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.webhooks[signature]
	if !ok {
		return nil, payments.ErrInvalidSignature
	}
	return ev, nil
}

type testEnv struct {
	router  *mux.Router
	repo    *supabase.MockRepository
	gateway *fakeGateway
	events  *events.Recorder
}

func newTestServiceWithRouter(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:    supabase.NewMockRepository(),
		gateway: newFakeGateway(),
		events:  &events.Recorder{},
	}
	auth := middleware.NewAuthenticator(middleware.StaticVerifier{
		"client":  {UserID: "u-client", Email: "client@example.com"},
		"creator": {UserID: "u-creator", Email: "creator@example.com"},
		"other":   {UserID: "u-other"},
	}, nil, logging.NewNop())

	svc, err := New(Config{
		Repository: env.repo,
		Auth:       auth,
		Payments:   env.gateway,
		Events:     env.events,
		AppURL:     "https://app.aethex.dev/",
	})
	require.NoError(t, err)

	env.router = mux.NewRouter()
	svc.RegisterRoutes(env.router)
	return env
}

func do(r http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func (env *testEnv) postOpportunity(t *testing.T) supabase.Opportunity {
	t.Helper()
	rr := do(env.router, http.MethodPost, "/api/nexus/opportunities", "client", map[string]interface{}{
		"title":       "Build a lobby",
		"description": "Roblox lobby with matchmaking",
		"budget_type": "fixed",
		"budget_min":  50000,
		"budget_max":  100000,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[supabase.Opportunity](t, rr)
}

func (env *testEnv) acceptedApplication(t *testing.T) (supabase.Opportunity, supabase.Application) {
	t.Helper()
	opp := env.postOpportunity(t)
	rr := do(env.router, http.MethodPost, "/api/nexus/opportunities/"+opp.ID+"/applications", "creator", map[string]interface{}{
		"cover_letter": "I build lobbies",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	app := decode[supabase.Application](t, rr)

	rr = do(env.router, http.MethodPatch, "/api/nexus/applications/"+app.ID, "client", map[string]string{"status": "accepted"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return opp, decode[supabase.Application](t, rr)
}

func (env *testEnv) contract(t *testing.T, amount int64) supabase.Contract {
	t.Helper()
	_, app := env.acceptedApplication(t)
	rr := do(env.router, http.MethodPost, "/api/nexus/contracts", "client", map[string]interface{}{
		"application_id": app.ID,
		"total_amount":   amount,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[supabase.Contract](t, rr)
}

func (env *testEnv) webhook(t *testing.T, key string, ev *payments.WebhookEvent) *httptest.ResponseRecorder {
	t.Helper()
	env.gateway.webhooks[key] = ev
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", key)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

// =============================================================================
// Opportunities
// =============================================================================

func TestNewValidatesConfig(t *testing.T) {
	auth := middleware.NewAuthenticator(middleware.StaticVerifier{}, nil, nil)
	_, err := New(Config{Auth: auth})
	assert.Error(t, err)
	_, err = New(Config{Repository: supabase.NewMockRepository(), Auth: auth, CommissionRate: 1.5})
	assert.Error(t, err)
}

func TestCreateOpportunityValidation(t *testing.T) {
	env := newTestServiceWithRouter(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing title", map[string]interface{}{"budget_type": "fixed"}},
		{"missing budget type", map[string]interface{}{"title": "t"}},
		{"bad budget type", map[string]interface{}{"title": "t", "budget_type": "equity"}},
		{"negative budget", map[string]interface{}{"title": "t", "budget_type": "range", "budget_min": -1}},
		{"min above max", map[string]interface{}{"title": "t", "budget_type": "range", "budget_min": 10, "budget_max": 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(env.router, http.MethodPost, "/api/nexus/opportunities", "client", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestCreateAndListOpportunities(t *testing.T) {
	env := newTestServiceWithRouter(t)
	opp := env.postOpportunity(t)
	assert.Equal(t, OpportunityOpen, opp.Status)
	assert.Equal(t, "u-client", opp.ClientID)
	assert.Equal(t, []string{events.NexusOpportunityPosted}, env.events.Types())

	closed := OpportunityClosed
	_, err := env.repo.CreateOpportunity(context.Background(), &supabase.Opportunity{ClientID: "u-other", Title: "old", BudgetType: "hourly", Status: closed})
	require.NoError(t, err)

	type page struct {
		Data  []supabase.Opportunity `json:"data"`
		Total int64                  `json:"total"`
	}

	rr := do(env.router, http.MethodGet, "/api/nexus/opportunities", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	p := decode[page](t, rr)
	assert.Equal(t, int64(1), p.Total)
	assert.Equal(t, opp.ID, p.Data[0].ID)

	rr = do(env.router, http.MethodGet, "/api/nexus/opportunities?status=all", "", nil)
	assert.Equal(t, int64(2), decode[page](t, rr).Total)

	rr = do(env.router, http.MethodGet, "/api/nexus/opportunities?status=all&budget_type=hourly", "", nil)
	assert.Equal(t, int64(1), decode[page](t, rr).Total)

	rr = do(env.router, http.MethodGet, "/api/nexus/opportunities?status=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(env.router, http.MethodGet, "/api/nexus/opportunities/"+opp.ID, "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(env.router, http.MethodGet, "/api/nexus/opportunities/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestUpdateOpportunity(t *testing.T) {
	env := newTestServiceWithRouter(t)
	opp := env.postOpportunity(t)
	path := "/api/nexus/opportunities/" + opp.ID

	rr := do(env.router, http.MethodPatch, path, "creator", map[string]string{"status": "closed"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(env.router, http.MethodPatch, path, "client", map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// budget_min is checked against the stored budget_max.
	rr = do(env.router, http.MethodPatch, path, "client", map[string]int64{"budget_min": 200000})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(env.router, http.MethodPatch, path, "client", map[string]string{"status": "Closed"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, OpportunityClosed, decode[supabase.Opportunity](t, rr).Status)
}

// =============================================================================
// Applications
// =============================================================================

func TestApply(t *testing.T) {
	env := newTestServiceWithRouter(t)
	opp := env.postOpportunity(t)
	path := "/api/nexus/opportunities/" + opp.ID + "/applications"

	rr := do(env.router, http.MethodPost, path, "client", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "owner cannot apply")

	rr = do(env.router, http.MethodPost, path, "creator", map[string]interface{}{"proposed_rate": -5})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(env.router, http.MethodPost, path, "creator", map[string]string{"cover_letter": "hi"})
	require.Equal(t, http.StatusCreated, rr.Code)
	app := decode[supabase.Application](t, rr)
	assert.Equal(t, ApplicationSubmitted, app.Status)

	rr = do(env.router, http.MethodPost, path, "creator", map[string]string{"cover_letter": "again"})
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(env.router, http.MethodPost, "/api/nexus/opportunities/missing/applications", "creator", map[string]string{})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(env.router, http.MethodGet, path, "creator", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = do(env.router, http.MethodGet, path, "client", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"total":1`)

	rr = do(env.router, http.MethodGet, "/api/nexus/applications/mine", "creator", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), app.ID)
}

func TestApplyToClosedOpportunity(t *testing.T) {
	env := newTestServiceWithRouter(t)
	opp := env.postOpportunity(t)
	rr := do(env.router, http.MethodPatch, "/api/nexus/opportunities/"+opp.ID, "client", map[string]string{"status": "closed"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(env.router, http.MethodPost, "/api/nexus/opportunities/"+opp.ID+"/applications", "creator", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUpdateApplicationStatus(t *testing.T) {
	env := newTestServiceWithRouter(t)
	opp := env.postOpportunity(t)
	rr := do(env.router, http.MethodPost, "/api/nexus/opportunities/"+opp.ID+"/applications", "creator", map[string]string{})
	require.Equal(t, http.StatusCreated, rr.Code)
	app := decode[supabase.Application](t, rr)
	path := "/api/nexus/applications/" + app.ID

	rr = do(env.router, http.MethodPatch, path, "other", map[string]string{"status": "withdrawn"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(env.router, http.MethodPatch, path, "creator", map[string]string{"status": "accepted"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(env.router, http.MethodPatch, path, "client", map[string]string{"status": "withdrawn"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(env.router, http.MethodPatch, path, "client", map[string]string{"status": "reviewing"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(env.router, http.MethodPatch, path, "creator", map[string]string{"status": "withdrawn"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, ApplicationWithdrawn, decode[supabase.Application](t, rr).Status)

	rr = do(env.router, http.MethodPatch, path, "client", map[string]string{"status": "accepted"})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

// =============================================================================
// Contracts
// =============================================================================

func TestCreateContract(t *testing.T) {
	env := newTestServiceWithRouter(t)
	opp, app := env.acceptedApplication(t)

	rr := do(env.router, http.MethodPost, "/api/nexus/contracts", "creator", map[string]interface{}{
		"application_id": app.ID, "total_amount": 10000,
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(env.router, http.MethodPost, "/api/nexus/contracts", "client", map[string]interface{}{
		"application_id": app.ID, "total_amount": 0,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(env.router, http.MethodPost, "/api/nexus/contracts", "client", map[string]interface{}{
		"application_id": app.ID, "total_amount": 12345,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	c := decode[supabase.Contract](t, rr)
	assert.Equal(t, int64(12345), c.TotalAmount)
	assert.Equal(t, int64(2469), c.CommissionAmount)
	assert.Equal(t, int64(9876), c.CreatorPayout)
	assert.Equal(t, ContractPending, c.Status)
	assert.Equal(t, "u-client", c.ClientID)
	assert.Equal(t, "u-creator", c.CreatorID)
	assert.Equal(t, opp.Title, c.Title)

	stored, err := env.repo.GetOpportunity(context.Background(), opp.ID)
	require.NoError(t, err)
	assert.Equal(t, OpportunityInProgress, stored.Status)

	rr = do(env.router, http.MethodPost, "/api/nexus/contracts", "client", map[string]interface{}{
		"application_id": app.ID, "total_amount": 12345,
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, env.events.Types(), events.NexusContractCreated)
}

func TestCreateContractRequiresAcceptedApplication(t *testing.T) {
	env := newTestServiceWithRouter(t)
	opp := env.postOpportunity(t)
	rr := do(env.router, http.MethodPost, "/api/nexus/opportunities/"+opp.ID+"/applications", "creator", map[string]string{})
	app := decode[supabase.Application](t, rr)

	rr = do(env.router, http.MethodPost, "/api/nexus/contracts", "client", map[string]interface{}{
		"application_id": app.ID, "total_amount": 100,
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestContractVisibilityAndListing(t *testing.T) {
	env := newTestServiceWithRouter(t)
	c := env.contract(t, 5000)

	rr := do(env.router, http.MethodGet, "/api/nexus/contracts/"+c.ID, "other", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(env.router, http.MethodGet, "/api/nexus/contracts/"+c.ID, "creator", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(env.router, http.MethodGet, "/api/nexus/contracts?role=client", "creator", nil)
	assert.Contains(t, rr.Body.String(), `"total":0`)
	rr = do(env.router, http.MethodGet, "/api/nexus/contracts?role=creator", "creator", nil)
	assert.Contains(t, rr.Body.String(), `"total":1`)
	rr = do(env.router, http.MethodGet, "/api/nexus/contracts", "client", nil)
	assert.Contains(t, rr.Body.String(), `"total":1`)
	rr = do(env.router, http.MethodGet, "/api/nexus/contracts?role=boss", "client", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestContractTransitions(t *testing.T) {
	env := newTestServiceWithRouter(t)
	c := env.contract(t, 5000)
	path := "/api/nexus/contracts/" + c.ID

	rr := do(env.router, http.MethodPatch, path, "client", map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "pending cannot complete")

	rr = do(env.router, http.MethodPatch, path, "client", map[string]string{"status": "active"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(env.router, http.MethodPatch, path, "creator", map[string]string{"status": "completed"})
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(env.router, http.MethodPatch, path, "creator", map[string]string{"status": "disputed"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(env.router, http.MethodPatch, path, "client", map[string]string{"status": "active"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(env.router, http.MethodPatch, path, "client", map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, rr.Code)
	done := decode[supabase.Contract](t, rr)
	assert.Equal(t, ContractCompleted, done.Status)
	assert.NotNil(t, done.EndDate)
	assert.Empty(t, done.StripeTransferID, "unpaid contracts are not transferred")
	assert.Empty(t, env.gateway.transfers)

	rr = do(env.router, http.MethodPatch, path, "client", map[string]string{"status": "active"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

// =============================================================================
// Payments
// =============================================================================

func TestPaymentLifecycle(t *testing.T) {
	env := newTestServiceWithRouter(t)
	c := env.contract(t, 10000)

	rr := do(env.router, http.MethodPost, "/api/nexus/contracts/"+c.ID+"/payment-intent", "creator", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(env.router, http.MethodPost, "/api/nexus/contracts/"+c.ID+"/payment-intent", "client", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	intent := decode[paymentIntentResponse](t, rr)
	assert.Equal(t, "pi_"+c.ID, intent.PaymentIntentID)
	assert.Equal(t, "pi_"+c.ID+"_secret", intent.ClientSecret)
	assert.Equal(t, int64(10000), intent.Amount)
	assert.Equal(t, "usd", intent.Currency)
	require.Len(t, env.gateway.intents, 1)
	assert.Equal(t, c.ID, env.gateway.intents[0].TransferGroup)

	payment, err := env.repo.GetPaymentByIntent(context.Background(), intent.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, supabase.PaymentPending, payment.Status)

	// Stripe confirms the payment; the contract becomes active.
	rr = env.webhook(t, "sig-1", &payments.WebhookEvent{ID: "evt_1", Type: "payment_intent.succeeded", ObjectID: intent.PaymentIntentID})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	payment, err = env.repo.GetPaymentByIntent(context.Background(), intent.PaymentIntentID)
	require.NoError(t, err)
	assert.Equal(t, supabase.PaymentSucceeded, payment.Status)
	stored, err := env.repo.GetContract(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, ContractActive, stored.Status)
	assert.Contains(t, env.events.Types(), events.NexusPaymentSucceeded)

	// Redelivery is acknowledged as a duplicate.
	rr = env.webhook(t, "sig-1", &payments.WebhookEvent{ID: "evt_1", Type: "payment_intent.succeeded", ObjectID: intent.PaymentIntentID})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"duplicate":true`)

	rr = do(env.router, http.MethodPost, "/api/nexus/contracts/"+c.ID+"/payment-intent", "client", nil)
	assert.Equal(t, http.StatusConflict, rr.Code, "already paid")

	// The creator onboards, then the client completes and the payout moves.
	_, err = env.repo.UpsertCreatorProfile(context.Background(), &supabase.CreatorProfile{
		UserID: "u-creator", StripeAccountID: "acct_creator", StripeOnboardingComplete: true,
	})
	require.NoError(t, err)

	rr = do(env.router, http.MethodPatch, "/api/nexus/contracts/"+c.ID, "client", map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, rr.Code)
	done := decode[supabase.Contract](t, rr)
	assert.Equal(t, "tr_"+c.ID, done.StripeTransferID)
	require.Len(t, env.gateway.transfers, 1)
	tr := env.gateway.transfers[0]
	assert.Equal(t, int64(8000), tr.AmountCents)
	assert.Equal(t, "acct_creator", tr.Destination)
	assert.Equal(t, c.ID, tr.TransferGroup)
}

func TestTransferFailureKeepsCompletion(t *testing.T) {
	env := newTestServiceWithRouter(t)
	c := env.contract(t, 10000)
	_, err := env.repo.CreatePayment(context.Background(), &supabase.Payment{
		ContractID: c.ID, ClientID: "u-client", Amount: 10000, StripePaymentIntentID: "pi_x", Status: supabase.PaymentSucceeded,
	})
	require.NoError(t, err)
	_, err = env.repo.UpsertCreatorProfile(context.Background(), &supabase.CreatorProfile{
		UserID: "u-creator", StripeAccountID: "acct_creator", StripeOnboardingComplete: true,
	})
	require.NoError(t, err)

	rr := do(env.router, http.MethodPatch, "/api/nexus/contracts/"+c.ID, "client", map[string]string{"status": "active"})
	require.Equal(t, http.StatusOK, rr.Code)

	env.gateway.failNext = errors.New("insufficient balance")
	rr = do(env.router, http.MethodPatch, "/api/nexus/contracts/"+c.ID, "client", map[string]string{"status": "completed"})
	require.Equal(t, http.StatusOK, rr.Code)
	done := decode[supabase.Contract](t, rr)
	assert.Equal(t, ContractCompleted, done.Status)
	assert.Empty(t, done.StripeTransferID)
}

func TestPaymentIntentProviderError(t *testing.T) {
	env := newTestServiceWithRouter(t)
	c := env.contract(t, 10000)
	env.gateway.failNext = errors.New("stripe down")

	rr := do(env.router, http.MethodPost, "/api/nexus/contracts/"+c.ID+"/payment-intent", "client", nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestWebhookPaymentFailed(t *testing.T) {
	env := newTestServiceWithRouter(t)
	c := env.contract(t, 10000)
	rr := do(env.router, http.MethodPost, "/api/nexus/contracts/"+c.ID+"/payment-intent", "client", nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = env.webhook(t, "sig-f", &payments.WebhookEvent{ID: "evt_f", Type: "payment_intent.payment_failed", ObjectID: "pi_" + c.ID, Failure: "card declined"})
	require.Equal(t, http.StatusOK, rr.Code)

	payment, err := env.repo.GetPaymentByIntent(context.Background(), "pi_"+c.ID)
	require.NoError(t, err)
	assert.Equal(t, supabase.PaymentFailed, payment.Status)
	assert.Equal(t, "card declined", payment.FailureReason)
	assert.Contains(t, env.events.Types(), events.NexusPaymentFailed)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestServiceWithRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", strings.NewReader(`{}`))
	req.Header.Set("Stripe-Signature", "forged")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWebhookUnknownEventAcknowledged(t *testing.T) {
	env := newTestServiceWithRouter(t)
	rr := env.webhook(t, "sig-u", &payments.WebhookEvent{ID: "evt_u", Type: "charge.refunded"})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"received":true`)
}

func TestWebhookFailureIsRetried(t *testing.T) {
	env := newTestServiceWithRouter(t)
	c := env.contract(t, 10000)
	rr := do(env.router, http.MethodPost, "/api/nexus/contracts/"+c.ID+"/payment-intent", "client", nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	ev := &payments.WebhookEvent{ID: "evt_r", Type: "payment_intent.succeeded", ObjectID: "pi_" + c.ID}
	env.repo.ErrorOnNextCall = errors.New("db unavailable")
	rr = env.webhook(t, "sig-r", ev)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	rr = env.webhook(t, "sig-r", ev)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "duplicate")
}

func TestWebhookAccountUpdated(t *testing.T) {
	env := newTestServiceWithRouter(t)
	_, err := env.repo.UpsertCreatorProfile(context.Background(), &supabase.CreatorProfile{UserID: "u-creator", StripeAccountID: "acct_9"})
	require.NoError(t, err)

	rr := env.webhook(t, "sig-a", &payments.WebhookEvent{
		ID:   "evt_a",
		Type: "account.updated",
		Account: payments.AccountStatus{
			ID: "acct_9", DetailsSubmitted: true, PayoutsEnabled: true,
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)

	profile, err := env.repo.GetCreatorProfile(context.Background(), "u-creator")
	require.NoError(t, err)
	assert.True(t, profile.StripeOnboardingComplete)
}

// =============================================================================
// Stripe Connect
// =============================================================================

func TestStripeConnect(t *testing.T) {
	env := newTestServiceWithRouter(t)

	rr := do(env.router, http.MethodGet, "/api/nexus/stripe/connect/status", "creator", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(env.router, http.MethodPost, "/api/nexus/stripe/connect", "creator", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decode[map[string]string](t, rr)
	assert.Equal(t, "acct_u-creator", resp["account_id"])
	assert.Contains(t, resp["url"], "refresh=https://app.aethex.dev/nexus/stripe/refresh")

	// A second call reuses the account.
	rr = do(env.router, http.MethodPost, "/api/nexus/stripe/connect", "creator", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, env.gateway.accounts)

	env.gateway.status = payments.AccountStatus{DetailsSubmitted: true, PayoutsEnabled: true, ChargesEnabled: true}
	rr = do(env.router, http.MethodGet, "/api/nexus/stripe/connect/status", "creator", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	st := decode[connectStatusResponse](t, rr)
	assert.True(t, st.OnboardingComplete)

	profile, err := env.repo.GetCreatorProfile(context.Background(), "u-creator")
	require.NoError(t, err)
	assert.True(t, profile.StripeOnboardingComplete)
}

func TestPaymentsNotConfigured(t *testing.T) {
	auth := middleware.NewAuthenticator(middleware.StaticVerifier{"client": {UserID: "u-client"}}, nil, logging.NewNop())
	svc, err := New(Config{Repository: supabase.NewMockRepository(), Auth: auth})
	require.NoError(t, err)
	r := mux.NewRouter()
	svc.RegisterRoutes(r)

	rr := do(r, http.MethodPost, "/api/nexus/stripe/connect", "client", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	rr = do(r, http.MethodPost, "/api/webhooks/stripe", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
