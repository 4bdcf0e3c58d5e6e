package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundly/internal/campaign"
	"fundly/internal/gateway"
	"fundly/internal/gateway/stripe"
	"fundly/internal/middleware"
	"fundly/internal/reconcile"
	"fundly/internal/repository/memory"
	"fundly/internal/signature"
	"fundly/pkg/domain"
	"fundly/pkg/errors"
	"fundly/pkg/logger"
	"fundly/pkg/validator"
)

const (
	jwtSecret     = "admin-secret"
	webhookSecret = "whsec_test"
)

type fakeGateway struct {
	mu          sync.Mutex
	name        domain.Gateway
	outcome     gateway.Outcome
	initiateErr error
	verifyErr   error
	verifies    int
}

func (g *fakeGateway) Name() domain.Gateway { return g.name }

func (g *fakeGateway) Supports(c domain.Currency) bool { return c.Valid() }

func (g *fakeGateway) Initiate(ctx context.Context, req *gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	return &gateway.InitiateResult{
		Reference:    req.Reference,
		CheckoutURL:  "https://checkout.example.com/" + req.Reference,
		ClientSecret: "",
	}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, req *gateway.VerifyRequest) (*gateway.VerifyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifies++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return &gateway.VerifyResult{Reference: req.Reference, Outcome: g.outcome}, nil
}

func (g *fakeGateway) WebhookReference(body []byte) (string, error) {
	var payload struct {
		Reference string `json:"reference"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", errors.ErrInvalidWebhookPayload
	}
	if payload.Reference == "" {
		return "", gateway.ErrNoReference
	}
	return payload.Reference, nil
}

func (g *fakeGateway) setOutcome(o gateway.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outcome = o
}

type testApp struct {
	router   http.Handler
	store    *memory.Store
	card     *fakeGateway
	campaign *domain.Campaign
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	log := logger.NewNop()
	store := memory.New()
	card := &fakeGateway{name: domain.GatewayCard, outcome: gateway.OutcomePending}
	mobile := &fakeGateway{name: domain.GatewayMobileMoney, outcome: gateway.OutcomePending}

	campaigns := campaign.NewService(store.Campaigns(), nil, log, 0)
	c, err := campaigns.Create(context.Background(), &campaign.CreateRequest{Title: "Clean Water"})
	require.NoError(t, err)

	engine := reconcile.NewEngine(store.Donations(), gateway.NewRegistry(card, mobile), campaigns, log,
		reconcile.WithWebhookAuth(domain.GatewayCard, reconcile.WebhookAuth{Secret: webhookSecret, Verify: signature.Verify}),
		reconcile.WithSettledHook(campaigns.Invalidate),
		reconcile.WithClock(func() time.Time { return time.Now().Add(-time.Hour) }),
	)
	sweeper := reconcile.NewSweeper(engine, store.Donations(), reconcile.SweepConfig{}, log)
	val := validator.New()

	router := NewRouter(RouterConfig{
		Donations: NewDonationHandler(engine, campaigns, val, log),
		Campaigns: NewCampaignHandler(campaigns, val, log),
		Admin:     NewAdminHandler(engine, campaign.NewAuditor(store.Campaigns(), log), sweeper, log),
		System:    NewSystemHandler(map[string]Check{"db": func(context.Context) error { return nil }}),
		Auth:      middleware.NewAuthMiddleware(jwtSecret, log),
		Logger:    log,
	})
	return &testApp{router: router, store: store, card: card, campaign: c}
}

func (a *testApp) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func adminHeader(t *testing.T) map[string]string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":   uuid.NewString(),
		"user_type": "ADMIN",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func initiateBody(campaignSlug string) map[string]interface{} {
	return map[string]interface{}{
		"amount":     "100.00",
		"currency":   "usd",
		"gateway":    "card",
		"email":      "donor@example.org",
		"first_name": "Abebe",
		"last_name":  "Bikila",
		"campaign":   campaignSlug,
	}
}

func (a *testApp) initiate(t *testing.T, campaignSlug string) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/donations", initiateBody(campaignSlug), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp InitiateDonationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.TransactionReference
}

func (a *testApp) webhook(t *testing.T, ref string, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	body := []byte(fmt.Sprintf(`{"reference":%q,"status":"success"}`, ref))
	headers := map[string]string{}
	if sign {
		headers[stripe.SignatureHeader] = signature.Sign(webhookSecret, body)
	}
	return a.do(t, http.MethodPost, "/api/v1/webhooks/card", body, headers)
}

func TestInitiate(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodPost, "/api/v1/donations", initiateBody("clean-water"), nil)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp InitiateDonationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.TransactionReference)
	assert.Contains(t, resp.CheckoutURL, resp.TransactionReference)
	assert.Equal(t, domain.DonationStatusPending, resp.Donation.Status)
	assert.Equal(t, app.campaign.ID, *resp.Donation.CampaignID)
	assert.Equal(t, domain.USD, resp.Donation.Currency)
	assert.Equal(t, domain.GatewayCard, resp.Donation.Gateway)
}

func TestInitiate_Validation(t *testing.T) {
	app := newTestApp(t)

	cases := map[string]func(b map[string]interface{}){
		"zero amount":      func(b map[string]interface{}) { b["amount"] = "0" },
		"three decimals":   func(b map[string]interface{}) { b["amount"] = "10.005" },
		"unknown currency": func(b map[string]interface{}) { b["currency"] = "EUR" },
		"unknown gateway":  func(b map[string]interface{}) { b["gateway"] = "paypal" },
		"bad email":        func(b map[string]interface{}) { b["email"] = "nope" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			body := initiateBody("")
			mutate(body)
			w := app.do(t, http.MethodPost, "/api/v1/donations", body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "validation_errors")
		})
	}

	w := app.do(t, http.MethodPost, "/api/v1/donations", initiateBody("no-such-campaign"), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	list, err := app.store.Donations().List(context.Background(), domain.DonationFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestInitiate_GatewayUnavailableKeepsPending(t *testing.T) {
	app := newTestApp(t)
	app.card.initiateErr = gateway.Unavailable(domain.GatewayCard, "initiate", 0, context.DeadlineExceeded)

	w := app.do(t, http.MethodPost, "/api/v1/donations", initiateBody(""), nil)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body["transaction_reference"])

	d, err := app.store.Donations().FindByReference(context.Background(), body["transaction_reference"])
	require.NoError(t, err)
	assert.Equal(t, domain.DonationStatusPending, d.Status)
}

func TestInitiate_GatewayRejected(t *testing.T) {
	app := newTestApp(t)
	app.card.initiateErr = gateway.Rejected(domain.GatewayCard, "initiate", 400, "amount too small")

	w := app.do(t, http.MethodPost, "/api/v1/donations", initiateBody(""), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerify(t *testing.T) {
	app := newTestApp(t)
	ref := app.initiate(t, "clean-water")

	w := app.do(t, http.MethodGet, "/api/v1/donations/"+ref+"/verify", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"PENDING"`)

	app.card.setOutcome(gateway.OutcomeSucceeded)
	w = app.do(t, http.MethodGet, "/api/v1/donations/"+ref+"/verify", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"SUCCESS"`)

	w = app.do(t, http.MethodGet, "/api/v1/campaigns/clean-water", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var c domain.Campaign
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	for _, tot := range c.Totals {
		if tot.Currency == domain.USD {
			assert.True(t, decimal.NewFromInt(100).Equal(tot.CurrentRaised))
		}
	}

	w = app.do(t, http.MethodGet, "/api/v1/donations/tx-missing/verify", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerify_Unavailable(t *testing.T) {
	app := newTestApp(t)
	ref := app.initiate(t, "")
	app.card.verifyErr = gateway.Unavailable(domain.GatewayCard, "verify", 502, nil)

	w := app.do(t, http.MethodGet, "/api/v1/donations/"+ref+"/verify", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	d, err := app.store.Donations().FindByReference(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.DonationStatusPending, d.Status)
}

func TestWebhook(t *testing.T) {
	app := newTestApp(t)
	ref := app.initiate(t, "clean-water")
	app.card.setOutcome(gateway.OutcomeSucceeded)

	w := app.webhook(t, ref, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	again := app.webhook(t, ref, true)
	assert.Equal(t, http.StatusOK, again.Code)

	report, err := campaign.NewAuditor(app.store.Campaigns(), logger.NewNop()).Check(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}

func TestWebhook_ForgedSignature(t *testing.T) {
	app := newTestApp(t)
	ref := app.initiate(t, "")
	app.card.setOutcome(gateway.OutcomeSucceeded)
	verifiesBefore := app.card.verifies

	w := app.webhook(t, ref, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	body := []byte(fmt.Sprintf(`{"reference":%q}`, ref))
	w = app.do(t, http.MethodPost, "/api/v1/webhooks/card", body, map[string]string{
		stripe.SignatureHeader: signature.Sign("wrong-secret", body),
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Equal(t, verifiesBefore, app.card.verifies)
	d, err := app.store.Donations().FindByReference(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.DonationStatusPending, d.Status)
}

func TestWebhook_NonFatalErrorsAcknowledged(t *testing.T) {
	app := newTestApp(t)

	w := app.webhook(t, "tx-unknown", true)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, w.Body.String())

	body := []byte(`{"type":"customer.created"}`)
	w = app.do(t, http.MethodPost, "/api/v1/webhooks/card", body, map[string]string{
		stripe.SignatureHeader: signature.Sign(webhookSecret, body),
	})
	assert.Equal(t, http.StatusOK, w.Code)

	w = app.do(t, http.MethodPost, "/api/v1/webhooks/paypal", []byte(`{}`), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhook_MobileMoneyUnsigned(t *testing.T) {
	app := newTestApp(t)
	body := []byte(`{"reference":"tx-unknown"}`)

	w := app.do(t, http.MethodPost, "/api/v1/webhooks/mobile-money", body, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListDonations_HidesEmailAndPending(t *testing.T) {
	app := newTestApp(t)
	app.initiate(t, "clean-water")
	ref := app.initiate(t, "")
	app.card.setOutcome(gateway.OutcomeSucceeded)
	require.Equal(t, http.StatusOK, app.webhook(t, ref, true).Code)

	w := app.do(t, http.MethodGet, "/api/v1/donations", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Donations []*domain.Donation `json:"donations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Donations, 1)
	assert.Equal(t, ref, resp.Donations[0].TransactionReference)
	assert.Nil(t, resp.Donations[0].DonorEmail)
	assert.NotContains(t, w.Body.String(), "donor@example.org")

	w = app.do(t, http.MethodGet, "/api/v1/donations?campaign=general", nil, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Donations, 1)

	w = app.do(t, http.MethodGet, "/api/v1/donations?campaign=clean-water", nil, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Donations)
}

func TestCampaigns(t *testing.T) {
	app := newTestApp(t)

	w := app.do(t, http.MethodGet, "/api/v1/campaigns", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "clean-water")

	w = app.do(t, http.MethodGet, "/api/v1/campaigns/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	create := map[string]interface{}{
		"title": "School Books",
		"goals": []map[string]interface{}{{"currency": "ETB", "amount": "25000"}},
	}
	w = app.do(t, http.MethodPost, "/api/v1/admin/campaigns", create, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = app.do(t, http.MethodPost, "/api/v1/admin/campaigns", create, adminHeader(t))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"slug":"school-books"`)

	w = app.do(t, http.MethodPost, "/api/v1/admin/campaigns", map[string]interface{}{"title": "x"}, adminHeader(t))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminEndpoints(t *testing.T) {
	app := newTestApp(t)
	ref := app.initiate(t, "clean-water")
	headers := adminHeader(t)

	w := app.do(t, http.MethodGet, "/api/v1/admin/reconcile/audit", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"consistent":true`)

	app.card.setOutcome(gateway.OutcomeSucceeded)
	w = app.do(t, http.MethodPost, "/api/v1/admin/reconcile/sweep", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	var sweep reconcile.SweepReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sweep))
	assert.Equal(t, 1, sweep.Succeeded)

	d, err := app.store.Donations().FindByReference(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.DonationStatusSuccess, d.Status)

	w = app.do(t, http.MethodGet, "/api/v1/admin/stats", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	var stats domain.DashboardStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalDonations)
	assert.Equal(t, int64(1), stats.ActiveCampaigns)

	app.store.Campaigns().SetRaised(app.campaign.ID, domain.USD, decimal.NewFromInt(1))
	w = app.do(t, http.MethodGet, "/api/v1/admin/reconcile/audit", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"consistent":false`)
}

func TestHealthAndReady(t *testing.T) {
	app := newTestApp(t)

	assert.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/health", nil, nil).Code)
	assert.Equal(t, http.StatusOK, app.do(t, http.MethodGet, "/ready", nil, nil).Code)

	down := NewSystemHandler(map[string]Check{"redis": func(context.Context) error { return fmt.Errorf("down") }})
	w := httptest.NewRecorder()
	down.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStatusFor(t *testing.T) {
	status, _ := statusFor(fmt.Errorf("wrapped: %w", errors.ErrAggregateUpdateConflict))
	assert.Equal(t, http.StatusConflict, status)
	status, msg := statusFor(fmt.Errorf("tx-1: %w", errors.ErrVerificationMismatch))
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Payment does not match donation", msg)
	status, _ = statusFor(fmt.Errorf("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
}
