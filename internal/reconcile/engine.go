// Package reconcile owns the donation state machine. Every status change,
// whether triggered by a webhook, a client poll or the sweeper, goes
// through Engine.Settle.
package reconcile

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"fundly/internal/campaign"
	"fundly/internal/gateway"
	"fundly/internal/signature"
	"fundly/pkg/domain"
	"fundly/pkg/errors"
	"fundly/pkg/logger"
	"fundly/pkg/validator"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	referencePrefix   = "tx-"
	defaultListLimit  = 50
	maxListLimit      = 200
	defaultRecentSize = 10
)

// WebhookAuth is how one gateway's webhooks are authenticated. An empty
// Secret disables verification for that gateway.
type WebhookAuth struct {
	Secret string
	Verify signature.Func
}

// SettledHook runs after a SUCCESS transition commits.
type SettledHook func(ctx context.Context, d *domain.Donation)

type Engine struct {
	store      Store
	gateways   *gateway.Registry
	campaigns  CampaignLookup
	aggregator *campaign.Aggregator
	webhooks   map[domain.Gateway]WebhookAuth
	onSettled  []SettledHook
	logger     logger.Logger
	now        func() time.Time
	newRef     func() string
}

type Option func(*Engine)

func WithWebhookAuth(gw domain.Gateway, auth WebhookAuth) Option {
	return func(e *Engine) { e.webhooks[gw] = auth }
}

func WithSettledHook(h SettledHook) Option {
	return func(e *Engine) { e.onSettled = append(e.onSettled, h) }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithReferenceGenerator(fn func() string) Option {
	return func(e *Engine) { e.newRef = fn }
}

func NewEngine(store Store, gateways *gateway.Registry, campaigns CampaignLookup, log logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		gateways:   gateways,
		campaigns:  campaigns,
		aggregator: campaign.NewAggregator(log),
		webhooks:   make(map[domain.Gateway]WebhookAuth),
		logger:     log,
		now:        time.Now,
		newRef:     func() string { return referencePrefix + uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type CreateRequest struct {
	Amount     decimal.Decimal
	Currency   domain.Currency
	Gateway    domain.Gateway
	Email      string
	FirstName  string
	LastName   string
	CampaignID *uuid.UUID
	// CampaignSlug is passed to the gateway for display and return URLs.
	CampaignSlug string
}

// Create records a PENDING donation and asks the gateway to start payment.
// When the gateway call fails the PENDING record is kept and returned
// together with the gateway's error.
func (e *Engine) Create(ctx context.Context, req *CreateRequest) (*domain.Donation, *gateway.InitiateResult, error) {
	gw, err := e.gateways.Get(req.Gateway)
	if err != nil {
		return nil, nil, err
	}
	if !validator.ValidMoney(req.Amount) {
		return nil, nil, fmt.Errorf("%w: %s", errors.ErrInvalidAmount, req.Amount)
	}
	if !req.Currency.Valid() || !gw.Supports(req.Currency) {
		return nil, nil, fmt.Errorf("%w: %s via %s", errors.ErrUnsupportedCurrency, req.Currency, req.Gateway)
	}
	if req.CampaignID != nil {
		c, err := e.campaigns.FindByID(ctx, *req.CampaignID)
		if err != nil {
			return nil, nil, err
		}
		if !c.IsActive {
			return nil, nil, errors.ErrCampaignInactive
		}
	}

	now := e.now().UTC()
	d := &domain.Donation{
		ID:                   uuid.New(),
		CampaignID:           req.CampaignID,
		Amount:               req.Amount,
		Currency:             req.Currency,
		Gateway:              req.Gateway,
		TransactionReference: e.newRef(),
		Status:               domain.DonationStatusPending,
		DonorName:            optional(strings.TrimSpace(req.FirstName + " " + req.LastName)),
		DonorEmail:           optional(strings.TrimSpace(req.Email)),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := e.store.Create(ctx, d); err != nil {
		return nil, nil, errors.Wrap(err, "failed to record donation")
	}

	res, err := gw.Initiate(ctx, &gateway.InitiateRequest{
		Reference:   d.TransactionReference,
		Amount:      d.Amount,
		Currency:    d.Currency,
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		CampaignRef: req.CampaignSlug,
	})
	if err != nil {
		e.logger.Warn("Gateway initiate failed", map[string]interface{}{
			"transaction_reference": d.TransactionReference,
			"gateway":               d.Gateway,
			"error":                 err.Error(),
		})
		return d, nil, err
	}

	if res.ProviderReference != "" {
		e.recordProviderReference(ctx, d, res.ProviderReference)
	}

	e.logger.Info("Donation initiated", map[string]interface{}{
		"transaction_reference": d.TransactionReference,
		"gateway":               d.Gateway,
		"currency":              d.Currency,
		"amount":                d.Amount.String(),
	})
	return d, res, nil
}

// Settle reconciles one donation with its gateway. It is safe to call any
// number of times, concurrently, from any trigger: at most one caller
// performs the PENDING to SUCCESS transition and its campaign increment.
func (e *Engine) Settle(ctx context.Context, ref string) (*domain.Donation, error) {
	d, err := e.store.FindByReference(ctx, ref)
	if err != nil {
		return nil, err
	}
	if d.Status.IsTerminal() {
		return d, nil
	}

	gw, err := e.gateways.Get(d.Gateway)
	if err != nil {
		return nil, err
	}

	req := &gateway.VerifyRequest{Reference: ref}
	if d.ProviderReference != nil {
		req.ProviderReference = *d.ProviderReference
	}
	res, err := gw.Verify(ctx, req)
	if err != nil {
		e.logger.Warn("Gateway verify failed", map[string]interface{}{
			"transaction_reference": ref,
			"gateway":               d.Gateway,
			"error":                 err.Error(),
		})
		return nil, err
	}
	if d.ProviderReference == nil && res.ProviderReference != "" {
		e.recordProviderReference(ctx, d, res.ProviderReference)
	}

	switch res.Outcome {
	case gateway.OutcomeSucceeded:
		if err := e.checkVerifiedAmount(d, res); err != nil {
			return nil, err
		}
		return e.commit(ctx, d, domain.DonationStatusSuccess)
	case gateway.OutcomeFailed:
		return e.commit(ctx, d, domain.DonationStatusFailed)
	default:
		e.logger.Debug("Donation still pending", map[string]interface{}{
			"transaction_reference": ref,
			"outcome":               res.Outcome,
		})
		return d, nil
	}
}

func (e *Engine) commit(ctx context.Context, d *domain.Donation, to domain.DonationStatus) (*domain.Donation, error) {
	ref := d.TransactionReference
	var settled *domain.Donation

	err := e.store.Atomically(ctx, func(tx Tx) error {
		updated, ok, err := tx.Transition(ctx, ref, domain.DonationStatusPending, to, e.now().UTC())
		if err != nil {
			return errors.Wrap(err, "failed to transition donation")
		}
		if !ok {
			return nil
		}
		settled = updated
		if to != domain.DonationStatusSuccess || updated.CampaignID == nil {
			return nil
		}
		return e.aggregator.ApplyIncrement(ctx, tx, *updated.CampaignID, updated.Currency, updated.Amount)
	})
	if err != nil {
		e.logger.Error("Settlement rolled back", map[string]interface{}{
			"transaction_reference": ref,
			"target_status":         to,
			"error":                 err.Error(),
		})
		return nil, err
	}

	if settled == nil {
		// Another caller won the transition.
		return e.store.FindByReference(ctx, ref)
	}

	e.logger.Info("Donation settled", map[string]interface{}{
		"transaction_reference": ref,
		"status":                settled.Status,
		"campaign_id":           settled.CampaignID,
	})

	if settled.Status == domain.DonationStatusSuccess {
		for _, h := range e.onSettled {
			h(ctx, settled)
		}
	}
	return settled, nil
}

// recordProviderReference is best effort; adapters can still locate the
// payment by transaction reference when it is missing.
func (e *Engine) recordProviderReference(ctx context.Context, d *domain.Donation, providerRef string) {
	if err := e.store.SetProviderReference(ctx, d.TransactionReference, providerRef); err != nil {
		e.logger.Error("Failed to record provider reference", map[string]interface{}{
			"transaction_reference": d.TransactionReference,
			"error":                 err.Error(),
		})
		return
	}
	d.ProviderReference = &providerRef
}

// checkVerifiedAmount refuses to credit a payment whose amount or currency
// differs from the ledger. The donation stays PENDING for an operator.
func (e *Engine) checkVerifiedAmount(d *domain.Donation, res *gateway.VerifyResult) error {
	if res.Amount.IsZero() && res.Currency == "" {
		return nil
	}
	if res.Amount.Equal(d.Amount) && (res.Currency == "" || res.Currency == d.Currency) {
		return nil
	}
	e.logger.Error("Verified payment differs from ledger", map[string]interface{}{
		"transaction_reference": d.TransactionReference,
		"ledger_amount":         d.Amount.String(),
		"ledger_currency":       d.Currency,
		"verified_amount":       res.Amount.String(),
		"verified_currency":     res.Currency,
	})
	return fmt.Errorf("%w: %s verified %s %s, ledger has %s %s", errors.ErrVerificationMismatch,
		d.TransactionReference, res.Amount, res.Currency, d.Amount, d.Currency)
}

// HandleWebhook authenticates a webhook and settles the donation it refers
// to. The signature is checked before the ledger is touched, and the
// payload's own status is never trusted.
func (e *Engine) HandleWebhook(ctx context.Context, gw domain.Gateway, body []byte, sig string) (*domain.Donation, error) {
	adapter, err := e.gateways.Get(gw)
	if err != nil {
		return nil, err
	}

	auth := e.webhooks[gw]
	verified, err := signature.Check(auth.Verify, auth.Secret, body, sig)
	if err != nil {
		e.logger.Warn("Rejected webhook", map[string]interface{}{
			"gateway": gw,
			"error":   err.Error(),
		})
		return nil, err
	}
	if !verified {
		e.logger.Warn("Webhook signature verification disabled", map[string]interface{}{
			"gateway": gw,
		})
	}

	ref, err := adapter.WebhookReference(body)
	if err != nil {
		return nil, err
	}
	return e.Settle(ctx, ref)
}

// Get returns the ledger record without contacting the gateway.
func (e *Engine) Get(ctx context.Context, ref string) (*domain.Donation, error) {
	return e.store.FindByReference(ctx, ref)
}

func (e *Engine) List(ctx context.Context, filter domain.DonationFilter) ([]*domain.Donation, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return e.store.List(ctx, filter)
}

func (e *Engine) Stats(ctx context.Context) (*domain.DashboardStats, error) {
	return e.store.Stats(ctx, defaultRecentSize)
}

// IsNonFatal reports errors a webhook sender cannot fix by retrying.
func IsNonFatal(err error) bool {
	return stderrors.Is(err, errors.ErrUnknownTransaction) ||
		stderrors.Is(err, errors.ErrInvalidWebhookPayload) ||
		stderrors.Is(err, errors.ErrUnsupportedGateway) ||
		stderrors.Is(err, errors.ErrVerificationMismatch)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
