// Package stripe implements the CARD gateway on Stripe PaymentIntents.
package stripe

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fundly/internal/gateway"
	"fundly/pkg/domain"
	"fundly/pkg/errors"
	"fundly/pkg/logger"

	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v82"
)

const (
	defaultTimeout = 15 * time.Second
	// SignatureHeader carries the timestamped Stripe webhook signature.
	SignatureHeader = "Stripe-Signature"
	// MetadataReference links a PaymentIntent back to its donation.
	MetadataReference = "transaction_reference"
)

type Config struct {
	SecretKey  string
	BackendURL string // overrides api.stripe.com
	Timeout    time.Duration
}

type Client struct {
	api     *stripego.Client
	timeout time.Duration
	logger  logger.Logger
}

func NewClient(cfg Config, log logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	backendCfg := &stripego.BackendConfig{
		HTTPClient:        &http.Client{Timeout: cfg.Timeout},
		MaxNetworkRetries: stripego.Int64(0),
		LeveledLogger:     &leveledLogger{log: log},
	}
	if cfg.BackendURL != "" {
		backendCfg.URL = stripego.String(strings.TrimRight(cfg.BackendURL, "/"))
	}

	return &Client{
		api:     stripego.NewClient(cfg.SecretKey, stripego.WithBackends(stripego.NewBackendsWithConfig(backendCfg))),
		timeout: cfg.Timeout,
		logger:  log,
	}
}

func (c *Client) Name() domain.Gateway {
	return domain.GatewayCard
}

func (c *Client) Supports(currency domain.Currency) bool {
	return currency == domain.USD || currency == domain.ETB
}

// Initiate creates a PaymentIntent and returns its client secret. The
// transaction reference is the idempotency key, so a retried initiate
// never creates a second intent.
func (c *Client) Initiate(ctx context.Context, req *gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := &stripego.PaymentIntentCreateParams{
		Amount:   stripego.Int64(toMinorUnits(req.Amount)),
		Currency: stripego.String(strings.ToLower(string(req.Currency))),
		AutomaticPaymentMethods: &stripego.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripego.Bool(true),
		},
	}
	if req.Email != "" {
		params.ReceiptEmail = stripego.String(req.Email)
	}
	if req.CampaignRef != "" {
		params.Description = stripego.String("Donation: " + req.CampaignRef)
	}
	params.AddMetadata(MetadataReference, req.Reference)
	params.SetIdempotencyKey(req.Reference)

	pi, err := c.api.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return nil, c.classify("initiate", err)
	}

	return &gateway.InitiateResult{
		Reference:         req.Reference,
		ProviderReference: pi.ID,
		ClientSecret:      pi.ClientSecret,
	}, nil
}

// Verify retrieves the PaymentIntent recorded for the donation. Without a
// recorded id, for instance when the create response was lost, the intent
// is looked up by its reference metadata instead.
func (c *Client) Verify(ctx context.Context, req *gateway.VerifyRequest) (*gateway.VerifyResult, error) {
	notFound := &gateway.VerifyResult{Reference: req.Reference, Outcome: gateway.OutcomeNotFound}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		pi  *stripego.PaymentIntent
		err error
	)
	if req.ProviderReference != "" {
		pi, err = c.api.V1PaymentIntents.Retrieve(ctx, req.ProviderReference, nil)
	} else {
		pi, err = c.searchByReference(ctx, req.Reference)
	}
	if err != nil {
		var se *stripego.Error
		if stderrors.As(err, &se) && (se.HTTPStatusCode == http.StatusNotFound || se.Code == stripego.ErrorCodeResourceMissing) {
			return notFound, nil
		}
		return nil, c.classify("verify", err)
	}
	if pi == nil {
		return notFound, nil
	}

	if pi.Metadata[MetadataReference] != req.Reference {
		c.logger.Warn("PaymentIntent belongs to another donation", map[string]interface{}{
			"transaction_reference": req.Reference,
			"payment_intent":        pi.ID,
		})
		return notFound, nil
	}

	return &gateway.VerifyResult{
		Reference:         req.Reference,
		ProviderReference: pi.ID,
		Outcome:           outcome(pi.Status),
		Amount:            fromMinorUnits(pi.Amount),
		Currency:          domain.ParseCurrency(string(pi.Currency)),
		RawStatus:         string(pi.Status),
	}, nil
}

// searchByReference returns nil when no intent carries the reference.
// Search results lag writes by up to a minute, so a miss is retried by
// the next poll or sweep.
func (c *Client) searchByReference(ctx context.Context, ref string) (*stripego.PaymentIntent, error) {
	params := &stripego.PaymentIntentSearchParams{}
	params.Query = fmt.Sprintf("metadata['%s']:'%s'", MetadataReference, strings.ReplaceAll(ref, "'", `\'`))
	params.Limit = stripego.Int64(1)

	for pi, err := range c.api.V1PaymentIntents.Search(ctx, params) {
		if err != nil {
			return nil, err
		}
		return pi, nil
	}
	return nil, nil
}

// WebhookReference reads the donation reference from a payment_intent.*
// event. Other event types carry no reference.
func (c *Client) WebhookReference(body []byte) (string, error) {
	var event stripego.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return "", errors.Wrap(errors.ErrInvalidWebhookPayload, err.Error())
	}
	if !strings.HasPrefix(string(event.Type), "payment_intent.") || event.Data == nil {
		return "", gateway.ErrNoReference
	}

	var pi stripego.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return "", errors.Wrap(errors.ErrInvalidWebhookPayload, err.Error())
	}
	ref := pi.Metadata[MetadataReference]
	if ref == "" {
		return "", gateway.ErrNoReference
	}
	return ref, nil
}

func outcome(status stripego.PaymentIntentStatus) gateway.Outcome {
	switch status {
	case stripego.PaymentIntentStatusSucceeded:
		return gateway.OutcomeSucceeded
	case stripego.PaymentIntentStatusCanceled:
		return gateway.OutcomeFailed
	default:
		return gateway.OutcomePending
	}
}

func (c *Client) classify(op string, err error) error {
	var se *stripego.Error
	if stderrors.As(err, &se) && se.HTTPStatusCode != 0 {
		return gateway.FromStatus(c.Name(), op, se.HTTPStatusCode, se.Msg)
	}
	return gateway.Unavailable(c.Name(), op, 0, err)
}

// Both supported currencies use two minor-unit digits.
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

type leveledLogger struct {
	log logger.Logger
}

func (l *leveledLogger) Debugf(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...), map[string]interface{}{"component": "stripe"})
}

func (l *leveledLogger) Infof(format string, v ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, v...), map[string]interface{}{"component": "stripe"})
}

func (l *leveledLogger) Warnf(format string, v ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, v...), map[string]interface{}{"component": "stripe"})
}

func (l *leveledLogger) Errorf(format string, v ...interface{}) {
	l.log.Error(fmt.Sprintf(format, v...), map[string]interface{}{"component": "stripe"})
}
