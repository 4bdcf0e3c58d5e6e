// Package chapa implements the MOBILE_MONEY gateway on the Chapa API.
package chapa

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fundly/internal/gateway"
	"fundly/pkg/domain"
	"fundly/pkg/errors"
	"fundly/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	DefaultBaseURL = "https://api.chapa.co/v1"
	defaultTimeout = 15 * time.Second
	// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
	SignatureHeader = "X-Chapa-Signature"
)

type Config struct {
	SecretKey   string
	BaseURL     string
	Timeout     time.Duration
	ReturnURL   string // donor is redirected here; tx_ref is appended
	CallbackURL string
	Title       string
	Description string
}

// Client is a Chapa API client. It holds no state beyond its config.
type Client struct {
	cfg    Config
	http   *http.Client
	logger logger.Logger
}

func NewClient(cfg Config, log logger.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Title == "" {
		cfg.Title = "Donation"
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: log,
	}
}

func (c *Client) Name() domain.Gateway {
	return domain.GatewayMobileMoney
}

func (c *Client) Supports(currency domain.Currency) bool {
	return currency == domain.ETB || currency == domain.USD
}

type customization struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type initializeRequest struct {
	Amount        string         `json:"amount"`
	Currency      string         `json:"currency"`
	Email         string         `json:"email,omitempty"`
	FirstName     string         `json:"first_name,omitempty"`
	LastName      string         `json:"last_name,omitempty"`
	TxRef         string         `json:"tx_ref"`
	CallbackURL   string         `json:"callback_url,omitempty"`
	ReturnURL     string         `json:"return_url,omitempty"`
	Customization *customization `json:"customization,omitempty"`
}

type envelope struct {
	Message json.RawMessage `json:"message"`
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
}

type initializeData struct {
	CheckoutURL string `json:"checkout_url"`
}

type verifyData struct {
	Status    string          `json:"status"`
	TxRef     string          `json:"tx_ref"`
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// Initiate creates a hosted checkout and returns its URL.
func (c *Client) Initiate(ctx context.Context, req *gateway.InitiateRequest) (*gateway.InitiateResult, error) {
	payload := initializeRequest{
		Amount:      req.Amount.StringFixed(2),
		Currency:    string(req.Currency),
		Email:       req.Email,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		TxRef:       req.Reference,
		CallbackURL: c.cfg.CallbackURL,
		ReturnURL:   c.returnURL(req),
		Customization: &customization{
			Title:       c.cfg.Title,
			Description: c.cfg.Description,
		},
	}

	var env envelope
	if err := c.do(ctx, "initiate", http.MethodPost, "/transaction/initialize", payload, &env); err != nil {
		return nil, err
	}
	if env.Status != "success" {
		return nil, gateway.Rejected(c.Name(), "initiate", http.StatusOK, message(env.Message))
	}

	var data initializeData
	if err := json.Unmarshal(env.Data, &data); err != nil || data.CheckoutURL == "" {
		return nil, gateway.Unavailable(c.Name(), "initiate", http.StatusOK, fmt.Errorf("missing checkout_url"))
	}

	return &gateway.InitiateResult{
		Reference:   req.Reference,
		CheckoutURL: data.CheckoutURL,
	}, nil
}

// Verify asks Chapa for the authoritative status of a transaction.
func (c *Client) Verify(ctx context.Context, req *gateway.VerifyRequest) (*gateway.VerifyResult, error) {
	var env envelope
	err := c.do(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(req.Reference), nil, &env)
	if err != nil {
		var gerr *gateway.Error
		if stderrors.As(err, &gerr) && (gerr.StatusCode == http.StatusNotFound || gerr.StatusCode == http.StatusBadRequest) {
			return &gateway.VerifyResult{Reference: req.Reference, Outcome: gateway.OutcomeNotFound}, nil
		}
		return nil, err
	}

	var data verifyData
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, gateway.Unavailable(c.Name(), "verify", http.StatusOK, err)
		}
	}
	if data.TxRef != "" && data.TxRef != req.Reference {
		return &gateway.VerifyResult{Reference: req.Reference, Outcome: gateway.OutcomeNotFound}, nil
	}

	return &gateway.VerifyResult{
		Reference: req.Reference,
		Outcome:   outcome(data.Status),
		Amount:    data.Amount,
		Currency:  domain.ParseCurrency(data.Currency),
		RawStatus: data.Status,
	}, nil
}

type webhookEvent struct {
	TxRef  string `json:"tx_ref"`
	TrxRef string `json:"trx_ref"`
}

// WebhookReference reads tx_ref from a Chapa webhook or callback body.
func (c *Client) WebhookReference(body []byte) (string, error) {
	var ev webhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return "", errors.Wrap(errors.ErrInvalidWebhookPayload, err.Error())
	}
	ref := ev.TxRef
	if ref == "" {
		ref = ev.TrxRef
	}
	if ref == "" {
		return "", gateway.ErrNoReference
	}
	return ref, nil
}

func outcome(status string) gateway.Outcome {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "successful":
		return gateway.OutcomeSucceeded
	case "failed", "cancelled", "canceled":
		return gateway.OutcomeFailed
	default:
		return gateway.OutcomePending
	}
}

func (c *Client) returnURL(req *gateway.InitiateRequest) string {
	if c.cfg.ReturnURL == "" {
		return ""
	}
	u, err := url.Parse(c.cfg.ReturnURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("tx_ref", req.Reference)
	if req.CampaignRef != "" {
		q.Set("campaign", req.CampaignRef)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return gateway.Rejected(c.Name(), op, 0, err.Error())
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return gateway.Rejected(c.Name(), op, 0, err.Error())
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return gateway.Unavailable(c.Name(), op, 0, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gateway.Unavailable(c.Name(), op, resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var env envelope
		_ = json.Unmarshal(raw, &env)
		c.logger.Warn("Chapa request failed", map[string]interface{}{
			"op":     op,
			"status": resp.StatusCode,
		})
		return gateway.FromStatus(c.Name(), op, resp.StatusCode, message(env.Message))
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return gateway.Unavailable(c.Name(), op, resp.StatusCode, err)
	}
	return nil
}

// message flattens Chapa's message field, which is either a string or an
// object of field errors.
func message(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
