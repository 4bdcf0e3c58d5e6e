// Package gateway defines the provider-neutral contract every payment
// provider adapter implements.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"fundly/pkg/domain"
	"fundly/pkg/errors"

	"github.com/shopspring/decimal"
)

// Outcome is a provider's authoritative answer about a payment.
type Outcome string

const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeFailed    Outcome = "FAILED"
	OutcomePending   Outcome = "PENDING"
	OutcomeNotFound  Outcome = "NOT_FOUND"
)

type InitiateRequest struct {
	Reference   string
	Amount      decimal.Decimal
	Currency    domain.Currency
	Email       string
	FirstName   string
	LastName    string
	CampaignRef string
}

// InitiateResult carries whatever the donor needs to complete payment:
// a hosted checkout URL or a client secret for an embedded form.
type InitiateResult struct {
	Reference         string `json:"transaction_reference"`
	ProviderReference string `json:"-"`
	CheckoutURL       string `json:"checkout_url,omitempty"`
	ClientSecret      string `json:"client_secret,omitempty"`
}

type VerifyRequest struct {
	Reference         string
	ProviderReference string
}

type VerifyResult struct {
	Reference string
	// ProviderReference is set when the provider located the payment.
	ProviderReference string
	Outcome           Outcome
	Amount            decimal.Decimal
	Currency          domain.Currency
	RawStatus         string
}

// Gateway is implemented by each payment provider adapter. Verify is the
// only trusted source of a payment's status.
type Gateway interface {
	Name() domain.Gateway
	Supports(currency domain.Currency) bool
	Initiate(ctx context.Context, req *InitiateRequest) (*InitiateResult, error)
	Verify(ctx context.Context, req *VerifyRequest) (*VerifyResult, error)
	// WebhookReference extracts the transaction reference a webhook body
	// refers to. It never interprets the payment status.
	WebhookReference(body []byte) (string, error)
}

// Error describes a failed provider call. It matches its Kind sentinel
// under errors.Is.
type Error struct {
	Gateway    domain.Gateway
	Op         string
	StatusCode int
	Kind       error
	Message    string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %v", strings.ToLower(string(e.Gateway)), e.Op, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Unavailable reports a network failure, timeout, 5xx or 429.
func Unavailable(gw domain.Gateway, op string, status int, err error) *Error {
	return &Error{Gateway: gw, Op: op, StatusCode: status, Kind: errors.ErrGatewayUnavailable, Err: err}
}

// Rejected reports a provider-side validation failure.
func Rejected(gw domain.Gateway, op string, status int, message string) *Error {
	return &Error{Gateway: gw, Op: op, StatusCode: status, Kind: errors.ErrGatewayRejected, Message: message}
}

// FromStatus classifies a non-2xx provider response.
func FromStatus(gw domain.Gateway, op string, status int, message string) *Error {
	if status >= 500 || status == 429 {
		e := Unavailable(gw, op, status, nil)
		e.Message = message
		return e
	}
	return Rejected(gw, op, status, message)
}

// ErrNoReference is returned by WebhookReference for events that do not
// concern a donation. Such webhooks are acknowledged and ignored.
var ErrNoReference = fmt.Errorf("%w: no transaction reference", errors.ErrInvalidWebhookPayload)
