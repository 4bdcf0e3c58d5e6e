// Package errors provides common, reusable error values and helpers.
package errors

import (
	"errors"
	"fmt"
)

// Reconciliation errors
var (
	ErrGatewayRejected         = errors.New("gateway rejected request")
	ErrGatewayUnavailable      = errors.New("gateway unavailable")
	ErrInvalidSignature        = errors.New("invalid webhook signature")
	ErrUnknownTransaction      = errors.New("unknown transaction reference")
	ErrAggregateUpdateConflict = errors.New("campaign aggregate update failed")
	ErrVerificationMismatch    = errors.New("verified payment does not match donation")
)

// Ledger and campaign errors
var (
	ErrDonationAlreadyExists = errors.New("donation already exists")
	ErrCampaignNotFound      = errors.New("campaign not found")
	ErrCampaignInactive      = errors.New("campaign is not accepting donations")
	ErrCampaignAlreadyExists = errors.New("campaign already exists")
	ErrUnsupportedCurrency   = errors.New("currency not supported")
	ErrUnsupportedGateway    = errors.New("gateway not supported")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")
	ErrDuplicateRequest      = errors.New("duplicate request in progress")
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
