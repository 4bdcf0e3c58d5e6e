// Package signature authenticates gateway webhooks.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"fundly/pkg/errors"

	"github.com/stripe/stripe-go/v82/webhook"
)

// Func checks a raw body against a signature using secret.
type Func func(secret string, body []byte, sig string) bool

// Verify checks a hex-encoded HMAC-SHA256 of body keyed by secret.
// The comparison runs in constant time.
func Verify(secret string, body []byte, sig string) bool {
	if secret == "" || sig == "" {
		return false
	}
	given, err := hex.DecodeString(strings.TrimSpace(sig))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), given)
}

// Sign returns the hex HMAC-SHA256 that Verify accepts.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyStripe checks a Stripe-Signature header, including its timestamp
// tolerance.
func VerifyStripe(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	return webhook.ValidatePayload(body, header, secret) == nil
}

// Check applies fn. An empty secret means verification is disabled and
// reports verified=false with no error; callers are expected to log that.
// A missing or wrong signature is ErrInvalidSignature.
func Check(fn Func, secret string, body []byte, sig string) (bool, error) {
	if secret == "" {
		return false, nil
	}
	if sig == "" || fn == nil || !fn(secret, body, sig) {
		return false, errors.ErrInvalidSignature
	}
	return true, nil
}
