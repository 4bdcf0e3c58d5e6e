// Package config loads and validates service configuration.
package config

import (
	"fmt"
	"strings"
)

// ValidateCore ensures critical configuration is present.
func (c *Config) ValidateCore() error {
	var missing []string

	if strings.TrimSpace(c.Database.URL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if strings.TrimSpace(c.Redis.URL) == "" {
		missing = append(missing, "REDIS_URL")
	}
	if strings.TrimSpace(c.Server.Port) == "" {
		missing = append(missing, "SERVER_PORT")
	}
	if strings.TrimSpace(c.JWT.Secret) == "" || c.JWT.Secret == "change-this-secret" {
		missing = append(missing, "JWT_SECRET")
	}
	if strings.TrimSpace(c.Stripe.SecretKey) == "" {
		missing = append(missing, "STRIPE_SECRET_KEY")
	}
	if strings.TrimSpace(c.Chapa.SecretKey) == "" {
		missing = append(missing, "CHAPA_SECRET_KEY")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	return nil
}

// UnsignedWebhooks lists gateways whose webhook secret is unset. Their
// webhooks are accepted without verification.
func (c *Config) UnsignedWebhooks() []string {
	var unsigned []string
	if strings.TrimSpace(c.Stripe.WebhookSecret) == "" {
		unsigned = append(unsigned, "STRIPE_WEBHOOK_SECRET")
	}
	if strings.TrimSpace(c.Chapa.WebhookSecret) == "" {
		unsigned = append(unsigned, "CHAPA_WEBHOOK_SECRET")
	}
	return unsigned
}
