package validator

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type donationForm struct {
	Amount   decimal.Decimal `validate:"required,money"`
	Currency string          `validate:"required,currency"`
	Gateway  string          `validate:"required,gateway"`
	Email    string          `validate:"omitempty,email"`
}

func TestValidateStructured_Valid(t *testing.T) {
	v := New()
	errs := v.ValidateStructured(&donationForm{
		Amount:   decimal.RequireFromString("25.50"),
		Currency: "usd",
		Gateway:  "mobile-money",
		Email:    "donor@example.org",
	})
	assert.Nil(t, errs)
}

func TestValidateStructured_Invalid(t *testing.T) {
	v := New()
	errs := v.ValidateStructured(&donationForm{
		Amount:   decimal.RequireFromString("10.005"),
		Currency: "EUR",
		Gateway:  "paypal",
		Email:    "not-an-email",
	})

	assert.Len(t, errs, 4)
	assert.Contains(t, errs["Amount"], "at most 2 decimal places")
	assert.Equal(t, "Unsupported currency", errs["Currency"])
	assert.Equal(t, "Unsupported gateway", errs["Gateway"])
	assert.Equal(t, "Invalid email address", errs["Email"])
}

func TestValidMoney(t *testing.T) {
	cases := map[string]bool{
		"100":    true,
		"0.01":   true,
		"12.30":  true,
		"0":      false,
		"-5":     false,
		"1.001":  false,
		"0.0001": false,
	}
	for in, want := range cases {
		assert.Equal(t, want, ValidMoney(decimal.RequireFromString(in)), in)
	}
}

func TestValidate_ReturnsError(t *testing.T) {
	v := New()
	err := v.Validate(&donationForm{Amount: decimal.Zero, Currency: "USD", Gateway: "CARD"})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "money")
}
