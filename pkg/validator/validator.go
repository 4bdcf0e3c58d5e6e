package validator

import (
	"fmt"
	"html"
	"reflect"
	"strings"

	"fundly/pkg/domain"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// MaxFractionDigits is the finest amount granularity accepted for a donation.
const MaxFractionDigits = 2

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := &Validator{
		validate: validator.New(),
	}
	v.registerCustomValidations()
	return v
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, e := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"Field '%s' failed validation '%s'",
					e.Field(),
					e.Tag(),
				))
			}
			return fmt.Errorf("validation failed: %v", errMessages)
		}
		return err
	}
	return nil
}

// ValidateStructured returns a map of field -> error message for frontend usage
func (v *Validator) ValidateStructured(i interface{}) map[string]string {
	errs := make(map[string]string)
	if err := v.validate.Struct(i); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, e := range validationErrors {
				msg := fmt.Sprintf("failed validation on '%s'", e.Tag())
				switch e.Tag() {
				case "required":
					msg = "This field is required"
				case "email":
					msg = "Invalid email address"
				case "min":
					msg = fmt.Sprintf("Must be at least %s characters", e.Param())
				case "max":
					msg = fmt.Sprintf("Must be at most %s characters", e.Param())
				case "money":
					msg = fmt.Sprintf("Must be a positive amount with at most %d decimal places", MaxFractionDigits)
				case "currency":
					msg = "Unsupported currency"
				case "gateway":
					msg = "Unsupported gateway"
				}
				errs[e.Field()] = msg
			}
		} else {
			errs["_global"] = err.Error()
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidMoney reports whether d is a positive amount with at most two
// fractional digits.
func ValidMoney(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(MaxFractionDigits))
}

func (v *Validator) registerCustomValidations() {
	// Decimals are validated through their canonical string form.
	v.validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if val, ok := field.Interface().(decimal.Decimal); ok {
			return val.String()
		}
		return nil
	}, decimal.Decimal{})

	_ = v.validate.RegisterValidation("money", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		if err != nil {
			return false
		}
		return ValidMoney(d)
	})

	_ = v.validate.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		return domain.ParseCurrency(fl.Field().String()).Valid()
	})

	_ = v.validate.RegisterValidation("gateway", func(fl validator.FieldLevel) bool {
		return domain.ParseGateway(fl.Field().String()).Valid()
	})
}

// Sanitize cleans string input to prevent XSS attacks
func Sanitize(input string) string {
	return html.EscapeString(strings.TrimSpace(input))
}
