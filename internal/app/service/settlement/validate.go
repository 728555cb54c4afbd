package settlement

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// CardInput is raw card data as submitted. It is never logged or stored.
type CardInput struct {
	CardNumber  string `json:"cardNumber" validate:"required,number,min=13,max=19"`
	ExpiryMonth string `json:"expiryMonth" validate:"required,len=2,number,month"`
	ExpiryYear  string `json:"expiryYear" validate:"required,len=2,number"`
	CVV         string `json:"cvv" validate:"required,number,min=3,max=4"`
}

type BillingAddress struct {
	FirstName string `json:"firstName" validate:"notblank"`
	LastName  string `json:"lastName" validate:"notblank"`
	Address   string `json:"address" validate:"notblank"`
	City      string `json:"city" validate:"notblank"`
	State     string `json:"state" validate:"notblank"`
	Zip       string `json:"zip" validate:"notblank"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("month", func(fl validator.FieldLevel) bool {
		m, err := strconv.Atoi(fl.Field().String())
		return err == nil && m >= 1 && m <= 12
	})
	return v
}

var fieldMessages = map[string]string{
	"cardNumber":  "Invalid card number",
	"expiryMonth": "Invalid expiry month",
	"expiryYear":  "Invalid expiry year",
	"cvv":         "Invalid CVV",
}

// validatePaymentInput checks the card and billing address required by the
// paid path. The returned message is safe to show the caller and never echoes
// input values.
func validatePaymentInput(card *CardInput, addr *BillingAddress) string {
	if card == nil {
		return "Card details are required"
	}
	if addr == nil {
		return "Billing address is required"
	}
	if msg := firstViolation(validate.Struct(card)); msg != "" {
		return msg
	}
	if msg := firstViolation(validate.Struct(addr)); msg != "" {
		return msg
	}
	return ""
}

func firstViolation(err error) string {
	if err == nil {
		return ""
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid payment details"
	}
	if msg, ok := fieldMessages[verrs[0].Field()]; ok {
		return msg
	}
	return "Billing address field " + verrs[0].Field() + " is required"
}
