package payment

import (
	"fmt"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
)

// Error codes shared across providers.
const (
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeNetworkError       = "NETWORK_ERROR"
	CodeTimeout            = "TIMEOUT"
	CodeProviderRejected   = "PROVIDER_REJECTED"
	CodeNoAvailableMethod  = "NO_AVAILABLE_METHOD"
	CodeUnknownMethod      = "UNKNOWN_METHOD"
	CodeSignatureMismatch  = "SIGNATURE_MISMATCH"
	CodeConfigurationError = "CONFIGURATION_ERROR"
)

// ProviderError is a classified provider-level failure. Transport
// errors are retryable via the next method in the chain; validation
// errors are not.
type ProviderError struct {
	Provider  string
	Code      string
	Message   string
	Timeout   bool
	Retryable bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Provider, e.Code, e.Message)
}

// newTransportError classifies a failed upstream call, distinguishing
// timeouts from generic transport failures.
func newTransportError(provider string, err error, timedOut bool) *ProviderError {
	code := CodeNetworkError
	message := fmt.Sprintf("request failed: %v", err)
	if timedOut {
		code = CodeTimeout
		message = fmt.Sprintf("request timed out: %v", err)
	}
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Timeout:   timedOut,
		Retryable: true,
	}
}

// Core bundles the behavior every provider shares: order validation,
// settlement-currency normalization, and merchant reference
// generation. Providers hold a Core by composition.
type Core struct {
	validate  *validator.Validate
	converter *Converter
	now       func() time.Time
}

// NewCore creates the shared provider core.
func NewCore(converter *Converter) *Core {
	v := validator.New()
	// Let validator compare decimal amounts as floats (gt=0).
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	if converter == nil {
		converter = NewConverter(nil)
	}
	return &Core{
		validate:  v,
		converter: converter,
		now:       time.Now,
	}
}

// PrepareOrder validates the order and normalizes it to the provider's
// settlement currency. An empty settlement currency follows the order
// currency unchanged. The caller's order is never mutated.
func (c *Core) PrepareOrder(provider string, order PaymentOrder, settlementCurrency string) (PaymentOrder, error) {
	if err := c.validate.Struct(order); err != nil {
		return PaymentOrder{}, &ProviderError{
			Provider: provider,
			Code:     CodeValidationFailed,
			Message:  fmt.Sprintf("invalid order: %v", err),
		}
	}

	if settlementCurrency == "" || settlementCurrency == order.Currency {
		return order, nil
	}

	converted, err := c.converter.Convert(order.Amount, order.Currency, settlementCurrency)
	if err != nil {
		return PaymentOrder{}, &ProviderError{
			Provider: provider,
			Code:     CodeConfigurationError,
			Message:  err.Error(),
		}
	}
	return order.withSettlement(converted, settlementCurrency), nil
}

// NewReference generates the merchant-side order reference used before
// the provider assigns its own identifier.
func (c *Core) NewReference() string {
	suffix := uuid.New().String()[:8]
	return fmt.Sprintf("PAY%d%s", c.now().UnixMilli(), suffix)
}

// failureResult builds a structured failure result for a method.
func failureResult(method policy.Method, code, message string) *PaymentResult {
	return &PaymentResult{
		Success:      false,
		Method:       method,
		ErrorCode:    code,
		ErrorMessage: message,
	}
}
