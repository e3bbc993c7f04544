package payment

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
)

// Callback carries the raw material of a provider callback/webhook for
// verification: form parameters (Alipay, WeChat), headers, and the raw
// body (Stripe, PayPal).
type Callback struct {
	Params  url.Values
	Headers http.Header
	Body    []byte
}

// Provider is the narrow contract each concrete payment processor
// implements. Implementations catch all transport failures and return
// structured errors; nothing escapes to the router uncaught.
type Provider interface {
	Method() policy.Method

	// SettlementCurrency is the currency the provider requires at
	// request time. Empty means the order currency is used as-is.
	SettlementCurrency() string

	CreatePayment(ctx context.Context, order PaymentOrder) (*PaymentResult, error)
	ConfirmPayment(ctx context.Context, externalID string) (*PaymentConfirmation, error)
	RefundPayment(ctx context.Context, externalID string, amount decimal.Decimal) (*RefundResult, error)

	// VerifyCallback authenticates an asynchronous provider callback.
	// Unsigned synchronous returns are rejected: confirmation must come
	// from the signed webhook or an explicit status query.
	VerifyCallback(ctx context.Context, cb Callback) error
}
