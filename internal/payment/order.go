// Package payment routes payment attempts to concrete providers
// according to regional policy, with ordered fallback and shared
// validation, currency normalization, and error classification.
package payment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
)

// BillingCycle is the subscription interval for recurring orders.
type BillingCycle string

const (
	CycleMonthly BillingCycle = "monthly"
	CycleYearly  BillingCycle = "yearly"
)

// PaymentOrder is the caller-supplied value object describing one
// payment attempt. Providers never mutate it; settlement-currency
// normalization produces a new value.
type PaymentOrder struct {
	Amount       decimal.Decimal   `json:"amount" validate:"gt=0"`
	Currency     string            `json:"currency" validate:"required,len=3"`
	Description  string            `json:"description" validate:"required"`
	UserID       string            `json:"user_id" validate:"required"`
	PlanType     string            `json:"plan_type"`
	BillingCycle BillingCycle      `json:"billing_cycle" validate:"omitempty,oneof=monthly yearly"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Recurring reports whether the order describes a subscription.
func (o PaymentOrder) Recurring() bool {
	return o.BillingCycle == CycleMonthly || o.BillingCycle == CycleYearly
}

// withSettlement returns a copy of the order rewritten to the
// provider's settlement amount and currency.
func (o PaymentOrder) withSettlement(amount decimal.Decimal, currency string) PaymentOrder {
	settled := o
	settled.Amount = amount
	settled.Currency = currency
	if o.Metadata != nil {
		settled.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			settled.Metadata[k] = v
		}
	}
	return settled
}

// PaymentResult is the outcome of a create-payment attempt. A
// successful result carries either a provider-hosted redirect URL or
// an inline QR payload for in-app rendering.
type PaymentResult struct {
	Success      bool            `json:"success"`
	Method       policy.Method   `json:"method,omitempty"`
	Reference    string          `json:"reference,omitempty"`
	ExternalID   string          `json:"external_id,omitempty"`
	RedirectURL  string          `json:"redirect_url,omitempty"`
	QRCode       string          `json:"qr_code,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency,omitempty"`
	ErrorCode    string          `json:"error_code,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// PaymentConfirmation is the outcome of a status query against the
// provider.
type PaymentConfirmation struct {
	Confirmed  bool            `json:"confirmed"`
	ExternalID string          `json:"external_id"`
	Status     string          `json:"status"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency,omitempty"`
	PaidAt     *time.Time      `json:"paid_at,omitempty"`
}

// RefundResult is the outcome of a refund request.
type RefundResult struct {
	Success      bool            `json:"success"`
	RefundID     string          `json:"refund_id,omitempty"`
	ExternalID   string          `json:"external_id"`
	Amount       decimal.Decimal `json:"amount"`
	ErrorMessage string          `json:"error_message,omitempty"`
}
