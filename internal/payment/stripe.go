package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/config"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/logger"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
)

const (
	stripeAPIBase = "https://api.stripe.com/v1"

	// webhookTolerance bounds how stale a signed webhook timestamp may
	// be before it is rejected as a possible replay.
	webhookTolerance = 5 * time.Minute
)

// StripeProvider integrates Stripe Checkout: hosted sessions in
// payment or subscription mode, webhook signature verification via the
// shared endpoint secret, session status lookup, and refunds. Requests
// are form-encoded against the v1 REST API.
type StripeProvider struct {
	core          *Core
	secretKey     string
	webhookSecret string
	baseURL       string
	successURL    string
	cancelURL     string
	prices        map[string]string
	log           *logger.Logger
	now           func() time.Time
}

func NewStripeProvider(cfg *config.EnvironmentConfig, core *Core, log *logger.Logger) (*StripeProvider, error) {
	if cfg.StripeSecretKey == "" {
		return nil, errors.New("stripe secret key is not configured")
	}
	if log == nil {
		log = logger.New("stripe")
	}
	return &StripeProvider{
		core:          core,
		secretKey:     cfg.StripeSecretKey,
		webhookSecret: cfg.StripeWebhookSecret,
		baseURL:       stripeAPIBase,
		successURL:    cfg.AppURL + "/payment/stripe/success?session_id={CHECKOUT_SESSION_ID}",
		cancelURL:     cfg.AppURL + "/payment/stripe/cancel",
		prices:        map[string]string{},
		log:           log,
		now:           time.Now,
	}, nil
}

func (p *StripeProvider) Method() policy.Method { return policy.MethodStripe }

// SetEndpoint overrides the API base URL for sandbox deployments.
func (p *StripeProvider) SetEndpoint(endpoint string) {
	if endpoint != "" {
		p.baseURL = endpoint
	}
}

func (p *StripeProvider) SettlementCurrency() string { return "USD" }

// RegisterPrice maps a plan/cycle combination to a pre-provisioned
// Stripe price identifier. Unmapped combinations fall back to
// dynamically priced line items.
func (p *StripeProvider) RegisterPrice(planType string, cycle BillingCycle, priceID string) {
	p.prices[priceKey(planType, cycle)] = priceID
}

func priceKey(planType string, cycle BillingCycle) string {
	return planType + ":" + string(cycle)
}

// CreatePayment opens a checkout session. Recurring orders use
// subscription mode; unmapped plans get price_data built from the
// order amount in cents.
func (p *StripeProvider) CreatePayment(ctx context.Context, order PaymentOrder) (*PaymentResult, error) {
	prepared, err := p.core.PrepareOrder("stripe", order, p.SettlementCurrency())
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("success_url", p.successURL)
	form.Set("cancel_url", p.cancelURL)
	form.Set("client_reference_id", prepared.UserID)
	form.Set("line_items[0][quantity]", "1")

	if prepared.Recurring() {
		form.Set("mode", "subscription")
	} else {
		form.Set("mode", "payment")
	}

	if priceID, ok := p.prices[priceKey(prepared.PlanType, prepared.BillingCycle)]; ok {
		form.Set("line_items[0][price]", priceID)
	} else {
		cents := prepared.Amount.Mul(decimal.NewFromInt(100)).Round(0).String()
		form.Set("line_items[0][price_data][currency]", strings.ToLower(prepared.Currency))
		form.Set("line_items[0][price_data][unit_amount]", cents)
		form.Set("line_items[0][price_data][product_data][name]", prepared.Description)
		if prepared.Recurring() {
			form.Set("line_items[0][price_data][recurring][interval]", stripeInterval(prepared.BillingCycle))
		}
	}
	for k, v := range prepared.Metadata {
		form.Set("metadata["+k+"]", v)
	}

	var session struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := p.call(ctx, "/checkout/sessions", form, &session); err != nil {
		return nil, err
	}

	return &PaymentResult{
		Success:     true,
		ExternalID:  session.ID,
		RedirectURL: session.URL,
		Amount:      prepared.Amount,
		Currency:    prepared.Currency,
	}, nil
}

// ConfirmPayment looks up the checkout session's payment status.
func (p *StripeProvider) ConfirmPayment(ctx context.Context, externalID string) (*PaymentConfirmation, error) {
	var session struct {
		ID            string `json:"id"`
		PaymentStatus string `json:"payment_status"`
		AmountTotal   int64  `json:"amount_total"`
		Currency      string `json:"currency"`
	}
	if err := p.get(ctx, "/checkout/sessions/"+externalID, &session); err != nil {
		return nil, err
	}

	confirmation := &PaymentConfirmation{
		ExternalID: session.ID,
		Status:     session.PaymentStatus,
		Amount:     decimal.NewFromInt(session.AmountTotal).Div(decimal.NewFromInt(100)),
		Currency:   strings.ToUpper(session.Currency),
	}
	if session.PaymentStatus == "paid" {
		confirmation.Confirmed = true
		paidAt := p.now()
		confirmation.PaidAt = &paidAt
	}
	return confirmation, nil
}

// RefundPayment refunds by payment intent identifier. A zero amount
// refunds the full charge.
func (p *StripeProvider) RefundPayment(ctx context.Context, externalID string, amount decimal.Decimal) (*RefundResult, error) {
	form := url.Values{}
	form.Set("payment_intent", externalID)
	if amount.IsPositive() {
		form.Set("amount", amount.Mul(decimal.NewFromInt(100)).Round(0).String())
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := p.call(ctx, "/refunds", form, &refund); err != nil {
		return nil, err
	}

	result := &RefundResult{ExternalID: externalID, Amount: amount, RefundID: refund.ID}
	if refund.Status == "succeeded" || refund.Status == "pending" {
		result.Success = true
	} else {
		result.ErrorMessage = fmt.Sprintf("refund in unexpected status %q", refund.Status)
	}
	return result, nil
}

// VerifyCallback checks the Stripe-Signature header: an HMAC-SHA256
// over "<timestamp>.<body>" keyed by the endpoint secret, with a
// bounded timestamp tolerance.
func (p *StripeProvider) VerifyCallback(ctx context.Context, cb Callback) error {
	if p.webhookSecret == "" {
		return &ProviderError{Provider: "stripe", Code: CodeConfigurationError, Message: "webhook secret is not configured"}
	}

	header := cb.Headers.Get("Stripe-Signature")
	if header == "" {
		return &ProviderError{Provider: "stripe", Code: CodeSignatureMismatch, Message: "callback carries no signature header"}
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return &ProviderError{Provider: "stripe", Code: CodeSignatureMismatch, Message: "malformed signature header"}
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return &ProviderError{Provider: "stripe", Code: CodeSignatureMismatch, Message: "malformed signature timestamp"}
	}
	if age := p.now().Sub(time.Unix(ts, 0)); age > webhookTolerance || age < -webhookTolerance {
		return &ProviderError{Provider: "stripe", Code: CodeSignatureMismatch, Message: "signature timestamp outside tolerance"}
	}

	mac := hmac.New(sha256.New, []byte(p.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(cb.Body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return &ProviderError{Provider: "stripe", Code: CodeSignatureMismatch, Message: "signature verification failed"}
}

func (p *StripeProvider) call(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return newTransportError("stripe", err, false)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	return p.do(req, out)
}

func (p *StripeProvider) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return newTransportError("stripe", err, false)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	return p.do(req, out)
}

func (p *StripeProvider) do(req *http.Request, out interface{}) error {
	body, status, timedOut, err := doRequest(req)
	if err != nil {
		return newTransportError("stripe", err, timedOut)
	}
	if status < 200 || status >= 300 {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
				Code    string `json:"code"`
			} `json:"error"`
		}
		message := fmt.Sprintf("unexpected status %d", status)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			message = apiErr.Error.Message
		}
		return &ProviderError{Provider: "stripe", Code: CodeProviderRejected, Message: message}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ProviderError{Provider: "stripe", Code: CodeProviderRejected, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}

func stripeInterval(cycle BillingCycle) string {
	if cycle == CycleYearly {
		return "year"
	}
	return "month"
}
