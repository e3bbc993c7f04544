package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/config"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/logger"
	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
)

const (
	paypalAPIBase = "https://api-m.paypal.com"

	// tokenTimeout bounds the client-credential exchange; token
	// failures surface as timeouts distinctly from generic errors.
	tokenTimeout = 10 * time.Second
)

// PaypalProvider integrates the PayPal REST API: one-time orders with
// capture, billing subscriptions for recurring plans, refunds, and
// webhook verification through the verify-webhook-signature endpoint.
// PayPal settles in the order currency, so no normalization happens.
type PaypalProvider struct {
	core         *Core
	clientID     string
	clientSecret string
	baseURL      string
	returnURL    string
	cancelURL    string
	webhookID    string
	plans        map[string]string
	log          *logger.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewPaypalProvider(cfg *config.EnvironmentConfig, core *Core, log *logger.Logger) (*PaypalProvider, error) {
	if cfg.PaypalClientID == "" || cfg.PaypalClientSecret == "" {
		return nil, errors.New("paypal credentials are not fully configured")
	}
	if log == nil {
		log = logger.New("paypal")
	}
	return &PaypalProvider{
		core:         core,
		clientID:     cfg.PaypalClientID,
		clientSecret: cfg.PaypalClientSecret,
		baseURL:      paypalAPIBase,
		returnURL:    cfg.AppURL + "/payment/paypal/return",
		cancelURL:    cfg.AppURL + "/payment/paypal/cancel",
		plans:        map[string]string{},
		log:          log,
	}, nil
}

func (p *PaypalProvider) Method() policy.Method { return policy.MethodPaypal }

// SetEndpoint overrides the API base URL, pointing the provider at
// the sandbox environment.
func (p *PaypalProvider) SetEndpoint(endpoint string) {
	if endpoint != "" {
		p.baseURL = endpoint
	}
}

// SettlementCurrency is empty: PayPal follows the order currency.
func (p *PaypalProvider) SettlementCurrency() string { return "" }

// RegisterPlan maps a plan/cycle combination to a pre-provisioned
// billing plan identifier used for subscription orders.
func (p *PaypalProvider) RegisterPlan(planType string, cycle BillingCycle, planID string) {
	p.plans[priceKey(planType, cycle)] = planID
}

// SetWebhookID sets the webhook identifier used for callback
// verification.
func (p *PaypalProvider) SetWebhookID(id string) { p.webhookID = id }

// CreatePayment creates either a billing subscription (recurring
// orders with a registered plan) or a one-time order, returning the
// approval URL the payer is redirected to.
func (p *PaypalProvider) CreatePayment(ctx context.Context, order PaymentOrder) (*PaymentResult, error) {
	prepared, err := p.core.PrepareOrder("paypal", order, p.SettlementCurrency())
	if err != nil {
		return nil, err
	}
	if prepared.Recurring() {
		if planID, ok := p.plans[priceKey(prepared.PlanType, prepared.BillingCycle)]; ok {
			return p.createSubscription(ctx, prepared, planID)
		}
		p.log.Warn("no billing plan registered, falling back to one-time order",
			"plan_type", prepared.PlanType,
			"billing_cycle", string(prepared.BillingCycle),
		)
	}
	return p.createOrder(ctx, prepared)
}

func (p *PaypalProvider) createOrder(ctx context.Context, order PaymentOrder) (*PaymentResult, error) {
	payload := map[string]interface{}{
		"intent": "CAPTURE",
		"purchase_units": []map[string]interface{}{{
			"reference_id": p.core.NewReference(),
			"description":  order.Description,
			"custom_id":    order.UserID,
			"amount": map[string]string{
				"currency_code": order.Currency,
				"value":         order.Amount.StringFixed(2),
			},
		}},
		"application_context": map[string]string{
			"return_url": p.returnURL,
			"cancel_url": p.cancelURL,
		},
	}

	var created struct {
		ID     string       `json:"id"`
		Status string       `json:"status"`
		Links  []paypalLink `json:"links"`
	}
	if err := p.call(ctx, http.MethodPost, "/v2/checkout/orders", payload, &created); err != nil {
		return nil, err
	}

	return &PaymentResult{
		Success:     true,
		ExternalID:  created.ID,
		RedirectURL: approvalLink(created.Links),
		Amount:      order.Amount,
		Currency:    order.Currency,
	}, nil
}

func (p *PaypalProvider) createSubscription(ctx context.Context, order PaymentOrder, planID string) (*PaymentResult, error) {
	payload := map[string]interface{}{
		"plan_id":   planID,
		"custom_id": order.UserID,
		"application_context": map[string]string{
			"return_url": p.returnURL,
			"cancel_url": p.cancelURL,
		},
	}

	var created struct {
		ID     string       `json:"id"`
		Status string       `json:"status"`
		Links  []paypalLink `json:"links"`
	}
	if err := p.call(ctx, http.MethodPost, "/v1/billing/subscriptions", payload, &created); err != nil {
		return nil, err
	}

	return &PaymentResult{
		Success:     true,
		ExternalID:  created.ID,
		RedirectURL: approvalLink(created.Links),
		Amount:      order.Amount,
		Currency:    order.Currency,
	}, nil
}

// ConfirmPayment checks an order's status, capturing it when the payer
// has approved but the capture has not run yet.
func (p *PaypalProvider) ConfirmPayment(ctx context.Context, externalID string) (*PaymentConfirmation, error) {
	var order struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		PurchaseUnits []struct {
			Amount struct {
				CurrencyCode string `json:"currency_code"`
				Value        string `json:"value"`
			} `json:"amount"`
		} `json:"purchase_units"`
	}
	if err := p.call(ctx, http.MethodGet, "/v2/checkout/orders/"+externalID, nil, &order); err != nil {
		return nil, err
	}

	if order.Status == "APPROVED" {
		var captured struct {
			Status string `json:"status"`
		}
		if err := p.call(ctx, http.MethodPost, "/v2/checkout/orders/"+externalID+"/capture", map[string]interface{}{}, &captured); err != nil {
			return nil, err
		}
		order.Status = captured.Status
	}

	confirmation := &PaymentConfirmation{ExternalID: externalID, Status: order.Status}
	if len(order.PurchaseUnits) > 0 {
		confirmation.Currency = order.PurchaseUnits[0].Amount.CurrencyCode
		if amount, err := decimal.NewFromString(order.PurchaseUnits[0].Amount.Value); err == nil {
			confirmation.Amount = amount
		}
	}
	if order.Status == "COMPLETED" {
		confirmation.Confirmed = true
		paidAt := time.Now()
		confirmation.PaidAt = &paidAt
	}
	return confirmation, nil
}

// RefundPayment refunds a captured payment by capture identifier. A
// partial refund must carry the currency the capture settled in, so
// the capture is looked up first; a zero amount refunds in full and
// needs no amount object at all.
func (p *PaypalProvider) RefundPayment(ctx context.Context, externalID string, amount decimal.Decimal) (*RefundResult, error) {
	var payload interface{} = map[string]interface{}{}
	if amount.IsPositive() {
		currency, err := p.captureCurrency(ctx, externalID)
		if err != nil {
			return nil, err
		}
		payload = map[string]interface{}{
			"amount": map[string]string{
				"currency_code": currency,
				"value":         amount.StringFixed(2),
			},
		}
	}

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := p.call(ctx, http.MethodPost, "/v2/payments/captures/"+externalID+"/refund", payload, &refund); err != nil {
		return nil, err
	}

	result := &RefundResult{ExternalID: externalID, Amount: amount, RefundID: refund.ID}
	if refund.Status == "COMPLETED" || refund.Status == "PENDING" {
		result.Success = true
	} else {
		result.ErrorMessage = fmt.Sprintf("refund in unexpected status %q", refund.Status)
	}
	return result, nil
}

// captureCurrency returns the currency a capture settled in.
func (p *PaypalProvider) captureCurrency(ctx context.Context, captureID string) (string, error) {
	var capture struct {
		Amount struct {
			CurrencyCode string `json:"currency_code"`
		} `json:"amount"`
	}
	if err := p.call(ctx, http.MethodGet, "/v2/payments/captures/"+captureID, nil, &capture); err != nil {
		return "", err
	}
	if capture.Amount.CurrencyCode == "" {
		return "", &ProviderError{Provider: "paypal", Code: CodeProviderRejected, Message: "capture lookup returned no currency"}
	}
	return capture.Amount.CurrencyCode, nil
}

// CancelSubscription cancels a billing subscription.
func (p *PaypalProvider) CancelSubscription(ctx context.Context, subscriptionID, reason string) error {
	payload := map[string]string{"reason": reason}
	return p.call(ctx, http.MethodPost, "/v1/billing/subscriptions/"+subscriptionID+"/cancel", payload, nil)
}

// SubscriptionStatus looks up a billing subscription's current state.
func (p *PaypalProvider) SubscriptionStatus(ctx context.Context, subscriptionID string) (string, error) {
	var sub struct {
		Status string `json:"status"`
	}
	if err := p.call(ctx, http.MethodGet, "/v1/billing/subscriptions/"+subscriptionID, nil, &sub); err != nil {
		return "", err
	}
	return sub.Status, nil
}

// VerifyCallback verifies a webhook event through PayPal's
// verify-webhook-signature endpoint using the transmission headers.
func (p *PaypalProvider) VerifyCallback(ctx context.Context, cb Callback) error {
	if p.webhookID == "" {
		return &ProviderError{Provider: "paypal", Code: CodeConfigurationError, Message: "webhook id is not configured"}
	}
	if cb.Headers.Get("Paypal-Transmission-Sig") == "" {
		return &ProviderError{Provider: "paypal", Code: CodeSignatureMismatch, Message: "callback carries no transmission signature"}
	}

	payload := map[string]interface{}{
		"auth_algo":         cb.Headers.Get("Paypal-Auth-Algo"),
		"cert_url":          cb.Headers.Get("Paypal-Cert-Url"),
		"transmission_id":   cb.Headers.Get("Paypal-Transmission-Id"),
		"transmission_sig":  cb.Headers.Get("Paypal-Transmission-Sig"),
		"transmission_time": cb.Headers.Get("Paypal-Transmission-Time"),
		"webhook_id":        p.webhookID,
		"webhook_event":     json.RawMessage(cb.Body),
	}

	var verification struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := p.call(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", payload, &verification); err != nil {
		return err
	}
	if verification.VerificationStatus != "SUCCESS" {
		return &ProviderError{Provider: "paypal", Code: CodeSignatureMismatch, Message: "signature verification failed"}
	}
	return nil
}

// token returns a cached bearer token, exchanging client credentials
// when the cache is empty or expired. The exchange runs under its own
// bounded timeout so a hung auth endpoint is reported as a timeout.
func (p *PaypalProvider) token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.accessToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.accessToken, nil
	}

	ctx, cancel := context.WithTimeout(ctx, tokenTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/oauth2/token", strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return "", newTransportError("paypal", err, false)
	}
	req.SetBasicAuth(p.clientID, p.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, timedOut, err := doRequest(req)
	if err != nil {
		if timedOut || isTimeoutErr(err) {
			return "", &ProviderError{
				Provider:  "paypal",
				Code:      CodeTimeout,
				Message:   "token exchange timed out",
				Timeout:   true,
				Retryable: true,
			}
		}
		return "", newTransportError("paypal", err, false)
	}
	if status < 200 || status >= 300 {
		return "", &ProviderError{Provider: "paypal", Code: CodeProviderRejected, Message: fmt.Sprintf("token exchange failed with status %d", status)}
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &token); err != nil || token.AccessToken == "" {
		return "", &ProviderError{Provider: "paypal", Code: CodeProviderRejected, Message: "malformed token response"}
	}

	p.accessToken = token.AccessToken
	// Refresh a minute early so in-flight requests never carry an
	// expired token.
	p.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn)*time.Second - time.Minute)
	return p.accessToken, nil
}

// call executes an authenticated JSON API request. out may be nil for
// endpoints that return no body.
func (p *PaypalProvider) call(ctx context.Context, method, path string, payload, out interface{}) error {
	token, err := p.token(ctx)
	if err != nil {
		return err
	}

	var reqBody *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return &ProviderError{Provider: "paypal", Code: CodeConfigurationError, Message: err.Error()}
		}
		reqBody = bytes.NewReader(encoded)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return newTransportError("paypal", err, false)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	body, status, timedOut, err := doRequest(req)
	if err != nil {
		return newTransportError("paypal", err, timedOut)
	}
	if status < 200 || status >= 300 {
		var apiErr struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		}
		message := fmt.Sprintf("unexpected status %d", status)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			message = fmt.Sprintf("%s: %s", apiErr.Name, apiErr.Message)
		}
		return &ProviderError{Provider: "paypal", Code: CodeProviderRejected, Message: message}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &ProviderError{Provider: "paypal", Code: CodeProviderRejected, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

// approvalLink extracts the payer approval URL from a HATEOAS link
// set.
func approvalLink(links []paypalLink) string {
	for _, link := range links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}
