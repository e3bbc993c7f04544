package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/config"
)

func newStripeTestProvider(t *testing.T) *StripeProvider {
	t.Helper()
	cfg := &config.EnvironmentConfig{
		AppURL:              "https://app.example.com",
		Environment:         "production",
		StripeSecretKey:     "sk_test_123",
		StripeWebhookSecret: "whsec_test_secret",
	}
	provider, err := NewStripeProvider(cfg, NewCore(nil), nil)
	if err != nil {
		t.Fatal(err)
	}
	return provider
}

func TestStripeCreatePaymentOneTime(t *testing.T) {
	provider := newStripeTestProvider(t)

	var received url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkout/sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk_test_123" {
			t.Errorf("unexpected authorization header %q", auth)
		}
		r.ParseForm()
		received = r.PostForm
		fmt.Fprint(w, `{"id":"cs_test_1","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`)
	}))
	defer server.Close()
	provider.baseURL = server.URL

	result, err := provider.CreatePayment(context.Background(), PaymentOrder{
		Amount:      decimal.RequireFromString("19.99"),
		Currency:    "USD",
		Description: "pro plan",
		UserID:      "user-1",
	})
	if err != nil {
		t.Fatalf("CreatePayment returned error: %v", err)
	}
	if !result.Success || result.ExternalID != "cs_test_1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.RedirectURL != "https://checkout.stripe.com/c/pay/cs_test_1" {
		t.Errorf("unexpected redirect url %q", result.RedirectURL)
	}

	if received.Get("mode") != "payment" {
		t.Errorf("expected payment mode, got %q", received.Get("mode"))
	}
	if received.Get("line_items[0][price_data][unit_amount]") != "1999" {
		t.Errorf("expected 1999 cents, got %q", received.Get("line_items[0][price_data][unit_amount]"))
	}
	if received.Get("client_reference_id") != "user-1" {
		t.Errorf("expected client reference, got %q", received.Get("client_reference_id"))
	}
}

func TestStripeCreatePaymentSubscriptionWithCatalogPrice(t *testing.T) {
	provider := newStripeTestProvider(t)
	provider.RegisterPrice("pro", CycleMonthly, "price_pro_monthly")

	var received url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		received = r.PostForm
		fmt.Fprint(w, `{"id":"cs_test_2","url":"https://checkout.stripe.com/c/pay/cs_test_2"}`)
	}))
	defer server.Close()
	provider.baseURL = server.URL

	_, err := provider.CreatePayment(context.Background(), PaymentOrder{
		Amount:       decimal.RequireFromString("9.99"),
		Currency:     "USD",
		Description:  "pro plan",
		UserID:       "user-1",
		PlanType:     "pro",
		BillingCycle: CycleMonthly,
	})
	if err != nil {
		t.Fatalf("CreatePayment returned error: %v", err)
	}

	if received.Get("mode") != "subscription" {
		t.Errorf("expected subscription mode, got %q", received.Get("mode"))
	}
	if received.Get("line_items[0][price]") != "price_pro_monthly" {
		t.Errorf("expected catalog price id, got %q", received.Get("line_items[0][price]"))
	}
	if received.Get("line_items[0][price_data][unit_amount]") != "" {
		t.Error("catalog price must not carry dynamic price_data")
	}
}

func TestStripeUnmappedPlanFallsBackToDynamicPrice(t *testing.T) {
	provider := newStripeTestProvider(t)

	var received url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		received = r.PostForm
		fmt.Fprint(w, `{"id":"cs_test_3","url":"https://checkout.stripe.com/c/pay/cs_test_3"}`)
	}))
	defer server.Close()
	provider.baseURL = server.URL

	_, err := provider.CreatePayment(context.Background(), PaymentOrder{
		Amount:       decimal.RequireFromString("99.00"),
		Currency:     "USD",
		Description:  "enterprise plan",
		UserID:       "user-1",
		PlanType:     "enterprise",
		BillingCycle: CycleYearly,
	})
	if err != nil {
		t.Fatalf("CreatePayment returned error: %v", err)
	}

	if received.Get("line_items[0][price_data][unit_amount]") != "9900" {
		t.Errorf("expected dynamic price 9900 cents, got %q", received.Get("line_items[0][price_data][unit_amount]"))
	}
	if received.Get("line_items[0][price_data][recurring][interval]") != "year" {
		t.Errorf("expected yearly interval, got %q", received.Get("line_items[0][price_data][recurring][interval]"))
	}
}

func TestStripeAPIErrorSurfaced(t *testing.T) {
	provider := newStripeTestProvider(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":{"message":"Your card was declined.","code":"card_declined"}}`)
	}))
	defer server.Close()
	provider.baseURL = server.URL

	_, err := provider.CreatePayment(context.Background(), PaymentOrder{
		Amount:      decimal.NewFromInt(10),
		Currency:    "USD",
		Description: "pro plan",
		UserID:      "user-1",
	})
	if err == nil {
		t.Fatal("expected API error")
	}
	provErr, ok := err.(*ProviderError)
	if !ok || provErr.Code != CodeProviderRejected {
		t.Fatalf("expected %s, got %v", CodeProviderRejected, err)
	}
	if provErr.Message != "Your card was declined." {
		t.Errorf("expected API message surfaced, got %q", provErr.Message)
	}
}

func stripeSignature(secret string, ts time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func TestStripeVerifyCallback(t *testing.T) {
	provider := newStripeTestProvider(t)
	now := time.Now()
	provider.now = func() time.Time { return now }

	body := []byte(`{"type":"checkout.session.completed"}`)
	headers := http.Header{}
	headers.Set("Stripe-Signature", stripeSignature("whsec_test_secret", now, body))

	if err := provider.VerifyCallback(context.Background(), Callback{Headers: headers, Body: body}); err != nil {
		t.Fatalf("valid webhook rejected: %v", err)
	}

	headers.Set("Stripe-Signature", stripeSignature("whsec_wrong_secret", now, body))
	if err := provider.VerifyCallback(context.Background(), Callback{Headers: headers, Body: body}); err == nil {
		t.Fatal("webhook signed with wrong secret accepted")
	}

	headers.Set("Stripe-Signature", stripeSignature("whsec_test_secret", now.Add(-10*time.Minute), body))
	if err := provider.VerifyCallback(context.Background(), Callback{Headers: headers, Body: body}); err == nil {
		t.Fatal("stale webhook timestamp accepted")
	}

	if err := provider.VerifyCallback(context.Background(), Callback{Headers: http.Header{}, Body: body}); err == nil {
		t.Fatal("webhook without signature header accepted")
	}
}

func TestStripeConfirmPayment(t *testing.T) {
	provider := newStripeTestProvider(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkout/sessions/cs_test_1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"id":"cs_test_1","payment_status":"paid","amount_total":1999,"currency":"usd"}`)
	}))
	defer server.Close()
	provider.baseURL = server.URL

	confirmation, err := provider.ConfirmPayment(context.Background(), "cs_test_1")
	if err != nil {
		t.Fatalf("ConfirmPayment returned error: %v", err)
	}
	if !confirmation.Confirmed {
		t.Fatal("expected confirmed payment")
	}
	if confirmation.Amount.StringFixed(2) != "19.99" || confirmation.Currency != "USD" {
		t.Errorf("unexpected confirmation %s %s", confirmation.Amount.StringFixed(2), confirmation.Currency)
	}
}
